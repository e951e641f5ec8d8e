package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/export"
	"github.com/ByLCY/carousel/layout"
	"github.com/ByLCY/carousel/renderer"
	"github.com/ByLCY/carousel/storage"
)

type stubRenderer struct{}

func (stubRenderer) RenderSlide(_ context.Context, slide document.Slide, opts renderer.RenderOptions) ([]byte, error) {
	if slide.Background.Color == "#000000" {
		return nil, errors.New("boom")
	}
	return []byte(slide.ID + "|" + opts.Format), nil
}

// gateGenerator blocks until release is closed.
type gateGenerator struct {
	release chan struct{}
	url     string
	err     error
}

func (g *gateGenerator) Generate(ctx context.Context, prompt, ratio string) (string, error) {
	<-g.release
	return g.url, g.err
}

type harness struct {
	t    *testing.T
	srv  *Server
	http *httptest.Server
	repo storage.Repository
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	if opts.Repository == nil {
		repo, err := storage.NewFileRepository(t.TempDir())
		require.NoError(t, err)
		opts.Repository = repo
	}
	if opts.Renderer == nil {
		opts.Renderer = stubRenderer{}
	}
	if opts.Exporter == nil {
		opts.Exporter = export.New(export.Options{Renderer: opts.Renderer})
	}
	srv := New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{t: t, srv: srv, http: ts, repo: opts.Repository}
}

func (h *harness) do(method, path string, body any) *http.Response {
	h.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(h.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.http.URL+"/api"+path, rd)
	require.NoError(h.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) state(resp *http.Response) documentState {
	h.t.Helper()
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
	var st documentState
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func (h *harness) create(id string) documentState {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/documents", map[string]string{"id": id, "aspectRatio": "1:1"})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode)
	var st documentState
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestEditUndoSaveReload(t *testing.T) {
	h := newHarness(t, Options{})
	st := h.create("deck")
	assert.Len(t, st.Document.Slides, 1)
	assert.False(t, st.CanUndo)

	st = h.state(h.do(http.MethodPost, "/documents/deck/slides/0/text", map[string]any{"text": "Hello", "fontSize": 60}))
	require.Len(t, st.Document.Slides[0].TextBlocks, 1)
	assert.True(t, st.CanUndo)
	id := st.Document.Slides[0].TextBlocks[0].ID

	st = h.state(h.do(http.MethodPut, "/documents/deck/slides/0/text/"+id+"/markup", map[string]string{"text": "Big **bold** news"}))
	tb := st.Document.Slides[0].TextBlocks[0]
	assert.Equal(t, "Big bold news", tb.Text)
	assert.Len(t, tb.Segments, 3)

	st = h.state(h.do(http.MethodPatch, "/documents/deck/slides/0/text/"+id, map[string]any{"fontSize": 72, "id": "hijack"}))
	assert.Equal(t, 72.0, st.Document.Slides[0].TextBlocks[0].FontSize)
	assert.Equal(t, id, st.Document.Slides[0].TextBlocks[0].ID)

	st = h.state(h.do(http.MethodPost, "/documents/deck/undo", nil))
	assert.Equal(t, 60.0, st.Document.Slides[0].TextBlocks[0].FontSize)
	assert.True(t, st.CanRedo)
	st = h.state(h.do(http.MethodPost, "/documents/deck/redo", nil))
	assert.Equal(t, 72.0, st.Document.Slides[0].TextBlocks[0].FontSize)

	resp := h.do(http.MethodPost, "/documents/deck/save", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	other := newHarness(t, Options{Repository: h.repo})
	st = other.state(other.do(http.MethodGet, "/documents/deck", nil))
	assert.Equal(t, "1:1", st.Document.AspectRatio)
	assert.Equal(t, 72.0, st.Document.Slides[0].TextBlocks[0].FontSize)
	assert.False(t, st.CanUndo, "a reloaded session starts without history")
}

func TestErrorStatuses(t *testing.T) {
	h := newHarness(t, Options{})
	h.create("deck")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown document", http.MethodGet, "/documents/missing", nil, http.StatusNotFound},
		{"invalid id", http.MethodGet, "/documents/..bad", nil, http.StatusBadRequest},
		{"slide out of range", http.MethodGet, "/documents/deck/slides/5", nil, http.StatusNotFound},
		{"last slide", http.MethodDelete, "/documents/deck/slides/0", nil, http.StatusConflict},
		{"reset without original", http.MethodPost, "/documents/deck/slides/0/reset", nil, http.StatusConflict},
		{"bad json", http.MethodPost, "/documents/deck/slides/0/text", "{", http.StatusBadRequest},
		{"bad colour", http.MethodPut, "/documents/deck/slides/0/background", map[string]string{"color": "teal-ish"}, http.StatusBadRequest},
		{"unknown element", http.MethodDelete, "/documents/deck/slides/0/overlays/nope", nil, http.StatusNotFound},
		{"group needs two", http.MethodPost, "/documents/deck/selection/group", map[string]string{"name": "g"}, http.StatusConflict},
		{"unknown z op", http.MethodPost, "/documents/deck/selection/zorder/sideways", nil, http.StatusBadRequest},
		{"no generator", http.MethodPost, "/documents/deck/slides/0/generate", map[string]string{"prompt": "sea"}, http.StatusNotImplemented},
		{"duplicate create", http.MethodPost, "/documents", map[string]string{"id": "deck"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestSlidesSelectionAndZOrder(t *testing.T) {
	h := newHarness(t, Options{})
	h.create("deck")

	st := h.state(h.do(http.MethodPost, "/documents/deck/slides", map[string]any{}))
	require.Len(t, st.Document.Slides, 2)
	st = h.state(h.do(http.MethodPut, "/documents/deck/slides/1/background", map[string]string{"color": "#ff0000"}))
	red := st.Document.Slides[1].ID
	st = h.state(h.do(http.MethodPost, "/documents/deck/slides/move", map[string]int{"from": 1, "to": 0}))
	assert.Equal(t, red, st.Document.Slides[0].ID)

	h.do(http.MethodPost, "/documents/deck/slides/0/text", map[string]any{"text": "a"})
	st = h.state(h.do(http.MethodPost, "/documents/deck/slides/0/overlays", map[string]any{"src": "builtin:logo", "width": 20, "height": 20}))
	text := st.Document.Slides[0].TextBlocks[0]
	ov := st.Document.Slides[0].Overlays[0]
	assert.Greater(t, ov.ZIndex, text.ZIndex)

	h.state(h.do(http.MethodPost, "/documents/deck/selection", map[string]any{"id": ov.ID}))
	st = h.state(h.do(http.MethodPost, "/documents/deck/selection/zorder/back", nil))
	assert.Less(t, st.Document.Slides[0].Overlays[0].ZIndex, st.Document.Slides[0].TextBlocks[0].ZIndex)

	h.state(h.do(http.MethodPost, "/documents/deck/selection", map[string]any{"id": text.ID, "additive": true}))
	st = h.state(h.do(http.MethodPost, "/documents/deck/selection/group", map[string]string{"name": "pair"}))
	require.Len(t, st.Document.Slides[0].Groups, 1)

	st = h.state(h.do(http.MethodPost, "/documents/deck/slides/0/elements/"+text.ID+"/translate", map[string]float64{"dx": 5, "dy": 5}))
	assert.Equal(t, text.X+5, st.Document.Slides[0].TextBlocks[0].X)
	assert.Equal(t, ov.X+5, st.Document.Slides[0].Overlays[0].X, "group peers move together")

	st = h.state(h.do(http.MethodPost, "/documents/deck/clear", map[string]bool{"text": true, "overlays": true}))
	assert.Empty(t, st.Document.Slides[0].TextBlocks)
	assert.Empty(t, st.Document.Slides[0].Overlays)
	assert.Empty(t, st.Document.Slides[0].Groups)
}

func TestAddOverlayOpacity(t *testing.T) {
	h := newHarness(t, Options{})
	h.create("deck")

	st := h.state(h.do(http.MethodPost, "/documents/deck/slides/0/overlays", map[string]any{"src": "builtin:logo"}))
	require.Len(t, st.Document.Slides[0].Overlays, 1)
	assert.Equal(t, 1.0, st.Document.Slides[0].Overlays[0].Opacity)

	st = h.state(h.do(http.MethodPost, "/documents/deck/slides/0/overlays", map[string]any{"src": "builtin:logo", "opacity": 0}))
	require.Len(t, st.Document.Slides[0].Overlays, 2)
	assert.Equal(t, 0.0, st.Document.Slides[0].Overlays[1].Opacity)
}

func TestGeneratedBackgroundFollowsMovedSlide(t *testing.T) {
	gen := &gateGenerator{release: make(chan struct{}), url: "https://cdn/bg.png"}
	h := newHarness(t, Options{Generator: gen})
	h.create("deck")
	h.do(http.MethodPost, "/documents/deck/slides", map[string]any{})

	resp := h.do(http.MethodPost, "/documents/deck/slides/0/generate", map[string]string{"prompt": "calm sea"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))

	h.state(h.do(http.MethodPost, "/documents/deck/slides/move", map[string]int{"from": 0, "to": 1}))
	close(gen.release)
	h.srv.Wait()

	st := h.state(h.do(http.MethodGet, "/documents/deck", nil))
	moved := st.Document.Slides[1]
	assert.Equal(t, accepted["slideId"], moved.ID)
	assert.Equal(t, "https://cdn/bg.png", moved.Background.Image)
	assert.Equal(t, "calm sea", moved.BackgroundPrompt)
	assert.Empty(t, st.Document.Slides[0].Background.Image)
}

func TestFailedGenerationLeavesSlide(t *testing.T) {
	gen := &gateGenerator{release: make(chan struct{}), err: errors.New("quota")}
	close(gen.release)
	h := newHarness(t, Options{Generator: gen})
	h.create("deck")

	resp := h.do(http.MethodPost, "/documents/deck/slides/0/generate", map[string]string{"target": "overlay", "prompt": "logo"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.srv.Wait()

	st := h.state(h.do(http.MethodGet, "/documents/deck", nil))
	assert.Empty(t, st.Document.Slides[0].Overlays)
}

func TestExportAndBundle(t *testing.T) {
	h := newHarness(t, Options{})
	h.create("deck")
	h.do(http.MethodPost, "/documents/deck/slides", map[string]any{})
	h.do(http.MethodPut, "/documents/deck/slides/1/background", map[string]string{"color": "#000000"})

	resp := h.do(http.MethodPost, "/documents/deck/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res exportResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, []int{0}, res.Rendered)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Index)

	st := h.state(h.do(http.MethodGet, "/documents/deck", nil))
	assert.Equal(t, []int{1}, st.Dirty)

	resp = h.do(http.MethodGet, "/documents/deck/bundle?format=pdf", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	h.do(http.MethodPut, "/documents/deck/slides/1/background", map[string]string{"color": "#ffffff"})
	resp = h.do(http.MethodGet, "/documents/deck/bundle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "deck.zip")
}

func TestPreviewAndRender(t *testing.T) {
	h := newHarness(t, Options{})
	h.create("deck")
	h.do(http.MethodPut, "/documents/deck/slides/0/background", map[string]string{"color": "#0000ff"})

	resp := h.do(http.MethodGet, "/documents/deck/slides/0/preview?scale=0.1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 108, img.Bounds().Dx())
	assert.Equal(t, 108, img.Bounds().Dy())
	_, _, b, _ := img.At(50, 50).RGBA()
	assert.Equal(t, uint32(0xffff), b)

	resp = h.do(http.MethodGet, "/documents/deck/slides/0/preview?scale=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodGet, "/documents/deck/slides/0/render?format=jpg", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	var body strings.Builder
	_, _ = body.ReadFrom(resp.Body)
	assert.True(t, strings.HasSuffix(body.String(), "|jpeg"))
}

func TestTextLayoutUsesPreviewWhenRendererCannotTypeset(t *testing.T) {
	h := newHarness(t, Options{})
	h.create("deck")
	st := h.state(h.do(http.MethodPost, "/documents/deck/slides/0/text", map[string]any{
		"text": "one two three four five six seven eight nine ten", "fontSize": 80, "width": 40,
	}))
	id := st.Document.Slides[0].TextBlocks[0].ID

	resp := h.do(http.MethodGet, "/documents/deck/slides/0/text/"+id+"/layout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var block layout.DebugBlock
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&block))
	assert.Equal(t, id, block.BlockID)
	assert.Greater(t, len(block.Lines), 1)
	for _, ln := range block.Lines {
		assert.LessOrEqual(t, ln.Width, block.Options.MaxWidth+0.01)
	}
}

func TestPutDocumentReplacesSession(t *testing.T) {
	h := newHarness(t, Options{})
	h.create("deck")
	h.do(http.MethodPost, "/documents/deck/slides", map[string]any{})

	doc := document.New("9:16", "jpeg")
	var buf bytes.Buffer
	require.NoError(t, document.Encode(&buf, doc))
	st := h.state(h.do(http.MethodPut, "/documents/deck", buf.String()))
	assert.Equal(t, "9:16", st.Document.AspectRatio)
	assert.Len(t, st.Document.Slides, 1)
	assert.False(t, st.CanUndo)

	resp := h.do(http.MethodPut, "/documents/deck", `{"version": 99}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
