package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/editor"
	"github.com/ByLCY/carousel/renderer"
)

// fakeRenderer returns the slide id as bytes; slides with a black background fail.
type fakeRenderer struct {
	inFlight, peak atomic.Int32
	onRender       func(slide document.Slide)
}

func (f *fakeRenderer) RenderSlide(_ context.Context, slide document.Slide, opts renderer.RenderOptions) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.onRender != nil {
		f.onRender(slide)
	}
	if slide.Background.Color == "#000000" {
		return nil, errors.New("boom")
	}
	return []byte(slide.ID + "|" + opts.Format), nil
}

type pdfRenderer struct{ fakeRenderer }

func (p *pdfRenderer) RenderPDF(_ context.Context, doc document.Document) ([]byte, error) {
	return []byte("%PDF-fake"), nil
}

type memUploader struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (m *memUploader) Upload(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[name] = data
	return "https://cdn/" + name, nil
}

func newStore(t *testing.T, n int) *editor.Store {
	t.Helper()
	doc := document.New("1:1", "png")
	for len(doc.Slides) < n {
		doc.Slides = append(doc.Slides, document.NewSlide())
	}
	return editor.New(doc, editor.Options{})
}

func zipNames(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestExportDirtyPublishesAndClears(t *testing.T) {
	store := newStore(t, 3)
	up := &memUploader{}
	ex := New(Options{Renderer: &fakeRenderer{}, Uploader: up})

	res, err := ex.ExportDirty(context.Background(), store, "deck")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, res.Rendered)
	assert.Equal(t, []int{0, 1, 2}, res.Published)
	assert.Equal(t, "https://cdn/deck.zip", res.URL)
	assert.Empty(t, store.Dirty())

	names := zipNames(t, up.files["deck.zip"])
	assert.Len(t, names, 3)
	assert.Contains(t, names, "slide-01.png")
	assert.Contains(t, names, "slide-03.png")

	res, err = ex.ExportDirty(context.Background(), store, "deck")
	require.NoError(t, err)
	assert.Empty(t, res.Rendered, "nothing dirty, nothing to do")
}

func TestFailedSlidesStayDirty(t *testing.T) {
	store := newStore(t, 3)
	require.NoError(t, store.SetBackgroundColor(1, "#000000"))
	ex := New(Options{Renderer: &fakeRenderer{}})

	res, err := ex.ExportDirty(context.Background(), store, "")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, res.Rendered)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, []int{1}, store.Dirty())
	assert.Len(t, zipNames(t, res.Archive), 2)
}

func TestEditDuringExportKeepsSlideDirty(t *testing.T) {
	store := newStore(t, 2)
	var once sync.Once
	fr := &fakeRenderer{}
	first, err := store.Slide(0)
	require.NoError(t, err)
	fr.onRender = func(slide document.Slide) {
		if slide.ID == first.ID {
			once.Do(func() { assert.NoError(t, store.SetBackgroundColor(0, "#123456")) })
		}
	}
	ex := New(Options{Renderer: fr, Concurrency: 1})

	res, err := ex.ExportDirty(context.Background(), store, "")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, res.Rendered)
	assert.Equal(t, []int{1}, res.Published)
	assert.Equal(t, []int{0}, store.Dirty())
}

func TestUploadFailurePublishesNothing(t *testing.T) {
	store := newStore(t, 2)
	ex := New(Options{Renderer: &fakeRenderer{}, Uploader: &memUploader{err: errors.New("offline")}})
	_, err := ex.ExportDirty(context.Background(), store, "deck")
	require.Error(t, err)
	assert.Equal(t, []int{0, 1}, store.Dirty())
}

func TestAllFailedReturnsError(t *testing.T) {
	store := newStore(t, 1)
	require.NoError(t, store.SetBackgroundColor(0, "#000000"))
	ex := New(Options{Renderer: &fakeRenderer{}})
	_, err := ex.ExportDirty(context.Background(), store, "")
	assert.ErrorIs(t, err, ErrNothingRendered)
}

func TestConcurrencyIsBounded(t *testing.T) {
	store := newStore(t, 12)
	fr := &fakeRenderer{}
	fr.onRender = func(document.Slide) {
		for i := 0; i < 1000; i++ {
			_ = i * i
		}
	}
	ex := New(Options{Renderer: fr, Concurrency: 3})
	_, err := ex.ExportDirty(context.Background(), store, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, fr.peak.Load(), int32(3))
}

func TestCancelledExportLeavesLedgerUntouched(t *testing.T) {
	store := newStore(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := New(Options{Renderer: &fakeRenderer{}})
	_, err := ex.ExportDirty(ctx, store, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0, 1}, store.Dirty())
}

func TestBundle(t *testing.T) {
	doc := document.New("4:5", "jpeg")
	doc.Slides = append(doc.Slides, document.NewSlide())

	ex := New(Options{Renderer: &fakeRenderer{}})
	data, err := ex.Bundle(context.Background(), doc, "jpg")
	require.NoError(t, err)
	names := zipNames(t, data)
	assert.Equal(t, doc.Slides[1].ID+"|jpeg", names["slide-02.jpg"])

	_, err = ex.Bundle(context.Background(), doc, "pdf")
	assert.ErrorIs(t, err, ErrPDFUnsupported)

	ex = New(Options{Renderer: &pdfRenderer{}})
	data, err = ex.Bundle(context.Background(), doc, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-fake", string(data))

	doc.Slides[0].Background.Color = "#000000"
	ex = New(Options{Renderer: &fakeRenderer{}})
	_, err = ex.Bundle(context.Background(), doc, "png")
	assert.Error(t, err)
}
