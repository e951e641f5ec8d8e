package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFetchBuiltinDataAndFile(t *testing.T) {
	blob := pngBytes(t, 3, 2, color.White)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bg.png"), blob, 0o644))

	f := NewFetcher(FetcherOptions{BaseDir: dir, Images: map[string][]byte{"logo": blob}})
	ctx := context.Background()

	img, err := f.Fetch(ctx, "built-in:logo")
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, err = f.Fetch(ctx, "builtin:logo")
	require.NoError(t, err)

	_, err = f.Fetch(ctx, "built-in:nope")
	assert.ErrorIs(t, err, ErrNotFound)

	img, err = f.Fetch(ctx, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(blob))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dy())

	img, err = f.Fetch(ctx, "bg.png")
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, err = f.Fetch(ctx, "../outside.png")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, "")
	assert.Error(t, err)
}

func TestRelativePathNeedsBaseDir(t *testing.T) {
	f := NewFetcher(FetcherOptions{})
	_, err := f.Fetch(context.Background(), "bg.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未指定资源目录")
}

func TestFetchHTTP(t *testing.T) {
	blob := pngBytes(t, 4, 4, color.Black)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/img.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(blob)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{Client: srv.Client()})
	img, err := f.Fetch(context.Background(), srv.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchRejectsUndecodableBytes(t *testing.T) {
	f := NewFetcher(FetcherOptions{Images: map[string][]byte{"junk": []byte("not an image")}})
	_, err := f.Fetch(context.Background(), "built-in:junk")
	assert.Error(t, err)
}

func TestFileStoreUpload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "https://cdn.example.com/assets/")
	require.NoError(t, err)

	url, err := s.Upload(context.Background(), "../evil/a.png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/assets/a.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	local, err := NewFileStore(filepath.Join(dir, "nested"), "")
	require.NoError(t, err)
	path, err := local.Upload(context.Background(), "b.bin", []byte("y"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
}

type memUploader struct {
	names []string
	err   error
}

func (m *memUploader) Upload(_ context.Context, name string, _ []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.names = append(m.names, name)
	return "https://cdn/" + name, nil
}

func TestHTTPGeneratorPostsPromptAndUploads(t *testing.T) {
	blob := pngBytes(t, 2, 2, color.White)
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write(blob)
	}))
	defer srv.Close()

	up := &memUploader{}
	g, err := NewHTTPGenerator(srv.URL+"/", 0, up, nil)
	require.NoError(t, err)

	url, err := g.Generate(context.Background(), "sunset over the sea", "4:5")
	require.NoError(t, err)
	assert.Equal(t, GenerateRequest{Prompt: "sunset over the sea", Ratio: "4:5"}, got)
	require.Len(t, up.names, 1)
	assert.True(t, strings.HasSuffix(up.names[0], ".png"))
	assert.Equal(t, "https://cdn/"+up.names[0], url)
}

func TestHTTPGeneratorFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g, err := NewHTTPGenerator(srv.URL, 0, &memUploader{}, nil)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "x", "1:1")
	assert.ErrorIs(t, err, ErrGenerationFailed)

	_, err = g.Generate(context.Background(), "  ", "1:1")
	assert.ErrorIs(t, err, ErrGenerationFailed)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("img")) }))
	defer ok.Close()
	g, err = NewHTTPGenerator(ok.URL, 0, &memUploader{err: errors.New("disk full")}, nil)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "x", "1:1")
	assert.ErrorIs(t, err, ErrGenerationFailed)

	_, err = NewHTTPGenerator("", 0, &memUploader{}, nil)
	assert.Error(t, err)
}
