// Package assets resolves image references and talks to the external asset
// collaborators: the image generator and the blob store that hosts uploads.
package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/ByLCY/carousel/renderer"
)

// ErrNotFound is returned when a built-in image name is not registered.
var ErrNotFound = errors.New("图片资源不存在")

const (
	builtinPrefix   = "built-in:"
	builtinPrefixV0 = "builtin:"
	maxFetchBytes   = 32 << 20
)

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	BaseDir string            // root for relative file references; empty disables relative paths
	Images  map[string][]byte // built-in images addressed as built-in:<name>
	Client  *http.Client
	Timeout time.Duration // used when Client is nil
}

// Fetcher resolves built-in:, data:, http(s):// and file references into decoded images.
type Fetcher struct {
	baseDir string
	images  map[string][]byte
	client  *http.Client
}

var _ renderer.ImageFetcher = (*Fetcher)(nil)

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	images := make(map[string][]byte, len(opts.Images))
	for name, blob := range opts.Images {
		if name != "" && len(blob) > 0 {
			images[name] = blob
		}
	}
	return &Fetcher{baseDir: opts.BaseDir, images: images, client: client}
}

// Fetch implements renderer.ImageFetcher.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (image.Image, error) {
	data, err := f.Bytes(ctx, ref)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("解码图片 %s 失败: %w", shorten(ref), err)
	}
	return img, nil
}

// Bytes returns the raw encoded bytes behind ref.
func (f *Fetcher) Bytes(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("图片引用为空")
	case strings.HasPrefix(ref, builtinPrefix) || strings.HasPrefix(ref, builtinPrefixV0):
		name := strings.TrimPrefix(strings.TrimPrefix(ref, builtinPrefix), builtinPrefixV0)
		blob, ok := f.images[name]
		if !ok {
			return nil, fmt.Errorf("%w: built-in:%s", ErrNotFound, name)
		}
		return blob, nil
	case strings.HasPrefix(ref, "data:"):
		return decodeDataURL(ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		return f.download(ctx, ref)
	default:
		return f.readFile(ref)
	}
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建图片请求失败: %w", err)
	}
	req.Header.Set("Accept", "image/*")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("下载图片 %s 失败: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("下载图片 %s 失败: 状态码 %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("读取图片 %s 失败: %w", url, err)
	}
	return data, nil
}

func (f *Fetcher) readFile(ref string) ([]byte, error) {
	if f.baseDir == "" && !filepath.IsAbs(ref) {
		return nil, fmt.Errorf("未指定资源目录时不允许直接使用路径：%s（请改用 built-in: 或绝对路径）", ref)
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.baseDir, path)
		rel, err := filepath.Rel(f.baseDir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("图片路径 %s 超出资源目录", ref)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取图片 %s 失败: %w", ref, err)
	}
	return data, nil
}

// decodeDataURL handles data:[<mediatype>][;base64],<data>.
func decodeDataURL(ref string) ([]byte, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, fmt.Errorf("data URL 格式错误")
	}
	meta, payload := ref[len("data:"):comma], ref[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("data URL 解码失败: %w", err)
	}
	return data, nil
}

func shorten(ref string) string {
	if len(ref) > 64 {
		return ref[:64] + "..."
	}
	return ref
}
