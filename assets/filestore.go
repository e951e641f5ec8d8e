package assets

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is an Uploader that writes blobs into a directory served at PublicBaseURL.
type FileStore struct {
	dir     string
	baseURL string
}

var _ Uploader = (*FileStore)(nil)

// NewFileStore creates the directory if needed.
func NewFileStore(dir, publicBaseURL string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("未配置素材目录")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建素材目录失败: %w", err)
	}
	return &FileStore{dir: dir, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

// Upload writes data to <dir>/<name> through a temp file and returns its public URL.
// Without a public base URL the absolute file path is returned.
func (s *FileStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		return "", fmt.Errorf("文件名无效")
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("写入 %s 失败: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("写入 %s 失败: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("保存 %s 失败: %w", name, err)
	}
	if s.baseURL == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return path, nil
		}
		return abs, nil
	}
	return url.JoinPath(s.baseURL, name)
}
