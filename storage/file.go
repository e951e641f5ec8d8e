package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ByLCY/carousel/document"
)

const fileExt = ".json"

// FileRepository keeps one JSON file per document in a directory.
type FileRepository struct {
	mu  sync.RWMutex
	dir string
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository creates dir if it does not exist.
func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		return nil, fmt.Errorf("未配置文档目录")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建文档目录失败: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(id string) string { return filepath.Join(r.dir, id+fileExt) }

// Load reads and migrates the document stored under id.
func (r *FileRepository) Load(ctx context.Context, id string) (*document.Document, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	data, err := os.ReadFile(r.path(id))
	r.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("读取文档 %s 失败: %w", id, err)
	}
	doc, err := document.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解析文档 %s 失败: %w", id, err)
	}
	return doc, nil
}

// Save writes the document atomically: temp file, fsync, rename.
func (r *FileRepository) Save(ctx context.Context, id string, doc *document.Document) error {
	if err := checkID(id); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("文档为空")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := document.Encode(&buf, doc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tmp, err := os.CreateTemp(r.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, r.path(id)); err != nil {
		return fmt.Errorf("重命名临时文件失败: %w", err)
	}
	return nil
}

// List returns the stored ids in lexical order.
func (r *FileRepository) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	entries, err := os.ReadDir(r.dir)
	r.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("读取文档目录失败: %w", err)
	}
	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		if checkID(id) == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op.
func (r *FileRepository) Close() error { return nil }
