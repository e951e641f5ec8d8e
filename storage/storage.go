// Package storage persists carousel documents by id.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/ByLCY/carousel/document"
)

var (
	// ErrNotFound is returned by Load for an unknown id.
	ErrNotFound = errors.New("文档不存在")
	// ErrInvalidID is returned for empty ids or ids that cannot be used as a key.
	ErrInvalidID = errors.New("文档 id 无效")
)

// Repository loads and saves whole documents. Implementations are safe for concurrent use.
type Repository interface {
	Load(ctx context.Context, id string) (*document.Document, error)
	Save(ctx context.Context, id string, doc *document.Document) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Open returns the repository for driver ("file" or "sqlite") rooted at path.
func Open(driver, path string) (Repository, error) {
	switch driver {
	case "", "file":
		return NewFileRepository(path)
	case "sqlite", "sqlite3":
		return NewSQLiteRepository(path)
	default:
		return nil, fmt.Errorf("未知的存储驱动：%s", driver)
	}
}
