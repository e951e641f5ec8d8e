package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ByLCY/carousel/document"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	version INTEGER NOT NULL,
	slide_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// SQLiteRepository stores documents as JSON text rows in a SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (and creates) the database at path. ":memory:" is accepted.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("未配置数据库路径")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// :memory: 数据库只存在于单个连接中。
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if _, err := db.Exec(createDocumentsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建 documents 表失败: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Load reads the document row and runs format migrations on it.
func (r *SQLiteRepository) Load(ctx context.Context, id string) (*document.Document, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var body string
	err := r.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档 %s 失败: %w", id, err)
	}
	doc, err := document.Decode(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("解析文档 %s 失败: %w", id, err)
	}
	return doc, nil
}

// Save upserts the document.
func (r *SQLiteRepository) Save(ctx context.Context, id string, doc *document.Document) error {
	if err := checkID(id); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("文档为空")
	}
	var buf bytes.Buffer
	if err := document.Encode(&buf, doc); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (id, body, version, slide_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			version = excluded.version,
			slide_count = excluded.slide_count,
			updated_at = excluded.updated_at`,
		id, buf.String(), document.CurrentVersion, len(doc.Slides), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("保存文档 %s 失败: %w", id, err)
	}
	return nil
}

// List returns all ids in lexical order.
func (r *SQLiteRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("查询文档列表失败: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("读取文档列表失败: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (r *SQLiteRepository) Close() error { return r.db.Close() }
