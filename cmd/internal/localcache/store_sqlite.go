package localcache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// deviceKey is the row holding this device's document.
const deviceKey = "device"

// SQLiteStore persists the document in a local SQLite file (pure Go driver, no cgo).
type SQLiteStore struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	// Updates read then write; taking the write lock at BEGIN lets a second process
	// wait on busy_timeout instead of failing the lock upgrade.
	db, err := sql.Open("sqlite", filepath.Clean(path)+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// One connection: the pragmas below are per-connection and SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Document, error) {
	if err := s.checkOpen(); err != nil {
		return Document{}, err
	}
	doc, err := readDocument(ctx, s.db)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(*Document) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := readDocument(ctx, tx)
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	if err := doc.normalize(); err != nil {
		return err
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode cache document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (doc_key, version, body, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(doc_key) DO UPDATE SET
		    version = excluded.version,
		    body = excluded.body,
		    updated_at = excluded.updated_at`,
		deviceKey, doc.Version, string(body), time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("write cache document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache tx: %w", err)
	}
	return nil
}

// Close releases the database. Further calls return ErrClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readDocument(ctx context.Context, q queryRower) (Document, error) {
	var (
		version int
		body    string
	)
	err := q.QueryRowContext(ctx,
		`SELECT version, body FROM documents WHERE doc_key = ?`, deviceKey,
	).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return NewDocument(), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read cache document: %w", err)
	}
	if version > DocumentVersion {
		return Document{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return Document{}, fmt.Errorf("decode cache document: %w", err)
	}
	if err := doc.normalize(); err != nil {
		return Document{}, err
	}
	return doc, nil
}
