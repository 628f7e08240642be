// Package store provides the local persistence layer for docgallery.
//
// Records are UTF-8 JSON values kept in an embedded SQLite database
// (ncruces/go-sqlite3, WAL mode) under stable string keys, mirroring the
// key/value storage the browser application used:
//
//   - documentGalleryData: the document Collection
//   - syncSettings:        the SyncConfig
//   - syncCode:<CODE>:     a snapshot blob for sync-code mode
//
// The collection record is rewritten only through a read-merge-write held
// under a file lock beside the database, so several processes can share it.
//
// Loads never fail: a missing, unreadable or malformed record is reported
// as absent and logged as a warning. Saves return errors wrapping
// ErrStorage; callers treat them as recoverable and keep the in-memory
// state as the source of truth.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Well-known record keys.
const (
	KeyCollection     = "documentGalleryData"
	KeySyncConfig     = "syncSettings"
	SyncCodeKeyPrefix = "syncCode:"
)

// ErrStorage marks a failed local write. It is never fatal.
var ErrStorage = errors.New("local storage error")

// Store is a JSON record store backed by SQLite.
type Store struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens (creating if needed) the record store at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(filepath.Join(dataDir, "gallery.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	// A single writer keeps save ordering simple.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{
		conn:   conn,
		path:   path,
		logger: slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the store, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("failed to checkpoint WAL", "error", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Load decodes the record at key into v and reports whether it was found.
//
// A missing record returns false. A record that cannot be read or does not
// decode also returns false and logs a warning; v is left untouched.
func (s *Store) Load(ctx context.Context, key string, v any) bool {
	raw, ok := s.LoadRaw(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("ignoring malformed record", "key", key, "error", err)
		return false
	}
	return true
}

// LoadRaw returns the stored bytes at key.
func (s *Store) LoadRaw(ctx context.Context, key string) ([]byte, bool) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("failed to read record", "key", key, "error", err)
		return nil, false
	}
	return []byte(value), true
}

// Save encodes v as JSON and writes it at key.
func (s *Store) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s: %v", ErrStorage, key, err)
	}
	return s.SaveRaw(ctx, key, data)
}

// SaveRaw writes data at key as-is.
func (s *Store) SaveRaw(ctx context.Context, key string, data []byte) error {
	query := `
	INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query, key, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", ErrStorage, key, err)
	}
	return nil
}

// Delete removes the record at key. Missing keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: failed to delete %s: %v", ErrStorage, key, err)
	}
	return nil
}

// Keys returns the stored keys that start with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key FROM records WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}
