package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/codekb/codekb/internal/kberrors"
)

// MetadataFileName is the metadata database file under the metadata
// directory.
const MetadataFileName = "metadata.db"

// SQLiteMetadata implements MetadataStore on SQLite.
type SQLiteMetadata struct {
	mu           sync.RWMutex
	db           *sql.DB
	closed       bool
	needsRebuild bool
}

var _ MetadataStore = (*SQLiteMetadata)(nil)

// NewSQLiteMetadata opens or creates the metadata store at path. Pass
// ":memory:" for an in-memory store in tests. Corruption is cleared at
// open time; NeedsRebuild reports whether that happened.
func NewSQLiteMetadata(path string) (*SQLiteMetadata, error) {
	db, needsRebuild, err := openDatabase(path, "files")
	if err != nil {
		return nil, kberrors.StoreError("open", err)
	}

	s := &SQLiteMetadata{db: db, needsRebuild: needsRebuild}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, kberrors.StoreError("init", err)
	}
	return s, nil
}

// NeedsRebuild reports whether the on-disk store was corrupt and cleared
// at open time. The caller should run a forced full index.
func (s *SQLiteMetadata) NeedsRebuild() bool {
	return s.needsRebuild
}

func (s *SQLiteMetadata) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS files (
		path         TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		size_bytes   INTEGER NOT NULL,
		mod_time     INTEGER NOT NULL,
		language     TEXT NOT NULL,
		indexed_at   INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the record for path, or nil when absent.
func (s *SQLiteMetadata) Get(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kberrors.StoreError("get", errClosed)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT path, content_hash, size_bytes, mod_time, language, indexed_at
		 FROM files WHERE path = ?`, path)

	rec, err := scanFileRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kberrors.StoreError("get", err)
	}
	return rec, nil
}

// Put inserts or replaces a record. The write is committed before return.
func (s *SQLiteMetadata) Put(ctx context.Context, rec *FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kberrors.StoreError("put", errClosed)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO files
		 (path, content_hash, size_bytes, mod_time, language, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Path, rec.ContentHash, rec.SizeBytes,
		rec.ModTime.UnixNano(), rec.Language, rec.IndexedAt.UnixNano())
	if err != nil {
		return kberrors.StoreError("put", err).WithPath(rec.Path)
	}
	return nil
}

// Remove deletes the record for path. Absent paths are not an error.
func (s *SQLiteMetadata) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kberrors.StoreError("remove", errClosed)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return kberrors.StoreError("remove", err).WithPath(path)
	}
	return nil
}

// List returns records under prefix ordered by path.
func (s *SQLiteMetadata) List(ctx context.Context, prefix string) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kberrors.StoreError("list", errClosed)
	}

	where, args := prefixWhere("path", prefix)
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content_hash, size_bytes, mod_time, language, indexed_at
		 FROM files WHERE `+where+` ORDER BY path`, args...)
	if err != nil {
		return nil, kberrors.StoreError("list", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, kberrors.StoreError("list", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StoreError("list", err)
	}
	return records, nil
}

// Iterate walks all records in path order over a call-time snapshot.
func (s *SQLiteMetadata) Iterate(ctx context.Context, fn func(*FileRecord) error) error {
	// Materializing the snapshot keeps the connection free for fn to
	// issue its own store calls.
	records, err := s.List(ctx, "")
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll deletes all records under prefix and returns the count.
func (s *SQLiteMetadata) RemoveAll(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, kberrors.StoreError("remove_all", errClosed)
	}

	where, args := prefixWhere("path", prefix)
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE `+where, args...)
	if err != nil {
		return 0, kberrors.StoreError("remove_all", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of records.
func (s *SQLiteMetadata) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, kberrors.StoreError("count", errClosed)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, kberrors.StoreError("count", err)
	}
	return n, nil
}

// Close checkpoints and closes the database. Idempotent.
func (s *SQLiteMetadata) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(row rowScanner) (*FileRecord, error) {
	var rec FileRecord
	var modTime, indexedAt int64
	if err := row.Scan(&rec.Path, &rec.ContentHash, &rec.SizeBytes,
		&modTime, &rec.Language, &indexedAt); err != nil {
		return nil, err
	}
	rec.ModTime = time.Unix(0, modTime)
	rec.IndexedAt = time.Unix(0, indexedAt)
	return &rec, nil
}
