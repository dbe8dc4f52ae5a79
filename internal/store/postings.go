package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/codekb/codekb/internal/kberrors"
)

// PostingsFileName is the full-text index database file under the index
// directory.
const PostingsFileName = "postings.db"

// SQLitePostings implements FulltextIndex on SQLite. Terms are stored
// twice per posting: original case and case-folded, so exact-case queries
// are served without re-tokenizing anything.
type SQLitePostings struct {
	mu           sync.RWMutex
	db           *sql.DB
	closed       bool
	needsRebuild bool
}

var _ FulltextIndex = (*SQLitePostings)(nil)

// NewSQLitePostings opens or creates the postings index at path. Pass
// ":memory:" for tests. Corruption is cleared at open time; NeedsRebuild
// reports whether that happened.
func NewSQLitePostings(path string) (*SQLitePostings, error) {
	db, needsRebuild, err := openDatabase(path, "postings")
	if err != nil {
		return nil, kberrors.CorruptionError("open", err)
	}

	p := &SQLitePostings{db: db, needsRebuild: needsRebuild}
	if err := p.initSchema(); err != nil {
		_ = db.Close()
		return nil, kberrors.CorruptionError("init", err)
	}
	return p, nil
}

// NeedsRebuild reports whether the on-disk index was corrupt and cleared
// at open time.
func (p *SQLitePostings) NeedsRebuild() bool {
	return p.needsRebuild
}

func (p *SQLitePostings) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS docs (
		path       TEXT PRIMARY KEY,
		language   TEXT NOT NULL,
		term_count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS postings (
		term        TEXT NOT NULL,
		term_folded TEXT NOT NULL,
		path        TEXT NOT NULL,
		line        INTEGER NOT NULL,
		col         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS postings_term   ON postings(term, path);
	CREATE INDEX IF NOT EXISTS postings_folded ON postings(term_folded, path);
	CREATE INDEX IF NOT EXISTS postings_path   ON postings(path);

	CREATE TABLE IF NOT EXISTS lines (
		path TEXT NOT NULL,
		line INTEGER NOT NULL,
		text TEXT NOT NULL,
		PRIMARY KEY (path, line)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := p.db.Exec(schema)
	return err
}

// ReplaceFile swaps all postings and line segments for doc.Path in one
// transaction. A reader sees the old document or the new one, never a mix.
func (p *SQLitePostings) ReplaceFile(ctx context.Context, doc *Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return kberrors.CorruptionError("replace", errClosed)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return kberrors.CorruptionError("replace", err).WithPath(doc.Path)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteDocTx(ctx, tx, doc.Path); err != nil {
		return kberrors.CorruptionError("replace", err).WithPath(doc.Path)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO docs (path, language, term_count) VALUES (?, ?, ?)`,
		doc.Path, doc.Language, doc.TermCount); err != nil {
		return kberrors.CorruptionError("replace", err).WithPath(doc.Path)
	}

	postStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO postings (term, term_folded, path, line, col) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return kberrors.CorruptionError("replace", err).WithPath(doc.Path)
	}
	defer postStmt.Close()

	for _, post := range doc.Postings {
		folded := strings.ToLower(post.Term)
		if _, err := postStmt.ExecContext(ctx, post.Term, folded, doc.Path, post.Line, post.Col); err != nil {
			return kberrors.CorruptionError("replace", err).WithPath(doc.Path)
		}
	}

	lineStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lines (path, line, text) VALUES (?, ?, ?)`)
	if err != nil {
		return kberrors.CorruptionError("replace", err).WithPath(doc.Path)
	}
	defer lineStmt.Close()

	for _, line := range doc.Lines {
		if _, err := lineStmt.ExecContext(ctx, doc.Path, line.Line, line.Text); err != nil {
			return kberrors.CorruptionError("replace", err).WithPath(doc.Path)
		}
	}

	if err := tx.Commit(); err != nil {
		return kberrors.CorruptionError("replace", err).WithPath(doc.Path)
	}
	return nil
}

// DeleteFile removes all postings and line segments for path.
func (p *SQLitePostings) DeleteFile(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return kberrors.CorruptionError("delete", errClosed)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return kberrors.CorruptionError("delete", err).WithPath(path)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteDocTx(ctx, tx, path); err != nil {
		return kberrors.CorruptionError("delete", err).WithPath(path)
	}
	if err := tx.Commit(); err != nil {
		return kberrors.CorruptionError("delete", err).WithPath(path)
	}
	return nil
}

func deleteDocTx(ctx context.Context, tx *sql.Tx, path string) error {
	for _, table := range []string{"postings", "lines", "docs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE path = ?`, path); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAll removes every document under prefix and returns the count.
func (p *SQLitePostings) DeleteAll(ctx context.Context, prefix string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, kberrors.CorruptionError("delete_all", errClosed)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kberrors.CorruptionError("delete_all", err)
	}
	defer func() { _ = tx.Rollback() }()

	where, args := prefixWhere("path", prefix)
	res, err := tx.ExecContext(ctx, `DELETE FROM docs WHERE `+where, args...)
	if err != nil {
		return 0, kberrors.CorruptionError("delete_all", err)
	}
	removed, _ := res.RowsAffected()

	for _, table := range []string{"postings", "lines"} {
		where, args := prefixWhere("path", prefix)
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+where, args...); err != nil {
			return 0, kberrors.CorruptionError("delete_all", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, kberrors.CorruptionError("delete_all", err)
	}
	return int(removed), nil
}

// TermDocs returns postings per document for one term.
func (p *SQLitePostings) TermDocs(ctx context.Context, term string, caseSensitive bool, pathScope string) (map[string][]Posting, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, kberrors.CorruptionError("term_docs", errClosed)
	}

	column := "term_folded"
	if caseSensitive {
		column = "term"
	}
	where, args := prefixWhere("path", pathScope)

	rows, err := p.db.QueryContext(ctx,
		`SELECT path, term, line, col FROM postings
		 WHERE `+column+` = ? AND `+where+`
		 ORDER BY path, line, col`,
		append([]any{term}, args...)...)
	if err != nil {
		return nil, kberrors.CorruptionError("term_docs", err)
	}
	defer rows.Close()

	docs := make(map[string][]Posting)
	for rows.Next() {
		var path string
		var post Posting
		if err := rows.Scan(&path, &post.Term, &post.Line, &post.Col); err != nil {
			return nil, kberrors.CorruptionError("term_docs", err)
		}
		docs[path] = append(docs[path], post)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.CorruptionError("term_docs", err)
	}
	return docs, nil
}

// DocTermCount returns the stored token totals for the given paths.
func (p *SQLitePostings) DocTermCount(ctx context.Context, paths []string) (map[string]int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, kberrors.CorruptionError("doc_term_count", errClosed)
	}
	if len(paths) == 0 {
		return map[string]int{}, nil
	}

	placeholders := make([]string, len(paths))
	args := make([]any, len(paths))
	for i, path := range paths {
		placeholders[i] = "?"
		args[i] = path
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT path, term_count FROM docs WHERE path IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, kberrors.CorruptionError("doc_term_count", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(paths))
	for rows.Next() {
		var path string
		var count int
		if err := rows.Scan(&path, &count); err != nil {
			return nil, kberrors.CorruptionError("doc_term_count", err)
		}
		counts[path] = count
	}
	return counts, rows.Err()
}

// DocCount returns the number of indexed documents in scope.
func (p *SQLitePostings) DocCount(ctx context.Context, pathScope string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, kberrors.CorruptionError("doc_count", errClosed)
	}

	where, args := prefixWhere("path", pathScope)
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs WHERE `+where, args...).Scan(&n); err != nil {
		return 0, kberrors.CorruptionError("doc_count", err)
	}
	return n, nil
}

// LineRange returns stored line segments for path in [lo, hi].
func (p *SQLitePostings) LineRange(ctx context.Context, path string, lo, hi int) ([]LineText, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, kberrors.CorruptionError("line_range", errClosed)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT line, text FROM lines WHERE path = ? AND line >= ? AND line <= ? ORDER BY line`,
		path, lo, hi)
	if err != nil {
		return nil, kberrors.CorruptionError("line_range", err)
	}
	defer rows.Close()

	var lines []LineText
	for rows.Next() {
		var lt LineText
		if err := rows.Scan(&lt.Line, &lt.Text); err != nil {
			return nil, kberrors.CorruptionError("line_range", err)
		}
		lines = append(lines, lt)
	}
	return lines, rows.Err()
}

// Stats returns index-wide counters.
func (p *SQLitePostings) Stats(ctx context.Context) (*IndexStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, kberrors.CorruptionError("stats", errClosed)
	}

	stats := &IndexStats{}
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs`).Scan(&stats.DocumentCount); err != nil {
		return nil, kberrors.CorruptionError("stats", err)
	}
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings`).Scan(&stats.PostingCount); err != nil {
		return nil, kberrors.CorruptionError("stats", err)
	}
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT term_folded) FROM postings`).Scan(&stats.TermCount); err != nil {
		return nil, kberrors.CorruptionError("stats", err)
	}
	return stats, nil
}

// Close checkpoints and closes the database. Idempotent.
func (p *SQLitePostings) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	_, _ = p.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return p.db.Close()
}
