// Package store provides the persistence layer for CodeKB: a metadata
// store tracking per-file indexing state and a full-text postings index,
// both SQLite-backed and living under the configured data directory.
package store

import (
	"context"
	"time"
)

// FileRecord tracks the indexed state of one file. A record exists if and
// only if the file's content currently appears in the full-text index.
type FileRecord struct {
	Path        string    // Relative to the indexed root; unique key
	ContentHash string    // xxh3 of content
	SizeBytes   int64     // File size in bytes
	ModTime     time.Time // Last modification time
	Language    string    // Derived from extension
	IndexedAt   time.Time // When (re-)indexed
}

// Posting links a term to one occurrence location within a file.
type Posting struct {
	Term string // Original case
	Line int    // 1-indexed
	Col  int    // 0-based byte offset within the line
}

// LineText is a stored line segment used for snippet assembly.
type LineText struct {
	Line int
	Text string
}

// Document is the unit handed to the full-text index when a file is
// (re-)indexed: all postings and line segments for one path.
type Document struct {
	Path      string
	Language  string
	TermCount int // Total token occurrences, for TF normalization
	Postings  []Posting
	Lines     []LineText
}

// IndexStats summarizes the full-text index contents.
type IndexStats struct {
	DocumentCount int
	PostingCount  int
	TermCount     int // Distinct folded terms
}

// MetadataStore persists FileRecords. Writes are durable before the
// enclosing index() reports success for that file, and single-record
// writes are atomic.
type MetadataStore interface {
	// Get returns the record for path, or nil when absent.
	Get(ctx context.Context, path string) (*FileRecord, error)

	// Put inserts or replaces a record.
	Put(ctx context.Context, rec *FileRecord) error

	// Remove deletes the record for path. Removing an absent path is not
	// an error.
	Remove(ctx context.Context, path string) error

	// List returns records whose path equals prefix or lives under it,
	// ordered by path. An empty prefix returns everything.
	List(ctx context.Context, prefix string) ([]*FileRecord, error)

	// Iterate calls fn for every record in path order over a snapshot
	// taken at call time. fn returning an error stops the iteration.
	Iterate(ctx context.Context, fn func(*FileRecord) error) error

	// RemoveAll deletes all records under prefix (everything when empty)
	// and returns the number removed.
	RemoveAll(ctx context.Context, prefix string) (int, error)

	// Count returns the number of records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// FulltextIndex owns the postings. The per-file replace is transactional:
// a concurrent search observes the old or the new postings for a path,
// never a mix.
type FulltextIndex interface {
	// ReplaceFile atomically swaps all postings and line segments for
	// doc.Path.
	ReplaceFile(ctx context.Context, doc *Document) error

	// DeleteFile removes all postings and line segments for path.
	DeleteFile(ctx context.Context, path string) error

	// DeleteAll removes everything under prefix (all documents when
	// empty) and returns the number of documents removed.
	DeleteAll(ctx context.Context, prefix string) (int, error)

	// TermDocs returns, per document path, the postings matching term.
	// With caseSensitive the original-case term column is matched;
	// otherwise term is expected pre-folded and matched against the
	// folded column. pathScope, when non-empty, restricts documents to
	// that path or its subtree.
	TermDocs(ctx context.Context, term string, caseSensitive bool, pathScope string) (map[string][]Posting, error)

	// DocTermCount returns the stored token-occurrence total per document
	// for the given paths.
	DocTermCount(ctx context.Context, paths []string) (map[string]int, error)

	// DocCount returns the number of indexed documents in scope.
	DocCount(ctx context.Context, pathScope string) (int, error)

	// LineRange returns stored line segments for path with numbers in
	// [lo, hi], ordered by line.
	LineRange(ctx context.Context, path string, lo, hi int) ([]LineText, error)

	// Stats returns index-wide counters.
	Stats(ctx context.Context) (*IndexStats, error)

	Close() error
}
