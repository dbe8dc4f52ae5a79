// Package crawler walks a source tree and classifies candidate files
// against the metadata store. It applies exclusion globs, symlink-cycle
// protection, the size ceiling, and content-hash change detection, and
// streams results so large trees never sit fully in memory.
package crawler

import (
	"time"

	"github.com/codekb/codekb/internal/token"
)

// Status classifies a candidate relative to the metadata store.
type Status int

const (
	// StatusNew means no record exists for the path.
	StatusNew Status = iota
	// StatusChanged means the content hash or mtime differs from the
	// stored record, or Force was set.
	StatusChanged
	// StatusUnchanged means hash and mtime match; the file is not
	// re-tokenized.
	StatusUnchanged
	// StatusDeleted means a record exists but the file is gone from disk.
	StatusDeleted
	// StatusSkipped means the file exceeded the size ceiling. It is
	// reported so index stats can count it, but never hashed or indexed.
	StatusSkipped
)

// String returns the classification name.
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusChanged:
		return "changed"
	case StatusUnchanged:
		return "unchanged"
	case StatusDeleted:
		return "deleted"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Candidate is one classified file from a crawl.
type Candidate struct {
	Path     string // Relative to the crawl root
	AbsPath  string // Absolute path on disk (empty for deleted files)
	Size     int64
	ModTime  time.Time
	Language token.Language
	Hash     string // xxh3 of content (empty for deleted files)
	Status   Status
}

// Result is one streamed crawl outcome: a candidate or a per-path error.
// Per-path errors never abort the crawl.
type Result struct {
	File *Candidate
	Err  error
}

// Options configures a single crawl. Immutable per invocation.
type Options struct {
	// Root is the directory to walk.
	Root string

	// Recursive descends into subdirectories when true.
	Recursive bool

	// Exclude lists path globs to skip. A bare name such as "target"
	// excludes any path containing that segment.
	Exclude []string

	// MaxFileSize skips files larger than this many bytes (0 = no limit).
	MaxFileSize int64

	// Force classifies every surviving file as changed, bypassing the
	// hash comparison.
	Force bool

	// RespectGitignore applies .gitignore rules found in the tree.
	RespectGitignore bool
}
