// Package kb is the knowledge base facade: a handle object owning the
// metadata store, the full-text index and the write lock, exposing the
// operations external callers (CLI, AI layers) are allowed to use.
package kb

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/codekb/codekb/internal/index"
	"github.com/codekb/codekb/internal/kberrors"
	"github.com/codekb/codekb/internal/search"
	"github.com/codekb/codekb/internal/store"
)

// Subdirectories of the data directory holding the two stores.
const (
	MetadataDirName = "metadata"
	IndexDirName    = "index"
)

// ListOptions filters ListFiles output.
type ListOptions struct {
	// PathPrefix restricts results to a path or its subtree.
	PathPrefix string

	// Language restricts results to one language tag.
	Language string
}

// Stats summarizes the knowledge base contents.
type Stats struct {
	FileCount     int `json:"file_count"`
	DocumentCount int `json:"document_count"`
	PostingCount  int `json:"posting_count"`
	TermCount     int `json:"term_count"`
}

// KB owns the store connections for one data directory. Construct once
// via Open and share; all methods are safe for concurrent use.
type KB struct {
	dataDir      string
	meta         *store.SQLiteMetadata
	fulltext     *store.SQLitePostings
	indexer      *index.Indexer
	searcher     *search.Searcher
	needsRebuild bool
}

// Open opens (or creates) the knowledge base under dataDir. Corruption in
// either store is cleared and reported through NeedsRebuild rather than
// failing the open; the caller should then run a forced full index.
func Open(dataDir string, workers int) (*KB, error) {
	meta, err := store.NewSQLiteMetadata(filepath.Join(dataDir, MetadataDirName, store.MetadataFileName))
	if err != nil {
		return nil, err
	}

	fulltext, err := store.NewSQLitePostings(filepath.Join(dataDir, IndexDirName, store.PostingsFileName))
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	needsRebuild := meta.NeedsRebuild() || fulltext.NeedsRebuild()
	if needsRebuild {
		// The stores must stay consistent with each other: if one was
		// rebuilt from scratch the other's contents are stale.
		if _, err := fulltext.DeleteAll(context.Background(), ""); err != nil {
			slog.Warn("failed to clear postings for rebuild", slog.String("error", err.Error()))
		}
		if _, err := meta.RemoveAll(context.Background(), ""); err != nil {
			slog.Warn("failed to clear metadata for rebuild", slog.String("error", err.Error()))
		}
		slog.Warn("knowledge base needs a full rebuild", slog.String("data_dir", dataDir))
	}

	indexer, err := index.New(meta, fulltext, dataDir, workers)
	if err != nil {
		_ = fulltext.Close()
		_ = meta.Close()
		return nil, err
	}

	return &KB{
		dataDir:      dataDir,
		meta:         meta,
		fulltext:     fulltext,
		indexer:      indexer,
		searcher:     search.New(meta, fulltext),
		needsRebuild: needsRebuild,
	}, nil
}

// NeedsRebuild reports whether corruption was cleared at open time. The
// next Index call should use Force.
func (k *KB) NeedsRebuild() bool {
	return k.needsRebuild
}

// DataDir returns the data directory this handle owns.
func (k *KB) DataDir() string {
	return k.dataDir
}

// Indexer exposes the indexer for watch-mode wiring.
func (k *KB) Indexer() *index.Indexer {
	return k.indexer
}

// Index crawls root and brings the index up to date.
func (k *KB) Index(ctx context.Context, root string, opts index.Options) (*index.Stats, error) {
	return k.indexer.Index(ctx, root, opts)
}

// Search executes a ranked query.
func (k *KB) Search(ctx context.Context, query string, opts search.Options) ([]*search.Result, error) {
	return k.searcher.Search(ctx, query, opts)
}

// ListFiles returns indexed file records matching opts, ordered by path.
func (k *KB) ListFiles(ctx context.Context, opts ListOptions) ([]*store.FileRecord, error) {
	records, err := k.meta.List(ctx, opts.PathPrefix)
	if err != nil {
		return nil, err
	}
	if opts.Language == "" {
		return records, nil
	}
	filtered := records[:0]
	for _, rec := range records {
		if rec.Language == opts.Language {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

// GetFile returns the record for path, or a not-found error.
func (k *KB) GetFile(ctx context.Context, path string) (*store.FileRecord, error) {
	rec, err := k.meta.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, kberrors.NotFound(path)
	}
	return rec, nil
}

// ClearIndex removes all postings and records under path, or everything
// when path is empty.
func (k *KB) ClearIndex(ctx context.Context, path string) error {
	return k.indexer.Clear(ctx, path)
}

// Stats returns knowledge base counters.
func (k *KB) Stats(ctx context.Context) (*Stats, error) {
	files, err := k.meta.Count(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := k.fulltext.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		FileCount:     files,
		DocumentCount: idx.DocumentCount,
		PostingCount:  idx.PostingCount,
		TermCount:     idx.TermCount,
	}, nil
}

// Close releases both store connections. Idempotent.
func (k *KB) Close() error {
	ftErr := k.fulltext.Close()
	metaErr := k.meta.Close()
	if ftErr != nil {
		return fmt.Errorf("close fulltext index: %w", ftErr)
	}
	if metaErr != nil {
		return fmt.Errorf("close metadata store: %w", metaErr)
	}
	return nil
}
