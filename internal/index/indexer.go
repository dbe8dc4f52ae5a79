// Package index orchestrates the crawler and tokenizer against the
// metadata store and full-text index. Tokenization is parallel across
// files; commits are serialized and per-file atomic, so an interrupted run
// leaves committed files valid rather than corrupt.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/codekb/codekb/internal/crawler"
	"github.com/codekb/codekb/internal/kberrors"
	"github.com/codekb/codekb/internal/store"
	"github.com/codekb/codekb/internal/token"
)

// LockFileName is the cross-process write lock under the data directory.
// At most one index-mutating operation may hold it.
const LockFileName = "index.lock"

// Options configures a single Index call. Immutable per invocation.
type Options struct {
	// Recursive descends into subdirectories.
	Recursive bool

	// Exclude lists path globs to skip.
	Exclude []string

	// MaxFileSize skips files larger than this many bytes (0 = no limit).
	MaxFileSize int64

	// Force re-tokenizes every file regardless of change detection.
	Force bool

	// RespectGitignore applies .gitignore rules found in the tree.
	RespectGitignore bool
}

// Stats summarizes one Index call. Per-file failures land in Errors and
// never abort the run.
type Stats struct {
	FilesScanned int      `json:"files_scanned"`
	FilesUpdated int      `json:"files_updated"`
	FilesRemoved int      `json:"files_removed"`
	FilesSkipped int      `json:"files_skipped"`
	Errors       []string `json:"errors,omitempty"`
}

// Indexer builds and maintains the full-text index.
type Indexer struct {
	meta     store.MetadataStore
	fulltext store.FulltextIndex
	crawl    *crawler.Crawler
	workers  int

	// mu serializes in-process mutations; lock serializes across
	// processes.
	mu   sync.Mutex
	lock *flock.Flock
}

// New creates an Indexer. dataDir hosts the write lock file; workers
// bounds tokenization parallelism (0 = NumCPU).
func New(meta store.MetadataStore, fulltext store.FulltextIndex, dataDir string, workers int) (*Indexer, error) {
	cr, err := crawler.New(meta)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Indexer{
		meta:     meta,
		fulltext: fulltext,
		crawl:    cr,
		workers:  workers,
		lock:     flock.New(filepath.Join(dataDir, LockFileName)),
	}, nil
}

// Crawler exposes the underlying crawler for cache invalidation in watch
// mode.
func (ix *Indexer) Crawler() *crawler.Crawler {
	return ix.crawl
}

// acquire takes the exclusive write lock, failing fast when another
// mutation is in flight.
func (ix *Indexer) acquire(op string) error {
	ix.mu.Lock()
	ok, err := ix.lock.TryLock()
	if err != nil {
		ix.mu.Unlock()
		return kberrors.StoreError(op, fmt.Errorf("acquire write lock: %w", err))
	}
	if !ok {
		ix.mu.Unlock()
		return kberrors.New(kberrors.KindLocked, op, "another index mutation is in flight")
	}
	return nil
}

func (ix *Indexer) release() {
	_ = ix.lock.Unlock()
	ix.mu.Unlock()
}

// Index crawls root and brings the index up to date: new and changed
// files are tokenized and committed per-file atomically, deleted files
// have their postings and records retracted. Re-running with unchanged
// inputs yields FilesUpdated == 0.
func (ix *Indexer) Index(ctx context.Context, root string, opts Options) (*Stats, error) {
	if err := ix.acquire("index"); err != nil {
		return nil, err
	}
	defer ix.release()

	start := time.Now()
	results, err := ix.crawl.Crawl(ctx, crawler.Options{
		Root:             root,
		Recursive:        opts.Recursive,
		Exclude:          opts.Exclude,
		MaxFileSize:      opts.MaxFileSize,
		Force:            opts.Force,
		RespectGitignore: opts.RespectGitignore,
	})
	if err != nil {
		return nil, kberrors.CrawlError(root, err)
	}

	stats := &Stats{}
	var statsMu sync.Mutex
	addError := func(err error) {
		statsMu.Lock()
		stats.Errors = append(stats.Errors, err.Error())
		statsMu.Unlock()
	}

	// commitMu serializes the final per-file commit; everything before it
	// is embarrassingly parallel across files.
	var commitMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)

	for res := range results {
		if res.Err != nil {
			if kberrors.IsFatal(res.Err) {
				return nil, res.Err
			}
			addError(res.Err)
			continue
		}

		cand := res.File
		switch cand.Status {
		case crawler.StatusSkipped:
			statsMu.Lock()
			stats.FilesScanned++
			stats.FilesSkipped++
			statsMu.Unlock()

		case crawler.StatusUnchanged:
			statsMu.Lock()
			stats.FilesScanned++
			statsMu.Unlock()

		case crawler.StatusDeleted:
			commitMu.Lock()
			err := ix.remove(ctx, cand.Path)
			commitMu.Unlock()
			if err != nil {
				return nil, err
			}
			statsMu.Lock()
			stats.FilesRemoved++
			statsMu.Unlock()

		case crawler.StatusNew, crawler.StatusChanged:
			statsMu.Lock()
			stats.FilesScanned++
			statsMu.Unlock()

			g.Go(func() error {
				doc, err := buildDocument(cand)
				if err != nil {
					// Tokenization failures skip the file, never abort.
					addError(err)
					statsMu.Lock()
					stats.FilesSkipped++
					statsMu.Unlock()
					return nil
				}

				commitMu.Lock()
				defer commitMu.Unlock()
				if err := ix.commit(gctx, cand, doc); err != nil {
					return err
				}
				statsMu.Lock()
				stats.FilesUpdated++
				statsMu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("index_complete",
		slog.String("root", root),
		slog.Int("scanned", stats.FilesScanned),
		slog.Int("updated", stats.FilesUpdated),
		slog.Int("removed", stats.FilesRemoved),
		slog.Int("skipped", stats.FilesSkipped),
		slog.Int("errors", len(stats.Errors)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return stats, nil
}

// commit swaps the file's postings, then upserts its record. The posting
// swap happens first so a record never points at missing index content.
func (ix *Indexer) commit(ctx context.Context, cand *crawler.Candidate, doc *store.Document) error {
	if err := ix.fulltext.ReplaceFile(ctx, doc); err != nil {
		return err
	}
	return ix.meta.Put(ctx, &store.FileRecord{
		Path:        cand.Path,
		ContentHash: cand.Hash,
		SizeBytes:   cand.Size,
		ModTime:     cand.ModTime,
		Language:    string(cand.Language),
		IndexedAt:   time.Now(),
	})
}

// remove retracts a deleted file: postings first, then the record, so the
// record-implies-postings invariant holds at every step.
func (ix *Indexer) remove(ctx context.Context, path string) error {
	if err := ix.fulltext.DeleteFile(ctx, path); err != nil {
		return err
	}
	return ix.meta.Remove(ctx, path)
}

// Clear removes all postings and records under path, or everything when
// path is empty.
func (ix *Indexer) Clear(ctx context.Context, path string) error {
	if err := ix.acquire("clear"); err != nil {
		return err
	}
	defer ix.release()

	docs, err := ix.fulltext.DeleteAll(ctx, path)
	if err != nil {
		return err
	}
	records, err := ix.meta.RemoveAll(ctx, path)
	if err != nil {
		return err
	}

	slog.Info("index_cleared",
		slog.String("path", path),
		slog.Int("documents", docs),
		slog.Int("records", records))
	return nil
}

// buildDocument reads, segments and tokenizes one file into the unit the
// full-text index commits atomically.
func buildDocument(cand *crawler.Candidate) (*store.Document, error) {
	content, err := os.ReadFile(cand.AbsPath)
	if err != nil {
		return nil, kberrors.CrawlError(cand.Path, err)
	}

	lines, err := token.Segment(content, cand.Language)
	if err != nil {
		return nil, kberrors.TokenizeError(cand.Path, err)
	}

	tokenizer := token.ForLanguage(cand.Language)
	doc := &store.Document{
		Path:     cand.Path,
		Language: string(cand.Language),
		Lines:    make([]store.LineText, 0, len(lines)),
	}
	for _, line := range lines {
		doc.Lines = append(doc.Lines, store.LineText{Line: line.Number, Text: line.Text})
		for _, tok := range tokenizer.Tokenize(line.Text) {
			doc.Postings = append(doc.Postings, store.Posting{
				Term: tok.Term,
				Line: line.Number,
				Col:  tok.Col,
			})
		}
	}
	doc.TermCount = len(doc.Postings)
	return doc, nil
}
