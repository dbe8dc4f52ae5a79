package crawler

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"

	"github.com/codekb/codekb/internal/gitignore"
	"github.com/codekb/codekb/internal/kberrors"
	"github.com/codekb/codekb/internal/store"
	"github.com/codekb/codekb/internal/token"
)

// gitignoreCacheSize bounds the number of cached per-directory matchers in
// long-running processes (watch mode).
const gitignoreCacheSize = 1000

// Crawler walks a root path and classifies files against the metadata
// store. Safe for reuse across crawls.
type Crawler struct {
	meta           store.MetadataStore
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
}

// New creates a Crawler backed by the given metadata store.
func New(meta store.MetadataStore) (*Crawler, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gitignore cache: %w", err)
	}
	return &Crawler{meta: meta, gitignoreCache: cache}, nil
}

// Crawl streams classified candidates for the tree rooted at opts.Root.
// The channel carries new/changed/unchanged files in walk order, then the
// deleted files observed in the store but absent on disk, and is closed
// when the crawl completes. Per-path failures are streamed as Result.Err
// and never abort the walk.
func (c *Crawler) Crawl(ctx context.Context, opts Options) (<-chan Result, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		seen := c.walk(ctx, absRoot, opts, results)
		c.reportDeleted(ctx, absRoot, seen, opts, results)
	}()
	return results, nil
}

// walk traverses the tree and emits candidates. It returns the set of
// relative paths observed so deletion detection can run afterwards.
func (c *Crawler) walk(ctx context.Context, absRoot string, opts Options, results chan<- Result) map[string]bool {
	seen := make(map[string]bool)

	// Canonical paths of directories already entered. Symlinked directory
	// cycles resolve to an already-visited canonical path and are skipped,
	// guaranteeing termination.
	visited := map[string]bool{}
	if canon, err := filepath.EvalSymlinks(absRoot); err == nil {
		visited[canon] = true
	}

	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil || relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if walkErr != nil {
			c.emit(ctx, results, Result{Err: kberrors.CrawlError(relPath, walkErr)})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		isDir := d.IsDir()
		isSymlink := d.Type()&fs.ModeSymlink != 0

		// Symlinked directories need a cycle check before descending.
		if isSymlink {
			target, err := os.Stat(path)
			if err != nil {
				return nil
			}
			if target.IsDir() {
				canon, err := filepath.EvalSymlinks(path)
				if err != nil || visited[canon] {
					return nil
				}
				// Directory symlinks are not descended into; they would
				// duplicate content reachable through the real path.
				return nil
			}
			// Symlinked files are non-regular, skip.
			return nil
		}

		if isDir {
			if canon, err := filepath.EvalSymlinks(path); err == nil {
				if visited[canon] {
					return filepath.SkipDir
				}
				visited[canon] = true
			}
			if c.excluded(relPath, true, absRoot, opts) {
				return filepath.SkipDir
			}
			if !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}

		if c.excluded(relPath, false, absRoot, opts) {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			c.emit(ctx, results, Result{Err: kberrors.CrawlError(relPath, err)})
			return nil
		}
		if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
			slog.Debug("skipping oversized file",
				slog.String("path", relPath),
				slog.Int64("size", info.Size()),
				slog.Int64("max", opts.MaxFileSize))
			c.emit(ctx, results, Result{File: &Candidate{
				Path:    relPath,
				AbsPath: path,
				Size:    info.Size(),
				ModTime: info.ModTime(),
				Status:  StatusSkipped,
			}})
			return nil
		}

		cand, err := c.classify(ctx, path, relPath, info, opts)
		if err != nil {
			c.emit(ctx, results, Result{Err: kberrors.CrawlError(relPath, err)})
			return nil
		}
		seen[relPath] = true
		c.emit(ctx, results, Result{File: cand})
		return nil
	})

	return seen
}

// classify hashes a surviving file and compares it to the stored record.
func (c *Crawler) classify(ctx context.Context, absPath, relPath string, info fs.FileInfo, opts Options) (*Candidate, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	hash := hashContent(content)

	cand := &Candidate{
		Path:     relPath,
		AbsPath:  absPath,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: token.DetectLanguage(relPath),
		Hash:     hash,
		Status:   StatusNew,
	}

	rec, err := c.meta.Get(ctx, relPath)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if !opts.Force && rec.ContentHash == hash && rec.ModTime.Equal(info.ModTime()) {
			cand.Status = StatusUnchanged
		} else {
			cand.Status = StatusChanged
		}
	}
	return cand, nil
}

// reportDeleted emits a deleted candidate for every stored record whose
// file no longer exists on disk, or whose path the current exclusion rules
// now reject. Files merely outside the current walk scope (non-recursive
// crawls) are still present and stay indexed.
func (c *Crawler) reportDeleted(ctx context.Context, absRoot string, seen map[string]bool, opts Options, results chan<- Result) {
	records, err := c.meta.List(ctx, "")
	if err != nil {
		c.emit(ctx, results, Result{Err: err})
		return
	}

	for _, rec := range records {
		if seen[rec.Path] {
			continue
		}
		if _, err := os.Lstat(filepath.Join(absRoot, filepath.FromSlash(rec.Path))); err == nil {
			// Still on disk: retract anyway when an exclude glob or
			// gitignore rule added since the last run now covers it.
			if !c.excluded(rec.Path, false, absRoot, opts) {
				continue
			}
		}
		c.emit(ctx, results, Result{File: &Candidate{
			Path:     rec.Path,
			Language: token.Language(rec.Language),
			Status:   StatusDeleted,
		}})
	}
}

func (c *Crawler) emit(ctx context.Context, results chan<- Result, r Result) {
	select {
	case results <- r:
	case <-ctx.Done():
	}
}

// excluded applies the exclusion policy: explicit globs first, then
// gitignore rules when enabled.
func (c *Crawler) excluded(relPath string, isDir bool, absRoot string, opts Options) bool {
	for _, pattern := range opts.Exclude {
		if matchExclude(relPath, pattern) {
			return true
		}
	}
	if opts.RespectGitignore && c.gitignored(relPath, isDir, absRoot) {
		return true
	}
	return false
}

// matchExclude matches one exclude pattern against a slash-separated
// relative path. A bare name excludes any path containing that segment;
// patterns with wildcards use glob matching against the basename and each
// segment; patterns with a slash anchor to a path prefix.
func matchExclude(relPath, pattern string) bool {
	if pattern == "" {
		return false
	}

	hasGlob := strings.ContainsAny(pattern, "*?[")
	hasSlash := strings.Contains(pattern, "/")

	switch {
	case hasSlash:
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
		return relPath == pattern || strings.HasPrefix(relPath, pattern+"/")
	case hasGlob:
		if ok, _ := filepath.Match(pattern, filepath.Base(relPath)); ok {
			return true
		}
		for _, seg := range strings.Split(relPath, "/") {
			if ok, _ := filepath.Match(pattern, seg); ok {
				return true
			}
		}
		return false
	default:
		for _, seg := range strings.Split(relPath, "/") {
			if seg == pattern {
				return true
			}
		}
		return false
	}
}

// gitignored checks the root .gitignore and every nested one on the path.
func (c *Crawler) gitignored(relPath string, isDir bool, absRoot string) bool {
	if m := c.matcherFor(absRoot, ""); m != nil && m.Match(relPath, isDir) {
		return true
	}

	dir := absRoot
	base := ""
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(relPath)), "/") {
		if part == "." || part == "" {
			continue
		}
		dir = filepath.Join(dir, part)
		if base == "" {
			base = part
		} else {
			base = base + "/" + part
		}
		if m := c.matcherFor(dir, base); m != nil && m.Match(relPath, isDir) {
			return true
		}
	}
	return false
}

// matcherFor returns the cached matcher for dir's .gitignore, or nil when
// the directory has none.
func (c *Crawler) matcherFor(dir, base string) *gitignore.Matcher {
	if m, ok := c.gitignoreCache.Get(dir); ok {
		return m
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	m := gitignore.New()
	if err := m.AddFile(path, base); err != nil {
		slog.Warn("failed to read gitignore",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	c.gitignoreCache.Add(dir, m)
	return m
}

// InvalidateGitignoreCache drops all cached matchers. Called by watch mode
// when a .gitignore file changes.
func (c *Crawler) InvalidateGitignoreCache() {
	c.gitignoreCache.Purge()
}

// hashContent returns the xxh3 hex digest of content.
func hashContent(content []byte) string {
	sum := xxh3.Hash128(content).Bytes()
	return hex.EncodeToString(sum[:])
}
