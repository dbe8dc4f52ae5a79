package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekb/codekb/internal/kberrors"
	"github.com/codekb/codekb/internal/store"
)

type testEnv struct {
	meta     *store.SQLiteMetadata
	fulltext *store.SQLitePostings
	indexer  *Indexer
	root     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	meta, err := store.NewSQLiteMetadata(filepath.Join(dataDir, store.MetadataFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	fulltext, err := store.NewSQLitePostings(filepath.Join(dataDir, store.PostingsFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fulltext.Close() })

	ix, err := New(meta, fulltext, dataDir, 2)
	require.NoError(t, err)

	return &testEnv{meta: meta, fulltext: fulltext, indexer: ix, root: t.TempDir()}
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (e *testEnv) index(t *testing.T, opts Options) *Stats {
	t.Helper()
	stats, err := e.indexer.Index(context.Background(), e.root, opts)
	require.NoError(t, err)
	return stats
}

func TestIndexBuildsFromScratch(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "main.go", "package main\n\nfunc readFile() {}\n")
	env.write(t, "lib/util.py", "def read_file():\n    pass\n")

	stats := env.index(t, Options{Recursive: true})

	assert.Equal(t, 2, stats.FilesScanned)
	assert.Equal(t, 2, stats.FilesUpdated)
	assert.Equal(t, 0, stats.FilesRemoved)
	assert.Equal(t, 0, stats.FilesSkipped)
	assert.Empty(t, stats.Errors)

	// Records and postings both exist for every indexed file.
	rec, err := env.meta.Get(context.Background(), "main.go")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "go", rec.Language)
	assert.NotEmpty(t, rec.ContentHash)

	docs, err := env.fulltext.TermDocs(context.Background(), "readfile", false, "")
	require.NoError(t, err)
	assert.Contains(t, docs, "main.go")

	// Identifier sub-parts are indexed too.
	docs, err = env.fulltext.TermDocs(context.Background(), "read", false, "")
	require.NoError(t, err)
	assert.Contains(t, docs, "main.go")
	assert.Contains(t, docs, "lib/util.py")
}

func TestIndexIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.go", "package a\n")
	env.write(t, "b.go", "package b\n")

	first := env.index(t, Options{Recursive: true})
	require.Equal(t, 2, first.FilesUpdated)

	second := env.index(t, Options{Recursive: true})
	assert.Equal(t, 2, second.FilesScanned)
	assert.Equal(t, 0, second.FilesUpdated, "unchanged files must not be re-tokenized")
	assert.Equal(t, 0, second.FilesRemoved)
}

func TestIndexIncremental(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "stable.go", "package stable\n")
	env.write(t, "volatile.go", "package volatile\n")
	env.index(t, Options{Recursive: true})

	stableRec, err := env.meta.Get(context.Background(), "stable.go")
	require.NoError(t, err)

	env.write(t, "volatile.go", "package volatile // edited\n")
	stats := env.index(t, Options{Recursive: true})

	assert.Equal(t, 1, stats.FilesUpdated)

	// The untouched file's record is byte-for-byte the same.
	after, err := env.meta.Get(context.Background(), "stable.go")
	require.NoError(t, err)
	assert.Equal(t, stableRec.ContentHash, after.ContentHash)
	assert.True(t, stableRec.IndexedAt.Equal(after.IndexedAt),
		"unchanged files must not be rewritten")

	docs, err := env.fulltext.TermDocs(context.Background(), "edited", false, "")
	require.NoError(t, err)
	assert.Contains(t, docs, "volatile.go")
}

func TestIndexForceRetokenizesEverything(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.go", "package a\n")
	env.index(t, Options{Recursive: true})

	stats := env.index(t, Options{Recursive: true, Force: true})
	assert.Equal(t, 1, stats.FilesUpdated)
}

func TestIndexRetractsDeletedFiles(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "keep.go", "package keep\n")
	env.write(t, "gone.go", "package gone\nvar vanishing = 1\n")
	env.index(t, Options{Recursive: true})

	require.NoError(t, os.Remove(filepath.Join(env.root, "gone.go")))
	stats := env.index(t, Options{Recursive: true})

	assert.Equal(t, 1, stats.FilesRemoved)

	rec, err := env.meta.Get(context.Background(), "gone.go")
	require.NoError(t, err)
	assert.Nil(t, rec, "deleted file's record is retracted")

	docs, err := env.fulltext.TermDocs(context.Background(), "vanishing", false, "")
	require.NoError(t, err)
	assert.Empty(t, docs, "deleted file's postings are retracted")

	rec, err = env.meta.Get(context.Background(), "keep.go")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestIndexSkipsOversizedFiles(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "small.go", "package small\n")

	big := make([]byte, 300)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "big.go"), big, 0o644))

	stats := env.index(t, Options{Recursive: true, MaxFileSize: 100})

	assert.Equal(t, 2, stats.FilesScanned)
	assert.Equal(t, 1, stats.FilesUpdated)
	assert.Equal(t, 1, stats.FilesSkipped)

	rec, err := env.meta.Get(context.Background(), "big.go")
	require.NoError(t, err)
	assert.Nil(t, rec, "skipped files never get a record")
}

func TestIndexSkipsBinaryFiles(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "code.go", "package code\n")
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "blob.bin"),
		[]byte{0x00, 0x01, 0x02, 0xff}, 0o644))

	stats := env.index(t, Options{Recursive: true})

	assert.Equal(t, 1, stats.FilesUpdated)
	assert.Equal(t, 1, stats.FilesSkipped)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "blob.bin")

	rec, err := env.meta.Get(context.Background(), "blob.bin")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestIndexAppliesExcludes(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "main.go", "package main\n")
	env.write(t, "vendor/dep/dep.go", "package dep\n")

	stats := env.index(t, Options{Recursive: true, Exclude: []string{"vendor"}})

	assert.Equal(t, 1, stats.FilesScanned)
	rec, err := env.meta.Get(context.Background(), "vendor/dep/dep.go")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestIndexRetractsNewlyExcludedFiles(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "main.go", "package main\n")
	env.write(t, "target/out.rs", "fn shadowed() {}\n")
	env.index(t, Options{Recursive: true})

	// The same tree re-indexed with a new exclude retracts the covered
	// file even though it still exists on disk.
	stats := env.index(t, Options{Recursive: true, Exclude: []string{"target"}})
	assert.Equal(t, 1, stats.FilesRemoved)

	rec, err := env.meta.Get(context.Background(), "target/out.rs")
	require.NoError(t, err)
	assert.Nil(t, rec)

	docs, err := env.fulltext.TermDocs(context.Background(), "shadowed", false, "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIndexClear(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "x/a.go", "package a\n")
	env.write(t, "y/b.go", "package b\n")
	env.index(t, Options{Recursive: true})

	t.Run("clear a subtree", func(t *testing.T) {
		require.NoError(t, env.indexer.Clear(context.Background(), "x"))

		rec, err := env.meta.Get(context.Background(), "x/a.go")
		require.NoError(t, err)
		assert.Nil(t, rec)

		rec, err = env.meta.Get(context.Background(), "y/b.go")
		require.NoError(t, err)
		assert.NotNil(t, rec)
	})

	t.Run("clear everything", func(t *testing.T) {
		require.NoError(t, env.indexer.Clear(context.Background(), ""))

		n, err := env.meta.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		docs, err := env.fulltext.DocCount(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, 0, docs)
	})
}

func TestIndexWriteLockExcludesConcurrentMutation(t *testing.T) {
	dataDir := t.TempDir()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))

	meta, err := store.NewSQLiteMetadata(filepath.Join(dataDir, store.MetadataFileName))
	require.NoError(t, err)
	defer func() { _ = meta.Close() }()
	fulltext, err := store.NewSQLitePostings(filepath.Join(dataDir, store.PostingsFileName))
	require.NoError(t, err)
	defer func() { _ = fulltext.Close() }()

	first, err := New(meta, fulltext, dataDir, 1)
	require.NoError(t, err)
	second, err := New(meta, fulltext, dataDir, 1)
	require.NoError(t, err)

	// Hold the lock through the first indexer, then try to mutate through
	// the second; it must fail fast rather than queue.
	require.NoError(t, first.acquire("index"))
	defer first.release()

	_, err = second.Index(context.Background(), root, Options{Recursive: true})
	require.Error(t, err)
	kind, ok := kberrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, kberrors.KindLocked, kind)
}

func TestIndexRecordImpliesPostings(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.go", "package alpha\n")
	env.write(t, "b.md", "# notes about alpha\n")
	env.index(t, Options{Recursive: true})

	// Every record has a matching document in the full-text index.
	records, err := env.meta.List(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, records)

	paths := make([]string, 0, len(records))
	for _, rec := range records {
		paths = append(paths, rec.Path)
	}
	counts, err := env.fulltext.DocTermCount(context.Background(), paths)
	require.NoError(t, err)
	for _, rec := range records {
		_, ok := counts[rec.Path]
		assert.True(t, ok, "record %s has no document", rec.Path)
	}
}

func TestIndexRespectsContextCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.go", "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context ends the run promptly without corrupting stores.
	_, _ = env.indexer.Index(ctx, env.root, Options{Recursive: true})

	stats, err := env.indexer.Index(context.Background(), env.root, Options{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesScanned)
}

func TestIndexStatsModTimePreserved(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.go", "package a\n")
	env.index(t, Options{Recursive: true})

	info, err := os.Stat(filepath.Join(env.root, "a.go"))
	require.NoError(t, err)

	rec, err := env.meta.Get(context.Background(), "a.go")
	require.NoError(t, err)
	assert.True(t, rec.ModTime.Equal(info.ModTime()))
	assert.WithinDuration(t, time.Now(), rec.IndexedAt, time.Minute)
}
