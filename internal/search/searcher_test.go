package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekb/codekb/internal/kberrors"
	"github.com/codekb/codekb/internal/store"
)

type corpus struct {
	meta     *store.SQLiteMetadata
	fulltext *store.SQLitePostings
	searcher *Searcher
}

func newCorpus(t *testing.T) *corpus {
	t.Helper()
	meta, err := store.NewSQLiteMetadata(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	fulltext, err := store.NewSQLitePostings(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = fulltext.Close() })

	return &corpus{meta: meta, fulltext: fulltext, searcher: New(meta, fulltext)}
}

// add indexes a document whose postings are one term occurrence per listed
// (term, line) pair, with line text synthesized from the terms.
func (c *corpus) add(t *testing.T, path, language string, terms map[string][]int) {
	t.Helper()
	ctx := context.Background()

	doc := &store.Document{Path: path, Language: language}
	lineText := make(map[int]string)
	for term, lines := range terms {
		for _, line := range lines {
			doc.Postings = append(doc.Postings, store.Posting{
				Term: term,
				Line: line,
				Col:  len(lineText[line]),
			})
			lineText[line] += term + " "
		}
	}
	doc.TermCount = len(doc.Postings)
	for line, text := range lineText {
		doc.Lines = append(doc.Lines, store.LineText{Line: line, Text: text})
	}
	require.NoError(t, c.fulltext.ReplaceFile(ctx, doc))

	require.NoError(t, c.meta.Put(ctx, &store.FileRecord{
		Path:        path,
		ContentHash: "hash-" + path,
		SizeBytes:   100,
		ModTime:     time.Now(),
		Language:    language,
		IndexedAt:   time.Now(),
	}))
}

func TestSearchRanksByRelevance(t *testing.T) {
	c := newCorpus(t)
	// "dense.go" mentions parser in half its terms; "sparse.go" once among
	// many; "none.go" not at all.
	c.add(t, "dense.go", "go", map[string][]int{
		"parser": {1, 2, 3},
		"other":  {4, 5, 6},
	})
	c.add(t, "sparse.go", "go", map[string][]int{
		"parser": {1},
		"filler": {2, 3, 4, 5, 6, 7, 8, 9, 10},
	})
	c.add(t, "none.go", "go", map[string][]int{
		"unrelated": {1},
	})

	results, err := c.searcher.Search(context.Background(), "parser", Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "dense.go", results[0].Path)
	assert.Equal(t, "sparse.go", results[1].Path)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9, "best match is normalized to 1.0")
	assert.Less(t, results[1].Score, results[0].Score)
	assert.GreaterOrEqual(t, results[1].Score, 0.0)
}

func TestSearchTieBreaksByPath(t *testing.T) {
	c := newCorpus(t)
	// Identical term profiles give identical scores.
	c.add(t, "bbb.go", "go", map[string][]int{"widget": {1}})
	c.add(t, "aaa.go", "go", map[string][]int{"widget": {1}})

	results, err := c.searcher.Search(context.Background(), "widget", Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "aaa.go", results[0].Path)
	assert.Equal(t, "bbb.go", results[1].Path)
}

func TestSearchDeterministicOrdering(t *testing.T) {
	c := newCorpus(t)
	for _, path := range []string{"m.go", "a.go", "z.go", "k.go"} {
		c.add(t, path, "go", map[string][]int{"anchor": {3}})
	}

	first, err := c.searcher.Search(context.Background(), "anchor", Options{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := c.searcher.Search(context.Background(), "anchor", Options{})
		require.NoError(t, err)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].Path, again[j].Path)
			assert.Equal(t, first[j].Score, again[j].Score)
		}
	}
}

func TestSearchMultiTermQuery(t *testing.T) {
	c := newCorpus(t)
	c.add(t, "both.go", "go", map[string][]int{"open": {1}, "database": {2}})
	c.add(t, "one.go", "go", map[string][]int{"open": {1}, "filler": {2}})

	results, err := c.searcher.Search(context.Background(), "open database", Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "both.go", results[0].Path, "matching more query terms ranks higher")
}

func TestSearchCaseSensitivity(t *testing.T) {
	c := newCorpus(t)
	c.add(t, "upper.go", "go", map[string][]int{"Parse": {1}})
	c.add(t, "lower.go", "go", map[string][]int{"parse": {1}})

	t.Run("insensitive matches both", func(t *testing.T) {
		results, err := c.searcher.Search(context.Background(), "parse", Options{})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("insensitive folds the query too", func(t *testing.T) {
		results, err := c.searcher.Search(context.Background(), "PARSE", Options{})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("sensitive matches exact case only", func(t *testing.T) {
		results, err := c.searcher.Search(context.Background(), "Parse", Options{CaseSensitive: true})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "upper.go", results[0].Path)
	})
}

func TestSearchFilters(t *testing.T) {
	c := newCorpus(t)
	c.add(t, "internal/store/db.go", "go", map[string][]int{"shared": {1}})
	c.add(t, "internal/web/handler.go", "go", map[string][]int{"shared": {1}})
	c.add(t, "scripts/tool.py", "python", map[string][]int{"shared": {1}})

	t.Run("path scope", func(t *testing.T) {
		results, err := c.searcher.Search(context.Background(), "shared",
			Options{PathScope: "internal/store"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "internal/store/db.go", results[0].Path)
	})

	t.Run("path scope tolerates slashes", func(t *testing.T) {
		results, err := c.searcher.Search(context.Background(), "shared",
			Options{PathScope: "/internal/store/"})
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("language filter", func(t *testing.T) {
		results, err := c.searcher.Search(context.Background(), "shared",
			Options{Language: "python"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "scripts/tool.py", results[0].Path)
	})

	t.Run("language filter is case insensitive", func(t *testing.T) {
		results, err := c.searcher.Search(context.Background(), "shared",
			Options{Language: "Python"})
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("file pattern matches basename", func(t *testing.T) {
		results, err := c.searcher.Search(context.Background(), "shared",
			Options{FilePattern: "*.py"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "scripts/tool.py", results[0].Path)
	})

	t.Run("filters compose", func(t *testing.T) {
		results, err := c.searcher.Search(context.Background(), "shared",
			Options{PathScope: "internal", FilePattern: "handler.go"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "internal/web/handler.go", results[0].Path)
	})
}

func TestSearchPathScopeDoesNotAffectScoring(t *testing.T) {
	c := newCorpus(t)
	// "common" appears in five documents corpus-wide, "rare" in one. The
	// two in-scope documents have identical term frequency, so only the
	// corpus-wide document frequencies separate them.
	for _, path := range []string{"out1.go", "out2.go", "out3.go", "out4.go"} {
		c.add(t, path, "go", map[string][]int{"common": {1}})
	}
	c.add(t, "sub/aa.go", "go", map[string][]int{"common": {1}})
	c.add(t, "sub/zz.go", "go", map[string][]int{"rare": {1}})

	results, err := c.searcher.Search(context.Background(), "rare common",
		Options{PathScope: "sub"})
	require.NoError(t, err)
	require.Len(t, results, 2, "scope still narrows the candidate set")

	// The rarer term must outrank the common one even though it sorts
	// later by path; a scope-local df would flatten both to df=1 and let
	// the path tie-break invert the order.
	assert.Equal(t, "sub/zz.go", results[0].Path)
	assert.Equal(t, "sub/aa.go", results[1].Path)

	// N=6, df(rare)=1, df(common)=5: ln(1+6/2) vs ln(1+6/6) is exactly 2:1
	// after normalization.
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
}

func TestSearchMaxResultsTruncatesAfterScoring(t *testing.T) {
	c := newCorpus(t)
	// give distinct densities so ordering is meaningful
	c.add(t, "best.go", "go", map[string][]int{"token": {1, 2, 3, 4}})
	c.add(t, "mid.go", "go", map[string][]int{"token": {1, 2}, "pad": {3, 4}})
	c.add(t, "worst.go", "go", map[string][]int{"token": {1}, "pad": {2, 3, 4}})

	results, err := c.searcher.Search(context.Background(), "token", Options{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "best.go", results[0].Path)
	assert.Equal(t, "mid.go", results[1].Path)
}

func TestSearchNoMatches(t *testing.T) {
	c := newCorpus(t)
	c.add(t, "a.go", "go", map[string][]int{"something": {1}})

	results, err := c.searcher.Search(context.Background(), "nonexistent", Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRejectsMalformedQueries(t *testing.T) {
	c := newCorpus(t)
	c.add(t, "a.go", "go", map[string][]int{"x2": {1}})

	tests := []struct {
		name  string
		query string
		opts  Options
	}{
		{name: "empty query", query: "", opts: Options{}},
		{name: "punctuation only", query: "!!! ...", opts: Options{}},
		{name: "unknown language", query: "x2", opts: Options{Language: "klingon"}},
		{name: "malformed glob", query: "x2", opts: Options{FilePattern: "[unclosed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.searcher.Search(context.Background(), tt.query, tt.opts)
			require.Error(t, err)
			kind, ok := kberrors.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, kberrors.KindQuery, kind)
		})
	}
}

func TestSearchSnippets(t *testing.T) {
	c := newCorpus(t)
	ctx := context.Background()

	doc := &store.Document{
		Path:      "file.go",
		Language:  "go",
		TermCount: 2,
		Postings: []store.Posting{
			{Term: "needle", Line: 5, Col: 4},
			{Term: "needle", Line: 20, Col: 0},
		},
	}
	for i := 1; i <= 25; i++ {
		doc.Lines = append(doc.Lines, store.LineText{Line: i, Text: "line"})
	}
	doc.Lines[4].Text = "    needle here"
	doc.Lines[19].Text = "needle again"
	require.NoError(t, c.fulltext.ReplaceFile(ctx, doc))
	require.NoError(t, c.meta.Put(ctx, &store.FileRecord{
		Path: "file.go", ContentHash: "h", Language: "go",
		ModTime: time.Now(), IndexedAt: time.Now(),
	}))

	results, err := c.searcher.Search(ctx, "needle", Options{ContextLines: 2})
	require.NoError(t, err)
	require.Len(t, results, 1)

	lines := results[0].Lines
	// Two separate blocks: 3..7 and 18..22, ordered by line.
	require.Len(t, lines, 10)
	assert.Equal(t, 3, lines[0].Line)
	assert.Equal(t, 7, lines[4].Line)
	assert.Equal(t, 18, lines[5].Line)
	assert.Equal(t, 22, lines[9].Line)

	// Match lines carry spans; context lines do not.
	var matched *MatchLine
	for i := range lines {
		if lines[i].Line == 5 {
			matched = &lines[i]
		}
	}
	require.NotNil(t, matched)
	require.Len(t, matched.Spans, 1)
	assert.Equal(t, 4, matched.Spans[0].Start)
	assert.Equal(t, 10, matched.Spans[0].End)

	for _, line := range lines {
		if line.Line != 5 && line.Line != 20 {
			assert.Empty(t, line.Spans, "context line %d must carry no spans", line.Line)
		}
	}
}

func TestSearchAdjacentMatchesMergeIntoOneBlock(t *testing.T) {
	c := newCorpus(t)
	c.add(t, "file.go", "go", map[string][]int{"near": {5, 6}})

	results, err := c.searcher.Search(context.Background(), "near", Options{ContextLines: 2})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// One merged block 3..8; lines 1..2 of the synthesized doc don't exist,
	// so only stored lines come back.
	seen := make(map[int]bool)
	for _, line := range results[0].Lines {
		assert.False(t, seen[line.Line], "no duplicate lines in a merged block")
		seen[line.Line] = true
	}
	assert.True(t, seen[5])
	assert.True(t, seen[6])
}

func TestSearchMaxSnippetsCap(t *testing.T) {
	c := newCorpus(t)
	ctx := context.Background()

	// Matches far apart on lines 10, 30, 50, 70 -> four blocks.
	doc := &store.Document{Path: "file.go", Language: "go", TermCount: 4}
	for _, line := range []int{10, 30, 50, 70} {
		doc.Postings = append(doc.Postings, store.Posting{Term: "spread", Line: line, Col: 0})
		doc.Lines = append(doc.Lines, store.LineText{Line: line, Text: "spread"})
	}
	require.NoError(t, c.fulltext.ReplaceFile(ctx, doc))
	require.NoError(t, c.meta.Put(ctx, &store.FileRecord{
		Path: "file.go", ContentHash: "h", Language: "go",
		ModTime: time.Now(), IndexedAt: time.Now(),
	}))

	results, err := c.searcher.Search(ctx, "spread", Options{MaxSnippets: 2, ContextLines: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	var matchLines []int
	for _, line := range results[0].Lines {
		matchLines = append(matchLines, line.Line)
	}
	assert.Equal(t, []int{10, 30}, matchLines, "only the first two blocks survive")
}

func TestSearchStaleCandidateSkipped(t *testing.T) {
	c := newCorpus(t)
	ctx := context.Background()

	c.add(t, "live.go", "go", map[string][]int{"ghost": {1}})
	c.add(t, "stale.go", "go", map[string][]int{"ghost": {1}})
	// Retract the record but leave postings, simulating a reader racing a
	// retraction.
	require.NoError(t, c.meta.Remove(ctx, "stale.go"))

	results, err := c.searcher.Search(ctx, "ghost", Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "live.go", results[0].Path)
}
