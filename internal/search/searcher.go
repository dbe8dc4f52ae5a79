package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codekb/codekb/internal/kberrors"
	"github.com/codekb/codekb/internal/store"
	"github.com/codekb/codekb/internal/token"
)

// Default caps applied when Options leaves them zero.
const (
	DefaultMaxResults  = 20
	DefaultContext     = 2
	DefaultMaxSnippets = 5
)

// Searcher executes queries against the stores built by the indexer.
// Safe for concurrent use; every search runs against a stable snapshot.
type Searcher struct {
	meta     store.MetadataStore
	fulltext store.FulltextIndex
}

// New creates a Searcher over the given stores.
func New(meta store.MetadataStore, fulltext store.FulltextIndex) *Searcher {
	return &Searcher{meta: meta, fulltext: fulltext}
}

// Search returns results ordered by descending score, ties broken by path
// then first match line. Malformed filters are rejected before any scoring
// work as a query error.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	terms, err := validate(query, &opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	// Gather postings per term across the whole corpus. Document frequency
	// and corpus size are always global: filters reduce the candidate set
	// below, they never change the score formula's inputs.
	type termHits struct {
		term string
		docs map[string][]store.Posting
		df   int
	}
	hits := make([]termHits, 0, len(terms))
	candidates := make(map[string]bool)
	for _, term := range terms {
		docs, err := s.fulltext.TermDocs(ctx, term, opts.CaseSensitive, "")
		if err != nil {
			return nil, err
		}
		hits = append(hits, termHits{term: term, docs: docs, df: len(docs)})
		for path := range docs {
			candidates[path] = true
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Filter the candidate set before scoring.
	records := make(map[string]*store.FileRecord, len(candidates))
	paths := make([]string, 0, len(candidates))
	for path := range candidates {
		if opts.PathScope != "" && !inScope(path, opts.PathScope) {
			continue
		}
		rec, err := s.meta.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue // record retracted mid-query; skip the stale posting
		}
		if opts.Language != "" && rec.Language != opts.Language {
			continue
		}
		if opts.FilePattern != "" && !matchPattern(path, opts.FilePattern) {
			continue
		}
		records[path] = rec
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	corpusSize, err := s.fulltext.DocCount(ctx, "")
	if err != nil {
		return nil, err
	}
	termCounts, err := s.fulltext.DocTermCount(ctx, paths)
	if err != nil {
		return nil, err
	}

	// TF-IDF: tf weighted by ln(1 + N/(1+df)) summed over query terms,
	// normalized to 0..1 by the best raw score.
	rawScores := make(map[string]float64, len(paths))
	postings := make(map[string][]store.Posting, len(paths))
	for _, th := range hits {
		idf := math.Log(1 + float64(corpusSize)/float64(1+th.df))
		for path, posts := range th.docs {
			if _, ok := records[path]; !ok {
				continue
			}
			total := termCounts[path]
			if total <= 0 {
				continue
			}
			tf := float64(len(posts)) / float64(total)
			rawScores[path] += tf * idf
			postings[path] = append(postings[path], posts...)
		}
	}

	var maxRaw float64
	for _, raw := range rawScores {
		if raw > maxRaw {
			maxRaw = raw
		}
	}
	if maxRaw == 0 {
		return nil, nil
	}

	results := make([]*Result, 0, len(rawScores))
	for path, raw := range rawScores {
		rec := records[path]
		results = append(results, &Result{
			Path:     path,
			Score:    raw / maxRaw,
			Language: rec.Language,
			FileSize: rec.SizeBytes,
			ModTime:  rec.ModTime,
		})
	}

	firstLine := func(path string) int {
		posts := postings[path]
		line := math.MaxInt32
		for _, p := range posts {
			if p.Line < line {
				line = p.Line
			}
		}
		return line
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Path != results[j].Path {
			return results[i].Path < results[j].Path
		}
		return firstLine(results[i].Path) < firstLine(results[j].Path)
	})

	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	// Snippets only for the surviving results.
	for _, res := range results {
		lines, err := s.assemble(ctx, res.Path, postings[res.Path], opts)
		if err != nil {
			return nil, err
		}
		res.Lines = lines
	}

	slog.Debug("search_complete",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return results, nil
}

// validate rejects malformed queries and filters up front and fills in
// option defaults. It returns the query terms to look up.
func validate(query string, opts *Options) ([]string, error) {
	// Whole-word query tokenization; identifier splitting is an
	// index-side recall concern, not a query-side one.
	tokens := token.ForLanguage(token.LangText).Tokenize(query)
	if len(tokens) == 0 {
		return nil, kberrors.QueryError("query contains no searchable terms")
	}

	if opts.Language != "" {
		opts.Language = strings.ToLower(opts.Language)
		if !token.KnownLanguage(opts.Language) {
			return nil, kberrors.QueryError(fmt.Sprintf("unknown language tag %q", opts.Language))
		}
	}
	if opts.FilePattern != "" {
		if _, err := filepath.Match(opts.FilePattern, "probe"); err != nil {
			return nil, kberrors.QueryError(fmt.Sprintf("malformed file pattern %q", opts.FilePattern))
		}
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.ContextLines < 0 {
		opts.ContextLines = 0
	} else if opts.ContextLines == 0 {
		opts.ContextLines = DefaultContext
	}
	if opts.MaxSnippets <= 0 {
		opts.MaxSnippets = DefaultMaxSnippets
	}
	opts.PathScope = strings.Trim(filepath.ToSlash(opts.PathScope), "/")

	seen := make(map[string]bool, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		term := tok.Term
		if !opts.CaseSensitive {
			term = strings.ToLower(term)
		}
		if !seen[term] {
			seen[term] = true
			terms = append(terms, term)
		}
	}
	return terms, nil
}

// inScope reports whether path equals scope or lives under it.
func inScope(path, scope string) bool {
	return path == scope || strings.HasPrefix(path, scope+"/")
}

// matchPattern matches a file glob against the path and its basename.
func matchPattern(path, pattern string) bool {
	if ok, _ := filepath.Match(pattern, path); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, filepath.Base(path))
	return ok
}

// assemble groups a file's match lines into contiguous snippet blocks with
// surrounding context, capped at opts.MaxSnippets blocks.
func (s *Searcher) assemble(ctx context.Context, path string, posts []store.Posting, opts Options) ([]MatchLine, error) {
	spansByLine := make(map[int][]Span)
	for _, p := range posts {
		spansByLine[p.Line] = append(spansByLine[p.Line], Span{
			Start: p.Col,
			End:   p.Col + len(p.Term),
		})
	}

	matchLines := make([]int, 0, len(spansByLine))
	for line := range spansByLine {
		matchLines = append(matchLines, line)
	}
	sort.Ints(matchLines)

	// Two matches whose context windows touch merge into one block.
	type block struct{ lo, hi int }
	var blocks []block
	for _, line := range matchLines {
		lo := line - opts.ContextLines
		if lo < 1 {
			lo = 1
		}
		hi := line + opts.ContextLines
		if n := len(blocks); n > 0 && lo <= blocks[n-1].hi+1 {
			blocks[n-1].hi = hi
		} else {
			blocks = append(blocks, block{lo: lo, hi: hi})
		}
	}
	if len(blocks) > opts.MaxSnippets {
		blocks = blocks[:opts.MaxSnippets]
	}

	var out []MatchLine
	for _, b := range blocks {
		lines, err := s.fulltext.LineRange(ctx, path, b.lo, b.hi)
		if err != nil {
			return nil, err
		}
		for _, lt := range lines {
			spans := spansByLine[lt.Line]
			sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
			out = append(out, MatchLine{Line: lt.Line, Text: lt.Text, Spans: spans})
		}
	}
	return out, nil
}
