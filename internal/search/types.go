// Package search executes ranked queries against the full-text index.
// Filters shrink the candidate set before scoring; the score formula
// itself is plain TF-IDF normalized to 0..1, and ordering is fully
// deterministic so identical corpora always rank identically.
package search

import "time"

// Options configures a single query. Immutable per query.
type Options struct {
	// PathScope restricts results to a path or its subtree.
	PathScope string

	// FilePattern is a glob matched against the result path and its
	// basename (e.g. "*.go").
	FilePattern string

	// Language restricts results to one language tag.
	Language string

	// MaxResults truncates the final ordered sequence (0 = default). It
	// never biases which documents get scored.
	MaxResults int

	// CaseSensitive matches the exact-case term column instead of the
	// folded one.
	CaseSensitive bool

	// ContextLines is the number of surrounding lines per snippet block.
	ContextLines int

	// MaxSnippets caps snippet blocks per result file so dense matches
	// stay bounded.
	MaxSnippets int
}

// Span marks one matched term's byte range within a line.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// MatchLine is one line of a result snippet. Context lines carry no spans.
type MatchLine struct {
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Spans []Span `json:"spans,omitempty"`
}

// Result is one ranked search hit, constructed fresh per query.
type Result struct {
	Path     string      `json:"path"`
	Score    float64     `json:"score"` // 0.0 - 1.0 relevance
	Lines    []MatchLine `json:"lines"`
	Language string      `json:"language"`
	FileSize int64       `json:"file_size"`
	ModTime  time.Time   `json:"mod_time"`
}
