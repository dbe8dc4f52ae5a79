// Package token splits file content into line-addressable segments and
// searchable terms. Tokenization is regex-level work on identifier
// boundaries; no language parsing is involved.
package token

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/codekb/codekb/internal/kberrors"
)

// minSubTermLen filters out one-character identifier fragments; whole
// words are always kept.
const minSubTermLen = 2

// ErrUnsupportedContent is returned by Segment for binary or otherwise
// non-text content. Callers skip the file; it is never fatal.
var ErrUnsupportedContent = kberrors.New(kberrors.KindTokenize, "segment", "binary or non-text content")

// Line is a line-addressable segment of file content.
type Line struct {
	// Number is 1-indexed.
	Number int
	// Text is the line content without the trailing newline.
	Text string
}

// Token is a term with its byte column offset within a line.
type Token struct {
	// Term retains the original case; folding is a query-time concern.
	Term string
	// Col is the 0-based byte offset of the term in its line.
	Col int
}

// Tokenizer extracts tokens from a single line of text.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// ForLanguage selects the tokenizer for a language. Code-like languages get
// identifier splitting; markdown and plain text get word tokens only. The
// code tokenizer is the default fallback so unknown content still indexes
// identifiers sensibly.
func ForLanguage(lang Language) Tokenizer {
	switch {
	case codeLanguages[lang]:
		return codeTokenizer{}
	case lang == LangMarkdown, lang == LangText:
		return plainTokenizer{}
	default:
		return codeTokenizer{}
	}
}

// Segment splits content into ordered, 1-indexed lines. Binary content
// (NUL bytes in the leading window or invalid UTF-8) is rejected with
// ErrUnsupportedContent.
func Segment(content []byte, lang Language) ([]Line, error) {
	if isBinary(content) {
		return nil, ErrUnsupportedContent
	}
	if len(content) == 0 {
		return nil, nil
	}

	raw := strings.Split(string(content), "\n")
	// A trailing newline yields an empty final element, not an extra line.
	if len(raw) > 0 && raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}

	lines := make([]Line, len(raw))
	for i, text := range raw {
		lines[i] = Line{
			Number: i + 1,
			Text:   strings.TrimSuffix(text, "\r"),
		}
	}
	return lines, nil
}

// isBinary checks the first 512 bytes for NUL bytes and validates UTF-8
// over the whole content.
func isBinary(content []byte) bool {
	window := content
	if len(window) > 512 {
		window = window[:512]
	}
	if bytes.IndexByte(window, 0) >= 0 {
		return true
	}
	return !utf8.Valid(content)
}

// codeTokenizer emits each word plus its snake_case and camelCase
// sub-parts, so read_file is findable as read_file, read, and file.
type codeTokenizer struct{}

func (codeTokenizer) Tokenize(text string) []Token {
	var tokens []Token
	seen := make(map[Token]bool)

	emit := func(term string, col int) {
		t := Token{Term: term, Col: col}
		if term == "" || seen[t] {
			return
		}
		seen[t] = true
		tokens = append(tokens, t)
	}

	for _, w := range scanWords(text) {
		emit(w.Term, w.Col)
		for _, part := range splitIdentifier(w.Term) {
			if len(part.Term) >= minSubTermLen {
				emit(part.Term, w.Col+part.Col)
			}
		}
	}
	return tokens
}

// plainTokenizer emits words only, with no identifier splitting.
type plainTokenizer struct{}

func (plainTokenizer) Tokenize(text string) []Token {
	words := scanWords(text)
	tokens := make([]Token, len(words))
	copy(tokens, words)
	return tokens
}

// scanWords finds maximal [A-Za-z0-9_]+ runs with their byte offsets.
func scanWords(text string) []Token {
	var words []Token
	start := -1
	for i := 0; i < len(text); i++ {
		if isWordByte(text[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			words = append(words, Token{Term: text[start:i], Col: start})
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, Token{Term: text[start:], Col: start})
	}
	return words
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// splitIdentifier breaks snake_case and camelCase identifiers into
// sub-parts with offsets relative to the identifier start. A plain word
// with nothing to split returns only itself, which the caller dedupes.
func splitIdentifier(word string) []Token {
	var parts []Token
	for _, seg := range splitUnderscore(word) {
		for _, sub := range splitCamel(seg.Term) {
			parts = append(parts, Token{Term: sub.Term, Col: seg.Col + sub.Col})
		}
	}
	return parts
}

func splitUnderscore(word string) []Token {
	if !strings.Contains(word, "_") {
		return []Token{{Term: word, Col: 0}}
	}
	var parts []Token
	start := -1
	for i := 0; i < len(word); i++ {
		if word[i] == '_' {
			if start >= 0 {
				parts = append(parts, Token{Term: word[start:i], Col: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		parts = append(parts, Token{Term: word[start:], Col: start})
	}
	return parts
}

// splitCamel splits camelCase and PascalCase, keeping acronym runs
// together: parseHTTPRequest -> parse, HTTP, Request.
func splitCamel(s string) []Token {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}

	var parts []Token
	start := 0
	byteAt := func(runeIdx int) int {
		return len(string(runes[:runeIdx]))
	}

	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevLower := unicode.IsLower(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if prevLower || nextLower {
			if i > start {
				parts = append(parts, Token{Term: string(runes[start:i]), Col: byteAt(start)})
			}
			start = i
		}
	}
	parts = append(parts, Token{Term: string(runes[start:]), Col: byteAt(start)})
	return parts
}
