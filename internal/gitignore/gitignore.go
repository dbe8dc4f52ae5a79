// Package gitignore matches paths against gitignore-syntax patterns.
// It covers the subset of https://git-scm.com/docs/gitignore the crawler
// needs: wildcards, anchoring, directory-only rules, and negation.
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Matcher holds compiled patterns from one or more gitignore sources.
type Matcher struct {
	rules []rule
}

type rule struct {
	regex    *regexp.Regexp
	negation bool
	dirOnly  bool
	anchored bool
	base     string // rules from a nested .gitignore apply under this dir only
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern adds a single pattern applying from the tree root.
func (m *Matcher) AddPattern(pattern string) {
	m.addPattern(pattern, "")
}

// AddFile reads patterns from a .gitignore file. base scopes the patterns
// to the directory containing the file, relative to the tree root.
func (m *Matcher) AddFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open gitignore: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.addPattern(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read gitignore: %w", err)
	}
	return nil
}

func (m *Matcher) addPattern(pattern, base string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	r := rule{base: filepath.ToSlash(base)}

	if strings.HasPrefix(pattern, "!") {
		r.negation = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}
	// A slash anywhere in the body anchors the pattern to the base.
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		r.anchored = true
	}

	r.regex = regexp.MustCompile("^" + patternToRegex(pattern) + "$")
	m.rules = append(m.rules, r)
}

// Match reports whether path (slash-separated, relative to the tree root)
// is ignored. Later rules override earlier ones, so negations work.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	ignored := false
	for _, r := range m.rules {
		if matchRule(path, isDir, r) {
			ignored = !r.negation
		}
	}
	return ignored
}

func matchRule(path string, isDir bool, r rule) bool {
	if r.base != "" {
		if !strings.HasPrefix(path, r.base+"/") {
			return false
		}
		path = strings.TrimPrefix(path, r.base+"/")
	}

	parts := strings.Split(path, "/")

	if r.anchored {
		if r.regex.MatchString(path) {
			return !r.dirOnly || isDir || len(parts) > 1
		}
		// A directory rule also covers everything inside the directory.
		for i := 1; i < len(parts); i++ {
			if r.regex.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	// Unanchored: the pattern may match the basename, the full path, or
	// any intermediate directory component.
	if r.dirOnly {
		for i, part := range parts {
			if r.regex.MatchString(part) {
				return i < len(parts)-1 || isDir
			}
		}
		return false
	}

	if r.regex.MatchString(parts[len(parts)-1]) || r.regex.MatchString(path) {
		return true
	}
	for _, part := range parts[:len(parts)-1] {
		if r.regex.MatchString(part) {
			return true
		}
	}
	return false
}

// patternToRegex translates gitignore wildcards into a regular expression.
func patternToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		switch c := pattern[i]; c {
		case '*':
			if strings.HasPrefix(pattern[i:], "**/") {
				b.WriteString("(?:.*/)?")
				i += 3
			} else if strings.HasPrefix(pattern[i:], "**") {
				b.WriteString(".*")
				i += 2
			} else {
				b.WriteString("[^/]*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end > 0 {
				b.WriteString(pattern[i : i+end+1])
				i += end + 1
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return b.String()
}
