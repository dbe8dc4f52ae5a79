// Package kberrors defines the structured error taxonomy for CodeKB.
// Per-file errors (crawl, tokenize) are collected into index stats and never
// abort a whole operation; store-level structural errors do.
package kberrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy decisions.
type Kind int

const (
	// KindStore indicates an I/O or corruption failure in the metadata store.
	// Aborts the current operation; recoverable by rebuild.
	KindStore Kind = iota
	// KindCrawl indicates a path-level failure during crawling (permission
	// denied, symlink cycle). The offending path is skipped.
	KindCrawl
	// KindTokenize indicates unsupported or binary content. The file is
	// skipped, non-fatal.
	KindTokenize
	// KindCorruption indicates the full-text index is unreadable. Terminal
	// for the enclosing call; remediation is a forced full re-index.
	KindCorruption
	// KindQuery indicates a malformed filter or query, rejected before any
	// scoring work.
	KindQuery
	// KindNotFound indicates a requested record does not exist.
	KindNotFound
	// KindLocked indicates another index mutation is already in flight.
	KindLocked
)

// String returns the taxonomy name for the kind.
func (k Kind) String() string {
	switch k {
	case KindStore:
		return "store"
	case KindCrawl:
		return "crawl"
	case KindTokenize:
		return "tokenize"
	case KindCorruption:
		return "corruption"
	case KindQuery:
		return "query"
	case KindNotFound:
		return "not_found"
	case KindLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Error is the structured error type for CodeKB.
type Error struct {
	// Kind is the taxonomy classification.
	Kind Kind

	// Op is the operation that failed (e.g. "index", "search", "store.put").
	Op string

	// Path is the file or directory the error relates to, if any.
	Path string

	// Message is the human-readable description.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s: %s", e.Kind, e.Op, e.Path, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is against sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an Error with the given kind, operation and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an Error wrapping an existing cause. Returns nil for a nil
// cause so call sites can wrap unconditionally.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// WithPath attaches the related file path. Returns the error for chaining.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// StoreError creates a metadata-store failure.
func StoreError(op string, cause error) *Error {
	return Wrap(KindStore, op, cause)
}

// CrawlError creates a path-level crawl failure.
func CrawlError(path string, cause error) *Error {
	return &Error{Kind: KindCrawl, Op: "crawl", Path: path, Cause: cause}
}

// TokenizeError creates an unsupported-content failure for a file.
func TokenizeError(path string, cause error) *Error {
	return &Error{Kind: KindTokenize, Op: "tokenize", Path: path, Cause: cause}
}

// CorruptionError creates an index-corruption failure.
func CorruptionError(op string, cause error) *Error {
	return Wrap(KindCorruption, op, cause)
}

// QueryError creates a malformed-query failure.
func QueryError(message string) *Error {
	return New(KindQuery, "search", message)
}

// NotFound creates a missing-record failure for a path.
func NotFound(path string) *Error {
	return &Error{Kind: KindNotFound, Op: "get", Path: path, Message: "no such indexed file"}
}

// KindOf extracts the kind from an error chain. Returns ok=false when the
// chain contains no *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

// IsCorruption reports whether err indicates a rebuild is needed. Both store
// corruption and full-text index corruption are recoverable by a forced
// full re-index.
func IsCorruption(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindCorruption || k == KindStore)
}

// IsFatal reports whether err should abort the enclosing index or search
// operation. Crawl and tokenize errors are per-file and non-fatal.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return true
	}
	switch k {
	case KindCrawl, KindTokenize:
		return false
	default:
		return true
	}
}
