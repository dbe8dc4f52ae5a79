package kberrors

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := TokenizeError("src/blob.bin", errors.New("binary content"))
	assert.Equal(t, "tokenize: tokenize: src/blob.bin: binary content", err.Error())

	err = QueryError("unknown language tag \"klingon\"")
	assert.Equal(t, `query: search: unknown language tag "klingon"`, err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindStore, "put", nil))
	assert.Nil(t, StoreError("put", nil))
}

func TestUnwrap(t *testing.T) {
	cause := os.ErrPermission
	err := CrawlError("secret/file.go", cause)
	require.ErrorIs(t, err, os.ErrPermission)
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("indexing failed: %w", NotFound("gone.go"))
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindStore}))
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(QueryError("bad"))
	require.True(t, ok)
	assert.Equal(t, KindQuery, kind)

	kind, ok = KindOf(fmt.Errorf("wrapped: %w", CorruptionError("open", errors.New("boom"))))
	require.True(t, ok)
	assert.Equal(t, KindCorruption, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("a.go")))
	assert.False(t, IsNotFound(QueryError("bad")))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestIsCorruption(t *testing.T) {
	assert.True(t, IsCorruption(CorruptionError("open", errors.New("bad page"))))
	assert.True(t, IsCorruption(StoreError("get", errors.New("io"))))
	assert.False(t, IsCorruption(QueryError("bad")))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "crawl errors are per-file", err: CrawlError("a.go", errors.New("eperm")), want: false},
		{name: "tokenize errors are per-file", err: TokenizeError("b.bin", errors.New("binary")), want: false},
		{name: "store errors abort", err: StoreError("put", errors.New("io")), want: true},
		{name: "corruption aborts", err: CorruptionError("replace", errors.New("bad")), want: true},
		{name: "locked aborts", err: New(KindLocked, "index", "busy"), want: true},
		{name: "unclassified errors abort", err: errors.New("plain"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "store", KindStore.String())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "locked", KindLocked.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestWithPath(t *testing.T) {
	err := StoreError("put", errors.New("disk full")).WithPath("a/b.go")
	assert.Contains(t, err.Error(), "a/b.go")
}
