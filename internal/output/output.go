// Package output provides plain-text CLI output formatting. Color is
// enabled only when writing to a real terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ANSI codes used when the destination is a TTY.
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorDim   = "\033[2m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
)

// Writer formats CLI output.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer, enabling color when out is a terminal.
func New(out io.Writer) *Writer {
	useColor := false
	if f, ok := out.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Writer{out: out, useColor: useColor}
}

// Println prints one line. Write errors to a console are ignored.
func (w *Writer) Println(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

// Printf prints one formatted line.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

// Heading prints a bold line.
func (w *Writer) Heading(msg string) {
	w.Println(w.color(colorBold, msg))
}

// Success prints a green confirmation line.
func (w *Writer) Success(format string, args ...any) {
	w.Println(w.color(colorGreen, fmt.Sprintf(format, args...)))
}

// Error prints a red error line.
func (w *Writer) Error(format string, args ...any) {
	w.Println(w.color(colorRed, fmt.Sprintf(format, args...)))
}

// Location prints a cyan path:line reference.
func (w *Writer) Location(format string, args ...any) {
	w.Println(w.color(colorCyan, fmt.Sprintf(format, args...)))
}

// Dim prints a dimmed context line.
func (w *Writer) Dim(msg string) {
	w.Println(w.color(colorDim, msg))
}

// Highlight wraps spans of a line in bold, merging overlaps. Spans are
// (start, end) byte offsets, assumed sorted by start.
func (w *Writer) Highlight(text string, spans [][2]int) string {
	if !w.useColor || len(spans) == 0 {
		return text
	}
	var b strings.Builder
	pos := 0
	for _, sp := range spans {
		start, end := sp[0], sp[1]
		if start < pos {
			start = pos
		}
		if start >= end || end > len(text) {
			continue
		}
		b.WriteString(text[pos:start])
		b.WriteString(colorBold)
		b.WriteString(text[start:end])
		b.WriteString(colorReset)
		pos = end
	}
	b.WriteString(text[pos:])
	return b.String()
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) color(code, msg string) string {
	if !w.useColor {
		return msg
	}
	return code + msg + colorReset
}
