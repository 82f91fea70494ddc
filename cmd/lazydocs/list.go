package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/river-now/lazyfield/internal/docs"
	"golang.org/x/term"
)

// list prints one line per document. On a terminal, lines are cut to its
// width.
func list(ctx context.Context, store *docs.Store, w io.Writer) error {
	entries, err := store.Index().Entries(ctx)
	if err != nil {
		return err
	}
	width := 0
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil {
			width = cols
		}
	}
	for _, line := range formatEntries(entries, width) {
		fmt.Fprintln(w, line)
	}
	return nil
}

// formatEntries lays entries out as "path  title  (n headings)". A width of
// zero means no limit.
func formatEntries(entries []docs.Entry, width int) []string {
	pathCol := 0
	for _, e := range entries {
		pathCol = max(pathCol, utf8.RuneCountInString(e.Path))
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		var desc string
		switch {
		case e.Error != "":
			desc = "error: " + e.Error
		case len(e.Headings) == 1:
			desc = e.Title + "  (1 heading)"
		default:
			desc = fmt.Sprintf("%s  (%d headings)", e.Title, len(e.Headings))
		}
		pad := strings.Repeat(" ", pathCol-utf8.RuneCountInString(e.Path))
		lines = append(lines, truncate(e.Path+pad+"  "+desc, width))
	}
	return lines
}

func truncate(s string, width int) string {
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	r := []rune(s)
	return string(r[:width-1]) + "…"
}
