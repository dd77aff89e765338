package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/asheshgoplani/chat-archive/internal/entries"
)

const titleWidth = 48

func (a *app) handleExtract(ctx context.Context, args []string) int {
	pos, lit, err := parseLiterals(args, 1, "unique")
	if err != nil {
		return a.out.Usage("extract <file|directory> [unique]")
	}
	path := pos[0]
	x := entries.NewExtractor(a.cfg.Table(), nil)

	var res entries.FolderResult
	info, err := os.Stat(path)
	switch {
	case err != nil:
		a.out.Error(err.Error(), ErrCodeNotFound)
		return exitFailure
	case info.IsDir():
		res, err = x.ExtractFolder(ctx, path)
		if errors.Is(err, entries.ErrDirNotFound) {
			a.out.Error(err.Error(), ErrCodeNotFound)
			return exitFailure
		}
	default:
		res.Entries, err = x.ExtractFile(path)
		if err != nil {
			a.out.Error(err.Error(), ErrCodeNotFound)
			return exitFailure
		}
		res.Files = 1
	}

	if lit["unique"] {
		res.Entries = entries.DedupeBySequence(res.Entries)
	}
	a.out.Print(formatEntries(res), res)

	if err != nil {
		// cancelled mid-folder; the partial result was printed
		a.out.Error(err.Error(), ErrCodeInvalidOperation)
		return exitFailure
	}
	return exitOK
}

func formatEntries(res entries.FolderResult) string {
	var b strings.Builder
	if len(res.Entries) == 0 {
		fmt.Fprintf(&b, "No entries found in %d file(s).\n", res.Files)
	} else {
		rows := [][]string{{"KIND", "#", "TITLE", "TIMESTAMP", "DOMAIN"}}
		for _, e := range res.Entries {
			seq := "-"
			if e.Sequence > 0 {
				seq = fmt.Sprintf("%d", e.Sequence)
			}
			ts := dimStyle.Render("unknown")
			if e.HasTimestamp() {
				ts = e.Timestamp.Format("2006-01-02 15:04")
			}
			domain := ""
			if e.DomainRelated {
				domain = successSymbol
			}
			rows = append(rows, []string{e.Kind.String(), seq, truncate(e.Title, titleWidth), ts, domain})
		}
		b.WriteString(table(rows))
		fmt.Fprintf(&b, "\n%d entr%s in %d file(s)\n", len(res.Entries), plural(len(res.Entries), "y", "ies"), res.Files)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(&b, "%s %s: %s\n", errorStyle.Render(errorSymbol), FormatPath(f.Path), f.Err)
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
