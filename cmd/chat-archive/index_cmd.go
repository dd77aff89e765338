package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/chat-archive/internal/search"
	"github.com/asheshgoplani/chat-archive/internal/statedb"
)

// newIndexer builds an indexer from config, loading the tag table when one
// is configured. A broken tag table is logged and ignored.
func (a *app) newIndexer() *search.Indexer {
	ix := search.NewIndexer(a.cfg.Table(), nil)
	if p := a.cfg.Index.TagMap; p != "" {
		tags, err := search.LoadTagTable(p)
		if err != nil {
			a.log.Warn("tag_map_unreadable", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			ix.Tags = tags
		}
	}
	return ix
}

func (a *app) handleIndex(ctx context.Context, args []string) int {
	if len(args) < 1 || len(args) > 2 {
		return a.out.Usage("index <directory> [out]")
	}
	root := args[0]
	out := a.cfg.GetIndexFile()
	if len(args) == 2 {
		out = args[1]
	}

	ix := a.newIndexer()
	ix.Exclude = append(ix.Exclude, out)
	idx, err := ix.Build(ctx, root)
	if err != nil {
		code := ErrCodeInvalidOperation
		if errors.Is(err, search.ErrRootNotFound) {
			code = ErrCodeNotFound
		}
		a.out.Error(err.Error(), code)
		return exitFailure
	}
	if err := idx.Save(out); err != nil {
		a.out.Error(fmt.Sprintf("save index: %v", err), ErrCodeInvalidOperation)
		return exitFailure
	}

	if db := a.state(); db != nil {
		if res, err := statedb.ImportIndexJSON(out, db); err != nil {
			a.log.Warn("index_mirror_failed", slog.String("error", err.Error()))
		} else {
			a.log.Debug("index_mirrored", slog.Int("files", res.Files), slog.Bool("skipped", res.Skipped))
		}
		_ = db.Close()
	}

	a.out.Success(
		fmt.Sprintf("indexed %d file(s), %d token(s) → %s", len(idx.Files), idx.TokenCount(), FormatPath(out)),
		map[string]interface{}{
			"root":   root,
			"out":    out,
			"files":  len(idx.Files),
			"tokens": idx.TokenCount(),
		})
	return exitOK
}

// loadIndex reads the JSON index at path. When the file is missing the
// ledger's mirror is used if it holds any files.
func (a *app) loadIndex(path string) (*search.Index, error) {
	idx, err := search.Load(path)
	if err == nil || !errors.Is(err, search.ErrIndexNotFound) {
		return idx, err
	}
	db := a.state()
	if db == nil {
		return nil, err
	}
	defer db.Close()
	if n, cerr := db.IndexFileCount(); cerr != nil || n == 0 {
		return nil, err
	}
	a.log.Info("index_from_state", slog.String("missing", path))
	return db.LoadIndex()
}

// searchArgs are the parsed arguments of the search command.
type searchArgs struct {
	index  string
	root   string
	phrase string
	opts   search.Options
}

// parseSearchArgs reads option words from the end of the argument list so a
// phrase may itself contain them.
func parseSearchArgs(args []string, contextLines, maxDistance int) (searchArgs, error) {
	if len(args) < 3 {
		return searchArgs{}, fmt.Errorf("expected index, root and phrase")
	}
	sa := searchArgs{
		index: args[0],
		root:  args[1],
		opts: search.Options{
			UseAnd:       true,
			ContextLines: contextLines,
			MaxDistance:  maxDistance,
		},
	}

	words := args[2:]
	for len(words) > 1 {
		last := strings.ToLower(words[len(words)-1])
		switch {
		case last == "and":
			sa.opts.UseAnd = true
		case last == "or":
			sa.opts.UseAnd = false
		case last == "fuzzy":
			sa.opts.UseFuzzy = true
		case last == "case":
			sa.opts.CaseSensitive = true
		case strings.HasPrefix(last, "context="):
			n, err := strconv.Atoi(strings.TrimPrefix(last, "context="))
			if err != nil || n < 0 {
				return searchArgs{}, fmt.Errorf("invalid %q", words[len(words)-1])
			}
			sa.opts.ContextLines = n
		default:
			sa.phrase = strings.Join(words, " ")
			return sa, nil
		}
		words = words[:len(words)-1]
	}
	sa.phrase = strings.Join(words, " ")
	return sa, nil
}

func (a *app) handleSearch(args []string) int {
	sa, err := parseSearchArgs(args, a.cfg.GetContextLines(), a.cfg.GetMaxDistance())
	if err != nil {
		return a.out.Usage("search <index> <root> <phrase...> [and|or] [fuzzy] [case] [context=N]")
	}

	idx, err := a.loadIndex(sa.index)
	if err != nil {
		a.out.Error(err.Error(), ErrCodeNotFound)
		return exitFailure
	}

	results := idx.Search(sa.root, sa.phrase, sa.opts)
	a.out.Print(formatResults(sa.phrase, results), results)
	return exitOK
}

func formatResults(phrase string, results []search.Result) string {
	var b strings.Builder
	if len(results) == 0 {
		fmt.Fprintf(&b, "No matches for %q.\n", phrase)
		return b.String()
	}
	for _, r := range results {
		header := r.Path
		if r.Meta.Category != nil && *r.Meta.Category != "" {
			header += dimStyle.Render(" [" + *r.Meta.Category + "]")
		}
		fmt.Fprintf(&b, "%s %s\n", headerStyle.Render(bulletSymbol), header)
		if len(r.Snippets) == 0 {
			fmt.Fprintf(&b, "    %s\n", dimStyle.Render("(no snippet)"))
		}
		for i, s := range r.Snippets {
			if i > 0 {
				fmt.Fprintf(&b, "    %s\n", dimStyle.Render("--"))
			}
			for j, line := range s.Lines {
				n := s.Start + j
				num := fmt.Sprintf("%5d", n)
				if n == s.Line {
					fmt.Fprintf(&b, "%s: %s\n", matchStyle.Render(num), line)
				} else {
					fmt.Fprintf(&b, "%s  %s\n", dimStyle.Render(num), line)
				}
			}
		}
	}
	fmt.Fprintf(&b, "\n%d file(s) matched\n", len(results))
	return b.String()
}

func (a *app) handleFind(args []string) int {
	if len(args) < 2 {
		return a.out.Usage("find <index> <pattern>")
	}
	idx, err := a.loadIndex(args[0])
	if err != nil {
		a.out.Error(err.Error(), ErrCodeNotFound)
		return exitFailure
	}

	pattern := strings.Join(args[1:], " ")
	matches := idx.FindFiles(pattern)
	a.out.Print(formatMatches(pattern, matches), matches)
	return exitOK
}

func formatMatches(pattern string, matches []search.FileMatch) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No files match %q.\n", pattern)
	}
	rows := [][]string{{"SCORE", "PATH", "MODIFIED"}}
	for _, m := range matches {
		rows = append(rows, []string{
			strconv.Itoa(m.Score),
			highlight(m.Path, m.MatchedIndexes),
			m.Meta.ModTime().Local().Format("2006-01-02 15:04"),
		})
	}
	return table(rows)
}

// highlight styles the bytes of s at the given indexes.
func highlight(s string, indexes []int) string {
	if len(indexes) == 0 {
		return s
	}
	hit := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		hit[i] = true
	}
	var b strings.Builder
	for i, r := range s {
		if hit[i] {
			b.WriteString(matchStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (a *app) handleWatch(ctx context.Context, args []string) int {
	if len(args) < 1 || len(args) > 2 {
		return a.out.Usage("watch <directory> [out]")
	}
	root := args[0]
	out := a.cfg.GetIndexFile()
	if len(args) == 2 {
		out = args[1]
	}

	ix := a.newIndexer()
	ix.Exclude = append(ix.Exclude, out)
	idx, err := ix.Build(ctx, root)
	if err != nil {
		code := ErrCodeInvalidOperation
		if errors.Is(err, search.ErrRootNotFound) {
			code = ErrCodeNotFound
		}
		a.out.Error(err.Error(), code)
		return exitFailure
	}
	if err := idx.Save(out); err != nil {
		a.out.Error(fmt.Sprintf("save index: %v", err), ErrCodeInvalidOperation)
		return exitFailure
	}

	ws := a.cfg.GetWatchSettings()
	w := search.NewWatcher(ix, idx, root, out)
	w.Debounce = time.Duration(ws.DebounceMS) * time.Millisecond
	w.Limiter = rate.NewLimiter(rate.Limit(ws.RatePerSec), ws.Burst)

	db := a.state()
	if db != nil {
		defer db.Close()
		if err := db.SaveIndex(idx); err != nil {
			a.log.Warn("index_mirror_failed", slog.String("error", err.Error()))
		}
	}
	w.OnBatch = func(b search.Batch) {
		if db != nil {
			w.View(func(idx *search.Index) {
				if err := db.SaveIndex(idx); err != nil {
					a.log.Warn("index_mirror_failed", slog.String("error", err.Error()))
				}
			})
		}
		a.out.Print(formatBatch(b), b)
	}

	a.out.Success(fmt.Sprintf("watching %s (%d files) → %s, interrupt to stop",
		FormatPath(root), len(idx.Files), FormatPath(out)), map[string]interface{}{
		"root":  root,
		"out":   out,
		"files": len(idx.Files),
	})
	if err := w.Run(ctx); err != nil {
		a.out.Error(err.Error(), ErrCodeInvalidOperation)
		return exitFailure
	}
	return exitOK
}

func formatBatch(b search.Batch) string {
	var parts []string
	for _, p := range b.Updated {
		parts = append(parts, "+"+p)
	}
	for _, p := range b.Removed {
		parts = append(parts, "-"+p)
	}
	stamp := dimStyle.Render(time.Now().Format("15:04:05"))
	line := fmt.Sprintf("%s %s %s", stamp, bulletSymbol, strings.Join(parts, " "))
	if b.Err != nil {
		line += " " + errorStyle.Render(errorSymbol+" "+b.Err.Error())
	}
	return line + "\n"
}
