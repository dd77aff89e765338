package search

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/asheshgoplani/chat-archive/internal/logging"
)

// DefaultMaxDistance is the fuzzy edit distance used when Options leaves it unset.
const DefaultMaxDistance = 2

// maxLineBytes bounds a single scanned line.
const maxLineBytes = 16 * 1024 * 1024

// Options controls a search.
type Options struct {
	// CaseSensitive applies to snippet lines; token lookup is always case-folded.
	CaseSensitive bool

	// UseFuzzy expands each word to every token within MaxDistance edits.
	UseFuzzy bool

	// UseAnd intersects the per-word path sets; otherwise they are unioned.
	UseAnd bool

	// ContextLines on each side of a matching line.
	ContextLines int

	// MaxDistance bounds fuzzy expansion; <= 0 means DefaultMaxDistance.
	MaxDistance int

	Log *slog.Logger
}

// Snippet is one matching line with its surrounding context.
type Snippet struct {
	// Line is the 1-based number of the matching line.
	Line int `json:"line"`
	// Start is the 1-based number of the first context line.
	Start int      `json:"start"`
	Lines []string `json:"lines"`
}

// Text joins the snippet lines.
func (s Snippet) Text() string {
	return strings.Join(s.Lines, "\n")
}

// Result is one matching file.
type Result struct {
	Path     string    `json:"path"`
	Meta     FileMeta  `json:"meta"`
	Snippets []Snippet `json:"snippets"`
}

// Search finds files under root matching phrase. Words are split on
// whitespace and looked up case-folded; results are sorted by path. Files
// that cannot be reopened are logged and yield no snippets. The result set
// comes from the index alone; CaseSensitive only selects snippet lines.
func (idx *Index) Search(root, phrase string, opts Options) []Result {
	log := logging.Or(opts.Log, logging.CompIndex)
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return nil
	}

	maxDist := opts.MaxDistance
	if maxDist <= 0 {
		maxDist = DefaultMaxDistance
	}

	var matched map[string]struct{}
	var queried, expanded []string
	for i, w := range words {
		terms := []string{strings.ToLower(w)}
		if opts.UseFuzzy {
			terms = idx.Expand(terms[0], maxDist)
		}
		paths := make(map[string]struct{})
		for _, t := range terms {
			for _, p := range idx.Tokens[t] {
				paths[p] = struct{}{}
			}
		}

		queried = append(queried, w)
		for _, t := range terms {
			if !strings.EqualFold(t, w) {
				expanded = append(expanded, t)
			}
		}

		switch {
		case i == 0:
			matched = paths
		case opts.UseAnd:
			for p := range matched {
				if _, ok := paths[p]; !ok {
					delete(matched, p)
				}
			}
		default:
			for p := range paths {
				matched[p] = struct{}{}
			}
		}
	}

	ordered := make([]string, 0, len(matched))
	for p := range matched {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	results := make([]Result, 0, len(ordered))
	for _, rel := range ordered {
		full := filepath.Join(root, filepath.FromSlash(rel))
		snippets, err := snippetsFor(full, queried, expanded, opts.CaseSensitive, opts.ContextLines)
		if err != nil {
			log.Warn("snippet_open_failed", slog.String("path", full), slog.String("error", err.Error()))
		}
		results = append(results, Result{Path: rel, Meta: idx.Files[rel], Snippets: snippets})
	}
	return results
}

// Expand returns every indexed token within maxDist edits of word, sorted.
// word itself is included when indexed.
func (idx *Index) Expand(word string, maxDist int) []string {
	wl := len([]rune(word))
	var out []string
	for tok := range idx.Tokens {
		if d := wl - len([]rune(tok)); d > maxDist || -d > maxDist {
			continue
		}
		if Levenshtein(word, tok) <= maxDist {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// snippetsFor returns one snippet per line of path containing a query word
// or an expanded token. Expanded tokens come from the case-folded index and
// always match case-insensitively.
func snippetsFor(path string, words, expanded []string, caseSensitive bool, contextLines int) ([]Snippet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	folded := lowerAll(expanded)
	if !caseSensitive {
		folded = append(folded, lowerAll(words)...)
		words = nil
	}
	if contextLines < 0 {
		contextLines = 0
	}

	var out []Snippet
	for i, line := range lines {
		if !containsAny(line, words) && !containsAny(strings.ToLower(line), folded) {
			continue
		}
		start := max(i-contextLines, 0)
		end := min(i+contextLines+1, len(lines))
		out = append(out, Snippet{
			Line:  i + 1,
			Start: start + 1,
			Lines: append([]string(nil), lines[start:end]...),
		})
	}
	return out, nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Levenshtein is the rune-based edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n, m := len(ra), len(rb)
	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
		}
	}
	return d[n][m]
}
