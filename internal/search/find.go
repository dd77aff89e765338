package search

import (
	"github.com/sahilm/fuzzy"
)

// FileMatch is one hit of the filename finder.
type FileMatch struct {
	Path           string   `json:"path"`
	Meta           FileMeta `json:"meta"`
	Score          int      `json:"score"`
	MatchedIndexes []int    `json:"matched_indexes"`
}

// fileSource implements fuzzy.Source over indexed relative paths.
type fileSource []string

func (s fileSource) String(i int) string { return s[i] }
func (s fileSource) Len() int            { return len(s) }

// FindFiles fuzzy-matches pattern against indexed relative paths, best
// match first.
func (idx *Index) FindFiles(pattern string) []FileMatch {
	if pattern == "" {
		return nil
	}
	source := fileSource(idx.Paths())
	matches := fuzzy.FindFrom(pattern, source)

	out := make([]FileMatch, 0, len(matches))
	for _, m := range matches {
		rel := source[m.Index]
		out = append(out, FileMatch{
			Path:           rel,
			Meta:           idx.Files[rel],
			Score:          m.Score,
			MatchedIndexes: m.MatchedIndexes,
		})
	}
	return out
}
