package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/asheshgoplani/chat-archive/internal/logging"
)

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func newTestIndexer() *Indexer {
	return NewIndexer(nil, logging.Discard())
}

func resultPaths(rs []Result) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Path)
	}
	return out
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"amanda", "said", "ça", "va", "2024"}, Tokenize("Amanda said: Ça va? (2024)"))
	assert.Empty(t, Tokenize("  -- ... "))
}

func TestBuildIndex(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"a.txt":          "Amanda lit the flame",
		"sub/b.md":       "The flame flickered",
		"skip.pdf":       "amanda",
		"sub/deep/c.log": "nothing here",
	})

	idx, err := newTestIndexer().Build(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "sub/b.md", "sub/deep/c.log"}, idx.Paths())
	assert.Equal(t, []string{"a.txt", "sub/b.md"}, idx.Lookup("flame"))
	assert.Equal(t, []string{"a.txt"}, idx.Lookup("amanda"))
	assert.Nil(t, idx.Lookup("Amanda"))

	meta := idx.Files["sub/b.md"]
	assert.Equal(t, "b.md", meta.Filename)
	assert.Nil(t, meta.Category)
	info, err := os.Stat(filepath.Join(root, "sub", "b.md"))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().UnixNano()/100, meta.ModTime().UnixNano()/100)
}

func TestBuildMissingRoot(t *testing.T) {
	_, err := newTestIndexer().Build(context.Background(), filepath.Join(t.TempDir(), "none"))
	assert.True(t, errors.Is(err, ErrRootNotFound))
}

func TestBuildExcludesOutput(t *testing.T) {
	root := writeCorpus(t, map[string]string{"a.txt": "hello", "index.json": `{"Tokens":{}}`})
	ix := newTestIndexer()
	ix.Exclude = []string{filepath.Join(root, "index.json")}

	idx, err := ix.Build(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, idx.Paths())
}

func TestTicks(t *testing.T) {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(621355968000000000), Ticks(epoch))

	ts := time.Date(2024, 2, 4, 10, 15, 30, 123456700, time.UTC)
	assert.True(t, ts.Equal(FromTicks(Ticks(ts))))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := writeCorpus(t, map[string]string{"a.txt": "amanda flame", "b.txt": "flame"})
	idx, err := newTestIndexer().Build(context.Background(), root)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "idx", "index.json")
	require.NoError(t, idx.Save(out))
	_, err = os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, idx.Tokens, loaded.Tokens)
	assert.Equal(t, idx.Files, loaded.Files)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Tokens"`)
	assert.Contains(t, string(raw), `"Filename":"a.txt"`)
	assert.Contains(t, string(raw), `"Category":null`)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestSearchAndOr(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"one.txt": "first line\nAmanda lit the flame\nlast line",
		"two.txt": "the flame alone",
	})
	idx, err := newTestIndexer().Build(context.Background(), root)
	require.NoError(t, err)

	and := idx.Search(root, "amanda flame", Options{UseAnd: true})
	assert.Equal(t, []string{"one.txt"}, resultPaths(and))

	or := idx.Search(root, "amanda flame", Options{})
	assert.Equal(t, []string{"one.txt", "two.txt"}, resultPaths(or))

	assert.Empty(t, idx.Search(root, "   ", Options{}))
	assert.Empty(t, idx.Search(root, "nobody", Options{}))
}

func TestSearchSnippets(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"one.txt": "l1\nl2\nAmanda here\nl4\nl5\nl6\namanda again",
	})
	idx, err := newTestIndexer().Build(context.Background(), root)
	require.NoError(t, err)

	res := idx.Search(root, "amanda", Options{ContextLines: 1})
	require.Len(t, res, 1)
	require.Len(t, res[0].Snippets, 2)

	s := res[0].Snippets[0]
	assert.Equal(t, 3, s.Line)
	assert.Equal(t, 2, s.Start)
	assert.Equal(t, []string{"l2", "Amanda here", "l4"}, s.Lines)

	last := res[0].Snippets[1]
	assert.Equal(t, 7, last.Line)
	assert.Equal(t, "l6\namanda again", last.Text())

	exact := idx.Search(root, "Amanda", Options{CaseSensitive: true})
	require.Len(t, exact, 1)
	require.Len(t, exact[0].Snippets, 1)
	assert.Equal(t, 3, exact[0].Snippets[0].Line)

	// the index still matches; case only narrows the snippet lines
	upper := idx.Search(root, "AMANDA", Options{CaseSensitive: true})
	require.Len(t, upper, 1)
	assert.Equal(t, "one.txt", upper[0].Path)
	assert.Empty(t, upper[0].Snippets)
}

func TestSearchFuzzyCaseSensitive(t *testing.T) {
	root := writeCorpus(t, map[string]string{"a.txt": "Amanda lit the ember"})
	idx, err := newTestIndexer().Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, idx.Search(root, "Amanda", Options{CaseSensitive: true}), 1)
	require.Len(t, idx.Search(root, "Amandq", Options{UseFuzzy: true}), 1)

	res := idx.Search(root, "Amandq", Options{UseFuzzy: true, CaseSensitive: true})
	require.Len(t, res, 1)
	require.Len(t, res[0].Snippets, 1)
	assert.Equal(t, "Amanda lit the ember", res[0].Snippets[0].Text())
}

func TestSearchFuzzyDistance(t *testing.T) {
	root := writeCorpus(t, map[string]string{"a.txt": "amanda arrived"})
	idx, err := newTestIndexer().Build(context.Background(), root)
	require.NoError(t, err)

	hit := idx.Search(root, "amandq", Options{UseFuzzy: true, MaxDistance: 2})
	require.Len(t, hit, 1)
	require.NotEmpty(t, hit[0].Snippets)

	// three edits away
	miss := idx.Search(root, "amaxyz", Options{UseFuzzy: true, MaxDistance: 2})
	assert.Empty(t, miss)

	assert.Empty(t, idx.Search(root, "amandq", Options{}))
}

func TestSearchUnreadableFileYieldsNoSnippets(t *testing.T) {
	root := writeCorpus(t, map[string]string{"a.txt": "amanda"})
	idx, err := newTestIndexer().Build(context.Background(), root)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))

	res := idx.Search(root, "amanda", Options{Log: logging.Discard()})
	require.Len(t, res, 1)
	assert.Empty(t, res[0].Snippets)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"amanda", "amandq", 1},
		{"flame", "flame", 0},
		{"ça", "ca", 1},
		{"🔥x", "x", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestLevenshteinMetric(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.StringMatching(`[a-dé]{0,8}`).Draw(t, "a")
		b := rapid.StringMatching(`[a-dé]{0,8}`).Draw(t, "b")
		c := rapid.StringMatching(`[a-dé]{0,8}`).Draw(t, "c")

		ab := Levenshtein(a, b)
		if ab != Levenshtein(b, a) {
			t.Fatalf("not symmetric for %q %q", a, b)
		}
		if (ab == 0) != (a == b) {
			t.Fatalf("identity violated for %q %q", a, b)
		}
		if ab > Levenshtein(a, c)+Levenshtein(c, b) {
			t.Fatalf("triangle inequality violated for %q %q %q", a, b, c)
		}
		la, lb := len([]rune(a)), len([]rune(b))
		if ab < max(la, lb)-min(la, lb) || ab > max(la, lb) {
			t.Fatalf("distance %d out of bounds for %q %q", ab, a, b)
		}
	})
}

func TestTagTable(t *testing.T) {
	dir := t.TempDir()
	tagPath := filepath.Join(dir, "tags.json")
	require.NoError(t, os.WriteFile(tagPath, []byte(`[
		{"Document": "sub/b.md", "Category": "ritual", "Preview": "The flame", "Extra": 1},
		{"Document": "a.txt", "Category": "threshold", "Preview": null},
		{"Document": ""}
	]`), 0o644))

	tags, err := LoadTagTable(tagPath)
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	root := writeCorpus(t, map[string]string{
		"sub/b.md":    "the flame",
		"other/a.txt": "amanda",
		"c.txt":       "plain",
	})
	ix := newTestIndexer()
	ix.Tags = tags
	idx, err := ix.Build(context.Background(), root)
	require.NoError(t, err)

	b := idx.Files["sub/b.md"]
	require.NotNil(t, b.Category)
	assert.Equal(t, "ritual", *b.Category)
	assert.Equal(t, "The flame", *b.Preview)

	// falls back to the bare filename
	a := idx.Files["other/a.txt"]
	require.NotNil(t, a.Category)
	assert.Equal(t, "threshold", *a.Category)
	assert.Nil(t, a.Preview)

	assert.Nil(t, idx.Files["c.txt"].Category)
}

func TestLoadTagTableInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tags.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"not": "an array"}`), 0o644))
	_, err := LoadTagTable(p)
	assert.Error(t, err)
}

func TestUpdateAndRemove(t *testing.T) {
	root := writeCorpus(t, map[string]string{"a.txt": "amanda", "b.txt": "amanda flame"})
	ix := newTestIndexer()
	idx, err := ix.Build(context.Background(), root)
	require.NoError(t, err)
	cat := "kept"
	meta := idx.Files["a.txt"]
	meta.Category = &cat
	idx.Files["a.txt"] = meta

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("ember only"), 0o644))
	require.NoError(t, ix.Update(idx, root, "a.txt"))
	assert.Equal(t, []string{"b.txt"}, idx.Lookup("amanda"))
	assert.Equal(t, []string{"a.txt"}, idx.Lookup("ember"))
	require.NotNil(t, idx.Files["a.txt"].Category)
	assert.Equal(t, "kept", *idx.Files["a.txt"].Category)

	assert.True(t, idx.Remove("b.txt"))
	assert.False(t, idx.Remove("b.txt"))
	assert.Nil(t, idx.Lookup("flame"))
	assert.Nil(t, idx.Lookup("amanda"))

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	require.NoError(t, ix.Update(idx, root, "a.txt"))
	assert.Empty(t, idx.Files)
	assert.Empty(t, idx.Tokens)
}

func TestFindFiles(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"threshold_2024-02-04.txt": "x",
		"notes/phoenix_codex.md":   "y",
		"misc.log":                 "z",
	})
	idx, err := newTestIndexer().Build(context.Background(), root)
	require.NoError(t, err)

	matches := idx.FindFiles("phxcdx")
	require.NotEmpty(t, matches)
	assert.Equal(t, "notes/phoenix_codex.md", matches[0].Path)
	assert.Equal(t, "phoenix_codex.md", matches[0].Meta.Filename)

	assert.Empty(t, idx.FindFiles(""))
	assert.Empty(t, idx.FindFiles("qqqq"))
}
