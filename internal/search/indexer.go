package search

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/asheshgoplani/chat-archive/internal/classify"
	"github.com/asheshgoplani/chat-archive/internal/logging"
)

// ErrRootNotFound is returned when the corpus root does not exist.
var ErrRootNotFound = errors.New("corpus root not found")

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize returns the lower-case tokens of text in order of appearance.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(text, -1)
	for i, tok := range raw {
		raw[i] = strings.ToLower(tok)
	}
	return raw
}

// Indexer builds indexes over a corpus directory.
type Indexer struct {
	// Extensions is the lower-case, dot-prefixed allow-list.
	Extensions []string

	// Tags optionally supplies Category and Preview per document.
	Tags TagTable

	// Exclude lists absolute paths never indexed, e.g. the index file itself.
	Exclude []string

	Log *slog.Logger
}

// NewIndexer uses the index extensions of table.
func NewIndexer(table *classify.Table, log *slog.Logger) *Indexer {
	if table == nil {
		table = classify.Default()
	}
	return &Indexer{
		Extensions: table.IndexExtensions,
		Log:        log,
	}
}

func (ix *Indexer) log() *slog.Logger {
	return logging.Or(ix.Log, logging.CompIndex)
}

// Allows reports whether path is indexable.
func (ix *Indexer) Allows(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ix.Extensions {
		if ext == e {
			return !ix.excluded(path)
		}
	}
	return false
}

func (ix *Indexer) excluded(path string) bool {
	if len(ix.Exclude) == 0 {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, ex := range ix.Exclude {
		if exAbs, err := filepath.Abs(ex); err == nil && (exAbs == abs || exAbs+".tmp" == abs) {
			return true
		}
	}
	return false
}

// Build walks root recursively and indexes every allowed file. Unreadable
// files are logged and skipped. Cancellation is checked between files.
func (ix *Indexer) Build(ctx context.Context, root string) (*Index, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("build index %s: %w", root, ErrRootNotFound)
	}

	idx := NewIndex()
	skipped := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			ix.log().Warn("walk_error", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || !ix.Allows(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := relPath(root, path)
		if err != nil {
			return nil
		}
		if err := ix.indexFile(idx, path, rel, nil); err != nil {
			skipped++
			ix.log().Warn("file_unreadable", slog.String("path", path), slog.String("error", err.Error()))
			logging.Aggregate(logging.CompIndex, "file_unreadable", slog.String("root", root))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ix.log().Info("index_built",
		slog.String("root", root),
		slog.Int("files", len(idx.Files)),
		slog.Int("tokens", len(idx.Tokens)),
		slog.Int("skipped", skipped))
	return idx, nil
}

// Update re-indexes a single file given by its path relative to root. A file
// that no longer exists is removed from the index. Category and Preview
// survive when the tag table has nothing for the file.
func (ix *Indexer) Update(idx *Index, root, rel string) error {
	rel = filepath.ToSlash(rel)
	var keep *FileMeta
	if prev, ok := idx.Files[rel]; ok {
		keep = &prev
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if _, err := os.Stat(full); errors.Is(err, os.ErrNotExist) {
		idx.Remove(rel)
		return nil
	}
	return ix.indexFile(idx, full, rel, keep)
}

func (ix *Indexer) indexFile(idx *Index, full, rel string, keep *FileMeta) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	tokens := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		for _, tok := range Tokenize(sc.Text()) {
			tokens[tok] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	meta := FileMeta{
		Filename: filepath.Base(full),
		Modified: Ticks(info.ModTime()),
	}
	if tag, ok := ix.Tags.Lookup(rel); ok {
		meta.Category = tag.Category
		meta.Preview = tag.Preview
	} else if keep != nil {
		meta.Category = keep.Category
		meta.Preview = keep.Preview
	}
	idx.put(rel, tokens, meta)
	return nil
}

// relPath returns path relative to root with forward slashes.
func relPath(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
