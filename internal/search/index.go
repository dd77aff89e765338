// Package search builds and queries a token index over a corpus of chat
// logs. The index maps lower-case tokens to the relative paths containing
// them and is persisted as JSON.
package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrIndexNotFound is returned by Load when the index file does not exist.
var ErrIndexNotFound = errors.New("index not found")

// tickEpochOffset is 1970-01-01 expressed in 100ns ticks since 0001-01-01.
const tickEpochOffset = 621355968000000000

// Ticks converts t to 100ns ticks since 0001-01-01 UTC.
func Ticks(t time.Time) int64 {
	return t.UnixNano()/100 + tickEpochOffset
}

// FromTicks converts ticks back to a UTC time.
func FromTicks(ticks int64) time.Time {
	return time.Unix(0, (ticks-tickEpochOffset)*100).UTC()
}

// FileMeta describes one indexed file.
type FileMeta struct {
	Filename string  `json:"Filename"`
	Modified int64   `json:"Modified"`
	Category *string `json:"Category"`
	Preview  *string `json:"Preview"`
}

// ModTime returns Modified as a time.
func (m FileMeta) ModTime() time.Time {
	return FromTicks(m.Modified)
}

// Index maps tokens to sorted relative paths and paths to metadata.
// Relative paths always use forward slashes. An Index is not safe for
// concurrent mutation.
type Index struct {
	Tokens map[string][]string `json:"Tokens"`
	Files  map[string]FileMeta `json:"Files"`
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		Tokens: make(map[string][]string),
		Files:  make(map[string]FileMeta),
	}
}

// Paths returns every indexed relative path, sorted.
func (idx *Index) Paths() []string {
	paths := make([]string, 0, len(idx.Files))
	for p := range idx.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// TokenCount is the number of distinct tokens.
func (idx *Index) TokenCount() int {
	return len(idx.Tokens)
}

// Lookup returns the paths containing token. The token is matched as stored,
// i.e. lower-case.
func (idx *Index) Lookup(token string) []string {
	return idx.Tokens[token]
}

// put replaces the entry for rel with the given token set and metadata.
func (idx *Index) put(rel string, tokens map[string]struct{}, meta FileMeta) {
	idx.Remove(rel)
	idx.Files[rel] = meta
	for tok := range tokens {
		idx.Tokens[tok] = insertSorted(idx.Tokens[tok], rel)
	}
}

// Under returns the indexed paths inside directory dir, sorted.
func (idx *Index) Under(dir string) []string {
	prefix := strings.TrimSuffix(filepath.ToSlash(dir), "/") + "/"
	var out []string
	for rel := range idx.Files {
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

// Remove drops rel from the index. Tokens left without paths are deleted.
// It reports whether rel was indexed.
func (idx *Index) Remove(rel string) bool {
	if _, ok := idx.Files[rel]; !ok {
		return false
	}
	delete(idx.Files, rel)
	for tok, paths := range idx.Tokens {
		i := sort.SearchStrings(paths, rel)
		if i == len(paths) || paths[i] != rel {
			continue
		}
		if len(paths) == 1 {
			delete(idx.Tokens, tok)
			continue
		}
		idx.Tokens[tok] = append(paths[:i:i], paths[i+1:]...)
	}
	return true
}

func insertSorted(paths []string, p string) []string {
	i := sort.SearchStrings(paths, p)
	if i < len(paths) && paths[i] == p {
		return paths
	}
	paths = append(paths, "")
	copy(paths[i+1:], paths[i:])
	paths[i] = p
	return paths
}

// Save writes the index to path atomically (temp file, fsync, rename).
func (idx *Index) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(idx); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	_ = f.Sync()
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize index save: %w", err)
	}
	return nil
}

// Load reads an index written by Save.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrIndexNotFound)
		}
		return nil, err
	}
	idx := NewIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("failed to parse index %s: %w", path, err)
	}
	if idx.Tokens == nil {
		idx.Tokens = make(map[string][]string)
	}
	if idx.Files == nil {
		idx.Files = make(map[string]FileMeta)
	}
	for tok, paths := range idx.Tokens {
		if !sort.StringsAreSorted(paths) {
			sort.Strings(paths)
			idx.Tokens[tok] = paths
		}
	}
	return idx, nil
}
