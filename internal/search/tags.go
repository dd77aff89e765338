package search

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
)

// Tag enriches one document with a category and a preview line.
type Tag struct {
	Document string  `json:"Document"`
	Category *string `json:"Category"`
	Preview  *string `json:"Preview"`
}

// TagTable maps a document key (relative path or bare filename) to its tag.
type TagTable map[string]Tag

// LoadTagTable reads a JSON array of {Document, Category, Preview} objects.
// Unknown fields are ignored; entries without a Document are dropped.
func LoadTagTable(p string) (TagTable, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var tags []Tag
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("failed to parse tag map %s: %w", p, err)
	}
	table := make(TagTable, len(tags))
	for _, t := range tags {
		key := normalizeDoc(t.Document)
		if key == "" {
			continue
		}
		table[key] = t
	}
	return table, nil
}

// Lookup finds the tag for rel, trying the relative path first and then
// the filename.
func (t TagTable) Lookup(rel string) (Tag, bool) {
	if len(t) == 0 {
		return Tag{}, false
	}
	if tag, ok := t[normalizeDoc(rel)]; ok {
		return tag, true
	}
	tag, ok := t[path.Base(normalizeDoc(rel))]
	return tag, ok
}

func normalizeDoc(doc string) string {
	doc = strings.TrimSpace(strings.ReplaceAll(doc, "\\", "/"))
	return strings.TrimPrefix(doc, "./")
}
