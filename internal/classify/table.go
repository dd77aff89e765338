// Package classify holds the single, versioned classification table shared by
// the extractor, the curator and the indexer. Every keyword list used to
// recognize entries, domain relevance or archive files lives here.
package classify

import (
	"path/filepath"
	"strings"
)

// Version identifies the shape and content of the default table. Bump it
// whenever a list changes so persisted results can be traced to a table.
const Version = 3

// Canonical entry type names. The entries package maps these onto its Kind enum.
const (
	TypeThreshold      = "Threshold"
	TypeWhisperedFlame = "WhisperedFlame"
	TypeFieldPulse     = "FieldPulse"
	TypeSymbolicMoment = "SymbolicMoment"
	TypeServitorLog    = "ServitorLog"
	TypePhoenixCodex   = "PhoenixCodex"
)

// Table is an immutable-by-convention set of classification lists.
// Use Clone before modifying a shared table.
type Table struct {
	Version int

	// Anchors prefix numbered entries, e.g. "🔥 Threshold 54: Ember of Return".
	Anchors []string

	// TypeAliases maps lower-case type names as written in text to canonical type names.
	TypeAliases map[string]string

	// DomainKeywords flag an entry as domain related (case-insensitive substring).
	DomainKeywords []string

	// SectionPhrases mark blank-line bounded sections as entries.
	SectionPhrases []string

	// ArchiveNameKeywords is the loose filename filter used by the curator.
	// An empty list accepts every file.
	ArchiveNameKeywords []string

	// ExtractExtensions and IndexExtensions are lower-case, dot-prefixed allow-lists.
	ExtractExtensions []string
	IndexExtensions   []string
}

// Default returns a fresh copy of the built-in table.
func Default() *Table {
	return &Table{
		Version: Version,
		Anchors: []string{"🔥", "🕯️", "🕯", "✨", "🌀", "📜", "🜂", "🪶"},
		TypeAliases: map[string]string{
			"threshold":       TypeThreshold,
			"whispered flame": TypeWhisperedFlame,
			"whisperedflame":  TypeWhisperedFlame,
			"flame":           TypeWhisperedFlame,
			"field pulse":     TypeFieldPulse,
			"fieldpulse":      TypeFieldPulse,
			"pulse":           TypeFieldPulse,
			"symbolic moment": TypeSymbolicMoment,
			"symbolicmoment":  TypeSymbolicMoment,
			"moment":          TypeSymbolicMoment,
			"servitor log":    TypeServitorLog,
			"servitorlog":     TypeServitorLog,
			"servitor":        TypeServitorLog,
			"phoenix codex":   TypePhoenixCodex,
			"phoenixcodex":    TypePhoenixCodex,
			"codex":           TypePhoenixCodex,
		},
		DomainKeywords: []string{
			"amanda", "phoenix", "flame", "ember", "threshold", "ritual",
			"servitor", "codex", "sigil", "vow", "whisper", "field pulse",
		},
		SectionPhrases: []string{
			"archived as", "logged as", "logged in the codex",
			"entered into the archive", "recorded as", "archived in",
		},
		ArchiveNameKeywords: []string{
			"chat", "conversation", "export", "log", "session", "transcript",
			"threshold", "phoenix", "codex", "flame", "amanda", "ritual",
		},
		ExtractExtensions: []string{".txt", ".md", ".json"},
		IndexExtensions:   []string{".txt", ".md", ".json", ".log", ".html"},
	}
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	c := *t
	c.Anchors = append([]string(nil), t.Anchors...)
	c.DomainKeywords = append([]string(nil), t.DomainKeywords...)
	c.SectionPhrases = append([]string(nil), t.SectionPhrases...)
	c.ArchiveNameKeywords = append([]string(nil), t.ArchiveNameKeywords...)
	c.ExtractExtensions = append([]string(nil), t.ExtractExtensions...)
	c.IndexExtensions = append([]string(nil), t.IndexExtensions...)
	c.TypeAliases = make(map[string]string, len(t.TypeAliases))
	for k, v := range t.TypeAliases {
		c.TypeAliases[k] = v
	}
	return &c
}

// LookupType resolves a type name as written in text (any case, any internal
// spacing) to its canonical name.
func (t *Table) LookupType(name string) (string, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	canon, ok := t.TypeAliases[key]
	return canon, ok
}

// IsDomainRelated reports whether text contains any domain keyword.
func (t *Table) IsDomainRelated(text string) bool {
	return containsAnyFold(text, t.DomainKeywords)
}

// HasSectionPhrase reports whether text contains any section marker phrase.
func (t *Table) HasSectionPhrase(text string) bool {
	return containsAnyFold(text, t.SectionPhrases)
}

// MatchesArchiveName applies the loose filename filter. It favors recall:
// any keyword anywhere in the base name is enough.
func (t *Table) MatchesArchiveName(name string) bool {
	if len(t.ArchiveNameKeywords) == 0 {
		return true
	}
	return containsAnyFold(filepath.Base(name), t.ArchiveNameKeywords)
}

// AllowsExtract reports whether path has an extraction extension.
func (t *Table) AllowsExtract(path string) bool {
	return hasExt(path, t.ExtractExtensions)
}

// AllowsIndex reports whether path has an index extension.
func (t *Table) AllowsIndex(path string) bool {
	return hasExt(path, t.IndexExtensions)
}

// NormalizeExtensions lower-cases and dot-prefixes each extension, dropping blanks.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

func containsAnyFold(text string, needles []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
