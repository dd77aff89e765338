// Package entries recognizes typed structured records ("entries") embedded in
// chat text.
package entries

import (
	"time"

	"github.com/asheshgoplani/chat-archive/internal/classify"
)

// Kind is the closed set of entry variants.
type Kind int

const (
	// KindUnknown is an anchored entry whose type name is not in the vocabulary.
	KindUnknown Kind = iota
	KindThreshold
	KindWhisperedFlame
	KindFieldPulse
	KindSymbolicMoment
	KindServitorLog
	KindPhoenixCodex
	// KindGeneric is a fixed-phrase section entry with no type name.
	KindGeneric
)

var kindNames = [...]string{
	KindUnknown:        "Unknown",
	KindThreshold:      classify.TypeThreshold,
	KindWhisperedFlame: classify.TypeWhisperedFlame,
	KindFieldPulse:     classify.TypeFieldPulse,
	KindSymbolicMoment: classify.TypeSymbolicMoment,
	KindServitorLog:    classify.TypeServitorLog,
	KindPhoenixCodex:   classify.TypePhoenixCodex,
	KindGeneric:        "Generic",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// MarshalText renders the kind name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind maps a canonical type name to its Kind. Anything else is KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return Kind(k)
		}
	}
	return KindUnknown
}

// Family identifies which pattern family produced an entry.
type Family int

const (
	FamilyAnchor Family = iota
	FamilySection
)

func (f Family) String() string {
	if f == FamilySection {
		return "section"
	}
	return "anchor"
}

// MarshalText renders the family name in JSON output.
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UntitledEntry is the title of section entries without a usable first line.
const UntitledEntry = "Untitled Entry"

// Entry is one recognized record. Entries are produced once per extraction
// pass and never modified afterwards.
type Entry struct {
	Kind     Kind   `json:"kind"`
	TypeName string `json:"type_name,omitempty"` // as written in the text
	Sequence int    `json:"sequence"`            // 0 when unknown
	Title    string `json:"title"`
	Text     string `json:"text"`

	// Timestamp is the earliest time mined from Text; nil when unknown.
	Timestamp *time.Time `json:"timestamp,omitempty"`

	Source        string `json:"source,omitempty"`
	DomainRelated bool   `json:"domain_related"`
	Family        Family `json:"family"`
	Offset        int    `json:"offset"`
}

// HasTimestamp reports whether a timestamp was recovered for the entry.
func (e Entry) HasTimestamp() bool {
	return e.Timestamp != nil
}

// DedupeBySequence keeps the first entry for each (Kind, Sequence) pair.
// Entries without a sequence number are always kept.
func DedupeBySequence(in []Entry) []Entry {
	type key struct {
		kind Kind
		seq  int
	}
	seen := make(map[key]bool, len(in))
	out := make([]Entry, 0, len(in))
	for _, e := range in {
		if e.Sequence > 0 {
			k := key{e.Kind, e.Sequence}
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, e)
	}
	return out
}
