// Package chatlog decodes exported chat logs. Two JSON shapes are accepted
// transparently: a flat array of message objects, or an object (or array of
// objects) with a "mapping" dictionary whose nodes optionally carry a message.
package chatlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedShape is returned when the JSON parses but matches neither shape.
var ErrUnsupportedShape = errors.New("chatlog: unsupported export shape")

// Message is one chat message body with whatever metadata the export carried.
type Message struct {
	ID      string
	Role    string
	Text    string
	Created *time.Time // nil when the export carries no time
}

// Export is a decoded chat export.
type Export struct {
	Title    string
	Messages []Message
}

// flatMessage is an element of the flat-array shape.
type flatMessage struct {
	Message   json.RawMessage `json:"message"`
	Role      string          `json:"role"`
	Author    string          `json:"author"`
	Timestamp json.RawMessage `json:"timestamp"`
	Created   json.RawMessage `json:"create_time"`
	Mapping   json.RawMessage `json:"mapping"`
	Title     string          `json:"title"`
}

// mappingExport is the object shape with a mapping dictionary.
type mappingExport struct {
	Title   string                     `json:"title"`
	Mapping map[string]json.RawMessage `json:"mapping"`
}

type mappingNode struct {
	ID      string          `json:"id"`
	Message json.RawMessage `json:"message"`
}

// structuredMessage is the richer message object some exports nest in a node.
type structuredMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		Parts []json.RawMessage `json:"parts"`
		Text  string            `json:"text"`
	} `json:"content"`
	Created json.RawMessage `json:"create_time"`
}

// Decode parses data in either accepted shape.
func Decode(data []byte) (*Export, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrUnsupportedShape
	}

	switch data[0] {
	case '[':
		var items []flatMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return decodeArray(items), nil
	case '{':
		var m mappingExport
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Mapping == nil {
			return nil, ErrUnsupportedShape
		}
		return &Export{Title: m.Title, Messages: decodeMapping(m.Mapping)}, nil
	}
	return nil, ErrUnsupportedShape
}

// decodeArray handles a flat array of messages. Elements that are whole
// conversations (with their own mapping) are expanded in place.
func decodeArray(items []flatMessage) *Export {
	exp := &Export{}
	for i, it := range items {
		if len(it.Mapping) > 0 {
			var nodes map[string]json.RawMessage
			if err := json.Unmarshal(it.Mapping, &nodes); err == nil {
				if exp.Title == "" {
					exp.Title = it.Title
				}
				exp.Messages = append(exp.Messages, decodeMapping(nodes)...)
			}
			continue
		}
		text, created, role := messageBody(it.Message)
		if text == "" {
			continue
		}
		if created == nil {
			created = parseTime(it.Created)
		}
		if created == nil {
			created = parseTime(it.Timestamp)
		}
		if role == "" {
			role = firstNonEmpty(it.Role, it.Author)
		}
		exp.Messages = append(exp.Messages, Message{
			ID:      "m" + strconv.Itoa(i),
			Role:    role,
			Text:    text,
			Created: created,
		})
	}
	return exp
}

// decodeMapping flattens mapping nodes ordered by creation time, then id.
func decodeMapping(nodes map[string]json.RawMessage) []Message {
	var msgs []Message
	for key, raw := range nodes {
		var n mappingNode
		if err := json.Unmarshal(raw, &n); err != nil {
			continue
		}
		text, created, role := messageBody(n.Message)
		if text == "" {
			continue
		}
		id := n.ID
		if id == "" {
			id = key
		}
		msgs = append(msgs, Message{ID: id, Role: role, Text: text, Created: created})
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i].Created, msgs[j].Created
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

// messageBody accepts a plain string message or a structured message object.
func messageBody(raw json.RawMessage) (string, *time.Time, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil, ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil, ""
	}

	var sm structuredMessage
	if err := json.Unmarshal(raw, &sm); err != nil {
		return "", nil, ""
	}
	var parts []string
	for _, p := range sm.Content.Parts {
		var ps string
		if err := json.Unmarshal(p, &ps); err == nil && strings.TrimSpace(ps) != "" {
			parts = append(parts, ps)
		}
	}
	if len(parts) == 0 && sm.Content.Text != "" {
		parts = append(parts, sm.Content.Text)
	}
	return strings.Join(parts, "\n"), parseTime(sm.Created), sm.Author.Role
}

// parseTime accepts epoch seconds (possibly fractional) or an RFC 3339 string.
func parseTime(raw json.RawMessage) *time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f <= 0 {
			return nil
		}
		sec, frac := math.Modf(f)
		t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
		return &t
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}

// Flatten concatenates message bodies, separated by blank lines.
func (e *Export) Flatten() string {
	if e == nil {
		return ""
	}
	texts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		texts = append(texts, m.Text)
	}
	return strings.Join(texts, "\n\n")
}

// Times returns every message creation time present in the export.
func (e *Export) Times() []time.Time {
	if e == nil {
		return nil
	}
	var out []time.Time
	for _, m := range e.Messages {
		if m.Created != nil {
			out = append(out, *m.Created)
		}
	}
	return out
}

// FlattenBytes decodes data and flattens it; on any decode failure it returns
// the raw text unchanged together with the error.
func FlattenBytes(data []byte) (string, error) {
	exp, err := Decode(data)
	if err != nil {
		return string(data), err
	}
	return exp.Flatten(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
