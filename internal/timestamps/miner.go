// Package timestamps mines conversation timestamps from raw text and chat
// export JSON and derives date-range metadata from them.
package timestamps

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/chat-archive/internal/chatlog"
	"github.com/asheshgoplani/chat-archive/internal/logging"
)

// Plausible years. Matches outside this range are discarded.
const (
	minYear = 1970
	maxYear = 2100
)

var (
	// 2024-02-04, 2024-02-04T10:15, 2024-02-04 10:15:30.123+01:00
	isoPattern = regexp.MustCompile(
		`(\d{4})-(\d{2})-(\d{2})(?:[T ](\d{2}):(\d{2})(?::(\d{2})(?:\.(\d{1,9}))?)?(Z|[+-]\d{2}:?\d{2})?)?`)

	// "create_time": 1707000000.123 as found in chat export metadata
	metaPattern = regexp.MustCompile(
		`"(?:create_time|update_time|timestamp)"\s*:\s*"?(\d{9,10}(?:\.\d+)?)`)

	// 2/4/2024, 02/04/2024 3:15 PM, 2/4/2024, 15:15:09
	slashPattern = regexp.MustCompile(
		`(\d{1,2})/(\d{1,2})/(\d{4})(?:,?\s+(\d{1,2}):(\d{2})(?::(\d{2}))?(?:\s*([AaPp][Mm]))?)?`)
)

// Miner extracts timestamps. The zero value is ready to use.
type Miner struct {
	// Log receives per-file diagnostics; nil means the miner component logger.
	Log *slog.Logger
}

var defaultMiner = &Miner{}

// Mine returns the window of every timestamp found in text using the default miner.
func Mine(text string) Window {
	return defaultMiner.Mine(text)
}

// Mine returns the earliest/latest timestamp found in text.
func (m *Miner) Mine(text string) Window {
	return WindowOf(m.Times(text)...)
}

// Times returns every parseable timestamp in text, sorted ascending.
// Malformed matches are discarded silently.
func (m *Miner) Times(text string) []time.Time {
	var out []time.Time
	failed := 0

	for _, loc := range isoPattern.FindAllStringSubmatchIndex(text, -1) {
		if !digitBounded(text, loc[0], loc[1]) {
			continue
		}
		if t, ok := parseISO(text, loc); ok {
			out = append(out, t)
		} else {
			failed++
		}
	}
	for _, sm := range metaPattern.FindAllStringSubmatch(text, -1) {
		if t, ok := parseEpoch(sm[1]); ok {
			out = append(out, t)
		} else {
			failed++
		}
	}
	for _, loc := range slashPattern.FindAllStringSubmatchIndex(text, -1) {
		if !digitBounded(text, loc[0], loc[1]) {
			continue
		}
		if t, ok := parseSlash(text, loc); ok {
			out = append(out, t)
		} else {
			failed++
		}
	}

	if failed > 0 {
		logging.Aggregate(logging.CompMiner, "timestamp_parse_failed", slog.Int("last_batch", failed))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// MineJSON mines a chat export in either accepted shape: message creation
// metadata plus every timestamp embedded in the document. A decode failure
// returns an absent window and the error.
func (m *Miner) MineJSON(data []byte) (Window, error) {
	exp, err := chatlog.Decode(data)
	if err != nil {
		return Window{}, fmt.Errorf("decode chat export: %w", err)
	}
	times := exp.Times()
	times = append(times, m.Times(string(data))...)
	return WindowOf(times...), nil
}

// MineFile reads path and mines it. Only a read failure is returned as an error.
func (m *Miner) MineFile(path string) (Window, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Window{}, err
	}
	return m.MineData(path, data), nil
}

// MineData mines file contents already in memory. Names ending in .json go
// through MineJSON first and fall back to raw text mining when the export
// cannot be decoded.
func (m *Miner) MineData(name string, data []byte) Window {
	if strings.EqualFold(filepath.Ext(name), ".json") {
		w, err := m.MineJSON(data)
		if err == nil {
			return w
		}
		logging.Or(m.Log, logging.CompMiner).Debug("json_fallback_to_text",
			slog.String("path", name), slog.String("error", err.Error()))
	}
	return m.Mine(string(data))
}

// digitBounded rejects matches glued to surrounding digits (e.g. inside a
// longer number).
func digitBounded(s string, start, end int) bool {
	if start > 0 && isDigit(s[start-1]) {
		return false
	}
	if end < len(s) && isDigit(s[end]) {
		return false
	}
	return true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func group(s string, loc []int, n int) string {
	if loc[2*n] < 0 {
		return ""
	}
	return s[loc[2*n]:loc[2*n+1]]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseISO(s string, loc []int) (time.Time, bool) {
	year, month, day := atoi(group(s, loc, 1)), atoi(group(s, loc, 2)), atoi(group(s, loc, 3))
	hour, minute, sec, nsec := 0, 0, 0, 0
	if h := group(s, loc, 4); h != "" {
		hour, minute = atoi(h), atoi(group(s, loc, 5))
		sec = atoi(group(s, loc, 6))
		if frac := group(s, loc, 7); frac != "" {
			nsec = atoi((frac + "000000000")[:9])
		}
	}
	zone := time.UTC
	if z := group(s, loc, 8); z != "" && z != "Z" {
		offset, ok := parseOffset(z)
		if !ok {
			return time.Time{}, false
		}
		zone = time.FixedZone("", offset)
	}
	return build(year, month, day, hour, minute, sec, nsec, zone)
}

func parseSlash(s string, loc []int) (time.Time, bool) {
	month, day, year := atoi(group(s, loc, 1)), atoi(group(s, loc, 2)), atoi(group(s, loc, 3))
	hour, minute, sec := 0, 0, 0
	if h := group(s, loc, 4); h != "" {
		hour, minute, sec = atoi(h), atoi(group(s, loc, 5)), atoi(group(s, loc, 6))
		if ampm := strings.ToLower(group(s, loc, 7)); ampm != "" {
			if hour < 1 || hour > 12 {
				return time.Time{}, false
			}
			if ampm == "pm" && hour != 12 {
				hour += 12
			} else if ampm == "am" && hour == 12 {
				hour = 0
			}
		}
	}
	return build(year, month, day, hour, minute, sec, 0, time.UTC)
}

func parseEpoch(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
	if t.Year() < minYear || t.Year() > maxYear {
		return time.Time{}, false
	}
	return t, true
}

// parseOffset handles +HH:MM and +HHMM.
func parseOffset(z string) (int, bool) {
	sign := 1
	if z[0] == '-' {
		sign = -1
	}
	digits := strings.ReplaceAll(z[1:], ":", "")
	if len(digits) != 4 {
		return 0, false
	}
	h, m := atoi(digits[:2]), atoi(digits[2:])
	if h > 14 || m > 59 {
		return 0, false
	}
	return sign * (h*3600 + m*60), true
}

// build validates the fields instead of letting time.Date normalize them.
func build(year, month, day, hour, minute, sec, nsec int, zone *time.Location) (time.Time, bool) {
	if year < minYear || year > maxYear || month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	if hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, nsec, zone)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}
