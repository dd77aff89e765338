package timestamps

import (
	"sort"
	"time"
)

// DateLayout is the calendar-date format used in canonical labels.
const DateLayout = "2006-01-02"

// RangeSeparator joins the two dates of a multi-day label.
const RangeSeparator = "_to_"

// Window is the first/last span of timestamps mined from a document.
// A nil bound means no timestamp was recoverable; an absent window is never
// represented by a zero or epoch time.
type Window struct {
	First *time.Time
	Last  *time.Time
}

// WindowOf builds a window from unordered instants. No instants yields an
// absent window.
func WindowOf(times ...time.Time) Window {
	if len(times) == 0 {
		return Window{}
	}
	sorted := append([]time.Time(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	first, last := sorted[0], sorted[len(sorted)-1]
	return Window{First: &first, Last: &last}
}

// IsAbsent reports whether no timestamp was found.
func (w Window) IsAbsent() bool {
	return w.First == nil || w.Last == nil
}

// IsMultiDay reports whether First and Last fall on different calendar dates.
func (w Window) IsMultiDay() bool {
	if w.IsAbsent() {
		return false
	}
	return !sameDate(*w.First, *w.Last)
}

// DaySpan is the inclusive number of calendar days covered; 1 when the
// window is absent or single-day.
func (w Window) DaySpan() int {
	if w.IsAbsent() {
		return 1
	}
	return daysBetween(*w.First, *w.Last) + 1
}

// Label returns the canonical date label, or "" for an absent window.
func (w Window) Label() string {
	if w.IsAbsent() {
		return ""
	}
	return Label(*w.First, *w.Last)
}

// OrFallback returns w, or a single-instant window at t when w is absent.
// Callers pass the file modification time explicitly; the miner itself
// never looks at filesystem metadata.
func (w Window) OrFallback(t time.Time) Window {
	if !w.IsAbsent() || t.IsZero() {
		return w
	}
	return WindowOf(t)
}

func (w Window) String() string {
	if w.IsAbsent() {
		return "unknown"
	}
	return w.First.Format(time.RFC3339) + " .. " + w.Last.Format(time.RFC3339)
}

// Label formats a canonical label for a span: "YYYY-MM-DD" when both instants
// share a calendar date, "YYYY-MM-DD_to_YYYY-MM-DD" otherwise. Time of day is
// dropped. Both dates are read in the location of the earlier instant.
func Label(first, last time.Time) string {
	if last.Before(first) {
		first, last = last, first
	}
	last = last.In(first.Location())
	if sameDate(first, last) {
		return first.Format(DateLayout)
	}
	return first.Format(DateLayout) + RangeSeparator + last.Format(DateLayout)
}

// sameDate compares calendar dates with b read in a's location.
func sameDate(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// daysBetween counts calendar days from a's date to b's date, both taken in
// a's location.
func daysBetween(a, b time.Time) int {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(db.Sub(da).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}
