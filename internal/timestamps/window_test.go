package timestamps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestAbsentWindow(t *testing.T) {
	w := Mine("no dates in here, just 42 and 7/8")
	assert.True(t, w.IsAbsent())
	assert.Nil(t, w.First)
	assert.Nil(t, w.Last)
	assert.False(t, w.IsMultiDay())
	assert.Equal(t, 1, w.DaySpan())
	assert.Equal(t, "", w.Label())
	assert.Equal(t, "unknown", w.String())
}

func TestMultiDayWindow(t *testing.T) {
	t1 := day(2024, 2, 4, 23)
	t2 := day(2024, 2, 6, 1)
	w := WindowOf(t2, t1)

	require.False(t, w.IsAbsent())
	assert.Equal(t, t1, *w.First)
	assert.Equal(t, t2, *w.Last)
	assert.True(t, w.IsMultiDay())
	assert.Equal(t, 3, w.DaySpan())
	assert.Equal(t, "2024-02-04_to_2024-02-06", w.Label())
}

func TestSingleDayWindowAcrossHours(t *testing.T) {
	w := WindowOf(day(2024, 2, 4, 0), day(2024, 2, 4, 23))
	assert.False(t, w.IsMultiDay())
	assert.Equal(t, 1, w.DaySpan())
	assert.Equal(t, "2024-02-04", w.Label())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "2024-02-04", Label(day(2024, 2, 4, 9), day(2024, 2, 4, 18)))
	assert.Equal(t, "2024-02-04_to_2024-02-06", Label(day(2024, 2, 4, 9), day(2024, 2, 6, 18)))
	assert.Equal(t, "2024-02-04_to_2024-02-06", Label(day(2024, 2, 6, 9), day(2024, 2, 4, 18)), "order-insensitive")
}

func TestCalendarDateUsesInstantLocation(t *testing.T) {
	plus := time.FixedZone("", 9*3600)
	// Same instant would be Feb 4 in UTC, but written as Feb 5 in +09:00.
	a := time.Date(2024, 2, 5, 1, 0, 0, 0, plus)
	b := time.Date(2024, 2, 5, 20, 0, 0, 0, plus)
	w := WindowOf(a, b)
	assert.False(t, w.IsMultiDay())
	assert.Equal(t, "2024-02-05", w.Label())
}

func TestMixedOffsetsUseFirstLocation(t *testing.T) {
	w := Mine("start 2024-02-05T01:00:00+05:00 then 2024-02-04T22:00:00Z")
	require.False(t, w.IsAbsent())
	assert.True(t, w.First.Before(*w.Last))
	// 22:00Z is 03:00 on Feb 5 in +05:00, so the span is one day.
	assert.Equal(t, "2024-02-05", w.Label())
	assert.False(t, w.IsMultiDay())
	assert.Equal(t, 1, w.DaySpan())

	plus := time.FixedZone("", 5*3600)
	first := time.Date(2024, 2, 5, 23, 0, 0, 0, plus)
	last := time.Date(2024, 2, 5, 20, 0, 0, 0, time.UTC)
	w = WindowOf(last, first)
	assert.Equal(t, "2024-02-05_to_2024-02-06", w.Label())
	assert.Equal(t, 2, w.DaySpan())
}

func TestOrFallback(t *testing.T) {
	mod := day(2023, 12, 31, 12)
	w := Window{}.OrFallback(mod)
	require.False(t, w.IsAbsent())
	assert.Equal(t, "2023-12-31", w.Label())

	present := WindowOf(day(2024, 1, 1, 0))
	assert.Equal(t, present, present.OrFallback(mod))

	assert.True(t, Window{}.OrFallback(time.Time{}).IsAbsent())
}

func TestWindowOrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		times := make([]time.Time, n)
		for i := range times {
			secs := rapid.Int64Range(0, 4_000_000_000).Draw(t, "secs")
			times[i] = time.Unix(secs, 0).UTC()
		}
		w := WindowOf(times...)
		if w.First.After(*w.Last) {
			t.Fatalf("first %v after last %v", w.First, w.Last)
		}
		for _, tm := range times {
			if tm.Before(*w.First) || tm.After(*w.Last) {
				t.Fatalf("%v outside window %v", tm, w)
			}
		}
		if w.DaySpan() < 1 {
			t.Fatalf("day span %d < 1", w.DaySpan())
		}
		if w.IsMultiDay() != (w.DaySpan() > 1) {
			t.Fatalf("multi-day %v disagrees with span %d", w.IsMultiDay(), w.DaySpan())
		}
	})
}

func TestLabelShapeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "a"), 0).UTC()
		b := time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "b"), 0).UTC()
		label := Label(a, b)
		switch len(label) {
		case len("2006-01-02"):
			if a.Format(DateLayout) != b.Format(DateLayout) {
				t.Fatalf("single label %q for different dates", label)
			}
		case len("2006-01-02_to_2006-01-02"):
			if label[10:14] != RangeSeparator {
				t.Fatalf("bad separator in %q", label)
			}
		default:
			t.Fatalf("unexpected label %q", label)
		}
	})
}

func TestLabelRangeOrderedAcrossOffsetsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var times []time.Time
		for i := 0; i < 2; i++ {
			secs := rapid.Int64Range(0, 4_000_000_000).Draw(t, "secs")
			hours := rapid.IntRange(-12, 14).Draw(t, "offset")
			times = append(times, time.Unix(secs, 0).In(time.FixedZone("", hours*3600)))
		}
		label := WindowOf(times...).Label()
		if len(label) == len("2006-01-02_to_2006-01-02") && label[:10] > label[14:] {
			t.Fatalf("reversed label %q", label)
		}
	})
}
