package logging

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// tally counts one component/event pair within a flush window.
type tally struct {
	count     int64
	firstSeen time.Time
	lastSeen  time.Time
	// fields of the first occurrence; later calls only bump the count
	fields []slog.Attr
}

// Aggregator collapses repeated per-item events (skipped files, bad
// timestamps) into one "event_summary" record per window.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	tallies map[[2]string]*tally

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewAggregator flushes every intervalSecs seconds (default 30). A nil
// logger counts but never writes.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		now:      time.Now,
		tallies:  make(map[[2]string]*tally),
		stop:     make(chan struct{}),
	}
}

// Start runs the periodic flush.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Flush()
			case <-a.stop:
				return
			}
		}
	}()
}

// Stop ends the periodic flush and writes whatever is pending.
func (a *Aggregator) Stop() {
	close(a.stop)
	a.wg.Wait()
	a.Flush()
}

// Record counts one occurrence of event for component.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	key := [2]string{component, event}
	t, ok := a.tallies[key]
	if !ok {
		t = &tally{firstSeen: now, fields: fields}
		a.tallies[key] = t
	}
	t.count++
	t.lastSeen = now
}

// Count reports the pending count for component/event.
func (a *Aggregator) Count(component, event string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tallies[[2]string{component, event}]; ok {
		return t.count
	}
	return 0
}

// Flush writes one summary per pending event, ordered by component and
// event, and starts a new window.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	pending := a.tallies
	a.tallies = make(map[[2]string]*tally)
	a.mu.Unlock()

	if a.logger == nil || len(pending) == 0 {
		return
	}

	keys := make([][2]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	for _, k := range keys {
		t := pending[k]
		attrs := []any{
			slog.String("component", k[0]),
			slog.String("event", k[1]),
			slog.Int64("count", t.count),
			slog.Duration("span", t.lastSeen.Sub(t.firstSeen)),
		}
		for _, f := range t.fields {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}
