package search

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/chat-archive/internal/logging"
)

// Watcher defaults.
const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultRate     = 20
	DefaultBurst    = 5
)

// Batch reports one round of incremental updates.
type Batch struct {
	Updated []string `json:"updated,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Saved   bool     `json:"saved"`
	Err     error    `json:"-"`
}

// Watcher keeps an index current with the corpus tree. Writes are
// debounced per file; re-indexing is throttled by Limiter; the index is
// saved to Out after every batch when Out is set.
type Watcher struct {
	Indexer *Indexer
	Index   *Index
	Root    string
	Out     string

	Debounce time.Duration
	Limiter  *rate.Limiter

	// OnBatch, when set, is called after each batch from the worker goroutine.
	OnBatch func(Batch)

	Log *slog.Logger

	mu    sync.Mutex
	fsw   *fsnotify.Watcher
	ready chan string
}

// NewWatcher returns a watcher with default debounce and rate.
func NewWatcher(ix *Indexer, idx *Index, root, out string) *Watcher {
	if out != "" {
		ix.Exclude = append(ix.Exclude, out)
	}
	return &Watcher{
		Indexer:  ix,
		Index:    idx,
		Root:     root,
		Out:      out,
		Debounce: DefaultDebounce,
		Limiter:  rate.NewLimiter(rate.Limit(DefaultRate), DefaultBurst),
		Log:      ix.Log,
	}
}

func (w *Watcher) log() *slog.Logger {
	return logging.Or(w.Log, logging.CompWatch)
}

// View runs fn with exclusive access to the index.
func (w *Watcher) View(fn func(idx *Index)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w.Index)
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	w.fsw = fsw
	w.ready = make(chan string, 256)

	if err := w.addTree(w.Root); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx)
	}()

	debounce := make(map[string]*time.Timer)
	debounceMu := sync.Mutex{}
	stopTimers := func() {
		debounceMu.Lock()
		for _, timer := range debounce {
			timer.Stop()
		}
		debounceMu.Unlock()
	}
	defer wg.Wait()
	defer stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.log().Warn("watch_add_failed", slog.String("path", event.Name), slog.String("error", err.Error()))
					}
					continue
				}
			}
			// a removed or moved directory reports only itself
			if !w.Indexer.Allows(event.Name) && event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			name := event.Name
			debounceMu.Lock()
			if timer, exists := debounce[name]; exists {
				timer.Stop()
			}
			debounce[name] = time.AfterFunc(w.debounce(), func() {
				debounceMu.Lock()
				delete(debounce, name)
				debounceMu.Unlock()
				select {
				case w.ready <- name:
				case <-ctx.Done():
				}
			})
			debounceMu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log().Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounce() time.Duration {
	if w.Debounce <= 0 {
		return DefaultDebounce
	}
	return w.Debounce
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			w.log().Warn("watch_add_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

// worker drains settled paths into batches.
func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case first := <-w.ready:
			pending := map[string]struct{}{first: {}}
		drain:
			for {
				select {
				case p := <-w.ready:
					pending[p] = struct{}{}
				default:
					break drain
				}
			}
			if b, ok := w.apply(ctx, pending); ok && w.OnBatch != nil {
				w.OnBatch(b)
			}
		}
	}
}

// pendingRels maps settled paths to sorted relative paths to re-index. A path
// the indexer would not accept and that no longer exists is taken as a gone
// directory and expands to every indexed file below it.
func (w *Watcher) pendingRels(pending map[string]struct{}) []string {
	set := make(map[string]struct{}, len(pending))
	w.mu.Lock()
	for full := range pending {
		rel, err := relPath(w.Root, full)
		if err != nil {
			continue
		}
		if w.Indexer.Allows(full) {
			set[rel] = struct{}{}
			continue
		}
		if _, err := os.Stat(full); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		for _, p := range w.Index.Under(rel) {
			set[p] = struct{}{}
		}
	}
	w.mu.Unlock()

	rels := make([]string, 0, len(set))
	for rel := range set {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	return rels
}

func (w *Watcher) apply(ctx context.Context, pending map[string]struct{}) (Batch, bool) {
	rels := w.pendingRels(pending)

	var b Batch
	for _, rel := range rels {
		if w.Limiter != nil {
			if err := w.Limiter.Wait(ctx); err != nil {
				return b, false
			}
		}
		full := filepath.Join(w.Root, filepath.FromSlash(rel))

		w.mu.Lock()
		_, existed := w.Index.Files[rel]
		err := w.Indexer.Update(w.Index, w.Root, rel)
		_, exists := w.Index.Files[rel]
		w.mu.Unlock()

		switch {
		case err != nil:
			w.log().Warn("reindex_failed", slog.String("path", full), slog.String("error", err.Error()))
			logging.Aggregate(logging.CompWatch, "reindex_failed", slog.String("root", w.Root))
		case existed && !exists:
			b.Removed = append(b.Removed, rel)
		case exists:
			b.Updated = append(b.Updated, rel)
		}
	}

	if len(b.Updated)+len(b.Removed) == 0 {
		return b, false
	}
	if w.Out != "" {
		w.mu.Lock()
		b.Err = w.Index.Save(w.Out)
		w.mu.Unlock()
		b.Saved = b.Err == nil
		if b.Err != nil {
			w.log().Error("index_save_failed", slog.String("path", w.Out), slog.String("error", b.Err.Error()))
		}
	}
	w.log().Info("index_batch",
		slog.Int("updated", len(b.Updated)),
		slog.Int("removed", len(b.Removed)),
		slog.Bool("saved", b.Saved))
	return b, true
}
