package curator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/chat-archive/internal/classify"
	"github.com/asheshgoplani/chat-archive/internal/logging"
	"github.com/asheshgoplani/chat-archive/internal/timestamps"
)

// DefaultWorkers bounds parallel hashing when Curator.Workers is unset.
const DefaultWorkers = 4

// Curator scans and curates one directory per call. A Curator is not safe
// for concurrent Process calls on the same directory.
type Curator struct {
	Table *classify.Table
	Log   *slog.Logger

	// DryRun reports intended renames and deletes without touching the disk.
	DryRun bool

	// Workers hashing files in parallel; <= 0 means DefaultWorkers.
	Workers int

	// Recursive descends into subdirectories; the default is top level only.
	Recursive bool

	// VerifyBytes compares duplicates byte-for-byte before removal.
	VerifyBytes bool

	// Ledger, when set, records each run with its records and actions.
	Ledger Ledger

	Miner *timestamps.Miner
}

// New returns a curator with byte verification on and the default table.
func New(table *classify.Table, log *slog.Logger) *Curator {
	if table == nil {
		table = classify.Default()
	}
	return &Curator{
		Table:       table,
		Log:         logging.Or(log, logging.CompCurate),
		Workers:     DefaultWorkers,
		VerifyBytes: true,
		Miner:       &timestamps.Miner{Log: log},
	}
}

func (c *Curator) log() *slog.Logger {
	return logging.Or(c.Log, logging.CompCurate)
}

func (c *Curator) table() *classify.Table {
	if c.Table == nil {
		return classify.Default()
	}
	return c.Table
}

func (c *Curator) miner() *timestamps.Miner {
	if c.Miner == nil {
		return &timestamps.Miner{Log: c.Log}
	}
	return c.Miner
}

// Scan builds a record for every file in dir whose name passes the archive
// filename filter. Records come back in path order. Files that cannot be
// read are logged and left out.
func (c *Curator) Scan(ctx context.Context, dir string) ([]FileRecord, error) {
	recs, _, err := c.scan(ctx, dir)
	return recs, err
}

func (c *Curator) scan(ctx context.Context, dir string) ([]FileRecord, []FileError, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("scan %s: %w", dir, ErrDirNotFound)
	}

	paths, err := c.candidates(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	workers := c.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	recs := make([]FileRecord, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			recs[i], errs[i] = c.Inspect(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := make([]FileRecord, 0, len(paths))
	var failed []FileError
	for i, path := range paths {
		if errs[i] != nil {
			c.log().Warn("file_unreadable",
				slog.String("path", path), slog.String("error", errs[i].Error()))
			logging.Aggregate(logging.CompCurate, "file_unreadable", slog.String("dir", dir))
			failed = append(failed, FileError{Path: path, Err: errs[i].Error()})
			continue
		}
		out = append(out, recs[i])
	}
	return out, failed, nil
}

// candidates lists regular files under dir that match the archive name
// filter, sorted by path.
func (c *Curator) candidates(dir string) ([]string, error) {
	table := c.table()
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			c.log().Warn("walk_error", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			if path != dir && !c.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !table.MatchesArchiveName(d.Name()) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	sort.Strings(paths)
	return paths, err
}

// DuplicateGroup is a set of byte-identical files with their chosen original.
type DuplicateGroup struct {
	Hash       string   `json:"hash"`
	Original   string   `json:"original"`
	Duplicates []string `json:"duplicates"`
}

// MarkDuplicates groups records by hash. Within a group the earliest
// ModTime is the original, ties broken by path; every other member gets
// IsDuplicate and DuplicateOf. Records are updated in place.
func MarkDuplicates(records []FileRecord) []DuplicateGroup {
	byHash := make(map[string][]int)
	for i := range records {
		records[i].IsDuplicate = false
		records[i].DuplicateOf = ""
		byHash[records[i].Hash] = append(byHash[records[i].Hash], i)
	}

	var groups []DuplicateGroup
	for hash, idx := range byHash {
		if len(idx) < 2 {
			continue
		}
		sort.Slice(idx, func(a, b int) bool {
			ra, rb := records[idx[a]], records[idx[b]]
			if !ra.ModTime.Equal(rb.ModTime) {
				return ra.ModTime.Before(rb.ModTime)
			}
			return ra.Path < rb.Path
		})
		orig := records[idx[0]].Path
		g := DuplicateGroup{Hash: hash, Original: orig}
		for _, i := range idx[1:] {
			records[i].IsDuplicate = true
			records[i].DuplicateOf = orig
			g.Duplicates = append(g.Duplicates, records[i].Path)
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Original < groups[j].Original })
	return groups
}

// Options selects the actions Process performs after scanning.
type Options struct {
	Dedupe bool
	Rename bool
}

// Summary counts the outcome of one Process call.
type Summary struct {
	RunID      string           `json:"run_id,omitempty"`
	Dir        string           `json:"dir"`
	DryRun     bool             `json:"dry_run"`
	Processed  int              `json:"processed"`
	Succeeded  int              `json:"succeeded"`
	Duplicates int              `json:"duplicates"`
	Renamed    int              `json:"renamed"`
	Removed    int              `json:"removed"`
	Errored    int              `json:"errored"`
	Groups     []DuplicateGroup `json:"groups,omitempty"`
	Actions    []ActionResult   `json:"actions,omitempty"`
	Failed     []FileError      `json:"failed,omitempty"`
}

// Process scans dir, marks duplicates, and optionally removes duplicates and
// renames survivors. In dry-run mode Removed and Renamed count the intended
// actions. A cancelled context stops between files and returns the partial
// summary with the context error.
func (c *Curator) Process(ctx context.Context, dir string, opts Options) (Summary, error) {
	sum := Summary{Dir: dir, DryRun: c.DryRun}

	recs, failed, err := c.scan(ctx, dir)
	if err != nil {
		return sum, err
	}
	sum.Processed = len(recs) + len(failed)
	sum.Errored = len(failed)
	sum.Failed = failed
	sum.Groups = MarkDuplicates(recs)

	byPath := make(map[string]FileRecord, len(recs))
	for _, r := range recs {
		byPath[r.Path] = r
		if r.IsDuplicate {
			sum.Duplicates++
		}
	}

	sum.RunID = c.beginRun(dir)
	for _, r := range recs {
		c.ledger(sum.RunID, func(l Ledger) error { return l.SaveRecord(sum.RunID, r) })
	}

	failedRec := make(map[string]bool)
	record := func(path string, res ActionResult) {
		sum.Actions = append(sum.Actions, res)
		c.ledger(sum.RunID, func(l Ledger) error { return l.SaveAction(sum.RunID, res) })
		if res.Failed() {
			failedRec[path] = true
		}
	}

	var ctxErr error
	removed := make(map[string]bool)
	if opts.Dedupe {
		for _, r := range recs {
			if !r.IsDuplicate {
				continue
			}
			if ctxErr = ctx.Err(); ctxErr != nil {
				break
			}
			res := c.RemoveDuplicate(r, byPath[r.DuplicateOf])
			if res.Done || (res.DryRun && !res.Failed()) {
				sum.Removed++
				removed[r.Path] = true
			}
			record(r.Path, res)
		}
	}

	if opts.Rename && ctxErr == nil {
		for _, r := range recs {
			if removed[r.Path] || (opts.Dedupe && r.IsDuplicate) {
				continue
			}
			if ctxErr = ctx.Err(); ctxErr != nil {
				break
			}
			res := c.Rename(r.Path, r.Window)
			if res.Noop() {
				continue
			}
			if res.Done || (res.DryRun && !res.Failed()) {
				sum.Renamed++
			}
			record(r.Path, res)
		}
	}

	for _, r := range recs {
		if failedRec[r.Path] {
			sum.Errored++
		} else {
			sum.Succeeded++
		}
	}

	c.finishRun(sum)
	c.log().Info("process_complete",
		slog.String("dir", dir),
		slog.Bool("dry_run", c.DryRun),
		slog.Int("processed", sum.Processed),
		slog.Int("duplicates", sum.Duplicates),
		slog.Int("removed", sum.Removed),
		slog.Int("renamed", sum.Renamed),
		slog.Int("errored", sum.Errored))
	return sum, ctxErr
}

func (c *Curator) beginRun(dir string) string {
	if c.Ledger == nil {
		return ""
	}
	id, err := c.Ledger.BeginRun(dir, c.DryRun)
	if err != nil {
		c.log().Warn("ledger_begin_failed", slog.String("error", err.Error()))
		return ""
	}
	return id
}

func (c *Curator) finishRun(sum Summary) {
	c.ledger(sum.RunID, func(l Ledger) error { return l.FinishRun(sum.RunID, sum) })
}

// ledger runs fn against the configured ledger. Ledger failures never fail
// the curation itself.
func (c *Curator) ledger(runID string, fn func(Ledger) error) {
	if c.Ledger == nil || runID == "" {
		return
	}
	if err := fn(c.Ledger); err != nil && !errors.Is(err, context.Canceled) {
		c.log().Warn("ledger_write_failed", slog.String("error", err.Error()))
	}
}

// Ledger persists curation runs. BeginRun returns the run id passed to the
// other methods.
type Ledger interface {
	BeginRun(dir string, dryRun bool) (string, error)
	SaveRecord(runID string, rec FileRecord) error
	SaveAction(runID string, res ActionResult) error
	FinishRun(runID string, sum Summary) error
}
