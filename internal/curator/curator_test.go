package curator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/chat-archive/internal/logging"
	"github.com/asheshgoplani/chat-archive/internal/timestamps"
)

func newTestCurator() *Curator {
	return New(nil, logging.Discard())
}

func writeFile(t *testing.T, dir, name, content string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	if !mod.IsZero() {
		require.NoError(t, os.Chtimes(path, mod, mod))
	}
	return path
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestScanRecords(t *testing.T) {
	dir := t.TempDir()
	old := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, dir, "chat_b.txt", "spoke on 2024-02-04 10:00 and 2024-02-06 09:00", time.Time{})
	writeFile(t, dir, "chat_a (1).txt", "no dates at all", old)
	writeFile(t, dir, "notes.pdf", "filtered out by name", time.Time{})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "chat_sub"), 0o755))
	writeFile(t, filepath.Join(dir, "chat_sub"), "chat_deep.txt", "nested", time.Time{})

	recs, err := newTestCurator().Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	a, b := recs[0], recs[1]
	assert.Equal(t, "chat_a (1).txt", a.Name)
	assert.True(t, a.BackupVariant)
	assert.True(t, a.FromModTime)
	// mod times are labelled in local time
	label := old.Local().Format(timestamps.DateLayout)
	assert.Equal(t, label, a.Label())
	assert.Equal(t, "chat_a_"+label+".txt", a.SuggestedName)
	assert.Len(t, a.Hash, 64)

	assert.Equal(t, "chat_b.txt", b.Name)
	assert.False(t, b.FromModTime)
	assert.True(t, b.Window.IsMultiDay())
	assert.Equal(t, 3, b.Window.DaySpan())
	assert.Equal(t, "chat_b_2024-02-04_to_2024-02-06.txt", b.SuggestedName)
	assert.True(t, b.NeedsRename())
}

func TestScanRecursive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub"), "chat_deep.txt", "nested", time.Time{})

	c := newTestCurator()
	c.Recursive = true
	recs, err := c.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "chat_deep.txt", recs[0].Name)
}

func TestScanMissingDir(t *testing.T) {
	_, err := newTestCurator().Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, ErrDirNotFound))
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat.txt", "x", time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCurator().Scan(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanDeterministicAcrossWorkers(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"chat_1.txt", "chat_2.txt", "chat_3.txt", "chat_4.txt", "chat_5.txt"} {
		writeFile(t, dir, name, "same body 2024-01-01", time.Time{})
	}

	serial := newTestCurator()
	serial.Workers = 1
	parallel := newTestCurator()
	parallel.Workers = 8

	a, err := serial.Scan(context.Background(), dir)
	require.NoError(t, err)
	b, err := parallel.Scan(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarkDuplicates(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []FileRecord{
		{Path: "/a/chat (1).txt", Hash: "h1", ModTime: t0.Add(time.Hour)},
		{Path: "/a/chat.txt", Hash: "h1", ModTime: t0},
		{Path: "/a/other.txt", Hash: "h2", ModTime: t0},
		{Path: "/a/z.txt", Hash: "h3", ModTime: t0},
		{Path: "/a/y.txt", Hash: "h3", ModTime: t0},
	}

	groups := MarkDuplicates(recs)
	require.Len(t, groups, 2)

	assert.True(t, recs[0].IsDuplicate)
	assert.Equal(t, "/a/chat.txt", recs[0].DuplicateOf)
	assert.False(t, recs[1].IsDuplicate)
	assert.False(t, recs[2].IsDuplicate)

	// equal mod times fall back to path order
	assert.True(t, recs[3].IsDuplicate)
	assert.Equal(t, "/a/y.txt", recs[3].DuplicateOf)
	assert.False(t, recs[4].IsDuplicate)

	assert.Equal(t, "/a/chat.txt", groups[0].Original)
	assert.Equal(t, []string{"/a/chat (1).txt"}, groups[0].Duplicates)
	assert.Equal(t, "/a/y.txt", groups[1].Original)
}

func TestRemoveDuplicateDryRunThenReal(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, dir, "chat.txt", "identical", t0)
	writeFile(t, dir, "chat (1).txt", "identical", t0.Add(time.Minute))

	c := newTestCurator()
	recs, err := c.Scan(context.Background(), dir)
	require.NoError(t, err)
	MarkDuplicates(recs)
	require.True(t, recs[0].IsDuplicate, "backup copy is newer")

	c.DryRun = true
	res := c.RemoveDuplicate(recs[0], recs[1])
	assert.True(t, res.DryRun)
	assert.False(t, res.Done)
	assert.False(t, res.Failed())
	assert.Len(t, listNames(t, dir), 2)

	c.DryRun = false
	res = c.RemoveDuplicate(recs[0], recs[1])
	assert.True(t, res.Done)
	assert.Equal(t, []string{"chat.txt"}, listNames(t, dir))
}

func TestRemoveDuplicateVerifiesBytes(t *testing.T) {
	dir := t.TempDir()
	orig := writeFile(t, dir, "chat.txt", "identical", time.Time{})
	dup := writeFile(t, dir, "chat (1).txt", "identical", time.Time{})

	c := newTestCurator()
	a, err := c.Inspect(orig)
	require.NoError(t, err)
	b, err := c.Inspect(dup)
	require.NoError(t, err)

	// content changed after the scan
	require.NoError(t, os.WriteFile(dup, []byte("diverged"), 0o644))

	res := c.RemoveDuplicate(b, a)
	assert.True(t, res.Skipped)
	assert.ErrorIs(t, res.Err, ErrContentMismatch)
	assert.Len(t, listNames(t, dir), 2)
}

func TestRenameIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chat (1).txt", "2024-02-04 10:00", time.Time{})
	w := timestamps.WindowOf(time.Date(2024, 2, 4, 10, 0, 0, 0, time.UTC))

	c := newTestCurator()
	res := c.Rename(path, w)
	require.True(t, res.Done)
	assert.Equal(t, filepath.Join(dir, "chat_2024-02-04.txt"), res.Target)

	again := c.Rename(res.Target, w)
	assert.False(t, again.Done)
	assert.True(t, again.Noop())
	assert.Equal(t, ReasonAlreadyCanonical, again.Reason)
	assert.Equal(t, []string{"chat_2024-02-04.txt"}, listNames(t, dir))
}

func TestRenameNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chat.txt", "one", time.Time{})
	writeFile(t, dir, "chat_2024-02-04.txt", "two", time.Time{})
	w := timestamps.WindowOf(time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC))

	res := newTestCurator().Rename(path, w)
	assert.True(t, res.Skipped)
	assert.ErrorIs(t, res.Err, ErrTargetExists)

	data, err := os.ReadFile(filepath.Join(dir, "chat_2024-02-04.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestRenameDryRunAndMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chat.txt", "x", time.Time{})
	w := timestamps.WindowOf(time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC))

	c := newTestCurator()
	c.DryRun = true
	res := c.Rename(path, w)
	assert.Equal(t, ReasonDryRun, res.Reason)
	assert.False(t, res.Done)
	assert.Equal(t, []string{"chat.txt"}, listNames(t, dir))

	c.DryRun = false
	res = c.Rename(filepath.Join(dir, "gone.txt"), w)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonSourceMissing, res.Reason)

	res = c.Rename(path, timestamps.Window{})
	assert.True(t, res.Noop())
	assert.Equal(t, ReasonNoTimestamp, res.Reason)
}

type memLedger struct {
	runs     int
	records  []FileRecord
	actions  []ActionResult
	finished *Summary
}

func (m *memLedger) BeginRun(dir string, dryRun bool) (string, error) {
	m.runs++
	return "run-1", nil
}

func (m *memLedger) SaveRecord(runID string, rec FileRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memLedger) SaveAction(runID string, res ActionResult) error {
	m.actions = append(m.actions, res)
	return nil
}

func (m *memLedger) FinishRun(runID string, sum Summary) error {
	m.finished = &sum
	return nil
}

func TestProcessDedupesThreeToTwo(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, dir, "chat_alpha.txt", "🔥 Threshold 1: A\n2024-02-04 10:00", t0)
	writeFile(t, dir, "chat_alpha (1).txt", "🔥 Threshold 1: A\n2024-02-04 10:00", t0.Add(time.Hour))
	writeFile(t, dir, "chat_beta.txt", "different body", t0)

	ledger := &memLedger{}
	c := newTestCurator()
	c.Ledger = ledger

	sum, err := c.Process(context.Background(), dir, Options{Dedupe: true})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Duplicates)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, 0, sum.Renamed)
	assert.Equal(t, 0, sum.Errored)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, []string{"chat_alpha.txt", "chat_beta.txt"}, listNames(t, dir))

	assert.Equal(t, 1, ledger.runs)
	assert.Len(t, ledger.records, 3)
	assert.Len(t, ledger.actions, 1)
	require.NotNil(t, ledger.finished)
	assert.Equal(t, 1, ledger.finished.Removed)
}

func TestProcessDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, dir, "chat.txt", "2024-02-04 10:00", t0)
	writeFile(t, dir, "chat (1).txt", "2024-02-04 10:00", t0.Add(time.Hour))

	c := newTestCurator()
	c.DryRun = true
	sum, err := c.Process(context.Background(), dir, Options{Dedupe: true, Rename: true})
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, 1, sum.Renamed)
	assert.Equal(t, []string{"chat (1).txt", "chat.txt"}, listNames(t, dir))
}

func TestProcessRenamesSurvivors(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, dir, "chat.txt", "started 2024-02-04 23:00, ended 2024-02-05 01:00", t0)
	writeFile(t, dir, "chat (1).txt", "started 2024-02-04 23:00, ended 2024-02-05 01:00", t0.Add(time.Hour))
	writeFile(t, dir, "chat_2024-03-01.txt", "2024-03-01 08:00", t0)

	sum, err := newTestCurator().Process(context.Background(), dir, Options{Dedupe: true, Rename: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, 1, sum.Renamed)
	assert.Equal(t, []string{"chat_2024-02-04_to_2024-02-05.txt", "chat_2024-03-01.txt"}, listNames(t, dir))
}

func TestProcessMissingDir(t *testing.T) {
	sum, err := newTestCurator().Process(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{Dedupe: true})
	assert.ErrorIs(t, err, ErrDirNotFound)
	assert.Zero(t, sum.Processed)
}
