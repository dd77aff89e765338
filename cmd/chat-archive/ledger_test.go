package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/chat-archive/internal/curator"
	"github.com/asheshgoplani/chat-archive/internal/statedb"
	"github.com/asheshgoplani/chat-archive/internal/timestamps"
)

func TestActionToRowCarriesError(t *testing.T) {
	res := curator.ActionResult{
		Kind:    curator.ActionRename,
		Source:  "/a/chat.txt",
		Target:  "/a/chat_2024-02-04.txt",
		Skipped: true,
		Reason:  curator.ReasonTargetExists,
		Err:     fmt.Errorf("x: %w", curator.ErrTargetExists),
	}
	row := actionToRow("run-1", res)
	assert.Equal(t, "run-1", row.RunID)
	assert.Equal(t, "rename", row.Kind)
	assert.True(t, row.Skipped)
	assert.Equal(t, curator.ReasonTargetExists, row.Reason)
	assert.Contains(t, row.Error, "x: ")
	assert.False(t, row.At.IsZero())

	row = actionToRow("run-1", curator.ActionResult{Kind: curator.ActionRemove, Done: true})
	assert.Empty(t, row.Error)
	assert.True(t, row.Done)
}

func TestRecordToRowKeepsUnknownWindow(t *testing.T) {
	row := recordToRow("run-1", curator.FileRecord{Path: "/a/chat.txt", Hash: "abc"})
	assert.Nil(t, row.FirstTS)
	assert.Nil(t, row.LastTS)

	first := time.Date(2024, 2, 4, 10, 0, 0, 0, time.UTC)
	last := first.Add(48 * time.Hour)
	row = recordToRow("run-1", curator.FileRecord{Window: timestamps.WindowOf(last, first)})
	require.NotNil(t, row.FirstTS)
	assert.True(t, row.FirstTS.Equal(first))
	assert.True(t, row.LastTS.Equal(last))
}

func TestStateLedgerRecordsProcess(t *testing.T) {
	db, err := statedb.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	dir := t.TempDir()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeArchiveFile(t, dir, "chat_a.txt", "same 2024-02-04 10:00", t0)
	writeArchiveFile(t, dir, "chat_b.txt", "same 2024-02-04 10:00", t0.Add(time.Minute))

	c := curator.New(nil, nil)
	c.Ledger = stateLedger{db: db}
	sum, err := c.Process(context.Background(), dir, curator.Options{Dedupe: true})
	require.NoError(t, err)
	require.NotEmpty(t, sum.RunID)

	runs, err := db.LoadRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].ID)
	assert.Equal(t, 2, runs[0].Processed)
	assert.Equal(t, 1, runs[0].Removed)
	assert.False(t, runs[0].Finished.IsZero())

	recs, err := db.LoadRecords(sum.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, filepath.Join(dir, "chat_a.txt"), recs[1].DuplicateOf)
	require.NotNil(t, recs[0].FirstTS)

	acts, err := db.LoadActions(sum.RunID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "remove", acts[0].Kind)
	assert.True(t, acts[0].Done)
}
