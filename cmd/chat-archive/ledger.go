package main

import (
	"time"

	"github.com/asheshgoplani/chat-archive/internal/curator"
	"github.com/asheshgoplani/chat-archive/internal/statedb"
)

// stateLedger records curator runs in the SQLite state database.
type stateLedger struct {
	db *statedb.StateDB
}

var _ curator.Ledger = stateLedger{}

func (l stateLedger) BeginRun(dir string, dryRun bool) (string, error) {
	return l.db.BeginRun(dir, dryRun)
}

func (l stateLedger) SaveRecord(runID string, rec curator.FileRecord) error {
	return l.db.SaveRecord(recordToRow(runID, rec))
}

func (l stateLedger) SaveAction(runID string, res curator.ActionResult) error {
	return l.db.SaveAction(actionToRow(runID, res))
}

func (l stateLedger) FinishRun(runID string, sum curator.Summary) error {
	return l.db.FinishRun(summaryToRow(runID, sum))
}

func recordToRow(runID string, rec curator.FileRecord) statedb.RecordRow {
	return statedb.RecordRow{
		RunID:         runID,
		Path:          rec.Path,
		Hash:          rec.Hash,
		Size:          rec.Size,
		ModTime:       rec.ModTime,
		FirstTS:       rec.Window.First,
		LastTS:        rec.Window.Last,
		DuplicateOf:   rec.DuplicateOf,
		BackupVariant: rec.BackupVariant,
		SuggestedName: rec.SuggestedName,
	}
}

func actionToRow(runID string, res curator.ActionResult) statedb.ActionRow {
	row := statedb.ActionRow{
		RunID:   runID,
		Kind:    string(res.Kind),
		Source:  res.Source,
		Target:  res.Target,
		DryRun:  res.DryRun,
		Done:    res.Done,
		Skipped: res.Skipped,
		Reason:  res.Reason,
		At:      time.Now(),
	}
	if res.Err != nil {
		row.Error = res.Err.Error()
	}
	return row
}

func summaryToRow(runID string, sum curator.Summary) statedb.RunRow {
	return statedb.RunRow{
		ID:         runID,
		Dir:        sum.Dir,
		Finished:   time.Now(),
		DryRun:     sum.DryRun,
		Processed:  sum.Processed,
		Succeeded:  sum.Succeeded,
		Duplicates: sum.Duplicates,
		Renamed:    sum.Renamed,
		Removed:    sum.Removed,
		Errored:    sum.Errored,
	}
}
