package main

import (
	"fmt"
	"strconv"

	"github.com/asheshgoplani/chat-archive/internal/statedb"
)

const defaultHistory = 10

// runHistory is one run with its actions, as shown by the history command.
type runHistory struct {
	*statedb.RunRow
	Actions []*statedb.ActionRow `json:"actions,omitempty"`
}

func (a *app) handleHistory(args []string) int {
	limit := defaultHistory
	switch len(args) {
	case 0:
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return a.out.Usage("history [n]")
		}
		limit = n
	default:
		return a.out.Usage("history [n]")
	}

	if a.openState == nil {
		a.out.Error("the state database is disabled ([state] enabled = false)", ErrCodeInvalidOperation)
		return exitFailure
	}
	db, err := a.openState()
	if err != nil {
		a.out.Error(fmt.Sprintf("open state database: %v", err), ErrCodeInvalidOperation)
		return exitFailure
	}
	defer db.Close()

	runs, err := db.LoadRuns(limit)
	if err != nil {
		a.out.Error(fmt.Sprintf("load runs: %v", err), ErrCodeInvalidOperation)
		return exitFailure
	}
	history := make([]runHistory, 0, len(runs))
	for _, r := range runs {
		acts, err := db.LoadActions(r.ID)
		if err != nil {
			a.out.Error(fmt.Sprintf("load actions of %s: %v", r.ID, err), ErrCodeInvalidOperation)
			return exitFailure
		}
		history = append(history, runHistory{RunRow: r, Actions: acts})
	}

	a.out.Print(formatHistory(history), history)
	return exitOK
}

func formatHistory(history []runHistory) string {
	if len(history) == 0 {
		return "No curation runs recorded.\n"
	}
	rows := [][]string{{"STARTED", "DIR", "MODE", "FILES", "DUPES", "REMOVED", "RENAMED", "ERRORS"}}
	for _, h := range history {
		mode := "apply"
		if h.DryRun {
			mode = "dry run"
		}
		if h.Finished.IsZero() {
			mode += " (unfinished)"
		}
		rows = append(rows, []string{
			h.Started.Local().Format("2006-01-02 15:04"),
			truncate(FormatPath(h.Dir), 40),
			mode,
			strconv.Itoa(h.Processed),
			strconv.Itoa(h.Duplicates),
			strconv.Itoa(h.Removed),
			strconv.Itoa(h.Renamed),
			strconv.Itoa(h.Errored),
		})
	}
	return table(rows)
}
