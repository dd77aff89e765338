package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/asheshgoplani/chat-archive/internal/curator"
)

// parseLiterals splits args into positional values and the optional
// literal words in allowed. Any other word after the first want
// positionals is a usage error.
func parseLiterals(args []string, want int, allowed ...string) ([]string, map[string]bool, error) {
	if len(args) < want {
		return nil, nil, fmt.Errorf("expected %d argument(s), got %d", want, len(args))
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = false
	}
	for _, arg := range args[want:] {
		word := strings.ToLower(arg)
		if _, ok := set[word]; !ok {
			return nil, nil, fmt.Errorf("unexpected argument %q", arg)
		}
		set[word] = true
	}
	return args[:want], set, nil
}

func (a *app) newCurator(dryRun bool) *curator.Curator {
	c := curator.New(a.cfg.Table(), nil)
	c.DryRun = dryRun
	c.Workers = a.cfg.GetWorkers()
	c.VerifyBytes = a.cfg.GetVerifyBytes()
	return c
}

func (a *app) handleInfo(args []string) int {
	pos, _, err := parseLiterals(args, 1)
	if err != nil {
		return a.out.Usage("info <file>")
	}

	rec, err := a.newCurator(true).Inspect(pos[0])
	if err != nil {
		a.out.Error(err.Error(), ErrCodeNotFound)
		return exitFailure
	}

	window := rec.Label()
	if rec.FromModTime {
		window += dimStyle.Render(" (from modification time)")
	}
	rows := [][]string{
		{"FIELD", "VALUE"},
		{"path", FormatPath(rec.Path)},
		{"size", fmt.Sprintf("%d bytes", rec.Size)},
		{"sha256", rec.Hash},
		{"window", window},
		{"days", fmt.Sprintf("%d", rec.Window.DaySpan())},
		{"backup variant", yesNo(rec.BackupVariant)},
		{"suggested name", rec.SuggestedName},
	}
	a.out.Print(table(rows), rec)
	return exitOK
}

func (a *app) handleRename(args []string) int {
	pos, lit, err := parseLiterals(args, 1, "dryrun")
	if err != nil {
		return a.out.Usage("rename <file> [dryrun]")
	}

	c := a.newCurator(lit["dryrun"])
	rec, err := c.Inspect(pos[0])
	if err != nil {
		a.out.Error(err.Error(), ErrCodeNotFound)
		return exitFailure
	}

	res := c.Rename(rec.Path, rec.Window)
	if res.Failed() {
		code := ErrCodeNotFound
		if errors.Is(res.Err, curator.ErrTargetExists) {
			code = ErrCodeInvalidOperation
		}
		a.out.Error(fmt.Sprintf("rename %s: %v", rec.Name, res.Err), code)
		return exitFailure
	}
	a.out.Success(describeAction(res), res)
	return exitOK
}

func (a *app) handleProcess(ctx context.Context, args []string) int {
	pos, lit, err := parseLiterals(args, 1, "rename", "dryrun", "nodedupe", "recursive")
	if err != nil {
		return a.out.Usage("process <directory> [rename] [dryrun] [nodedupe] [recursive]")
	}
	opts := curator.Options{Dedupe: !lit["nodedupe"], Rename: lit["rename"]}
	return a.curate(ctx, pos[0], opts, lit["dryrun"], lit["recursive"])
}

func (a *app) handleDedupe(ctx context.Context, args []string) int {
	pos, lit, err := parseLiterals(args, 1, "dryrun", "recursive")
	if err != nil {
		return a.out.Usage("dedupe <directory> [dryrun] [recursive]")
	}
	return a.curate(ctx, pos[0], curator.Options{Dedupe: true}, lit["dryrun"], lit["recursive"])
}

// curate runs one Process call and reports its summary. Any errored file
// makes the exit code non-zero after the summary is printed.
func (a *app) curate(ctx context.Context, dir string, opts curator.Options, dryRun, recursive bool) int {
	c := a.newCurator(dryRun)
	c.Recursive = recursive
	if db := a.state(); db != nil {
		defer db.Close()
		c.Ledger = stateLedger{db: db}
	}

	sum, err := c.Process(ctx, dir, opts)
	if errors.Is(err, curator.ErrDirNotFound) {
		a.out.Error(err.Error(), ErrCodeNotFound)
		return exitFailure
	}

	a.out.Print(formatSummary(sum), sum)
	if err != nil {
		a.out.Error(err.Error(), ErrCodeInvalidOperation)
		return exitFailure
	}
	if sum.Errored > 0 {
		a.out.Error(fmt.Sprintf("%d file(s) errored", sum.Errored), ErrCodePartial)
		return exitFailure
	}
	return exitOK
}

func formatSummary(sum curator.Summary) string {
	var b strings.Builder
	mode := ""
	if sum.DryRun {
		mode = dimStyle.Render(" (dry run)")
	}
	fmt.Fprintf(&b, "%s processed %d file(s) in %s%s\n",
		successStyle.Render(successSymbol), sum.Processed, FormatPath(sum.Dir), mode)

	b.WriteString(columns([][]string{
		{"  succeeded", fmt.Sprintf("%d", sum.Succeeded)},
		{"  duplicates", fmt.Sprintf("%d", sum.Duplicates)},
		{"  removed", fmt.Sprintf("%d", sum.Removed)},
		{"  renamed", fmt.Sprintf("%d", sum.Renamed)},
		{"  errored", fmt.Sprintf("%d", sum.Errored)},
	}))

	for _, res := range sum.Actions {
		sym := bulletSymbol
		if res.Failed() {
			sym = errorStyle.Render(errorSymbol)
		}
		fmt.Fprintf(&b, "  %s %s\n", sym, describeAction(res))
	}
	for _, f := range sum.Failed {
		fmt.Fprintf(&b, "  %s %s\n", errorStyle.Render(errorSymbol), f.Error())
	}
	return b.String()
}

// describeAction renders one action result as a short sentence.
func describeAction(res curator.ActionResult) string {
	src := filepath.Base(res.Source)
	dst := filepath.Base(res.Target)

	if res.Failed() {
		return fmt.Sprintf("%s %s: %s", res.Kind, src, res.Reason)
	}
	switch res.Kind {
	case curator.ActionRename:
		switch {
		case res.Noop():
			return fmt.Sprintf("%s: %s", src, res.Reason)
		case res.DryRun:
			return fmt.Sprintf("would rename %s → %s", src, dst)
		default:
			return fmt.Sprintf("renamed %s → %s", src, dst)
		}
	case curator.ActionRemove:
		if res.DryRun {
			return fmt.Sprintf("would remove %s (duplicate of %s)", src, dst)
		}
		return fmt.Sprintf("removed %s (duplicate of %s)", src, dst)
	}
	return fmt.Sprintf("%s %s", res.Kind, src)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
