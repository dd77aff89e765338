package curator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/asheshgoplani/chat-archive/internal/timestamps"
)

// ActionKind names a filesystem action.
type ActionKind string

const (
	ActionRename ActionKind = "rename"
	ActionRemove ActionKind = "remove"
)

// Reasons attached to actions that did not write.
const (
	ReasonDryRun           = "dry run"
	ReasonAlreadyCanonical = "already canonical"
	ReasonNoTimestamp      = "no timestamp"
	ReasonTargetExists     = "target exists"
	ReasonSourceMissing    = "source missing"
	ReasonContentMismatch  = "content mismatch"
)

// ActionResult is the outcome of one rename or remove. Done means the disk
// was changed. Skipped means the action was refused; Err holds the cause.
type ActionResult struct {
	Kind    ActionKind `json:"kind"`
	Source  string     `json:"source"`
	Target  string     `json:"target,omitempty"`
	DryRun  bool       `json:"dry_run,omitempty"`
	Done    bool       `json:"done"`
	Skipped bool       `json:"skipped,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Err     error      `json:"-"`
}

// Failed reports whether the action hit an error.
func (a ActionResult) Failed() bool {
	return a.Err != nil
}

// Noop reports a rename that had nothing to do.
func (a ActionResult) Noop() bool {
	return a.Kind == ActionRename && a.Err == nil && !a.Done &&
		(a.Reason == ReasonAlreadyCanonical || a.Reason == ReasonNoTimestamp)
}

func (a ActionResult) MarshalJSON() ([]byte, error) {
	type plain ActionResult
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(a)}
	if a.Err != nil {
		out.Error = a.Err.Error()
	}
	return json.Marshal(out)
}

// Rename moves path to its canonical name for w inside the same directory.
// It never overwrites: an existing target skips the rename with
// ErrTargetExists. A target that is the same file under a different case is
// not a conflict.
func (c *Curator) Rename(path string, w timestamps.Window) ActionResult {
	res := ActionResult{Kind: ActionRename, Source: path, Target: path, DryRun: c.DryRun}

	name := CanonicalName(filepath.Base(path), w)
	if w.IsAbsent() {
		res.Reason = ReasonNoTimestamp
		return res
	}
	target := filepath.Join(filepath.Dir(path), name)
	res.Target = target
	if target == path {
		res.Reason = ReasonAlreadyCanonical
		return res
	}

	src, err := os.Stat(path)
	if err != nil {
		return c.skip(res, ReasonSourceMissing, err)
	}
	if dst, err := os.Lstat(target); err == nil {
		if !os.SameFile(src, dst) {
			return c.skip(res, ReasonTargetExists, fmt.Errorf("%s: %w", target, ErrTargetExists))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return c.skip(res, ReasonTargetExists, err)
	}

	if c.DryRun {
		res.Reason = ReasonDryRun
		c.log().Info("rename_planned", slog.String("from", path), slog.String("to", target))
		return res
	}
	if err := os.Rename(path, target); err != nil {
		return c.skip(res, "", err)
	}
	res.Done = true
	c.log().Info("renamed", slog.String("from", path), slog.String("to", target))
	return res
}

// RemoveDuplicate deletes rec after confirming it still matches original.
// With VerifyBytes the contents are compared byte-for-byte; otherwise the
// recorded hashes must match.
func (c *Curator) RemoveDuplicate(rec, original FileRecord) ActionResult {
	res := ActionResult{Kind: ActionRemove, Source: rec.Path, Target: original.Path, DryRun: c.DryRun}

	if original.Path == "" || original.Path == rec.Path || rec.Hash != original.Hash {
		return c.skip(res, ReasonContentMismatch, fmt.Errorf("%s: %w", rec.Path, ErrContentMismatch))
	}
	if _, err := os.Stat(rec.Path); err != nil {
		return c.skip(res, ReasonSourceMissing, err)
	}
	if c.VerifyBytes {
		same, err := sameContent(rec.Path, original.Path)
		if err != nil {
			return c.skip(res, ReasonSourceMissing, err)
		}
		if !same {
			return c.skip(res, ReasonContentMismatch, fmt.Errorf("%s: %w", rec.Path, ErrContentMismatch))
		}
	}

	if c.DryRun {
		res.Reason = ReasonDryRun
		c.log().Info("remove_planned", slog.String("path", rec.Path), slog.String("original", original.Path))
		return res
	}
	if err := os.Remove(rec.Path); err != nil {
		return c.skip(res, "", err)
	}
	res.Done = true
	c.log().Info("removed_duplicate", slog.String("path", rec.Path), slog.String("original", original.Path))
	return res
}

func (c *Curator) skip(res ActionResult, reason string, err error) ActionResult {
	res.Skipped = true
	res.Reason = reason
	res.Err = err
	c.log().Warn(string(res.Kind)+"_skipped",
		slog.String("path", res.Source),
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	return res
}

// sameContent streams both files and compares them chunk by chunk.
func sameContent(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	ra, rb := bufio.NewReader(fa), bufio.NewReader(fb)
	bufA := make([]byte, 32*1024)
	bufB := make([]byte, 32*1024)
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA == doneB, nil
		}
	}
}
