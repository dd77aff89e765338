// Package curator scans a directory of chat exports, groups byte-identical
// files, and renames or removes them to keep one canonically named copy.
package curator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/asheshgoplani/chat-archive/internal/timestamps"
)

var (
	// ErrDirNotFound is returned when the target directory does not exist.
	ErrDirNotFound = errors.New("directory not found")

	// ErrContentMismatch is returned when a duplicate candidate differs from
	// its original byte-for-byte despite an equal digest.
	ErrContentMismatch = errors.New("content differs from original")

	// ErrTargetExists is returned when a rename would overwrite another file.
	ErrTargetExists = errors.New("target name already exists")
)

// FileRecord is the per-file metadata gathered by one scan.
type FileRecord struct {
	Path          string            `json:"path"`
	Name          string            `json:"name"`
	Size          int64             `json:"size"`
	ModTime       time.Time         `json:"mod_time"`
	Hash          string            `json:"hash"`
	Window        timestamps.Window `json:"window"`
	FromModTime   bool              `json:"from_mod_time,omitempty"`
	BackupVariant bool              `json:"backup_variant,omitempty"`
	SuggestedName string            `json:"suggested_name"`
	IsDuplicate   bool              `json:"is_duplicate,omitempty"`
	DuplicateOf   string            `json:"duplicate_of,omitempty"`
}

// Label is the canonical date label of the record's window.
func (r FileRecord) Label() string {
	return r.Window.Label()
}

// NeedsRename reports whether the suggested name differs from the current one.
func (r FileRecord) NeedsRename() bool {
	return r.SuggestedName != "" && r.SuggestedName != r.Name
}

// FileError describes a file skipped during a scan.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

func (e FileError) Error() string {
	return e.Path + ": " + e.Err
}

// Inspect builds the record for a single file. The window is mined from the
// content and falls back to the modification time when nothing is found.
func (c *Curator) Inspect(path string) (FileRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileRecord{}, err
	}
	if info.IsDir() {
		return FileRecord{}, fmt.Errorf("%s is a directory", path)
	}
	hash, err := HashFile(path)
	if err != nil {
		return FileRecord{}, err
	}
	w, err := c.miner().MineFile(path)
	if err != nil {
		return FileRecord{}, err
	}

	rec := FileRecord{
		Path:          path,
		Name:          filepath.Base(path),
		Size:          info.Size(),
		ModTime:       info.ModTime(),
		Hash:          hash,
		BackupVariant: IsBackupVariant(path),
	}
	if w.IsAbsent() {
		w = w.OrFallback(info.ModTime())
		rec.FromModTime = !w.IsAbsent()
	}
	rec.Window = w
	rec.SuggestedName = CanonicalName(rec.Name, w)
	return rec, nil
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
