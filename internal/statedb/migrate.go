package statedb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/asheshgoplani/chat-archive/internal/search"
)

// ImportResult reports what ImportIndexJSON did.
type ImportResult struct {
	Files   int
	Tokens  int
	Skipped bool
}

// importKey is the metadata key remembering which JSON index the mirror holds.
// There is one mirror, so there is one key.
const importKey = "index_import"

// ImportIndexJSON loads a JSON index written by search.Index.Save into the
// mirror. The import is skipped when the mirror still holds this file,
// unchanged since it was imported.
func ImportIndexJSON(jsonPath string, db *StateDB) (ImportResult, error) {
	abs, err := filepath.Abs(jsonPath)
	if err != nil {
		abs = jsonPath
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ImportResult{}, fmt.Errorf("stat index: %w", err)
	}
	stamp := strconv.FormatInt(info.ModTime().UnixNano(), 10) + ":" +
		strconv.FormatInt(info.Size(), 10) + " " + abs

	prev, err := db.GetMeta(importKey)
	if err != nil {
		return ImportResult{}, err
	}
	if prev == stamp {
		return ImportResult{Skipped: true}, nil
	}

	idx, err := search.Load(abs)
	if err != nil {
		return ImportResult{}, fmt.Errorf("read index: %w", err)
	}
	if err := db.SaveIndex(idx); err != nil {
		return ImportResult{}, fmt.Errorf("save index: %w", err)
	}
	if err := db.SetMeta(importKey, stamp); err != nil {
		return ImportResult{}, err
	}
	return ImportResult{Files: len(idx.Files), Tokens: len(idx.Tokens)}, nil
}
