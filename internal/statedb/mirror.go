package statedb

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/asheshgoplani/chat-archive/internal/search"
)

// SaveIndex replaces the index mirror with idx in a single transaction. It
// forgets any recorded JSON import, since the mirror no longer holds it.
func (s *StateDB) SaveIndex(idx *search.Index) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin save index: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM index_tokens"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM index_files"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM metadata WHERE key = ?", importKey); err != nil {
		return err
	}

	fileStmt, err := tx.Prepare(`
		INSERT INTO index_files (path, filename, modified, category, preview)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer fileStmt.Close()

	for _, rel := range idx.Paths() {
		meta := idx.Files[rel]
		if _, err := fileStmt.Exec(rel, meta.Filename, meta.Modified,
			nullString(meta.Category), nullString(meta.Preview)); err != nil {
			return fmt.Errorf("statedb: save file %s: %w", rel, err)
		}
	}

	tokStmt, err := tx.Prepare("INSERT OR IGNORE INTO index_tokens (token, path) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer tokStmt.Close()

	for tok, paths := range idx.Tokens {
		for _, rel := range paths {
			if _, ok := idx.Files[rel]; !ok {
				continue
			}
			if _, err := tokStmt.Exec(tok, rel); err != nil {
				return fmt.Errorf("statedb: save token %q: %w", tok, err)
			}
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES ('index_saved_at', ?)",
		strconv.FormatInt(time.Now().UnixNano(), 10),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadIndex reads the index mirror. An empty mirror yields an empty index.
func (s *StateDB) LoadIndex() (*search.Index, error) {
	idx := search.NewIndex()

	rows, err := s.db.Query("SELECT path, filename, modified, category, preview FROM index_files")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rel string
		var meta search.FileMeta
		var category, preview sql.NullString
		if err := rows.Scan(&rel, &meta.Filename, &meta.Modified, &category, &preview); err != nil {
			return nil, err
		}
		meta.Category = stringPtr(category)
		meta.Preview = stringPtr(preview)
		idx.Files[rel] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tokRows, err := s.db.Query("SELECT token, path FROM index_tokens ORDER BY token, path")
	if err != nil {
		return nil, err
	}
	defer tokRows.Close()
	for tokRows.Next() {
		var tok, rel string
		if err := tokRows.Scan(&tok, &rel); err != nil {
			return nil, err
		}
		idx.Tokens[tok] = append(idx.Tokens[tok], rel)
	}
	return idx, tokRows.Err()
}

// IndexFileCount returns the number of files in the mirror.
func (s *StateDB) IndexFileCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM index_files").Scan(&count)
	return count, err
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
