package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database holding the curation ledger and a mirror
// of the search index. Safe for concurrent use within one process; several
// processes can share the file via WAL mode and the busy timeout.
type StateDB struct {
	db *sql.DB
}

// RunRow is one curation run.
type RunRow struct {
	ID         string
	Dir        string
	Started    time.Time
	Finished   time.Time // zero while the run is open
	DryRun     bool
	Processed  int
	Succeeded  int
	Duplicates int
	Renamed    int
	Removed    int
	Errored    int
}

// RecordRow is a file as seen by one run.
type RecordRow struct {
	RunID         string
	Path          string
	Hash          string
	Size          int64
	ModTime       time.Time
	FirstTS       *time.Time
	LastTS        *time.Time
	DuplicateOf   string
	BackupVariant bool
	SuggestedName string
}

// ActionRow is one rename or remove attempted by a run.
type ActionRow struct {
	RunID   string
	Kind    string
	Source  string
	Target  string
	DryRun  bool
	Done    bool
	Skipped bool
	Reason  string
	Error   string
	At      time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	// Per-connection pragmas go in the DSN.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and runs any pending migrations.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		name string
		sql  string
	}{
		{"metadata", `
			CREATE TABLE IF NOT EXISTS metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
		{"runs", `
			CREATE TABLE IF NOT EXISTS runs (
				id          TEXT PRIMARY KEY,
				dir         TEXT NOT NULL,
				started     INTEGER NOT NULL,
				finished    INTEGER NOT NULL DEFAULT 0,
				dry_run     INTEGER NOT NULL DEFAULT 0,
				processed   INTEGER NOT NULL DEFAULT 0,
				succeeded   INTEGER NOT NULL DEFAULT 0,
				duplicates  INTEGER NOT NULL DEFAULT 0,
				renamed     INTEGER NOT NULL DEFAULT 0,
				removed     INTEGER NOT NULL DEFAULT 0,
				errored     INTEGER NOT NULL DEFAULT 0
			)`},
		{"records", `
			CREATE TABLE IF NOT EXISTS records (
				run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				path           TEXT NOT NULL,
				hash           TEXT NOT NULL,
				size           INTEGER NOT NULL DEFAULT 0,
				mod_time       INTEGER NOT NULL DEFAULT 0,
				first_ts       INTEGER,
				last_ts        INTEGER,
				duplicate_of   TEXT NOT NULL DEFAULT '',
				backup_variant INTEGER NOT NULL DEFAULT 0,
				suggested_name TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (run_id, path)
			)`},
		{"records hash index", `CREATE INDEX IF NOT EXISTS records_hash ON records(hash)`},
		{"actions", `
			CREATE TABLE IF NOT EXISTS actions (
				id      INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				kind    TEXT NOT NULL,
				source  TEXT NOT NULL,
				target  TEXT NOT NULL DEFAULT '',
				dry_run INTEGER NOT NULL DEFAULT 0,
				done    INTEGER NOT NULL DEFAULT 0,
				skipped INTEGER NOT NULL DEFAULT 0,
				reason  TEXT NOT NULL DEFAULT '',
				error   TEXT NOT NULL DEFAULT '',
				at      INTEGER NOT NULL
			)`},
		{"index_files", `
			CREATE TABLE IF NOT EXISTS index_files (
				path     TEXT PRIMARY KEY,
				filename TEXT NOT NULL,
				modified INTEGER NOT NULL,
				category TEXT,
				preview  TEXT
			)`},
		{"index_tokens", `
			CREATE TABLE IF NOT EXISTS index_tokens (
				token TEXT NOT NULL,
				path  TEXT NOT NULL REFERENCES index_files(path) ON DELETE CASCADE,
				PRIMARY KEY (token, path)
			) WITHOUT ROWID`},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.sql); err != nil {
			return fmt.Errorf("statedb: create %s: %w", st.name, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Curation ledger ---

// BeginRun opens a run and returns its id.
func (s *StateDB) BeginRun(dir string, dryRun bool) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO runs (id, dir, started, dry_run) VALUES (?, ?, ?, ?)",
		id, dir, time.Now().UnixNano(), boolInt(dryRun),
	)
	if err != nil {
		return "", fmt.Errorf("statedb: begin run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final counts of run and stamps it finished.
func (s *StateDB) FinishRun(run RunRow) error {
	finished := run.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	res, err := s.db.Exec(`
		UPDATE runs SET finished = ?, processed = ?, succeeded = ?, duplicates = ?,
			renamed = ?, removed = ?, errored = ?
		WHERE id = ?
	`, finished.UnixNano(), run.Processed, run.Succeeded, run.Duplicates,
		run.Renamed, run.Removed, run.Errored, run.ID)
	if err != nil {
		return fmt.Errorf("statedb: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("statedb: finish run %s: no such run", run.ID)
	}
	return nil
}

// SaveRecord inserts or replaces a record of a run.
func (s *StateDB) SaveRecord(rec RecordRow) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO records (
			run_id, path, hash, size, mod_time, first_ts, last_ts,
			duplicate_of, backup_variant, suggested_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID, rec.Path, rec.Hash, rec.Size, rec.ModTime.UnixNano(),
		nullTime(rec.FirstTS), nullTime(rec.LastTS),
		rec.DuplicateOf, boolInt(rec.BackupVariant), rec.SuggestedName,
	)
	return err
}

// SaveAction appends an action to a run.
func (s *StateDB) SaveAction(act ActionRow) error {
	at := act.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO actions (run_id, kind, source, target, dry_run, done, skipped, reason, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		act.RunID, act.Kind, act.Source, act.Target,
		boolInt(act.DryRun), boolInt(act.Done), boolInt(act.Skipped),
		act.Reason, act.Error, at.UnixNano(),
	)
	return err
}

// LoadRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (s *StateDB) LoadRuns(limit int) ([]*RunRow, error) {
	query := `
		SELECT id, dir, started, finished, dry_run,
			processed, succeeded, duplicates, renamed, removed, errored
		FROM runs ORDER BY started DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunRow
	for rows.Next() {
		r := &RunRow{}
		var started, finished int64
		var dryRun int
		if err := rows.Scan(
			&r.ID, &r.Dir, &started, &finished, &dryRun,
			&r.Processed, &r.Succeeded, &r.Duplicates, &r.Renamed, &r.Removed, &r.Errored,
		); err != nil {
			return nil, err
		}
		r.Started = time.Unix(0, started)
		if finished > 0 {
			r.Finished = time.Unix(0, finished)
		}
		r.DryRun = dryRun != 0
		result = append(result, r)
	}
	return result, rows.Err()
}

// LoadRecords returns the records of a run ordered by path.
func (s *StateDB) LoadRecords(runID string) ([]*RecordRow, error) {
	rows, err := s.db.Query(`
		SELECT run_id, path, hash, size, mod_time, first_ts, last_ts,
			duplicate_of, backup_variant, suggested_name
		FROM records WHERE run_id = ? ORDER BY path
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RecordRow
	for rows.Next() {
		r := &RecordRow{}
		var modTime int64
		var first, last sql.NullInt64
		var backup int
		if err := rows.Scan(
			&r.RunID, &r.Path, &r.Hash, &r.Size, &modTime, &first, &last,
			&r.DuplicateOf, &backup, &r.SuggestedName,
		); err != nil {
			return nil, err
		}
		r.ModTime = time.Unix(0, modTime)
		r.FirstTS = timePtr(first)
		r.LastTS = timePtr(last)
		r.BackupVariant = backup != 0
		result = append(result, r)
	}
	return result, rows.Err()
}

// LoadActions returns the actions of a run in the order they were taken.
func (s *StateDB) LoadActions(runID string) ([]*ActionRow, error) {
	rows, err := s.db.Query(`
		SELECT run_id, kind, source, target, dry_run, done, skipped, reason, error, at
		FROM actions WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ActionRow
	for rows.Next() {
		a := &ActionRow{}
		var dryRun, done, skipped int
		var at int64
		if err := rows.Scan(
			&a.RunID, &a.Kind, &a.Source, &a.Target, &dryRun, &done, &skipped,
			&a.Reason, &a.Error, &at,
		); err != nil {
			return nil, err
		}
		a.DryRun = dryRun != 0
		a.Done = done != 0
		a.Skipped = skipped != 0
		a.At = time.Unix(0, at)
		result = append(result, a)
	}
	return result, rows.Err()
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}
