package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/chat-archive/internal/classify"
)

// FileName is the user config file inside the archive home directory.
const FileName = "config.toml"

// HomeEnv overrides the archive home directory (~/.chat-archive).
const HomeEnv = "CHAT_ARCHIVE_HOME"

// UserConfig is the TOML-backed user configuration.
type UserConfig struct {
	// Logs configures the rotating debug log
	Logs LogSettings `toml:"logs"`

	// Index configures the full-text index and search defaults
	Index IndexSettings `toml:"index"`

	// Curator configures scanning, dedupe and renaming
	Curator CuratorSettings `toml:"curator"`

	// Extract configures entry extraction
	Extract ExtractSettings `toml:"extract"`

	// Watch configures the index watcher
	Watch WatchSettings `toml:"watch"`

	// State configures the SQLite ledger
	State StateSettings `toml:"state"`
}

// LogSettings mirrors logging.Config in TOML form.
type LogSettings struct {
	// Level is "debug", "info", "warn" or "error" (default: info)
	Level string `toml:"level"`

	// Format is "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB before rotation (default: 10)
	MaxSizeMB int `toml:"max_size_mb"`

	// Backups is the number of rotated files kept (default: 5)
	Backups int `toml:"backups"`

	// RetentionDays for rotated files (default: 10)
	RetentionDays int `toml:"retention_days"`

	// Compress rotated files
	Compress bool `toml:"compress"`

	// CrashBufferKB is the in-memory crash buffer size (default: 1024)
	CrashBufferKB int `toml:"crash_buffer_kb"`

	// AggregateIntervalSecs for batched per-item events (default: 30)
	AggregateIntervalSecs int `toml:"aggregate_interval_secs"`
}

// IndexSettings configures the search index.
type IndexSettings struct {
	// Extensions overrides the indexed extension allow-list
	Extensions []string `toml:"extensions"`

	// ContextLines around each matching line in snippets (default: 2)
	ContextLines *int `toml:"context_lines"`

	// MaxDistance is the fuzzy edit distance bound (default: 2)
	MaxDistance int `toml:"max_distance"`

	// TagMap is an optional JSON tag table enriching file metadata
	TagMap string `toml:"tag_map"`

	// File is where the JSON index is persisted (default: <home>/index.json)
	File string `toml:"file"`
}

// CuratorSettings configures the archive curator.
type CuratorSettings struct {
	// Keywords overrides the loose filename filter; an explicit empty list accepts all files
	Keywords *[]string `toml:"keywords"`

	// Workers hashing files in parallel (default: 4)
	Workers int `toml:"workers"`

	// VerifyBytes compares duplicate contents byte-for-byte before deleting (default: true)
	VerifyBytes *bool `toml:"verify_bytes"`
}

// ExtractSettings configures entry extraction.
type ExtractSettings struct {
	// Extensions overrides the extraction allow-list
	Extensions []string `toml:"extensions"`
}

// WatchSettings configures the index watcher.
type WatchSettings struct {
	// DebounceMS waits for writes to settle per file (default: 300)
	DebounceMS int `toml:"debounce_ms"`

	// RatePerSec limits re-indexing (default: 20)
	RatePerSec float64 `toml:"rate_per_sec"`

	// Burst for the re-index limiter (default: 5)
	Burst int `toml:"burst"`
}

// StateSettings configures the SQLite ledger.
type StateSettings struct {
	// Enabled records runs and actions (default: true)
	Enabled *bool `toml:"enabled"`

	// DBPath overrides <home>/state.db
	DBPath string `toml:"db_path"`
}

// ParseError is returned when the config file exists but cannot be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "config.toml parse error (" + e.Path + "): " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	cache   *UserConfig
	cacheMu sync.RWMutex
)

// HomeDir returns the archive home directory, honoring CHAT_ARCHIVE_HOME.
func HomeDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".chat-archive"), nil
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load returns the cached user config, reading it on first use.
// A missing file yields defaults; a broken file yields defaults and a *ParseError.
func Load() (*UserConfig, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		cache = &UserConfig{}
		return cache, nil
	}
	cfg, err := LoadFile(path)
	cache = cfg
	return cache, err
}

// LoadFile reads a config file at an explicit path without touching the cache.
func LoadFile(path string) (*UserConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &UserConfig{}, nil
	}
	var cfg UserConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &UserConfig{}, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Use replaces the cached config, e.g. after loading an explicit --config file.
func Use(cfg *UserConfig) {
	cacheMu.Lock()
	cache = cfg
	cacheMu.Unlock()
}

// ClearCache drops the cached config so the next Load reads from disk.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

// Save writes cfg to path atomically (temp file, fsync, rename).
func Save(path string, cfg *UserConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# chat-archive configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}
	ClearCache()
	return nil
}

// GetLogSettings returns log settings with defaults applied.
func (c *UserConfig) GetLogSettings() LogSettings {
	s := c.Logs
	if s.Level == "" {
		s.Level = "info"
	}
	if s.Format == "" {
		s.Format = "json"
	}
	if s.MaxSizeMB <= 0 {
		s.MaxSizeMB = 10
	}
	if s.Backups <= 0 {
		s.Backups = 5
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = 10
	}
	if s.CrashBufferKB <= 0 {
		s.CrashBufferKB = 1024
	}
	if s.AggregateIntervalSecs <= 0 {
		s.AggregateIntervalSecs = 30
	}
	return s
}

// GetContextLines returns the snippet context window (default 2).
func (c *UserConfig) GetContextLines() int {
	if c.Index.ContextLines == nil || *c.Index.ContextLines < 0 {
		return 2
	}
	return *c.Index.ContextLines
}

// GetMaxDistance returns the fuzzy edit distance bound (default 2).
func (c *UserConfig) GetMaxDistance() int {
	if c.Index.MaxDistance <= 0 {
		return 2
	}
	return c.Index.MaxDistance
}

// GetIndexFile returns the JSON index location.
func (c *UserConfig) GetIndexFile() string {
	if c.Index.File != "" {
		return c.Index.File
	}
	dir, err := HomeDir()
	if err != nil {
		return "index.json"
	}
	return filepath.Join(dir, "index.json")
}

// GetWorkers returns the hashing worker count (default 4).
func (c *UserConfig) GetWorkers() int {
	if c.Curator.Workers <= 0 {
		return 4
	}
	return c.Curator.Workers
}

// GetVerifyBytes reports whether duplicate deletes are byte-verified (default true).
func (c *UserConfig) GetVerifyBytes() bool {
	if c.Curator.VerifyBytes == nil {
		return true
	}
	return *c.Curator.VerifyBytes
}

// GetWatchSettings returns watcher settings with defaults applied.
func (c *UserConfig) GetWatchSettings() WatchSettings {
	s := c.Watch
	if s.DebounceMS <= 0 {
		s.DebounceMS = 300
	}
	if s.RatePerSec <= 0 {
		s.RatePerSec = 20
	}
	if s.Burst <= 0 {
		s.Burst = 5
	}
	return s
}

// GetStateEnabled reports whether the SQLite ledger is used (default true).
func (c *UserConfig) GetStateEnabled() bool {
	if c.State.Enabled == nil {
		return true
	}
	return *c.State.Enabled
}

// GetStateDBPath returns the SQLite ledger location.
func (c *UserConfig) GetStateDBPath() string {
	if c.State.DBPath != "" {
		return c.State.DBPath
	}
	dir, err := HomeDir()
	if err != nil {
		return "state.db"
	}
	return filepath.Join(dir, "state.db")
}

// Table returns the default classification table with this config's
// overrides applied.
func (c *UserConfig) Table() *classify.Table {
	t := classify.Default()
	if len(c.Index.Extensions) > 0 {
		t.IndexExtensions = classify.NormalizeExtensions(c.Index.Extensions)
	}
	if len(c.Extract.Extensions) > 0 {
		t.ExtractExtensions = classify.NormalizeExtensions(c.Extract.Extensions)
	}
	if c.Curator.Keywords != nil {
		t.ArchiveNameKeywords = append([]string(nil), (*c.Curator.Keywords)...)
	}
	return t
}
