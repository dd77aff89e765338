package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
)

// CrashBuffer keeps the most recent log output in memory so it can be
// written out after a panic. Old output is trimmed a whole record at a
// time, so a dump never starts in the middle of a line.
type CrashBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

// NewCrashBuffer returns a buffer holding at most limit bytes (default 1MB).
func NewCrashBuffer(limit int) *CrashBuffer {
	if limit <= 0 {
		limit = 1024 * 1024
	}
	return &CrashBuffer{limit: limit}
}

// Write appends p and trims the oldest records past the limit.
func (b *CrashBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	over := len(b.buf) - b.limit
	if over <= 0 {
		return len(p), nil
	}

	cut := over
	if i := bytes.IndexByte(b.buf[over-1:], '\n'); i >= 0 {
		cut = over + i
	}
	n := copy(b.buf, b.buf[cut:])
	b.buf = b.buf[:n]
	return len(p), nil
}

// Bytes returns a copy of the buffered output, oldest first.
func (b *CrashBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

// Len is the number of buffered bytes.
func (b *CrashBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// DumpToFile writes the buffered output to path with mode 0600, creating
// its directory.
func (b *CrashBuffer) DumpToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, b.Bytes(), 0o600)
}
