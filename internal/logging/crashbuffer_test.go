package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrashBufferUnderLimit(t *testing.T) {
	b := NewCrashBuffer(64)
	_, _ = b.Write([]byte("one\n"))
	_, _ = b.Write([]byte("two\n"))
	assert.Equal(t, "one\ntwo\n", string(b.Bytes()))
	assert.Equal(t, 8, b.Len())
}

func TestCrashBufferTrimsWholeRecords(t *testing.T) {
	b := NewCrashBuffer(20)
	for _, rec := range []string{"aaaaaaaaa\n", "bbbbbbbbb\n", "ccccccccc\n"} {
		n, err := b.Write([]byte(rec))
		require.NoError(t, err)
		assert.Equal(t, len(rec), n)
	}
	// exactly on a record boundary: only the oldest record goes
	assert.Equal(t, "bbbbbbbbb\nccccccccc\n", string(b.Bytes()))

	_, _ = b.Write([]byte("dd\n"))
	// the overflow lands inside "bbb…", so that whole record is dropped
	assert.Equal(t, "ccccccccc\ndd\n", string(b.Bytes()))
}

func TestCrashBufferOversizedRecord(t *testing.T) {
	b := NewCrashBuffer(8)
	_, _ = b.Write([]byte("0123456789abcdef"))
	assert.Equal(t, "89abcdef", string(b.Bytes()))
}

func TestCrashBufferNeverStartsMidLine(t *testing.T) {
	b := NewCrashBuffer(100)
	for i := 0; i < 50; i++ {
		_, _ = fmt.Fprintf(b, "{\"n\":%d,\"msg\":\"record\"}\n", i)
	}
	data := string(b.Bytes())
	assert.LessOrEqual(t, len(data), 100)
	assert.True(t, strings.HasPrefix(data, "{\"n\":"), "got %q", data)
	assert.True(t, strings.HasSuffix(data, "{\"n\":49,\"msg\":\"record\"}\n"))
}

func TestCrashBufferDumpToFile(t *testing.T) {
	b := NewCrashBuffer(64)
	_, _ = b.Write([]byte("before the crash\n"))

	path := filepath.Join(t.TempDir(), "nested", "crash.log")
	require.NoError(t, b.DumpToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "before the crash\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCrashBufferConcurrentWrites(t *testing.T) {
	b := NewCrashBuffer(4096)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = fmt.Fprintf(b, "worker=%d i=%d\n", w, i)
			}
		}(w)
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimSuffix(string(b.Bytes()), "\n"), "\n") {
		assert.True(t, strings.HasPrefix(line, "worker="), "torn line %q", line)
	}
}
