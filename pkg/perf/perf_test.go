package perf

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	handle, err := os.Open(path)
	require.NoError(t, err)
	defer handle.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(handle)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger(t *testing.T) {
	t.Run("Should append one json line per finished span", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "perf.log")
		logger := NewLogger(path)

		span := logger.Start("query_service:create_query", map[string]any{"query_id": "q1"})
		span.Finish(map[string]any{"status": "SUCCESSFUL"})

		entries := readEntries(t, path)
		require.Len(t, entries, 1)
		assert.Equal(t, "query_service:create_query", entries[0]["label"])
		assert.Equal(t, "q1", entries[0]["query_id"])
		assert.Equal(t, "SUCCESSFUL", entries[0]["status"])
		assert.Contains(t, entries[0], "duration_ms")
		assert.Contains(t, entries[0], "ts")
	})

	t.Run("Should let finish fields override context fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "perf.log")
		logger := NewLogger(path)
		logger.Start("op", map[string]any{"status": "PENDING"}).
			Finish(map[string]any{"status": "FAILED"})
		entries := readEntries(t, path)
		require.Len(t, entries, 1)
		assert.Equal(t, "FAILED", entries[0]["status"])
	})

	t.Run("Should create missing sink directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "deeper", "perf.log")
		logger := NewLogger(path)
		logger.Start("op", nil).Finish(nil)
		assert.Len(t, readEntries(t, path), 1)
	})

	t.Run("Should swallow sink failures", func(t *testing.T) {
		logger := NewLogger(string([]byte{0}))
		assert.NotPanics(t, func() {
			logger.Start("op", nil).Finish(nil)
		})
	})

	t.Run("Should do nothing for noop loggers and nil spans", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Noop().Start("op", nil).Finish(nil)
			var span *Span
			span.Finish(nil)
		})
	})
}
