package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLoggerWritesCategoryAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsole(&buf)

	l.LogWallet("DEBIT", "ABC123", "applied 10")

	out := buf.String()
	assert.Contains(t, out, "WALLET")
	assert.Contains(t, out, "[DEBIT] ABC123 - applied 10")
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsole(&buf)
	l.minLevel = WARN

	l.Info("APP", "hidden")
	l.Warn("APP", "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestFileLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOG_DIR", dir)

	l := NewLogger()
	l.terminal = &bytes.Buffer{}
	l.Error("DATABASE", "connection refused")
	l.Close()

	files, err := filepath.Glob(filepath.Join(dir, "ms-ledger-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry.Category == "DATABASE" {
			found = true
			assert.Equal(t, "ERROR", entry.Level)
			assert.Equal(t, "connection refused", entry.Message)
		}
	}
	assert.True(t, found)
}

func TestNilAndDiscardLoggersAreSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Info("APP", "nothing") })
	assert.NotPanics(t, func() { NewDiscard().Error("APP", "nothing") })
}
