package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		out = append(out, line)
	}
	return out
}

func TestLoggerAddsComponentAndSession(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "viewer", slog.LevelDebug).WithSession("s-1").WithAttempt(2)

	logger.StageChanged("downloading", "extracting")
	logger.EntrySkipped("a/b.js", errors.New("crc mismatch"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "viewer", lines[0]["component"])
	assert.Equal(t, "s-1", lines[0]["session_id"])
	assert.EqualValues(t, 2, lines[0]["attempt"])
	assert.Equal(t, "extracting", lines[0]["to"])
	assert.Equal(t, "WARN", lines[1]["level"])
	assert.Equal(t, "crc mismatch", lines[1]["error"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "relay", ParseLevel("warn"))

	logger.MessageRelayed("content->host", "commit", 10)
	assert.Zero(t, buf.Len())

	logger.BlankScreenSuspected("no load signal")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestWithContextWithoutSpanIsNoop(t *testing.T) {
	logger := Discard()
	assert.Same(t, logger, logger.WithContext(context.Background()))
}
