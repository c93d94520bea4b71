package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestReplayLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.ReplayLogger("run-1", "pages").LogReplayOutcome("42", "patched", 3, nil)

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "linksweep", got[0]["service"])
	assert.Equal(t, "replay", got[0]["component"])
	assert.Equal(t, "run-1", got[0]["run"])
	assert.Equal(t, "pages", got[0]["collection"])
	assert.Equal(t, "patched", got[0]["state"])
	assert.Equal(t, float64(3), got[0]["replacements"])
	assert.Equal(t, "info", got[0]["level"])
}

func TestLogReplayOutcomeError(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	l.LogReplayOutcome("42", "failed", 0, errors.New("boom"))

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0]["level"])
	assert.Equal(t, "boom", got[0]["error"])
}

func TestStoreOperationRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	l.LogStoreOperation("get", time.Millisecond, 1, nil)
	assert.Empty(t, buf.String(), "debug event filtered at info level")

	l.LogStoreOperation("get", time.Millisecond, 1, errors.New("down"))
	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "store", got[0]["component"])
}

func TestLogRunSummary(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	l.LogRunSummary("analyze", map[string]int{"documents": 10, "matches": 2})

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "analyze_summary", got[0]["event"])
	assert.Equal(t, float64(10), got[0]["documents"])
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.LogScanMatch("c", "1", "u", 1)
	l.Info("ignored").Send()
}
