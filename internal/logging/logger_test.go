package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), sc.Text())
		out = append(out, rec)
	}
	return out
}

func TestInit_WritesJSONRecords(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	Logger().Info("hello", "key", "value")
	assert.Equal(t, filepath.Join(dir, DefaultFileName), LogPath())

	recs := readRecords(t, LogPath())
	require.Len(t, recs, 1)
	assert.Equal(t, "hello", recs[0]["msg"])
	assert.Equal(t, "value", recs[0]["key"])
}

func TestInit_DiscardsWithoutDir(t *testing.T) {
	Init(Config{})
	defer Shutdown()

	assert.Empty(t, LogPath())
	ForComponent(CompUI).Error("dropped")
	assert.Empty(t, CrashDump("boom"))
}

func TestForComponent_CreatedBeforeInit(t *testing.T) {
	Shutdown()
	log := ForComponent(CompPTY).With("session", "abc")

	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	log.WithGroup("read").Info("chunk", "bytes", 12)
	log.Debug("filtered out at info level")

	recs := readRecords(t, LogPath())
	require.Len(t, recs, 1)
	assert.Equal(t, "pty", recs[0]["component"])
	assert.Equal(t, "abc", recs[0]["session"])
	group, ok := recs[0]["read"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 12, group["bytes"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestCrashDump(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Format: "text"})
	defer Shutdown()

	Logger().Warn("before the crash")
	path := CrashDump("kaboom")
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "before the crash")
	assert.Contains(t, string(data), "kaboom")
}

func TestAggregate_Summaries(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, AggregateIntervalSecs: 3600})

	for i := 0; i < 5; i++ {
		AggregateN(CompPTY, "read", 100, slog.String("session", "s1"))
	}
	Aggregate(CompTerminal, "poll")
	Shutdown()

	recs := readRecords(t, filepath.Join(dir, DefaultFileName))
	require.Len(t, recs, 2)
	assert.Equal(t, "event_summary", recs[0]["msg"])
	assert.Equal(t, "pty", recs[0]["component"])
	assert.EqualValues(t, 5, recs[0]["count"])
	assert.EqualValues(t, 500, recs[0]["total"])
	assert.Equal(t, "s1", recs[0]["session"])
	assert.Equal(t, "terminal", recs[1]["component"])
	assert.NotContains(t, recs[1], "total")
}
