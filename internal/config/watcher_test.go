package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextUpdate(t *testing.T, w *Watcher) Update {
	t.Helper()
	select {
	case u := <-w.Updates():
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no config update")
		return Update{}
	}
}

// awaitUpdate skips updates that observed a half-written file.
func awaitUpdate(t *testing.T, w *Watcher, match func(Update) bool) Update {
	t.Helper()
	for {
		if u := nextUpdate(t, w); match(u) {
			return u
		}
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[output]\nmax_lines = 1\n")
	t.Setenv(EnvPath, path)
	ClearCache()
	t.Cleanup(ClearCache)
	_, err := LoadUser()
	require.NoError(t, err)

	w, err := NewWatcher(path)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	writeConfig(t, dir, "[output]\nmax_lines = 2\n")
	awaitUpdate(t, w, func(u Update) bool {
		return u.Err == nil && u.Config.Output.MaxLines == 2
	})

	cached, err := LoadUser()
	require.NoError(t, err)
	assert.Equal(t, 2, cached.Output.MaxLines, "reload refreshes the cache")
}

func TestWatcher_ReportsParseErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	writeConfig(t, dir, "[broken")
	u := awaitUpdate(t, w, func(u Update) bool { return u.Err != nil })
	assert.Nil(t, u.Config)
	assert.Contains(t, u.Err.Error(), "parse error")
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1"), 0o600))
	select {
	case u := <-w.Updates():
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	for i := 1; i <= 5; i++ {
		writeConfig(t, dir, "[output]\nmax_lines = "+string(rune('0'+i))+"\n")
	}
	awaitUpdate(t, w, func(u Update) bool {
		return u.Err == nil && u.Config.Output.MaxLines == 5
	})
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
