package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	assert.Equal(t, 30, c.Timeouts.RegularSecs)
	assert.Equal(t, 300, c.Timeouts.InteractiveSecs)
	assert.False(t, c.Timeouts.KillOnTimeout)
	assert.Equal(t, 5, c.Timeouts.KillGraceSecs)
	assert.Equal(t, 10000, c.Output.MaxLines)
	assert.Equal(t, 1000, c.History.MaxEntries)
	assert.True(t, c.HistoryEnabled())
	assert.Equal(t, "dark", c.UI.Theme)
	assert.Equal(t, "127.0.0.1:7681", c.Web.Listen)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[shell]
path = "/bin/zsh"
inherit_env = false
env = { EDITOR = "nano" }

[output]
max_lines = 50

[timeouts]
regular_secs = 10
kill_on_timeout = true

[prompt]
patterns = ["re:λ $", "> "]

[tui]
fullscreen_commands = ["mc"]

[history]
enabled = false

[ui]
theme = "light"
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/bin/zsh", c.Shell.Path)
	require.NotNil(t, c.Shell.InheritEnv)
	assert.False(t, *c.Shell.InheritEnv)
	assert.Equal(t, "nano", c.Shell.Env["EDITOR"])
	assert.Equal(t, 50, c.Output.MaxLines)
	assert.Equal(t, 4096, c.Output.MaxLineChars, "unset fields keep defaults")
	assert.Equal(t, 10, c.Timeouts.RegularSecs)
	assert.True(t, c.Timeouts.KillOnTimeout)
	assert.False(t, c.HistoryEnabled())
	assert.Equal(t, "light", c.ResolveTheme())

	_, ok := c.Guard().Classify("mc -b")
	assert.True(t, ok)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeConfig(t, dir, "[output\nmax_lines = 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error")

	_, err = Load(writeConfig(t, dir, "[prompt]\npatterns = [\"re:([\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[prompt]")

	_, err = Load(writeConfig(t, dir, "[tui]\nfullscreen_commands = [\"/usr/bin/mc\"]\n"))
	require.Error(t, err)
}

func TestLoad_UnknownThemeFallsBackToDark(t *testing.T) {
	c, err := Load(writeConfig(t, t.TempDir(), "[ui]\ntheme = \"solarized\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "dark", c.UI.Theme)
}

func TestTerminalMapping(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[shell]
working_dir = "/tmp"
args = ["-l"]

[output]
max_lines = 20
max_line_chars = 80
max_blocks = 7

[timeouts]
regular_secs = 2
interactive_secs = 9
kill_grace_secs = 1
init_ms = 500

[prompt]
patterns = ["$ "]
quiet_ms = 50
terminators = "$"
`)
	c, err := Load(path)
	require.NoError(t, err)

	tc := c.Terminal()
	assert.Equal(t, "/tmp", tc.WorkingDir)
	assert.Equal(t, []string{"-l"}, tc.Shell.Args)
	assert.True(t, tc.Shell.InheritEnv)
	assert.Equal(t, "xterm-256color", tc.Shell.Term)
	assert.Equal(t, 20, tc.Limits.MaxLines)
	assert.Equal(t, 80, tc.Limits.MaxLineChars)
	assert.Equal(t, 7, tc.MaxBlocks)
	assert.Equal(t, 2*time.Second, tc.Timeouts.Regular)
	assert.Equal(t, 9*time.Second, tc.Timeouts.Interactive)
	assert.Equal(t, time.Second, tc.KillGrace)
	assert.Equal(t, 500*time.Millisecond, tc.InitTimeout)
	assert.Equal(t, []string{"$ "}, tc.PromptPatterns)
	assert.Equal(t, 50*time.Millisecond, tc.QuietPeriod)
	assert.Equal(t, "$", tc.Terminators)
	assert.Nil(t, tc.Guard)
	assert.Nil(t, tc.Recorder)
}

func TestPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvHome, "")
	t.Setenv(EnvPath, "")

	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".mosaicterm"), dir)

	p, err := Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".mosaicterm", FileName), p)

	t.Setenv(EnvPath, "~/other.toml")
	p, err = Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "other.toml"), p)

	t.Setenv(EnvHome, "/srv/mt")
	dir, err = Dir()
	require.NoError(t, err)
	assert.Equal(t, "/srv/mt", dir)

	c := Default()
	hp, err := c.HistoryPath()
	require.NoError(t, err)
	assert.Equal(t, "/srv/mt/history.db", hp)

	lc := c.Logging(false)
	assert.Empty(t, lc.LogDir, "logging stays off unless enabled")
	lc = c.Logging(true)
	assert.Equal(t, "/srv/mt/logs", lc.LogDir)
	assert.Equal(t, "debug", lc.Level)
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MT_TEST_DIR", "/data")

	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "x/y"), ExpandPath("~/x/y"))
	assert.Equal(t, "/data/z", ExpandPath("$MT_TEST_DIR/z"))
	assert.Equal(t, "relative", ExpandPath("relative"))
	assert.Equal(t, "~user/x", ExpandPath("~user/x"))
}

func TestLoadUser_CachesUntilReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[output]\nmax_lines = 11\n")
	t.Setenv(EnvPath, path)
	ClearCache()
	t.Cleanup(ClearCache)

	c, err := LoadUser()
	require.NoError(t, err)
	assert.Equal(t, 11, c.Output.MaxLines)
	assert.Equal(t, path, LoadedPath())

	writeConfig(t, dir, "[output]\nmax_lines = 22\n")
	c, err = LoadUser()
	require.NoError(t, err)
	assert.Equal(t, 11, c.Output.MaxLines, "served from cache")

	c, err = Reload()
	require.NoError(t, err)
	assert.Equal(t, 22, c.Output.MaxLines)
}

func TestLoadUser_ParseErrorCachesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "not toml at all = = =")
	t.Setenv(EnvPath, path)
	ClearCache()
	t.Cleanup(ClearCache)

	c, err := LoadUser()
	require.Error(t, err)
	assert.Equal(t, Default(), c)

	c, err = LoadUser()
	require.NoError(t, err, "defaults are cached after the first failure")
	assert.Equal(t, Default(), c)
}

func TestResolveTheme(t *testing.T) {
	isDark := func() (bool, error) { return true, nil }
	isLight := func() (bool, error) { return false, nil }
	broken := func() (bool, error) { return false, errors.New("no dbus") }

	assert.Equal(t, "dark", resolveTheme("dark", isLight))
	assert.Equal(t, "light", resolveTheme("light", isDark))
	assert.Equal(t, "dark", resolveTheme("system", isDark))
	assert.Equal(t, "light", resolveTheme("system", isLight))
	assert.Equal(t, "dark", resolveTheme("system", broken))
	assert.Equal(t, "dark", resolveTheme("", isLight))
}
