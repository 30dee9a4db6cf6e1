// Package config loads ~/.mosaicterm/config.toml and maps it onto the
// settings of the terminal, logging and history layers.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/mosaicterm/mosaicterm/internal/guard"
	"github.com/mosaicterm/mosaicterm/internal/logging"
	"github.com/mosaicterm/mosaicterm/internal/segment"
	"github.com/mosaicterm/mosaicterm/internal/shell"
	"github.com/mosaicterm/mosaicterm/internal/terminal"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

const (
	// FileName is the TOML config file inside the data directory.
	FileName = "config.toml"

	// EnvPath overrides the config file location.
	EnvPath = "MOSAICTERM_CONFIG"

	// EnvHome overrides the data directory (~/.mosaicterm).
	EnvHome = "MOSAICTERM_HOME"

	dirName = ".mosaicterm"
)

// Config is the user configuration.
type Config struct {
	Shell    ShellSettings   `toml:"shell"`
	Output   OutputSettings  `toml:"output"`
	Timeouts TimeoutSettings `toml:"timeouts"`
	Prompt   PromptSettings  `toml:"prompt"`
	TUI      TUISettings     `toml:"tui"`
	History  HistorySettings `toml:"history"`
	Logs     LogSettings     `toml:"logs"`
	UI       UISettings      `toml:"ui"`
	Web      WebSettings     `toml:"web"`
}

// ShellSettings selects and launches the shell.
type ShellSettings struct {
	// Path is the shell executable. Empty uses $SHELL, then /bin/sh.
	Path string `toml:"path"`

	// Args replace the built-in arguments. Shell integration markers are
	// only installed when Args is empty.
	Args []string `toml:"args"`

	// Term is the TERM value given to the shell (default: xterm-256color)
	Term string `toml:"term"`

	// WorkingDir is where new sessions start. Supports ~.
	WorkingDir string `toml:"working_dir"`

	// InheritEnv passes the full environment to the shell (default: true)
	InheritEnv *bool `toml:"inherit_env"`

	// Env sets individual variables
	Env map[string]string `toml:"env"`
}

// OutputSettings bound what each block keeps.
type OutputSettings struct {
	// MaxLines per block before truncation (default: 10000)
	MaxLines int `toml:"max_lines"`

	// MaxLineChars per line before the line is cut (default: 4096)
	MaxLineChars int `toml:"max_line_chars"`

	// MaxBlocks kept in a session's history (default: 1000)
	MaxBlocks int `toml:"max_blocks"`
}

// TimeoutSettings control how long a block may run without a boundary.
type TimeoutSettings struct {
	RegularSecs     int  `toml:"regular_secs"`
	InteractiveSecs int  `toml:"interactive_secs"`
	KillOnTimeout   bool `toml:"kill_on_timeout"`
	KillGraceSecs   int  `toml:"kill_grace_secs"`

	// InitMs is how long a new session waits for its first prompt
	InitMs int `toml:"init_ms"`
}

// PromptSettings extend prompt detection for shells without integration.
type PromptSettings struct {
	// Patterns are literal line suffixes, or regular expressions when
	// prefixed with "re:".
	Patterns []string `toml:"patterns"`

	// QuietMs is the silence after a terminator that ends a block (default: 300)
	QuietMs int `toml:"quiet_ms"`

	// Terminators are the characters a quiet prompt line may end with
	Terminators string `toml:"terminators"`
}

// TUISettings configure the interactive-program guard.
type TUISettings struct {
	// FullscreenCommands extend the built-in list of full-screen programs
	FullscreenCommands []string `toml:"fullscreen_commands"`

	// CursorHintThreshold is how many cursor movements mark a block as
	// drawing a full-screen interface (default: 32)
	CursorHintThreshold int `toml:"cursor_hint_threshold"`
}

// HistorySettings configure the persisted command history.
type HistorySettings struct {
	// Enabled records finished commands (default: true)
	Enabled *bool `toml:"enabled"`

	// Path of the sqlite database (default: ~/.mosaicterm/history.db)
	Path string `toml:"path"`

	// MaxEntries kept after pruning (default: 1000)
	MaxEntries int `toml:"max_entries"`
}

// LogSettings configure the debug log.
type LogSettings struct {
	// Enabled writes logs to ~/.mosaicterm/logs (default: false)
	Enabled bool `toml:"enabled"`

	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`

	// PprofAddr serves net/http/pprof when set, e.g. "localhost:6060"
	PprofAddr string `toml:"pprof_addr"`
}

// UISettings configure the block-mode front end.
type UISettings struct {
	// Theme is "dark" (default), "light", or "system"
	Theme string `toml:"theme"`

	// ShowTimestamps prints start time and duration in block headers
	ShowTimestamps bool `toml:"show_timestamps"`

	// PollMs is the UI poll interval (default: 30)
	PollMs int `toml:"poll_ms"`
}

// WebSettings configure `mosaicterm serve`.
type WebSettings struct {
	// Listen address (default: 127.0.0.1:7681)
	Listen string `toml:"listen"`

	// Token, when set, must be sent as "Authorization: Bearer <token>"
	Token string `toml:"token"`

	// MaxSessions is the number of concurrent websocket sessions (default: 8)
	MaxSessions int `toml:"max_sessions"`

	// MessagesPerSecond limits inbound messages per connection (default: 20)
	MessagesPerSecond int `toml:"messages_per_second"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Shell.Term == "" {
		c.Shell.Term = shell.DefaultTerm
	}
	if c.Shell.InheritEnv == nil {
		c.Shell.InheritEnv = boolPtr(true)
	}
	if c.Output.MaxLines <= 0 {
		c.Output.MaxLines = segment.DefaultLimits.MaxLines
	}
	if c.Output.MaxLineChars <= 0 {
		c.Output.MaxLineChars = segment.DefaultLimits.MaxLineChars
	}
	if c.Output.MaxBlocks <= 0 {
		c.Output.MaxBlocks = 1000
	}
	if c.Timeouts.RegularSecs <= 0 {
		c.Timeouts.RegularSecs = 30
	}
	if c.Timeouts.InteractiveSecs <= 0 {
		c.Timeouts.InteractiveSecs = 300
	}
	if c.Timeouts.KillGraceSecs <= 0 {
		c.Timeouts.KillGraceSecs = 5
	}
	if c.Timeouts.InitMs <= 0 {
		c.Timeouts.InitMs = int(terminal.DefaultInitTimeout / time.Millisecond)
	}
	if c.Prompt.QuietMs <= 0 {
		c.Prompt.QuietMs = int(terminal.DefaultQuietPeriod / time.Millisecond)
	}
	if c.Prompt.Terminators == "" {
		c.Prompt.Terminators = segment.DefaultTerminators
	}
	if c.TUI.CursorHintThreshold <= 0 {
		c.TUI.CursorHintThreshold = guard.DefaultCursorHintThreshold
	}
	if c.History.Enabled == nil {
		c.History.Enabled = boolPtr(true)
	}
	if c.History.MaxEntries <= 0 {
		c.History.MaxEntries = 1000
	}
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	if c.Logs.Format == "" {
		c.Logs.Format = "json"
	}
	switch c.UI.Theme {
	case "dark", "light", "system":
	default:
		c.UI.Theme = "dark"
	}
	if c.UI.PollMs <= 0 {
		c.UI.PollMs = 30
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:7681"
	}
	if c.Web.MaxSessions <= 0 {
		c.Web.MaxSessions = 8
	}
	if c.Web.MessagesPerSecond <= 0 {
		c.Web.MessagesPerSecond = 20
	}
}

// Validate reports settings that parse but cannot be used.
func (c *Config) Validate() error {
	if _, err := segment.CompilePatterns(&segment.RawPatterns{PromptPatterns: c.Prompt.Patterns}); err != nil {
		return fmt.Errorf("[prompt] patterns: %w", err)
	}
	for _, name := range c.TUI.FullscreenCommands {
		if strings.ContainsAny(name, " \t/") {
			return fmt.Errorf("[tui] fullscreen_commands: %q is not a program name", name)
		}
	}
	return nil
}

// Dir returns the data directory, ~/.mosaicterm unless MOSAICTERM_HOME is set.
func Dir() (string, error) {
	if d := os.Getenv(EnvHome); d != "" {
		return ExpandPath(d), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// Path returns the config file path.
func Path() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return ExpandPath(p), nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads and validates the file at path. A missing file yields the
// defaults without error.
func Load(path string) (*Config, error) {
	var c Config
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("%s parse error: %w", filepath.Base(path), err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		cfgLog.Warn("unknown_config_keys", "path", path, "keys", keys)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var (
	cache     *Config
	cachePath string
	cacheMu   sync.RWMutex
)

// LoadUser returns the cached user configuration, reading it on first use.
// On a parse error the defaults are cached and the error returned so the
// caller can show it.
func LoadUser() (*Config, error) {
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
		cache = Default()
		return cache, nil
	}
	cachePath = path
	c, err := Load(path)
	if err != nil {
		cache = Default()
		return cache, err
	}
	cache = c
	return cache, nil
}

// Reload drops the cache and reads the file again.
func Reload() (*Config, error) {
	ClearCache()
	return LoadUser()
}

// ClearCache forces the next LoadUser to read the file.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cachePath = ""
	cacheMu.Unlock()
}

// LoadedPath is the file the cached configuration came from, if any.
func LoadedPath() string {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	return cachePath
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Guard builds the interactive-program guard described by [tui].
func (c *Config) Guard() *guard.Guard {
	g := guard.New(c.TUI.FullscreenCommands...)
	g.SetCursorHintThreshold(c.TUI.CursorHintThreshold)
	return g
}

// ShellOptions returns the launch options described by [shell].
func (c *Config) ShellOptions() shell.Options {
	inherit := true
	if c.Shell.InheritEnv != nil {
		inherit = *c.Shell.InheritEnv
	}
	return shell.Options{
		Path:       ExpandPath(c.Shell.Path),
		Args:       c.Shell.Args,
		Env:        c.Shell.Env,
		InheritEnv: inherit,
		Term:       c.Shell.Term,
	}
}

// Terminal maps the configuration onto a session configuration. The guard
// and recorder are left to the caller.
func (c *Config) Terminal() terminal.Config {
	wd := c.Shell.WorkingDir
	if wd != "" {
		wd = ExpandPath(wd)
	}
	return terminal.Config{
		Shell:      c.ShellOptions(),
		WorkingDir: wd,
		Limits: segment.Limits{
			MaxLines:     c.Output.MaxLines,
			MaxLineChars: c.Output.MaxLineChars,
		},
		Timeouts: segment.Timeouts{
			Regular:     time.Duration(c.Timeouts.RegularSecs) * time.Second,
			Interactive: time.Duration(c.Timeouts.InteractiveSecs) * time.Second,
		},
		PromptPatterns: c.Prompt.Patterns,
		QuietPeriod:    time.Duration(c.Prompt.QuietMs) * time.Millisecond,
		Terminators:    c.Prompt.Terminators,
		InitTimeout:    time.Duration(c.Timeouts.InitMs) * time.Millisecond,
		KillGrace:      time.Duration(c.Timeouts.KillGraceSecs) * time.Second,
		KillOnTimeout:  c.Timeouts.KillOnTimeout,
		MaxBlocks:      c.Output.MaxBlocks,
	}
}

// Logging maps [logs] onto the logging configuration. Logging stays off
// unless enabled or debug is set.
func (c *Config) Logging(debug bool) logging.Config {
	lc := logging.Config{
		Level:      c.Logs.Level,
		Format:     c.Logs.Format,
		MaxSizeMB:  c.Logs.MaxSizeMB,
		MaxBackups: c.Logs.MaxBackups,
		MaxAgeDays: c.Logs.MaxAgeDays,
		Compress:   c.Logs.Compress,
		PprofAddr:  c.Logs.PprofAddr,
		Debug:      debug,
	}
	if debug {
		lc.Level = "debug"
	}
	if !c.Logs.Enabled && !debug {
		return lc
	}
	if c.Logs.Dir != "" {
		lc.LogDir = ExpandPath(c.Logs.Dir)
	} else if dir, err := Dir(); err == nil {
		lc.LogDir = filepath.Join(dir, "logs")
	}
	return lc
}

// HistoryPath returns the sqlite database path.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return ExpandPath(c.History.Path), nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// HistoryEnabled reports whether finished commands are recorded.
func (c *Config) HistoryEnabled() bool {
	return c.History.Enabled == nil || *c.History.Enabled
}

// ResolveTheme returns "dark" or "light", asking the OS when the theme is
// "system".
func (c *Config) ResolveTheme() string {
	return resolveTheme(c.UI.Theme, dark.IsDarkMode)
}

func resolveTheme(theme string, isDark func() (bool, error)) string {
	switch theme {
	case "light":
		return "light"
	case "system":
		d, err := isDark()
		if err != nil || d {
			return "dark"
		}
		return "light"
	default:
		return "dark"
	}
}

func boolPtr(b bool) *bool { return &b }
