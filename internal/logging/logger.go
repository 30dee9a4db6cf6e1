// Package logging is the structured logging layer: slog records written to a
// rotating file, mirrored into an in-memory ring buffer for crash dumps, with
// per-component loggers that can be created before Init runs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names used as the "component" attribute.
const (
	CompPTY      = "pty"
	CompRegistry = "registry"
	CompSegment  = "segment"
	CompTerminal = "terminal"
	CompGuard    = "guard"
	CompShell    = "shell"
	CompConfig   = "config"
	CompHistory  = "history"
	CompUI       = "ui"
	CompWeb      = "web"
	CompCLI      = "cli"
)

// DefaultFileName is the log file created inside Config.LogDir.
const DefaultFileName = "mosaicterm.log"

// Config holds logging configuration.
type Config struct {
	// LogDir is the directory for log files (e.g. ~/.mosaicterm/logs)
	LogDir string

	// FileName overrides DefaultFileName
	FileName string

	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" (default) or "text"
	Format string

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int

	// MaxBackups is rotated files to keep (default: 3)
	MaxBackups int

	// MaxAgeDays is days to keep rotated files (default: 14)
	MaxAgeDays int

	// Compress rotated files
	Compress bool

	// RingBufferSize is the in-memory crash buffer in bytes (default: 2MB)
	RingBufferSize int

	// AggregateIntervalSecs is the summary flush interval (default: 30)
	AggregateIntervalSecs int

	// PprofAddr starts a pprof server on this address when non-empty
	PprofAddr string

	// Debug forces logging on even without a LogDir (written to the temp dir)
	Debug bool
}

func (c Config) withDefaults() Config {
	if c.FileName == "" {
		c.FileName = DefaultFileName
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 14
	}
	if c.RingBufferSize <= 0 {
		c.RingBufferSize = 2 * 1024 * 1024
	}
	if c.AggregateIntervalSecs <= 0 {
		c.AggregateIntervalSecs = 30
	}
	if c.Debug && c.LogDir == "" {
		c.LogDir = filepath.Join(os.TempDir(), "mosaicterm")
	}
	return c
}

// ParseLevel maps a config string to a slog level; unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type state struct {
	logger  *slog.Logger
	ring    *RingBuffer
	agg     *Aggregator
	file    *lumberjack.Logger
	logPath string
	logDir  string
}

var (
	globalMu sync.RWMutex
	global   state
	discard  = slog.New(slog.NewJSONHandler(io.Discard, nil))
)

// Init configures the global logger. Calling it again replaces the previous
// configuration; loggers from ForComponent follow the change.
// Without a LogDir (and without Debug) records are discarded.
func Init(cfg Config) {
	cfg = cfg.withDefaults()

	globalMu.Lock()
	defer globalMu.Unlock()
	closeLocked()

	if cfg.LogDir == "" {
		global = state{logger: discard, ring: NewRingBuffer(4096), agg: NewAggregator(nil, cfg.AggregateIntervalSecs)}
		return
	}
	_ = os.MkdirAll(cfg.LogDir, 0o755)

	path := filepath.Join(cfg.LogDir, cfg.FileName)
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	ring := NewRingBuffer(cfg.RingBufferSize)
	out := io.MultiWriter(file, ring)

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	logger := slog.New(handler)

	agg := NewAggregator(logger, cfg.AggregateIntervalSecs)
	agg.Start()

	global = state{logger: logger, ring: ring, agg: agg, file: file, logPath: path, logDir: cfg.LogDir}

	if cfg.PprofAddr != "" {
		startPprof(cfg.PprofAddr)
	}
}

// Logger returns the global logger. Safe to call before Init.
func Logger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global.logger == nil {
		return discard
	}
	return global.logger
}

// LogPath returns the active log file, or "" when logging is discarded.
func LogPath() string {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global.logPath
}

// ForComponent returns a logger tagged with component. The logger resolves
// the global handler at log time, so package-level loggers created before
// Init still reach the configured output.
func ForComponent(name string) *slog.Logger {
	return slog.New(&dynamicHandler{component: name})
}

type dynamicHandler struct {
	component string
	attrs     []slog.Attr
	groups    []string
}

func (h *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	return handler.Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &dynamicHandler{component: h.component, attrs: merged, groups: h.groups}
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string(nil), h.groups...), name)
	return &dynamicHandler{component: h.component, attrs: h.attrs, groups: groups}
}

// Aggregate counts a high-frequency event; a summary record is written per
// interval instead of one record per occurrence.
func Aggregate(component, event string, fields ...slog.Attr) {
	AggregateN(component, event, 0, fields...)
}

// AggregateN is Aggregate with a quantity (bytes, lines) summed per interval.
func AggregateN(component, event string, n int64, fields ...slog.Attr) {
	globalMu.RLock()
	agg := global.agg
	globalMu.RUnlock()
	if agg != nil {
		agg.Record(component, event, n, fields...)
	}
}

// DumpRingBuffer writes recent log records to path.
func DumpRingBuffer(path string) error {
	globalMu.RLock()
	ring := global.ring
	globalMu.RUnlock()
	if ring == nil {
		return nil
	}
	return ring.DumpToFile(path)
}

// CrashDump records a recovered panic and writes the ring buffer next to the
// log file. It returns the dump path, or "" when logging is disabled.
func CrashDump(recovered any) string {
	globalMu.RLock()
	dir := global.logDir
	globalMu.RUnlock()
	if dir == "" {
		return ""
	}
	Logger().Error("panic", slog.String("value", fmt.Sprint(recovered)))
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", time.Now().Format("20060102-150405")))
	if err := DumpRingBuffer(path); err != nil {
		return ""
	}
	return path
}

// Shutdown flushes pending summaries and closes the log file.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()
	closeLocked()
	global = state{}
}

func closeLocked() {
	if global.agg != nil {
		global.agg.Stop()
	}
	if global.file != nil {
		_ = global.file.Close()
	}
}
