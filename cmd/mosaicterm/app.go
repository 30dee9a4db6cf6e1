package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/mosaicterm/mosaicterm/internal/config"
	"github.com/mosaicterm/mosaicterm/internal/guard"
	"github.com/mosaicterm/mosaicterm/internal/history"
	"github.com/mosaicterm/mosaicterm/internal/logging"
	"github.com/mosaicterm/mosaicterm/internal/platform"
	"github.com/mosaicterm/mosaicterm/internal/pty"
	"github.com/mosaicterm/mosaicterm/internal/terminal"
	"github.com/mosaicterm/mosaicterm/internal/ui"
)

var cliLog = logging.ForComponent(logging.CompCLI)

type globalFlags struct {
	configPath string
	debug      bool
}

// extractGlobalFlags removes -config/--config and -debug/--debug from args
// wherever they appear, so subcommands parse only their own flags.
func extractGlobalFlags(args []string) (globalFlags, []string) {
	g := globalFlags{debug: os.Getenv("MOSAICTERM_DEBUG") != ""}
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			remaining = append(remaining, args[i:]...)
			break
		}
		switch {
		case strings.HasPrefix(arg, "-config="), strings.HasPrefix(arg, "--config="):
			g.configPath = arg[strings.Index(arg, "=")+1:]
		case arg == "-config" || arg == "--config":
			if i+1 < len(args) {
				g.configPath = args[i+1]
				i++
			}
		case arg == "-debug" || arg == "--debug":
			g.debug = true
		default:
			remaining = append(remaining, arg)
		}
	}
	return g, remaining
}

// app is the state shared by every subcommand.
type app struct {
	cfg     *config.Config
	cfgPath string
	debug   bool

	reg   *pty.Registry
	guard *guard.Guard
	// nil when history is disabled or could not be opened
	store *history.Store

	stopSignals func()
}

func newApp(g globalFlags) (*app, error) {
	if g.configPath != "" {
		if err := os.Setenv(config.EnvPath, g.configPath); err != nil {
			return nil, err
		}
	}
	cfgPath, err := config.Path()
	if err != nil {
		return nil, err
	}

	cfg, cfgErr := config.LoadUser()

	logCfg := cfg.Logging(g.debug)
	logging.Init(logCfg)
	log.SetFlags(0)
	log.SetOutput(logging.NewBridgeWriter(logging.CompCLI))

	a := &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		debug:   g.debug,
		reg:     pty.NewRegistry(),
		guard:   cfg.Guard(),
	}
	if cfgErr != nil {
		// keep going on defaults; the error is shown once
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
		cliLog.Warn("config_load_failed", slog.String("error", cfgErr.Error()))
	}

	if cfg.HistoryEnabled() {
		if path, err := cfg.HistoryPath(); err == nil {
			store, err := history.Open(path, history.Options{MaxEntries: cfg.History.MaxEntries})
			if err != nil {
				cliLog.Warn("history_disabled", slog.String("error", err.Error()))
			} else {
				a.store = store
			}
		}
	}

	a.stopSignals = watchDumpSignal(logCfg.LogDir)
	cliLog.Info("started",
		slog.String("version", Version),
		slog.Int("pid", os.Getpid()),
		slog.String("config", cfgPath))
	return a, nil
}

// watchDumpSignal writes the log ring buffer on SIGUSR1 for post-mortem
// debugging.
func watchDumpSignal(dir string) func() {
	if dir == "" {
		return func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			path := filepath.Join(dir, fmt.Sprintf("dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err != nil {
				cliLog.Error("dump_failed", slog.String("error", err.Error()))
			} else {
				cliLog.Info("dump_written", slog.String("path", path))
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

// Close terminates every shell and flushes history and logs.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.reg.TerminateAll(ctx); err != nil {
		cliLog.Warn("terminate_failed", slog.String("error", err.Error()))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			cliLog.Warn("history_close_failed", slog.String("error", err.Error()))
		}
	}
	a.stopSignals()
	logging.Shutdown()
}

// sessionConfig returns the terminal configuration for a new session.
func (a *app) sessionConfig(cols, rows uint16) terminal.Config {
	tc := a.cfg.Terminal()
	tc.Cols, tc.Rows = cols, rows
	tc.Guard = a.guard
	if a.store != nil {
		tc.Recorder = a.store
	}
	return tc
}

// newSession starts a shell sized cols x rows.
func (a *app) newSession(cols, rows uint16) (*terminal.Session, error) {
	if !platform.SupportsPTY() {
		return nil, fmt.Errorf("shells need a pseudo-terminal, which %s does not provide", platform.Detect())
	}
	s := terminal.New(a.reg, a.sessionConfig(cols, rows))
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// historySource returns the store as a ui history source, or nil.
func (a *app) historySource() ui.HistorySource {
	if a.store == nil {
		return nil
	}
	return a.store
}

// terminalSize returns the size of the controlling terminal, 80x24 when
// stdout is not one.
func terminalSize() (cols, rows uint16) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80, 24
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return 80, 24
	}
	return clampU16(w), clampU16(h)
}

func clampU16(n int) uint16 {
	switch {
	case n < 1:
		return 1
	case n > 0xffff:
		return 0xffff
	default:
		return uint16(n)
	}
}

// isTerminal reports whether stdin and stdout are both terminals.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
