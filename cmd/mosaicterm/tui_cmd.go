package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mosaicterm/mosaicterm/internal/config"
	"github.com/mosaicterm/mosaicterm/internal/platform"
	"github.com/mosaicterm/mosaicterm/internal/ui"
)

func handleTUI(a *app, args []string) int {
	fs := flag.NewFlagSet("tui", flag.ContinueOnError)
	dir := fs.String("dir", "", "Start the shell in this directory")
	noWatch := fs.Bool("no-watch", false, "Do not reload the config file on change")
	fs.Usage = func() {
		fmt.Println("Usage: mosaicterm tui [options]")
		fmt.Println()
		fmt.Println("Start the interactive block terminal.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if !isTerminal() {
		fmt.Fprintln(os.Stderr, "Error: the interactive terminal needs a TTY (use 'mosaicterm run' in scripts)")
		return 1
	}

	cols, rows := terminalSize()
	// the status and input lines sit below the block view
	if rows > 2 {
		rows -= 2
	}
	if *dir != "" {
		a.cfg.Shell.WorkingDir = *dir
	}
	sess, err := a.newSession(cols, rows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start shell: %v\n", err)
		return 1
	}
	defer func() { _ = sess.Close() }()

	var watcher *config.Watcher
	if warn := platform.CheckFsnotifySupport(a.cfgPath); warn != "" && !*noWatch {
		cliLog.Warn("config_watch_unreliable", slog.String("path", a.cfgPath), slog.String("reason", warn))
	}
	if !*noWatch {
		w, err := config.NewWatcher(a.cfgPath)
		if err == nil {
			if err = w.Start(); err != nil {
				w.Stop()
			}
		}
		if err != nil {
			cliLog.Warn("config_watch_disabled", slog.String("error", err.Error()))
		} else {
			watcher = w
			defer w.Stop()
		}
	}

	ui.InitTheme(a.cfg.ResolveTheme())
	home := ui.NewHome(ui.Options{
		Session:        sess,
		History:        a.historySource(),
		Guard:          a.guard,
		Watcher:        watcher,
		Theme:          a.cfg.UI.Theme,
		PollInterval:   time.Duration(a.cfg.UI.PollMs) * time.Millisecond,
		MaxBlocks:      a.cfg.Output.MaxBlocks,
		ShowTimestamps: a.cfg.UI.ShowTimestamps,
		HistoryLimit:   a.cfg.History.MaxEntries,
	})
	defer home.Close()

	p := tea.NewProgram(home, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
