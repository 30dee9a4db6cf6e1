package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/mosaicterm/mosaicterm/internal/logging"
)

const Version = "0.4.0"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile picks the lipgloss color profile. MOSAICTERM_COLOR
// (truecolor, 256, 16, none) overrides detection.
func initColorProfile() {
	if colorEnv := os.Getenv("MOSAICTERM_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	// plain text when piped, e.g. mosaicterm run ... | less
	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Most modern terminals support TrueColor even if not advertised
	termName := os.Getenv("TERM")
	for _, t := range []string{"xterm-256color", "screen-256color", "tmux-256color", "xterm-direct", "alacritty", "kitty", "wezterm"} {
		if strings.Contains(termName, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	p := termenv.NewOutput(os.Stdout).Profile
	if p == termenv.ANSI || p == termenv.Ascii {
		p = termenv.ANSI256
	}
	lipgloss.SetColorProfile(p)
}

func main() {
	global, args := extractGlobalFlags(os.Args[1:])

	cmd := "tui"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var code int
	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("MosaicTerm v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp(os.Stdout)
		return
	case "tui":
		code = runApp(global, func(a *app) int { return handleTUI(a, args) })
	case "run":
		code = runApp(global, func(a *app) int { return handleRun(a, args) })
	case "history", "hist":
		code = runApp(global, func(a *app) int { return handleHistory(a, args, os.Stdout) })
	case "serve":
		code = runApp(global, func(a *app) int { return handleServe(a, args) })
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", cmd)
		printHelp(os.Stderr)
		code = 2
	}
	os.Exit(code)
}

// runApp builds the shared application state, runs fn and tears down. A
// panic is recorded in a crash dump before the process exits.
func runApp(global globalFlags, fn func(*app) int) (code int) {
	a, err := newApp(global)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	defer func() {
		if rec := recover(); rec != nil {
			if path := logging.CrashDump(rec); path != "" {
				fmt.Fprintf(os.Stderr, "mosaicterm crashed: %v (log dump: %s)\n", rec, path)
			} else {
				fmt.Fprintf(os.Stderr, "mosaicterm crashed: %v\n", rec)
			}
			code = 2
		}
	}()
	return fn(a)
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, "MosaicTerm v%s - a block-based terminal\n\n", Version)
	fmt.Fprintln(w, "Usage: mosaicterm [-config path] [-debug] [command] [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  tui                  Start the interactive terminal (default)")
	fmt.Fprintln(w, "  run -- <command>     Run one command, print its block, exit with its code")
	fmt.Fprintln(w, "  history [query]      List or search recorded commands")
	fmt.Fprintln(w, "  history clear        Delete all recorded commands")
	fmt.Fprintln(w, "  serve                Serve sessions over websockets")
	fmt.Fprintln(w, "  version              Show version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  MOSAICTERM_CONFIG    Config file (default ~/.mosaicterm/config.toml)")
	fmt.Fprintln(w, "  MOSAICTERM_HOME      Data directory (default ~/.mosaicterm)")
	fmt.Fprintln(w, "  MOSAICTERM_DEBUG     Enable debug logging")
	fmt.Fprintln(w, "  MOSAICTERM_COLOR     Color profile: truecolor, 256, 16, none")
}
