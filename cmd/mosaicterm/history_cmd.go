package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mosaicterm/mosaicterm/internal/history"
)

// historyStore is the part of *history.Store the history command uses.
type historyStore interface {
	Recent(limit int) ([]history.Entry, error)
	Search(query string, limit int) ([]history.Match, error)
	Count() (int, error)
	Clear() error
}

func handleHistory(a *app, args []string, w io.Writer) int {
	if a.store == nil {
		fmt.Fprintln(os.Stderr, "Error: history is disabled ([history] enabled = false) or unavailable")
		return 1
	}
	return runHistory(a.store, args, w)
}

func runHistory(store historyStore, args []string, w io.Writer) int {
	if len(args) > 0 && args[0] == "clear" {
		n, _ := store.Count()
		if err := store.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(w, "Deleted %d commands\n", n)
		return 0
	}

	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "Number of commands to show (0 for all)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.SetOutput(w)
	fs.Usage = func() {
		fmt.Fprintln(w, "Usage: mosaicterm history [options] [query]")
		fmt.Fprintln(w, "       mosaicterm history clear")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "List recorded commands, newest first. A query fuzzy-matches distinct commands.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	var entries []history.Entry
	if query := strings.Join(fs.Args(), " "); query != "" {
		matches, err := store.Search(query, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		for _, m := range matches {
			entries = append(entries, m.Entry)
		}
	} else {
		var err error
		entries, err = store.Recent(*limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	if *jsonOutput {
		if entries == nil {
			entries = []history.Entry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No commands recorded.")
		return 0
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tCODE\tDURATION\tCOMMAND")
	for _, e := range entries {
		code := "-"
		if e.ExitCode != nil {
			code = fmt.Sprint(*e.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			e.Status, code,
			e.Duration().Round(time.Millisecond),
			e.Command)
	}
	_ = tw.Flush()
	return 0
}
