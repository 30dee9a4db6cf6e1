package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mosaicterm/mosaicterm/internal/block"
	"github.com/mosaicterm/mosaicterm/internal/history"
	"github.com/mosaicterm/mosaicterm/internal/terminal"
	"github.com/mosaicterm/mosaicterm/internal/ui"
)

// Exit codes for blocks that did not finish on their own, following
// timeout(1) and the shell's 128+SIGINT.
const (
	exitTimedOut = 124
	exitKilled   = 130
	readyTimeout = 10 * time.Second
)

type runResult struct {
	history.Entry
	Output string `json:"output"`
}

func handleRun(a *app, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 0, "Kill the command after this long (default: [timeouts] regular_secs)")
	width := fs.Int("width", 0, "Cut output lines to this many cells (default: terminal width, 0 when piped)")
	quiet := fs.Bool("quiet", false, "Print only the output, without the block header")
	jsonOutput := fs.Bool("json", false, "Print the finished block as JSON")
	dir := fs.String("dir", "", "Run in this directory")
	fs.Usage = func() {
		fmt.Println("Usage: mosaicterm run [options] -- <command>")
		fmt.Println()
		fmt.Println("Run one command in a fresh shell, print its block and exit with its exit code.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  mosaicterm run -- ls -la")
		fmt.Println("  mosaicterm run -timeout 5s -- make test")
		fmt.Println("  mosaicterm run -json -- git status")
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	command := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if command == "" {
		fs.Usage()
		return 2
	}

	cols, rows := terminalSize()
	if *width == 0 && isTerminal() {
		*width = int(cols)
	}
	tc := a.sessionConfig(cols, rows)
	if *dir != "" {
		tc.WorkingDir = *dir
	}
	if *timeout > 0 {
		tc.Timeouts.Regular = *timeout
		tc.Timeouts.Interactive = *timeout
	}
	// nobody is left to type into a timed-out command
	tc.KillOnTimeout = true

	sess := terminal.New(a.reg, tc)
	if err := sess.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start shell: %v\n", err)
		return 1
	}
	defer func() { _ = sess.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := runBlock(ctx, sess, command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, terminal.ErrInvalidCommand) {
			return 2
		}
		return 1
	}

	switch {
	case *jsonOutput:
		err = writeJSONResult(os.Stdout, sess.ID(), b)
	case *quiet:
		err = writeOutput(os.Stdout, b)
	default:
		_, err = fmt.Fprintln(os.Stdout, ui.RenderBlock(b, ui.RenderOptions{Width: *width, Now: time.Now()}))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCodeFor(b)
}

// blockRunner is the part of *terminal.Session runBlock drives.
type blockRunner interface {
	WaitReady(ctx context.Context) error
	Submit(command string) error
	Current() (block.CommandBlock, bool)
	WaitIdle(ctx context.Context) error
	KillCurrent() error
	Block(id string) (block.CommandBlock, bool)
}

// runBlock submits command once the shell is ready and waits for its block
// to finish. Cancelling ctx kills the command.
func runBlock(ctx context.Context, sess blockRunner, command string) (block.CommandBlock, error) {
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err := sess.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return block.CommandBlock{}, fmt.Errorf("shell not ready: %w", err)
	}

	if err := sess.Submit(command); err != nil {
		return block.CommandBlock{}, err
	}
	cur, ok := sess.Current()
	if !ok {
		return block.CommandBlock{}, errors.New("command was not started")
	}

	err = sess.WaitIdle(ctx)
	if ctx.Err() != nil {
		if kerr := sess.KillCurrent(); kerr != nil && !errors.Is(kerr, terminal.ErrAlreadyTerminated) {
			return block.CommandBlock{}, fmt.Errorf("interrupt: %w", kerr)
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), readyTimeout)
		err = sess.WaitIdle(waitCtx)
		cancel()
	}

	b, ok := sess.Block(cur.ID)
	if !ok {
		return block.CommandBlock{}, errors.New("command block was evicted")
	}
	// a shell that exits with the command still leaves a finished block
	if err != nil && !b.Status.Finished() {
		return b, err
	}
	return b, nil
}

// exitCodeFor maps a finished block to the process exit code.
func exitCodeFor(b block.CommandBlock) int {
	switch b.Status {
	case block.StatusSuccess:
		return 0
	case block.StatusFailed:
		if b.ExitCode != nil {
			return *b.ExitCode
		}
		return 1
	case block.StatusTimedOut:
		return exitTimedOut
	case block.StatusKilled:
		return exitKilled
	default:
		return 1
	}
}

func writeOutput(w io.Writer, b block.CommandBlock) error {
	out := b.Output()
	if out == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, out)
	return err
}

func writeJSONResult(w io.Writer, sessionID string, b block.CommandBlock) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runResult{Entry: history.FromBlock(sessionID, b), Output: b.Output()})
}
