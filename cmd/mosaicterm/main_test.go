package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicterm/mosaicterm/internal/block"
	"github.com/mosaicterm/mosaicterm/internal/history"
	"github.com/mosaicterm/mosaicterm/internal/pty"
	"github.com/mosaicterm/mosaicterm/internal/terminal"
)

func TestExtractGlobalFlags(t *testing.T) {
	t.Setenv("MOSAICTERM_DEBUG", "")

	tests := []struct {
		name   string
		args   []string
		config string
		debug  bool
		rest   []string
	}{
		{"none", []string{"history", "-n", "5"}, "", false, []string{"history", "-n", "5"}},
		{"config before command", []string{"-config", "/tmp/c.toml", "tui"}, "/tmp/c.toml", false, []string{"tui"}},
		{"config with equals", []string{"run", "--config=/x.toml", "--", "ls"}, "/x.toml", false, []string{"run", "--", "ls"}},
		{"debug anywhere", []string{"serve", "--debug"}, "", true, []string{"serve"}},
		{"after dashdash untouched", []string{"run", "--", "tool", "-debug"}, "", false, []string{"run", "--", "tool", "-debug"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, rest := extractGlobalFlags(tt.args)
			assert.Equal(t, tt.config, g.configPath)
			assert.Equal(t, tt.debug, g.debug)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestExtractGlobalFlags_DebugEnv(t *testing.T) {
	t.Setenv("MOSAICTERM_DEBUG", "1")
	g, _ := extractGlobalFlags(nil)
	assert.True(t, g.debug)
}

func TestNormalizeArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("json", false, "")
	fs.Int("n", 20, "")

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"flags only", []string{"-n", "5", "-json"}, []string{"-n", "5", "-json"}},
		{"positional first", []string{"git", "-json"}, []string{"-json", "--", "git"}},
		{"value flag", []string{"git", "-n", "3"}, []string{"-n", "3", "--", "git"}},
		{"equals form", []string{"-n=3", "ls"}, []string{"-n=3", "--", "ls"}},
		{"dashdash", []string{"-json", "--", "ls", "-la"}, []string{"-json", "--", "ls", "-la"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeArgs(fs, tt.args))
		})
	}
}

func TestNormalizeArgs_ParsesRunCommand(t *testing.T) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 0, "")
	require.NoError(t, fs.Parse(normalizeArgs(fs, []string{"-timeout", "5s", "--", "ls", "-la"})))
	assert.Equal(t, 5*time.Second, *timeout)
	assert.Equal(t, []string{"ls", "-la"}, fs.Args())
}

func TestExitCodeFor(t *testing.T) {
	three := 3
	zero := 0
	tests := []struct {
		b    block.CommandBlock
		want int
	}{
		{block.CommandBlock{Status: block.StatusSuccess, ExitCode: &zero}, 0},
		{block.CommandBlock{Status: block.StatusFailed, ExitCode: &three}, 3},
		{block.CommandBlock{Status: block.StatusFailed}, 1},
		{block.CommandBlock{Status: block.StatusTimedOut}, exitTimedOut},
		{block.CommandBlock{Status: block.StatusKilled}, exitKilled},
		{block.CommandBlock{Status: block.StatusRunning}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.b.Status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.b))
		})
	}
}

// fakeRunner finishes the submitted block with final unless the wait is
// cancelled, in which case KillCurrent marks it killed.
type fakeRunner struct {
	readyErr  error
	submitErr error
	idleErr   error
	final     block.CommandBlock
	hang      bool

	blk    block.CommandBlock
	killed bool
}

func (f *fakeRunner) WaitReady(context.Context) error { return f.readyErr }

func (f *fakeRunner) Submit(cmd string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.blk = block.CommandBlock{ID: "b1", Command: cmd, Status: block.StatusRunning}
	return nil
}

func (f *fakeRunner) Current() (block.CommandBlock, bool) {
	return f.blk, f.blk.ID != ""
}

func (f *fakeRunner) WaitIdle(ctx context.Context) error {
	if f.hang && !f.killed {
		<-ctx.Done()
		return ctx.Err()
	}
	if !f.killed {
		f.final.ID, f.final.Command = f.blk.ID, f.blk.Command
		f.blk = f.final
	}
	return f.idleErr
}

func (f *fakeRunner) KillCurrent() error {
	f.killed = true
	f.blk.Status = block.StatusKilled
	return nil
}

func (f *fakeRunner) Block(id string) (block.CommandBlock, bool) {
	return f.blk, id == f.blk.ID
}

func TestRunBlock(t *testing.T) {
	zero := 0
	r := &fakeRunner{final: block.CommandBlock{Status: block.StatusSuccess, ExitCode: &zero}}

	b, err := runBlock(context.Background(), r, "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", b.Command)
	assert.Equal(t, block.StatusSuccess, b.Status)
	assert.False(t, r.killed)
}

func TestRunBlock_Errors(t *testing.T) {
	_, err := runBlock(context.Background(), &fakeRunner{readyErr: pty.ErrProcessTerminated}, "ls")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pty.ErrProcessTerminated))
	assert.Contains(t, err.Error(), "shell not ready")

	invalid := &terminal.SubmitError{Kind: terminal.SubmitInvalid, Command: "a\nb"}
	_, err = runBlock(context.Background(), &fakeRunner{submitErr: invalid}, "a\nb")
	assert.True(t, errors.Is(err, terminal.ErrInvalidCommand))
}

func TestRunBlock_CancelKills(t *testing.T) {
	r := &fakeRunner{hang: true}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	b, err := runBlock(ctx, r, "sleep 100")
	require.NoError(t, err)
	assert.True(t, r.killed)
	assert.Equal(t, block.StatusKilled, b.Status)
	assert.Equal(t, exitKilled, exitCodeFor(b))
}

func TestRunBlock_ShellExitKeepsFinishedBlock(t *testing.T) {
	three := 3
	r := &fakeRunner{
		final:   block.CommandBlock{Status: block.StatusFailed, ExitCode: &three},
		idleErr: pty.ErrProcessTerminated,
	}
	b, err := runBlock(context.Background(), r, "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, exitCodeFor(b))
}

func TestWriteJSONResult(t *testing.T) {
	zero := 0
	b := block.CommandBlock{
		ID:        "b1",
		Command:   "echo hi",
		Status:    block.StatusSuccess,
		ExitCode:  &zero,
		StartedAt: time.Unix(100, 0),
		EndedAt:   time.Unix(101, 0),
		Lines: []block.OutputLine{
			{Index: 0, Spans: []block.StyledSpan{{Text: "hi"}}, Final: true},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, writeJSONResult(&buf, "sess-1", b))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "echo hi", got["command"])
	assert.Equal(t, "hi", got["output"])
	assert.Equal(t, "success", got["status"])
	assert.Equal(t, "sess-1", got["session_id"])
}

func newHistory(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"), history.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, c := range []string{"make build", "git status", "docker ps"} {
		code := 0
		_, err := s.Add(history.Entry{
			Command:   c,
			Status:    block.StatusSuccess,
			ExitCode:  &code,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + 250*time.Millisecond),
		})
		require.NoError(t, err)
	}
	return s
}

func TestRunHistory_List(t *testing.T) {
	s := newHistory(t)
	var buf bytes.Buffer
	require.Equal(t, 0, runHistory(s, []string{"-n", "2"}, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "COMMAND")
	assert.Contains(t, lines[1], "docker ps")
	assert.Contains(t, lines[2], "git status")
	assert.Contains(t, lines[1], "250ms")
}

func TestRunHistory_Search(t *testing.T) {
	s := newHistory(t)
	var buf bytes.Buffer
	require.Equal(t, 0, runHistory(s, []string{"gsta", "-json"}, &buf))

	var entries []history.Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "git status", entries[0].Command)
}

func TestRunHistory_NoMatches(t *testing.T) {
	s := newHistory(t)
	var buf bytes.Buffer
	require.Equal(t, 0, runHistory(s, []string{"zzz"}, &buf))
	assert.Contains(t, buf.String(), "No commands recorded.")

	buf.Reset()
	require.Equal(t, 0, runHistory(s, []string{"-json", "zzz"}, &buf))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestRunHistory_Clear(t *testing.T) {
	s := newHistory(t)
	var buf bytes.Buffer
	require.Equal(t, 0, runHistory(s, []string{"clear"}, &buf))
	assert.Contains(t, buf.String(), "Deleted 3 commands")

	n, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunHistory_BadFlag(t *testing.T) {
	s := newHistory(t)
	var buf bytes.Buffer
	assert.Equal(t, 2, runHistory(s, []string{"-bogus"}, &buf))
}

func TestPrintHelp(t *testing.T) {
	var buf bytes.Buffer
	printHelp(&buf)
	for _, cmd := range []string{"tui", "run", "history", "serve", "version"} {
		assert.Contains(t, buf.String(), "  "+cmd)
	}
}

func TestClampU16(t *testing.T) {
	assert.Equal(t, uint16(1), clampU16(0))
	assert.Equal(t, uint16(80), clampU16(80))
	assert.Equal(t, uint16(0xffff), clampU16(1<<20))
}
