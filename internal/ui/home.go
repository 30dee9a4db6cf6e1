// Package ui is the block-mode terminal front end: a scrolling list of
// command blocks above a single input line, driven by polling a terminal
// session.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mosaicterm/mosaicterm/internal/clipboard"
	"github.com/mosaicterm/mosaicterm/internal/config"
	"github.com/mosaicterm/mosaicterm/internal/guard"
	"github.com/mosaicterm/mosaicterm/internal/history"
	"github.com/mosaicterm/mosaicterm/internal/logging"
	"github.com/mosaicterm/mosaicterm/internal/terminal"
)

var uiLog = logging.ForComponent(logging.CompUI)

const (
	defaultPollInterval = 30 * time.Millisecond
	defaultHistoryLimit = 1000
)

// TerminalSession is the part of *terminal.Session the UI drives.
type TerminalSession interface {
	ID() string
	State() terminal.State
	WorkingDir() string
	Submit(command string) error
	PollUpdates() terminal.UpdateBatch
	KillCurrent() error
	Classify(command string) (guard.Warning, bool)
	Resize(cols, rows uint16) error
}

// HistorySource lists past commands, newest first. *history.Store
// implements it.
type HistorySource interface {
	Recent(limit int) ([]history.Entry, error)
}

// Options configure the UI.
type Options struct {
	Session TerminalSession

	// History feeds up/down recall and ctrl+r; without it only commands
	// submitted in this run are offered.
	History HistorySource

	// Guard receives reloaded [tui] settings.
	Guard *guard.Guard

	// Watcher delivers config reloads.
	Watcher *config.Watcher

	// Theme is "dark", "light" or "system". "system" follows OS changes.
	Theme string

	PollInterval   time.Duration
	MaxBlocks      int
	ShowTimestamps bool
	HistoryLimit   int

	// Now is the clock used for elapsed times.
	Now func() time.Time

	// Copy writes text to the clipboard. Defaults to clipboard.Copy.
	Copy func(text string) (*clipboard.CopyResult, error)
}

type pollMsg time.Time

type killDoneMsg struct{ err error }

type copyDoneMsg struct {
	res *clipboard.CopyResult
	err error
}

type configMsg config.Update

type themeMsg Theme

// Home is the root bubbletea model.
type Home struct {
	opts   Options
	sess   TerminalSession
	blocks *blockList

	input    textinput.Model
	viewport viewport.Model
	search   *Search
	help     *HelpOverlay
	confirm  *ConfirmDialog
	themes   *ThemeWatcher

	width, height int
	ready         bool

	state    terminal.State
	cwd      string
	busy     bool
	killing  bool
	status   string
	isErr    bool
	warning  *guard.Warning
	exited   bool
	exitCode int

	// submitted commands, newest first, for up/down recall
	recall    []string
	recallIdx int
	draft     string
}

// NewHome builds the model. Call Close after the program exits.
func NewHome(opts Options) *Home {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Copy == nil {
		opts.Copy = clipboard.Copy
	}

	ti := textinput.New()
	ti.Placeholder = "type a command"
	ti.Focus()
	ti.Prompt = PromptStyle.Render("❯ ")

	h := &Home{
		opts:      opts,
		sess:      opts.Session,
		blocks:    newBlockList(opts.MaxBlocks),
		input:     ti,
		viewport:  viewport.New(80, 20),
		search:    NewSearch(),
		help:      NewHelpOverlay(),
		confirm:   NewConfirmDialog(),
		state:     opts.Session.State(),
		cwd:       opts.Session.WorkingDir(),
		recallIdx: -1,
	}
	h.recall = h.loadRecall()

	if opts.Theme == "system" {
		h.themes = NewThemeWatcher(context.Background())
	}
	return h
}

// Close stops background watchers owned by the model.
func (h *Home) Close() {
	if h.themes != nil {
		h.themes.Close()
	}
}

func (h *Home) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, h.tick()}
	if h.opts.Watcher != nil {
		cmds = append(cmds, waitForConfig(h.opts.Watcher))
	}
	if h.themes != nil {
		cmds = append(cmds, waitForTheme(h.themes))
	}
	return tea.Batch(cmds...)
}

func (h *Home) tick() tea.Cmd {
	return tea.Tick(h.opts.PollInterval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

func waitForConfig(w *config.Watcher) tea.Cmd {
	return func() tea.Msg {
		return configMsg(<-w.Updates())
	}
}

func waitForTheme(tw *ThemeWatcher) tea.Cmd {
	return func() tea.Msg {
		t, ok := <-tw.Changes()
		if !ok {
			return nil
		}
		return themeMsg(t)
	}
}

func (h *Home) kill() tea.Cmd {
	sess := h.sess
	return func() tea.Msg {
		return killDoneMsg{err: sess.KillCurrent()}
	}
}

func (h *Home) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h.width, h.height = msg.Width, msg.Height
		h.ready = true
		h.layout()
		return h, nil

	case pollMsg:
		if h.exited {
			return h, nil
		}
		h.applyBatch(h.sess.PollUpdates())
		return h, h.tick()

	case killDoneMsg:
		h.killing = false
		switch {
		case msg.err == nil:
			h.setStatus("killed", false)
		case errors.Is(msg.err, terminal.ErrAlreadyTerminated):
			h.setStatus("nothing was running", false)
		default:
			h.setStatus("kill failed: "+msg.err.Error(), true)
		}
		return h, nil

	case copyDoneMsg:
		if msg.err != nil {
			h.setStatus("copy failed: "+msg.err.Error(), true)
		} else {
			h.setStatus(fmt.Sprintf("copied %d lines (%s)", msg.res.LineCount, msg.res.Method), false)
		}
		return h, nil

	case configMsg:
		cmds := []tea.Cmd{waitForConfig(h.opts.Watcher)}
		if started := h.applyConfig(config.Update(msg)); started {
			cmds = append(cmds, waitForTheme(h.themes))
		}
		return h, tea.Batch(cmds...)

	case themeMsg:
		if h.opts.Theme == "system" {
			h.setTheme(string(msg))
		}
		return h, waitForTheme(h.themes)

	case tea.MouseMsg:
		var cmd tea.Cmd
		h.viewport, cmd = h.viewport.Update(msg)
		return h, cmd

	case tea.KeyMsg:
		return h.handleKey(msg)
	}

	var cmd tea.Cmd
	h.input, cmd = h.input.Update(msg)
	return h, cmd
}

func (h *Home) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if h.exited {
		return h, tea.Quit
	}
	if h.help.IsVisible() {
		h.help, _ = h.help.Update(msg)
		return h, nil
	}
	if h.confirm.IsVisible() {
		h.confirm, _ = h.confirm.Update(msg)
		if yes, ok := h.confirm.Result(); ok && yes {
			return h, tea.Quit
		}
		return h, nil
	}
	if h.search.IsVisible() {
		var cmd tea.Cmd
		h.search, cmd = h.search.Update(msg)
		if c, ok := h.search.Accepted(); ok {
			h.input.SetValue(c)
			h.input.CursorEnd()
		}
		return h, cmd
	}

	switch msg.String() {
	case "ctrl+c":
		if h.state == terminal.StateCommandRunning {
			if h.killing {
				return h, nil
			}
			h.killing = true
			h.setStatus("interrupting…", false)
			return h, h.kill()
		}
		if h.input.Value() != "" {
			h.input.SetValue("")
			h.recallIdx = -1
			return h, nil
		}
		return h, h.quit()

	case "ctrl+d":
		if h.input.Value() == "" {
			return h, h.quit()
		}

	case "enter":
		h.submit()
		return h, nil

	case "ctrl+r":
		h.openSearch()
		return h, nil

	case "ctrl+y":
		return h, h.copyLast()

	case "ctrl+l":
		h.blocks.clear()
		h.refresh(true)
		return h, nil

	case "f1":
		h.help.SetSize(h.width, h.height)
		h.help.Show()
		return h, nil

	case "up":
		h.recallOlder()
		return h, nil

	case "down":
		h.recallNewer()
		return h, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		h.viewport, cmd = h.viewport.Update(msg)
		return h, cmd

	case "shift+up":
		h.viewport, _ = h.viewport.Update(tea.KeyMsg{Type: tea.KeyUp})
		return h, nil

	case "shift+down":
		h.viewport, _ = h.viewport.Update(tea.KeyMsg{Type: tea.KeyDown})
		return h, nil
	}

	var cmd tea.Cmd
	prev := h.input.Value()
	h.input, cmd = h.input.Update(msg)
	if h.input.Value() != prev {
		h.recallIdx = -1
	}
	return h, cmd
}

// copyLast copies the output of the newest block.
func (h *Home) copyLast() tea.Cmd {
	b, ok := h.blocks.last()
	if !ok {
		h.setStatus("nothing to copy", false)
		return nil
	}
	text := b.Output()
	if text == "" {
		h.setStatus("block has no output", false)
		return nil
	}
	copyFn := h.opts.Copy
	return func() tea.Msg {
		res, err := copyFn(text)
		return copyDoneMsg{res: res, err: err}
	}
}

// quit leaves at once when the shell is idle and asks first when leaving
// would kill a command.
func (h *Home) quit() tea.Cmd {
	command := ""
	if b, ok := h.blocks.last(); ok {
		command = b.Command
	}
	switch {
	case h.busy:
		h.confirm.ShowQuitRecovering(command)
	case h.state == terminal.StateCommandRunning:
		h.confirm.ShowQuitRunning(command)
	default:
		return tea.Quit
	}
	h.confirm.SetSize(h.width, h.height)
	return nil
}

func (h *Home) layout() {
	vh := h.height - 2
	if vh < 1 {
		vh = 1
	}
	h.viewport.Width = h.width
	h.viewport.Height = vh
	h.input.Width = h.width - 4
	h.search.SetWidth(h.width)

	if err := h.sess.Resize(uint16(h.width), uint16(vh)); err != nil {
		uiLog.Debug("resize_failed", slog.String("error", err.Error()))
	}
	h.blocks.invalidate()
	h.refresh(true)
}

func (h *Home) renderOptions() RenderOptions {
	return RenderOptions{
		Width:          h.width,
		Now:            h.opts.Now(),
		ShowTimestamps: h.opts.ShowTimestamps,
	}
}

// refresh re-renders changed blocks, following the output when the view was
// already at the bottom.
func (h *Home) refresh(follow bool) {
	atBottom := h.viewport.AtBottom()
	h.viewport.SetContent(h.blocks.view(h.renderOptions()))
	if follow || atBottom {
		h.viewport.GotoBottom()
	}
}

func (h *Home) applyBatch(b terminal.UpdateBatch) {
	h.busy = b.Busy
	if b.Busy {
		return
	}
	h.state = b.State
	for _, u := range b.Blocks {
		h.blocks.apply(u)
	}
	for i := range b.Warnings {
		w := b.Warnings[i]
		h.warning = &w
	}
	if b.WorkingDir != "" {
		h.cwd = b.WorkingDir
	}
	if b.Exited {
		h.exited = true
		h.exitCode = b.ExitCode
		uiLog.Info("shell_exited", slog.Int("code", b.ExitCode))
	}
	running := h.blocks.markRunning()
	if len(b.Blocks) > 0 || running {
		h.refresh(false)
	}
}

func (h *Home) submit() {
	cmd := h.input.Value()
	if strings.TrimSpace(cmd) == "" {
		return
	}

	h.warning = nil
	if w, ok := h.sess.Classify(cmd); ok {
		h.warning = &w
	}
	if err := h.sess.Submit(cmd); err != nil {
		h.setStatus(submitMessage(err), true)
		return
	}

	h.status = ""
	h.input.SetValue("")
	h.recallIdx = -1
	h.draft = ""
	h.pushRecall(cmd)

	h.applyBatch(h.sess.PollUpdates())
	h.refresh(true)
}

func submitMessage(err error) string {
	switch {
	case errors.Is(err, terminal.ErrNotReady):
		return "busy: a command is still running (ctrl+c interrupts it)"
	case errors.Is(err, terminal.ErrInvalidCommand):
		return "one command per line"
	default:
		return err.Error()
	}
}

func (h *Home) setStatus(s string, isErr bool) {
	h.status = s
	h.isErr = isErr
}

// applyConfig applies a reload to the running UI. Shell, output and timeout
// settings only affect new sessions. It reports whether a theme watcher was
// started.
func (h *Home) applyConfig(u config.Update) bool {
	if u.Err != nil {
		h.setStatus("config: "+u.Err.Error(), true)
		return false
	}
	c := u.Config
	if h.opts.Guard != nil {
		h.opts.Guard.SetExtra(c.TUI.FullscreenCommands)
		h.opts.Guard.SetCursorHintThreshold(c.TUI.CursorHintThreshold)
	}
	h.opts.ShowTimestamps = c.UI.ShowTimestamps
	h.opts.Theme = c.UI.Theme
	started := false
	if c.UI.Theme == "system" && h.themes == nil {
		h.themes = NewThemeWatcher(context.Background())
		started = h.themes != nil
	}
	h.setTheme(c.ResolveTheme())
	h.setStatus("config reloaded", false)
	return started
}

func (h *Home) setTheme(theme string) {
	InitTheme(theme)
	h.input.Prompt = PromptStyle.Render("❯ ")
	h.blocks.invalidate()
	h.refresh(false)
}

func (h *Home) loadRecall() []string {
	if h.opts.History == nil {
		return nil
	}
	entries, err := h.opts.History.Recent(h.opts.HistoryLimit)
	if err != nil {
		uiLog.Warn("history_load_failed", slog.String("error", err.Error()))
		return nil
	}
	entries = history.Unique(entries)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Command
	}
	return out
}

func (h *Home) pushRecall(cmd string) {
	kept := make([]string, 0, len(h.recall)+1)
	kept = append(kept, cmd)
	for _, c := range h.recall {
		if c != cmd {
			kept = append(kept, c)
		}
	}
	if len(kept) > h.opts.HistoryLimit {
		kept = kept[:h.opts.HistoryLimit]
	}
	h.recall = kept
}

func (h *Home) recallOlder() {
	if h.recallIdx+1 >= len(h.recall) {
		return
	}
	if h.recallIdx == -1 {
		h.draft = h.input.Value()
	}
	h.recallIdx++
	h.input.SetValue(h.recall[h.recallIdx])
	h.input.CursorEnd()
}

func (h *Home) recallNewer() {
	if h.recallIdx < 0 {
		return
	}
	h.recallIdx--
	if h.recallIdx == -1 {
		h.input.SetValue(h.draft)
	} else {
		h.input.SetValue(h.recall[h.recallIdx])
	}
	h.input.CursorEnd()
}

func (h *Home) openSearch() {
	var entries []history.Entry
	if h.opts.History != nil {
		var err error
		entries, err = h.opts.History.Recent(h.opts.HistoryLimit)
		if err != nil {
			h.setStatus("history: "+err.Error(), true)
		}
	}
	// commands from this run that the recorder may not have written yet
	local := make([]history.Entry, 0, len(h.recall))
	for _, c := range h.recall {
		local = append(local, history.Entry{Command: c})
	}
	h.search.SetEntries(append(local, entries...))
	h.search.Show()
}

func (h *Home) View() string {
	if !h.ready {
		return "starting…"
	}
	if h.help.IsVisible() {
		return lipgloss.Place(h.width, h.height, lipgloss.Center, lipgloss.Center, h.help.View())
	}
	if h.confirm.IsVisible() {
		return h.confirm.View()
	}

	bottom := h.input.View()
	if h.search.IsVisible() {
		bottom = h.search.View()
	}

	vp := h.viewport
	if extra := lipgloss.Height(bottom) - 1; extra > 0 {
		vp.Height = max(1, h.viewport.Height-extra)
		vp.SetYOffset(h.viewport.YOffset + extra)
	}

	var b strings.Builder
	b.WriteString(vp.View())
	b.WriteString("\n")
	b.WriteString(h.statusLine())
	b.WriteString("\n")
	b.WriteString(bottom)
	return b.String()
}

func (h *Home) statusLine() string {
	themeMu.RLock()
	defer themeMu.RUnlock()

	var left string
	switch {
	case h.exited:
		left = ErrorStyle.Render(fmt.Sprintf("shell exited (%d), press any key", h.exitCode))
	case h.killing || h.busy:
		left = RunningStyle.Render("interrupting…")
	case h.state == terminal.StateInitializing:
		left = DimStyle.Render("starting shell…")
	case h.state == terminal.StateCommandRunning:
		d := ""
		if since, ok := h.blocks.runningSince(); ok {
			d = " " + formatDuration(h.opts.Now().Sub(since))
		}
		left = RunningStyle.Render("● running" + d)
	case h.state == terminal.StateTerminated:
		left = ErrorStyle.Render("terminated")
	default:
		left = SuccessStyle.Render("ready")
	}
	if dir := shortenDir(h.cwd, ""); dir != "" {
		left += "  " + DirStyle.Render(dir)
	}

	switch {
	case h.status != "" && h.isErr:
		left += "  " + ErrorStyle.Render(h.status)
	case h.status != "":
		left += "  " + DimStyle.Render(h.status)
	case h.warning != nil:
		left += "  " + WarningStyle.Render("⚠ "+h.warning.Message)
	}

	right := MenuKeyStyle.Render("F1") + " " + MenuDescStyle.Render("help")
	gap := h.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return lipgloss.NewStyle().MaxWidth(h.width).Render(left)
	}
	return left + strings.Repeat(" ", gap) + right
}
