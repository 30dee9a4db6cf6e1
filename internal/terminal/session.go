// Package terminal coordinates one shell session: it owns a PTY handle, feeds
// the shell's output through the escape-sequence parser and the segmenter, and
// keeps the ordered list of command blocks the UI renders.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mosaicterm/mosaicterm/internal/block"
	"github.com/mosaicterm/mosaicterm/internal/guard"
	"github.com/mosaicterm/mosaicterm/internal/logging"
	"github.com/mosaicterm/mosaicterm/internal/pty"
	"github.com/mosaicterm/mosaicterm/internal/segment"
	"github.com/mosaicterm/mosaicterm/internal/shell"
	"github.com/mosaicterm/mosaicterm/internal/vt"
)

var termLog = logging.ForComponent(logging.CompTerminal)

// State is the lifecycle state of a Session.
type State uint8

const (
	StateUninitialized State = iota
	StateInitializing        // shell spawned, first prompt not seen yet
	StateActive              // idle at a prompt
	StateCommandRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateCommandRunning:
		return "command_running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := StateUninitialized; st <= StateTerminated; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("terminal: unknown state %q", text)
}

// Backend is the PTY layer a session drives. *pty.Registry implements it.
type Backend interface {
	Create(opts pty.SpawnOptions) (pty.Handle, error)
	Write(h pty.Handle, p []byte) error
	TryRead(h pty.Handle) ([]byte, bool, error)
	Resize(h pty.Handle, cols, rows uint16) error
	ForegroundProcessGroup(h pty.Handle) (int, error)
	SignalGroup(h pty.Handle, pgrp int, sig syscall.Signal) error
	SetWorkingDir(h pty.Handle, dir string) error
	Info(h pty.Handle) (pty.Info, error)
	IsAlive(h pty.Handle) bool
	Terminate(h pty.Handle, graceful bool) error
}

// reclaimer is implemented by backends that free ended sessions on request.
type reclaimer interface {
	CleanupTerminated() int
}

// Recorder receives every finished block. RecordBlock must not block.
type Recorder interface {
	RecordBlock(sessionID string, b block.CommandBlock)
}

const (
	DefaultInitTimeout = 3 * time.Second
	DefaultKillGrace   = 5 * time.Second
	DefaultQuietPeriod = 300 * time.Millisecond

	// output consumed by one PollUpdates call; the rest waits for the next
	maxPollBytes = 4 << 20

	killPollInterval = 20 * time.Millisecond
	killReapWait     = 2 * time.Second
	drainQuiet       = 120 * time.Millisecond
	drainMax         = time.Second
)

// Config configures a Session. Zero fields take defaults.
type Config struct {
	Shell      shell.Options
	WorkingDir string
	Cols, Rows uint16

	Limits   segment.Limits
	Timeouts segment.Timeouts
	// PromptPatterns extend the shell's built-in prompt patterns.
	PromptPatterns []string
	QuietPeriod    time.Duration
	Terminators    string

	InitTimeout   time.Duration
	KillGrace     time.Duration
	KillOnTimeout bool
	MaxBlocks     int

	Guard    *guard.Guard
	Recorder Recorder
	Clock    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = DefaultQuietPeriod
	}
	if c.MaxBlocks <= 0 {
		c.MaxBlocks = block.DefaultMaxBlocks
	}
	if c.Guard == nil {
		c.Guard = guard.New()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Session is one shell and its command blocks. Methods are safe for
// concurrent use; PollUpdates and Submit never wait on PTY I/O.
type Session struct {
	id      string
	cfg     Config
	backend Backend
	log     *slog.Logger

	killMu     sync.Mutex
	recovering atomic.Bool
	stateV     atomic.Uint32

	mu           sync.Mutex
	state        State
	handle       pty.Handle
	shellPID     int
	launch       shell.Launch
	parser       *vt.Parser
	seg          *segment.Segmenter
	history      *block.History
	current      *block.CommandBlock
	warned       bool
	cwd          string
	initDeadline time.Time
	pending      UpdateBatch

	// remote names the remote-shell program in the foreground, if any.
	// While it is set the remote detector replaces the local one.
	remote    string
	localDet  segment.Detector
	remoteDet segment.Detector
}

// New returns an unstarted session on backend.
func New(backend Backend, cfg Config) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:      id,
		cfg:     cfg,
		backend: backend,
		log:     termLog.With(slog.String("session", id)),
		parser:  vt.NewParser(),
		seg: segment.New(segment.Config{
			Limits:   cfg.Limits,
			Timeouts: cfg.Timeouts,
			Clock:    cfg.Clock,
		}),
		history: block.NewHistory(cfg.MaxBlocks),
		cwd:     cfg.WorkingDir,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.stateV.Load())
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.Debug("state_changed", slog.String("from", s.state.String()), slog.String("to", st.String()))
	s.state = st
	s.stateV.Store(uint32(st))
	s.pending.StateChanged = true
}

func (s *Session) detector(l shell.Launch) (segment.Detector, error) {
	raw := segment.MergeRawPatterns(l.Patterns, &segment.RawPatterns{PromptPatterns: s.cfg.PromptPatterns})
	pats, err := segment.CompilePatterns(raw)
	if err != nil {
		return nil, err
	}
	if l.Integrated {
		return segment.MarkerDetector{}, nil
	}
	return s.guessingDetector(pats), nil
}

// guessingDetector falls back from marks to prompt patterns to quiet periods.
func (s *Session) guessingDetector(pats *segment.Patterns) segment.Detector {
	return segment.Chain{
		segment.MarkerDetector{},
		&segment.PatternDetector{Patterns: pats},
		&segment.QuietDetector{Period: s.cfg.QuietPeriod, Terminators: s.cfg.Terminators},
	}
}

// remoteDetector recognises the unknown prompt of a shell on another host.
// The local shell's marks still end the connection's block.
func (s *Session) remoteDetector() (segment.Detector, error) {
	raw := segment.MergeRawPatterns(segment.RemoteRawPatterns(), &segment.RawPatterns{PromptPatterns: s.cfg.PromptPatterns})
	pats, err := segment.CompilePatterns(raw)
	if err != nil {
		return nil, err
	}
	return s.guessingDetector(pats), nil
}

// Start spawns the shell. The session is Initializing until the first prompt
// arrives or the init timeout passes.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return fmt.Errorf("terminal: session already started (%s)", s.state)
	}

	l := shell.Prepare(s.cfg.Shell)
	det, err := s.detector(l)
	if err != nil {
		return fmt.Errorf("terminal: prompt patterns: %w", err)
	}
	s.seg.SetDetector(det)
	s.localDet = det
	if l.Integrated {
		if s.remoteDet, err = s.remoteDetector(); err != nil {
			return fmt.Errorf("terminal: prompt patterns: %w", err)
		}
	}

	h, err := s.backend.Create(pty.SpawnOptions{
		Command: l.Path,
		Args:    l.Args,
		Env:     l.Env,
		Dir:     s.cfg.WorkingDir,
		Cols:    s.cfg.Cols,
		Rows:    s.cfg.Rows,
	})
	if err != nil {
		return err
	}
	s.handle = h
	s.launch = l
	if info, err := s.backend.Info(h); err == nil {
		s.shellPID = info.PID
		if info.WorkingDir != "" {
			s.cwd = info.WorkingDir
		}
	}
	s.initDeadline = s.cfg.Clock().Add(s.cfg.InitTimeout)
	s.setState(StateInitializing)

	s.log.Info("session_started",
		slog.String("shell", l.Path),
		slog.String("type", string(l.Type)),
		slog.Bool("integrated", l.Integrated),
		slog.String("detector", det.Name()),
		slog.Int("pid", s.shellPID))
	return nil
}

// Shell returns the launched shell's family.
func (s *Session) Shell() shell.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launch.Type
}

// WorkingDir returns the shell's last reported working directory.
func (s *Session) WorkingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Classify returns the guard's warning for command without submitting it.
func (s *Session) Classify(command string) (guard.Warning, bool) {
	return s.cfg.Guard.Classify(command)
}

// Submit sends one command line to the shell and opens its block. It returns
// immediately; output arrives through PollUpdates.
func (s *Session) Submit(command string) error {
	cmd := strings.TrimSpace(command)
	if cmd == "" || strings.ContainsAny(command, "\r\n") {
		return &SubmitError{Kind: SubmitInvalid, State: s.State(), Command: command}
	}
	if s.recovering.Load() {
		return &SubmitError{Kind: SubmitNotReady, State: s.State(), Command: cmd}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// output queued so far predates the command
	s.poll()
	if s.state != StateActive || s.current != nil {
		return &SubmitError{Kind: SubmitNotReady, State: s.state, Command: cmd}
	}

	warning, interactive := s.cfg.Guard.Classify(cmd)
	blk := block.New(uuid.NewString(), cmd, s.cwd)
	if err := blk.Start(s.cfg.Clock()); err != nil {
		return err
	}
	if err := s.backend.Write(s.handle, []byte(cmd+"\n")); err != nil {
		return &SubmitError{Kind: SubmitNotReady, State: s.state, Command: cmd, Err: err}
	}

	s.seg.Begin(blk, interactive)
	switch {
	case s.remote != "":
		// the remote terminal echoes what we type
		s.seg.ExpectEcho(cmd)
	case interactive && warning.Category == guard.CategoryRemote && s.remoteDet != nil:
		s.remote = warning.Program
		s.seg.SetDetector(s.remoteDet)
		s.log.Info("remote_shell_started", slog.String("program", s.remote), slog.String("block", blk.ID))
	}
	if evicted := s.history.Append(blk); evicted != nil {
		s.log.Debug("block_evicted", slog.String("block", evicted.ID))
	}
	s.current = blk
	s.warned = interactive
	s.setState(StateCommandRunning)
	s.pending.touch(blk)
	if interactive {
		s.pending.Warnings = append(s.pending.Warnings, warning)
		s.log.Info("interactive_command", slog.String("program", warning.Program), slog.String("category", string(warning.Category)))
	}
	s.log.Debug("command_submitted", slog.String("block", blk.ID), slog.String("command", cmd))
	return nil
}

// PollUpdates drains the output available right now and returns what changed
// since the previous call. It never blocks on the shell.
func (s *Session) PollUpdates() UpdateBatch {
	if s.recovering.Load() {
		return UpdateBatch{SessionID: s.id, State: s.State(), Busy: true}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poll()
	return s.take()
}

func (s *Session) take() UpdateBatch {
	b := s.pending
	b.SessionID = s.id
	b.State = s.state
	s.pending = UpdateBatch{}
	return b
}

// poll moves queued output through the parser and segmenter into pending.
func (s *Session) poll() {
	if s.state == StateUninitialized || s.state == StateTerminated {
		return
	}
	read := 0
	for read < maxPollBytes {
		chunk, ok, err := s.backend.TryRead(s.handle)
		if err != nil {
			code := -1
			// a reclaimed handle still reports how the shell exited
			if info, ierr := s.backend.Info(s.handle); ierr == nil && info.Exited {
				code = info.ExitCode
			}
			s.shellExited(code)
			return
		}
		if !ok {
			break
		}
		read += len(chunk)
		if events := s.parser.Feed(chunk); len(events) > 0 {
			s.apply(s.seg.Ingest(events, block.Stdout))
		}
	}
	s.apply(s.seg.Tick())

	if s.state == StateInitializing && !s.cfg.Clock().Before(s.initDeadline) {
		s.log.Warn("init_timeout", slog.Duration("after", s.cfg.InitTimeout))
		s.setState(StateActive)
	}
	if read < maxPollBytes {
		s.checkExit()
	}
}

func (s *Session) checkExit() {
	info, err := s.backend.Info(s.handle)
	switch {
	case err != nil:
		s.shellExited(-1)
	case info.Drained:
		s.shellExited(info.ExitCode)
	}
}

// apply folds one segmenter update into the session and the pending batch.
func (s *Session) apply(u segment.Update) {
	if u.WorkingDir != "" && u.WorkingDir != s.cwd {
		s.cwd = u.WorkingDir
		s.pending.WorkingDir = u.WorkingDir
		_ = s.backend.SetWorkingDir(s.handle, u.WorkingDir)
	}
	if u.FinishMarks > 0 {
		// the local shell is prompting again
		s.leaveRemote("closed")
	}
	if u.Prompts > 0 && s.state == StateInitializing {
		s.setState(StateActive)
		s.log.Info("session_ready")
	}

	blk := s.current
	if blk == nil || (u.BlockID != "" && u.BlockID != blk.ID) {
		return
	}
	if len(u.Lines) > 0 || len(u.Removed) > 0 || u.Truncated || u.Interactive {
		bu := s.pending.touch(blk)
		bu.removeLines(u.Removed)
		bu.putLines(u.Lines)
	}
	if !s.warned && (u.Interactive || u.CursorHints > 0) &&
		s.cfg.Guard.Suspicious(s.seg.CursorHints(), u.Interactive || s.seg.AlternateScreen()) {
		s.warned = true
		blk.Interactive = true
		name := guard.CommandName(blk.Command)
		s.pending.touch(blk)
		s.pending.Warnings = append(s.pending.Warnings, guard.Warning{
			Program:  name,
			Category: guard.CategoryTUI,
			Message:  name + " is drawing full screen; kill it if the block stops updating",
		})
		s.log.Info("fullscreen_detected", slog.String("block", blk.ID), slog.Int("cursor_hints", s.seg.CursorHints()))
	}
	if u.Boundary != nil {
		s.finish(blk, *u.Boundary)
	}
}

func (s *Session) finish(blk *block.CommandBlock, b segment.Boundary) {
	status := block.StatusSuccess
	var code *int
	switch {
	case b.Reason == segment.ReasonTimeout:
		status = block.StatusTimedOut
	case b.ExitCode != nil:
		code = b.ExitCode
		if *code != 0 {
			status = block.StatusFailed
		}
	}
	s.complete(blk, status, code)
	if status == block.StatusTimedOut && s.cfg.KillOnTimeout {
		go func() {
			if err := s.kill(true); err != nil {
				s.log.Warn("timeout_kill_failed", slog.String("error", err.Error()))
			}
		}()
	}
}

// complete moves blk to its terminal status and hands it to the recorder.
func (s *Session) complete(blk *block.CommandBlock, status block.Status, code *int) {
	if err := blk.Finish(status, code, s.cfg.Clock()); err != nil {
		s.log.Warn("block_finish_failed", slog.String("block", blk.ID), slog.String("error", err.Error()))
		return
	}
	s.pending.touch(blk)
	if s.current == blk {
		s.current = nil
		s.warned = false
	}
	if s.state == StateCommandRunning {
		s.setState(StateActive)
	}
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.RecordBlock(s.id, blk.Snapshot())
	}
	s.log.Debug("block_finished",
		slog.String("block", blk.ID),
		slog.String("status", status.String()),
		slog.Int("lines", len(blk.Lines)),
		slog.Duration("duration", blk.Duration(s.cfg.Clock())))
}

// shellExited finishes the running block by the shell's exit code and
// terminates the session.
func (s *Session) shellExited(code int) {
	if s.state == StateTerminated {
		return
	}
	if blk := s.current; blk != nil {
		s.apply(s.seg.Abandon())
		status := block.StatusSuccess
		if code != 0 {
			status = block.StatusFailed
		}
		s.complete(blk, status, &code)
	}
	s.setState(StateTerminated)
	s.pending.Exited = true
	s.pending.ExitCode = code
	// release the registry entry
	_ = s.backend.Terminate(s.handle, false)
	s.reclaim()
	s.log.Info("shell_exited", slog.Int("exit_code", code))
}

// leaveRemote restores the local shell's detector.
func (s *Session) leaveRemote(reason string) {
	if s.remote == "" {
		return
	}
	s.log.Info("remote_shell_ended", slog.String("program", s.remote), slog.String("reason", reason))
	s.remote = ""
	s.seg.SetDetector(s.localDet)
}

// Remote returns the remote-shell program in the foreground, or "".
func (s *Session) Remote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// reclaim frees the backend's terminated entries, this session's included.
func (s *Session) reclaim() {
	if r, ok := s.backend.(reclaimer); ok {
		r.CleanupTerminated()
	}
}

// KillCurrent interrupts the running command, escalates to SIGKILL after the
// grace period, discards its leftover output and resets terminal state. With
// nothing running it still resets and returns ErrAlreadyTerminated.
func (s *Session) KillCurrent() error {
	return s.kill(false)
}

func (s *Session) kill(onlyIfRunning bool) error {
	s.killMu.Lock()
	defer s.killMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateUninitialized:
		s.mu.Unlock()
		return &KillError{Kind: KillAlreadyTerminated, Err: ErrNotStarted}
	case StateTerminated:
		s.mu.Unlock()
		return &KillError{Kind: KillAlreadyTerminated}
	}
	h, pid := s.handle, s.shellPID
	running := s.current != nil
	s.mu.Unlock()

	pgrp, err := s.backend.ForegroundProcessGroup(h)
	if err != nil {
		return &KillError{Kind: KillAlreadyTerminated, Err: err}
	}
	job := pgrp > 0 && pgrp != pid
	if onlyIfRunning && !job {
		return nil
	}

	s.recovering.Store(true)
	defer s.recovering.Store(false)

	if job || running {
		s.log.Info("kill_requested", slog.Int("pgrp", pgrp), slog.Bool("job", job))
		if err := s.interrupt(h, pid, pgrp, job); err != nil {
			return err
		}
	}
	discarded := s.drain(h)
	s.resync(h)
	s.log.Info("kill_recovered", slog.Int("discarded_bytes", discarded))

	if !job && !running {
		return &KillError{Kind: KillAlreadyTerminated}
	}
	return nil
}

// interrupt sends SIGINT to the foreground job, or ^C to the shell when the
// shell itself is busy, and escalates to SIGKILL after the grace period.
func (s *Session) interrupt(h pty.Handle, pid, pgrp int, job bool) error {
	if job {
		if err := s.backend.SignalGroup(h, pgrp, syscall.SIGINT); err != nil {
			if errors.Is(err, pty.ErrPermissionDenied) {
				return &KillError{Kind: KillPermissionDenied, Err: err}
			}
			return nil
		}
	} else {
		_ = s.backend.Write(h, []byte{0x03})
	}
	if s.waitForeground(h, pid, s.cfg.KillGrace) {
		return nil
	}

	fg, err := s.backend.ForegroundProcessGroup(h)
	if err != nil || fg <= 0 || fg == pid {
		return nil
	}
	s.log.Warn("kill_escalated", slog.Int("pgrp", fg), slog.Duration("grace", s.cfg.KillGrace))
	if err := s.backend.SignalGroup(h, fg, syscall.SIGKILL); err != nil && errors.Is(err, pty.ErrPermissionDenied) {
		return &KillError{Kind: KillPermissionDenied, Err: err}
	}
	s.waitForeground(h, pid, killReapWait)
	return nil
}

// waitForeground waits until the shell owns the terminal again. It reports
// true when it does or when the shell is gone.
func (s *Session) waitForeground(h pty.Handle, pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		fg, err := s.backend.ForegroundProcessGroup(h)
		if err != nil || fg == pid {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(killPollInterval)
	}
}

// drain discards output until the terminal has been quiet for a moment or
// the drain window closes. Those bytes belong to the killed command.
func (s *Session) drain(h pty.Handle) int {
	start := time.Now()
	last := start
	n := 0
	for time.Since(start) < drainMax {
		chunk, ok, err := s.backend.TryRead(h)
		if err != nil {
			break
		}
		if ok {
			n += len(chunk)
			last = time.Now()
			continue
		}
		if time.Since(last) >= drainQuiet {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return n
}

// resync marks the running block killed, resets parser and renderer state
// and fences off anything the killed command may still print.
func (s *Session) resync(h pty.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blk := s.current; blk != nil {
		s.apply(s.seg.Abandon())
		s.complete(blk, block.StatusKilled, nil)
	}
	s.leaveRemote("killed")

	s.parser.Reset()
	s.seg.Reset()
	s.apply(s.seg.Ingest(s.parser.Feed([]byte(guard.RecoverySequence)), block.Stdout))
	s.pending.Reset = true

	token := uuid.NewString()
	s.seg.AwaitFence(token)
	if err := s.backend.Write(h, []byte(shell.FenceCommand(token)+"\n")); err != nil {
		s.log.Warn("fence_write_failed", slog.String("error", err.Error()))
	}
	if s.state == StateCommandRunning || s.state == StateInitializing {
		s.setState(StateActive)
	}
}

// IsAlive reports whether the shell is running.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUninitialized || s.state == StateTerminated {
		return false
	}
	return s.backend.IsAlive(s.handle)
}

// Resize forwards a window size change to the shell.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUninitialized {
		return ErrNotStarted
	}
	s.cfg.Cols, s.cfg.Rows = cols, rows
	return s.backend.Resize(s.handle, cols, rows)
}

// Blocks returns snapshots of the session's blocks, oldest first.
func (s *Session) Blocks() []block.CommandBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Snapshot()
}

// Block returns a snapshot of the block with the given id.
func (s *Session) Block(id string) (block.CommandBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.history.Find(id); b != nil {
		return b.Snapshot(), true
	}
	return block.CommandBlock{}, false
}

// Current returns a snapshot of the running block.
func (s *Session) Current() (block.CommandBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return block.CommandBlock{}, false
	}
	return s.current.Snapshot(), true
}

// WaitReady polls until the session leaves Initializing. Changes seen while
// waiting stay queued for the next PollUpdates.
func (s *Session) WaitReady(ctx context.Context) error {
	return s.waitFor(ctx, func() bool { return s.state == StateActive || s.state == StateCommandRunning })
}

// WaitIdle polls until no command is running.
func (s *Session) WaitIdle(ctx context.Context) error {
	return s.waitFor(ctx, func() bool { return s.current == nil && s.state != StateCommandRunning })
}

func (s *Session) waitFor(ctx context.Context, done func() bool) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !s.recovering.Load() {
			s.mu.Lock()
			s.poll()
			st, ok := s.state, done()
			s.mu.Unlock()
			switch {
			case st == StateUninitialized:
				return ErrNotStarted
			case ok:
				return nil
			case st == StateTerminated:
				return pty.ErrProcessTerminated
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close terminates the shell. A running block is marked killed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateTerminated:
		return nil
	case StateUninitialized:
		s.setState(StateTerminated)
		return nil
	}
	err := s.backend.Terminate(s.handle, true)
	if blk := s.current; blk != nil {
		s.apply(s.seg.Abandon())
		s.complete(blk, block.StatusKilled, nil)
	}
	s.setState(StateTerminated)
	s.reclaim()
	s.log.Info("session_closed", slog.Int("blocks", s.history.Len()))
	if errors.Is(err, pty.ErrHandleTerminated) {
		return nil
	}
	return err
}
