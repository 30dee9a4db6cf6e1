//go:build !windows

// Package pty runs shells inside pseudo-terminals. A Session owns one PTY
// master and the child process attached to its slave; a Registry tracks many
// sessions by Handle with per-session locking.
package pty

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/mosaicterm/mosaicterm/internal/logging"
)

var ptyLog = logging.ForComponent(logging.CompPTY)

const (
	readBufferSize = 32 * 1024

	// how long a graceful Terminate waits after SIGHUP before SIGKILL
	hangupGrace = 2 * time.Second
	// how long to wait for the process to be reaped after SIGKILL
	killWait = 2 * time.Second
	// how long the master stays open after exit for the reader to drain
	drainGrace = 500 * time.Millisecond
)

// SpawnOptions are the launch parameters of a session.
type SpawnOptions struct {
	Command string
	Args    []string
	// Env is the complete child environment. Nil inherits the current process
	// environment.
	Env map[string]string
	// Dir is the working directory; empty uses the current directory.
	Dir  string
	Cols uint16
	Rows uint16
	// Echo leaves terminal echo on. By default the slave is configured
	// without ECHO so submitted input never shows up as output.
	Echo bool
}

// Session is one process running on a pseudo-terminal. A dedicated reader
// goroutine moves master output into an unbounded queue and a dedicated writer
// goroutine drains queued input into the master, so no method blocks on PTY
// I/O. All methods are safe for concurrent use.
type Session struct {
	handle    Handle
	cmd       *exec.Cmd
	ptmx      *os.File
	pid       int
	startedAt time.Time
	log       *slog.Logger

	out *chunkQueue
	in  *chunkQueue

	alive      atomic.Bool
	exited     chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	mu         sync.Mutex
	exitCode   int
	waitErr    error
	workingDir string
}

// Spawn starts opts.Command on a new pseudo-terminal. The child becomes a
// session leader with the PTY slave as its controlling terminal.
func Spawn(opts SpawnOptions) (*Session, error) {
	if opts.Command == "" {
		return nil, &SpawnError{Kind: SpawnCommandNotFound, Err: exec.ErrNotFound}
	}

	dir := opts.Dir
	if dir != "" {
		fi, err := os.Stat(dir)
		if err != nil {
			return nil, &SpawnError{Kind: SpawnInvalidWorkingDirectory, Command: opts.Command, Dir: dir, Err: err}
		}
		if !fi.IsDir() {
			return nil, &SpawnError{Kind: SpawnInvalidWorkingDirectory, Command: opts.Command, Dir: dir, Err: syscall.ENOTDIR}
		}
	} else if wd, err := os.Getwd(); err == nil {
		dir = wd
	}

	path, err := exec.LookPath(opts.Command)
	if err != nil {
		return nil, &SpawnError{Kind: classifySpawnError(err), Command: opts.Command, Err: err}
	}

	ptmx, tty, err := creackpty.Open()
	if err != nil {
		return nil, &SpawnError{Kind: classifySpawnError(err), Command: opts.Command, Err: err}
	}
	fail := func(err error) (*Session, error) {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, &SpawnError{Kind: classifySpawnError(err), Command: opts.Command, Err: err}
	}

	if !opts.Echo {
		if err := disableEcho(tty); err != nil {
			return fail(err)
		}
	}
	if opts.Cols > 0 && opts.Rows > 0 {
		if err := creackpty.Setsize(ptmx, &creackpty.Winsize{Cols: opts.Cols, Rows: opts.Rows}); err != nil {
			return fail(err)
		}
	}

	cmd := exec.Command(path, opts.Args...)
	cmd.Args[0] = opts.Command
	cmd.Dir = dir
	cmd.Env = envList(opts.Env)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = tty, tty, tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		return fail(err)
	}
	// the child holds its own copy of the slave
	_ = tty.Close()

	h := newHandle()
	s := &Session{
		handle:     h,
		cmd:        cmd,
		ptmx:       ptmx,
		pid:        cmd.Process.Pid,
		startedAt:  time.Now(),
		log:        ptyLog.With(slog.String("handle", h.String())),
		out:        newChunkQueue(),
		in:         newChunkQueue(),
		exited:     make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		workingDir: dir,
	}
	s.alive.Store(true)

	go s.readLoop()
	go s.writeLoop()
	go s.waitLoop()

	s.log.Info("pty_spawned",
		slog.String("command", opts.Command),
		slog.Int("pid", s.pid),
		slog.String("dir", dir))
	return s, nil
}

func envList(env map[string]string) []string {
	if env == nil {
		return os.Environ()
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// disableEcho clears ECHO on the slave before the child starts.
func disableEcho(tty *os.File) error {
	rc, err := tty.SyscallConn()
	if err != nil {
		return err
	}
	var ioErr error
	err = rc.Control(func(fd uintptr) {
		t, err := unix.IoctlGetTermios(int(fd), ioctlGetTermios)
		if err != nil {
			ioErr = err
			return
		}
		t.Lflag &^= unix.ECHO | unix.ECHONL
		ioErr = unix.IoctlSetTermios(int(fd), ioctlSetTermios, t)
	})
	if err != nil {
		return err
	}
	return ioErr
}

func (s *Session) readLoop() {
	defer close(s.readerDone)
	defer s.out.close()

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.out.push(chunk)
			logging.AggregateN(logging.CompPTY, "read", int64(n))
		}
		if err != nil {
			// EIO is how Linux reports a closed slave; ErrClosed follows our own Close
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				s.log.Warn("pty_read_error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case <-s.in.ready():
		case <-s.exited:
			return
		}
		for {
			chunk, ok := s.in.tryPop()
			if !ok {
				break
			}
			if _, err := s.ptmx.Write(chunk); err != nil {
				if !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EIO) {
					s.log.Warn("pty_write_error", slog.String("error", err.Error()))
				}
				s.in.close()
				return
			}
		}
		if s.in.isClosed() {
			return
		}
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			code = 128 + int(ws.Signal())
		}
	} else if err != nil {
		code = -1
	}

	s.mu.Lock()
	s.exitCode = code
	s.waitErr = err
	s.mu.Unlock()
	s.alive.Store(false)
	s.in.close()
	close(s.exited)

	s.log.Info("pty_exited", slog.Int("pid", s.pid), slog.Int("exit_code", code))

	// Linux reports EIO once the last slave fd closes. A background job that
	// still holds the slave would keep the reader blocked, so close the master
	// after a grace period.
	select {
	case <-s.readerDone:
	case <-time.After(drainGrace):
	}
	s.Close()
}

// Handle returns the session's handle.
func (s *Session) Handle() Handle { return s.handle }

// PID returns the child's process id.
func (s *Session) PID() int { return s.pid }

// StartedAt returns the spawn time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// WorkingDir returns the last known working directory.
func (s *Session) WorkingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingDir
}

// SetWorkingDir records a working directory reported by the shell.
func (s *Session) SetWorkingDir(dir string) {
	s.mu.Lock()
	s.workingDir = dir
	s.mu.Unlock()
}

// IsAlive reports whether the child has not exited yet.
func (s *Session) IsAlive() bool {
	return s.alive.Load()
}

// Done is closed when the child exits.
func (s *Session) Done() <-chan struct{} {
	return s.exited
}

// ExitCode returns the exit status once the child has exited. Death by
// signal is reported as 128+signal.
func (s *Session) ExitCode() (int, bool) {
	if s.IsAlive() {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, true
}

// Write queues p for the writer goroutine and returns immediately.
func (s *Session) Write(p []byte) error {
	if !s.IsAlive() {
		return writeError(ErrProcessTerminated)
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	if !s.in.push(chunk) {
		return writeError(ErrProcessTerminated)
	}
	return nil
}

// TryRead returns the next buffered output chunk, or false when nothing is
// buffered. It never blocks.
func (s *Session) TryRead() ([]byte, bool) {
	return s.out.tryPop()
}

// Pending returns the number of buffered output bytes.
func (s *Session) Pending() int {
	return s.out.pending()
}

// Drained reports whether the child exited and all of its output was read.
func (s *Session) Drained() bool {
	if s.IsAlive() {
		return false
	}
	select {
	case <-s.readerDone:
	default:
		return false
	}
	return s.out.pending() == 0
}

// Resize changes the terminal window size.
func (s *Session) Resize(cols, rows uint16) error {
	return creackpty.Setsize(s.ptmx, &creackpty.Winsize{Cols: cols, Rows: rows})
}

// ForegroundProcessGroup returns the process group currently owning the
// terminal. It equals PID when the shell itself is in the foreground.
func (s *Session) ForegroundProcessGroup() (int, error) {
	if !s.IsAlive() {
		return 0, ErrProcessTerminated
	}
	rc, err := s.ptmx.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		pgrp  int
		ioErr error
	)
	if err := rc.Control(func(fd uintptr) {
		pgrp, ioErr = unix.IoctlGetInt(int(fd), unix.TIOCGPGRP)
	}); err != nil {
		return 0, err
	}
	return pgrp, ioErr
}

// SignalGroup sends sig to process group pgrp, which must belong to this
// session's terminal.
func (s *Session) SignalGroup(pgrp int, sig syscall.Signal) error {
	if pgrp <= 0 {
		return ErrProcessTerminated
	}
	err := unix.Kill(-pgrp, sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return ErrProcessTerminated
	case errors.Is(err, unix.EPERM):
		return ErrPermissionDenied
	default:
		return err
	}
}

// Terminate stops the child. A graceful terminate sends SIGHUP, as a closing
// terminal would, and waits briefly before escalating to SIGKILL.
func (s *Session) Terminate(graceful bool) error {
	if !s.IsAlive() {
		return nil
	}
	if graceful {
		_ = s.cmd.Process.Signal(syscall.SIGHUP)
		select {
		case <-s.exited:
			return nil
		case <-time.After(hangupGrace):
		}
	}

	// jobs in their own process groups would survive the shell
	if fg, err := s.ForegroundProcessGroup(); err == nil && fg > 0 && fg != s.pid {
		_ = unix.Kill(-fg, syscall.SIGKILL)
	}
	if err := unix.Kill(-s.pid, syscall.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		if errors.Is(err, unix.EPERM) {
			return ErrPermissionDenied
		}
		_ = s.cmd.Process.Kill()
	}
	select {
	case <-s.exited:
	case <-time.After(killWait):
		s.log.Warn("pty_kill_timeout", slog.Int("pid", s.pid))
	}
	return nil
}

// Close releases the master. Buffered output stays readable.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.in.close()
		_ = s.ptmx.Close()
	})
}
