package terminal

import (
	"strings"
	"sync"
	"syscall"

	"github.com/mosaicterm/mosaicterm/internal/pty"
)

const fakePID = 4242

// fakeBackend is an in-memory PTY layer. Output is whatever the test pushes;
// input is recorded.
type fakeBackend struct {
	mu         sync.Mutex
	handle     pty.Handle
	created    bool
	opts       pty.SpawnOptions
	out        [][]byte
	in         []string
	fg         int
	signals    []syscall.Signal
	signalErr  error
	ignoreINT  bool
	exited     bool
	exitCode   int
	terminated bool
	reclaimed  bool
	dir        string
	cols, rows uint16
	createErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{fg: fakePID}
}

func (f *fakeBackend) push(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, []byte(s))
}

func (f *fakeBackend) inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.in...)
}

// lastFence returns the token of the most recent fence command written.
func (f *fakeBackend) lastFence() string {
	in := f.inputs()
	for i := len(in) - 1; i >= 0; i-- {
		if strings.Contains(in[i], "133;F;") {
			s := strings.TrimSpace(in[i])
			s = strings.TrimSuffix(s, "'")
			return s[strings.LastIndex(s, "'")+1:]
		}
	}
	return ""
}

func (f *fakeBackend) setForeground(pgrp int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fg = pgrp
}

func (f *fakeBackend) exit(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = true
	f.exitCode = code
}

func (f *fakeBackend) Create(opts pty.SpawnOptions) (pty.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return pty.Handle{}, f.createErr
	}
	h, _ := pty.ParseHandle("6f1c2d2e-8c1e-4b7a-9a59-1f2d3c4b5a69")
	f.handle = h
	f.created = true
	f.opts = opts
	f.dir = opts.Dir
	return h, nil
}

func (f *fakeBackend) check(h pty.Handle) error {
	if !f.created || h != f.handle {
		return pty.ErrUnknownHandle
	}
	if f.terminated {
		return pty.ErrHandleTerminated
	}
	return nil
}

func (f *fakeBackend) Write(h pty.Handle, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return err
	}
	if f.exited {
		return pty.ErrProcessTerminated
	}
	f.in = append(f.in, string(p))
	return nil
}

func (f *fakeBackend) TryRead(h pty.Handle) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return nil, false, err
	}
	if len(f.out) == 0 {
		return nil, false, nil
	}
	c := f.out[0]
	f.out = f.out[1:]
	return c, true, nil
}

func (f *fakeBackend) Resize(h pty.Handle, cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cols, f.rows = cols, rows
	return f.check(h)
}

func (f *fakeBackend) ForegroundProcessGroup(h pty.Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return 0, err
	}
	if f.exited {
		return 0, pty.ErrProcessTerminated
	}
	return f.fg, nil
}

func (f *fakeBackend) SignalGroup(h pty.Handle, pgrp int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return err
	}
	if f.signalErr != nil {
		return f.signalErr
	}
	f.signals = append(f.signals, sig)
	if sig == syscall.SIGKILL || !f.ignoreINT {
		f.fg = fakePID
	}
	return nil
}

func (f *fakeBackend) SetWorkingDir(h pty.Handle, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dir = dir
	return f.check(h)
}

func (f *fakeBackend) Info(h pty.Handle) (pty.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return pty.Info{}, err
	}
	return pty.Info{
		Handle:     h,
		PID:        fakePID,
		WorkingDir: f.dir,
		Alive:      !f.exited,
		Exited:     f.exited,
		ExitCode:   f.exitCode,
		Pending:    len(f.out),
		Drained:    f.exited && len(f.out) == 0,
	}, nil
}

func (f *fakeBackend) IsAlive(h pty.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.check(h) == nil && !f.exited
}

func (f *fakeBackend) Terminate(h pty.Handle, graceful bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return err
	}
	f.terminated = true
	f.exited = true
	return nil
}

func (f *fakeBackend) signalsSent() []syscall.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syscall.Signal(nil), f.signals...)
}

func (f *fakeBackend) CleanupTerminated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.terminated || f.reclaimed {
		return 0
	}
	f.reclaimed = true
	return 1
}

func (f *fakeBackend) wasReclaimed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reclaimed
}
