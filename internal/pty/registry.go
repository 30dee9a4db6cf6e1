//go:build !windows

package pty

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mosaicterm/mosaicterm/internal/logging"
)

var registryLog = logging.ForComponent(logging.CompRegistry)

// Info is a point-in-time view of a registered session.
type Info struct {
	Handle     Handle
	PID        int
	StartedAt  time.Time
	WorkingDir string
	Alive      bool
	ExitCode   int
	Exited     bool
	Pending    int
	// Drained is set once the process exited and all output was read.
	Drained bool
}

type entry struct {
	mu         sync.Mutex
	session    *Session
	terminated bool
}

// tombstone is what remains of a reclaimed session.
type tombstone struct {
	at   time.Time
	info Info
}

// tombstoneTTL is how long a reclaimed handle keeps its final status.
const tombstoneTTL = time.Hour

// Registry tracks sessions by handle. The handle map is lock-free for
// lookups and each entry has its own mutex, so an operation on one session
// never waits on another session's lock. Spawning happens outside any lock.
type Registry struct {
	entries    sync.Map // Handle -> *entry
	tombstones sync.Map // Handle -> tombstone, handles that were reclaimed
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Create spawns a session and registers it.
func (r *Registry) Create(opts SpawnOptions) (Handle, error) {
	s, err := Spawn(opts)
	if err != nil {
		registryLog.Warn("spawn_failed", slog.String("command", opts.Command), slog.String("error", err.Error()))
		return Handle{}, err
	}
	r.entries.Store(s.Handle(), &entry{session: s})
	return s.Handle(), nil
}

func (r *Registry) lookup(h Handle) (*entry, error) {
	if v, ok := r.entries.Load(h); ok {
		return v.(*entry), nil
	}
	if _, ok := r.tombstones.Load(h); ok {
		return nil, ErrHandleTerminated
	}
	return nil, ErrUnknownHandle
}

// with runs fn under h's entry lock. Terminated handles are rejected.
func (r *Registry) with(h Handle, fn func(*Session) error) error {
	e, err := r.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrHandleTerminated
	}
	return fn(e.session)
}

// Write queues input for the session.
func (r *Registry) Write(h Handle, p []byte) error {
	return r.with(h, func(s *Session) error {
		return s.Write(p)
	})
}

// TryRead returns the next buffered output chunk without blocking.
func (r *Registry) TryRead(h Handle) ([]byte, bool, error) {
	var (
		chunk []byte
		ok    bool
	)
	err := r.with(h, func(s *Session) error {
		chunk, ok = s.TryRead()
		return nil
	})
	return chunk, ok, err
}

// Resize changes a session's window size.
func (r *Registry) Resize(h Handle, cols, rows uint16) error {
	return r.with(h, func(s *Session) error {
		return s.Resize(cols, rows)
	})
}

// ForegroundProcessGroup returns the process group owning h's terminal.
func (r *Registry) ForegroundProcessGroup(h Handle) (int, error) {
	var pgrp int
	err := r.with(h, func(s *Session) error {
		var err error
		pgrp, err = s.ForegroundProcessGroup()
		return err
	})
	return pgrp, err
}

// SignalGroup sends sig to a process group of h's terminal.
func (r *Registry) SignalGroup(h Handle, pgrp int, sig syscall.Signal) error {
	return r.with(h, func(s *Session) error {
		return s.SignalGroup(pgrp, sig)
	})
}

// SetWorkingDir records the shell-reported working directory of h.
func (r *Registry) SetWorkingDir(h Handle, dir string) error {
	return r.with(h, func(s *Session) error {
		s.SetWorkingDir(dir)
		return nil
	})
}

// Info describes h. A reclaimed handle reports the status it had when it
// was reclaimed, so an owner that missed the exit still learns the code.
func (r *Registry) Info(h Handle) (Info, error) {
	if v, ok := r.tombstones.Load(h); ok {
		return v.(tombstone).info, nil
	}
	var info Info
	err := r.with(h, func(s *Session) error {
		info = sessionInfo(s)
		return nil
	})
	return info, err
}

func sessionInfo(s *Session) Info {
	code, exited := s.ExitCode()
	return Info{
		Handle:     s.Handle(),
		PID:        s.PID(),
		StartedAt:  s.StartedAt(),
		WorkingDir: s.WorkingDir(),
		Alive:      s.IsAlive(),
		ExitCode:   code,
		Exited:     exited,
		Pending:    s.Pending(),
		Drained:    s.Drained(),
	}
}

// IsAlive reports whether h refers to a registered, running session.
func (r *Registry) IsAlive(h Handle) bool {
	alive := false
	_ = r.with(h, func(s *Session) error {
		alive = s.IsAlive()
		return nil
	})
	return alive
}

// Done returns a channel closed when h's process exits.
func (r *Registry) Done(h Handle) (<-chan struct{}, error) {
	var ch <-chan struct{}
	err := r.with(h, func(s *Session) error {
		ch = s.Done()
		return nil
	})
	return ch, err
}

// Terminate stops h's process and marks the handle terminated. Using the
// handle afterwards, including a second Terminate, returns ErrHandleTerminated.
func (r *Registry) Terminate(h Handle, graceful bool) error {
	e, err := r.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return ErrHandleTerminated
	}
	err = e.session.Terminate(graceful)
	e.terminated = true
	registryLog.Info("session_terminated", slog.String("handle", h.String()), slog.Bool("graceful", graceful))
	return err
}

// ActiveCount returns the number of registered sessions still running.
func (r *Registry) ActiveCount() int {
	n := 0
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.terminated && e.session.IsAlive() {
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}

// Handles returns the registered handles.
func (r *Registry) Handles() []Handle {
	var out []Handle
	r.entries.Range(func(k, _ any) bool {
		out = append(out, k.(Handle))
		return true
	})
	return out
}

// CleanupTerminated releases terminated sessions and sessions whose process
// exited with all output consumed. Their handles stay known as terminated
// for a while. It returns the number of sessions reclaimed.
func (r *Registry) CleanupTerminated() int {
	n := 0
	now := time.Now()
	r.entries.Range(func(k, v any) bool {
		h, e := k.(Handle), v.(*entry)
		e.mu.Lock()
		reclaim := e.terminated || e.session.Drained()
		if reclaim {
			e.terminated = true
			info := sessionInfo(e.session)
			e.session.Close()
			r.tombstones.Store(h, tombstone{at: now, info: info})
			r.entries.Delete(h)
			n++
		}
		e.mu.Unlock()
		return true
	})
	r.tombstones.Range(func(k, v any) bool {
		if now.Sub(v.(tombstone).at) > tombstoneTTL {
			r.tombstones.Delete(k)
		}
		return true
	})
	if n > 0 {
		registryLog.Debug("sessions_reclaimed", slog.Int("count", n))
	}
	return n
}

// TerminateAll gracefully stops every registered session concurrently.
func (r *Registry) TerminateAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, h := range r.Handles() {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err := r.Terminate(h, true)
			if errors.Is(err, ErrHandleTerminated) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
