//go:build !windows

package pty

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleeper() SpawnOptions {
	return SpawnOptions{Command: "sh", Args: []string{"-c", "sleep 30"}}
}

func TestRegistry_Lifecycle(t *testing.T) {
	requireShell(t)
	r := NewRegistry()
	defer func() { _ = r.TerminateAll(context.Background()) }()

	a, err := r.Create(sleeper())
	require.NoError(t, err)
	b, err := r.Create(sleeper())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	assert.Equal(t, 2, r.ActiveCount())
	assert.True(t, r.IsAlive(a))

	info, err := r.Info(a)
	require.NoError(t, err)
	assert.Equal(t, a, info.Handle)
	assert.True(t, info.Alive)

	require.NoError(t, r.SetWorkingDir(a, "/tmp"))
	info, _ = r.Info(a)
	assert.Equal(t, "/tmp", info.WorkingDir)

	require.NoError(t, r.Terminate(a, false))
	assert.False(t, r.IsAlive(a))
	assert.Equal(t, 1, r.ActiveCount())

	// handle reuse after termination is an error, not a silent success
	require.ErrorIs(t, r.Terminate(a, false), ErrHandleTerminated)
	require.ErrorIs(t, r.Write(a, []byte("x")), ErrHandleTerminated)
	_, _, err = r.TryRead(a)
	require.ErrorIs(t, err, ErrHandleTerminated)

	assert.Equal(t, 1, r.CleanupTerminated())
	require.ErrorIs(t, r.Write(a, []byte("x")), ErrHandleTerminated, "reclaimed handles stay terminated")
	assert.Equal(t, 0, r.CleanupTerminated())

	require.NoError(t, r.Write(b, []byte("\n")))
	assert.True(t, r.IsAlive(b))
}

func TestRegistry_UnknownHandle(t *testing.T) {
	r := NewRegistry()
	require.ErrorIs(t, r.Write(newHandle(), nil), ErrUnknownHandle)
	_, err := r.Info(Handle{})
	require.ErrorIs(t, err, ErrUnknownHandle)
	assert.False(t, r.IsAlive(newHandle()))
}

func TestRegistry_CreateFailureRegistersNothing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(SpawnOptions{Command: "mosaicterm-no-such-command-xyz"})
	require.ErrorIs(t, err, ErrCommandNotFound)
	assert.Empty(t, r.Handles())
}

func TestRegistry_CleanupReclaimsExitedDrainedSessions(t *testing.T) {
	requireShell(t)
	r := NewRegistry()

	h, err := r.Create(SpawnOptions{Command: "sh", Args: []string{"-c", "echo bye"}})
	require.NoError(t, err)

	done, err := r.Done(h)
	require.NoError(t, err)
	<-done

	// not reclaimed while output is still buffered or being read
	require.Eventually(t, func() bool {
		for {
			_, ok, err := r.TryRead(h)
			if err != nil || !ok {
				break
			}
		}
		return r.CleanupTerminated() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, r.ActiveCount())
	require.ErrorIs(t, r.Write(h, []byte("x")), ErrHandleTerminated)
	assert.Empty(t, r.Handles())

	// the final status outlives the entry
	info, err := r.Info(h)
	require.NoError(t, err)
	assert.True(t, info.Exited)
	assert.Equal(t, 0, info.ExitCode)
	assert.False(t, info.Alive)
}

func TestRegistry_PerSessionLocking(t *testing.T) {
	requireShell(t)
	r := NewRegistry()
	defer func() { _ = r.TerminateAll(context.Background()) }()

	a, err := r.Create(sleeper())
	require.NoError(t, err)
	b, err := r.Create(sleeper())
	require.NoError(t, err)

	// hold session A's lock as a slow operation would
	v, ok := r.entries.Load(a)
	require.True(t, ok)
	ea := v.(*entry)
	ea.mu.Lock()
	defer ea.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Write(b, []byte("\n"))
		_, _, _ = r.TryRead(b)
		_ = r.IsAlive(b)
		_, _ = r.Info(b)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operations on B waited for A's lock")
	}
}

func TestRegistry_TerminateAll(t *testing.T) {
	requireShell(t)
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		_, err := r.Create(sleeper())
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.ActiveCount())

	start := time.Now()
	require.NoError(t, r.TerminateAll(context.Background()))
	assert.Equal(t, 0, r.ActiveCount())
	// graceful terminates run concurrently
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestParseHandle(t *testing.T) {
	h := newHandle()
	got, err := ParseHandle(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = ParseHandle("not-a-handle")
	assert.Error(t, err)
}
