//go:build !windows

package pty

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return path
}

// readUntil polls TryRead until the accumulated output contains want.
func readUntil(t *testing.T, read func() ([]byte, bool), want string, timeout time.Duration) string {
	t.Helper()
	var buf bytes.Buffer
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		chunk, ok := read()
		if ok {
			buf.Write(chunk)
			if strings.Contains(buf.String(), want) {
				return buf.String()
			}
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, got %q", want, buf.String())
	return ""
}

func TestSpawn_Errors(t *testing.T) {
	requireShell(t)

	_, err := Spawn(SpawnOptions{Command: "mosaicterm-no-such-command-xyz"})
	require.ErrorIs(t, err, ErrCommandNotFound)
	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SpawnCommandNotFound, se.Kind)

	_, err = Spawn(SpawnOptions{Command: "sh", Dir: filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, ErrInvalidWorkingDirectory)

	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = Spawn(SpawnOptions{Command: "sh", Dir: file})
	require.ErrorIs(t, err, ErrInvalidWorkingDirectory)

	if os.Geteuid() != 0 {
		_, err = Spawn(SpawnOptions{Command: file})
		require.ErrorIs(t, err, ErrPermissionDenied)
	}

	_, err = Spawn(SpawnOptions{})
	require.ErrorIs(t, err, ErrCommandNotFound)
}

func TestSession_RunsAndExits(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	s, err := Spawn(SpawnOptions{
		Command: "sh",
		Args:    []string{"-c", "echo hello from $PWD; exit 3"},
		Env:     map[string]string{"PATH": os.Getenv("PATH")},
		Dir:     dir,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.Handle().IsZero())
	assert.Greater(t, s.PID(), 0)
	assert.Equal(t, dir, s.WorkingDir())

	out := readUntil(t, s.TryRead, "hello from", 5*time.Second)
	assert.Contains(t, out, "hello from")

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	code, exited := s.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, 3, code)
	assert.False(t, s.IsAlive())

	require.ErrorIs(t, s.Write([]byte("late\n")), ErrProcessTerminated)

	require.Eventually(t, func() bool {
		for {
			if _, ok := s.TryRead(); !ok {
				break
			}
		}
		return s.Drained()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSession_TryReadNeverBlocks(t *testing.T) {
	requireShell(t)
	s, err := Spawn(SpawnOptions{Command: "sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)
	defer func() { _ = s.Terminate(false) }()

	start := time.Now()
	for i := 0; i < 100; i++ {
		_, ok := s.TryRead()
		assert.False(t, ok)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSession_EchoDisabled(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	s, err := Spawn(SpawnOptions{Command: "cat"})
	require.NoError(t, err)
	defer func() { _ = s.Terminate(false) }()

	require.NoError(t, s.Write([]byte("ping\n")))
	out := readUntil(t, s.TryRead, "ping", 5*time.Second)

	// give a would-be echo time to arrive
	time.Sleep(200 * time.Millisecond)
	for {
		chunk, ok := s.TryRead()
		if !ok {
			break
		}
		out += string(chunk)
	}
	assert.Equal(t, 1, strings.Count(out, "ping"), "output %q", out)
}

func TestSession_ForegroundAndTerminate(t *testing.T) {
	requireShell(t)
	s, err := Spawn(SpawnOptions{Command: "sh", Args: []string{"-c", "sleep 30"}, Cols: 100, Rows: 40})
	require.NoError(t, err)

	pgrp, err := s.ForegroundProcessGroup()
	require.NoError(t, err)
	assert.Equal(t, s.PID(), pgrp, "a session leader owns its terminal")

	require.NoError(t, s.Resize(120, 50))

	start := time.Now()
	require.NoError(t, s.Terminate(false))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.False(t, s.IsAlive())

	code, _ := s.ExitCode()
	assert.Equal(t, 128+9, code)

	_, err = s.ForegroundProcessGroup()
	assert.ErrorIs(t, err, ErrProcessTerminated)
	require.NoError(t, s.Terminate(true), "terminating an exited session is a no-op")
}

func TestSession_GracefulTerminate(t *testing.T) {
	requireShell(t)
	s, err := Spawn(SpawnOptions{Command: "sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)

	require.NoError(t, s.Terminate(true))
	assert.False(t, s.IsAlive())
}

func TestChunkQueue(t *testing.T) {
	q := newChunkQueue()
	_, ok := q.tryPop()
	assert.False(t, ok)

	assert.True(t, q.push([]byte("ab")))
	assert.True(t, q.push([]byte("cde")))
	assert.Equal(t, 5, q.pending())

	select {
	case <-q.ready():
	default:
		t.Fatal("push must signal")
	}

	c, ok := q.tryPop()
	require.True(t, ok)
	assert.Equal(t, "ab", string(c))

	q.close()
	assert.False(t, q.push([]byte("x")))
	c, ok = q.tryPop()
	require.True(t, ok, "queued data survives close")
	assert.Equal(t, "cde", string(c))
	assert.Equal(t, 0, q.pending())
}
