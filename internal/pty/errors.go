package pty

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
)

var (
	ErrCommandNotFound         = errors.New("command not found")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrInvalidWorkingDirectory = errors.New("invalid working directory")
	ErrResourceExhausted       = errors.New("resource exhausted")
	ErrProcessTerminated       = errors.New("process terminated")
	ErrHandleTerminated        = errors.New("pty handle terminated")
	ErrUnknownHandle           = errors.New("unknown pty handle")
)

// SpawnErrorKind classifies why a process could not be started.
type SpawnErrorKind uint8

const (
	SpawnFailed SpawnErrorKind = iota
	SpawnCommandNotFound
	SpawnPermissionDenied
	SpawnInvalidWorkingDirectory
	SpawnResourceExhausted
)

func (k SpawnErrorKind) sentinel() error {
	switch k {
	case SpawnCommandNotFound:
		return ErrCommandNotFound
	case SpawnPermissionDenied:
		return ErrPermissionDenied
	case SpawnInvalidWorkingDirectory:
		return ErrInvalidWorkingDirectory
	case SpawnResourceExhausted:
		return ErrResourceExhausted
	default:
		return nil
	}
}

// SpawnError is returned by Spawn and Registry.Create. It matches the
// ErrCommandNotFound, ErrPermissionDenied, ErrInvalidWorkingDirectory and
// ErrResourceExhausted sentinels with errors.Is, as well as the OS error.
type SpawnError struct {
	Kind    SpawnErrorKind
	Command string
	Dir     string
	Err     error
}

func (e *SpawnError) Error() string {
	msg := "spawn " + e.Command
	if e.Kind == SpawnInvalidWorkingDirectory {
		msg += " in " + e.Dir
	}
	if s := e.Kind.sentinel(); s != nil {
		msg += ": " + s.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SpawnError) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// classifySpawnError maps an OS error from lookup or start to a kind.
func classifySpawnError(err error) SpawnErrorKind {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return SpawnCommandNotFound
	case errors.Is(err, fs.ErrPermission):
		return SpawnPermissionDenied
	case errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.ENOMEM),
		errors.Is(err, syscall.ENOSPC):
		return SpawnResourceExhausted
	default:
		return SpawnFailed
	}
}

func writeError(err error) error {
	return fmt.Errorf("write input: %w", err)
}
