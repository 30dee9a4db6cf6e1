package terminal

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Submit while a command is running or the
	// session is not Active.
	ErrNotReady = errors.New("terminal: session not ready")
	// ErrInvalidCommand is returned by Submit for empty or multi-line input.
	ErrInvalidCommand = errors.New("terminal: invalid command")
	// ErrAlreadyTerminated is returned by KillCurrent when nothing is running.
	ErrAlreadyTerminated = errors.New("terminal: already terminated")
	// ErrPermissionDenied is returned by KillCurrent when the process group
	// cannot be signalled.
	ErrPermissionDenied = errors.New("terminal: permission denied")
	// ErrNotStarted is returned by operations on a session that was never
	// started.
	ErrNotStarted = errors.New("terminal: session not started")
)

// SubmitErrorKind classifies a SubmitError.
type SubmitErrorKind uint8

const (
	SubmitNotReady SubmitErrorKind = iota
	SubmitInvalid
)

// SubmitError explains why a command was not sent.
type SubmitError struct {
	Kind    SubmitErrorKind
	State   State
	Command string
	Err     error
}

func (e *SubmitError) Error() string {
	switch e.Kind {
	case SubmitInvalid:
		return fmt.Sprintf("terminal: invalid command %q", e.Command)
	default:
		if e.Err != nil {
			return fmt.Sprintf("terminal: session not ready (%s): %v", e.State, e.Err)
		}
		return fmt.Sprintf("terminal: session not ready (%s)", e.State)
	}
}

func (e *SubmitError) Unwrap() []error {
	sentinel := ErrNotReady
	if e.Kind == SubmitInvalid {
		sentinel = ErrInvalidCommand
	}
	if e.Err != nil {
		return []error{sentinel, e.Err}
	}
	return []error{sentinel}
}

// KillErrorKind classifies a KillError.
type KillErrorKind uint8

const (
	KillAlreadyTerminated KillErrorKind = iota
	KillPermissionDenied
)

// KillError explains why KillCurrent had nothing to do or could not act.
type KillError struct {
	Kind KillErrorKind
	Err  error
}

func (e *KillError) Error() string {
	msg := "terminal: already terminated"
	if e.Kind == KillPermissionDenied {
		msg = "terminal: permission denied"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *KillError) Unwrap() []error {
	sentinel := ErrAlreadyTerminated
	if e.Kind == KillPermissionDenied {
		sentinel = ErrPermissionDenied
	}
	if e.Err != nil {
		return []error{sentinel, e.Err}
	}
	return []error{sentinel}
}
