// Package block holds the command-block data model: styled output lines grouped
// under the command that produced them.
package block

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotRunning     = errors.New("block: not running")
	ErrNotPending     = errors.New("block: not pending")
	ErrInvalidOutcome = errors.New("block: invalid terminal status")
)

// Status is the execution status of a CommandBlock.
type Status uint8

const (
	StatusPending Status = iota
	StatusRunning
	StatusSuccess
	StatusFailed
	StatusTimedOut
	StatusKilled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusKilled:
		return "killed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for st := StatusPending; st <= StatusKilled; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("block: unknown status %q", s)
}

// Finished reports whether s is a terminal status.
func (s Status) Finished() bool {
	return s >= StatusSuccess
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	st, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// StreamKind tells which output stream a line came from.
type StreamKind uint8

const (
	Stdout StreamKind = iota
	Stderr
)

func (k StreamKind) String() string {
	if k == Stderr {
		return "stderr"
	}
	return "stdout"
}

func (k StreamKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *StreamKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "stdout":
		*k = Stdout
	case "stderr":
		*k = Stderr
	default:
		return fmt.Errorf("block: unknown stream %q", text)
	}
	return nil
}

// OutputLine is one line of command output.
type OutputLine struct {
	Index      int          `json:"index"`
	Spans      []StyledSpan `json:"spans"`
	ReceivedAt time.Time    `json:"received_at"`
	Stream     StreamKind   `json:"stream"`
	// Final is set once no more bytes will be appended to the line.
	Final bool `json:"final,omitempty"`
	// Synthetic marks lines produced by the terminal itself (truncation and
	// timeout notices) rather than by the command.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Text returns the line's plain text.
func (l OutputLine) Text() string {
	if len(l.Spans) == 1 {
		return l.Spans[0].Text
	}
	var sb strings.Builder
	for _, s := range l.Spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

func (l OutputLine) clone() OutputLine {
	l.Spans = append([]StyledSpan(nil), l.Spans...)
	return l
}

// CommandBlock is one submitted command and its captured output.
// A block is not safe for concurrent use; its owner hands out Snapshot copies.
type CommandBlock struct {
	ID         string
	Command    string
	Lines      []OutputLine
	Status     Status
	StartedAt  time.Time
	EndedAt    time.Time
	WorkingDir string
	ExitCode   *int
	Truncated  bool
	// Interactive is set when the command is a known full-screen program or
	// its output switched to the alternate screen.
	Interactive bool
}

// New returns a pending block.
func New(id, command, workingDir string) *CommandBlock {
	return &CommandBlock{
		ID:         id,
		Command:    command,
		WorkingDir: workingDir,
		Status:     StatusPending,
	}
}

// Start moves a pending block to Running.
func (b *CommandBlock) Start(now time.Time) error {
	if b.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrNotPending, b.Status)
	}
	b.Status = StatusRunning
	b.StartedAt = now
	return nil
}

// Finish records the block's single transition from Running to a terminal status.
func (b *CommandBlock) Finish(status Status, exitCode *int, now time.Time) error {
	if !status.Finished() {
		return fmt.Errorf("%w: %s", ErrInvalidOutcome, status)
	}
	if b.Status != StatusRunning {
		return fmt.Errorf("%w: %s", ErrNotRunning, b.Status)
	}
	b.Status = status
	b.EndedAt = now
	if exitCode != nil {
		code := *exitCode
		b.ExitCode = &code
	}
	// the tail line can no longer grow
	if n := len(b.Lines); n > 0 {
		b.Lines[n-1].Final = true
	}
	return nil
}

// Running reports whether the block still accepts output.
func (b *CommandBlock) Running() bool {
	return b.Status == StatusRunning
}

// PutLine inserts or replaces a line. A line whose index equals the last
// line's index replaces it (the tail grew or was finalized); a higher index
// is appended. Lower indices and writes to finished blocks are rejected, so
// indices stay strictly increasing.
func (b *CommandBlock) PutLine(l OutputLine) bool {
	if !b.Running() {
		return false
	}
	n := len(b.Lines)
	if n > 0 {
		last := &b.Lines[n-1]
		switch {
		case l.Index == last.Index && !last.Final:
			*last = l
			return true
		case l.Index <= last.Index:
			return false
		}
	}
	b.Lines = append(b.Lines, l)
	return true
}

// DropTail removes the last line if it has the given index and is not final.
func (b *CommandBlock) DropTail(index int) bool {
	n := len(b.Lines)
	if !b.Running() || n == 0 || b.Lines[n-1].Index != index || b.Lines[n-1].Final {
		return false
	}
	b.Lines = b.Lines[:n-1]
	return true
}

// Duration returns how long the block ran, or has been running as of now.
func (b *CommandBlock) Duration(now time.Time) time.Duration {
	if b.StartedAt.IsZero() {
		return 0
	}
	if !b.EndedAt.IsZero() {
		return b.EndedAt.Sub(b.StartedAt)
	}
	return now.Sub(b.StartedAt)
}

// Output returns the block's text, one line per OutputLine.
func (b *CommandBlock) Output() string {
	lines := make([]string, len(b.Lines))
	for i, l := range b.Lines {
		lines[i] = l.Text()
	}
	return strings.Join(lines, "\n")
}

// Snapshot returns a deep copy safe to hand to a renderer.
func (b *CommandBlock) Snapshot() CommandBlock {
	s := *b
	s.Lines = make([]OutputLine, len(b.Lines))
	for i, l := range b.Lines {
		s.Lines[i] = l.clone()
	}
	if b.ExitCode != nil {
		code := *b.ExitCode
		s.ExitCode = &code
	}
	return s
}
