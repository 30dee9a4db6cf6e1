package segment

import (
	"strings"
	"time"

	"github.com/mosaicterm/mosaicterm/internal/vt"
)

// BoundaryReason records which signal closed a command block.
type BoundaryReason uint8

const (
	ReasonMarker  BoundaryReason = iota // shell-injected OSC 133;D mark
	ReasonPrompt                        // prompt pattern matched the tail line
	ReasonQuiet                         // quiet period after a prompt terminator
	ReasonTimeout                       // block ran past its timeout
)

func (r BoundaryReason) String() string {
	switch r {
	case ReasonMarker:
		return "marker"
	case ReasonPrompt:
		return "prompt"
	case ReasonQuiet:
		return "quiet"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Boundary is the end of one command's output.
type Boundary struct {
	Reason   BoundaryReason
	ExitCode *int
	// PromptLen is the number of trailing bytes of the tail line that belong
	// to the prompt and are dropped from the block.
	PromptLen int
}

// Detector decides where a command's output ends. Implementations may keep
// state; a Segmenter owns its detector.
type Detector interface {
	Name() string
	// Mark is called for every shell-integration mark.
	Mark(m vt.Mark) (Boundary, bool)
	// Prompt is called with the current unterminated tail line after new
	// output (quiet == 0) and on every tick with the time since the last byte.
	Prompt(tail string, quiet time.Duration) (Boundary, bool)
}

// MarkerDetector closes blocks on OSC 133;D marks emitted by the shell's
// prompt hook. It is exact when the shell is integrated and silent otherwise.
type MarkerDetector struct{}

func (MarkerDetector) Name() string { return "marker" }

func (MarkerDetector) Mark(m vt.Mark) (Boundary, bool) {
	if m.Kind != vt.MarkCommandFinished {
		return Boundary{}, false
	}
	b := Boundary{Reason: ReasonMarker}
	if m.HasExitCode {
		code := m.ExitCode
		b.ExitCode = &code
	}
	return b, true
}

func (MarkerDetector) Prompt(string, time.Duration) (Boundary, bool) {
	return Boundary{}, false
}

// PatternDetector closes blocks when the tail line ends with a known prompt.
type PatternDetector struct {
	Patterns *Patterns
	// Settle is how long the tail must stay unchanged before it is tested.
	// Zero tests every new chunk.
	Settle time.Duration
}

func (d *PatternDetector) Name() string { return "pattern" }

func (d *PatternDetector) Mark(vt.Mark) (Boundary, bool) {
	return Boundary{}, false
}

func (d *PatternDetector) Prompt(tail string, quiet time.Duration) (Boundary, bool) {
	if quiet < d.Settle {
		return Boundary{}, false
	}
	n, ok := d.Patterns.MatchSuffix(tail)
	if !ok {
		return Boundary{}, false
	}
	return Boundary{Reason: ReasonPrompt, PromptLen: n}, true
}

// DefaultTerminators are the characters a quiet prompt line may end with.
const DefaultTerminators = "$#%>"

// QuietDetector is the last-resort heuristic: an unterminated line ending in a
// prompt terminator, followed by a quiet period, is taken to be a prompt.
type QuietDetector struct {
	Period      time.Duration
	Terminators string
}

func (d *QuietDetector) Name() string { return "quiet" }

func (d *QuietDetector) Mark(vt.Mark) (Boundary, bool) {
	return Boundary{}, false
}

func (d *QuietDetector) Prompt(tail string, quiet time.Duration) (Boundary, bool) {
	if quiet == 0 || quiet < d.Period {
		return Boundary{}, false
	}
	trimmed := strings.TrimRight(tail, " ")
	if trimmed == "" {
		return Boundary{}, false
	}
	terms := d.Terminators
	if terms == "" {
		terms = DefaultTerminators
	}
	if !strings.ContainsRune(terms, rune(trimmed[len(trimmed)-1])) {
		return Boundary{}, false
	}
	return Boundary{Reason: ReasonQuiet, PromptLen: len(tail)}, true
}

// Chain tries each detector in order; the first to report a boundary wins.
type Chain []Detector

func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, d := range c {
		names[i] = d.Name()
	}
	return strings.Join(names, "+")
}

func (c Chain) Mark(m vt.Mark) (Boundary, bool) {
	for _, d := range c {
		if b, ok := d.Mark(m); ok {
			return b, true
		}
	}
	return Boundary{}, false
}

func (c Chain) Prompt(tail string, quiet time.Duration) (Boundary, bool) {
	for _, d := range c {
		if b, ok := d.Prompt(tail, quiet); ok {
			return b, true
		}
	}
	return Boundary{}, false
}
