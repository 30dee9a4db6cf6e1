// Package segment turns parser events into command blocks: it accumulates
// styled lines, enforces per-block limits and decides where one command's
// output ends.
package segment

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mosaicterm/mosaicterm/internal/block"
	"github.com/mosaicterm/mosaicterm/internal/logging"
	"github.com/mosaicterm/mosaicterm/internal/vt"
)

var segLog = logging.ForComponent(logging.CompSegment)

// Limits bound the output kept per block.
type Limits struct {
	MaxLines     int
	MaxLineChars int
}

// DefaultLimits matches the default scrollback of one block.
var DefaultLimits = Limits{MaxLines: 10000, MaxLineChars: 4096}

// Timeouts force-close blocks that never reach a boundary.
type Timeouts struct {
	Regular     time.Duration
	Interactive time.Duration
}

// DefaultTimeouts are 30s for ordinary commands and 5m for commands flagged
// as interactive.
var DefaultTimeouts = Timeouts{Regular: 30 * time.Second, Interactive: 5 * time.Minute}

// TruncatedNotice is the text of the synthetic line appended on truncation.
const TruncatedNotice = "[output truncated]"

// Config configures a Segmenter. Zero fields take defaults.
type Config struct {
	Limits   Limits
	Timeouts Timeouts
	Detector Detector
	Clock    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Limits.MaxLines <= 0 {
		c.Limits.MaxLines = DefaultLimits.MaxLines
	}
	if c.Limits.MaxLineChars <= 0 {
		c.Limits.MaxLineChars = DefaultLimits.MaxLineChars
	}
	if c.Timeouts.Regular <= 0 {
		c.Timeouts.Regular = DefaultTimeouts.Regular
	}
	if c.Timeouts.Interactive <= 0 {
		c.Timeouts.Interactive = DefaultTimeouts.Interactive
	}
	if c.Detector == nil {
		c.Detector = MarkerDetector{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// UpdateKind summarises an Update, strongest change first.
type UpdateKind uint8

const (
	UpdateNone          UpdateKind = iota
	UpdateAppend                   // the tail line of the current block grew
	UpdateLineFinalized            // at least one line was finalized and a new one started
	UpdateBoundary                 // the current block reached its boundary
)

// Update describes what one Ingest or Tick changed.
type Update struct {
	Kind    UpdateKind
	BlockID string
	// Lines are the block's new or changed lines in index order. The last
	// entry may be the unterminated tail (Final == false).
	Lines []block.OutputLine
	// Removed lists indices of unterminated lines retracted from the block
	// because they turned out to be the prompt.
	Removed  []int
	Boundary *Boundary
	// Truncated is set on the update that truncated the block.
	Truncated bool
	// Interactive is set when the block switched to the alternate screen.
	Interactive bool
	CursorHints int
	// Prompts counts boundaries seen while no block was attached.
	Prompts int
	// FinishMarks counts OSC 133;D marks, which only the integrated local
	// shell emits.
	FinishMarks int
	WorkingDir  string
	FenceSeen   bool
}

// Empty reports whether the update carries nothing for a consumer.
func (u Update) Empty() bool {
	return u.Kind == UpdateNone && u.Prompts == 0 && u.WorkingDir == "" &&
		!u.FenceSeen && !u.Interactive && u.CursorHints == 0 && u.FinishMarks == 0
}

func (u *Update) finish() {
	switch {
	case u.Boundary != nil:
		u.Kind = UpdateBoundary
	case hasFinal(u.Lines):
		u.Kind = UpdateLineFinalized
	case len(u.Lines) > 0 || len(u.Removed) > 0:
		u.Kind = UpdateAppend
	}
}

func hasFinal(lines []block.OutputLine) bool {
	for _, l := range lines {
		if l.Final {
			return true
		}
	}
	return false
}

// Segmenter builds the output of one terminal session into blocks.
// It is not safe for concurrent use.
type Segmenter struct {
	cfg Config

	style     block.Style
	tail      lineBuilder
	tailDirty bool
	overwrite bool
	altScreen bool

	blk         *block.CommandBlock
	interactive bool
	nextIndex   int
	cursorHints int

	lastActivity time.Time

	// skip counts stale boundaries still expected from earlier commands.
	skip  int
	fence string
	// echo is a command line the terminal is expected to echo back as the
	// block's first line.
	echo string
}

// New returns an idle segmenter.
func New(cfg Config) *Segmenter {
	cfg = cfg.withDefaults()
	return &Segmenter{cfg: cfg, lastActivity: cfg.Clock()}
}

// Config returns the effective configuration.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// SetDetector swaps the boundary detector.
func (s *Segmenter) SetDetector(d Detector) {
	if d != nil {
		s.cfg.Detector = d
	}
}

// Begin attaches a running block. Output that arrives from now on belongs to
// it until a boundary is reached. interactive selects the long timeout.
func (s *Segmenter) Begin(blk *block.CommandBlock, interactive bool) {
	s.blk = blk
	s.interactive = interactive
	s.nextIndex = 0
	s.cursorHints = 0
	s.overwrite = false
	s.tail.reset()
	s.tailDirty = false
	s.echo = ""
	s.lastActivity = s.cfg.Clock()
	if interactive {
		blk.Interactive = true
	}
}

// ExpectEcho drops the attached block's first line when it repeats command,
// for shells whose terminal echoes input back.
func (s *Segmenter) ExpectEcho(command string) {
	s.echo = command
}

// Current returns the attached block, or nil when idle.
func (s *Segmenter) Current() *block.CommandBlock {
	return s.blk
}

// AlternateScreen reports whether output is currently on the alternate screen.
func (s *Segmenter) AlternateScreen() bool {
	return s.altScreen
}

// CursorHints returns how many cursor movements the current block attempted.
func (s *Segmenter) CursorHints() int {
	return s.cursorHints
}

// SkipBoundaries discards the next n boundaries as stale.
func (s *Segmenter) SkipBoundaries(n int) {
	s.skip += n
}

// AwaitFence discards all output until a fence mark carrying token arrives,
// then discards the boundary that follows it.
func (s *Segmenter) AwaitFence(token string) {
	s.fence = token
	s.skip = 0
}

// Fenced reports whether output is being discarded until a fence.
func (s *Segmenter) Fenced() bool {
	return s.fence != ""
}

// receiving reports whether output goes to the attached block.
func (s *Segmenter) receiving() bool {
	return s.blk != nil && s.skip == 0 && s.fence == ""
}

// Ingest consumes parser events for one stream.
func (s *Segmenter) Ingest(events []vt.Event, stream block.StreamKind) Update {
	var u Update
	if len(events) == 0 {
		return u
	}
	now := s.cfg.Clock()
	s.lastActivity = now
	if s.blk != nil {
		u.BlockID = s.blk.ID
	}

	for _, ev := range events {
		s.apply(ev, stream, now, &u)
	}

	if !s.tail.empty() && s.fence == "" {
		if b, ok := s.cfg.Detector.Prompt(s.tail.text(), 0); ok {
			s.boundary(b, now, &u)
		}
	}
	s.flushTail(&u)
	u.finish()
	return u
}

// Tick applies time-based rules: the quiet-period detector and block
// timeouts. It is called on every poll, with or without new output.
func (s *Segmenter) Tick() Update {
	var u Update
	now := s.cfg.Clock()
	if s.blk != nil {
		u.BlockID = s.blk.ID
	}

	if s.fence == "" && !s.tail.empty() {
		if quiet := now.Sub(s.lastActivity); quiet > 0 {
			if b, ok := s.cfg.Detector.Prompt(s.tail.text(), quiet); ok {
				s.boundary(b, now, &u)
			}
		}
	}

	if s.blk != nil && u.Boundary == nil {
		limit := s.cfg.Timeouts.Regular
		if s.interactive || s.blk.Interactive {
			limit = s.cfg.Timeouts.Interactive
		}
		if now.Sub(s.blk.StartedAt) >= limit {
			s.timeout(limit, now, &u)
		}
	}
	s.flushTail(&u)
	u.finish()
	return u
}

// Abandon detaches the current block without a boundary, finalizing its tail.
// The caller sets the block's terminal status.
func (s *Segmenter) Abandon() Update {
	var u Update
	if s.blk == nil {
		return u
	}
	u.BlockID = s.blk.ID
	s.finalizeTail(s.cfg.Clock(), &u)
	s.detach()
	u.finish()
	return u
}

// Reset returns rendition and screen state to defaults and drops the tail.
// Pending fences and skips are cleared as well.
func (s *Segmenter) Reset() {
	s.style = block.Style{}
	s.altScreen = false
	s.overwrite = false
	s.tail.reset()
	s.tailDirty = false
	s.skip = 0
	s.fence = ""
}

func (s *Segmenter) detach() {
	s.blk = nil
	s.echo = ""
	s.interactive = false
	s.cursorHints = 0
	s.tail.reset()
	s.tailDirty = false
	s.overwrite = false
}

func (s *Segmenter) apply(ev vt.Event, stream block.StreamKind, now time.Time, u *Update) {
	if s.fence != "" {
		if ev.Kind == vt.EventShellMark && ev.Mark.Kind == vt.MarkFence && ev.Mark.Value == s.fence {
			s.fence = ""
			s.skip = 1
			u.FenceSeen = true
			s.tail.reset()
		}
		return
	}

	switch ev.Kind {
	case vt.EventSetForeground, vt.EventSetBackground, vt.EventSetAttribute, vt.EventResetAttributes:
		s.style = s.style.Apply(ev)

	case vt.EventPrint:
		if s.altScreen {
			return
		}
		s.print(ev.Rune, stream, now, u)

	case vt.EventLineBreak:
		if s.altScreen {
			return
		}
		s.overwrite = false
		s.lineBreak(stream, now, u)

	case vt.EventCarriageReturn:
		if !s.altScreen {
			s.overwrite = true
		}

	case vt.EventBackspace:
		if !s.altScreen && s.tail.started {
			s.tail.backspace()
			s.tailDirty = true
		}

	case vt.EventEnterAlternateScreen:
		s.altScreen = true
		if s.blk != nil && s.receiving() {
			s.blk.Interactive = true
			u.Interactive = true
		}

	case vt.EventExitAlternateScreen:
		s.altScreen = false

	case vt.EventCursorHint:
		s.cursorHints++
		u.CursorHints++

	case vt.EventShellMark:
		switch ev.Mark.Kind {
		case vt.MarkWorkingDirectory:
			u.WorkingDir = ev.Mark.Value
		case vt.MarkCommandFinished:
			u.FinishMarks++
		}
		if b, ok := s.cfg.Detector.Mark(ev.Mark); ok {
			s.boundary(b, now, u)
		}
	}
}

// publishing reports whether tail lines are written to the attached block.
func (s *Segmenter) publishing() bool {
	return s.receiving() && !s.blk.Truncated
}

// ensureLine starts the tail line if needed. Lines of the attached block get
// the next index. A line past the line limit is held back: it may still turn
// out to be the prompt, so truncation waits until the line is finished.
func (s *Segmenter) ensureLine(stream block.StreamKind, now time.Time, u *Update) {
	if s.tail.started {
		return
	}
	if !s.publishing() {
		s.tail.start(-1, now, stream)
		return
	}
	s.tail.start(s.nextIndex, now, stream)
	if s.nextIndex < s.cfg.Limits.MaxLines {
		s.nextIndex++
	} else {
		s.tail.overLines = true
	}
}

// promptSlack bounds how many runes past a limit are held back for prompt
// detection before the block is truncated outright.
const promptSlack = 1024

// overflow returns how many runes of the tail are past the block's limits.
func (s *Segmenter) overflow() int {
	if s.tail.overLines {
		return s.tail.chars
	}
	return s.tail.chars - s.cfg.Limits.MaxLineChars
}

func (s *Segmenter) print(r rune, stream block.StreamKind, now time.Time, u *Update) {
	s.ensureLine(stream, now, u)
	if s.overwrite {
		s.tail.clearText()
		s.overwrite = false
	}
	switch {
	case s.publishing():
		if s.overflow() >= promptSlack {
			s.finalizeTail(now, u)
			s.tail.start(-1, now, stream)
		}
	case s.tail.chars >= s.cfg.Limits.MaxLineChars:
		s.tail.clearText()
	}
	s.tail.append(r, s.style)
	s.tailDirty = true
}

func (s *Segmenter) lineBreak(stream block.StreamKind, now time.Time, u *Update) {
	if !s.publishing() {
		s.finalizeTail(now, u)
		return
	}
	s.ensureLine(stream, now, u)
	over := s.tail.overLines
	s.finalizeTail(now, u)
	if over {
		// an empty line past the limit is still output
		s.truncate(now, u)
	}
}

// finalizeTail ends the tail line. Only lines of a publishing block are kept,
// cut at the character limit; scratch lines are dropped. A cut line, or any
// text past the line limit, truncates the block.
func (s *Segmenter) finalizeTail(now time.Time, u *Update) {
	over := false
	if s.tail.started && s.publishing() {
		switch {
		case s.echoed():
			if s.blk.DropTail(s.tail.index) {
				u.Removed = append(u.Removed, s.tail.index)
			}
			s.nextIndex = s.tail.index
		case s.tail.overLines:
			over = !s.tail.empty()
		default:
			over = s.tail.chars > s.cfg.Limits.MaxLineChars
			l := s.tail.line(true, s.cfg.Limits.MaxLineChars)
			if s.blk.PutLine(l) {
				u.Lines = append(u.Lines, l)
			}
		}
	}
	s.tail.reset()
	s.tailDirty = false
	if over {
		s.truncate(now, u)
	}
}

// echoed reports whether the finished tail is the expected echo. The
// expectation only ever applies to the first line.
func (s *Segmenter) echoed() bool {
	if s.echo == "" || s.tail.index != 0 {
		return false
	}
	echo := s.echo
	s.echo = ""
	return s.tail.text() == echo
}

// flushTail publishes the unterminated tail of the attached block.
func (s *Segmenter) flushTail(u *Update) {
	if !s.tailDirty || !s.tail.started || !s.publishing() || s.tail.overLines {
		return
	}
	if s.echo != "" && s.tail.index == 0 && strings.HasPrefix(s.echo, s.tail.text()) {
		// may still turn out to be the echo
		return
	}
	l := s.tail.line(false, s.cfg.Limits.MaxLineChars)
	if s.blk.PutLine(l) {
		u.Lines = append(u.Lines, l)
	}
	s.tailDirty = false
}

func (s *Segmenter) appendSynthetic(text string, now time.Time, u *Update) {
	l := block.OutputLine{
		Index:      s.nextIndex,
		Spans:      []block.StyledSpan{{Text: text}},
		ReceivedAt: now,
		Final:      true,
		Synthetic:  true,
	}
	s.nextIndex++
	if s.blk.PutLine(l) {
		u.Lines = append(u.Lines, l)
	}
}

// truncate marks the attached block truncated exactly once and appends the
// single truncation notice. The tail must already be finalized.
func (s *Segmenter) truncate(now time.Time, u *Update) {
	if s.blk.Truncated {
		return
	}
	s.blk.Truncated = true
	u.Truncated = true
	s.appendSynthetic(TruncatedNotice, now, u)
	segLog.Debug("block_truncated",
		"block", s.blk.ID,
		"lines", s.nextIndex-1,
		"max_lines", s.cfg.Limits.MaxLines,
		"max_line_chars", s.cfg.Limits.MaxLineChars)
}

func (s *Segmenter) timeout(limit time.Duration, now time.Time, u *Update) {
	s.finalizeTail(now, u)
	if !s.blk.Truncated {
		s.appendSynthetic(fmt.Sprintf("[no prompt after %s, block closed]", limit), now, u)
	}
	u.Boundary = &Boundary{Reason: ReasonTimeout}
	segLog.Info("block_timed_out", "block", s.blk.ID, "command", s.blk.Command, "limit", limit)
	s.detach()
	// the command may still be running; its prompt belongs to no block
	s.skip++
}

// boundary handles a detected prompt or marker.
func (s *Segmenter) boundary(b Boundary, now time.Time, u *Update) {
	if s.skip > 0 {
		s.skip--
		s.tail.reset()
		s.tailDirty = false
		s.overwrite = false
		return
	}
	s.altScreen = false
	if s.blk == nil {
		u.Prompts++
		s.tail.reset()
		s.tailDirty = false
		s.overwrite = false
		return
	}

	if b.PromptLen > 0 && s.tail.started {
		text := s.tail.text()
		keep := len(text) - b.PromptLen
		if keep < 0 {
			keep = 0
		}
		s.tail.keep(utf8.RuneCountInString(text[:keep]))
		if s.tail.empty() && s.publishing() {
			// the whole tail was prompt text; retract the line
			if !s.tail.overLines {
				if s.blk.DropTail(s.tail.index) {
					u.Removed = append(u.Removed, s.tail.index)
				}
				s.nextIndex = s.tail.index
			}
			s.tail.reset()
		}
	}
	s.finalizeTail(now, u)
	bb := b
	u.Boundary = &bb
	u.BlockID = s.blk.ID
	s.detach()
}
