package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/mosaicterm/mosaicterm/internal/block"
)

const tabWidth = 8

// RenderOptions control block rendering.
type RenderOptions struct {
	// Width is the cell width lines are cut to; <= 0 disables cutting.
	Width int

	// Now is used for the elapsed time of running blocks.
	Now time.Time

	// ShowTimestamps adds the start time to headers.
	ShowTimestamps bool

	// Home is replaced by ~ in working directories.
	Home string

	// HeaderOnly skips output lines.
	HeaderOnly bool
}

// RenderBlock renders a block header followed by its output lines.
func RenderBlock(b block.CommandBlock, opts RenderOptions) string {
	themeMu.RLock()
	defer themeMu.RUnlock()

	var sb strings.Builder
	sb.WriteString(renderHeader(b, opts))
	if opts.HeaderOnly {
		return sb.String()
	}
	for _, l := range b.Lines {
		sb.WriteByte('\n')
		if l.Synthetic {
			sb.WriteString(TruncatedStyle.Render(fitText(l.Text(), opts.Width)))
			continue
		}
		sb.WriteString(RenderSpans(l.Spans, opts.Width))
	}
	return sb.String()
}

func renderHeader(b block.CommandBlock, opts RenderOptions) string {
	left := PromptStyle.Render("❯") + " "
	if dir := shortenDir(b.WorkingDir, opts.Home); dir != "" {
		left += DirStyle.Render(dir) + " "
	}
	left += CommandStyle.Render(b.Command)

	right := statusText(b, opts.Now)
	if opts.ShowTimestamps && !b.StartedAt.IsZero() {
		right = DimStyle.Render(b.StartedAt.Format("15:04:05")) + " " + right
	}

	if opts.Width <= 0 {
		return left + "  " + right
	}
	gap := opts.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 2 {
		// command too long for the status; status wins the right edge
		avail := opts.Width - lipgloss.Width(right) - 2
		if avail < 1 {
			return fitText(b.Command, opts.Width)
		}
		left = CommandStyle.Render(fitText(b.Command, avail))
		gap = opts.Width - lipgloss.Width(left) - lipgloss.Width(right)
		if gap < 2 {
			gap = 2
		}
	}
	return left + strings.Repeat(" ", gap) + right
}

func statusText(b block.CommandBlock, now time.Time) string {
	d := formatDuration(b.Duration(now))
	switch b.Status {
	case block.StatusPending:
		return DimStyle.Render("pending")
	case block.StatusRunning:
		return RunningStyle.Render("● running " + d)
	case block.StatusSuccess:
		return SuccessStyle.Render("✓") + " " + DimStyle.Render(d)
	case block.StatusFailed:
		code := "?"
		if b.ExitCode != nil {
			code = fmt.Sprint(*b.ExitCode)
		}
		return ErrorStyle.Render("✗ "+code) + " " + DimStyle.Render(d)
	case block.StatusTimedOut:
		return TimedOutStyle.Render("⏱ timed out") + " " + DimStyle.Render(d)
	case block.StatusKilled:
		return ErrorStyle.Render("■ killed") + " " + DimStyle.Render(d)
	default:
		return DimStyle.Render(b.Status.String())
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		d = d.Round(time.Second)
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

func shortenDir(dir, home string) string {
	if dir == "" {
		return ""
	}
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	if home != "" && home != "/" {
		if dir == home {
			return "~"
		}
		if rest, ok := strings.CutPrefix(dir, home+"/"); ok {
			return "~/" + rest
		}
	}
	return dir
}

// RenderSpans renders one output line, cut to width cells.
func RenderSpans(spans []block.StyledSpan, width int) string {
	var sb strings.Builder
	for _, sp := range FitSpans(spans, width) {
		if sp.Style.IsZero() {
			sb.WriteString(sp.Text)
			continue
		}
		sb.WriteString(SpanStyle(sp.Style).Render(sp.Text))
	}
	return sb.String()
}

// FitSpans expands tabs and cuts the line so it occupies at most width
// cells, ending a cut line with an ellipsis. width <= 0 only expands tabs.
func FitSpans(spans []block.StyledSpan, width int) []block.StyledSpan {
	out := make([]block.StyledSpan, 0, len(spans))
	col := 0
	for _, sp := range spans {
		text := expandTabs(sp.Text, col)
		col += runewidth.StringWidth(text)
		out = append(out, block.StyledSpan{Text: text, Style: sp.Style})
	}
	if width <= 0 || col <= width {
		return out
	}

	limit := width - 1
	col = 0
	for i, sp := range out {
		w := runewidth.StringWidth(sp.Text)
		if col+w > limit {
			out[i].Text = runewidth.Truncate(sp.Text, limit-col, "") + "…"
			return out[:i+1]
		}
		col += w
	}
	return out
}

func expandTabs(s string, col int) string {
	if !strings.Contains(s, "\t") {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		if r == '\t' {
			n := tabWidth - col%tabWidth
			sb.WriteString(strings.Repeat(" ", n))
			col += n
			continue
		}
		sb.WriteRune(r)
		col += runewidth.RuneWidth(r)
	}
	return sb.String()
}

func fitText(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
