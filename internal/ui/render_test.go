package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicterm/mosaicterm/internal/block"
	"github.com/mosaicterm/mosaicterm/internal/vt"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func textLine(idx int, spans ...block.StyledSpan) block.OutputLine {
	return block.OutputLine{Index: idx, Spans: spans, Final: true}
}

func plain(s string) block.StyledSpan { return block.StyledSpan{Text: s} }

func spanTexts(spans []block.StyledSpan) []string {
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.Text
	}
	return out
}

func TestFitSpans(t *testing.T) {
	red := block.StyledSpan{Text: "red", Style: block.Style{Fg: vt.Red}}

	tests := []struct {
		name  string
		spans []block.StyledSpan
		width int
		want  []string
	}{
		{"fits", []block.StyledSpan{red, plain(" ok")}, 10, []string{"red", " ok"}},
		{"exact", []block.StyledSpan{red, plain(" ok")}, 6, []string{"red", " ok"}},
		{"cut in second span", []block.StyledSpan{red, plain(" plain")}, 6, []string{"red", " p…"}},
		{"cut at span edge", []block.StyledSpan{red, plain("abc")}, 4, []string{"red", "…"}},
		{"cut in first span", []block.StyledSpan{plain("abcdef"), red}, 4, []string{"abc…"}},
		{"no width", []block.StyledSpan{plain("abcdef")}, 0, []string{"abcdef"}},
		{"tab stops", []block.StyledSpan{plain("a\tb"), plain("\tc")}, 0, []string{"a       b", "       c"}},
		{"wide runes", []block.StyledSpan{plain("日本語テキスト")}, 7, []string{"日本語…"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, spanTexts(FitSpans(tt.spans, tt.width)))
		})
	}
}

func TestFitSpans_KeepsStyles(t *testing.T) {
	bold := block.Style{Bold: true}
	got := FitSpans([]block.StyledSpan{{Text: "abcdef", Style: bold}}, 3)
	require.Len(t, got, 1)
	assert.Equal(t, bold, got[0].Style)
}

func TestRenderBlock(t *testing.T) {
	code := 0
	b := block.CommandBlock{
		ID:         "b1",
		Command:    "echo hi",
		WorkingDir: "/home/me/src",
		Status:     block.StatusSuccess,
		StartedAt:  t0,
		EndedAt:    t0.Add(12 * time.Millisecond),
		ExitCode:   &code,
		Lines: []block.OutputLine{
			textLine(0, block.StyledSpan{Text: "hi", Style: block.Style{Fg: vt.Green}}),
		},
	}

	out := RenderBlock(b, RenderOptions{Width: 60, Home: "/home/me"})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "❯ ~/src echo hi"), lines[0])
	assert.True(t, strings.HasSuffix(lines[0], "✓ 12ms"), lines[0])
	assert.Equal(t, 60, len([]rune(lines[0])))
	assert.Equal(t, "hi", lines[1])

	header := RenderBlock(b, RenderOptions{HeaderOnly: true, Home: "/home/me", ShowTimestamps: true})
	assert.NotContains(t, header, "\n")
	assert.Contains(t, header, "12:00:00")
}

func TestRenderBlock_Statuses(t *testing.T) {
	two := 2
	tests := []struct {
		name string
		b    block.CommandBlock
		want string
	}{
		{"failed", block.CommandBlock{Status: block.StatusFailed, ExitCode: &two, StartedAt: t0, EndedAt: t0.Add(1500 * time.Millisecond)}, "✗ 2 1.5s"},
		{"failed no code", block.CommandBlock{Status: block.StatusFailed}, "✗ ?"},
		{"killed", block.CommandBlock{Status: block.StatusKilled, StartedAt: t0, EndedAt: t0.Add(90 * time.Second)}, "■ killed 1m30s"},
		{"timed out", block.CommandBlock{Status: block.StatusTimedOut}, "⏱ timed out"},
		{"running", block.CommandBlock{Status: block.StatusRunning, StartedAt: t0}, "● running 3.0s"},
		{"pending", block.CommandBlock{Status: block.StatusPending}, "pending"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.b.Command = "cmd"
			out := RenderBlock(tt.b, RenderOptions{Now: t0.Add(3 * time.Second), HeaderOnly: true})
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestRenderBlock_LongCommandKeepsStatus(t *testing.T) {
	code := 0
	b := block.CommandBlock{
		Command:  strings.Repeat("x", 100),
		Status:   block.StatusSuccess,
		ExitCode: &code,
	}
	out := RenderBlock(b, RenderOptions{Width: 40, HeaderOnly: true})
	assert.True(t, strings.HasSuffix(out, "✓ 0ms"), out)
	assert.Contains(t, out, "…")
	assert.LessOrEqual(t, len([]rune(out)), 40)
}

func TestRenderBlock_TruncationMarker(t *testing.T) {
	b := block.CommandBlock{
		Command: "yes",
		Status:  block.StatusKilled,
		Lines: []block.OutputLine{
			textLine(0, plain("y")),
			{Index: 1, Spans: []block.StyledSpan{plain("[output truncated]")}, Final: true, Synthetic: true},
		},
	}
	out := RenderBlock(b, RenderOptions{Width: 80})
	assert.True(t, strings.HasSuffix(out, "\ny\n[output truncated]"), out)
}

func TestShortenDir(t *testing.T) {
	assert.Equal(t, "~", shortenDir("/home/me", "/home/me"))
	assert.Equal(t, "~/a/b", shortenDir("/home/me/a/b", "/home/me"))
	assert.Equal(t, "/home/meow", shortenDir("/home/meow", "/home/me"))
	assert.Equal(t, "/etc", shortenDir("/etc", "/home/me"))
	assert.Equal(t, "", shortenDir("", "/home/me"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0ms", formatDuration(0))
	assert.Equal(t, "999ms", formatDuration(999*time.Millisecond))
	assert.Equal(t, "2.5s", formatDuration(2500*time.Millisecond))
	assert.Equal(t, "2m05s", formatDuration(125*time.Second))
}
