package block

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicterm/mosaicterm/internal/vt"
)

func line(idx int, text string, final bool) OutputLine {
	return OutputLine{Index: idx, Spans: []StyledSpan{{Text: text}}, Final: final}
}

func TestCommandBlock_Lifecycle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := New("b1", "echo hi", "/tmp")
	assert.Equal(t, StatusPending, b.Status)

	require.NoError(t, b.Start(now))
	require.ErrorIs(t, b.Start(now), ErrNotPending)

	require.True(t, b.PutLine(line(0, "h", false)))
	require.True(t, b.PutLine(line(0, "hi", false)))
	require.Len(t, b.Lines, 1)

	code := 0
	require.NoError(t, b.Finish(StatusSuccess, &code, now.Add(time.Second)))
	assert.Equal(t, StatusSuccess, b.Status)
	assert.True(t, b.Lines[0].Final)
	assert.Equal(t, "hi", b.Output())
	assert.Equal(t, time.Second, b.Duration(now.Add(time.Hour)))
	require.NotNil(t, b.ExitCode)
	assert.Equal(t, 0, *b.ExitCode)

	// exactly one terminal transition
	require.ErrorIs(t, b.Finish(StatusKilled, nil, now), ErrNotRunning)
	assert.False(t, b.PutLine(line(1, "late", true)))
}

func TestCommandBlock_FinishRejectsNonTerminal(t *testing.T) {
	b := New("b", "true", "")
	require.NoError(t, b.Start(time.Now()))
	require.ErrorIs(t, b.Finish(StatusRunning, nil, time.Now()), ErrInvalidOutcome)
}

func TestCommandBlock_LineIndicesIncrease(t *testing.T) {
	b := New("b", "seq 3", "")
	require.NoError(t, b.Start(time.Now()))

	require.True(t, b.PutLine(line(0, "1", true)))
	assert.False(t, b.PutLine(line(0, "again", true)), "finalized line must not be replaced")
	require.True(t, b.PutLine(line(1, "2", true)))
	assert.False(t, b.PutLine(line(0, "old", false)))
	require.True(t, b.PutLine(line(5, "3", false)))

	var idx []int
	for _, l := range b.Lines {
		idx = append(idx, l.Index)
	}
	assert.Equal(t, []int{0, 1, 5}, idx)
}

func TestCommandBlock_SnapshotIsDeep(t *testing.T) {
	b := New("b", "ls", "")
	require.NoError(t, b.Start(time.Now()))
	b.PutLine(line(0, "a", false))

	snap := b.Snapshot()
	b.PutLine(line(0, "ab", false))
	snap.Lines[0].Spans[0].Text = "mutated"

	assert.Equal(t, "ab", b.Lines[0].Text())
	assert.Equal(t, "mutated", snap.Lines[0].Text())
}

func TestOutputLine_TextJoinsSpans(t *testing.T) {
	l := OutputLine{Spans: []StyledSpan{
		{Text: "red", Style: Style{Fg: vt.Red}},
		{Text: " plain"},
	}}
	assert.Equal(t, "red plain", l.Text())
}

func TestStyle_Apply(t *testing.T) {
	var s Style
	s = s.Apply(vt.SetForeground(vt.Red))
	s = s.Apply(vt.SetAttribute(vt.AttrBold, true))
	s = s.Apply(vt.Print('x'))
	assert.Equal(t, Style{Fg: vt.Red, Bold: true}, s)

	s = s.Apply(vt.SetAttribute(vt.AttrBold, false))
	s = s.Apply(vt.SetBackground(vt.RGB(1, 2, 3)))
	assert.Equal(t, Style{Fg: vt.Red, Bg: vt.RGB(1, 2, 3)}, s)

	assert.True(t, s.Apply(vt.ResetAttributes()).IsZero())
}

func TestStatus_RoundTrip(t *testing.T) {
	for st := StatusPending; st <= StatusKilled; st++ {
		got, err := ParseStatus(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseStatus("exploded")
	assert.Error(t, err)
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(2)
	assert.Nil(t, h.Append(New("1", "a", "")))
	assert.Nil(t, h.Append(New("2", "b", "")))
	evicted := h.Append(New("3", "c", ""))
	require.NotNil(t, evicted)
	assert.Equal(t, "1", evicted.ID)

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, "3", h.Last().ID)
	assert.Nil(t, h.Find("1"))
	assert.NotNil(t, h.Find("2"))

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "2", snap[0].ID)
}

func TestCommandBlock_DropTail(t *testing.T) {
	b := New("b", "read", "")
	require.NoError(t, b.Start(time.Now()))
	b.PutLine(line(0, "done", true))
	b.PutLine(line(1, "$ ", false))

	assert.False(t, b.DropTail(0), "final lines stay")
	assert.True(t, b.DropTail(1))
	assert.Len(t, b.Lines, 1)
	assert.False(t, b.DropTail(1))
}

func TestOutputLine_JSON(t *testing.T) {
	in := OutputLine{
		Index:  3,
		Spans:  []StyledSpan{{Text: "err", Style: Style{Fg: vt.Indexed(1), Bold: true}}},
		Stream: Stderr,
		Final:  true,
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stream":"stderr"`)

	var out OutputLine
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Index, out.Index)
	assert.Equal(t, in.Spans, out.Spans)
	assert.Equal(t, Stderr, out.Stream)
	assert.True(t, out.Final)
}

func TestStatus_UnmarshalText(t *testing.T) {
	var s Status
	require.NoError(t, s.UnmarshalText([]byte("timed_out")))
	assert.Equal(t, StatusTimedOut, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))

	var k StreamKind
	assert.Error(t, k.UnmarshalText([]byte("stdin")))
}
