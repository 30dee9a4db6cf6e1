package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mosaicterm/mosaicterm/internal/block"
)

func line(idx int, text string, final bool) block.OutputLine {
	return block.OutputLine{Index: idx, Spans: []block.StyledSpan{{Text: text}}, Final: final}
}

func TestBlockUpdate_ApplyTo(t *testing.T) {
	var b block.CommandBlock

	BlockUpdate{
		ID:      "b1",
		Command: "seq 3",
		Status:  block.StatusRunning,
		Lines:   []block.OutputLine{line(0, "1", true), line(1, "2", false)},
	}.ApplyTo(&b)
	assert.Equal(t, "b1", b.ID)
	assert.Equal(t, []string{"1", "2"}, lineTexts(b.Lines))

	// tail line grows, a new line arrives, then the prompt line is retracted
	BlockUpdate{
		ID:      "b1",
		Command: "seq 3",
		Status:  block.StatusRunning,
		Lines:   []block.OutputLine{line(1, "2", true), line(2, "3", true), line(3, "$ ", false)},
	}.ApplyTo(&b)
	assert.Equal(t, []string{"1", "2", "3", "$ "}, lineTexts(b.Lines))

	code := 0
	BlockUpdate{ID: "b1", Command: "seq 3", Status: block.StatusSuccess, ExitCode: &code, Removed: []int{3}}.ApplyTo(&b)
	assert.Equal(t, []string{"1", "2", "3"}, lineTexts(b.Lines))
	assert.Equal(t, block.StatusSuccess, b.Status)
	assert.Equal(t, &code, b.ExitCode)
}

func TestBlockUpdate_ApplyToRemoveThenRewrite(t *testing.T) {
	b := block.CommandBlock{Lines: []block.OutputLine{line(0, "a", true), line(1, "partial", false)}}

	BlockUpdate{Lines: []block.OutputLine{line(1, "rewritten", false)}, Removed: []int{1}}.ApplyTo(&b)
	assert.Equal(t, []string{"a", "rewritten"}, lineTexts(b.Lines))

	// out-of-order delivery still lands in index order
	BlockUpdate{Lines: []block.OutputLine{line(5, "f", true), line(3, "d", true)}}.ApplyTo(&b)
	assert.Equal(t, []string{"a", "rewritten", "d", "f"}, lineTexts(b.Lines))
}

func TestUpdateBatch_ValueMethods(t *testing.T) {
	batch := func() UpdateBatch { return UpdateBatch{} }
	assert.True(t, batch().Empty())
	_, ok := batch().Block("missing")
	assert.False(t, ok)

	moved := func() UpdateBatch { return UpdateBatch{WorkingDir: "/tmp"} }
	assert.False(t, moved().Empty())
}
