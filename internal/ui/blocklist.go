package ui

import (
	"strings"
	"time"

	"github.com/mosaicterm/mosaicterm/internal/block"
	"github.com/mosaicterm/mosaicterm/internal/terminal"
)

// blockList mirrors a session's blocks from PollUpdates batches and caches
// each block's rendering.
type blockList struct {
	blocks   []block.CommandBlock
	index    map[string]int
	rendered []string
	dirty    []bool
	max      int

	// blocks before hidden were cleared from view with ctrl+l
	hidden int
}

func newBlockList(max int) *blockList {
	if max <= 0 {
		max = block.DefaultMaxBlocks
	}
	return &blockList{index: make(map[string]int), max: max}
}

func (l *blockList) len() int { return len(l.blocks) }

// apply merges one block update, appending blocks seen for the first time.
func (l *blockList) apply(u terminal.BlockUpdate) {
	i, ok := l.index[u.ID]
	if !ok {
		l.blocks = append(l.blocks, block.CommandBlock{ID: u.ID})
		l.rendered = append(l.rendered, "")
		l.dirty = append(l.dirty, true)
		i = len(l.blocks) - 1
		l.index[u.ID] = i
	}
	u.ApplyTo(&l.blocks[i])
	l.dirty[i] = true
	l.evict()
}

func (l *blockList) evict() {
	n := len(l.blocks) - l.max
	if n <= 0 {
		return
	}
	for _, b := range l.blocks[:n] {
		delete(l.index, b.ID)
	}
	l.blocks = append([]block.CommandBlock(nil), l.blocks[n:]...)
	l.rendered = append([]string(nil), l.rendered[n:]...)
	l.dirty = append([]bool(nil), l.dirty[n:]...)
	for i, b := range l.blocks {
		l.index[b.ID] = i
	}
	l.hidden -= n
	if l.hidden < 0 {
		l.hidden = 0
	}
}

// clear hides every block currently shown.
func (l *blockList) clear() {
	l.hidden = len(l.blocks)
}

// invalidate forces every block to re-render (width or theme changed).
func (l *blockList) invalidate() {
	for i := range l.dirty {
		l.dirty[i] = true
	}
}

// markRunning re-renders running blocks so their elapsed time advances.
func (l *blockList) markRunning() bool {
	found := false
	for i := l.hidden; i < len(l.blocks); i++ {
		if l.blocks[i].Status == block.StatusRunning {
			l.dirty[i] = true
			found = true
		}
	}
	return found
}

// commands returns submitted commands, newest first.
func (l *blockList) commands() []string {
	out := make([]string, 0, len(l.blocks))
	for i := len(l.blocks) - 1; i >= 0; i-- {
		out = append(out, l.blocks[i].Command)
	}
	return out
}

// view renders the visible blocks separated by blank lines.
func (l *blockList) view(opts RenderOptions) string {
	parts := make([]string, 0, len(l.blocks)-l.hidden)
	for i := l.hidden; i < len(l.blocks); i++ {
		if l.dirty[i] {
			l.rendered[i] = RenderBlock(l.blocks[i], opts)
			l.dirty[i] = false
		}
		parts = append(parts, l.rendered[i])
	}
	return strings.Join(parts, "\n\n")
}

func (l *blockList) last() (block.CommandBlock, bool) {
	if len(l.blocks) == 0 {
		return block.CommandBlock{}, false
	}
	return l.blocks[len(l.blocks)-1], true
}

func (l *blockList) runningSince() (time.Time, bool) {
	b, ok := l.last()
	if !ok || b.Status != block.StatusRunning {
		return time.Time{}, false
	}
	return b.StartedAt, true
}
