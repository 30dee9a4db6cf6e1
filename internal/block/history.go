package block

// DefaultMaxBlocks bounds a session's in-memory block history.
const DefaultMaxBlocks = 1000

// History is an ordered, bounded list of blocks. When full, the oldest block
// is evicted first.
type History struct {
	max    int
	blocks []*CommandBlock
}

// NewHistory returns a history holding at most max blocks.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxBlocks
	}
	return &History{max: max}
}

// Append adds b and returns the evicted block, if any.
func (h *History) Append(b *CommandBlock) *CommandBlock {
	var evicted *CommandBlock
	if len(h.blocks) >= h.max {
		evicted = h.blocks[0]
		h.blocks[0] = nil
		h.blocks = h.blocks[1:]
	}
	h.blocks = append(h.blocks, b)
	return evicted
}

// Len returns the number of blocks held.
func (h *History) Len() int {
	return len(h.blocks)
}

// Last returns the most recent block or nil.
func (h *History) Last() *CommandBlock {
	if len(h.blocks) == 0 {
		return nil
	}
	return h.blocks[len(h.blocks)-1]
}

// Find returns the block with the given id.
func (h *History) Find(id string) *CommandBlock {
	for i := len(h.blocks) - 1; i >= 0; i-- {
		if h.blocks[i].ID == id {
			return h.blocks[i]
		}
	}
	return nil
}

// Snapshot copies every block, oldest first.
func (h *History) Snapshot() []CommandBlock {
	out := make([]CommandBlock, len(h.blocks))
	for i, b := range h.blocks {
		out[i] = b.Snapshot()
	}
	return out
}
