package terminal

import (
	"sort"
	"time"

	"github.com/mosaicterm/mosaicterm/internal/block"
	"github.com/mosaicterm/mosaicterm/internal/guard"
)

// BlockUpdate carries the changes of one block since the previous batch.
// Header fields always describe the block's current state; Lines holds only
// new or changed lines, in index order.
type BlockUpdate struct {
	ID          string             `json:"id"`
	Command     string             `json:"command"`
	WorkingDir  string             `json:"working_dir,omitempty"`
	Status      block.Status       `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	EndedAt     time.Time          `json:"ended_at,omitempty"`
	ExitCode    *int               `json:"exit_code,omitempty"`
	Truncated   bool               `json:"truncated,omitempty"`
	Interactive bool               `json:"interactive,omitempty"`
	Lines       []block.OutputLine `json:"lines,omitempty"`
	Removed     []int              `json:"removed,omitempty"`
}

// UpdateBatch is everything that changed in a session since the previous
// PollUpdates call.
type UpdateBatch struct {
	SessionID    string          `json:"session_id"`
	State        State           `json:"state"`
	StateChanged bool            `json:"state_changed,omitempty"`
	Blocks       []BlockUpdate   `json:"blocks,omitempty"`
	Warnings     []guard.Warning `json:"warnings,omitempty"`
	WorkingDir   string          `json:"working_dir,omitempty"`
	// Reset is set after a kill: renderers drop any terminal state they keep
	// for the session.
	Reset bool `json:"reset,omitempty"`
	// Exited is set once, when the shell process ends.
	Exited   bool `json:"exited,omitempty"`
	ExitCode int  `json:"exit_code,omitempty"`
	// Busy is set while a kill is recovering the session; nothing else in
	// the batch is meaningful.
	Busy bool `json:"busy,omitempty"`
}

// Empty reports whether the batch carries no change.
func (b UpdateBatch) Empty() bool {
	return !b.StateChanged && len(b.Blocks) == 0 && len(b.Warnings) == 0 &&
		b.WorkingDir == "" && !b.Reset && !b.Exited
}

// Block returns the update for id, if present.
func (b UpdateBatch) Block(id string) (BlockUpdate, bool) {
	for _, u := range b.Blocks {
		if u.ID == id {
			return u, true
		}
	}
	return BlockUpdate{}, false
}

// touch returns the update entry for blk, refreshing its header fields.
func (b *UpdateBatch) touch(blk *block.CommandBlock) *BlockUpdate {
	var u *BlockUpdate
	for i := range b.Blocks {
		if b.Blocks[i].ID == blk.ID {
			u = &b.Blocks[i]
			break
		}
	}
	if u == nil {
		b.Blocks = append(b.Blocks, BlockUpdate{ID: blk.ID})
		u = &b.Blocks[len(b.Blocks)-1]
	}
	u.Command = blk.Command
	u.WorkingDir = blk.WorkingDir
	u.Status = blk.Status
	u.StartedAt = blk.StartedAt
	u.EndedAt = blk.EndedAt
	u.Truncated = blk.Truncated
	u.Interactive = blk.Interactive
	u.ExitCode = nil
	if blk.ExitCode != nil {
		code := *blk.ExitCode
		u.ExitCode = &code
	}
	return u
}

// putLines merges changed lines into the entry; a later version of a line
// replaces an earlier one.
func (u *BlockUpdate) putLines(lines []block.OutputLine) {
	for _, l := range lines {
		replaced := false
		for i := range u.Lines {
			if u.Lines[i].Index == l.Index {
				u.Lines[i] = l
				replaced = true
				break
			}
		}
		if !replaced {
			u.Lines = append(u.Lines, l)
		}
	}
	sort.Slice(u.Lines, func(i, j int) bool { return u.Lines[i].Index < u.Lines[j].Index })
}

// removeLines records retracted lines and forgets pending versions of them.
func (u *BlockUpdate) removeLines(indices []int) {
	for _, idx := range indices {
		kept := u.Lines[:0]
		for _, l := range u.Lines {
			if l.Index != idx {
				kept = append(kept, l)
			}
		}
		u.Lines = kept
		u.Removed = append(u.Removed, idx)
	}
}

// ApplyTo merges u into a client-side copy of the block. Retracted lines are
// dropped before new or changed lines are merged by index, so a line that
// was retracted and written again within one batch survives.
func (u BlockUpdate) ApplyTo(b *block.CommandBlock) {
	b.ID = u.ID
	b.Command = u.Command
	b.WorkingDir = u.WorkingDir
	b.Status = u.Status
	b.StartedAt = u.StartedAt
	b.EndedAt = u.EndedAt
	b.ExitCode = u.ExitCode
	b.Truncated = u.Truncated
	b.Interactive = u.Interactive

	for _, idx := range u.Removed {
		kept := b.Lines[:0]
		for _, l := range b.Lines {
			if l.Index != idx {
				kept = append(kept, l)
			}
		}
		b.Lines = kept
	}
	for _, l := range u.Lines {
		i := sort.Search(len(b.Lines), func(i int) bool { return b.Lines[i].Index >= l.Index })
		if i < len(b.Lines) && b.Lines[i].Index == l.Index {
			b.Lines[i] = l
			continue
		}
		b.Lines = append(b.Lines, block.OutputLine{})
		copy(b.Lines[i+1:], b.Lines[i:])
		b.Lines[i] = l
	}
}
