// Package fork decides what to do with an incoming block given what the
// projection already holds at that height.
package fork

import (
	"fmt"

	"github.com/roach88/watergrant/internal/model"
)

// Disposition is the outcome of resolving an incoming block.
type Disposition int

const (
	// New means no block is stored at this height: apply it.
	New Disposition = iota + 1
	// Duplicate means the same block was already applied: skip it.
	Duplicate
	// Fork means a different block is stored at this height: roll back
	// everything from this height, then apply.
	Fork
)

func (d Disposition) String() string {
	switch d {
	case New:
		return "new"
	case Duplicate:
		return "duplicate"
	case Fork:
		return "fork"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Resolve compares the incoming block with the stored block at the same
// height. existing is nil when nothing is stored there.
func Resolve(existing *model.Block, incoming model.Block) Disposition {
	if existing == nil {
		return New
	}
	if existing.ID == incoming.ID {
		return Duplicate
	}
	return Fork
}

// ResolveAt extends Resolve with the projection tip (the highest stored
// block number, or -1 when empty). A block arriving at or below the tip
// with nothing stored at its height rewinds the projection to that height
// the same way a fork does, so start_block values stay increasing.
func ResolveAt(existing *model.Block, tip int64, incoming model.Block) Disposition {
	d := Resolve(existing, incoming)
	if d == New && incoming.Num <= tip {
		return Fork
	}
	return d
}

// Rollback undoes every effect of blocks at or above a height.
type Rollback interface {
	// DeleteFrom deletes versioned rows with start_block >= height.
	DeleteFrom(height int64) error
	// ReopenFrom resets end_block to open where end_block >= height.
	ReopenFrom(height int64) error
	// DeleteBlocksFrom deletes block rows with block_num >= height.
	DeleteBlocksFrom(height int64) error
}

// Drop runs the rollback steps in order for a forked height. Deleting
// first keeps the reopen step from reviving rows about to be removed.
func Drop(r Rollback, height int64) error {
	if err := r.DeleteFrom(height); err != nil {
		return fmt.Errorf("drop fork at %d: delete rows: %w", height, err)
	}
	if err := r.ReopenFrom(height); err != nil {
		return fmt.Errorf("drop fork at %d: reopen rows: %w", height, err)
	}
	if err := r.DeleteBlocksFrom(height); err != nil {
		return fmt.Errorf("drop fork at %d: delete blocks: %w", height, err)
	}
	return nil
}
