package nest

import (
	"fmt"

	"nestfs/internal/model"
)

// Renester recomputes a consistent nested-set numbering for the whole
// collection tree from parent pointers alone. It is a repair tool, not
// a hot path: placement is insertion-sort style and O(n²) overall.
type Renester struct {
	store  Store
	logger Logger
}

// NewRenester creates a Renester over the given store.
func NewRenester(store Store, logger Logger) *Renester {
	return &Renester{store: store, logger: logger}
}

type placement struct {
	id       int64
	lft, rgt int64
}

// Rebuild computes fresh lft/rgt values for every collection and
// writes them in one exclusive section, so no reader ever observes a
// partial renumbering. Returns the number of repositioned nodes, or
// ErrCorruptTree if parent references are cyclic or dangling.
func (r *Renester) Rebuild() (int, error) {
	// The (parent_id, id) ordering puts roots first and tends to place
	// parents before children; it is a heuristic to reduce backlog
	// churn, not a correctness requirement.
	rows, err := r.store.CollectionParents()
	if err != nil {
		return 0, fmt.Errorf("loading parent pointers: %w", err)
	}

	byID := make(map[int64]*placement, len(rows))
	ordered := make([]*placement, 0, len(rows))
	var backlog []*model.Collection
	cursor := int64(1)

	place := func(row *model.Collection) bool {
		p := &placement{id: row.ID}
		if row.ParentID == nil {
			// Roots take the next free cursor pair.
			p.lft = cursor
			p.rgt = cursor + 1
			cursor += 2
		} else {
			parent, ok := byID[*row.ParentID]
			if !ok {
				return false
			}
			// Insert as the parent's rightmost child and push every
			// position at or after the insertion point out by 2.
			p.lft = parent.rgt
			p.rgt = p.lft + 1
			for _, q := range ordered {
				if q.lft > p.lft {
					q.lft += 2
				}
				if q.rgt >= p.lft {
					q.rgt += 2
				}
			}
			cursor += 2
		}
		ordered = append(ordered, p)
		byID[row.ID] = p
		return true
	}

	for _, row := range rows {
		if !place(row) {
			backlog = append(backlog, row)
		}
	}

	// Drain the backlog. A full sweep that places nothing means some
	// node's parent can never resolve — a cycle or dangling reference.
	for len(backlog) > 0 {
		var remaining []*model.Collection
		for _, row := range backlog {
			if !place(row) {
				remaining = append(remaining, row)
			}
		}
		if len(remaining) == len(backlog) {
			return 0, fmt.Errorf("%w: %d collections have unresolvable parents", ErrCorruptTree, len(remaining))
		}
		backlog = remaining
	}

	err = r.store.Exclusive(func(tx Tx) error {
		if err := tx.ClearPositions(); err != nil {
			return fmt.Errorf("clearing positions: %w", err)
		}
		for _, p := range ordered {
			if err := tx.SetPosition(p.id, p.lft, p.rgt); err != nil {
				return fmt.Errorf("writing position of %d: %w", p.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("renested collections", "count", len(ordered))
	return len(ordered), nil
}
