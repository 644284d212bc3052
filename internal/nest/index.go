package nest

import (
	"fmt"

	"nestfs/internal/model"
)

// Index is the nested-set tree of collections: single-level lookups,
// path resolution, auto-vivifying creation and soft deletion.
type Index struct {
	store  Store
	logger Logger
}

// NewIndex creates an Index over the given store.
func NewIndex(store Store, logger Logger) *Index {
	return &Index{store: store, logger: logger}
}

// collectionID returns the ID reference for a parent argument, where
// nil means the root scope.
func collectionID(c *model.Collection) *int64 {
	if c == nil {
		return nil
	}
	return &c.ID
}

// LookupChild returns the collection named handle directly under
// parent (nil = root scope), or nil if there is none. Inactive rows
// are only returned when includeInactive is set.
func (ix *Index) LookupChild(parent *model.Collection, handle string, includeInactive bool) (*model.Collection, error) {
	return ix.store.FindChildCollection(collectionID(parent), handle, includeInactive)
}

// ChildrenOf returns the Active collections directly under parent.
func (ix *Index) ChildrenOf(parent *model.Collection) ([]*model.Collection, error) {
	return ix.store.ActiveChildCollections(collectionID(parent))
}

// ResolvePath walks the path one handle at a time and returns the
// final collection, or nil if any step is missing. Inactive
// collections read as not-found: reactivation only happens through
// CreatePath.
func (ix *Index) ResolvePath(path any) (*model.Collection, error) {
	handles := ParsePath(path)

	var current *model.Collection
	for _, handle := range handles {
		child, err := ix.store.FindChildCollection(collectionID(current), handle, false)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", handle, err)
		}
		if child == nil {
			return nil, nil
		}
		current = child
	}
	return current, nil
}

// CreatePath returns the collection at path under parent, creating any
// missing collections along the way. Inactive collections on the
// walked prefix are flipped back to Active, preserving their identity
// and history. The reservation and insert of the missing suffix run
// inside one exclusive section: reserving the interval block mutates
// arbitrarily many unrelated rows based on a point-in-time read.
func (ix *Index) CreatePath(parent *model.Collection, path any) (*model.Collection, error) {
	handles := ParsePath(path)

	var result *model.Collection
	err := ix.store.Exclusive(func(tx Tx) error {
		current := parent
		if current != nil {
			// Edges may have moved since the caller fetched the row.
			fresh, err := tx.FindCollectionByID(current.ID)
			if err != nil {
				return fmt.Errorf("refreshing parent: %w", err)
			}
			if fresh == nil {
				return fmt.Errorf("parent collection %d vanished", current.ID)
			}
			current = fresh
		}

		// Walk existing rows, reactivating tombstoned ones, until the
		// first handle with no existing child.
		consumed := 0
		for _, handle := range handles {
			child, err := tx.FindChildCollection(collectionID(current), handle, true)
			if err != nil {
				return fmt.Errorf("walking %q: %w", handle, err)
			}
			if child == nil {
				break
			}
			if child.Status != model.CollectionActive {
				if err := tx.SetCollectionStatus(child.ID, model.CollectionActive); err != nil {
					return fmt.Errorf("reactivating %q: %w", handle, err)
				}
				child.Status = model.CollectionActive
			}
			current = child
			consumed++
		}

		remaining := handles[consumed:]
		if len(remaining) == 0 {
			result = current
			return nil
		}

		// Reserve an interval block of width 2k at the insertion
		// point: just inside the parent's right edge, or past the
		// global frontier for a new root subtree.
		width := int64(2 * len(remaining))
		var insertLft int64
		if current != nil {
			insertLft = current.Rgt
		} else {
			maxRgt, err := tx.MaxRight()
			if err != nil {
				return fmt.Errorf("finding frontier: %w", err)
			}
			insertLft = maxRgt + 1
		}

		// Both shifts are computed against the same snapshot: the
		// first touches only rgt, the second only lft, so no row is
		// displaced twice.
		if err := tx.ShiftRights(insertLft, width); err != nil {
			return fmt.Errorf("shifting rights: %w", err)
		}
		if err := tx.ShiftLefts(insertLft, width); err != nil {
			return fmt.Errorf("shifting lefts: %w", err)
		}

		// Insert the suffix as a linear chain, consuming the block
		// left-to-right for lft and right-to-left for rgt so each new
		// node wholly contains the next.
		lft, rgt := insertLft, insertLft+width-1
		for _, handle := range remaining {
			created, err := tx.InsertCollection(&model.Collection{
				ParentID: collectionID(current),
				Handle:   handle,
				Lft:      lft,
				Rgt:      rgt,
				Status:   model.CollectionActive,
			})
			if err != nil {
				return fmt.Errorf("inserting %q: %w", handle, err)
			}
			current = created
			lft++
			rgt--
		}

		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		ix.logger.Debug("created path", "handles", len(handles), "id", result.ID)
	}
	return result, nil
}

// Deactivate tombstones the whole subtree under c in one range update.
// Positions are retained so the subtree can be reactivated later.
func (ix *Index) Deactivate(c *model.Collection) (int64, error) {
	var changed int64
	err := ix.store.Exclusive(func(tx Tx) error {
		// Edges may have moved since the caller resolved the row.
		fresh, err := tx.FindCollectionByID(c.ID)
		if err != nil {
			return fmt.Errorf("refreshing collection: %w", err)
		}
		if fresh == nil {
			return fmt.Errorf("collection %d vanished", c.ID)
		}

		n, err := tx.SetStatusRange(fresh.Lft, fresh.Rgt, model.CollectionInactive)
		if err != nil {
			return err
		}
		changed = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deactivating collection %d: %w", c.ID, err)
	}
	return changed, nil
}
