package nest

import (
	"fmt"
	"sort"

	"nestfs/internal/model"
)

// Mover relocates a collection subtree or a single file into a
// destination path, reconciling structure that already exists there.
type Mover struct {
	store  Store
	index  *Index
	ledger *Ledger
	logger Logger
	clock  Clock
}

// NewMover creates a Mover over the given components.
func NewMover(store Store, index *Index, ledger *Ledger, logger Logger, clock Clock) *Mover {
	return &Mover{store: store, index: index, ledger: ledger, logger: logger, clock: clock}
}

// MoveReport summarizes what a move touched.
type MoveReport struct {
	Collections int64
	Files       int64
}

// updateJob reconciles a matched (source, destination) node pair: the
// destination node is kept, grown by the accumulated displacement of
// everything created beneath it, and reactivated.
type updateJob struct {
	srcNode *model.Collection
	dstNode *model.Collection
	parent  *updateJob

	// displacement is the job's total interval growth: the widths of
	// all create jobs anywhere beneath it in the matched chain.
	displacement int64
	// directWidth is the growth contributed by create jobs directly
	// under this node; it is the amount shifted at this node's edge.
	directWidth int64
}

// createJob copies an entire source subtree to a fresh position at the
// right edge of its destination parent. No recursion below it is
// needed: nothing under a missing handle can already exist.
type createJob struct {
	srcRoot *model.Collection
	parent  *updateJob // nil = placed under the vivified destination parent
	handle  string     // root row handle at the destination
	width   int64      // 2 * node count of the subtree
}

// Move relocates the node at sourcePath (collection or file) to
// destPath. The source must resolve to a live node; the destination is
// auto-vivified. Returns ErrNotFound if the source is absent and
// ErrMoveFailed if anything goes wrong while applying the plan.
func (m *Mover) Move(sourcePath, destPath any) (*MoveReport, error) {
	src := ParsePath(sourcePath)
	dst := ParsePath(destPath)

	if len(src) == 0 {
		return nil, fmt.Errorf("source path is empty: %w", ErrNotFound)
	}

	destName := ""
	destParentPath := dst
	if len(dst) > 0 {
		destName = dst[len(dst)-1]
		destParentPath = dst[:len(dst)-1]
	}
	if destName == "" {
		destName = src[len(src)-1]
	}

	// Try the source as a collection first, then as a file.
	srcCollection, err := m.index.ResolvePath(src)
	if err != nil {
		return nil, err
	}
	if srcCollection != nil {
		return m.moveCollection(srcCollection, destParentPath, destName)
	}

	srcParent, err := m.index.ResolvePath(src[:len(src)-1])
	if err != nil {
		return nil, err
	}
	if srcParent == nil && len(src) > 1 {
		return nil, fmt.Errorf("source %v: %w", src, ErrNotFound)
	}
	srcFile, err := m.ledger.CurrentAt(srcParent, src[len(src)-1])
	if err != nil {
		return nil, err
	}
	if srcFile == nil {
		return nil, fmt.Errorf("source %v: %w", src, ErrNotFound)
	}
	return m.moveFile(srcParent, srcFile, dst, destParentPath, destName)
}

// moveFile represents a file move as lineage continuation: the source
// key gets a tombstone and the destination key gets a fresh revision
// carrying the same content, both chained to the superseded record.
func (m *Mover) moveFile(srcParent *model.Collection, srcFile *model.File, dst, destParentPath []string, destName string) (*MoveReport, error) {
	// A destination that already resolves to a collection receives the
	// file under its original handle; otherwise the last handle names
	// the file and the rest is vivified.
	destCollection, err := m.index.ResolvePath(dst)
	if err != nil {
		return nil, err
	}
	if destCollection != nil {
		destName = srcFile.Handle
	} else {
		destCollection, err = m.index.CreatePath(nil, destParentPath)
		if err != nil {
			return nil, fmt.Errorf("%w: vivifying destination: %w", ErrMoveFailed, err)
		}
	}

	err = m.store.Exclusive(func(tx Tx) error {
		now := m.clock.Now()
		_, err := tx.InsertFile(&model.File{
			CollectionID: collectionID(srcParent),
			Handle:       srcFile.Handle,
			Status:       model.FileDeleted,
			AncestorID:   &srcFile.ID,
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("tombstoning source: %w", err)
		}

		_, err = tx.InsertFile(&model.File{
			CollectionID: collectionID(destCollection),
			Handle:       destName,
			ContentHash:  srcFile.ContentHash,
			Size:         srcFile.Size,
			MimeType:     srcFile.MimeType,
			Status:       model.FileNormal,
			AncestorID:   &srcFile.ID,
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("appending destination revision: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}

	m.logger.Info("moved file", "handle", srcFile.Handle, "dest", destName)
	return &MoveReport{Files: 1}, nil
}

// moveCollection relocates a whole subtree. The destination parent is
// vivified in its own exclusive section; everything else — source
// snapshot, deactivation, file tombstoning, merge planning and the
// apply phase — runs in a single exclusive section so no reader or
// writer ever observes a partially applied plan.
func (m *Mover) moveCollection(src *model.Collection, destParentPath []string, destName string) (*MoveReport, error) {
	destParent, err := m.index.CreatePath(nil, destParentPath)
	if err != nil {
		return nil, fmt.Errorf("%w: vivifying destination parent: %w", ErrMoveFailed, err)
	}

	report := &MoveReport{}
	err = m.store.Exclusive(func(tx Tx) error {
		// The vivification above may have displaced intervals; re-read
		// both endpoints under the lock.
		fresh, err := tx.FindCollectionByID(src.ID)
		if err != nil {
			return fmt.Errorf("refreshing source edges: %w", err)
		}
		if fresh == nil || fresh.Status != model.CollectionActive {
			return ErrNotFound
		}
		src = fresh

		if destParent != nil {
			destParent, err = tx.FindCollectionByID(destParent.ID)
			if err != nil {
				return fmt.Errorf("refreshing destination parent: %w", err)
			}
			if destParent == nil {
				return fmt.Errorf("destination parent vanished")
			}
			if src.ID == destParent.ID || src.Contains(destParent) {
				return fmt.Errorf("cannot move a collection into its own subtree")
			}
		}

		destExisting, err := tx.FindChildCollection(collectionID(destParent), destName, true)
		if err != nil {
			return fmt.Errorf("checking destination: %w", err)
		}
		if destExisting != nil {
			if destExisting.ID == src.ID {
				return fmt.Errorf("source and destination are the same collection")
			}
			if destExisting.Contains(src) || src.Contains(destExisting) {
				return fmt.Errorf("cannot merge overlapping subtrees")
			}
		}

		// Snapshot the source subtree before touching it; the plan and
		// the copies are both computed from this point-in-time read.
		snapshot, err := tx.CollectionsInRange(src.Lft, src.Rgt)
		if err != nil {
			return fmt.Errorf("snapshotting source subtree: %w", err)
		}
		report.Collections = int64(len(snapshot))

		if _, err := tx.SetStatusRange(src.Lft, src.Rgt, model.CollectionInactive); err != nil {
			return fmt.Errorf("deactivating source subtree: %w", err)
		}

		tombstoned, err := tx.TombstoneFilesInRange(src.Lft, src.Rgt, m.clock.Now())
		if err != nil {
			return fmt.Errorf("tombstoning source files: %w", err)
		}
		report.Files = tombstoned

		updates, creates, err := m.plan(tx, snapshot, src, destExisting, destName)
		if err != nil {
			return fmt.Errorf("computing merge plan: %w", err)
		}
		if len(updates) > 0 {
			m.logger.Debug("merge plan",
				"updates", len(updates), "creates", len(creates),
				"rootGrowth", updates[0].displacement)
		}

		if err := m.apply(tx, snapshot, updates, creates, destParent); err != nil {
			return fmt.Errorf("applying merge plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}

	m.logger.Info("moved collection",
		"source", src.Handle, "dest", destName,
		"collections", report.Collections, "files", report.Files)
	return report, nil
}

// plan walks source and destination in lock-step, matched by handle,
// producing update jobs for handles present on both sides and create
// jobs for source-only subtrees. Destination-only handles are left
// untouched. Each create job's width is propagated to every ancestor
// update job: inserting content anywhere under a node grows that
// node's own interval.
func (m *Mover) plan(tx Tx, snapshot []*model.Collection, src, destExisting *model.Collection, destName string) ([]*updateJob, []*createJob, error) {
	childrenOf := snapshotChildren(snapshot)

	var updates []*updateJob
	var creates []*createJob

	addCreate := func(node *model.Collection, parent *updateJob, handle string) {
		job := &createJob{
			srcRoot: node,
			parent:  parent,
			handle:  handle,
			width:   2 * node.Size(),
		}
		creates = append(creates, job)
		for a := parent; a != nil; a = a.parent {
			a.displacement += job.width
		}
		if parent != nil {
			parent.directWidth += job.width
		}
	}

	if destExisting == nil {
		// A destination that does not yet exist behaves as an empty
		// subtree: no update jobs at any depth, one create job for the
		// whole source (renamed to the destination handle).
		addCreate(src, nil, destName)
		return updates, creates, nil
	}

	root := &updateJob{srcNode: src, dstNode: destExisting}
	updates = append(updates, root)

	// Explicit work queue rather than recursion keeps the section's
	// work bounded and inspectable.
	queue := []*updateJob{root}
	for len(queue) > 0 {
		job := queue[0]
		queue = queue[1:]

		for _, srcChild := range childrenOf[job.srcNode.ID] {
			dstChild, err := tx.FindChildCollection(&job.dstNode.ID, srcChild.Handle, true)
			if err != nil {
				return nil, nil, fmt.Errorf("matching %q: %w", srcChild.Handle, err)
			}
			if dstChild != nil {
				child := &updateJob{srcNode: srcChild, dstNode: dstChild, parent: job}
				updates = append(updates, child)
				queue = append(queue, child)
				continue
			}
			addCreate(srcChild, job, srcChild.Handle)
		}
	}
	return updates, creates, nil
}

// apply performs placement and materialization. Update-job shifts run
// in descending order of their original destination right edge, each
// by the width its direct create jobs need; with original edges as
// thresholds, earlier shifts only move rows that stay past later
// thresholds, so ancestor growth accumulates to exactly each job's
// displacement without double counting. Create jobs then land by pure
// interval translation into the reserved gaps, and parent pointers for
// all inserted rows are resolved only after every insert, since an
// inserted row may itself be another inserted row's parent.
func (m *Mover) apply(tx Tx, snapshot []*model.Collection, updates []*updateJob, creates []*createJob, destParent *model.Collection) error {
	type shift struct {
		edge  int64 // original destination right edge
		width int64
	}
	var shifts []shift
	for _, job := range updates {
		if job.directWidth > 0 {
			shifts = append(shifts, shift{edge: job.dstNode.Rgt, width: job.directWidth})
		}
	}

	// Create jobs under the vivified destination parent (no matched
	// destination node) widen that parent directly.
	var baseWidth int64
	for _, job := range creates {
		if job.parent == nil {
			baseWidth += job.width
		}
	}
	if baseWidth > 0 && destParent != nil {
		shifts = append(shifts, shift{edge: destParent.Rgt, width: baseWidth})
	}

	sort.Slice(shifts, func(i, j int) bool { return shifts[i].edge > shifts[j].edge })
	for _, s := range shifts {
		if err := tx.ShiftRights(s.edge, s.width); err != nil {
			return fmt.Errorf("reserving block at %d: %w", s.edge, err)
		}
		if err := tx.ShiftLefts(s.edge, s.width); err != nil {
			return fmt.Errorf("reserving block at %d: %w", s.edge, err)
		}
	}

	// Final start of the gap reserved at edge E: E plus every width
	// shifted at an edge left of it.
	gapStart := func(edge int64) int64 {
		start := edge
		for _, s := range shifts {
			if s.edge < edge {
				start += s.width
			}
		}
		return start
	}

	// Base gap for a root-scope destination: past the frontier, after
	// all shifts have settled.
	var rootGap int64
	if baseWidth > 0 && destParent == nil {
		maxRgt, err := tx.MaxRight()
		if err != nil {
			return fmt.Errorf("finding frontier: %w", err)
		}
		rootGap = maxRgt + 1
	}

	// Consume each gap left to right in source sibling order; the
	// translation is a pure offset, never a re-sort.
	gapUsed := make(map[int64]int64)
	type insertedRange struct{ lo, hi int64 }
	var inserted []insertedRange

	for _, job := range creates {
		var start int64
		switch {
		case job.parent != nil:
			start = gapStart(job.parent.dstNode.Rgt) + gapUsed[job.parent.dstNode.Rgt]
			gapUsed[job.parent.dstNode.Rgt] += job.width
		case destParent != nil:
			start = gapStart(destParent.Rgt) + gapUsed[destParent.Rgt]
			gapUsed[destParent.Rgt] += job.width
		default:
			start = rootGap
			rootGap += job.width
		}

		delta := start - job.srcRoot.Lft
		for _, row := range snapshot {
			if row.Lft < job.srcRoot.Lft || row.Lft > job.srcRoot.Rgt {
				continue
			}
			handle := row.Handle
			if row.ID == job.srcRoot.ID {
				handle = job.handle
			}
			if _, err := tx.InsertCollection(&model.Collection{
				Handle: handle,
				Lft:    row.Lft + delta,
				Rgt:    row.Rgt + delta,
				Status: model.CollectionActive,
			}); err != nil {
				return fmt.Errorf("materializing %q: %w", handle, err)
			}
		}
		inserted = append(inserted, insertedRange{lo: start, hi: start + job.width - 1})
	}

	// Resolve parent pointers for everything just inserted: each row's
	// parent is its tightest enclosing node, which may itself have been
	// inserted by another create job of this move.
	for _, r := range inserted {
		if err := tx.ReassignParentsInRange(r.lo, r.hi); err != nil {
			return fmt.Errorf("resolving parents in [%d,%d]: %w", r.lo, r.hi, err)
		}
	}

	// Destination rows touched by update jobs come back to life.
	for _, job := range updates {
		if err := tx.SetCollectionStatus(job.dstNode.ID, model.CollectionActive); err != nil {
			return fmt.Errorf("reactivating %d: %w", job.dstNode.ID, err)
		}
	}
	return nil
}

// snapshotChildren indexes a source subtree snapshot by parent ID,
// children ordered by lft.
func snapshotChildren(snapshot []*model.Collection) map[int64][]*model.Collection {
	children := make(map[int64][]*model.Collection)
	for _, row := range snapshot {
		if row.ParentID == nil {
			continue
		}
		children[*row.ParentID] = append(children[*row.ParentID], row)
	}
	for id := range children {
		kids := children[id]
		sort.Slice(kids, func(i, j int) bool { return kids[i].Lft < kids[j].Lft })
	}
	return children
}
