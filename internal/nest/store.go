package nest

import (
	"time"

	"nestfs/internal/model"
)

// Querier is the read surface shared by the store and its exclusive
// sections. Lookups that miss return (nil, nil), not an error.
type Querier interface {
	// FindChildCollection returns the collection with the given handle
	// directly under parentID (nil = root scope). Only Active rows are
	// returned unless includeInactive is set, in which case the row is
	// returned regardless of status (used for reactivation).
	FindChildCollection(parentID *int64, handle string, includeInactive bool) (*model.Collection, error)

	// ActiveChildCollections returns the Active collections directly
	// under parentID (nil = root scope), ordered by lft.
	ActiveChildCollections(parentID *int64) ([]*model.Collection, error)

	// FindCollectionByID returns a collection by its ID, any status.
	FindCollectionByID(id int64) (*model.Collection, error)

	// CollectionsInRange returns every collection whose lft falls in
	// [lft, rgt], any status, ordered by lft. Given valid nesting this
	// is exactly the subtree spanned by the interval.
	CollectionsInRange(lft, rgt int64) ([]*model.Collection, error)

	// MaxRight returns the greatest rgt across all collections, or 0
	// when the tree is empty. New root subtrees are placed past it.
	MaxRight() (int64, error)

	// CollectionParents returns (id, parent_id) pairs for every
	// collection, ordered by (parent_id, id) with roots first. Only
	// the ID and ParentID fields are populated.
	CollectionParents() ([]*model.Collection, error)

	// CurrentFile returns the greatest-id file row for the
	// (collectionID, handle) key regardless of status, or nil if the
	// key has no rows. Callers interpret a Deleted tip as absent.
	CurrentFile(collectionID *int64, handle string) (*model.File, error)

	// LatestFilesPerChild returns one row per distinct handle under
	// collectionID: the greatest-id row for each, excluding keys whose
	// tip is Deleted.
	LatestFilesPerChild(collectionID *int64) ([]*model.File, error)

	// FindFileByID returns a file row by ID, or nil.
	FindFileByID(id int64) (*model.File, error)

	// InsertFile appends a row to the file ledger and returns it with
	// its assigned ID.
	InsertFile(f *model.File) (*model.File, error)
}

// Tx is the mutation surface available inside an exclusive section.
// Every method operates on the section's snapshot; nothing is visible
// to other callers until the section commits.
type Tx interface {
	Querier

	// InsertCollection inserts a collection row and returns it with
	// its assigned ID.
	InsertCollection(c *model.Collection) (*model.Collection, error)

	// ShiftRights adds delta to rgt for every row with rgt >= minRgt.
	ShiftRights(minRgt, delta int64) error

	// ShiftLefts adds delta to lft for every row with lft > minLft.
	ShiftLefts(minLft, delta int64) error

	// SetCollectionStatus updates a single collection's status.
	SetCollectionStatus(id int64, status model.CollectionStatus) error

	// SetStatusRange updates the status of every row whose lft falls
	// in [lft, rgt] and returns the number of rows changed.
	SetStatusRange(lft, rgt int64, status model.CollectionStatus) (int64, error)

	// SetCollectionParent updates a single collection's parent.
	SetCollectionParent(id int64, parentID *int64) error

	// ReassignParentsInRange repoints parent_id for every row whose
	// lft falls in [lft, rgt] to its tightest enclosing node: the
	// strictly containing row with the greatest lft.
	ReassignParentsInRange(lft, rgt int64) error

	// TombstoneFilesInRange appends a Deleted ledger row for the
	// current file at every (collection, handle) key under any
	// collection in the interval, each referencing the row it
	// supersedes. Returns the number of rows appended.
	TombstoneFilesInRange(lft, rgt int64, now time.Time) (int64, error)

	// ClearPositions nulls out every collection's lft/rgt. Only valid
	// inside a renumbering section that rewrites all of them.
	ClearPositions() error

	// SetPosition writes a collection's lft/rgt.
	SetPosition(id, lft, rgt int64) error
}

// Store is the backing relational store for the collection tree and
// file ledger. Structural mutations (anything that shifts intervals)
// must run inside Exclusive; plain reads and ledger appends may not
// interleave with a section's intermediate state.
type Store interface {
	Querier

	// Exclusive runs fn inside an exclusive write section over the
	// whole collection and file set. The section is atomic: if fn
	// returns an error everything rolls back. Returns
	// ErrLockUnavailable if the section cannot be entered within the
	// store's acquisition policy.
	Exclusive(fn func(Tx) error) error

	// CreateOperation records the start of a mutating operation.
	CreateOperation(opID, operation, parameters string, startedAt time.Time) (*model.Operation, error)

	// FinishOperation records an operation's completion status.
	FinishOperation(id int64, status string, finishedAt time.Time) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*model.Operation, error)

	// BackupTo writes a consistent copy of the store to destPath.
	BackupTo(destPath string) error

	// Close releases the underlying connection.
	Close() error
}
