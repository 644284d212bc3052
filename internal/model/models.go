package model

import "time"

// CollectionStatus is the lifecycle state of a collection row.
// Inactive collections keep their tree position and identity so that
// re-creating the same path reactivates history instead of duplicating it.
type CollectionStatus string

const (
	CollectionActive   CollectionStatus = "active"
	CollectionInactive CollectionStatus = "inactive"
)

// FileStatus is the lifecycle state of a file revision.
type FileStatus string

const (
	FileNormal  FileStatus = "normal"
	FileDeleted FileStatus = "deleted"
)

// Collection is a node in the nested-set collection tree.
// Lft/Rgt encode the node's interval: any two intervals are either
// disjoint or strictly nested, and strict containment means ancestry.
type Collection struct {
	ID       int64
	ParentID *int64 // nil = root
	Handle   string
	Lft      int64
	Rgt      int64
	Status   CollectionStatus
}

// IsRoot returns true if the collection has no parent.
func (c *Collection) IsRoot() bool {
	return c.ParentID == nil
}

// Contains returns true if other's interval lies strictly inside c's.
func (c *Collection) Contains(other *Collection) bool {
	return c.Lft < other.Lft && other.Rgt < c.Rgt
}

// Size returns the number of nodes in the subtree rooted at c,
// including c itself. Each node contributes one lft/rgt pair.
func (c *Collection) Size() int64 {
	return (c.Rgt - c.Lft + 1) / 2
}

// File is one revision in the append-only file ledger. The current file
// at a (collection, handle) key is the row with the greatest ID; every
// mutation appends a new row linked to its predecessor via AncestorID.
type File struct {
	ID           int64
	CollectionID *int64 // nil = root scope
	Handle       string
	ContentHash  string // SHA-256 hex; empty for tombstones
	Size         int64
	MimeType     string
	Status       FileStatus
	AncestorID   *int64 // revision this row supersedes
	CreatedAt    time.Time
}

// Operation is an audit record for a mutating store operation.
type Operation struct {
	ID         int64
	OpID       string // UUID identifying the run
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // "running", "success" or "error"
}
