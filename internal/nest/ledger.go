package nest

import (
	"fmt"

	"nestfs/internal/model"
)

// Ledger is the append-only, latest-wins record of file revisions.
// Every mutation appends a new row; rows are never updated in place,
// and each revision links to the one it supersedes via AncestorID.
type Ledger struct {
	store  Store
	blobs  BlobStore
	logger Logger
	clock  Clock
}

// NewLedger creates a Ledger over the given store and blob store.
func NewLedger(store Store, blobs BlobStore, logger Logger, clock Clock) *Ledger {
	return &Ledger{store: store, blobs: blobs, logger: logger, clock: clock}
}

// CurrentAt returns the live file at (collection, handle), or nil if
// the key has no rows or its latest revision is a tombstone.
func (l *Ledger) CurrentAt(collection *model.Collection, handle string) (*model.File, error) {
	tip, err := l.store.CurrentFile(collectionID(collection), handle)
	if err != nil {
		return nil, fmt.Errorf("finding current file %q: %w", handle, err)
	}
	if tip == nil || tip.Status == model.FileDeleted {
		return nil, nil
	}
	return tip, nil
}

// LatestPerChild returns the live file for every distinct handle under
// collection, supporting directory listing.
func (l *Ledger) LatestPerChild(collection *model.Collection) ([]*model.File, error) {
	return l.store.LatestFilesPerChild(collectionID(collection))
}

// Write stores data as the current revision of (collection, handle).
// Rewriting identical content is a no-op returning the unchanged
// current revision, so idempotent rewrites never grow the ledger.
// Otherwise the payload goes to the blob store and a new row is
// appended, chained to the superseded revision.
func (l *Ledger) Write(collection *model.Collection, handle string, data []byte) (*model.File, error) {
	hash := HashData(data)

	tip, err := l.store.CurrentFile(collectionID(collection), handle)
	if err != nil {
		return nil, fmt.Errorf("checking current revision of %q: %w", handle, err)
	}

	if tip != nil && tip.Status == model.FileNormal && tip.ContentHash == hash {
		if tip.Size != int64(len(data)) {
			return nil, fmt.Errorf("%w: hash %s has size %d on record, %d in payload",
				ErrHashCollision, hash, tip.Size, len(data))
		}
		// No substantial change from the last revision.
		return tip, nil
	}

	mimeType, err := l.blobs.Store(hash, data)
	if err != nil {
		return nil, fmt.Errorf("storing blob for %q: %w", handle, err)
	}

	var ancestorID *int64
	if tip != nil {
		ancestorID = &tip.ID
	}

	created, err := l.store.InsertFile(&model.File{
		CollectionID: collectionID(collection),
		Handle:       handle,
		ContentHash:  hash,
		Size:         int64(len(data)),
		MimeType:     mimeType,
		Status:       model.FileNormal,
		AncestorID:   ancestorID,
		CreatedAt:    l.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("appending revision of %q: %w", handle, err)
	}

	l.logger.Debug("wrote file", "handle", handle, "hash", hash, "size", len(data))
	return created, nil
}

// Tombstone appends a Deleted revision for (collection, handle) based
// on the given revision. The blob is untouched; other revisions may
// still reference it.
func (l *Ledger) Tombstone(collection *model.Collection, handle string, basedOn *model.File) (*model.File, error) {
	created, err := l.store.InsertFile(&model.File{
		CollectionID: collectionID(collection),
		Handle:       handle,
		Status:       model.FileDeleted,
		AncestorID:   &basedOn.ID,
		CreatedAt:    l.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("tombstoning %q: %w", handle, err)
	}
	return created, nil
}

// Read returns the content of a file revision from the blob store.
func (l *Ledger) Read(f *model.File) ([]byte, error) {
	if f.Status == model.FileDeleted {
		return nil, fmt.Errorf("reading revision %d: %w", f.ID, ErrNotFound)
	}
	data, err := l.blobs.Retrieve(f.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("retrieving blob %s: %w", f.ContentHash, err)
	}
	return data, nil
}

// Revisions walks the ancestor chain starting at f, newest first.
func (l *Ledger) Revisions(f *model.File) ([]*model.File, error) {
	var chain []*model.File
	current := f
	for current != nil {
		chain = append(chain, current)
		if current.AncestorID == nil {
			break
		}
		prev, err := l.store.FindFileByID(*current.AncestorID)
		if err != nil {
			return nil, fmt.Errorf("walking revision %d: %w", *current.AncestorID, err)
		}
		current = prev
	}
	return chain, nil
}
