package nest

import (
	"fmt"
	"os"
	"path/filepath"

	"nestfs/internal/model"
)

// Service is the orchestration layer consumed by front ends (CLI,
// protocol servers). It exposes path-string operations that map 1:1
// onto the core components: resolve, list, create, write, read, move,
// delete, history, renest and database backup.
type Service struct {
	store     Store
	blobs     BlobStore
	index     *Index
	ledger    *Ledger
	mover     *Mover
	renester  *Renester
	encryptor Encryptor
	logger    Logger
	clock     Clock
}

// NewService creates a fully wired Service over the given dependencies.
func NewService(store Store, blobs BlobStore, encryptor Encryptor, logger Logger, clock Clock) *Service {
	index := NewIndex(store, logger)
	ledger := NewLedger(store, blobs, logger, clock)
	return &Service{
		store:     store,
		blobs:     blobs,
		index:     index,
		ledger:    ledger,
		mover:     NewMover(store, index, ledger, logger, clock),
		renester:  NewRenester(store, logger),
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
	}
}

// Index exposes the collection index for callers composing lower-level
// operations.
func (s *Service) Index() *Index { return s.index }

// Ledger exposes the file ledger.
func (s *Service) Ledger() *Ledger { return s.ledger }

// Node is a resolved path target: exactly one of Collection or File is
// set.
type Node struct {
	Collection *model.Collection
	File       *model.File
}

// Resolve returns the live node at path: a collection if the full path
// names one, otherwise the current file under the path's parent.
// Returns ErrNotFound if neither resolves.
func (s *Service) Resolve(path string) (*Node, error) {
	handles := ParsePath(path)

	collection, err := s.index.ResolvePath(handles)
	if err != nil {
		return nil, err
	}
	if collection != nil {
		return &Node{Collection: collection}, nil
	}

	if len(handles) == 0 {
		return nil, fmt.Errorf("path %q: %w", path, ErrNotFound)
	}
	parent, err := s.index.ResolvePath(handles[:len(handles)-1])
	if err != nil {
		return nil, err
	}
	if parent == nil && len(handles) > 1 {
		return nil, fmt.Errorf("path %q: %w", path, ErrNotFound)
	}
	file, err := s.ledger.CurrentAt(parent, handles[len(handles)-1])
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("path %q: %w", path, ErrNotFound)
	}
	return &Node{File: file}, nil
}

// List returns the live child collections and files under path.
// The empty path lists the root scope.
func (s *Service) List(path string) ([]*model.Collection, []*model.File, error) {
	handles := ParsePath(path)

	var parent *model.Collection
	if len(handles) > 0 {
		var err error
		parent, err = s.index.ResolvePath(handles)
		if err != nil {
			return nil, nil, err
		}
		if parent == nil {
			return nil, nil, fmt.Errorf("path %q: %w", path, ErrNotFound)
		}
	}

	collections, err := s.index.ChildrenOf(parent)
	if err != nil {
		return nil, nil, err
	}
	files, err := s.ledger.LatestPerChild(parent)
	if err != nil {
		return nil, nil, err
	}
	return collections, files, nil
}

// MakeCollection creates (or reactivates) the collection at path.
func (s *Service) MakeCollection(path string) (*model.Collection, error) {
	handles := ParsePath(path)
	if len(handles) == 0 {
		return nil, fmt.Errorf("cannot create the root scope")
	}
	return s.index.CreatePath(nil, handles)
}

// WriteFile stores data as the current revision of the file at path,
// vivifying any missing collections along the way.
func (s *Service) WriteFile(path string, data []byte) (*model.File, error) {
	handles := ParsePath(path)
	if len(handles) == 0 {
		return nil, fmt.Errorf("file path is empty")
	}

	parent, err := s.index.CreatePath(nil, handles[:len(handles)-1])
	if err != nil {
		return nil, err
	}
	return s.ledger.Write(parent, handles[len(handles)-1], data)
}

// ReadFile returns the current revision at path and its content.
func (s *Service) ReadFile(path string) (*model.File, []byte, error) {
	node, err := s.Resolve(path)
	if err != nil {
		return nil, nil, err
	}
	if node.File == nil {
		return nil, nil, fmt.Errorf("path %q is a collection, not a file", path)
	}
	data, err := s.ledger.Read(node.File)
	if err != nil {
		return nil, nil, err
	}
	return node.File, data, nil
}

// Move relocates the node at sourcePath into destPath.
func (s *Service) Move(sourcePath, destPath string) (*MoveReport, error) {
	return s.mover.Move(sourcePath, destPath)
}

// Delete tombstones the node at path: collections are deactivated with
// their whole subtree, files get a Deleted revision. Positions and
// history are retained either way.
func (s *Service) Delete(path string) error {
	node, err := s.Resolve(path)
	if err != nil {
		return err
	}

	if node.Collection != nil {
		n, err := s.index.Deactivate(node.Collection)
		if err != nil {
			return err
		}
		s.logger.Info("deactivated collection", "path", path, "collections", n)
		return nil
	}

	handles := ParsePath(path)
	parent, err := s.index.ResolvePath(handles[:len(handles)-1])
	if err != nil {
		return err
	}
	if _, err := s.ledger.Tombstone(parent, node.File.Handle, node.File); err != nil {
		return err
	}
	s.logger.Info("tombstoned file", "path", path)
	return nil
}

// FileHistory returns the revision chain of the file at path, newest
// first, following ancestor references across renames and moves.
func (s *Service) FileHistory(path string) ([]*model.File, error) {
	node, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	if node.File == nil {
		return nil, fmt.Errorf("path %q is a collection, not a file", path)
	}
	return s.ledger.Revisions(node.File)
}

// Renest rebuilds the nested-set numbering from parent pointers.
func (s *Service) Renest() (int, error) {
	return s.renester.Rebuild()
}

// BackupDatabase writes a consistent, encrypted copy of the metadata
// store to the blob backend's archive area under the given name.
func (s *Service) BackupDatabase(name string) error {
	tmpDir, err := os.MkdirTemp("", "nestfs-backup-*")
	if err != nil {
		return fmt.Errorf("creating backup scratch dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plainPath := filepath.Join(tmpDir, "db")
	if err := s.store.BackupTo(plainPath); err != nil {
		return fmt.Errorf("copying database: %w", err)
	}

	encPath := filepath.Join(tmpDir, "db.age")
	if err := s.encryptFile(plainPath, encPath); err != nil {
		return err
	}

	enc, err := os.Open(encPath)
	if err != nil {
		return fmt.Errorf("opening encrypted backup: %w", err)
	}
	defer enc.Close()

	info, err := enc.Stat()
	if err != nil {
		return fmt.Errorf("sizing encrypted backup: %w", err)
	}
	if err := s.blobs.PutArchive(name, enc, info.Size()); err != nil {
		return fmt.Errorf("uploading backup: %w", err)
	}

	s.logger.Info("database backed up", "archive", name, "bytes", info.Size())
	return nil
}

// RestoreDatabase fetches the named encrypted archive from the blob
// backend, decrypts it with the unlocked context, and writes the
// database copy to destPath. The caller points a fresh store at the
// restored file afterwards.
func (s *Service) RestoreDatabase(name, destPath string, dc DecryptionContext) error {
	tmpDir, err := os.MkdirTemp("", "nestfs-restore-*")
	if err != nil {
		return fmt.Errorf("creating restore scratch dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	encPath := filepath.Join(tmpDir, "db.age")
	enc, err := os.Create(encPath)
	if err != nil {
		return fmt.Errorf("creating archive scratch file: %w", err)
	}
	if err := s.blobs.GetArchive(name, enc); err != nil {
		enc.Close()
		return fmt.Errorf("downloading backup: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("writing archive scratch file: %w", err)
	}

	src, err := os.Open(encPath)
	if err != nil {
		return fmt.Errorf("opening downloaded backup: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating restored database: %w", err)
	}
	defer dest.Close()

	if err := dc.Decrypt(src, dest); err != nil {
		return fmt.Errorf("decrypting backup: %w", err)
	}
	if err := dest.Close(); err != nil {
		return fmt.Errorf("writing restored database: %w", err)
	}

	s.logger.Info("database restored", "archive", name, "dest", destPath)
	return nil
}

func (s *Service) encryptFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening database copy: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating encrypted file: %w", err)
	}
	defer dest.Close()

	if err := s.encryptor.Encrypt(src, dest); err != nil {
		return fmt.Errorf("encrypting backup: %w", err)
	}
	return dest.Close()
}
