package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"nestfs/internal/nest"
)

// FileSystemStore is a filesystem-backed implementation of the
// BlobStore interface. Content is sharded by the first two hex
// characters of its hash to bound directory fan-out:
//
//	<root>/
//	  ab/
//	    cdef0123...   (blob, named by the rest of the SHA-256)
//	  archives/
//	    <name>        (named archives, e.g. encrypted DB backups)
//
// Blobs are write-once: once a hash's content is on disk it is never
// rewritten, only verified.
type FileSystemStore struct {
	root     string
	detector nest.Detector
}

// NewFileSystemStore creates a filesystem blob store rooted at root.
func NewFileSystemStore(root string, detector nest.Detector) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &FileSystemStore{root: root, detector: detector}, nil
}

// Locate returns the deterministic sharded path for a hash: a
// two-character prefix directory plus the remainder as filename.
func (s *FileSystemStore) Locate(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

// Store writes data under its hash and returns the MIME type of the
// stored bytes. If a blob already exists at the computed location its
// size must equal len(data); a mismatch means the digest or content
// model has been violated and fails with ErrHashCollision. Storing
// identical content twice succeeds without rewriting.
func (s *FileSystemStore) Store(hash string, data []byte) (string, error) {
	if len(hash) < 3 {
		return "", fmt.Errorf("malformed content hash %q", hash)
	}
	destPath := s.Locate(hash)

	info, err := os.Stat(destPath)
	switch {
	case err == nil:
		if info.Size() != int64(len(data)) {
			return "", fmt.Errorf("%w: hash %s exists with size %d, payload is %d",
				nest.ErrHashCollision, hash, info.Size(), len(data))
		}
		// Already stored; nothing to write.
	case os.IsNotExist(err):
		// Concurrent writers of different hashes may race on the shard
		// directory; creating an existing directory is not an error.
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return "", fmt.Errorf("creating shard directory: %w", err)
		}
		if err := s.writeOnce(destPath, data); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("checking blob %s: %w", hash, err)
	}

	mimeType, err := s.detector.Detect(destPath, data)
	if err != nil {
		return "", fmt.Errorf("detecting MIME type: %w", err)
	}
	return mimeType, nil
}

// Retrieve returns the content stored under hash.
func (s *FileSystemStore) Retrieve(hash string) ([]byte, error) {
	if len(hash) < 3 {
		return nil, fmt.Errorf("malformed content hash %q", hash)
	}
	data, err := os.ReadFile(s.Locate(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", hash, nest.ErrNotFound)
		}
		return nil, fmt.Errorf("reading blob %s: %w", hash, err)
	}
	return data, nil
}

// PutArchive stores a named archive under <root>/archives.
func (s *FileSystemStore) PutArchive(name string, r io.Reader, size int64) error {
	dir := filepath.Join(s.root, "archives")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return s.writeOnce(filepath.Join(dir, name), data)
}

// GetArchive retrieves a named archive and writes it to w.
func (s *FileSystemStore) GetArchive(name string, w io.Writer) error {
	f, err := os.Open(filepath.Join(s.root, "archives", name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("archive %s: %w", name, nest.ErrNotFound)
		}
		return fmt.Errorf("opening archive %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading archive %s: %w", name, err)
	}
	return nil
}

// ValidateSetup verifies the blob root is accessible and a directory.
func (s *FileSystemStore) ValidateSetup() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("blob root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root is not a directory: %s", s.root)
	}
	return nil
}

// writeOnce writes data to destPath atomically via a temp file in the
// same directory, cleaning up partial state on failure.
func (s *FileSystemStore) writeOnce(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing blob: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalizing blob: %w", err)
	}
	return nil
}

// Compile-time check that FileSystemStore implements nest.BlobStore.
var _ nest.BlobStore = (*FileSystemStore)(nil)
