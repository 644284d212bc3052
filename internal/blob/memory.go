package blob

import (
	"fmt"
	"io"
	"sync"

	"nestfs/internal/nest"
)

// MemoryStore is an in-memory implementation of the BlobStore
// interface, useful for tests and throwaway stores. It is safe for
// concurrent use.
type MemoryStore struct {
	content  map[string][]byte
	archives map[string][]byte
	detector nest.Detector
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore(detector nest.Detector) *MemoryStore {
	return &MemoryStore{
		content:  make(map[string][]byte),
		archives: make(map[string][]byte),
		detector: detector,
	}
}

// Store keeps data under its hash, with the same collision and
// idempotency semantics as the filesystem backend.
func (m *MemoryStore) Store(hash string, data []byte) (string, error) {
	m.mu.Lock()
	if existing, ok := m.content[hash]; ok {
		if len(existing) != len(data) {
			m.mu.Unlock()
			return "", fmt.Errorf("%w: hash %s exists with size %d, payload is %d",
				nest.ErrHashCollision, hash, len(existing), len(data))
		}
	} else {
		stored := make([]byte, len(data))
		copy(stored, data)
		m.content[hash] = stored
	}
	m.mu.Unlock()

	return m.detector.Detect(hash, data)
}

// Retrieve returns the content stored under hash.
func (m *MemoryStore) Retrieve(hash string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[hash]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", hash, nest.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// PutArchive stores a named archive.
func (m *MemoryStore) PutArchive(name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[name] = data
	return nil
}

// GetArchive retrieves a named archive and writes it to w.
func (m *MemoryStore) GetArchive(name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.archives[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("archive %s: %w", name, nest.ErrNotFound)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing archive %s: %w", name, err)
	}
	return nil
}

// ValidateSetup always succeeds for the in-memory backend.
func (m *MemoryStore) ValidateSetup() error { return nil }

// Compile-time check that MemoryStore implements nest.BlobStore.
var _ nest.BlobStore = (*MemoryStore)(nil)
