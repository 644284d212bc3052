package testutil

import (
	"testing"

	"nestfs/internal/blob"
	"nestfs/internal/database"
	"nestfs/internal/encryption"
	"nestfs/internal/nest"
)

// NewTestStore creates a new in-memory SQLite store with schema applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.MigrateUp(); err != nil {
		store.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// NewTestService wires a Service over an in-memory store, an in-memory
// blob store and a test encryptor. The underlying store is returned for
// direct inspection.
func NewTestService(t *testing.T) (*nest.Service, *database.SQLiteStore) {
	t.Helper()

	store := NewTestStore(t)
	blobs := blob.NewMemoryStore(blob.SniffDetector{})
	svc := nest.NewService(store, blobs, encryption.NewTestEncryptor(), nest.NewNopLogger(), nest.RealClock{})
	return svc, store
}
