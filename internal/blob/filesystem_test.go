package blob

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"nestfs/internal/nest"
)

func newTestFileSystemStore(t *testing.T) *FileSystemStore {
	t.Helper()
	s, err := NewFileSystemStore(t.TempDir(), FixedDetector{MimeType: "text/plain"})
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	return s
}

func TestFileSystemStore_StoreRetrieve(t *testing.T) {
	s := newTestFileSystemStore(t)

	data := []byte("some content")
	hash := nest.HashData(data)

	mimeType, err := s.Store(hash, data)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if mimeType != "text/plain" {
		t.Errorf("Store() mime = %q, want text/plain", mimeType)
	}

	got, err := s.Retrieve(hash)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Retrieve() = %q, want %q", got, data)
	}
}

func TestFileSystemStore_ShardLayout(t *testing.T) {
	s := newTestFileSystemStore(t)

	data := []byte("sharded")
	hash := nest.HashData(data)
	if _, err := s.Store(hash, data); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	want := filepath.Join(hash[:2], hash[2:])
	if _, err := os.Stat(s.Locate(hash)); err != nil {
		t.Errorf("blob not found at sharded path %s: %v", want, err)
	}
}

func TestFileSystemStore_StoreIdempotent(t *testing.T) {
	s := newTestFileSystemStore(t)

	data := []byte("stable bytes")
	hash := nest.HashData(data)

	if _, err := s.Store(hash, data); err != nil {
		t.Fatalf("first Store() error = %v", err)
	}
	if _, err := s.Store(hash, data); err != nil {
		t.Fatalf("second Store() error = %v", err)
	}
}

func TestFileSystemStore_HashCollision(t *testing.T) {
	s := newTestFileSystemStore(t)

	hash := nest.HashData([]byte("original"))
	if _, err := s.Store(hash, []byte("original")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	// Same hash, different payload size.
	_, err := s.Store(hash, []byte("a different, longer payload"))
	if !errors.Is(err, nest.ErrHashCollision) {
		t.Errorf("Store() error = %v, want ErrHashCollision", err)
	}
}

func TestFileSystemStore_RetrieveMissing(t *testing.T) {
	s := newTestFileSystemStore(t)

	_, err := s.Retrieve(nest.HashData([]byte("never stored")))
	if !errors.Is(err, nest.ErrNotFound) {
		t.Errorf("Retrieve() error = %v, want ErrNotFound", err)
	}
}

func TestFileSystemStore_MalformedHash(t *testing.T) {
	s := newTestFileSystemStore(t)

	if _, err := s.Store("ab", []byte("x")); err == nil {
		t.Error("Store() with short hash succeeded, want error")
	}
	if _, err := s.Retrieve(""); err == nil {
		t.Error("Retrieve() with empty hash succeeded, want error")
	}
}

func TestFileSystemStore_Archives(t *testing.T) {
	s := newTestFileSystemStore(t)

	payload := []byte("archive payload")
	if err := s.PutArchive("backup-1", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("PutArchive() error = %v", err)
	}

	var out bytes.Buffer
	if err := s.GetArchive("backup-1", &out); err != nil {
		t.Fatalf("GetArchive() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Errorf("GetArchive() = %q, want %q", out.Bytes(), payload)
	}

	t.Run("size mismatch is rejected", func(t *testing.T) {
		err := s.PutArchive("bad", bytes.NewReader(payload), int64(len(payload))+5)
		if err == nil {
			t.Error("PutArchive() with wrong size succeeded, want error")
		}
	})

	t.Run("missing archive is ErrNotFound", func(t *testing.T) {
		var w bytes.Buffer
		if err := s.GetArchive("nope", &w); !errors.Is(err, nest.ErrNotFound) {
			t.Errorf("GetArchive(nope) error = %v, want ErrNotFound", err)
		}
	})
}

func TestFileSystemStore_ValidateSetup(t *testing.T) {
	s := newTestFileSystemStore(t)
	if err := s.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}
