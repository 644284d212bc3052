package nest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// BlobStore provides content-addressed, write-once storage for file
// payloads, keyed by the SHA-256 hex digest of the content.
type BlobStore interface {
	// Store writes data under its hash and returns the detected MIME
	// type of the stored bytes. Storing identical content twice is a
	// no-op. A blob already present under the same hash but with a
	// different size fails with ErrHashCollision.
	Store(hash string, data []byte) (mimeType string, err error)

	// Retrieve returns the content stored under hash.
	// Returns ErrNotFound if no blob exists for the hash.
	Retrieve(hash string) ([]byte, error)

	// PutArchive stores a named archive (e.g. an encrypted database
	// backup) outside the content-addressed area. size is the number
	// of bytes that will be read from r.
	PutArchive(name string, r io.Reader, size int64) error

	// GetArchive retrieves a named archive and writes it to w.
	GetArchive(name string, w io.Writer) error

	// ValidateSetup verifies the backend is accessible and writable.
	ValidateSetup() error
}

// Detector identifies the MIME type of stored content. It is an
// external collaborator: the core invokes it once per stored blob and
// treats the result as opaque.
type Detector interface {
	Detect(name string, data []byte) (string, error)
}

// HashData returns the SHA-256 digest of data as a lowercase hex
// string. Pure function; this is the content address used everywhere.
func HashData(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
