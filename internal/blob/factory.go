package blob

import (
	"fmt"

	"nestfs/internal/config"
	"nestfs/internal/nest"
)

// NewStoreFromConfig creates a BlobStore implementation based on the
// blob config type.
func NewStoreFromConfig(cfg config.BlobConfig, detector nest.Detector) (nest.BlobStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(detector), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem blob store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root, detector)
	case "s3":
		return NewS3Store(cfg, detector)
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
