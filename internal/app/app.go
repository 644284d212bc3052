package app

import (
	"fmt"
	"os"

	"nestfs/internal/blob"
	"nestfs/internal/config"
	"nestfs/internal/database"
	"nestfs/internal/encryption"
	"nestfs/internal/model"
	"nestfs/internal/nest"
)

// App is the application layer between the CLI and the Service.
// It constructs all dependencies from config, exposes high-level
// operations that accept raw path strings, and manages the store
// lifecycle on Close.
type App struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	blobs     nest.BlobStore
	encryptor nest.Encryptor
	service   *nest.Service
	clock     nest.Clock
	op        *StoreOperation
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Move",
// "WriteFile"). The caller must call Close when done.
func NewApp(cfg *config.Config, operation, parameters string) (*App, error) {
	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if cfg.Database.Type == "sqlite" {
		if err := store.MigrateUp(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	}

	blobs, err := blob.NewStoreFromConfig(cfg.Blobs, blob.SniffDetector{})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	if err := blobs.ValidateSetup(); err != nil {
		store.Close()
		return nil, fmt.Errorf("validating blob store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	clock := nest.RealClock{}
	opID := nest.UUIDGenerator{}.New()
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := nest.NewService(store, blobs, enc, &slogAdapter{l: logger}, clock)
	op := NewStoreOperation(opID, operation, parameters)

	return &App{
		cfg:       cfg,
		store:     store,
		blobs:     blobs,
		encryptor: enc,
		service:   svc,
		clock:     clock,
		op:        op,
		logFile:   logFile,
	}, nil
}

// persistOperation saves the operation record, giving it an
// auto-increment ID. Only mutating commands call this.
func (a *App) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.store.CreateOperation(a.op.OpID, a.op.Operation, a.op.Parameters, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// MakeCollection creates (or reactivates) the collection at path.
func (a *App) MakeCollection(path string) (*model.Collection, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	return a.service.MakeCollection(path)
}

// WriteFile stores data as the current revision of the file at path.
func (a *App) WriteFile(path string, data []byte) (*model.File, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	return a.service.WriteFile(path, data)
}

// ReadFile returns the current revision at path and its content.
func (a *App) ReadFile(path string) (*model.File, []byte, error) {
	return a.service.ReadFile(path)
}

// List returns the live child collections and files under path.
func (a *App) List(path string) ([]*model.Collection, []*model.File, error) {
	return a.service.List(path)
}

// Move relocates the node at sourcePath into destPath.
func (a *App) Move(sourcePath, destPath string) (*nest.MoveReport, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	return a.service.Move(sourcePath, destPath)
}

// Delete tombstones the node at path.
func (a *App) Delete(path string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	return a.service.Delete(path)
}

// FileHistory returns the revision chain of the file at path, newest first.
func (a *App) FileHistory(path string) ([]*model.File, error) {
	return a.service.FileHistory(path)
}

// ListOperations returns the most recent store operations, newest first.
func (a *App) ListOperations(limit int) ([]*model.Operation, error) {
	return a.store.ListOperations(limit)
}

// Renest rebuilds the nested-set numbering from parent pointers and
// returns the number of collections renumbered.
func (a *App) Renest() (int, error) {
	if err := a.persistOperation(); err != nil {
		return 0, err
	}
	return a.service.Renest()
}

// SetupEncryption generates the key pair used to protect database
// archive backups.
func (a *App) SetupEncryption(passphrase string) error {
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	return a.encryptor.Setup(passphrase)
}

// BackupDatabase writes an encrypted copy of the store to the blob
// backend's archive area under the given name.
func (a *App) BackupDatabase(name string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	if !a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys not set up (run config encrypt first)")
	}
	return a.service.BackupDatabase(name)
}

// RestoreDatabase fetches the named archive and writes the decrypted
// database copy to destPath.
func (a *App) RestoreDatabase(name, destPath, passphrase string) error {
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	return a.service.RestoreDatabase(name, destPath, dc)
}

// SetError marks the operation as failed; reflected in the operation
// record when Close runs.
func (a *App) SetError() {
	a.op.Status = "error"
}

// Close finalizes the operation record and closes all resources.
func (a *App) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.store.FinishOperation(a.op.ID, a.op.Status, a.clock.Now()); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.store.Close(); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("closing store: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
