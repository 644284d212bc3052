package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nestfs/internal/database/migrations"
	"nestfs/internal/model"
	"nestfs/internal/nest"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// defaultLockTimeout bounds how long Exclusive waits to enter a
// section before giving up with ErrLockUnavailable.
const defaultLockTimeout = 5 * time.Second

// dbtx is the subset of *sql.DB and *sql.Tx the queries need, so the
// same SQL serves both the plain store and its exclusive sections.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	queries
	db          *sql.DB
	path        string
	lock        chan struct{}
	lockTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return NewSQLiteStoreFromDB(db, path), nil
}

// NewSQLiteStoreFromDB wraps an existing database connection. The
// caller is responsible for ensuring the connection is properly
// configured (see OpenConnection).
func NewSQLiteStoreFromDB(db *sql.DB, path string) *SQLiteStore {
	return &SQLiteStore{
		queries:     queries{db: db},
		db:          db,
		path:        path,
		lock:        make(chan struct{}, 1),
		lockTimeout: defaultLockTimeout,
	}
}

// OpenConnection opens and configures a SQLite connection with
// appropriate PRAGMAs. Exported for tools and tests that need a
// properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: interval shifts assume one writer, and an
	// in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// SetLockTimeout changes how long Exclusive waits for the section lock.
func (s *SQLiteStore) SetLockTimeout(d time.Duration) {
	s.lockTimeout = d
}

// Exclusive runs fn inside the process-wide write section, backed by a
// single transaction. If fn returns an error the transaction rolls
// back and the error is returned unchanged.
func (s *SQLiteStore) Exclusive(fn func(nest.Tx) error) error {
	select {
	case s.lock <- struct{}{}:
	case <-time.After(s.lockTimeout):
		return nest.ErrLockUnavailable
	}
	defer func() { <-s.lock }()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Operation tracking

func (s *SQLiteStore) CreateOperation(opID, operation, parameters string, startedAt time.Time) (*model.Operation, error) {
	res, err := s.db.Exec(
		`INSERT INTO operations (op_id, operation, parameters, started_at, status)
		 VALUES (?, ?, ?, ?, 'running')`,
		opID, operation, parameters, startedAt)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return &model.Operation{
		ID:         id,
		OpID:       opID,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt,
		Status:     "running",
	}, nil
}

func (s *SQLiteStore) FinishOperation(id int64, status string, finishedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE operations SET status = ?, finished_at = ? WHERE id = ?`,
		status, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListOperations(limit int) ([]*model.Operation, error) {
	rows, err := s.db.Query(
		`SELECT id, op_id, operation, parameters, started_at, finished_at, status
		 FROM operations ORDER BY id DESC LIMIT ?`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		var op model.Operation
		var finished sql.NullTime
		err := rows.Scan(&op.ID, &op.OpID, &op.Operation, &op.Parameters,
			&op.StartedAt, &finished, &op.Status)
		if err != nil {
			return nil, fmt.Errorf("listing operations: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// queries implements the Querier and Tx surfaces over either a plain
// connection or an open transaction.
type queries struct {
	db dbtx
}

const collectionColumns = `id, parent_id, handle, lft, rgt, status`

func (q *queries) FindChildCollection(parentID *int64, handle string, includeInactive bool) (*model.Collection, error) {
	// ORDER BY status prefers an 'active' row over an 'inactive' one
	// when the same handle exists in both states.
	query := `SELECT ` + collectionColumns + ` FROM collections
		 WHERE parent_id IS ? AND handle = ?`
	if !includeInactive {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY status, id LIMIT 1`

	c, err := scanCollection(q.db.QueryRow(query, parentID, handle))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding child collection: %w", err)
	}
	return c, nil
}

func (q *queries) ActiveChildCollections(parentID *int64) ([]*model.Collection, error) {
	rows, err := q.db.Query(
		`SELECT `+collectionColumns+` FROM collections
		 WHERE parent_id IS ? AND status = 'active' ORDER BY lft`, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing child collections: %w", err)
	}
	return collectCollections(rows)
}

func (q *queries) FindCollectionByID(id int64) (*model.Collection, error) {
	c, err := scanCollection(q.db.QueryRow(
		`SELECT `+collectionColumns+` FROM collections WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding collection: %w", err)
	}
	return c, nil
}

func (q *queries) CollectionsInRange(lft, rgt int64) ([]*model.Collection, error) {
	rows, err := q.db.Query(
		`SELECT `+collectionColumns+` FROM collections
		 WHERE lft >= ? AND lft <= ? ORDER BY lft`, lft, rgt)
	if err != nil {
		return nil, fmt.Errorf("listing collections in range: %w", err)
	}
	return collectCollections(rows)
}

func (q *queries) MaxRight() (int64, error) {
	var max int64
	err := q.db.QueryRow(`SELECT COALESCE(MAX(rgt), 0) FROM collections`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("getting max right edge: %w", err)
	}
	return max, nil
}

func (q *queries) CollectionParents() ([]*model.Collection, error) {
	// NULL parent_id sorts first, so roots lead the result.
	rows, err := q.db.Query(
		`SELECT id, parent_id FROM collections ORDER BY parent_id, id`)
	if err != nil {
		return nil, fmt.Errorf("listing collection parents: %w", err)
	}
	defer rows.Close()

	var result []*model.Collection
	for rows.Next() {
		var c model.Collection
		var parent sql.NullInt64
		if err := rows.Scan(&c.ID, &parent); err != nil {
			return nil, fmt.Errorf("listing collection parents: %w", err)
		}
		if parent.Valid {
			v := parent.Int64
			c.ParentID = &v
		}
		result = append(result, &c)
	}
	return result, rows.Err()
}

const fileColumns = `id, collection_id, handle, content_hash, size, mime_type, status, ancestor_id, created_at`

func (q *queries) CurrentFile(collectionID *int64, handle string) (*model.File, error) {
	f, err := scanFile(q.db.QueryRow(
		`SELECT `+fileColumns+` FROM files
		 WHERE collection_id IS ? AND handle = ?
		 ORDER BY id DESC LIMIT 1`, collectionID, handle))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding current file: %w", err)
	}
	return f, nil
}

func (q *queries) LatestFilesPerChild(collectionID *int64) ([]*model.File, error) {
	rows, err := q.db.Query(
		`SELECT f.id, f.collection_id, f.handle, f.content_hash, f.size,
		        f.mime_type, f.status, f.ancestor_id, f.created_at
		 FROM files f
		 JOIN (SELECT handle, MAX(id) AS max_id FROM files
		       WHERE collection_id IS ? GROUP BY handle) latest
		   ON f.id = latest.max_id
		 WHERE f.status != 'deleted'
		 ORDER BY f.handle`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return collectFiles(rows)
}

func (q *queries) FindFileByID(id int64) (*model.File, error) {
	f, err := scanFile(q.db.QueryRow(
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return f, nil
}

func (q *queries) InsertFile(f *model.File) (*model.File, error) {
	res, err := q.db.Exec(
		`INSERT INTO files (collection_id, handle, content_hash, size, mime_type, status, ancestor_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.CollectionID, f.Handle, f.ContentHash, f.Size, f.MimeType,
		string(f.Status), f.AncestorID, f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("inserting file: %w", err)
	}

	inserted := *f
	inserted.ID = id
	return &inserted, nil
}

func (q *queries) InsertCollection(c *model.Collection) (*model.Collection, error) {
	res, err := q.db.Exec(
		`INSERT INTO collections (parent_id, handle, lft, rgt, status)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ParentID, c.Handle, c.Lft, c.Rgt, string(c.Status))
	if err != nil {
		return nil, fmt.Errorf("inserting collection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("inserting collection: %w", err)
	}

	inserted := *c
	inserted.ID = id
	return &inserted, nil
}

func (q *queries) ShiftRights(minRgt, delta int64) error {
	_, err := q.db.Exec(
		`UPDATE collections SET rgt = rgt + ? WHERE rgt >= ?`, delta, minRgt)
	if err != nil {
		return fmt.Errorf("shifting right edges: %w", err)
	}
	return nil
}

func (q *queries) ShiftLefts(minLft, delta int64) error {
	_, err := q.db.Exec(
		`UPDATE collections SET lft = lft + ? WHERE lft > ?`, delta, minLft)
	if err != nil {
		return fmt.Errorf("shifting left edges: %w", err)
	}
	return nil
}

func (q *queries) SetCollectionStatus(id int64, status model.CollectionStatus) error {
	_, err := q.db.Exec(
		`UPDATE collections SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("setting collection status: %w", err)
	}
	return nil
}

func (q *queries) SetStatusRange(lft, rgt int64, status model.CollectionStatus) (int64, error) {
	res, err := q.db.Exec(
		`UPDATE collections SET status = ? WHERE lft >= ? AND lft <= ?`,
		string(status), lft, rgt)
	if err != nil {
		return 0, fmt.Errorf("setting status in range: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("setting status in range: %w", err)
	}
	return n, nil
}

func (q *queries) SetCollectionParent(id int64, parentID *int64) error {
	_, err := q.db.Exec(
		`UPDATE collections SET parent_id = ? WHERE id = ?`, parentID, id)
	if err != nil {
		return fmt.Errorf("setting collection parent: %w", err)
	}
	return nil
}

func (q *queries) ReassignParentsInRange(lft, rgt int64) error {
	// The tightest enclosing node is the strictly containing row with
	// the greatest lft. Rows with no container become roots.
	_, err := q.db.Exec(
		`UPDATE collections SET parent_id = (
		   SELECT p.id FROM collections p
		   WHERE p.lft < collections.lft AND p.rgt > collections.rgt
		   ORDER BY p.lft DESC LIMIT 1)
		 WHERE lft >= ? AND lft <= ?`, lft, rgt)
	if err != nil {
		return fmt.Errorf("reassigning parents: %w", err)
	}
	return nil
}

func (q *queries) TombstoneFilesInRange(lft, rgt int64, now time.Time) (int64, error) {
	res, err := q.db.Exec(
		`INSERT INTO files (collection_id, handle, content_hash, size, mime_type, status, ancestor_id, created_at)
		 SELECT f.collection_id, f.handle, '', 0, '', 'deleted', f.id, ?
		 FROM files f
		 JOIN (SELECT collection_id, handle, MAX(id) AS max_id FROM files
		       WHERE collection_id IN
		         (SELECT id FROM collections WHERE lft >= ? AND lft <= ?)
		       GROUP BY collection_id, handle) latest
		   ON f.id = latest.max_id
		 WHERE f.status != 'deleted'`, now, lft, rgt)
	if err != nil {
		return 0, fmt.Errorf("tombstoning files in range: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("tombstoning files in range: %w", err)
	}
	return n, nil
}

func (q *queries) ClearPositions() error {
	_, err := q.db.Exec(`UPDATE collections SET lft = NULL, rgt = NULL`)
	if err != nil {
		return fmt.Errorf("clearing positions: %w", err)
	}
	return nil
}

func (q *queries) SetPosition(id, lft, rgt int64) error {
	_, err := q.db.Exec(
		`UPDATE collections SET lft = ?, rgt = ? WHERE id = ?`, lft, rgt, id)
	if err != nil {
		return fmt.Errorf("setting position: %w", err)
	}
	return nil
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(r rowScanner) (*model.Collection, error) {
	var c model.Collection
	var parent, lft, rgt sql.NullInt64
	var status string
	if err := r.Scan(&c.ID, &parent, &c.Handle, &lft, &rgt, &status); err != nil {
		return nil, err
	}
	if parent.Valid {
		v := parent.Int64
		c.ParentID = &v
	}
	c.Lft = lft.Int64
	c.Rgt = rgt.Int64
	c.Status = model.CollectionStatus(status)
	return &c, nil
}

func collectCollections(rows *sql.Rows) ([]*model.Collection, error) {
	defer rows.Close()

	var result []*model.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func scanFile(r rowScanner) (*model.File, error) {
	var f model.File
	var collection, ancestor sql.NullInt64
	var status string
	err := r.Scan(&f.ID, &collection, &f.Handle, &f.ContentHash, &f.Size,
		&f.MimeType, &status, &ancestor, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	if collection.Valid {
		v := collection.Int64
		f.CollectionID = &v
	}
	if ancestor.Valid {
		v := ancestor.Int64
		f.AncestorID = &v
	}
	f.Status = model.FileStatus(status)
	return &f, nil
}

func collectFiles(rows *sql.Rows) ([]*model.File, error) {
	defer rows.Close()

	var result []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// Compile-time check that SQLiteStore implements the Store interface
var _ nest.Store = (*SQLiteStore)(nil)
