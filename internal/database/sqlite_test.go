package database_test

import (
	"errors"
	"testing"
	"time"

	"nestfs/internal/model"
	"nestfs/internal/nest"
	"nestfs/internal/testutil"
)

func TestSQLiteStore_Collections(t *testing.T) {
	store := testutil.NewTestStore(t)

	var rootID int64
	err := store.Exclusive(func(tx nest.Tx) error {
		root, err := tx.InsertCollection(&model.Collection{
			Handle: "root", Lft: 1, Rgt: 4, Status: model.CollectionActive,
		})
		if err != nil {
			return err
		}
		rootID = root.ID
		_, err = tx.InsertCollection(&model.Collection{
			ParentID: &root.ID, Handle: "child", Lft: 2, Rgt: 3, Status: model.CollectionActive,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seeding error = %v", err)
	}

	t.Run("FindChildCollection", func(t *testing.T) {
		got, err := store.FindChildCollection(nil, "root", false)
		if err != nil {
			t.Fatalf("FindChildCollection() error = %v", err)
		}
		if got == nil || got.ID != rootID {
			t.Errorf("FindChildCollection(nil, root) = %+v, want id %d", got, rootID)
		}

		child, err := store.FindChildCollection(&rootID, "child", false)
		if err != nil {
			t.Fatalf("FindChildCollection() error = %v", err)
		}
		if child == nil || child.Lft != 2 {
			t.Errorf("FindChildCollection(root, child) = %+v, want lft 2", child)
		}

		missing, err := store.FindChildCollection(nil, "ghost", false)
		if err != nil {
			t.Fatalf("FindChildCollection() error = %v", err)
		}
		if missing != nil {
			t.Errorf("FindChildCollection(nil, ghost) = %+v, want nil", missing)
		}
	})

	t.Run("inactive rows are hidden unless requested", func(t *testing.T) {
		err := store.Exclusive(func(tx nest.Tx) error {
			return tx.SetCollectionStatus(rootID, model.CollectionInactive)
		})
		if err != nil {
			t.Fatalf("SetCollectionStatus() error = %v", err)
		}

		got, _ := store.FindChildCollection(nil, "root", false)
		if got != nil {
			t.Error("inactive row returned without includeInactive")
		}
		got, _ = store.FindChildCollection(nil, "root", true)
		if got == nil {
			t.Error("inactive row not returned with includeInactive")
		}

		err = store.Exclusive(func(tx nest.Tx) error {
			return tx.SetCollectionStatus(rootID, model.CollectionActive)
		})
		if err != nil {
			t.Fatalf("SetCollectionStatus() error = %v", err)
		}
	})

	t.Run("CollectionsInRange and MaxRight", func(t *testing.T) {
		rows, err := store.CollectionsInRange(1, 4)
		if err != nil {
			t.Fatalf("CollectionsInRange() error = %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("CollectionsInRange(1,4) returned %d rows, want 2", len(rows))
		}
		if rows[0].Handle != "root" || rows[1].Handle != "child" {
			t.Errorf("range order = %q, %q; want root, child", rows[0].Handle, rows[1].Handle)
		}

		max, err := store.MaxRight()
		if err != nil {
			t.Fatalf("MaxRight() error = %v", err)
		}
		if max != 4 {
			t.Errorf("MaxRight() = %d, want 4", max)
		}
	})
}

func TestSQLiteStore_Shifts(t *testing.T) {
	store := testutil.NewTestStore(t)

	err := store.Exclusive(func(tx nest.Tx) error {
		for _, c := range []model.Collection{
			{Handle: "a", Lft: 1, Rgt: 4, Status: model.CollectionActive},
			{Handle: "b", Lft: 2, Rgt: 3, Status: model.CollectionActive},
			{Handle: "c", Lft: 5, Rgt: 6, Status: model.CollectionActive},
		} {
			if _, err := tx.InsertCollection(&c); err != nil {
				return err
			}
		}
		// Open a gap of width 2 at position 4: a grows, c slides right.
		if err := tx.ShiftRights(4, 2); err != nil {
			return err
		}
		return tx.ShiftLefts(4, 2)
	})
	if err != nil {
		t.Fatalf("Exclusive() error = %v", err)
	}

	a, _ := store.FindChildCollection(nil, "a", false)
	b, _ := store.FindChildCollection(nil, "b", false)
	c, _ := store.FindChildCollection(nil, "c", false)

	if a.Lft != 1 || a.Rgt != 6 {
		t.Errorf("a = [%d,%d], want [1,6]", a.Lft, a.Rgt)
	}
	if b.Lft != 2 || b.Rgt != 3 {
		t.Errorf("b = [%d,%d], want [2,3] (untouched)", b.Lft, b.Rgt)
	}
	if c.Lft != 7 || c.Rgt != 8 {
		t.Errorf("c = [%d,%d], want [7,8]", c.Lft, c.Rgt)
	}
}

func TestSQLiteStore_SetStatusRange(t *testing.T) {
	store := testutil.NewTestStore(t)

	err := store.Exclusive(func(tx nest.Tx) error {
		for _, c := range []model.Collection{
			{Handle: "a", Lft: 1, Rgt: 6, Status: model.CollectionActive},
			{Handle: "b", Lft: 2, Rgt: 5, Status: model.CollectionActive},
			{Handle: "c", Lft: 3, Rgt: 4, Status: model.CollectionActive},
			{Handle: "d", Lft: 7, Rgt: 8, Status: model.CollectionActive},
		} {
			if _, err := tx.InsertCollection(&c); err != nil {
				return err
			}
		}
		n, err := tx.SetStatusRange(2, 5, model.CollectionInactive)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("SetStatusRange() touched %d rows, want 2", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Exclusive() error = %v", err)
	}

	d, _ := store.FindChildCollection(nil, "d", false)
	if d == nil {
		t.Error("row outside the range was deactivated")
	}
}

func TestSQLiteStore_ReassignParentsInRange(t *testing.T) {
	store := testutil.NewTestStore(t)

	var outerID, innerID, leafID int64
	err := store.Exclusive(func(tx nest.Tx) error {
		outer, err := tx.InsertCollection(&model.Collection{
			Handle: "outer", Lft: 1, Rgt: 8, Status: model.CollectionActive,
		})
		if err != nil {
			return err
		}
		inner, err := tx.InsertCollection(&model.Collection{
			Handle: "inner", Lft: 2, Rgt: 5, Status: model.CollectionActive,
		})
		if err != nil {
			return err
		}
		leaf, err := tx.InsertCollection(&model.Collection{
			Handle: "leaf", Lft: 3, Rgt: 4, Status: model.CollectionActive,
		})
		if err != nil {
			return err
		}
		outerID, innerID, leafID = outer.ID, inner.ID, leaf.ID
		return tx.ReassignParentsInRange(2, 5)
	})
	if err != nil {
		t.Fatalf("Exclusive() error = %v", err)
	}

	inner, _ := store.FindCollectionByID(innerID)
	leaf, _ := store.FindCollectionByID(leafID)
	if inner.ParentID == nil || *inner.ParentID != outerID {
		t.Errorf("inner parent = %v, want %d (tightest container)", inner.ParentID, outerID)
	}
	if leaf.ParentID == nil || *leaf.ParentID != innerID {
		t.Errorf("leaf parent = %v, want %d (tightest container)", leaf.ParentID, innerID)
	}

	outer, _ := store.FindCollectionByID(outerID)
	if outer.ParentID != nil {
		t.Errorf("outer parent = %d, want nil (outside the range)", *outer.ParentID)
	}
}

func TestSQLiteStore_TombstoneFilesInRange(t *testing.T) {
	store := testutil.NewTestStore(t)
	now := time.Now()

	var inID, outID int64
	err := store.Exclusive(func(tx nest.Tx) error {
		in, err := tx.InsertCollection(&model.Collection{
			Handle: "in", Lft: 1, Rgt: 2, Status: model.CollectionActive,
		})
		if err != nil {
			return err
		}
		out, err := tx.InsertCollection(&model.Collection{
			Handle: "out", Lft: 3, Rgt: 4, Status: model.CollectionActive,
		})
		if err != nil {
			return err
		}
		inID, outID = in.ID, out.ID

		for _, f := range []model.File{
			{CollectionID: &in.ID, Handle: "kept.txt", ContentHash: "aa11", Size: 1, Status: model.FileNormal, CreatedAt: now},
			{CollectionID: &in.ID, Handle: "gone.txt", ContentHash: "bb22", Size: 1, Status: model.FileDeleted, CreatedAt: now},
			{CollectionID: &out.ID, Handle: "other.txt", ContentHash: "cc33", Size: 1, Status: model.FileNormal, CreatedAt: now},
		} {
			if _, err := tx.InsertFile(&f); err != nil {
				return err
			}
		}

		n, err := tx.TombstoneFilesInRange(1, 2, now)
		if err != nil {
			return err
		}
		// Only the live file inside the range gets a tombstone; the
		// already-deleted key and the out-of-range file do not.
		if n != 1 {
			t.Errorf("TombstoneFilesInRange() appended %d rows, want 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Exclusive() error = %v", err)
	}

	kept, err := store.CurrentFile(&inID, "kept.txt")
	if err != nil {
		t.Fatalf("CurrentFile() error = %v", err)
	}
	if kept.Status != model.FileDeleted {
		t.Errorf("tip of kept.txt = %q, want deleted", kept.Status)
	}
	if kept.AncestorID == nil {
		t.Error("tombstone does not reference the superseded revision")
	}

	other, _ := store.CurrentFile(&outID, "other.txt")
	if other.Status != model.FileNormal {
		t.Errorf("out-of-range file tip = %q, want normal", other.Status)
	}
}

func TestSQLiteStore_Exclusive(t *testing.T) {
	t.Run("rolls back on error", func(t *testing.T) {
		store := testutil.NewTestStore(t)

		boom := errors.New("boom")
		err := store.Exclusive(func(tx nest.Tx) error {
			if _, err := tx.InsertCollection(&model.Collection{
				Handle: "doomed", Lft: 1, Rgt: 2, Status: model.CollectionActive,
			}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Exclusive() error = %v, want boom", err)
		}

		got, _ := store.FindChildCollection(nil, "doomed", true)
		if got != nil {
			t.Error("row survived a rolled-back section")
		}
	})

	t.Run("nested sections time out with ErrLockUnavailable", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		store.SetLockTimeout(10 * time.Millisecond)

		err := store.Exclusive(func(tx nest.Tx) error {
			return store.Exclusive(func(nest.Tx) error { return nil })
		})
		if !errors.Is(err, nest.ErrLockUnavailable) {
			t.Errorf("nested Exclusive() error = %v, want ErrLockUnavailable", err)
		}
	})
}

func TestSQLiteStore_Operations(t *testing.T) {
	store := testutil.NewTestStore(t)
	start := time.Now()

	op, err := store.CreateOperation("op-uuid-1", "Move", "a -> b", start)
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if op.ID == 0 || op.Status != "running" {
		t.Errorf("CreateOperation() = %+v, want assigned ID and running status", op)
	}

	if err := store.FinishOperation(op.ID, "success", start.Add(time.Second)); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	if _, err := store.CreateOperation("op-uuid-2", "Delete", "c", start.Add(time.Minute)); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}

	ops, err := store.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("ListOperations() returned %d, want 2", len(ops))
	}
	if ops[0].Operation != "Delete" {
		t.Errorf("newest first: ops[0] = %q, want Delete", ops[0].Operation)
	}
	if ops[1].Status != "success" || ops[1].FinishedAt == nil {
		t.Errorf("finished op = %+v, want success with FinishedAt set", ops[1])
	}
}

func TestSQLiteStore_CurrentFileLatestWins(t *testing.T) {
	store := testutil.NewTestStore(t)
	now := time.Now()

	var colID int64
	err := store.Exclusive(func(tx nest.Tx) error {
		col, err := tx.InsertCollection(&model.Collection{
			Handle: "docs", Lft: 1, Rgt: 2, Status: model.CollectionActive,
		})
		if err != nil {
			return err
		}
		colID = col.ID

		v1, err := tx.InsertFile(&model.File{
			CollectionID: &col.ID, Handle: "f", ContentHash: "h1", Size: 1,
			Status: model.FileNormal, CreatedAt: now,
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertFile(&model.File{
			CollectionID: &col.ID, Handle: "f", ContentHash: "h2", Size: 2,
			Status: model.FileNormal, AncestorID: &v1.ID, CreatedAt: now,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seeding error = %v", err)
	}

	tip, err := store.CurrentFile(&colID, "f")
	if err != nil {
		t.Fatalf("CurrentFile() error = %v", err)
	}
	if tip.ContentHash != "h2" {
		t.Errorf("CurrentFile() hash = %q, want h2 (greatest id wins)", tip.ContentHash)
	}
}
