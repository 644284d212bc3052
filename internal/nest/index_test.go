package nest_test

import (
	"testing"

	"nestfs/internal/model"
	"nestfs/internal/nest"
	"nestfs/internal/testutil"
)

func newTestIndex(t *testing.T) (*nest.Index, nest.Store) {
	t.Helper()
	store := testutil.NewTestStore(t)
	return nest.NewIndex(store, nest.NewNopLogger()), store
}

func TestIndex_CreatePath(t *testing.T) {
	t.Run("creates a chain of nested collections", func(t *testing.T) {
		ix, _ := newTestIndex(t)

		leaf, err := ix.CreatePath(nil, "a/b/c")
		if err != nil {
			t.Fatalf("CreatePath() error = %v", err)
		}
		if leaf.Handle != "c" {
			t.Errorf("leaf handle = %q, want %q", leaf.Handle, "c")
		}

		a, err := ix.ResolvePath("a")
		if err != nil {
			t.Fatalf("ResolvePath(a) error = %v", err)
		}
		b, err := ix.ResolvePath("a/b")
		if err != nil {
			t.Fatalf("ResolvePath(a/b) error = %v", err)
		}
		if !a.Contains(b) {
			t.Errorf("a [%d,%d] does not contain b [%d,%d]", a.Lft, a.Rgt, b.Lft, b.Rgt)
		}
		if !b.Contains(leaf) {
			t.Errorf("b [%d,%d] does not contain c [%d,%d]", b.Lft, b.Rgt, leaf.Lft, leaf.Rgt)
		}
		if a.Lft != 1 || a.Rgt != 6 {
			t.Errorf("a interval = [%d,%d], want [1,6]", a.Lft, a.Rgt)
		}
	})

	t.Run("is idempotent for an existing path", func(t *testing.T) {
		ix, _ := newTestIndex(t)

		first, err := ix.CreatePath(nil, "a/b")
		if err != nil {
			t.Fatalf("first CreatePath() error = %v", err)
		}
		second, err := ix.CreatePath(nil, "a/b")
		if err != nil {
			t.Fatalf("second CreatePath() error = %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("second CreatePath created a new row: id %d != %d", second.ID, first.ID)
		}
	})

	t.Run("keeps sibling intervals disjoint", func(t *testing.T) {
		ix, _ := newTestIndex(t)

		if _, err := ix.CreatePath(nil, "root/x"); err != nil {
			t.Fatalf("CreatePath(root/x) error = %v", err)
		}
		if _, err := ix.CreatePath(nil, "root/y"); err != nil {
			t.Fatalf("CreatePath(root/y) error = %v", err)
		}

		root, _ := ix.ResolvePath("root")
		x, _ := ix.ResolvePath("root/x")
		y, _ := ix.ResolvePath("root/y")

		if !root.Contains(x) || !root.Contains(y) {
			t.Fatalf("root [%d,%d] must contain x [%d,%d] and y [%d,%d]",
				root.Lft, root.Rgt, x.Lft, x.Rgt, y.Lft, y.Rgt)
		}
		if !(x.Rgt < y.Lft || y.Rgt < x.Lft) {
			t.Errorf("siblings overlap: x [%d,%d], y [%d,%d]", x.Lft, x.Rgt, y.Lft, y.Rgt)
		}
		if root.Size() != 3 {
			t.Errorf("root subtree size = %d, want 3", root.Size())
		}
	})

	t.Run("creates independent root subtrees past the frontier", func(t *testing.T) {
		ix, _ := newTestIndex(t)

		if _, err := ix.CreatePath(nil, "first"); err != nil {
			t.Fatalf("CreatePath(first) error = %v", err)
		}
		second, err := ix.CreatePath(nil, "second")
		if err != nil {
			t.Fatalf("CreatePath(second) error = %v", err)
		}

		first, _ := ix.ResolvePath("first")
		if second.Lft <= first.Rgt {
			t.Errorf("second root [%d,%d] overlaps first [%d,%d]",
				second.Lft, second.Rgt, first.Lft, first.Rgt)
		}
	})

	t.Run("reactivates a tombstoned prefix", func(t *testing.T) {
		ix, _ := newTestIndex(t)

		orig, err := ix.CreatePath(nil, "a/b")
		if err != nil {
			t.Fatalf("CreatePath() error = %v", err)
		}
		a, _ := ix.ResolvePath("a")
		if _, err := ix.Deactivate(a); err != nil {
			t.Fatalf("Deactivate() error = %v", err)
		}

		if got, _ := ix.ResolvePath("a/b"); got != nil {
			t.Fatal("deactivated path still resolves")
		}

		revived, err := ix.CreatePath(nil, "a/b")
		if err != nil {
			t.Fatalf("CreatePath() after deactivate error = %v", err)
		}
		if revived.ID != orig.ID {
			t.Errorf("reactivation created a new row: id %d != %d", revived.ID, orig.ID)
		}
		if revived.Status != model.CollectionActive {
			t.Errorf("revived status = %q, want active", revived.Status)
		}
	})

	t.Run("reactivating a prefix leaves siblings tombstoned", func(t *testing.T) {
		ix, _ := newTestIndex(t)

		if _, err := ix.CreatePath(nil, "a/b"); err != nil {
			t.Fatalf("CreatePath(a/b) error = %v", err)
		}
		if _, err := ix.CreatePath(nil, "a/c"); err != nil {
			t.Fatalf("CreatePath(a/c) error = %v", err)
		}
		a, _ := ix.ResolvePath("a")
		if _, err := ix.Deactivate(a); err != nil {
			t.Fatalf("Deactivate() error = %v", err)
		}

		if _, err := ix.CreatePath(nil, "a/b"); err != nil {
			t.Fatalf("CreatePath() after deactivate error = %v", err)
		}

		if got, _ := ix.ResolvePath("a/c"); got != nil {
			t.Error("untouched sibling came back to life")
		}
	})
}

func TestIndex_ResolvePath(t *testing.T) {
	ix, _ := newTestIndex(t)

	if _, err := ix.CreatePath(nil, "a/b"); err != nil {
		t.Fatalf("CreatePath() error = %v", err)
	}

	t.Run("misses return nil without error", func(t *testing.T) {
		got, err := ix.ResolvePath("a/missing")
		if err != nil {
			t.Fatalf("ResolvePath() error = %v", err)
		}
		if got != nil {
			t.Errorf("ResolvePath(a/missing) = %+v, want nil", got)
		}
	})

	t.Run("empty path resolves to the root scope", func(t *testing.T) {
		got, err := ix.ResolvePath("")
		if err != nil {
			t.Fatalf("ResolvePath() error = %v", err)
		}
		if got != nil {
			t.Errorf("ResolvePath(\"\") = %+v, want nil (root scope)", got)
		}
	})
}

func TestIndex_Deactivate(t *testing.T) {
	ix, _ := newTestIndex(t)

	if _, err := ix.CreatePath(nil, "a/b/c"); err != nil {
		t.Fatalf("CreatePath() error = %v", err)
	}
	b, _ := ix.ResolvePath("a/b")

	n, err := ix.Deactivate(b)
	if err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Deactivate() touched %d rows, want 2", n)
	}

	if got, _ := ix.ResolvePath("a"); got == nil {
		t.Error("parent of deactivated subtree stopped resolving")
	}
	if got, _ := ix.ResolvePath("a/b"); got != nil {
		t.Error("deactivated collection still resolves")
	}
	if got, _ := ix.ResolvePath("a/b/c"); got != nil {
		t.Error("descendant of deactivated collection still resolves")
	}
}

func TestIndex_Deactivate_StaleEdges(t *testing.T) {
	ix, _ := newTestIndex(t)

	if _, err := ix.CreatePath(nil, "a/b"); err != nil {
		t.Fatalf("CreatePath(a/b) error = %v", err)
	}
	if _, err := ix.CreatePath(nil, "z"); err != nil {
		t.Fatalf("CreatePath(z) error = %v", err)
	}
	stale, _ := ix.ResolvePath("z")

	// Shift z's interval after the caller resolved it.
	if _, err := ix.CreatePath(nil, "a/c"); err != nil {
		t.Fatalf("CreatePath(a/c) error = %v", err)
	}

	n, err := ix.Deactivate(stale)
	if err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Deactivate() touched %d rows, want 1", n)
	}

	if got, _ := ix.ResolvePath("z"); got != nil {
		t.Error("deactivated collection still resolves")
	}
	if got, _ := ix.ResolvePath("a/c"); got == nil {
		t.Error("unrelated collection was deactivated")
	}
}
