package engine

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/Dicklesworthstone/tabled/internal/schema"
	"github.com/Dicklesworthstone/tabled/internal/value"
)

// testDB builds a store over three tables: item(integer), link(foreign
// item), and node(text, float, foreign node) for self-reference cases.
func testDB() *Database {
	return New([]schema.Table{
		{Name: "item", Columns: []schema.Column{
			{Name: "n", Type: value.KindInteger},
		}},
		{Name: "link", Columns: []schema.Column{
			{Name: "item", Type: value.KindForeign, Ref: 1},
		}},
		{Name: "node", Columns: []schema.Column{
			{Name: "label", Type: value.KindText},
			{Name: "weight", Type: value.KindFloat},
			{Name: "next", Type: value.KindForeign, Ref: 3},
		}},
	})
}

const (
	tItem int32 = 1
	tLink int32 = 2
	tNode int32 = 3
)

func mustInsert(t *testing.T, db *Database, tableID int32, values ...value.Value) int64 {
	t.Helper()
	id, version, err := db.Insert(tableID, values)
	if err != nil {
		t.Fatalf("Insert(%d, %v): %v", tableID, values, err)
	}
	if version != 1 {
		t.Fatalf("Insert version = %d, want 1", version)
	}
	return id
}

func TestInsertGetRoundtrip(t *testing.T) {
	db := testDB()

	id := mustInsert(t, db, tItem, value.NewInt(42))
	if id != 1 {
		t.Errorf("first row id = %d, want 1", id)
	}

	version, values, err := db.Get(tItem, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
	if len(values) != 1 || !values[0].Equal(value.NewInt(42)) {
		t.Errorf("values = %v, want [42]", values)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	db := testDB()
	id := mustInsert(t, db, tItem, value.NewInt(1))

	_, values, err := db.Get(tItem, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	values[0] = value.NewInt(99)

	_, again, err := db.Get(tItem, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !again[0].Equal(value.NewInt(1)) {
		t.Errorf("stored row mutated through a Get result: %v", again)
	}
}

func TestInsertValidation(t *testing.T) {
	db := testDB()

	t.Run("bad table ids", func(t *testing.T) {
		for _, tableID := range []int32{0, -1, 4} {
			if _, _, err := db.Insert(tableID, []value.Value{value.NewInt(1)}); !errors.Is(err, ErrBadTable) {
				t.Errorf("Insert(table %d) = %v, want ErrBadTable", tableID, err)
			}
		}
	})

	t.Run("wrong arity", func(t *testing.T) {
		if _, _, err := db.Insert(tItem, nil); !errors.Is(err, ErrBadRow) {
			t.Errorf("empty row: %v, want ErrBadRow", err)
		}
		if _, _, err := db.Insert(tItem, []value.Value{value.NewInt(1), value.NewInt(2)}); !errors.Is(err, ErrBadRow) {
			t.Errorf("extra value: %v, want ErrBadRow", err)
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		if _, _, err := db.Insert(tItem, []value.Value{value.NewFloat(1)}); !errors.Is(err, ErrBadValue) {
			t.Errorf("float into integer: %v, want ErrBadValue", err)
		}
		if _, _, err := db.Insert(tItem, []value.Value{value.Null()}); !errors.Is(err, ErrBadValue) {
			t.Errorf("null into integer: %v, want ErrBadValue", err)
		}
	})

	t.Run("missing foreign target", func(t *testing.T) {
		if _, _, err := db.Insert(tLink, []value.Value{value.NewForeign(999)}); !errors.Is(err, ErrBadForeign) {
			t.Errorf("dangling reference: %v, want ErrBadForeign", err)
		}
	})

	t.Run("zero foreign is no reference", func(t *testing.T) {
		if _, _, err := db.Insert(tLink, []value.Value{value.NewForeign(0)}); err != nil {
			t.Errorf("Foreign(0): %v, want ok", err)
		}
	})
}

func TestUpdateVersions(t *testing.T) {
	db := testDB()
	id := mustInsert(t, db, tItem, value.NewInt(7))

	version, err := db.Update(tItem, id, 1, []value.Value{value.NewInt(8)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}

	// The stale version must be rejected.
	if _, err := db.Update(tItem, id, 1, []value.Value{value.NewInt(9)}); !errors.Is(err, ErrTxnAbort) {
		t.Errorf("stale update: %v, want ErrTxnAbort", err)
	}

	// Version 0 forces the update and resets the stored version to 1.
	version, err = db.Update(tItem, id, 0, []value.Value{value.NewInt(10)})
	if err != nil {
		t.Fatalf("forced Update: %v", err)
	}
	if version != 1 {
		t.Errorf("forced version = %d, want 1", version)
	}

	got, values, err := db.Get(tItem, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 1 || !values[0].Equal(value.NewInt(10)) {
		t.Errorf("Get = (%d, %v), want (1, [10])", got, values)
	}
}

func TestUpdateDoubleForce(t *testing.T) {
	db := testDB()
	id := mustInsert(t, db, tItem, value.NewInt(1))

	if _, err := db.Update(tItem, id, 1, []value.Value{value.NewInt(2)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := db.Update(tItem, id, 0, []value.Value{value.NewInt(5)}); err != nil {
			t.Fatalf("forced Update: %v", err)
		}
	}
	version, values, err := db.Get(tItem, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if version != 1 || !values[0].Equal(value.NewInt(5)) {
		t.Errorf("Get = (%d, %v), want (1, [5])", version, values)
	}
}

func TestUpdateErrors(t *testing.T) {
	db := testDB()

	if _, err := db.Update(9, 1, 0, []value.Value{value.NewInt(1)}); !errors.Is(err, ErrBadTable) {
		t.Errorf("bad table: %v", err)
	}
	if _, err := db.Update(tItem, 1, 0, []value.Value{value.NewInt(1)}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing row: %v, want ErrNotFound", err)
	}
	// Validation precedes existence: a malformed row fails BAD_ROW even
	// for a missing row id.
	if _, err := db.Update(tItem, 1, 0, nil); !errors.Is(err, ErrBadRow) {
		t.Errorf("malformed row: %v, want ErrBadRow", err)
	}
}

func TestRowIDsMonotonicAcrossTablesAndDrops(t *testing.T) {
	db := testDB()

	a := mustInsert(t, db, tItem, value.NewInt(1))
	b := mustInsert(t, db, tNode, value.NewText("x"), value.NewFloat(0), value.NewForeign(0))
	if err := db.Drop(tItem, a); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	c := mustInsert(t, db, tItem, value.NewInt(2))

	if !(a < b && b < c) {
		t.Errorf("ids not strictly increasing: %d %d %d", a, b, c)
	}
}

func TestDropCascade(t *testing.T) {
	t.Run("drop missing row", func(t *testing.T) {
		db := testDB()
		if err := db.Drop(tItem, 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("Drop missing = %v, want ErrNotFound", err)
		}
		if err := db.Drop(9, 1); !errors.Is(err, ErrBadTable) {
			t.Errorf("Drop bad table = %v, want ErrBadTable", err)
		}
	})

	t.Run("single link", func(t *testing.T) {
		db := testDB()
		item := mustInsert(t, db, tItem, value.NewInt(42))
		link := mustInsert(t, db, tLink, value.NewForeign(item))

		if err := db.Drop(tItem, item); err != nil {
			t.Fatalf("Drop: %v", err)
		}
		if _, _, err := db.Get(tItem, item); !errors.Is(err, ErrNotFound) {
			t.Errorf("item survived: %v", err)
		}
		if _, _, err := db.Get(tLink, link); !errors.Is(err, ErrNotFound) {
			t.Errorf("referencing row survived: %v", err)
		}
	})

	t.Run("chain", func(t *testing.T) {
		db := testDB()
		n1 := mustInsert(t, db, tNode, value.NewText("a"), value.NewFloat(0), value.NewForeign(0))
		n2 := mustInsert(t, db, tNode, value.NewText("b"), value.NewFloat(0), value.NewForeign(n1))
		n3 := mustInsert(t, db, tNode, value.NewText("c"), value.NewFloat(0), value.NewForeign(n2))

		if err := db.Drop(tNode, n1); err != nil {
			t.Fatalf("Drop: %v", err)
		}
		for _, id := range []int64{n1, n2, n3} {
			if _, _, err := db.Get(tNode, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("node %d survived cascade", id)
			}
		}
	})

	t.Run("cycle", func(t *testing.T) {
		db := testDB()
		n1 := mustInsert(t, db, tNode, value.NewText("a"), value.NewFloat(0), value.NewForeign(0))
		n2 := mustInsert(t, db, tNode, value.NewText("b"), value.NewFloat(0), value.NewForeign(n1))
		if _, err := db.Update(tNode, n1, 1, []value.Value{value.NewText("a"), value.NewFloat(0), value.NewForeign(n2)}); err != nil {
			t.Fatalf("closing cycle: %v", err)
		}

		if err := db.Drop(tNode, n1); err != nil {
			t.Fatalf("Drop: %v", err)
		}
		for _, id := range []int64{n1, n2} {
			if _, _, err := db.Get(tNode, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("node %d survived cyclic cascade", id)
			}
		}
	})

	t.Run("unreferenced rows survive", func(t *testing.T) {
		db := testDB()
		a := mustInsert(t, db, tItem, value.NewInt(1))
		b := mustInsert(t, db, tItem, value.NewInt(2))
		link := mustInsert(t, db, tLink, value.NewForeign(a))
		loose := mustInsert(t, db, tLink, value.NewForeign(0))

		if err := db.Drop(tItem, a); err != nil {
			t.Fatalf("Drop: %v", err)
		}
		if _, _, err := db.Get(tItem, b); err != nil {
			t.Errorf("unrelated row dropped: %v", err)
		}
		if _, _, err := db.Get(tLink, loose); err != nil {
			t.Errorf("Foreign(0) row dropped: %v", err)
		}
		if _, _, err := db.Get(tLink, link); !errors.Is(err, ErrNotFound) {
			t.Error("referencing row survived")
		}
	})

	t.Run("update retargets cascade", func(t *testing.T) {
		db := testDB()
		a := mustInsert(t, db, tItem, value.NewInt(1))
		b := mustInsert(t, db, tItem, value.NewInt(2))
		link := mustInsert(t, db, tLink, value.NewForeign(a))

		if _, err := db.Update(tLink, link, 1, []value.Value{value.NewForeign(b)}); err != nil {
			t.Fatalf("Update: %v", err)
		}

		// Dropping the old target must not cascade to the link.
		if err := db.Drop(tItem, a); err != nil {
			t.Fatalf("Drop: %v", err)
		}
		if _, _, err := db.Get(tLink, link); err != nil {
			t.Errorf("link dropped via stale reference: %v", err)
		}

		// Dropping the new target must.
		if err := db.Drop(tItem, b); err != nil {
			t.Fatalf("Drop: %v", err)
		}
		if _, _, err := db.Get(tLink, link); !errors.Is(err, ErrNotFound) {
			t.Error("link survived drop of its current target")
		}
	})
}

// checkBackrefs verifies that the reverse-reference index is an exact
// denormalization of the stored forward references.
func checkBackrefs(t *testing.T, db *Database) {
	t.Helper()

	want := make(map[int64]map[rowRef]struct{})
	for ti, tbl := range db.tables {
		tbl.mu.Lock()
		for id, stored := range tbl.rows {
			for target := range referencedRows(stored.values) {
				set, ok := want[target]
				if !ok {
					set = make(map[rowRef]struct{})
					want[target] = set
				}
				set[rowRef{table: int32(ti + 1), row: id}] = struct{}{}
			}
		}
		tbl.mu.Unlock()
	}

	db.refMu.Lock()
	defer db.refMu.Unlock()
	if len(db.backrefs) != len(want) {
		t.Fatalf("index has %d entries, want %d", len(db.backrefs), len(want))
	}
	for target, refs := range want {
		got := db.backrefs[target]
		if len(got) != len(refs) {
			t.Fatalf("entry %d has %d refs, want %d", target, len(got), len(refs))
		}
		for ref := range refs {
			if _, ok := got[ref]; !ok {
				t.Fatalf("entry %d missing ref %+v", target, ref)
			}
		}
	}
}

func TestBackrefIndexStaysExact(t *testing.T) {
	db := testDB()
	rng := rand.New(rand.NewSource(1))

	live := make([]int64, 0, 128)
	for i := 0; i < 500; i++ {
		switch op := rng.Intn(10); {
		case op < 4: // insert a node, maybe referencing a live row
			target := int64(0)
			if len(live) > 0 && rng.Intn(2) == 0 {
				target = live[rng.Intn(len(live))]
			}
			id, _, err := db.Insert(tNode, []value.Value{
				value.NewText("n"), value.NewFloat(float64(i)), value.NewForeign(target),
			})
			if err != nil {
				if target != 0 && errors.Is(err, ErrBadForeign) {
					// The chosen target was dropped in a cascade.
					continue
				}
				t.Fatalf("Insert: %v", err)
			}
			live = append(live, id)
		case op < 7: // force-update a row to a new target
			if len(live) == 0 {
				continue
			}
			id := live[rng.Intn(len(live))]
			target := int64(0)
			if rng.Intn(2) == 0 {
				target = live[rng.Intn(len(live))]
			}
			_, err := db.Update(tNode, id, 0, []value.Value{
				value.NewText("u"), value.NewFloat(0), value.NewForeign(target),
			})
			if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrBadForeign) {
				t.Fatalf("Update: %v", err)
			}
		default: // drop
			if len(live) == 0 {
				continue
			}
			id := live[rng.Intn(len(live))]
			if err := db.Drop(tNode, id); err != nil && !errors.Is(err, ErrNotFound) {
				t.Fatalf("Drop: %v", err)
			}
		}
		checkBackrefs(t, db)
	}
}

func TestConcurrentInsertsAllocateDistinctIDs(t *testing.T) {
	db := testDB()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	ids := make([][]int64, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, _, err := db.Insert(tItem, []value.Value{value.NewInt(int64(i))})
				if err != nil {
					t.Errorf("Insert: %v", err)
					return
				}
				ids[w] = append(ids[w], id)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, worker := range ids {
		for _, id := range worker {
			if seen[id] {
				t.Fatalf("row id %d allocated twice", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("allocated %d ids, want %d", len(seen), workers*perWorker)
	}
}
