// Package engine implements the data engine: the typed row store, its
// locking model, schema and foreign-reference validation, optimistic
// updates, cascading drop with its reverse-reference index, and the
// scan evaluator.
//
// Every operation either commits fully or returns an error with no
// observable state change. The one carve-out is cascading drop: once
// the seed row is found, the transitive removal is best-effort complete
// and cascaded misses are silent.
package engine

import (
	"errors"
	"sync"

	"github.com/Dicklesworthstone/tabled/internal/schema"
	"github.com/Dicklesworthstone/tabled/internal/value"
	"github.com/Dicklesworthstone/tabled/internal/wire"
)

// Operation errors. The dispatcher maps them onto wire codes; callers
// using the typed API match them with errors.Is.
var (
	ErrBadTable   = errors.New("no such table")
	ErrBadRow     = errors.New("row does not match the table column count")
	ErrBadValue   = errors.New("value type does not match the column type")
	ErrBadForeign = errors.New("foreign reference targets a missing row")
	ErrBadQuery   = errors.New("invalid scan")
	ErrNotFound   = errors.New("row not found")
	ErrTxnAbort   = errors.New("version mismatch")
)

// row is one stored record: its version and its column values.
type row struct {
	version int64
	values  []value.Value
}

// table pairs immutable metadata with the mutable row map and its lock.
type table struct {
	meta schema.Table
	mu   sync.Mutex
	rows map[int64]row
}

// rowRef addresses one row globally.
type rowRef struct {
	table int32
	row   int64
}

// Database is the in-memory store. All state is shared by reference
// across connection handlers; the zero value is not usable, construct
// with New.
//
// Lock order: id allocator, then reverse-reference index, then table
// row maps. The allocator lock is never held across another
// acquisition. Cascading drop holds refMu for the whole traversal and
// takes table locks one step at a time.
type Database struct {
	tables []*table

	idMu   sync.Mutex
	nextID int64

	// backrefs maps a referenced row id to the set of rows currently
	// holding a non-zero Foreign reference to it. It is an exact
	// denormalization of the stored forward references.
	refMu    sync.Mutex
	backrefs map[int64]map[rowRef]struct{}
}

// New constructs a database over the loaded schema. Row ids start at 1;
// id 0 is reserved as the "no reference" sentinel.
func New(tables []schema.Table) *Database {
	db := &Database{
		tables:   make([]*table, 0, len(tables)),
		nextID:   1,
		backrefs: make(map[int64]map[rowRef]struct{}),
	}
	for _, t := range tables {
		db.tables = append(db.tables, &table{meta: t, rows: make(map[int64]row)})
	}
	return db
}

// lookupTable resolves a 1-based table id.
func (db *Database) lookupTable(tableID int32) (*table, error) {
	if tableID < 1 || int(tableID) > len(db.tables) {
		return nil, ErrBadTable
	}
	return db.tables[tableID-1], nil
}

// Insert validates values against the table schema and stores them
// under a freshly allocated row id with version 1.
func (db *Database) Insert(tableID int32, values []value.Value) (rowID, version int64, err error) {
	t, err := db.lookupTable(tableID)
	if err != nil {
		return 0, 0, err
	}
	if err := db.validateValues(t.meta.Columns, values); err != nil {
		return 0, 0, err
	}

	db.idMu.Lock()
	rowID = db.nextID
	db.nextID++
	db.idMu.Unlock()

	// The row is stored before refMu is released, so a concurrent Drop
	// never finds the new index entry without its row.
	targets := referencedRows(values)
	db.refMu.Lock()
	db.addBackrefs(targets, rowRef{table: tableID, row: rowID})
	t.mu.Lock()
	t.rows[rowID] = row{version: 1, values: cloneValues(values)}
	t.mu.Unlock()
	db.refMu.Unlock()

	return rowID, 1, nil
}

// Update replaces a row's values under the optimistic version
// protocol. A clientVersion of 0 forces the update; the stored version
// becomes clientVersion+1 either way, so a forced update resets the row
// to version 1.
func (db *Database) Update(tableID int32, rowID, clientVersion int64, values []value.Value) (int64, error) {
	t, err := db.lookupTable(tableID)
	if err != nil {
		return 0, err
	}
	if err := db.validateValues(t.meta.Columns, values); err != nil {
		return 0, err
	}

	db.refMu.Lock()
	defer db.refMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	stored, ok := t.rows[rowID]
	if !ok {
		return 0, ErrNotFound
	}
	if clientVersion != 0 && clientVersion != stored.version {
		return 0, ErrTxnAbort
	}

	ref := rowRef{table: tableID, row: rowID}
	db.removeBackrefs(referencedRows(stored.values), ref)
	db.addBackrefs(referencedRows(values), ref)

	newVersion := clientVersion + 1
	t.rows[rowID] = row{version: newVersion, values: cloneValues(values)}
	return newVersion, nil
}

// Get returns a row's version and a snapshot of its values.
func (db *Database) Get(tableID int32, rowID int64) (int64, []value.Value, error) {
	t, err := db.lookupTable(tableID)
	if err != nil {
		return 0, nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored, ok := t.rows[rowID]
	if !ok {
		return 0, nil, ErrNotFound
	}
	return stored.version, cloneValues(stored.values), nil
}

// Drop removes a row and, transitively, every row holding a non-zero
// foreign reference to a removed row. ErrNotFound is returned only when
// the seed row does not exist; rows already removed along another
// cascade path are skipped silently. Cycles terminate because a removed
// row contributes no further work.
func (db *Database) Drop(tableID int32, rowID int64) error {
	if _, err := db.lookupTable(tableID); err != nil {
		return err
	}

	db.refMu.Lock()
	defer db.refMu.Unlock()

	seeded := false
	work := []rowRef{{table: tableID, row: rowID}}
	for len(work) > 0 {
		ref := work[len(work)-1]
		work = work[:len(work)-1]

		t, err := db.lookupTable(ref.table)
		if err != nil {
			continue
		}

		t.mu.Lock()
		removed, ok := t.rows[ref.row]
		if ok {
			delete(t.rows, ref.row)
		}
		t.mu.Unlock()

		if !ok {
			if !seeded {
				return ErrNotFound
			}
			continue
		}
		seeded = true

		// Scrub the removed row's own outgoing references so the index
		// stays an exact denormalization.
		db.removeBackrefs(referencedRows(removed.values), ref)

		for referencing := range db.backrefs[ref.row] {
			work = append(work, referencing)
		}
		delete(db.backrefs, ref.row)
	}
	return nil
}

// addBackrefs records ref under every target id. Caller holds refMu.
func (db *Database) addBackrefs(targets map[int64]struct{}, ref rowRef) {
	for target := range targets {
		set, ok := db.backrefs[target]
		if !ok {
			set = make(map[rowRef]struct{})
			db.backrefs[target] = set
		}
		set[ref] = struct{}{}
	}
}

// removeBackrefs removes ref from every target id's entry, deleting
// entries that become empty. Caller holds refMu.
func (db *Database) removeBackrefs(targets map[int64]struct{}, ref rowRef) {
	for target := range targets {
		set, ok := db.backrefs[target]
		if !ok {
			continue
		}
		delete(set, ref)
		if len(set) == 0 {
			delete(db.backrefs, target)
		}
	}
}

// validateValues checks a value sequence against the column metadata:
// length, per-position variant, and existence of every non-zero foreign
// target in its referenced table.
func (db *Database) validateValues(cols []schema.Column, values []value.Value) error {
	if len(values) != len(cols) {
		return ErrBadRow
	}
	for i, v := range values {
		if v.Kind != cols[i].Type {
			return ErrBadValue
		}
		if v.Kind != value.KindForeign || v.Int == 0 {
			continue
		}
		target, err := db.lookupTable(cols[i].Ref)
		if err != nil {
			return ErrBadForeign
		}
		target.mu.Lock()
		_, exists := target.rows[v.Int]
		target.mu.Unlock()
		if !exists {
			return ErrBadForeign
		}
	}
	return nil
}

// referencedRows collects the distinct non-zero foreign targets held in
// a value sequence. Foreign(0) never appears: it is the "no reference"
// sentinel.
func referencedRows(values []value.Value) map[int64]struct{} {
	var targets map[int64]struct{}
	for _, v := range values {
		if v.Kind != value.KindForeign || v.Int == 0 {
			continue
		}
		if targets == nil {
			targets = make(map[int64]struct{})
		}
		targets[v.Int] = struct{}{}
	}
	return targets
}

func cloneValues(values []value.Value) []value.Value {
	out := make([]value.Value, len(values))
	copy(out, values)
	return out
}

// Handle is the dispatcher: it routes one decoded request to its
// operation and converts the outcome to a response record. Exit never
// reaches the engine; if it does, the answer is UNIMPLEMENTED.
func (db *Database) Handle(req wire.Request) wire.Response {
	switch req.Command {
	case wire.CmdInsert:
		rowID, version, err := db.Insert(req.TableID, req.Values)
		if err != nil {
			return wire.ErrorResponse(codeFor(err))
		}
		return wire.InsertResponse(rowID, version)
	case wire.CmdUpdate:
		version, err := db.Update(req.TableID, req.RowID, req.Version, req.Values)
		if err != nil {
			return wire.ErrorResponse(codeFor(err))
		}
		return wire.UpdateResponse(version)
	case wire.CmdDrop:
		if err := db.Drop(req.TableID, req.RowID); err != nil {
			return wire.ErrorResponse(codeFor(err))
		}
		return wire.DropResponse()
	case wire.CmdGet:
		version, values, err := db.Get(req.TableID, req.RowID)
		if err != nil {
			return wire.ErrorResponse(codeFor(err))
		}
		return wire.GetResponse(version, values)
	case wire.CmdScan:
		rowIDs, err := db.Scan(req.TableID, req.ColumnID, req.Operator, req.Comparand)
		if err != nil {
			return wire.ErrorResponse(codeFor(err))
		}
		return wire.ScanResponse(rowIDs)
	default:
		return wire.ErrorResponse(wire.Unimplemented)
	}
}

// codeFor maps an engine error to its wire code.
func codeFor(err error) wire.Code {
	switch {
	case errors.Is(err, ErrBadTable):
		return wire.BadTable
	case errors.Is(err, ErrBadRow):
		return wire.BadRow
	case errors.Is(err, ErrBadValue):
		return wire.BadValue
	case errors.Is(err, ErrBadForeign):
		return wire.BadForeign
	case errors.Is(err, ErrBadQuery):
		return wire.BadQuery
	case errors.Is(err, ErrNotFound):
		return wire.NotFound
	case errors.Is(err, ErrTxnAbort):
		return wire.TxnAbort
	default:
		return wire.BadRequest
	}
}
