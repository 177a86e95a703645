package engine

import (
	"github.com/Dicklesworthstone/tabled/internal/value"
	"github.com/Dicklesworthstone/tabled/internal/wire"
)

// Scan evaluates a predicate over one table and returns the matching
// row ids in unspecified order.
//
// Column id 0 addresses the row id itself and is a distinct code path:
// the comparand must be Integer and only AL, EQ and NE apply. The
// ordered operators are also rejected on Foreign columns, where
// ordering is undefined.
func (db *Database) Scan(tableID, columnID int32, op wire.Operator, comparand value.Value) ([]int64, error) {
	t, err := db.lookupTable(tableID)
	if err != nil {
		return nil, err
	}

	if op == wire.OpAll {
		if columnID != 0 {
			return nil, ErrBadQuery
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		ids := make([]int64, 0, len(t.rows))
		for id := range t.rows {
			ids = append(ids, id)
		}
		return ids, nil
	}
	if !op.Valid() {
		return nil, ErrBadQuery
	}

	if columnID == 0 {
		return db.scanRowID(t, op, comparand)
	}

	if columnID < 0 || int(columnID) > len(t.meta.Columns) {
		return nil, ErrBadQuery
	}
	col := t.meta.Columns[columnID-1]
	if comparand.Kind != col.Type {
		return nil, ErrBadQuery
	}
	ordered := op == wire.OpLT || op == wire.OpGT || op == wire.OpLE || op == wire.OpGE
	if ordered && col.Type == value.KindForeign {
		return nil, ErrBadQuery
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []int64
	for id, stored := range t.rows {
		if matches(stored.values[columnID-1], op, comparand) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// scanRowID evaluates EQ/NE against the row id column. Ordered
// operators are undefined on row ids.
func (db *Database) scanRowID(t *table, op wire.Operator, comparand value.Value) ([]int64, error) {
	if comparand.Kind != value.KindInteger {
		return nil, ErrBadQuery
	}
	if op != wire.OpEQ && op != wire.OpNE {
		return nil, ErrBadQuery
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []int64
	for id := range t.rows {
		if (id == comparand.Int) == (op == wire.OpEQ) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// matches evaluates one predicate against one stored value. An
// unordered pair never matches an ordered operator; past validation
// this happens only on Null columns, since Foreign columns are rejected
// earlier.
func matches(stored value.Value, op wire.Operator, comparand value.Value) bool {
	switch op {
	case wire.OpEQ:
		return stored.Equal(comparand)
	case wire.OpNE:
		return !stored.Equal(comparand)
	case wire.OpLT, wire.OpGT, wire.OpLE, wire.OpGE:
		c, ok := stored.Compare(comparand)
		if !ok {
			return false
		}
		switch op {
		case wire.OpLT:
			return c < 0
		case wire.OpGT:
			return c > 0
		case wire.OpLE:
			return c <= 0
		default:
			return c >= 0
		}
	default:
		return false
	}
}
