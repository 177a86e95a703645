// Package value implements the tagged value model shared by the schema,
// the row store, the query evaluator, and the wire codec.
package value

import (
	"fmt"
	"strconv"
)

// Kind identifies the variant of a Value. The numeric identities are
// fixed by the wire protocol and must not be reordered.
type Kind int32

const (
	// KindNull is the empty variant.
	KindNull Kind = 0
	// KindInteger is a 64-bit signed integer.
	KindInteger Kind = 1
	// KindFloat is a 64-bit IEEE-754 float.
	KindFloat Kind = 2
	// KindText is a UTF-8 byte sequence.
	KindText Kind = 3
	// KindForeign is a 64-bit row id referencing a row in another table.
	// The id 0 means "no reference".
	KindForeign Kind = 4
)

// Valid returns true if k is one of the five declared variants.
func (k Kind) Valid() bool {
	switch k {
	case KindNull, KindInteger, KindFloat, KindText, KindForeign:
		return true
	default:
		return false
	}
}

// String returns the schema-file spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindForeign:
		return "foreign"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// ParseKind converts a schema-file type name to a Kind.
// "string" is accepted as an alias for "text".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "null":
		return KindNull, nil
	case "integer", "int":
		return KindInteger, nil
	case "float":
		return KindFloat, nil
	case "text", "string":
		return KindText, nil
	case "foreign":
		return KindForeign, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", s)
	}
}

// Value is a tagged sum over the five variants. Exactly one payload
// field is meaningful, selected by Kind: Int for Integer and Foreign,
// Real for Float, Str for Text, and none for Null.
type Value struct {
	Kind Kind
	Int  int64
	Real float64
	Str  string
}

// Null returns the Null value.
func Null() Value {
	return Value{Kind: KindNull}
}

// NewInt returns an Integer value.
func NewInt(v int64) Value {
	return Value{Kind: KindInteger, Int: v}
}

// NewFloat returns a Float value.
func NewFloat(v float64) Value {
	return Value{Kind: KindFloat, Real: v}
}

// NewText returns a Text value.
func NewText(s string) Value {
	return Value{Kind: KindText, Str: s}
}

// NewForeign returns a Foreign value referencing the given row id.
// An id of 0 denotes "no reference".
func NewForeign(rowID int64) Value {
	return Value{Kind: KindForeign, Int: rowID}
}

// Equal reports whether v and o are the same variant with equal
// payloads. Text equality is byte-exact; Null equals only Null.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInteger, KindForeign:
		return v.Int == o.Int
	case KindFloat:
		return v.Real == o.Real
	case KindText:
		return v.Str == o.Str
	default:
		return false
	}
}

// Compare orders v against o within a single numeric or text variant.
// It returns -1, 0, or 1 and true when the pair is ordered, and 0 and
// false when it is not (different kinds, Null, or Foreign).
func (v Value) Compare(o Value) (int, bool) {
	if v.Kind != o.Kind {
		return 0, false
	}
	switch v.Kind {
	case KindInteger:
		return cmp(v.Int, o.Int), true
	case KindFloat:
		return cmp(v.Real, o.Real), true
	case KindText:
		return cmp(v.Str, o.Str), true
	default:
		return 0, false
	}
}

func cmp[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// String renders the value in the shell's literal notation. A Float
// with a whole value prints without a fraction (1, not 1.0), and the
// shell reads that text back as an Integer.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.Str)
	case KindForeign:
		return "@" + strconv.FormatInt(v.Int, 10)
	default:
		return fmt.Sprintf("value(kind=%d)", int32(v.Kind))
	}
}
