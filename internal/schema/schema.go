// Package schema holds the immutable table and column metadata the
// engine is constructed from. A schema is loaded once at startup from a
// TOML file and never changes afterward.
package schema

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/Dicklesworthstone/tabled/internal/value"
)

// Column describes one typed column of a table.
type Column struct {
	// Name is informational; operations address columns by 1-based id.
	Name string
	// Type is the declared variant every stored value must carry.
	Type value.Kind
	// Ref is the 1-based id of the referenced table when Type is
	// Foreign, and 0 otherwise.
	Ref int32
}

// Table describes one table: its name and ordered columns.
// Table ids are 1-based and assigned by declaration order.
type Table struct {
	Name    string
	Columns []Column
}

// fileSchema mirrors the TOML layout of a schema file.
type fileSchema struct {
	Tables []fileTable `toml:"table"`
}

type fileTable struct {
	Name    string       `toml:"name"`
	Columns []fileColumn `toml:"column"`
}

type fileColumn struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
	Ref  string `toml:"ref"`
}

// Load reads and parses the schema file at path.
func Load(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	tables, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing schema %s: %w", path, err)
	}
	return tables, nil
}

// Parse decodes a TOML schema document and resolves foreign column
// references to 1-based table ids. Tables may reference tables declared
// later in the file, and may reference themselves.
func Parse(data []byte) ([]Table, error) {
	var fs fileSchema
	if err := toml.Unmarshal(data, &fs); err != nil {
		return nil, err
	}
	if len(fs.Tables) == 0 {
		return nil, fmt.Errorf("schema declares no tables")
	}

	// Resolve table names first so forward references work.
	ids := make(map[string]int32, len(fs.Tables))
	for i, t := range fs.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("table %d has no name", i+1)
		}
		if _, ok := ids[t.Name]; ok {
			return nil, fmt.Errorf("duplicate table name %q", t.Name)
		}
		ids[t.Name] = int32(i + 1)
	}

	tables := make([]Table, 0, len(fs.Tables))
	for _, ft := range fs.Tables {
		if len(ft.Columns) == 0 {
			return nil, fmt.Errorf("table %q has no columns", ft.Name)
		}
		cols := make([]Column, 0, len(ft.Columns))
		for _, fc := range ft.Columns {
			kind, err := value.ParseKind(fc.Type)
			if err != nil {
				return nil, fmt.Errorf("table %q column %q: %w", ft.Name, fc.Name, err)
			}
			col := Column{Name: fc.Name, Type: kind}
			switch {
			case kind == value.KindForeign && fc.Ref == "":
				return nil, fmt.Errorf("table %q column %q: foreign column needs a ref", ft.Name, fc.Name)
			case kind != value.KindForeign && fc.Ref != "":
				return nil, fmt.Errorf("table %q column %q: ref is only valid on foreign columns", ft.Name, fc.Name)
			case kind == value.KindForeign:
				id, ok := ids[fc.Ref]
				if !ok {
					return nil, fmt.Errorf("table %q column %q: ref %q is not a declared table", ft.Name, fc.Name, fc.Ref)
				}
				col.Ref = id
			}
			cols = append(cols, col)
		}
		tables = append(tables, Table{Name: ft.Name, Columns: cols})
	}
	return tables, nil
}
