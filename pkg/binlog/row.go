package binlog

import "slices"

// Column is one named value in a row snapshot. Value holds whatever the
// decoder produced: nil, integers, floats, strings, []byte, time.Time or a
// fmt.Stringer such as a decimal.
type Column struct {
	Name  string
	Value any
}

// Row is an ordered row snapshot.
type Row []Column

// Names returns the column names in order.
func (r Row) Names() []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = c.Name
	}
	return out
}

// Lookup returns the column with the given name.
func (r Row) Lookup(name string) (Column, bool) {
	for _, c := range r {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Named reports whether every column carries a name. Rows decoded without
// table metadata cannot be turned into SQL.
func (r Row) Named() bool {
	for _, c := range r {
		if c.Name == "" {
			return false
		}
	}
	return len(r) > 0
}

// NewRow zips names and values into a Row. Missing names are left empty.
func NewRow(names []string, values []any) Row {
	row := make(Row, len(values))
	for i, v := range values {
		row[i].Value = v
		if i < len(names) {
			row[i].Name = names[i]
		}
	}
	return row
}

// SchemaFilter restricts consumption to the listed schemas and tables.
// An empty list means "all".
type SchemaFilter struct {
	Schemas []string
	Tables  []string
}

// Match reports whether schema.table passes the filter.
func (f SchemaFilter) Match(schema, table string) bool {
	return f.MatchSchema(schema) && (len(f.Tables) == 0 || slices.Contains(f.Tables, table))
}

// MatchSchema reports whether the schema passes the filter.
func (f SchemaFilter) MatchSchema(schema string) bool {
	return len(f.Schemas) == 0 || slices.Contains(f.Schemas, schema)
}

// Complete reports whether both schema and table lists are set.
func (f SchemaFilter) Complete() bool { return len(f.Schemas) > 0 && len(f.Tables) > 0 }

// PrimaryKeyMap maps "schema.table" to its ordered primary-key columns.
type PrimaryKeyMap map[string][]string

// Lookup returns the primary key of schema.table, if known.
func (m PrimaryKeyMap) Lookup(schema, table string) []string {
	if m == nil {
		return nil
	}
	return m[TableKey(schema, table)]
}
