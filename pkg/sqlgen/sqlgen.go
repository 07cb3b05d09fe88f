// Package sqlgen turns decoded row changes into forward or flashback SQL.
//
// Forward statements replay a change as it was issued; flashback statements
// undo it: INSERT becomes DELETE, DELETE becomes INSERT and UPDATE swaps its
// before and after images.
package sqlgen

import (
	"strings"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
)

// Reconstructor builds SQL text for decoded events. It is immutable and safe
// to share.
type Reconstructor struct {
	flashback bool
	pkOnly    bool
	noPK      bool
	quote     bool
	keys      binlog.PrimaryKeyMap
}

// Option configures the Reconstructor at construction time.
type Option func(*Reconstructor)

// WithFlashback generates inverse statements.
func WithFlashback(on bool) Option { return func(r *Reconstructor) { r.flashback = on } }

// WithPrimaryKeyWhere restricts WHERE clauses to the primary key when one is known.
func WithPrimaryKeyWhere(on bool) Option { return func(r *Reconstructor) { r.pkOnly = on } }

// WithoutPrimaryKeyInsert drops primary-key columns from generated INSERTs.
func WithoutPrimaryKeyInsert(on bool) Option { return func(r *Reconstructor) { r.noPK = on } }

// WithQuotedIdentifiers wraps schema, table and column names in backticks.
func WithQuotedIdentifiers(on bool) Option { return func(r *Reconstructor) { r.quote = on } }

// New constructs a Reconstructor. keys may be nil.
func New(keys binlog.PrimaryKeyMap, opts ...Option) *Reconstructor {
	r := &Reconstructor{keys: keys}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flashback reports whether inverse statements are generated.
func (r *Reconstructor) Flashback() bool { return r.flashback }

// Reconstruct returns the statements for one event, in order. Row events
// yield one statement per row; pass-through markers yield their text in
// forward mode only. Events with nothing to say yield nil.
func (r *Reconstructor) Reconstruct(ev binlog.Event) ([]string, error) {
	switch {
	case ev.Kind == binlog.KindMarker && ev.Marker != nil:
		return r.marker(ev.Marker), nil
	case ev.Kind == binlog.KindRows && ev.Rows != nil:
		return r.rows(ev)
	default:
		return nil, nil
	}
}

func (r *Reconstructor) marker(m *binlog.Marker) []string {
	text := strings.TrimSpace(m.Text)
	if r.flashback || m.Kind != binlog.MarkerOther || text == "" {
		return nil
	}
	if strings.EqualFold(text, "BEGIN") || strings.EqualFold(text, "COMMIT") {
		return nil
	}
	if m.Schema == "" {
		return []string{text}
	}
	return []string{"USE " + r.ident(m.Schema), text}
}

func (r *Reconstructor) rows(ev binlog.Event) ([]string, error) {
	rc := ev.Rows
	out := make([]string, 0, len(rc.Rows))
	for i, img := range rc.Rows {
		sql, err := r.Row(rc.Kind, rc.Schema, rc.Table, img)
		if err != nil {
			ce := errmodel.From(err)
			if ce.Context == nil {
				ce.Context = map[string]any{}
			}
			ce.Context["position"] = ev.Coordinate.String()
			ce.Context["row"] = i
			return nil, ce
		}
		out = append(out, sql)
	}
	return out, nil
}

// Row builds the statement for a single row image.
func (r *Reconstructor) Row(kind binlog.RowKind, schema, table string, img binlog.RowImage) (string, error) {
	var before, after binlog.Row
	switch kind {
	case binlog.Insert:
		after = img.After
		if err := named(schema, table, after); err != nil {
			return "", err
		}
	case binlog.Delete:
		before = img.Before
		if err := named(schema, table, before); err != nil {
			return "", err
		}
	case binlog.Update:
		before, after = img.Before, img.After
		if err := named(schema, table, before); err != nil {
			return "", err
		}
		if err := named(schema, table, after); err != nil {
			return "", err
		}
	default:
		return "", errmodel.Reconstruction("unsupported_row_kind", "unsupported row change", map[string]any{
			"schema": schema, "table": table, "kind": kind.String(),
		})
	}

	target := r.table(schema, table)
	keys := r.keys.Lookup(schema, table)
	switch {
	case kind == binlog.Insert && !r.flashback:
		return r.insert(target, after, keys), nil
	case kind == binlog.Insert:
		return r.delete(target, after, keys), nil
	case kind == binlog.Delete && !r.flashback:
		return r.delete(target, before, keys), nil
	case kind == binlog.Delete:
		return r.insert(target, before, keys), nil
	case !r.flashback:
		return r.update(target, after, before, keys), nil
	default:
		return r.update(target, before, after, keys), nil
	}
}

func (r *Reconstructor) insert(target string, row binlog.Row, keys []string) string {
	cols := row
	if r.noPK && len(keys) > 0 {
		cols = withoutColumns(row, keys)
		if len(cols) == 0 {
			cols = row
		}
	}
	names := make([]string, len(cols))
	values := make([]string, len(cols))
	for i, c := range cols {
		names[i] = r.ident(c.Name)
		values[i] = Literal(c.Value)
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(target)
	b.WriteString(" (")
	b.WriteString(strings.Join(names, ","))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(values, ","))
	b.WriteString(")")
	return b.String()
}

func (r *Reconstructor) delete(target string, where binlog.Row, keys []string) string {
	return "DELETE FROM " + target + " WHERE " + r.where(where, keys)
}

func (r *Reconstructor) update(target string, set, where binlog.Row, keys []string) string {
	assigns := make([]string, len(set))
	for i, c := range set {
		assigns[i] = r.ident(c.Name) + "=" + Literal(c.Value)
	}
	return "UPDATE " + target + " SET " + strings.Join(assigns, ",") + " WHERE " + r.where(where, keys)
}

// where renders equality on the primary key when restricted and resolvable,
// otherwise on every column of the row.
func (r *Reconstructor) where(row binlog.Row, keys []string) string {
	cols := row
	if r.pkOnly && len(keys) > 0 {
		if pk, ok := onlyColumns(row, keys); ok {
			cols = pk
		}
	}
	preds := make([]string, len(cols))
	for i, c := range cols {
		if c.Value == nil {
			preds[i] = r.ident(c.Name) + " IS NULL"
			continue
		}
		preds[i] = r.ident(c.Name) + "=" + Literal(c.Value)
	}
	return strings.Join(preds, " AND ")
}

func (r *Reconstructor) table(schema, table string) string {
	if schema == "" {
		return r.ident(table)
	}
	return r.ident(schema) + "." + r.ident(table)
}

func (r *Reconstructor) ident(name string) string {
	if !r.quote {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func named(schema, table string, row binlog.Row) error {
	if row.Named() {
		return nil
	}
	return errmodel.Reconstruction("unnamed_columns", "row cannot be mapped to column names", map[string]any{
		"schema": schema, "table": table, "columns": len(row),
	})
}

// onlyColumns picks the key columns from row, in key order. ok is false when
// any key column is missing from the snapshot.
func onlyColumns(row binlog.Row, keys []string) (binlog.Row, bool) {
	out := make(binlog.Row, 0, len(keys))
	for _, k := range keys {
		c, found := row.Lookup(k)
		if !found {
			return nil, false
		}
		out = append(out, c)
	}
	return out, true
}

func withoutColumns(row binlog.Row, keys []string) binlog.Row {
	out := make(binlog.Row, 0, len(row))
	for _, c := range row {
		skip := false
		for _, k := range keys {
			if c.Name == k {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, c)
		}
	}
	return out
}
