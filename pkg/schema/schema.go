// Package schema looks up table metadata the binary log does not carry:
// primary-key columns for PK-only WHERE clauses and column names for row
// events decoded without full row metadata.
package schema

import (
	"context"
	"strings"
	"sync"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
)

// Querier runs a read-only query and returns every row as strings.
type Querier interface {
	QueryStrings(ctx context.Context, query string, args ...any) ([][]string, error)
}

const primaryKeyQuery = `SELECT TABLE_SCHEMA, TABLE_NAME, COLUMN_NAME
FROM information_schema.KEY_COLUMN_USAGE
WHERE CONSTRAINT_NAME = 'PRIMARY' AND TABLE_SCHEMA IN (%s) AND TABLE_NAME IN (%s)
ORDER BY TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION`

const columnsQuery = `SELECT COLUMN_NAME
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

// Resolver answers metadata questions through a Querier.
type Resolver struct {
	q Querier

	mu      sync.Mutex
	columns map[string][]string
}

// NewResolver wraps q.
func NewResolver(q Querier) *Resolver {
	return &Resolver{q: q, columns: make(map[string][]string)}
}

// PrimaryKeys returns the ordered primary-key columns of every listed table
// that has one. Tables without a primary key are absent from the map.
func (r *Resolver) PrimaryKeys(ctx context.Context, schemas, tables []string) (binlog.PrimaryKeyMap, error) {
	out := binlog.PrimaryKeyMap{}
	if len(schemas) == 0 || len(tables) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(schemas)+len(tables))
	for _, s := range schemas {
		args = append(args, s)
	}
	for _, t := range tables {
		args = append(args, t)
	}
	query := strings.Replace(primaryKeyQuery, "%s", placeholders(len(schemas)), 1)
	query = strings.Replace(query, "%s", placeholders(len(tables)), 1)

	rows, err := r.q.QueryStrings(ctx, query, args...)
	if err != nil {
		return nil, errmodel.System("primary_key_lookup", "resolve primary keys", map[string]any{
			"schemas": schemas,
			"tables":  tables,
		}, err)
	}
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		key := binlog.TableKey(row[0], row[1])
		out[key] = append(out[key], row[2])
	}
	return out, nil
}

// Columns returns the ordered column names of schema.table. Results are
// cached for the lifetime of the Resolver; an empty table definition is
// reported as a ReconstructionError and not cached.
func (r *Resolver) Columns(ctx context.Context, schema, table string) ([]string, error) {
	key := binlog.TableKey(schema, table)
	r.mu.Lock()
	cols, ok := r.columns[key]
	r.mu.Unlock()
	if ok {
		return cols, nil
	}

	rows, err := r.q.QueryStrings(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, errmodel.System("column_lookup", "resolve column names", map[string]any{"table": key}, err)
	}
	cols = make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			cols = append(cols, row[0])
		}
	}
	if len(cols) == 0 {
		return nil, errmodel.Reconstruction("unknown_table", "no column metadata for table", map[string]any{"table": key})
	}

	r.mu.Lock()
	r.columns[key] = cols
	r.mu.Unlock()
	return cols, nil
}

// Forget drops the cached columns of schema.table, e.g. after an ALTER TABLE.
func (r *Resolver) Forget(schema, table string) {
	r.mu.Lock()
	delete(r.columns, binlog.TableKey(schema, table))
	r.mu.Unlock()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
