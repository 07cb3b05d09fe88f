//go:build integration

package spool

import (
	"context"
	"fmt"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestSQLStagePostgres(t *testing.T) {
	ctx := context.Background()
	pg, err := tcpostgres.RunContainer(ctx,
		tcpostgres.WithDatabase("binlog2sql"),
		tcpostgres.WithUsername("binlog2sql"),
		tcpostgres.WithPassword("binlog2sql"),
		tcpostgres.WithSQLDriver("pgx"),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	st, err := OpenSQL(ctx, dsn, "pg-run")
	if err != nil {
		t.Fatal(err)
	}
	sp := New(st)
	t.Cleanup(func() { _ = sp.Remove(ctx) })

	for i := 1; i <= 600; i++ {
		if err := sp.Append(ctx, fmt.Sprintf("DELETE FROM t WHERE id=%d;", i)); err != nil {
			t.Fatal(err)
		}
	}
	var out lines
	n, err := sp.ReplayReversed(ctx, &out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 600 || len(out) != 600 {
		t.Fatalf("n=%d lines=%d", n, len(out))
	}
	if out[0] != "DELETE FROM t WHERE id=600;" || out[599] != "DELETE FROM t WHERE id=1;" {
		t.Fatalf("order wrong: %q .. %q", out[0], out[599])
	}
}
