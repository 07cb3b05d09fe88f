package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Event("consume")
	m.Event("consume")
	m.Event("skip")
	m.Statement("INSERT")
	m.ReconstructionError()
	m.Position(1234)

	if got := testutil.ToFloat64(m.events.WithLabelValues("consume")); got != 2 {
		t.Fatalf("consume=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.lastPosition); got != 1234 {
		t.Fatalf("position=%v", got)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	for _, want := range []string{
		`binlog2sql_events_total{verdict="skip"} 1`,
		`binlog2sql_statements_total{kind="INSERT"} 1`,
		`binlog2sql_reconstruction_errors_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Event("stop")
	m.Statement("DELETE")
	m.ReconstructionError()
	m.Position(4)
}
