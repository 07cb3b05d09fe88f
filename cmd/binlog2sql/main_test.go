package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wilhg/binlog2sql/pkg/config"
	"github.com/wilhg/binlog2sql/pkg/engine"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
	"github.com/wilhg/binlog2sql/pkg/logging"
	"github.com/wilhg/binlog2sql/pkg/metrics"
	"github.com/wilhg/binlog2sql/pkg/spool"
)

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-version"}, &out, &errOut); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errOut.String())
	}
	if !strings.HasPrefix(out.String(), "binlog2sql dev") {
		t.Fatalf("version output %q", out.String())
	}
}

func TestRunConfigurationErrorExitCode(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-flashback"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("exit=%d want 2", code)
	}
	if out.Len() != 0 {
		t.Fatalf("nothing may reach stdout on configuration errors: %q", out.String())
	}
	if !strings.Contains(errOut.String(), "start-file") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-h"}, &out, &errOut); code != 0 {
		t.Fatalf("exit=%d", code)
	}
	if !strings.Contains(errOut.String(), "-stop-never") {
		t.Fatalf("usage missing flags: %s", errOut.String())
	}
}

func TestFinishExitCodes(t *testing.T) {
	canceled := errmodel.Stream("canceled", "run canceled", nil, context.Canceled)
	lost := errmodel.Stream("source_failed", "replication source failed", nil, nil)

	var errOut bytes.Buffer
	tail := config.Config{StopNever: true, LogFormat: "text"}
	if code := finish(tail, engine.Summary{}, canceled, logging.Discard(), &errOut); code != 0 {
		t.Fatalf("interrupted live tail exit=%d", code)
	}
	if code := finish(tail, engine.Summary{}, lost, logging.Discard(), &errOut); code != 1 {
		t.Fatalf("lost stream exit=%d", code)
	}
	bounded := config.Config{LogFormat: "text"}
	if code := finish(bounded, engine.Summary{}, canceled, logging.Discard(), &errOut); code != 1 {
		t.Fatalf("interrupted bounded run exit=%d", code)
	}
	if errOut.Len() != 0 {
		t.Fatalf("text failures go through the logger: %q", errOut.String())
	}

	js := config.Config{LogFormat: "json"}
	if code := finish(js, engine.Summary{}, lost, logging.Discard(), &errOut); code != 1 {
		t.Fatalf("json exit=%d", code)
	}
	if !strings.Contains(errOut.String(), `"code":"source_failed"`) {
		t.Fatalf("json envelope=%q", errOut.String())
	}
}

func TestMux(t *testing.T) {
	m := metrics.New()
	m.Event("consume")
	srv := httptest.NewServer(buildMux(m))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(res.Body)
	if !strings.Contains(body.String(), `binlog2sql_events_total{verdict="consume"} 1`) {
		t.Fatalf("metrics body: %s", body.String())
	}
}

func TestOpenStage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Config{Host: "127.0.0.1", Port: 3306, SpoolDir: dir}
	st, err := openStage(ctx, cfg, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Name() != filepath.Join(dir, "127.0.0.1.3306") {
		t.Fatalf("name=%s", st.Name())
	}
	_ = st.Remove(ctx)
	if _, err := os.Stat(st.Name()); !os.IsNotExist(err) {
		t.Fatalf("stage not removed: %v", err)
	}

	cfg.SpoolDSN = "sqlite:file:" + filepath.Join(dir, "spool.db")
	st, err = openStage(ctx, cfg, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*spool.SQLStage); !ok || st.Name() != "127.0.0.1.3306.run-2" {
		t.Fatalf("stage=%T %s", st, st.Name())
	}
	_ = st.Remove(ctx)
}
