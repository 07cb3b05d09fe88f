package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
	"github.com/wilhg/binlog2sql/pkg/window"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("binlog2sql", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(newFlagSet(), []string{"-start-file", "mysql-bin.000002"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 3306 {
		t.Fatalf("unexpected connection defaults: %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.SleepInterval != 1000 || cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	w := cfg.Window()
	if w.Start != (binlog.Coordinate{File: "mysql-bin.000002", Pos: 4}) || w.End.File != "mysql-bin.000002" || w.End.Pos != 0 {
		t.Fatalf("window=%+v", w)
	}
	if !w.StartTime.Equal(window.DefaultStartTime) || !w.StopTime.Equal(window.DefaultStopTime) {
		t.Fatalf("time range=%v..%v", w.StartTime, w.StopTime)
	}
	if cfg.NeedPrimaryKeys() {
		t.Fatal("primary keys are not needed without -only-pk")
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("BINLOG2SQL_HOST", "db.internal")
	t.Setenv("BINLOG2SQL_PORT", "3307")
	t.Setenv("BINLOG2SQL_DATABASES", "test,sys")

	cfg, err := ParseConfig(newFlagSet(), []string{
		"-port", "3310",
		"-tables", "t_city, t",
		"-start-file", "mysql-bin.000002",
		"-start-position", "120",
		"-stop-position", "9999",
		"-start-datetime", "2026-01-02 03:04:05",
		"-only-pk",
		"-flashback",
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Host != "db.internal" || cfg.Port != 3310 {
		t.Fatalf("host/port=%s:%d", cfg.Host, cfg.Port)
	}
	f := cfg.Filter()
	if len(f.Schemas) != 2 || f.Schemas[1] != "sys" || len(f.Tables) != 2 || f.Tables[1] != "t" {
		t.Fatalf("filter=%+v", f)
	}
	if !cfg.NeedPrimaryKeys() {
		t.Fatal("expected primary keys to be needed")
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	if !cfg.StartTime.Equal(want) {
		t.Fatalf("start time=%v", cfg.StartTime)
	}
	if w := cfg.Window(); w.Start.Pos != 120 || w.End.Pos != 9999 {
		t.Fatalf("window=%+v", w)
	}
}

func TestParseConfigErrors(t *testing.T) {
	cases := map[string][]string{
		"missing_start_file":     {"-flashback"},
		"invalid_datetime":       {"-start-file", "f.1", "-stop-datetime", "yesterday"},
		"invalid_sleep_interval": {"-start-file", "f.1", "-sleep-interval", "0"},
		"flashback_stop_never":   {"-start-file", "f.1", "-flashback", "-stop-never"},
		"flashback_no_pk":        {"-start-file", "f.1", "-flashback", "-no-pk"},
		"invalid_flag":           {"-nope"},
	}
	for code, args := range cases {
		_, err := ParseConfig(newFlagSet(), args)
		if !errmodel.IsCategory(err, errmodel.CategoryConfiguration) {
			t.Fatalf("%s: want configuration error, got %v", code, err)
		}
		if got := errmodel.From(err).Code; got != code {
			t.Fatalf("code=%s want %s", got, code)
		}
		if errmodel.ExitCode(err) != 2 {
			t.Fatalf("%s: exit code %d", code, errmodel.ExitCode(err))
		}
	}
}

func TestParseConfigVersionSkipsValidation(t *testing.T) {
	cfg, err := ParseConfig(newFlagSet(), []string{"-version"})
	if err != nil || !cfg.Version {
		t.Fatalf("cfg=%+v err=%v", cfg, err)
	}
}

func TestJobFileWithFlagOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.json")
	body := `{"host":"10.1.150.70","user":"repl","databases":["test"],"tables":["t_city"],
		"start_file":"mysql-bin.000002","stop_position":800,"flashback":true,"sleep_interval":50}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := ParseConfig(newFlagSet(), []string{"-config", path, "-user", "admin", "-sleep-interval", "10"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Host != "10.1.150.70" || cfg.User != "admin" {
		t.Fatalf("host=%s user=%s", cfg.Host, cfg.User)
	}
	if !cfg.Flashback || cfg.StopPosition != 800 || cfg.SleepInterval != 10 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Filter().Tables[0] != "t_city" {
		t.Fatalf("tables=%v", cfg.Tables)
	}
}

func TestParseJobRejectsUnknownAndMistyped(t *testing.T) {
	for _, body := range []string{
		`{"start_file":"f.1","stop_postion":5}`,
		`{"start_file":"f.1","port":"3306"}`,
		`{"start_file":"f.1","databases":"test"}`,
		`[1,2]`,
		`{`,
	} {
		_, err := ParseJob([]byte(body))
		if !errmodel.IsCategory(err, errmodel.CategoryConfiguration) {
			t.Fatalf("%s: want configuration error, got %v", body, err)
		}
	}
	job, err := ParseJob([]byte(`{"start_file":"f.1","only_pk":true}`))
	if err != nil || !job.OnlyPK || job.StartFile != "f.1" {
		t.Fatalf("job=%+v err=%v", job, err)
	}
}

func TestJobSchemaIsDerivedFromStruct(t *testing.T) {
	raw, err := JobSchema()
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"start_file"`, `"sleep_interval"`, `"additionalProperties"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("schema missing %s: %s", key, raw)
		}
	}
}
