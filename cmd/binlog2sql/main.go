package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/config"
	"github.com/wilhg/binlog2sql/pkg/engine"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
	"github.com/wilhg/binlog2sql/pkg/logging"
	"github.com/wilhg/binlog2sql/pkg/metrics"
	otto "github.com/wilhg/binlog2sql/pkg/otel"
	"github.com/wilhg/binlog2sql/pkg/schema"
	"github.com/wilhg/binlog2sql/pkg/source/mysqlsource"
	"github.com/wilhg/binlog2sql/pkg/spool"
	"github.com/wilhg/binlog2sql/pkg/sqlgen"
	"github.com/wilhg/binlog2sql/pkg/window"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("binlog2sql", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg, err := config.ParseConfig(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "binlog2sql: %v\n", err)
		return errmodel.ExitCode(err)
	}
	if cfg.Version {
		fmt.Fprintf(stdout, "binlog2sql %s (commit=%s, date=%s)\n", version, commit, date)
		return 0
	}

	logger, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(stderr, "binlog2sql: %v\n", err)
		return 2
	}
	slog.SetDefault(logger)

	shutdown, err := otto.Init(ctx, otto.Config{ServiceVersion: version, UseStdout: cfg.TraceStdout, Writer: stderr})
	if err != nil {
		logger.Warn("tracing disabled", "err", err)
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: buildMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	sum, err := replay(ctx, cfg, m, logger, stdout)
	return finish(cfg, sum, err, logger, stderr)
}

// finish reports the outcome of a run and picks the exit status. An
// interrupted live tail is a normal end.
func finish(cfg config.Config, sum engine.Summary, err error, logger *slog.Logger, stderr io.Writer) int {
	if err == nil {
		logger.Debug("done", "stop_reason", sum.StopReason)
		return 0
	}
	ce := errmodel.From(err)
	if cfg.StopNever && ce.Category == errmodel.CategoryStream && ce.Code == "canceled" {
		logger.Info("live tail stopped", "last", sum.Last.String())
		return 0
	}
	if cfg.LogFormat == "json" {
		fmt.Fprintln(stderr, string(errmodel.JSON(err)))
	} else {
		logger.Error("run failed", "category", ce.Category, "code", ce.Code, "err", err, "context", ce.Context)
	}
	return errmodel.ExitCode(err)
}

// buildMux serves health and Prometheus metrics for long-running tails.
func buildMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())
	return otelhttp.NewHandler(mux, "binlog2sql.http")
}

// replay wires the session, window, reconstructor, spool and stream for one run.
func replay(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *slog.Logger, stdout io.Writer) (engine.Summary, error) {
	settings := mysqlsource.Settings{Host: cfg.Host, Port: cfg.Port, User: cfg.User, Password: cfg.Password}
	sess, err := mysqlsource.Dial(ctx, settings)
	if err != nil {
		return engine.Summary{}, err
	}
	defer sess.Close()

	live, err := sess.MasterStatus(ctx)
	if err != nil {
		return engine.Summary{}, err
	}
	files, err := sess.BinaryLogs(ctx)
	if err != nil {
		return engine.Summary{}, err
	}
	w := cfg.Window()
	w.LiveEnd = live
	win, err := window.New(w, files)
	if err != nil {
		return engine.Summary{}, err
	}
	serverID, err := sess.ServerID(ctx)
	if err != nil {
		return engine.Summary{}, err
	}
	if cfg.ServerID != 0 {
		serverID = uint32(cfg.ServerID)
	}

	resolver := schema.NewResolver(sess)
	var keys binlog.PrimaryKeyMap
	if cfg.NeedPrimaryKeys() {
		if keys, err = resolver.PrimaryKeys(ctx, cfg.Databases, cfg.Tables); err != nil {
			return engine.Summary{}, err
		}
	}
	rec := sqlgen.New(keys,
		sqlgen.WithFlashback(cfg.Flashback),
		sqlgen.WithPrimaryKeyWhere(cfg.OnlyPK),
		sqlgen.WithoutPrimaryKeyInsert(cfg.NoPK),
		sqlgen.WithQuotedIdentifiers(true),
	)

	runID := uuid.NewString()
	src, err := mysqlsource.Open(ctx, mysqlsource.StreamConfig{
		Settings: settings,
		ServerID: serverID,
		Start:    win.Window().Start,
		Filter:   cfg.Filter(),
		Columns:  resolver,
		Logger:   logger,
	})
	if err != nil {
		return engine.Summary{}, err
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithRunID(runID),
		engine.WithFormat(sqlgen.Format{Terminator: ";", Annotate: cfg.Annotate}),
	}
	if cfg.Flashback {
		st, err := openStage(ctx, cfg, runID)
		if err != nil {
			_ = src.Close()
			return engine.Summary{}, err
		}
		opts = append(opts, engine.WithFlashback(spool.New(st, spool.WithInterval(cfg.SleepInterval))))
	}
	return engine.New(src, win, rec, engine.NewWriterSink(stdout), opts...).Run(ctx)
}

// openStage creates the flashback staging area named after the server. The
// SQL backend also appends the run id.
func openStage(ctx context.Context, cfg config.Config, runID string) (spool.Stage, error) {
	base := fmt.Sprintf("%s.%d", cfg.Host, cfg.Port)
	if cfg.SpoolDSN != "" {
		st, err := spool.OpenSQL(ctx, cfg.SpoolDSN, base+"."+runID)
		if err != nil {
			return nil, errmodel.Storage("open_spool", "open spool database", nil, err)
		}
		return st, nil
	}
	st, err := spool.CreateFile(cfg.SpoolDir, base)
	if err != nil {
		return nil, errmodel.Storage("open_spool", "create spool file", map[string]any{"dir": cfg.SpoolDir}, err)
	}
	return st, nil
}
