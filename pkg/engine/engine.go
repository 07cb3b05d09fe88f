// Package engine drives one replay run: it pulls decoded events, gates them
// through the window filter, stamps transaction positions, reconstructs SQL
// and routes it to the output or, in flashback mode, to the spool.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
	"github.com/wilhg/binlog2sql/pkg/metrics"
	"github.com/wilhg/binlog2sql/pkg/spool"
	"github.com/wilhg/binlog2sql/pkg/sqlgen"
	"github.com/wilhg/binlog2sql/pkg/window"
)

// Source yields decoded events in log order. Next returns io.EOF when the
// stream is exhausted.
type Source interface {
	Next(ctx context.Context) (binlog.Event, error)
	Close() error
}

// Stop reasons reported in Summary.
const (
	StopEndOfStream = "end of stream"
	StopCanceled    = "canceled"
	StopFailed      = "failed"
)

// Summary describes a finished run.
type Summary struct {
	Consumed int
	Skipped  int
	// Emitted counts statements written to the sink, pacing directives excluded.
	Emitted int
	// Reconstruction counts events skipped because they could not be turned into SQL.
	Reconstruction int
	StopReason     string
	Last           binlog.Coordinate
}

// Engine owns the source and, in flashback mode, the spool for one run.
type Engine struct {
	src     Source
	win     *window.Filter
	rec     *sqlgen.Reconstructor
	sink    Sink
	spooler *spool.Spooler
	format  sqlgen.Format
	log     *slog.Logger
	metrics *metrics.Metrics
	runID   string
}

// Option configures the Engine.
type Option func(*Engine)

// WithFlashback routes statements through sp and replays them reversed once
// the stream ends. The reconstructor must be in flashback mode as well.
func WithFlashback(sp *spool.Spooler) Option { return func(e *Engine) { e.spooler = sp } }

// WithFormat sets the line format. Annotations apply to direct output only.
func WithFormat(f sqlgen.Format) Option { return func(e *Engine) { e.format = f } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithRunID(id string) Option { return func(e *Engine) { e.runID = id } }

// New assembles an engine.
func New(src Source, win *window.Filter, rec *sqlgen.Reconstructor, sink Sink, opts ...Option) *Engine {
	e := &Engine{src: src, win: win, rec: rec, sink: sink, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("run", e.runID)
	return e
}

// Run streams until the window stops, the source is exhausted, ctx is
// canceled or an error occurs. The source is closed and the spool removed on
// every path.
func (e *Engine) Run(ctx context.Context) (sum Summary, err error) {
	w := e.win.Window()
	ctx, span := otel.Tracer("binlog2sql/engine").Start(ctx, "Engine.Run", trace.WithAttributes(
		attribute.String("run.id", e.runID),
		attribute.String("window.start", w.Start.String()),
		attribute.String("window.end", w.End.String()),
		attribute.Bool("window.stop_never", w.StopNever),
		attribute.Bool("flashback", e.spooler != nil),
	))
	defer span.End()

	defer func() {
		if cerr := e.cleanup(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
		if err != nil {
			if sum.StopReason == "" {
				sum.StopReason = StopFailed
			}
			err = errmodel.WithTrace(ctx, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("events.consumed", sum.Consumed),
			attribute.Int("events.skipped", sum.Skipped),
			attribute.Int("statements.emitted", sum.Emitted),
			attribute.String("stop.reason", sum.StopReason),
		)
		e.log.Info("run finished",
			"consumed", sum.Consumed,
			"skipped", sum.Skipped,
			"emitted", sum.Emitted,
			"reconstruction_errors", sum.Reconstruction,
			"stop_reason", sum.StopReason,
			"last", sum.Last.String(),
		)
	}()

	e.log.Info("run started",
		"start", w.Start.String(),
		"end", w.End.String(),
		"live_end", w.LiveEnd.String(),
		"start_time", w.StartTime,
		"stop_time", w.StopTime,
		"stop_never", w.StopNever,
		"flashback", e.spooler != nil,
	)
	if (e.spooler != nil) != e.rec.Flashback() {
		return sum, errmodel.System("mode_mismatch", "spooler and reconstructor disagree on flashback mode", map[string]any{
			"spooler":   e.spooler != nil,
			"flashback": e.rec.Flashback(),
		}, nil)
	}
	if e.spooler != nil {
		e.log.Debug("spooling flashback statements", "spool", e.spooler.Name())
	}

	if err := e.stream(ctx, &sum); err != nil {
		return sum, err
	}
	if e.spooler != nil {
		n, err := e.spooler.ReplayReversed(ctx, e.sink)
		sum.Emitted += n
		if err != nil {
			return sum, err
		}
	}
	return sum, e.flush()
}

func (e *Engine) stream(ctx context.Context, sum *Summary) error {
	tracker := NewTracker(e.win.Window().Start.Pos)
	for {
		if ctx.Err() != nil {
			sum.StopReason = StopCanceled
			return errmodel.Stream("canceled", "run canceled", map[string]any{"last": sum.Last.String()}, ctx.Err())
		}
		ev, err := e.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			sum.StopReason = StopEndOfStream
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				sum.StopReason = StopCanceled
				return errmodel.Stream("canceled", "run canceled", map[string]any{"last": sum.Last.String()}, err)
			}
			if errmodel.IsCategory(err, errmodel.CategoryStream) {
				return err
			}
			return errmodel.Stream("source_failed", "replication source failed", map[string]any{"last": sum.Last.String()}, err)
		}

		d := e.win.Classify(ev)
		e.metrics.Event(d.Action.String())
		switch d.Action {
		case window.Skip:
			sum.Skipped++
			tracker.Advance(ev)
			continue
		case window.Stop:
			sum.StopReason = d.Reason
			return nil
		}

		sum.Consumed++
		tracker.Observe(ev)
		if err := e.handle(ctx, ev, tracker, sum); err != nil {
			return err
		}
		tracker.Advance(ev)
		sum.Last = ev.Coordinate
		e.metrics.Position(tracker.LastPos())
		if d.Last {
			sum.StopReason = d.Reason
			return nil
		}
	}
}

// handle reconstructs one consumed event and routes the result.
func (e *Engine) handle(ctx context.Context, ev binlog.Event, tracker *Tracker, sum *Summary) error {
	texts, err := e.rec.Reconstruct(ev)
	if err != nil {
		if !errmodel.IsCategory(err, errmodel.CategoryReconstruction) {
			return err
		}
		sum.Reconstruction++
		e.metrics.ReconstructionError()
		ce := errmodel.From(err)
		attrs := []any{"position", ev.Coordinate.String(), "code", ce.Code, "err", ce.Message}
		if ev.Rows != nil {
			attrs = append(attrs, "schema", ev.Rows.Schema, "table", ev.Rows.Table)
		}
		e.log.Warn("event skipped: cannot reconstruct SQL", attrs...)
		return nil
	}
	if len(texts) == 0 {
		return nil
	}
	kind := "QUERY"
	if ev.Kind == binlog.KindRows {
		kind = ev.Rows.Kind.String()
	}
	for _, text := range texts {
		stmt := binlog.Statement{
			Text:                text,
			Coordinate:          ev.Coordinate,
			TransactionStartPos: tracker.TransactionStart(),
			Timestamp:           ev.Timestamp,
			Row:                 ev.Kind == binlog.KindRows,
		}
		e.metrics.Statement(kind)
		if e.spooler != nil {
			if err := e.spooler.Append(ctx, sqlgen.Format{Terminator: e.format.Terminator}.Line(stmt)); err != nil {
				return err
			}
			continue
		}
		if err := e.sink.WriteLine(e.format.Line(stmt)); err != nil {
			return errmodel.System("sink_failed", "write output", nil, err)
		}
		sum.Emitted++
	}
	if e.spooler == nil {
		return e.flush()
	}
	return nil
}

func (e *Engine) flush() error {
	if f, ok := e.sink.(flusher); ok {
		if err := f.Flush(); err != nil {
			return errmodel.System("sink_failed", "flush output", nil, err)
		}
	}
	return nil
}

// cleanup runs on every exit path.
func (e *Engine) cleanup(ctx context.Context) error {
	var errs []error
	if err := e.src.Close(); err != nil {
		errs = append(errs, errmodel.Stream("close_failed", "close replication source", nil, err))
	}
	if e.spooler != nil {
		if err := e.spooler.Remove(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.flush(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
