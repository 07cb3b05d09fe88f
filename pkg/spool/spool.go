// Package spool stages flashback statements for the duration of one run and
// replays them newest first.
//
// Statements are appended in event order to a Stage and read back in strict
// reverse order once the stream has ended. A pacing directive is written
// after every Interval replayed statements so that whoever applies the
// rollback script gets a regular pause.
package spool

import (
	"context"
	"strings"

	"github.com/wilhg/binlog2sql/pkg/errmodel"
)

const (
	// DefaultInterval is the number of statements between pacing directives.
	DefaultInterval = 1000
	// DefaultDirective is the no-op delay written between batches.
	DefaultDirective = "SELECT SLEEP(1);"
)

// Stage is append-only, run-scoped line storage.
type Stage interface {
	// Name identifies the staged resource (file path, spool key).
	Name() string
	Append(ctx context.Context, line string) error
	// Reverse calls fn for every line, last appended first. No Append may follow.
	Reverse(ctx context.Context, fn func(line string) error) error
	// Remove deletes the staged data and releases resources. It is idempotent.
	Remove(ctx context.Context) error
}

// LineWriter receives replayed lines.
type LineWriter interface {
	WriteLine(line string) error
}

// Spooler stages flashback statements and replays them reversed.
type Spooler struct {
	stage     Stage
	interval  int
	directive string
	appended  int
}

// Option configures the Spooler.
type Option func(*Spooler)

// WithInterval sets the pacing interval. Values <= 0 are ignored.
func WithInterval(n int) Option {
	return func(s *Spooler) {
		if n > 0 {
			s.interval = n
		}
	}
}

// WithDirective overrides the pacing directive text.
func WithDirective(d string) Option {
	return func(s *Spooler) {
		if d != "" {
			s.directive = d
		}
	}
}

// New wraps a Stage.
func New(stage Stage, opts ...Option) *Spooler {
	s := &Spooler{stage: stage, interval: DefaultInterval, directive: DefaultDirective}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the name of the underlying stage.
func (s *Spooler) Name() string { return s.stage.Name() }

// Len is the number of statements appended so far.
func (s *Spooler) Len() int { return s.appended }

// Append stages one statement. Statements must fit on one line.
func (s *Spooler) Append(ctx context.Context, stmt string) error {
	if strings.ContainsAny(stmt, "\r\n") {
		return errmodel.Storage("multiline_statement", "staged statements must be single-line", map[string]any{
			"spool": s.stage.Name(),
		}, nil)
	}
	if err := s.stage.Append(ctx, stmt); err != nil {
		return errmodel.Storage("append_failed", "append to spool", map[string]any{"spool": s.stage.Name()}, err)
	}
	s.appended++
	return nil
}

// ReplayReversed writes every staged statement to w, newest first, with a
// pacing directive after each full interval. It returns the number of
// statements written, not counting directives.
func (s *Spooler) ReplayReversed(ctx context.Context, w LineWriter) (int, error) {
	n := 0
	err := s.stage.Reverse(ctx, func(line string) error {
		if err := w.WriteLine(line); err != nil {
			return err
		}
		n++
		if n%s.interval == 0 {
			return w.WriteLine(s.directive)
		}
		return nil
	})
	if err != nil {
		return n, errmodel.Storage("replay_failed", "replay spool", map[string]any{"spool": s.stage.Name(), "written": n}, err)
	}
	return n, nil
}

// Remove purges the stage. Safe to call more than once.
func (s *Spooler) Remove(ctx context.Context) error {
	if err := s.stage.Remove(ctx); err != nil {
		return errmodel.Storage("remove_failed", "remove spool", map[string]any{"spool": s.stage.Name()}, err)
	}
	return nil
}
