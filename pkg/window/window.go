// Package window decides which decoded events fall inside a replay window.
//
// A Filter is built once before streaming from the requested coordinates,
// the server's binary-log index and a snapshot of the server's current
// position. It is immutable afterwards and Classify has no side effects.
package window

import (
	"slices"
	"strings"
	"time"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
)

// Action is the verdict for one event.
type Action int

const (
	// Consume hands the event to the reconstructor.
	Consume Action = iota
	// Skip drops the event but lets it advance the last-seen position.
	Skip
	// Stop ends the stream without consuming the event.
	Stop
)

func (a Action) String() string {
	switch a {
	case Consume:
		return "consume"
	case Skip:
		return "skip"
	default:
		return "stop"
	}
}

// Decision is returned by Classify. Last is set on the event that sits
// exactly on an end coordinate: it is consumed and the stream stops after it.
type Decision struct {
	Action Action
	Last   bool
	Reason string
}

var (
	// DefaultStartTime is used when no start datetime is given.
	DefaultStartTime = time.Unix(0, 0)
	// DefaultStopTime is used when no stop datetime is given.
	DefaultStopTime = time.Date(2999, 12, 31, 0, 0, 0, 0, time.Local)
)

// Window is the requested replay range.
type Window struct {
	Start     binlog.Coordinate
	End       binlog.Coordinate // End.Pos == 0 means no explicit end position
	StartTime time.Time
	StopTime  time.Time
	// LiveEnd is the server's position captured once when the window was built.
	LiveEnd   binlog.Coordinate
	StopNever bool
}

// Normalize fills defaults: start position 4, end file = start file,
// full time range.
func (w Window) Normalize() Window {
	if w.Start.Pos == 0 {
		w.Start.Pos = binlog.MinPosition
	}
	if w.End.File == "" {
		w.End.File = w.Start.File
	}
	if w.StartTime.IsZero() {
		w.StartTime = DefaultStartTime
	}
	if w.StopTime.IsZero() {
		w.StopTime = DefaultStopTime
	}
	return w
}

// Filter classifies events against a Window.
type Filter struct {
	win   Window
	files []string
}

// New validates the window against the server's log index and resolves the
// list of files the window spans.
func New(w Window, serverFiles []string) (*Filter, error) {
	w = w.Normalize()
	if w.Start.File == "" {
		return nil, errmodel.Configuration("missing_start_file", "start file is required", nil)
	}
	if !slices.Contains(serverFiles, w.Start.File) {
		return nil, errmodel.Configuration("unknown_start_file", "start file not found on server", map[string]any{
			"start_file": w.Start.File,
		})
	}
	lo, hi := suffix(w.Start.File), suffix(w.End.File)
	files := make([]string, 0, len(serverFiles))
	for _, f := range serverFiles {
		if s := suffix(f); s >= lo && s <= hi {
			files = append(files, f)
		}
	}
	return &Filter{win: w, files: files}, nil
}

// Window returns the normalized window.
func (f *Filter) Window() Window { return f.win }

// Files returns the resolved log files, in server order.
func (f *Filter) Files() []string { return slices.Clone(f.files) }

// Classify applies the window rules in precedence order.
func (f *Filter) Classify(ev binlog.Event) Decision {
	w := f.win
	if w.StopNever {
		return Decision{Action: Consume}
	}
	if (w.End.Pos > 0 && ev.Coordinate == w.End) || ev.Coordinate == w.LiveEnd {
		return Decision{Action: Consume, Last: true, Reason: "end position reached"}
	}
	if ev.Timestamp.Before(w.StartTime) {
		return Decision{Action: Skip, Reason: "before start time"}
	}
	switch {
	case !slices.Contains(f.files, ev.File):
		return Decision{Action: Stop, Reason: "outside file range"}
	case w.End.Pos > 0 && ev.File == w.End.File && ev.Pos > w.End.Pos:
		return Decision{Action: Stop, Reason: "past end position"}
	case ev.File == w.LiveEnd.File && ev.Pos > w.LiveEnd.Pos:
		return Decision{Action: Stop, Reason: "past live end position"}
	case !ev.Timestamp.Before(w.StopTime):
		return Decision{Action: Stop, Reason: "stop time reached"}
	}
	return Decision{Action: Consume}
}

// suffix returns the numeric extension of a log file name ("mysql-bin.000012" -> "000012").
// Comparison is lexicographic, so names must share the server's zero padding.
func suffix(file string) string {
	if i := strings.LastIndexByte(file, '.'); i >= 0 {
		return file[i+1:]
	}
	return file
}
