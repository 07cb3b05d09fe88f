package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
)

var serverFiles = []string{"mysql-bin.000001", "mysql-bin.000002", "mysql-bin.000003", "mysql-bin.000004"}

func at(file string, pos uint32, ts time.Time) binlog.Event {
	return binlog.Event{Kind: binlog.KindRows, Timestamp: ts, Coordinate: binlog.Coordinate{File: file, Pos: pos}}
}

func TestNewValidatesStartFile(t *testing.T) {
	_, err := New(Window{}, serverFiles)
	require.Error(t, err)
	require.True(t, errmodel.IsCategory(err, errmodel.CategoryConfiguration))

	_, err = New(Window{Start: binlog.Coordinate{File: "mysql-bin.000009"}}, serverFiles)
	require.Error(t, err)
	require.Equal(t, "unknown_start_file", errmodel.From(err).Code)
}

func TestNewDefaultsAndFileRange(t *testing.T) {
	f, err := New(Window{
		Start: binlog.Coordinate{File: "mysql-bin.000002"},
		End:   binlog.Coordinate{File: "mysql-bin.000003"},
	}, serverFiles)
	require.NoError(t, err)

	w := f.Window()
	require.Equal(t, binlog.MinPosition, w.Start.Pos)
	require.Equal(t, DefaultStartTime, w.StartTime)
	require.Equal(t, DefaultStopTime, w.StopTime)
	require.Equal(t, []string{"mysql-bin.000002", "mysql-bin.000003"}, f.Files())

	single, err := New(Window{Start: binlog.Coordinate{File: "mysql-bin.000004"}}, serverFiles)
	require.NoError(t, err)
	require.Equal(t, "mysql-bin.000004", single.Window().End.File)
	require.Equal(t, []string{"mysql-bin.000004"}, single.Files())
}

func TestClassifyRules(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	f, err := New(Window{
		Start:     binlog.Coordinate{File: "mysql-bin.000002", Pos: 4},
		End:       binlog.Coordinate{File: "mysql-bin.000003", Pos: 900},
		StartTime: now.Add(-time.Hour),
		StopTime:  now.Add(time.Hour),
		LiveEnd:   binlog.Coordinate{File: "mysql-bin.000004", Pos: 120},
	}, serverFiles)
	require.NoError(t, err)

	cases := []struct {
		name   string
		ev     binlog.Event
		action Action
		last   bool
	}{
		{"inside", at("mysql-bin.000002", 500, now), Consume, false},
		{"exact end", at("mysql-bin.000003", 900, now), Consume, true},
		{"exact end before start time", at("mysql-bin.000003", 900, now.Add(-2*time.Hour)), Consume, true},
		{"before start time", at("mysql-bin.000002", 500, now.Add(-2*time.Hour)), Skip, false},
		{"past end", at("mysql-bin.000003", 901, now), Stop, false},
		{"outside files", at("mysql-bin.000004", 50, now), Stop, false},
		{"at stop time", at("mysql-bin.000002", 500, now.Add(time.Hour)), Stop, false},
		{"just before stop time", at("mysql-bin.000002", 500, now.Add(time.Hour-time.Second)), Consume, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := f.Classify(c.ev)
			require.Equal(t, c.action, d.Action)
			require.Equal(t, c.last, d.Last)
		})
	}
}

func TestClassifyLiveEndSnapshot(t *testing.T) {
	now := time.Now()
	f, err := New(Window{
		Start:   binlog.Coordinate{File: "mysql-bin.000004"},
		LiveEnd: binlog.Coordinate{File: "mysql-bin.000004", Pos: 300},
	}, serverFiles)
	require.NoError(t, err)

	require.Equal(t, Decision{Action: Consume}, f.Classify(at("mysql-bin.000004", 200, now)))
	d := f.Classify(at("mysql-bin.000004", 300, now))
	require.True(t, d.Last)
	require.Equal(t, Stop, f.Classify(at("mysql-bin.000004", 301, now)).Action)
}

// The live snapshot wins even when it lags behind an explicit end position.
func TestClassifyLiveEndBeforeExplicitEnd(t *testing.T) {
	now := time.Now()
	f, err := New(Window{
		Start:   binlog.Coordinate{File: "mysql-bin.000004"},
		End:     binlog.Coordinate{File: "mysql-bin.000004", Pos: 9000},
		LiveEnd: binlog.Coordinate{File: "mysql-bin.000004", Pos: 300},
	}, serverFiles)
	require.NoError(t, err)
	require.True(t, f.Classify(at("mysql-bin.000004", 300, now)).Last)
}

func TestClassifyWithoutEndPosition(t *testing.T) {
	f, err := New(Window{Start: binlog.Coordinate{File: "mysql-bin.000002"}}, serverFiles)
	require.NoError(t, err)
	// Fake rotate events carry position 0; they must not be taken as the end.
	d := f.Classify(at("mysql-bin.000002", 0, time.Unix(0, 0)))
	require.Equal(t, Consume, d.Action)
	require.False(t, d.Last)
}

func TestClassifyStopNever(t *testing.T) {
	now := time.Now()
	f, err := New(Window{
		Start:     binlog.Coordinate{File: "mysql-bin.000002"},
		End:       binlog.Coordinate{File: "mysql-bin.000002", Pos: 100},
		StopTime:  now.Add(-time.Hour),
		LiveEnd:   binlog.Coordinate{File: "mysql-bin.000002", Pos: 100},
		StopNever: true,
	}, serverFiles)
	require.NoError(t, err)
	for _, ev := range []binlog.Event{
		at("mysql-bin.000002", 100, now),
		at("mysql-bin.000002", 5000, now),
		at("mysql-bin.000009", 4, now),
	} {
		require.Equal(t, Decision{Action: Consume}, f.Classify(ev))
	}
}

func TestClassifyNeverConsumesOutsideTimeRange(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	stop := start.Add(24 * time.Hour)
	f, err := New(Window{
		Start:     binlog.Coordinate{File: "mysql-bin.000001"},
		End:       binlog.Coordinate{File: "mysql-bin.000004"},
		StartTime: start,
		StopTime:  stop,
	}, serverFiles)
	require.NoError(t, err)
	for offset := -48; offset <= 48; offset++ {
		ts := start.Add(time.Duration(offset) * time.Hour)
		d := f.Classify(at("mysql-bin.000002", 1000, ts))
		if ts.Before(start) || !ts.Before(stop) {
			require.NotEqual(t, Consume, d.Action, "ts=%s", ts)
		} else {
			require.Equal(t, Consume, d.Action, "ts=%s", ts)
		}
	}
}
