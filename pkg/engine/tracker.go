package engine

import "github.com/wilhg/binlog2sql/pkg/binlog"

// Tracker stamps statements with the position at which their transaction
// began.
type Tracker struct {
	lastPos uint32
	txStart uint32
}

// NewTracker starts both positions at the stream's start offset, so that
// statements outside an explicit transaction still carry a coordinate.
func NewTracker(start uint32) *Tracker {
	return &Tracker{lastPos: start, txStart: start}
}

// Observe records a BEGIN marker. Call it before the event is reconstructed.
func (t *Tracker) Observe(ev binlog.Event) {
	if ev.Kind == binlog.KindMarker && ev.Marker != nil && ev.Marker.Kind == binlog.MarkerBegin {
		t.txStart = t.lastPos
	}
}

// Advance moves the last-seen position past ev. Rotate and format events
// describe the log itself and leave it unchanged.
func (t *Tracker) Advance(ev binlog.Event) {
	switch ev.Kind {
	case binlog.KindRotate, binlog.KindFormat:
		return
	}
	t.lastPos = ev.Pos
}

// TransactionStart is the position recorded at the last BEGIN.
func (t *Tracker) TransactionStart() uint32 { return t.txStart }

// LastPos is the position after the last processed event.
func (t *Tracker) LastPos() uint32 { return t.lastPos }
