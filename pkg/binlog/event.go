// Package binlog defines the decoded replication-log model shared by the
// window filter, the SQL reconstructor and the engine. Values in this package
// are produced by a replication source and consumed one at a time.
package binlog

import (
	"fmt"
	"time"
)

// MinPosition is the first valid event offset in a v4 binary log file.
const MinPosition uint32 = 4

// Coordinate identifies a position in the replication log.
type Coordinate struct {
	File string `json:"file"`
	Pos  uint32 `json:"pos"`
}

func (c Coordinate) String() string { return fmt.Sprintf("%s:%d", c.File, c.Pos) }

// Kind discriminates the Event variants.
type Kind int

const (
	// KindOther covers events with no SQL meaning (table maps, GTIDs, heartbeats...).
	// They still advance the last-seen position.
	KindOther Kind = iota
	// KindRotate switches the stream to a new log file.
	KindRotate
	// KindFormat is the format description at the head of each file.
	KindFormat
	// KindMarker is a transaction marker: BEGIN, COMMIT or a statement passed through as text.
	KindMarker
	// KindRows is a row-level change.
	KindRows
)

func (k Kind) String() string {
	switch k {
	case KindRotate:
		return "rotate"
	case KindFormat:
		return "format"
	case KindMarker:
		return "marker"
	case KindRows:
		return "rows"
	default:
		return "other"
	}
}

// MarkerKind classifies transaction markers.
type MarkerKind int

const (
	MarkerOther MarkerKind = iota
	MarkerBegin
	MarkerCommit
)

// RowKind is the DML operation behind a row change.
type RowKind int

const (
	Insert RowKind = iota + 1
	Update
	Delete
)

func (k RowKind) String() string {
	switch k {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Marker is the payload of a KindMarker event.
type Marker struct {
	Kind   MarkerKind
	Schema string
	Text   string
}

// RowChange is the payload of a KindRows event. Rows holds one entry per
// changed row, in the order the server logged them.
type RowChange struct {
	Kind   RowKind
	Schema string
	Table  string
	Rows   []RowImage
}

// RowImage carries the before and after snapshots of one row. INSERT carries
// only After, DELETE only Before, UPDATE both.
type RowImage struct {
	Before Row
	After  Row
}

// Event is one decoded replication event.
//
// Coordinate.Pos is the end position of the event as reported in its header,
// which is also the position the stream reports after reading it.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Coordinate

	Marker *Marker
	Rows   *RowChange
}

// Key returns the qualified "schema.table" key of a row change.
func (rc *RowChange) Key() string { return TableKey(rc.Schema, rc.Table) }

// TableKey builds the "schema.table" key used by primary-key maps.
func TableKey(schema, table string) string { return schema + "." + table }

// Statement is one reconstructed SQL statement together with the log
// coordinates it came from.
type Statement struct {
	Text                string
	Coordinate          Coordinate
	TransactionStartPos uint32
	Timestamp           time.Time
	// Row marks statements generated from row changes; pass-through text has Row false.
	Row bool
}
