package mysqlsource

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
)

// ColumnResolver supplies column names when the table map carries none
// (servers running with binlog_row_metadata=MINIMAL).
type ColumnResolver interface {
	Columns(ctx context.Context, schema, table string) ([]string, error)
	Forget(schema, table string)
}

// StreamConfig configures Open.
type StreamConfig struct {
	Settings
	// ServerID is the id this client registers with. It must be non-zero.
	ServerID uint32
	// Flavor is "mysql" or "mariadb".
	Flavor string
	Start  binlog.Coordinate
	Filter binlog.SchemaFilter
	// Columns is optional.
	Columns ColumnResolver
	Logger  *slog.Logger
}

// Stream pulls decoded events from a BinlogStreamer.
type Stream struct {
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
	file     string
	conv     converter
}

// Open registers as a replica and starts streaming from cfg.Start.
func Open(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if cfg.ServerID == 0 {
		return nil, errmodel.Configuration("server_id_unset", "replication client needs a non-zero server id", nil)
	}
	if cfg.Flavor == "" {
		cfg.Flavor = mysql.MySQLFlavor
	}
	if cfg.Charset == "" {
		cfg.Charset = "utf8mb4"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID:   cfg.ServerID,
		Flavor:     cfg.Flavor,
		Host:       cfg.Host,
		Port:       uint16(cfg.Port),
		User:       cfg.User,
		Password:   cfg.Password,
		Charset:    cfg.Charset,
		ParseTime:  true,
		UseDecimal: true,
	})
	streamer, err := syncer.StartSync(mysql.Position{Name: cfg.Start.File, Pos: cfg.Start.Pos})
	if err != nil {
		syncer.Close()
		return nil, errmodel.Stream("start_sync", "start binlog dump", map[string]any{
			"addr":  cfg.Addr(),
			"start": cfg.Start.String(),
		}, err)
	}
	return &Stream{
		syncer:   syncer,
		streamer: streamer,
		file:     cfg.Start.File,
		conv:     converter{filter: cfg.Filter, columns: cfg.Columns, log: cfg.Logger},
	}, nil
}

// Next blocks until the next event is decoded.
func (s *Stream) Next(ctx context.Context) (binlog.Event, error) {
	raw, err := s.streamer.GetEvent(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return binlog.Event{}, err
		}
		return binlog.Event{}, errmodel.Stream("read_event", "read replication event", map[string]any{"file": s.file}, err)
	}
	ev := s.conv.convert(ctx, s.file, raw)
	if ev.Kind == binlog.KindRotate {
		s.file = ev.File
	}
	return ev, nil
}

// Close stops the dump and closes the replication connection.
func (s *Stream) Close() error {
	s.syncer.Close()
	return nil
}

// converter turns go-mysql events into binlog.Event values.
type converter struct {
	filter  binlog.SchemaFilter
	columns ColumnResolver
	log     *slog.Logger
}

func (c converter) convert(ctx context.Context, file string, raw *replication.BinlogEvent) binlog.Event {
	ev := binlog.Event{
		Kind:       binlog.KindOther,
		Timestamp:  time.Unix(int64(raw.Header.Timestamp), 0),
		Coordinate: binlog.Coordinate{File: file, Pos: raw.Header.LogPos},
	}
	switch e := raw.Event.(type) {
	case *replication.RotateEvent:
		// The stream is positioned in the next file as soon as the rotate is read.
		ev.Kind = binlog.KindRotate
		ev.Coordinate = binlog.Coordinate{File: string(e.NextLogName), Pos: uint32(e.Position)}
	case *replication.FormatDescriptionEvent:
		ev.Kind = binlog.KindFormat
	case *replication.XIDEvent:
		ev.Kind = binlog.KindMarker
		ev.Marker = &binlog.Marker{Kind: binlog.MarkerCommit}
	case *replication.QueryEvent:
		c.query(&ev, string(e.Schema), string(e.Query))
	case *replication.RowsEvent:
		kind, ok := rowKind(raw.Header.EventType)
		if !ok {
			break
		}
		c.rows(ctx, &ev, kind, e)
	}
	return ev
}

func (c converter) query(ev *binlog.Event, schema, text string) {
	trimmed := strings.TrimSpace(text)
	switch strings.ToUpper(trimmed) {
	case "BEGIN":
		ev.Kind = binlog.KindMarker
		ev.Marker = &binlog.Marker{Kind: binlog.MarkerBegin, Schema: schema, Text: trimmed}
		return
	case "COMMIT":
		ev.Kind = binlog.KindMarker
		ev.Marker = &binlog.Marker{Kind: binlog.MarkerCommit, Schema: schema, Text: trimmed}
		return
	}
	if schema != "" && !c.filter.MatchSchema(schema) {
		return
	}
	c.invalidate(schema, trimmed)
	ev.Kind = binlog.KindMarker
	ev.Marker = &binlog.Marker{Kind: binlog.MarkerOther, Schema: schema, Text: trimmed}
}

// invalidate drops cached columns of tables touched by DDL.
func (c converter) invalidate(schema, text string) {
	if c.columns == nil {
		return
	}
	stmt, err := sqlparser.Parse(text)
	if err != nil {
		return
	}
	ddl, ok := stmt.(*sqlparser.DDL)
	if !ok {
		return
	}
	seen := make(map[string]bool, 2)
	for _, name := range []sqlparser.TableName{ddl.Table, ddl.NewName} {
		if name.Name.IsEmpty() {
			continue
		}
		s := schema
		if !name.Qualifier.IsEmpty() {
			s = name.Qualifier.String()
		}
		// ALTER reports the same table as both old and new name.
		if key := binlog.TableKey(s, name.Name.String()); !seen[key] {
			seen[key] = true
			c.columns.Forget(s, name.Name.String())
		}
	}
}

func (c converter) rows(ctx context.Context, ev *binlog.Event, kind binlog.RowKind, e *replication.RowsEvent) {
	if e.Table == nil {
		return
	}
	schema, table := string(e.Table.Schema), string(e.Table.Table)
	if !c.filter.Match(schema, table) {
		return
	}
	names := c.columnNames(ctx, schema, table, e.Table)
	unsigned := e.Table.UnsignedMap()

	change := &binlog.RowChange{Kind: kind, Schema: schema, Table: table}
	step := 1
	if kind == binlog.Update {
		step = 2
	}
	for i := 0; i+step-1 < len(e.Rows); i += step {
		first := binlog.NewRow(names, fixUnsigned(e.Rows[i], e.Table.ColumnType, unsigned))
		switch kind {
		case binlog.Insert:
			change.Rows = append(change.Rows, binlog.RowImage{After: first})
		case binlog.Delete:
			change.Rows = append(change.Rows, binlog.RowImage{Before: first})
		case binlog.Update:
			after := binlog.NewRow(names, fixUnsigned(e.Rows[i+1], e.Table.ColumnType, unsigned))
			change.Rows = append(change.Rows, binlog.RowImage{Before: first, After: after})
		}
	}
	ev.Kind = binlog.KindRows
	ev.Rows = change
}

func (c converter) columnNames(ctx context.Context, schema, table string, tm *replication.TableMapEvent) []string {
	if len(tm.ColumnName) > 0 {
		names := make([]string, len(tm.ColumnName))
		for i, n := range tm.ColumnName {
			names[i] = string(n)
		}
		return names
	}
	if c.columns == nil {
		return nil
	}
	names, err := c.columns.Columns(ctx, schema, table)
	if err != nil {
		c.log.Warn("column lookup failed", "table", binlog.TableKey(schema, table), "err", err)
		return nil
	}
	if len(names) != int(tm.ColumnCount) {
		// The table changed since the event was written; names would be misaligned.
		c.log.Warn("column count mismatch", "table", binlog.TableKey(schema, table),
			"event_columns", tm.ColumnCount, "table_columns", len(names))
		return nil
	}
	return names
}

func rowKind(t replication.EventType) (binlog.RowKind, bool) {
	switch t {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return binlog.Insert, true
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return binlog.Update, true
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return binlog.Delete, true
	default:
		return 0, false
	}
}

// fixUnsigned reinterprets integers of unsigned columns, which the decoder
// returns as signed values.
func fixUnsigned(values []any, types []byte, unsigned map[int]bool) []any {
	if len(unsigned) == 0 {
		return values
	}
	out := make([]any, len(values))
	copy(out, values)
	for i, v := range out {
		if !unsigned[i] {
			continue
		}
		switch n := v.(type) {
		case int8:
			out[i] = uint8(n)
		case int16:
			out[i] = uint16(n)
		case int32:
			if i < len(types) && types[i] == mysql.MYSQL_TYPE_INT24 {
				out[i] = uint32(n) & 0xffffff
			} else {
				out[i] = uint32(n)
			}
		case int64:
			out[i] = uint64(n)
		}
	}
	return out
}
