// Package mysqlsource connects the engine to a MySQL server: a Session for
// metadata queries and a Stream that decodes the replication log.
package mysqlsource

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/go-mysql-org/go-mysql/client"
	"github.com/go-mysql-org/go-mysql/mysql"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
)

// Settings holds connection parameters shared by the session and the stream.
type Settings struct {
	Host     string
	Port     int
	User     string
	Password string
	Charset  string
}

// Addr returns host:port.
func (s Settings) Addr() string { return net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) }

// Session is a plain SQL connection to the server being replayed.
type Session struct {
	conn     *client.Conn
	settings Settings
}

// Dial opens a session. Connection failures are configuration errors since
// nothing has been streamed yet.
func Dial(ctx context.Context, s Settings) (*Session, error) {
	if s.Charset == "" {
		s.Charset = "utf8mb4"
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := client.Connect(s.Addr(), s.User, s.Password, "", func(c *client.Conn) error {
		return c.SetCharset(s.Charset)
	})
	if err != nil {
		return nil, errmodel.New(errmodel.CategoryConfiguration, "connect_failed", "connect to server", map[string]any{
			"addr": s.Addr(),
			"user": s.User,
		}, err)
	}
	return &Session{conn: conn, settings: s}, nil
}

// Settings returns the connection settings of the session.
func (s *Session) Settings() Settings { return s.settings }

// QueryStrings runs query and returns every row as strings; NULL becomes "".
func (s *Session) QueryStrings(ctx context.Context, query string, args ...any) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := s.conn.Execute(query, args...)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return resultStrings(res)
}

func resultStrings(res *mysql.Result) ([][]string, error) {
	if res == nil || res.Resultset == nil {
		return nil, nil
	}
	out := make([][]string, 0, res.RowNumber())
	for r := 0; r < res.RowNumber(); r++ {
		row := make([]string, res.ColumnNumber())
		for c := range row {
			v, err := res.GetString(r, c)
			if err != nil {
				return nil, err
			}
			row[c] = v
		}
		out = append(out, row)
	}
	return out, nil
}

// MasterStatus returns the server's current write coordinate, the live-end
// snapshot of a replay window. MySQL 8.4 renamed the statement, so the new
// spelling is tried when the old one is rejected.
func (s *Session) MasterStatus(ctx context.Context) (binlog.Coordinate, error) {
	rows, err := s.QueryStrings(ctx, "SHOW MASTER STATUS")
	if err != nil {
		rows, err = s.QueryStrings(ctx, "SHOW BINARY LOG STATUS")
	}
	if err != nil {
		return binlog.Coordinate{}, errmodel.New(errmodel.CategoryConfiguration, "master_status", "read current binlog coordinate", nil, err)
	}
	if len(rows) == 0 || len(rows[0]) < 2 || rows[0][0] == "" {
		return binlog.Coordinate{}, errmodel.Configuration("binlog_disabled", "server reports no binary log; is log_bin enabled?", map[string]any{
			"addr": s.settings.Addr(),
		})
	}
	pos, err := strconv.ParseUint(rows[0][1], 10, 32)
	if err != nil {
		return binlog.Coordinate{}, errmodel.New(errmodel.CategoryConfiguration, "master_status", "parse binlog position", map[string]any{
			"position": rows[0][1],
		}, err)
	}
	return binlog.Coordinate{File: rows[0][0], Pos: uint32(pos)}, nil
}

// BinaryLogs lists the log files the server still has, oldest first.
func (s *Session) BinaryLogs(ctx context.Context) ([]string, error) {
	rows, err := s.QueryStrings(ctx, "SHOW BINARY LOGS")
	if err != nil {
		return nil, errmodel.New(errmodel.CategoryConfiguration, "binary_logs", "list binary logs", nil, err)
	}
	files := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			files = append(files, row[0])
		}
	}
	return files, nil
}

// ServerID returns @@server_id. A replica cannot register against a server
// whose id is unset, so zero is a configuration error.
func (s *Session) ServerID(ctx context.Context) (uint32, error) {
	rows, err := s.QueryStrings(ctx, "SELECT @@server_id")
	if err != nil {
		return 0, errmodel.New(errmodel.CategoryConfiguration, "server_id", "read server_id", nil, err)
	}
	var id uint64
	if len(rows) > 0 && len(rows[0]) > 0 {
		id, _ = strconv.ParseUint(rows[0][0], 10, 32)
	}
	if id == 0 {
		return 0, errmodel.Configuration("server_id_unset", fmt.Sprintf("need set server_id in mysql server %s", s.settings.Addr()), nil)
	}
	return uint32(id), nil
}

// Close closes the connection.
func (s *Session) Close() error { return s.conn.Close() }
