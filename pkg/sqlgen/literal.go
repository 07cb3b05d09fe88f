package sqlgen

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/shopspring/decimal"

	"github.com/wilhg/binlog2sql/pkg/binlog"
)

const datetimeLayout = "2006-01-02 15:04:05.999999"

// Literal renders a decoded column value as a MySQL literal. Strings are
// escaped so the result never spans more than one line.
func Literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case json.Number:
		return t.String()
	case string:
		return Quote(t)
	case []byte:
		if utf8.Valid(t) {
			return Quote(string(t))
		}
		return "X'" + hex.EncodeToString(t) + "'"
	case time.Time:
		return Quote(t.Format(datetimeLayout))
	case decimal.Decimal:
		// Unquoted so MySQL compares exactly instead of through DOUBLE.
		if exp := t.Exponent(); exp < 0 {
			return t.StringFixed(-exp)
		}
		return t.String()
	case fmt.Stringer:
		return Quote(t.String())
	default:
		return Quote(fmt.Sprint(t))
	}
}

// Quote returns s as a single-quoted MySQL string literal.
func Quote(s string) string { return "'" + mysql.Escape(s) + "'" }

// Format controls how a Statement becomes an output line.
type Format struct {
	// Terminator is appended to every statement, e.g. ";".
	Terminator string
	// Annotate appends "#start <txn> end <pos> time <ts>" to row statements.
	Annotate bool
}

// Line renders stmt as one output line.
func (f Format) Line(stmt binlog.Statement) string {
	line := stmt.Text + f.Terminator
	if f.Annotate && stmt.Row {
		line += fmt.Sprintf(" #start %d end %d time %s",
			stmt.TransactionStartPos, stmt.Coordinate.Pos, stmt.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return line
}
