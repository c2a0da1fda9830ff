package convert

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jfoltran/pgsink/internal/model"
)

// Literal renders a Cell as a SQL literal for sinks that build query text
// directly. Every value is escaped or type-checked before being placed in
// the returned string; no caller-controlled byte sequence can terminate a
// string literal early.
//
// original_source/pg_replicate/src/clients/bigquery.rs's
// cell_to_query_value builds these by direct interpolation (flagged
// `//TODO: fix all SQL injections` in the original); this is the fix, not
// a reproduction of that gap. Prefer query parameters
// (internal/sink/bigquerysink uses bigquery.QueryParameter and Inserter.Put,
// not Literal) wherever the destination API supports them. Its one caller
// today is internal/sink/stdoutsink, which renders rows as log lines.
func Literal(c model.Cell) (string, error) {
	switch c.Kind {
	case model.CellNull:
		return "NULL", nil
	case model.CellBool:
		if c.Bool {
			return "TRUE", nil
		}
		return "FALSE", nil
	case model.CellString:
		return quoteSQLString(c.Str), nil
	case model.CellI16:
		return strconv.FormatInt(int64(c.I16), 10), nil
	case model.CellI32:
		return strconv.FormatInt(int64(c.I32), 10), nil
	case model.CellI64:
		return strconv.FormatInt(c.I64, 10), nil
	case model.CellF32:
		return strconv.FormatFloat(float64(c.F32), 'g', -1, 32), nil
	case model.CellF64:
		return strconv.FormatFloat(c.F64, 'g', -1, 64), nil
	case model.CellNumeric:
		if c.NumericNaN {
			return "NULL", nil
		}
		return c.Numeric.String(), nil
	case model.CellDate:
		return quoteSQLString(c.Date.Format("2006-01-02")), nil
	case model.CellTime:
		return quoteSQLString(formatTimeOfDay(c.Time)), nil
	case model.CellTimestamp:
		return quoteSQLString(c.Timestamp.Format("2006-01-02 15:04:05.999999")), nil
	case model.CellTimestampTz:
		return quoteSQLString(c.TimestampTz.Format("2006-01-02 15:04:05.999999Z07:00")), nil
	case model.CellUuid:
		return quoteSQLString(c.Uuid.String()), nil
	case model.CellBytes:
		return quoteSQLBytes(c.Bytes), nil
	default:
		return "", fmt.Errorf("literal: unhandled cell kind %v", c.Kind)
	}
}

// quoteSQLString escapes a value for use inside single quotes: embedded
// quotes and backslashes are doubled, so the raw bytes are never
// interpolated as anything but the content of a string literal.
func quoteSQLString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' {
			b.WriteString("''")
			continue
		}
		if r == '\\' {
			b.WriteString(`\\`)
			continue
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}

func quoteSQLBytes(b []byte) string {
	var sb strings.Builder
	sb.WriteString("b'")
	for _, c := range b {
		fmt.Fprintf(&sb, "\\x%02x", c)
	}
	sb.WriteByte('\'')
	return sb.String()
}

// formatTimeOfDay renders a microsecond-precision time-of-day duration as
// HH:MM:SS.ffffff.
func formatTimeOfDay(d time.Duration) string {
	us := d.Microseconds()
	h := us / 3_600_000_000
	us -= h * 3_600_000_000
	m := us / 60_000_000
	us -= m * 60_000_000
	s := us / 1_000_000
	us -= s * 1_000_000
	return fmt.Sprintf("%02d:%02d:%02d.%06d", h, m, s, us)
}
