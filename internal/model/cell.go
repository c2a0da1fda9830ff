package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CellKind discriminates the Cell tagged union. No variant other than the
// ones listed here is ever introduced; unknown upstream types are carried
// as Bytes.
type CellKind int

const (
	CellNull CellKind = iota
	CellBool
	CellString
	CellI16
	CellI32
	CellI64
	CellF32
	CellF64
	CellNumeric
	CellDate
	CellTime
	CellTimestamp
	CellTimestampTz
	CellUuid
	CellBytes
)

func (k CellKind) String() string {
	switch k {
	case CellNull:
		return "Null"
	case CellBool:
		return "Bool"
	case CellString:
		return "String"
	case CellI16:
		return "I16"
	case CellI32:
		return "I32"
	case CellI64:
		return "I64"
	case CellF32:
		return "F32"
	case CellF64:
		return "F64"
	case CellNumeric:
		return "Numeric"
	case CellDate:
		return "Date"
	case CellTime:
		return "Time"
	case CellTimestamp:
		return "Timestamp"
	case CellTimestampTz:
		return "TimestampTz"
	case CellUuid:
		return "Uuid"
	case CellBytes:
		return "Bytes"
	default:
		return "Unknown"
	}
}

// Cell is a tagged value carried positionally in a TableRow. Exactly one of
// the typed fields is meaningful, selected by Kind; this is a discriminant +
// payload encoding of a closed sum type, Go having no native one.
type Cell struct {
	Kind CellKind

	Bool        bool
	Str         string
	I16         int16
	I32         int32
	I64         int64
	F32         float32
	F64         float64
	Numeric     decimal.Decimal
	NumericNaN  bool
	Date        time.Time // truncated to the day
	Time        time.Duration
	Timestamp   time.Time // no zone, microsecond precision
	TimestampTz time.Time // normalized to UTC
	Uuid        uuid.UUID
	Bytes       []byte
}

func NullCell() Cell                { return Cell{Kind: CellNull} }
func BoolCell(v bool) Cell          { return Cell{Kind: CellBool, Bool: v} }
func StringCell(v string) Cell      { return Cell{Kind: CellString, Str: v} }
func I16Cell(v int16) Cell          { return Cell{Kind: CellI16, I16: v} }
func I32Cell(v int32) Cell          { return Cell{Kind: CellI32, I32: v} }
func I64Cell(v int64) Cell          { return Cell{Kind: CellI64, I64: v} }
func F32Cell(v float32) Cell        { return Cell{Kind: CellF32, F32: v} }
func F64Cell(v float64) Cell        { return Cell{Kind: CellF64, F64: v} }
func NumericCell(v decimal.Decimal) Cell {
	return Cell{Kind: CellNumeric, Numeric: v}
}
func NumericNaNCell() Cell                { return Cell{Kind: CellNumeric, NumericNaN: true} }
func DateCell(v time.Time) Cell           { return Cell{Kind: CellDate, Date: v} }
func TimeCell(v time.Duration) Cell       { return Cell{Kind: CellTime, Time: v} }
func TimestampCell(v time.Time) Cell      { return Cell{Kind: CellTimestamp, Timestamp: v} }
func TimestampTzCell(v time.Time) Cell    { return Cell{Kind: CellTimestampTz, TimestampTz: v.UTC()} }
func UuidCell(v uuid.UUID) Cell           { return Cell{Kind: CellUuid, Uuid: v} }
func BytesCell(v []byte) Cell             { return Cell{Kind: CellBytes, Bytes: v} }

func (c Cell) IsNull() bool { return c.Kind == CellNull }
