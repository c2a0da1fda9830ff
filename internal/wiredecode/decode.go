// Package wiredecode is the pure pgoutput tuple/column decoder (component
// A): buffer in, Cell/TableRow out, no I/O. Only the binary tuple format is
// supported — the source always requests "binary 'true'" on its
// replication slot, and a text-format column is treated as a protocol
// error, since a non-Postgres sink cannot forward raw wire bytes straight
// into a parameterized statement the way a Postgres-to-Postgres applier
// would.
package wiredecode

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/jfoltran/pgsink/internal/convert"
	"github.com/jfoltran/pgsink/internal/model"
)

// RawColumn is one wire-format tuple entry as handed over by pglogrepl:
// Kind is 'n' (null), 'u' (unchanged toast), 't' (text), or 'b' (binary);
// Data is present only for 't'/'b'.
type RawColumn struct {
	Kind byte
	Data []byte
}

var typeMap = pgtype.NewMap()

// DecodeColumn decodes one raw wire column into a Cell, given the
// upstream type OID from the relation's column schema. toastUnchanged is
// true for a 'u' entry — the wire omitted an unchanged TOASTed value; Cell
// is the zero value in that case and the caller (the pipeline engine, never
// a sink) must merge it from old_row, as §4.A/§4.E require.
func DecodeColumn(raw RawColumn, oid uint32) (cell model.Cell, toastUnchanged bool, err error) {
	switch raw.Kind {
	case 'n':
		return model.NullCell(), false, nil
	case 'u':
		return model.Cell{}, true, nil
	case 't':
		return model.Cell{}, false, &model.ErrUnsupportedFormat{Format: raw.Kind}
	case 'b':
		cell, err = decodeBinary(raw.Data, oid)
		return cell, false, err
	default:
		return model.Cell{}, false, &model.ErrUnsupportedFormat{Format: raw.Kind}
	}
}

func decodeBinary(data []byte, oid uint32) (model.Cell, error) {
	kind := convert.KindForOID(oid)
	switch kind {
	case model.CellBool:
		var v bool
		if err := typeMap.Scan(oid, pgtype.BinaryFormatCode, data, &v); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.BoolCell(v), nil
	case model.CellString:
		var v string
		if err := typeMap.Scan(oid, pgtype.BinaryFormatCode, data, &v); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.StringCell(v), nil
	case model.CellI16:
		var v int16
		if err := typeMap.Scan(oid, pgtype.BinaryFormatCode, data, &v); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.I16Cell(v), nil
	case model.CellI32:
		var v int32
		if err := typeMap.Scan(oid, pgtype.BinaryFormatCode, data, &v); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.I32Cell(v), nil
	case model.CellI64:
		var v int64
		if err := typeMap.Scan(oid, pgtype.BinaryFormatCode, data, &v); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.I64Cell(v), nil
	case model.CellF32:
		var v float32
		if err := typeMap.Scan(oid, pgtype.BinaryFormatCode, data, &v); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.F32Cell(v), nil
	case model.CellF64:
		var v float64
		if err := typeMap.Scan(oid, pgtype.BinaryFormatCode, data, &v); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.F64Cell(v), nil
	case model.CellNumeric:
		return decodeNumeric(data, oid)
	case model.CellDate:
		var v pgtype.Date
		if err := v.DecodeBinary(typeMap, data); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.DateCell(v.Time), nil
	case model.CellTime:
		var v pgtype.Time
		if err := v.DecodeBinary(typeMap, data); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.TimeCell(time.Duration(v.Microseconds) * time.Microsecond), nil
	case model.CellTimestamp:
		var v pgtype.Timestamp
		if err := v.DecodeBinary(typeMap, data); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.TimestampCell(v.Time), nil
	case model.CellTimestampTz:
		var v pgtype.Timestamptz
		if err := v.DecodeBinary(typeMap, data); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.TimestampTzCell(v.Time), nil
	case model.CellUuid:
		var v [16]byte
		if err := typeMap.Scan(oid, pgtype.BinaryFormatCode, data, &v); err != nil {
			return model.Cell{}, invalidValue(oid, err)
		}
		return model.UuidCell(uuid.UUID(v)), nil
	case model.CellBytes:
		return model.BytesCell(append([]byte(nil), data...)), nil
	default:
		return model.BytesCell(append([]byte(nil), data...)), nil
	}
}

func decodeNumeric(data []byte, oid uint32) (model.Cell, error) {
	var v pgtype.Numeric
	if err := v.DecodeBinary(typeMap, data); err != nil {
		return model.Cell{}, invalidValue(oid, err)
	}
	if v.NaN {
		return model.NumericNaNCell(), nil
	}
	f := v.Int
	if f == nil {
		return model.NumericCell(decimal.Zero), nil
	}
	d := decimal.NewFromBigInt(f, v.Exp)
	return model.NumericCell(d), nil
}

func invalidValue(oid uint32, err error) error {
	return &model.ErrInvalidValue{Column: fmt.Sprintf("oid:%d", oid), Reason: err.Error()}
}

// DecodeTuple decodes a full tuple (row) of raw columns against an ordered
// column schema. The result's length always matches cols on success.
// unchangedToast lists, by column name, entries that were 'u' and still
// need merging from old_row before the row may be forwarded to a sink.
func DecodeTuple(raw []RawColumn, cols []model.ColumnSchema) (row model.TableRow, unchangedToast []string, err error) {
	if len(raw) != len(cols) {
		return model.TableRow{}, nil, &model.LengthMismatchError{Expected: len(cols), Got: len(raw)}
	}
	cells := make([]model.Cell, len(raw))
	for i, rc := range raw {
		cell, toastUnchanged, err := DecodeColumn(rc, cols[i].Type)
		if err != nil {
			return model.TableRow{}, nil, fmt.Errorf("column %q: %w", cols[i].Name, err)
		}
		if toastUnchanged {
			unchangedToast = append(unchangedToast, cols[i].Name)
		}
		cells[i] = cell
	}
	return model.TableRow{Cells: cells}, unchangedToast, nil
}
