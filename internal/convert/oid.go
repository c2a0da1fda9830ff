// Package convert implements the PostgreSQL-type <-> Cell <-> sink-type
// conversion policies (§4.F): which Cell variant a wire OID decodes to, and
// how a Cell renders back out as a sink column type or literal.
package convert

import (
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jfoltran/pgsink/internal/model"
)

// KindForOID classifies an upstream PostgreSQL type OID into the Cell
// variant the wire decoder must produce for it (§4.F canonical table).
// Unknown OIDs fall through to Bytes, carrying the raw wire bytes.
func KindForOID(oid uint32) model.CellKind {
	switch oid {
	case pgtype.BoolOID:
		return model.CellBool
	case pgtype.BPCharOID, pgtype.VarcharOID, pgtype.NameOID, pgtype.TextOID:
		return model.CellString
	case pgtype.Int2OID:
		return model.CellI16
	case pgtype.Int4OID:
		return model.CellI32
	case pgtype.Int8OID:
		return model.CellI64
	case pgtype.Float4OID:
		return model.CellF32
	case pgtype.Float8OID:
		return model.CellF64
	case pgtype.NumericOID:
		return model.CellNumeric
	case pgtype.DateOID:
		return model.CellDate
	case pgtype.TimeOID:
		return model.CellTime
	case pgtype.TimestampOID:
		return model.CellTimestamp
	case pgtype.TimestamptzOID:
		return model.CellTimestampTz
	case pgtype.UUIDOID:
		return model.CellUuid
	case pgtype.ByteaOID:
		return model.CellBytes
	default:
		return model.CellBytes
	}
}
