package wiredecode

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/jfoltran/pgsink/internal/model"
)

func encode(t *testing.T, oid uint32, v any) []byte {
	t.Helper()
	data, err := typeMap.Encode(oid, pgtype.BinaryFormatCode, v, nil)
	if err != nil {
		t.Fatalf("encode oid %d: %v", oid, err)
	}
	return data
}

func TestDecodeColumn_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		oid  uint32
		in   any
		want model.Cell
	}{
		{"bool", pgtype.BoolOID, true, model.BoolCell(true)},
		{"text", pgtype.TextOID, "hello", model.StringCell("hello")},
		{"int2", pgtype.Int2OID, int16(7), model.I16Cell(7)},
		{"int4", pgtype.Int4OID, int32(42), model.I32Cell(42)},
		{"int8", pgtype.Int8OID, int64(9000), model.I64Cell(9000)},
		{"float4", pgtype.Float4OID, float32(1.5), model.F32Cell(1.5)},
		{"float8", pgtype.Float8OID, float64(2.5), model.F64Cell(2.5)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := encode(t, tc.oid, tc.in)
			got, toastUnchanged, err := DecodeColumn(RawColumn{Kind: 'b', Data: data}, tc.oid)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if toastUnchanged {
				t.Fatal("unexpected toast-unchanged")
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestDecodeColumn_Null(t *testing.T) {
	cell, toastUnchanged, err := DecodeColumn(RawColumn{Kind: 'n'}, pgtype.Int4OID)
	if err != nil {
		t.Fatal(err)
	}
	if toastUnchanged {
		t.Fatal("null should not be toast-unchanged")
	}
	if !cell.IsNull() {
		t.Fatalf("expected null cell, got %+v", cell)
	}
}

func TestDecodeColumn_UnchangedToast(t *testing.T) {
	_, toastUnchanged, err := DecodeColumn(RawColumn{Kind: 'u'}, pgtype.TextOID)
	if err != nil {
		t.Fatal(err)
	}
	if !toastUnchanged {
		t.Fatal("expected toast-unchanged flag")
	}
}

func TestDecodeColumn_TextFormatRejected(t *testing.T) {
	_, _, err := DecodeColumn(RawColumn{Kind: 't', Data: []byte("42")}, pgtype.Int4OID)
	if err == nil {
		t.Fatal("expected error for text format")
	}
	if _, ok := err.(*model.ErrUnsupportedFormat); !ok {
		t.Fatalf("expected ErrUnsupportedFormat, got %T: %v", err, err)
	}
}

func TestDecodeColumn_Uuid(t *testing.T) {
	id := uuid.New()
	data := encode(t, pgtype.UUIDOID, [16]byte(id))
	got, _, err := DecodeColumn(RawColumn{Kind: 'b', Data: data}, pgtype.UUIDOID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != model.CellUuid || got.Uuid != id {
		t.Fatalf("got %+v want uuid %s", got, id)
	}
}

func TestDecodeColumn_Numeric(t *testing.T) {
	num := pgtype.Numeric{Int: decimal.RequireFromString("123.45").Coefficient(), Exp: -2, Valid: true}
	data, err := num.EncodeBinary(typeMap, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := DecodeColumn(RawColumn{Kind: 'b', Data: data}, pgtype.NumericOID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != model.CellNumeric {
		t.Fatalf("expected numeric cell, got %+v", got)
	}
	if !got.Numeric.Equal(decimal.RequireFromString("123.45")) {
		t.Fatalf("got %s want 123.45", got.Numeric)
	}
}

func TestDecodeColumn_NumericNaN(t *testing.T) {
	num := pgtype.Numeric{NaN: true, Valid: true}
	data, err := num.EncodeBinary(typeMap, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := DecodeColumn(RawColumn{Kind: 'b', Data: data}, pgtype.NumericOID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.NumericNaN {
		t.Fatalf("expected NaN cell, got %+v", got)
	}
}

func TestDecodeTuple_LengthMismatch(t *testing.T) {
	cols := []model.ColumnSchema{{Name: "a", Type: pgtype.Int4OID}, {Name: "b", Type: pgtype.Int4OID}}
	_, _, err := DecodeTuple([]RawColumn{{Kind: 'n'}}, cols)
	if err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestDecodeTuple_UnchangedToastList(t *testing.T) {
	cols := []model.ColumnSchema{{Name: "id", Type: pgtype.Int4OID}, {Name: "body", Type: pgtype.TextOID}}
	raw := []RawColumn{
		{Kind: 'b', Data: encode(t, pgtype.Int4OID, int32(1))},
		{Kind: 'u'},
	}
	row, unchanged, err := DecodeTuple(raw, cols)
	if err != nil {
		t.Fatal(err)
	}
	if len(unchanged) != 1 || unchanged[0] != "body" {
		t.Fatalf("expected unchanged=[body], got %v", unchanged)
	}
	if row.Cells[0].I32 != 1 {
		t.Fatalf("expected id=1, got %+v", row.Cells[0])
	}
}
