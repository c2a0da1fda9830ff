package convert

import (
	"cloud.google.com/go/bigquery"

	"github.com/jfoltran/pgsink/internal/model"
)

// BigQueryFieldType returns the reverse mapping for a Cell variant, grounded
// on original_source/pg_replicate/src/clients/bigquery.rs's
// postgres_type_to_bigquery_type table (§4.F).
func BigQueryFieldType(kind model.CellKind) bigquery.FieldType {
	switch kind {
	case model.CellBool:
		return bigquery.BooleanFieldType
	case model.CellString, model.CellUuid:
		return bigquery.StringFieldType
	case model.CellI16, model.CellI32, model.CellI64:
		return bigquery.IntegerFieldType
	case model.CellF32, model.CellF64:
		return bigquery.FloatFieldType
	case model.CellNumeric:
		return bigquery.BigNumericFieldType
	case model.CellDate:
		return bigquery.DateFieldType
	case model.CellTime:
		return bigquery.TimeFieldType
	case model.CellTimestamp, model.CellTimestampTz:
		return bigquery.TimestampFieldType
	case model.CellBytes:
		return bigquery.BytesFieldType
	default:
		return bigquery.BytesFieldType
	}
}

// DeltaParquetKind mirrors the same reverse mapping for the Delta sink's
// parquet schema, named after the Delta/parquet primitive it writes rather
// than BigQuery's enum.
type DeltaParquetKind int

const (
	DeltaBool DeltaParquetKind = iota
	DeltaString
	DeltaInt64
	DeltaDouble
	DeltaDecimal
	DeltaDate
	DeltaTimeMicros
	DeltaTimestampMicros
	DeltaBytes
)

func DeltaFieldKind(kind model.CellKind) DeltaParquetKind {
	switch kind {
	case model.CellBool:
		return DeltaBool
	case model.CellString, model.CellUuid:
		return DeltaString
	case model.CellI16, model.CellI32, model.CellI64:
		return DeltaInt64
	case model.CellF32, model.CellF64:
		return DeltaDouble
	case model.CellNumeric:
		return DeltaDecimal
	case model.CellDate:
		return DeltaDate
	case model.CellTime:
		return DeltaTimeMicros
	case model.CellTimestamp, model.CellTimestampTz:
		return DeltaTimestampMicros
	default:
		return DeltaBytes
	}
}
