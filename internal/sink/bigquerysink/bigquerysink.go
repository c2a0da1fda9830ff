// Package bigquerysink is a Sink backed by Google BigQuery. Grounded on
// original_source/pg_replicate/src/clients/bigquery.rs: one destination
// table per source table plus two logical state tables (`last_lsn`,
// `copied_tables`), and a `_CHANGE_TYPE` column distinguishing
// UPSERT/DELETE rows forwarded during the CDC phase. Unlike the Rust
// original, every statement that carries row data is either a parameterised
// query or an Inserter.Put call — never string-interpolated.
package bigquerysink

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/jfoltran/pgsink/internal/convert"
	"github.com/jfoltran/pgsink/internal/model"
)

// civilTimeBase anchors a microsecond-of-day Cell.Time duration to a
// concrete time.Time so civil.TimeOf can extract hour/min/sec/nanosecond.
var civilTimeBase = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Config selects the BigQuery destination.
type Config struct {
	ProjectID string
	DatasetID string
	SAKeyPath string // optional; empty uses ambient application-default credentials
}

// Sink writes schemas/rows/events into BigQuery tables.
type Sink struct {
	cfg    Config
	logger zerolog.Logger
	client *bigquery.Client

	mu      sync.Mutex
	schemas map[model.TableId]*model.TableSchema
	tables  map[model.TableId]string // table_id -> bigquery table name, once created
}

const changeTypeColumn = "_CHANGE_TYPE"

// New connects to BigQuery and ensures the two state tables exist.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Sink, error) {
	var opts []option.ClientOption
	if cfg.SAKeyPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.SAKeyPath))
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, &model.SinkError{Reason: "connect bigquery", Err: err}
	}
	s := &Sink{
		cfg:     cfg,
		logger:  logger.With().Str("component", "bigquerysink").Logger(),
		client:  client,
		schemas: make(map[model.TableId]*model.TableSchema),
		tables:  make(map[model.TableId]string),
	}
	if err := s.ensureStateTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) dataset() *bigquery.Dataset { return s.client.Dataset(s.cfg.DatasetID) }

func (s *Sink) ensureStateTables(ctx context.Context) error {
	lastLSN := s.dataset().Table("last_lsn")
	if _, err := lastLSN.Metadata(ctx); err != nil {
		schema := bigquery.Schema{
			{Name: "id", Type: bigquery.IntegerFieldType, Required: true},
			{Name: "lsn", Type: bigquery.IntegerFieldType, Required: true},
		}
		if err := lastLSN.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
			return &model.SinkError{Reason: "create last_lsn table", Err: err}
		}
		ins := lastLSN.Inserter()
		if err := ins.Put(ctx, []*bigquery.ValuesSaver{{
			Schema: schema, Row: []bigquery.Value{int64(1), int64(0)},
		}}); err != nil {
			return &model.SinkError{Reason: "seed last_lsn table", Err: err}
		}
	}

	copiedTables := s.dataset().Table("copied_tables")
	if _, err := copiedTables.Metadata(ctx); err != nil {
		schema := bigquery.Schema{
			{Name: "table_id", Type: bigquery.IntegerFieldType, Required: true},
		}
		if err := copiedTables.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
			return &model.SinkError{Reason: "create copied_tables table", Err: err}
		}
	}
	return nil
}

// WriteTableSchemas creates one destination table per source table if
// missing, with a trailing _CHANGE_TYPE column for CDC-phase forwarding.
func (s *Sink) WriteTableSchemas(ctx context.Context, schemas map[model.TableId]*model.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sc := range schemas {
		s.schemas[id] = sc
		tableName := sc.TableName.Name
		table := s.dataset().Table(tableName)
		if _, err := table.Metadata(ctx); err == nil {
			s.tables[id] = tableName
			continue
		}

		bqSchema := make(bigquery.Schema, 0, len(sc.Columns)+1)
		for _, col := range sc.Columns {
			bqSchema = append(bqSchema, &bigquery.FieldSchema{
				Name:     col.Name,
				Type:     convert.BigQueryFieldType(cellKindForColumn(col)),
				Required: !col.Nullable,
			})
		}
		bqSchema = append(bqSchema, &bigquery.FieldSchema{Name: changeTypeColumn, Type: bigquery.StringFieldType})

		meta := &bigquery.TableMetadata{Schema: bqSchema}
		if sc.HasIdentity() {
			var keys []string
			for _, col := range sc.Columns {
				if col.Identity {
					keys = append(keys, col.Name)
				}
			}
			meta.Clustering = &bigquery.Clustering{Fields: keys}
		}
		if err := table.Create(ctx, meta); err != nil {
			return &model.SinkError{Reason: fmt.Sprintf("create table %s", tableName), Err: err}
		}
		s.tables[id] = tableName
	}
	return nil
}

// cellKindForColumn is a thin bridge: the column schema carries a PostgreSQL
// OID (convert.KindForOID), not a Cell.Kind directly.
func cellKindForColumn(col model.ColumnSchema) model.CellKind {
	return convert.KindForOID(col.Type)
}

func (s *Sink) WriteTableRows(ctx context.Context, tableID model.TableId, batch []model.TableRow) error {
	s.mu.Lock()
	tableName, schema := s.tables[tableID], s.schemas[tableID]
	s.mu.Unlock()
	if tableName == "" {
		return &model.SinkError{Reason: fmt.Sprintf("write_table_rows before write_table_schemas for table %d", tableID)}
	}

	savers := make([]*bigquery.ValuesSaver, len(batch))
	for i, row := range batch {
		values, err := rowValues(schema, row)
		if err != nil {
			return &model.SinkError{Reason: "convert row", Err: err}
		}
		savers[i] = &bigquery.ValuesSaver{Schema: bqSchemaFor(schema, false), Row: values}
	}
	if err := s.dataset().Table(tableName).Inserter().Put(ctx, savers); err != nil {
		return &model.SinkError{Reason: fmt.Sprintf("insert rows into %s", tableName), Err: err}
	}
	return nil
}

func (s *Sink) TableCopied(ctx context.Context, tableID model.TableId) error {
	ins := s.dataset().Table("copied_tables").Inserter()
	err := ins.Put(ctx, []*bigquery.ValuesSaver{{
		Schema: bigquery.Schema{{Name: "table_id", Type: bigquery.IntegerFieldType}},
		Row:    []bigquery.Value{int64(tableID)},
	}})
	if err != nil {
		return &model.SinkError{Reason: "record table_copied", Err: err}
	}
	return nil
}

func (s *Sink) TruncateTable(ctx context.Context, tableID model.TableId) error {
	s.mu.Lock()
	tableName := s.tables[tableID]
	s.mu.Unlock()
	if tableName == "" {
		return nil
	}
	q := s.client.Query(fmt.Sprintf("DELETE FROM `%s.%s.%s` WHERE TRUE", s.cfg.ProjectID, s.cfg.DatasetID, tableName))
	return runQuery(ctx, q)
}

// WriteCdcEvents forwards Insert/Update as UPSERT rows and Delete as DELETE
// rows (identity columns only populated, per §6), durable once Put returns.
func (s *Sink) WriteCdcEvents(ctx context.Context, batch []model.CdcEvent) (model.LSN, bool, error) {
	rowsByTable := map[model.TableId][]*bigquery.ValuesSaver{}
	var lastCommit model.LSN
	var hasCommit bool

	for _, ev := range batch {
		switch ev.Kind {
		case model.EventCommit:
			lastCommit, hasCommit = ev.EndLSN, true
		case model.EventInsert, model.EventUpdate:
			s.mu.Lock()
			schema := s.schemas[ev.TableId]
			s.mu.Unlock()
			if schema == nil || ev.NewRow == nil {
				continue
			}
			values, err := rowValues(schema, *ev.NewRow)
			if err != nil {
				return 0, false, &model.SinkError{Reason: "convert cdc row", Err: err}
			}
			values = append(values, bigquery.Value("UPSERT"))
			rowsByTable[ev.TableId] = append(rowsByTable[ev.TableId], &bigquery.ValuesSaver{
				Schema: bqSchemaFor(schema, true), Row: values,
			})
		case model.EventDelete:
			s.mu.Lock()
			schema := s.schemas[ev.TableId]
			s.mu.Unlock()
			if schema == nil || ev.OldRow == nil {
				continue
			}
			values, err := identityOnlyRowValues(schema, *ev.OldRow)
			if err != nil {
				return 0, false, &model.SinkError{Reason: "convert cdc delete row", Err: err}
			}
			values = append(values, bigquery.Value("DELETE"))
			rowsByTable[ev.TableId] = append(rowsByTable[ev.TableId], &bigquery.ValuesSaver{
				Schema: bqSchemaFor(schema, true), Row: values,
			})
		case model.EventTruncate:
			for _, id := range ev.TableIds {
				if err := s.TruncateTable(ctx, id); err != nil {
					return 0, false, err
				}
			}
		}
	}

	for tableID, rows := range rowsByTable {
		s.mu.Lock()
		tableName := s.tables[tableID]
		s.mu.Unlock()
		if tableName == "" {
			continue
		}
		if err := s.dataset().Table(tableName).Inserter().Put(ctx, rows); err != nil {
			return 0, false, &model.SinkError{Reason: fmt.Sprintf("stream cdc rows into %s", tableName), Err: err}
		}
	}

	if !hasCommit {
		return 0, false, nil
	}
	if err := s.setLastLSN(ctx, lastCommit); err != nil {
		return 0, false, err
	}
	return lastCommit, true, nil
}

func (s *Sink) setLastLSN(ctx context.Context, lsn model.LSN) error {
	q := s.client.Query(fmt.Sprintf(
		"UPDATE `%s.%s.last_lsn` SET lsn = @lsn WHERE id = 1", s.cfg.ProjectID, s.cfg.DatasetID))
	q.Parameters = []bigquery.QueryParameter{{Name: "lsn", Value: int64(lsn)}}
	return runQuery(ctx, q)
}

func (s *Sink) GetResumptionState(ctx context.Context) (model.ResumptionState, error) {
	q := s.client.Query(fmt.Sprintf("SELECT lsn FROM `%s.%s.last_lsn` WHERE id = 1", s.cfg.ProjectID, s.cfg.DatasetID))
	it, err := q.Read(ctx)
	if err != nil {
		return model.ResumptionState{}, &model.SinkError{Reason: "read last_lsn", Err: err}
	}
	var lastLSN int64
	var row []bigquery.Value
	if err := it.Next(&row); err == nil && len(row) == 1 {
		if v, ok := row[0].(int64); ok {
			lastLSN = v
		}
	}

	copied := make(map[model.TableId]bool)
	q2 := s.client.Query(fmt.Sprintf("SELECT table_id FROM `%s.%s.copied_tables`", s.cfg.ProjectID, s.cfg.DatasetID))
	it2, err := q2.Read(ctx)
	if err != nil {
		return model.ResumptionState{}, &model.SinkError{Reason: "read copied_tables", Err: err}
	}
	for {
		var r []bigquery.Value
		if err := it2.Next(&r); err != nil {
			break
		}
		if len(r) == 1 {
			if v, ok := r[0].(int64); ok {
				copied[model.TableId(v)] = true
			}
		}
	}

	return model.ResumptionState{LastLSN: model.LSN(lastLSN), CopiedTables: copied}, nil
}

func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close()
}

func runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return &model.SinkError{Reason: "run query", Err: err}
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return &model.SinkError{Reason: "await query", Err: err}
	}
	if err := status.Err(); err != nil {
		return &model.SinkError{Reason: "query failed", Err: err}
	}
	return nil
}

func bqSchemaFor(schema *model.TableSchema, withChangeType bool) bigquery.Schema {
	s := make(bigquery.Schema, 0, len(schema.Columns)+1)
	for _, col := range schema.Columns {
		s = append(s, &bigquery.FieldSchema{Name: col.Name, Type: convert.BigQueryFieldType(cellKindForColumn(col))})
	}
	if withChangeType {
		s = append(s, &bigquery.FieldSchema{Name: changeTypeColumn, Type: bigquery.StringFieldType})
	}
	return s
}

func rowValues(schema *model.TableSchema, row model.TableRow) ([]bigquery.Value, error) {
	if len(schema.Columns) != len(row.Cells) {
		return nil, &model.LengthMismatchError{Expected: len(schema.Columns), Got: len(row.Cells)}
	}
	values := make([]bigquery.Value, len(row.Cells))
	for i, cell := range row.Cells {
		v, err := cellToBQValue(cell)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// identityOnlyRowValues renders a row for a Delete forwarding row: identity
// columns carry their value, every other column is Null (§6).
func identityOnlyRowValues(schema *model.TableSchema, row model.TableRow) ([]bigquery.Value, error) {
	if len(schema.Columns) != len(row.Cells) {
		return nil, &model.LengthMismatchError{Expected: len(schema.Columns), Got: len(row.Cells)}
	}
	values := make([]bigquery.Value, len(row.Cells))
	for i, col := range schema.Columns {
		if !col.Identity {
			values[i] = nil
			continue
		}
		v, err := cellToBQValue(row.Cells[i])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func cellToBQValue(c model.Cell) (bigquery.Value, error) {
	switch c.Kind {
	case model.CellNull:
		return nil, nil
	case model.CellBool:
		return c.Bool, nil
	case model.CellString:
		return c.Str, nil
	case model.CellI16:
		return int64(c.I16), nil
	case model.CellI32:
		return int64(c.I32), nil
	case model.CellI64:
		return c.I64, nil
	case model.CellF32:
		return float64(c.F32), nil
	case model.CellF64:
		return c.F64, nil
	case model.CellNumeric:
		if c.NumericNaN {
			return nil, nil
		}
		r, ok := new(big.Rat).SetString(c.Numeric.String())
		if !ok {
			return nil, fmt.Errorf("numeric cell %q is not a valid rational", c.Numeric.String())
		}
		return r, nil
	case model.CellDate:
		return civil.DateOf(c.Date), nil
	case model.CellTime:
		return civil.TimeOf(civilTimeBase.Add(c.Time)), nil
	case model.CellTimestamp:
		return c.Timestamp, nil
	case model.CellTimestampTz:
		return c.TimestampTz, nil
	case model.CellUuid:
		return c.Uuid.String(), nil
	case model.CellBytes:
		return c.Bytes, nil
	default:
		return nil, fmt.Errorf("unhandled cell kind %v", c.Kind)
	}
}
