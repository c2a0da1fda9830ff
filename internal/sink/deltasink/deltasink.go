// Package deltasink is a Sink backed by a Delta-Lake-style table: parquet
// data files plus JSON bookkeeping files under `_delta_log` (schema and
// truncate-marker files are added; last_lsn.json and copied_tables.json are
// overwritten in place), grounded on
// original_source/pg_replicate/examples/delta.rs's `DeltaSink::new(path)`
// shape (a single local-or-object-store path argument) generalized with the
// pack's own parquet/object-storage stack (`xitongsys/parquet-go` +
// `parquet-go-source`, `minio-go/v7`) since the original's `deltalake` crate
// has no Go analogue in the example corpus.
package deltasink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/jfoltran/pgsink/internal/convert"
	"github.com/jfoltran/pgsink/internal/model"
)

// Config selects the Delta-Lake destination path, `file://` for local disk
// or `s3://bucket/prefix` for an S3-compatible object store via minio-go.
type Config struct {
	Path        string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
}

// Sink writes schemas/rows/events as parquet part files under Path,
// tracking resumption state in a JSON _delta_log.
type Sink struct {
	cfg    Config
	logger zerolog.Logger
	store  blobStore

	mu      sync.Mutex
	schemas map[model.TableId]*model.TableSchema
	part    map[model.TableId]int // next part-file sequence number per table
}

func New(cfg Config, logger zerolog.Logger) (*Sink, error) {
	store, err := newBlobStore(cfg)
	if err != nil {
		return nil, err
	}
	return &Sink{
		cfg:     cfg,
		logger:  logger.With().Str("component", "deltasink").Logger(),
		store:   store,
		schemas: make(map[model.TableId]*model.TableSchema),
		part:    make(map[model.TableId]int),
	}, nil
}

// blobStore abstracts local-disk and S3-compatible writes so the parquet
// writer (which needs a real file) and the JSON log (plain bytes) share one
// path scheme.
type blobStore interface {
	WriteFile(ctx context.Context, relPath string, data []byte) error
	ReadFile(ctx context.Context, relPath string) ([]byte, error)
	// LocalStagingPath returns a real filesystem path the parquet writer can
	// open directly, and a finish func that uploads it (a no-op for local
	// disk, an object-store Put for S3).
	LocalStagingPath(relPath string) (stagingPath string, finish func(ctx context.Context) error, err error)
}

func newBlobStore(cfg Config) (blobStore, error) {
	if strings.HasPrefix(cfg.Path, "s3://") {
		rest := strings.TrimPrefix(cfg.Path, "s3://")
		parts := strings.SplitN(rest, "/", 2)
		bucket := parts[0]
		prefix := ""
		if len(parts) == 2 {
			prefix = parts[1]
		}
		client, err := minio.New(cfg.S3Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
			Secure: cfg.S3UseSSL,
		})
		if err != nil {
			return nil, &model.SinkError{Reason: "connect s3 object store", Err: err}
		}
		return &s3Store{client: client, bucket: bucket, prefix: prefix}, nil
	}

	root := strings.TrimPrefix(cfg.Path, "file://")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &model.SinkError{Reason: "create delta path", Err: err}
	}
	return &localStore{root: root}, nil
}

type localStore struct{ root string }

func (l *localStore) abs(relPath string) string { return filepath.Join(l.root, relPath) }

func (l *localStore) WriteFile(ctx context.Context, relPath string, data []byte) error {
	p := l.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (l *localStore) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	return os.ReadFile(l.abs(relPath))
}

func (l *localStore) LocalStagingPath(relPath string) (string, func(ctx context.Context) error, error) {
	p := l.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", nil, err
	}
	return p, func(ctx context.Context) error { return nil }, nil
}

type s3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func (s *s3Store) key(relPath string) string {
	if s.prefix == "" {
		return relPath
	}
	return s.prefix + "/" + relPath
}

func (s *s3Store) WriteFile(ctx context.Context, relPath string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(relPath), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (s *s3Store) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(relPath), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *s3Store) LocalStagingPath(relPath string) (string, func(ctx context.Context) error, error) {
	f, err := os.CreateTemp("", "deltasink-*.parquet")
	if err != nil {
		return "", nil, err
	}
	staging := f.Name()
	f.Close()
	finish := func(ctx context.Context) error {
		defer os.Remove(staging)
		data, err := os.ReadFile(staging)
		if err != nil {
			return err
		}
		_, err = s.client.PutObject(ctx, s.bucket, s.key(relPath), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
		return err
	}
	return staging, finish, nil
}

// --- _delta_log bookkeeping ---

type lastLSNLog struct {
	LSN model.LSN `json:"lsn"`
}

type copiedTablesLog struct {
	TableIDs []model.TableId `json:"table_ids"`
}

func (s *Sink) logPath(name string) string { return filepath.Join("_delta_log", name) }

func (s *Sink) readLastLSN(ctx context.Context) model.LSN {
	data, err := s.store.ReadFile(ctx, s.logPath("last_lsn.json"))
	if err != nil {
		return 0
	}
	var l lastLSNLog
	if json.Unmarshal(data, &l) != nil {
		return 0
	}
	return l.LSN
}

func (s *Sink) writeLastLSN(ctx context.Context, lsn model.LSN) error {
	data, err := json.Marshal(lastLSNLog{LSN: lsn})
	if err != nil {
		return err
	}
	return s.store.WriteFile(ctx, s.logPath("last_lsn.json"), data)
}

func (s *Sink) readCopiedTables(ctx context.Context) map[model.TableId]bool {
	out := make(map[model.TableId]bool)
	data, err := s.store.ReadFile(ctx, s.logPath("copied_tables.json"))
	if err != nil {
		return out
	}
	var c copiedTablesLog
	if json.Unmarshal(data, &c) != nil {
		return out
	}
	for _, id := range c.TableIDs {
		out[id] = true
	}
	return out
}

func (s *Sink) writeCopiedTables(ctx context.Context, copied map[model.TableId]bool) error {
	c := copiedTablesLog{TableIDs: make([]model.TableId, 0, len(copied))}
	for id := range copied {
		c.TableIDs = append(c.TableIDs, id)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.store.WriteFile(ctx, s.logPath("copied_tables.json"), data)
}

// WriteTableSchemas records each schema's parquet field layout in the log
// so a reader never needs to infer types from data alone.
func (s *Sink) WriteTableSchemas(ctx context.Context, schemas map[model.TableId]*model.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sc := range schemas {
		s.schemas[id] = sc
		data, err := json.Marshal(sc)
		if err != nil {
			return &model.SinkError{Reason: "marshal schema", Err: err}
		}
		relPath := s.logPath(fmt.Sprintf("schema_%s.json", sc.TableName.String()))
		if err := s.store.WriteFile(ctx, relPath, data); err != nil {
			return &model.SinkError{Reason: "write schema log", Err: err}
		}
	}
	return nil
}

func (s *Sink) tableDir(tableID model.TableId) string {
	s.mu.Lock()
	sc := s.schemas[tableID]
	s.mu.Unlock()
	if sc == nil {
		return fmt.Sprintf("table_%d", tableID)
	}
	return sc.TableName.String()
}

func (s *Sink) WriteTableRows(ctx context.Context, tableID model.TableId, batch []model.TableRow) error {
	return s.writeParquetBatch(ctx, tableID, batch, nil)
}

// writeParquetBatch writes one part file. changeType, when non-nil, is
// appended to every row as `_CHANGE_TYPE` (§6 CDC forwarding shape); nil
// means this is a plain copy-phase batch with no such column.
func (s *Sink) writeParquetBatch(ctx context.Context, tableID model.TableId, rows []model.TableRow, changeType []string) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	schema := s.schemas[tableID]
	partNum := s.part[tableID]
	s.part[tableID] = partNum + 1
	s.mu.Unlock()
	if schema == nil {
		return &model.SinkError{Reason: fmt.Sprintf("write rows before write_table_schemas for table %d", tableID)}
	}

	relPath := filepath.Join(s.tableDir(tableID), fmt.Sprintf("part-%08d.parquet", partNum))
	stagingPath, finish, err := s.store.LocalStagingPath(relPath)
	if err != nil {
		return &model.SinkError{Reason: "stage parquet file", Err: err}
	}

	fw, err := local.NewLocalFileWriter(stagingPath)
	if err != nil {
		return &model.SinkError{Reason: "open parquet writer", Err: err}
	}
	pw, err := writer.NewJSONWriter(parquetJSONSchema(schema, changeType != nil), fw, 4)
	if err != nil {
		fw.Close()
		return &model.SinkError{Reason: "init parquet writer", Err: err}
	}

	for i, row := range rows {
		rec, err := parquetJSONRow(schema, row, valueOrEmpty(changeType, i))
		if err != nil {
			return &model.SinkError{Reason: "encode parquet row", Err: err}
		}
		if err := pw.Write(rec); err != nil {
			return &model.SinkError{Reason: "write parquet row", Err: err}
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return &model.SinkError{Reason: "finalize parquet file", Err: err}
	}
	if err := fw.Close(); err != nil {
		return &model.SinkError{Reason: "close parquet file", Err: err}
	}
	if err := finish(ctx); err != nil {
		return &model.SinkError{Reason: "upload parquet file", Err: err}
	}
	return nil
}

func valueOrEmpty(vs []string, i int) string {
	if vs == nil {
		return ""
	}
	return vs[i]
}

func (s *Sink) TableCopied(ctx context.Context, tableID model.TableId) error {
	s.mu.Lock()
	copied := s.readCopiedTablesLocked(ctx)
	copied[tableID] = true
	err := s.writeCopiedTables(ctx, copied)
	s.mu.Unlock()
	return err
}

func (s *Sink) readCopiedTablesLocked(ctx context.Context) map[model.TableId]bool {
	return s.readCopiedTables(ctx)
}

func (s *Sink) TruncateTable(ctx context.Context, tableID model.TableId) error {
	// Delta's truncate is "drop all existing part files"; since object
	// stores don't offer atomic directory deletion through this minimal
	// blobStore, the convention here is a log marker a reader must honor:
	// any part file older than the marker is void.
	marker := time.Now().UTC().Format(time.RFC3339Nano)
	return s.store.WriteFile(ctx, s.logPath(fmt.Sprintf("truncate_%d_%s.json", tableID, marker)), []byte(`{}`))
}

// WriteCdcEvents buffers rows per table across the batch, tagging each with
// _CHANGE_TYPE, and writes one part file per table after the whole batch
// has been scanned, whether or not the batch contains a Commit.
func (s *Sink) WriteCdcEvents(ctx context.Context, batch []model.CdcEvent) (model.LSN, bool, error) {
	type pending struct {
		rows       []model.TableRow
		changeType []string
	}
	byTable := map[model.TableId]*pending{}
	var lastCommit model.LSN
	var hasCommit bool

	for _, ev := range batch {
		switch ev.Kind {
		case model.EventCommit:
			lastCommit, hasCommit = ev.EndLSN, true
		case model.EventInsert, model.EventUpdate:
			if ev.NewRow == nil {
				continue
			}
			p := byTable[ev.TableId]
			if p == nil {
				p = &pending{}
				byTable[ev.TableId] = p
			}
			p.rows = append(p.rows, *ev.NewRow)
			p.changeType = append(p.changeType, "UPSERT")
		case model.EventDelete:
			if ev.OldRow == nil {
				continue
			}
			p := byTable[ev.TableId]
			if p == nil {
				p = &pending{}
				byTable[ev.TableId] = p
			}
			p.rows = append(p.rows, *ev.OldRow)
			p.changeType = append(p.changeType, "DELETE")
		case model.EventTruncate:
			for _, id := range ev.TableIds {
				if err := s.TruncateTable(ctx, id); err != nil {
					return 0, false, err
				}
			}
		}
	}

	for tableID, p := range byTable {
		if err := s.writeParquetBatch(ctx, tableID, p.rows, p.changeType); err != nil {
			return 0, false, err
		}
	}

	if !hasCommit {
		return 0, false, nil
	}
	s.mu.Lock()
	err := s.writeLastLSN(ctx, lastCommit)
	s.mu.Unlock()
	if err != nil {
		return 0, false, err
	}
	return lastCommit, true, nil
}

func (s *Sink) GetResumptionState(ctx context.Context) (model.ResumptionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ResumptionState{
		LastLSN:      s.readLastLSN(ctx),
		CopiedTables: s.readCopiedTables(ctx),
	}, nil
}

func (s *Sink) Close(ctx context.Context) error { return nil }

// parquetJSONSchema builds the xitongsys/parquet-go JSON schema string for
// a table, adding a trailing optional _CHANGE_TYPE string field when this
// part file is a CDC forwarding batch.
func parquetJSONSchema(schema *model.TableSchema, withChangeType bool) string {
	type field struct {
		Tag string `json:"Tag"`
	}
	type root struct {
		Tag    string  `json:"Tag"`
		Fields []field `json:"Fields"`
	}

	r := root{Tag: "name=root, repetitiontype=REQUIRED"}
	for _, col := range schema.Columns {
		r.Fields = append(r.Fields, field{Tag: fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", col.Name, parquetTypeTag(convert.KindForOID(col.Type)))})
	}
	if withChangeType {
		r.Fields = append(r.Fields, field{Tag: "name=_CHANGE_TYPE, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"})
	}
	data, _ := json.Marshal(r)
	return string(data)
}

func parquetTypeTag(kind model.CellKind) string {
	switch convert.DeltaFieldKind(kind) {
	case convert.DeltaBool:
		return "type=BOOLEAN"
	case convert.DeltaString:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	case convert.DeltaInt64:
		return "type=INT64"
	case convert.DeltaDouble:
		return "type=DOUBLE"
	case convert.DeltaDecimal:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	case convert.DeltaDate:
		return "type=INT32, convertedtype=DATE"
	case convert.DeltaTimeMicros:
		return "type=INT64, convertedtype=TIME_MICROS"
	case convert.DeltaTimestampMicros:
		return "type=INT64, convertedtype=TIMESTAMP_MICROS"
	default:
		return "type=BYTE_ARRAY"
	}
}

// parquetJSONRow renders one row as the JSON string xitongsys/parquet-go's
// JSONWriter expects, using convert.Literal-free direct Go values (the
// writer marshals through encoding/json, so no SQL-style escaping applies
// here).
func parquetJSONRow(schema *model.TableSchema, row model.TableRow, changeType string) (string, error) {
	if len(schema.Columns) != len(row.Cells) {
		return "", &model.LengthMismatchError{Expected: len(schema.Columns), Got: len(row.Cells)}
	}
	m := make(map[string]any, len(row.Cells)+1)
	for i, col := range schema.Columns {
		v, err := cellToJSONValue(row.Cells[i])
		if err != nil {
			return "", err
		}
		m[col.Name] = v
	}
	if changeType != "" {
		m["_CHANGE_TYPE"] = changeType
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func cellToJSONValue(c model.Cell) (any, error) {
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
		return c.Numeric.String(), nil
	case model.CellDate:
		return c.Date.Format("2006-01-02"), nil
	case model.CellTime:
		return int64(c.Time / time.Microsecond), nil
	case model.CellTimestamp:
		return c.Timestamp.UnixMicro(), nil
	case model.CellTimestampTz:
		return c.TimestampTz.UnixMicro(), nil
	case model.CellUuid:
		return c.Uuid.String(), nil
	case model.CellBytes:
		return c.Bytes, nil
	default:
		return nil, fmt.Errorf("unhandled cell kind %v", c.Kind)
	}
}
