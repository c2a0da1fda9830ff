package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the control plane's pgx-backed CRUD layer: single-statement
// writes on the pool (no explicit transactions),
// errors.Join validation, not-found reported as (zero, false, nil) rather
// than an error, across four resources (tenants, sources, sinks,
// pipelines).
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// --- Tenants ---

func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, created_at, updated_at FROM tenants ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []Tenant{}
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *Store) GetTenant(ctx context.Context, id string) (Tenant, bool, error) {
	var t Tenant
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, created_at, updated_at FROM tenants WHERE id = $1", id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, false, nil
	}
	if err != nil {
		return Tenant{}, false, err
	}
	return t, true, nil
}

func validateTenant(t Tenant) error {
	var errs []error
	if t.ID == "" {
		errs = append(errs, errors.New("tenant id is required"))
	}
	if t.Name == "" {
		errs = append(errs, errors.New("tenant name is required"))
	}
	return errors.Join(errs...)
}

func (s *Store) AddTenant(ctx context.Context, t Tenant) error {
	if err := validateTenant(t); err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
		t.ID, t.Name, now)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *Store) UpdateTenant(ctx context.Context, t Tenant) error {
	if err := validateTenant(t); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE tenants SET name = $2, updated_at = now() WHERE id = $1", t.ID, t.Name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %q not found", t.ID)
	}
	return nil
}

func (s *Store) RemoveTenant(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM tenants WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %q not found", id)
	}
	return nil
}

// --- Sources ---

func (s *Store) ListSources(ctx context.Context, tenantID string) ([]Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, host, port, dbname, username, password, publication, slot_name,
		        created_at, updated_at
		 FROM sources WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := []Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *Store) GetSource(ctx context.Context, id string) (Source, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, host, port, dbname, username, password, publication, slot_name,
		        created_at, updated_at
		 FROM sources WHERE id = $1`, id)
	if err != nil {
		return Source{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return Source{}, false, rows.Err()
	}
	src, err := scanSource(rows)
	if err != nil {
		return Source{}, false, err
	}
	return src, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(r rowScanner) (Source, error) {
	var src Source
	err := r.Scan(&src.ID, &src.TenantID, &src.Config.Host, &src.Config.Port, &src.Config.DBName,
		&src.Config.Username, &src.Config.Password, &src.Config.Publication, &src.Config.SlotName,
		&src.CreatedAt, &src.UpdatedAt)
	return src, err
}

func validateSource(src Source) error {
	var errs []error
	if src.ID == "" {
		errs = append(errs, errors.New("source id is required"))
	}
	if src.TenantID == "" {
		errs = append(errs, errors.New("source tenant_id is required"))
	}
	if src.Config.Host == "" {
		errs = append(errs, errors.New("source host is required"))
	}
	if src.Config.DBName == "" {
		errs = append(errs, errors.New("source dbname is required"))
	}
	if src.Config.Publication == "" {
		errs = append(errs, errors.New("source publication is required"))
	}
	if src.Config.SlotName == "" {
		errs = append(errs, errors.New("source slot_name is required"))
	}
	return errors.Join(errs...)
}

func (s *Store) AddSource(ctx context.Context, src Source) error {
	if err := validateSource(src); err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, tenant_id, host, port, dbname, username, password, publication,
		                       slot_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		src.ID, src.TenantID, src.Config.Host, src.Config.Port, src.Config.DBName,
		src.Config.Username, src.Config.Password, src.Config.Publication, src.Config.SlotName, now)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (s *Store) UpdateSource(ctx context.Context, src Source) error {
	if err := validateSource(src); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET host = $2, port = $3, dbname = $4, username = $5, password = $6,
		                     publication = $7, slot_name = $8, updated_at = now()
		 WHERE id = $1`,
		src.ID, src.Config.Host, src.Config.Port, src.Config.DBName, src.Config.Username,
		src.Config.Password, src.Config.Publication, src.Config.SlotName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %q not found", src.ID)
	}
	return nil
}

func (s *Store) RemoveSource(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sources WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %q not found", id)
	}
	return nil
}

// --- Sinks ---

func (s *Store) ListSinks(ctx context.Context, tenantID string) ([]Sink, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, kind, config, created_at, updated_at
		 FROM sinks WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sinks := []Sink{}
	for rows.Next() {
		sink, err := scanSink(rows)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, rows.Err()
}

func (s *Store) GetSink(ctx context.Context, id string) (Sink, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, kind, config, created_at, updated_at FROM sinks WHERE id = $1`, id)
	if err != nil {
		return Sink{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return Sink{}, false, rows.Err()
	}
	sink, err := scanSink(rows)
	if err != nil {
		return Sink{}, false, err
	}
	return sink, true, nil
}

func scanSink(r rowScanner) (Sink, error) {
	var sink Sink
	var raw []byte
	if err := r.Scan(&sink.ID, &sink.TenantID, &sink.Kind, &raw, &sink.CreatedAt, &sink.UpdatedAt); err != nil {
		return Sink{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sink.Config); err != nil {
			return Sink{}, fmt.Errorf("decode sink config: %w", err)
		}
	}
	return sink, nil
}

func validateSink(sink Sink) error {
	var errs []error
	if sink.ID == "" {
		errs = append(errs, errors.New("sink id is required"))
	}
	if sink.TenantID == "" {
		errs = append(errs, errors.New("sink tenant_id is required"))
	}
	switch sink.Kind {
	case SinkStdout, SinkBigQuery, SinkDelta:
	default:
		errs = append(errs, fmt.Errorf("unknown sink kind %q", sink.Kind))
	}
	return errors.Join(errs...)
}

func (s *Store) AddSink(ctx context.Context, sink Sink) error {
	if err := validateSink(sink); err != nil {
		return err
	}
	cfg := sink.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode sink config: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sinks (id, tenant_id, kind, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		sink.ID, sink.TenantID, string(sink.Kind), raw, now)
	if err != nil {
		return fmt.Errorf("insert sink: %w", err)
	}
	return nil
}

func (s *Store) UpdateSink(ctx context.Context, sink Sink) error {
	if err := validateSink(sink); err != nil {
		return err
	}
	cfg := sink.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode sink config: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sinks SET kind = $2, config = $3, updated_at = now() WHERE id = $1`,
		sink.ID, string(sink.Kind), raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sink %q not found", sink.ID)
	}
	return nil
}

func (s *Store) RemoveSink(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sinks WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sink %q not found", id)
	}
	return nil
}

// --- Pipelines ---

func (s *Store) ListPipelines(ctx context.Context, tenantID string) ([]Pipeline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, source_id, sink_id, max_size, max_fill_secs, created_at, updated_at
		 FROM pipelines WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pipelines := []Pipeline{}
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// GetPipeline returns a pipeline by its own id — never by sink_id (§4.G,
// §9: the reference source's read_pipeline bug returned sink_id instead).
func (s *Store) GetPipeline(ctx context.Context, id string) (Pipeline, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, source_id, sink_id, max_size, max_fill_secs, created_at, updated_at
		 FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return Pipeline{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return Pipeline{}, false, rows.Err()
	}
	p, err := scanPipeline(rows)
	if err != nil {
		return Pipeline{}, false, err
	}
	return p, true, nil
}

func scanPipeline(r rowScanner) (Pipeline, error) {
	var p Pipeline
	err := r.Scan(&p.ID, &p.TenantID, &p.SourceID, &p.SinkID,
		&p.Config.Batch.MaxSize, &p.Config.Batch.MaxFillSecs, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func validatePipeline(p Pipeline) error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("pipeline id is required"))
	}
	if p.TenantID == "" {
		errs = append(errs, errors.New("pipeline tenant_id is required"))
	}
	if p.SourceID == "" {
		errs = append(errs, errors.New("pipeline source_id is required"))
	}
	if p.SinkID == "" {
		errs = append(errs, errors.New("pipeline sink_id is required"))
	}
	return errors.Join(errs...)
}

func (s *Store) AddPipeline(ctx context.Context, p Pipeline) error {
	if err := validatePipeline(p); err != nil {
		return err
	}
	maxSize, maxFill := p.Config.Batch.MaxSize, p.Config.Batch.MaxFillSecs
	if maxSize <= 0 {
		maxSize = 1000
	}
	if maxFill <= 0 {
		maxFill = 1
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipelines (id, tenant_id, source_id, sink_id, max_size, max_fill_secs,
		                        created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		p.ID, p.TenantID, p.SourceID, p.SinkID, maxSize, maxFill, now)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

func (s *Store) UpdatePipeline(ctx context.Context, p Pipeline) error {
	if err := validatePipeline(p); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET source_id = $2, sink_id = $3, max_size = $4, max_fill_secs = $5,
		                       updated_at = now()
		 WHERE id = $1`,
		p.ID, p.SourceID, p.SinkID, p.Config.Batch.MaxSize, p.Config.Batch.MaxFillSecs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pipeline %q not found", p.ID)
	}
	return nil
}

func (s *Store) RemovePipeline(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM pipelines WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pipeline %q not found", id)
	}
	return nil
}
