package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jfoltran/pgsink/internal/model"
)

// Config configures a PostgresSource: connection, replication slot, and
// publication. There is no destination-database half here — the
// destination is a Sink, not a second Postgres.
type Config struct {
	DSN             string
	ReplicationDSN  string
	SlotName        string
	Publication     string
	SlotPersistent  bool
}

// PostgresSource drives PostgreSQL's snapshot-copy and logical-replication
// protocols (slot lifecycle, receive loop, snapshot table reads) behind the single Source
// contract.
type PostgresSource struct {
	cfg    Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	replConn *pgconn.PgConn

	mu    sync.Mutex
	state State

	slotName     string
	snapshotName string
	startLSN     model.LSN
	confirmedLSN model.LSN
	serverWALEnd model.LSN

	relations map[model.TableId]*model.TableSchema

	cancel context.CancelFunc
	done   chan struct{}
	loopErr error
}

// NewPostgresSource connects the regular pool and the replication connection.
func NewPostgresSource(ctx context.Context, cfg Config, logger zerolog.Logger) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, &model.ConnectionError{Reason: "connect source pool", Err: err}
	}
	replConfig, err := pgconn.ParseConfig(cfg.ReplicationDSN)
	if err != nil {
		pool.Close()
		return nil, &model.ConfigError{Reason: fmt.Sprintf("parse replication dsn: %v", err)}
	}
	replConn, err := pgconn.ConnectConfig(ctx, replConfig)
	if err != nil {
		pool.Close()
		return nil, &model.ConnectionError{Reason: "connect replication conn", Err: err}
	}

	return &PostgresSource{
		cfg:       cfg,
		logger:    logger.With().Str("component", "source").Logger(),
		pool:      pool,
		replConn:  replConn,
		state:     Idle,
		slotName:  strings.ReplaceAll(cfg.SlotName, "-", "_"),
		relations: make(map[model.TableId]*model.TableSchema),
		done:      make(chan struct{}),
	}, nil
}

func (s *PostgresSource) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *PostgresSource) setState(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.state.Transition(to)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// GetTableSchemas resolves either an explicit table list or a publication's
// member tables into TableSchema by reading pg_attribute for column
// metadata and pg_index for identity; a column is marked Identity when it
// is part of the primary key (the replica identity index is not consulted).
func (s *PostgresSource) GetTableSchemas(ctx context.Context, sel model.TableNamesFrom) (map[model.TableId]*model.TableSchema, error) {
	names, err := s.resolveTableNames(ctx, sel)
	if err != nil {
		return nil, err
	}

	out := make(map[model.TableId]*model.TableSchema, len(names))
	for _, tn := range names {
		schema, err := s.loadTableSchema(ctx, tn)
		if err != nil {
			return nil, err
		}
		out[schema.TableId] = schema
		s.mu.Lock()
		s.relations[schema.TableId] = schema
		s.mu.Unlock()
	}
	return out, nil
}

func (s *PostgresSource) resolveTableNames(ctx context.Context, sel model.TableNamesFrom) ([]model.TableName, error) {
	switch sel.Kind {
	case model.FromList:
		return sel.List, nil
	case model.FromPublication:
		rows, err := s.pool.Query(ctx,
			`SELECT schemaname, tablename FROM pg_publication_tables WHERE pubname = $1`, sel.Publication)
		if err != nil {
			return nil, &model.ConnectionError{Reason: "list publication tables", Err: err}
		}
		defer rows.Close()
		var names []model.TableName
		for rows.Next() {
			var tn model.TableName
			if err := rows.Scan(&tn.Schema, &tn.Name); err != nil {
				return nil, err
			}
			names = append(names, tn)
		}
		return names, rows.Err()
	default:
		return nil, &model.ConfigError{Reason: "unknown TableNamesFrom kind"}
	}
}

func (s *PostgresSource) loadTableSchema(ctx context.Context, tn model.TableName) (*model.TableSchema, error) {
	var tableID uint32
	qn := quoteQualifiedName(tn.Schema, tn.Name)
	err := s.pool.QueryRow(ctx, `SELECT $1::regclass::oid`, qn).Scan(&tableID)
	if err != nil {
		return nil, &model.ConnectionError{Reason: fmt.Sprintf("resolve table oid for %s", qn), Err: err}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.attname, a.atttypid, a.atttypmod, NOT a.attnotnull,
			COALESCE(i.indisprimary, false) AS identity
		FROM pg_attribute a
		LEFT JOIN pg_index i ON i.indrelid = a.attrelid AND a.attnum = ANY(i.indkey) AND i.indisprimary
		WHERE a.attrelid = $1 AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`, tableID)
	if err != nil {
		return nil, &model.ConnectionError{Reason: "list columns", Err: err}
	}
	defer rows.Close()

	var cols []model.ColumnSchema
	for rows.Next() {
		var c model.ColumnSchema
		if err := rows.Scan(&c.Name, &c.Type, &c.Modifier, &c.Nullable, &c.Identity); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &model.TableSchema{TableId: model.TableId(tableID), TableName: tn, Columns: cols}, nil
}

// CommitTableCopy releases resources held for the copy phase. Each copy
// stream owns its own short-lived read-only transaction (see copy.go), so
// this only needs to invalidate the exported snapshot's further use and
// advance the state machine.
func (s *PostgresSource) CommitTableCopy(ctx context.Context) error {
	return s.setState(Snapshotted)
}

func (s *PostgresSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopErr
}

func (s *PostgresSource) Close(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.replConn != nil {
		_ = s.replConn.Close(ctx)
	}
	s.pool.Close()
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteQualifiedName(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}
