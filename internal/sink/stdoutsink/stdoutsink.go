// Package stdoutsink is a development/test Sink: every operation is logged
// as a structured zerolog line and resumption state lives in memory (or,
// when configured with a StatePath, a small JSON file). Grounded on
// internal/metrics.Collector's LogWriter pattern.
package stdoutsink

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgsink/internal/convert"
	"github.com/jfoltran/pgsink/internal/model"
)

// Sink prints every write as a log line. Safe for one pipeline at a time.
type Sink struct {
	logger    zerolog.Logger
	statePath string

	mu           sync.Mutex
	lastLSN      model.LSN
	copiedTables map[model.TableId]bool
	schemas      map[model.TableId]*model.TableSchema
}

// New constructs a stdout sink. statePath, if non-empty, persists
// resumption state across process restarts as JSON.
func New(logger zerolog.Logger, statePath string) *Sink {
	s := &Sink{
		logger:       logger.With().Str("component", "stdoutsink").Logger(),
		statePath:    statePath,
		copiedTables: make(map[model.TableId]bool),
		schemas:      make(map[model.TableId]*model.TableSchema),
	}
	s.loadState()
	return s
}

type persistedState struct {
	LastLSN      model.LSN              `json:"last_lsn"`
	CopiedTables map[model.TableId]bool `json:"copied_tables"`
}

func (s *Sink) loadState() {
	if s.statePath == "" {
		return
	}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		return // cold start: last_lsn=0, copied_tables={} per §6
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		s.logger.Warn().Err(err).Msg("ignoring unreadable state file")
		return
	}
	s.lastLSN = ps.LastLSN
	if ps.CopiedTables != nil {
		s.copiedTables = ps.CopiedTables
	}
}

func (s *Sink) saveState() error {
	if s.statePath == "" {
		return nil
	}
	data, err := json.Marshal(persistedState{LastLSN: s.lastLSN, CopiedTables: s.copiedTables})
	if err != nil {
		return err
	}
	return os.WriteFile(s.statePath, data, 0o644)
}

func (s *Sink) WriteTableSchemas(ctx context.Context, schemas map[model.TableId]*model.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sc := range schemas {
		s.schemas[id] = sc
		s.logger.Info().
			Uint32("table_id", uint32(id)).
			Str("table", sc.TableName.String()).
			Int("columns", len(sc.Columns)).
			Msg("schema")
	}
	return nil
}

func (s *Sink) WriteTableRows(ctx context.Context, tableID model.TableId, batch []model.TableRow) error {
	s.mu.Lock()
	schema := s.schemas[tableID]
	s.mu.Unlock()
	for _, row := range batch {
		s.logger.Info().
			Uint32("table_id", uint32(tableID)).
			Str("row", renderRow(schema, row)).
			Msg("copy row")
	}
	return nil
}

func (s *Sink) TableCopied(ctx context.Context, tableID model.TableId) error {
	s.mu.Lock()
	s.copiedTables[tableID] = true
	err := s.saveState()
	s.mu.Unlock()
	s.logger.Info().Uint32("table_id", uint32(tableID)).Msg("table copied")
	return err
}

func (s *Sink) TruncateTable(ctx context.Context, tableID model.TableId) error {
	s.logger.Info().Uint32("table_id", uint32(tableID)).Msg("truncate table")
	return nil
}

// WriteCdcEvents logs every event and returns the batch's last Commit's
// EndLSN, if any, as the durable position — stdout "durability" is simply
// the log line having been written, which is immediate.
func (s *Sink) WriteCdcEvents(ctx context.Context, batch []model.CdcEvent) (model.LSN, bool, error) {
	var lastCommit model.LSN
	var hasCommit bool

	for _, ev := range batch {
		s.logEvent(ev)
		if ev.Kind == model.EventCommit {
			lastCommit = ev.EndLSN
			hasCommit = true
		}
	}
	if !hasCommit {
		return 0, false, nil
	}

	s.mu.Lock()
	s.lastLSN = lastCommit
	err := s.saveState()
	s.mu.Unlock()
	if err != nil {
		return 0, false, err
	}
	return lastCommit, true, nil
}

func (s *Sink) logEvent(ev model.CdcEvent) {
	le := s.logger.Info().Str("kind", ev.Kind.String())
	switch ev.Kind {
	case model.EventBegin:
		le.Uint32("xid", ev.XID).Stringer("final_lsn", ev.FinalLSN)
	case model.EventCommit:
		le.Stringer("commit_lsn", ev.CommitLSN).Stringer("end_lsn", ev.EndLSN)
	case model.EventRelation:
		le.Str("table", ev.Schema.TableName.String())
	case model.EventInsert, model.EventUpdate, model.EventDelete:
		le.Uint32("table_id", uint32(ev.TableId))
		if len(ev.UnchangedToastColumns) > 0 {
			le.Strs("unchanged_toast", ev.UnchangedToastColumns)
		}
	case model.EventTruncate:
		le.Int("tables", len(ev.TableIds))
	case model.EventType:
		le.Str("type", ev.TypeName)
	case model.EventKeepAliveRequested:
		le.Bool("reply_requested", ev.ReplyRequested)
	}
	le.Msg("cdc event")
}

func (s *Sink) GetResumptionState(ctx context.Context) (model.ResumptionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[model.TableId]bool, len(s.copiedTables))
	for k, v := range s.copiedTables {
		copied[k] = v
	}
	return model.ResumptionState{LastLSN: s.lastLSN, CopiedTables: copied}, nil
}

func (s *Sink) Close(ctx context.Context) error { return nil }

func renderRow(schema *model.TableSchema, row model.TableRow) string {
	if schema == nil || len(schema.Columns) != len(row.Cells) {
		return "?"
	}
	out := "{"
	for i, c := range row.Cells {
		if i > 0 {
			out += ", "
		}
		lit, err := convert.Literal(c)
		if err != nil {
			lit = "<error>"
		}
		out += schema.Columns[i].Name + "=" + lit
	}
	return out + "}"
}
