package pipeline_test

import (
	"context"
	"sync"

	"github.com/jfoltran/pgsink/internal/model"
	"github.com/jfoltran/pgsink/internal/source"
)

// fakeRowStream replays a fixed slice of rows, standing in for a
// source.RowStream over a real snapshot table read.
type fakeRowStream struct {
	rows []model.TableRow
	i    int
}

func (s *fakeRowStream) Next(ctx context.Context) (model.TableRow, bool, error) {
	if s.i >= len(s.rows) {
		return model.TableRow{}, false, nil
	}
	row := s.rows[s.i]
	s.i++
	return row, true, nil
}

func (s *fakeRowStream) Close(ctx context.Context) {}

// fakeSource is an in-memory source.Source: schemas and copy rows are
// fixed, CDC events are replayed from a slice over a channel, and every
// status update is recorded for assertions.
type fakeSource struct {
	schemas  map[model.TableId]*model.TableSchema
	copyRows map[model.TableId][]model.TableRow
	events   []model.CdcEvent

	mu            sync.Mutex
	statusUpdates []model.LSN
	copyCommitted bool
	closed        bool
}

func (s *fakeSource) EnsureSlot(ctx context.Context) (string, error) {
	return "", nil
}

func (s *fakeSource) GetTableSchemas(ctx context.Context, sel model.TableNamesFrom) (map[model.TableId]*model.TableSchema, error) {
	return s.schemas, nil
}

func (s *fakeSource) GetTableCopyStream(ctx context.Context, id model.TableId, schema *model.TableSchema) (source.RowStream, error) {
	return &fakeRowStream{rows: s.copyRows[id]}, nil
}

func (s *fakeSource) CommitTableCopy(ctx context.Context) error {
	s.mu.Lock()
	s.copyCommitted = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) GetCDCStream(ctx context.Context, startLSN model.LSN) (<-chan model.CdcEvent, error) {
	ch := make(chan model.CdcEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *fakeSource) SendStatusUpdate(ctx context.Context, lastAppliedLSN model.LSN) error {
	s.mu.Lock()
	s.statusUpdates = append(s.statusUpdates, lastAppliedLSN)
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Err() error          { return nil }
func (s *fakeSource) State() source.State { return source.Streaming }
func (s *fakeSource) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSource) lastStatusUpdate() (model.LSN, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statusUpdates) == 0 {
		return 0, false
	}
	return s.statusUpdates[len(s.statusUpdates)-1], true
}

// fakeSink is an in-memory sink.Sink: every write is recorded, and
// WriteCdcEvents computes the batch's last Commit exactly as the real
// sinks do (§4.D: the returned LSN is that commit's end_lsn, or none).
type fakeSink struct {
	mu sync.Mutex

	schemas      map[model.TableId]*model.TableSchema
	rows         map[model.TableId][]model.TableRow
	copiedTables map[model.TableId]bool
	cdcBatches   [][]model.CdcEvent
	lastLSN      model.LSN

	resumeState model.ResumptionState
	writeErr    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		rows:         make(map[model.TableId][]model.TableRow),
		copiedTables: make(map[model.TableId]bool),
	}
}

func (s *fakeSink) WriteTableSchemas(ctx context.Context, schemas map[model.TableId]*model.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas = schemas
	return nil
}

func (s *fakeSink) WriteTableRows(ctx context.Context, tableID model.TableId, batch []model.TableRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tableID] = append(s.rows[tableID], batch...)
	return nil
}

func (s *fakeSink) TableCopied(ctx context.Context, tableID model.TableId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copiedTables[tableID] = true
	return nil
}

func (s *fakeSink) TruncateTable(ctx context.Context, tableID model.TableId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, tableID)
	return nil
}

func (s *fakeSink) WriteCdcEvents(ctx context.Context, batch []model.CdcEvent) (model.LSN, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, false, s.writeErr
	}
	s.cdcBatches = append(s.cdcBatches, batch)

	var lastCommit model.LSN
	var hasCommit bool
	for _, ev := range batch {
		if ev.Kind == model.EventCommit {
			lastCommit = ev.EndLSN
			hasCommit = true
		}
	}
	if !hasCommit {
		return 0, false, nil
	}
	s.lastLSN = lastCommit
	return lastCommit, true, nil
}

func (s *fakeSink) GetResumptionState(ctx context.Context) (model.ResumptionState, error) {
	return s.resumeState, nil
}

func (s *fakeSink) Close(ctx context.Context) error { return nil }

func (s *fakeSink) batches() [][]model.CdcEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]model.CdcEvent, len(s.cdcBatches))
	copy(out, s.cdcBatches)
	return out
}
