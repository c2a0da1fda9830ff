package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgsink/internal/model"
	"github.com/jfoltran/pgsink/internal/pipeline"
)

func testSchema(id model.TableId) *model.TableSchema {
	return &model.TableSchema{
		TableId:   id,
		TableName: model.TableName{Schema: "public", Name: "widgets"},
		Columns: []model.ColumnSchema{
			{Name: "id", Type: 23, Identity: true},
			{Name: "body", Type: 25},
		},
	}
}

func cell(v int32) model.Cell { return model.I32Cell(v) }

func TestBatcher_NeverSplitsAcrossCommit(t *testing.T) {
	const tableID = model.TableId(1)
	schema := testSchema(tableID)
	ts := time.Unix(0, 0)

	// One transaction containing more inserts than MaxSize; the size
	// trigger must not fire until the Commit closes it.
	events := []model.CdcEvent{
		model.BeginEvent(100, ts, 1),
		model.RelationEvent(schema),
		model.InsertEvent(tableID, model.TableRow{Cells: []model.Cell{cell(1), cell(1)}}),
		model.InsertEvent(tableID, model.TableRow{Cells: []model.Cell{cell(2), cell(2)}}),
		model.InsertEvent(tableID, model.TableRow{Cells: []model.Cell{cell(3), cell(3)}}),
		model.CommitEvent(0, 90, 100, ts),
	}

	src := &fakeSource{schemas: map[model.TableId]*model.TableSchema{tableID: schema}, events: events}
	dst := newFakeSink()

	cfg := model.BatchConfig{MaxSize: 2, MaxFill: time.Hour}
	b := pipeline.NewBatcher(src, dst, cfg, zerolog.Nop())
	b.SeedSchema(src.schemas)

	ch := make(chan model.CdcEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	if err := b.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	batches := dst.batches()
	if len(batches) != 1 {
		t.Fatalf("expected exactly 1 flushed batch (the whole transaction), got %d", len(batches))
	}
	if len(batches[0]) != len(events) {
		t.Fatalf("expected flushed batch to contain all %d events, got %d", len(events), len(batches[0]))
	}
}

func TestBatcher_ToastGapIsFatal(t *testing.T) {
	const tableID = model.TableId(1)
	schema := testSchema(tableID)
	ts := time.Unix(0, 0)

	// Update whose "body" column is an unchanged-toast placeholder with no
	// old_row to source it from: must surface as a fatal ToastGapError.
	upd := model.UpdateEvent(tableID, nil, model.TableRow{Cells: []model.Cell{cell(1), {}}}, []string{"body"})

	events := []model.CdcEvent{
		model.BeginEvent(100, ts, 1),
		model.RelationEvent(schema),
		upd,
		model.CommitEvent(0, 90, 100, ts),
	}

	src := &fakeSource{schemas: map[model.TableId]*model.TableSchema{tableID: schema}, events: events}
	dst := newFakeSink()

	b := pipeline.NewBatcher(src, dst, model.BatchConfig{MaxSize: 100, MaxFill: time.Hour}, zerolog.Nop())
	b.SeedSchema(src.schemas)

	ch := make(chan model.CdcEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	err := b.Run(context.Background(), ch)
	if err == nil {
		t.Fatal("expected a fatal error for an unresolvable toast gap, got nil")
	}
	var gapErr *model.ToastGapError
	if !errors.As(err, &gapErr) {
		t.Fatalf("expected *model.ToastGapError, got %T: %v", err, err)
	}
	if len(dst.batches()) != 0 {
		t.Fatalf("expected no batch to have been flushed, got %d", len(dst.batches()))
	}
}

func TestBatcher_KeepaliveUsesLastDurableLSN(t *testing.T) {
	const tableID = model.TableId(1)
	schema := testSchema(tableID)
	ts := time.Unix(0, 0)

	// First transaction commits and becomes durable at LSN 100. A keepalive
	// then arrives reporting a much later WAL position the source has merely
	// received but not yet turned into a committed, sink-durable batch.
	events := []model.CdcEvent{
		model.BeginEvent(100, ts, 1),
		model.RelationEvent(schema),
		model.InsertEvent(tableID, model.TableRow{Cells: []model.Cell{cell(1), cell(1)}}),
		model.CommitEvent(0, 90, 100, ts),
		model.KeepAliveEvent(500, ts, true),
	}

	src := &fakeSource{schemas: map[model.TableId]*model.TableSchema{tableID: schema}, events: events}
	dst := newFakeSink()

	b := pipeline.NewBatcher(src, dst, model.BatchConfig{MaxSize: 100, MaxFill: time.Hour}, zerolog.Nop())
	b.SeedSchema(src.schemas)

	ch := make(chan model.CdcEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	if err := b.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lsn, ok := src.lastStatusUpdate()
	if !ok {
		t.Fatal("expected at least one status update")
	}
	if lsn != model.LSN(100) {
		t.Fatalf("expected keepalive reply to use last durable LSN 100, got %v (WAL end was 500)", lsn)
	}
}

func TestPipeline_ResumeSkipsCopiedTables(t *testing.T) {
	const (
		copiedID   = model.TableId(1)
		pendingID  = model.TableId(2)
	)
	copiedSchema := testSchema(copiedID)
	pendingSchema := testSchema(pendingID)
	pendingSchema.TableName = model.TableName{Schema: "public", Name: "pending"}

	src := &fakeSource{
		schemas: map[model.TableId]*model.TableSchema{
			copiedID:  copiedSchema,
			pendingID: pendingSchema,
		},
		copyRows: map[model.TableId][]model.TableRow{
			copiedID:  {{Cells: []model.Cell{cell(1), cell(1)}}},
			pendingID: {{Cells: []model.Cell{cell(2), cell(2)}}},
		},
	}
	dst := newFakeSink()
	dst.resumeState = model.ResumptionState{
		LastLSN:      50,
		CopiedTables: map[model.TableId]bool{copiedID: true},
	}

	p := pipeline.New(src, dst, pipeline.Config{
		Action: model.TableCopiesOnly,
		Tables: model.NewTableNamesFromList(nil),
		Batch:  model.BatchConfig{MaxSize: 1000},
	}, zerolog.Nop())

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, wrote := dst.rows[copiedID]; wrote {
		t.Fatal("expected the already-copied table to be skipped, but rows were written for it")
	}
	if got := len(dst.rows[pendingID]); got != 1 {
		t.Fatalf("expected the pending table's row to be copied, got %d rows", got)
	}
	if !dst.copiedTables[pendingID] {
		t.Fatal("expected TableCopied to be called for the pending table")
	}
	if dst.copiedTables[copiedID] {
		t.Fatal("did not expect TableCopied to be re-invoked for an already-copied table")
	}
}
