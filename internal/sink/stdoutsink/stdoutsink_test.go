package stdoutsink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgsink/internal/model"
)

func testSchema() *model.TableSchema {
	return &model.TableSchema{
		TableId:   1,
		TableName: model.TableName{Schema: "public", Name: "widgets"},
		Columns: []model.ColumnSchema{
			{Name: "id", Type: 23, Identity: true},
			{Name: "label", Type: 25, Nullable: true},
		},
	}
}

func TestStdoutSink_CdcRoundTrip(t *testing.T) {
	s := New(zerolog.Nop(), "")
	ctx := context.Background()

	schema := testSchema()
	if err := s.WriteTableSchemas(ctx, map[model.TableId]*model.TableSchema{1: schema}); err != nil {
		t.Fatalf("WriteTableSchemas: %v", err)
	}

	row := model.TableRow{Cells: []model.Cell{model.I32Cell(1), model.StringCell("widget")}}
	batch := []model.CdcEvent{
		model.BeginEvent(10, time.Now(), 7),
		model.InsertEvent(1, row),
		model.CommitEvent(0, 10, 20, time.Now()),
	}

	lsn, ok, err := s.WriteCdcEvents(ctx, batch)
	if err != nil {
		t.Fatalf("WriteCdcEvents: %v", err)
	}
	if !ok || lsn != 20 {
		t.Fatalf("expected commit lsn 20, got %v ok=%v", lsn, ok)
	}

	state, err := s.GetResumptionState(ctx)
	if err != nil {
		t.Fatalf("GetResumptionState: %v", err)
	}
	if state.LastLSN != 20 {
		t.Fatalf("expected resumption LastLSN 20, got %v", state.LastLSN)
	}
}

func TestStdoutSink_NoCommitYieldsNoLSN(t *testing.T) {
	s := New(zerolog.Nop(), "")
	ctx := context.Background()
	row := model.TableRow{Cells: []model.Cell{model.I32Cell(1), model.StringCell("x")}}
	batch := []model.CdcEvent{model.BeginEvent(10, time.Now(), 1), model.InsertEvent(1, row)}

	_, ok, err := s.WriteCdcEvents(ctx, batch)
	if err != nil {
		t.Fatalf("WriteCdcEvents: %v", err)
	}
	if ok {
		t.Fatal("expected no commit LSN for a batch without a Commit")
	}
}

func TestStdoutSink_StatePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s1 := New(zerolog.Nop(), path)
	ctx := context.Background()
	if err := s1.TableCopied(ctx, 42); err != nil {
		t.Fatalf("TableCopied: %v", err)
	}

	s2 := New(zerolog.Nop(), path)
	state, err := s2.GetResumptionState(ctx)
	if err != nil {
		t.Fatalf("GetResumptionState: %v", err)
	}
	if !state.CopiedTables[42] {
		t.Fatal("expected table 42 to be marked copied after reload")
	}
}
