// Package source is the source adapter (component B): two sub-protocols
// (table copy, CDC stream) behind one contract, grounded on
// internal/migration/stream/decoder.go and
// internal/migration/snapshot/snapshot.go, generalized from a
// Postgres-to-Postgres migration tool into a Postgres-to-neutral-Sink feed.
package source

import (
	"context"

	"github.com/jfoltran/pgsink/internal/model"
)

// RowStream is a lazy finite sequence of TableRow produced by the copy
// sub-protocol, positionally decoded against the TableSchema it was opened
// for.
type RowStream interface {
	Next(ctx context.Context) (model.TableRow, bool, error)
	Close(ctx context.Context)
}

// Source is the contract the pipeline engine drives (§4.B).
type Source interface {
	// EnsureSlot creates the replication slot if it doesn't exist, or
	// reuses it if it does, and returns the exported snapshot name (empty
	// when reusing an existing slot). Must be called once, before the
	// copy or stream phases, so GetTableCopyStream can pin its
	// transaction to the slot's consistent point and GetCDCStream has a
	// slot to start replication from.
	EnsureSlot(ctx context.Context) (snapshotName string, err error)
	GetTableSchemas(ctx context.Context, sel model.TableNamesFrom) (map[model.TableId]*model.TableSchema, error)
	GetTableCopyStream(ctx context.Context, id model.TableId, schema *model.TableSchema) (RowStream, error)
	CommitTableCopy(ctx context.Context) error
	GetCDCStream(ctx context.Context, startLSN model.LSN) (<-chan model.CdcEvent, error)
	SendStatusUpdate(ctx context.Context, lastAppliedLSN model.LSN) error
	Err() error
	State() State
	Close(ctx context.Context)
}
