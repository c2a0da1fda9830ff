// Package sink declares the contract a destination implements to receive
// schemas, copied rows, and CDC events (component D). The destination
// itself is opaque to the pipeline engine — stdout, BigQuery, and Delta
// Lake all satisfy the same interface.
package sink

import (
	"context"

	"github.com/jfoltran/pgsink/internal/model"
)

// Sink is implemented once per destination kind (stdout, BigQuery, Delta).
// Every method's guarantee is load-bearing for the pipeline engine's
// durability protocol (§4.E): WriteCdcEvents must not return a non-nil LSN
// until every effect up to that commit is durable.
type Sink interface {
	WriteTableSchemas(ctx context.Context, schemas map[model.TableId]*model.TableSchema) error
	WriteTableRows(ctx context.Context, tableID model.TableId, batch []model.TableRow) error
	TableCopied(ctx context.Context, tableID model.TableId) error
	WriteCdcEvents(ctx context.Context, batch []model.CdcEvent) (model.LSN, bool, error)
	TruncateTable(ctx context.Context, tableID model.TableId) error
	GetResumptionState(ctx context.Context) (model.ResumptionState, error)
	Close(ctx context.Context) error
}
