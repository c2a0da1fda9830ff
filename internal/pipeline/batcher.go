// Package pipeline is the orchestration engine (component E): it drives a
// source.Source and a sink.Sink through the copy phase and the CDC stream
// phase, batching events by size or age but never splitting a batch across
// a transaction Commit.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgsink/internal/model"
	"github.com/jfoltran/pgsink/internal/sink"
	"github.com/jfoltran/pgsink/internal/source"
)

// Batcher accumulates CdcEvents into sink-sized batches: a size trigger
// (len(batch) >= cfg.MaxSize) and an age trigger (oldest buffered event has
// waited cfg.MaxFill). Neither trigger flushes mid-transaction: a Begin
// sets an in-transaction flag, Commit clears it, and only then is a due
// batch actually flushed (§4.E).
type Batcher struct {
	src    source.Source
	dst    sink.Sink
	cfg    model.BatchConfig
	logger zerolog.Logger

	schemas map[model.TableId]*model.TableSchema

	// lastDurableLSN is the last LSN a sink write has confirmed durable.
	// Keepalive replies use this, never the last LSN merely received —
	// the durability rule threaded through from the source adapter.
	lastDurableLSN model.LSN

	onCommit func(model.LSN)
}

// NewBatcher builds a Batcher moving events from src to dst.
func NewBatcher(src source.Source, dst sink.Sink, cfg model.BatchConfig, logger zerolog.Logger) *Batcher {
	return &Batcher{
		src:     src,
		dst:     dst,
		cfg:     cfg,
		logger:  logger.With().Str("component", "batcher").Logger(),
		schemas: make(map[model.TableId]*model.TableSchema),
	}
}

// OnCommit registers a callback invoked with a batch's commit LSN right
// after it has been durably written and the source acknowledged — used by
// the pipeline's progress/metrics reporting.
func (b *Batcher) OnCommit(fn func(model.LSN)) { b.onCommit = fn }

// SeedSchema primes the batcher's relation cache at resume time, before the
// first Relation event for a table_id has arrived on this connection.
func (b *Batcher) SeedSchema(schemas map[model.TableId]*model.TableSchema) {
	for id, sc := range schemas {
		b.schemas[id] = sc
	}
}

// SeedLastDurableLSN sets the position keepalive replies start from, before
// any batch has flushed in this run.
func (b *Batcher) SeedLastDurableLSN(lsn model.LSN) { b.lastDurableLSN = lsn }

// Run drains events until the channel closes or ctx is cancelled.
func (b *Batcher) Run(ctx context.Context, events <-chan model.CdcEvent) error {
	var batch []model.CdcEvent
	inTx := false
	ageDue := false

	var timer *time.Timer
	var timerC <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		timerC = nil
	}
	armTimer := func() {
		if b.cfg.MaxFill <= 0 {
			return
		}
		timer = time.NewTimer(b.cfg.MaxFill)
		timerC = timer.C
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		toFlush := batch
		batch = nil
		ageDue = false
		stopTimer()
		return b.flush(ctx, toFlush)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timerC:
			if !inTx {
				if err := flush(); err != nil {
					return err
				}
			} else {
				// Mid-transaction: deferred until the next Commit (or
				// independent event) per §4.E — never split a transaction.
				ageDue = true
				stopTimer()
			}

		case ev, ok := <-events:
			if !ok {
				if err := flush(); err != nil {
					return err
				}
				return b.src.Err()
			}

			if ev.Kind == model.EventKeepAliveRequested {
				if ev.ReplyRequested {
					if err := b.src.SendStatusUpdate(ctx, b.lastDurableLSN); err != nil {
						return &model.SinkError{Reason: "keepalive reply", Err: err}
					}
				}
				continue
			}

			merged, err := b.mergeToast(ev)
			if err != nil {
				return err
			}

			if len(batch) == 0 {
				armTimer()
			}

			switch merged.Kind {
			case model.EventBegin:
				inTx = true
			case model.EventRelation:
				b.schemas[merged.Schema.TableId] = merged.Schema
			}

			batch = append(batch, merged)

			if merged.Kind == model.EventCommit {
				inTx = false
			}

			if !inTx && (len(batch) >= b.cfg.MaxSize || ageDue) {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

func (b *Batcher) flush(ctx context.Context, batch []model.CdcEvent) error {
	lsn, ok, err := b.dst.WriteCdcEvents(ctx, batch)
	if err != nil {
		return &model.SinkError{Reason: "write_cdc_events", Err: err}
	}
	if !ok {
		return nil
	}
	// Persist-or-sink-commits first, acknowledge upstream second — an
	// acknowledgement must never precede durability (§4.E, §8).
	if err := b.src.SendStatusUpdate(ctx, lsn); err != nil {
		return &model.SinkError{Reason: "send_status_update", Err: err}
	}
	b.lastDurableLSN = lsn
	if b.onCommit != nil {
		b.onCommit(lsn)
	}
	return nil
}
