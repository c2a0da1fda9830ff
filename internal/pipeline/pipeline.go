// Package pipeline is the orchestration engine (component E): Resume →
// ensure replication slot → schema bulletin → copy phase → stream phase,
// driving a source.Source and a sink.Sink. See batcher.go for the
// size/age/commit-boundary batching rule and toast.go for unchanged-toast
// merging.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgsink/internal/model"
	"github.com/jfoltran/pgsink/internal/sink"
	"github.com/jfoltran/pgsink/internal/source"
)

// Config bundles what one pipeline run needs beyond the source and sink
// themselves: which tables, which phases, and the batcher's bounds.
type Config struct {
	Action model.PipelineAction
	Tables model.TableNamesFrom
	Batch  model.BatchConfig
}

// Progress reports the current state of a running pipeline, keyed off
// copy/stream phases.
type Progress struct {
	Phase        string
	LastLSN      model.LSN
	TablesTotal  int
	TablesCopied int
	StartedAt    time.Time
}

// Pipeline orchestrates one source→sink run: copy-then-stream, resume-
// then-stream, copy-only, or stream-only all collapse into one Run keyed
// off model.PipelineAction, since resume state comes from
// sink.GetResumptionState rather than a row-count comparison against a
// destination database — "fresh" and "resumed" runs are the same five
// steps with a different starting LSN/cursor.
type Pipeline struct {
	src    source.Source
	dst    sink.Sink
	cfg    Config
	logger zerolog.Logger

	batcher *Batcher

	mu       sync.Mutex
	progress Progress
	cancel   context.CancelFunc
}

// New creates a Pipeline driving dst from src under cfg.
func New(src source.Source, dst sink.Sink, cfg Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		src:      src,
		dst:      dst,
		cfg:      cfg,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		progress: Progress{Phase: "idle"},
	}
}

// Run performs Resume → Ensure slot → Schema bulletin → Copy phase →
// Stream phase (§4.E). It blocks until ctx is cancelled, the stream
// phase's channel closes, or a sink/source error makes the run fatal.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	defer p.cancel()

	p.setPhase("resuming")
	state, err := p.dst.GetResumptionState(ctx)
	if err != nil {
		return fmt.Errorf("get resumption state: %w", err)
	}
	p.logger.Info().
		Stringer("last_lsn", state.LastLSN).
		Int("copied_tables", len(state.CopiedTables)).
		Msg("resumed")

	p.setPhase("slot")
	if _, err := p.src.EnsureSlot(ctx); err != nil {
		return fmt.Errorf("ensure replication slot: %w", err)
	}

	p.setPhase("schema")
	schemas, err := p.src.GetTableSchemas(ctx, p.cfg.Tables)
	if err != nil {
		return fmt.Errorf("get table schemas: %w", err)
	}
	if err := p.dst.WriteTableSchemas(ctx, schemas); err != nil {
		return fmt.Errorf("write table schemas: %w", err)
	}
	p.mu.Lock()
	p.progress.TablesTotal = len(schemas)
	p.progress.TablesCopied = len(state.CopiedTables)
	p.mu.Unlock()

	if p.cfg.Action.IncludesCopy() {
		if err := p.runCopyPhase(ctx, schemas, state.CopiedTables); err != nil {
			return err
		}
	} else if p.cfg.Action.IncludesStream() {
		// No copy phase to close out the Snapshotting state itself, but
		// the stream phase still needs the source past Snapshotted.
		if err := p.src.CommitTableCopy(ctx); err != nil {
			return fmt.Errorf("commit table copy: %w", err)
		}
	}

	if p.cfg.Action.IncludesStream() {
		if err := p.runStreamPhase(ctx, schemas, state.LastLSN); err != nil {
			return err
		}
	}

	p.setPhase("done")
	return nil
}

func (p *Pipeline) runCopyPhase(ctx context.Context, schemas map[model.TableId]*model.TableSchema, copied map[model.TableId]bool) error {
	p.setPhase("copy")
	for id, schema := range schemas {
		if copied[id] {
			continue
		}
		if err := p.copyTable(ctx, id, schema); err != nil {
			return fmt.Errorf("copy table %s: %w", schema.TableName.String(), err)
		}
		if err := p.dst.TableCopied(ctx, id); err != nil {
			return fmt.Errorf("table_copied %s: %w", schema.TableName.String(), err)
		}
		p.mu.Lock()
		p.progress.TablesCopied++
		p.mu.Unlock()
		p.logger.Info().Str("table", schema.TableName.String()).Msg("table copy complete")
	}
	return p.src.CommitTableCopy(ctx)
}

// copyTable drains one table's copy stream into size-bounded batches (§4.E
// step 3), flushing whenever the batcher's MaxSize is reached.
func (p *Pipeline) copyTable(ctx context.Context, id model.TableId, schema *model.TableSchema) error {
	rows, err := p.src.GetTableCopyStream(ctx, id, schema)
	if err != nil {
		return err
	}
	defer rows.Close(ctx)

	maxSize := p.cfg.Batch.MaxSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	batch := make([]model.TableRow, 0, maxSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.dst.WriteTableRows(ctx, id, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		row, ok, err := rows.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		batch = append(batch, row)
		if len(batch) >= maxSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (p *Pipeline) runStreamPhase(ctx context.Context, schemas map[model.TableId]*model.TableSchema, startLSN model.LSN) error {
	events, err := p.src.GetCDCStream(ctx, startLSN)
	if err != nil {
		return fmt.Errorf("get cdc stream: %w", err)
	}

	p.batcher = NewBatcher(p.src, p.dst, p.cfg.Batch, p.logger)
	p.batcher.SeedSchema(schemas)
	p.batcher.SeedLastDurableLSN(startLSN)
	p.batcher.OnCommit(func(lsn model.LSN) {
		p.mu.Lock()
		p.progress.LastLSN = lsn
		p.mu.Unlock()
	})

	p.setPhase("streaming")
	if err := p.batcher.Run(ctx, events); err != nil {
		return fmt.Errorf("batcher: %w", err)
	}
	return p.src.Err()
}

// Status returns a snapshot of progress, safe to call concurrently with Run.
func (p *Pipeline) Status() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Close cancels any in-flight Run and releases the source/sink.
func (p *Pipeline) Close(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
	}
	p.src.Close(ctx)
	if err := p.dst.Close(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("sink close")
	}
}

func (p *Pipeline) setPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress.Phase = phase
	if p.progress.StartedAt.IsZero() {
		p.progress.StartedAt = time.Now()
	}
	p.logger.Info().Str("phase", phase).Msg("phase transition")
}
