package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgsink/internal/model"
	"github.com/jfoltran/pgsink/internal/pipeline"
	"github.com/jfoltran/pgsink/internal/sink"
	"github.com/jfoltran/pgsink/internal/sink/bigquerysink"
	"github.com/jfoltran/pgsink/internal/sink/deltasink"
	"github.com/jfoltran/pgsink/internal/sink/stdoutsink"
	"github.com/jfoltran/pgsink/internal/source"
)

// JobManager runs at most one pipeline per pipeline id at a time: each job
// holds a pipeline.Pipeline, a cancel func, and a last-error slot, since a
// control plane manages many concurrently-running pipelines rather than
// one.
type JobManager struct {
	store  *Store
	logger zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	p      *pipeline.Pipeline
	cancel context.CancelFunc
	err    error
	done   bool
}

func NewJobManager(store *Store, logger zerolog.Logger) *JobManager {
	return &JobManager{
		store:  store,
		logger: logger.With().Str("component", "job-manager").Logger(),
		jobs:   make(map[string]*job),
	}
}

// Start resolves pipelineID's Source/Sink records into a live source.Source
// and sink.Sink, builds a pipeline.Pipeline, and runs it in the background.
func (jm *JobManager) Start(parentCtx context.Context, pipelineID string) error {
	jm.mu.Lock()
	if existing, ok := jm.jobs[pipelineID]; ok && !existing.done {
		jm.mu.Unlock()
		return fmt.Errorf("pipeline %q is already running", pipelineID)
	}
	jm.mu.Unlock()

	rec, ok, err := jm.store.GetPipeline(parentCtx, pipelineID)
	if err != nil {
		return fmt.Errorf("load pipeline %q: %w", pipelineID, err)
	}
	if !ok {
		return fmt.Errorf("pipeline %q not found", pipelineID)
	}

	srcRec, ok, err := jm.store.GetSource(parentCtx, rec.SourceID)
	if err != nil || !ok {
		return fmt.Errorf("load source %q: %w", rec.SourceID, err)
	}
	sinkRec, ok, err := jm.store.GetSink(parentCtx, rec.SinkID)
	if err != nil || !ok {
		return fmt.Errorf("load sink %q: %w", rec.SinkID, err)
	}

	src, err := source.NewPostgresSource(parentCtx, sourceConfigFor(srcRec), jm.logger)
	if err != nil {
		return fmt.Errorf("connect source: %w", err)
	}

	dst, err := newSinkForPipeline(parentCtx, sinkRec, jm.logger)
	if err != nil {
		src.Close(parentCtx)
		return fmt.Errorf("build sink: %w", err)
	}

	cfg := pipeline.Config{
		Action: model.Both,
		Tables: model.NewTableNamesFromPublication(srcRec.Config.Publication),
		Batch: model.BatchConfig{
			MaxSize: rec.Config.Batch.MaxSize,
			MaxFill: time.Duration(rec.Config.Batch.MaxFillSecs) * time.Second,
		},
	}
	p := pipeline.New(src, dst, cfg, jm.logger)

	ctx, cancel := context.WithCancel(parentCtx)
	j := &job{p: p, cancel: cancel}

	jm.mu.Lock()
	jm.jobs[pipelineID] = j
	jm.mu.Unlock()

	go func() {
		err := p.Run(ctx)
		p.Close(context.Background())

		jm.mu.Lock()
		j.err = err
		j.done = true
		jm.mu.Unlock()

		if err != nil && err != context.Canceled {
			jm.logger.Err(err).Str("pipeline_id", pipelineID).Msg("pipeline finished with error")
		} else {
			jm.logger.Info().Str("pipeline_id", pipelineID).Msg("pipeline finished")
		}
	}()

	return nil
}

// Stop cancels pipelineID's run, if one is in flight.
func (jm *JobManager) Stop(pipelineID string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	j, ok := jm.jobs[pipelineID]
	if !ok || j.done {
		return fmt.Errorf("pipeline %q is not running", pipelineID)
	}
	j.cancel()
	return nil
}

// Status reports pipelineID's progress, or (pipeline.Progress{}, false) if it has never run
// in this process.
func (jm *JobManager) Status(pipelineID string) (pipeline.Progress, bool) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	j, ok := jm.jobs[pipelineID]
	if !ok {
		return pipeline.Progress{}, false
	}
	return j.p.Status(), true
}

func sourceConfigFor(rec Source) source.Config {
	base := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		rec.Config.Username, rec.Config.Password, rec.Config.Host, rec.Config.Port, rec.Config.DBName)
	return source.Config{
		DSN:            base,
		ReplicationDSN: base + "&replication=database",
		SlotName:       rec.Config.SlotName,
		Publication:    rec.Config.Publication,
		SlotPersistent: true,
	}
}

// newSinkForPipeline re-marshals rec.Config into the sink-specific Config
// struct for rec.Kind and constructs the concrete sink.Sink implementation.
func newSinkForPipeline(ctx context.Context, rec Sink, logger zerolog.Logger) (sink.Sink, error) {
	raw, err := json.Marshal(rec.Config)
	if err != nil {
		return nil, fmt.Errorf("re-encode sink config: %w", err)
	}

	switch rec.Kind {
	case SinkStdout:
		var cfg struct {
			StatePath string `json:"state_path"`
		}
		_ = json.Unmarshal(raw, &cfg)
		return stdoutsink.New(logger, cfg.StatePath), nil

	case SinkBigQuery:
		var cfg bigquerysink.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode bigquery sink config: %w", err)
		}
		return bigquerysink.New(ctx, cfg, logger)

	case SinkDelta:
		var cfg deltasink.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode delta sink config: %w", err)
		}
		return deltasink.New(cfg, logger)

	default:
		return nil, fmt.Errorf("unknown sink kind %q", rec.Kind)
	}
}

// --- HTTP wiring ---

type jobHandlers struct {
	jobs *JobManager
}

func (jh *jobHandlers) start(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := jh.jobs.Start(r.Context(), id); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (jh *jobHandlers) stop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := jh.jobs.Stop(id); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (jh *jobHandlers) status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	progress, ok := jh.jobs.Status(id)
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("pipeline %q has not run in this process", id))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
