package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfoltran/pgsink/internal/metrics"
	"github.com/jfoltran/pgsink/internal/model"
	"github.com/jfoltran/pgsink/internal/pipeline"
	"github.com/jfoltran/pgsink/internal/tui"
)

var (
	cdcAPIPort  int
	cdcTUI      bool
	cdcCopyOnly bool
)

var cdcCmd = &cobra.Command{
	Use:   "cdc [publication] [slot_name]",
	Short: "Copy tables, then stream changes via logical replication",
	Long: `cdc drives the full per-table protocol (§4.B/§4.E): for every table in
the given publication it runs the snapshot-copy phase (skipping tables the
sink already reports copied via GetResumptionState), then transitions to
streaming logical-replication changes, batching events by size/age bounded
by transaction Commit boundaries and acknowledging the source only once the
sink durably persists a batch. Use --copy-only to stop after the copy
phase.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Replication.Publication = args[0]
		cfg.Replication.SlotName = args[1]
		if err := cfg.Validate(); err != nil {
			return err
		}

		src, err := newSource(cmd.Context())
		if err != nil {
			return err
		}

		dst, err := newSinkFromConfig(cmd.Context())
		if err != nil {
			src.Close(cmd.Context())
			return err
		}

		action := model.Both
		if cdcCopyOnly {
			action = model.TableCopiesOnly
		}

		p := pipeline.New(src, dst, pipeline.Config{
			Action: action,
			Tables: model.NewTableNamesFromPublication(cfg.Replication.Publication),
			Batch:  model.BatchConfig{MaxSize: cfg.Batch.MaxSize, MaxFill: cfg.Batch.MaxFill()},
		}, logger)
		defer p.Close(cmd.Context())

		if !cdcTUI && cdcAPIPort == 0 {
			return p.Run(cmd.Context())
		}

		collector := metrics.NewCollector(logger)
		defer collector.Close()
		statePersister, err := metrics.NewStatePersister(collector, logger)
		if err == nil {
			statePersister.Start()
			defer statePersister.Stop()
		}

		pollCtx, cancelPoll := context.WithCancel(cmd.Context())
		defer cancelPoll()
		go pollPipelineStatus(pollCtx, p, collector)

		if cdcAPIPort > 0 {
			metrics.NewStatusServer(collector, logger).StartBackground(cmd.Context(), cdcAPIPort)
		}

		if cdcTUI {
			errCh := make(chan error, 1)
			go func() { errCh <- p.Run(cmd.Context()) }()
			if err := tui.Run(collector); err != nil {
				return err
			}
			return <-errCh
		}

		return p.Run(cmd.Context())
	},
}

func init() {
	cdcCmd.Flags().IntVar(&cdcAPIPort, "api-port", 0, "Enable HTTP status API on this port (0 = disabled)")
	cdcCmd.Flags().BoolVar(&cdcTUI, "tui", false, "Show terminal dashboard while streaming")
	cdcCmd.Flags().BoolVar(&cdcCopyOnly, "copy-only", false, "Stop after the snapshot-copy phase instead of transitioning to CDC")
	rootCmd.AddCommand(cdcCmd)
}

// pollPipelineStatus bridges pipeline.Pipeline's Status() into a
// metrics.Collector every half second, since the pipeline engine has no
// Collector field of its own — its Progress is a plain read-only snapshot,
// not a push feed.
func pollPipelineStatus(ctx context.Context, p *pipeline.Pipeline, collector *metrics.Collector) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress := p.Status()
			collector.SetPhase(progress.Phase)
			collector.RecordConfirmedLSN(progress.LastLSN)
		}
	}
}
