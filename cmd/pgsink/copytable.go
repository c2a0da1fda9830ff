package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jfoltran/pgsink/internal/model"
	"github.com/jfoltran/pgsink/internal/pipeline"
	"github.com/jfoltran/pgsink/internal/source"
)

var copyTableCmd = &cobra.Command{
	Use:   "copy-table [schema] [name]",
	Short: "Snapshot-copy a single table into the sink",
	Long: `copy-table runs only the bulk snapshot-copy phase (§4.B's Snapshotting
state) for one table: it opens a replication slot's exported snapshot,
reads the table with a SELECT inside that snapshot, and writes it to the
configured sink. It does
not transition to CDC streaming; run "pgsink cdc" separately to stream
ongoing changes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		schema, name := args[0], args[1]

		src, err := newSource(cmd.Context())
		if err != nil {
			return err
		}
		dst, err := newSinkFromConfig(cmd.Context())
		if err != nil {
			src.Close(cmd.Context())
			return err
		}

		p := pipeline.New(src, dst, pipeline.Config{
			Action: model.TableCopiesOnly,
			Tables: model.NewTableNamesFromList([]model.TableName{{Schema: schema, Name: name}}),
			Batch:  model.BatchConfig{MaxSize: cfg.Batch.MaxSize, MaxFill: cfg.Batch.MaxFill()},
		}, logger)
		defer p.Close(cmd.Context())

		return p.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(copyTableCmd)
}

func newSource(ctx context.Context) (*source.PostgresSource, error) {
	return source.NewPostgresSource(ctx, source.Config{
		DSN:            cfg.Source.DSN(),
		ReplicationDSN: cfg.Source.ReplicationDSN(),
		SlotName:       cfg.Replication.SlotName,
		Publication:    cfg.Replication.Publication,
		SlotPersistent: true,
	}, logger)
}
