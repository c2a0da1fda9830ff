package main

import (
	"context"
	"fmt"

	"github.com/jfoltran/pgsink/internal/sink"
	"github.com/jfoltran/pgsink/internal/sink/bigquerysink"
	"github.com/jfoltran/pgsink/internal/sink/deltasink"
	"github.com/jfoltran/pgsink/internal/sink/stdoutsink"
)

// newSinkFromConfig builds the sink.Sink selected by cfg.Sink.Kind. Grounded
// on internal/controlplane/jobs.go's newSinkForPipeline, minus the JSON
// round-trip since the CLI's SinkConfig is already typed per-kind.
func newSinkFromConfig(ctx context.Context) (sink.Sink, error) {
	switch cfg.Sink.Kind {
	case "", "stdout":
		return stdoutsink.New(logger, cfg.Sink.Stdout.StatePath), nil

	case "bigquery":
		return bigquerysink.New(ctx, bigquerysink.Config{
			ProjectID: cfg.Sink.BigQuery.ProjectID,
			DatasetID: cfg.Sink.BigQuery.DatasetID,
			SAKeyPath: cfg.Sink.BigQuery.SAKeyPath,
		}, logger)

	case "delta":
		return deltasink.New(deltasink.Config{
			Path:        cfg.Sink.Delta.Path,
			S3Endpoint:  cfg.Sink.Delta.S3Endpoint,
			S3AccessKey: cfg.Sink.Delta.S3AccessKey,
			S3SecretKey: cfg.Sink.Delta.S3SecretKey,
			S3UseSSL:    cfg.Sink.Delta.S3UseSSL,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}
