package main

import (
	"github.com/spf13/cobra"

	"github.com/jfoltran/pgsink/internal/controlplane"
)

var (
	controlPlaneDSN  string
	controlPlanePort int
)

var controlPlaneCmd = &cobra.Command{
	Use:   "control-plane",
	Short: "Serve the tenant/source/sink/pipeline management API",
	Long: `control-plane runs the HTTP/JSON CRUD API for tenants, sources, sinks, and
pipelines (§4.G), and the pipeline-lifecycle endpoints that start, stop, and
report the status of a registered pipeline's process within this server
(internal/controlplane.JobManager) — distinct from "pgsink cdc", which runs
one pipeline directly from CLI flags rather than a stored record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := controlplane.Open(ctx, controlPlaneDSN, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		srv := controlplane.NewServer(controlplane.NewStore(db.Pool), logger)
		return srv.Start(ctx, controlPlanePort)
	},
}

func init() {
	controlPlaneCmd.Flags().StringVar(&controlPlaneDSN, "dsn", "", "Control-plane PostgreSQL DSN (stores tenants/sources/sinks/pipelines)")
	controlPlaneCmd.Flags().IntVar(&controlPlanePort, "port", 8080, "HTTP server port")
	rootCmd.AddCommand(controlPlaneCmd)
}
