package main

import (
	"github.com/spf13/cobra"

	"github.com/jfoltran/pgsink/internal/metrics"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a standalone status API server",
	Long: `serve starts pgsink's status HTTP API, seeded with the phase and table
list of the last-known state in the state file. The file is read once at
startup; later writes to it (for example by a running "pgsink cdc") are
not picked up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		collector := metrics.NewCollector(logger)
		defer collector.Close()

		if snap, err := metrics.ReadStateFile(); err == nil {
			collector.SetPhase(snap.Phase)
			collector.SetTables(snap.Tables)
		}

		return metrics.NewStatusServer(collector, logger).Start(cmd.Context(), servePort)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 7654, "HTTP server port")
	rootCmd.AddCommand(serveCmd)
}
