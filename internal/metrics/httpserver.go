package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
)

// StatusServer exposes a Collector's Snapshot over HTTP: the one read-only
// endpoint that "pgsink cdc --api-port" and "pgsink serve" expose and that
// "pgsink tui" polls — no
// CRUD, no WebSocket log tail (that's internal/controlplane's job for the
// control-plane resources, not a single CLI-driven pipeline's live
// progress).
type StatusServer struct {
	collector *Collector
	logger    zerolog.Logger
}

// NewStatusServer wraps collector for serving.
func NewStatusServer(collector *Collector, logger zerolog.Logger) *StatusServer {
	return &StatusServer{collector: collector, logger: logger.With().Str("component", "status-server").Logger()}
}

func (s *StatusServer) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.collector.Snapshot())
	})
	return mux
}

// Start serves the status endpoint on port, blocking until ctx is
// cancelled or the listener fails.
func (s *StatusServer) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.mux(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.Info().Int("port", port).Msg("starting status HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}

// StartBackground runs Start in a goroutine, logging any terminal error.
func (s *StatusServer) StartBackground(ctx context.Context, port int) {
	go func() {
		if err := s.Start(ctx, port); err != nil {
			s.logger.Err(err).Msg("status server stopped")
		}
	}()
}
