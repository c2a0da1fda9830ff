package controlplane

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
)

// Server is the control plane's HTTP server: CRUD routes over tenants,
// sources, sinks, and pipelines (§4.G), JSON-only with no embedded SPA or
// WebSocket hub.
type Server struct {
	store  *Store
	jobs   *JobManager
	logger zerolog.Logger
	srv    *http.Server
}

func NewServer(store *Store, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "controlplane-server").Logger()
	return &Server{store: store, jobs: NewJobManager(store, logger), logger: logger}
}

func (s *Server) mux() http.Handler {
	h := &handlers{store: s.store}
	jh := &jobHandlers{jobs: s.jobs}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/pipelines/{id}/start", jh.start)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/stop", jh.stop)
	mux.HandleFunc("GET /api/v1/pipelines/{id}/status", jh.status)

	mux.HandleFunc("GET /api/v1/tenants", h.listTenants)
	mux.HandleFunc("POST /api/v1/tenants", h.addTenant)
	mux.HandleFunc("GET /api/v1/tenants/{id}", h.getTenant)
	mux.HandleFunc("PUT /api/v1/tenants/{id}", h.updateTenant)
	mux.HandleFunc("DELETE /api/v1/tenants/{id}", h.removeTenant)

	mux.HandleFunc("GET /api/v1/sources", h.listSources)
	mux.HandleFunc("POST /api/v1/sources", h.addSource)
	mux.HandleFunc("GET /api/v1/sources/{id}", h.getSource)
	mux.HandleFunc("PUT /api/v1/sources/{id}", h.updateSource)
	mux.HandleFunc("DELETE /api/v1/sources/{id}", h.removeSource)

	mux.HandleFunc("GET /api/v1/sinks", h.listSinks)
	mux.HandleFunc("POST /api/v1/sinks", h.addSink)
	mux.HandleFunc("GET /api/v1/sinks/{id}", h.getSink)
	mux.HandleFunc("PUT /api/v1/sinks/{id}", h.updateSink)
	mux.HandleFunc("DELETE /api/v1/sinks/{id}", h.removeSink)

	mux.HandleFunc("GET /api/v1/pipelines", h.listPipelines)
	mux.HandleFunc("POST /api/v1/pipelines", h.addPipeline)
	mux.HandleFunc("GET /api/v1/pipelines/{id}", h.getPipeline)
	mux.HandleFunc("PUT /api/v1/pipelines/{id}", h.updatePipeline)
	mux.HandleFunc("DELETE /api/v1/pipelines/{id}", h.removePipeline)

	return mux
}

// Start serves the control-plane API on port, blocking until ctx is
// cancelled or ListenAndServe fails.
func (s *Server) Start(ctx context.Context, port int) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.mux(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.Info().Int("port", port).Msg("starting control-plane HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.srv.Close()
	case err := <-errCh:
		return err
	}
}
