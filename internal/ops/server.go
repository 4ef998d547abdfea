package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/persistence"
	"github.com/footybrain/footyd/internal/stream"
	"github.com/footybrain/footyd/internal/upstream"
)

// DBProbe is the slice of the pool the health check needs. *sqlx.DB
// satisfies it.
type DBProbe interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// Deps wires the probes and stores the operator surface reads.
// Function fields may be nil when a subsystem is not running.
type Deps struct {
	DB       DBProbe
	Jobs     persistence.JobRepo
	Metrics  *metrics.Registry
	Bus      stream.Bus
	Snapshot *config.Holder

	Governor func() upstream.GovernorStats
	Queues   func() map[string]int
	Fanout   func() FanoutStats
}

// FanoutStats mirrors the bridge's Stats shape without importing it;
// the bridge depends on nothing here and nothing here on the bridge.
type FanoutStats struct {
	Topics  int `json:"topics"`
	Clients int `json:"clients"`
}

// Server is the operator HTTP surface: health, metrics, and the
// runtime knobs (job catalog, league set, pull intervals).
type Server struct {
	deps Deps
	cfg  config.OpsConfig
	srv  *http.Server
}

func NewServer(deps Deps, cfg config.OpsConfig) *Server {
	s := &Server{deps: deps, cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{name}", s.handleJobPatch).Methods(http.MethodPatch)
	r.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	r.HandleFunc("/leagues", s.handleLeaguesGet).Methods(http.MethodGet)
	r.HandleFunc("/leagues", s.handleLeaguesPut).Methods(http.MethodPut)
	r.HandleFunc("/intervals", s.handleIntervalsGet).Methods(http.MethodGet)
	r.HandleFunc("/intervals", s.handleIntervalsPut).Methods(http.MethodPut)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until the context ends.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("Operator surface listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutCtx); err != nil {
			_ = s.srv.Close()
		}
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

type apiError struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}
