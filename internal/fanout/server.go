package fanout

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/metrics"
)

// rssCacheFor bounds how often the overload guard asks the OS for the
// process footprint.
const rssCacheFor = 30 * time.Second

// Server owns the websocket listener. Everything after the upgrade is
// the hub's business; the server only decides whether to let the
// connection in.
type Server struct {
	hub      *Hub
	cfg      config.FanoutConfig
	metrics  *metrics.Registry
	upgrader websocket.Upgrader
	srv      *http.Server

	rssMu sync.Mutex
	rssAt time.Time
	rssMB uint64
}

func NewServer(hub *Hub, m *metrics.Registry, cfg config.FanoutConfig) *Server {
	s := &Server{
		hub:     hub,
		cfg:     cfg,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token auth and origin policy live on the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWS)
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context ends, then shuts the listener down.
// Open websockets are closed by the shutdown; clients recover missed
// notes through catch-up on reconnect.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("Fan-out listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.overloaded() {
		http.Error(w, "over capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Debug().Err(err).Msg("Websocket upgrade refused")
		return
	}

	c := newClient(s.hub, conn)
	s.metrics.Subscribers.Inc()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Subscriber connected")

	go c.writePump()
	go func() {
		// The request context dies when this handler returns, which is
		// immediately after the upgrade; the pump gets its own root.
		c.readPump(context.Background())
		s.metrics.Subscribers.Dec()
		log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Subscriber disconnected")
	}()
}

// overloaded reports whether the process has outgrown its memory cap.
// New connections are refused while it holds; existing ones ride on.
func (s *Server) overloaded() bool {
	if s.cfg.MaxRSSMB == 0 {
		return false
	}
	return s.residentMB() > s.cfg.MaxRSSMB
}

func (s *Server) residentMB() uint64 {
	s.rssMu.Lock()
	defer s.rssMu.Unlock()
	if time.Since(s.rssAt) < rssCacheFor {
		return s.rssMB
	}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return s.rssMB
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return s.rssMB
	}
	s.rssMB = mi.RSS / (1 << 20)
	s.rssAt = time.Now()
	return s.rssMB
}
