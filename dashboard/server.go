package dashboard

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"minicord/bot"
	"minicord/gateway"
	"minicord/utils"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const READ_HEADER_TIMEOUT = 5 * time.Second

// ClientStatus is the part of the gateway client the dashboard reports on.
type ClientStatus interface {
	Snapshot() gateway.Snapshot
}

// BotStatus is optional application state shown next to the client.
type BotStatus interface {
	Stats() bot.Stats
}

type statusResponse struct {
	Gateway   gateway.Snapshot   `json:"gateway"`
	LatencyMS float64            `json:"latency_ms"`
	Bot       *bot.Stats         `json:"bot,omitempty"`
	Runtime   utils.RuntimeStats `json:"runtime"`
	Timestamp time.Time          `json:"timestamp"`
}

// Server exposes Prometheus metrics on /metrics and a JSON summary on /status.
type Server struct {
	client ClientStatus
	bot    BotStatus
	logger zerolog.Logger
	server *http.Server
}

func NewServer(addr string, client ClientStatus, b BotStatus, reg *prometheus.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		client: client,
		bot:    b,
		logger: logger,
	}

	metrics := newHTTPMetrics(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.instrument("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	mux.Handle("/status", metrics.instrument("/status", http.HandlerFunc(s.handleStatus)))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: READ_HEADER_TIMEOUT,
	}
	return s
}

// Handler is the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.server.Addr)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("[Dashboard] Starting metrics server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("[Dashboard] server stopped")
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.client.Snapshot()
	resp := statusResponse{
		Gateway:   snap,
		LatencyMS: float64(snap.Latency) / float64(time.Millisecond),
		Runtime:   utils.GetRuntimeStats(),
		Timestamp: time.Now(),
	}
	if s.bot != nil {
		stats := s.bot.Stats()
		resp.Bot = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("[Dashboard] failed to write status")
	}
}
