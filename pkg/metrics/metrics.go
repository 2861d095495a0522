// Package metrics exposes the Prometheus registry used by the bulk-react
// packages. All metrics are defined in their respective packages (discord,
// bulk, ratelimit) via promauto to avoid circular dependencies.
//
// This package provides the scrape endpoint and the metric reference.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is where metrics are served.
const Path = "/metrics"

// Handler returns the scrape handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves Path until closed.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// Serve starts a metrics server on addr in the background. Use ":0" to pick
// a free port; Addr reports the bound address.
func Serve(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(Path, Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	s := &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		logger:   logger,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close shuts the server down, waiting for in-flight scrapes until ctx ends.
func (s *Server) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Request Metrics (pkg/discord):
//   - discord_requests_total{route, status} (Counter): Requests by route template and HTTP status
//   - discord_request_duration_seconds{route} (Histogram): Request duration by route template
//   - discord_errors_total{class} (Counter): Errors by class (client, server, network, protocol)
//
// Rate Limit Metrics (pkg/discord, pkg/ratelimit):
//   - discord_rate_limited_total{scope} (Counter): 429 responses by scope (route, global)
//   - discord_rate_limit_wait_seconds (Histogram): Time spent waiting out 429s
//   - discord_rate_limit_bucket_remaining{bucket} (Gauge): Last X-RateLimit-Remaining seen per bucket
//   - discord_shared_backoff_recorded_total (Counter): Backoffs published to Redis
//   - discord_shared_backoff_waits_total (Counter): Waits caused by another process's backoff
//
// Run Metrics (pkg/bulk):
//   - bulk_actions_applied_total (Counter): Reactions applied
//   - bulk_pages_fetched_total{outcome} (Counter): Pages fetched (ok, empty, error)
//   - bulk_remaining (Gauge): Reactions still to apply in the current run
//
// Example Prometheus Queries:
//
//   # Reactions per second
//   rate(bulk_actions_applied_total[1m])
//
//   # Share of requests answered with 429
//   sum(rate(discord_rate_limited_total[5m])) / sum(rate(discord_requests_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(discord_request_duration_seconds_bucket[5m]))
