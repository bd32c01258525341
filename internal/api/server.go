// Package api serves ingestion runs over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/ingest"
	"github.com/sells-group/certstate-cli/internal/monitoring"
	"github.com/sells-group/certstate-cli/internal/store"
)

const (
	defaultMaxBodyBytes  = 32 << 20
	defaultLookbackHours = 24
	shutdownTimeout      = 30 * time.Second
)

// Server exposes synchronous ingestion and the run history.
type Server struct {
	runner   *ingest.Runner
	store    store.Store
	stats    *monitoring.Collector
	gatherer prometheus.Gatherer
	origins  []string
	maxBody  int64
}

// Option configures a Server.
type Option func(*Server)

// WithStore serves the run history from st. Without one the run routes
// answer 503.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithStats serves /v1/stats from c.
func WithStats(c *monitoring.Collector) Option {
	return func(s *Server) { s.stats = c }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithAllowedOrigins sets the CORS origins. Default: "*".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMaxBodyBytes caps the ingest request body.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// New creates a Server around runner.
func New(runner *ingest.Runner, opts ...Option) *Server {
	s := &Server{
		runner:   runner,
		gatherer: prometheus.DefaultGatherer,
		origins:  []string{"*"},
		maxBody:  defaultMaxBodyBytes,
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/stats", s.handleStats)
		r.Route("/runs", func(r chi.Router) {
			r.Use(s.requireStore)
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/pages", s.handleListPages)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		zap.L().Info("api: starting server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "api: listen")
	case <-ctx.Done():
	}

	zap.L().Info("api: shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "api: shutdown")
	}
	return nil
}

// Addr formats a listen address for port.
func Addr(port int) string { return fmt.Sprintf(":%d", port) }
