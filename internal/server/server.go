package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that knows the path patterns it serves.
type Handler interface {
	http.Handler
	Routes() []string
}

// Router defines HTTP routing with a middleware stack.
type Router interface {
	Use(middleware ...Middleware)
	Handle(method, path string, handler http.Handler)
	Handler(handler Handler)
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// StatusFunc reports the live counters of the run for /healthz.
type StatusFunc func() Status

// Status is the body of a /healthz response.
type Status struct {
	State     string `json:"state"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Duplicate int    `json:"duplicates"`
	Failed    int    `json:"failed"`
}

// Server serves the run endpoints until [Server.Shutdown] is called.
type Server struct {
	http   *http.Server
	logger *log.Logger
}

// New builds a [Server] on addr exposing the metrics gathered by g and the status from status.
func New(addr string, g prometheus.Gatherer, status StatusFunc, logger *log.Logger) *Server {
	router := NewBasicRouter()
	router.Use(LoggingMiddleware(logger))
	router.Handle(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	router.Handler(NewHealthHandler(status))

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens on the configured address and serves in the background. The bound address is returned,
// which resolves a ":0" port.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()

	return ln.Addr().String(), nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// LoggingMiddleware logs each request at debug level.
func LoggingMiddleware(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("served request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}
