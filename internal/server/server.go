// Package server assembles the HTTP surface of the scribe API: routing,
// middleware ordering, health and metrics endpoints, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/config"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// RouteRegistrar is implemented by each domain's handlers
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Options holds the collaborators the server wires together. Nil
// middleware and endpoints are skipped.
type Options struct {
	Config      config.ServerConfig
	Monitoring  func(http.Handler) http.Handler
	Auth        func(http.Handler) http.Handler
	RateLimiter *RateLimiter
	Health      http.Handler
	HealthPath  string
	Metrics     http.Handler
	MetricsPath string
}

// Server is the scribe API HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	logger *logger.Logger
}

// New builds the router and registers every domain's routes. CORS and
// security headers wrap the router itself so preflight requests for any
// path are answered before route matching.
func New(opts Options, log *logger.Logger, registrars ...RouteRegistrar) *Server {
	router := mux.NewRouter()

	if opts.Health != nil {
		router.Handle(pathOr(opts.HealthPath, "/health"), opts.Health).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		router.Handle(pathOr(opts.MetricsPath, "/metrics"), opts.Metrics).Methods(http.MethodGet)
	}
	for _, r := range registrars {
		r.RegisterRoutes(router)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteErrorCode(w, http.StatusNotFound, types.ErrCodeNotFound, "route not found", log)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteErrorCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", log)
	})

	if opts.Monitoring != nil {
		router.Use(opts.Monitoring)
	}
	if opts.Auth != nil {
		router.Use(opts.Auth)
	}
	router.Use(RateLimit(opts.RateLimiter, log))

	return &Server{
		router: router,
		logger: log,
		server: &http.Server{
			Handler:      CORS(SecurityHeaders(router)),
			ReadTimeout:  opts.Config.ReadTimeout,
			WriteTimeout: opts.Config.WriteTimeout,
			IdleTimeout:  opts.Config.IdleTimeout,
		},
	}
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.server.Addr = addr
	s.logger.WithComponent("server").WithField("addr", addr).Info("Starting scribe API")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.WithComponent("server").Info("Stopping scribe API")
	return s.server.Shutdown(ctx)
}

func pathOr(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return path
}
