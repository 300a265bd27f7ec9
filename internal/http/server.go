// Package http exposes the dashboard store as a small JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"finboard/internal/core"
	"finboard/internal/dashboard"
	"finboard/internal/log"
	"finboard/internal/middleware/ratelimit"
	"finboard/internal/middleware/security"
	"finboard/internal/middleware/trace"
)

// Dashboard is the store surface the handlers use.
type Dashboard interface {
	State() dashboard.State
	SetDateFilter(f core.DateFilter) error
	RefreshDashboard(ctx context.Context) error
	RefreshSingleKPI(ctx context.Context, key string) error
	RefreshSingleChart(ctx context.Context, key string) error
	RefreshSingleWidget(ctx context.Context, key string) error
	FetchTransactions(ctx context.Context, q core.TransactionQuery) (core.TransactionPage, error)
}

var _ Dashboard = (*dashboard.Store)(nil)

// Config holds server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// RefreshLimit throttles the refresh endpoints per client.
	RefreshLimit ratelimit.Config
}

// DefaultConfig returns the default server configuration. The write timeout
// leaves room for a refresh that waits on the backend.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
		RefreshLimit: ratelimit.DefaultConfig(),
	}
}

type Server struct {
	http.Server
	dash    Dashboard
	logger  *log.Logger
	tracer  *trace.Middleware
	limiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, dash Dashboard, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		dash:    dash,
		logger:  logger,
		tracer:  trace.NewMiddleware(logger, security.ClientIP),
		limiter: ratelimit.NewLimiter(cfg.RefreshLimit),
	}

	limited := s.limiter.Middleware(security.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Warn("Refresh rate limit exceeded", "client_ip", security.ClientIP(r))
		TooManyRequestsError("refresh rate limit exceeded").Write(w)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("PUT /api/filter", s.handleSetFilter)
	mux.Handle("POST /api/refresh", limited(http.HandlerFunc(s.handleRefresh)))
	mux.Handle("POST /api/refresh/{class}/{key}", limited(http.HandlerFunc(s.handleRefreshOne)))
	mux.HandleFunc("GET /api/transactions", s.handleTransactions)

	var h http.Handler = mux
	h = log.Middleware(logger)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:         cfg.Addr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Shutdown gracefully shuts down the server and its rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
