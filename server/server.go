// Package server exposes the dashboard API: job submission through the
// payment path, the job list, status refresh, fee quotes and allowance
// revocation.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	x402 "github.com/brokerdash/x402pay"
	"github.com/brokerdash/x402pay/broker"
	"github.com/brokerdash/x402pay/internal/metrics"
	"github.com/brokerdash/x402pay/jobs"
)

// Broker submits jobs and reads their status
type Broker interface {
	Run(ctx context.Context, req broker.RunRequest) (*broker.Submission, error)
	Store(ctx context.Context, req broker.StoreRequest) (*broker.Submission, error)
	Cache(ctx context.Context, req broker.CacheRequest) (*broker.Submission, error)
	jobs.StatusFetcher
}

// Revoker clears the allowance granted by a payment
type Revoker interface {
	Revoke(ctx context.Context, info x402.PaymentInfo) (string, error)
}

// Option configures a Server
type Option func(*Server)

// WithAPIKey requires X-API-Key on every /api route
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithRevoker enables POST /api/revoke
func WithRevoker(revoker Revoker) Option {
	return func(s *Server) {
		s.revoker = revoker
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is the dashboard API
type Server struct {
	store     jobs.Store
	broker    Broker
	recorder  *jobs.Recorder
	refresher *jobs.Refresher
	revoker   Revoker
	apiKey    string
	logger    zerolog.Logger
	engine    *gin.Engine
}

// New creates the API over store and b
func New(store jobs.Store, b Broker, opts ...Option) *Server {
	s := &Server{
		store:  store,
		broker: b,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = jobs.NewRecorder(store)
	s.refresher = jobs.NewRefresher(store, b, s.logger)
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", apiKeyAuth(s.apiKey))
	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/:id", s.getJob)
	api.POST("/jobs/:id/refresh", s.refreshJob)
	api.POST("/run", s.submitRun)
	api.POST("/store", s.submitStore)
	api.POST("/cache", s.submitCache)
	api.POST("/revoke", s.revoke)
	api.GET("/fees", s.quoteFee)

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("dashboard API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("dashboard API stopped")
	return nil
}
