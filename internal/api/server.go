// Package api provides the operational HTTP API for Sumline Core.
//
// It exposes the managed-device catalogue, health and stats endpoints, and
// manual triggers for the reconciliation pass and discovery scan, used
// during commissioning and monitoring.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sumline/sumline-core/internal/infrastructure/config"
	"github.com/sumline/sumline-core/internal/infrastructure/logging"
	"github.com/sumline/sumline-core/internal/meter"
	"github.com/sumline/sumline-core/internal/reconcile"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Reconciler triggers a reconciliation pass on demand.
type Reconciler interface {
	OnHourTick(ctx context.Context) (*reconcile.TickReport, error)
}

// Discoverer runs a discovery scan on demand.
type Discoverer interface {
	Discover(ctx context.Context, driverID string) ([]reconcile.NewDeviceSpec, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.Config
	Logger     *logging.Logger
	Registry   *meter.Registry
	Engine     Reconciler
	Classifier Discoverer
	Version    string
}

// Server is the HTTP API server for Sumline Core.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg        config.Config
	logger     *logging.Logger
	registry   *meter.Registry
	engine     Reconciler
	classifier Discoverer
	version    string
	server     *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	// Engine and Classifier are optional; their trigger endpoints return
	// 503 when absent.

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		registry:   deps.Registry,
		engine:     deps.Engine,
		classifier: deps.Classifier,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.API.Host, s.cfg.API.Port),
		Handler:           router,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
