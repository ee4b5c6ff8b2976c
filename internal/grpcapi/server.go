// Package grpcapi serves the standard gRPC health protocol, driven by the
// same readiness probe as /readyz.
package grpcapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key reported alongside the overall "" key.
const ServiceName = "easyfornet.identity"

const defaultInterval = 10 * time.Second

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Server owns the grpc.Server and its health state.
type Server struct {
	grpc      *grpc.Server
	health    *health.Server
	readiness ReadinessChecker
	interval  time.Duration
	logger    logrus.FieldLogger
}

// Option configures the Server.
type Option func(*Server)

// WithInterval sets how often readiness is re-evaluated.
func WithInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger for status transitions.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New registers the health service on a fresh grpc.Server.
func New(r ReadinessChecker, opts ...Option) *Server {
	s := &Server{
		grpc:      grpc.NewServer(),
		health:    health.NewServer(),
		readiness: r,
		interval:  defaultInterval,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// GRPC exposes the underlying server for Serve and shutdown.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Evaluate runs one readiness check and publishes the result.
func (s *Server) Evaluate(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			s.logger.WithError(err).Warn("grpc health: not ready")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.setStatus(status)
	return status
}

// Watch re-evaluates readiness every interval until ctx ends, then marks the
// service as shutting down.
func (s *Server) Watch(ctx context.Context) {
	s.Evaluate(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Evaluate(ctx)
		}
	}
}

// Stop marks the service unavailable and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
