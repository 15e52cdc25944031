// Package healthsrv serves the standard gRPC health protocol for the stream
// consumer. The quotestream service is SERVING only while the broker
// connection is up; the overall server health ("") is always SERVING.
package healthsrv

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rmacdonaldsmith/quotestream/internal/reducer"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

// ServiceName is the health service name reported for the stream.
const ServiceName = "quotestream"

// StateSource is what the health server watches.
type StateSource interface {
	Snapshot() reducer.State
	Changes() (<-chan struct{}, func())
}

// Server wraps a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	stopped   bool
}

// New creates a health server. The stream starts NOT_SERVING.
func New(logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger.With("component", "healthsrv"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetConnected updates the stream health.
func (s *Server) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || connected == s.connected {
		return
	}
	s.connected = connected

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.logger.Debug("health changed", "service", ServiceName, "status", status.String())
}

// Follow keeps the stream health in step with src until ctx is done.
func (s *Server) Follow(ctx context.Context, src StateSource) {
	changes, cancel := src.Changes()
	defer cancel()

	s.SetConnected(src.Snapshot().Status == transport.Connected)
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			s.SetConnected(src.Snapshot().Status == transport.Connected)
		}
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc health listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.health.Shutdown()
	s.grpc.GracefulStop()
}
