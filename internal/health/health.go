// Package health serves the standard gRPC health checking protocol.
//
// The overall service ("") is SERVING while the process runs. The upstream
// service follows the outcome of the latest scrape so that orchestrator checks can tell a
// live exporter from one that cannot reach SonarQube.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// UpstreamService is the health service name tracking scrape results.
const UpstreamService = "sonarqube.upstream"

const shutdownTimeout = 5 * time.Second

// Server wraps a gRPC server exposing the health service.
type Server struct {
	health *grpchealth.Server
	grpc   *grpc.Server
	logger *slog.Logger
}

// NewServer creates a health server. Until the first scrape the upstream
// service reports UNKNOWN.
// Params: logger for serve failures.
// Returns: server ready to Serve.
func NewServer(logger *slog.Logger) *Server {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(UpstreamService, healthpb.HealthCheckResponse_UNKNOWN)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{health: hs, grpc: gs, logger: logger}
}

// ScrapeFinished updates the upstream service status. A scrape abandoned by
// its caller says nothing about the upstream and leaves the status unchanged.
// Params: duration and enabled are unused; err is the scrape outcome.
// Returns: none.
func (s *Server) ScrapeFinished(_ time.Duration, _ int, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(UpstreamService, status)
}

// MeasureRejected ignores bad measures; they do not affect health.
// Params: metric key, unused.
// Returns: none.
func (s *Server) MeasureRejected(string) {}

// Serve accepts connections on ln until ctx is done.
// Params: ctx lifecycle context; ln listener owned by the server from now on.
// Returns: nil on graceful stop or the serve error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			s.grpc.Stop()
		}
		err := <-errCh
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case err := <-errCh:
		if err == nil {
			return nil
		}
		s.logger.Error("grpc health server stopped unexpectedly", slog.String("error", err.Error()))
		return fmt.Errorf("serve grpc health: %w", err)
	}
}
