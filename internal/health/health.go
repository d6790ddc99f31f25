// Package health exposes the standard gRPC health service backed by a
// periodic storage ping, so orchestrators can probe the engine without HTTP.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "cuepoint.Playback"

// DefaultInterval is how often the store is pinged.
const DefaultInterval = 10 * time.Second

// Pinger is satisfied by store.Repository.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves grpc.health.v1.Health.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
}

// NewServer creates a health server. Status starts as NOT_SERVING until the
// first successful check.
func NewServer(p Pinger, interval time.Duration) *Server {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		pinger:   p,
		interval: interval,
		timeout:  5 * time.Second,
	}
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Check pings the store once and publishes the result.
func (s *Server) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		s.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return false
	}
	s.set(grpc_health_v1.HealthCheckResponse_SERVING)
	return true
}

// Serve checks health on every tick and serves gRPC on lis until ctx is
// cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Check(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Check(ctx)
		case err := <-errCh:
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return err
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			<-errCh
			return nil
		}
	}
}
