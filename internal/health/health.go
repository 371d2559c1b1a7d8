// Package health serves the gRPC health protocol backed by a store ping.
package health

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service is the name reported for the HTTP API. The empty name reports the
// overall server status.
const Service = "biodata.api"

// Checker is the dependency whose reachability decides serving status.
type Checker interface {
	Ping(ctx context.Context) error
}

// Server owns the gRPC server and the probe loop.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	checker  Checker
	interval time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// NewServer returns a Server that pings checker every interval.
func NewServer(checker Checker, interval time.Duration, opts ...grpc.ServerOption) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	gs := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	// NOT_SERVING until the first probe succeeds
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		grpc:     gs,
		health:   hs,
		checker:  checker,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Probe pings the checker once and records the result.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.checker.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("health probe failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
	return status
}

// Serve probes immediately, then keeps probing while serving lis. It returns
// when the listener fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.Probe(context.Background())
	go s.loop()
	return s.grpc.Serve(lis)
}

func (s *Server) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Probe(context.Background())
		case <-s.done:
			return
		}
	}
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}
