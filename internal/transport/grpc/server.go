package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name health checks report on, next to the overall "" service.
const ServiceName = "sproutxp.XP"

const probeInterval = 5 * time.Second

// Pinger is satisfied by the PostgreSQL pool and the Redis client wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the standard gRPC health service. Status follows the reachability
// of the backing stores, so orchestrators can stop routing to an instance that lost them.
type Server struct {
	srv     *grpc.Server
	health  *health.Server
	addr    string
	pingers map[string]Pinger
}

func NewServer(addr string, pingers map[string]Pinger) *Server {
	s := &Server{
		srv:     grpc.NewServer(),
		health:  health.NewServer(),
		addr:    addr,
		pingers: pingers,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go s.watch(ctx)
	slog.Info("gRPC health server listening", "addr", s.addr)
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.srv.GracefulStop()
	return nil
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		s.probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for name, p := range s.pingers {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Warn("grpc: health probe failed", "dependency", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}
