package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the HTTP API.
const ServiceName = "usba.api"

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer serves grpc.health.v1 on its own listener and tracks the
// store's reachability.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
	pinger Pinger
	every  time.Duration
}

// StartHealthServer listens on addr and serves the health service until ctx
// is cancelled or Stop is called.
func StartHealthServer(ctx context.Context, addr string, pinger Pinger, every time.Duration) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen health %s: %w", addr, err)
	}
	if every <= 0 {
		every = 15 * time.Second
	}

	hs := &HealthServer{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
		pinger: pinger,
		every:  every,
	}
	healthpb.RegisterHealthServer(hs.srv, hs.health)
	hs.check(ctx)

	go func() {
		if err := hs.srv.Serve(lis); err != nil {
			slog.Error("gRPC health server stopped", "error", err)
		}
	}()
	go hs.watch(ctx)

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return hs, nil
}

// Addr is the bound listener address.
func (h *HealthServer) Addr() string {
	return h.lis.Addr().String()
}

// Stop marks the service not serving and stops the server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}

func (h *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(h.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-ticker.C:
			h.check(ctx)
		}
	}
}

func (h *HealthServer) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if h.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := h.pinger.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Warn("Health check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}
