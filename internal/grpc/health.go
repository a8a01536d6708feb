package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

// MenuService is the health service name that follows menu freshness.
const MenuService = "menu"

type MenuFreshness interface {
	Fresh(maxAge time.Duration) bool
}

// HealthServer exposes grpc.health.v1. The overall service is SERVING while
// the process runs; MenuService is SERVING only while a usable menu is loaded.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	menu     MenuFreshness
	maxAge   time.Duration
	interval time.Duration
	log      *slog.Logger
}

func NewHealthServer(menu MenuFreshness, maxAge, interval time.Duration, log *slog.Logger) *HealthServer {
	if log == nil {
		log = logger.Nop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	server := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	h := health.NewServer()
	healthpb.RegisterHealthServer(server, h)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(server)

	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(MenuService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		server:   server,
		health:   h,
		menu:     menu,
		maxAge:   maxAge,
		interval: interval,
		log:      log,
	}
}

// Serve answers on lis and updates the menu status until ctx ends, then
// stops gracefully.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	go s.watch(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("grpc health server listening", slog.String("addr", lis.Addr().String()))
		errCh <- s.server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		return nil
	}
}

func (s *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.update()
	for {
		select {
		case <-ticker.C:
			s.update()
		case <-ctx.Done():
			return
		}
	}
}

// update returns the status it set.
func (s *HealthServer) update() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.menu.Fresh(s.maxAge) {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(MenuService, status)
	return status
}
