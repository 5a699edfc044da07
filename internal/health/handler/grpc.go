package handler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "distrack.backend"

// NewGRPCServer returns a gRPC server exposing grpc.health.v1 and the health
// server backing it. Statuses start NOT_SERVING until SyncStatus runs.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

// UpdateStatus runs the readiness checks once and publishes the result.
func UpdateStatus(ctx context.Context, hs *health.Server, checker *Checker, log *logrus.Logger) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := checker.Ready(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if log != nil {
			log.WithError(err).Warn("grpc health: not serving")
		}
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(ServiceName, status)
	return status
}

// SyncStatus refreshes the published status every interval until ctx is done,
// then marks the server NOT_SERVING for shutdown.
func SyncStatus(ctx context.Context, hs *health.Server, checker *Checker, interval time.Duration, log *logrus.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	UpdateStatus(ctx, hs, checker, log)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			UpdateStatus(ctx, hs, checker, log)
		}
	}
}
