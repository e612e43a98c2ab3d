package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "tarpaulin.v1.API"

// NewServer returns a gRPC server exposing the standard health service.
// Every service starts NOT_SERVING until the first probe completes.
func NewServer(opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}
