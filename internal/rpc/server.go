// Package rpc is the gRPC façade. Services are described by hand-written
// service descriptors whose messages are google.protobuf.Struct values, so no
// generated code is needed.
package rpc

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
)

// ServerConfig wires the services and interceptors of a façade server.
type ServerConfig struct {
	Motion *core.MotionSimulator
	Alerts *core.AlertService
	Log    logging.Logger
	// Metrics is an optional interceptor recording per-call metrics. It sees
	// errors after they have been mapped to status codes.
	Metrics grpc.UnaryServerInterceptor
	// Tracing installs the otelgrpc stats handler.
	Tracing bool
}

// Server is a configured gRPC server plus its health service.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer builds a gRPC server with both services, the standard health
// service and the interceptor chain.
func NewServer(cfg ServerConfig, opts ...grpc.ServerOption) *Server {
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}

	chain := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if cfg.Metrics != nil {
		chain = append(chain, cfg.Metrics)
	}
	chain = append(chain, ErrorMappingUnaryServerInterceptor())

	serverOpts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(chain...)}
	if cfg.Tracing {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	serverOpts = append(serverOpts, opts...)

	srv := grpc.NewServer(serverOpts...)
	RegisterSimulationServer(srv, NewSimulationService(cfg.Motion, log))
	RegisterAlertServer(srv, NewAlertService(cfg.Alerts))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(simulationServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(alertServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{Server: srv, Health: hs}
}

// Shutdown flips health to NOT_SERVING and stops gracefully.
func (s *Server) Shutdown() {
	s.Health.Shutdown()
	s.Server.GracefulStop()
}
