package observability

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/mesh-metering-simulator/internal/logging"
)

// HealthService is the service name whose status tracks the simulation run.
const HealthService = "meshsim"

const requestIDMetadataKey = "x-request-id"

// HealthServer exposes grpc.health.v1.Health for a running simulation:
// HealthService is SERVING while a run is active and NOT_SERVING otherwise.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewHealthServer builds the server. collector may be nil.
func NewHealthServer(collector *SimCollector, log logging.Logger) *HealthServer {
	if log == nil {
		log = logging.Noop()
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			requestLoggerUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
	)
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{srv: srv, health: hs, log: log}
}

// SetServing flips the status of HealthService.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(HealthService, status)
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr uses port 0.
func (h *HealthServer) Start(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for health on %s: %w", addr, err)
	}
	go func() {
		if err := h.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			h.log.Warn(context.Background(), "health server exited", logging.Err(err))
		}
	}()
	h.log.Info(context.Background(), "serving gRPC health", logging.String("addr", lis.Addr().String()))
	return lis.Addr(), nil
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}

// requestLoggerUnaryServerInterceptor attaches a per-request logger annotated
// with the method and, when the caller sent one, its request id.
func requestLoggerUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		reqLog := base.With(logging.String("method", info.FullMethod))
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				reqLog = reqLog.With(logging.String("request_id", vals[0]))
			}
		}
		ctx = logging.ContextWithLogger(ctx, reqLog)
		reqLog.Debug(ctx, "rpc received")
		return handler(ctx, req)
	}
}
