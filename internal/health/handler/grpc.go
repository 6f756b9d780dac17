package handler

import (
	"context"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	blacklistservice "token-lifecycle/backend/internal/blacklist/service"
	"token-lifecycle/backend/internal/platform/rpc"
)

// ServiceName is the fully-qualified gRPC service name of the readiness API.
const ServiceName = "tokenlifecycle.health.v1.HealthService"

// HealthCheckFullMethod is the full method name of HealthCheck, for interceptor public/skip sets.
var HealthCheckFullMethod = rpc.FullMethod(ServiceName, "HealthCheck")

// checkTimeout bounds each dependency check.
const checkTimeout = 2 * time.Second

// Serving status values reported by HealthCheck.
const (
	StatusServing    = "SERVING"
	StatusNotServing = "NOT_SERVING"
)

// Pinger checks database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the device policy engine evaluates (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// BlacklistChecker reports blacklist store health (e.g. *blacklistservice.Service).
type BlacklistChecker interface {
	GetHealthStatus(ctx context.Context) blacklistservice.HealthStatus
}

type HealthCheckRequest struct{}

// HealthCheckResponse carries the overall status and a per-dependency result ("ok" or the failure).
type HealthCheckResponse struct {
	Status          string            `json:"status"`
	Checks          map[string]string `json:"checks,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

// HealthServiceServer is the server API for the readiness service.
type HealthServiceServer interface {
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
}

// HealthServiceDesc describes the readiness service for grpc.ServiceRegistrar.
var HealthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HealthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "HealthCheck", HealthServiceServer.HealthCheck),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "health/v1/health.json",
}

// RegisterHealthServiceServer registers srv with s.
func RegisterHealthServiceServer(s grpc.ServiceRegistrar, srv HealthServiceServer) {
	s.RegisterService(&HealthServiceDesc, srv)
}

// Server implements HealthService for readiness/liveness.
type Server struct {
	pinger    Pinger
	policy    PolicyChecker
	blacklist BlacklistChecker
}

// NewServer returns a new Health gRPC server. Any checker may be nil; its check is then skipped.
func NewServer(pinger Pinger, policy PolicyChecker, blacklist BlacklistChecker) *Server {
	return &Server{pinger: pinger, policy: policy, blacklist: blacklist}
}

// HealthCheck returns service health status for Kubernetes, load balancers, and CI.
// Dependency failures are reported as NOT_SERVING, never as a gRPC error. A blacklist that is
// reachable but over its size thresholds stays SERVING and adds recommendations.
func (s *Server) HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error) {
	resp := &HealthCheckResponse{Status: StatusServing, Checks: map[string]string{}}
	fail := func(name string, err error) {
		resp.Status = StatusNotServing
		resp.Checks[name] = err.Error()
	}
	if s.pinger != nil {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.pinger.PingContext(cctx)
		cancel()
		if err != nil {
			fail("database", err)
		} else {
			resp.Checks["database"] = "ok"
		}
	}
	if s.policy != nil {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.policy.HealthCheck(cctx)
		cancel()
		if err != nil {
			fail("policy", err)
		} else {
			resp.Checks["policy"] = "ok"
		}
	}
	if s.blacklist != nil {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		h := s.blacklist.GetHealthStatus(cctx)
		cancel()
		switch {
		case !h.Available:
			resp.Status = StatusNotServing
			resp.Checks["blacklist"] = "unavailable"
		case !h.Healthy:
			resp.Checks["blacklist"] = "degraded"
		default:
			resp.Checks["blacklist"] = "ok"
		}
		resp.Recommendations = h.Recommendations
	}
	return resp, nil
}

// Sync mirrors HealthCheck into the standard grpc.health.v1 server every interval until ctx is done,
// so load balancers using the stock health protocol see dependency failures. The overall status ("")
// and each name in services are updated together.
func (s *Server) Sync(ctx context.Context, hs *health.Server, interval time.Duration, services ...string) {
	update := func() {
		resp, _ := s.HealthCheck(ctx, &HealthCheckRequest{})
		st := healthpb.HealthCheckResponse_SERVING
		if resp.Status != StatusServing {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			log.Printf("health: not serving: %v", resp.Checks)
		}
		hs.SetServingStatus("", st)
		for _, name := range services {
			hs.SetServingStatus(name, st)
		}
	}
	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
