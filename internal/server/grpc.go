package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	adminhandler "token-lifecycle/backend/internal/admin/handler"
	"token-lifecycle/backend/internal/audit"
	blacklistservice "token-lifecycle/backend/internal/blacklist/service"
	healthhandler "token-lifecycle/backend/internal/health/handler"
	identityhandler "token-lifecycle/backend/internal/identity/handler"
	identityservice "token-lifecycle/backend/internal/identity/service"
	"token-lifecycle/backend/internal/platform/rbac"
	"token-lifecycle/backend/internal/server/interceptors"
	"token-lifecycle/backend/internal/session/guard"
	sessionhandler "token-lifecycle/backend/internal/session/handler"
	"token-lifecycle/backend/internal/telemetry"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Auth is the auth service for Login/Refresh/Logout/Introspect. If nil, auth RPCs return Unimplemented.
	Auth *identityservice.AuthService
	// Blacklist backs AdminService and the blacklist health probe. If nil, admin RPCs return Unimplemented.
	Blacklist *blacklistservice.Service
	// Admins are the user ids allowed to call AdminService.
	Admins rbac.Admins
	// Sessions backs SessionService. If nil, session RPCs return Unimplemented.
	Sessions *guard.Guard
	// HealthPinger is used by HealthService for readiness (e.g. *sql.DB). If nil, HealthCheck skips DB ping.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used by HealthService for readiness (e.g. OPA evaluator). If nil, HealthCheck skips policy check.
	HealthPolicyChecker healthhandler.PolicyChecker
}

// Options configures the interceptor chain built by NewServer.
type Options struct {
	// Tokens validates Bearer access tokens. If nil, no auth interceptor is installed.
	Tokens interceptors.AccessTokenValidator
	// AuditLogger records authenticated RPCs. May be nil.
	AuditLogger audit.AuditLogger
	// Emitter receives one grpc_request event per RPC. May be nil.
	Emitter telemetry.EventEmitter
}

// PublicMethods are the RPCs callable without an access token.
func PublicMethods() map[string]bool {
	return map[string]bool{
		identityhandler.LoginFullMethod:       true,
		identityhandler.RefreshFullMethod:     true,
		identityhandler.LogoutFullMethod:      true,
		identityhandler.IntrospectFullMethod:  true,
		sessionhandler.CheckSessionFullMethod: true,
		sessionhandler.EndSessionFullMethod:   true,
		healthhandler.HealthCheckFullMethod:   true,
		healthpb.Health_Check_FullMethodName:  true,
		healthpb.Health_Watch_FullMethodName:  true,
	}
}

// auditSkipMethods are RPCs that write their own audit entries or are too noisy to audit.
func auditSkipMethods() map[string]bool {
	return map[string]bool{
		identityhandler.LoginFullMethod:            true,
		identityhandler.RefreshFullMethod:          true,
		identityhandler.LogoutFullMethod:           true,
		identityhandler.LogoutAllDevicesFullMethod: true,
		sessionhandler.CheckSessionFullMethod:      true,
		healthhandler.HealthCheckFullMethod:        true,
		healthpb.Health_Check_FullMethodName:       true,
		healthpb.Health_Watch_FullMethodName:       true,
	}
}

func telemetrySkipMethods() map[string]bool {
	return map[string]bool{
		healthhandler.HealthCheckFullMethod:  true,
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
}

// RegisterServices registers all gRPC services with the given server and returns the
// standard grpc.health.v1 server so the caller can keep its status in sync.
//
// Service → handler mapping:
//   - AuthService    → internal/identity/handler
//   - AdminService   → internal/admin/handler
//   - SessionService → internal/session/handler
//   - HealthService  → internal/health/handler
//   - grpc.health.v1.Health → google.golang.org/grpc/health
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) *health.Server {
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth))
	adminhandler.RegisterAdminServiceServer(s, adminhandler.NewServer(deps.Blacklist, deps.Admins))
	sessionhandler.RegisterSessionServiceServer(s, sessionhandler.NewServer(deps.Sessions))
	var blacklistChecker healthhandler.BlacklistChecker
	if deps.Blacklist != nil {
		blacklistChecker = deps.Blacklist
	}
	healthhandler.RegisterHealthServiceServer(s, healthhandler.NewServer(deps.HealthPinger, deps.HealthPolicyChecker, blacklistChecker))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// NewServer builds a gRPC server with the otelgrpc stats handler and the
// auth → telemetry → audit interceptor chain, and registers all services on it.
func NewServer(deps Deps, opts Options, extra ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	var chain []grpc.UnaryServerInterceptor
	if opts.Tokens != nil {
		chain = append(chain, interceptors.AuthUnary(opts.Tokens, PublicMethods()))
	}
	chain = append(chain,
		interceptors.TelemetryUnary(opts.Emitter, telemetrySkipMethods()),
		interceptors.AuditUnary(opts.AuditLogger, auditSkipMethods()),
	)

	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, extra...)
	s := grpc.NewServer(serverOpts...)
	hs := RegisterServices(s, deps)
	return s, hs
}
