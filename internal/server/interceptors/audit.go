package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"token-lifecycle/backend/internal/audit"
)

// AuditUnary returns a unary server interceptor that records an audit log entry after each RPC.
// skipMethods is the set of full method names to not audit (e.g. the health service, or AuthService
// methods that write their own audit entries). Only authenticated calls are audited. LogEvent is
// best-effort and never fails the RPC.
func AuditUnary(logger audit.AuditLogger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if logger == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		userID, ok := GetUserID(ctx)
		if !ok {
			return resp, err
		}
		ar := audit.ParseFullMethod(info.FullMethod)
		meta := map[string]any{"status_code": status.Code(err).String()}
		if deviceID, _ := GetDeviceID(ctx); deviceID != "" {
			meta["device_id"] = deviceID
		}
		logger.LogEvent(ctx, userID, ar.Action, ar.Resource, audit.Metadata(meta))
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

// UserAgent returns the caller's user agent from gRPC metadata. An explicit x-user-agent
// (set by gateways forwarding a browser request) takes precedence over the transport user-agent.
func UserAgent(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("x-user-agent"); len(v) > 0 && strings.TrimSpace(v[0]) != "" {
		return strings.TrimSpace(v[0])
	}
	if v := md.Get("user-agent"); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
