package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"token-lifecycle/backend/internal/telemetry"
	"token-lifecycle/backend/internal/telemetry/domain"
)

const telemetrySource = "grpc_interceptor"

// grpcRequestMetadata is the JSON shape stored in Event.Metadata for grpc_request events.
type grpcRequestMetadata struct {
	FullMethod string `json:"full_method"`
	StatusCode string `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// TelemetryUnary returns a unary server interceptor that emits a telemetry event after each RPC.
// Best-effort: emission is async and never fails the RPC. If emitter is nil, the interceptor no-ops.
// skipMethods is the set of full method names to not emit (e.g. the health check).
func TelemetryUnary(emitter telemetry.EventEmitter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if emitter == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		severity := domain.SeverityInfo
		if err != nil {
			severity = domain.SeverityWarn
		}
		userID, _ := GetUserID(ctx)
		deviceID, _ := GetDeviceID(ctx)
		event := domain.NewEvent(domain.EventGRPCRequest, telemetrySource, severity, grpcRequestMetadata{
			FullMethod: info.FullMethod,
			StatusCode: code.String(),
			DurationMs: time.Since(start).Milliseconds(),
			ClientIP:   ClientIP(ctx),
		}).WithUser(userID, deviceID)
		telemetry.EmitAsync(ctx, emitter, event)
		return resp, err
	}
}
