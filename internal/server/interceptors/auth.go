package interceptors

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	tokendomain "token-lifecycle/backend/internal/token/domain"
)

const bearerPrefix = "bearer "

// AccessTokenValidator validates an access token, optionally consulting the blacklist.
// *tokenservice.Service satisfies it.
type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string, checkBlacklist bool) (*tokendomain.Payload, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and sets user_id, device_id and token jti in context for protected RPCs.
// Blacklisted tokens are rejected. publicMethods is the set of full method names that do not
// require a Bearer token (e.g. AuthService Login, Refresh, Introspect; the health service).
func AuthUnary(tokens AccessTokenValidator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := BearerToken(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		payload, err := tokens.ValidateAccessToken(ctx, token, true)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			if errors.Is(err, tokendomain.ErrTokenExpired) {
				// Clients refresh on this message instead of sending the user back to login.
				return nil, status.Error(codes.Unauthenticated, "access token expired")
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		ctx = WithIdentity(ctx, payload.UserID(), payload.Device().DeviceID, payload.JTI())
		ctx = WithAccessToken(ctx, token)
		return handler(ctx, req)
	}
}

// BearerToken returns the Bearer token from ctx metadata, or "" if missing or malformed.
func BearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
