package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	devicedomain "token-lifecycle/backend/internal/device/domain"
	identityservice "token-lifecycle/backend/internal/identity/service"
	"token-lifecycle/backend/internal/platform/rpc"
	"token-lifecycle/backend/internal/server/interceptors"
	tokendomain "token-lifecycle/backend/internal/token/domain"
)

// ServiceName is the fully-qualified gRPC service name of the auth API.
const ServiceName = "tokenlifecycle.auth.v1.AuthService"

// Full method names, for interceptor public/skip sets.
var (
	LoginFullMethod            = rpc.FullMethod(ServiceName, "Login")
	RefreshFullMethod          = rpc.FullMethod(ServiceName, "Refresh")
	LogoutFullMethod           = rpc.FullMethod(ServiceName, "Logout")
	LogoutAllDevicesFullMethod = rpc.FullMethod(ServiceName, "LogoutAllDevices")
	IntrospectFullMethod       = rpc.FullMethod(ServiceName, "Introspect")
)

type LoginRequest struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	DeviceID     string         `json:"device_id"`
	DeviceName   string         `json:"device_name,omitempty"`
	CustomClaims map[string]any `json:"custom_claims,omitempty"`
}

// TokenResponse is returned by Login and Refresh.
type TokenResponse struct {
	AccessToken          string    `json:"access_token"`
	RefreshToken         string    `json:"refresh_token"`
	TokenType            string    `json:"token_type"`
	ExpiresIn            int64     `json:"expires_in"`
	RefreshExpiresIn     int64     `json:"refresh_expires_in"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
	UserID               int64     `json:"user_id"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	DeviceID     string `json:"device_id"`
	DeviceName   string `json:"device_name,omitempty"`
}

// LogoutRequest names the tokens to revoke. An empty AccessToken falls back to the bearer token.
type LogoutRequest struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type LogoutResponse struct {
	AccessRevoked  bool `json:"access_revoked"`
	RefreshRevoked bool `json:"refresh_revoked"`
}

type LogoutAllDevicesRequest struct{}

type LogoutAllDevicesResponse struct {
	RevokedCount  int64 `json:"revoked_count"`
	AccessRevoked bool  `json:"access_revoked"`
}

type IntrospectRequest struct {
	Token string `json:"token"`
}

// IntrospectResponse mirrors RFC 7662: inactive tokens carry only Active=false.
type IntrospectResponse struct {
	Active    bool           `json:"active"`
	JTI       string         `json:"jti,omitempty"`
	Subject   int64          `json:"sub,omitempty"`
	TokenType string         `json:"token_type,omitempty"`
	IssuedAt  int64          `json:"iat,omitempty"`
	ExpiresAt int64          `json:"exp,omitempty"`
	Issuer    string         `json:"iss,omitempty"`
	Audience  []string       `json:"aud,omitempty"`
	DeviceID  string         `json:"device_id,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

// AuthServiceServer is the server API for the auth service.
type AuthServiceServer interface {
	Login(context.Context, *LoginRequest) (*TokenResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	LogoutAllDevices(context.Context, *LogoutAllDevicesRequest) (*LogoutAllDevicesResponse, error)
	Introspect(context.Context, *IntrospectRequest) (*IntrospectResponse, error)
}

// AuthServiceDesc describes the auth service for grpc.ServiceRegistrar.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "Login", AuthServiceServer.Login),
		rpc.Unary(ServiceName, "Refresh", AuthServiceServer.Refresh),
		rpc.Unary(ServiceName, "Logout", AuthServiceServer.Logout),
		rpc.Unary(ServiceName, "LogoutAllDevices", AuthServiceServer.LogoutAllDevices),
		rpc.Unary(ServiceName, "Introspect", AuthServiceServer.Introspect),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auth/v1/auth.json",
}

// RegisterAuthServiceServer registers srv with s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// AuthServer implements AuthService on top of the identity auth service.
type AuthServer struct {
	auth *identityservice.AuthService
}

// NewAuthServer returns a new Auth gRPC server. If auth is nil, every RPC returns Unimplemented.
func NewAuthServer(auth *identityservice.AuthService) *AuthServer {
	return &AuthServer{auth: auth}
}

// Login authenticates email and password and returns a token pair bound to the calling device.
func (s *AuthServer) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	if req.Email == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}
	device, err := requestDevice(ctx, req.DeviceID, req.DeviceName)
	if err != nil {
		return nil, err
	}
	custom, err := tokendomain.NewCustomClaims(req.CustomClaims)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.auth.Login(ctx, req.Email, req.Password, device, custom)
	if err != nil {
		return nil, toStatus(err)
	}
	return tokenResponse(res), nil
}

// Refresh rotates a refresh token. The old token is invalid afterwards.
func (s *AuthServer) Refresh(ctx context.Context, req *RefreshRequest) (*TokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
	}
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh_token is required")
	}
	device, err := requestDevice(ctx, req.DeviceID, req.DeviceName)
	if err != nil {
		return nil, err
	}
	res, err := s.auth.Refresh(ctx, req.RefreshToken, device)
	if err != nil {
		return nil, toStatus(err)
	}
	return tokenResponse(res), nil
}

// Logout revokes the caller's access token and the given refresh token. It is idempotent and always
// succeeds for the caller: revocation failures are logged and show up only as false revoked flags.
func (s *AuthServer) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	access := req.AccessToken
	if access == "" {
		access, _ = interceptors.GetAccessToken(ctx)
	}
	if access == "" && req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "access_token or refresh_token is required")
	}
	res := s.auth.Logout(ctx, access, req.RefreshToken)
	if res.Err != nil && !isTokenError(res.Err) {
		log.Printf("auth: logout: %v", res.Err)
	}
	return &LogoutResponse{AccessRevoked: res.AccessRevoked, RefreshRevoked: res.RefreshRevoked}, nil
}

// LogoutAllDevices revokes every refresh token of the authenticated caller and the current access token.
func (s *AuthServer) LogoutAllDevices(ctx context.Context, req *LogoutAllDevicesRequest) (*LogoutAllDevicesResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method LogoutAllDevices not implemented")
	}
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	access, _ := interceptors.GetAccessToken(ctx)
	n, res := s.auth.LogoutAllDevices(ctx, userID, access)
	if res.Err != nil {
		log.Printf("auth: logout all devices for user %d: %v", userID, res.Err)
	}
	return &LogoutAllDevicesResponse{RevokedCount: n, AccessRevoked: res.AccessRevoked}, nil
}

// Introspect reports whether a token is active. Inactive is not an error.
func (s *AuthServer) Introspect(ctx context.Context, req *IntrospectRequest) (*IntrospectResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Introspect not implemented")
	}
	if req.Token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}
	in := s.auth.Introspect(ctx, req.Token)
	if !in.Active {
		return &IntrospectResponse{}, nil
	}
	return &IntrospectResponse{
		Active:    true,
		JTI:       in.JTI,
		Subject:   in.UserID,
		TokenType: string(in.TokenType),
		IssuedAt:  in.IssuedAt.Unix(),
		ExpiresAt: in.ExpiresAt.Unix(),
		Issuer:    in.Issuer,
		Audience:  in.Audience,
		DeviceID:  in.DeviceID,
		Claims:    in.Claims,
	}, nil
}

func requestDevice(ctx context.Context, deviceID, deviceName string) (devicedomain.Info, error) {
	if deviceID == "" {
		return devicedomain.Info{}, status.Error(codes.InvalidArgument, "device_id is required")
	}
	device, err := devicedomain.FromRequest(deviceID, deviceName, interceptors.UserAgent(ctx), interceptors.ClientIP(ctx))
	if err != nil {
		return devicedomain.Info{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return device, nil
}

func tokenResponse(res *identityservice.AuthResult) *TokenResponse {
	return &TokenResponse{
		AccessToken:          res.AccessToken,
		RefreshToken:         res.RefreshToken,
		TokenType:            res.TokenType,
		ExpiresIn:            res.ExpiresIn,
		RefreshExpiresIn:     res.RefreshExpiresIn,
		AccessTokenExpiresAt: res.AccessTokenExpiresAt,
		UserID:               res.UserID,
	}
}

func isTokenError(err error) bool {
	return errors.Is(err, tokendomain.ErrInvalidToken) || errors.Is(err, tokendomain.ErrTokenExpired)
}

// toStatus maps token lifecycle errors to gRPC status codes. Internal details are logged, not returned.
func toStatus(err error) error {
	var authErr *tokendomain.AuthError
	switch {
	case errors.As(err, &authErr):
		return status.Error(codes.Unauthenticated, fmt.Sprintf("%s: %s", authErr.Reason, authErr.Message))
	case errors.Is(err, tokendomain.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, "token expired")
	case errors.Is(err, tokendomain.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, tokendomain.ErrValidation), errors.Is(err, devicedomain.ErrInvalidDevice):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		log.Printf("auth: internal error: %v", err)
		return status.Error(codes.Internal, "internal error")
	}
}
