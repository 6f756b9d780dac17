package handler

import (
	"context"
	"errors"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"token-lifecycle/backend/internal/platform/rpc"
	"token-lifecycle/backend/internal/server/interceptors"
	"token-lifecycle/backend/internal/session/domain"
	"token-lifecycle/backend/internal/session/guard"
)

// ServiceName is the gRPC service name of the browser session API.
const ServiceName = "tokenlifecycle.session.v1.SessionService"

// Full method names, for interceptor public/skip sets.
var (
	StartSessionFullMethod   = rpc.FullMethod(ServiceName, "StartSession")
	CheckSessionFullMethod   = rpc.FullMethod(ServiceName, "CheckSession")
	ConfirmIPFullMethod      = rpc.FullMethod(ServiceName, "ConfirmIP")
	ElevateSessionFullMethod = rpc.FullMethod(ServiceName, "ElevateSession")
	EndSessionFullMethod     = rpc.FullMethod(ServiceName, "EndSession")
)

// SessionInfo is the client view of a session. The user agent hash is never returned.
type SessionInfo struct {
	SessionID             string    `json:"session_id"`
	UserID                int64     `json:"user_id"`
	IPAddress             string    `json:"ip_address"`
	CreatedAt             time.Time `json:"created_at"`
	LastActivity          time.Time `json:"last_activity"`
	PendingIPVerification bool      `json:"pending_ip_verification,omitempty"`
	Elevated              bool      `json:"elevated,omitempty"`
}

type StartSessionRequest struct {
	// CurrentSessionID is the pre-login session, destroyed before the new one is issued.
	CurrentSessionID string `json:"current_session_id,omitempty"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type CheckSessionResponse struct {
	Valid          bool         `json:"valid"`
	RequiresReauth bool         `json:"requires_reauth,omitempty"`
	Status         string       `json:"status"`
	Reason         string       `json:"reason,omitempty"`
	Session        *SessionInfo `json:"session,omitempty"`
}

type EndSessionResponse struct{}

// SessionServiceServer is the server API for the browser session service.
type SessionServiceServer interface {
	StartSession(context.Context, *StartSessionRequest) (*SessionInfo, error)
	CheckSession(context.Context, *SessionRequest) (*CheckSessionResponse, error)
	ConfirmIP(context.Context, *SessionRequest) (*SessionInfo, error)
	ElevateSession(context.Context, *SessionRequest) (*SessionInfo, error)
	EndSession(context.Context, *SessionRequest) (*EndSessionResponse, error)
}

// SessionServiceDesc describes the session service for grpc.ServiceRegistrar.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "StartSession", SessionServiceServer.StartSession),
		rpc.Unary(ServiceName, "CheckSession", SessionServiceServer.CheckSession),
		rpc.Unary(ServiceName, "ConfirmIP", SessionServiceServer.ConfirmIP),
		rpc.Unary(ServiceName, "ElevateSession", SessionServiceServer.ElevateSession),
		rpc.Unary(ServiceName, "EndSession", SessionServiceServer.EndSession),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "session/v1/session.json",
}

// RegisterSessionServiceServer registers srv with s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

// Server implements SessionService on top of the session security guard.
type Server struct {
	guard *guard.Guard
}

// NewServer returns a new Session gRPC server. If g is nil, all RPCs return Unimplemented.
func NewServer(g *guard.Guard) *Server {
	return &Server{guard: g}
}

// StartSession issues a fresh session for the authenticated caller, bound to the request IP and user agent.
func (s *Server) StartSession(ctx context.Context, req *StartSessionRequest) (*SessionInfo, error) {
	if s.guard == nil {
		return nil, status.Error(codes.Unimplemented, "method StartSession not implemented")
	}
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	ua := interceptors.UserAgent(ctx)
	if ua == "" {
		return nil, status.Error(codes.InvalidArgument, "user agent required")
	}
	sess, err := s.guard.Init(ctx, req.CurrentSessionID, userID, interceptors.ClientIP(ctx), ua)
	if err != nil {
		return nil, toStatus(err)
	}
	return sessionInfo(sess), nil
}

// CheckSession runs the per-request security check. A failed check is a normal response, not an error.
func (s *Server) CheckSession(ctx context.Context, req *SessionRequest) (*CheckSessionResponse, error) {
	if s.guard == nil {
		return nil, status.Error(codes.Unimplemented, "method CheckSession not implemented")
	}
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id required")
	}
	res := s.guard.PerformSecurityCheck(ctx, req.SessionID, interceptors.ClientIP(ctx), interceptors.UserAgent(ctx))
	resp := &CheckSessionResponse{
		Valid:          res.Valid(),
		RequiresReauth: res.RequiresReauth(),
		Status:         string(res.Status),
		Reason:         res.Reason,
	}
	if res.Session != nil {
		resp.Session = sessionInfo(res.Session)
	}
	return resp, nil
}

// ConfirmIP accepts a pending IP change once the owner has re-authenticated.
func (s *Server) ConfirmIP(ctx context.Context, req *SessionRequest) (*SessionInfo, error) {
	if err := s.requireOwner(ctx, "ConfirmIP", req.SessionID); err != nil {
		return nil, err
	}
	sess, err := s.guard.ConfirmIP(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return sessionInfo(sess), nil
}

// ElevateSession marks the caller's session privileged and rotates its id.
func (s *Server) ElevateSession(ctx context.Context, req *SessionRequest) (*SessionInfo, error) {
	if err := s.requireOwner(ctx, "ElevateSession", req.SessionID); err != nil {
		return nil, err
	}
	sess, err := s.guard.Elevate(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return sessionInfo(sess), nil
}

// EndSession destroys the session. Ending an unknown session succeeds.
func (s *Server) EndSession(ctx context.Context, req *SessionRequest) (*EndSessionResponse, error) {
	if s.guard == nil {
		return nil, status.Error(codes.Unimplemented, "method EndSession not implemented")
	}
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id required")
	}
	if err := s.guard.Destroy(ctx, req.SessionID); err != nil {
		return nil, toStatus(err)
	}
	return &EndSessionResponse{}, nil
}

func (s *Server) requireOwner(ctx context.Context, method, sessionID string) error {
	if s.guard == nil {
		return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "authentication required")
	}
	if sessionID == "" {
		return status.Error(codes.InvalidArgument, "session_id required")
	}
	sess, err := s.guard.Get(ctx, sessionID)
	if err != nil {
		return toStatus(err)
	}
	if sess.UserID != userID {
		return status.Error(codes.PermissionDenied, "session belongs to another user")
	}
	return nil
}

func sessionInfo(sess *domain.Session) *SessionInfo {
	return &SessionInfo{
		SessionID:             sess.ID,
		UserID:                sess.UserID,
		IPAddress:             sess.IPAddress,
		CreatedAt:             sess.CreatedAt,
		LastActivity:          sess.LastActivity,
		PendingIPVerification: sess.PendingIPVerification,
		Elevated:              sess.Elevated,
	}
}

func toStatus(err error) error {
	if errors.Is(err, guard.ErrInvalidSession) {
		return status.Error(codes.NotFound, "session not found or expired")
	}
	log.Printf("session: store error: %v", err)
	return status.Error(codes.Unavailable, "session store unavailable")
}
