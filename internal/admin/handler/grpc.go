package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	blacklistdomain "token-lifecycle/backend/internal/blacklist/domain"
	blacklistservice "token-lifecycle/backend/internal/blacklist/service"
	"token-lifecycle/backend/internal/platform/rbac"
	"token-lifecycle/backend/internal/platform/rpc"
	tokendomain "token-lifecycle/backend/internal/token/domain"
)

// ServiceName is the fully-qualified gRPC service name of the admin API.
const ServiceName = "tokenlifecycle.admin.v1.AdminService"

type GetSystemStatsRequest struct{}

// GetSystemStatsResponse combines blacklist statistics with the health assessment.
type GetSystemStatsResponse struct {
	Total           int64            `json:"total"`
	Expired         int64            `json:"expired"`
	SecurityRelated int64            `json:"security_related"`
	ByReason        map[string]int64 `json:"by_reason,omitempty"`
	ByTokenType     map[string]int64 `json:"by_token_type,omitempty"`
	Oldest          *time.Time       `json:"oldest,omitempty"`
	Newest          *time.Time       `json:"newest,omitempty"`
	Healthy         bool             `json:"healthy"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

type SearchBlacklistRequest struct {
	UserID    int64     `json:"user_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	TokenType string    `json:"token_type,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	From      time.Time `json:"from,omitempty"`
	To        time.Time `json:"to,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

type BlacklistEntry struct {
	JTI           string    `json:"jti"`
	TokenType     string    `json:"token_type"`
	UserID        int64     `json:"user_id"`
	DeviceID      string    `json:"device_id,omitempty"`
	Reason        string    `json:"reason"`
	Priority      string    `json:"priority"`
	ExpiresAt     time.Time `json:"expires_at"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
}

type SearchBlacklistResponse struct {
	Entries []BlacklistEntry `json:"entries"`
}

type RemoveFromBlacklistRequest struct {
	JTI string `json:"jti"`
}

type RemoveFromBlacklistResponse struct {
	Removed bool `json:"removed"`
}

// RevokeUserTokensRequest blacklists a user's refresh tokens, limited to one device when DeviceID is set.
type RevokeUserTokensRequest struct {
	UserID   int64  `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
	Reason   string `json:"reason"`
}

type RevokeUserTokensResponse struct {
	RevokedCount int64 `json:"revoked_count"`
}

type CheckBlacklistRequest struct {
	JTIs []string `json:"jtis"`
}

type CheckBlacklistResponse struct {
	Blacklisted map[string]bool `json:"blacklisted"`
}

type RunCleanupRequest struct {
	BatchSize int `json:"batch_size,omitempty"`
}

type RunCleanupResponse struct {
	Success        bool   `json:"success"`
	ExpiredRemoved int64  `json:"expired_removed"`
	OldRemoved     int64  `json:"old_removed"`
	DurationMs     int64  `json:"duration_ms"`
	Message        string `json:"message,omitempty"`
}

// AdminServiceServer is the server API for the admin service.
type AdminServiceServer interface {
	GetSystemStats(context.Context, *GetSystemStatsRequest) (*GetSystemStatsResponse, error)
	SearchBlacklist(context.Context, *SearchBlacklistRequest) (*SearchBlacklistResponse, error)
	RemoveFromBlacklist(context.Context, *RemoveFromBlacklistRequest) (*RemoveFromBlacklistResponse, error)
	RevokeUserTokens(context.Context, *RevokeUserTokensRequest) (*RevokeUserTokensResponse, error)
	CheckBlacklist(context.Context, *CheckBlacklistRequest) (*CheckBlacklistResponse, error)
	RunCleanup(context.Context, *RunCleanupRequest) (*RunCleanupResponse, error)
}

// AdminServiceDesc describes the admin service for grpc.ServiceRegistrar.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "GetSystemStats", AdminServiceServer.GetSystemStats),
		rpc.Unary(ServiceName, "SearchBlacklist", AdminServiceServer.SearchBlacklist),
		rpc.Unary(ServiceName, "RemoveFromBlacklist", AdminServiceServer.RemoveFromBlacklist),
		rpc.Unary(ServiceName, "RevokeUserTokens", AdminServiceServer.RevokeUserTokens),
		rpc.Unary(ServiceName, "CheckBlacklist", AdminServiceServer.CheckBlacklist),
		rpc.Unary(ServiceName, "RunCleanup", AdminServiceServer.RunCleanup),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "admin/v1/admin.json",
}

// RegisterAdminServiceServer registers srv with s.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// Server implements AdminService for platform admins: blacklist inspection and maintenance.
type Server struct {
	blacklist *blacklistservice.Service
	admins    rbac.Admins
}

// NewServer returns a new Admin gRPC server. If blacklist is nil, every RPC returns Unimplemented.
func NewServer(blacklist *blacklistservice.Service, admins rbac.Admins) *Server {
	return &Server{blacklist: blacklist, admins: admins}
}

func (s *Server) authorize(ctx context.Context, method string) error {
	if s.blacklist == nil {
		return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	_, err := rbac.RequireAdmin(ctx, s.admins)
	return err
}

// GetSystemStats returns blacklist statistics and health for platform admins.
func (s *Server) GetSystemStats(ctx context.Context, req *GetSystemStatsRequest) (*GetSystemStatsResponse, error) {
	if err := s.authorize(ctx, "GetSystemStats"); err != nil {
		return nil, err
	}
	stats, err := s.blacklist.GetStatistics(ctx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, "blacklist statistics unavailable")
	}
	health := s.blacklist.GetHealthStatus(ctx)
	resp := &GetSystemStatsResponse{
		Total:           stats.Total,
		Expired:         stats.Expired,
		SecurityRelated: stats.SecurityRelated,
		ByReason:        make(map[string]int64, len(stats.ByReason)),
		ByTokenType:     make(map[string]int64, len(stats.ByTokenType)),
		Oldest:          stats.Oldest,
		Newest:          stats.Newest,
		Healthy:         health.Healthy,
		Recommendations: health.Recommendations,
	}
	for r, n := range stats.ByReason {
		resp.ByReason[string(r)] = n
	}
	for t, n := range stats.ByTokenType {
		resp.ByTokenType[string(t)] = n
	}
	return resp, nil
}

// SearchBlacklist lists entries matching the filter, newest first.
func (s *Server) SearchBlacklist(ctx context.Context, req *SearchBlacklistRequest) (*SearchBlacklistResponse, error) {
	if err := s.authorize(ctx, "SearchBlacklist"); err != nil {
		return nil, err
	}
	c := blacklistdomain.SearchCriteria{
		UserID:   req.UserID,
		DeviceID: req.DeviceID,
		From:     req.From,
		To:       req.To,
	}
	if req.TokenType != "" {
		tt := tokendomain.TokenType(req.TokenType)
		if !tt.Valid() {
			return nil, status.Errorf(codes.InvalidArgument, "unknown token type %q", req.TokenType)
		}
		c.TokenType = tt
	}
	if req.Reason != "" {
		r, err := blacklistdomain.ParseReason(req.Reason)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		c.Reason = r
	}
	if req.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset must not be negative")
	}
	entries := s.blacklist.Search(ctx, c, req.Limit, req.Offset)
	out := &SearchBlacklistResponse{Entries: make([]BlacklistEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, BlacklistEntry{
			JTI:           e.JTI(),
			TokenType:     string(e.TokenType()),
			UserID:        e.UserID(),
			DeviceID:      e.DeviceID(),
			Reason:        string(e.Reason()),
			Priority:      e.Priority().String(),
			ExpiresAt:     e.ExpiresAt(),
			BlacklistedAt: e.BlacklistedAt(),
		})
	}
	return out, nil
}

// RemoveFromBlacklist lifts a blacklist entry. Removing an unknown jti is not an error.
func (s *Server) RemoveFromBlacklist(ctx context.Context, req *RemoveFromBlacklistRequest) (*RemoveFromBlacklistResponse, error) {
	if err := s.authorize(ctx, "RemoveFromBlacklist"); err != nil {
		return nil, err
	}
	if req.JTI == "" {
		return nil, status.Error(codes.InvalidArgument, "jti is required")
	}
	return &RemoveFromBlacklistResponse{Removed: s.blacklist.RemoveFromBlacklist(ctx, req.JTI)}, nil
}

// RevokeUserTokens blacklists and revokes a user's active refresh tokens.
func (s *Server) RevokeUserTokens(ctx context.Context, req *RevokeUserTokensRequest) (*RevokeUserTokensResponse, error) {
	if err := s.authorize(ctx, "RevokeUserTokens"); err != nil {
		return nil, err
	}
	if req.UserID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	reason, err := blacklistdomain.ParseReason(req.Reason)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var n int64
	if req.DeviceID != "" {
		n = s.blacklist.BlacklistDeviceTokens(ctx, req.UserID, req.DeviceID, reason)
	} else {
		n = s.blacklist.BlacklistUserTokens(ctx, req.UserID, reason)
	}
	return &RevokeUserTokensResponse{RevokedCount: n}, nil
}

// CheckBlacklist reports, per jti, whether it is blacklisted. Lookup failures report true.
func (s *Server) CheckBlacklist(ctx context.Context, req *CheckBlacklistRequest) (*CheckBlacklistResponse, error) {
	if err := s.authorize(ctx, "CheckBlacklist"); err != nil {
		return nil, err
	}
	return &CheckBlacklistResponse{Blacklisted: s.blacklist.BatchCheckBlacklist(ctx, req.JTIs)}, nil
}

// RunCleanup runs one blacklist cleanup pass immediately.
func (s *Server) RunCleanup(ctx context.Context, req *RunCleanupRequest) (*RunCleanupResponse, error) {
	if err := s.authorize(ctx, "RunCleanup"); err != nil {
		return nil, err
	}
	if req.BatchSize < 0 {
		return nil, status.Error(codes.InvalidArgument, "batch_size must not be negative")
	}
	res := s.blacklist.AutoCleanup(ctx, req.BatchSize)
	return &RunCleanupResponse{
		Success:        res.Success,
		ExpiredRemoved: res.ExpiredRemoved,
		OldRemoved:     res.OldRemoved,
		DurationMs:     res.Duration.Milliseconds(),
		Message:        res.Message,
	}, nil
}
