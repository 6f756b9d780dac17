package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"token-lifecycle/backend/internal/audit"
	auditdomain "token-lifecycle/backend/internal/audit/domain"
	blacklistdomain "token-lifecycle/backend/internal/blacklist/domain"
	blacklistservice "token-lifecycle/backend/internal/blacklist/service"
	devicedomain "token-lifecycle/backend/internal/device/domain"
	"token-lifecycle/backend/internal/telemetry"
	telemetrydomain "token-lifecycle/backend/internal/telemetry/domain"
	tokendomain "token-lifecycle/backend/internal/token/domain"
	tokenservice "token-lifecycle/backend/internal/token/service"
	userdomain "token-lifecycle/backend/internal/user/domain"
)

// LogSource is the telemetry source name for loggers handed to this package.
const LogSource = "auth_service"

// Claim names the service adds to every access token from the user directory.
const (
	ClaimEmail = "email"
	ClaimName  = "name"
)

// AuthResult holds the outcome of Login or Refresh.
type AuthResult struct {
	AccessToken          string
	RefreshToken         string
	TokenType            string
	ExpiresIn            int64 // seconds until the access token expires
	RefreshExpiresIn     int64 // seconds until the refresh token expires
	AccessTokenExpiresAt time.Time
	UserID               int64
}

// LogoutResult reports what Logout revoked. Err carries failures the caller may log and
// otherwise ignore; logout never blocks the client from discarding its tokens.
type LogoutResult struct {
	AccessRevoked  bool
	RefreshRevoked bool
	Err            error
}

// OK reports whether every requested revocation completed without error.
func (r LogoutResult) OK() bool { return r.Err == nil }

// Introspection describes a token. Inactive tokens carry no other fields.
type Introspection struct {
	Active    bool
	JTI       string
	UserID    int64
	TokenType tokendomain.TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  []string
	DeviceID  string
	Claims    map[string]any
}

// UserDirectory is the minimal user directory needed by the auth service.
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*userdomain.User, error)
	ValidateCredentials(ctx context.Context, email, password string) (*userdomain.User, error)
	UpdateLastLogin(ctx context.Context, userID int64) error
}

// AuthService implements login, refresh, logout and introspection on top of the token and
// blacklist services.
type AuthService struct {
	users     UserDirectory
	tokens    *tokenservice.Service
	blacklist *blacklistservice.Service
	audit     audit.AuditLogger
	logger    *telemetry.Logger
	now       func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. auditLogger and logger may be nil.
func NewAuthService(
	users UserDirectory,
	tokens *tokenservice.Service,
	blacklist *blacklistservice.Service,
	auditLogger audit.AuditLogger,
	logger *telemetry.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		blacklist: blacklist,
		audit:     auditLogger,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the clock used for ExpiresIn. Used by tests.
func (s *AuthService) SetClock(now func() time.Time) { s.now = now }

// Login checks email and password and issues a token pair bound to device. Unknown users and
// wrong passwords both fail with INVALID_CREDENTIALS; disabled or deleted accounts with
// ACCOUNT_DISABLED. custom is merged with the directory claims; directory claims win.
func (s *AuthService) Login(ctx context.Context, email, password string, device devicedomain.Info, custom tokendomain.CustomClaims) (*AuthResult, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		s.loginFailed(ctx, 0, device, email, tokendomain.ReasonInvalidCredentials)
		return nil, tokendomain.NewAuthError(tokendomain.ReasonInvalidCredentials)
	}
	user, err := s.users.ValidateCredentials(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("validate credentials: %w", err)
	}
	if user == nil {
		s.loginFailed(ctx, 0, device, email, tokendomain.ReasonInvalidCredentials)
		return nil, tokendomain.NewAuthError(tokendomain.ReasonInvalidCredentials)
	}
	if user.IsDisabled() {
		s.loginFailed(ctx, user.ID, device, email, tokendomain.ReasonAccountDisabled)
		return nil, tokendomain.NewAuthError(tokendomain.ReasonAccountDisabled)
	}
	claims, err := userClaims(user, custom)
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.GenerateTokenPair(ctx, user.ID, device, claims)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn(ctx, telemetrydomain.EventLoginSuccess, user.ID, device.DeviceID(), telemetry.Fields{"op": "update_last_login", "error": err.Error()})
	}
	s.logger.Info(ctx, telemetrydomain.EventLoginSuccess, user.ID, device.DeviceID(), telemetry.Fields{"platform": string(device.Platform())})
	s.auditEvent(ctx, user.ID, auditdomain.ActionLoginSuccess, auditdomain.ResourceAuth, map[string]any{"device_id": device.DeviceID()})
	return s.result(pair, user.ID), nil
}

// Refresh rotates refreshToken into a new pair bound to device. The account is re-checked so a
// disabled user cannot keep refreshing.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device devicedomain.Info) (*AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("%w: refresh token is required", tokendomain.ErrInvalidToken)
	}
	payload, err := s.tokens.ValidateRefreshToken(ctx, refreshToken, true)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, payload.UserID())
	if err != nil {
		return nil, fmt.Errorf("%w: load user: %v", tokendomain.ErrRefreshToken, err)
	}
	if user == nil || user.IsDisabled() {
		s.tokens.RevokeAllUserTokens(ctx, payload.UserID(), string(blacklistdomain.ReasonAccountSuspended))
		return nil, tokendomain.NewAuthError(tokendomain.ReasonAccountDisabled)
	}
	claims, err := userClaims(user, tokendomain.CustomClaims{})
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.RefreshTokensWithClaims(ctx, refreshToken, device, claims)
	if err != nil {
		return nil, err
	}
	s.auditEvent(ctx, user.ID, auditdomain.ActionTokenRefresh, auditdomain.ResourceRefreshToken, map[string]any{
		"device_id": device.DeviceID(), "parent_jti": payload.JTI(),
	})
	return s.result(pair, user.ID), nil
}

// Logout revokes the given tokens; either may be empty. Failures are carried in the result.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) LogoutResult {
	var (
		out    LogoutResult
		errs   []error
		userID int64
	)
	if accessToken != "" {
		res := s.tokens.RevokeToken(ctx, accessToken, blacklistdomain.ReasonLogout)
		out.AccessRevoked = res.Revoked
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("access token: %w", res.Err))
		}
		if p, err := s.tokens.ExtractPayload(accessToken); err == nil {
			userID = p.UserID()
		}
	}
	if refreshToken != "" {
		res := s.tokens.RevokeToken(ctx, refreshToken, blacklistdomain.ReasonLogout)
		out.RefreshRevoked = res.Revoked
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("refresh token: %w", res.Err))
		}
		if p, err := s.tokens.ExtractPayload(refreshToken); err == nil && userID == 0 {
			userID = p.UserID()
		}
	}
	out.Err = errors.Join(errs...)
	if out.Err != nil {
		s.logger.Warn(ctx, telemetrydomain.EventLogout, userID, "", telemetry.Fields{"error": out.Err.Error()})
	}
	if userID > 0 {
		s.logger.Info(ctx, telemetrydomain.EventLogout, userID, "", telemetry.Fields{
			"access_revoked": out.AccessRevoked, "refresh_revoked": out.RefreshRevoked,
		})
		s.auditEvent(ctx, userID, auditdomain.ActionLogout, auditdomain.ResourceAuth, nil)
	}
	return out
}

// LogoutAllDevices blacklists and revokes every refresh token of the user and, when given, the
// caller's current access token. It returns the number of refresh tokens revoked.
func (s *AuthService) LogoutAllDevices(ctx context.Context, userID int64, accessToken string) (int64, LogoutResult) {
	n := s.blacklist.BlacklistUserTokens(ctx, userID, blacklistdomain.ReasonLogout)
	out := LogoutResult{RefreshRevoked: n > 0}
	if accessToken != "" {
		res := s.tokens.RevokeToken(ctx, accessToken, blacklistdomain.ReasonLogout)
		out.AccessRevoked = res.Revoked
		out.Err = res.Err
	}
	s.logger.Info(ctx, telemetrydomain.EventLogout, userID, "", telemetry.Fields{"scope": "all_devices", "revoked": n})
	s.auditEvent(ctx, userID, auditdomain.ActionLogoutAll, auditdomain.ResourceAuth, map[string]any{"revoked": n})
	return n, out
}

// Introspect reports whether token is currently usable and, if so, what it carries. Access tokens
// must pass signature, expiry and blacklist checks; refresh tokens additionally need a live record.
func (s *AuthService) Introspect(ctx context.Context, token string) Introspection {
	unverified, err := s.tokens.ExtractPayload(token)
	if err != nil {
		return Introspection{}
	}
	var payload *tokendomain.Payload
	switch unverified.Type() {
	case tokendomain.TokenTypeAccess:
		payload, err = s.tokens.ValidateAccessToken(ctx, token, true)
	case tokendomain.TokenTypeRefresh:
		payload, err = s.tokens.ValidateRefreshToken(ctx, token, true)
	default:
		return Introspection{}
	}
	if err != nil {
		return Introspection{}
	}
	return Introspection{
		Active:    true,
		JTI:       payload.JTI(),
		UserID:    payload.UserID(),
		TokenType: payload.Type(),
		IssuedAt:  payload.IssuedAt(),
		ExpiresAt: payload.ExpiresAt(),
		Issuer:    payload.Issuer(),
		Audience:  payload.Audience(),
		DeviceID:  payload.Device().DeviceID,
		Claims:    payload.Custom().Map(),
	}
}

func (s *AuthService) result(pair *tokendomain.TokenPair, userID int64) *AuthResult {
	now := s.now()
	return &AuthResult{
		AccessToken:          pair.AccessToken(),
		RefreshToken:         pair.RefreshToken(),
		TokenType:            string(pair.TokenType()),
		ExpiresIn:            pair.ExpiresIn(now),
		RefreshExpiresIn:     pair.RefreshExpiresIn(now),
		AccessTokenExpiresAt: pair.AccessTokenExpiresAt(),
		UserID:               userID,
	}
}

func (s *AuthService) loginFailed(ctx context.Context, userID int64, device devicedomain.Info, email, reason string) {
	s.logger.Warn(ctx, telemetrydomain.EventLoginFailure, userID, device.DeviceID(), telemetry.Fields{"reason": reason, "email": email})
	s.auditEvent(ctx, userID, auditdomain.ActionLoginFailure, auditdomain.ResourceAuth, map[string]any{"reason": reason})
}

func (s *AuthService) auditEvent(ctx context.Context, userID int64, action, resource string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.LogEvent(ctx, userID, action, resource, audit.Metadata(meta))
}

func userClaims(u *userdomain.User, custom tokendomain.CustomClaims) (tokendomain.CustomClaims, error) {
	m := map[string]any{ClaimEmail: u.Email}
	if u.Name != "" {
		m[ClaimName] = u.Name
	}
	dir, err := tokendomain.NewCustomClaims(m)
	if err != nil {
		return tokendomain.CustomClaims{}, err
	}
	return custom.Merge(dir), nil
}
