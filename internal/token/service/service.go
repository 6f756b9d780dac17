// Package service implements token issuance, validation, rotation and revocation.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"token-lifecycle/backend/internal/audit"
	blacklistdomain "token-lifecycle/backend/internal/blacklist/domain"
	blacklistrepo "token-lifecycle/backend/internal/blacklist/repository"
	devicedomain "token-lifecycle/backend/internal/device/domain"
	"token-lifecycle/backend/internal/policy/engine"
	refreshdomain "token-lifecycle/backend/internal/refreshtoken/domain"
	refreshrepo "token-lifecycle/backend/internal/refreshtoken/repository"
	"token-lifecycle/backend/internal/security"
	"token-lifecycle/backend/internal/telemetry"
	telemetrydomain "token-lifecycle/backend/internal/telemetry/domain"
	tokendomain "token-lifecycle/backend/internal/token/domain"
)

// LogSource is the telemetry source name for loggers handed to this package.
const LogSource = "token_service"

// Defaults applied by NewService to zero Config fields.
const (
	DefaultMaxActiveTokens      = 5
	DefaultRotationGracePeriod  = 30 * time.Second
	DefaultNearExpiryThreshold  = 5 * time.Minute
	DefaultRevokedRetentionDays = 30
)

// Config tunes the rotation engine.
type Config struct {
	// MaxActiveTokens caps active refresh tokens per user. Negative disables the limit.
	MaxActiveTokens int
	// RotationGracePeriod separates a benign concurrent-refresh race from a replay of a rotated-out token.
	RotationGracePeriod time.Duration
	// NearExpiryThreshold is the default window for IsTokenNearExpiry.
	NearExpiryThreshold time.Duration
	// RevokedRetentionDays is how long revoked records are kept for reuse detection before cleanup.
	RevokedRetentionDays int
}

func (c Config) withDefaults() Config {
	if c.MaxActiveTokens == 0 {
		c.MaxActiveTokens = DefaultMaxActiveTokens
	}
	if c.RotationGracePeriod <= 0 {
		c.RotationGracePeriod = DefaultRotationGracePeriod
	}
	if c.NearExpiryThreshold <= 0 {
		c.NearExpiryThreshold = DefaultNearExpiryThreshold
	}
	if c.RevokedRetentionDays <= 0 {
		c.RevokedRetentionDays = DefaultRevokedRetentionDays
	}
	return c
}

// Service issues, validates, rotates and revokes token pairs. It is safe for concurrent use.
type Service struct {
	codec     *security.Codec
	records   refreshrepo.Store
	blacklist blacklistrepo.Store
	devices   engine.DeviceEvaluator
	audit     audit.AuditLogger
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	cfg       Config
	now       func() time.Time
}

// NewService returns a Service. auditLogger, logger and metrics may be nil.
func NewService(
	codec *security.Codec,
	records refreshrepo.Store,
	blacklist blacklistrepo.Store,
	devices engine.DeviceEvaluator,
	auditLogger audit.AuditLogger,
	logger *telemetry.Logger,
	metrics *telemetry.Metrics,
	cfg Config,
) *Service {
	return &Service{
		codec:     codec,
		records:   records,
		blacklist: blacklist,
		devices:   devices,
		audit:     auditLogger,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// SetClock overrides the service clock and the codec's. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.codec.SetClock(now)
}

// GenerateTokenPair enforces the per-user limit, signs an access and a refresh token, and persists
// the refresh record. The pair is returned only once the record is stored; any failure is
// ErrTokenGeneration and nothing is handed out.
func (s *Service) GenerateTokenPair(ctx context.Context, userID int64, device devicedomain.Info, custom tokendomain.CustomClaims) (*tokendomain.TokenPair, error) {
	if _, err := s.EnforceTokenLimits(ctx, userID); err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenLimitEviction, userID, device.DeviceID(), telemetry.Fields{"error": err.Error()})
	}
	pair, err := s.issue(ctx, userID, device, custom, "")
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued(ctx)
	s.logger.Info(ctx, telemetrydomain.EventTokenIssued, userID, device.DeviceID(), telemetry.Fields{
		"access_jti":  pair.AccessJTI(),
		"refresh_jti": pair.RefreshJTI(),
	})
	return pair, nil
}

func (s *Service) issue(ctx context.Context, userID int64, device devicedomain.Info, custom tokendomain.CustomClaims, parentJTI string) (*tokendomain.TokenPair, error) {
	if device.IsZero() {
		return nil, fmt.Errorf("%w: device info is required", tokendomain.ErrTokenGeneration)
	}
	claims := security.Claims{UserID: userID, Device: binding(device), Custom: custom}
	access, accessPayload, err := s.codec.GenerateAccessToken(claims)
	if err != nil {
		return nil, err
	}
	refresh, refreshPayload, err := s.codec.GenerateRefreshToken(claims)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec := &refreshdomain.Record{
		ID:        uuid.New().String(),
		JTI:       refreshPayload.JTI(),
		UserID:    userID,
		TokenHash: security.HashToken(refresh),
		ExpiresAt: refreshPayload.ExpiresAt(),
		Device:    device,
		Status:    refreshdomain.StatusActive,
		ParentJTI: parentJTI,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: persist refresh record: %v", tokendomain.ErrTokenGeneration, err)
	}
	pair, err := tokendomain.NewTokenPair(tokendomain.TokenPairParams{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessPayload.ExpiresAt(),
		RefreshTokenExpiresAt: refreshPayload.ExpiresAt(),
		TokenType:             tokendomain.SchemeBearer,
		AccessJTI:             accessPayload.JTI(),
		RefreshJTI:            refreshPayload.JTI(),
	}, now)
	if err != nil {
		// The record exists but its token is never handed out; retire it so it cannot count
		// against the user's limit.
		if _, rerr := s.records.Revoke(ctx, rec.JTI, refreshdomain.RevokeReasonSecurityBreach); rerr != nil {
			s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, userID, device.DeviceID(), telemetry.Fields{"jti": rec.JTI, "error": rerr.Error()})
		}
		return nil, fmt.Errorf("%w: %w", tokendomain.ErrTokenGeneration, err)
	}
	return pair, nil
}

func binding(d devicedomain.Info) tokendomain.DeviceBinding {
	return tokendomain.DeviceBinding{
		DeviceID:    d.DeviceID(),
		Fingerprint: d.Fingerprint(),
		Platform:    string(d.Platform()),
		Browser:     string(d.Browser()),
		Class:       string(d.Class()),
	}
}

// ValidateAccessToken verifies an access token and, when checkBlacklist is set, rejects revoked jtis.
// A blacklist lookup failure rejects the token.
func (s *Service) ValidateAccessToken(ctx context.Context, token string, checkBlacklist bool) (*tokendomain.Payload, error) {
	payload, err := s.codec.ValidateToken(token, tokendomain.TokenTypeAccess)
	if err != nil {
		s.metrics.TokenRejected(ctx, rejectCause(err))
		return nil, err
	}
	if checkBlacklist && s.isBlacklisted(ctx, payload.JTI()) {
		s.metrics.TokenRejected(ctx, "blacklisted")
		return nil, fmt.Errorf("%w: token has been revoked", tokendomain.ErrInvalidToken)
	}
	return payload, nil
}

// ValidateRefreshToken verifies a refresh token and requires a live record whose hash matches.
func (s *Service) ValidateRefreshToken(ctx context.Context, token string, checkBlacklist bool) (*tokendomain.Payload, error) {
	payload, _, err := s.validateRefresh(ctx, token, checkBlacklist)
	return payload, err
}

func (s *Service) validateRefresh(ctx context.Context, token string, checkBlacklist bool) (*tokendomain.Payload, *refreshdomain.Record, error) {
	payload, err := s.codec.ValidateToken(token, tokendomain.TokenTypeRefresh)
	if err != nil {
		s.metrics.TokenRejected(ctx, rejectCause(err))
		return nil, nil, err
	}
	if checkBlacklist && s.isBlacklisted(ctx, payload.JTI()) {
		s.metrics.TokenRejected(ctx, "blacklisted")
		return nil, nil, fmt.Errorf("%w: token has been revoked", tokendomain.ErrInvalidToken)
	}
	rec, err := s.records.FindByJTI(ctx, payload.JTI())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: lookup refresh record: %v", tokendomain.ErrRefreshToken, err)
	}
	if rec == nil || rec.UserID != payload.UserID() || !security.TokenHashEqual(token, rec.TokenHash) {
		s.metrics.TokenRejected(ctx, "unknown_record")
		return nil, nil, fmt.Errorf("%w: unknown refresh token", tokendomain.ErrInvalidToken)
	}
	if !rec.IsUsable(s.now()) {
		if rec.WasRotated() {
			return nil, nil, s.handleReuse(ctx, rec)
		}
		s.metrics.TokenRejected(ctx, "revoked")
		return nil, nil, fmt.Errorf("%w: refresh token is no longer active", tokendomain.ErrInvalidToken)
	}
	return payload, rec, nil
}

func (s *Service) isBlacklisted(ctx context.Context, jti string) bool {
	ok, err := s.blacklist.IsBlacklisted(ctx, jti)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, 0, "", telemetry.Fields{"jti": jti, "error": err.Error(), "fail_closed": true})
		return true
	}
	return ok
}

func rejectCause(err error) string {
	switch {
	case errors.Is(err, tokendomain.ErrTokenExpired):
		return "expired"
	case errors.Is(err, tokendomain.ErrInvalidToken):
		return "invalid"
	default:
		return "error"
	}
}

// RevokeResult reports the outcome of RevokeToken. Err carries a failure the caller may log and
// otherwise ignore; Revoked is false when the token was already revoked.
type RevokeResult struct {
	JTI     string
	Revoked bool
	Err     error
}

// OK reports whether revocation completed without error.
func (r RevokeResult) OK() bool { return r.Err == nil }

// RevokeToken blacklists the token's jti and, for refresh tokens, revokes the refresh record.
// Expired but authentic tokens are accepted. It never panics and never returns an error directly.
func (s *Service) RevokeToken(ctx context.Context, token string, reason blacklistdomain.Reason) RevokeResult {
	if _, err := blacklistdomain.ParseReason(string(reason)); err != nil {
		return RevokeResult{Err: err}
	}
	payload, err := s.codec.VerifySignature(token)
	if err != nil {
		return RevokeResult{Err: err}
	}
	res := RevokeResult{JTI: payload.JTI()}
	var errs []error
	entry, err := blacklistdomain.NewEntry(blacklistdomain.EntryParams{
		JTI:       payload.JTI(),
		TokenType: payload.Type(),
		UserID:    payload.UserID(),
		DeviceID:  payload.Device().DeviceID,
		ExpiresAt: payload.ExpiresAt(),
		Reason:    reason,
	}, s.now())
	if err != nil {
		errs = append(errs, err)
	} else {
		added, err := s.blacklist.Add(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("blacklist: %w", err))
		}
		res.Revoked = res.Revoked || added
	}
	if payload.Type() == tokendomain.TokenTypeRefresh {
		revoked, err := s.records.Revoke(ctx, payload.JTI(), string(reason))
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh record: %w", err))
		}
		res.Revoked = res.Revoked || revoked
	}
	res.Err = errors.Join(errs...)
	if res.Err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, payload.UserID(), payload.Device().DeviceID, telemetry.Fields{
			"jti": payload.JTI(), "reason": string(reason), "error": res.Err.Error(),
		})
	}
	if res.Revoked {
		s.metrics.TokenRevoked(ctx, string(reason))
		s.logger.Info(ctx, telemetrydomain.EventTokenRevoked, payload.UserID(), payload.Device().DeviceID, telemetry.Fields{
			"jti": payload.JTI(), "type": string(payload.Type()), "reason": string(reason),
		})
	}
	return res
}

// RevokeAllUserTokens revokes every active refresh record of the user. Failures are logged and
// reported as zero.
func (s *Service) RevokeAllUserTokens(ctx context.Context, userID int64, reason string) int64 {
	n, err := s.records.RevokeAllByUserID(ctx, userID, reason)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, userID, "", telemetry.Fields{"reason": reason, "error": err.Error()})
		return 0
	}
	if n > 0 {
		s.metrics.TokenRevoked(ctx, reason)
	}
	return n
}

// RevokeDeviceTokens revokes the user's active refresh records bound to deviceID.
func (s *Service) RevokeDeviceTokens(ctx context.Context, userID int64, deviceID, reason string) int64 {
	n, err := s.records.RevokeAllByDevice(ctx, userID, deviceID, reason)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, userID, deviceID, telemetry.Fields{"reason": reason, "error": err.Error()})
		return 0
	}
	if n > 0 {
		s.metrics.TokenRevoked(ctx, reason)
	}
	return n
}

// CleanupStats reports rows removed by CleanupExpired.
type CleanupStats struct {
	Expired int64
	Revoked int64
}

// CleanupExpired hard-deletes expired refresh records and revoked records past retention.
// Each phase is independent; a failing phase is logged and counted as zero.
func (s *Service) CleanupExpired(ctx context.Context) CleanupStats {
	var out CleanupStats
	n, err := s.records.Cleanup(ctx, s.now())
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventMaintenanceCompleted, 0, "", telemetry.Fields{"phase": "expired", "error": err.Error()})
	} else {
		out.Expired = n
	}
	n, err = s.records.CleanupRevoked(ctx, s.cfg.RevokedRetentionDays)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventMaintenanceCompleted, 0, "", telemetry.Fields{"phase": "revoked", "error": err.Error()})
	} else {
		out.Revoked = n
	}
	s.metrics.CleanupRemoved(ctx, "refresh_tokens", out.Expired+out.Revoked)
	return out
}
