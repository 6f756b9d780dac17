package service

import (
	"context"
	"fmt"

	"token-lifecycle/backend/internal/audit"
	auditdomain "token-lifecycle/backend/internal/audit/domain"
	devicedomain "token-lifecycle/backend/internal/device/domain"
	refreshdomain "token-lifecycle/backend/internal/refreshtoken/domain"
	"token-lifecycle/backend/internal/telemetry"
	telemetrydomain "token-lifecycle/backend/internal/telemetry/domain"
	tokendomain "token-lifecycle/backend/internal/token/domain"
)

// RefreshTokens rotates a refresh token: the old record is revoked (token_rotation) and an entirely
// new pair is minted with the old jti as parent. The old token is unusable afterwards.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string, device devicedomain.Info) (*tokendomain.TokenPair, error) {
	return s.RefreshTokensWithClaims(ctx, refreshToken, device, tokendomain.CustomClaims{})
}

// RefreshTokensWithClaims is RefreshTokens with custom claims for the new access token. Refresh
// tokens do not carry custom claims, so callers that need them must supply them again.
func (s *Service) RefreshTokensWithClaims(ctx context.Context, refreshToken string, device devicedomain.Info, custom tokendomain.CustomClaims) (*tokendomain.TokenPair, error) {
	payload, rec, err := s.validateRefresh(ctx, refreshToken, true)
	if err != nil {
		return nil, err
	}
	if err := s.checkDevice(ctx, rec, device); err != nil {
		return nil, err
	}
	// The conditional revoke is the rotation lock: of two concurrent refreshes only one wins.
	ok, err := s.records.Revoke(ctx, rec.JTI, refreshdomain.RevokeReasonRotation)
	if err != nil {
		return nil, fmt.Errorf("%w: revoke rotated record: %v", tokendomain.ErrRefreshToken, err)
	}
	if !ok {
		s.metrics.TokenRejected(ctx, "rotation_race")
		return nil, fmt.Errorf("%w: refresh token already used", tokendomain.ErrInvalidToken)
	}
	pair, err := s.issue(ctx, payload.UserID(), device, custom, rec.JTI)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tokendomain.ErrRefreshToken, err)
	}
	s.metrics.TokenRefreshed(ctx)
	s.logger.Info(ctx, telemetrydomain.EventTokenRefreshed, payload.UserID(), device.DeviceID(), telemetry.Fields{
		"parent_jti":  rec.JTI,
		"refresh_jti": pair.RefreshJTI(),
	})
	return pair, nil
}

// checkDevice evaluates the device-consistency policy. Evaluation failures deny.
func (s *Service) checkDevice(ctx context.Context, rec *refreshdomain.Record, current devicedomain.Info) error {
	decision, err := s.devices.EvaluateDeviceConsistency(ctx, rec.Device, current)
	if err == nil && decision.Allowed {
		return nil
	}
	fields := telemetry.Fields{"jti": rec.JTI, "recorded_device": rec.Device.DeviceID(), "reasons": decision.Reasons}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.metrics.TokenRejected(ctx, "device_mismatch")
	s.logger.Warn(ctx, telemetrydomain.EventDeviceMismatch, rec.UserID, current.DeviceID(), fields)
	if s.audit != nil {
		s.audit.LogEvent(ctx, rec.UserID, auditdomain.ActionDeviceMismatch, auditdomain.ResourceRefreshToken, audit.Metadata(fields))
	}
	return tokendomain.NewAuthError(tokendomain.ReasonDeviceMismatch)
}

// handleReuse classifies a rotated-out token presented again. Within the grace period it is treated
// as a concurrent-refresh race; beyond it as a replay, and every refresh token of the user is revoked.
// Both outcomes reject the token.
func (s *Service) handleReuse(ctx context.Context, rec *refreshdomain.Record) error {
	if rec.RevokedAt != nil && s.now().Sub(*rec.RevokedAt) <= s.cfg.RotationGracePeriod {
		s.metrics.TokenRejected(ctx, "rotation_race")
		return fmt.Errorf("%w: refresh token already rotated", tokendomain.ErrInvalidToken)
	}
	s.metrics.RefreshReuse(ctx)
	n, err := s.records.RevokeAllByUserID(ctx, rec.UserID, refreshdomain.RevokeReasonSecurityBreach)
	fields := telemetry.Fields{"jti": rec.JTI, "revoked": n}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger.Warn(ctx, telemetrydomain.EventRefreshReuse, rec.UserID, rec.Device.DeviceID(), fields)
	if s.audit != nil {
		s.audit.LogEvent(ctx, rec.UserID, auditdomain.ActionRefreshReuse, auditdomain.ResourceRefreshToken, audit.Metadata(fields))
	}
	return fmt.Errorf("%w: %w", tokendomain.ErrInvalidToken, tokendomain.ErrRefreshReuse)
}

// EnforceTokenLimits revokes the user's oldest active refresh token when the active count has
// reached the limit, making room for one more. It reports whether a token was evicted.
// Count-then-evict is not atomic; concurrent logins may briefly exceed the limit.
func (s *Service) EnforceTokenLimits(ctx context.Context, userID int64) (bool, error) {
	if s.cfg.MaxActiveTokens < 0 {
		return false, nil
	}
	active, err := s.records.FindByUserID(ctx, userID, true)
	if err != nil {
		return false, err
	}
	if len(active) < s.cfg.MaxActiveTokens {
		return false, nil
	}
	oldest := active[0]
	ok, err := s.records.Revoke(ctx, oldest.JTI, refreshdomain.RevokeReasonMaxTokens)
	if err != nil {
		return false, err
	}
	if ok {
		s.metrics.LimitEviction(ctx)
		s.logger.Info(ctx, telemetrydomain.EventTokenLimitEviction, userID, oldest.Device.DeviceID(), telemetry.Fields{
			"jti": oldest.JTI, "active": len(active), "limit": s.cfg.MaxActiveTokens,
		})
	}
	return ok, nil
}
