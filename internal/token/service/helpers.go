package service

import (
	"context"
	"time"

	devicedomain "token-lifecycle/backend/internal/device/domain"
	tokendomain "token-lifecycle/backend/internal/token/domain"
)

// The helpers below never return errors. Anything that cannot be verified is treated as revoked,
// not owned, and already expired.

// ExtractPayload returns the signature-verified payload of token without checking expiry.
func (s *Service) ExtractPayload(token string) (*tokendomain.Payload, error) {
	return s.codec.VerifySignature(token)
}

// IsTokenRevoked reports whether token is blacklisted or, for refresh tokens, whether its record
// is no longer active. Unverifiable tokens and lookup failures count as revoked.
func (s *Service) IsTokenRevoked(ctx context.Context, token string) bool {
	payload, err := s.codec.VerifySignature(token)
	if err != nil {
		return true
	}
	if s.isBlacklisted(ctx, payload.JTI()) {
		return true
	}
	if payload.Type() == tokendomain.TokenTypeRefresh {
		rec, err := s.records.FindByJTI(ctx, payload.JTI())
		if err != nil || rec == nil {
			return true
		}
		return !rec.IsUsable(s.now())
	}
	return false
}

// IsTokenOwnedBy reports whether token is authentic and issued to userID.
func (s *Service) IsTokenOwnedBy(token string, userID int64) bool {
	payload, err := s.codec.VerifySignature(token)
	if err != nil {
		return false
	}
	return payload.UserID() == userID
}

// IsTokenFromDevice reports whether token is bound to device. Access tokens also carry the device
// fingerprint, which must match.
func (s *Service) IsTokenFromDevice(token string, device devicedomain.Info) bool {
	if device.IsZero() {
		return false
	}
	payload, err := s.codec.VerifySignature(token)
	if err != nil {
		return false
	}
	bound := payload.Device()
	if bound.DeviceID == "" || bound.DeviceID != device.DeviceID() {
		return false
	}
	if bound.Fingerprint != "" && bound.Fingerprint != device.Fingerprint() {
		return false
	}
	return true
}

// GetTokenRemainingTime returns the time until token expires, or zero.
func (s *Service) GetTokenRemainingTime(token string) time.Duration {
	payload, err := s.codec.VerifySignature(token)
	if err != nil {
		return 0
	}
	return payload.RemainingTime(s.now())
}

// IsTokenNearExpiry reports whether token expires within threshold. A non-positive threshold uses
// the configured default.
func (s *Service) IsTokenNearExpiry(token string, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = s.cfg.NearExpiryThreshold
	}
	return s.GetTokenRemainingTime(token) <= threshold
}
