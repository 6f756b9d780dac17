// Package domain defines the persisted refresh token record and its lifecycle.
package domain

import (
	"time"

	devicedomain "token-lifecycle/backend/internal/device/domain"
)

// Status is the lifecycle state of a refresh token record.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Revoke reasons recorded on refresh token records.
const (
	RevokeReasonRotation        = "token_rotation"
	RevokeReasonLogout          = "logout"
	RevokeReasonMaxTokens       = "max_tokens_exceeded"
	RevokeReasonSecurityBreach  = "security_breach"
	RevokeReasonPasswordChanged = "password_changed"
	RevokeReasonDeviceLost      = "device_lost"
)

// Record is the server-side state of one issued refresh token. The raw token is never
// stored; TokenHash is its one-way hash.
type Record struct {
	ID           string
	JTI          string
	UserID       int64
	TokenHash    string
	ExpiresAt    time.Time
	Device       devicedomain.Info
	Status       Status
	RevokedAt    *time.Time // nil when not revoked
	RevokeReason string
	ParentJTI    string // jti this token was rotated from; empty for a fresh login
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsUsable reports whether the record can still back a refresh at now.
func (r *Record) IsUsable(now time.Time) bool {
	return r.Status == StatusActive && r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// WasRotated reports whether the record was retired by rotation rather than revocation.
func (r *Record) WasRotated() bool {
	return r.Status == StatusRevoked && r.RevokeReason == RevokeReasonRotation
}
