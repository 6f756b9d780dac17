package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Session is the server-side state of one cookie-based browser session.
type Session struct {
	ID                    string     `json:"-"`
	UserID                int64      `json:"user_id"`
	UserAgentHash         string     `json:"ua_hash"`
	IPAddress             string     `json:"ip"`
	CreatedAt             time.Time  `json:"created_at"`
	LastActivity          time.Time  `json:"last_activity"`
	PendingIPVerification bool       `json:"pending_ip,omitempty"`
	PendingIP             string     `json:"pending_ip_addr,omitempty"`
	IPChangeDetectedAt    *time.Time `json:"ip_change_at,omitempty"`
	Elevated              bool       `json:"elevated,omitempty"`
}

// Complete reports whether every field required for a security check is present.
func (s *Session) Complete() bool {
	return s.UserID > 0 && s.UserAgentHash != "" && s.IPAddress != "" &&
		!s.CreatedAt.IsZero() && !s.LastActivity.IsZero()
}

// HashUserAgent returns the SHA-256 hex digest of ua. Sessions store only the digest.
func HashUserAgent(ua string) string {
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])
}
