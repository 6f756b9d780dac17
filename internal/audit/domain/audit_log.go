package domain

import "time"

// Actions recorded by the token lifecycle.
const (
	ActionLoginSuccess   = "login_success"
	ActionLoginFailure   = "login_failure"
	ActionLogout         = "logout"
	ActionLogoutAll      = "logout_all"
	ActionTokenRefresh   = "token_refresh"
	ActionRefreshReuse   = "refresh_reuse"
	ActionTokenRevoked   = "token_revoked"
	ActionBlacklist      = "blacklist"
	ActionDeviceMismatch = "device_mismatch"
	ActionSessionHijack  = "session_hijack"
)

// Resources audited.
const (
	ResourceAuth         = "auth"
	ResourceRefreshToken = "refresh_token"
	ResourceAccessToken  = "access_token"
	ResourceSession      = "session"
)

// AuditLog represents an audit event. UserID is zero when the actor is unknown
// (e.g. a login failure for a nonexistent email).
type AuditLog struct {
	ID        string
	UserID    int64
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
