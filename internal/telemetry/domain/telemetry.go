package domain

import (
	"encoding/json"
	"time"
)

// Severity is the log severity an event is emitted with.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event types emitted by the token lifecycle.
const (
	EventTokenIssued          = "token_issued"
	EventTokenRefreshed       = "token_refreshed"
	EventTokenRevoked         = "token_revoked"
	EventRefreshReuse         = "refresh_reuse_detected"
	EventTokenLimitEviction   = "token_limit_eviction"
	EventDeviceMismatch       = "device_mismatch"
	EventBlacklistHighPrio    = "blacklist_high_priority"
	EventBlacklistCleanup     = "blacklist_cleanup"
	EventLoginSuccess         = "login_success"
	EventLoginFailure         = "login_failure"
	EventLogout               = "logout"
	EventSessionHijack        = "session_hijack_suspected"
	EventSessionIPChange      = "session_ip_change"
	EventSessionExpired       = "session_expired"
	EventGRPCRequest          = "grpc_request"
	EventMaintenanceCompleted = "maintenance_completed"
)

// Event is a security or lifecycle event (user, device and session scoped where known).
type Event struct {
	UserID    int64           `json:"user_id,omitempty"`
	DeviceID  string          `json:"device_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Severity  Severity        `json:"severity"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent returns an event stamped with the current time. metadata is JSON-encoded; an
// unencodable value is dropped.
func NewEvent(eventType, source string, severity Severity, metadata any) *Event {
	e := &Event{
		EventType: eventType,
		Source:    source,
		Severity:  severity,
		CreatedAt: time.Now().UTC(),
	}
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			e.Metadata = b
		}
	}
	return e
}

// WithUser sets the user and device ids and returns e.
func (e *Event) WithUser(userID int64, deviceID string) *Event {
	e.UserID = userID
	e.DeviceID = deviceID
	return e
}
