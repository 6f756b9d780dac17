// Package domain defines blacklist entries, revocation reasons and their priority.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	tokendomain "token-lifecycle/backend/internal/token/domain"
)

// ErrInvalidEntry is wrapped by every entry construction failure.
var ErrInvalidEntry = fmt.Errorf("%w: blacklist entry", tokendomain.ErrValidation)

// ErrUnknownReason is returned when a reason is not in the fixed set.
var ErrUnknownReason = errors.New("unknown blacklist reason")

// MaxClockSkew bounds how far BlacklistedAt may be from the current time.
const MaxClockSkew = 365 * 24 * time.Hour

// Reason is why a token was blacklisted.
type Reason string

const (
	ReasonLogout             Reason = "logout"
	ReasonRevoked            Reason = "revoked"
	ReasonSecurityBreach     Reason = "security_breach"
	ReasonPasswordChanged    Reason = "password_changed"
	ReasonAccountSuspended   Reason = "account_suspended"
	ReasonManualRevocation   Reason = "manual_revocation"
	ReasonExpired            Reason = "expired"
	ReasonInvalidSignature   Reason = "invalid_signature"
	ReasonDeviceLost         Reason = "device_lost"
	ReasonSuspiciousActivity Reason = "suspicious_activity"
	ReasonTokenRotation      Reason = "token_rotation"
	ReasonMaxTokensExceeded  Reason = "max_tokens_exceeded"
	ReasonAccountDeleted     Reason = "account_deleted"
)

var allReasons = []Reason{
	ReasonLogout, ReasonRevoked, ReasonSecurityBreach, ReasonPasswordChanged,
	ReasonAccountSuspended, ReasonManualRevocation, ReasonExpired, ReasonInvalidSignature,
	ReasonDeviceLost, ReasonSuspiciousActivity, ReasonTokenRotation, ReasonMaxTokensExceeded,
	ReasonAccountDeleted,
}

// Reasons returns every valid reason.
func Reasons() []Reason {
	out := make([]Reason, len(allReasons))
	copy(out, allReasons)
	return out
}

// ParseReason validates s against the fixed reason set.
func ParseReason(s string) (Reason, error) {
	r := Reason(strings.TrimSpace(s))
	for _, v := range allReasons {
		if r == v {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownReason, s)
}

// Priority orders blacklist entries for cleanup and reporting. Lower is more important.
type Priority int

const (
	PriorityExpired  Priority = 1
	PrioritySecurity Priority = 2
	PriorityUser     Priority = 3
	PrioritySystem   Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityExpired:
		return "expired"
	case PrioritySecurity:
		return "security"
	case PriorityUser:
		return "user"
	default:
		return "system"
	}
}

// Priority returns the reason's priority class.
func (r Reason) Priority() Priority {
	switch {
	case r == ReasonExpired:
		return PriorityExpired
	case r.IsSecurityRelated():
		return PrioritySecurity
	case r == ReasonLogout, r == ReasonPasswordChanged, r == ReasonDeviceLost:
		return PriorityUser
	default:
		return PrioritySystem
	}
}

// IsSecurityRelated reports whether the reason indicates a compromise or enforcement action.
func (r Reason) IsSecurityRelated() bool {
	switch r {
	case ReasonSecurityBreach, ReasonSuspiciousActivity, ReasonAccountSuspended, ReasonInvalidSignature:
		return true
	}
	return false
}

// IsHighPriority reports whether blacklisting with this reason warrants elevated logging.
func (r Reason) IsHighPriority() bool {
	switch r {
	case ReasonSecurityBreach, ReasonSuspiciousActivity, ReasonAccountSuspended, ReasonManualRevocation:
		return true
	}
	return false
}

// EntryParams are the inputs to NewEntry.
type EntryParams struct {
	JTI           string
	TokenType     tokendomain.TokenType
	UserID        int64
	DeviceID      string
	ExpiresAt     time.Time
	BlacklistedAt time.Time // zero means now
	Reason        Reason
	Metadata      map[string]any
}

// Entry is an immutable denylist record for one token jti.
type Entry struct {
	jti           string
	tokenType     tokendomain.TokenType
	userID        int64
	deviceID      string
	expiresAt     time.Time
	blacklistedAt time.Time
	reason        Reason
	metadata      json.RawMessage
}

// NewEntry validates p and returns an entry. now anchors the blacklistedAt skew check.
func NewEntry(p EntryParams, now time.Time) (*Entry, error) {
	jti := strings.TrimSpace(p.JTI)
	if jti == "" || len(jti) > tokendomain.MaxJTILength {
		return nil, fmt.Errorf("%w: jti must be 1-%d characters", ErrInvalidEntry, tokendomain.MaxJTILength)
	}
	if !p.TokenType.Valid() {
		return nil, fmt.Errorf("%w: token type %q", ErrInvalidEntry, p.TokenType)
	}
	if p.UserID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrInvalidEntry)
	}
	reason, err := ParseReason(string(p.Reason))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	if p.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: expires_at is required", ErrInvalidEntry)
	}
	at := p.BlacklistedAt
	if at.IsZero() {
		at = now
	}
	if d := at.Sub(now); d > MaxClockSkew || d < -MaxClockSkew {
		return nil, fmt.Errorf("%w: blacklisted_at out of range", ErrInvalidEntry)
	}
	var meta json.RawMessage
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata is not JSON-serializable: %v", ErrInvalidEntry, err)
		}
		meta = b
	}
	return &Entry{
		jti:           jti,
		tokenType:     p.TokenType,
		userID:        p.UserID,
		deviceID:      strings.TrimSpace(p.DeviceID),
		expiresAt:     p.ExpiresAt.UTC(),
		blacklistedAt: at.UTC(),
		reason:        reason,
		metadata:      meta,
	}, nil
}

func (e *Entry) JTI() string { return e.jti }
func (e *Entry) TokenType() tokendomain.TokenType { return e.tokenType }
func (e *Entry) UserID() int64 { return e.userID }
func (e *Entry) DeviceID() string { return e.deviceID }
func (e *Entry) ExpiresAt() time.Time { return e.expiresAt }
func (e *Entry) BlacklistedAt() time.Time { return e.blacklistedAt }
func (e *Entry) Reason() Reason { return e.reason }
func (e *Entry) Priority() Priority { return e.reason.Priority() }

// RestoreEntry rebuilds an entry loaded from storage. Only shape is validated; the
// blacklisted_at skew window applies to new entries, not persisted ones.
func RestoreEntry(p EntryParams, metadata []byte) (*Entry, error) {
	if strings.TrimSpace(p.JTI) == "" || !p.TokenType.Valid() {
		return nil, fmt.Errorf("%w: stored entry has no jti or an unknown token type", ErrInvalidEntry)
	}
	reason, err := ParseReason(string(p.Reason))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	var meta json.RawMessage
	if len(metadata) > 0 {
		meta = append(json.RawMessage(nil), metadata...)
	}
	return &Entry{
		jti:           p.JTI,
		tokenType:     p.TokenType,
		userID:        p.UserID,
		deviceID:      p.DeviceID,
		expiresAt:     p.ExpiresAt.UTC(),
		blacklistedAt: p.BlacklistedAt.UTC(),
		reason:        reason,
		metadata:      meta,
	}, nil
}

// MetadataJSON returns the encoded metadata, or nil when there is none.
func (e *Entry) MetadataJSON() []byte {
	if len(e.metadata) == 0 {
		return nil
	}
	out := make([]byte, len(e.metadata))
	copy(out, e.metadata)
	return out
}

// Metadata decodes the metadata into a fresh map.
func (e *Entry) Metadata() map[string]any {
	if len(e.metadata) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(e.metadata, &m); err != nil {
		return nil
	}
	return m
}

// IsExpired reports whether the underlying token has expired at now; such entries are safe to purge.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// SizeInfo describes the current blacklist volume against configured limits.
type SizeInfo struct {
	Total       int64
	MaxEntries  int64
	WarnEntries int64
}

// Exceeded reports whether the hard limit is reached.
func (s SizeInfo) Exceeded() bool { return s.MaxEntries > 0 && s.Total >= s.MaxEntries }

// TooLarge reports whether the warning threshold is reached.
func (s SizeInfo) TooLarge() bool { return s.WarnEntries > 0 && s.Total >= s.WarnEntries }

// Stats aggregates the blacklist contents.
type Stats struct {
	Total           int64
	Expired         int64
	SecurityRelated int64
	ByReason        map[Reason]int64
	ByTokenType     map[tokendomain.TokenType]int64
	Oldest          *time.Time
	Newest          *time.Time
}

// SearchCriteria filters a blacklist search. Zero fields do not filter.
type SearchCriteria struct {
	UserID    int64
	DeviceID  string
	TokenType tokendomain.TokenType
	Reason    Reason
	From      time.Time // blacklisted_at lower bound, inclusive
	To        time.Time // blacklisted_at upper bound, exclusive
}

// Matches reports whether e satisfies c.
func (c SearchCriteria) Matches(e *Entry) bool {
	if c.UserID != 0 && e.userID != c.UserID {
		return false
	}
	if c.DeviceID != "" && e.deviceID != c.DeviceID {
		return false
	}
	if c.TokenType != "" && e.tokenType != c.TokenType {
		return false
	}
	if c.Reason != "" && e.reason != c.Reason {
		return false
	}
	if !c.From.IsZero() && e.blacklistedAt.Before(c.From) {
		return false
	}
	if !c.To.IsZero() && !e.blacklistedAt.Before(c.To) {
		return false
	}
	return true
}
