// Package guard protects cookie-based browser sessions against hijacking and fixation.
//
// A session moves NONE → ACTIVE on Init, ACTIVE → IP_CHANGE_PENDING when a request arrives
// from a new address, back to ACTIVE on ConfirmIP, and is destroyed when it goes idle, outlives
// its absolute lifetime, presents a different user agent, or leaves an IP change unconfirmed
// past the verification window.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"token-lifecycle/backend/internal/audit"
	auditdomain "token-lifecycle/backend/internal/audit/domain"
	"token-lifecycle/backend/internal/session/domain"
	"token-lifecycle/backend/internal/session/repository"
	"token-lifecycle/backend/internal/telemetry"
	telemetrydomain "token-lifecycle/backend/internal/telemetry/domain"
)

// LogSource is the telemetry source name for loggers handed to this package.
const LogSource = "session_guard"

const (
	DefaultIdleTimeout          = 2 * time.Hour
	DefaultAbsoluteTimeout      = 8 * time.Hour
	DefaultIPVerificationWindow = 5 * time.Minute
)

// ErrInvalidSession is returned when an operation needs a live session and there is none.
var ErrInvalidSession = errors.New("invalid or expired session")

// Config holds the session timeouts. Zero fields take the defaults.
type Config struct {
	IdleTimeout          time.Duration
	AbsoluteTimeout      time.Duration
	IPVerificationWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.AbsoluteTimeout <= 0 {
		c.AbsoluteTimeout = DefaultAbsoluteTimeout
	}
	if c.IPVerificationWindow <= 0 {
		c.IPVerificationWindow = DefaultIPVerificationWindow
	}
	return c
}

// Status is the outcome of a security check.
type Status string

const (
	StatusOK                    Status = "ok"
	StatusInvalid               Status = "invalid"
	StatusExpired               Status = "expired"
	StatusHijackSuspected       Status = "hijack_suspected"
	StatusReauthRequired        Status = "reauth_required"
	StatusIPVerificationExpired Status = "ip_verification_expired"
)

// CheckResult is returned by PerformSecurityCheck. Session is set only when the session survives.
type CheckResult struct {
	Status  Status
	Reason  string
	Session *domain.Session
}

// Valid reports whether the request may proceed on this session.
func (r CheckResult) Valid() bool { return r.Status == StatusOK }

// RequiresReauth reports whether the session is kept but the user must re-authenticate.
func (r CheckResult) RequiresReauth() bool { return r.Status == StatusReauthRequired }

// Guard runs the per-request session checks. It is safe for concurrent use.
type Guard struct {
	store   repository.Store
	audit   audit.AuditLogger
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	cfg     Config
	now     func() time.Time
}

// NewGuard returns a Guard on store. auditLogger, logger and metrics may be nil.
func NewGuard(store repository.Store, auditLogger audit.AuditLogger, logger *telemetry.Logger, metrics *telemetry.Metrics, cfg Config) *Guard {
	return &Guard{
		store:   store,
		audit:   auditLogger,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// SetClock overrides the guard clock. Used by tests.
func (g *Guard) SetClock(now func() time.Time) { g.now = now }

// Init starts an authenticated session for userID. Any session under currentID is destroyed and
// the new session always gets a fresh identifier, so a pre-login id can never be fixated.
func (g *Guard) Init(ctx context.Context, currentID string, userID int64, ip, userAgent string) (*domain.Session, error) {
	if userID <= 0 || ip == "" || userAgent == "" {
		return nil, fmt.Errorf("%w: user, ip and user agent are required", ErrInvalidSession)
	}
	if currentID != "" {
		if err := g.store.Destroy(ctx, currentID); err != nil {
			return nil, err
		}
	}
	now := g.now()
	sess := &domain.Session{
		ID:            repository.NewID(),
		UserID:        userID,
		UserAgentHash: domain.HashUserAgent(userAgent),
		IPAddress:     ip,
		CreatedAt:     now,
		LastActivity:  now,
	}
	if err := g.store.Write(ctx, sess, g.cfg.AbsoluteTimeout); err != nil {
		return nil, err
	}
	return sess, nil
}

// PerformSecurityCheck validates the session for a request from ip with userAgent and records
// the activity. Store failures fail closed as StatusInvalid.
func (g *Guard) PerformSecurityCheck(ctx context.Context, sessionID, ip, userAgent string) CheckResult {
	sess, err := g.store.Read(ctx, sessionID)
	if err != nil {
		g.logger.Error(ctx, telemetrydomain.EventSessionExpired, 0, "", telemetry.Fields{"error": err.Error()})
		return g.fail(ctx, StatusInvalid, "session store unavailable")
	}
	if sess == nil {
		return g.fail(ctx, StatusInvalid, "no session")
	}
	if !sess.Complete() {
		g.destroy(ctx, sess.ID)
		return g.fail(ctx, StatusInvalid, "session is missing required fields")
	}
	now := g.now()
	if now.Sub(sess.LastActivity) > g.cfg.IdleTimeout {
		g.destroy(ctx, sess.ID)
		g.logger.Info(ctx, telemetrydomain.EventSessionExpired, sess.UserID, "", telemetry.Fields{"cause": "idle"})
		return g.fail(ctx, StatusExpired, "session idle timeout")
	}
	if now.Sub(sess.CreatedAt) > g.cfg.AbsoluteTimeout {
		g.destroy(ctx, sess.ID)
		g.logger.Info(ctx, telemetrydomain.EventSessionExpired, sess.UserID, "", telemetry.Fields{"cause": "absolute"})
		return g.fail(ctx, StatusExpired, "session lifetime exceeded")
	}
	if domain.HashUserAgent(userAgent) != sess.UserAgentHash {
		g.destroy(ctx, sess.ID)
		fields := telemetry.Fields{"ip": ip, "session_ip": sess.IPAddress}
		g.logger.Warn(ctx, telemetrydomain.EventSessionHijack, sess.UserID, "", fields)
		if g.audit != nil {
			g.audit.LogEvent(ctx, sess.UserID, auditdomain.ActionSessionHijack, auditdomain.ResourceSession, audit.Metadata(fields))
		}
		return g.fail(ctx, StatusHijackSuspected, "possible session hijack: user agent changed")
	}
	if sess.PendingIPVerification {
		if sess.IPChangeDetectedAt == nil || now.Sub(*sess.IPChangeDetectedAt) > g.cfg.IPVerificationWindow {
			g.destroy(ctx, sess.ID)
			return g.fail(ctx, StatusIPVerificationExpired, "ip change was not verified in time")
		}
		return CheckResult{Status: StatusReauthRequired, Reason: "ip change pending verification", Session: sess}
	}
	if ip != sess.IPAddress {
		sess.PendingIPVerification = true
		sess.PendingIP = ip
		sess.IPChangeDetectedAt = &now
		if err := g.write(ctx, sess, now); err != nil {
			g.destroy(ctx, sess.ID)
			return g.fail(ctx, StatusInvalid, "session store unavailable")
		}
		g.logger.Warn(ctx, telemetrydomain.EventSessionIPChange, sess.UserID, "", telemetry.Fields{"ip": ip, "session_ip": sess.IPAddress})
		return CheckResult{Status: StatusReauthRequired, Reason: "ip address changed", Session: sess}
	}
	sess.LastActivity = now
	if err := g.write(ctx, sess, now); err != nil {
		g.logger.Error(ctx, telemetrydomain.EventSessionExpired, sess.UserID, "", telemetry.Fields{"error": err.Error()})
		return g.fail(ctx, StatusInvalid, "session store unavailable")
	}
	return CheckResult{Status: StatusOK, Session: sess}
}

// ConfirmIP accepts the pending IP change after the user re-authenticated. The session id is
// regenerated; the new session is returned.
func (g *Guard) ConfirmIP(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := g.live(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.PendingIPVerification {
		return sess, nil
	}
	now := g.now()
	sess.IPAddress = sess.PendingIP
	sess.PendingIPVerification = false
	sess.PendingIP = ""
	sess.IPChangeDetectedAt = nil
	sess.LastActivity = now
	return g.regenerate(ctx, sess, now)
}

// Elevate marks the session as privileged and regenerates its id.
func (g *Guard) Elevate(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := g.live(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	sess.Elevated = true
	sess.LastActivity = now
	return g.regenerate(ctx, sess, now)
}

// Get returns the live session for sessionID without recording activity, or ErrInvalidSession.
func (g *Guard) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return g.live(ctx, sessionID)
}

// Destroy ends the session. Destroying a missing session is not an error.
func (g *Guard) Destroy(ctx context.Context, sessionID string) error {
	return g.store.Destroy(ctx, sessionID)
}

func (g *Guard) live(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := g.store.Read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Complete() {
		return nil, ErrInvalidSession
	}
	return sess, nil
}

func (g *Guard) regenerate(ctx context.Context, sess *domain.Session, now time.Time) (*domain.Session, error) {
	newID, err := g.store.Regenerate(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	sess.ID = newID
	if err := g.write(ctx, sess, now); err != nil {
		return nil, err
	}
	return sess, nil
}

// write stores sess for the rest of its absolute lifetime.
func (g *Guard) write(ctx context.Context, sess *domain.Session, now time.Time) error {
	ttl := sess.CreatedAt.Add(g.cfg.AbsoluteTimeout).Sub(now)
	if ttl <= 0 {
		return g.store.Destroy(ctx, sess.ID)
	}
	return g.store.Write(ctx, sess, ttl)
}

func (g *Guard) destroy(ctx context.Context, id string) {
	if err := g.store.Destroy(ctx, id); err != nil {
		g.logger.Error(ctx, telemetrydomain.EventSessionExpired, 0, "", telemetry.Fields{"op": "destroy", "error": err.Error()})
	}
}

func (g *Guard) fail(ctx context.Context, status Status, reason string) CheckResult {
	g.metrics.SessionCheckFailed(ctx, string(status))
	return CheckResult{Status: status, Reason: reason}
}
