// Package service manages the token blacklist: revocation, lookup, bulk revocation, cleanup and health.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"token-lifecycle/backend/internal/audit"
	auditdomain "token-lifecycle/backend/internal/audit/domain"
	"token-lifecycle/backend/internal/blacklist/domain"
	"token-lifecycle/backend/internal/blacklist/repository"
	refreshrepo "token-lifecycle/backend/internal/refreshtoken/repository"
	"token-lifecycle/backend/internal/telemetry"
	telemetrydomain "token-lifecycle/backend/internal/telemetry/domain"
	tokendomain "token-lifecycle/backend/internal/token/domain"
)

// LogSource is the telemetry source name for loggers handed to this package.
const LogSource = "blacklist_service"

// Defaults applied by NewService to zero Config fields.
const (
	DefaultRetentionDays         = 30
	DefaultBatchSize             = 1000
	DefaultSearchLimit           = 50
	MaxSearchLimit               = 1000
	DefaultExpiredWarnThreshold  = 1000
	DefaultSecurityWarnThreshold = 100
	maxCleanupBatches            = 100
)

// Config tunes cleanup and health reporting.
type Config struct {
	// RetentionDays is how long entries are kept after blacklisting, expired or not.
	RetentionDays int
	// BatchSize is the default AutoCleanup batch size.
	BatchSize int
	// ExpiredWarnThreshold triggers a cleanup hint when this many expired entries remain.
	ExpiredWarnThreshold int64
	// SecurityWarnThreshold triggers an investigation hint when this many security-related entries exist.
	SecurityWarnThreshold int64
}

func (c Config) withDefaults() Config {
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ExpiredWarnThreshold <= 0 {
		c.ExpiredWarnThreshold = DefaultExpiredWarnThreshold
	}
	if c.SecurityWarnThreshold <= 0 {
		c.SecurityWarnThreshold = DefaultSecurityWarnThreshold
	}
	return c
}

// Service is the blacklist service. Lookups fail closed: a store failure reports a token as blacklisted.
type Service struct {
	store   repository.Store
	records refreshrepo.Store
	audit   audit.AuditLogger
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	cfg     Config
	now     func() time.Time
}

// NewService returns a blacklist Service. records backs the bulk user/device revocations.
// auditLogger, logger and metrics may be nil.
func NewService(store repository.Store, records refreshrepo.Store, auditLogger audit.AuditLogger, logger *telemetry.Logger, metrics *telemetry.Metrics, cfg Config) *Service {
	return &Service{
		store:   store,
		records: records,
		audit:   auditLogger,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// SetClock overrides the service clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// BlacklistRequest describes one token to blacklist. DeviceID and Metadata are optional.
type BlacklistRequest struct {
	JTI       string
	TokenType tokendomain.TokenType
	UserID    int64
	ExpiresAt time.Time
	Reason    domain.Reason
	DeviceID  string
	Metadata  map[string]any
}

// BlacklistToken validates req and adds it to the blacklist. Token type and reason are checked
// before the store is touched. It reports false when the jti was already blacklisted.
func (s *Service) BlacklistToken(ctx context.Context, req BlacklistRequest) (bool, error) {
	entry, err := domain.NewEntry(domain.EntryParams{
		JTI:       req.JTI,
		TokenType: req.TokenType,
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		ExpiresAt: req.ExpiresAt,
		Reason:    req.Reason,
		Metadata:  req.Metadata,
	}, s.now())
	if err != nil {
		return false, err
	}
	added, err := s.store.Add(ctx, entry)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, req.UserID, req.DeviceID, telemetry.Fields{"jti": req.JTI, "error": err.Error()})
		return false, fmt.Errorf("blacklist %s: %w", req.JTI, err)
	}
	if added {
		s.metrics.TokenRevoked(ctx, string(req.Reason))
		s.logEntry(ctx, entry)
	}
	return added, nil
}

func (s *Service) logEntry(ctx context.Context, e *domain.Entry) {
	fields := telemetry.Fields{
		"jti":      e.JTI(),
		"type":     string(e.TokenType()),
		"reason":   string(e.Reason()),
		"priority": e.Priority().String(),
	}
	if !e.Reason().IsHighPriority() {
		s.logger.Info(ctx, telemetrydomain.EventTokenRevoked, e.UserID(), e.DeviceID(), fields)
		return
	}
	s.logger.Warn(ctx, telemetrydomain.EventBlacklistHighPrio, e.UserID(), e.DeviceID(), fields)
	if s.audit != nil {
		resource := auditdomain.ResourceAccessToken
		if e.TokenType() == tokendomain.TokenTypeRefresh {
			resource = auditdomain.ResourceRefreshToken
		}
		s.audit.LogEvent(ctx, e.UserID(), auditdomain.ActionBlacklist, resource, audit.Metadata(fields))
	}
}

// wellFormedJTI reports whether jti could have been issued by the codec.
func wellFormedJTI(jti string) bool {
	return strings.TrimSpace(jti) != "" && len(jti) <= tokendomain.MaxJTILength
}

// IsTokenBlacklisted reports whether jti is blacklisted. Malformed jtis and store failures report true.
func (s *Service) IsTokenBlacklisted(ctx context.Context, jti string) bool {
	if !wellFormedJTI(jti) {
		return true
	}
	ok, err := s.store.IsBlacklisted(ctx, jti)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, 0, "", telemetry.Fields{"jti": jti, "error": err.Error(), "fail_closed": true})
		return true
	}
	return ok
}

// BatchCheckBlacklist returns the blacklist state of every jti. Malformed jtis report true; store
// failures report all as blacklisted.
func (s *Service) BatchCheckBlacklist(ctx context.Context, jtis []string) map[string]bool {
	out := make(map[string]bool, len(jtis))
	lookup := make([]string, 0, len(jtis))
	for _, j := range jtis {
		if !wellFormedJTI(j) {
			out[j] = true
			continue
		}
		lookup = append(lookup, j)
	}
	if len(lookup) == 0 {
		return out
	}
	found, err := s.store.BatchIsBlacklisted(ctx, lookup)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, 0, "", telemetry.Fields{"count": len(lookup), "error": err.Error(), "fail_closed": true})
		for _, j := range lookup {
			out[j] = true
		}
		return out
	}
	for _, j := range lookup {
		out[j] = found[j]
	}
	return out
}

// BlacklistUserTokens blacklists and revokes every active refresh token of the user and returns how
// many records were revoked. Failures are logged and reported as zero.
func (s *Service) BlacklistUserTokens(ctx context.Context, userID int64, reason domain.Reason) int64 {
	return s.blacklistRecords(ctx, userID, "", reason)
}

// BlacklistDeviceTokens is BlacklistUserTokens restricted to one device.
func (s *Service) BlacklistDeviceTokens(ctx context.Context, userID int64, deviceID string, reason domain.Reason) int64 {
	if deviceID == "" {
		return 0
	}
	return s.blacklistRecords(ctx, userID, deviceID, reason)
}

func (s *Service) blacklistRecords(ctx context.Context, userID int64, deviceID string, reason domain.Reason) int64 {
	if _, err := domain.ParseReason(string(reason)); err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, userID, deviceID, telemetry.Fields{"error": err.Error()})
		return 0
	}
	active, err := s.records.FindByUserID(ctx, userID, true)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, userID, deviceID, telemetry.Fields{"reason": string(reason), "error": err.Error()})
		return 0
	}
	now := s.now()
	for _, rec := range active {
		if deviceID != "" && rec.Device.DeviceID() != deviceID {
			continue
		}
		entry, err := domain.NewEntry(domain.EntryParams{
			JTI:       rec.JTI,
			TokenType: tokendomain.TokenTypeRefresh,
			UserID:    userID,
			DeviceID:  rec.Device.DeviceID(),
			ExpiresAt: rec.ExpiresAt,
			Reason:    reason,
		}, now)
		if err == nil {
			_, err = s.store.Add(ctx, entry)
		}
		if err != nil {
			s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, userID, rec.Device.DeviceID(), telemetry.Fields{"jti": rec.JTI, "error": err.Error()})
		}
	}
	var n int64
	if deviceID == "" {
		n, err = s.records.RevokeAllByUserID(ctx, userID, string(reason))
	} else {
		n, err = s.records.RevokeAllByDevice(ctx, userID, deviceID, string(reason))
	}
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, userID, deviceID, telemetry.Fields{"reason": string(reason), "error": err.Error()})
		return 0
	}
	if n > 0 {
		s.metrics.TokenRevoked(ctx, string(reason))
		fields := telemetry.Fields{"reason": string(reason), "revoked": n}
		if reason.IsHighPriority() {
			s.logger.Warn(ctx, telemetrydomain.EventBlacklistHighPrio, userID, deviceID, fields)
		} else {
			s.logger.Info(ctx, telemetrydomain.EventTokenRevoked, userID, deviceID, fields)
		}
	}
	return n
}

// RemoveFromBlacklist deletes the entry for jti. It reports false when there was none or on failure.
func (s *Service) RemoveFromBlacklist(ctx context.Context, jti string) bool {
	ok, err := s.store.Remove(ctx, jti)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, 0, "", telemetry.Fields{"jti": jti, "op": "remove", "error": err.Error()})
		return false
	}
	if ok {
		s.logger.Info(ctx, telemetrydomain.EventTokenRevoked, 0, "", telemetry.Fields{"jti": jti, "op": "remove"})
	}
	return ok
}

// Search returns entries matching c, newest first. limit is clamped to [1, MaxSearchLimit].
// Failures return an empty result.
func (s *Service) Search(ctx context.Context, c domain.SearchCriteria, limit, offset int) []*domain.Entry {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.store.Search(ctx, c, limit, offset)
	if err != nil {
		s.logger.Error(ctx, telemetrydomain.EventTokenRevoked, c.UserID, c.DeviceID, telemetry.Fields{"op": "search", "error": err.Error()})
		return nil
	}
	return out
}

// GetStatistics aggregates the blacklist contents.
func (s *Service) GetStatistics(ctx context.Context) (*domain.Stats, error) {
	return s.store.Stats(ctx, s.now())
}
