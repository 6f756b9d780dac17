// Package maintenance runs the periodic purge of expired refresh records and blacklist entries.
package maintenance

import (
	"context"
	"time"

	blacklistservice "token-lifecycle/backend/internal/blacklist/service"
	"token-lifecycle/backend/internal/telemetry"
	telemetrydomain "token-lifecycle/backend/internal/telemetry/domain"
	tokenservice "token-lifecycle/backend/internal/token/service"
)

// LogSource is the telemetry source name for loggers handed to this package.
const LogSource = "maintenance"

// DefaultInterval is used when Job is given a non-positive interval.
const DefaultInterval = time.Hour

// TokenCleaner purges refresh records (e.g. *tokenservice.Service).
type TokenCleaner interface {
	CleanupExpired(ctx context.Context) tokenservice.CleanupStats
}

// BlacklistCleaner purges blacklist entries (e.g. *blacklistservice.Service).
type BlacklistCleaner interface {
	AutoCleanup(ctx context.Context, batchSize int) blacklistservice.CleanupResult
}

// Result is the outcome of one maintenance pass.
type Result struct {
	Tokens    tokenservice.CleanupStats
	Blacklist blacklistservice.CleanupResult
	Duration  time.Duration
}

// Job runs both cleanups on a fixed interval. Either cleaner may be nil.
type Job struct {
	tokens    TokenCleaner
	blacklist BlacklistCleaner
	logger    *telemetry.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewJob returns a Job. batchSize <= 0 uses the blacklist service default.
func NewJob(tokens TokenCleaner, blacklist BlacklistCleaner, logger *telemetry.Logger, interval time.Duration, batchSize int) *Job {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Job{
		tokens:    tokens,
		blacklist: blacklist,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// RunOnce performs a single pass. Cleanup failures are logged by the services themselves and
// never stop the other phase.
func (j *Job) RunOnce(ctx context.Context) Result {
	start := j.now()
	var res Result
	if j.tokens != nil {
		res.Tokens = j.tokens.CleanupExpired(ctx)
	}
	if j.blacklist != nil {
		res.Blacklist = j.blacklist.AutoCleanup(ctx, j.batchSize)
	}
	res.Duration = j.now().Sub(start)

	fields := telemetry.Fields{
		"refresh_expired_removed":   res.Tokens.Expired,
		"refresh_revoked_removed":   res.Tokens.Revoked,
		"blacklist_expired_removed": res.Blacklist.ExpiredRemoved,
		"blacklist_old_removed":     res.Blacklist.OldRemoved,
		"duration_ms":               res.Duration.Milliseconds(),
	}
	if j.blacklist != nil && !res.Blacklist.Success {
		fields["error"] = res.Blacklist.Message
		j.logger.Warn(ctx, telemetrydomain.EventMaintenanceCompleted, 0, "", fields)
	} else {
		j.logger.Info(ctx, telemetrydomain.EventMaintenanceCompleted, 0, "", fields)
	}
	return res
}

// Run performs a pass immediately and then every interval until ctx is done.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
