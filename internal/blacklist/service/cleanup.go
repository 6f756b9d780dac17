package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"token-lifecycle/backend/internal/blacklist/domain"
	"token-lifecycle/backend/internal/telemetry"
	telemetrydomain "token-lifecycle/backend/internal/telemetry/domain"
)

// CleanupResult reports an AutoCleanup run. Success is false when either phase failed; Message
// then carries the failure.
type CleanupResult struct {
	Success        bool
	ExpiredRemoved int64
	OldRemoved     int64
	Duration       time.Duration
	Message        string
}

// AutoCleanup purges entries in two phases: tokens that have expired, then entries older than the
// retention period. Each phase deletes in batches of batchSize until a short batch. It never errors.
func (s *Service) AutoCleanup(ctx context.Context, batchSize int) CleanupResult {
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	start := s.now()
	res := CleanupResult{Success: true}
	var failures []string

	expired, err := drain(batchSize, func() (int64, error) {
		return s.store.CleanupExpiredEntries(ctx, s.now(), batchSize)
	})
	res.ExpiredRemoved = expired
	if err != nil {
		failures = append(failures, "expired entries: "+err.Error())
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	old, err := drain(batchSize, func() (int64, error) {
		return s.store.CleanupOldEntries(ctx, cutoff, batchSize)
	})
	res.OldRemoved = old
	if err != nil {
		failures = append(failures, "old entries: "+err.Error())
	}

	res.Duration = s.now().Sub(start)
	fields := telemetry.Fields{
		"expired_removed": res.ExpiredRemoved,
		"old_removed":     res.OldRemoved,
		"duration_ms":     res.Duration.Milliseconds(),
	}
	if len(failures) > 0 {
		res.Success = false
		res.Message = "cleanup failed: " + strings.Join(failures, "; ")
		fields["error"] = res.Message
		s.logger.Error(ctx, telemetrydomain.EventBlacklistCleanup, 0, "", fields)
	} else {
		res.Message = fmt.Sprintf("removed %d expired and %d old entries", res.ExpiredRemoved, res.OldRemoved)
		s.logger.Info(ctx, telemetrydomain.EventBlacklistCleanup, 0, "", fields)
	}
	s.metrics.CleanupRemoved(ctx, "token_blacklist", res.ExpiredRemoved+res.OldRemoved)
	return res
}

func drain(batchSize int, batch func() (int64, error)) (int64, error) {
	var total int64
	for i := 0; i < maxCleanupBatches; i++ {
		n, err := batch()
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(batchSize) {
			break
		}
	}
	return total, nil
}

// HealthStatus summarizes blacklist health with remediation hints.
type HealthStatus struct {
	// Available is false when the store could not be queried.
	Available       bool
	Healthy         bool
	Size            domain.SizeInfo
	Expired         int64
	SecurityRelated int64
	Recommendations []string
}

// GetHealthStatus reports healthy when the blacklist is below both its hard and warning size limits.
func (s *Service) GetHealthStatus(ctx context.Context) HealthStatus {
	var out HealthStatus
	size, err := s.store.SizeInfo(ctx)
	if err != nil {
		out.Recommendations = append(out.Recommendations, "blacklist store is unavailable: "+err.Error())
		return out
	}
	out.Available = true
	out.Size = size
	out.Healthy = !size.Exceeded() && !size.TooLarge()
	if size.Exceeded() {
		out.Recommendations = append(out.Recommendations,
			fmt.Sprintf("blacklist holds %d entries, at or above the limit of %d; run cleanup or raise the limit", size.Total, size.MaxEntries))
	} else if size.TooLarge() {
		out.Recommendations = append(out.Recommendations,
			fmt.Sprintf("blacklist holds %d entries, above the warning threshold of %d; schedule cleanup more often", size.Total, size.WarnEntries))
	}
	stats, err := s.store.Stats(ctx, s.now())
	if err != nil {
		out.Recommendations = append(out.Recommendations, "blacklist statistics unavailable: "+err.Error())
		return out
	}
	out.Expired = stats.Expired
	out.SecurityRelated = stats.SecurityRelated
	if stats.Expired > s.cfg.ExpiredWarnThreshold {
		out.Recommendations = append(out.Recommendations,
			fmt.Sprintf("%d expired entries remain; run cleanup", stats.Expired))
	}
	if stats.SecurityRelated > s.cfg.SecurityWarnThreshold {
		out.Recommendations = append(out.Recommendations,
			fmt.Sprintf("%d security-related revocations; investigate for an ongoing incident", stats.SecurityRelated))
	}
	return out
}
