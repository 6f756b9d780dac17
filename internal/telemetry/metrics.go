package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope for token lifecycle metrics.
const MeterName = "token-lifecycle/tokens"

// Metrics holds the token lifecycle counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	issued          metric.Int64Counter
	refreshed       metric.Int64Counter
	revoked         metric.Int64Counter
	rejected        metric.Int64Counter
	reuseDetected   metric.Int64Counter
	evicted         metric.Int64Counter
	cleanupRemoved  metric.Int64Counter
	sessionFailures metric.Int64Counter
}

// NewMetrics registers the counters on meter. A nil meter uses a no-op meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}
	m := &Metrics{}
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.issued, "tokens.issued", "Token pairs issued."},
		{&m.refreshed, "tokens.refreshed", "Refresh token rotations."},
		{&m.revoked, "tokens.revoked", "Tokens revoked, by reason."},
		{&m.rejected, "tokens.rejected", "Token validations rejected, by cause."},
		{&m.reuseDetected, "tokens.refresh_reuse", "Rotated-out refresh tokens presented again."},
		{&m.evicted, "tokens.limit_evictions", "Refresh tokens revoked by the per-user limit."},
		{&m.cleanupRemoved, "tokens.cleanup_removed", "Rows removed by maintenance, by table."},
		{&m.sessionFailures, "sessions.check_failures", "Browser session checks that failed, by cause."},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) TokenIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.issued.Add(ctx, 1)
}

func (m *Metrics) TokenRefreshed(ctx context.Context) {
	if m == nil {
		return
	}
	m.refreshed.Add(ctx, 1)
}

func (m *Metrics) TokenRevoked(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.revoked.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) TokenRejected(ctx context.Context, cause string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

func (m *Metrics) RefreshReuse(ctx context.Context) {
	if m == nil {
		return
	}
	m.reuseDetected.Add(ctx, 1)
}

func (m *Metrics) LimitEviction(ctx context.Context) {
	if m == nil {
		return
	}
	m.evicted.Add(ctx, 1)
}

func (m *Metrics) CleanupRemoved(ctx context.Context, table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupRemoved.Add(ctx, n, metric.WithAttributes(attribute.String("table", table)))
}

func (m *Metrics) SessionCheckFailed(ctx context.Context, cause string) {
	if m == nil {
		return
	}
	m.sessionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}
