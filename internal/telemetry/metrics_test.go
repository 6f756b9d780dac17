package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_RecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter(MeterName))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.TokenIssued(ctx)
	m.TokenIssued(ctx)
	m.TokenRevoked(ctx, "logout")
	m.CleanupRemoved(ctx, "token_blacklist", 0)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				got[md.Name] += dp.Value
			}
		}
	}
	if got["tokens.issued"] != 2 {
		t.Errorf("tokens.issued = %d, want 2", got["tokens.issued"])
	}
	if got["tokens.revoked"] != 1 {
		t.Errorf("tokens.revoked = %d, want 1", got["tokens.revoked"])
	}
	if got["tokens.cleanup_removed"] != 0 {
		t.Errorf("tokens.cleanup_removed = %d, want 0", got["tokens.cleanup_removed"])
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.TokenIssued(ctx)
	m.TokenRejected(ctx, "expired")
	m.SessionCheckFailed(ctx, "hijack")

	def, err := NewMetrics(nil)
	if err != nil || def == nil {
		t.Fatalf("NewMetrics(nil) = %v, %v", def, err)
	}
	def.TokenRefreshed(ctx)
}
