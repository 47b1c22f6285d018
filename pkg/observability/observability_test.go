package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "commercial-mva-funnel", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NotNil(t, p.Metrics())

	ctx, finish := p.TrackOperation(context.Background(), "session.answer")
	require.NotNil(t, ctx)
	finish(errors.New("boom"))

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNilMetricsIgnoresCalls(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.SessionStarted(ctx, "f")
	m.Verdict(ctx, "f", "Qualified", "")
	m.Delivery(ctx, "lead", errors.New("x"))
	m.LeadIngested(ctx, "CommercialMVA", "Qualified", false)
}

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestMetricsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.SessionStarted(ctx, "commercial-mva")
	m.SessionStarted(ctx, "commercial-mva")
	m.Verdict(ctx, "commercial-mva", "Disqualified", "USER_AT_FAULT")
	m.Delivery(ctx, "lead", nil)
	m.Delivery(ctx, "lead", errors.New("timeout"))
	m.LeadIngested(ctx, "CommercialMVA", "Qualified", false)

	got := collect(t, reader)
	assert.Equal(t, int64(2), got["funnel.sessions.started"])
	assert.Equal(t, int64(1), got["funnel.sessions.verdicts"])
	assert.Equal(t, int64(2), got["funnel.deliveries.total"])
	assert.Equal(t, int64(1), got["funnel.deliveries.failed"])
	assert.Equal(t, int64(1), got["funnel.leads.ingested"])
}

func TestVerdictAttributes(t *testing.T) {
	attrs := VerdictAttributes("commercial-mva", "Qualified", "")
	require.Len(t, attrs, 2)
	attrs = VerdictAttributes("commercial-mva", "Disqualified", "CLAIM_TOO_OLD")
	require.Len(t, attrs, 3)
	assert.Equal(t, "session.reason", string(attrs[2].Key))
	assert.Equal(t, "CLAIM_TOO_OLD", attrs[2].Value.AsString())
}
