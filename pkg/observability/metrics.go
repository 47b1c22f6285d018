package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the service's instruments. The zero value is not usable;
// build one with NewMetrics. A nil *Metrics ignores every call.
type Metrics struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter

	sessionsStarted  metric.Int64Counter
	verdicts         metric.Int64Counter
	deliveries       metric.Int64Counter
	deliveryFailures metric.Int64Counter
	leadsIngested    metric.Int64Counter
}

// NewMetrics registers the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.requests, err = meter.Int64Counter("funnel.requests.total",
		metric.WithDescription("Total number of operations processed"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("funnel.errors.total",
		metric.WithDescription("Total number of failed operations"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("funnel.request.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0)); err != nil {
		return nil, err
	}
	if m.active, err = meter.Int64UpDownCounter("funnel.operations.active",
		metric.WithDescription("Number of currently active operations"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	if m.sessionsStarted, err = meter.Int64Counter("funnel.sessions.started",
		metric.WithDescription("Form sessions started"),
		metric.WithUnit("{session}")); err != nil {
		return nil, err
	}
	if m.verdicts, err = meter.Int64Counter("funnel.sessions.verdicts",
		metric.WithDescription("Form sessions that reached a verdict"),
		metric.WithUnit("{session}")); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("funnel.deliveries.total",
		metric.WithDescription("Lead records handed to the ingestion service"),
		metric.WithUnit("{delivery}")); err != nil {
		return nil, err
	}
	if m.deliveryFailures, err = meter.Int64Counter("funnel.deliveries.failed",
		metric.WithDescription("Lead deliveries that failed"),
		metric.WithUnit("{delivery}")); err != nil {
		return nil, err
	}
	if m.leadsIngested, err = meter.Int64Counter("funnel.leads.ingested",
		metric.WithDescription("Lead records accepted by the ingestion service"),
		metric.WithUnit("{lead}")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) SessionStarted(ctx context.Context, funnelID string) {
	if m == nil {
		return
	}
	m.sessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("funnel.id", funnelID)))
}

// Verdict counts a terminal session. reason is empty for qualified leads.
func (m *Metrics) Verdict(ctx context.Context, funnelID, status, reason string) {
	if m == nil {
		return
	}
	m.verdicts.Add(ctx, 1, metric.WithAttributes(VerdictAttributes(funnelID, status, reason)...))
}

// Delivery counts one delivery attempt by kind ("lead" or "partial").
func (m *Metrics) Delivery(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("delivery.kind", kind))
	m.deliveries.Add(ctx, 1, attrs)
	if err != nil {
		m.deliveryFailures.Add(ctx, 1, attrs)
	}
}

// LeadIngested counts a stored lead.
func (m *Metrics) LeadIngested(ctx context.Context, funnelType, status string, duplicate bool) {
	if m == nil {
		return
	}
	m.leadsIngested.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lead.funnel_type", funnelType),
		attribute.String("lead.status", status),
		attribute.Bool("lead.duplicate", duplicate),
	))
}

// VerdictAttributes returns the attributes recorded with a verdict.
func VerdictAttributes(funnelID, status, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("funnel.id", funnelID),
		attribute.String("session.status", status),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("session.reason", reason))
	}
	return attrs
}

// LeadOperation returns span attributes for work on one lead.
func LeadOperation(leadID, funnelType, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("lead.id", leadID),
		attribute.String("lead.funnel_type", funnelType),
		attribute.String("lead.status", status),
	}
}
