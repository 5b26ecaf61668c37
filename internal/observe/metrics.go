// Package observe records service metrics through the OpenTelemetry metrics
// API and exposes them to Prometheus scrapers.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/harunnryd/chorus"

// Quota outcomes recorded by RecordQuota.
const (
	QuotaAllowed   = "allowed"
	QuotaRejected  = "rejected"
	QuotaFailed    = "tracking_failed"
	QuotaUnlimited = "unlimited"
)

// Metrics holds the instruments. All fields are safe for concurrent use.
type Metrics struct {
	// ChatRequests counts chat requests by final outcome.
	ChatRequests metric.Int64Counter

	// QuotaDecisions counts quota checks by outcome.
	QuotaDecisions metric.Int64Counter

	// ToolCalls counts tool invocations by tool and status.
	ToolCalls metric.Int64Counter

	ToolDuration metric.Float64Histogram

	// ModelRounds records how many tool rounds a request used.
	ModelRounds metric.Int64Histogram

	// SpeakerChanges counts handoffs by target persona.
	SpeakerChanges metric.Int64Counter

	ActiveStreams metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChatRequests, err = m.Int64Counter("chorus.chat.requests",
		metric.WithDescription("Chat requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.QuotaDecisions, err = m.Int64Counter("chorus.quota.decisions",
		metric.WithDescription("Quota checks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("chorus.tool.calls",
		metric.WithDescription("Tool invocations."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("chorus.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelRounds, err = m.Int64Histogram("chorus.orchestrator.rounds",
		metric.WithDescription("Tool rounds used per request."),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 4, 5, 8, 13),
	); err != nil {
		return nil, err
	}
	if met.SpeakerChanges, err = m.Int64Counter("chorus.speaker.changes",
		metric.WithDescription("Persona handoffs."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("chorus.stream.active",
		metric.WithDescription("Response streams currently open."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("chorus.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func (m *Metrics) RecordChat(ctx context.Context, outcome string) {
	m.ChatRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordQuota(ctx context.Context, outcome string) {
	m.QuotaDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordToolCall has the shape of tool.Observer.
func (m *Metrics) RecordToolCall(ctx context.Context, name string, success bool, elapsed time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", name),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("tool", name)))
}

func (m *Metrics) RecordRounds(ctx context.Context, rounds int, stopReason string) {
	m.ModelRounds.Record(ctx, int64(rounds), metric.WithAttributes(attribute.String("stop_reason", stopReason)))
}

func (m *Metrics) RecordSpeakerChange(ctx context.Context, to string) {
	m.SpeakerChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", to)))
}
