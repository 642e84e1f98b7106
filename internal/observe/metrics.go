// Package observe provides the observability primitives for StudySync:
// OpenTelemetry metrics and tracing, trace-aware logging and HTTP middleware
// for the metrics/health server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format once [InitProvider] has run. [DefaultMetrics] returns a
// process-wide instance bound to the global meter provider; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all StudySync metrics.
const meterName = "github.com/MrWong99/studysync"

// Frame and fragment outcomes used as the "outcome" attribute.
const (
	OutcomeCaptured  = "captured"
	OutcomeSent      = "sent"
	OutcomeDropped   = "dropped"
	OutcomeScheduled = "scheduled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// --- Live conversation ---

	// LiveSessions tracks the number of live conversations currently open.
	LiveSessions metric.Int64UpDownCounter

	// LiveFrames counts microphone frames by outcome (captured, sent,
	// dropped).
	LiveFrames metric.Int64Counter

	// LiveFragments counts received audio fragments by outcome (scheduled,
	// dropped).
	LiveFragments metric.Int64Counter

	// PlaybackCatchUp records how far the playback schedule had fallen
	// behind the output clock when a fragment arrived, in seconds.
	PlaybackCatchUp metric.Float64Histogram

	// SessionErrors counts terminated live sessions by error kind.
	SessionErrors metric.Int64Counter

	// --- One-shot features ---

	// AssistDuration tracks the latency of assist features. Attributes:
	//   attribute.String("feature", ...), attribute.String("status", ...)
	AssistDuration metric.Float64Histogram

	// ProviderDuration tracks provider call latency by provider and kind
	// (llm, tts, stt, image).
	ProviderDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// --- HTTP ---

	// HTTPRequestDuration tracks request latency on the metrics/health server.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers one-shot generation calls, which run from a few
// hundred milliseconds to tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// catchUpBuckets covers playback stalls.
var catchUpBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LiveSessions, err = m.Int64UpDownCounter("studysync.live.sessions",
		metric.WithDescription("Number of open live conversations."),
	); err != nil {
		return nil, err
	}
	if met.LiveFrames, err = m.Int64Counter("studysync.live.frames",
		metric.WithDescription("Microphone frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LiveFragments, err = m.Int64Counter("studysync.live.fragments",
		metric.WithDescription("Received audio fragments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackCatchUp, err = m.Float64Histogram("studysync.live.playback_catch_up",
		metric.WithDescription("Gap between the playback schedule and the output clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(catchUpBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("studysync.live.session_errors",
		metric.WithDescription("Live sessions terminated by an error, by kind."),
	); err != nil {
		return nil, err
	}

	if met.AssistDuration, err = m.Float64Histogram("studysync.assist.duration",
		metric.WithDescription("Latency of assist features."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("studysync.provider.duration",
		metric.WithDescription("Latency of provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("studysync.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("studysync.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("studysync.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame counts one microphone frame with the given outcome.
func (m *Metrics) RecordFrame(ctx context.Context, outcome string) {
	m.LiveFrames.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordFragment counts one received audio fragment with the given outcome.
func (m *Metrics) RecordFragment(ctx context.Context, outcome string) {
	m.LiveFragments.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordSessionError counts a live session that ended with an error of the
// given kind (permission, connection, remote).
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordAssist records the latency and status of one assist feature call.
func (m *Metrics) RecordAssist(ctx context.Context, feature string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AssistDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		Attr("feature", feature),
		Attr("status", status),
	))
}

// RecordProviderRequest records one provider call with its latency and
// status. A non-nil err also increments ProviderErrors.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
	m.ProviderDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}
