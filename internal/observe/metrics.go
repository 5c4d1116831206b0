// Package observe holds the OpenTelemetry metric instruments for the capture
// pipeline and the Prometheus bridge that serves them on /metrics.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider]; production code uses [NewProvider].
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/petems/voxgate"

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture loop ---

	// FramesCaptured counts frames read from the source.
	FramesCaptured metric.Int64Counter

	// FramesRetained counts frames kept by the gate.
	FramesRetained metric.Int64Counter

	// FrameProcessing tracks suppress + gate time per frame.
	FrameProcessing metric.Float64Histogram

	// CaptureErrors counts faults. Use with attribute.String("kind", ...).
	CaptureErrors metric.Int64Counter

	// EventsDropped counts events discarded because the queue was full.
	EventsDropped metric.Int64Counter

	// ActiveSessions is 1 while a session is running.
	ActiveSessions metric.Int64UpDownCounter

	// --- Utterances ---

	// Utterances counts finalised utterances. Use with
	// attribute.String("reason", ...).
	Utterances metric.Int64Counter

	// UtteranceDuration tracks the audio length of each utterance.
	UtteranceDuration metric.Float64Histogram

	// --- Transcription ---

	// TranscribeDuration tracks transcription latency.
	TranscribeDuration metric.Float64Histogram

	// TranscribeErrors counts failed transcriptions.
	TranscribeErrors metric.Int64Counter
}

// frameBuckets are in seconds and sized around a 32 ms frame period.
var frameBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.032, 0.064,
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("voxgate.capture.frames",
		metric.WithDescription("Frames read from the capture source."),
	); err != nil {
		return nil, err
	}
	if met.FramesRetained, err = m.Int64Counter("voxgate.capture.frames_retained",
		metric.WithDescription("Frames retained by the voice activity gate."),
	); err != nil {
		return nil, err
	}
	if met.FrameProcessing, err = m.Float64Histogram("voxgate.capture.frame_processing.duration",
		metric.WithDescription("Noise suppression and gating time per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("voxgate.capture.errors",
		metric.WithDescription("Capture faults by kind."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("voxgate.capture.events_dropped",
		metric.WithDescription("Events dropped because the control queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.capture.active_sessions",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("voxgate.utterances",
		metric.WithDescription("Finalised utterances by reason."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("voxgate.utterance.duration",
		metric.WithDescription("Audio length of finalised utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TranscribeDuration, err = m.Float64Histogram("voxgate.transcribe.duration",
		metric.WithDescription("Latency of utterance transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeErrors, err = m.Int64Counter("voxgate.transcribe.errors",
		metric.WithDescription("Failed transcriptions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordCaptureError counts one fault of the given kind.
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordUtterance counts an utterance and observes its length.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.UtteranceDuration.Record(ctx, seconds)
}
