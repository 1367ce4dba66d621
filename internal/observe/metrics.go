// Package observe provides application-wide observability primitives for
// corona: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all corona metrics.
const meterName = "github.com/nyxveil/corona"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per subsystem ---

	// SyncTransitionDuration tracks the time a sync manager transition takes
	// from prepare to apply.
	SyncTransitionDuration metric.Float64Histogram

	// TaskDuration tracks task execution latency from admission to terminal
	// state.
	TaskDuration metric.Float64Histogram

	// AutonomyCycleDuration tracks a single autonomy decision cycle tick.
	AutonomyCycleDuration metric.Float64Histogram

	// PortCallDuration tracks the latency of calls through an external port
	// (emotion, voice, recognizer, context, service).
	PortCallDuration metric.Float64Histogram

	// --- Counters ---

	// TasksSubmitted counts tasks submitted to the scheduler. Use with
	// attributes: attribute.String("kind", ...), attribute.String("priority", ...)
	TasksSubmitted metric.Int64Counter

	// TasksRejected counts task submissions rejected by admission control.
	// Use with attribute: attribute.String("reason", ...)
	TasksRejected metric.Int64Counter

	// TasksCompleted counts tasks that reached a terminal state. Use with
	// attribute: attribute.String("state", ...)
	TasksCompleted metric.Int64Counter

	// SyncTransitions counts state transitions requested of the sync
	// manager. Use with attribute: attribute.String("result", ...)
	SyncTransitions metric.Int64Counter

	// SyncCorrections counts drift corrections applied by the sync manager.
	// Use with attribute: attribute.String("kind", ...)
	SyncCorrections metric.Int64Counter

	// AutonomyDecisions counts decisions dispatched by the autonomy cycle.
	// Use with attribute: attribute.String("action", ...)
	AutonomyDecisions metric.Int64Counter

	// --- Error counters ---

	// PortErrors counts port call errors. Use with attributes:
	//   attribute.String("port", ...), attribute.String("op", ...)
	PortErrors metric.Int64Counter

	// --- Gauges ---

	// RunningTasks tracks the number of tasks currently executing.
	RunningTasks metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live sessions under the session
	// integrator.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds).
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SyncTransitionDuration, err = m.Float64Histogram("corona.sync.transition.duration",
		metric.WithDescription("Latency of a sync manager state transition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TaskDuration, err = m.Float64Histogram("corona.task.duration",
		metric.WithDescription("Task execution latency from admission to terminal state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AutonomyCycleDuration, err = m.Float64Histogram("corona.autonomy.cycle.duration",
		metric.WithDescription("Latency of a single autonomy decision cycle tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PortCallDuration, err = m.Float64Histogram("corona.port.call.duration",
		metric.WithDescription("Latency of calls through an external port."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TasksSubmitted, err = m.Int64Counter("corona.tasks.submitted",
		metric.WithDescription("Total tasks submitted to the scheduler by kind and priority."),
	); err != nil {
		return nil, err
	}
	if met.TasksRejected, err = m.Int64Counter("corona.tasks.rejected",
		metric.WithDescription("Total task submissions rejected by admission control."),
	); err != nil {
		return nil, err
	}
	if met.TasksCompleted, err = m.Int64Counter("corona.tasks.completed",
		metric.WithDescription("Total tasks reaching a terminal state, by state."),
	); err != nil {
		return nil, err
	}
	if met.SyncTransitions, err = m.Int64Counter("corona.sync.transitions",
		metric.WithDescription("Total state transitions requested of the sync manager, by result."),
	); err != nil {
		return nil, err
	}
	if met.SyncCorrections, err = m.Int64Counter("corona.sync.corrections",
		metric.WithDescription("Total drift corrections applied by the sync manager, by kind."),
	); err != nil {
		return nil, err
	}
	if met.AutonomyDecisions, err = m.Int64Counter("corona.autonomy.decisions",
		metric.WithDescription("Total decisions dispatched by the autonomy cycle, by action."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PortErrors, err = m.Int64Counter("corona.port.errors",
		metric.WithDescription("Total port call errors by port and operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.RunningTasks, err = m.Int64UpDownCounter("corona.tasks.running",
		metric.WithDescription("Number of tasks currently executing."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("corona.active_sessions",
		metric.WithDescription("Number of live sessions under the session integrator."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("corona.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTaskSubmitted is a convenience method that records a task submission
// counter increment with the standard attribute set.
func (m *Metrics) RecordTaskSubmitted(ctx context.Context, kind, priority string) {
	m.TasksSubmitted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("priority", priority),
		),
	)
}

// RecordTaskRejected is a convenience method that records a task rejection
// counter increment.
func (m *Metrics) RecordTaskRejected(ctx context.Context, reason string) {
	m.TasksRejected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTaskCompleted is a convenience method that records a task completion
// counter increment.
func (m *Metrics) RecordTaskCompleted(ctx context.Context, state string) {
	m.TasksCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// RecordSyncTransition is a convenience method that records a sync manager
// transition counter increment.
func (m *Metrics) RecordSyncTransition(ctx context.Context, result string) {
	m.SyncTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordAutonomyDecision is a convenience method that records an autonomy
// decision counter increment.
func (m *Metrics) RecordAutonomyDecision(ctx context.Context, action string) {
	m.AutonomyDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordPortError is a convenience method that records a port error counter
// increment.
func (m *Metrics) RecordPortError(ctx context.Context, port, op string) {
	m.PortErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("port", port),
			attribute.String("op", op),
		),
	)
}
