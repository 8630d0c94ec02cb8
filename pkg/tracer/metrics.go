package tracer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "jtrace"
	metricsSubsystem = "engine"
)

// Flush destinations, used as the destination label.
const (
	DestinationReceiver = "receiver"
	DestinationFile     = "file"
	DestinationDefault  = "default"
)

// Metrics are the engine counters.
type Metrics struct {
	StepsCaptured     prometheus.Counter
	StepsDeduplicated prometheus.Counter
	StepsFiltered     prometheus.Counter
	Sessions          prometheus.Counter
	// HostErrors labels: op (the host primitive that failed).
	HostErrors *prometheus.CounterVec
	// Flushes labels: destination (receiver, file, default).
	Flushes    *prometheus.CounterVec
	FlushSteps prometheus.Histogram
}

// NewMetrics creates the engine metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StepsCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "steps_captured_total",
			Help:      "Snapshots appended to the trace buffer",
		}),
		StepsDeduplicated: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "steps_deduplicated_total",
			Help:      "Snapshots dropped as repeats of the previous one",
		}),
		StepsFiltered: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "steps_filtered_total",
			Help:      "Step events in classes excluded from tracing",
		}),
		Sessions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sessions_total",
			Help:      "Trace sessions started",
		}),
		HostErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "host_errors_total",
			Help:      "Failed introspection host calls by operation",
		}, []string{"op"}),
		Flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "flushes_total",
			Help:      "Documents emitted by destination",
		}, []string{"destination"}),
		FlushSteps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "flush_steps",
			Help:      "Steps per emitted document",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}
