package pipeline

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cognicore/notestatus/pkg/notestatus/result"
)

// Metrics exposes run counters. Counters are filled from the per-lane
// accumulators once all lanes have finished; only adapter latency is
// observed while lanes run. A nil *Metrics records nothing.
type Metrics struct {
	Documents      *prometheus.CounterVec
	Segments       *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	AdapterLatency prometheus.Histogram
}

// Failure kinds used as the "kind" label.
const (
	FailureAdapter   = "adapter"
	FailureMalformed = "malformed"
)

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notestatus",
			Name:      "documents_total",
			Help:      "Notes processed, by lane.",
		}, []string{"lane"}),
		Segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notestatus",
			Name:      "segments_total",
			Help:      "Segments sent to the annotation adapter, by lane.",
		}, []string{"lane"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notestatus",
			Name:      "recovered_failures_total",
			Help:      "Segments that defaulted to status U, by lane and failure kind.",
		}, []string{"lane", "kind"}),
		AdapterLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "notestatus",
			Name:      "adapter_call_seconds",
			Help:      "Duration of annotation adapter calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Documents, m.Segments, m.Failures, m.AdapterLatency)
	}
	return m
}

func (m *Metrics) observeCall(d time.Duration) {
	if m == nil {
		return
	}
	m.AdapterLatency.Observe(d.Seconds())
}

func (m *Metrics) recordLane(lane int, s result.Stats) {
	if m == nil {
		return
	}
	l := strconv.Itoa(lane)
	m.Documents.WithLabelValues(l).Add(float64(s.Documents))
	m.Segments.WithLabelValues(l).Add(float64(s.Segments))
	m.Failures.WithLabelValues(l, FailureAdapter).Add(float64(s.AdapterFailures))
	m.Failures.WithLabelValues(l, FailureMalformed).Add(float64(s.Malformed))
}
