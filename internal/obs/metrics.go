package obs

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "poscheck"

// Metrics collects pipeline counters on a private prometheus registry plus lightweight
// latency stats. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	published    *prometheus.CounterVec
	processed    *prometheus.CounterVec
	backpressure *prometheus.CounterVec
	faults       *prometheus.CounterVec
	results      *prometheus.CounterVec
	emissions    *prometheus.CounterVec
	malformed    prometheus.Counter
	primary      prometheus.Gauge

	malformedCount uint64

	publishLatency LatencyStats
	resultLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current latency values.
type Snapshot struct {
	Malformed      uint64          `json:"malformed"`
	PublishLatency LatencySnapshot `json:"publishLatency"`
	ResultLatency  LatencySnapshot `json:"resultLatency"`
}

// NewMetrics allocates the collectors and registers them with a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_events_total",
			Help:      "Events published into a pipeline ring buffer.",
		}, []string{"pipeline"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processed_events_total",
			Help:      "Events processed by a pipeline stage.",
		}, []string{"pipeline", "stage"}),
		backpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_backpressure_waits_total",
			Help:      "Claims that waited for the slowest terminal stage.",
		}, []string{"pipeline"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_faults_total",
			Help:      "Stage faults that halted a pipeline.",
		}, []string{"pipeline"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_results_total",
			Help:      "Ledger results by operation and status.",
		}, []string{"operation", "status"}),
		emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emissions_total",
			Help:      "Outbound emissions by outcome.",
		}, []string{"outcome"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Inbound messages rejected before entering a pipeline.",
		}),
		primary: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "primary",
			Help:      "1 when this instance emits externally.",
		}),
	}
	m.registry.MustRegister(
		m.published,
		m.processed,
		m.backpressure,
		m.faults,
		m.results,
		m.emissions,
		m.malformed,
		m.primary,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// StageCounter returns the processed-events counter of one stage.
func (m *Metrics) StageCounter(pipeline, stage string) prometheus.Counter {
	if m == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: "noop"})
	}
	return m.processed.WithLabelValues(pipeline, stage)
}

// PublishedCounter returns the published-events counter of one pipeline.
func (m *Metrics) PublishedCounter(pipeline string) prometheus.Counter {
	if m == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: "noop"})
	}
	return m.published.WithLabelValues(pipeline)
}

// AddBackpressure records producer waits on a full ring.
func (m *Metrics) AddBackpressure(pipeline string, waits uint64) {
	if m == nil || waits == 0 {
		return
	}
	m.backpressure.WithLabelValues(pipeline).Add(float64(waits))
}

// IncFault records a stage fault.
func (m *Metrics) IncFault(pipeline string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(pipeline).Inc()
}

// IncResult records a ledger outcome.
func (m *Metrics) IncResult(operation, status string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(operation, status).Inc()
}

// EmissionCounter returns the counter of one emission outcome.
func (m *Metrics) EmissionCounter(outcome string) prometheus.Counter {
	if m == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: "noop"})
	}
	return m.emissions.WithLabelValues(outcome)
}

// IncEmission records an outbound emission outcome.
func (m *Metrics) IncEmission(outcome string) {
	if m == nil {
		return
	}
	m.emissions.WithLabelValues(outcome).Inc()
}

// IncMalformed records a message dropped at the boundary.
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
	atomic.AddUint64(&m.malformedCount, 1)
}

// SetPrimary mirrors the failover role.
func (m *Metrics) SetPrimary(primary bool) {
	if m == nil {
		return
	}
	if primary {
		m.primary.Set(1)
		return
	}
	m.primary.Set(0)
}

// ObservePublish measures the delay between payload creation and slot publication.
func (m *Metrics) ObservePublish(d time.Duration) {
	if m == nil {
		return
	}
	m.publishLatency.Observe(d)
}

// ObserveResult measures the delay between request creation and its ledger result.
func (m *Metrics) ObserveResult(d time.Duration) {
	if m == nil {
		return
	}
	m.resultLatency.Observe(d)
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Malformed:      atomic.LoadUint64(&m.malformedCount),
		PublishLatency: m.publishLatency.Snapshot(),
		ResultLatency:  m.resultLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
