// Package metrics exposes scheduler counters and gauges through Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "segclip"

// Metrics holds the collectors of one clip scheduler.
type Metrics struct {
	ItemsQueued    prometheus.Counter
	LoadsStarted   prometheus.Counter
	LoadFailures   prometheus.Counter
	StaleResults   prometheus.Counter
	LateStarts     prometheus.Counter
	DroppedItems   prometheus.Counter
	Evictions      prometheus.Counter
	MetadataLoads  *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	Loading        prometheus.Gauge
	LateStartDelay prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil registerer
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_queued_total",
			Help:      "Playback items created by start.",
		}),
		LoadsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_started_total",
			Help:      "Buffer acquisitions issued by the window scheduler.",
		}),
		LoadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Buffer acquisitions that returned an error.",
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_total",
			Help:      "Acquisition results discarded because their item was gone.",
		}),
		LateStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_starts_total",
			Help:      "Items started after their scheduled time with the missed lead-in skipped.",
		}),
		DroppedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_items_total",
			Help:      "Items whose buffer arrived after their whole span had passed.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Items torn down by the scheduler, stop or destroy.",
		}),
		MetadataLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_loads_total",
			Help:      "Clip metadata loads by result.",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Playback items currently queued.",
		}),
		Loading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loading",
			Help:      "1 while metadata or any queued item is loading.",
		}),
		LateStartDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "late_start_overshoot_seconds",
			Help:      "Audio skipped at the start of late items.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ItemsQueued, m.LoadsStarted, m.LoadFailures, m.StaleResults,
			m.LateStarts, m.DroppedItems, m.Evictions, m.MetadataLoads,
			m.QueueDepth, m.Loading, m.LateStartDelay,
		)
	}
	return m
}

func (m *Metrics) Queued(n int) {
	if m != nil {
		m.ItemsQueued.Add(float64(n))
	}
}

func (m *Metrics) LoadStarted() {
	if m != nil {
		m.LoadsStarted.Inc()
	}
}

func (m *Metrics) LoadFailed() {
	if m != nil {
		m.LoadFailures.Inc()
	}
}

func (m *Metrics) StaleResult() {
	if m != nil {
		m.StaleResults.Inc()
	}
}

// LateStart records a compensated start that skipped overshoot seconds.
func (m *Metrics) LateStart(overshoot float64) {
	if m != nil {
		m.LateStarts.Inc()
		m.LateStartDelay.Observe(overshoot)
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.DroppedItems.Inc()
	}
}

func (m *Metrics) Evicted(n int) {
	if m != nil {
		m.Evictions.Add(float64(n))
	}
}

// MetadataLoaded records a metadata load outcome.
func (m *Metrics) MetadataLoaded(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MetadataLoads.WithLabelValues(result).Inc()
}

// SetQueue publishes the queue depth and loading flag.
func (m *Metrics) SetQueue(depth int, loading bool) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	if loading {
		m.Loading.Set(1)
	} else {
		m.Loading.Set(0)
	}
}
