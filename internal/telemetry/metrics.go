package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Collectors the engine updates. A nil *Metrics is
// valid everywhere it's threaded through (lattice.Open passes nil to the
// coordinator): every method is a no-op guard so tests never register a
// global collector unless a host opts in.
type Metrics struct {
	AllocBytesTotal       prometheus.Counter
	FreeSpaceState        prometheus.Gauge // 0=Clean 1=Dirty 2=Invalid, mirrors §4.3
	CommitsTotal          prometheus.Counter
	NotifierRunSeconds    prometheus.Histogram
	ClientResetTotal      *prometheus.CounterVec
}

var registerOnce sync.Once

// NewMetrics builds and registers the standard Collector set against reg.
// Pass prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer for a host process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AllocBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_alloc_bytes_total",
			Help: "Total bytes handed out by the slab allocator.",
		}),
		FreeSpaceState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lattice_free_space_state",
			Help: "Allocator free-space state: 0=Clean 1=Dirty 2=Invalid.",
		}),
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_commits_total",
			Help: "Total write transactions committed.",
		}),
		NotifierRunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lattice_notifier_run_seconds",
			Help:    "Wall time spent running a notifier cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		ClientResetTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_client_reset_total",
			Help: "Client resets performed, labeled by mode.",
		}, []string{"mode"}),
	}
	if reg != nil {
		reg.MustRegister(m.AllocBytesTotal, m.FreeSpaceState, m.CommitsTotal, m.NotifierRunSeconds, m.ClientResetTotal)
	}
	return m
}

func (m *Metrics) AddAllocBytes(n int) {
	if m == nil {
		return
	}
	m.AllocBytesTotal.Add(float64(n))
}

func (m *Metrics) SetFreeSpaceState(state int) {
	if m == nil {
		return
	}
	m.FreeSpaceState.Set(float64(state))
}

func (m *Metrics) IncCommits() {
	if m == nil {
		return
	}
	m.CommitsTotal.Inc()
}

func (m *Metrics) ObserveNotifierRun(seconds float64) {
	if m == nil {
		return
	}
	m.NotifierRunSeconds.Observe(seconds)
}

func (m *Metrics) IncClientReset(mode string) {
	if m == nil {
		return
	}
	m.ClientResetTotal.WithLabelValues(mode).Inc()
}
