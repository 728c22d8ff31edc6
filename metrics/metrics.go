package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rose_market"

// Metrics holds the client's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	actions        *prometheus.CounterVec
	tick           prometheus.Gauge
	refreshSeconds *prometheus.HistogramVec
	refreshErrors  *prometheus.CounterVec
	superseded     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Mutating actions by terminal status.",
		}, []string{"action", "status"}),
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_tick",
			Help:      "Current refresh tick.",
		}),
		refreshSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time to settle one cache reload batch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view"}),
		refreshErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_errors_total",
			Help:      "Reload batches discarded because a read failed.",
		}, []string{"view"}),
		superseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_superseded_total",
			Help:      "Reload batches dropped because a newer trigger arrived.",
		}, []string{"view"}),
	}
	m.Registry.MustRegister(m.actions, m.tick, m.refreshSeconds, m.refreshErrors, m.superseded)
	return m
}

func (m *Metrics) ObserveAction(action, status string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, status).Inc()
}

func (m *Metrics) SetTick(tick uint64) {
	if m == nil {
		return
	}
	m.tick.Set(float64(tick))
}

func (m *Metrics) ObserveRefresh(view string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshSeconds.WithLabelValues(view).Observe(d.Seconds())
}

func (m *Metrics) RefreshFailed(view string) {
	if m == nil {
		return
	}
	m.refreshErrors.WithLabelValues(view).Inc()
}

func (m *Metrics) Superseded(view string) {
	if m == nil {
		return
	}
	m.superseded.WithLabelValues(view).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
