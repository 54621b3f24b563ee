package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduling engine collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	SlotQueries      *prometheus.CounterVec
	SlotQueryLatency prometheus.Histogram
	Admissions       *prometheus.CounterVec
	AdmissionLatency prometheus.Histogram
	AdmissionRetries prometheus.Counter
	Transitions      *prometheus.CounterVec
	CascadePreviews  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		SlotQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_queries_total",
			Help:      "Total number of slot availability computations",
		}, []string{"status"}),
		SlotQueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_query_duration_seconds",
			Help:      "Time spent computing slot availability",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Booking admission attempts by outcome reason code",
		}, []string{"outcome"}),
		AdmissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Time spent admitting a booking, including lock wait",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		AdmissionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_retries_total",
			Help:      "Admission attempts retried after a transient store fault",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Reservation status transitions",
		}, []string{"from", "to", "outcome"}),
		CascadePreviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_calculations_total",
			Help:      "Cascade effect calculations by capacity change",
		}, []string{"change"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SlotQueries,
			m.SlotQueryLatency,
			m.Admissions,
			m.AdmissionLatency,
			m.AdmissionRetries,
			m.Transitions,
			m.CascadePreviews,
		)
	}
	return m
}

func (m *Metrics) ObserveSlotQuery(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SlotQueries.WithLabelValues(status).Inc()
	m.SlotQueryLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveAdmission(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(outcome).Inc()
	m.AdmissionLatency.Observe(d.Seconds())
}

func (m *Metrics) IncAdmissionRetry() {
	if m == nil {
		return
	}
	m.AdmissionRetries.Inc()
}

func (m *Metrics) IncTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to, outcome).Inc()
}

func (m *Metrics) IncCascade(change string) {
	if m == nil {
		return
	}
	m.CascadePreviews.WithLabelValues(change).Inc()
}
