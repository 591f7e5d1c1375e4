package metrics

import "github.com/prometheus/client_golang/prometheus"

// FrontDeskMetrics exposes counters and histograms for the queue, the
// reconciliation sweep and the HTTP surface. A nil receiver records nothing.
type FrontDeskMetrics struct {
	operationsTotal *prometheus.CounterVec
	queueIssued     *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	sweepItems      *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *FrontDeskMetrics {
	m := &FrontDeskMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		queueIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "queue",
			Name:      "numbers_issued_total",
			Help:      "Queue numbers issued by appointment type",
		}, []string{"appointment_type"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation sweeps by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "reconcile",
			Name:      "items_total",
			Help:      "Records changed or skipped by reconciliation",
		}, []string{"kind"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "frontdesk",
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of reconciliation sweeps",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status",
		}, []string{"method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "frontdesk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.operationsTotal,
		m.queueIssued,
		m.sweepRuns,
		m.sweepItems,
		m.sweepDuration,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

func (m *FrontDeskMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *FrontDeskMetrics) ObserveQueueNumber(appointmentType string) {
	if m == nil {
		return
	}
	m.queueIssued.WithLabelValues(appointmentType).Inc()
}

func (m *FrontDeskMetrics) ObserveSweep(trigger string, seconds float64, completed, missed, failed int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.sweepRuns.WithLabelValues(trigger, outcome).Inc()
	m.sweepDuration.Observe(seconds)
	m.sweepItems.WithLabelValues("completed").Add(float64(completed))
	m.sweepItems.WithLabelValues("missed").Add(float64(missed))
	m.sweepItems.WithLabelValues("failed").Add(float64(failed))
}

func (m *FrontDeskMetrics) ObserveHTTP(method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
	m.httpLatency.WithLabelValues(method).Observe(seconds)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
