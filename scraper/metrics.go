package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the collector step.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	PagesTotal          prometheus.Counter
	ItemsCollectedTotal prometheus.Counter
	DuplicatesTotal     prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "books_collector_requests_total",
			Help: "Catalogue page requests by phase.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "books_collector_request_duration_seconds",
			Help:    "Latency of catalogue page requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "books_collector_pages_total",
			Help: "Catalogue pages that yielded at least one item.",
		},
	)
	items := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "books_collector_items_total",
			Help: "Raw books handed to the normalizer.",
		},
	)
	duplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "books_collector_duplicates_total",
			Help: "Raw books seen more than once within a run. They are kept.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "books_collector_errors_total",
			Help: "Failed page fetches by type.",
		},
		[]string{"error_type"},
	)

	reg.MustRegister(requests, requestDuration, pages, items, duplicates, errorsTotal)

	return &Metrics{
		RequestsTotal:       requests,
		RequestDuration:     requestDuration,
		PagesTotal:          pages,
		ItemsCollectedTotal: items,
		DuplicatesTotal:     duplicates,
		ErrorsTotal:         errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records a page request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) incPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

func (m *Metrics) addItems(n int) {
	if m == nil {
		return
	}
	m.ItemsCollectedTotal.Add(float64(n))
}

func (m *Metrics) incDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
