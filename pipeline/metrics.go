package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for pipeline runs.
type Metrics struct {
	StepDuration  *prometheus.HistogramVec
	StepItems     *prometheus.CounterVec
	RowsPersisted prometheus.Counter
	RunsTotal     *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "books_pipeline_step_duration_seconds",
			Help:    "Wall time spent in each pipeline step.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)
	stepItems := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "books_pipeline_step_items_total",
			Help: "Items produced by each pipeline step.",
		},
		[]string{"step"},
	)
	rows := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "books_pipeline_rows_persisted_total",
			Help: "Rows appended to the books table.",
		},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "books_pipeline_runs_total",
			Help: "Pipeline runs by terminal status.",
		},
		[]string{"status"},
	)

	reg.MustRegister(stepDuration, stepItems, rows, runs)

	return &Metrics{
		StepDuration:  stepDuration,
		StepItems:     stepItems,
		RowsPersisted: rows,
		RunsTotal:     runs,
	}
}

func (m *Metrics) observeStep(step string, d time.Duration, items int) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
	m.StepItems.WithLabelValues(step).Add(float64(items))
}

func (m *Metrics) addRows(n int) {
	if m == nil {
		return
	}
	m.RowsPersisted.Add(float64(n))
}

func (m *Metrics) incRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}
