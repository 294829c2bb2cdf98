// Package pipeline runs the fetch, transform and save steps of the books ETL
// in a fixed order, handing each step's output to the next.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/books-etl/models"
	"github.com/aluiziolira/books-etl/parser"
	"github.com/aluiziolira/books-etl/scraper"
)

// Pipeline and step identifiers.
const (
	Name          = "books_pipeline_dag"
	StepFetch     = "fetch_book_data"
	StepTransform = "transform_books_data"
	StepSave      = "save_books_data"

	// Names of the hand-off slots between steps.
	KeyRawBooks     = "raw_book_data"
	KeyCleanedBooks = "cleaned_book_data"
)

// Tags categorise the pipeline. They have no behavioural effect.
var Tags = []string{"etl", "books"}

// ErrUpstreamEmpty marks a step skipped because its predecessor produced nothing.
var ErrUpstreamEmpty = errors.New("upstream step produced no data")

// PersistenceError is the only failure that aborts a run.
type PersistenceError struct {
	Step string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// State is a position in the linear run lifecycle.
type State int

const (
	StateCollecting State = iota
	StateNormalizing
	StatePersisting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateNormalizing:
		return "normalizing"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Collector gathers raw books from the source.
type Collector interface {
	Collect(ctx context.Context, target int) *scraper.Collection
}

// Persister appends normalized books to the store.
type Persister interface {
	Persist(ctx context.Context, books []models.Book) (int, error)
}

// Runner executes one pipeline run per Run call. Runs never retry.
type Runner struct {
	collector Collector
	persister Persister
	exporter  Exporter
	metrics   *Metrics
	sample    int
}

// Option configures a Runner.
type Option func(*Runner)

// WithExporter snapshots every normalized batch to e.
func WithExporter(e Exporter) Option {
	return func(r *Runner) { r.exporter = e }
}

// WithMetrics records step metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithSampleSize sets how many cleaned rows are logged at debug level.
func WithSampleSize(n int) Option {
	return func(r *Runner) { r.sample = n }
}

// NewRunner wires the collector and persister into a runner.
func NewRunner(collector Collector, persister Persister, opts ...Option) *Runner {
	r := &Runner{
		collector: collector,
		persister: persister,
		sample:    5,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes fetch, transform and save in order. Empty input turns the
// remaining steps into logged no-ops; only a persistence failure is returned
// as an error, together with the partially filled result.
func (r *Runner) Run(ctx context.Context, target int) (*models.RunResult, error) {
	start := time.Now()
	result := &models.RunResult{
		RunID:     "manual__" + start.UTC().Format(time.RFC3339),
		Pipeline:  Name,
		Tags:      append([]string(nil), Tags...),
		Status:    models.StepPending,
		StartTime: start,
	}
	log := slog.With(slog.String("pipeline", Name), slog.String("run_id", result.RunID))
	log.Info("pipeline run started", slog.Int("target", target))

	r.enter(result, StateCollecting)
	stepStart := time.Now()
	collection := r.collector.Collect(ctx, target)
	raw := collection.Books
	result.Collected = len(raw)
	result.PageCount = collection.Pages
	result.StopReason = collection.StopReason
	r.finishStep(result, StepFetch, models.StepSuccess, len(raw), collection.StopReason, stepStart)
	log.Debug("step output", slog.String("key", KeyRawBooks), slog.Int("items", len(raw)))

	r.enter(result, StateNormalizing)
	stepStart = time.Now()
	var cleaned []models.Book
	if len(raw) == 0 {
		log.Warn("no data to transform", slog.String("step", StepTransform))
		r.finishStep(result, StepTransform, models.StepSkipped, 0, ErrUpstreamEmpty.Error(), stepStart)
	} else {
		cleaned = parser.Normalize(raw)
		result.Normalized = len(cleaned)
		r.logSample(log, cleaned)
		r.export(log, cleaned)
		r.finishStep(result, StepTransform, models.StepSuccess, len(cleaned), "", stepStart)
		log.Debug("step output", slog.String("key", KeyCleanedBooks), slog.Int("items", len(cleaned)))
	}

	r.enter(result, StatePersisting)
	stepStart = time.Now()
	if len(cleaned) == 0 {
		log.Warn("no data to load", slog.String("step", StepSave))
		r.finishStep(result, StepSave, models.StepSkipped, 0, ErrUpstreamEmpty.Error(), stepStart)
	} else {
		written, err := r.persister.Persist(ctx, cleaned)
		if err != nil {
			r.finishStep(result, StepSave, models.StepFailed, 0, err.Error(), stepStart)
			r.enter(result, StateFailed)
			r.finish(result, models.StepFailed)
			log.Error("pipeline run failed", slog.String("step", StepSave), slog.Any("error", err))
			return result, &PersistenceError{Step: StepSave, Err: err}
		}
		result.Persisted = written
		r.metrics.addRows(written)
		r.finishStep(result, StepSave, models.StepSuccess, written, "", stepStart)
	}

	r.enter(result, StateDone)
	r.finish(result, models.StepSuccess)
	log.Info("pipeline run finished",
		slog.Int("collected", result.Collected),
		slog.Int("persisted", result.Persisted),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
	return result, nil
}

func (r *Runner) enter(result *models.RunResult, s State) {
	result.States = append(result.States, s.String())
	slog.Debug("pipeline state", slog.String("state", s.String()))
}

func (r *Runner) finishStep(result *models.RunResult, name string, status models.StepStatus, items int, note string, start time.Time) {
	d := time.Since(start)
	result.Steps = append(result.Steps, models.StepResult{
		Name:     name,
		Status:   status,
		Items:    items,
		Note:     note,
		Duration: d,
	})
	r.metrics.observeStep(name, d, items)
}

func (r *Runner) finish(result *models.RunResult, status models.StepStatus) {
	result.Status = status
	result.EndTime = time.Now()
	r.metrics.incRun(string(status))
}

func (r *Runner) logSample(log *slog.Logger, books []models.Book) {
	n := min(r.sample, len(books))
	for i := 0; i < n; i++ {
		log.Debug("cleaned sample",
			slog.Int("row", i),
			slog.String("title", books[i].Title),
			slog.String("price", books[i].Price.String()),
			slog.Int("rating", int(books[i].Rating)),
		)
	}
}

func (r *Runner) export(log *slog.Logger, books []models.Book) {
	if r.exporter == nil {
		return
	}
	if err := r.exporter.Write(books); err != nil {
		log.Warn("export snapshot failed", slog.Any("error", err))
	}
}
