// Package pipeline runs one catalog reconciliation pass: render the listing
// page, enumerate item nodes, extract each one and upsert it into the
// catalog. A failing item is skipped; only a fetch failure ends the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/catalogd/internal/catalog"
	"github.com/jmylchreest/catalogd/internal/extract"
	"github.com/jmylchreest/catalogd/internal/logger"
	"github.com/jmylchreest/catalogd/internal/render"
)

var (
	// ErrFetch marks a run that could not load its listing page. It is the
	// only failure that ends a run early.
	ErrFetch = errors.New("fetch failed")
	// ErrRunInProgress is returned when Run is called while another run on
	// the same Runner is active.
	ErrRunInProgress = errors.New("catalog run already in progress")
)

// ReconcileError wraps a store failure for one item.
type ReconcileError struct {
	ExternalID string
	Err        error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.ExternalID, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// State is a run phase.
type State string

const (
	StateIdle        State = "IDLE"
	StateFetching    State = "FETCHING"
	StateEnumerating State = "ENUMERATING"
	StateExtracting  State = "EXTRACTING"
	StateReconciling State = "RECONCILING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Config describes what a run scrapes.
type Config struct {
	TargetURL         string
	SettleDelay       time.Duration
	NavigationTimeout time.Duration
	ItemSelector      string
	NextPageSelector  string // Empty disables pagination
	MaxPages          int    // Listing pages per run (<= 0 means 1)
}

// Report summarizes a finished run.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	State      State     `json:"state" yaml:"state"`
	Engine     string    `json:"engine" yaml:"engine"`
	TargetURL  string    `json:"target_url" yaml:"target_url"`
	Pages      int       `json:"pages" yaml:"pages"`
	Found      int       `json:"found" yaml:"found"`
	Created    int       `json:"created" yaml:"created"`
	Updated    int       `json:"updated" yaml:"updated"`
	Unchanged  int       `json:"unchanged" yaml:"unchanged"`
	Skipped    int       `json:"skipped" yaml:"skipped"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Reconciled is the number of items that reached the catalog.
func (r Report) Reconciled() int {
	return r.Created + r.Updated + r.Unchanged
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Runner executes runs. One Runner allows one active run at a time.
type Runner struct {
	config    Config
	launcher  render.Launcher
	extractor *extract.Extractor
	store     catalog.Store
	log       *slog.Logger

	running atomic.Bool
	mu      sync.Mutex
	state   State
}

// New creates a Runner.
func New(cfg Config, launcher render.Launcher, extractor *extract.Extractor, store catalog.Store) *Runner {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &Runner{
		config:    cfg,
		launcher:  launcher,
		extractor: extractor,
		store:     store,
		log:       logger.Component("pipeline"),
		state:     StateIdle,
	}
}

// State returns the phase of the current run, or the final state of the last one.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run performs one reconciliation pass. The returned error is non-nil only
// when the run failed (ErrFetch) or could not start (ErrRunInProgress); item
// failures are counted in Report.Skipped.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	report := Report{
		RunID:     uuid.NewString(),
		Engine:    r.launcher.Name(),
		TargetURL: r.config.TargetURL,
		StartedAt: time.Now().UTC(),
	}
	log := r.log.With("run_id", report.RunID)
	log.Info("catalog run started", "url", r.config.TargetURL, "engine", report.Engine)

	r.setState(StateFetching)
	browser, err := r.launcher.Launch(ctx)
	if err != nil {
		return r.fail(log, report, fmt.Errorf("%w: launch %s: %w", ErrFetch, report.Engine, err))
	}

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			if err := browser.Close(); err != nil {
				log.Warn("browser release failed", "error", err)
				return
			}
			log.Debug("browser released")
		})
	}
	defer release()

	queue := newPageQueue()
	queue.add(r.config.TargetURL)
	for report.Pages < r.config.MaxPages {
		pageURL, ok := queue.pop()
		if !ok {
			break
		}

		r.setState(StateFetching)
		doc, err := browser.Load(ctx, pageURL, render.LoadOptions{
			Timeout:      r.config.NavigationTimeout,
			SettleDelay:  r.config.SettleDelay,
			ItemSelector: r.config.ItemSelector,
		})
		if err != nil {
			release()
			return r.fail(log, report, fmt.Errorf("%w: load %s: %w", ErrFetch, pageURL, err))
		}
		report.Pages++

		r.setState(StateEnumerating)
		items := doc.Items(r.config.ItemSelector)
		report.Found += len(items)
		log.Info("items enumerated", "page", pageURL, "count", len(items))

		for i, item := range items {
			r.process(ctx, log, doc, i, item, &report)
		}

		if next, ok := nextPage(doc, r.config.NextPageSelector); ok && queue.add(next) {
			log.Debug("next listing page queued", "url", next, "pending", queue.len())
		}
	}

	release()
	report.State = StateDone
	report.FinishedAt = time.Now().UTC()
	r.setState(StateDone)
	log.Info("catalog run finished",
		"pages", report.Pages,
		"found", report.Found,
		"created", report.Created,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"skipped", report.Skipped,
		"duration", report.Duration().Round(time.Millisecond))
	return report, nil
}

func (r *Runner) fail(log *slog.Logger, report Report, err error) (Report, error) {
	report.State = StateFailed
	report.Error = err.Error()
	report.FinishedAt = time.Now().UTC()
	r.setState(StateFailed)
	log.Error("catalog run failed",
		"error", err,
		"found", report.Found,
		"reconciled", report.Reconciled(),
		"skipped", report.Skipped,
		"duration", report.Duration().Round(time.Millisecond))
	return report, err
}

// process extracts and reconciles one item. Every failure, panics included,
// ends as a skip.
func (r *Runner) process(ctx context.Context, log *slog.Logger, doc *render.Document, index int, item render.Node, report *Report) {
	defer func() {
		if p := recover(); p != nil {
			report.Skipped++
			log.Error("item panicked", "index", index, "panic", fmt.Sprint(p))
		}
	}()

	r.setState(StateExtracting)
	rec, err := r.extractor.Extract(doc, item)
	if err != nil {
		report.Skipped++
		log.Warn("item skipped", "index", index, "stage", "extract", "error", err)
		log.Debug("skipped item markup", "index", index, "html", item.HTML())
		return
	}

	r.setState(StateReconciling)
	entry, outcome, err := r.store.Upsert(ctx, catalog.Listing{
		ExternalID: rec.Link,
		Title:      rec.Title,
		Price:      rec.Price,
		ImageURL:   rec.ImagePath,
	})
	if err != nil {
		report.Skipped++
		log.Warn("item skipped", "index", index, "stage", "reconcile",
			"error", &ReconcileError{ExternalID: rec.Link, Err: err})
		return
	}

	switch outcome {
	case catalog.Created:
		report.Created++
	case catalog.Updated:
		report.Updated++
	default:
		report.Unchanged++
	}
	log.Debug("item reconciled",
		"index", index,
		"id", entry.ID,
		"external_id", entry.ExternalID,
		"price", entry.Price.StringFixed(2),
		"outcome", outcome.String())
}
