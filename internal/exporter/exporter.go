// Package exporter turns SonarQube measures into a Prometheus exposition.
//
// Every scrape resolves the enabled metric set from settings, rebuilds the
// gauge registry, walks all projects and branches upstream, stores their
// measures and serialises the result. Scrapes are serialised: a single
// scrape owns the registry from reconcile to serialisation.
package exporter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"sonar-exporter/internal/catalog"
	"sonar-exporter/internal/match"
	"sonar-exporter/internal/settings"
	"sonar-exporter/internal/sonar"
)

const defaultConcurrency = 4

// Upstream is the subset of the SonarQube API the exporter consumes.
type Upstream interface {
	Projects(ctx context.Context, pageSize int) ([]sonar.Project, error)
	Branches(ctx context.Context, projectKey string) ([]sonar.Branch, error)
	Measures(ctx context.Context, component, branch string, metricKeys []string) ([]sonar.Measure, error)
}

// Observer receives scrape outcomes.
type Observer interface {
	ScrapeFinished(duration time.Duration, enabled int, err error)
	MeasureRejected(metricKey string)
}

// Observers fans events out to several observers.
type Observers []Observer

// ScrapeFinished forwards to every observer.
// Params: duration scrape wall time; enabled metric count; err scrape outcome.
// Returns: none.
func (o Observers) ScrapeFinished(duration time.Duration, enabled int, err error) {
	for _, obs := range o {
		obs.ScrapeFinished(duration, enabled, err)
	}
}

// MeasureRejected forwards to every observer.
// Params: metricKey upstream key of the rejected measure.
// Returns: none.
func (o Observers) MeasureRejected(metricKey string) {
	for _, obs := range o {
		obs.MeasureRejected(metricKey)
	}
}

// Options configures an Exporter. Zero values select defaults.
type Options struct {
	// Metrics bounds what may be exported; defaults to the whole catalog.
	Metrics []catalog.Metric
	// PageSize caps the number of projects listed per scrape.
	PageSize int
	// Concurrency bounds parallel upstream calls.
	Concurrency int
	// Projects filters project keys.
	Projects match.Set
	Observer Observer
	Logger   *slog.Logger
}

// Exporter runs the scrape pipeline against one upstream.
type Exporter struct {
	upstream Upstream
	settings settings.Source
	registry *Registry

	metrics     []catalog.Metric
	pageSize    int
	concurrency int
	projects    match.Set
	observer    Observer
	logger      *slog.Logger

	// sem admits one scrape at a time while honouring caller cancellation.
	sem chan struct{}
}

// New creates an exporter reading enablement from source.
// Params: upstream SonarQube API; source enablement settings; opts limits, filter, observer and logger.
// Returns: exporter ready to Scrape.
func New(upstream Upstream, source settings.Source, opts Options) *Exporter {
	metrics := opts.Metrics
	if len(metrics) == 0 {
		metrics = catalog.All()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > sonar.MaxPageSize {
		pageSize = sonar.MaxPageSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	observer := opts.Observer
	if observer == nil {
		observer = Observers(nil)
	}

	return &Exporter{
		upstream:    upstream,
		settings:    source,
		registry:    NewRegistry(),
		metrics:     metrics,
		pageSize:    pageSize,
		concurrency: concurrency,
		projects:    opts.Projects,
		observer:    observer,
		logger:      logger,
		sem:         make(chan struct{}, 1),
	}
}

// Registry exposes the gauge registry.
// Params: none.
// Returns: registry rebuilt by every scrape.
func (e *Exporter) Registry() *Registry {
	return e.registry
}

// Scrape runs one full pipeline and writes the exposition to w. On error
// nothing is guaranteed about w and the registry is left empty.
// Params: ctx bounds waiting and upstream calls; w receives the exposition.
// Returns: settle, upstream or write error.
func (e *Exporter) Scrape(ctx context.Context, w io.Writer) error {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("wait for running scrape: %w", ctx.Err())
	}
	defer func() { <-e.sem }()

	start := time.Now()
	enabled, err := e.scrape(ctx, w)
	e.observer.ScrapeFinished(time.Since(start), enabled, err)
	return err
}

// scrape runs resolve, reconcile, collect and serialize while holding the scrape slot.
// Params: ctx scrape context; w exposition destination.
// Returns: enabled metric count and scrape error.
func (e *Exporter) scrape(ctx context.Context, w io.Writer) (int, error) {
	enabled := e.resolveEnabled()
	e.registry.Reconcile(enabled)

	if len(enabled) > 0 {
		targets, err := e.fetchTopology(ctx)
		if err != nil {
			e.registry.Clear()
			return len(enabled), err
		}
		if err := e.collectMeasures(ctx, enabled, targets); err != nil {
			e.registry.Clear()
			return len(enabled), err
		}
		e.logger.Debug("scrape collected",
			slog.Int("metrics", len(enabled)),
			slog.Int("targets", len(targets)),
		)
	}

	families, err := e.registry.Families()
	if err != nil {
		return len(enabled), err
	}
	if err := WriteExposition(w, families); err != nil {
		return len(enabled), err
	}
	return len(enabled), nil
}

// resolveEnabled reads the current settings. A failed read disables every
// metric for this scrape.
// Params: none.
// Returns: metrics enabled for this scrape.
func (e *Exporter) resolveEnabled() []catalog.Metric {
	snap, err := e.settings.Snapshot()
	if err != nil {
		e.logger.Warn("settings unavailable, exporting nothing", slog.String("error", err.Error()))
		return nil
	}
	return ResolveEnabled(e.metrics, snap)
}
