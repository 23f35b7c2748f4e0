package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"sonar-exporter/internal/catalog"
	"sonar-exporter/internal/sonar"
)

// collectMeasures fetches the enabled metrics for every target and stores
// them in the registry. Upstream failures abort; bad values only skip the
// affected sample.
// Params: ctx scrape context; enabled metrics to request; targets project branches.
// Returns: first upstream error, which cancels the remaining requests.
func (e *Exporter) collectMeasures(ctx context.Context, enabled []catalog.Metric, targets []target) error {
	keys := catalog.Keys(enabled)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			measures, err := e.upstream.Measures(gctx, t.project.Key, t.branch.Name, keys)
			if err != nil {
				return fmt.Errorf("fetch measures of %q branch %q: %w", t.project.Key, t.branch.Name, err)
			}
			labels := t.labels()
			for _, m := range measures {
				e.observe(labels, m)
			}
			return nil
		})
	}
	return g.Wait()
}

// observe stores one measure at labels when it is enabled, non-empty and numeric.
// Params: labels target series labels; m upstream measure.
// Returns: none.
func (e *Exporter) observe(labels Labels, m sonar.Measure) {
	// Upstream may answer with metrics that were not asked for.
	if !e.registry.Has(m.Metric) {
		return
	}

	raw := strings.TrimSpace(m.Value)
	if raw == "" {
		return
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.observer.MeasureRejected(m.Metric)
		e.logger.Warn("skip non-numeric measure",
			slog.String("metric", m.Metric),
			slog.String("project", labels.ProjectKey),
			slog.String("branch", labels.Branch),
			slog.String("value", raw),
		)
		return
	}

	e.registry.Observe(m.Metric, labels, value)
}
