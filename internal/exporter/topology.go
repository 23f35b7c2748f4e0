package exporter

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"sonar-exporter/internal/sonar"
)

// target is one (project, branch) pair to fetch measures for.
type target struct {
	project sonar.Project
	branch  sonar.Branch
}

func (t target) labels() Labels {
	return Labels{
		ProjectKey:  t.project.Key,
		ProjectName: t.project.Name,
		Branch:      t.branch.Name,
	}
}

// fetchTopology lists projects, applies the project filter and lists branches
// of each remaining project. Targets keep upstream project and branch order.
// Params: ctx scrape context.
// Returns: project branch targets or the first upstream error.
func (e *Exporter) fetchTopology(ctx context.Context) ([]target, error) {
	projects, err := e.upstream.Projects(ctx, e.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if len(projects) >= e.pageSize {
		e.logger.Warn("project list truncated to page size", slog.Int("page_size", e.pageSize))
	}

	selected := make([]sonar.Project, 0, len(projects))
	for _, p := range projects {
		if e.projects.Allow(p.Key) {
			selected = append(selected, p)
		}
	}

	branches := make([][]sonar.Branch, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for idx, p := range selected {
		idx, p := idx, p
		g.Go(func() error {
			list, err := e.upstream.Branches(gctx, p.Key)
			if err != nil {
				return fmt.Errorf("list branches of %q: %w", p.Key, err)
			}
			branches[idx] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var targets []target
	for idx, p := range selected {
		for _, b := range branches[idx] {
			targets = append(targets, target{project: p, branch: b})
		}
	}
	return targets, nil
}
