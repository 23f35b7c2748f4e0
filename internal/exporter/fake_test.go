package exporter

import (
	"context"
	"sync"
	"time"

	"sonar-exporter/internal/settings"
	"sonar-exporter/internal/sonar"
)

type fakeUpstream struct {
	mu sync.Mutex

	projects    []sonar.Project
	branches    map[string][]sonar.Branch
	measures    map[string][]sonar.Measure // by "project/branch"
	projectsErr error
	branchesErr error
	measuresErr error
	block       bool

	projectCalls int
	branchCalls  []string
	measureKeys  [][]string
}

func (f *fakeUpstream) Projects(ctx context.Context, _ int) ([]sonar.Project, error) {
	f.mu.Lock()
	f.projectCalls++
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.projectsErr != nil {
		return nil, f.projectsErr
	}
	return f.projects, nil
}

func (f *fakeUpstream) Branches(_ context.Context, projectKey string) ([]sonar.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branchCalls = append(f.branchCalls, projectKey)
	if f.branchesErr != nil {
		return nil, f.branchesErr
	}
	return f.branches[projectKey], nil
}

func (f *fakeUpstream) Measures(_ context.Context, component, branch string, metricKeys []string) ([]sonar.Measure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.measureKeys = append(f.measureKeys, append([]string(nil), metricKeys...))
	if f.measuresErr != nil {
		return nil, f.measuresErr
	}
	return f.measures[component+"/"+branch], nil
}

func (f *fakeUpstream) calls() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projectCalls, len(f.branchCalls), len(f.measureKeys)
}

// mutableSource is a settings source whose values can be swapped between scrapes.
type mutableSource struct {
	mu     sync.Mutex
	values settings.StaticSource
	err    error
}

func (s *mutableSource) set(values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
}

func (s *mutableSource) Snapshot() (settings.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.values.Snapshot()
}

type recordingObserver struct {
	mu       sync.Mutex
	scrapes  []error
	enabled  []int
	rejected []string
}

func (o *recordingObserver) ScrapeFinished(_ time.Duration, enabled int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scrapes = append(o.scrapes, err)
	o.enabled = append(o.enabled, enabled)
}

func (o *recordingObserver) MeasureRejected(metricKey string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, metricKey)
}

// singleProjectUpstream is project p1 "Proj" with one branch "main".
func singleProjectUpstream(measures ...sonar.Measure) *fakeUpstream {
	return &fakeUpstream{
		projects: []sonar.Project{{Key: "p1", Name: "Proj"}},
		branches: map[string][]sonar.Branch{"p1": {{Name: "main", IsMain: true}}},
		measures: map[string][]sonar.Measure{"p1/main": measures},
	}
}

// gatedUpstream holds the first Measures call until release is closed.
type gatedUpstream struct {
	*fakeUpstream

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedUpstream(inner *fakeUpstream) *gatedUpstream {
	return &gatedUpstream{
		fakeUpstream: inner,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (g *gatedUpstream) Measures(ctx context.Context, component, branch string, metricKeys []string) ([]sonar.Measure, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.fakeUpstream.Measures(ctx, component, branch, metricKeys)
}
