package exporter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"sonar-exporter/internal/catalog"
)

// MetricPrefix namespaces every exported gauge.
const MetricPrefix = "sonarqube_"

// Label names attached to every sample.
const (
	LabelProjectKey  = "key"
	LabelProjectName = "name"
	LabelBranch      = "branch"
)

var labelNames = []string{LabelProjectKey, LabelProjectName, LabelBranch}

// Labels identifies one (project, branch) series.
type Labels struct {
	ProjectKey  string
	ProjectName string
	Branch      string
}

type gauge struct {
	name string
	help string
	vec  *prometheus.GaugeVec
}

// Registry holds one labelled gauge per enabled metric. Its key set always
// matches the metric set passed to the latest Reconcile.
type Registry struct {
	mu     sync.RWMutex
	reg    *prometheus.Registry
	gauges map[string]*gauge
}

// NewRegistry returns an empty registry.
// Params: none.
// Returns: registry with no gauges.
func NewRegistry() *Registry {
	return &Registry{
		reg:    prometheus.NewRegistry(),
		gauges: make(map[string]*gauge),
	}
}

// MetricName returns the exposition name of m.
// Params: m catalog metric.
// Returns: "sonarqube_<key>".
func MetricName(m catalog.Metric) string {
	return MetricPrefix + m.Key()
}

// Reconcile discards every registered gauge and registers a new one per
// enabled metric. Two metrics sharing an exposition name panic, since only a
// malformed catalog can produce that.
// Params: enabled metrics for the coming scrape.
// Returns: none; panics on duplicate registration.
func (r *Registry) Reconcile(enabled []catalog.Metric) {
	reg := prometheus.NewRegistry()
	gauges := make(map[string]*gauge, len(enabled))

	for _, m := range enabled {
		def := m.Definition()
		g := &gauge{
			name: MetricName(m),
			help: def.Description,
			vec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: MetricName(m),
				Help: def.Description,
			}, labelNames),
		}
		reg.MustRegister(g.vec)
		gauges[def.Key] = g
	}

	r.mu.Lock()
	r.reg = reg
	r.gauges = gauges
	r.mu.Unlock()
}

// Clear drops every gauge.
// Params: none.
// Returns: none.
func (r *Registry) Clear() {
	r.Reconcile(nil)
}

// Has reports whether a gauge is registered for metricKey.
// Params: metricKey upstream key.
// Returns: true when the metric is enabled for this scrape.
func (r *Registry) Has(metricKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.gauges[metricKey]
	return ok
}

// Keys returns registered metric keys in sorted order.
// Params: none.
// Returns: sorted keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.gauges))
	for key := range r.gauges {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Observe sets the gauge of metricKey at labels. It returns false when the
// metric is not registered.
// Params: metricKey upstream key; labels series labels; value sample.
// Returns: whether the sample was stored.
func (r *Registry) Observe(metricKey string, labels Labels, value float64) bool {
	r.mu.RLock()
	g, ok := r.gauges[metricKey]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	g.vec.WithLabelValues(labels.ProjectKey, labels.ProjectName, labels.Branch).Set(value)
	return true
}

// Families gathers every registered gauge, sorted by name. Gauges without
// samples are returned as families with no metrics so they stay visible.
// Params: none.
// Returns: families sorted by name or gather error.
func (r *Registry) Families() ([]*dto.MetricFamily, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gathered, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather registry: %w", err)
	}

	byName := make(map[string]*dto.MetricFamily, len(gathered))
	for _, mf := range gathered {
		byName[mf.GetName()] = mf
	}

	out := make([]*dto.MetricFamily, 0, len(r.gauges))
	for _, g := range r.gauges {
		if mf, ok := byName[g.name]; ok {
			out = append(out, mf)
			continue
		}
		out = append(out, emptyFamily(g.name, g.help))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GetName() < out[j].GetName()
	})
	return out, nil
}

func emptyFamily(name, help string) *dto.MetricFamily {
	typ := dto.MetricType_GAUGE
	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: &typ,
	}
}
