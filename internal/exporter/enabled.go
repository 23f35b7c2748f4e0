package exporter

import (
	"sonar-exporter/internal/catalog"
	"sonar-exporter/internal/settings"
)

// ConfigPrefix prefixes the metric key in the enablement setting name.
const ConfigPrefix = "prometheus.export."

// SettingKey returns the setting that enables m.
// Params: m catalog metric.
// Returns: "prometheus.export.<key>".
func SettingKey(m catalog.Metric) string {
	return ConfigPrefix + m.Key()
}

// ResolveEnabled returns the metrics whose setting is true in snap, keeping
// the order of metrics. Absent or unparsable settings disable a metric.
// Params: metrics candidate catalog subset; snap current settings.
// Returns: enabled metrics, possibly empty.
func ResolveEnabled(metrics []catalog.Metric, snap settings.Snapshot) []catalog.Metric {
	enabled := make([]catalog.Metric, 0, len(metrics))
	for _, m := range metrics {
		if snap.Bool(SettingKey(m)) {
			enabled = append(enabled, m)
		}
	}
	return enabled
}
