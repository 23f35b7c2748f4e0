package exporter

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonar-exporter/internal/catalog"
)

func TestWriteExposition_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteExposition(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestWriteExposition_ParsesBack(t *testing.T) {
	reg := NewRegistry()
	reg.Reconcile([]catalog.Metric{catalog.Bugs, catalog.Lines, catalog.TechnicalDebt})
	reg.Observe("bugs", Labels{ProjectKey: "p1", ProjectName: `Quote "q" \ back`, Branch: "main"}, 3)
	reg.Observe("bugs", Labels{ProjectKey: "p1", ProjectName: `Quote "q" \ back`, Branch: "feature/x"}, 1)
	reg.Observe("lines", Labels{ProjectKey: "p2", ProjectName: "Two", Branch: "main"}, 1200)

	families, err := reg.Families()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteExposition(&buf, families))

	text := buf.String()

	// The text parser drops families without samples, so the empty one is checked on the raw output.
	assert.Contains(t, text, "# HELP sonarqube_sqale_index "+catalog.TechnicalDebt.Definition().Description+"\n")
	assert.Contains(t, text, "# TYPE sonarqube_sqale_index gauge\n")
	assert.NotContains(t, text, "sonarqube_sqale_index{")

	var parser expfmt.TextParser
	parsed, err := parser.TextToMetricFamilies(strings.NewReader(text))
	require.NoError(t, err)

	require.Contains(t, parsed, "sonarqube_bugs")
	require.Contains(t, parsed, "sonarqube_lines")
	assert.Len(t, parsed["sonarqube_bugs"].GetMetric(), 2)
	assert.Equal(t, dto.MetricType_GAUGE, parsed["sonarqube_lines"].GetType())
	assert.Equal(t, 1200.0, parsed["sonarqube_lines"].GetMetric()[0].GetGauge().GetValue())

	for _, m := range parsed["sonarqube_bugs"].GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		assert.Equal(t, `Quote "q" \ back`, labels["name"])
	}
}

func TestWriteExposition_EscapesHelpOfEmptyFamily(t *testing.T) {
	families := []*dto.MetricFamily{emptyFamily("sonarqube_x", "line1\nline2 \\ end")}

	var buf bytes.Buffer
	require.NoError(t, WriteExposition(&buf, families))
	assert.Equal(t, "# HELP sonarqube_x line1\\nline2 \\\\ end\n# TYPE sonarqube_x gauge\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestWriteExposition_ReportsFlushError(t *testing.T) {
	families := []*dto.MetricFamily{emptyFamily("sonarqube_x", "x")}
	err := WriteExposition(failingWriter{}, families)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}
