// Package catalog lists the SonarQube metrics the exporter knows how to publish.
package catalog

// Metric identifies one exportable SonarQube metric.
type Metric uint8

const (
	Bugs Metric = iota
	Vulnerabilities
	Violations
	CodeSmells
	DuplicatedLinesDensity
	TechnicalDebt
	NewBugs
	NewVulnerabilities
	NewViolations
	NewCodeSmells
	NewDuplicatedLinesDensity
	NewSecurityRating
	NewTechnicalDebt
	Lines

	metricCount
)

// Definition is the upstream identity of a metric.
type Definition struct {
	Key         string
	Description string
}

var definitions = [metricCount]Definition{
	Bugs:                      {Key: "bugs", Description: "Bugs"},
	Vulnerabilities:           {Key: "vulnerabilities", Description: "Vulnerabilities"},
	Violations:                {Key: "violations", Description: "Issues"},
	CodeSmells:                {Key: "code_smells", Description: "Code Smells"},
	DuplicatedLinesDensity:    {Key: "duplicated_lines_density", Description: "Duplicated lines balanced by statements"},
	TechnicalDebt:             {Key: "sqale_index", Description: "Total effort (in minutes) to fix all the issues on the component and therefore to comply to all the requirements."},
	NewBugs:                   {Key: "new_bugs", Description: "New Bugs"},
	NewVulnerabilities:        {Key: "new_vulnerabilities", Description: "New Vulnerabilities"},
	NewViolations:             {Key: "new_violations", Description: "New issues"},
	NewCodeSmells:             {Key: "new_code_smells", Description: "New Code Smells"},
	NewDuplicatedLinesDensity: {Key: "new_duplicated_lines_density", Description: "Duplicated lines on new code balanced by statements"},
	NewSecurityRating:         {Key: "new_security_rating", Description: "Security rating on new code"},
	NewTechnicalDebt:          {Key: "new_technical_debt", Description: "Added technical debt"},
	Lines:                     {Key: "lines", Description: "Lines"},
}

var byKey = func() map[string]Metric {
	out := make(map[string]Metric, len(definitions))
	for idx, def := range definitions {
		out[def.Key] = Metric(idx)
	}
	return out
}()

// Definition returns the key and description of m.
// Unknown values yield a zero Definition.
// Params: none.
// Returns: key and description.
func (m Metric) Definition() Definition {
	if m >= metricCount {
		return Definition{}
	}
	return definitions[m]
}

// Key returns the upstream metric key.
// Params: none.
// Returns: key such as "bugs".
func (m Metric) Key() string {
	return m.Definition().Key
}

func (m Metric) String() string {
	return m.Key()
}

// All returns every supported metric in declaration order.
// Params: none.
// Returns: fresh slice of metrics.
func All() []Metric {
	out := make([]Metric, 0, metricCount)
	for m := Metric(0); m < metricCount; m++ {
		out = append(out, m)
	}
	return out
}

// Supported returns the definitions of every supported metric. The result is
// the upper bound of what can ever be exported.
// Params: none.
// Returns: copy of the definitions.
func Supported() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions[:])
	return out
}

// Lookup resolves an upstream metric key.
// Params: key upstream metric key.
// Returns: metric and whether it is supported.
func Lookup(key string) (Metric, bool) {
	m, ok := byKey[key]
	return m, ok
}

// Keys returns the upstream keys of metrics in the same order.
// Params: metrics catalog metrics.
// Returns: upstream keys.
func Keys(metrics []Metric) []string {
	out := make([]string, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, m.Key())
	}
	return out
}
