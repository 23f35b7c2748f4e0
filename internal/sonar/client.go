// Package sonar is a minimal read-only client for the SonarQube Web API.
//
// Only the three queries the exporter needs are implemented: project search,
// branch listing and component measures.
package sonar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxPageSize is the largest page the components search accepts.
	MaxPageSize = 500
	// QualifierProject selects top-level projects in component searches.
	QualifierProject = "TRK"

	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 16 << 20
	maxErrorBody     = 2048

	pathComponentsSearch = "/api/components/search"
	pathBranchesList     = "/api/project_branches/list"
	pathMeasuresComp     = "/api/measures/component"
)

// Project is a top-level analysed component.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Branch is one analysed branch of a project.
type Branch struct {
	Name   string `json:"name"`
	IsMain bool   `json:"isMain"`
}

// Measure is one metric value reported for a component. Value is empty when
// the metric was not computed.
type Measure struct {
	Metric string
	Value  string
}

// APIError reports a non-2xx answer from the server.
type APIError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: unexpected status %s", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("GET %s: unexpected status %s: %s", e.Endpoint, e.Status, e.Body)
}

// Options tunes the client transport.
type Options struct {
	// Timeout bounds each request. Zero uses the default.
	Timeout time.Duration
	// HTTPClient replaces the default client; Timeout is ignored when set.
	HTTPClient *http.Client
	UserAgent  string
}

// Client issues Web API queries against one SonarQube server.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
}

// NewClient creates a client for the server rooted at baseURL.
// Params: baseURL http(s) server root; opts transport settings.
// Returns: client or URL validation error.
func NewClient(baseURL string, opts Options) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, fmt.Errorf("sonar url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse sonar url %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("sonar url %q: unsupported scheme %q", raw, base.Scheme)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		base:      base,
		http:      httpClient,
		userAgent: strings.TrimSpace(opts.UserAgent),
	}, nil
}

type componentsSearchResponse struct {
	Components []Project `json:"components"`
}

// Projects returns up to pageSize projects. Results beyond the first page are
// not fetched.
// Params: ctx request context; pageSize capped at MaxPageSize, non-positive means the cap.
// Returns: projects or request error.
func (c *Client) Projects(ctx context.Context, pageSize int) ([]Project, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	query := url.Values{}
	query.Set("qualifiers", QualifierProject)
	query.Set("ps", strconv.Itoa(pageSize))

	var out componentsSearchResponse
	if err := c.get(ctx, pathComponentsSearch, query, &out); err != nil {
		return nil, err
	}
	return out.Components, nil
}

type branchesListResponse struct {
	Branches []Branch `json:"branches"`
}

// Branches lists the branches of the project identified by projectKey.
// Params: ctx request context; projectKey project key.
// Returns: branches or request error.
func (c *Client) Branches(ctx context.Context, projectKey string) ([]Branch, error) {
	query := url.Values{}
	query.Set("project", projectKey)

	var out branchesListResponse
	if err := c.get(ctx, pathBranchesList, query, &out); err != nil {
		return nil, err
	}
	return out.Branches, nil
}

type measureJSON struct {
	Metric string  `json:"metric"`
	Value  *string `json:"value"`
	Period *struct {
		Value string `json:"value"`
	} `json:"period"`
	Periods []struct {
		Value string `json:"value"`
	} `json:"periods"`
}

type measuresComponentResponse struct {
	Component struct {
		Key      string        `json:"key"`
		Measures []measureJSON `json:"measures"`
	} `json:"component"`
}

// Measures fetches metricKeys for component on branch. New-code metrics carry
// their value in the leak period, which is used when no plain value exists.
// Params: ctx request context; component project key; branch name, empty for the default; metricKeys keys to fetch.
// Returns: measures with resolved values or request error.
func (c *Client) Measures(ctx context.Context, component, branch string, metricKeys []string) ([]Measure, error) {
	query := url.Values{}
	query.Set("component", component)
	if branch != "" {
		query.Set("branch", branch)
	}
	query.Set("metricKeys", strings.Join(metricKeys, ","))

	var out measuresComponentResponse
	if err := c.get(ctx, pathMeasuresComp, query, &out); err != nil {
		return nil, err
	}

	measures := make([]Measure, 0, len(out.Component.Measures))
	for _, m := range out.Component.Measures {
		measures = append(measures, Measure{Metric: m.Metric, Value: m.value()})
	}
	return measures, nil
}

func (m measureJSON) value() string {
	switch {
	case m.Value != nil:
		return *m.Value
	case m.Period != nil:
		return m.Period.Value
	case len(m.Periods) > 0:
		return m.Periods[0].Value
	default:
		return ""
	}
}

// get issues one GET and decodes a JSON body of bounded size into out.
// Params: ctx request context; path API path; query parameters; out decode target.
// Returns: *APIError on non-2xx, transport or decode error.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.base.JoinPath(path)
	endpoint.RawQuery = query.Encode()
	target := endpoint.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Endpoint:   target,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	lim := &io.LimitedReader{R: resp.Body, N: maxResponseBytes + 1}
	decoder := json.NewDecoder(lim)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if lim.N <= 0 {
		return fmt.Errorf("%s response exceeds %d bytes", path, maxResponseBytes)
	}
	return nil
}
