package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/opsprobe/opsprobe/internal/workflow"
)

// PrometheusCollector gathers metric evidence via the Prometheus HTTP API.
// Each collection round runs a fixed set of health queries; results become
// individual evidence items.
type PrometheusCollector struct {
	baseURL    string
	httpClient *http.Client
	queries    []promQuery
}

type promQuery struct {
	name string
	expr string
	// confidence of evidence produced by this query when it matches
	confidence float64
}

// defaultPromQueries covers the signals most investigations start from:
// unhealthy scrape targets, pending alert expressions, and saturation.
var defaultPromQueries = []promQuery{
	{name: "targets_down", expr: `up == 0`, confidence: 0.85},
	{name: "alerts_pending", expr: `ALERTS{alertstate="pending"}`, confidence: 0.7},
	{name: "high_cpu", expr: `avg by (instance) (rate(node_cpu_seconds_total{mode!="idle"}[5m])) > 0.9`, confidence: 0.75},
	{name: "high_memory", expr: `(1 - node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes) > 0.9`, confidence: 0.75},
}

// NewPrometheusCollector creates a collector against a Prometheus base URL.
func NewPrometheusCollector(baseURL string, timeout time.Duration) *PrometheusCollector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PrometheusCollector{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		queries:    defaultPromQueries,
	}
}

func (c *PrometheusCollector) Source() workflow.Source { return workflow.SourceMetrics }

// promResponse is the Prometheus instant-query envelope.
type promResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  []interface{}     `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func (c *PrometheusCollector) Collect(ctx context.Context, q Query) ([]workflow.Evidence, error) {
	var out []workflow.Evidence
	var lastErr error
	succeeded := 0

	for _, pq := range c.queries {
		resp, err := c.instantQuery(ctx, pq.expr)
		if err != nil {
			lastErr = err
			continue
		}
		succeeded++

		for _, r := range resp.Data.Result {
			value := ""
			if len(r.Value) == 2 {
				value = fmt.Sprintf("%v", r.Value[1])
			}
			out = append(out, workflow.Evidence{
				ID:          uuid.New().String(),
				Source:      workflow.SourceMetrics,
				Description: fmt.Sprintf("%s: %s = %s", pq.name, renderLabels(r.Metric), value),
				Confidence:  pq.confidence,
				CollectedAt: time.Now().UTC(),
				RawRef:      fmt.Sprintf("promql:%s", pq.expr),
			})
		}
	}

	if succeeded == 0 && lastErr != nil {
		return nil, fmt.Errorf("prometheus: %w", lastErr)
	}
	return out, nil
}

func (c *PrometheusCollector) instantQuery(ctx context.Context, expr string) (*promResponse, error) {
	u := fmt.Sprintf("%s/api/v1/query?query=%s", c.baseURL, url.QueryEscape(expr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed promResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Status != "success" {
		return nil, fmt.Errorf("query status %q", parsed.Status)
	}
	return &parsed, nil
}

func renderLabels(labels map[string]string) string {
	if name, ok := labels["__name__"]; ok && len(labels) == 1 {
		return name
	}
	if inst, ok := labels["instance"]; ok {
		return inst
	}
	if job, ok := labels["job"]; ok {
		return job
	}
	b, _ := json.Marshal(labels)
	return string(b)
}
