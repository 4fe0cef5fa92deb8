package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opsprobe/opsprobe/internal/workflow"
)

// lokiWindow is how far back each collection round looks. Later iterations
// widen the window to catch slower-building failures.
const lokiWindow = 15 * time.Minute

// lokiMaxLines bounds how many log lines one round turns into evidence.
const lokiMaxLines = 20

// LokiCollector gathers log evidence via the Loki query_range API.
type LokiCollector struct {
	baseURL    string
	httpClient *http.Client
	// selector is the LogQL stream selector; defaults to error-level logs
	// across all jobs.
	selector string
}

// NewLokiCollector creates a collector against a Loki base URL.
func NewLokiCollector(baseURL string, timeout time.Duration) *LokiCollector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LokiCollector{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		selector:   `{job=~".+"} |~ "(?i)(error|panic|fatal|exception)"`,
	}
}

func (c *LokiCollector) Source() workflow.Source { return workflow.SourceLogs }

// lokiResponse is the query_range envelope for stream results.
type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

func (c *LokiCollector) Collect(ctx context.Context, q Query) ([]workflow.Evidence, error) {
	window := lokiWindow * time.Duration(q.Iteration)
	if window <= 0 {
		window = lokiWindow
	}
	end := time.Now()
	start := end.Add(-window)

	params := url.Values{}
	params.Set("query", c.selector)
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(lokiMaxLines))
	params.Set("direction", "backward")

	u := fmt.Sprintf("%s/loki/api/v1/query_range?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loki: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("loki: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loki: status %d", resp.StatusCode)
	}

	var parsed lokiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("loki: decode response: %w", err)
	}

	var out []workflow.Evidence
	for _, stream := range parsed.Data.Result {
		job := stream.Stream["job"]
		for _, v := range stream.Values {
			if len(out) >= lokiMaxLines {
				return out, nil
			}
			out = append(out, workflow.Evidence{
				ID:          uuid.New().String(),
				Source:      workflow.SourceLogs,
				Description: fmt.Sprintf("[%s] %s", job, truncateLine(v[1], 300)),
				Confidence:  0.6,
				CollectedAt: time.Now().UTC(),
				RawRef:      fmt.Sprintf("loki:%s@%s", job, v[0]),
			})
		}
	}
	return out, nil
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
