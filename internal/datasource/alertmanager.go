package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opsprobe/opsprobe/internal/workflow"
)

// AlertmanagerCollector gathers active alerts via the Alertmanager v2 API.
// Firing alerts are the highest-confidence evidence a round can produce.
type AlertmanagerCollector struct {
	baseURL    string
	httpClient *http.Client
}

// NewAlertmanagerCollector creates a collector against an Alertmanager base URL.
func NewAlertmanagerCollector(baseURL string, timeout time.Duration) *AlertmanagerCollector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AlertmanagerCollector{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *AlertmanagerCollector) Source() workflow.Source { return workflow.SourceAlerts }

// amAlert is the Alertmanager v2 GettableAlert shape, reduced to the fields
// evidence needs.
type amAlert struct {
	Fingerprint string            `json:"fingerprint"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	Status      struct {
		State string `json:"state"`
	} `json:"status"`
}

func (c *AlertmanagerCollector) Collect(ctx context.Context, q Query) ([]workflow.Evidence, error) {
	u := c.baseURL + "/api/v2/alerts?active=true&silenced=false&inhibited=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alertmanager: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("alertmanager: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alertmanager: status %d", resp.StatusCode)
	}

	var alerts []amAlert
	if err := json.Unmarshal(raw, &alerts); err != nil {
		return nil, fmt.Errorf("alertmanager: decode response: %w", err)
	}

	var out []workflow.Evidence
	for _, a := range alerts {
		name := a.Labels["alertname"]
		if name == "" {
			name = "unknown"
		}
		desc := a.Annotations["summary"]
		if desc == "" {
			desc = a.Annotations["description"]
		}

		confidence := 0.9
		if a.Status.State != "active" {
			confidence = 0.6
		}

		out = append(out, workflow.Evidence{
			ID:          uuid.New().String(),
			Source:      workflow.SourceAlerts,
			Description: fmt.Sprintf("alert %s (%s, since %s): %s", name, a.Status.State, a.StartsAt.UTC().Format(time.RFC3339), desc),
			Confidence:  confidence,
			CollectedAt: time.Now().UTC(),
			RawRef:      "alertmanager:" + a.Fingerprint,
		})
	}
	return out, nil
}
