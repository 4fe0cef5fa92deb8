package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsprobe/opsprobe/internal/workflow"
)

// fakeClient returns scripted responses in order.
type fakeClient struct {
	responses []Response
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeClient) Complete(ctx context.Context, req Request) (Response, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return Response{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return Response{}, errors.New("no scripted response")
}

func TestAdvisorCategorize(t *testing.T) {
	client := &fakeClient{responses: []Response{
		{Success: true, Content: `{"category":"capacity","confidence":0.8,"initial_data_types":["metrics","alerts"]}`},
	}}
	a := NewAdvisor(client)

	cat, err := a.Categorize(context.Background(), "CPU saturation on workers")
	require.NoError(t, err)
	assert.Equal(t, "capacity", cat.Category)
	assert.Equal(t, 0.8, cat.Confidence)
	assert.Equal(t, []string{"metrics", "alerts"}, cat.InitialDataTypes)
	assert.Equal(t, 1, client.calls)
}

func TestAdvisorMissingConfidenceDefaultsToNeutral(t *testing.T) {
	client := &fakeClient{responses: []Response{
		{Success: true, Content: `{"category":"unknown"}`},
	}}
	a := NewAdvisor(client)

	cat, err := a.Categorize(context.Background(), "weird signal")
	require.NoError(t, err)
	assert.Equal(t, 0.5, cat.Confidence)
}

func TestAdvisorRetriesOnceOnParseFailure(t *testing.T) {
	client := &fakeClient{responses: []Response{
		{Success: true, Content: "I think the category is capacity."},
		{Success: true, Content: `{"category":"capacity","confidence":0.7}`},
	}}
	a := NewAdvisor(client)

	cat, err := a.Categorize(context.Background(), "CPU saturation")
	require.NoError(t, err)
	assert.Equal(t, "capacity", cat.Category)
	require.Equal(t, 2, client.calls)
	// The re-ask carries the stricter instruction.
	assert.True(t, strings.HasSuffix(client.prompts[1], strictHint))
}

func TestAdvisorGivesUpAfterSecondParseFailure(t *testing.T) {
	client := &fakeClient{responses: []Response{
		{Success: true, Content: "no json here"},
		{Success: true, Content: "still no json"},
	}}
	a := NewAdvisor(client)

	_, err := a.Categorize(context.Background(), "q")
	require.Error(t, err)
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, client.calls)
}

func TestAdvisorTransportErrorIsNotRetried(t *testing.T) {
	client := &fakeClient{errs: []error{ErrUnavailable}}
	a := NewAdvisor(client)

	_, err := a.Categorize(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, 1, client.calls)
}

func TestAdvisorAnalyze(t *testing.T) {
	client := &fakeClient{responses: []Response{
		{Success: true, Content: `{
			"hypotheses": [
				{"description": "oom kill", "confidence": 0.9, "status": "validated", "supporting_evidence_ids": ["ev-1"]},
				{"description": "bad deploy", "status": "bogus-status"},
				{"description": ""}
			],
			"confidence": 0.85,
			"summary": "memory exhaustion"
		}`},
	}}
	a := NewAdvisor(client)

	s := workflow.NewSession("s-1", workflow.TypeIncident, "pods restarting")
	analysis, err := a.Analyze(context.Background(), s, workflow.EvidenceSummary{})
	require.NoError(t, err)

	assert.Equal(t, 0.85, analysis.Confidence)
	assert.Equal(t, "memory exhaustion", analysis.Summary)
	// Empty descriptions are dropped; unknown statuses default to proposed.
	require.Len(t, analysis.Hypotheses, 2)
	assert.Equal(t, workflow.HypothesisValidated, analysis.Hypotheses[0].Status)
	assert.Equal(t, []string{"ev-1"}, analysis.Hypotheses[0].SupportingEvidenceIDs)
	assert.Equal(t, workflow.HypothesisProposed, analysis.Hypotheses[1].Status)
	assert.Equal(t, 0.5, analysis.Hypotheses[1].Confidence)
}

func TestAdvisorAssessCompleteness(t *testing.T) {
	client := &fakeClient{responses: []Response{
		{Success: true, Content: "```json\n{\"is_sufficient\":false,\"confidence\":0.4,\"missing_data_types\":[\"logs\"]}\n```"},
	}}
	a := NewAdvisor(client)

	s := workflow.NewSession("s-2", workflow.TypeQuery, "q")
	comp, err := a.AssessCompleteness(context.Background(), s, workflow.EvidenceSummary{})
	require.NoError(t, err)
	assert.False(t, comp.IsSufficient)
	assert.Equal(t, 0.4, comp.Confidence)
	assert.Equal(t, []string{"logs"}, comp.MissingDataTypes)
}

func TestAdvisorRecommendAction(t *testing.T) {
	client := &fakeClient{responses: []Response{
		{Success: true, Content: `{"plan":"restart the service","steps":["drain traffic","restart","verify"]}`},
	}}
	a := NewAdvisor(client)

	s := workflow.NewSession("s-3", workflow.TypeAction, "restart checkout")
	plan, err := a.RecommendAction(context.Background(), s, workflow.DecisionRecord{
		Tier: workflow.TierHigh, ActionClass: workflow.ActionInvasive,
	})
	require.NoError(t, err)
	assert.Contains(t, plan, "restart the service")
	assert.Contains(t, plan, "1. drain traffic")
	assert.Contains(t, plan, "3. verify")
}
