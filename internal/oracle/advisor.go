package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/opsprobe/opsprobe/internal/workflow"
)

const systemPrompt = "You are an SRE investigation assistant for monitoring signals. " +
	"Answer every request with a single JSON object matching the requested schema. " +
	"No prose, no Markdown."

// strictHint is appended to the prompt when a first response failed to parse.
const strictHint = "\n\nRespond with a single JSON object only. No code fences, no commentary."

// Advisor adapts the transport-level oracle client to the workflow machine's
// reasoning contract. Each method renders a prompt, requests JSON output, and
// decodes the response with explicit defaults for fields the oracle omits.
type Advisor struct {
	client Client
}

// NewAdvisor wraps a client.
func NewAdvisor(client Client) *Advisor {
	return &Advisor{client: client}
}

var _ workflow.Oracle = (*Advisor)(nil)

// ─── Payload schemas ──────────────────────────────────────────────────────────

type categoryPayload struct {
	Category         string   `json:"category"`
	Confidence       *float64 `json:"confidence"`
	InitialDataTypes []string `json:"initial_data_types"`
}

type hypothesisPayload struct {
	Description           string   `json:"description"`
	Confidence            *float64 `json:"confidence"`
	SupportingEvidenceIDs []string `json:"supporting_evidence_ids"`
	Status                string   `json:"status"`
}

type analysisPayload struct {
	Hypotheses []hypothesisPayload `json:"hypotheses"`
	Confidence *float64            `json:"confidence"`
	Summary    string              `json:"summary"`
}

type completenessPayload struct {
	IsSufficient     bool     `json:"is_sufficient"`
	Confidence       *float64 `json:"confidence"`
	MissingDataTypes []string `json:"missing_data_types"`
}

type actionPayload struct {
	Plan  string   `json:"plan"`
	Steps []string `json:"steps"`
}

// defaultConfidence fills the 0.5 neutral score when the oracle omits one.
func defaultConfidence(p *float64) float64 {
	if p == nil {
		return 0.5
	}
	return *p
}

func hypothesisStatus(s string) workflow.HypothesisStatus {
	switch workflow.HypothesisStatus(strings.ToLower(s)) {
	case workflow.HypothesisValidated:
		return workflow.HypothesisValidated
	case workflow.HypothesisRefuted:
		return workflow.HypothesisRefuted
	default:
		return workflow.HypothesisProposed
	}
}

// ─── workflow.Oracle ──────────────────────────────────────────────────────────

func (a *Advisor) Categorize(ctx context.Context, query string) (workflow.Categorization, error) {
	prompt := fmt.Sprintf(`Categorize this monitoring signal or operator question.

Signal: %s

Schema:
{"category": "<short category label>", "confidence": <0..1>, "initial_data_types": ["metrics"|"logs"|"alerts"|...]}`, query)

	var p categoryPayload
	if err := a.ask(ctx, prompt, &p); err != nil {
		return workflow.Categorization{}, err
	}
	return workflow.Categorization{
		Category:         p.Category,
		Confidence:       defaultConfidence(p.Confidence),
		InitialDataTypes: p.InitialDataTypes,
	}, nil
}

func (a *Advisor) Analyze(ctx context.Context, s *workflow.Session, summary workflow.EvidenceSummary) (workflow.Analysis, error) {
	prompt := fmt.Sprintf(`Analyze the evidence collected so far for this investigation.

Question: %s
Category: %s
Iteration: %d
%s
Schema:
{"hypotheses": [{"description": "...", "confidence": <0..1>, "supporting_evidence_ids": ["..."], "status": "proposed"|"validated"|"refuted"}],
 "confidence": <overall 0..1>,
 "summary": "<one paragraph>"}`,
		s.InitialQuery, s.Category, s.Iteration, renderSummary(summary))

	var p analysisPayload
	if err := a.ask(ctx, prompt, &p); err != nil {
		return workflow.Analysis{}, err
	}

	out := workflow.Analysis{
		Confidence: defaultConfidence(p.Confidence),
		Summary:    p.Summary,
	}
	for _, h := range p.Hypotheses {
		if h.Description == "" {
			continue
		}
		out.Hypotheses = append(out.Hypotheses, workflow.Hypothesis{
			Description:           h.Description,
			Confidence:            defaultConfidence(h.Confidence),
			SupportingEvidenceIDs: h.SupportingEvidenceIDs,
			Status:                hypothesisStatus(h.Status),
		})
	}
	return out, nil
}

func (a *Advisor) AssessCompleteness(ctx context.Context, s *workflow.Session, summary workflow.EvidenceSummary) (workflow.Completeness, error) {
	prompt := fmt.Sprintf(`Assess whether the collected evidence is sufficient to decide on this investigation.

Question: %s
Category: %s
Iteration: %d
Current confidence: %.2f
%s
Schema:
{"is_sufficient": true|false, "confidence": <0..1>, "missing_data_types": ["metrics"|"logs"|"alerts"|...]}`,
		s.InitialQuery, s.Category, s.Iteration, s.ConfidenceScore, renderSummary(summary))

	var p completenessPayload
	if err := a.ask(ctx, prompt, &p); err != nil {
		return workflow.Completeness{}, err
	}
	return workflow.Completeness{
		IsSufficient:     p.IsSufficient,
		Confidence:       defaultConfidence(p.Confidence),
		MissingDataTypes: p.MissingDataTypes,
	}, nil
}

func (a *Advisor) RecommendAction(ctx context.Context, s *workflow.Session, rec workflow.DecisionRecord) (string, error) {
	prompt := fmt.Sprintf(`Recommend a concrete remediation plan for this investigation.

Question: %s
Category: %s
Confidence tier: %s
Allowed action class: %s
Validated hypotheses:
%s
Schema:
{"plan": "<one paragraph plan>", "steps": ["step 1", "step 2", ...]}

The plan must stay within the allowed action class.`,
		s.InitialQuery, s.Category, rec.Tier, rec.ActionClass, renderHypotheses(s.Hypotheses))

	var p actionPayload
	if err := a.ask(ctx, prompt, &p); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(p.Plan)
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "\n%d. %s", i+1, step)
	}
	return b.String(), nil
}

// ask sends a prompt and decodes the JSON content into v. On a parse failure
// it re-asks once with a stricter instruction before giving up; the machine's
// own retry loop handles everything above that.
func (a *Advisor) ask(ctx context.Context, prompt string, v interface{}) error {
	resp, err := a.client.Complete(ctx, Request{
		Prompt:         prompt,
		System:         systemPrompt,
		ResponseFormat: "json",
	})
	if err != nil {
		return err
	}

	err = DecodeInto(resp.Content, v)
	if err == nil {
		return nil
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		return err
	}

	resp, err = a.client.Complete(ctx, Request{
		Prompt:         prompt + strictHint,
		System:         systemPrompt,
		ResponseFormat: "json",
	})
	if err != nil {
		return err
	}
	return DecodeInto(resp.Content, v)
}

// ─── Prompt rendering ─────────────────────────────────────────────────────────

func renderSummary(sum workflow.EvidenceSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evidence: %d item(s) (%d high / %d medium / %d low confidence)\n",
		sum.Total, sum.HighConfidence, sum.MedConfidence, sum.LowConfidence)
	for src, n := range sum.BySource {
		fmt.Fprintf(&b, "  %s: %d\n", src, n)
	}
	for _, ev := range sum.Top {
		fmt.Fprintf(&b, "- [%s] (%.2f, id=%s) %s\n", ev.Source, ev.Confidence, ev.ID, ev.Description)
	}
	return b.String()
}

func renderHypotheses(hs []workflow.Hypothesis) string {
	if len(hs) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, h := range hs {
		fmt.Fprintf(&b, "- [%s] (%.2f) %s\n", h.Status, h.Confidence, h.Description)
	}
	return b.String()
}
