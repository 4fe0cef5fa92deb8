package oracle

// Package oracle is the interface to the external reasoning capability: a
// prompt goes in, a structured JSON-encoded decision comes out. The oracle is
// a black box with no guaranteed determinism, so response content is treated
// as untrusted text requiring resilient extraction (see decode.go).

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable indicates the oracle could not be reached or did not answer
// in time. Callers retry bounded, then escalate.
var ErrUnavailable = errors.New("oracle unavailable")

// ParseError indicates the oracle answered but its content could not be
// decoded into the expected decision schema.
type ParseError struct {
	Hint string
	Err  error
}

func (e *ParseError) Error() string {
	msg := "oracle decision parse failed"
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Request is one completion request.
type Request struct {
	Prompt string `json:"prompt"`

	// ResponseFormat is the requested content shape; "json" asks the oracle
	// for a single JSON object.
	ResponseFormat string `json:"response_format,omitempty"`

	// System optionally overrides the system prompt.
	System string `json:"system,omitempty"`
}

// Usage tracks token consumption for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one completion response. Content is raw text that may or may
// not contain valid JSON.
type Response struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Client is the transport-level oracle contract.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
