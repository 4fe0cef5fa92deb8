package oracle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type categoryDoc struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func TestDecodeIntoDirectJSON(t *testing.T) {
	var p categoryDoc
	err := DecodeInto(`{"category":"metrics","confidence":0.8}`, &p)
	require.NoError(t, err)
	assert.Equal(t, "metrics", p.Category)
	assert.Equal(t, 0.8, p.Confidence)
}

func TestDecodeIntoStripsCodeFences(t *testing.T) {
	content := "Here is my answer:\n```json\n{\"category\":\"logs\",\"confidence\":0.6}\n```\nHope that helps!"
	var p categoryDoc
	err := DecodeInto(content, &p)
	require.NoError(t, err)
	assert.Equal(t, "logs", p.Category)
}

func TestDecodeIntoBareFence(t *testing.T) {
	content := "```\n{\"category\":\"alerts\",\"confidence\":0.9}\n```"
	var p categoryDoc
	err := DecodeInto(content, &p)
	require.NoError(t, err)
	assert.Equal(t, "alerts", p.Category)
}

func TestDecodeIntoFindsEmbeddedObject(t *testing.T) {
	content := `Based on the evidence, the answer is {"category":"incident","confidence":0.75} as discussed above.`
	var p categoryDoc
	err := DecodeInto(content, &p)
	require.NoError(t, err)
	assert.Equal(t, "incident", p.Category)
}

func TestDecodeIntoHandlesBracesInsideStrings(t *testing.T) {
	content := `prefix {"category":"logs with {braces} and \"quotes\"","confidence":0.5} suffix`
	var p categoryDoc
	err := DecodeInto(content, &p)
	require.NoError(t, err)
	assert.Equal(t, `logs with {braces} and "quotes"`, p.Category)
}

func TestDecodeIntoNestedObject(t *testing.T) {
	var v struct {
		Outer struct {
			Inner string `json:"inner"`
		} `json:"outer"`
	}
	err := DecodeInto(`noise {"outer":{"inner":"value"}} noise`, &v)
	require.NoError(t, err)
	assert.Equal(t, "value", v.Outer.Inner)
}

func TestDecodeIntoGarbageIsParseError(t *testing.T) {
	var p categoryDoc
	err := DecodeInto("I could not determine a category, sorry.", &p)
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	// The extraction hint must reach logs through the error message.
	assert.NotEmpty(t, pe.Hint)
	assert.Contains(t, err.Error(), pe.Hint)
}

func TestParseErrorMessageCarriesHint(t *testing.T) {
	err := &ParseError{Hint: "no JSON object found in content"}
	assert.Contains(t, err.Error(), "no JSON object found in content")

	wrapped := &ParseError{Hint: "schema mismatch", Err: errors.New("unexpected end of input")}
	assert.Contains(t, wrapped.Error(), "schema mismatch")
	assert.Contains(t, wrapped.Error(), "unexpected end of input")
}

func TestDecodeIntoUnbalancedBraces(t *testing.T) {
	var p categoryDoc
	err := DecodeInto(`{"category":"truncated`, &p)
	require.Error(t, err)

	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}
