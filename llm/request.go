// Package llm implements the request dispatch and structured-response
// enforcement pipeline: adapter selection per provider, conversion of the
// vendor-neutral conversation into vendor wire formats, classified vendor
// calls, and schema-constrained output parsing.
package llm

import (
	"github.com/dumitrescustefan/llm-serv/conversation"
	"github.com/dumitrescustefan/llm-serv/schema"
)

// ModelTokens holds token usage for one vendor invocation. Fields the
// vendor omits stay zero.
type ModelTokens struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ResponseFormat tags how a request's output is interpreted.
type ResponseFormat string

const (
	FormatText       ResponseFormat = "text"
	FormatStructured ResponseFormat = "structured"
)

// Request is an immutable value object for one dispatch. Unset generation
// parameters are omitted from the vendor payload; adapters supply defaults
// from model metadata where the vendor requires a value.
type Request struct {
	Conversation        conversation.Conversation `json:"conversation"`
	Temperature         *float64                  `json:"temperature,omitempty"`
	TopP                *float64                  `json:"top_p,omitempty"`
	MaxCompletionTokens *int                      `json:"max_completion_tokens,omitempty"`

	// ResponseSchema, when set, constrains the output shape.
	ResponseSchema *schema.Schema `json:"response_schema,omitempty"`

	// Timeout is the per-call timeout in seconds. Values <= 0 are
	// coerced to MinTimeoutSeconds, never rejected.
	Timeout float64 `json:"timeout,omitempty"`
}

// ResponseFormat derives the output interpretation from the request.
func (r *Request) ResponseFormat() ResponseFormat {
	if r.ResponseSchema != nil {
		return FormatStructured
	}
	return FormatText
}

// MinTimeoutSeconds is the floor applied to caller-supplied timeouts.
const MinTimeoutSeconds = 5.0

// ClampTimeout coerces a timeout in seconds to the allowed minimum.
func ClampTimeout(seconds float64) float64 {
	if seconds <= 0 {
		return MinTimeoutSeconds
	}
	return seconds
}

// Response is the result of exactly one dispatch. Output always carries
// the raw vendor text; Value is set when a schema was requested and the
// output validated against it.
type Response struct {
	Output string       `json:"output"`
	Value  schema.Value `json:"value,omitempty"`
	Tokens ModelTokens  `json:"tokens"`
}
