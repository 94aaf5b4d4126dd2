package llm

import (
	"context"
	"encoding/json"
)

// GenerateRequest carries one completion call's prompt and sampling parameters.
type GenerateRequest struct {
	System          string
	Prompt          string
	MaxOutputTokens int
	// Temperature and TopP are sent only when non-nil so a configured 0 survives.
	Temperature *float64
	TopP        *float64
}

// Backend is a text-completion service. Implementations return whatever the
// service answered; turning that into reply text is the extractors' job.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*Response, error)
}

// Response wraps an unknown-shape backend reply: the raw JSON payload and,
// for SDK backends that expose one, an accessor-provided text.
type Response struct {
	Raw []byte

	text    string
	hasText bool
	decoded any
	decErr  error
	decOnce bool
}

// NewRawResponse wraps a raw JSON payload.
func NewRawResponse(raw []byte) *Response {
	return &Response{Raw: raw}
}

// NewAccessorResponse wraps a payload whose backend already knows the reply text.
func NewAccessorResponse(raw []byte, text string) *Response {
	return &Response{Raw: raw, text: text, hasText: true}
}

// AccessorText returns the backend-provided text, if any.
func (r *Response) AccessorText() (string, bool) {
	return r.text, r.hasText
}

// Decoded returns the payload parsed as generic JSON. Not safe for concurrent use.
func (r *Response) Decoded() (any, error) {
	if !r.decOnce {
		r.decOnce = true
		if len(r.Raw) > 0 {
			r.decErr = json.Unmarshal(r.Raw, &r.decoded)
		}
	}
	return r.decoded, r.decErr
}
