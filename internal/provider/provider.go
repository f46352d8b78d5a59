// Package provider models the two upstream LLM APIs being proxied.
//
// The provider set is a closed enumeration with a small per-variant table
// (endpoint, credential header, usage extraction). Selection is by the
// route invoked, never by inspecting the model field.
package provider

import (
	"encoding/json"
	"net/http"
)

// Provider identifies one of the two upstream LLM APIs.
type Provider int

const (
	// OpenAI is the chat-completions upstream (POST /v1/chat/completions).
	OpenAI Provider = iota
	// Anthropic is the messages upstream (POST /v1/messages).
	Anthropic
)

// anthropicVersion is the API version header Anthropic requires.
const anthropicVersion = "2023-06-01"

// Usage holds provider-reported token counts.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

type profile struct {
	tag              string
	path             string
	defaultMaxOutput int64
	applyAuth        func(h http.Header, key string)
	parseUsage       func(body []byte) (Usage, bool)
	newScanner       func() UsageScanner
}

var profiles = [...]profile{
	OpenAI: {
		tag:              "openai",
		path:             "/v1/chat/completions",
		defaultMaxOutput: 4096,
		applyAuth: func(h http.Header, key string) {
			h.Set("Authorization", "Bearer "+key)
		},
		parseUsage: parseOpenAIUsage,
		newScanner: func() UsageScanner { return newOpenAIScanner() },
	},
	Anthropic: {
		tag:              "anthropic",
		path:             "/v1/messages",
		defaultMaxOutput: 4096,
		applyAuth: func(h http.Header, key string) {
			h.Set("x-api-key", key)
			h.Set("anthropic-version", anthropicVersion)
		},
		parseUsage: parseAnthropicUsage,
		newScanner: func() UsageScanner { return newAnthropicScanner() },
	},
}

// Tag returns the short provider name used in logs and usage records.
func (p Provider) Tag() string {
	return profiles[p].tag
}

// Path returns the upstream request path.
func (p Provider) Path() string {
	return profiles[p].path
}

// DefaultMaxOutput is the output-token cap assumed by the admission gate
// when the request does not set one.
func (p Provider) DefaultMaxOutput() int64 {
	return profiles[p].defaultMaxOutput
}

// ApplyAuth sets the upstream credential headers on an outgoing request.
// The same shape serves the gateway's master credential and a BYOK caller
// credential.
func (p Provider) ApplyAuth(h http.Header, key string) {
	profiles[p].applyAuth(h, key)
}

// ParseUsage extracts token counts from a buffered (non-streaming)
// response body. Returns false when the provider omitted usage.
func (p Provider) ParseUsage(body []byte) (Usage, bool) {
	return profiles[p].parseUsage(body)
}

// NewScanner returns a streaming usage scanner for this provider's SSE
// wire format.
func (p Provider) NewScanner() UsageScanner {
	return profiles[p].newScanner()
}

// openAIResponse is the subset of a buffered chat-completions response
// needed for billing.
type openAIResponse struct {
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func parseOpenAIUsage(body []byte) (Usage, bool) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return Usage{}, false
	}
	return Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, true
}

// anthropicResponse is the subset of a buffered messages response needed
// for billing.
type anthropicResponse struct {
	Usage *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func parseAnthropicUsage(body []byte) (Usage, bool) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return Usage{}, false
	}
	return Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, true
}
