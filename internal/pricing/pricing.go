// Package pricing holds the static sell-rate table and cost arithmetic.
// All amounts are integer minor units; rates are minor units per million
// tokens. Rounding always goes up so the operator never undercharges.
package pricing

import "strings"

// Rate holds per-million-token sell rates in minor units.
type Rate struct {
	Input  int64
	Output int64
}

// defaultRate applies to unrecognized models. It is deliberately generous
// (priced like a frontier model) to bias against undercharging.
var defaultRate = Rate{Input: 1500, Output: 7500}

// rates maps canonical model identifiers to sell rates.
var rates = map[string]Rate{
	// OpenAI-wire models
	"gpt-4o":       {Input: 500, Output: 1500},
	"gpt-4o-mini":  {Input: 30, Output: 120},
	"gpt-4.1":      {Input: 300, Output: 1200},
	"gpt-4.1-mini": {Input: 60, Output: 240},
	"o3-mini":      {Input: 200, Output: 800},

	// Anthropic-wire models
	"claude-3-5-haiku":  {Input: 150, Output: 750},
	"claude-3-5-sonnet": {Input: 450, Output: 2250},
	"claude-3-7-sonnet": {Input: 450, Output: 2250},
	"claude-3-opus":     {Input: 2250, Output: 11250},
}

// aliases maps known model name variants to their canonical identifier.
// Unknown names pass through unchanged.
var aliases = map[string]string{
	"gpt-4o-2024-08-06":          "gpt-4o",
	"gpt-4o-mini-2024-07-18":     "gpt-4o-mini",
	"chatgpt-4o-latest":          "gpt-4o",
	"claude-3-5-haiku-latest":    "claude-3-5-haiku",
	"claude-3-5-haiku-20241022":  "claude-3-5-haiku",
	"claude-3-5-sonnet-latest":   "claude-3-5-sonnet",
	"claude-3-5-sonnet-20240620": "claude-3-5-sonnet",
	"claude-3-5-sonnet-20241022": "claude-3-5-sonnet",
	"claude-3-7-sonnet-latest":   "claude-3-7-sonnet",
	"claude-3-7-sonnet-20250219": "claude-3-7-sonnet",
	"claude-3-opus-latest":       "claude-3-opus",
	"claude-3-opus-20240229":     "claude-3-opus",
}

const tokensPerMillion = 1_000_000

// heuristicCharsPerToken is the coarse character-count estimate used when a
// provider does not report token counts. Only the admission gate and the
// billing fallback use it; provider-reported counts always win.
const heuristicCharsPerToken = 4

// ResolveAlias maps a model name variant to its canonical identifier.
// Unknown names pass through unchanged.
func ResolveAlias(name string) string {
	canonical := strings.ToLower(strings.TrimSpace(name))
	if mapped, ok := aliases[canonical]; ok {
		return mapped
	}
	return canonical
}

// RateOf returns the sell rate for a canonical model identifier,
// falling back to the generous default for unrecognized models.
func RateOf(canonical string) Rate {
	if r, ok := rates[canonical]; ok {
		return r
	}
	return defaultRate
}

// Cost computes the exact charge in minor units for a completed request.
// The result is always rounded up: ceil(in*inRate/1e6 + out*outRate/1e6).
func Cost(model string, inputTokens, outputTokens int64) int64 {
	r := RateOf(ResolveAlias(model))

	numerator := inputTokens*r.Input + outputTokens*r.Output
	if numerator <= 0 {
		return 0
	}
	return (numerator + tokensPerMillion - 1) / tokensPerMillion
}

// EstimateMaxCost is the pre-flight admission bound: the worst-case charge
// if the model emits maxOutputTokens. For any actual output count at or
// below the cap, EstimateMaxCost >= Cost.
func EstimateMaxCost(model string, inputTokens, maxOutputTokens int64) int64 {
	return Cost(model, inputTokens, maxOutputTokens)
}

// EstimateTokens approximates the token count of a payload by its
// character count. Always at least 1 for non-empty text.
func EstimateTokens(chars int64) int64 {
	if chars <= 0 {
		return 0
	}
	n := chars / heuristicCharsPerToken
	if n < 1 {
		return 1
	}
	return n
}
