package pricing

import "testing"

func TestResolveAlias(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"dated openai snapshot", "gpt-4o-2024-08-06", "gpt-4o"},
		{"latest anthropic tag", "claude-3-5-sonnet-latest", "claude-3-5-sonnet"},
		{"canonical passes through", "gpt-4o", "gpt-4o"},
		{"unknown passes through", "mystery-model-9000", "mystery-model-9000"},
		{"case folded", "GPT-4o", "gpt-4o"},
		{"whitespace trimmed", "  claude-3-opus-latest ", "claude-3-opus"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ResolveAlias(tt.in); got != tt.want {
				t.Errorf("ResolveAlias(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRateOf_UnknownModelUsesDefault(t *testing.T) {
	t.Parallel()

	r := RateOf("mystery-model-9000")
	if r != defaultRate {
		t.Errorf("Unknown model should get the default rate, got %+v", r)
	}

	// The fallback must be at least as expensive as every listed model
	// so an unrecognized name can never undercharge.
	for model, listed := range rates {
		if listed.Input > defaultRate.Input || listed.Output > defaultRate.Output {
			t.Errorf("Default rate undercuts %s: default %+v, listed %+v", model, defaultRate, listed)
		}
	}
}

func TestCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		model  string
		input  int64
		output int64
		want   int64
	}{
		// gpt-4o: 500 in / 1500 out per 1M
		{"exact million", "gpt-4o", 1_000_000, 0, 500},
		{"mixed exact", "gpt-4o", 1_000_000, 1_000_000, 2000},
		{"rounds up", "gpt-4o", 1, 0, 1},
		{"single output token", "gpt-4o", 0, 1, 1},
		{"zero is free", "gpt-4o", 0, 0, 0},
		// 2000 in * 500 = 1_000_000 exactly -> 1 cent, no rounding slack
		{"boundary no rounding", "gpt-4o", 2000, 0, 1},
		// 2001 in * 500 = 1_000_500 -> rounds up to 2
		{"boundary rounds", "gpt-4o", 2001, 0, 2},
		// claude-3-5-sonnet: 450 in / 2250 out per 1M
		{"anthropic mixed", "claude-3-5-sonnet", 10_000, 2_000, 9},
		// alias resolution applies
		{"via alias", "gpt-4o-2024-08-06", 1_000_000, 0, 500},
		// unknown model billed at the default 1500/7500
		{"unknown model", "mystery-model-9000", 1_000_000, 1_000_000, 9000},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Cost(tt.model, tt.input, tt.output); got != tt.want {
				t.Errorf("Cost(%q, %d, %d) = %d, want %d", tt.model, tt.input, tt.output, got, tt.want)
			}
		})
	}
}

func TestCost_NeverRoundsDown(t *testing.T) {
	t.Parallel()

	// Any positive token count must cost at least one minor unit.
	for in := int64(1); in < 10; in++ {
		if got := Cost("gpt-4o-mini", in, 0); got < 1 {
			t.Errorf("Cost(gpt-4o-mini, %d, 0) = %d, want >= 1", in, got)
		}
	}
}

func TestEstimateMaxCost_BoundsActualCost(t *testing.T) {
	t.Parallel()

	model := "claude-3-5-haiku"
	inputTokens := int64(5_000)
	maxOutput := int64(4096)

	bound := EstimateMaxCost(model, inputTokens, maxOutput)

	for _, actual := range []int64{0, 1, 100, 2048, 4096} {
		if cost := Cost(model, inputTokens, actual); cost > bound {
			t.Errorf("Cost with %d output tokens (%d) exceeds admission bound (%d)", actual, cost, bound)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		chars int64
		want  int64
	}{
		{"empty", 0, 0},
		{"short text floors to one", 2, 1},
		{"four chars per token", 12, 3},
		{"remainder truncated", 15, 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EstimateTokens(tt.chars); got != tt.want {
				t.Errorf("EstimateTokens(%d) = %d, want %d", tt.chars, got, tt.want)
			}
		})
	}
}
