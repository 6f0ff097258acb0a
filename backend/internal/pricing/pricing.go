// Package pricing holds the hard-coded per-model USD rate table used to cost
// out a turn's token usage.
package pricing

import "strings"

// rate is one entry in the table: dollars per 1M tokens, input and output.
type rate struct {
	pattern string
	input   float64
	output  float64
}

// table is ordered; the first case-insensitive substring match against a
// model id wins. Rates are USD per 1M tokens.
var table = []rate{
	// OpenAI (https://openai.com/api/pricing/)
	{"gpt-5.1-mini", 0.40, 1.60},
	{"gpt-5.1", 2.50, 10.00},
	{"gpt-5", 5.00, 15.00},
	{"o4-mini", 1.10, 4.40},
	{"o3-mini", 1.10, 4.40},
	{"o3", 10.00, 40.00},
	{"gpt-4.1-mini", 0.40, 1.60},
	{"gpt-4.1-nano", 0.10, 0.40},
	{"gpt-4.1", 2.50, 10.00},
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.00},
	{"gpt-4-turbo", 10.00, 30.00},
	{"gpt-4", 30.00, 60.00},
	{"gpt-3.5-turbo", 0.50, 1.50},
	{"codex-mini", 1.10, 4.40},
	// Anthropic (https://www.anthropic.com/pricing)
	{"claude-opus-4", 15.00, 75.00},
	{"claude-sonnet-4", 3.00, 15.00},
	{"claude-3-5-sonnet", 3.00, 15.00},
	{"claude-3-opus", 15.00, 75.00},
	{"claude-3-sonnet", 3.00, 15.00},
	{"claude-3-haiku", 0.25, 1.25},
}

// defaultInputRate and defaultOutputRate apply when no pattern matches.
const (
	defaultInputRate  = 2.50
	defaultOutputRate = 10.00
)

// Rates returns the input/output USD-per-1M-token rates for model. Matching
// is the first case-insensitive substring hit in table order; unmatched
// models get the default rate.
func Rates(model string) (input, output float64) {
	lower := strings.ToLower(model)
	for _, r := range table {
		if strings.Contains(lower, r.pattern) {
			return r.input, r.output
		}
	}
	return defaultInputRate, defaultOutputRate
}

// Cost returns the USD cost of a turn given its last reported token usage.
// Usage is per-turn, not cumulative: callers must pass the last usage
// snapshot, not a running total, since rates already assume per-request
// semantics.
func Cost(model string, inputTokens, outputTokens int64) float64 {
	in, out := Rates(model)
	return float64(inputTokens)*in/1_000_000 + float64(outputTokens)*out/1_000_000
}
