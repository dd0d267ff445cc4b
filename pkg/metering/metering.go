// Package metering converts raw token counts into output-equivalent tokens
// and credits using model-specific multipliers.
package metering

import (
	"github.com/shopspring/decimal"
)

// Weights for output-equivalent tokens. Fresh prompt tokens cost a fraction
// of an output token; cached prompt tokens cost a tenth of that again.
const (
	freshWeight  = 0.35
	cachedWeight = 0.10
	outputWeight = 1.00

	// creditDivisor converts oe_tokens to credits before the multiplier.
	creditDivisor = 10_000

	// LedgerScale is the decimal scale of wallet ledger amounts.
	LedgerScale = 8

	// DisplayScale is the decimal scale of credits in usage summaries.
	DisplayScale = 4
)

// Usage is one LLM call's worth of token counts.
type Usage struct {
	Fresh  int
	Cached int
	Output int
	Total  int
}

// OETokens returns the output-equivalent token scalar for a usage sample.
// Negative inputs are clamped to zero per class.
func OETokens(fresh, cached, output int) float64 {
	return float64(clamp(fresh))*freshWeight +
		float64(clamp(cached))*cachedWeight +
		float64(clamp(output))*outputWeight
}

// Credits computes credits_burned for a usage sample at the given multiplier,
// truncated (never rounded up) to the ledger scale.
func Credits(oeTokens float64, multiplier float64) decimal.Decimal {
	if oeTokens < 0 {
		oeTokens = 0
	}
	oe := decimal.NewFromFloat(oeTokens)
	mult := decimal.NewFromFloat(multiplier)
	return oe.Mul(mult).Div(decimal.NewFromInt(creditDivisor)).Truncate(LedgerScale)
}

// Compute meters one usage sample end to end.
func Compute(fresh, cached, output int, multiplier float64) (float64, decimal.Decimal) {
	oe := OETokens(fresh, cached, output)
	return oe, Credits(oe, multiplier)
}

// DisplayCredits renders a ledger amount at the 4-dp display scale.
// Ledger precision and display precision are distinct; only convert here.
func DisplayCredits(d decimal.Decimal) string {
	return d.Truncate(DisplayScale).StringFixed(DisplayScale)
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
