// Package tokens provides the character-based token estimation heuristic
// used for context budgeting and audit accounting. The heuristic is the
// contract: audit numbers are defined by it, not by provider-reported counts.
package tokens

import "math"

// Estimate returns the estimated token count for a text.
// estimate(text) = max(1, ceil(len(text)/4 * 1.25))
func Estimate(text string) int {
	est := int(math.Ceil(float64(len(text)) / 4.0 * 1.25))
	if est < 1 {
		return 1
	}
	return est
}

// EstimateAll estimates a list of contents independently and sums the results.
func EstimateAll(contents []string) int {
	total := 0
	for _, c := range contents {
		total += Estimate(c)
	}
	return total
}
