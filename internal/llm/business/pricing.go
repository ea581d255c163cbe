// Package business holds the cost side of LLM usage: per-model pricing,
// persisted rate overrides, and token estimation.
package business

import (
	"math"
	"sort"
	"strings"
)

// TokensPerUnit is the denominator for every Rate: rates are USD per
// 1,000,000 tokens.
const TokensPerUnit = 1_000_000

// costPrecision rounds costs to six decimal places.
const costPrecision = 1e6

// Rate is a prompt/completion price pair in USD per 1,000,000 tokens.
type Rate struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

// Cost prices a token pair at r, rounded to six decimal places.
// Negative token counts are treated as zero.
func (r Rate) Cost(promptTokens, completionTokens int64) float64 {
	promptTokens = max(promptTokens, 0)
	completionTokens = max(completionTokens, 0)
	if promptTokens == 0 && completionTokens == 0 {
		return 0
	}

	raw := float64(promptTokens)*r.Prompt/TokensPerUnit +
		float64(completionTokens)*r.Completion/TokensPerUnit
	return RoundCost(raw)
}

// RoundCost rounds a USD amount to six decimal places.
func RoundCost(v float64) float64 {
	return math.Round(v*costPrecision) / costPrecision
}

// per1K converts a historical per-1K-token price pair into a Rate.
func per1K(prompt, completion float64) Rate {
	return Rate{Prompt: prompt * 1000, Completion: completion * 1000}
}

// DefaultRate prices any model not in the table: $10 / $30 per 1M tokens.
var DefaultRate = per1K(0.01, 0.03)

// staticRates is the built-in table, declared in USD per 1K tokens.
var staticRates = map[string]Rate{
	"gpt-4o":            per1K(0.0025, 0.01),
	"gpt-4o-mini":       per1K(0.00015, 0.0006),
	"gpt-4-turbo":       per1K(0.01, 0.03),
	"gpt-4":             per1K(0.03, 0.06),
	"gpt-3.5-turbo":     per1K(0.0005, 0.0015),
	"claude-3-5-sonnet": per1K(0.003, 0.015),
	"claude-3-5-haiku":  per1K(0.0008, 0.004),
	"claude-3-opus":     per1K(0.015, 0.075),
	"claude-3-haiku":    per1K(0.00025, 0.00125),
	"gemini-1.5-pro":    per1K(0.00125, 0.005),
	"gemini-1.5-flash":  per1K(0.000075, 0.0003),
}

// StaticPricing is the read-only in-code price table.
type StaticPricing struct {
	rates    map[string]Rate
	prefixes []string // longest first
	fallback Rate
}

// NewStaticPricing returns the built-in table. overrides replace or extend
// individual entries and may be nil.
func NewStaticPricing(overrides map[string]Rate) *StaticPricing {
	rates := make(map[string]Rate, len(staticRates)+len(overrides))
	for k, v := range staticRates {
		rates[k] = v
	}
	for k, v := range overrides {
		rates[strings.ToLower(k)] = v
	}

	prefixes := make([]string, 0, len(rates))
	for k := range rates {
		prefixes = append(prefixes, k)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	return &StaticPricing{rates: rates, prefixes: prefixes, fallback: DefaultRate}
}

// Lookup returns the rate for model and whether the table knows it.
// Dated ids such as "claude-3-5-haiku-20241022" match their longest known prefix.
func (s *StaticPricing) Lookup(model string) (Rate, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if r, ok := s.rates[m]; ok {
		return r, true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(m, p) {
			return s.rates[p], true
		}
	}
	return s.fallback, false
}

// Rate returns the rate for model, or DefaultRate when unknown.
func (s *StaticPricing) Rate(model string) Rate {
	r, _ := s.Lookup(model)
	return r
}

// CalculateCost prices a request for model.
func (s *StaticPricing) CalculateCost(model string, promptTokens, completionTokens int64) float64 {
	return s.Rate(model).Cost(promptTokens, completionTokens)
}
