package business

import (
	"math"
	"unicode/utf8"
)

// DefaultCharsPerToken approximates English text for all supported providers.
const DefaultCharsPerToken = 4.0

// EstimateTokens approximates the token count of text, rounding up.
// Providers that expose a tokenizer endpoint should be preferred; this is
// used for pre-flight estimates only.
func EstimateTokens(text string, charsPerToken float64) int {
	if text == "" {
		return 0
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / charsPerToken))
}

// NormalizeUsage fills a missing total and clamps negative counts.
func NormalizeUsage(prompt, completion, total int64) (int64, int64, int64) {
	prompt = max(prompt, 0)
	completion = max(completion, 0)
	if total <= 0 {
		total = prompt + completion
	}
	return prompt, completion, total
}
