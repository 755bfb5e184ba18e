package search

import "unicode"

// EstimateTokens approximates LLM token usage without a tokenizer model.
// CJK characters count as one token each; everything else averages four
// characters per token. Close enough for budget truncation.
func EstimateTokens(text string) int {
	cjk := 0
	other := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}
