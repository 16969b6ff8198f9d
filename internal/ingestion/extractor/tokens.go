package extractor

import (
	"math"
	"strings"
	"unicode"
)

// CharsPerToken approximates GPT tokenizers.
const CharsPerToken = 4

// EstimateTokens approximates the token count of s as ceil(runes/4).
func EstimateTokens(s string) int {
	return int(math.Ceil(float64(len([]rune(s))) / CharsPerToken))
}

// TrimToTokens cuts s to roughly n tokens, preferring a whitespace boundary near
// the cut.
func TrimToTokens(s string, n int) string {
	if n <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" || EstimateTokens(s) <= n {
		return s
	}
	r := []rune(s)
	limit := n * CharsPerToken
	cut := limit
	for i := limit; i > limit-limit/10 && i > 0; i-- {
		if unicode.IsSpace(r[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(r[:cut]), unicode.IsSpace)
}
