package synth

import "unicode/utf8"

// EstimateTokens approximates a token count as ceil(chars/4). Every limit
// comparison in the service goes through this function.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
