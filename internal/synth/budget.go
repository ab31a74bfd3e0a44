package synth

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

const charsPerToken = 4

type TokenLimitError struct {
	Direction string
	Tokens    int
	Limit     int
}

func (e *TokenLimitError) Error() string {
	return fmt.Sprintf("The %s token count (%d) exceeds the maximum number of tokens allowed (%d).", e.Direction, e.Tokens, e.Limit)
}

func (e *TokenLimitError) StatusCode() int {
	return http.StatusBadRequest
}

// CheckInput fails with a *TokenLimitError when text is estimated above
// limit. A non-positive limit disables the check.
func CheckInput(text string, limit int) error {
	if limit <= 0 {
		return nil
	}
	if n := EstimateTokens(text); n > limit {
		return &TokenLimitError{Direction: "input", Tokens: n, Limit: limit}
	}
	return nil
}

// TrimOutput shortens text to fit limit tokens. Whole space-separated words
// are kept greedily; when not even the first word fits, text is cut at the
// character budget.
func TrimOutput(text string, limit int) string {
	if EstimateTokens(text) <= limit {
		return text
	}
	if limit <= 0 {
		return ""
	}
	budget := limit * charsPerToken

	var b strings.Builder
	size, kept := 0, 0
	for _, w := range strings.Split(text, " ") {
		add := utf8.RuneCountInString(w)
		if kept > 0 {
			add++
		}
		if size+add > budget {
			break
		}
		if kept > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		size += add
		kept++
	}
	if kept > 0 && b.Len() > 0 {
		return b.String()
	}

	r := []rune(text)
	return string(r[:budget])
}
