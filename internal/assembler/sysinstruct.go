package assembler

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"geminimock/internal/gemini"
)

const (
	technicalNote = "Technical note: this answer comes from a simulated model. Implementation details are illustrative."
	followUpOffer = "Is there anything else I can help you with?"
)

var contractions = map[string]string{
	"i'm":       "I am",
	"i've":      "I have",
	"i'll":      "I will",
	"i'd":       "I would",
	"you're":    "you are",
	"you'll":    "you will",
	"we're":     "we are",
	"they're":   "they are",
	"it's":      "it is",
	"that's":    "that is",
	"there's":   "there is",
	"let's":     "let us",
	"don't":     "do not",
	"doesn't":   "does not",
	"didn't":    "did not",
	"can't":     "cannot",
	"won't":     "will not",
	"isn't":     "is not",
	"aren't":    "are not",
	"wasn't":    "was not",
	"shouldn't": "should not",
	"couldn't":  "could not",
	"wouldn't":  "would not",
}

var (
	contractionRe = regexp.MustCompile(`(?i)\b[a-z]+'(?:m|ve|ll|d|re|s|t)\b`)
	sentenceRe    = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)\s*`)
)

// SystemInstructions resolves the effective system instruction for a
// request and applies its keyword-driven rewrites to answers.
type SystemInstructions struct {
	global   string
	perModel map[string]string
}

func NewSystemInstructions(global string, perModel map[string]string) *SystemInstructions {
	m := make(map[string]string, len(perModel))
	for k, v := range perModel {
		m[k] = v
	}
	return &SystemInstructions{global: strings.TrimSpace(global), perModel: m}
}

// Resolve picks the request instruction, then the model default, then the
// global default.
func (s *SystemInstructions) Resolve(modelID string, requested *gemini.Content) string {
	if requested != nil {
		if text := gemini.ExtractText([]gemini.Content{*requested}); text != "" {
			return text
		}
	}
	if s == nil {
		return ""
	}
	if v := strings.TrimSpace(s.perModel[modelID]); v != "" {
		return v
	}
	return s.global
}

// systemTurn returns instruction as a one-element system content list,
// or nothing when instruction is empty or any of the given lists already
// has a system turn.
func systemTurn(instruction string, existing ...[]gemini.Content) []gemini.Content {
	if instruction == "" {
		return nil
	}
	for _, contents := range existing {
		if hasSystemTurn(contents) {
			return nil
		}
	}
	return []gemini.Content{{Role: gemini.RoleSystem, Parts: []gemini.Part{{Text: instruction}}}}
}

func hasSystemTurn(contents []gemini.Content) bool {
	for _, c := range contents {
		if c.Role == gemini.RoleSystem {
			return true
		}
	}
	return false
}

// Rewrite applies every behavioral hint found in instruction.
func (s *SystemInstructions) Rewrite(text, instruction string) string {
	lower := strings.ToLower(instruction)
	if lower == "" || text == "" {
		return text
	}
	if containsAny(lower, "formal", "professional") {
		text = expandContractions(text)
	}
	if containsAny(lower, "concise", "brief") {
		text = shorten(text)
	}
	if containsAny(lower, "technical", "detailed") && !strings.Contains(text, technicalNote) {
		text += "\n\n" + technicalNote
	}
	if containsAny(lower, "helpful", "assist") && !strings.HasSuffix(text, followUpOffer) {
		text += "\n\n" + followUpOffer
	}
	return text
}

func expandContractions(text string) string {
	return contractionRe.ReplaceAllStringFunc(text, func(m string) string {
		repl, ok := contractions[strings.ToLower(m)]
		if !ok {
			return m
		}
		first, _ := utf8.DecodeRuneInString(m)
		if unicode.IsUpper(first) {
			r, size := utf8.DecodeRuneInString(repl)
			return string(unicode.ToUpper(r)) + repl[size:]
		}
		return repl
	})
}

// shorten drops roughly the last 30% of sentences, keeping at least one.
func shorten(text string) string {
	spans := sentenceRe.FindAllStringIndex(text, -1)
	if len(spans) < 2 {
		return text
	}
	keep := max(1, int(math.Round(float64(len(spans))*0.7)))
	if keep >= len(spans) {
		return text
	}
	return strings.TrimRightFunc(text[:spans[keep-1][1]], unicode.IsSpace)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
