package assembler

import (
	"fmt"
	"slices"
	"strings"

	"geminimock/internal/gemini"
	"geminimock/internal/synth"
)

// DefaultThinkingModels are the model ids that emit reasoning traces.
var DefaultThinkingModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.0-flash-thinking-exp",
}

var complexityKeywords = []string{"comprehensive", "detailed", "thorough"}

type queryKind string

const (
	kindTechnical  queryKind = "technical"
	kindCreative   queryKind = "creative"
	kindAnalytical queryKind = "analytical"
	kindFactual    queryKind = "factual"
	kindGeneral    queryKind = "general"
)

var kindRules = []struct {
	kind     queryKind
	keywords []string
	approach string
}{
	{kindTechnical, []string{"code", "program", "function", "algorithm", "api", "debug", "software", "implement"},
		"work out the technical requirements and check the approach for edge cases"},
	{kindCreative, []string{"story", "poem", "imagine", "creative", "write a", "invent"},
		"consider tone, audience and an engaging structure"},
	{kindAnalytical, []string{"analyze", "analyse", "compare", "evaluate", "pros and cons", "why", "impact"},
		"weigh the relevant factors and compare the alternatives"},
	{kindFactual, []string{"what is", "who is", "when", "where", "history", "fact", "define"},
		"recall the relevant facts and present them accurately"},
}

const generalApproach = "identify the core of the request and answer it directly"

// Thinking decides when a reasoning trace is attached and renders it.
// Traces are fixed templates: the same query and hint give the same text.
type Thinking struct {
	models []string
}

func NewThinking(models []string) *Thinking {
	if models == nil {
		models = DefaultThinkingModels
	}
	return &Thinking{models: slices.Clone(models)}
}

// Enabled reports whether modelID thinks and the request has not set a
// zero thinking budget.
func (t *Thinking) Enabled(modelID string, cfg *gemini.GenerationConfig) bool {
	if t == nil || cfg.ThinkingDisabled() {
		return false
	}
	return slices.Contains(t.models, modelID)
}

// IsComplex holds for several questions, more than 20 words, or an
// explicit ask for depth.
func IsComplex(query string) bool {
	if strings.Count(query, "?") > 1 {
		return true
	}
	if len(strings.Fields(query)) > 20 {
		return true
	}
	return containsAny(strings.ToLower(query), complexityKeywords...)
}

func classify(query string) (queryKind, string) {
	lower := strings.ToLower(query)
	for _, r := range kindRules {
		if containsAny(lower, r.keywords...) {
			return r.kind, r.approach
		}
	}
	return kindGeneral, generalApproach
}

// Trace renders the reasoning text for query. hint is the start of the
// final answer. A positive budget caps the trace in tokens.
func (t *Thinking) Trace(query, hint string, budget int) string {
	kind, approach := classify(query)

	var b strings.Builder
	b.WriteString("Let me think through this step by step.\n\n")
	fmt.Fprintf(&b, "First, I need to understand what is being asked. This is a %s question, so I should %s.\n\n", kind, approach)

	lowerHint := strings.ToLower(hint)
	if strings.Contains(hint, "```") || strings.Contains(lowerHint, "def ") || strings.Contains(lowerHint, "function") {
		b.WriteString("The answer will include code, so I should make sure the example is correct and easy to read.\n\n")
	}
	if strings.Contains(lowerHint, "step") || strings.Contains(hint, "1.") {
		b.WriteString("A step-by-step structure will make the answer easier to follow.\n\n")
	}
	b.WriteString("Next, I'll organize the key points and check them for consistency.\n\n")
	b.WriteString("Now let me answer the question.")

	out := b.String()
	if budget > 0 {
		out = synth.TrimOutput(out, budget)
	}
	return out
}
