package gemini

import "strings"

// ExtractText flattens every text-bearing part of contents, in order,
// separated by a single space.
func ExtractText(contents []Content) string {
	var parts []string
	for _, c := range contents {
		for _, p := range c.Parts {
			if p.IsText() && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
	}
	return strings.Join(parts, " ")
}

// Text joins the non-thought text parts of the first candidate.
func (r *GenerateContentResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		if p.IsText() && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// PrimaryTextIndex returns the index of the first non-thought text part of
// the first candidate, or -1.
func (r *GenerateContentResponse) PrimaryTextIndex() int {
	if r == nil || len(r.Candidates) == 0 {
		return -1
	}
	for i, p := range r.Candidates[0].Content.Parts {
		if p.IsText() && !p.Thought {
			return i
		}
	}
	return -1
}

// NewTextResponse builds a single-candidate model answer.
func NewTextResponse(text string) *GenerateContentResponse {
	return &GenerateContentResponse{
		Candidates: []Candidate{{
			Content: Content{
				Role:  RoleModel,
				Parts: []Part{{Text: text}},
			},
			FinishReason:  FinishReasonStop,
			Index:         0,
			SafetyRatings: DefaultSafetyRatings(),
		}},
	}
}

func DefaultSafetyRatings() []SafetyRating {
	return []SafetyRating{
		{Category: "HARM_CATEGORY_HATE_SPEECH", Probability: "NEGLIGIBLE"},
		{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Probability: "NEGLIGIBLE"},
		{Category: "HARM_CATEGORY_HARASSMENT", Probability: "NEGLIGIBLE"},
		{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Probability: "NEGLIGIBLE"},
	}
}
