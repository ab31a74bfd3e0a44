package synth

import "strings"

type enumRule struct {
	value    string
	keywords []string
}

var (
	sentimentRules = []enumRule{
		{value: "positive", keywords: []string{"love", "great", "excellent", "amazing"}},
		{value: "negative", keywords: []string{"hate", "bad", "terrible", "awful"}},
	}
	genreRules = []enumRule{
		{value: "drama", keywords: []string{"serious", "emotional", "drama", "moving", "tragic", "sad"}},
		{value: "comedy", keywords: []string{"funny", "humor", "humour", "comedy", "laugh", "hilarious", "joke"}},
		{value: "documentary", keywords: []string{"documentary", "factual", "real-life", "real life", "true story", "history", "nature"}},
	}
	conditionRules = []enumRule{
		{value: "damaged", keywords: []string{"tear", "broken", "damage"}},
		{value: "new in package", keywords: []string{"new"}},
		{value: "used", keywords: []string{"used"}},
	}
)

// SelectEnum picks a member of values using fixed keyword tables and falls
// back to the first value. The result is always a member of values, or ""
// when values is empty.
func SelectEnum(values []string, input string) string {
	if len(values) == 0 {
		return ""
	}
	lower := strings.ToLower(input)

	if member(values, "positive") != "" && member(values, "negative") != "" {
		if v := applyRules(values, sentimentRules, lower); v != "" {
			return v
		}
		if v := member(values, "neutral"); v != "" {
			return v
		}
	}
	if v := applyRules(values, genreRules, lower); v != "" {
		return v
	}
	if v := applyRules(values, conditionRules, lower); v != "" {
		return v
	}
	return values[0]
}

func applyRules(values []string, rules []enumRule, lower string) string {
	for _, r := range rules {
		v := member(values, r.value)
		if v == "" {
			continue
		}
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return v
			}
		}
	}
	return ""
}

func member(values []string, want string) string {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return v
		}
	}
	return ""
}
