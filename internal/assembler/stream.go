package assembler

import (
	"context"
	"regexp"

	"geminimock/internal/gemini"
)

var wordSpanRe = regexp.MustCompile(`\S+\s*`)

// Increments splits text into cumulative prefixes, one per word. Leading
// whitespace stays attached to the first prefix so the last prefix is
// always text itself.
func Increments(text string) []string {
	locs := wordSpanRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	out := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := loc[1]
		if i == len(locs)-1 {
			end = len(text)
		}
		out = append(out, text[:end])
	}
	return out
}

// Stream decomposes a completed response into cumulative increments and
// passes each to emit. Every increment replaces the previous one. Only the
// last increment is the full response with finish reason and usage.
func (a *Assembler) Stream(ctx context.Context, resp *gemini.GenerateContentResponse, emit func(*gemini.GenerateContentResponse) error) error {
	prefixes := Increments(resp.Text())
	for i, prefix := range prefixes[:len(prefixes)-1] {
		if i > 0 {
			if err := a.sleep(ctx, a.streamDelay); err != nil {
				return err
			}
		}
		if err := emit(partial(resp, prefix)); err != nil {
			return err
		}
	}
	if len(prefixes) > 1 {
		if err := a.sleep(ctx, a.streamDelay); err != nil {
			return err
		}
	}
	return emit(resp)
}

func partial(resp *gemini.GenerateContentResponse, text string) *gemini.GenerateContentResponse {
	return &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{
				Role:  gemini.RoleModel,
				Parts: []gemini.Part{{Text: text}},
			},
			Index: 0,
		}},
		ModelVersion: resp.ModelVersion,
	}
}
