package assembler

import (
	"testing"

	"geminimock/internal/gemini"
)

func TestResolvePrecedence(t *testing.T) {
	s := NewSystemInstructions("global default", map[string]string{"gemini-1.5-pro": "model default"})
	req := &gemini.Content{Parts: []gemini.Part{{Text: "from request"}}}

	if got := s.Resolve("gemini-1.5-pro", req); got != "from request" {
		t.Fatalf("request instruction should win, got %q", got)
	}
	if got := s.Resolve("gemini-1.5-pro", nil); got != "model default" {
		t.Fatalf("expected model default, got %q", got)
	}
	if got := s.Resolve("gemini-2.0-flash", nil); got != "global default" {
		t.Fatalf("expected global default, got %q", got)
	}
	if got := NewSystemInstructions("", nil).Resolve("gemini-2.0-flash", nil); got != "" {
		t.Fatalf("expected no instruction, got %q", got)
	}
}

func TestSystemTurnSkipsExistingSystemRole(t *testing.T) {
	own := []gemini.Content{{Role: gemini.RoleSystem, Parts: []gemini.Part{{Text: "already here"}}}}
	if got := systemTurn("be brief", own); got != nil {
		t.Fatalf("expected no extra system turn, got %#v", got)
	}
	got := systemTurn("be brief", nil)
	if len(got) != 1 || got[0].Role != gemini.RoleSystem || got[0].Parts[0].Text != "be brief" {
		t.Fatalf("unexpected system turn %#v", got)
	}
}

func TestRewrite(t *testing.T) {
	s := NewSystemInstructions("", nil)
	cases := []struct {
		name        string
		instruction string
		in          string
		want        string
	}{
		{
			name:        "formal expands contractions",
			instruction: "Use a formal tone.",
			in:          "I'm sure it's fine, don't worry.",
			want:        "I am sure it is fine, do not worry.",
		},
		{
			name:        "concise drops trailing sentences",
			instruction: "Be concise.",
			in:          "One. Two. Three. Four. Five.",
			want:        "One. Two. Three. Four.",
		},
		{
			name:        "technical appends note",
			instruction: "Give technical answers.",
			in:          "Answer.",
			want:        "Answer.\n\n" + technicalNote,
		},
		{
			name:        "helpful appends offer",
			instruction: "You are a helpful assistant.",
			in:          "Answer.",
			want:        "Answer.\n\n" + followUpOffer,
		},
		{
			name:        "no hints",
			instruction: "Speak like a pirate.",
			in:          "Answer.",
			want:        "Answer.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Rewrite(tc.in, tc.instruction); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
