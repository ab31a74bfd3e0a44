package synth

import (
	"slices"
	"testing"
)

func TestSelectEnum(t *testing.T) {
	sentiment := []string{"POSITIVE", "NEGATIVE", "NEUTRAL"}
	genres := []string{"action", "drama", "comedy", "documentary"}
	conditions := []string{"used", "new in package", "damaged"}

	cases := []struct {
		values []string
		input  string
		want   string
	}{
		{sentiment, "This is absolutely amazing!", "POSITIVE"},
		{sentiment, "I hate waiting in line", "NEGATIVE"},
		{sentiment, "The package arrived on Tuesday", "NEUTRAL"},
		{[]string{"negative", "positive"}, "meh", "negative"},
		{genres, "A moving, emotional story", "drama"},
		{genres, "Something funny to watch", "comedy"},
		{genres, "A film about real-life events in history", "documentary"},
		{genres, "explosions", "action"},
		{conditions, "The box has a tear on the side", "damaged"},
		{conditions, "Brand new, never opened", "new in package"},
		{conditions, "Gently used", "used"},
		{[]string{"red", "green"}, "I love green", "red"},
	}
	for _, tc := range cases {
		got := SelectEnum(tc.values, tc.input)
		if got != tc.want {
			t.Fatalf("SelectEnum(%v, %q) = %q, want %q", tc.values, tc.input, got, tc.want)
		}
		if !slices.Contains(tc.values, got) {
			t.Fatalf("result %q not in enum", got)
		}
	}
	if got := SelectEnum(nil, "x"); got != "" {
		t.Fatalf("expected empty string for empty enum, got %q", got)
	}
}
