package assembler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"geminimock/internal/gemini"
)

func TestIncrements(t *testing.T) {
	cases := map[string][]string{
		"":               {""},
		"one":            {"one"},
		"one two  three": {"one ", "one two  ", "one two  three"},
		" lead":          {" lead"},
		"tail ":          {"tail "},
	}
	for in, want := range cases {
		got := Increments(in)
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("Increments(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStreamReconstructsResponse(t *testing.T) {
	var delays []time.Duration
	a := newTestAssembler(t, Config{
		StreamDelay: 50 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	})
	resp, err := a.Generate(context.Background(), "gemini-2.0-flash", textRequest("hello"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var chunks []*gemini.GenerateContentResponse
	err = a.Stream(context.Background(), resp, func(c *gemini.GenerateContentResponse) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	words := len(strings.Fields(resp.Text()))
	if len(chunks) != words {
		t.Fatalf("expected %d chunks, got %d", words, len(chunks))
	}
	if len(delays) != words-1 {
		t.Fatalf("expected a delay between each chunk, got %d", len(delays))
	}
	prev := ""
	for i, c := range chunks {
		text := c.Text()
		if !strings.HasPrefix(text, prev) || len(text) <= len(prev) {
			t.Fatalf("chunk %d is not cumulative: %q after %q", i, text, prev)
		}
		prev = text
		last := i == len(chunks)-1
		if hasFinish := c.Candidates[0].FinishReason != ""; hasFinish != last {
			t.Fatalf("chunk %d finish reason %q", i, c.Candidates[0].FinishReason)
		}
		if hasUsage := c.UsageMetadata != nil; hasUsage != last {
			t.Fatalf("chunk %d usage %+v", i, c.UsageMetadata)
		}
	}
	if prev != resp.Text() {
		t.Fatalf("final chunk %q differs from response %q", prev, resp.Text())
	}
	if chunks[len(chunks)-1].Candidates[0].FinishReason != gemini.FinishReasonStop {
		t.Fatalf("final chunk should carry STOP")
	}
}

func TestStreamEmptyTextSendsOneChunk(t *testing.T) {
	a := newTestAssembler(t, Config{})
	resp := gemini.NewTextResponse("")
	n := 0
	if err := a.Stream(context.Background(), resp, func(*gemini.GenerateContentResponse) error { n++; return nil }); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one chunk, got %d", n)
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	a := newTestAssembler(t, Config{StreamDelay: time.Second, Sleep: sleepContext})
	ctx, cancel := context.WithCancel(context.Background())
	resp := gemini.NewTextResponse("one two three")

	n := 0
	err := a.Stream(ctx, resp, func(*gemini.GenerateContentResponse) error {
		n++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected to stop after the first chunk, got %d", n)
	}
}
