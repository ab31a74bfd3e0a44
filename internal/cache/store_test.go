package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"geminimock/internal/apierr"
	"geminimock/internal/gemini"
	"geminimock/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := New(Config{
		DefaultTTL: time.Hour,
		Now:        clock.Now,
		Logger:     zerolog.Nop(),
		Metrics:    metrics.New(prometheus.NewRegistry()),
	})
	return s, clock
}

func userText(text string) []gemini.Content {
	return []gemini.Content{{Role: gemini.RoleUser, Parts: []gemini.Part{{Text: text}}}}
}

func TestExpiredEntryIsGoneAfterSweep(t *testing.T) {
	s, clock := newTestStore(t)
	e, err := s.Create(CreateRequest{Model: "gemini-1.5-flash", Contents: userText("some long document"), TTL: "1s"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st := s.Stats(); st.TotalEntries != 1 {
		t.Fatalf("expected 1 entry before expiry, got %+v", st)
	}

	clock.Advance(1500 * time.Millisecond)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected sweep to evict 1 entry, got %d", n)
	}
	if _, err := s.Get(e.Name); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if st := s.Stats(); st.TotalEntries != 0 || st.TotalTokens != 0 {
		t.Fatalf("expected empty stats, got %+v", st)
	}
}

func TestLazyExpiryOnRead(t *testing.T) {
	s, clock := newTestStore(t)
	e, err := s.Create(CreateRequest{Model: "models/gemini-1.5-flash", Contents: userText("doc"), TTL: "30s"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(31 * time.Second)

	if _, ok := s.Apply(e.Name); ok {
		t.Fatalf("expired entry must be a cache miss")
	}
	if len(s.List()) != 0 {
		t.Fatalf("expired entry must not be listed")
	}
	if n := s.Sweep(); n != 0 {
		t.Fatalf("lazy read should already have evicted the entry, sweep removed %d", n)
	}
}

func TestApplyCountsHitsAndTokens(t *testing.T) {
	s, _ := newTestStore(t)
	sys := &gemini.Content{Parts: []gemini.Part{{Text: "You are terse."}}}
	e, err := s.Create(CreateRequest{
		Model:             "gemini-2.0-flash",
		SystemInstruction: sys,
		Contents:          userText("The quick brown fox."),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// "You are terse. The quick brown fox." is 35 runes.
	if e.TokenCount() != 9 {
		t.Fatalf("expected 9 tokens, got %d", e.TokenCount())
	}
	if e.Model != "models/gemini-2.0-flash" {
		t.Fatalf("unexpected model %q", e.Model)
	}

	id := e.Name[len(namePrefix):]
	for _, ref := range []string{e.Name, id, "projects/p/locations/l/" + e.Name} {
		if _, ok := s.Apply(ref); !ok {
			t.Fatalf("apply %q: expected hit", ref)
		}
	}
	if st := s.Stats(); st.TotalHits != 3 || st.TotalTokens != 9 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s, clock := newTestStore(t)
	e, err := s.Create(CreateRequest{Model: "gemini-2.0-flash", Contents: userText("x"), TTL: "10s"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(5 * time.Second)
	updated, err := s.Update(e.Name, UpdateRequest{TTL: "60s"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if want := clock.Now().Add(time.Minute); !updated.ExpireTime.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, updated.ExpireTime)
	}
	clock.Advance(20 * time.Second)
	if _, err := s.Get(e.Name); err != nil {
		t.Fatalf("entry should survive past its original ttl: %v", err)
	}
	if err := s.Delete(e.Name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(e.Name); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Create(CreateRequest{Contents: userText("x")}); apierr.From(err).Code != 400 {
		t.Fatalf("missing model should be 400, got %v", err)
	}
	if _, err := s.Create(CreateRequest{Model: "nope", Contents: userText("x")}); apierr.From(err).Code != 404 {
		t.Fatalf("unknown model should be 404, got %v", err)
	}
	if _, err := s.Create(CreateRequest{Model: "gemini-2.0-flash", Contents: userText("x"), TTL: "-5s"}); apierr.From(err).Code != 400 {
		t.Fatalf("negative ttl should be 400, got %v", err)
	}
}

func TestParseTTL(t *testing.T) {
	cases := map[string]time.Duration{
		"1s":    time.Second,
		"1.5s":  1500 * time.Millisecond,
		"3600s": time.Hour,
		"2m":    2 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseTTL(in)
		if err != nil {
			t.Fatalf("ParseTTL(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseTTL(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseTTL("soon"); err == nil {
		t.Fatalf("expected error for invalid ttl")
	}
}
