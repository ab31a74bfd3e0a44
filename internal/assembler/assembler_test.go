package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"geminimock/internal/apierr"
	"geminimock/internal/cache"
	"geminimock/internal/gemini"
	"geminimock/internal/metrics"
	"geminimock/internal/models"
	"geminimock/internal/preset"
	"geminimock/internal/synth"
)

func newTestAssembler(t *testing.T, cfg Config) *Assembler {
	t.Helper()
	if cfg.Generator == nil {
		cfg.Generator = synth.NewGenerator(synth.NewSeededSource(7))
	}
	if cfg.Sleep == nil {
		cfg.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	cfg.Logger = zerolog.Nop()
	return New(cfg)
}

func newTestCache(t *testing.T) *cache.Store {
	t.Helper()
	return cache.New(cache.Config{Logger: zerolog.Nop(), Metrics: metrics.New(prometheus.NewRegistry())})
}

func userContents(text string) []gemini.Content {
	return []gemini.Content{{Role: gemini.RoleUser, Parts: []gemini.Part{{Text: text}}}}
}

func textRequest(text string) *gemini.GenerateContentRequest {
	return &gemini.GenerateContentRequest{Contents: userContents(text)}
}

func TestGenerateGreeting(t *testing.T) {
	a := newTestAssembler(t, Config{})
	resp, err := a.Generate(context.Background(), "gemini-2.0-flash", textRequest("hello"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	const want = "Hello! I'm a mock Gemini model. How can I help you today?"
	if got := resp.Text(); got != want {
		t.Fatalf("expected greeting %q, got %q", want, got)
	}
	c := resp.Candidates[0]
	if c.FinishReason != gemini.FinishReasonStop || c.Content.Role != gemini.RoleModel {
		t.Fatalf("unexpected candidate %+v", c)
	}
	u := resp.UsageMetadata
	if u.PromptTokenCount != synth.EstimateTokens("hello") || u.CandidatesTokenCount != synth.EstimateTokens(want) {
		t.Fatalf("unexpected usage %+v", u)
	}
	if u.TotalTokenCount != u.PromptTokenCount+u.CandidatesTokenCount {
		t.Fatalf("total does not add up: %+v", u)
	}
	if resp.ModelVersion != "gemini-2.0-flash" {
		t.Fatalf("unexpected model version %q", resp.ModelVersion)
	}
}

func TestGenerateDoesNotMutatePresets(t *testing.T) {
	table := StaticPresets(preset.Defaults())
	a := newTestAssembler(t, Config{
		Presets:            table,
		SystemInstructions: NewSystemInstructions("Be helpful.", nil),
	})
	for range 2 {
		if _, err := a.Generate(context.Background(), "gemini-2.0-flash", textRequest("hello")); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}
	if got := table[0].Response.Text(); strings.Contains(got, followUpOffer) {
		t.Fatalf("preset payload was rewritten in place: %q", got)
	}
}

func TestGenerateFallback(t *testing.T) {
	a := newTestAssembler(t, Config{})
	resp, err := a.Generate(context.Background(), "gemini-1.5-flash", textRequest("xyzzy"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text() != preset.Fallback().Text() {
		t.Fatalf("expected fallback text, got %q", resp.Text())
	}
}

func TestGenerateHonorsPresetDelay(t *testing.T) {
	var slept []time.Duration
	a := newTestAssembler(t, Config{
		Presets: StaticPresets{{
			ID:       "slow",
			Name:     "Slow",
			Trigger:  preset.Trigger{Type: preset.TriggerContains, Value: "slow"},
			Response: gemini.NewTextResponse("eventually"),
			DelayMS:  40,
		}},
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	})
	if _, err := a.Generate(context.Background(), "gemini-2.0-flash", textRequest("be slow")); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(slept) != 1 || slept[0] != 40*time.Millisecond {
		t.Fatalf("expected one 40ms delay, got %v", slept)
	}
}

func TestGenerateValidation(t *testing.T) {
	a := newTestAssembler(t, Config{})

	_, err := a.Generate(context.Background(), "gemini-2.0-flash", &gemini.GenerateContentRequest{})
	if ae := apierr.From(err); ae.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing contents, got %v", err)
	}

	_, err = a.Generate(context.Background(), "gemini-9-ultra", textRequest("hello"))
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected model not found, got %v", err)
	}
	if ae := apierr.From(err); ae.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", ae.Code)
	}
}

func TestTokenLimitRejectedEverywhere(t *testing.T) {
	a := newTestAssembler(t, Config{})
	long := strings.Repeat("a", 15000)
	const model = "textembedding-gecko@003"
	ctx := context.Background()

	check := func(op string, err error) {
		t.Helper()
		var tle *synth.TokenLimitError
		if !errors.As(err, &tle) {
			t.Fatalf("%s: expected token limit error, got %v", op, err)
		}
		if ae := apierr.From(err); ae.Code != http.StatusBadRequest || apierr.Status(ae.Code) != "INVALID_ARGUMENT" {
			t.Fatalf("%s: expected 400 INVALID_ARGUMENT, got %d", op, ae.Code)
		}
	}

	_, err := a.Generate(ctx, model, textRequest(long))
	check("generate", err)
	_, err = a.CountTokens(ctx, model, &gemini.CountTokensRequest{Contents: userContents(long)})
	check("countTokens", err)
	_, err = a.Embed(ctx, model, &gemini.EmbedContentRequest{Content: userContents(long)[0]})
	check("embedContent", err)
	_, err = a.BatchEmbed(ctx, model, &gemini.BatchEmbedContentsRequest{Requests: []gemini.EmbedContentRequest{{Content: userContents(long)[0]}}})
	check("batchEmbedContents", err)
}

func TestGenerateEnumSchema(t *testing.T) {
	a := newTestAssembler(t, Config{})
	req := textRequest("This is absolutely amazing!")
	req.GenerationConfig = &gemini.GenerationConfig{
		ResponseMimeType: gemini.MimeTypeEnum,
		ResponseSchema:   &gemini.Schema{Type: gemini.TypeString, Enum: []string{"POSITIVE", "NEGATIVE", "NEUTRAL"}},
	}
	resp, err := a.Generate(context.Background(), "gemini-2.0-flash", req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := resp.Text(); got != "POSITIVE" {
		t.Fatalf("expected bare POSITIVE, got %q", got)
	}
}

func TestGenerateObjectSchema(t *testing.T) {
	a := newTestAssembler(t, Config{})
	schema := &gemini.Schema{
		Type: gemini.TypeObject,
		Properties: gemini.Properties{
			{Name: "name", Schema: &gemini.Schema{Type: gemini.TypeString}},
			{Name: "age", Schema: &gemini.Schema{Type: gemini.TypeInteger}},
		},
		Required: []string{"name"},
	}
	for i := range 20 {
		req := textRequest("Invent a character with an age")
		req.GenerationConfig = &gemini.GenerationConfig{ResponseMimeType: gemini.MimeTypeJSON, ResponseSchema: schema}
		resp, err := a.Generate(context.Background(), "gemini-2.0-flash", req)
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(resp.Text()), &out); err != nil {
			t.Fatalf("response %d is not JSON: %v (%q)", i, err, resp.Text())
		}
		if _, ok := out["name"].(string); !ok {
			t.Fatalf("response %d missing string name: %v", i, out)
		}
		if age, ok := out["age"]; ok {
			n, isNum := age.(float64)
			if !isNum || n != float64(int(n)) || n < 18 || n > 80 {
				t.Fatalf("response %d has bad age %v", i, age)
			}
		}
	}
}

func TestGenerateSchemaOutputIgnoresStyleOverlays(t *testing.T) {
	a := newTestAssembler(t, Config{})
	enum := &gemini.GenerationConfig{
		ResponseMimeType: gemini.MimeTypeEnum,
		ResponseSchema:   &gemini.Schema{Type: gemini.TypeString, Enum: []string{"POSITIVE", "NEGATIVE", "NEUTRAL"}},
	}
	object := &gemini.GenerationConfig{
		ResponseMimeType: gemini.MimeTypeJSON,
		ResponseSchema: &gemini.Schema{
			Type:       gemini.TypeObject,
			Properties: gemini.Properties{{Name: "name", Schema: &gemini.Schema{Type: gemini.TypeString}}},
			Required:   []string{"name"},
		},
	}
	for _, instruction := range []string{"You are a helpful assistant.", "Be concise. Keep it brief."} {
		req := textRequest("This is absolutely amazing! What is quantum computing?")
		req.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: instruction}}}
		req.Tools = []gemini.Tool{{Kind: gemini.ToolGoogleSearch}}

		req.GenerationConfig = enum
		resp, err := a.Generate(context.Background(), "gemini-2.0-flash", req)
		if err != nil {
			t.Fatalf("%q enum: %v", instruction, err)
		}
		if got := resp.Text(); got != "POSITIVE" {
			t.Fatalf("%q: expected bare POSITIVE, got %q", instruction, got)
		}
		if resp.Candidates[0].GroundingMetadata == nil {
			t.Fatalf("%q: grounding metadata dropped for schema output", instruction)
		}

		req.GenerationConfig = object
		resp, err = a.Generate(context.Background(), "gemini-2.0-flash", req)
		if err != nil {
			t.Fatalf("%q object: %v", instruction, err)
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(resp.Text()), &out); err != nil {
			t.Fatalf("%q: response is not JSON: %v (%q)", instruction, err, resp.Text())
		}
		if _, ok := out["name"].(string); !ok {
			t.Fatalf("%q: missing string name: %v", instruction, out)
		}
	}
}

func TestGenerateTrimsToMaxOutputTokens(t *testing.T) {
	a := newTestAssembler(t, Config{})
	req := textRequest("hello")
	req.GenerationConfig = &gemini.GenerationConfig{MaxOutputTokens: 4}
	resp, err := a.Generate(context.Background(), "gemini-2.0-flash", req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Candidates[0].FinishReason != gemini.FinishReasonMaxTokens {
		t.Fatalf("expected MAX_TOKENS, got %s", resp.Candidates[0].FinishReason)
	}
	text := resp.Text()
	if synth.EstimateTokens(text) > 4 || !strings.HasPrefix(text, "Hello!") {
		t.Fatalf("unexpected trimmed text %q", text)
	}
	if resp.UsageMetadata.CandidatesTokenCount != synth.EstimateTokens(text) {
		t.Fatalf("usage not recomputed from trimmed text: %+v", resp.UsageMetadata)
	}
}

func TestGenerateAppliesSystemInstruction(t *testing.T) {
	a := newTestAssembler(t, Config{})
	req := textRequest("hello")
	req.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: "Be formal and helpful."}}}
	resp, err := a.Generate(context.Background(), "gemini-2.0-flash", req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := "Hello! I am a mock Gemini model. How can I help you today?\n\n" + followUpOffer
	if got := resp.Text(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	// The instruction is billed as part of the prompt.
	if got, want := resp.UsageMetadata.PromptTokenCount, synth.EstimateTokens("Be formal and helpful. hello"); got != want {
		t.Fatalf("expected prompt tokens %d, got %d", want, got)
	}
}

func TestGenerateUsesGlobalDefaultInstruction(t *testing.T) {
	a := newTestAssembler(t, Config{SystemInstructions: NewSystemInstructions("Keep answers brief.", nil)})
	resp, err := a.Generate(context.Background(), "gemini-2.0-flash", textRequest("tell me a joke"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := resp.Text(); got != "Why do programmers prefer dark mode?" {
		t.Fatalf("expected shortened joke, got %q", got)
	}
}

func TestGenerateBillsCachedContent(t *testing.T) {
	store := newTestCache(t)
	entry, err := store.Create(cache.CreateRequest{
		Model:    "gemini-1.5-flash",
		Contents: userContents(strings.Repeat("background material ", 20)),
		TTL:      "600s",
	})
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	a := newTestAssembler(t, Config{Cache: store})

	req := textRequest("hello")
	req.CachedContent = entry.Name
	resp, err := a.Generate(context.Background(), "gemini-1.5-flash", req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	u := resp.UsageMetadata
	if u.CachedContentTokenCount != entry.TokenCount() || entry.TokenCount() == 0 {
		t.Fatalf("expected %d cached tokens, got %+v", entry.TokenCount(), u)
	}
	if u.PromptTokenCount != synth.EstimateTokens("hello") {
		t.Fatalf("cached tokens leaked into prompt count: %+v", u)
	}
	if u.TotalTokenCount != u.PromptTokenCount+u.CachedContentTokenCount+u.CandidatesTokenCount {
		t.Fatalf("total does not add up: %+v", u)
	}
	got, err := store.Get(entry.Name)
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if got.HitCount != 1 {
		t.Fatalf("expected one cache hit, got %d", got.HitCount)
	}
}

func TestGenerateCacheMissIsNotAnError(t *testing.T) {
	a := newTestAssembler(t, Config{Cache: newTestCache(t)})
	req := textRequest("hello")
	req.CachedContent = "cachedContents/does-not-exist"
	resp, err := a.Generate(context.Background(), "gemini-2.0-flash", req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.UsageMetadata.CachedContentTokenCount != 0 {
		t.Fatalf("unexpected cached tokens %+v", resp.UsageMetadata)
	}
}

func TestGenerateWithSearchGrounding(t *testing.T) {
	a := newTestAssembler(t, Config{})
	req := textRequest("What is quantum computing?")
	req.Tools = []gemini.Tool{{Kind: gemini.ToolGoogleSearch}}
	resp, err := a.Generate(context.Background(), "gemini-2.0-flash", req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	text := resp.Text()
	if !strings.HasPrefix(text, `Based on current search results for "quantum computing":`) {
		t.Fatalf("enhanced content not prepended: %q", text)
	}
	if !strings.HasSuffix(text, preset.Fallback().Text()) {
		t.Fatalf("answer lost after grounding: %q", text)
	}
	meta := resp.Candidates[0].GroundingMetadata
	if meta == nil || !cmp.Equal(meta.WebSearchQueries, []string{"quantum computing"}) {
		t.Fatalf("unexpected grounding metadata %+v", meta)
	}
	if len(meta.GroundingSupports) < 2 {
		t.Fatalf("expected anchored supports, got %+v", meta.GroundingSupports)
	}
	for _, s := range meta.GroundingSupports {
		if text[s.Segment.StartIndex:s.Segment.EndIndex] != s.Segment.Text {
			t.Fatalf("support %+v not anchored in answer", s.Segment)
		}
	}
}

func TestGenerateWithCodeExecution(t *testing.T) {
	a := newTestAssembler(t, Config{})
	req := textRequest("write a python function")
	req.Tools = []gemini.Tool{{Kind: gemini.ToolCodeExecution}}
	resp, err := a.Generate(context.Background(), "gemini-2.0-flash", req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	parts := resp.Candidates[0].Content.Parts
	code, result := -1, -1
	for i, p := range parts {
		if p.ExecutableCode != nil {
			code = i
		}
		if p.CodeExecutionResult != nil {
			result = i
		}
	}
	if code < 0 || result != code+1 {
		t.Fatalf("expected result right after code, got %#v", parts)
	}
	if out := parts[result].CodeExecutionResult; out.Outcome != gemini.OutcomeOK || out.Output != "5" {
		t.Fatalf("unexpected execution result %+v", out)
	}
}

func TestGenerateThinking(t *testing.T) {
	a := newTestAssembler(t, Config{})
	const q = "Can you give me a detailed explanation of how databases store data?"

	resp, err := a.Generate(context.Background(), "gemini-2.5-flash", textRequest(q))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	first := resp.Candidates[0].Content.Parts[0]
	if !first.Thought || !strings.HasSuffix(first.Text, "Now let me answer the question.") {
		t.Fatalf("expected leading thought part, got %#v", first)
	}
	if strings.Contains(resp.Text(), "Let me think") {
		t.Fatalf("thought leaked into answer text")
	}
	u := resp.UsageMetadata
	if u.ThoughtsTokenCount != synth.EstimateTokens(first.Text) {
		t.Fatalf("unexpected thoughts tokens %+v", u)
	}
	if u.TotalTokenCount != u.PromptTokenCount+u.CandidatesTokenCount+u.ThoughtsTokenCount {
		t.Fatalf("total does not add up: %+v", u)
	}

	zero := 0
	req := textRequest(q)
	req.GenerationConfig = &gemini.GenerationConfig{ThinkingConfig: &gemini.ThinkingConfig{ThinkingBudget: &zero}}
	resp, err = a.Generate(context.Background(), "gemini-2.5-flash", req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Candidates[0].Content.Parts[0].Thought {
		t.Fatalf("thinking should be disabled by a zero budget")
	}

	resp, err = a.Generate(context.Background(), "gemini-2.0-flash", textRequest(q))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Candidates[0].Content.Parts[0].Thought {
		t.Fatalf("non-thinking model produced a thought")
	}
}

func TestCountTokens(t *testing.T) {
	store := newTestCache(t)
	entry, err := store.Create(cache.CreateRequest{Model: "gemini-1.5-pro", Contents: userContents("a cached preamble of some length")})
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	a := newTestAssembler(t, Config{Cache: store})

	resp, err := a.CountTokens(context.Background(), "models/gemini-1.5-pro", &gemini.CountTokensRequest{Contents: userContents("hello world")})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	want := &gemini.CountTokensResponse{TotalTokens: 3, TotalBillableCharacters: 10}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Fatalf("count mismatch (-want +got):\n%s", diff)
	}

	resp, err = a.CountTokens(context.Background(), "gemini-1.5-pro", &gemini.CountTokensRequest{
		GenerateContentRequest: &gemini.GenerateContentRequest{Contents: userContents("hello world"), CachedContent: entry.Name},
	})
	if err != nil {
		t.Fatalf("count with cache: %v", err)
	}
	if resp.CachedContentTokenCount != entry.TokenCount() || resp.TotalTokens != 3+entry.TokenCount() {
		t.Fatalf("cached tokens not included: %+v", resp)
	}
	if got, _ := store.Get(entry.Name); got.HitCount != 0 {
		t.Fatalf("counting tokens should not register a cache hit")
	}

	if _, err := a.CountTokens(context.Background(), "gemini-1.5-pro", &gemini.CountTokensRequest{}); apierr.From(err).Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty request, got %v", err)
	}
}

func TestEmbed(t *testing.T) {
	a := newTestAssembler(t, Config{})
	ctx := context.Background()
	req := func(text string) *gemini.EmbedContentRequest {
		return &gemini.EmbedContentRequest{Content: userContents(text)[0]}
	}

	first, err := a.Embed(ctx, "text-embedding-004", req("the quick brown fox"))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	again, err := a.Embed(ctx, "text-embedding-004", req("the quick brown fox"))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if diff := cmp.Diff(first.Embedding.Values, again.Embedding.Values); diff != "" {
		t.Fatalf("embedding not deterministic:\n%s", diff)
	}
	if len(first.Embedding.Values) != 768 {
		t.Fatalf("expected 768 dimensions, got %d", len(first.Embedding.Values))
	}
	other, err := a.Embed(ctx, "text-embedding-004", req("a lazy dog"))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if cmp.Equal(first.Embedding.Values, other.Embedding.Values) {
		t.Fatalf("different texts produced identical vectors")
	}

	mm, err := a.Embed(ctx, "multimodalembedding@001", req("the quick brown fox"))
	if err != nil {
		t.Fatalf("embed multimodal: %v", err)
	}
	if len(mm.Embedding.Values) != 1408 {
		t.Fatalf("expected 1408 dimensions, got %d", len(mm.Embedding.Values))
	}

	small := req("the quick brown fox")
	small.OutputDimensionality = 64
	reduced, err := a.Embed(ctx, "text-embedding-004", small)
	if err != nil {
		t.Fatalf("embed reduced: %v", err)
	}
	if len(reduced.Embedding.Values) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(reduced.Embedding.Values))
	}
}

func TestBatchEmbedPreservesOrder(t *testing.T) {
	a := newTestAssembler(t, Config{})
	texts := []string{"one", "two", "three"}
	var reqs []gemini.EmbedContentRequest
	for _, text := range texts {
		reqs = append(reqs, gemini.EmbedContentRequest{Content: userContents(text)[0]})
	}
	resp, err := a.BatchEmbed(context.Background(), "text-embedding-005", &gemini.BatchEmbedContentsRequest{Requests: reqs})
	if err != nil {
		t.Fatalf("batch embed: %v", err)
	}
	for i, text := range texts {
		if diff := cmp.Diff(synth.Embed(text, 768), resp.Embeddings[i].Values); diff != "" {
			t.Fatalf("embedding %d out of order:\n%s", i, diff)
		}
	}
}
