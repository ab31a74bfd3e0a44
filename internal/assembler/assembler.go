package assembler

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"geminimock/internal/apierr"
	"geminimock/internal/cache"
	"geminimock/internal/gemini"
	"geminimock/internal/metrics"
	"geminimock/internal/models"
	"geminimock/internal/preset"
	"geminimock/internal/synth"
)

// PresetSource supplies the trigger table in match order.
type PresetSource interface {
	Presets(ctx context.Context) ([]preset.Preset, error)
}

// StaticPresets is a fixed in-memory preset table.
type StaticPresets []preset.Preset

func (s StaticPresets) Presets(context.Context) ([]preset.Preset, error) {
	return s, nil
}

type Config struct {
	Presets            PresetSource
	Cache              *cache.Store
	Generator          *synth.Generator
	SystemInstructions *SystemInstructions
	Grounding          *Grounding
	CodeExecutor       *CodeExecutor
	Thinking           *Thinking
	StreamDelay        time.Duration
	Sleep              func(ctx context.Context, d time.Duration) error
	Logger             zerolog.Logger
	Metrics            *metrics.Metrics
}

// Assembler turns requests into responses. Every collaborator is owned by
// the instance, so separate assemblers share no state.
type Assembler struct {
	presets     PresetSource
	cache       *cache.Store
	gen         *synth.Generator
	sys         *SystemInstructions
	grounding   *Grounding
	code        *CodeExecutor
	thinking    *Thinking
	streamDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

func New(cfg Config) *Assembler {
	if cfg.Presets == nil {
		cfg.Presets = StaticPresets(preset.Defaults())
	}
	if cfg.Generator == nil {
		cfg.Generator = synth.NewGenerator(nil)
	}
	if cfg.SystemInstructions == nil {
		cfg.SystemInstructions = NewSystemInstructions("", nil)
	}
	if cfg.Grounding == nil {
		cfg.Grounding = NewGrounding()
	}
	if cfg.CodeExecutor == nil {
		cfg.CodeExecutor = NewCodeExecutor()
	}
	if cfg.Thinking == nil {
		cfg.Thinking = NewThinking(nil)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Assembler{
		presets:     cfg.Presets,
		cache:       cfg.Cache,
		gen:         cfg.Generator,
		sys:         cfg.SystemInstructions,
		grounding:   cfg.Grounding,
		code:        cfg.CodeExecutor,
		thinking:    cfg.Thinking,
		streamDelay: cfg.StreamDelay,
		sleep:       cfg.Sleep,
		logger:      cfg.Logger,
		metrics:     m,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Generate runs the full pipeline for one generateContent request.
func (a *Assembler) Generate(ctx context.Context, modelName string, req *gemini.GenerateContentRequest) (*gemini.GenerateContentResponse, error) {
	if req == nil || len(req.Contents) == 0 {
		return nil, apierr.InvalidArgument("contents is required")
	}
	model, err := models.Lookup(modelName)
	if err != nil {
		return nil, err
	}
	gc := req.GenerationConfig

	// Cached content is prepended; a miss is not an error.
	var cached []gemini.Content
	cachedTokens := 0
	requested := req.SystemInstruction
	tools := req.Tools
	if req.CachedContent != "" && a.cache != nil {
		entry, ok := a.cache.Apply(req.CachedContent)
		if ok {
			if entry.SystemInstruction != nil {
				sys := *entry.SystemInstruction
				sys.Role = gemini.RoleSystem
				cached = append(cached, sys)
				if requested == nil {
					requested = entry.SystemInstruction
				}
			}
			cached = append(cached, entry.Contents...)
			cachedTokens = entry.TokenCount()
			if len(tools) == 0 {
				tools = entry.Tools
			}
		} else {
			a.logger.Debug().Str("cached_content", req.CachedContent).Msg("cached content miss")
		}
	}

	instruction := a.sys.Resolve(model.ID(), requested)
	sysTurn := systemTurn(instruction, cached, req.Contents)
	prompt := concat(sysTurn, req.Contents)
	full := concat(sysTurn, cached, req.Contents)
	input := gemini.ExtractText(withoutSystem(req.Contents))

	var searchEnabled, codeEnabled bool
	for _, t := range tools {
		switch t.Kind {
		case gemini.ToolGoogleSearch:
			searchEnabled = true
		case gemini.ToolCodeExecution:
			codeEnabled = true
		}
	}
	var enhanced string
	var grounding *gemini.GroundingMetadata
	if searchEnabled {
		if q, ok := a.grounding.ExtractQuery(input); ok {
			enhanced, grounding = a.grounding.Build(q)
		}
	}

	if err := synth.CheckInput(gemini.ExtractText(full), model.InputTokenLimit); err != nil {
		a.metrics.TokenLimitRejected.Inc()
		return nil, err
	}

	resp, structured, err := a.selectPayload(ctx, gc, input)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		resp.Candidates = gemini.NewTextResponse("").Candidates
	}
	cand := &resp.Candidates[0]
	if cand.Content.Role == "" {
		cand.Content.Role = gemini.RoleModel
	}
	if cand.FinishReason == "" {
		cand.FinishReason = gemini.FinishReasonStop
	}

	// Schema output stays a bare enum member or compact JSON.
	if !structured {
		if idx := resp.PrimaryTextIndex(); idx >= 0 {
			text := cand.Content.Parts[idx].Text
			if enhanced != "" {
				text = enhanced + "\n\n" + text
			}
			cand.Content.Parts[idx].Text = a.sys.Rewrite(text, instruction)
		} else if enhanced != "" {
			cand.Content.Parts = append([]gemini.Part{{Text: enhanced}}, cand.Content.Parts...)
		}
	}
	if grounding != nil {
		cand.GroundingMetadata = grounding
	}
	if codeEnabled {
		cand.Content.Parts = LiftFencedPython(cand.Content.Parts)
	}
	cand.Content.Parts = a.code.Annotate(cand.Content.Parts)
	if a.thinking.Enabled(model.ID(), gc) && IsComplex(input) {
		hint := resp.Text()
		if r := []rune(hint); len(r) > 200 {
			hint = string(r[:200])
		}
		trace := a.thinking.Trace(input, hint, thinkingBudget(gc))
		cand.Content.Parts = append([]gemini.Part{{Text: trace, Thought: true}}, cand.Content.Parts...)
	}

	limit := model.OutputTokenLimit
	if gc != nil && gc.MaxOutputTokens > 0 && gc.MaxOutputTokens < limit {
		limit = gc.MaxOutputTokens
	}
	trimCandidates(resp, limit)
	if grounding != nil {
		Anchor(grounding, resp.Text())
	}

	resp.UsageMetadata = usage(resp, synth.EstimateTokens(gemini.ExtractText(prompt)), cachedTokens)
	resp.ModelVersion = model.ID()
	a.recordUsage(resp.UsageMetadata)
	return resp, nil
}

func (a *Assembler) selectPayload(ctx context.Context, gc *gemini.GenerationConfig, input string) (*gemini.GenerateContentResponse, bool, error) {
	if gc != nil && gc.ResponseSchema != nil {
		text, err := a.structured(gc, input)
		if err != nil {
			return nil, false, err
		}
		a.metrics.PresetMatches.WithLabelValues("schema").Inc()
		return gemini.NewTextResponse(text), true, nil
	}

	presets, err := a.presets.Presets(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load presets: %w", err)
	}
	p, ok := preset.Match(input, presets, a.logger)
	if !ok {
		a.metrics.PresetMatches.WithLabelValues("fallback").Inc()
		return preset.Fallback(), false, nil
	}
	a.metrics.PresetMatches.WithLabelValues("preset").Inc()
	a.logger.Debug().Str("preset_id", p.ID).Msg("preset matched")

	if p.DelayMS > 0 {
		if err := a.sleep(ctx, time.Duration(p.DelayMS)*time.Millisecond); err != nil {
			return nil, false, err
		}
	}
	resp, err := p.Response.Clone()
	if err != nil {
		return nil, false, fmt.Errorf("copy preset %q response: %w", p.ID, err)
	}
	if resp == nil {
		resp = gemini.NewTextResponse("")
	}
	return resp, false, nil
}

// structured renders schema output. Enum mode returns the bare member;
// everything else is compact JSON.
func (a *Assembler) structured(gc *gemini.GenerationConfig, input string) (string, error) {
	schema := gc.ResponseSchema
	enumMode := gc.ResponseMimeType == gemini.MimeTypeEnum ||
		(gc.ResponseMimeType != gemini.MimeTypeJSON && len(schema.Enum) > 0)
	if enumMode {
		if len(schema.Enum) == 0 {
			return "", apierr.InvalidArgument("responseSchema must declare enum values for %s", gemini.MimeTypeEnum)
		}
		return synth.SelectEnum(schema.Enum, input), nil
	}
	return a.gen.GenerateJSON(schema, input)
}

// trimCandidates fits every text part into limit tokens and marks
// trimmed candidates with MAX_TOKENS.
func trimCandidates(resp *gemini.GenerateContentResponse, limit int) {
	if limit <= 0 {
		return
	}
	for ci := range resp.Candidates {
		c := &resp.Candidates[ci]
		for pi, p := range c.Content.Parts {
			if !p.IsText() || p.Text == "" {
				continue
			}
			if trimmed := synth.TrimOutput(p.Text, limit); trimmed != p.Text {
				c.Content.Parts[pi].Text = trimmed
				c.FinishReason = gemini.FinishReasonMaxTokens
			}
		}
	}
}

// usage counts candidates and thoughts from the final, trimmed parts.
// Cached tokens are billed on top of the prompt.
func usage(resp *gemini.GenerateContentResponse, promptTokens, cachedTokens int) *gemini.UsageMetadata {
	var answer, thoughts []string
	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			if !p.IsText() || p.Text == "" {
				continue
			}
			if p.Thought {
				thoughts = append(thoughts, p.Text)
			} else {
				answer = append(answer, p.Text)
			}
		}
	}
	u := &gemini.UsageMetadata{
		PromptTokenCount:        promptTokens,
		CandidatesTokenCount:    synth.EstimateTokens(strings.Join(answer, "")),
		CachedContentTokenCount: cachedTokens,
		ThoughtsTokenCount:      synth.EstimateTokens(strings.Join(thoughts, "")),
	}
	u.TotalTokenCount = u.PromptTokenCount + u.CachedContentTokenCount + u.CandidatesTokenCount + u.ThoughtsTokenCount
	return u
}

func (a *Assembler) recordUsage(u *gemini.UsageMetadata) {
	a.metrics.Tokens.WithLabelValues("prompt").Add(float64(u.PromptTokenCount))
	a.metrics.Tokens.WithLabelValues("candidates").Add(float64(u.CandidatesTokenCount))
	a.metrics.Tokens.WithLabelValues("cached").Add(float64(u.CachedContentTokenCount))
	a.metrics.Tokens.WithLabelValues("thoughts").Add(float64(u.ThoughtsTokenCount))
}

func thinkingBudget(gc *gemini.GenerationConfig) int {
	if gc == nil || gc.ThinkingConfig == nil || gc.ThinkingConfig.ThinkingBudget == nil {
		return 0
	}
	return *gc.ThinkingConfig.ThinkingBudget
}

// CountTokens estimates the prompt size of contents or of a full
// generateContent request.
func (a *Assembler) CountTokens(ctx context.Context, modelName string, req *gemini.CountTokensRequest) (*gemini.CountTokensResponse, error) {
	if req == nil {
		return nil, apierr.InvalidArgument("request body is required")
	}
	model, err := models.Lookup(modelName)
	if err != nil {
		return nil, err
	}

	contents := req.Contents
	cachedTokens := 0
	if g := req.GenerateContentRequest; g != nil {
		if len(contents) == 0 {
			contents = g.Contents
		}
		if g.SystemInstruction != nil {
			contents = concat([]gemini.Content{*g.SystemInstruction}, contents)
		}
		if g.CachedContent != "" && a.cache != nil {
			if entry, err := a.cache.Get(g.CachedContent); err == nil {
				cachedTokens = entry.TokenCount()
			}
		}
	}
	if len(contents) == 0 {
		return nil, apierr.InvalidArgument("contents is required")
	}

	text := gemini.ExtractText(contents)
	if err := synth.CheckInput(text, model.InputTokenLimit); err != nil {
		a.metrics.TokenLimitRejected.Inc()
		return nil, err
	}
	return &gemini.CountTokensResponse{
		TotalTokens:             synth.EstimateTokens(text) + cachedTokens,
		TotalBillableCharacters: billableCharacters(text),
		CachedContentTokenCount: cachedTokens,
	}, nil
}

func billableCharacters(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Embed returns the deterministic embedding for one content.
func (a *Assembler) Embed(ctx context.Context, modelName string, req *gemini.EmbedContentRequest) (*gemini.EmbedContentResponse, error) {
	if req == nil || len(req.Content.Parts) == 0 {
		return nil, apierr.InvalidArgument("content is required")
	}
	model, err := models.Lookup(modelName)
	if err != nil {
		return nil, err
	}
	if err := synth.CheckInput(gemini.ExtractText([]gemini.Content{req.Content}), model.InputTokenLimit); err != nil {
		a.metrics.TokenLimitRejected.Inc()
		return nil, err
	}
	dims := model.Dimensions()
	if req.OutputDimensionality > 0 && req.OutputDimensionality < dims {
		dims = req.OutputDimensionality
	}
	return &gemini.EmbedContentResponse{
		Embedding: gemini.ContentEmbedding{Values: synth.Embed(synth.EmbeddingInput(req.Content), dims)},
	}, nil
}

// BatchEmbed embeds each request in order and fails on the first error.
func (a *Assembler) BatchEmbed(ctx context.Context, modelName string, req *gemini.BatchEmbedContentsRequest) (*gemini.BatchEmbedContentsResponse, error) {
	if req == nil || len(req.Requests) == 0 {
		return nil, apierr.InvalidArgument("requests is required")
	}
	out := &gemini.BatchEmbedContentsResponse{Embeddings: make([]gemini.ContentEmbedding, 0, len(req.Requests))}
	for i := range req.Requests {
		resp, err := a.Embed(ctx, modelName, &req.Requests[i])
		if err != nil {
			return nil, fmt.Errorf("embed request %d: %w", i, err)
		}
		out.Embeddings = append(out.Embeddings, resp.Embedding)
	}
	return out, nil
}

func withoutSystem(contents []gemini.Content) []gemini.Content {
	out := make([]gemini.Content, 0, len(contents))
	for _, c := range contents {
		if c.Role != gemini.RoleSystem {
			out = append(out, c)
		}
	}
	return out
}

func concat(lists ...[]gemini.Content) []gemini.Content {
	var n int
	for _, l := range lists {
		n += len(l)
	}
	out := make([]gemini.Content, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
