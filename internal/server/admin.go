package server

import (
	"net/http"
	"time"

	"geminimock/internal/apierr"
	"geminimock/internal/batch"
	"geminimock/internal/preset"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"time":          now.UTC().Format(time.RFC3339),
		"uptimeSeconds": int64(now.Sub(s.started).Seconds()),
	})
}

type endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	scope := platformScope
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "geminimock",
		"description": "Deterministic test double for the Gemini and Vertex AI generative APIs.",
		"direct": []endpoint{
			{http.MethodGet, directPrefix + "/models"},
			{http.MethodPost, directPrefix + "/models/{model}:generateContent"},
			{http.MethodPost, directPrefix + "/models/{model}:streamGenerateContent"},
			{http.MethodPost, directPrefix + "/models/{model}:countTokens"},
			{http.MethodPost, directPrefix + "/models/{model}:embedContent"},
			{http.MethodPost, directPrefix + "/models/{model}:batchEmbedContents"},
			{http.MethodPost, directPrefix + "/models/{model}:batchGenerateContent"},
			{http.MethodPost, "/upload" + directPrefix + "/files"},
			{http.MethodGet, directPrefix + "/cachedContents"},
			{http.MethodGet, directPrefix + "/batches"},
			{http.MethodGet, "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"},
		},
		"platform": []endpoint{
			{http.MethodGet, scope + "/publishers/google/models"},
			{http.MethodPost, scope + "/publishers/google/models/{model}:generateContent"},
			{http.MethodPost, scope + "/publishers/google/models/{model}:streamGenerateContent"},
			{http.MethodPost, scope + "/publishers/google/models/{model}:countTokens"},
			{http.MethodPost, scope + "/publishers/google/models/{model}:embedContent"},
			{http.MethodGet, scope + "/cachedContents"},
		},
		"admin": []endpoint{
			{http.MethodGet, "/admin/presets"},
			{http.MethodGet, "/admin/stats"},
			{http.MethodPost, "/admin/cache/sweep"},
			{http.MethodGet, s.healthPath},
			{http.MethodGet, s.metricsPath},
		},
	})
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	list, err := s.presets.ListPresets(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": list})
}

func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	rec, err := s.presets.GetPreset(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var p preset.Preset
	if err := readJSON(r, &p); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, s.logger, apierr.InvalidArgument("%v", err))
		return
	}
	rec, err := s.presets.CreatePreset(r.Context(), p)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Info().Str("preset", rec.ID).Msg("preset created")
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	var p preset.Preset
	if err := readJSON(r, &p); err != nil {
		writeError(w, s.logger, err)
		return
	}
	id := r.PathValue("id")
	p.ID = id
	if err := p.Validate(); err != nil {
		writeError(w, s.logger, apierr.InvalidArgument("%v", err))
		return
	}
	rec, err := s.presets.UpdatePreset(r.Context(), id, p)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Info().Str("preset", id).Msg("preset updated")
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.presets.DeletePreset(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Info().Str("preset", id).Msg("preset deleted")
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	presets, err := s.presets.ListPresets(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	jobs := map[batch.State]int{}
	for _, job := range s.batches.List() {
		jobs[job.State]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"presets":       len(presets),
		"cache":         s.cache.Stats(),
		"files":         len(s.files.List()),
		"batches":       jobs,
		"uptimeSeconds": int64(s.now().Sub(s.started).Seconds()),
	})
}

func (s *Server) handleSweepCache(w http.ResponseWriter, r *http.Request) {
	n := s.cache.Sweep()
	s.logger.Info().Int("evicted", n).Msg("cache swept")
	writeJSON(w, http.StatusOK, map[string]int{"evicted": n})
}
