package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"geminimock/internal/apierr"
	"geminimock/internal/gemini"
	"geminimock/internal/models"
)

const (
	actionGenerate      = models.MethodGenerateContent
	actionStream        = models.MethodStreamGenerateContent
	actionCountTokens   = models.MethodCountTokens
	actionEmbed         = models.MethodEmbedContent
	actionBatchEmbed    = models.MethodBatchEmbedContents
	actionBatchGenerate = "batchGenerateContent"
)

// modelAction dispatches "{model}:{action}" segments. The action is
// resolved before auth so every outcome is counted under it.
func (s *Server) modelAction(surface string, auth func(http.Handler) http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model, action, err := splitAction(r.PathValue("model"))
		if err != nil {
			s.instrument(surface, "unknown", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, s.logger, err)
			})).ServeHTTP(w, r)
			return
		}

		var h http.HandlerFunc
		switch action {
		case actionGenerate:
			h = func(w http.ResponseWriter, r *http.Request) { s.handleGenerate(w, r, model) }
		case actionStream:
			h = func(w http.ResponseWriter, r *http.Request) { s.handleStream(w, r, surface, model) }
		case actionCountTokens:
			h = func(w http.ResponseWriter, r *http.Request) { s.handleCountTokens(w, r, model) }
		case actionEmbed:
			h = func(w http.ResponseWriter, r *http.Request) { s.handleEmbed(w, r, model) }
		case actionBatchEmbed:
			h = func(w http.ResponseWriter, r *http.Request) { s.handleBatchEmbed(w, r, model) }
		case actionBatchGenerate:
			h = func(w http.ResponseWriter, r *http.Request) { s.handleBatchGenerate(w, r, model) }
		default:
			action = "unknown"
			h = func(w http.ResponseWriter, r *http.Request) {
				writeError(w, s.logger, apierr.NotFound("method %q is not supported on models", r.PathValue("model")))
			}
		}
		s.instrument(surface, action, auth(h)).ServeHTTP(w, r)
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, model string) {
	var req gemini.GenerateContentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	resp, err := s.asm.Generate(r.Context(), model, &req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream generates the whole response first so validation errors
// still get a normal error body. Once the first chunk is written the
// status can no longer change and failures only end the stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, surface, model string) {
	var req gemini.GenerateContentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	resp, err := s.asm.Generate(r.Context(), model, &req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	sse := surface == surfaceDirect || strings.EqualFold(r.URL.Query().Get("alt"), "sse")
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	err = s.asm.Stream(r.Context(), resp, func(chunk *gemini.GenerateContentResponse) error {
		b, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("encode chunk: %w", err)
		}
		if sse {
			_, err = fmt.Fprintf(w, "data: %s\n\n", b)
		} else {
			_, err = fmt.Fprintf(w, "%s\n", b)
		}
		if err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("model", model).Msg("stream ended early")
	}
}

func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request, model string) {
	var req gemini.CountTokensRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	resp, err := s.asm.CountTokens(r.Context(), model, &req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request, model string) {
	var req gemini.EmbedContentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	resp, err := s.asm.Embed(r.Context(), model, &req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatchEmbed(w http.ResponseWriter, r *http.Request, model string) {
	var req gemini.BatchEmbedContentsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	resp, err := s.asm.BatchEmbed(r.Context(), model, &req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
