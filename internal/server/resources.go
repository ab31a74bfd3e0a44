package server

import (
	"io"
	"net/http"
	"strings"

	"geminimock/internal/apierr"
	"geminimock/internal/cache"
	"geminimock/internal/gemini"
	"geminimock/internal/models"
)

// modelName renders a catalog name for the surface serving r.
func (s *Server) modelName(r *http.Request, m models.Model) models.Model {
	if r.PathValue("project") == "" {
		return m
	}
	project, location := s.scope(r)
	m.Name = m.FullName(project, location)
	return m
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	list := models.List()
	for i := range list {
		list[i] = s.modelName(r, list[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": list})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := models.Lookup(r.PathValue("model"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.modelName(r, m))
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		if isMaxBytesError(err) {
			writeError(w, s.logger, uploadTooLarge(s.maxUpload))
			return
		}
		writeError(w, s.logger, apierr.InvalidArgument("expected a multipart form with a %q field: %v", "file", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, s.logger, apierr.InvalidArgument("multipart field %q is required", "file"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, s.logger, uploadTooLarge(s.maxUpload))
			return
		}
		writeError(w, s.logger, apierr.Internal(err))
		return
	}

	displayName := strings.TrimSpace(r.FormValue("displayName"))
	if displayName == "" {
		displayName = header.Filename
	}
	mimeType := strings.TrimSpace(r.FormValue("mimeType"))
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}
	file := s.files.Put(displayName, mimeType, data)
	s.logger.Debug().Str("file", file.Name).Int64("size", file.SizeBytes).Msg("file uploaded")
	writeJSON(w, http.StatusOK, map[string]any{"file": file})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"files": s.files.List()})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.files.Get(r.PathValue("file"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.files.Delete(r.PathValue("file")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleCreateCachedContent(w http.ResponseWriter, r *http.Request) {
	var req cache.CreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	e, err := s.cache.Create(req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleListCachedContents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cachedContents": s.cache.List()})
}

func (s *Server) handleGetCachedContent(w http.ResponseWriter, r *http.Request) {
	e, err := s.cache.Get(r.PathValue("cache"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateCachedContent(w http.ResponseWriter, r *http.Request) {
	var req cache.UpdateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	e, err := s.cache.Update(r.PathValue("cache"), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteCachedContent(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Delete(r.PathValue("cache")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// batchGenerateRequest accepts the flat {"requests": [...]} form and the
// API's nested batch.inputConfig form.
type batchGenerateRequest struct {
	Requests []gemini.GenerateContentRequest `json:"requests"`
	Batch    *struct {
		DisplayName string `json:"displayName"`
		InputConfig struct {
			Requests struct {
				Requests []struct {
					Request gemini.GenerateContentRequest `json:"request"`
				} `json:"requests"`
			} `json:"requests"`
		} `json:"inputConfig"`
	} `json:"batch"`
}

func (b batchGenerateRequest) all() []gemini.GenerateContentRequest {
	if len(b.Requests) > 0 || b.Batch == nil {
		return b.Requests
	}
	out := make([]gemini.GenerateContentRequest, 0, len(b.Batch.InputConfig.Requests.Requests))
	for _, item := range b.Batch.InputConfig.Requests.Requests {
		out = append(out, item.Request)
	}
	return out
}

func (s *Server) handleBatchGenerate(w http.ResponseWriter, r *http.Request, model string) {
	var req batchGenerateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	m, err := models.Lookup(model)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	job, err := s.batches.Submit(m.ID(), req.all())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"batches": s.batches.List()})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	job, err := s.batches.Get(r.PathValue("batch"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleBatchAction serves "batches/{id}:cancel".
func (s *Server) handleBatchAction(w http.ResponseWriter, r *http.Request) {
	name, action, err := splitAction(r.PathValue("batch"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if action != "cancel" {
		writeError(w, s.logger, apierr.NotFound("method %q is not supported on batches", action))
		return
	}
	job, err := s.batches.Cancel(name)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.batches.Delete(r.PathValue("batch")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
