package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"geminimock/internal/apierr"
)

const maxJSONBytes = 32 << 20

func readJSON(r *http.Request, dst any) error {
	if r == nil || r.Body == nil {
		return apierr.InvalidArgument("empty request body")
	}
	defer r.Body.Close()

	b, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBytes+1))
	if err != nil {
		return apierr.InvalidArgument("failed reading request body: %v", err)
	}
	if len(b) > maxJSONBytes {
		return apierr.InvalidArgument("request body exceeds %d bytes", maxJSONBytes)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		b = []byte("{}")
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return apierr.InvalidArgument("Invalid JSON payload received. %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"failed to marshal json","status":"INTERNAL"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

// writeError sends the error envelope. Internal causes are logged and
// never sent to the client.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	ae := apierr.From(err)
	if ae.Code >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("code", ae.Code).Msg("request failed")
	}
	writeJSON(w, ae.Code, ae.Envelope())
}

func notFoundRoute(r *http.Request) error {
	return apierr.NotFound("no route for %s %s", r.Method, r.URL.Path)
}

// splitAction splits "gemini-pro:generateContent" at its last colon.
func splitAction(segment string) (name, action string, err error) {
	i := strings.LastIndex(segment, ":")
	if i <= 0 || i == len(segment)-1 {
		return "", "", apierr.NotFound("method not found: %q has no :action suffix", segment)
	}
	return segment[:i], segment[i+1:], nil
}

func isMaxBytesError(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func uploadTooLarge(limit int64) error {
	return apierr.InvalidArgument("upload exceeds the maximum size of %d bytes", limit)
}
