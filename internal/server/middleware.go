package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"geminimock/internal/apierr"
)

func (s *Server) withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, x-goog-api-key, x-goog-api-client, x-goog-user-project")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder keeps the response code for logging and metrics while
// still exposing flushing and hijacking to streaming handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func recorderFor(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := recorderFor(w)
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.code()).
			Int("bytes", rec.bytes).
			Dur("duration", s.now().Sub(start)).
			Msg("http request")
	})
}

func (s *Server) instrument(surface, action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorderFor(w)
		next.ServeHTTP(rec, r)
		s.metrics.Requests.WithLabelValues(surface, action, strconv.Itoa(rec.code())).Inc()
	})
}

// directAuth requires an API key in the x-goog-api-key header or the key
// query parameter. The value itself is not checked.
func (s *Server) directAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("x-goog-api-key"))
		if key == "" {
			key = strings.TrimSpace(r.URL.Query().Get("key"))
		}
		if key == "" {
			if bearer, ok := bearerToken(r); ok {
				key = bearer
			}
		}
		if key == "" {
			writeError(w, s.logger, apierr.Unauthenticated("Method doesn't allow unregistered callers. Please use an API key."))
			return
		}
		if !s.allow(w, r, key) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// platformAuth requires a bearer token and enforces the configured
// project and location.
func (s *Server) platformAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, s.logger, apierr.Unauthenticated("Request is missing required authentication credential. Expected OAuth 2 access token."))
			return
		}
		project, location := s.scope(r)
		if s.enforcedProject != "" && project != s.enforcedProject {
			writeError(w, s.logger, apierr.PermissionDenied("Permission denied on project %q.", project))
			return
		}
		if s.enforcedLoc != "" && location != s.enforcedLoc {
			writeError(w, s.logger, apierr.PermissionDenied("Location %q is not allowed for this project.", location))
			return
		}
		if !s.allow(w, r, token) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "bearer "
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

// scope returns the request's project and location, falling back to the
// server defaults.
func (s *Server) scope(r *http.Request) (project, location string) {
	project, location = r.PathValue("project"), r.PathValue("location")
	if project == "" {
		project = s.defaultProject
	}
	if location == "" {
		location = s.defaultLocation
	}
	return project, location
}

// allow applies the per-credential rate limit. Redis failures let the
// request through.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, credential string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, used, resetAt, err := s.limiter.Allow(r.Context(), credential, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter unavailable")
		return true
	}
	remaining := max(s.limiter.Limit()-used, 0)
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(s.limiter.Limit(), 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	if allowed {
		return true
	}
	s.metrics.RateLimited.Inc()
	w.Header().Set("Retry-After", strconv.Itoa(int(max(resetAt.Sub(s.now()).Seconds(), 1))))
	writeError(w, s.logger, apierr.ResourceExhausted("Resource has been exhausted (e.g. check quota)."))
	return false
}
