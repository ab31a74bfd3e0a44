package cache

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"geminimock/internal/apierr"
	"geminimock/internal/gemini"
	"geminimock/internal/metrics"
	"geminimock/internal/models"
	"geminimock/internal/synth"
)

const namePrefix = "cachedContents/"

var ErrNotFound = fmt.Errorf("cached content %w", apierr.ErrNotFound)

type Usage struct {
	TotalTokenCount int `json:"totalTokenCount"`
}

// Entry is a context-cache resource as returned by the API.
type Entry struct {
	Name              string           `json:"name"`
	DisplayName       string           `json:"displayName,omitempty"`
	Model             string           `json:"model"`
	SystemInstruction *gemini.Content  `json:"systemInstruction,omitempty"`
	Contents          []gemini.Content `json:"contents,omitempty"`
	Tools             []gemini.Tool    `json:"tools,omitempty"`
	CreateTime        time.Time        `json:"createTime"`
	UpdateTime        time.Time        `json:"updateTime"`
	ExpireTime        time.Time        `json:"expireTime"`
	UsageMetadata     Usage            `json:"usageMetadata"`
	HitCount          int              `json:"hitCount"`
}

func (e Entry) TokenCount() int {
	return e.UsageMetadata.TotalTokenCount
}

type CreateRequest struct {
	Model             string           `json:"model"`
	DisplayName       string           `json:"displayName,omitempty"`
	SystemInstruction *gemini.Content  `json:"systemInstruction,omitempty"`
	Contents          []gemini.Content `json:"contents,omitempty"`
	Tools             []gemini.Tool    `json:"tools,omitempty"`
	TTL               string           `json:"ttl,omitempty"`
	ExpireTime        *time.Time       `json:"expireTime,omitempty"`
}

type UpdateRequest struct {
	TTL        string     `json:"ttl,omitempty"`
	ExpireTime *time.Time `json:"expireTime,omitempty"`
}

type Stats struct {
	TotalEntries int `json:"totalEntries"`
	TotalTokens  int `json:"totalTokens"`
	TotalHits    int `json:"totalHits"`
}

type Config struct {
	DefaultTTL time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Store keeps cached contents in memory. Every read path evicts expired
// entries; Sweep and Run only reclaim memory early.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	defaultTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

func New(cfg Config) *Store {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Store{
		entries:    map[string]*Entry{},
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
		logger:     cfg.Logger,
		metrics:    m,
	}
}

// ParseTTL accepts the API's "<seconds>s" form, fractional seconds
// included, and falls back to Go duration syntax.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, ok := strings.CutSuffix(s, "s"); ok {
		if f, err := strconv.ParseFloat(secs, 64); err == nil {
			if f <= 0 {
				return 0, fmt.Errorf("ttl %q must be positive", s)
			}
			return time.Duration(f * float64(time.Second)), nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse ttl %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ttl %q must be positive", s)
	}
	return d, nil
}

func (s *Store) Create(req CreateRequest) (Entry, error) {
	if strings.TrimSpace(req.Model) == "" {
		return Entry{}, apierr.InvalidArgument("model is required")
	}
	model, err := models.Lookup(req.Model)
	if err != nil {
		return Entry{}, err
	}
	if len(req.Contents) == 0 && req.SystemInstruction == nil {
		return Entry{}, apierr.InvalidArgument("contents or systemInstruction is required")
	}

	now := s.now()
	expire, err := s.resolveExpiry(now, req.TTL, req.ExpireTime, s.defaultTTL)
	if err != nil {
		return Entry{}, err
	}

	var text []gemini.Content
	if req.SystemInstruction != nil {
		text = append(text, *req.SystemInstruction)
	}
	text = append(text, req.Contents...)

	e := &Entry{
		Name:              namePrefix + uuid.NewString(),
		DisplayName:       req.DisplayName,
		Model:             model.Name,
		SystemInstruction: req.SystemInstruction,
		Contents:          req.Contents,
		Tools:             req.Tools,
		CreateTime:        now,
		UpdateTime:        now,
		ExpireTime:        expire,
		UsageMetadata:     Usage{TotalTokenCount: synth.EstimateTokens(gemini.ExtractText(text))},
	}

	s.mu.Lock()
	s.entries[e.Name] = e
	s.updateGaugeLocked()
	s.mu.Unlock()

	s.logger.Debug().Str("cache", e.Name).Time("expire_time", expire).Int("tokens", e.TokenCount()).Msg("cached content created")
	return *e, nil
}

func (s *Store) resolveExpiry(now time.Time, ttl string, expireTime *time.Time, def time.Duration) (time.Time, error) {
	switch {
	case expireTime != nil:
		return *expireTime, nil
	case ttl != "":
		d, err := ParseTTL(ttl)
		if err != nil {
			return time.Time{}, apierr.InvalidArgument("%s", err.Error())
		}
		return now.Add(d), nil
	default:
		return now.Add(def), nil
	}
}

// Get returns the entry named name, which may be a bare id, a
// "cachedContents/{id}" name or a fully qualified resource path.
func (s *Store) Get(name string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(canonical(name))
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return *e, nil
}

// Apply resolves a cache reference for generation and counts the hit.
// Missing and expired entries are a miss, not an error.
func (s *Store) Apply(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(canonical(name))
	if !ok {
		return Entry{}, false
	}
	e.HitCount++
	s.metrics.CacheHits.Inc()
	return *e, true
}

func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.CreateTime.Compare(b.CreateTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func (s *Store) Update(name string, req UpdateRequest) (Entry, error) {
	if req.TTL == "" && req.ExpireTime == nil {
		return Entry{}, apierr.InvalidArgument("ttl or expireTime is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(canonical(name))
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	now := s.now()
	expire, err := s.resolveExpiry(now, req.TTL, req.ExpireTime, s.defaultTTL)
	if err != nil {
		return Entry{}, err
	}
	e.ExpireTime = expire
	e.UpdateTime = now
	return *e, nil
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := canonical(name)
	if _, ok := s.liveLocked(key); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.entries, key)
	s.updateGaugeLocked()
	return nil
}

// Sweep evicts expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info().Int("evicted", n).Msg("expired cached contents swept")
			}
		}
	}
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	var st Stats
	for _, e := range s.entries {
		st.TotalEntries++
		st.TotalTokens += e.TokenCount()
		st.TotalHits += e.HitCount
	}
	return st
}

func (s *Store) liveLocked(key string) (*Entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.ExpireTime) {
		delete(s.entries, key)
		s.updateGaugeLocked()
		return nil, false
	}
	return e, true
}

func (s *Store) sweepLocked() int {
	now := s.now()
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.ExpireTime) {
			delete(s.entries, k)
			n++
		}
	}
	if n > 0 {
		s.updateGaugeLocked()
	}
	return n
}

func (s *Store) updateGaugeLocked() {
	s.metrics.CacheEntries.Set(float64(len(s.entries)))
}

func canonical(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, namePrefix); i >= 0 {
		return name[i:]
	}
	return namePrefix + name
}
