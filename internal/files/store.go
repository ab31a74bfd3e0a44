package files

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"geminimock/internal/apierr"
)

const (
	namePrefix  = "files/"
	StateActive = "ACTIVE"
	DefaultTTL  = 24 * time.Hour
)

var ErrNotFound = fmt.Errorf("file %w", apierr.ErrNotFound)

// File is upload metadata. Bytes stay in the store and are never
// serialized.
type File struct {
	Name           string    `json:"name"`
	DisplayName    string    `json:"displayName,omitempty"`
	MimeType       string    `json:"mimeType"`
	SizeBytes      int64     `json:"sizeBytes,string"`
	SHA256Hash     string    `json:"sha256Hash"`
	URI            string    `json:"uri"`
	State          string    `json:"state"`
	CreateTime     time.Time `json:"createTime"`
	UpdateTime     time.Time `json:"updateTime"`
	ExpirationTime time.Time `json:"expirationTime"`

	data []byte
}

func (f File) Data() []byte {
	return f.data
}

type Config struct {
	BaseURI string
	TTL     time.Duration
	Now     func() time.Time
}

type Store struct {
	mu      sync.Mutex
	files   map[string]*File
	baseURI string
	ttl     time.Duration
	now     func() time.Time
}

func New(cfg Config) *Store {
	if cfg.BaseURI == "" {
		cfg.BaseURI = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		files:   map[string]*File{},
		baseURI: strings.TrimSuffix(cfg.BaseURI, "/"),
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}
}

func (s *Store) Put(displayName, mimeType string, data []byte) File {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	now := s.now()
	name := fmt.Sprintf("%s%d-%s", namePrefix, now.UnixMilli(), randomSuffix(9))
	sum := sha256.Sum256(data)
	f := &File{
		Name:           name,
		DisplayName:    displayName,
		MimeType:       mimeType,
		SizeBytes:      int64(len(data)),
		SHA256Hash:     base64.StdEncoding.EncodeToString(sum[:]),
		URI:            s.baseURI + "/" + name,
		State:          StateActive,
		CreateTime:     now,
		UpdateTime:     now,
		ExpirationTime: now.Add(s.ttl),
		data:           slices.Clone(data),
	}

	s.mu.Lock()
	s.files[name] = f
	s.mu.Unlock()
	return *f
}

func (s *Store) Get(name string) (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.liveLocked(canonical(name))
	if !ok {
		return File{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return *f, nil
}

func (s *Store) List() []File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]File, 0, len(s.files))
	for k := range s.files {
		if f, ok := s.liveLocked(k); ok {
			out = append(out, *f)
		}
	}
	slices.SortFunc(out, func(a, b File) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := canonical(name)
	if _, ok := s.liveLocked(key); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.files, key)
	return nil
}

func (s *Store) liveLocked(key string) (*File, bool) {
	f, ok := s.files[key]
	if !ok {
		return nil, false
	}
	if !s.now().Before(f.ExpirationTime) {
		delete(s.files, key)
		return nil, false
	}
	return f, true
}

func canonical(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, namePrefix); i >= 0 {
		return name[i:]
	}
	return namePrefix + name
}

func randomSuffix(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}
