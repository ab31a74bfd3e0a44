package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"geminimock/internal/assembler"
	"geminimock/internal/batch"
	"geminimock/internal/cache"
	"geminimock/internal/files"
	"geminimock/internal/metrics"
	"geminimock/internal/preset"
	"geminimock/internal/ratelimit"
	"geminimock/internal/storage"
)

const (
	surfaceDirect   = "direct"
	surfacePlatform = "platform"
	surfaceAdmin    = "admin"

	directPrefix = "/v1beta"
	// Cloud-platform routes are served bare and under the versioned
	// prefixes the client libraries use.
	platformScope = "/projects/{project}/locations/{location}"
)

var platformVersions = []string{"", "/v1", "/v1beta1"}

// PresetStore is the admin view of the preset table.
type PresetStore interface {
	ListPresets(ctx context.Context) ([]storage.PresetRecord, error)
	GetPreset(ctx context.Context, id string) (storage.PresetRecord, error)
	CreatePreset(ctx context.Context, p preset.Preset) (storage.PresetRecord, error)
	UpdatePreset(ctx context.Context, id string, p preset.Preset) (storage.PresetRecord, error)
	DeletePreset(ctx context.Context, id string) error
}

type Config struct {
	Assembler *assembler.Assembler
	Presets   PresetStore
	Cache     *cache.Store
	Files     *files.Store
	Batches   *batch.Runner
	// Limiter is optional; nil disables rate limiting.
	Limiter *ratelimit.Limiter

	DefaultProjectID  string
	DefaultLocation   string
	EnforcedProjectID string
	EnforcedLocation  string

	MaxUploadBytes int64
	HealthPath     string
	MetricsPath    string

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time

	// Gatherer backs the metrics endpoint; defaults to the global registry.
	Gatherer prometheus.Gatherer
}

type Server struct {
	asm     *assembler.Assembler
	presets PresetStore
	cache   *cache.Store
	files   *files.Store
	batches *batch.Runner
	limiter *ratelimit.Limiter

	defaultProject  string
	defaultLocation string
	enforcedProject string
	enforcedLoc     string

	maxUpload   int64
	healthPath  string
	metricsPath string

	logger   zerolog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	now      func() time.Time
	started  time.Time
}

// New builds the HTTP handler for both API surfaces plus the admin,
// health and metrics endpoints.
func New(cfg Config) http.Handler {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	s := &Server{
		asm:             cfg.Assembler,
		presets:         cfg.Presets,
		cache:           cfg.Cache,
		files:           cfg.Files,
		batches:         cfg.Batches,
		limiter:         cfg.Limiter,
		defaultProject:  cfg.DefaultProjectID,
		defaultLocation: cfg.DefaultLocation,
		enforcedProject: cfg.EnforcedProjectID,
		enforcedLoc:     cfg.EnforcedLocation,
		maxUpload:       cfg.MaxUploadBytes,
		healthPath:      cfg.HealthPath,
		metricsPath:     cfg.MetricsPath,
		logger:          cfg.Logger,
		metrics:         m,
		gatherer:        cfg.Gatherer,
		now:             cfg.Now,
		started:         cfg.Now(),
	}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+s.healthPath, s.handleHealth)
	mux.Handle("GET "+s.metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", s.handleDocs)

	// Direct-key surface.
	direct := func(pattern, action string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(surfaceDirect, action, s.directAuth(h)))
	}
	direct("GET "+directPrefix+"/models", "listModels", s.handleListModels)
	direct("GET "+directPrefix+"/models/{model}", "getModel", s.handleGetModel)
	mux.Handle("POST "+directPrefix+"/models/{model}", s.modelAction(surfaceDirect, s.directAuth))
	direct("POST /upload"+directPrefix+"/files", "uploadFile", s.handleUploadFile)
	direct("POST "+directPrefix+"/files", "uploadFile", s.handleUploadFile)
	direct("GET "+directPrefix+"/files", "listFiles", s.handleListFiles)
	direct("GET "+directPrefix+"/files/{file}", "getFile", s.handleGetFile)
	direct("DELETE "+directPrefix+"/files/{file}", "deleteFile", s.handleDeleteFile)
	direct("POST "+directPrefix+"/cachedContents", "createCachedContent", s.handleCreateCachedContent)
	direct("GET "+directPrefix+"/cachedContents", "listCachedContents", s.handleListCachedContents)
	direct("GET "+directPrefix+"/cachedContents/{cache}", "getCachedContent", s.handleGetCachedContent)
	direct("PATCH "+directPrefix+"/cachedContents/{cache}", "updateCachedContent", s.handleUpdateCachedContent)
	direct("DELETE "+directPrefix+"/cachedContents/{cache}", "deleteCachedContent", s.handleDeleteCachedContent)
	direct("GET "+directPrefix+"/batches", "listBatches", s.handleListBatches)
	direct("GET "+directPrefix+"/batches/{batch}", "getBatch", s.handleGetBatch)
	direct("POST "+directPrefix+"/batches/{batch}", "cancelBatch", s.handleBatchAction)
	direct("DELETE "+directPrefix+"/batches/{batch}", "deleteBatch", s.handleDeleteBatch)
	mux.Handle("GET /ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
		s.instrument(surfaceDirect, "live", s.directAuth(s.liveHandler())))

	// Cloud-platform surface.
	for _, version := range platformVersions {
		scope := version + platformScope
		platform := func(pattern, action string, h http.HandlerFunc) {
			mux.Handle(pattern, s.instrument(surfacePlatform, action, s.platformAuth(h)))
		}
		platform("GET "+scope+"/publishers/google/models", "listModels", s.handleListModels)
		platform("GET "+scope+"/publishers/google/models/{model}", "getModel", s.handleGetModel)
		mux.Handle("POST "+scope+"/publishers/google/models/{model}", s.modelAction(surfacePlatform, s.platformAuth))
		platform("POST "+scope+"/files", "uploadFile", s.handleUploadFile)
		platform("GET "+scope+"/files", "listFiles", s.handleListFiles)
		platform("GET "+scope+"/files/{file}", "getFile", s.handleGetFile)
		platform("DELETE "+scope+"/files/{file}", "deleteFile", s.handleDeleteFile)
		platform("POST "+scope+"/cachedContents", "createCachedContent", s.handleCreateCachedContent)
		platform("GET "+scope+"/cachedContents", "listCachedContents", s.handleListCachedContents)
		platform("GET "+scope+"/cachedContents/{cache}", "getCachedContent", s.handleGetCachedContent)
		platform("PATCH "+scope+"/cachedContents/{cache}", "updateCachedContent", s.handleUpdateCachedContent)
		platform("DELETE "+scope+"/cachedContents/{cache}", "deleteCachedContent", s.handleDeleteCachedContent)
		platform("GET "+scope+"/batches", "listBatches", s.handleListBatches)
		platform("GET "+scope+"/batches/{batch}", "getBatch", s.handleGetBatch)
		platform("POST "+scope+"/batches/{batch}", "cancelBatch", s.handleBatchAction)
		platform("DELETE "+scope+"/batches/{batch}", "deleteBatch", s.handleDeleteBatch)
	}

	// Admin.
	admin := func(pattern, action string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(surfaceAdmin, action, h))
	}
	admin("GET /admin/presets", "listPresets", s.handleListPresets)
	admin("POST /admin/presets", "createPreset", s.handleCreatePreset)
	admin("GET /admin/presets/{id}", "getPreset", s.handleGetPreset)
	admin("PUT /admin/presets/{id}", "updatePreset", s.handleUpdatePreset)
	admin("DELETE /admin/presets/{id}", "deletePreset", s.handleDeletePreset)
	admin("GET /admin/stats", "stats", s.handleStats)
	admin("POST /admin/cache/sweep", "sweepCache", s.handleSweepCache)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, s.logger, notFoundRoute(r))
	})

	return s.withHeaders(s.withLogging(mux))
}
