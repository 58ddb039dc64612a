package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/omoideart/omoide-gallery/internal/auth"
	"github.com/omoideart/omoide-gallery/internal/cleanup"
	"github.com/omoideart/omoide-gallery/internal/config"
	"github.com/omoideart/omoide-gallery/internal/gallery"
	"github.com/omoideart/omoide-gallery/internal/generation"
	"github.com/omoideart/omoide-gallery/internal/metrics"
	"github.com/omoideart/omoide-gallery/internal/middleware"
	"github.com/omoideart/omoide-gallery/internal/prodigi"
)

// Dependencies are the services the HTTP layer drives.
type Dependencies struct {
	Galleries  *gallery.Store
	Generation *generation.Service
	Prodigi    *prodigi.Client
	Sweeper    *cleanup.Sweeper
	Metrics    *metrics.Metrics
	Logger     *zap.SugaredLogger
}

type App struct {
	cfg        config.Config
	galleries  *gallery.Store
	generation *generation.Service
	prodigi    *prodigi.Client
	sweeper    *cleanup.Sweeper
	metrics    *metrics.Metrics
	log        *zap.SugaredLogger

	validate      *validator.Validate
	webhooks      *auth.WebhookVerifier
	ipLimiter     *middleware.RateLimiter
	createLimiter *middleware.RateLimiter
	slotLimiter   *middleware.RateLimiter
	now           func() time.Time
}

func New(cfg config.Config, deps Dependencies) (*App, error) {
	if deps.Galleries == nil || deps.Generation == nil || deps.Prodigi == nil || deps.Sweeper == nil {
		return nil, errors.New("app: galleries, generation, prodigi and sweeper are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &App{
		cfg:        cfg,
		galleries:  deps.Galleries,
		generation: deps.Generation,
		prodigi:    deps.Prodigi,
		sweeper:    deps.Sweeper,
		metrics:    deps.Metrics,
		log:        logger,

		validate:      validator.New(validator.WithRequiredStructEnabled()),
		webhooks:      auth.NewWebhookVerifier(cfg.Secrets.Webhook),
		ipLimiter:     middleware.NewRateLimiter(300, 60, logger),
		createLimiter: middleware.NewRateLimiter(10, 5, logger),
		slotLimiter:   middleware.NewRateLimiter(6, 2, logger),
		now:           time.Now,
	}, nil
}

// StartBackground prunes idle rate limiter entries until stop is closed.
func (a *App) StartBackground(stop <-chan struct{}) {
	for _, rl := range []*middleware.RateLimiter{a.ipLimiter, a.createLimiter, a.slotLimiter} {
		rl.StartCleanup(5*time.Minute, stop)
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	if a.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(a.metrics.Middleware)
	r.Use(cors.Handler(a.corsOptions()))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"generationMode": a.generation.Mode(),
		})
	})
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}
	if a.cfg.Blob.Driver == config.BlobDriverMemory {
		r.Get("/blob/*", a.handleBlob)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(a.ipLimiter.Handler)

		api.With(a.createLimiter.Handler).Post("/generate", a.handleGenerate)
		api.Get("/gallery", a.handleGetGallery)
		api.Get("/gallery/{id}", a.handleGetGallery)
		api.Post("/collection", a.handleCollection)
		api.Post("/gallery-update", a.handleGalleryUpdate)
		api.Post("/update-gallery", a.handleUpdateGallery)
		api.Get("/check-status", a.handleCheckStatus)
		api.Post("/check-status", a.handleCheckStatus)
		api.Post("/webhook-generate", a.handleWebhookGenerate)
		api.Post("/upload-images", a.handleUploadImages)

		api.Post("/cleanup-expired", a.handleCleanupExpired)
		api.Get("/cron-cleanup", a.handleCronCleanup)

		api.Post("/prodigi-orders", a.handlePrintOrders)
	})

	return r
}

// corsOptions allows any origin without credentials unless origins are
// configured; browsers refuse credentials on a wildcard origin.
func (a *App) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type", "Authorization",
			auth.TimestampHeader, auth.SignatureHeader,
		},
	}
	if len(a.cfg.AllowedOrigins) > 0 {
		opts.AllowedOrigins = a.cfg.AllowedOrigins
		opts.AllowCredentials = true
	}
	return opts
}
