package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/omoideart/omoide-gallery/internal/app"
	"github.com/omoideart/omoide-gallery/internal/blob"
	"github.com/omoideart/omoide-gallery/internal/cleanup"
	"github.com/omoideart/omoide-gallery/internal/config"
	"github.com/omoideart/omoide-gallery/internal/gallery"
	"github.com/omoideart/omoide-gallery/internal/gemini"
	"github.com/omoideart/omoide-gallery/internal/generation"
	"github.com/omoideart/omoide-gallery/internal/metrics"
	"github.com/omoideart/omoide-gallery/internal/prodigi"
	"github.com/omoideart/omoide-gallery/internal/prompts"
	"github.com/omoideart/omoide-gallery/internal/wavespeed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := setupLogger(cfg.Env)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("❌ %v", err)
	}
}

func setupLogger(env string) *zap.SugaredLogger {
	var (
		logger *zap.Logger
		err    error
	)
	switch env {
	case "local", "dev":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	return logger.Sugar()
}

func run(cfg config.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var ledger gallery.JobLedger
	var purger cleanup.JobPurger
	if cfg.DatabaseURL != "" {
		jobs, err := gallery.OpenJobStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer jobs.Close()
		ledger, purger = jobs, jobs
		logger.Infof("🗄️  Job ledger: postgres")
	} else {
		jobs := gallery.NewMemoryJobStore()
		ledger, purger = jobs, jobs
		logger.Infof("🗄️  Job ledger: in-memory")
	}

	m := metrics.New()
	galleries := gallery.NewStore(blobs, cfg.GalleryTTL, logger)

	var enhancer prompts.Enhancer
	if cfg.Gemini.APIKey != "" {
		enhancer = gemini.NewClient(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Model)
		logger.Infof("✨ Prompt enhancement enabled (%s)", cfg.Gemini.Model)
	}

	imageClient := wavespeed.NewClient(cfg.Wavespeed.BaseURL, cfg.Wavespeed.APIKey, cfg.Wavespeed.Model, logger)
	if !imageClient.Configured() {
		logger.Warnf("⚠️  WAVESPEED_API_KEY not set, galleries will fail to generate")
	}

	gen := generation.NewService(galleries, imageClient, prompts.NewBuilder(enhancer, logger), ledger, m, logger, generation.Options{
		Mode:    cfg.Generation.Mode,
		Workers: cfg.Generation.Workers,
	})

	catalog := prodigi.DefaultCatalog()
	if cfg.Prodigi.ProductsPath != "" {
		catalog, err = prodigi.LoadCatalog(cfg.Prodigi.ProductsPath)
		if err != nil {
			return err
		}
	}
	prints := prodigi.NewClient(cfg.ProdigiBaseURL(), cfg.Prodigi.APIKey, catalog, logger)

	sweeper := cleanup.NewSweeper(galleries, purger, m, logger)
	scheduler, err := cleanup.NewScheduler(sweeper, cfg.CleanupSchedule, logger)
	if err != nil {
		return err
	}

	appInstance, err := app.New(cfg, app.Dependencies{
		Galleries:  galleries,
		Generation: gen,
		Prodigi:    prints,
		Sweeper:    sweeper,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	appInstance.StartBackground(ctx.Done())
	scheduler.Start()

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           appInstance.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Sync webhook generation holds the request open for minutes.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("🚀 Omoide gallery API listening on %s (%s generation)", cfg.Address, gen.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Infof("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("❌ HTTP shutdown: %v", err)
	}
	scheduler.Stop(shutdownCtx)
	if err := gen.Wait(shutdownCtx); err != nil {
		logger.Warnf("⚠️  Background generations still running at exit: %v", err)
	}
	return nil
}

func openBlobStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (blob.Store, error) {
	if cfg.Blob.Driver == config.BlobDriverMemory {
		logger.Warnf("⚠️  Using in-memory blob storage, galleries are lost on restart")
		return blob.NewMemoryStore(cfg.PublicBaseURL + "/blob"), nil
	}

	store, err := blob.NewS3Store(ctx, blob.S3Options{
		Endpoint:        cfg.Blob.Endpoint,
		Region:          cfg.Blob.Region,
		Bucket:          cfg.Blob.Bucket,
		AccessKeyID:     cfg.Blob.AccessKeyID,
		SecretAccessKey: cfg.Blob.SecretAccessKey,
		PublicURL:       cfg.Blob.PublicURL,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("🪣 Blob storage: s3 bucket %s", cfg.Blob.Bucket)
	return store, nil
}
