// Package cleanup removes expired galleries from blob storage.
package cleanup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/omoideart/omoide-gallery/internal/gallery"
	"github.com/omoideart/omoide-gallery/internal/metrics"
)

// JobPurger drops ledger rows of deleted galleries. Optional.
type JobPurger interface {
	DeleteJobsByGallery(ctx context.Context, galleryID string) error
}

// Detail describes what happened to one gallery during a sweep.
type Detail struct {
	GalleryID    string   `json:"galleryId"`
	Action       string   `json:"action"` // deleted, partial, error, skipped
	ExpiresAt    string   `json:"expiresAt,omitempty"`
	DaysExpired  int      `json:"daysExpired,omitempty"`
	FilesDeleted int      `json:"filesDeleted"`
	FilesFailed  int      `json:"filesFailed,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// Report summarizes a sweep. Processed counts expired galleries; Deleted and
// Failed count files. Success is false only when the gallery listing itself
// could not be completed.
type Report struct {
	Success   bool     `json:"success"`
	Scanned   int      `json:"scanned"`
	Processed int      `json:"processed"`
	Deleted   int      `json:"deleted"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Duration  string   `json:"duration"`
	Details   []Detail `json:"details"`
	Error     string   `json:"error,omitempty"`
}

type Sweeper struct {
	galleries *gallery.Store
	jobs      JobPurger
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewSweeper(galleries *gallery.Store, jobs JobPurger, m *metrics.Metrics, logger *zap.SugaredLogger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sweeper{
		galleries: galleries,
		jobs:      jobs,
		metrics:   m,
		log:       logger,
		now:       time.Now,
	}
}

// Run deletes every expired, unpurchased gallery. Per-gallery failures are
// logged and counted and never stop the sweep.
func (s *Sweeper) Run(ctx context.Context) Report {
	start := time.Now()
	report := Report{Details: make([]Detail, 0)}
	defer func() {
		report.Duration = time.Since(start).Round(time.Millisecond).String()
		s.metrics.SweepFinished(report.Success, report.Deleted, report.Failed)
	}()

	s.log.Infof("🧹 Starting cleanup of expired galleries...")

	keys, err := s.galleries.ListMetadataKeys(ctx)
	if err != nil {
		s.log.Errorf("❌ Cleanup failed: %v", err)
		report.Error = err.Error()
		return report
	}
	report.Success = true
	report.Scanned = len(keys)
	s.log.Infof("📊 Found %d gallery metadata files", len(keys))

	now := s.now()
	for _, key := range keys {
		if ctx.Err() != nil {
			s.log.Warnf("⚠️  Cleanup interrupted: %v", ctx.Err())
			break
		}

		id, _ := gallery.IDFromMetadataKey(key)
		meta, err := s.galleries.GetByKey(ctx, key)
		if err != nil {
			s.log.Warnf("⚠️  Failed to check gallery %s: %v", id, err)
			report.Skipped++
			report.Details = append(report.Details, Detail{GalleryID: id, Action: "skipped", Errors: []string{err.Error()}})
			continue
		}
		if !meta.Expired(now) {
			continue
		}
		report.Processed++

		s.log.Infof("🗑️  Deleting expired gallery: %s (expired %s)", id, meta.ExpiresAt.Format(time.RFC3339))
		detail := s.deleteGallery(ctx, id)
		detail.ExpiresAt = meta.ExpiresAt.Format(time.RFC3339)
		detail.DaysExpired = int(now.Sub(meta.ExpiresAt) / (24 * time.Hour))

		report.Deleted += detail.FilesDeleted
		report.Failed += detail.FilesFailed
		if detail.Action == "error" {
			report.Failed++
		}
		report.Details = append(report.Details, detail)
	}

	s.log.Infof("✅ Cleanup complete: processed=%d files deleted=%d failed=%d skipped=%d",
		report.Processed, report.Deleted, report.Failed, report.Skipped)
	return report
}

func (s *Sweeper) deleteGallery(ctx context.Context, id string) Detail {
	detail := Detail{GalleryID: id}

	res, err := s.galleries.Delete(ctx, id)
	if err != nil {
		detail.Action = "error"
		detail.Errors = []string{err.Error()}
		return detail
	}
	detail.FilesDeleted = res.Deleted
	detail.FilesFailed = res.Failed
	detail.Errors = res.Errors

	if !res.Complete {
		detail.Action = "partial"
		return detail
	}
	detail.Action = "deleted"

	if s.jobs != nil {
		if err := s.jobs.DeleteJobsByGallery(ctx, id); err != nil {
			s.log.Warnf("⚠️  Failed to drop jobs of gallery %s: %v", id, err)
		}
	}
	return detail
}
