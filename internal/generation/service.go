// Package generation drives image generation for gallery slots: it builds
// the prompt, calls the provider, stores the images and feeds every outcome
// through the gallery aggregator.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omoideart/omoide-gallery/internal/blob"
	"github.com/omoideart/omoide-gallery/internal/gallery"
	"github.com/omoideart/omoide-gallery/internal/imaging"
	"github.com/omoideart/omoide-gallery/internal/metrics"
	"github.com/omoideart/omoide-gallery/internal/wavespeed"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Generator is the image provider.
type Generator interface {
	GenerateSync(ctx context.Context, prompt, aspectRatio string) (string, error)
	Submit(ctx context.Context, prompt, aspectRatio string) (string, error)
	Result(ctx context.Context, requestID string) (*wavespeed.Prediction, error)
	Download(ctx context.Context, imageURL string) ([]byte, error)
}

// PromptBuilder produces the prompt of one slot.
type PromptBuilder interface {
	BuildForSlot(ctx context.Context, in gallery.UserInputs, index int) string
}

type Options struct {
	Mode    string
	Workers int
	// SlotTimeout bounds one background slot generation.
	SlotTimeout time.Duration
}

type Service struct {
	galleries *gallery.Store
	generator Generator
	prompts   PromptBuilder
	ledger    gallery.JobLedger
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger

	mode        string
	slotTimeout time.Duration
	sem         chan struct{}
	wg          sync.WaitGroup
}

func NewService(
	galleries *gallery.Store,
	generator Generator,
	prompts PromptBuilder,
	ledger gallery.JobLedger,
	m *metrics.Metrics,
	logger *zap.SugaredLogger,
	opts Options,
) *Service {
	if opts.Mode != ModeAsync {
		opts.Mode = ModeSync
	}
	if opts.Workers <= 0 {
		opts.Workers = gallery.TotalImages
	}
	if opts.SlotTimeout <= 0 {
		opts.SlotTimeout = 5 * time.Minute
	}
	if ledger == nil {
		ledger = gallery.NewMemoryJobStore()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		galleries:   galleries,
		generator:   generator,
		prompts:     prompts,
		ledger:      ledger,
		metrics:     m,
		log:         logger,
		mode:        opts.Mode,
		slotTimeout: opts.SlotTimeout,
		sem:         make(chan struct{}, opts.Workers),
	}
}

func (s *Service) Mode() string {
	return s.mode
}

// Ready reports whether the provider has credentials. Generators that cannot
// tell are assumed ready.
func (s *Service) Ready() bool {
	if c, ok := s.generator.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return s.generator != nil
}

// SlotRequest asks for one slot to be generated. An empty Prompt is built
// from the gallery's inputs; an empty AspectRatio uses the gallery's.
type SlotRequest struct {
	GalleryID   string
	Index       int
	Prompt      string
	AspectRatio string
}

// Dispatch starts generation of every slot in the background and returns
// immediately. Work is detached from the caller's context.
func (s *Service) Dispatch(galleryID string) {
	for i := 1; i <= gallery.TotalImages; i++ {
		s.wg.Add(1)
		go func(index int) {
			defer s.wg.Done()

			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			ctx, cancel := context.WithTimeout(context.Background(), s.slotTimeout)
			defer cancel()

			if _, err := s.GenerateSlot(ctx, SlotRequest{GalleryID: galleryID, Index: index}); err != nil {
				s.log.Errorf("❌ Image %d of gallery %s failed: %v", index, galleryID, err)
			}
		}(i)
	}
	s.log.Infof("🚀 Dispatched %d generations for gallery %s (%s mode)", gallery.TotalImages, galleryID, s.mode)
}

// Wait blocks until dispatched work has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateSlot runs one slot to its next resting state: completed or failed
// in sync mode, generating with a request id in async mode. Generation
// errors are recorded on the slot and returned.
func (s *Service) GenerateSlot(ctx context.Context, req SlotRequest) (*gallery.Metadata, error) {
	if req.Index < 1 || req.Index > gallery.TotalImages {
		return nil, fmt.Errorf("%w: got %d", gallery.ErrInvalidImageIndex, req.Index)
	}
	start := time.Now()

	meta, err := s.galleries.ApplyImageUpdate(ctx, req.GalleryID, gallery.ImageUpdate{
		Index:  req.Index,
		Status: gallery.ImageGenerating,
	})
	if err != nil {
		s.noteConflict(err)
		return nil, fmt.Errorf("mark image %d generating: %w", req.Index, err)
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = s.prompts.BuildForSlot(ctx, meta.UserInputs, req.Index)
	}
	aspectRatio := req.AspectRatio
	if aspectRatio == "" {
		aspectRatio = meta.UserInputs.AspectRatio
	}

	if s.mode == ModeAsync {
		meta, err = s.submit(ctx, req.GalleryID, req.Index, prompt, aspectRatio)
	} else {
		meta, err = s.generate(ctx, req.GalleryID, req.Index, prompt, aspectRatio)
	}
	if err != nil {
		s.metrics.SlotFinished(s.mode, string(gallery.ImageFailed), time.Since(start))
		if failed, markErr := s.markFailed(req.GalleryID, req.Index, err); markErr == nil {
			meta = failed
		}
		return meta, err
	}

	status := string(gallery.ImageCompleted)
	if s.mode == ModeAsync {
		status = "submitted"
	}
	s.metrics.SlotFinished(s.mode, status, time.Since(start))
	return meta, nil
}

func (s *Service) generate(ctx context.Context, galleryID string, index int, prompt, aspectRatio string) (*gallery.Metadata, error) {
	s.log.Infof("🎨 Generating image %d for gallery %s...", index, galleryID)
	imageURL, err := s.generator.GenerateSync(ctx, prompt, aspectRatio)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, galleryID, index, imageURL, "")
}

func (s *Service) submit(ctx context.Context, galleryID string, index int, prompt, aspectRatio string) (*gallery.Metadata, error) {
	requestID, err := s.generator.Submit(ctx, prompt, aspectRatio)
	if err != nil {
		return nil, err
	}

	meta, err := s.galleries.ApplyImageUpdate(ctx, galleryID, gallery.ImageUpdate{
		Index:     index,
		Status:    gallery.ImageGenerating,
		RequestID: requestID,
	})
	if err != nil {
		s.noteConflict(err)
		return nil, fmt.Errorf("record request %s: %w", requestID, err)
	}

	if _, err := s.ledger.AddJob(ctx, requestID, galleryID, index); err != nil {
		// The request id is on the slot; a status check naming the gallery
		// and index can still finish it.
		s.log.Warnf("⚠️  Failed to record job %s in ledger: %v", requestID, err)
	}
	return meta, nil
}

// store downloads a generated image, writes the print and web copies and
// completes the slot.
func (s *Service) store(ctx context.Context, galleryID string, index int, imageURL, requestID string) (*gallery.Metadata, error) {
	s.log.Infof("📤 Uploading image %d to blob storage...", index)

	original, err := s.generator.Download(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}

	web, err := imaging.ResizeForWeb(original)
	if err != nil {
		s.log.Warnf("⚠️  Failed to resize image %d for web, storing original: %v", index, err)
		web = original
	}

	blobs := s.galleries.Blobs()
	printURL, err := s.putImage(ctx, blobs, gallery.ImageKey(galleryID, "print", index), original)
	if err != nil {
		return nil, err
	}
	webURL, err := s.putImage(ctx, blobs, gallery.ImageKey(galleryID, "web", index), web)
	if err != nil {
		return nil, err
	}

	meta, err := s.galleries.ApplyImageUpdate(ctx, galleryID, gallery.ImageUpdate{
		Index:       index,
		Status:      gallery.ImageCompleted,
		RequestID:   requestID,
		PrintURL:    printURL,
		WebURL:      webURL,
		OriginalURL: imageURL,
	})
	if err != nil {
		s.noteConflict(err)
		return nil, fmt.Errorf("complete image %d: %w", index, err)
	}

	s.log.Infof("✅ Updated gallery %s: %d/%d completed, %d failed", galleryID, meta.Progress.Completed, gallery.TotalImages, meta.Progress.Failed)
	return meta, nil
}

func (s *Service) putImage(ctx context.Context, blobs blob.Store, key string, data []byte) (string, error) {
	if _, err := blobs.Put(ctx, key, data, blob.PutOptions{ContentType: "image/jpeg"}); err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	return blobs.URL(ctx, key)
}

// markFailed records a slot failure. It uses a fresh context because the
// generation context may be the reason for the failure.
func (s *Service) markFailed(galleryID string, index int, cause error) (*gallery.Metadata, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	meta, err := s.galleries.ApplyImageUpdate(ctx, galleryID, gallery.ImageUpdate{
		Index:  index,
		Status: gallery.ImageFailed,
		Error:  cause.Error(),
	})
	if err != nil {
		s.noteConflict(err)
		s.log.Errorf("❌ Failed to update metadata with error for gallery %s image %d: %v", galleryID, index, err)
		return nil, err
	}
	return meta, nil
}

func (s *Service) noteConflict(err error) {
	if errors.Is(err, gallery.ErrConflict) {
		s.metrics.MetadataConflict()
	}
}

// AttachRequest records a provider request id on a slot, for clients that
// submitted the generation themselves.
func (s *Service) AttachRequest(ctx context.Context, galleryID string, index int, requestID string, status gallery.ImageStatus) (*gallery.Metadata, error) {
	if status == "" {
		status = gallery.ImageGenerating
	}
	meta, err := s.galleries.ApplyImageUpdate(ctx, galleryID, gallery.ImageUpdate{
		Index:     index,
		Status:    status,
		RequestID: requestID,
	})
	if err != nil {
		s.noteConflict(err)
		return nil, err
	}
	if requestID != "" {
		if _, err := s.ledger.AddJob(ctx, requestID, galleryID, index); err != nil {
			s.log.Warnf("⚠️  Failed to record job %s in ledger: %v", requestID, err)
		}
	}
	return meta, nil
}

// StatusQuery names the provider request to poll. GalleryID and ImageIndex
// are optional; they locate the slot when the ledger has no record of the
// request, e.g. after a restart with the in-memory ledger.
type StatusQuery struct {
	RequestID  string
	GalleryID  string
	ImageIndex int
}

// StatusResult is the outcome of a provider status poll.
type StatusResult struct {
	RequestID  string                `json:"requestId"`
	Status     string                `json:"status"`
	Output     string                `json:"output,omitempty"`
	Prediction *wavespeed.Prediction `json:"data"`
	GalleryID  string                `json:"galleryId,omitempty"`
	ImageIndex int                   `json:"imageIndex,omitempty"`
	Gallery    *gallery.Metadata     `json:"gallery,omitempty"`
}

// CheckStatus polls the provider. When the request belongs to a known slot
// that is not yet settled, a finished prediction is stored and applied.
func (s *Service) CheckStatus(ctx context.Context, q StatusQuery) (*StatusResult, error) {
	requestID := q.RequestID
	pred, err := s.generator.Result(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		RequestID:  requestID,
		Status:     pred.Status,
		Output:     pred.FirstOutput(),
		Prediction: pred,
	}
	if result.Status == "" {
		result.Status = "unknown"
	}

	job, err := s.ledger.GetJob(ctx, requestID)
	if err != nil {
		s.log.Warnf("⚠️  Ledger lookup for %s failed: %v", requestID, err)
		job = nil
	}
	if job == nil && q.GalleryID != "" {
		job = s.jobFromSlot(ctx, q)
	}
	if job == nil {
		return result, nil
	}
	result.GalleryID = job.GalleryID
	result.ImageIndex = job.ImageIndex

	if !pred.Done() || job.Status != gallery.JobSubmitted {
		return result, nil
	}

	switch pred.Status {
	case wavespeed.StatusCompleted:
		output := pred.FirstOutput()
		if output == "" {
			err = wavespeed.ErrNoOutput
			break
		}
		meta, storeErr := s.store(ctx, job.GalleryID, job.ImageIndex, output, requestID)
		if storeErr != nil {
			err = storeErr
			break
		}
		result.Gallery = meta
		s.setJobStatus(ctx, requestID, gallery.JobCompleted, "")
		return result, nil
	case wavespeed.StatusFailed:
		err = fmt.Errorf("generation failed: %s", pred.Error)
	}

	if err != nil {
		meta, markErr := s.markFailed(job.GalleryID, job.ImageIndex, err)
		if markErr == nil {
			result.Gallery = meta
		}
		s.setJobStatus(ctx, requestID, gallery.JobFailed, err.Error())
	}
	return result, nil
}

// jobFromSlot rebuilds a ledger entry from the gallery itself. The slot must
// still be generating under the same request id, so a caller cannot steer a
// result into a slot it does not belong to.
func (s *Service) jobFromSlot(ctx context.Context, q StatusQuery) *gallery.GenerationJob {
	if q.ImageIndex < 1 || q.ImageIndex > gallery.TotalImages {
		return nil
	}
	meta, err := s.galleries.Get(ctx, q.GalleryID)
	if err != nil {
		s.log.Warnf("⚠️  Cannot locate slot for %s: %v", q.RequestID, err)
		return nil
	}
	slot := meta.Image(q.ImageIndex)
	if slot == nil || slot.RequestID != q.RequestID || slot.Status != gallery.ImageGenerating {
		s.log.Warnf("⚠️  Gallery %s image %d is not waiting on %s", q.GalleryID, q.ImageIndex, q.RequestID)
		return nil
	}

	s.log.Infof("🔁 Re-recording job %s for gallery %s image %d", q.RequestID, q.GalleryID, q.ImageIndex)
	job, err := s.ledger.AddJob(ctx, q.RequestID, q.GalleryID, q.ImageIndex)
	if err != nil {
		s.log.Warnf("⚠️  Failed to record job %s in ledger: %v", q.RequestID, err)
		return &gallery.GenerationJob{
			RequestID:  q.RequestID,
			GalleryID:  q.GalleryID,
			ImageIndex: q.ImageIndex,
			Status:     gallery.JobSubmitted,
		}
	}
	return job
}

func (s *Service) setJobStatus(ctx context.Context, requestID, status, errMsg string) {
	if err := s.ledger.UpdateJobStatus(ctx, requestID, status, errMsg); err != nil {
		s.log.Warnf("⚠️  Failed to update job %s: %v", requestID, err)
	}
}

// UploadedImage is one successful copy into blob storage.
type UploadedImage struct {
	Index       int    `json:"index"`
	OriginalURL string `json:"originalUrl"`
	BlobURL     string `json:"blobUrl"`
	Key         string `json:"filename"`
}

// FailedUpload is one URL that could not be copied.
type FailedUpload struct {
	Index       int    `json:"index"`
	OriginalURL string `json:"originalUrl"`
	Error       string `json:"error"`
}

type UploadResult struct {
	GalleryID string          `json:"galleryId"`
	Uploaded  []UploadedImage `json:"uploadedImages"`
	Failed    []FailedUpload  `json:"failedUploads"`
}

// UploadImages copies image URLs into galleries/{id}/upload-{n}.jpg. A
// missing gallery id gets a fresh one. Failures are reported per image.
func (s *Service) UploadImages(ctx context.Context, galleryID string, imageURLs []string) UploadResult {
	if galleryID == "" {
		galleryID = uuid.NewString()
	}
	result := UploadResult{
		GalleryID: galleryID,
		Uploaded:  make([]UploadedImage, 0, len(imageURLs)),
		Failed:    make([]FailedUpload, 0),
	}

	type outcome struct {
		ok   *UploadedImage
		fail *FailedUpload
	}
	outcomes := make([]outcome, len(imageURLs))

	var wg sync.WaitGroup
	for i, src := range imageURLs {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			index := i + 1
			key := gallery.ImageKey(galleryID, "upload", index)

			data, err := s.generator.Download(ctx, src)
			if err == nil {
				var url string
				url, err = s.putImage(ctx, s.galleries.Blobs(), key, data)
				if err == nil {
					outcomes[i].ok = &UploadedImage{Index: index, OriginalURL: src, BlobURL: url, Key: key}
					return
				}
			}
			s.log.Errorf("❌ Failed to upload image %d: %v", index, err)
			outcomes[i].fail = &FailedUpload{Index: index, OriginalURL: src, Error: err.Error()}
		}(i, src)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.ok != nil {
			result.Uploaded = append(result.Uploaded, *o.ok)
		} else if o.fail != nil {
			result.Failed = append(result.Failed, *o.fail)
		}
	}
	s.log.Infof("📊 Upload summary: %d successful, %d failed", len(result.Uploaded), len(result.Failed))
	return result
}
