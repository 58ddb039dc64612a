package app

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/omoideart/omoide-gallery/internal/gallery"
)

const maxCollectionSize = 50

// galleryView is a gallery as served to the frontend.
type galleryView struct {
	*gallery.Metadata
	// TimeRemaining is in milliseconds.
	TimeRemaining int64 `json:"timeRemaining"`
}

func (a *App) view(meta *gallery.Metadata) galleryView {
	return galleryView{
		Metadata:      meta,
		TimeRemaining: meta.TimeRemaining(a.now()).Milliseconds(),
	}
}

func (a *App) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var inputs gallery.UserInputs
	if err := decodeJSON(r, &inputs); err != nil {
		writeError(w, err, "Invalid request", http.StatusBadRequest)
		return
	}
	if inputs.AspectRatio == "" {
		inputs.AspectRatio = "1:1"
	}
	if err := a.validate.Struct(inputs); err != nil {
		writeError(w, err, "Please provide location, atmosphere, focus, detail, and feelings", http.StatusBadRequest)
		return
	}

	id, err := gallery.NewID(inputs)
	if err != nil {
		writeError(w, err, "Unable to create gallery", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	meta, err := a.galleries.Create(ctx, id, inputs)
	if err != nil {
		a.log.Errorf("❌ Failed to create gallery %s: %v", id, err)
		writeError(w, err, "Unable to create gallery", http.StatusBadGateway)
		return
	}
	a.metrics.GalleryCreated()

	message := "Your Omoide gallery is being created"
	if a.generation.Ready() {
		a.generation.Dispatch(id)
	} else {
		a.log.Errorf("❌ Image generation is not configured, gallery %s cannot start", id)
		message = "Image generation is unavailable right now"
		if failed, err := a.galleries.SetStatus(ctx, id, gallery.StatusFailed); err == nil {
			meta = failed
		}
	}

	writeOK(w, http.StatusAccepted, map[string]any{
		"galleryId": id,
		"magicLink": strings.TrimRight(a.cfg.PublicBaseURL, "/") + "/gallery/" + id,
		"gallery":   a.view(meta),
		"message":   message,
	})
}

func (a *App) handleGetGallery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if err := validGalleryID(id); err != nil {
		writeError(w, err, "Gallery ID is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	meta, err := a.loadGallery(ctx, id, true)
	if err != nil {
		writeError(w, err, "Unable to load gallery", http.StatusBadGateway)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"gallery": a.view(meta)})
}

// loadGallery returns the stored gallery, or a pending one built from the
// inputs encoded in the id when nothing is stored yet. Synthesized galleries
// are not persisted. Views count only once generation has settled, so status
// polling never rewrites the metadata while slots are being filled.
func (a *App) loadGallery(ctx context.Context, id string, countView bool) (*gallery.Metadata, error) {
	meta, err := a.galleries.Get(ctx, id)
	if errors.Is(err, gallery.ErrNotFound) {
		inputs, ok := gallery.DecodeID(id)
		if !ok {
			a.log.Warnf("⚠️  Failed to decode user inputs for gallery %s, using defaults", id)
		}
		meta = gallery.NewMetadata(id, inputs, a.now(), a.cfg.GalleryTTL)
		meta.ViewCount = 1
		return meta, nil
	}
	if err != nil {
		return nil, err
	}

	if countView && meta.Status != gallery.StatusGenerating {
		if viewed, err := a.galleries.RecordView(ctx, id); err == nil {
			meta = viewed
		} else {
			a.log.Warnf("⚠️  Failed to record view of gallery %s: %v", id, err)
		}
	}
	if meta.UserInputs.Location == "" {
		meta.UserInputs, _ = gallery.DecodeID(id)
	}
	return meta, nil
}

// handleBlob serves objects of the in-memory store, whose URLs point here.
func (a *App) handleBlob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	obj, err := a.galleries.Blobs().Get(r.Context(), key)
	if err != nil {
		writeError(w, err, "Object not found", http.StatusInternalServerError)
		return
	}
	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	w.Header().Set("ETag", obj.ETag)
	_, _ = w.Write(obj.Body)
}

type collectionRequest struct {
	GalleryIDs []string `json:"galleryIds" validate:"required,min=1,dive,required"`
}

type collectionView struct {
	TotalGalleries  int           `json:"totalGalleries"`
	TotalImages     int           `json:"totalImages"`
	CompletedImages int           `json:"completedImages"`
	Galleries       []galleryView `json:"galleries"`
	// EarliestExpiry is a unix timestamp in milliseconds.
	EarliestExpiry int64     `json:"earliestExpiry"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (a *App) handleCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, "Gallery IDs array is required", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, err, "Gallery IDs array is required", http.StatusBadRequest)
		return
	}
	if len(req.GalleryIDs) > maxCollectionSize {
		writeError(w, badRequest("at most %d galleries per collection", maxCollectionSize), "Too many galleries", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	a.log.Infof("🎨 Fetching collection for %d galleries", len(req.GalleryIDs))

	results := make([]*gallery.Metadata, len(req.GalleryIDs))
	var wg sync.WaitGroup
	for i, id := range req.GalleryIDs {
		if validGalleryID(id) != nil {
			continue
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			meta, err := a.loadGallery(ctx, id, false)
			if err != nil {
				a.log.Warnf("⚠️  Failed to fetch gallery %s: %v", id, err)
				return
			}
			results[i] = meta
		}(i, id)
	}
	wg.Wait()

	collection := collectionView{
		Galleries:      make([]galleryView, 0, len(results)),
		EarliestExpiry: math.MaxInt64,
		CreatedAt:      a.now().UTC(),
	}
	for _, meta := range results {
		if meta == nil {
			continue
		}
		collection.Galleries = append(collection.Galleries, a.view(meta))
		collection.TotalImages += len(meta.Images)
		for _, img := range meta.Images {
			if img.Status == gallery.ImageCompleted {
				collection.CompletedImages++
			}
		}
		if exp := meta.ExpiresAt.UnixMilli(); exp < collection.EarliestExpiry {
			collection.EarliestExpiry = exp
		}
	}
	collection.TotalGalleries = len(collection.Galleries)

	if collection.TotalGalleries == 0 {
		writeError(w, gallery.ErrNotFound, "No valid galleries found", http.StatusNotFound)
		return
	}

	a.log.Infof("✅ Collection assembled: %d galleries, %d/%d images completed",
		collection.TotalGalleries, collection.CompletedImages, collection.TotalImages)
	writeOK(w, http.StatusOK, map[string]any{"collection": collection})
}

// imageData is the slot payload of gallery-update calls.
type imageData struct {
	Status      gallery.ImageStatus `json:"status"`
	RequestID   string              `json:"requestId"`
	WebURL      string              `json:"webUrl"`
	PrintURL    string              `json:"printUrl"`
	OriginalURL string              `json:"originalUrl"`
	Error       string              `json:"error"`
}

func (d imageData) update(index int) gallery.ImageUpdate {
	return gallery.ImageUpdate{
		Index:       index,
		Status:      d.Status,
		RequestID:   d.RequestID,
		WebURL:      d.WebURL,
		PrintURL:    d.PrintURL,
		OriginalURL: d.OriginalURL,
		Error:       d.Error,
	}
}

type galleryUpdateRequest struct {
	Action         string              `json:"action"`
	GalleryID      string              `json:"galleryId"`
	ImageIndex     int                 `json:"imageIndex"`
	ImageData      *imageData          `json:"imageData"`
	Status         gallery.ImageStatus `json:"status"`
	AdditionalData imageData           `json:"additionalData"`
}

func (a *App) handleGalleryUpdate(w http.ResponseWriter, r *http.Request) {
	var req galleryUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := validGalleryID(req.GalleryID); err != nil {
		writeError(w, err, "Gallery ID is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	var (
		meta *gallery.Metadata
		err  error
	)
	switch req.Action {
	case "update-image":
		if req.ImageIndex == 0 || req.ImageData == nil {
			writeError(w, badRequest("imageIndex and imageData are required"), "Image index and data are required", http.StatusBadRequest)
			return
		}
		meta, err = a.galleries.ApplyImageUpdate(ctx, req.GalleryID, req.ImageData.update(req.ImageIndex))
	case "set-status":
		if req.ImageIndex == 0 || req.Status == "" {
			writeError(w, badRequest("imageIndex and status are required"), "Image index and status are required", http.StatusBadRequest)
			return
		}
		u := req.AdditionalData.update(req.ImageIndex)
		u.Status = req.Status
		meta, err = a.galleries.ApplyImageUpdate(ctx, req.GalleryID, u)
	case "get-metadata":
		meta, err = a.galleries.Get(ctx, req.GalleryID)
	default:
		writeError(w, badRequest("unknown action %q", req.Action), "Invalid action. Use: update-image, set-status, or get-metadata", http.StatusBadRequest)
		return
	}
	if err != nil {
		if errors.Is(err, gallery.ErrConflict) {
			a.metrics.MetadataConflict()
		}
		writeError(w, err, "Gallery update failed", http.StatusInternalServerError)
		return
	}

	if req.Action != "get-metadata" {
		a.log.Infof("✅ Gallery progress updated: %d/%d completed, %d failed",
			meta.Progress.Completed, gallery.TotalImages, meta.Progress.Failed)
	}
	writeOK(w, http.StatusOK, map[string]any{"metadata": meta})
}

type updateGalleryRequest struct {
	GalleryID  string              `json:"galleryId" validate:"required"`
	ImageIndex int                 `json:"imageIndex" validate:"required"`
	RequestID  string              `json:"requestId" validate:"required"`
	Status     gallery.ImageStatus `json:"status"`
}

func (a *App) handleUpdateGallery(w http.ResponseWriter, r *http.Request) {
	var req updateGalleryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, "Gallery ID, image index, and request ID are required", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, err, "Gallery ID, image index, and request ID are required", http.StatusBadRequest)
		return
	}
	if err := validGalleryID(req.GalleryID); err != nil {
		writeError(w, err, "Gallery ID is malformed", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	a.log.Infof("📝 Updating gallery %s - Image %d with requestId: %s", req.GalleryID, req.ImageIndex, req.RequestID)
	meta, err := a.generation.AttachRequest(ctx, req.GalleryID, req.ImageIndex, req.RequestID, req.Status)
	if err != nil {
		writeError(w, err, "Failed to update gallery", http.StatusInternalServerError)
		return
	}

	writeOK(w, http.StatusOK, map[string]any{
		"message":  "Gallery " + req.GalleryID + " is now tracking request " + req.RequestID,
		"metadata": meta,
	})
}
