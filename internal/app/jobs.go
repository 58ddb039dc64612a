package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/omoideart/omoide-gallery/internal/generation"
)

func (a *App) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := generation.StatusQuery{
		RequestID: strings.TrimSpace(query.Get("requestId")),
		GalleryID: strings.TrimSpace(query.Get("galleryId")),
	}
	if raw := query.Get("imageIndex"); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, badRequest("imageIndex must be a number"), "Image index is invalid", http.StatusBadRequest)
			return
		}
		q.ImageIndex = index
	}
	if q.RequestID == "" && r.Method == http.MethodPost {
		var body struct {
			RequestID  string `json:"requestId"`
			GalleryID  string `json:"galleryId"`
			ImageIndex int    `json:"imageIndex"`
		}
		if err := decodeJSON(r, &body); err == nil {
			q.RequestID = strings.TrimSpace(body.RequestID)
			q.GalleryID = strings.TrimSpace(body.GalleryID)
			q.ImageIndex = body.ImageIndex
		}
	}
	if q.RequestID == "" {
		writeError(w, badRequest("requestId is required"), "Request ID is required", http.StatusBadRequest)
		return
	}
	if q.GalleryID != "" {
		if err := validGalleryID(q.GalleryID); err != nil {
			writeError(w, err, "Gallery ID is malformed", http.StatusBadRequest)
			return
		}
	}

	// A finished job downloads and stores the image, which takes a while.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	a.log.Infof("🔍 Checking status for request: %s", q.RequestID)
	result, err := a.generation.CheckStatus(ctx, q)
	if err != nil {
		writeError(w, err, "Failed to check status", http.StatusBadGateway)
		return
	}

	fields := map[string]any{
		"requestId": result.RequestID,
		"status":    result.Status,
		"data":      result.Prediction,
	}
	if result.Output != "" {
		fields["output"] = result.Output
	}
	if result.GalleryID != "" {
		fields["galleryId"] = result.GalleryID
		fields["imageIndex"] = result.ImageIndex
	}
	if result.Gallery != nil {
		fields["gallery"] = result.Gallery
	}
	writeOK(w, http.StatusOK, fields)
}

type webhookGenerateRequest struct {
	GalleryID      string `json:"galleryId" validate:"required"`
	ImageIndex     int    `json:"imageIndex" validate:"required"`
	EnhancedPrompt string `json:"enhancedPrompt" validate:"omitempty,max=4000"`
	AspectRatio    string `json:"aspectRatio" validate:"omitempty,oneof=1:1 3:4 4:3"`
}

func (a *App) handleWebhookGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := a.webhooks.Verify(r.Header, body); err != nil {
		a.log.Warnf("🔒 Rejected webhook: %v", err)
		writeError(w, err, "Unauthorized webhook request", http.StatusUnauthorized)
		return
	}

	var req webhookGenerateRequest
	if err := unmarshalBody(body, &req); err != nil {
		writeError(w, err, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, err, "Missing required parameters: galleryId, imageIndex", http.StatusBadRequest)
		return
	}
	if err := validGalleryID(req.GalleryID); err != nil {
		writeError(w, err, "Gallery ID is malformed", http.StatusBadRequest)
		return
	}

	key := fmt.Sprintf("%s-%d", req.GalleryID, req.ImageIndex)
	if !a.slotLimiter.Allow(key) {
		a.log.Warnf("🚦 Webhook rate limit exceeded for %s", key)
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"message": "Too many generation requests for this image",
		})
		return
	}

	a.log.Infof("🎨 Processing webhook for gallery %s, image %d...", req.GalleryID, req.ImageIndex)
	meta, err := a.generation.GenerateSlot(r.Context(), generation.SlotRequest{
		GalleryID:   req.GalleryID,
		Index:       req.ImageIndex,
		Prompt:      req.EnhancedPrompt,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		a.log.Errorf("❌ Webhook generation failed for %s: %v", key, err)
		writeError(w, err, "Webhook image generation failed", http.StatusBadGateway)
		return
	}

	a.log.Infof("✅ Webhook completed for image %d in gallery %s", req.ImageIndex, req.GalleryID)
	writeOK(w, http.StatusOK, map[string]any{
		"galleryId":     req.GalleryID,
		"imageIndex":    req.ImageIndex,
		"imageResult":   meta.Image(req.ImageIndex),
		"galleryStatus": meta.Status,
		"progress":      meta.Progress,
	})
}

type uploadImagesRequest struct {
	ImageURLs []string `json:"imageUrls" validate:"required,min=1,max=20,dive,url"`
	GalleryID string   `json:"galleryId"`
}

func (a *App) handleUploadImages(w http.ResponseWriter, r *http.Request) {
	var req uploadImagesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, "Valid imageUrls array required", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, err, "Valid imageUrls array required", http.StatusBadRequest)
		return
	}
	if req.GalleryID != "" {
		if err := validGalleryID(req.GalleryID); err != nil {
			writeError(w, err, "Gallery ID is malformed", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	a.log.Infof("📤 Uploading %d images to blob storage...", len(req.ImageURLs))
	result := a.generation.UploadImages(ctx, req.GalleryID, req.ImageURLs)

	writeOK(w, http.StatusOK, map[string]any{
		"galleryId":      result.GalleryID,
		"uploadedImages": result.Uploaded,
		"failedUploads":  result.Failed,
		"message":        fmt.Sprintf("Uploaded %d of %d images", len(result.Uploaded), len(req.ImageURLs)),
	})
}
