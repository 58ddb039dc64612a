package gallery

import (
	"errors"
	"time"
)

// TotalImages is the number of image slots in every gallery.
const TotalImages = 4

// DefaultTTL is how long an unpurchased gallery lives before the sweep removes it.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrNotFound          = errors.New("gallery not found")
	ErrInvalidImageIndex = errors.New("image index must be between 1 and 4")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrConflict          = errors.New("gallery was modified concurrently")
)

// Status is the overall gallery status.
type Status string

const (
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusGenerating, StatusComplete, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// ImageStatus is the status of a single slot.
type ImageStatus string

const (
	ImagePending    ImageStatus = "pending"
	ImageGenerating ImageStatus = "generating"
	ImageCompleted  ImageStatus = "completed"
	ImageFailed     ImageStatus = "failed"
)

func (s ImageStatus) Valid() bool {
	switch s {
	case ImagePending, ImageGenerating, ImageCompleted, ImageFailed:
		return true
	}
	return false
}

// Terminal reports whether the slot will not change without a new generation.
func (s ImageStatus) Terminal() bool {
	return s == ImageCompleted || s == ImageFailed
}

type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Failed     int `json:"failed"`
	Generating int `json:"generating"`
}

type Image struct {
	Index       int         `json:"index"`
	Status      ImageStatus `json:"status"`
	RequestID   string      `json:"requestId,omitempty"`
	WebURL      string      `json:"webUrl,omitempty"`
	PrintURL    string      `json:"printUrl,omitempty"`
	OriginalURL string      `json:"originalUrl,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// UserInputs are the memory form fields a gallery was created from.
type UserInputs struct {
	Location    string   `json:"location" validate:"required,max=200"`
	Atmosphere  string   `json:"atmosphere" validate:"required,max=100"`
	Focus       string   `json:"focus" validate:"required,max=200"`
	Detail      string   `json:"detail" validate:"required,max=300"`
	Feelings    []string `json:"feelings" validate:"required,min=1,max=6,dive,required,max=50"`
	AspectRatio string   `json:"aspectRatio,omitempty" validate:"omitempty,oneof=1:1 3:4 4:3"`
	Season      string   `json:"season,omitempty" validate:"omitempty,max=50"`
}

// Metadata is the document stored at galleries/{id}/metadata.json.
type Metadata struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Progress   Progress   `json:"progress"`
	Images     []Image    `json:"images"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	UserInputs UserInputs `json:"userInputs"`
	Purchased  bool       `json:"purchased"`
	ViewCount  int        `json:"viewCount"`
}

// ImageUpdate is one incoming per-slot result. Empty optional fields leave
// the stored values untouched.
type ImageUpdate struct {
	Index       int
	Status      ImageStatus
	RequestID   string
	WebURL      string
	PrintURL    string
	OriginalURL string
	Error       string
}

// NewMetadata returns a gallery with all slots pending.
func NewMetadata(id string, inputs UserInputs, now time.Time, ttl time.Duration) *Metadata {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Metadata{
		ID:         id,
		Status:     StatusGenerating,
		CreatedAt:  now.UTC(),
		ExpiresAt:  now.UTC().Add(ttl),
		UserInputs: inputs,
	}
	m.normalizeSlots()
	m.Recompute()
	return m
}

// Expired reports whether the sweep should remove the gallery. Documents
// without an expiry never expire.
func (m *Metadata) Expired(now time.Time) bool {
	if m.Purchased || m.ExpiresAt.IsZero() {
		return false
	}
	return now.After(m.ExpiresAt)
}

// TimeRemaining is clamped at zero.
func (m *Metadata) TimeRemaining(now time.Time) time.Duration {
	remaining := m.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Image returns the slot at index, or nil.
func (m *Metadata) Image(index int) *Image {
	for i := range m.Images {
		if m.Images[i].Index == index {
			return &m.Images[i]
		}
	}
	return nil
}
