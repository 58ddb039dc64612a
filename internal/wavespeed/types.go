package wavespeed

import "strings"

// Prediction statuses reported by the API.
const (
	StatusCreated    = "created"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var aspectSizes = map[string]string{
	"1:1": "4096*4096",
	"3:4": "3072*4096",
	"4:3": "4096*3072",
}

// SizeForAspectRatio maps a gallery aspect ratio to the provider size string.
func SizeForAspectRatio(aspectRatio string) string {
	if size, ok := aspectSizes[strings.TrimSpace(aspectRatio)]; ok {
		return size
	}
	return aspectSizes["1:1"]
}

type GeneratePayload struct {
	Prompt             string `json:"prompt"`
	Size               string `json:"size"`
	MaxImages          int    `json:"max_images"`
	EnableBase64Output bool   `json:"enable_base64_output"`
	EnableSyncMode     bool   `json:"enable_sync_mode"`
}

// Envelope wraps every API response.
type Envelope struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    Prediction `json:"data"`
}

type Prediction struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Status  string   `json:"status"`
	Outputs []string `json:"outputs"`
	// Older responses carried the URLs under images.
	Images      []string `json:"images"`
	Error       string   `json:"error"`
	HasNSFW     []bool   `json:"has_nsfw_contents,omitempty"`
	CreatedAt   string   `json:"created_at"`
	ExecutionMs int64    `json:"executionTime"`
}

// FirstOutput returns the first generated image URL, or "".
func (p Prediction) FirstOutput() string {
	for _, list := range [][]string{p.Outputs, p.Images} {
		for _, u := range list {
			if u != "" {
				return u
			}
		}
	}
	return ""
}

func (p Prediction) Done() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}
