package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/omoideart/omoide-gallery/internal/auth"
	"github.com/omoideart/omoide-gallery/internal/blob"
	"github.com/omoideart/omoide-gallery/internal/gallery"
	"github.com/omoideart/omoide-gallery/internal/prodigi"
	"github.com/omoideart/omoide-gallery/internal/wavespeed"
)

const maxBodyBytes = 1 << 20

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeOK adds success: true to the payload fields.
func writeOK(w http.ResponseWriter, status int, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	writeJSON(w, status, body)
}

// writeError answers {success: false, message, error}. The status comes
// from the error kind; fallback is used for errors of no known kind.
func writeError(w http.ResponseWriter, err error, message string, fallback int) {
	status := statusFor(err, fallback)
	body := map[string]any{
		"success": false,
		"message": message,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, status, body)
}

func statusFor(err error, fallback int) int {
	var reqErr *requestError
	var validationErrs validator.ValidationErrors
	switch {
	case err == nil:
		return fallback
	case errors.As(err, &reqErr),
		errors.As(err, &validationErrs),
		errors.Is(err, gallery.ErrInvalidImageIndex),
		errors.Is(err, gallery.ErrInvalidStatus),
		errors.Is(err, prodigi.ErrUnknownProduct):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, gallery.ErrNotFound),
		errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gallery.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNotConfigured),
		errors.Is(err, prodigi.ErrNotConfigured),
		errors.Is(err, wavespeed.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return fallback
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return nil, badRequest("request body too large")
	}
	return body, nil
}

func decodeJSON(r *http.Request, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	return unmarshalBody(body, dst)
}

func unmarshalBody(body []byte, dst any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return badRequest("request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return badRequest("invalid payload: %v", err)
	}
	return nil
}

// validGalleryID rejects identifiers that could escape the gallery prefix.
func validGalleryID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return badRequest("Gallery ID is required")
	case len(id) > 2048:
		return badRequest("Gallery ID is too long")
	case strings.ContainsAny(id, "/\\") || strings.Contains(id, ".."):
		return badRequest("Gallery ID is malformed")
	}
	return nil
}
