package app

import (
	"context"
	"net/http"
	"time"

	"github.com/omoideart/omoide-gallery/internal/auth"
	"github.com/omoideart/omoide-gallery/internal/prodigi"
)

func (a *App) handleCleanupExpired(w http.ResponseWriter, r *http.Request) {
	a.runSweep(w, r, a.cfg.Secrets.Cleanup, auth.AudienceCleanup)
}

func (a *App) handleCronCleanup(w http.ResponseWriter, r *http.Request) {
	a.runSweep(w, r, a.cfg.Secrets.Cron, auth.AudienceCron)
}

func (a *App) runSweep(w http.ResponseWriter, r *http.Request, secret, audience string) {
	if err := auth.VerifyRequest(r, secret, audience); err != nil {
		a.log.Warnf("🔒 Rejected %s request: %v", audience, err)
		writeError(w, err, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	report := a.sweeper.Run(ctx)
	if !report.Success {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Cleanup failed",
			"error":   report.Error,
			"results": report,
		})
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"message": "Cleanup completed",
		"results": report,
	})
}

type printAction struct {
	Action    string `json:"action"`
	GalleryID string `json:"galleryId"`
}

func (a *App) handlePrintOrders(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err, "Invalid request", http.StatusBadRequest)
		return
	}
	var act printAction
	if err := unmarshalBody(body, &act); err != nil {
		writeError(w, err, "Invalid request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	switch act.Action {
	case "get-products":
		writeOK(w, http.StatusOK, map[string]any{"products": a.prodigi.Catalog().Map()})

	case "get-quote":
		var req prodigi.QuoteRequest
		if err := a.decodeAndValidate(body, &req); err != nil {
			writeError(w, err, "Country code and items are required", http.StatusBadRequest)
			return
		}
		quote, err := a.prodigi.Quote(ctx, req)
		a.metrics.PrintRequest(act.Action, err == nil)
		if err != nil {
			a.log.Errorf("❌ Prodigi quote failed: %v", err)
			writeError(w, err, "Unable to get quote", http.StatusBadGateway)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"quote": quote})

	case "create-order":
		var req prodigi.OrderRequest
		if err := a.decodeAndValidate(body, &req); err != nil {
			writeError(w, err, "Recipient and items are required", http.StatusBadRequest)
			return
		}
		if req.GalleryID != "" {
			if err := validGalleryID(req.GalleryID); err != nil {
				writeError(w, err, "Gallery ID is malformed", http.StatusBadRequest)
				return
			}
		}
		order, err := a.prodigi.CreateOrder(ctx, req)
		a.metrics.PrintRequest(act.Action, err == nil)
		if err != nil {
			a.log.Errorf("❌ Prodigi order failed: %v", err)
			writeError(w, err, "Unable to create order", http.StatusBadGateway)
			return
		}
		if req.GalleryID != "" {
			a.markPurchased(ctx, req.GalleryID)
		}
		writeOK(w, http.StatusOK, map[string]any{"order": order})

	default:
		writeError(w, badRequest("unknown action %q", act.Action), "Invalid action. Use: get-products, get-quote, or create-order", http.StatusBadRequest)
	}
}

func (a *App) decodeAndValidate(body []byte, dst any) error {
	if err := unmarshalBody(body, dst); err != nil {
		return err
	}
	return a.validate.Struct(dst)
}

// markPurchased keeps an ordered gallery out of the expiry sweep. The order
// already exists, so failures are only logged.
func (a *App) markPurchased(ctx context.Context, galleryID string) {
	if _, err := a.galleries.MarkPurchased(ctx, galleryID); err != nil {
		a.log.Errorf("❌ Failed to mark gallery %s purchased: %v", galleryID, err)
		return
	}
	a.log.Infof("💳 Gallery %s marked purchased", galleryID)
}
