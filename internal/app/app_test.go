package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omoideart/omoide-gallery/internal/auth"
	"github.com/omoideart/omoide-gallery/internal/blob"
	"github.com/omoideart/omoide-gallery/internal/cleanup"
	"github.com/omoideart/omoide-gallery/internal/config"
	"github.com/omoideart/omoide-gallery/internal/gallery"
	"github.com/omoideart/omoide-gallery/internal/generation"
	"github.com/omoideart/omoide-gallery/internal/metrics"
	"github.com/omoideart/omoide-gallery/internal/prodigi"
	"github.com/omoideart/omoide-gallery/internal/prompts"
	"github.com/omoideart/omoide-gallery/internal/wavespeed"
)

type stubGenerator struct {
	mu         sync.Mutex
	configured bool
	fail       bool
	results    map[string]*wavespeed.Prediction
}

func (g *stubGenerator) Configured() bool { return g.configured }

func (g *stubGenerator) GenerateSync(context.Context, string, string) (string, error) {
	if g.fail {
		return "", errors.New("API Error 503: busy")
	}
	return "https://cdn.test/img.jpg", nil
}

func (g *stubGenerator) Submit(context.Context, string, string) (string, error) {
	return "req-1", nil
}

func (g *stubGenerator) Result(_ context.Context, requestID string) (*wavespeed.Prediction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.results[requestID]; ok {
		return p, nil
	}
	return &wavespeed.Prediction{ID: requestID, Status: wavespeed.StatusProcessing}, nil
}

func (g *stubGenerator) Download(_ context.Context, url string) ([]byte, error) {
	if strings.Contains(url, "missing") {
		return nil, errors.New("failed to fetch image: 404")
	}
	return []byte("jpeg bytes"), nil
}

const (
	webhookSecret = "hook-secret"
	cleanupSecret = "cleanup-secret"
	cronSecret    = "cron-secret"
)

type harness struct {
	app       *App
	router    http.Handler
	blobs     *blob.MemoryStore
	galleries *gallery.Store
	gen       *stubGenerator
	svc       *generation.Service
}

func newHarness(t *testing.T, prodigiURL string) *harness {
	t.Helper()
	return newHarnessWith(t, prodigiURL, nil)
}

func newHarnessWith(t *testing.T, prodigiURL string, tweak func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Config{
		PublicBaseURL: "https://omoide.test",
		GalleryTTL:    gallery.DefaultTTL,
		Secrets: config.SecretsConfig{
			Webhook: webhookSecret,
			Cleanup: cleanupSecret,
			Cron:    cronSecret,
		},
	}

	if tweak != nil {
		tweak(&cfg)
	}

	m := metrics.New()
	blobs := blob.NewMemoryStore("https://blob.test")
	galleries := gallery.NewStore(blobs, cfg.GalleryTTL, nil)
	gen := &stubGenerator{configured: true, results: map[string]*wavespeed.Prediction{}}
	svc := generation.NewService(galleries, gen, prompts.NewBuilder(nil, nil), nil, m, nil, generation.Options{Mode: generation.ModeSync})

	a, err := New(cfg, Dependencies{
		Galleries:  galleries,
		Generation: svc,
		Prodigi:    prodigi.NewClient(prodigiURL, "pk", prodigi.DefaultCatalog(), nil),
		Sweeper:    cleanup.NewSweeper(galleries, nil, m, nil),
		Metrics:    m,
	})
	require.NoError(t, err)

	return &harness{app: a, router: a.Router(), blobs: blobs, galleries: galleries, gen: gen, svc: svc}
}

func (h *harness) do(t *testing.T, method, path string, body any, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

var kyoto = map[string]any{
	"location":   "Kyoto",
	"atmosphere": "rainy",
	"focus":      "a red torii gate",
	"detail":     "moss on the stones",
	"feelings":   []string{"peaceful"},
}

func TestHealth(t *testing.T) {
	h := newHarness(t, "")
	rec, body := h.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sync", body["generationMode"])
}

func TestCORSCredentialsOnlyWithExplicitOrigins(t *testing.T) {
	h := newHarness(t, "")
	rec, _ := h.do(t, http.MethodGet, "/health", nil, http.Header{"Origin": {"https://anywhere.test"}})
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	h = newHarnessWith(t, "", func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"https://omoide-art.shop"}
	})
	rec, _ = h.do(t, http.MethodGet, "/health", nil, http.Header{"Origin": {"https://omoide-art.shop"}})
	assert.Equal(t, "https://omoide-art.shop", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec, _ = h.do(t, http.MethodGet, "/health", nil, http.Header{"Origin": {"https://evil.test"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGenerateCreatesAndCompletesGallery(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodPost, "/api/generate", kyoto, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])

	id := body["galleryId"].(string)
	assert.Equal(t, "https://omoide.test/gallery/"+id, body["magicLink"])
	inputs, ok := gallery.DecodeID(id)
	require.True(t, ok)
	assert.Equal(t, "Kyoto", inputs.Location)
	assert.Equal(t, "1:1", inputs.AspectRatio)

	require.NoError(t, h.svc.Wait(context.Background()))

	rec, body = h.do(t, http.MethodGet, "/api/gallery/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	g := body["gallery"].(map[string]any)
	assert.Equal(t, "complete", g["status"])
	assert.EqualValues(t, 1, g["viewCount"])
	assert.Greater(t, g["timeRemaining"].(float64), float64(29*24*time.Hour/time.Millisecond))
	images := g["images"].([]any)
	require.Len(t, images, 4)
	assert.Equal(t, "https://blob.test/"+gallery.ImageKey(id, "web", 1), images[0].(map[string]any)["webUrl"])
}

func TestGenerateValidation(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodPost, "/api/generate", map[string]any{"location": "Kyoto"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])

	bad := map[string]any{}
	for k, v := range kyoto {
		bad[k] = v
	}
	bad["aspectRatio"] = "16:9"
	rec, _ = h.do(t, http.MethodPost, "/api/generate", bad, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/generate", []byte("{"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateWithoutProviderMarksFailed(t *testing.T) {
	h := newHarness(t, "")
	h.gen.configured = false

	rec, body := h.do(t, http.MethodPost, "/api/generate", kyoto, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	g := body["gallery"].(map[string]any)
	assert.Equal(t, "failed", g["status"])
}

func TestGetGalleryUnknownSynthesizesDefaults(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodGet, "/api/gallery?id=abcd1234_%21%21notbase64", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	g := body["gallery"].(map[string]any)
	assert.Equal(t, "generating", g["status"])
	assert.Equal(t, "Tokyo", g["userInputs"].(map[string]any)["location"])
	assert.EqualValues(t, 1, g["viewCount"])

	_, err := h.galleries.Get(context.Background(), "abcd1234_!!notbase64")
	assert.ErrorIs(t, err, gallery.ErrNotFound)

	rec, _ = h.do(t, http.MethodGet, "/api/gallery", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetGalleryCountsViewsOnceSettled(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	_, err := h.galleries.Create(ctx, "polled", gallery.DefaultInputs())
	require.NoError(t, err)
	before, err := h.blobs.Get(ctx, gallery.MetadataKey("polled"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec, body := h.do(t, http.MethodGet, "/api/gallery/polled", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 0, body["gallery"].(map[string]any)["viewCount"])
	}
	after, err := h.blobs.Get(ctx, gallery.MetadataKey("polled"))
	require.NoError(t, err)
	assert.Equal(t, before.ETag, after.ETag)

	for i := 1; i <= gallery.TotalImages; i++ {
		_, err = h.galleries.ApplyImageUpdate(ctx, "polled", gallery.ImageUpdate{Index: i, Status: gallery.ImageCompleted})
		require.NoError(t, err)
	}
	rec, body := h.do(t, http.MethodGet, "/api/gallery/polled", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	g := body["gallery"].(map[string]any)
	assert.Equal(t, "complete", g["status"])
	assert.EqualValues(t, 1, g["viewCount"])
}

func TestCollection(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.galleries.Create(ctx, "stored", gallery.DefaultInputs())
	require.NoError(t, err)
	_, err = h.galleries.ApplyImageUpdate(ctx, "stored", gallery.ImageUpdate{Index: 1, Status: gallery.ImageCompleted})
	require.NoError(t, err)

	rec, body := h.do(t, http.MethodPost, "/api/collection", map[string]any{
		"galleryIds": []string{"stored", "x_unknown", "../escape"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	c := body["collection"].(map[string]any)
	assert.EqualValues(t, 2, c["totalGalleries"])
	assert.EqualValues(t, 8, c["totalImages"])
	assert.EqualValues(t, 1, c["completedImages"])

	rec, _ = h.do(t, http.MethodPost, "/api/collection", map[string]any{"galleryIds": []string{}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/collection", map[string]any{"galleryIds": []string{"a/b"}}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGalleryUpdateActions(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.galleries.Create(context.Background(), "g1", gallery.DefaultInputs())
	require.NoError(t, err)

	rec, body := h.do(t, http.MethodPost, "/api/gallery-update", map[string]any{
		"action":     "update-image",
		"galleryId":  "g1",
		"imageIndex": 2,
		"imageData":  map[string]any{"status": "completed", "webUrl": "https://blob.test/w2.jpg"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "generating", meta["status"])
	assert.EqualValues(t, 1, meta["progress"].(map[string]any)["completed"])

	rec, body = h.do(t, http.MethodPost, "/api/gallery-update", map[string]any{
		"action":         "set-status",
		"galleryId":      "g1",
		"imageIndex":     3,
		"status":         "failed",
		"additionalData": map[string]any{"error": "timeout"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	img := body["metadata"].(map[string]any)["images"].([]any)[2].(map[string]any)
	assert.Equal(t, "failed", img["status"])
	assert.Equal(t, "timeout", img["error"])

	rec, _ = h.do(t, http.MethodPost, "/api/gallery-update", map[string]any{
		"action": "set-status", "galleryId": "g1", "imageIndex": 5, "status": "completed",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/gallery-update", map[string]any{
		"action": "set-status", "galleryId": "g1", "imageIndex": 1, "status": "done",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/gallery-update", map[string]any{"action": "get-metadata", "galleryId": "nope"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/gallery-update", map[string]any{"action": "explode", "galleryId": "g1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateGalleryThenCheckStatus(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.galleries.Create(context.Background(), "g1", gallery.DefaultInputs())
	require.NoError(t, err)

	rec, _ := h.do(t, http.MethodPost, "/api/update-gallery", map[string]any{
		"galleryId": "g1", "imageIndex": 1, "requestId": "ext-9",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body := h.do(t, http.MethodGet, "/api/check-status?requestId=ext-9", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "g1", body["galleryId"])

	h.gen.results["ext-9"] = &wavespeed.Prediction{ID: "ext-9", Status: wavespeed.StatusCompleted, Outputs: []string{"https://cdn.test/done.jpg"}}
	rec, body = h.do(t, http.MethodGet, "/api/check-status?requestId=ext-9", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "https://cdn.test/done.jpg", body["output"])
	g := body["gallery"].(map[string]any)
	assert.EqualValues(t, 1, g["progress"].(map[string]any)["completed"])

	rec, _ = h.do(t, http.MethodGet, "/api/check-status", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/update-gallery", map[string]any{"galleryId": "g1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckStatusFinishesUntrackedSlot(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	_, err := h.galleries.Create(ctx, "g1", gallery.DefaultInputs())
	require.NoError(t, err)
	// The slot knows its request but the ledger never heard of it.
	_, err = h.galleries.ApplyImageUpdate(ctx, "g1", gallery.ImageUpdate{Index: 2, Status: gallery.ImageGenerating, RequestID: "lost-1"})
	require.NoError(t, err)
	h.gen.results["lost-1"] = &wavespeed.Prediction{ID: "lost-1", Status: wavespeed.StatusCompleted, Outputs: []string{"https://cdn.test/done.jpg"}}

	rec, body := h.do(t, http.MethodGet, "/api/check-status?requestId=lost-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["gallery"])

	rec, body = h.do(t, http.MethodGet, "/api/check-status?requestId=lost-1&galleryId=g1&imageIndex=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "g1", body["galleryId"])
	g := body["gallery"].(map[string]any)
	assert.EqualValues(t, 1, g["progress"].(map[string]any)["completed"])

	rec, _ = h.do(t, http.MethodGet, "/api/check-status?requestId=lost-1&galleryId=g1&imageIndex=two", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func signed(t *testing.T, body any) ([]byte, http.Header) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	ts := time.Now().Unix()
	h := http.Header{}
	h.Set(auth.TimestampHeader, strconv.FormatInt(ts, 10))
	h.Set(auth.SignatureHeader, auth.Sign(webhookSecret, ts, raw))
	return raw, h
}

func TestWebhookGenerate(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.galleries.Create(context.Background(), "g1", gallery.DefaultInputs())
	require.NoError(t, err)

	payload := map[string]any{"galleryId": "g1", "imageIndex": 3, "enhancedPrompt": "a quiet temple", "aspectRatio": "4:3"}

	raw, _ := json.Marshal(payload)
	rec, _ := h.do(t, http.MethodPost, "/api/webhook-generate", raw, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	raw, headers := signed(t, payload)
	rec, body := h.do(t, http.MethodPost, "/api/webhook-generate", raw, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "generating", body["galleryStatus"])
	assert.Equal(t, "completed", body["imageResult"].(map[string]any)["status"])

	raw, headers = signed(t, payload)
	rec, _ = h.do(t, http.MethodPost, "/api/webhook-generate", raw, headers)
	assert.Equal(t, http.StatusOK, rec.Code)

	raw, headers = signed(t, payload)
	rec, _ = h.do(t, http.MethodPost, "/api/webhook-generate", raw, headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestWebhookGenerateFailureMarksSlot(t *testing.T) {
	h := newHarness(t, "")
	h.gen.fail = true
	_, err := h.galleries.Create(context.Background(), "g1", gallery.DefaultInputs())
	require.NoError(t, err)

	raw, headers := signed(t, map[string]any{"galleryId": "g1", "imageIndex": 2})
	rec, body := h.do(t, http.MethodPost, "/api/webhook-generate", raw, headers)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, body["error"], "busy")

	meta, err := h.galleries.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, gallery.ImageFailed, meta.Image(2).Status)

	raw, headers = signed(t, map[string]any{"galleryId": "g1", "imageIndex": 9})
	rec, _ = h.do(t, http.MethodPost, "/api/webhook-generate", raw, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadImages(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodPost, "/api/upload-images", map[string]any{
		"galleryId": "g1",
		"imageUrls": []string{"https://cdn.test/a.jpg", "https://cdn.test/missing.jpg"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, body["uploadedImages"], 1)
	assert.Len(t, body["failedUploads"], 1)

	rec, _ = h.do(t, http.MethodPost, "/api/upload-images", map[string]any{"imageUrls": []string{"not a url"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCleanupEndpoints(t *testing.T) {
	h := newHarness(t, "")

	rec, _ := h.do(t, http.MethodPost, "/api/cleanup-expired", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cronToken, err := auth.Issue(cronSecret, auth.AudienceCron, time.Minute)
	require.NoError(t, err)
	rec, _ = h.do(t, http.MethodPost, "/api/cleanup-expired", nil, http.Header{"Authorization": {"Bearer " + cronToken}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := h.do(t, http.MethodGet, "/api/cron-cleanup", nil, http.Header{"Authorization": {"Bearer " + cronToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["results"].(map[string]any)["success"])

	token, err := auth.Issue(cleanupSecret, auth.AudienceCleanup, time.Minute)
	require.NoError(t, err)
	rec, _ = h.do(t, http.MethodPost, "/api/cleanup-expired", nil, http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrintOrders(t *testing.T) {
	prodigiAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/quotes":
			fmt.Fprint(w, `{"outcome":"Created","quotes":[{"costSummary":{"totalCost":{"amount":"29.99","currency":"USD"}}}]}`)
		case "/orders":
			fmt.Fprint(w, `{"outcome":"Created","order":{"id":"ord_1","status":{"stage":"InProgress"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer prodigiAPI.Close()

	h := newHarness(t, prodigiAPI.URL)
	_, err := h.galleries.Create(context.Background(), "g1", gallery.DefaultInputs())
	require.NoError(t, err)

	rec, body := h.do(t, http.MethodPost, "/api/prodigi-orders", map[string]any{"action": "get-products"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["products"], 4)

	rec, body = h.do(t, http.MethodPost, "/api/prodigi-orders", map[string]any{
		"action":      "get-quote",
		"countryCode": "US",
		"items":       []map[string]any{{"productSku": "GLOBAL-PHO-8X10", "quantity": 1}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "USD", body["quote"].(map[string]any)["currency"])

	rec, _ = h.do(t, http.MethodPost, "/api/prodigi-orders", map[string]any{"action": "get-quote", "countryCode": "US"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/api/prodigi-orders", map[string]any{
		"action":    "create-order",
		"galleryId": "g1",
		"recipient": map[string]any{
			"name": "Aiko",
			"address": map[string]any{
				"line1": "1 Main St", "postalCode": "94016", "countryCode": "US", "city": "San Francisco",
			},
		},
		"items": []map[string]any{{
			"imageIndex": 1, "productSku": "GLOBAL-CAN-8X10", "quantity": 1, "imageUrl": "https://blob.test/print-1.jpg",
		}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ord_1", body["order"].(map[string]any)["orderId"])

	meta, err := h.galleries.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, meta.Purchased)

	rec, _ = h.do(t, http.MethodPost, "/api/prodigi-orders", map[string]any{"action": "refund"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", gallery.ErrInvalidImageIndex), http.StatusBadRequest},
		{badRequest("nope"), http.StatusBadRequest},
		{auth.ErrInvalidSignature, http.StatusUnauthorized},
		{fmt.Errorf("x: %w", gallery.ErrNotFound), http.StatusNotFound},
		{gallery.ErrConflict, http.StatusConflict},
		{prodigi.ErrNotConfigured, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err, http.StatusBadGateway), tt.err.Error())
	}
}

func TestMemoryBlobRoute(t *testing.T) {
	h := newHarness(t, "")
	h.app.cfg.Blob.Driver = config.BlobDriverMemory
	router := h.app.Router()

	_, err := h.blobs.Put(context.Background(), "galleries/g1/web-1.jpg", []byte("pixels"), blob.PutOptions{ContentType: "image/jpeg"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blob/galleries/g1/web-1.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "pixels", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blob/galleries/g1/nope.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
