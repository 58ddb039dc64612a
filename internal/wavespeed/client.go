// Package wavespeed is a client for the Wavespeed image-generation API.
package wavespeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.wavespeed.ai/api/v3"
	DefaultModel   = "bytedance/seedream-v4/sequential"

	maxDownloadBytes = 64 << 20
)

var (
	ErrNotConfigured = errors.New("wavespeed API key not configured")
	ErrNoOutput      = errors.New("no images returned from API")
)

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func NewClient(baseURL, apiKey, model string, logger *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   strings.Trim(model, "/"),
		log:     logger,
		httpClient: &http.Client{
			// Sync generation of a 4K image regularly takes over a minute.
			Timeout: 3 * time.Minute,
		},
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// GenerateSync runs one generation in sync mode and returns the image URL.
func (c *Client) GenerateSync(ctx context.Context, prompt, aspectRatio string) (string, error) {
	pred, err := c.submit(ctx, prompt, aspectRatio, true)
	if err != nil {
		return "", err
	}
	if pred.Status == StatusFailed {
		return "", fmt.Errorf("generation failed: %s", pred.Error)
	}
	out := pred.FirstOutput()
	if out == "" {
		return "", ErrNoOutput
	}
	c.log.Infof("✅ Generated 1 image successfully (%s)", pred.ID)
	return out, nil
}

// Submit queues an async generation and returns the provider request id.
func (c *Client) Submit(ctx context.Context, prompt, aspectRatio string) (string, error) {
	pred, err := c.submit(ctx, prompt, aspectRatio, false)
	if err != nil {
		return "", err
	}
	if pred.ID == "" {
		return "", fmt.Errorf("submit returned no request id")
	}
	c.log.Infof("🚀 Submitted generation %s", pred.ID)
	return pred.ID, nil
}

func (c *Client) submit(ctx context.Context, prompt, aspectRatio string, sync bool) (*Prediction, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(GeneratePayload{
		Prompt:             prompt,
		Size:               SizeForAspectRatio(aspectRatio),
		MaxImages:          1,
		EnableBase64Output: false,
		EnableSyncMode:     sync,
	})
	if err != nil {
		return nil, err
	}

	c.log.Infof("🌐 Wavespeed request: model=%s, sync=%t, prompt_len=%d", c.model, sync, len(prompt))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", c.baseURL, c.model), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req)
}

// Result fetches the current state of a prediction.
func (c *Client) Result(ctx context.Context, requestID string) (*Prediction, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/predictions/%s/result", c.baseURL, url.PathEscape(requestID)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	pred, err := c.do(req)
	if err != nil {
		return nil, err
	}
	c.log.Infof("📊 Status for %s: %s", requestID, pred.Status)
	return pred, nil
}

func (c *Client) do(req *http.Request) (*Prediction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API Error %d: %s", resp.StatusCode, body)
	}

	var parsed Envelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Code != 0 && parsed.Code != http.StatusOK {
		return nil, fmt.Errorf("API Error %d: %s", parsed.Code, parsed.Message)
	}
	return &parsed.Data, nil
}

// Download fetches a generated image.
func (c *Client) Download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxDownloadBytes)
	}
	return data, nil
}
