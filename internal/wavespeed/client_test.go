package wavespeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeForAspectRatio(t *testing.T) {
	tests := map[string]string{
		"1:1":  "4096*4096",
		"3:4":  "3072*4096",
		"4:3":  "4096*3072",
		"16:9": "4096*4096",
		"":     "4096*4096",
	}
	for ratio, want := range tests {
		assert.Equal(t, want, SizeForAspectRatio(ratio), ratio)
	}
}

func TestGenerateSync(t *testing.T) {
	var got GeneratePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bytedance/seedream-v4/sequential", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"code":200,"message":"success","data":{"id":"p1","status":"completed","outputs":["https://cdn/img.jpg"]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "", nil)
	out, err := c.GenerateSync(context.Background(), "a prompt", "3:4")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn/img.jpg", out)
	assert.Equal(t, GeneratePayload{Prompt: "a prompt", Size: "3072*4096", MaxImages: 1, EnableSyncMode: true}, got)
}

func TestGenerateSyncFallsBackToImagesField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"p1","status":"completed","images":["https://cdn/legacy.jpg"]}}`))
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL, "key", "", nil).GenerateSync(context.Background(), "p", "1:1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/legacy.jpg", out)
}

func TestGenerateSyncErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusUnauthorized, `{"message":"bad key"}`},
		{"no outputs", http.StatusOK, `{"code":200,"data":{"id":"p1","status":"completed","outputs":[]}}`},
		{"failed", http.StatusOK, `{"code":200,"data":{"id":"p1","status":"failed","error":"nsfw"}}`},
		{"api code", http.StatusOK, `{"code":500,"message":"internal"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "key", "", nil).GenerateSync(context.Background(), "p", "1:1")
			assert.Error(t, err)
		})
	}
}

func TestSubmitAndResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/custom/model":
			var p GeneratePayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			assert.False(t, p.EnableSyncMode)
			w.Write([]byte(`{"code":200,"data":{"id":"req-9","status":"created"}}`))
		case "/predictions/req-9/result":
			assert.Equal(t, http.MethodGet, r.Method)
			w.Write([]byte(`{"code":200,"data":{"id":"req-9","status":"completed","outputs":["https://cdn/9.jpg"]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "key", "/custom/model/", nil)
	id, err := c.Submit(context.Background(), "p", "4:3")
	require.NoError(t, err)
	assert.Equal(t, "req-9", id)

	pred, err := c.Result(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, pred.Done())
	assert.Equal(t, "https://cdn/9.jpg", pred.FirstOutput())
}

func TestUnconfigured(t *testing.T) {
	c := NewClient("", "", "", nil)
	_, err := c.Submit(context.Background(), "p", "1:1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.Result(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("jpegbytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "", nil)
	data, err := c.Download(context.Background(), srv.URL+"/img.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(data))

	_, err = c.Download(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}
