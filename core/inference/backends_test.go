package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/you-humble/snapchef/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllama_StreamsAndAttachesImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req struct {
			Model  string   `json:"model"`
			Prompt string   `json:"prompt"`
			Images []string `json:"images"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llava", req.Model)
		assert.Len(t, req.Images, 1)

		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"model":"llava","response":"{\"ingredients\": "}`+"\n")
		io.WriteString(w, `{"model":"llava","response":"[\"egg\"]}","done":true}`+"\n")
	}))
	defer srv.Close()

	o, err := NewOllama("llava", srv.URL, time.Second)
	require.NoError(t, err)

	got, err := o.Describe(context.Background(), "what is it", []byte{0xFF, 0xD8, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, `{"ingredients": ["egg"]}`, got)
}

func TestOllama_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"too many requests"}`)
	}))
	defer srv.Close()

	o, err := NewOllama("gemma3:4b", srv.URL, time.Second)
	require.NoError(t, err)

	_, err = o.Complete(context.Background(), "recipes")
	require.Error(t, err)
	assert.True(t, domain.RateLimited(err))
	assert.EqualError(t, err, "429: too many requests")
}

func TestOllama_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	o, err := NewOllama("gemma3:4b", srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = o.Complete(context.Background(), "recipes")
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"1","object":"chat.completion","model":"gpt","choices":[
			{"index":0,"message":{"role":"assistant","content":"{\"recipes\": []}"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	o, err := NewOpenAI("gpt", "secret", srv.URL, time.Second)
	require.NoError(t, err)

	got, err := o.Complete(context.Background(), "recipes")
	require.NoError(t, err)
	assert.Equal(t, `{"recipes": []}`, got)
}

func TestOpenAI_DescribeSendsDataURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "data:image/png;base64,")

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	o, err := NewOpenAI("gpt-vision", "k", srv.URL, time.Second)
	require.NoError(t, err)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	got, err := o.Describe(context.Background(), "what is it", png)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusBadRequest} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			io.WriteString(w, `{"error":{"message":"nope","type":"x"}}`)
		}))

		o, err := NewOpenAI("gpt", "k", srv.URL, time.Second)
		require.NoError(t, err)

		_, err = o.Complete(context.Background(), "recipes")
		var be *domain.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, status, be.StatusCode)
		srv.Close()
	}
}
