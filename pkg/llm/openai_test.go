package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/types"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAILLM {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewOpenAILLM(&LLMConfig{
		Provider:      "openai",
		Model:         "gpt-4o",
		APIKey:        "test-key",
		BaseURL:       server.URL + "/v1",
		MaxTokens:     128,
		Temperature:   0.2,
		TopP:          1,
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
	})
	require.NoError(t, err)
	return provider.(*OpenAILLM)
}

func TestNewOpenAILLM(t *testing.T) {
	_, err := NewOpenAILLM(nil)
	assert.Error(t, err)

	_, err = NewOpenAILLM(&LLMConfig{Provider: "openai", Model: "gpt-4o"})
	assert.Error(t, err)
}

func TestOpenAIGenerate(t *testing.T) {
	var body map[string]interface{}
	model := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Paris"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`)
	})

	out, err := model.Generate(context.Background(), types.UserMessage("capital of France?"))
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)
	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, 6, model.GetMetrics()["tokens_used"])
}

func TestOpenAIGenerateRetries(t *testing.T) {
	t.Run("ServerErrorIsRetried", func(t *testing.T) {
		var calls int32
		model := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				fmt.Fprint(w, `{"error":{"message":"upstream","type":"server_error"}}`)
				return
			}
			fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",
				"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
		})

		out, err := model.Generate(context.Background(), types.UserMessage("q"))
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("BadRequestIsNotRetried", func(t *testing.T) {
		var calls int32
		model := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
		})

		_, err := model.Generate(context.Background(), types.UserMessage("q"))
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.True(t, merrors.HasCode(err, merrors.ErrCodeLLMAPIError))
		assert.Equal(t, "gpt-4o", merrors.GetMemGOSError(err).Details["model"])
	})

	t.Run("DeadlineIsTimeout", func(t *testing.T) {
		var calls int32
		model := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			<-r.Context().Done()
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := model.Generate(ctx, types.UserMessage("q"))
		require.Error(t, err)
		assert.True(t, merrors.HasCode(err, merrors.ErrCodeLLMTimeout))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestOpenAIGenerateStream(t *testing.T) {
	model := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Par", "is", ""} {
			fmt.Fprintf(w, "data: {\"id\":\"s1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	out, err := Collect(context.Background(), model, types.UserMessage("q"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)
}

func TestOpenAIEmbed(t *testing.T) {
	model := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req["model"])
		fmt.Fprint(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":2,"total_tokens":2}}`)
	})

	vec, err := model.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingVector{0.5, 0.25}, vec)

	_, err = model.Embed(context.Background(), "")
	assert.Error(t, err)
}
