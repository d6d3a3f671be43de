package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"

	"github.com/memtensor/deepresearch/pkg/types"
)

// DefaultOllamaURL is used when no base URL is configured
const DefaultOllamaURL = "http://localhost:11434"

// OllamaLLM implements the LLM interface for Ollama models
type OllamaLLM struct {
	*BaseLLM
	client  *resty.Client
	config  *LLMConfig
	baseURL string
}

// OllamaRequest represents a chat request to the Ollama API
type OllamaRequest struct {
	Model     string                   `json:"model"`
	Messages  []map[string]interface{} `json:"messages"`
	Stream    bool                     `json:"stream"`
	Options   map[string]interface{}   `json:"options,omitempty"`
	KeepAlive string                   `json:"keep_alive,omitempty"`
}

// OllamaMessage is the message part of a chat response
type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaChatResponse represents one chat response line from the Ollama API
type OllamaChatResponse struct {
	Model           string         `json:"model"`
	CreatedAt       string         `json:"created_at"`
	Message         *OllamaMessage `json:"message"`
	Done            bool           `json:"done"`
	Error           string         `json:"error,omitempty"`
	TotalDuration   int64          `json:"total_duration,omitempty"`
	PromptEvalCount int            `json:"prompt_eval_count,omitempty"`
	EvalCount       int            `json:"eval_count,omitempty"`
}

// OllamaEmbeddingResponse represents an embedding response
type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaLLM creates a new Ollama LLM instance
func NewOllamaLLM(config *LLMConfig) (LLMProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	if config.Timeout > 0 {
		client.SetTimeout(config.Timeout)
	}
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", "deepresearch/1.0")

	llm := &OllamaLLM{
		BaseLLM: NewBaseLLM(config.Model),
		client:  client,
		config:  config,
		baseURL: baseURL,
	}

	llm.SetMaxTokens(config.MaxTokens)
	llm.SetTemperature(config.Temperature)
	llm.SetTopP(config.TopP)
	llm.SetTimeout(config.Timeout)

	return llm, nil
}

func (o *OllamaLLM) buildRequest(messages types.MessageList, stream bool) OllamaRequest {
	return OllamaRequest{
		Model:    o.GetModelName(),
		Messages: o.FormatMessages(messages),
		Stream:   stream,
		Options: map[string]interface{}{
			"num_predict": o.GetMaxTokens(),
			"temperature": o.GetTemperature(),
			"top_p":       o.GetTopP(),
		},
		KeepAlive: "5m",
	}
}

// Generate generates text based on messages
func (o *OllamaLLM) Generate(ctx context.Context, messages types.MessageList) (string, error) {
	if err := o.ValidateMessages(messages); err != nil {
		return "", fmt.Errorf("invalid messages: %w", err)
	}

	req := o.buildRequest(messages, false)
	attempts := o.config.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}

	var resp OllamaChatResponse
	err := retry.Do(
		func() error {
			response, reqErr := o.client.R().
				SetContext(ctx).
				SetBody(req).
				SetResult(&resp).
				Post("/api/chat")
			if reqErr != nil {
				return reqErr
			}
			if response.StatusCode() >= http.StatusInternalServerError {
				return fmt.Errorf("HTTP %d: %s", response.StatusCode(), response.String())
			}
			if response.StatusCode() != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d: %s", response.StatusCode(), response.String()))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", o.requestError("Ollama API request failed", err)
	}

	if resp.Message == nil {
		return "", fmt.Errorf("no content in response message")
	}

	o.RecordMetrics("eval_count", resp.EvalCount)
	o.RecordMetrics("prompt_eval_count", resp.PromptEvalCount)
	o.RecordMetrics("total_duration", resp.TotalDuration)

	return resp.Message.Content, nil
}

// GenerateStream generates text with streaming support
func (o *OllamaLLM) GenerateStream(ctx context.Context, messages types.MessageList, stream chan<- string) error {
	if err := o.ValidateMessages(messages); err != nil {
		return fmt.Errorf("invalid messages: %w", err)
	}

	response, err := o.client.R().
		SetContext(ctx).
		SetBody(o.buildRequest(messages, true)).
		SetDoNotParseResponse(true).
		Post("/api/chat")
	if err != nil {
		return o.requestError("failed to create streaming request", err)
	}
	body := response.RawBody()
	defer body.Close()

	if response.StatusCode() != http.StatusOK {
		return o.requestError("streaming request rejected", fmt.Errorf("HTTP %d", response.StatusCode()))
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk OllamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return o.requestError("stream error", errors.New(chunk.Error))
		}

		if chunk.Message != nil && chunk.Message.Content != "" {
			select {
			case stream <- chunk.Message.Content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if chunk.Done {
			return nil
		}
	}

	return scanner.Err()
}

// Embed generates embeddings for text
func (o *OllamaLLM) Embed(ctx context.Context, text string) (types.EmbeddingVector, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	model := o.config.EmbeddingModel
	if model == "" {
		model = o.GetModelName()
	}

	var resp OllamaEmbeddingResponse
	response, err := o.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"model": model, "prompt": text}).
		SetResult(&resp).
		Post("/api/embeddings")
	if err != nil {
		return nil, o.requestError("embedding request failed", err)
	}

	if response.StatusCode() != http.StatusOK {
		return nil, o.requestError("embedding request rejected", fmt.Errorf("HTTP %d: %s", response.StatusCode(), response.String()))
	}

	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}

	embedding := make(types.EmbeddingVector, len(resp.Embedding))
	for i, v := range resp.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// GetProviderName returns the provider name
func (o *OllamaLLM) GetProviderName() string {
	return "ollama"
}

// HealthCheck performs health check
func (o *OllamaLLM) HealthCheck(ctx context.Context) error {
	response, err := o.client.R().
		SetContext(ctx).
		Get("/api/tags")
	if err != nil {
		return fmt.Errorf("Ollama health check failed: %w", err)
	}

	if response.StatusCode() != http.StatusOK {
		return fmt.Errorf("Ollama health check failed: HTTP %d", response.StatusCode())
	}

	return nil
}

// GetConfig returns the configuration
func (o *OllamaLLM) GetConfig() *LLMConfig {
	return o.config
}

// GetModelInfo returns detailed model information
func (o *OllamaLLM) GetModelInfo() map[string]interface{} {
	info := o.BaseLLM.GetModelInfo()
	info["provider"] = o.GetProviderName()
	info["base_url"] = o.baseURL
	return info
}
