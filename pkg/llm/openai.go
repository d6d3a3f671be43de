package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/sashabaranov/go-openai"

	"github.com/memtensor/deepresearch/pkg/types"
)

// OpenAILLM implements the LLM interface for OpenAI models
type OpenAILLM struct {
	*BaseLLM
	client *openai.Client
	config *LLMConfig
}

// NewOpenAILLM creates a new OpenAI LLM instance
func NewOpenAILLM(config *LLMConfig) (LLMProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	openaiConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		openaiConfig.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		openaiConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	llm := &OpenAILLM{
		BaseLLM: NewBaseLLM(config.Model),
		client:  openai.NewClientWithConfig(openaiConfig),
		config:  config,
	}

	llm.SetMaxTokens(config.MaxTokens)
	llm.SetTemperature(config.Temperature)
	llm.SetTopP(config.TopP)
	llm.SetTimeout(config.Timeout)

	return llm, nil
}

func (o *OpenAILLM) buildRequest(messages types.MessageList, stream bool) openai.ChatCompletionRequest {
	openaiMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		openaiMessages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	return openai.ChatCompletionRequest{
		Model:       o.GetModelName(),
		Messages:    openaiMessages,
		MaxTokens:   o.GetMaxTokens(),
		Temperature: float32(o.GetTemperature()),
		TopP:        float32(o.GetTopP()),
		Stream:      stream,
	}
}

func (o *OpenAILLM) attempts() uint {
	if o.config.RetryAttempts == 0 {
		return 1
	}
	return o.config.RetryAttempts
}

// Generate generates text based on messages
func (o *OpenAILLM) Generate(ctx context.Context, messages types.MessageList) (string, error) {
	if err := o.ValidateMessages(messages); err != nil {
		return "", fmt.Errorf("invalid messages: %w", err)
	}

	req := o.buildRequest(messages, false)

	var resp openai.ChatCompletionResponse
	err := retry.Do(
		func() error {
			var reqErr error
			resp, reqErr = o.client.CreateChatCompletion(ctx, req)
			return reqErr
		},
		retry.Context(ctx),
		retry.Attempts(o.attempts()),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
	if err != nil {
		return "", o.requestError("OpenAI API request failed", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}

	o.RecordMetrics("tokens_used", resp.Usage.TotalTokens)
	o.RecordMetrics("prompt_tokens", resp.Usage.PromptTokens)
	o.RecordMetrics("completion_tokens", resp.Usage.CompletionTokens)

	return resp.Choices[0].Message.Content, nil
}

// GenerateStream generates text with streaming support. The stream is not
// retried because fragments may already have been delivered.
func (o *OpenAILLM) GenerateStream(ctx context.Context, messages types.MessageList, stream chan<- string) error {
	if err := o.ValidateMessages(messages); err != nil {
		return fmt.Errorf("invalid messages: %w", err)
	}

	streamResp, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(messages, true))
	if err != nil {
		return o.requestError("failed to create streaming response", err)
	}
	defer streamResp.Close()

	for {
		response, err := streamResp.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return o.requestError("stream error", err)
		}

		if len(response.Choices) > 0 {
			content := response.Choices[0].Delta.Content
			if content != "" {
				select {
				case stream <- content:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Embed generates embeddings for text
func (o *OpenAILLM) Embed(ctx context.Context, text string) (types.EmbeddingVector, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	model := openai.EmbeddingModel(o.config.EmbeddingModel)
	if model == "" {
		model = openai.SmallEmbedding3
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: model,
	})
	if err != nil {
		return nil, o.requestError("embedding request failed", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	embedding := make(types.EmbeddingVector, len(resp.Data[0].Embedding))
	copy(embedding, resp.Data[0].Embedding)

	o.RecordMetrics("embedding_tokens", resp.Usage.TotalTokens)

	return embedding, nil
}

// GetProviderName returns the provider name
func (o *OpenAILLM) GetProviderName() string {
	return "openai"
}

// HealthCheck performs health check
func (o *OpenAILLM) HealthCheck(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("OpenAI health check failed: %w", err)
	}
	return nil
}

// GetConfig returns the configuration
func (o *OpenAILLM) GetConfig() *LLMConfig {
	return o.config
}

// GetModelInfo returns detailed model information
func (o *OpenAILLM) GetModelInfo() map[string]interface{} {
	info := o.BaseLLM.GetModelInfo()
	info["provider"] = o.GetProviderName()
	info["api_key_set"] = o.config.APIKey != ""
	info["base_url"] = o.config.BaseURL
	return info
}

// isRetryable reports whether a completion failure is worth another attempt.
// Client-side API errors (bad request, auth) fail immediately.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
