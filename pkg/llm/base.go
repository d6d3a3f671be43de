// Package llm provides LLM (Large Language Model) implementations for deepresearch
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	merrors "github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/types"
)

// BaseLLM provides common functionality for all LLM implementations
type BaseLLM struct {
	modelName   string
	maxTokens   int
	temperature float64
	topP        float64
	timeout     time.Duration

	mu      sync.Mutex
	metrics map[string]interface{}
}

// NewBaseLLM creates a new base LLM instance
func NewBaseLLM(modelName string) *BaseLLM {
	return &BaseLLM{
		modelName:   modelName,
		maxTokens:   1024,
		temperature: 0.7,
		topP:        1.0,
		timeout:     30 * time.Second,
		metrics:     make(map[string]interface{}),
	}
}

// SetMaxTokens sets the maximum number of tokens
func (b *BaseLLM) SetMaxTokens(maxTokens int) {
	b.maxTokens = maxTokens
}

// SetTemperature sets the temperature for generation
func (b *BaseLLM) SetTemperature(temperature float64) {
	b.temperature = temperature
}

// SetTopP sets the top-p value for nucleus sampling
func (b *BaseLLM) SetTopP(topP float64) {
	b.topP = topP
}

// SetTimeout sets the request timeout
func (b *BaseLLM) SetTimeout(timeout time.Duration) {
	b.timeout = timeout
}

// GetMaxTokens returns the maximum number of tokens
func (b *BaseLLM) GetMaxTokens() int {
	return b.maxTokens
}

// GetTemperature returns the temperature
func (b *BaseLLM) GetTemperature() float64 {
	return b.temperature
}

// GetTopP returns the top-p value
func (b *BaseLLM) GetTopP() float64 {
	return b.topP
}

// GetTimeout returns the request timeout
func (b *BaseLLM) GetTimeout() time.Duration {
	return b.timeout
}

// GetModelName returns the model name
func (b *BaseLLM) GetModelName() string {
	return b.modelName
}

// GetModelInfo returns model information
func (b *BaseLLM) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model":       b.modelName,
		"max_tokens":  b.maxTokens,
		"temperature": b.temperature,
		"top_p":       b.topP,
		"timeout":     b.timeout.String(),
		"metrics":     b.GetMetrics(),
	}
}

// ValidateMessages validates the message list
func (b *BaseLLM) ValidateMessages(messages types.MessageList) error {
	if len(messages) == 0 {
		return fmt.Errorf("empty message list")
	}

	for i, msg := range messages {
		if msg.Role == "" {
			return fmt.Errorf("message %d: role is required", i)
		}
		if msg.Content == "" {
			return fmt.Errorf("message %d: content is required", i)
		}
		if msg.Role != types.MessageRoleUser &&
			msg.Role != types.MessageRoleAssistant &&
			msg.Role != types.MessageRoleSystem {
			return fmt.Errorf("message %d: invalid role %s", i, msg.Role)
		}
	}

	return nil
}

// FormatMessages formats messages for API consumption
func (b *BaseLLM) FormatMessages(messages types.MessageList) []map[string]interface{} {
	formatted := make([]map[string]interface{}, len(messages))
	for i, msg := range messages {
		formatted[i] = map[string]interface{}{
			"role":    string(msg.Role),
			"content": msg.Content,
		}
	}
	return formatted
}

// RecordMetrics records usage metrics
func (b *BaseLLM) RecordMetrics(metric string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[metric] = value
}

// GetMetrics returns a copy of the accumulated metrics
func (b *BaseLLM) GetMetrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]interface{}, len(b.metrics))
	for k, v := range b.metrics {
		out[k] = v
	}
	return out
}

// Close provides default close implementation
func (b *BaseLLM) Close() error {
	return nil
}

// LLMConfig represents configuration for LLM instances
type LLMConfig struct {
	Provider       string        `json:"provider"`
	Model          string        `json:"model"`
	EmbeddingModel string        `json:"embedding_model,omitempty"`
	APIKey         string        `json:"api_key"`
	BaseURL        string        `json:"base_url"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	TopP           float64       `json:"top_p"`
	Timeout        time.Duration `json:"timeout"`
	RetryAttempts  uint          `json:"retry_attempts"`
}

// Validate validates the LLM configuration
func (c *LLMConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be between 0 and 1")
	}
	return nil
}

// DefaultLLMConfig returns default LLM configuration
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Provider:       string(types.BackendOpenAI),
		Model:          "gpt-4.1-mini",
		EmbeddingModel: "text-embedding-3-small",
		MaxTokens:      2048,
		Temperature:    0.2,
		TopP:           1.0,
		Timeout:        2 * time.Minute,
		RetryAttempts:  3,
	}
}

// LLMProvider defines the interface for LLM provider implementations
type LLMProvider interface {
	interfaces.LLM
	GetProviderName() string
	HealthCheck(ctx context.Context) error
	GetConfig() *LLMConfig
}

// Collect drains a streaming generation into a single string while
// forwarding every fragment to onToken. onToken may be nil.
func Collect(ctx context.Context, model interfaces.LLM, messages types.MessageList, onToken func(string) error) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		errCh <- model.GenerateStream(ctx, messages, stream)
		close(stream)
	}()

	var builder strings.Builder
	var sinkErr error
	for token := range stream {
		if sinkErr != nil {
			continue
		}
		builder.WriteString(token)
		if onToken != nil {
			if err := onToken(token); err != nil {
				sinkErr = err
				cancel()
			}
		}
	}

	genErr := <-errCh
	if sinkErr != nil {
		return builder.String(), sinkErr
	}
	if genErr != nil {
		return builder.String(), genErr
	}
	return builder.String(), nil
}

// requestError classifies a failed provider call: deadline expiry becomes an
// LLM timeout, anything else an LLM API error tagged with the model name.
func (b *BaseLLM) requestError(message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return merrors.NewLLMTimeoutError(b.modelName, err)
	}
	return merrors.NewLLMAPIError(message, err).WithDetail("model", b.modelName)
}
