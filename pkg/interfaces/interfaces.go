// Package interfaces defines the core interfaces for deepresearch components
package interfaces

import (
	"context"

	"github.com/memtensor/deepresearch/pkg/types"
)

// LLM defines the interface for Large Language Model implementations
type LLM interface {
	// Generate generates text based on messages
	Generate(ctx context.Context, messages types.MessageList) (string, error)

	// GenerateStream generates text with streaming support. Fragments are sent
	// in generation order; the channel is not closed by the implementation.
	GenerateStream(ctx context.Context, messages types.MessageList, stream chan<- string) error

	// Embed generates embeddings for text
	Embed(ctx context.Context, text string) (types.EmbeddingVector, error)

	// GetModelInfo returns model information
	GetModelInfo() map[string]interface{}

	// Close closes the LLM connection
	Close() error
}

// Embedder produces embedding vectors for memory content
type Embedder interface {
	Embed(ctx context.Context, text string) (types.EmbeddingVector, error)
}

// MemoryStore is the durable per-user memory collaborator
type MemoryStore interface {
	// Add stores the entries as memories for the user
	Add(ctx context.Context, entries types.MessageList, userID string) (*types.MemoryWriteResult, error)

	// Get returns the memory or nil when it does not exist
	Get(ctx context.Context, id string) (*types.MemoryRecord, error)

	// GetAll returns every memory of the user
	GetAll(ctx context.Context, userID string) ([]*types.MemoryRecord, error)

	// Close releases the store
	Close() error
}

// ConversationStore is the append-only dialogue history collaborator
type ConversationStore interface {
	// FetchHistory returns at most limit of the most recent turns, oldest first
	FetchHistory(ctx context.Context, userID string, limit int) ([]types.ConversationTurn, error)

	// Store appends the user prompt and, when non-empty, the agent answer
	Store(ctx context.Context, userID, prompt, answer string) error

	// Close releases the store
	Close() error
}

// EventPublisher mirrors delivered events to an external broker
type EventPublisher interface {
	Publish(ctx context.Context, requestID string, event *types.Event) error
	Close() error
}

// Logger defines the interface for logging implementations
type Logger interface {
	// Debug logs debug level messages
	Debug(msg string, fields ...map[string]interface{})

	// Info logs info level messages
	Info(msg string, fields ...map[string]interface{})

	// Warn logs warning level messages
	Warn(msg string, fields ...map[string]interface{})

	// Error logs error level messages
	Error(msg string, err error, fields ...map[string]interface{})

	// Fatal logs fatal level messages and exits
	Fatal(msg string, err error, fields ...map[string]interface{})

	// WithFields returns a logger with additional fields
	WithFields(fields map[string]interface{}) Logger
}

// Metrics defines the interface for metrics collection
type Metrics interface {
	// Counter increments a counter metric
	Counter(name string, value float64, labels map[string]string)

	// Gauge sets a gauge metric
	Gauge(name string, value float64, labels map[string]string)

	// Histogram records a histogram metric
	Histogram(name string, value float64, labels map[string]string)

	// Timer records timing metrics in seconds
	Timer(name string, duration float64, labels map[string]string)
}

// HealthChecker is implemented by collaborators that can report liveness
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
