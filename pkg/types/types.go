// Package types defines the core types shared by the deepresearch components
package types

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the role of a message sent to a language model
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// MessageDict represents a single message in a model conversation
type MessageDict struct {
	Role    MessageRole `json:"role" validate:"required,oneof=user assistant system"`
	Content string      `json:"content" validate:"required"`
}

// MessageList represents a list of messages in a model conversation
type MessageList []MessageDict

// UserMessage builds a single-message list holding a user prompt
func UserMessage(content string) MessageList {
	return MessageList{{Role: MessageRoleUser, Content: content}}
}

// TimestampUnavailable is rendered when a record carries no usable timestamp
const TimestampUnavailable = "N/A"

// MemoryRecord is a durable fact stored for a user in the memory store
type MemoryRecord struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id,omitempty"`
	Memory    string                 `json:"memory"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt *time.Time             `json:"updated_at,omitempty"`
}

// GetID returns the memory id
func (m *MemoryRecord) GetID() string { return m.ID }

// GetContent returns the memory text
func (m *MemoryRecord) GetContent() string { return m.Memory }

// Timestamp returns updated_at when present, otherwise created_at
func (m *MemoryRecord) Timestamp() string {
	if m.UpdatedAt != nil && !m.UpdatedAt.IsZero() {
		return m.UpdatedAt.Format(time.RFC3339)
	}
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt.Format(time.RFC3339)
	}
	return TimestampUnavailable
}

// NewMemoryRecord creates a memory record with a fresh id and creation time
func NewMemoryRecord(userID, content string) *MemoryRecord {
	return &MemoryRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Memory:    content,
		Metadata:  make(map[string]interface{}),
		CreatedAt: time.Now().UTC(),
	}
}

// MemoryEvent describes what the store did with a submitted entry
type MemoryEvent string

const (
	MemoryEventAdd  MemoryEvent = "ADD"
	MemoryEventNone MemoryEvent = "NONE"
)

// MemoryWriteEntry is one entry of a memory write result
type MemoryWriteEntry struct {
	ID     string      `json:"id"`
	Memory string      `json:"memory"`
	Event  MemoryEvent `json:"event"`
}

// MemoryWriteResult is returned by a memory store write
type MemoryWriteResult struct {
	Results []MemoryWriteEntry `json:"results"`
}

// ConversationRole is the author of a stored conversation turn
type ConversationRole string

const (
	ConversationRoleUser  ConversationRole = "user"
	ConversationRoleAgent ConversationRole = "agent"
)

// ConversationTurn is one stored message of the dialogue history
type ConversationTurn struct {
	Role      ConversationRole `json:"role"`
	Content   string           `json:"content"`
	Timestamp string           `json:"timestamp"`
}

// FormatUnixTimestamp renders a time the way the conversation store persists it
func FormatUnixTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

// CitationRef references a memory by id and the timestamp it was cited with
type CitationRef struct {
	MemoryID  string `json:"memory_id"`
	Timestamp string `json:"timestamp"`
}

// Citation is a resolved memory reference delivered with an answer
type Citation struct {
	ID        string `json:"id"`
	MemoryID  string `json:"memory_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// DocumentType tags the provenance of a ranking document
type DocumentType string

const (
	DocumentTypeMemory       DocumentType = "memory"
	DocumentTypeConversation DocumentType = "conversation"
)

// Document is one entry of a ranking corpus
type Document struct {
	Text   string            `json:"text"`
	Type   DocumentType      `json:"type"`
	Ref    string            `json:"ref"`
	Index  int               `json:"index"`
	Memory *MemoryRecord     `json:"memory,omitempty"`
	Turn   *ConversationTurn `json:"turn,omitempty"`
}

// RankedDocument is a corpus document with its relevance score
type RankedDocument struct {
	Document
	Score float64 `json:"score"`
}

// BackendType represents the type of backend (LLM, stores, brokers)
type BackendType string

const (
	BackendOpenAI BackendType = "openai"
	BackendOllama BackendType = "ollama"
	BackendQdrant BackendType = "qdrant"
	BackendNaive  BackendType = "naive"
	BackendSQLite BackendType = "sqlite"
	BackendRedis  BackendType = "redis"
	BackendNATS   BackendType = "nats"
)

// EmbeddingVector represents an embedding vector
type EmbeddingVector []float32

// ErrorType classifies errors for reporting
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
)

// Context keys for request context
type ContextKey string

const (
	ContextKeyUserID    ContextKey = "user_id"
	ContextKeyRequestID ContextKey = "request_id"
)

// RequestContext holds request-specific context information
type RequestContext struct {
	UserID    string
	RequestID string
}

// GetRequestContext extracts request context from Go context
func GetRequestContext(ctx context.Context) *RequestContext {
	return &RequestContext{
		UserID:    getStringFromContext(ctx, ContextKeyUserID),
		RequestID: getStringFromContext(ctx, ContextKeyRequestID),
	}
}

// WithRequestContext stores the request context values on ctx
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	ctx = context.WithValue(ctx, ContextKeyUserID, rc.UserID)
	return context.WithValue(ctx, ContextKeyRequestID, rc.RequestID)
}

// helper function to extract string from context
func getStringFromContext(ctx context.Context, key ContextKey) string {
	if value := ctx.Value(key); value != nil {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return ""
}

// NewRequestContext creates a new request context with a generated request id
func NewRequestContext(userID string) *RequestContext {
	return &RequestContext{
		UserID:    userID,
		RequestID: uuid.New().String(),
	}
}

// ResearchRequest is what a caller submits to start a request
type ResearchRequest struct {
	UserID string `json:"user_id" form:"user_id" validate:"required"`
	Prompt string `json:"prompt" form:"prompt" validate:"required"`
}
