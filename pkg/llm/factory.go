package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/memtensor/deepresearch/pkg/config"
	merrors "github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

// Constructor builds a provider from configuration
type Constructor func(*LLMConfig) (LLMProvider, error)

// LLMFactory provides factory methods for creating LLM instances
type LLMFactory struct {
	providers map[string]Constructor
	mu        sync.RWMutex
}

// NewLLMFactory creates a new LLM factory with the built-in providers
func NewLLMFactory() *LLMFactory {
	factory := &LLMFactory{
		providers: make(map[string]Constructor),
	}

	factory.RegisterProvider(string(types.BackendOpenAI), NewOpenAILLM)
	factory.RegisterProvider(string(types.BackendOllama), NewOllamaLLM)

	return factory
}

// RegisterProvider registers a new LLM provider
func (f *LLMFactory) RegisterProvider(name string, constructor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.providers[strings.ToLower(name)] = constructor
}

// GetProvider returns a provider constructor by name
func (f *LLMFactory) GetProvider(name string) (Constructor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	constructor, exists := f.providers[strings.ToLower(name)]
	return constructor, exists
}

// CreateLLM creates an LLM instance based on configuration
func (f *LLMFactory) CreateLLM(config *LLMConfig) (LLMProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	constructor, exists := f.GetProvider(config.Provider)
	if !exists {
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}

	return constructor(config)
}

// Stage names used to select a model
const (
	StageMemory       = "memory"
	StageConversation = "conversation"
	StageContext      = "context"
	StageReasoning    = "reasoning"
	StageAnswer       = "answer"
	StageCitation     = "citation"
	StageSupervisor   = "supervisor"
	StageGrounding    = "grounding"
	StageStreaming    = "streaming"
)

// ModelSet holds one client per pipeline stage. Stages configured with the
// same model name share a client.
type ModelSet struct {
	byStage map[string]interfaces.LLM
	clients map[string]interfaces.LLM
}

// NewModelSet creates the per-stage clients described by the application config
func NewModelSet(factory *LLMFactory, llmCfg config.LLMConfig, models config.ModelsConfig, retryAttempts uint, m interfaces.Metrics) (*ModelSet, error) {
	stages := map[string]string{
		StageMemory:       models.Memory,
		StageConversation: models.Conversation,
		StageContext:      models.Context,
		StageReasoning:    models.Reasoning,
		StageAnswer:       models.Answer,
		StageCitation:     models.Citation,
		StageSupervisor:   models.Supervisor,
		StageGrounding:    models.Grounding,
		StageStreaming:    models.Streaming,
	}

	set := &ModelSet{
		byStage: make(map[string]interfaces.LLM, len(stages)),
		clients: make(map[string]interfaces.LLM),
	}

	for stage, model := range stages {
		client, ok := set.clients[model]
		if !ok {
			provider, err := factory.CreateLLM(&LLMConfig{
				Provider:       string(llmCfg.Backend),
				Model:          model,
				EmbeddingModel: models.Embedding,
				APIKey:         llmCfg.APIKey,
				BaseURL:        llmCfg.BaseURL,
				MaxTokens:      llmCfg.MaxTokens,
				Temperature:    llmCfg.Temperature,
				TopP:           1.0,
				Timeout:        llmCfg.Timeout,
				RetryAttempts:  retryAttempts,
			})
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("failed to create %s model %s: %w", stage, model, err)
			}
			client = Instrument(provider, m)
			set.clients[model] = client
		}
		set.byStage[stage] = client
	}

	return set, nil
}

// NewStaticModelSet serves every stage from one client
func NewStaticModelSet(model interfaces.LLM) *ModelSet {
	set := &ModelSet{
		byStage: make(map[string]interfaces.LLM),
		clients: map[string]interfaces.LLM{"static": model},
	}
	for _, stage := range []string{StageMemory, StageConversation, StageContext, StageReasoning,
		StageAnswer, StageCitation, StageSupervisor, StageGrounding, StageStreaming} {
		set.byStage[stage] = model
	}
	return set
}

// For returns the client serving stage
func (s *ModelSet) For(stage string) interfaces.LLM {
	return s.byStage[stage]
}

// With returns a copy of the set with stage served by model
func (s *ModelSet) With(stage string, model interfaces.LLM) *ModelSet {
	out := &ModelSet{
		byStage: make(map[string]interfaces.LLM, len(s.byStage)),
		clients: s.clients,
	}
	for k, v := range s.byStage {
		out.byStage[k] = v
	}
	out.byStage[stage] = model
	return out
}

// HealthCheck checks every distinct client that supports it
func (s *ModelSet) HealthCheck(ctx context.Context) error {
	for name, client := range s.clients {
		if hc, ok := client.(interfaces.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				return fmt.Errorf("model %s: %w", name, err)
			}
		}
	}
	return nil
}

// Close closes every distinct client
func (s *ModelSet) Close() error {
	errs := merrors.NewErrorList()
	for name, client := range s.clients {
		if err := client.Close(); err != nil {
			errs.Add(merrors.NewInternalErrorWithCause("failed to close model "+name, err))
		}
	}
	return errs.ToError()
}

// instrumentedLLM records request counts and latency for a provider
type instrumentedLLM struct {
	LLMProvider
	metrics interfaces.Metrics
}

// Instrument wraps provider so every call is reported to m
func Instrument(provider LLMProvider, m interfaces.Metrics) interfaces.LLM {
	if m == nil {
		return provider
	}
	return &instrumentedLLM{LLMProvider: provider, metrics: m}
}

func (i *instrumentedLLM) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := map[string]string{"model": i.GetConfig().Model, "op": op, "status": status}
	i.metrics.Counter(metrics.LLMRequests, 1, labels)
	i.metrics.Timer(metrics.LLMRequestLatency, time.Since(start).Seconds(), map[string]string{"model": i.GetConfig().Model, "op": op})
}

func (i *instrumentedLLM) Generate(ctx context.Context, messages types.MessageList) (string, error) {
	start := time.Now()
	out, err := i.LLMProvider.Generate(ctx, messages)
	i.observe("generate", start, err)
	return out, err
}

func (i *instrumentedLLM) GenerateStream(ctx context.Context, messages types.MessageList, stream chan<- string) error {
	start := time.Now()
	err := i.LLMProvider.GenerateStream(ctx, messages, stream)
	i.observe("stream", start, err)
	return err
}

func (i *instrumentedLLM) Embed(ctx context.Context, text string) (types.EmbeddingVector, error) {
	start := time.Now()
	out, err := i.LLMProvider.Embed(ctx, text)
	i.observe("embed", start, err)
	return out, err
}
