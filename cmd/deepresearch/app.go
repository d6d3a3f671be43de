package main

import (
	"context"
	"fmt"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/conversation"
	"github.com/memtensor/deepresearch/pkg/events"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/llm"
	"github.com/memtensor/deepresearch/pkg/memory"
	"github.com/memtensor/deepresearch/pkg/pipeline"
)

// App holds the wired collaborators of one process
type App struct {
	Config        *config.AppConfig
	Logger        interfaces.Logger
	Metrics       interfaces.Metrics
	Models        *llm.ModelSet
	Memory        interfaces.MemoryStore
	Conversations interfaces.ConversationStore
	Publisher     interfaces.EventPublisher
	Service       *pipeline.Service

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.AppConfig, lg interfaces.Logger, m interfaces.Metrics) (*App, error) {
	app := &App{Config: cfg, Logger: lg, Metrics: m}

	models, err := llm.NewModelSet(llm.NewLLMFactory(), cfg.LLM, cfg.Models, cfg.Retrieval.ReadRetryAttempts, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create language models: %w", err)
	}
	app.Models = models
	app.closers = append(app.closers, models.Close)

	mem, err := memory.NewStore(ctx, cfg.Memory, models.For(llm.StageMemory), lg, m)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	app.Memory = mem
	app.closers = append(app.closers, mem.Close)

	conv, err := conversation.NewStore(ctx, cfg.Conversation, lg, m)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	app.Conversations = conv
	app.closers = append(app.closers, conv.Close)

	pub, err := events.NewPublisher(ctx, cfg.Events, lg)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to connect event publisher: %w", err)
	}
	app.Publisher = pub
	app.closers = append(app.closers, pub.Close)

	svc, err := pipeline.NewService(pipeline.Dependencies{
		Memory:        mem,
		Conversations: conv,
		Models:        models,
		ModelNames:    cfg.Models,
		Retrieval:     cfg.Retrieval,
		Logger:        lg,
		Metrics:       m,
	}, cfg.Pipeline.Topology, pub)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Service = svc
	return app, nil
}

// Close releases every collaborator in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Failed to close collaborator", map[string]interface{}{"error": err.Error()})
		}
	}
	a.closers = nil
}
