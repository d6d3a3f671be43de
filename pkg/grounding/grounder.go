package grounding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/prompts"
)

// NoRelevantContext is the grounded context when nothing relevant was found
const NoRelevantContext = "No relevant context available."

// Grounder asks a model to keep only the context items relevant to a prompt
type Grounder struct {
	llm     interfaces.LLM
	prompts *prompts.Builder
	logger  interfaces.Logger
}

// NewGrounder creates a grounder
func NewGrounder(llm interfaces.LLM, builder *prompts.Builder, logger interfaces.Logger) *Grounder {
	if builder == nil {
		builder = prompts.MustBuilder()
	}
	return &Grounder{llm: llm, prompts: builder, logger: logger}
}

// Ground returns the grounded context for query. An empty context is
// grounded to NoRelevantContext without calling the model.
func (g *Grounder) Ground(ctx context.Context, formatted, query string) (string, error) {
	if IsEmptyContext(formatted) {
		return NoRelevantContext, nil
	}

	msgs, err := g.prompts.GroundContext(formatted, query)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out, err := g.llm.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("ground context: %w", err)
	}
	if g.logger != nil {
		g.logger.Debug("Grounded context", map[string]interface{}{
			"duration_ms": time.Since(start).Milliseconds(),
			"length":      len(out),
		})
	}

	if strings.TrimSpace(out) == "" {
		return NoRelevantContext, nil
	}
	return out, nil
}
