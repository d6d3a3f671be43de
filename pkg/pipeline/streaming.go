package pipeline

import (
	"context"
	"fmt"

	"github.com/memtensor/deepresearch/pkg/citation"
	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/grounding"
	"github.com/memtensor/deepresearch/pkg/llm"
	"github.com/memtensor/deepresearch/pkg/search"
	"github.com/memtensor/deepresearch/pkg/types"
)

// Emitter delivers one event to the caller. An error means the caller is
// gone and no further events should be produced.
type Emitter func(ctx context.Context, event *types.Event) error

// StreamingAgent answers in a single pass, streaming rationale and answer
// tokens as they are generated
type StreamingAgent struct {
	agents   *Agents
	grounder *grounding.Grounder
}

// NewStreamingAgent builds a streaming agent on the shared stage
// collaborators
func NewStreamingAgent(agents *Agents) *StreamingAgent {
	return &StreamingAgent{
		agents:   agents,
		grounder: grounding.NewGrounder(agents.deps.Models.For(llm.StageGrounding), agents.deps.Prompts, agents.deps.Logger),
	}
}

// Run produces every non-terminal event of a request. The returned state
// holds what was produced up to the point of failure.
func (a *StreamingAgent) Run(ctx context.Context, state *types.PipelineState, emit Emitter) (*types.PipelineState, error) {
	s := state.Clone()
	s.Normalize()
	deps := a.agents.deps
	read := a.agents.read

	send := func(event *types.Event) error {
		if err := emit(ctx, event); err != nil {
			return errors.NewClientDisconnectedError(err)
		}
		return nil
	}

	read.writeMemory(ctx, s.UserID, s.Prompt)

	turns, err := read.history(ctx, s.UserID, deps.Retrieval.HistoryLimit)
	if err != nil {
		return s, fmt.Errorf("fetch history: %w", err)
	}
	all, err := read.memories(ctx, s.UserID)
	if err != nil {
		return s, fmt.Errorf("fetch memories: %w", err)
	}

	ranked := a.agents.ranker.HybridSearch(s.Prompt, all, turns, deps.Retrieval.StreamingTopN)
	s.Memories, s.Conversations = search.SplitRanked(ranked)

	s.Citations = a.agents.resolver.Resolve(ctx, citation.RefsFromMemories(s.Memories))

	s.Context = grounding.FormatContext(s.Memories, s.Conversations)
	grounded, err := a.grounder.Ground(ctx, s.Context, s.Prompt)
	if err != nil {
		return s, err
	}

	model := deps.Models.For(llm.StageStreaming)

	messages, err := deps.Prompts.Reasoning(grounded, s.Prompt)
	if err != nil {
		return s, err
	}
	s.Rationale, err = llm.Collect(ctx, model, messages, func(token string) error {
		return send(types.NewTokenEvent(types.EventRationaleToken, token))
	})
	if err != nil {
		return s, streamError("rationale", err)
	}
	if err := send(types.NewRationaleCompleteEvent(s.Rationale)); err != nil {
		return s, err
	}
	s.RationaleHTML = a.agents.annotator.Annotate(ctx, s.Rationale, s.Citations)
	if err := send(types.NewRationaleHTMLEvent(s.RationaleHTML)); err != nil {
		return s, err
	}

	messages, err = deps.Prompts.Answer(grounded, s.Rationale, s.Prompt)
	if err != nil {
		return s, err
	}
	s.Answer, err = llm.Collect(ctx, model, messages, func(token string) error {
		return send(types.NewTokenEvent(types.EventAnswerToken, token))
	})
	if err != nil {
		return s, streamError("answer", err)
	}
	if err := send(types.NewAnswerCompleteEvent(s.Answer)); err != nil {
		return s, err
	}
	s.AnswerHTML = a.agents.annotator.Annotate(ctx, s.Answer, s.Citations)
	if err := send(types.NewAnswerHTMLEvent(s.AnswerHTML)); err != nil {
		return s, err
	}

	if err := send(types.NewCitationsEvent(s.Citations)); err != nil {
		return s, err
	}

	read.storeConversation(ctx, s.UserID, s.Prompt, s.Answer)
	return s, nil
}

// streamError keeps a client disconnect recognisable and labels generation
// failures with the part being generated
func streamError(part string, err error) error {
	if errors.HasCode(err, errors.ErrCodeClientDisconnected) {
		return err
	}
	return fmt.Errorf("generate %s: %w", part, err)
}
