package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/memtensor/deepresearch/pkg/citation"
	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/grounding"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/llm"
	"github.com/memtensor/deepresearch/pkg/logger"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/prompts"
	"github.com/memtensor/deepresearch/pkg/search"
	"github.com/memtensor/deepresearch/pkg/types"
)

// Stage names
const (
	StageMergeRetrievals   = "merge_retrievals"
	StageSupervisor        = "supervisor"
	StageMemoryAgent       = "memory_agent"
	StageConversationAgent = "conversation_agent"
	StageContextAgent      = "context_agent"
	StageReasoningAgent    = "reasoning_agent"
	StageAnswerAgent       = "answer_agent"
	StageCitationAgent     = "citation_agent"
)

// Supervisor answers
const (
	CorrectionPrefix = "Correction: Your statement appears to be speculative or not supported by the information I have. Here is what I know: "
	NoSupportingInfo = " I do not have any supporting information in your memories."
	ClarifyAnswer    = "I need more information or clarification to answer your question. Could you please provide more details?"
)

// HallucinationKeywords trigger the supervisor's correction answer
var HallucinationKeywords = []string{
	"will be", "would be", "is going to", "was", "were", "supposed to",
	"rumor", "fake", "incorrect", "not true", "speculative", "hypothetical",
}

// ClarifyFunc decides which clarification questions, if any, the supervisor
// asks. A non-empty result ends the supervisor graph.
type ClarifyFunc func(ctx context.Context, state *types.PipelineState) []string

// Dependencies are the collaborators shared by every topology
type Dependencies struct {
	Memory        interfaces.MemoryStore
	Conversations interfaces.ConversationStore
	Models        *llm.ModelSet
	ModelNames    config.ModelsConfig
	Retrieval     config.RetrievalConfig
	Prompts       *prompts.Builder
	Logger        interfaces.Logger
	Metrics       interfaces.Metrics

	// Clarify is consulted when the supervisor finds neither a direct answer
	// nor a correction. Nil never asks.
	Clarify ClarifyFunc
}

// Agents implements the stages shared by the linear and supervisor graphs
type Agents struct {
	deps      Dependencies
	read      *retriever
	ranker    *search.Ranker
	resolver  *citation.Resolver
	annotator *citation.Annotator
}

// NewAgents wires the stage implementations
func NewAgents(deps Dependencies) (*Agents, error) {
	if deps.Memory == nil || deps.Conversations == nil {
		return nil, fmt.Errorf("memory and conversation stores are required")
	}
	if deps.Models == nil {
		return nil, fmt.Errorf("models are required")
	}
	if deps.Prompts == nil {
		b, err := prompts.NewBuilder()
		if err != nil {
			return nil, err
		}
		deps.Prompts = b
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}

	return &Agents{
		deps: deps,
		read: &retriever{
			memory:        deps.Memory,
			conversations: deps.Conversations,
			attempts:      deps.Retrieval.ReadRetryAttempts,
			delay:         deps.Retrieval.ReadRetryDelay,
			logger:        deps.Logger,
		},
		ranker:    search.NewRanker(deps.Retrieval),
		resolver:  citation.NewResolver(deps.Memory, deps.Retrieval, deps.Logger, deps.Metrics),
		annotator: citation.NewAnnotator(deps.Models.For(llm.StageCitation), deps.Prompts, deps.Logger),
	}, nil
}

// Stages returns every stage keyed by name
func (a *Agents) Stages() map[string]Stage {
	return map[string]Stage{
		StageMergeRetrievals:   {Name: StageMergeRetrievals, Writes: FieldMemories | FieldConversations, Run: a.mergeRetrievals},
		StageSupervisor:        {Name: StageSupervisor, Writes: FieldAnswer | FieldCitations | FieldClarifications, Run: a.supervisor},
		StageMemoryAgent:       {Name: StageMemoryAgent, Writes: FieldMemories, Run: a.memoryAgent},
		StageConversationAgent: {Name: StageConversationAgent, Writes: FieldConversations, Run: a.conversationAgent},
		StageContextAgent:      {Name: StageContextAgent, Writes: FieldContext, Run: a.contextAgent},
		StageReasoningAgent:    {Name: StageReasoningAgent, Writes: FieldRationale, Run: a.reasoningAgent},
		StageAnswerAgent:       {Name: StageAnswerAgent, Writes: FieldAnswer, Run: a.answerAgent},
		StageCitationAgent:     {Name: StageCitationAgent, Writes: FieldCitations | FieldAnswerHTML | FieldRationaleHTML, Run: a.citationAgent},
	}
}

func (a *Agents) memoryAgent(ctx context.Context, s *types.PipelineState) (StageOutput, error) {
	a.read.writeMemory(ctx, s.UserID, s.Prompt)

	all, err := a.read.memories(ctx, s.UserID)
	if err != nil {
		return StageOutput{}, err
	}
	return StageOutput{
		Memories: a.ranker.RankMemories(s.Prompt, all, a.deps.Retrieval.MemoryTopN),
		History:  []string{fmt.Sprintf("MemoryAgent(%s): stored new memory and retrieved memories", a.deps.ModelNames.Memory)},
	}, nil
}

func (a *Agents) conversationAgent(ctx context.Context, s *types.PipelineState) (StageOutput, error) {
	turns, err := a.read.history(ctx, s.UserID, a.deps.Retrieval.HistoryLimit)
	if err != nil {
		return StageOutput{}, err
	}
	return StageOutput{
		Conversations: a.ranker.RankTurns(s.Prompt, turns, a.deps.Retrieval.ConversationTopN),
		History:       []string{fmt.Sprintf("ConversationAgent(%s): retrieved conversations", a.deps.ModelNames.Conversation)},
	}, nil
}

func (a *Agents) contextAgent(ctx context.Context, s *types.PipelineState) (StageOutput, error) {
	return StageOutput{
		Context: grounding.FormatContext(s.Memories, s.Conversations),
		History: []string{fmt.Sprintf("ContextAgent(%s): formatted context", a.deps.ModelNames.Context)},
	}, nil
}

func (a *Agents) reasoningAgent(ctx context.Context, s *types.PipelineState) (StageOutput, error) {
	messages, err := a.deps.Prompts.Reasoning(s.Context, s.Prompt)
	if err != nil {
		return StageOutput{}, err
	}
	rationale, err := llm.Collect(ctx, a.deps.Models.For(llm.StageReasoning), messages, nil)
	if err != nil {
		return StageOutput{}, fmt.Errorf("generate rationale: %w", err)
	}
	return StageOutput{
		Rationale: rationale,
		History:   []string{fmt.Sprintf("ReasoningAgent(%s): generated rationale", a.deps.ModelNames.Reasoning)},
	}, nil
}

func (a *Agents) answerAgent(ctx context.Context, s *types.PipelineState) (StageOutput, error) {
	messages, err := a.deps.Prompts.Answer(s.Context, s.Rationale, s.Prompt)
	if err != nil {
		return StageOutput{}, err
	}
	answer, err := llm.Collect(ctx, a.deps.Models.For(llm.StageAnswer), messages, nil)
	if err != nil {
		return StageOutput{}, fmt.Errorf("generate answer: %w", err)
	}
	return StageOutput{
		Answer:  answer,
		History: []string{fmt.Sprintf("AnswerAgent(%s): generated answer", a.deps.ModelNames.Answer)},
	}, nil
}

func (a *Agents) citationAgent(ctx context.Context, s *types.PipelineState) (StageOutput, error) {
	out := StageOutput{
		History: []string{fmt.Sprintf("CitationAgent(%s): annotated answer with citations (HTML)", a.deps.ModelNames.Citation)},
	}
	if len(s.Memories) == 0 {
		out.Citations = []types.Citation{}
		out.AnswerHTML = s.Answer
		return out, nil
	}

	cited := a.resolver.Resolve(ctx, citation.RefsFromMemories(s.Memories))
	if len(cited) == 0 {
		cited = []types.Citation{citationFromRecord(s.Memories[0])}
	}
	out.Citations = cited
	out.AnswerHTML = a.annotator.Annotate(ctx, s.Answer, cited)
	if s.Rationale != "" {
		out.RationaleHTML = a.annotator.Annotate(ctx, s.Rationale, cited)
	}
	return out, nil
}

// mergeRetrievals fetches all memories and the recent history concurrently.
// Each fetch writes its own variable, so the merge is independent of
// completion order.
func (a *Agents) mergeRetrievals(ctx context.Context, s *types.PipelineState) (StageOutput, error) {
	var (
		memories []*types.MemoryRecord
		turns    []types.ConversationTurn
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		memories, err = a.read.memories(gctx, s.UserID)
		return err
	})
	g.Go(func() error {
		var err error
		turns, err = a.read.history(gctx, s.UserID, a.deps.Retrieval.SupervisorHistoryLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return StageOutput{}, err
	}

	return StageOutput{
		Memories:      memories,
		Conversations: turns,
		History:       []string{"Memory retrieval complete.", "Conversation retrieval complete."},
	}, nil
}

func (a *Agents) supervisor(ctx context.Context, s *types.PipelineState) (StageOutput, error) {
	prompt := strings.ToLower(s.Prompt)

	for _, m := range s.Memories {
		if m != nil && strings.Contains(strings.ToLower(m.Memory), prompt) {
			return StageOutput{
				Answer:    m.Memory,
				Citations: []types.Citation{citationFromRecord(s.Memories[0])},
				History:   []string{"Supervisor: answered directly from context."},
			}, nil
		}
	}

	if containsAny(prompt, HallucinationKeywords) {
		out := StageOutput{
			Answer:    CorrectionPrefix,
			Citations: []types.Citation{},
			History:   []string{"Supervisor: corrected user hallucination."},
		}
		if len(s.Memories) > 0 && s.Memories[0] != nil {
			out.Answer += " " + s.Memories[0].Memory
			out.Citations = []types.Citation{citationFromRecord(s.Memories[0])}
		} else {
			out.Answer += NoSupportingInfo
		}
		return out, nil
	}

	out := StageOutput{
		Answer:    ClarifyAnswer,
		Citations: s.Citations,
		History:   []string{"Supervisor: asked for clarification."},
	}
	if a.deps.Clarify != nil {
		out.Clarifications = a.deps.Clarify(ctx, s)
	}
	return out, nil
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func citationFromRecord(m *types.MemoryRecord) types.Citation {
	return types.Citation{
		ID:        m.ID,
		MemoryID:  m.ID,
		Title:     citation.Title(m.Memory),
		Content:   m.Memory,
		Timestamp: m.Timestamp(),
	}
}
