package pipeline

import (
	"context"

	"github.com/memtensor/deepresearch/pkg/types"
)

// Field identifies a PipelineState field a stage may write
type Field uint32

const (
	FieldMemories Field = 1 << iota
	FieldConversations
	FieldContext
	FieldRationale
	FieldRationaleHTML
	FieldAnswer
	FieldAnswerHTML
	FieldCitations
	FieldClarifications
)

// Has reports whether f includes every field of other
func (f Field) Has(other Field) bool {
	return f&other == other
}

// StageOutput carries the values a stage produced. Only the fields named in
// the stage's write-set are merged into the state; History is always
// appended.
type StageOutput struct {
	Memories       []*types.MemoryRecord
	Conversations  []types.ConversationTurn
	Context        string
	Rationale      string
	RationaleHTML  string
	Answer         string
	AnswerHTML     string
	Citations      []types.Citation
	Clarifications []string
	History        []string
}

// Apply merges the output fields selected by writes into state
func (o StageOutput) Apply(state *types.PipelineState, writes Field) {
	if writes.Has(FieldMemories) {
		state.Memories = nonNilMemories(o.Memories)
	}
	if writes.Has(FieldConversations) {
		state.Conversations = nonNilTurns(o.Conversations)
	}
	if writes.Has(FieldContext) {
		state.Context = o.Context
	}
	if writes.Has(FieldRationale) {
		state.Rationale = o.Rationale
	}
	if writes.Has(FieldRationaleHTML) {
		state.RationaleHTML = o.RationaleHTML
	}
	if writes.Has(FieldAnswer) {
		state.Answer = o.Answer
	}
	if writes.Has(FieldAnswerHTML) {
		state.AnswerHTML = o.AnswerHTML
	}
	if writes.Has(FieldCitations) {
		state.Citations = nonNilCitations(o.Citations)
	}
	if writes.Has(FieldClarifications) {
		if o.Clarifications == nil {
			state.Clarifications = []string{}
		} else {
			state.Clarifications = o.Clarifications
		}
	}
	state.AppendHistory(o.History...)
}

// Stage is one node of a pipeline graph. Run receives a copy of the state
// and reports its results through StageOutput.
type Stage struct {
	Name   string
	Writes Field
	Run    func(ctx context.Context, state *types.PipelineState) (StageOutput, error)
}

func nonNilMemories(in []*types.MemoryRecord) []*types.MemoryRecord {
	if in == nil {
		return []*types.MemoryRecord{}
	}
	return in
}

func nonNilTurns(in []types.ConversationTurn) []types.ConversationTurn {
	if in == nil {
		return []types.ConversationTurn{}
	}
	return in
}

func nonNilCitations(in []types.Citation) []types.Citation {
	if in == nil {
		return []types.Citation{}
	}
	return in
}
