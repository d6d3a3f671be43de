package grounding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/deepresearch/pkg/llm/llmtest"
	"github.com/memtensor/deepresearch/pkg/logger"
	"github.com/memtensor/deepresearch/pkg/types"
)

func TestFormatContext(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		out := FormatContext(nil, nil)
		assert.Equal(t, "*Past Conversations:*\n\n\n*Relevant Memories (Hybrid Search):*\n\n", out)
		assert.True(t, IsEmptyContext(out))
		assert.True(t, IsEmptyContext("  "))
	})

	t.Run("Full", func(t *testing.T) {
		updated := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
		memories := []*types.MemoryRecord{
			{ID: "mem_001", Memory: "Paris is the capital of France", CreatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), UpdatedAt: &updated},
			{ID: "mem_002", Memory: "No time"},
		}
		turns := []types.ConversationTurn{
			{Role: types.ConversationRoleUser, Content: "Hello", Timestamp: "1640995200.0"},
			{Role: types.ConversationRoleAgent, Content: "Hi there!", Timestamp: "1640995200.0"},
		}

		want := "*Past Conversations:*\n" +
			"Message Index: 0\nTimestamp: 1640995200.0\nHello\n" +
			"Message Index: 1\nTimestamp: 1640995200.0\nHi there!" +
			"\n\n*Relevant Memories (Hybrid Search):*\n" +
			"Memory: Paris is the capital of France\n[ref: mem_001, timestamp: 2024-01-02T10:00:00Z]\n" +
			"Memory: No time\n[ref: mem_002, timestamp: N/A]\n"

		out := FormatContext(memories, turns)
		assert.Equal(t, want, out)
		assert.False(t, IsEmptyContext(out))
	})
}

func TestGrounder(t *testing.T) {
	ctx := context.Background()
	filled := FormatContext([]*types.MemoryRecord{{ID: "m", Memory: "fact"}}, nil)

	t.Run("EmptyContextSkipsModel", func(t *testing.T) {
		model := llmtest.NewScriptedLLM("should not be used")
		g := NewGrounder(model, nil, logger.NewNopLogger())
		out, err := g.Ground(ctx, FormatContext(nil, nil), "q")
		require.NoError(t, err)
		assert.Equal(t, NoRelevantContext, out)
		assert.Empty(t, model.Calls())
	})

	t.Run("CallsModel", func(t *testing.T) {
		model := llmtest.NewScriptedLLM("- fact [ref: m]")
		g := NewGrounder(model, nil, logger.NewNopLogger())
		out, err := g.Ground(ctx, filled, "what fact?")
		require.NoError(t, err)
		assert.Equal(t, "- fact [ref: m]", out)

		calls := model.Calls()
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0][0].Content, "what fact?")
		assert.Contains(t, calls[0][0].Content, "Memory: fact")
	})

	t.Run("BlankReply", func(t *testing.T) {
		g := NewGrounder(llmtest.NewScriptedLLM("  "), nil, nil)
		out, err := g.Ground(ctx, filled, "q")
		require.NoError(t, err)
		assert.Equal(t, NoRelevantContext, out)
	})

	t.Run("ModelError", func(t *testing.T) {
		g := NewGrounder(llmtest.NewFailingLLM(errors.New("boom")), nil, nil)
		_, err := g.Ground(ctx, filled, "q")
		assert.ErrorContains(t, err, "boom")
	})
}
