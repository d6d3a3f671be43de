package pipeline

import (
	"context"
	"time"

	"github.com/avast/retry-go"

	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/types"
)

// retriever performs the retried reads shared by every topology. Writes go
// straight to the stores and are attempted once.
type retriever struct {
	memory        interfaces.MemoryStore
	conversations interfaces.ConversationStore
	attempts      uint
	delay         time.Duration
	logger        interfaces.Logger
}

func (r *retriever) options(ctx context.Context, op string) []retry.Option {
	attempts := r.attempts
	if attempts == 0 {
		attempts = 1
	}
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			if r.logger != nil {
				r.logger.Warn("Retrying read", map[string]interface{}{
					"op":      op,
					"attempt": n + 1,
					"error":   err.Error(),
				})
			}
		}),
	}
}

func (r *retriever) memories(ctx context.Context, userID string) ([]*types.MemoryRecord, error) {
	var out []*types.MemoryRecord
	err := retry.Do(func() error {
		var err error
		out, err = r.memory.GetAll(ctx, userID)
		return err
	}, r.options(ctx, "get_all")...)
	if err != nil {
		return nil, err
	}
	return nonNilMemories(out), nil
}

func (r *retriever) history(ctx context.Context, userID string, limit int) ([]types.ConversationTurn, error) {
	var out []types.ConversationTurn
	err := retry.Do(func() error {
		var err error
		out, err = r.conversations.FetchHistory(ctx, userID, limit)
		return err
	}, r.options(ctx, "fetch_history")...)
	if err != nil {
		return nil, err
	}
	return nonNilTurns(out), nil
}

// writeMemory stores the prompt as a memory. Failures are logged and
// swallowed.
func (r *retriever) writeMemory(ctx context.Context, userID, prompt string) {
	if _, err := r.memory.Add(ctx, types.UserMessage(prompt), userID); err != nil && r.logger != nil {
		r.logger.Warn("Failed to write memory", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

// storeConversation persists the exchange. Failures are logged and
// swallowed.
func (r *retriever) storeConversation(ctx context.Context, userID, prompt, answer string) {
	if err := r.conversations.Store(ctx, userID, prompt, answer); err != nil && r.logger != nil {
		r.logger.Warn("Failed to store conversation", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}
