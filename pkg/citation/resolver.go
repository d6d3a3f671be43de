// Package citation resolves memory references into citations and annotates
// generated text with inline citation markup.
package citation

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

// Sentinels used when a cited memory cannot be delivered
const (
	MemoryNotFound      = "[Memory not found]"
	ErrorFetchingMemory = "[Error fetching memory]"
)

// TitleLength is the number of characters of content used as a title
const TitleLength = 50

// Resolver turns citation references into citations by reading the memory store
type Resolver struct {
	store    interfaces.MemoryStore
	attempts uint
	delay    time.Duration
	logger   interfaces.Logger
	metrics  interfaces.Metrics
}

// NewResolver creates a resolver. Store reads are retried according to cfg.
func NewResolver(store interfaces.MemoryStore, cfg config.RetrievalConfig, logger interfaces.Logger, m interfaces.Metrics) *Resolver {
	attempts := cfg.ReadRetryAttempts
	if attempts == 0 {
		attempts = 1
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Resolver{
		store:    store,
		attempts: attempts,
		delay:    cfg.ReadRetryDelay,
		logger:   logger,
		metrics:  m,
	}
}

// RefsFromMemories builds one reference per memory, in order
func RefsFromMemories(memories []*types.MemoryRecord) []types.CitationRef {
	refs := make([]types.CitationRef, 0, len(memories))
	for _, m := range memories {
		if m == nil {
			continue
		}
		refs = append(refs, types.CitationRef{MemoryID: m.ID, Timestamp: m.Timestamp()})
	}
	return refs
}

// Resolve returns one citation per distinct memory id, in first-seen order.
// It never fails: unreadable memories become sentinel citations.
func (r *Resolver) Resolve(ctx context.Context, refs []types.CitationRef) []types.Citation {
	citations := make([]types.Citation, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))

	for _, ref := range refs {
		if _, ok := seen[ref.MemoryID]; ok {
			continue
		}
		seen[ref.MemoryID] = struct{}{}
		citations = append(citations, r.resolveOne(ctx, ref))
	}

	if r.logger != nil {
		r.logger.Debug("Resolved citations", map[string]interface{}{
			"refs":      len(refs),
			"citations": len(citations),
		})
	}
	return citations
}

func (r *Resolver) resolveOne(ctx context.Context, ref types.CitationRef) types.Citation {
	record, err := r.get(ctx, ref.MemoryID)

	switch {
	case err != nil && !errors.IsNotFound(err):
		r.count("error")
		if r.logger != nil {
			r.logger.Warn("Failed to fetch cited memory", map[string]interface{}{
				"memory_id": ref.MemoryID,
				"error":     err.Error(),
			})
		}
		return types.Citation{
			ID:        ref.MemoryID,
			MemoryID:  ref.MemoryID,
			Title:     ErrorFetchingMemory,
			Content:   fmt.Sprintf("[Error fetching memory: %v]", err),
			Timestamp: ref.Timestamp,
		}
	case record == nil:
		r.count("missing")
		return types.Citation{
			ID:        ref.MemoryID,
			MemoryID:  ref.MemoryID,
			Title:     MemoryNotFound,
			Content:   MemoryNotFound,
			Timestamp: ref.Timestamp,
		}
	}

	r.count("found")
	return types.Citation{
		ID:        ref.MemoryID,
		MemoryID:  ref.MemoryID,
		Title:     Title(record.Memory),
		Content:   record.Memory,
		Timestamp: record.Timestamp(),
	}
}

func (r *Resolver) get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	var record *types.MemoryRecord
	err := retry.Do(
		func() error {
			var getErr error
			record, getErr = r.store.Get(ctx, id)
			return getErr
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.IsNotFound(err) && ctx.Err() == nil
		}),
	)
	return record, err
}

func (r *Resolver) count(result string) {
	r.metrics.Counter(metrics.CitationFetches, 1, map[string]string{"result": result})
}

// Title returns the first TitleLength characters of content
func Title(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleLength {
		return content
	}
	return string(runes[:TitleLength])
}
