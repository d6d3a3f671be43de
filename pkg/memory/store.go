// Package memory provides the durable memory stores: a JSON file store for
// local use and a Qdrant-backed store for deployments.
package memory

import (
	"context"
	"fmt"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/types"
)

var (
	_ interfaces.MemoryStore   = (*NaiveStore)(nil)
	_ interfaces.MemoryStore   = (*QdrantStore)(nil)
	_ interfaces.HealthChecker = (*NaiveStore)(nil)
	_ interfaces.HealthChecker = (*QdrantStore)(nil)
)

// NewStore creates the memory store selected by cfg.Backend. The embedder is
// only used by the qdrant backend.
func NewStore(ctx context.Context, cfg config.MemoryConfig, embedder interfaces.Embedder, logger interfaces.Logger, m interfaces.Metrics) (interfaces.MemoryStore, error) {
	switch cfg.Backend {
	case types.BackendNaive, "":
		return NewNaiveStore(cfg.Path, logger, m)
	case types.BackendQdrant:
		return NewQdrantStore(ctx, cfg, embedder, logger, m)
	default:
		return nil, fmt.Errorf("unsupported memory backend: %s", cfg.Backend)
	}
}
