// Package conversation persists the append-only dialogue history of each
// user. A SQLite backend is the default; Redis is available for shared
// deployments.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

var (
	_ interfaces.ConversationStore = (*SQLiteStore)(nil)
	_ interfaces.ConversationStore = (*RedisStore)(nil)
	_ interfaces.HealthChecker     = (*SQLiteStore)(nil)
	_ interfaces.HealthChecker     = (*RedisStore)(nil)
)

// NewStore creates the conversation store selected by cfg.Backend
func NewStore(ctx context.Context, cfg config.ConversationConfig, logger interfaces.Logger, m interfaces.Metrics) (interfaces.ConversationStore, error) {
	switch cfg.Backend {
	case types.BackendSQLite, "":
		return NewSQLiteStore(cfg.DatabasePath, logger, m)
	case types.BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		}, logger, m)
	default:
		return nil, fmt.Errorf("unsupported conversation backend: %s", cfg.Backend)
	}
}

func observe(m interfaces.Metrics, store, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Counter(metrics.StoreOperations, 1, map[string]string{"store": store, "op": op, "status": status})
	m.Timer(metrics.StoreLatency, time.Since(start).Seconds(), map[string]string{"store": store, "op": op})
}
