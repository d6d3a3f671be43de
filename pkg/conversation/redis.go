package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

// redisEntry is the sorted-set member of one turn. Seq makes members unique
// and orders turns that share a timestamp.
type redisEntry struct {
	Seq       int64  `json:"seq"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// RedisStore keeps each user's history in a sorted set scored by insertion
// sequence
type RedisStore struct {
	client  *redis.Client
	prefix  string
	now     func() time.Time
	logger  interfaces.Logger
	metrics interfaces.Metrics
}

// RedisOptions configures NewRedisStore
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, opts RedisOptions, logger interfaces.Logger, m interfaces.Metrics) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.NewMissingFieldError("redis_addr")
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "deepresearch:conversations"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.NewConnectionFailedError(opts.Addr).WithDetail("cause", err.Error())
	}

	if logger != nil {
		logger.Info("Redis connection established", map[string]interface{}{
			"address": opts.Addr,
			"db":      opts.DB,
		})
	}

	return &RedisStore{
		client:  client,
		prefix:  opts.KeyPrefix,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}, nil
}

// historyKey is the sorted set holding the user's turns
func historyKey(prefix, userID string) string {
	return fmt.Sprintf("%s:%s", prefix, userID)
}

// seqKey is the counter that numbers the user's turns
func seqKey(prefix, userID string) string {
	return fmt.Sprintf("%s:%s:seq", prefix, userID)
}

// FetchHistory returns at most limit of the user's most recent turns in
// chronological order
func (s *RedisStore) FetchHistory(ctx context.Context, userID string, limit int) ([]types.ConversationTurn, error) {
	start := time.Now()
	turns, err := s.fetch(ctx, userID, limit)
	observe(s.metrics, "redis", "fetch_history", start, err)
	return turns, err
}

func (s *RedisStore) fetch(ctx context.Context, userID string, limit int) ([]types.ConversationTurn, error) {
	if limit <= 0 {
		return []types.ConversationTurn{}, nil
	}

	members, err := s.client.ZRevRange(ctx, historyKey(s.prefix, userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.NewQueryFailedError("fetch conversation history", err)
	}
	return decodeMembers(members)
}

// decodeMembers turns newest-first members into chronological turns
func decodeMembers(members []string) ([]types.ConversationTurn, error) {
	turns := make([]types.ConversationTurn, len(members))
	for i, member := range members {
		var e redisEntry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			return nil, errors.NewInvalidFormatError("conversation entry", "json")
		}
		turns[len(members)-1-i] = types.ConversationTurn{
			Role:      types.ConversationRole(e.Role),
			Content:   e.Content,
			Timestamp: e.Timestamp,
		}
	}
	return turns, nil
}

// Store appends the prompt and, when non-empty, the answer with one shared
// timestamp
func (s *RedisStore) Store(ctx context.Context, userID, prompt, answer string) error {
	start := time.Now()
	err := s.store(ctx, userID, prompt, answer)
	observe(s.metrics, "redis", "store", start, err)
	if err != nil && s.logger != nil {
		s.logger.Error("Failed to store conversation", err, map[string]interface{}{"user_id": userID})
	}
	return err
}

func (s *RedisStore) store(ctx context.Context, userID, prompt, answer string) error {
	rows := newRows(userID, prompt, answer, types.FormatUnixTimestamp(s.now()))

	last, err := s.client.IncrBy(ctx, seqKey(s.prefix, userID), int64(len(rows))).Result()
	if err != nil {
		return errors.NewDatabaseErrorWithCause("failed to allocate conversation sequence", err)
	}

	members, err := encodeRows(rows, last-int64(len(rows))+1)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, historyKey(s.prefix, userID), members...)
		return nil
	})
	if err != nil {
		return errors.NewDatabaseErrorWithCause("failed to store conversation", err)
	}
	return nil
}

func encodeRows(rows []Row, firstSeq int64) ([]redis.Z, error) {
	members := make([]redis.Z, 0, len(rows))
	for i, row := range rows {
		seq := firstSeq + int64(i)
		data, err := json.Marshal(redisEntry{
			Seq:       seq,
			Role:      row.Role,
			Content:   row.Content,
			Timestamp: row.Timestamp,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode conversation entry: %w", err)
		}
		members = append(members, redis.Z{Score: float64(seq), Member: string(data)})
	}
	return members, nil
}

// HealthCheck pings Redis
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
