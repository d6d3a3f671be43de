package conversation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/logger"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "conv.db"), logger.NewTestLogger(), metrics.NewTestMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// clock returns a time source that advances one second per call
func clock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("StoreAndFetch", func(t *testing.T) {
		store := newTestSQLite(t)
		store.now = clock(time.Unix(1700000000, 0))

		require.NoError(t, store.Store(ctx, "alice", "What is BM25?", "A ranking function."))

		turns, err := store.FetchHistory(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, types.ConversationRoleUser, turns[0].Role)
		assert.Equal(t, "What is BM25?", turns[0].Content)
		assert.Equal(t, types.ConversationRoleAgent, turns[1].Role)
		assert.Equal(t, "A ranking function.", turns[1].Content)
		assert.Equal(t, turns[0].Timestamp, turns[1].Timestamp)
		assert.Equal(t, "1700000000.000000", turns[0].Timestamp)
	})

	t.Run("EmptyAnswerOmitsAgentRow", func(t *testing.T) {
		store := newTestSQLite(t)

		require.NoError(t, store.Store(ctx, "alice", "hello", ""))

		turns, err := store.FetchHistory(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, types.ConversationRoleUser, turns[0].Role)
	})

	t.Run("LimitKeepsMostRecentChronologically", func(t *testing.T) {
		store := newTestSQLite(t)
		store.now = clock(time.Unix(1700000000, 0))

		require.NoError(t, store.Store(ctx, "alice", "q1", "a1"))
		require.NoError(t, store.Store(ctx, "alice", "q2", "a2"))
		require.NoError(t, store.Store(ctx, "alice", "q3", "a3"))

		turns, err := store.FetchHistory(ctx, "alice", 3)
		require.NoError(t, err)
		require.Len(t, turns, 3)
		assert.Equal(t, []string{"a2", "q3", "a3"}, []string{turns[0].Content, turns[1].Content, turns[2].Content})
	})

	t.Run("UsersAreIsolated", func(t *testing.T) {
		store := newTestSQLite(t)

		require.NoError(t, store.Store(ctx, "alice", "mine", "ok"))
		require.NoError(t, store.Store(ctx, "bob", "his", "ok"))

		turns, err := store.FetchHistory(ctx, "bob", 10)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "his", turns[0].Content)
	})

	t.Run("NonPositiveLimit", func(t *testing.T) {
		store := newTestSQLite(t)
		require.NoError(t, store.Store(ctx, "alice", "q", "a"))

		turns, err := store.FetchHistory(ctx, "alice", 0)
		require.NoError(t, err)
		assert.NotNil(t, turns)
		assert.Empty(t, turns)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		store := newTestSQLite(t)

		turns, err := store.FetchHistory(ctx, "nobody", 10)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("PersistsAcrossReopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "conv.db")
		store, err := NewSQLiteStore(path, nil, nil)
		require.NoError(t, err)
		require.NoError(t, store.Store(ctx, "alice", "remember me", ""))
		require.NoError(t, store.Close())

		reopened, err := NewSQLiteStore(path, nil, nil)
		require.NoError(t, err)
		defer reopened.Close()

		turns, err := reopened.FetchHistory(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, "remember me", turns[0].Content)
	})

	t.Run("HealthCheck", func(t *testing.T) {
		store := newTestSQLite(t)
		assert.NoError(t, store.HealthCheck(ctx))
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := NewSQLiteStore("", nil, nil)
		assert.Error(t, err)
	})
}

func TestRedisHelpers(t *testing.T) {
	t.Run("Keys", func(t *testing.T) {
		assert.Equal(t, "conv:alice", historyKey("conv", "alice"))
		assert.Equal(t, "conv:alice:seq", seqKey("conv", "alice"))
	})

	t.Run("EncodeDecode", func(t *testing.T) {
		rows := newRows("alice", "q", "a", "1700000000.000000")
		members, err := encodeRows(rows, 7)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, float64(7), members[0].Score)
		assert.Equal(t, float64(8), members[1].Score)

		// ZREVRANGE returns newest first
		newestFirst := []string{members[1].Member.(string), members[0].Member.(string)}
		turns, err := decodeMembers(newestFirst)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, types.ConversationRoleUser, turns[0].Role)
		assert.Equal(t, "q", turns[0].Content)
		assert.Equal(t, types.ConversationRoleAgent, turns[1].Role)
		assert.Equal(t, "1700000000.000000", turns[1].Timestamp)
	})

	t.Run("DecodeRejectsGarbage", func(t *testing.T) {
		_, err := decodeMembers([]string{"not json"})
		assert.Error(t, err)
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("DEEPRESEARCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Redis tests require DEEPRESEARCH_TEST_REDIS_ADDR")
	}

	ctx := context.Background()
	prefix := "deepresearch:test:" + time.Now().Format("150405.000000")
	store, err := NewRedisStore(ctx, RedisOptions{Addr: addr, KeyPrefix: prefix}, logger.NewTestLogger(), nil)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer func() {
		store.client.Del(ctx, historyKey(prefix, "alice"), seqKey(prefix, "alice"))
		store.Close()
	}()

	require.NoError(t, store.Store(ctx, "alice", "q1", "a1"))
	require.NoError(t, store.Store(ctx, "alice", "q2", ""))

	turns, err := store.FetchHistory(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "a1", turns[0].Content)
	assert.Equal(t, "q2", turns[1].Content)
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(ctx, config.ConversationConfig{
		Backend:      types.BackendSQLite,
		DatabasePath: filepath.Join(t.TempDir(), "conv.db"),
	}, nil, nil)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &SQLiteStore{}, store)

	_, err = NewStore(ctx, config.ConversationConfig{Backend: "mongo"}, nil, nil)
	assert.Error(t, err)

	_, err = NewStore(ctx, config.ConversationConfig{Backend: types.BackendRedis}, nil, nil)
	assert.Error(t, err)
}
