package memory

import (
	"context"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/llm/llmtest"
	"github.com/memtensor/deepresearch/pkg/logger"
	"github.com/memtensor/deepresearch/pkg/types"
)

// fakeQdrant serves the subset of the Qdrant API the store uses
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]bool
	points      map[string]*qdrant.RetrievedPoint
	apiKeys     []string
	scrolls     int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{
		collections: make(map[string]bool),
		points:      make(map[string]*qdrant.RetrievedPoint),
	}
}

type fakePoints struct {
	qdrant.UnimplementedPointsServer
	*fakeQdrant
}

type fakeCollections struct {
	qdrant.UnimplementedCollectionsServer
	*fakeQdrant
}

func (f *fakeQdrant) recordKey(ctx context.Context) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		f.apiKeys = append(f.apiKeys, md.Get("api-key")...)
	}
}

func (f fakeCollections) CollectionExists(ctx context.Context, req *qdrant.CollectionExistsRequest) (*qdrant.CollectionExistsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(ctx)
	return &qdrant.CollectionExistsResponse{Result: &qdrant.CollectionExists{Exists: f.collections[req.CollectionName]}}, nil
}

func (f fakeCollections) Create(ctx context.Context, req *qdrant.CreateCollection) (*qdrant.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[req.CollectionName] = true
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

func (f fakeCollections) List(ctx context.Context, req *qdrant.ListCollectionsRequest) (*qdrant.ListCollectionsResponse, error) {
	return &qdrant.ListCollectionsResponse{}, nil
}

func (f fakePoints) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.collections[req.CollectionName] {
		return nil, status.Error(codes.NotFound, "collection not found")
	}
	for _, p := range req.Points {
		f.points[p.Id.GetUuid()] = &qdrant.RetrievedPoint{Id: p.Id, Payload: p.Payload}
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func (f fakePoints) Get(ctx context.Context, req *qdrant.GetPoints) (*qdrant.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.collections[req.CollectionName] {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", req.CollectionName)
	}
	resp := &qdrant.GetResponse{}
	for _, id := range req.Ids {
		if p, ok := f.points[id.GetUuid()]; ok {
			resp.Result = append(resp.Result, p)
		}
	}
	return resp, nil
}

func (f fakePoints) Scroll(ctx context.Context, req *qdrant.ScrollPoints) (*qdrant.ScrollResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls++

	ids := make([]string, 0, len(f.points))
	for id, p := range f.points {
		if matches(p, req.Filter) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if req.Offset != nil {
		start = sort.SearchStrings(ids, req.Offset.GetUuid())
	}
	limit := int(req.GetLimit())
	resp := &qdrant.ScrollResponse{}
	for i := start; i < len(ids) && len(resp.Result) < limit; i++ {
		resp.Result = append(resp.Result, f.points[ids[i]])
		if len(resp.Result) == limit && i+1 < len(ids) {
			resp.NextPageOffset = qdrant.NewID(ids[i+1])
		}
	}
	return resp, nil
}

func matches(p *qdrant.RetrievedPoint, filter *qdrant.Filter) bool {
	for _, c := range filter.GetMust() {
		field := c.GetField()
		if p.Payload[field.GetKey()].GetStringValue() != field.GetMatch().GetKeyword() {
			return false
		}
	}
	return true
}

func newTestQdrantStore(t *testing.T, fake *fakeQdrant, cfg config.MemoryConfig) *QdrantStore {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	qdrant.RegisterPointsServer(server, fakePoints{fakeQdrant: fake})
	qdrant.RegisterCollectionsServer(server, fakeCollections{fakeQdrant: fake})
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	store, err := newQdrantStore(context.Background(), "passthrough:///bufnet", cfg,
		llmtest.NewScriptedLLM(""), logger.NewNopLogger(), nil, dialer)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testQdrantConfig() config.MemoryConfig {
	cfg := config.DefaultConfig().Memory
	cfg.Backend = types.BackendQdrant
	cfg.Dimension = 2
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

func TestQdrantStore(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesCollection", func(t *testing.T) {
		fake := newFakeQdrant()
		store := newTestQdrantStore(t, fake, testQdrantConfig())
		assert.True(t, fake.collections["mem0"])
		assert.NoError(t, store.HealthCheck(ctx))
	})

	t.Run("AddGetAll", func(t *testing.T) {
		fake := newFakeQdrant()
		store := newTestQdrantStore(t, fake, testQdrantConfig())

		res, err := store.Add(ctx, types.UserMessage("Paris is the capital of France"), "alice")
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, types.MemoryEventAdd, res.Results[0].Event)

		_, err = store.Add(ctx, types.UserMessage("Bob likes tea"), "bob")
		require.NoError(t, err)

		got, err := store.Get(ctx, res.Results[0].ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Paris is the capital of France", got.Memory)
		assert.Equal(t, "alice", got.UserID)
		assert.False(t, got.CreatedAt.IsZero())
		assert.Equal(t, "user", got.Metadata["role"])

		all, err := store.GetAll(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, got.ID, all[0].ID)
	})

	t.Run("DuplicateIsNone", func(t *testing.T) {
		fake := newFakeQdrant()
		store := newTestQdrantStore(t, fake, testQdrantConfig())

		first, err := store.Add(ctx, types.UserMessage("same"), "u")
		require.NoError(t, err)
		second, err := store.Add(ctx, types.UserMessage("same"), "u")
		require.NoError(t, err)
		assert.Equal(t, types.MemoryEventNone, second.Results[0].Event)
		assert.Equal(t, first.Results[0].ID, second.Results[0].ID)
		assert.Len(t, fake.points, 1)
	})

	t.Run("MissingIsNil", func(t *testing.T) {
		store := newTestQdrantStore(t, newFakeQdrant(), testQdrantConfig())

		got, err := store.Get(ctx, "not-a-uuid")
		assert.NoError(t, err)
		assert.Nil(t, got)

		got, err = store.Get(ctx, "7f1e4c2a-3b7d-4f5e-9a1b-2c3d4e5f6a7b")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("MissingCollectionIsNotFound", func(t *testing.T) {
		fake := newFakeQdrant()
		cfg := testQdrantConfig()
		store := newTestQdrantStore(t, fake, cfg)
		fake.mu.Lock()
		delete(fake.collections, cfg.Collection)
		fake.mu.Unlock()

		got, err := store.Get(ctx, "7f1e4c2a-3b7d-4f5e-9a1b-2c3d4e5f6a7b")
		require.Error(t, err)
		assert.Nil(t, got)
		assert.True(t, errors.IsNotFound(err))
		assert.True(t, errors.HasCode(err, errors.ErrCodeMemoryNotFound))
	})

	t.Run("GetAllPages", func(t *testing.T) {
		fake := newFakeQdrant()
		cfg := testQdrantConfig()
		cfg.ScrollBatchLimit = 2
		store := newTestQdrantStore(t, fake, cfg)

		for _, text := range []string{"one", "two", "three", "four", "five"} {
			_, err := store.Add(ctx, types.UserMessage(text), "u")
			require.NoError(t, err)
		}

		fake.mu.Lock()
		fake.scrolls = 0
		fake.mu.Unlock()

		all, err := store.GetAll(ctx, "u")
		require.NoError(t, err)
		assert.Len(t, all, 5)
		assert.Equal(t, 3, fake.scrolls)
	})

	t.Run("APIKeyMetadata", func(t *testing.T) {
		fake := newFakeQdrant()
		cfg := testQdrantConfig()
		cfg.QdrantAPIKey = "secret"
		newTestQdrantStore(t, fake, cfg)
		assert.Contains(t, fake.apiKeys, "secret")
	})
}

func TestNewQdrantStoreValidation(t *testing.T) {
	cfg := testQdrantConfig()
	_, err := NewQdrantStore(context.Background(), cfg, nil, nil, nil)
	assert.Error(t, err)

	cfg.Collection = ""
	_, err = NewQdrantStore(context.Background(), cfg, llmtest.NewScriptedLLM(""), nil, nil)
	assert.Error(t, err)
}
