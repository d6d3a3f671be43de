package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

// Payload keys of a memory point
const (
	payloadUserID    = "user_id"
	payloadMemory    = "memory"
	payloadRole      = "role"
	payloadCreatedAt = "created_at"
	payloadUpdatedAt = "updated_at"
)

// QdrantStore keeps memories as points of a Qdrant collection. Point
// vectors come from the embedder; user scoping is a payload filter.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	cfg         config.MemoryConfig
	embedder    interfaces.Embedder
	logger      interfaces.Logger
	metrics     interfaces.Metrics
}

// NewQdrantStore connects to the configured Qdrant instance and makes sure
// the collection exists
func NewQdrantStore(ctx context.Context, cfg config.MemoryConfig, embedder interfaces.Embedder, logger interfaces.Logger, m interfaces.Metrics, opts ...grpc.DialOption) (*QdrantStore, error) {
	target := fmt.Sprintf("%s:%d", cfg.QdrantHost, cfg.QdrantPort)
	return newQdrantStore(ctx, target, cfg, embedder, logger, m, opts...)
}

func newQdrantStore(ctx context.Context, target string, cfg config.MemoryConfig, embedder interfaces.Embedder, logger interfaces.Logger, m interfaces.Metrics, opts ...grpc.DialOption) (*QdrantStore, error) {
	if embedder == nil {
		return nil, errors.NewConfigInvalidError("qdrant memory store requires an embedder")
	}
	if cfg.Collection == "" {
		return nil, errors.NewMissingFieldError("collection")
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, errors.NewConnectionFailedError(target).WithDetail("error", err.Error())
	}

	s := &QdrantStore{
		conn:        conn,
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		cfg:         cfg,
		embedder:    embedder,
		logger:      logger,
		metrics:     m,
	}

	if err := s.connect(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// connect waits for the server with exponential backoff, then creates the
// collection when missing
func (s *QdrantStore) connect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = s.cfg.ConnectTimeout
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = 10 * time.Second
	}

	var exists bool
	operation := func() error {
		resp, err := s.collections.CollectionExists(s.rpcContext(ctx), &qdrant.CollectionExistsRequest{
			CollectionName: s.cfg.Collection,
		})
		if err != nil {
			return err
		}
		exists = resp.GetResult().GetExists()
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return errors.NewConnectionFailedError("qdrant").WithDetail("error", err.Error())
	}

	if exists {
		return nil
	}

	dim := s.cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}
	_, err := s.collections.Create(s.rpcContext(ctx), &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errors.NewDatabaseErrorWithCause("failed to create collection "+s.cfg.Collection, err)
	}

	if s.logger != nil {
		s.logger.Info("Created memory collection", map[string]interface{}{
			"collection": s.cfg.Collection,
			"dimension":  dim,
		})
	}
	return nil
}

func (s *QdrantStore) rpcContext(ctx context.Context) context.Context {
	if s.cfg.QdrantAPIKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.cfg.QdrantAPIKey)
}

// Add embeds and stores every non-empty entry as a memory for userID
func (s *QdrantStore) Add(ctx context.Context, entries types.MessageList, userID string) (*types.MemoryWriteResult, error) {
	start := time.Now()
	result, err := s.add(ctx, entries, userID)
	observe(s.metrics, "qdrant", "add", start, err)
	return result, err
}

func (s *QdrantStore) add(ctx context.Context, entries types.MessageList, userID string) (*types.MemoryWriteResult, error) {
	if userID == "" {
		return nil, errors.NewMissingFieldError("user_id")
	}

	result := &types.MemoryWriteResult{Results: []types.MemoryWriteEntry{}}
	var points []*qdrant.PointStruct
	for _, entry := range entries {
		text := strings.TrimSpace(entry.Content)
		if text == "" {
			continue
		}

		existing, err := s.find(ctx, userID, text)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			result.Results = append(result.Results, types.MemoryWriteEntry{
				ID:     existing.ID,
				Memory: existing.Memory,
				Event:  types.MemoryEventNone,
			})
			continue
		}

		vector, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, errors.NewMemoryErrorWithCause("failed to embed memory", err)
		}

		record := types.NewMemoryRecord(userID, text)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(record.ID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadUserID:    userID,
				payloadMemory:    text,
				payloadRole:      string(entry.Role),
				payloadCreatedAt: record.CreatedAt.Format(time.RFC3339Nano),
			}),
		})
		result.Results = append(result.Results, types.MemoryWriteEntry{
			ID:     record.ID,
			Memory: text,
			Event:  types.MemoryEventAdd,
		})
	}

	if len(points) == 0 {
		return result, nil
	}

	_, err := s.points.Upsert(s.rpcContext(ctx), &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return nil, errors.NewDatabaseErrorWithCause("failed to upsert memories", err)
	}

	if s.logger != nil {
		s.logger.Info("Added memories", map[string]interface{}{
			"user_id": userID,
			"added":   len(points),
		})
	}
	return result, nil
}

func (s *QdrantStore) find(ctx context.Context, userID, text string) (*types.MemoryRecord, error) {
	resp, err := s.points.Scroll(s.rpcContext(ctx), &qdrant.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			qdrant.NewMatchKeyword(payloadUserID, userID),
			qdrant.NewMatchKeyword(payloadMemory, text),
		}},
		Limit:       qdrant.PtrOf(uint32(1)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errors.NewQueryFailedError("scroll", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	return pointToRecord(resp.GetResult()[0]), nil
}

// Get returns the memory with id, or nil when there is none
func (s *QdrantStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	start := time.Now()
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	resp, err := s.points.Get(s.rpcContext(ctx), &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	observe(s.metrics, "qdrant", "get", start, err)
	if status.Code(err) == codes.NotFound {
		return nil, errors.NewMemoryNotFoundError(id).WithDetail("error", err.Error())
	}
	if err != nil {
		return nil, errors.NewQueryFailedError("get", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	return pointToRecord(resp.GetResult()[0]), nil
}

// GetAll pages through the user's memories and returns them oldest first
func (s *QdrantStore) GetAll(ctx context.Context, userID string) ([]*types.MemoryRecord, error) {
	start := time.Now()
	out, err := s.getAll(ctx, userID)
	observe(s.metrics, "qdrant", "get_all", start, err)
	return out, err
}

func (s *QdrantStore) getAll(ctx context.Context, userID string) ([]*types.MemoryRecord, error) {
	limit := s.cfg.ScrollBatchLimit
	if limit <= 0 {
		limit = 256
	}

	out := make([]*types.MemoryRecord, 0)
	var offset *qdrant.PointId
	for {
		resp, err := s.points.Scroll(s.rpcContext(ctx), &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Filter: &qdrant.Filter{Must: []*qdrant.Condition{
				qdrant.NewMatchKeyword(payloadUserID, userID),
			}},
			Offset:      offset,
			Limit:       qdrant.PtrOf(uint32(limit)),
			WithPayload: qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, errors.NewQueryFailedError("scroll", err)
		}
		for _, p := range resp.GetResult() {
			out = append(out, pointToRecord(p))
		}

		offset = resp.GetNextPageOffset()
		if offset == nil || len(resp.GetResult()) == 0 {
			break
		}
	}

	sortRecords(out)
	return out, nil
}

// HealthCheck lists collections to verify the connection
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := s.collections.List(s.rpcContext(ctx), &qdrant.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// Close closes the gRPC connection
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func pointToRecord(p *qdrant.RetrievedPoint) *types.MemoryRecord {
	id := p.GetId().GetUuid()
	if id == "" {
		id = fmt.Sprintf("%d", p.GetId().GetNum())
	}

	record := &types.MemoryRecord{ID: id, Metadata: make(map[string]interface{})}
	for key, value := range p.GetPayload() {
		str := value.GetStringValue()
		switch key {
		case payloadUserID:
			record.UserID = str
		case payloadMemory:
			record.Memory = str
		case payloadCreatedAt:
			if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
				record.CreatedAt = t
			}
		case payloadUpdatedAt:
			if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
				record.UpdatedAt = &t
			}
		default:
			record.Metadata[key] = str
		}
	}
	return record
}
