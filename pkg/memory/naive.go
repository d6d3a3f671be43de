package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

// NaiveFilename is the file the naive store persists to inside its directory
const NaiveFilename = "memories.json"

// NaiveStore keeps memories in a map and persists them as one JSON file
type NaiveStore struct {
	mu       sync.RWMutex
	path     string
	memories map[string]*types.MemoryRecord
	closed   bool
	logger   interfaces.Logger
	metrics  interfaces.Metrics
}

// NewNaiveStore opens the store persisted under dir, loading existing
// memories. An empty dir keeps everything in memory.
func NewNaiveStore(dir string, logger interfaces.Logger, m interfaces.Metrics) (*NaiveStore, error) {
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	s := &NaiveStore{
		memories: make(map[string]*types.MemoryRecord),
		logger:   logger,
		metrics:  m,
	}
	if dir != "" {
		s.path = filepath.Join(dir, NaiveFilename)
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add stores every non-empty entry as a memory for userID. Entries whose
// text is already stored for the user are reported with event NONE.
func (s *NaiveStore) Add(ctx context.Context, entries types.MessageList, userID string) (*types.MemoryWriteResult, error) {
	start := time.Now()
	result, err := s.add(entries, userID)
	s.observe("add", start, err)
	return result, err
}

func (s *NaiveStore) add(entries types.MessageList, userID string) (*types.MemoryWriteResult, error) {
	if userID == "" {
		return nil, errors.NewMissingFieldError("user_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.NewMemoryError("memory store is closed")
	}

	result := &types.MemoryWriteResult{Results: []types.MemoryWriteEntry{}}
	var added []string
	for _, entry := range entries {
		text := strings.TrimSpace(entry.Content)
		if text == "" {
			continue
		}
		if existing := s.findLocked(userID, text); existing != nil {
			result.Results = append(result.Results, types.MemoryWriteEntry{
				ID:     existing.ID,
				Memory: existing.Memory,
				Event:  types.MemoryEventNone,
			})
			continue
		}

		record := types.NewMemoryRecord(userID, text)
		record.Metadata["role"] = string(entry.Role)
		s.memories[record.ID] = record
		added = append(added, record.ID)
		result.Results = append(result.Results, types.MemoryWriteEntry{
			ID:     record.ID,
			Memory: record.Memory,
			Event:  types.MemoryEventAdd,
		})
	}

	if len(added) > 0 {
		if err := s.dumpLocked(); err != nil {
			for _, id := range added {
				delete(s.memories, id)
			}
			return nil, err
		}
	}

	if s.logger != nil {
		s.logger.Info("Added memories", map[string]interface{}{
			"user_id": userID,
			"added":   len(added),
		})
	}
	return result, nil
}

func (s *NaiveStore) findLocked(userID, text string) *types.MemoryRecord {
	for _, m := range s.memories {
		if m.UserID == userID && m.Memory == text {
			return m
		}
	}
	return nil
}

// Get returns the memory with id, or nil when there is none
func (s *NaiveStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewMemoryError("memory store is closed")
	}

	m, ok := s.memories[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// GetAll returns the user's memories, oldest first
func (s *NaiveStore) GetAll(ctx context.Context, userID string) ([]*types.MemoryRecord, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewMemoryError("memory store is closed")
	}

	out := make([]*types.MemoryRecord, 0)
	for _, m := range s.memories {
		if m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortRecords(out)
	s.observe("get_all", start, nil)
	return out, nil
}

// HealthCheck reports whether the store is open
func (s *NaiveStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewMemoryError("memory store is closed")
	}
	return nil
}

// Close persists the memories and closes the store
func (s *NaiveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.dumpLocked()
}

func (s *NaiveStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		if s.logger != nil {
			s.logger.Info("Memory file not found, starting empty", map[string]interface{}{"file_path": s.path})
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read memory file: %w", err)
	}

	var records []*types.MemoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse memory file: %w", err)
	}
	for _, r := range records {
		if r != nil && r.ID != "" {
			s.memories[r.ID] = r
		}
	}

	if s.logger != nil {
		s.logger.Info("Loaded memories", map[string]interface{}{
			"count":     len(s.memories),
			"file_path": s.path,
		})
	}
	return nil
}

// dumpLocked writes all memories to a temp file and renames it over the
// store file. Caller holds mu.
func (s *NaiveStore) dumpLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	records := make([]*types.MemoryRecord, 0, len(s.memories))
	for _, m := range s.memories {
		records = append(records, m)
	}
	sortRecords(records)

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal memories: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write memory file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace memory file: %w", err)
	}
	return nil
}

func (s *NaiveStore) observe(op string, start time.Time, err error) {
	observe(s.metrics, "naive", op, start, err)
}

func sortRecords(records []*types.MemoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

func observe(m interfaces.Metrics, store, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Counter(metrics.StoreOperations, 1, map[string]string{"store": store, "op": op, "status": status})
	m.Timer(metrics.StoreLatency, time.Since(start).Seconds(), map[string]string{"store": store, "op": op})
}
