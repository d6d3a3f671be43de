package conversation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

// Row is one persisted message of the conversation history
type Row struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"column:user_id;index:idx_conversation_user_ts,priority:1;not null"`
	Role      string `gorm:"column:role;not null"`
	Content   string `gorm:"column:content;not null"`
	Timestamp string `gorm:"column:timestamp;index:idx_conversation_user_ts,priority:2;not null"`
}

// TableName pins the conversation_history table name
func (Row) TableName() string {
	return "conversation_history"
}

func (r Row) turn() types.ConversationTurn {
	return types.ConversationTurn{
		Role:      types.ConversationRole(r.Role),
		Content:   r.Content,
		Timestamp: r.Timestamp,
	}
}

// SQLiteStore persists conversation turns in a SQLite database
type SQLiteStore struct {
	db      *gorm.DB
	path    string
	now     func() time.Time
	logger  interfaces.Logger
	metrics interfaces.Metrics
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates the conversation table
func NewSQLiteStore(path string, logger interfaces.Logger, m interfaces.Metrics) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.NewMissingFieldError("database_path")
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.NewDatabaseErrorWithCause("failed to connect to database", err)
	}

	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, errors.NewDatabaseErrorWithCause("failed to migrate database", err)
	}

	if logger != nil {
		logger.Info("Conversation database ready", map[string]interface{}{"path": path})
	}

	return &SQLiteStore{
		db:      db,
		path:    path,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}, nil
}

// FetchHistory returns at most limit of the user's most recent turns in
// chronological order. Rows sharing a timestamp keep insertion order.
func (s *SQLiteStore) FetchHistory(ctx context.Context, userID string, limit int) ([]types.ConversationTurn, error) {
	start := time.Now()
	turns, err := s.fetch(ctx, userID, limit)
	observe(s.metrics, "sqlite", "fetch_history", start, err)
	return turns, err
}

func (s *SQLiteStore) fetch(ctx context.Context, userID string, limit int) ([]types.ConversationTurn, error) {
	if limit <= 0 {
		return []types.ConversationTurn{}, nil
	}

	var rows []Row
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.NewQueryFailedError("fetch conversation history", err)
	}

	turns := make([]types.ConversationTurn, len(rows))
	for i, row := range rows {
		turns[len(rows)-1-i] = row.turn()
	}
	return turns, nil
}

// Store appends the prompt as a user turn and, when non-empty, the answer as
// an agent turn. Both rows share one timestamp and are written atomically.
func (s *SQLiteStore) Store(ctx context.Context, userID, prompt, answer string) error {
	start := time.Now()
	err := s.store(ctx, userID, prompt, answer)
	observe(s.metrics, "sqlite", "store", start, err)
	if err != nil && s.logger != nil {
		s.logger.Error("Failed to store conversation", err, map[string]interface{}{"user_id": userID})
	}
	return err
}

func (s *SQLiteStore) store(ctx context.Context, userID, prompt, answer string) error {
	rows := newRows(userID, prompt, answer, types.FormatUnixTimestamp(s.now()))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return errors.NewDatabaseErrorWithCause("failed to store conversation", err)
	}
	return nil
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newRows(userID, prompt, answer, ts string) []Row {
	rows := []Row{{
		UserID:    userID,
		Role:      string(types.ConversationRoleUser),
		Content:   prompt,
		Timestamp: ts,
	}}
	if answer != "" {
		rows = append(rows, Row{
			UserID:    userID,
			Role:      string(types.ConversationRoleAgent),
			Content:   answer,
			Timestamp: ts,
		})
	}
	return rows
}
