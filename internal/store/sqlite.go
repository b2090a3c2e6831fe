package store

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// messageRecord is the relational row shape. Rows are read back in ascending
// id order, so the autoincrement id carries the log sequence.
type messageRecord struct {
	ID        uint `gorm:"primaryKey"`
	Name      string
	Text      string
	Image     *string
	CreatedAt time.Time
}

func (messageRecord) TableName() string { return "messages" }

// SQLiteStore persists the message log in a relational messages table.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLiteStore opens (and migrates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&messageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate messages table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, msg Message) error {
	msg = stampTime(msg)
	record := messageRecord{
		Name:      msg.Name,
		Text:      msg.Text,
		Image:     msg.Image,
		CreatedAt: msg.At,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentHistory(ctx context.Context, limit int) ([]Message, error) {
	var records []messageRecord

	query := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	return lo.Reverse(lo.Map(records, func(r messageRecord, _ int) Message {
		return Message{Name: r.Name, Text: r.Text, Image: r.Image, At: r.CreatedAt}
	})), nil
}

func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("DELETE FROM messages").Error; err != nil {
		return fmt.Errorf("purge messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
