package store

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Entry is one row of the sqlite store
type Entry struct {
	Key       string `gorm:"primaryKey;column:slot"`
	Value     string
	UpdatedAt time.Time
}

// TableName overrides the gorm table name
func (Entry) TableName() string { return "kv_entries" }

// Sqlite stores values in a single sqlite table
type Sqlite struct {
	URL string

	db *gorm.DB
}

// NewSqlite opens (and migrates) the database at path
func NewSqlite(path string) (*Sqlite, error) {
	if path == "" {
		return nil, errors.New("'path' is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect sqlite database")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate sqlite database")
	}
	return &Sqlite{URL: path, db: db}, nil
}

func (s *Sqlite) Get(ctx context.Context, key string) (string, error) {
	var e Entry
	if err := s.db.WithContext(ctx).Where("slot = ?", key).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", errors.Wrapf(err, "failed to get %s", key)
	}
	return e.Value, nil
}

func (s *Sqlite) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Entry{Key: key, Value: value}).Error, "failed to set %s", key)
}

func (s *Sqlite) Remove(ctx context.Context, key string) error {
	return errors.Wrapf(s.db.WithContext(ctx).Where("slot = ?", key).Delete(&Entry{}).Error, "failed to remove %s", key)
}

// Close closes the database.
func (s *Sqlite) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
