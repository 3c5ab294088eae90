package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// playerRecord is a single-row table; Slot is always 1.
type playerRecord struct {
	Slot      uint   `gorm:"primaryKey"`
	PlayerID  string `gorm:"not null"`
	UpdatedAt time.Time
}

func (playerRecord) TableName() string { return "quiz_player" }

const slot = 1

type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to postgres and migrates the player table.
func OpenGorm(ctx context.Context, dsn string) (*GormStore, error) {
	db, err := gorm.Open(pgdriver.New(pgdriver.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewGormStore(ctx, db)
}

// NewGormStore wraps an existing connection.
func NewGormStore(ctx context.Context, db *gorm.DB) (*GormStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&playerRecord{}); err != nil {
		return nil, fmt.Errorf("auto migration failed: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) PlayerID(ctx context.Context) (string, error) {
	var rec playerRecord
	err := s.db.WithContext(ctx).First(&rec, slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.PlayerID, nil
}

func (s *GormStore) SavePlayerID(ctx context.Context, id string) error {
	rec := playerRecord{Slot: slot, PlayerID: id}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot"}},
		DoUpdates: clause.AssignmentColumns([]string{"player_id", "updated_at"}),
	}).Create(&rec).Error
}

func (s *GormStore) ClearPlayerID(ctx context.Context) error {
	return s.db.WithContext(ctx).Delete(&playerRecord{}, slot).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
