package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no row matches the requested id.
var ErrNotFound = errors.New("record not found")

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	gormLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return gorm.Open(
		postgres.New(postgres.Config{DSN: dsn}),
		&gorm.Config{Logger: gormLogger},
	)
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&ProcessedAgentData{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Create writes the record and fills in the assigned id. The single insert is
// its own transaction; on failure nothing is written.
func (r *Repo) Create(ctx context.Context, rec *ProcessedAgentData) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repo) Get(ctx context.Context, id int64) (*ProcessedAgentData, error) {
	var row ProcessedAgentData
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &row, nil
}

// List returns all stored records ordered by id.
func (r *Repo) List(ctx context.Context) ([]ProcessedAgentData, error) {
	rows := []ProcessedAgentData{}
	if err := r.db.WithContext(ctx).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Update replaces every field of the row except the id and returns the row as
// stored afterwards. The existence check and write share one transaction.
func (r *Repo) Update(ctx context.Context, id int64, rec *ProcessedAgentData) (*ProcessedAgentData, error) {
	var out ProcessedAgentData
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ProcessedAgentData
		if err := tx.First(&existing, "id = ?", id).Error; err != nil {
			return mapNotFound(err)
		}
		// A map forces zero values (x=0 etc.) through; gorm skips them on
		// struct updates.
		updates := map[string]any{
			"road_state": rec.RoadState,
			"user_id":    rec.UserID,
			"x":          rec.X,
			"y":          rec.Y,
			"z":          rec.Z,
			"latitude":   rec.Latitude,
			"longitude":  rec.Longitude,
			"timestamp":  rec.Timestamp,
		}
		if err := tx.Model(&ProcessedAgentData{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&out, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the row and returns it as it existed immediately before
// deletion.
func (r *Repo) Delete(ctx context.Context, id int64) (*ProcessedAgentData, error) {
	var out ProcessedAgentData
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, "id = ?", id).Error; err != nil {
			return mapNotFound(err)
		}
		return tx.Delete(&ProcessedAgentData{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
