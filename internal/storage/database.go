package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"faculty-weather/internal/telemetry"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Database is the local realtime store: one row per facility key plus an
// in-process fan-out to subscribers.
type Database struct {
	db  *gorm.DB
	hub *telemetry.Hub

	// serializes write+publish so subscribers never see values out of order
	mu sync.Mutex
}

func NewDatabase(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&FacilityReading{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db, hub: telemetry.NewHub()}, nil
}

// Update merges r under the facility key and notifies subscribers.
func (d *Database) Update(ctx context.Context, f telemetry.Facility, r telemetry.Reading) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}

	row := FacilityReading{
		Facility:     string(f),
		Temperature:  r.Temperature,
		Humidity:     r.Humidity,
		SoilMoisture: r.SoilMoisture,
		UpdatedAt:    r.UpdatedAt,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "facility"}},
		DoUpdates: clause.AssignmentColumns([]string{"temperature", "humidity", "soil_moisture", "updated_at"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to save %s reading: %w", f, result.Error)
	}

	d.hub.Publish(f, row.Reading())
	return nil
}

func (d *Database) GetReading(ctx context.Context, f telemetry.Facility) (*telemetry.Reading, error) {
	var row FacilityReading
	result := d.db.WithContext(ctx).Where("facility = ?", string(f)).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	r := row.Reading()
	return &r, nil
}

func (d *Database) ListReadings(ctx context.Context) ([]FacilityReading, error) {
	var rows []FacilityReading
	result := d.db.WithContext(ctx).Order("facility").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func (d *Database) Subscribe(ctx context.Context, f telemetry.Facility) (<-chan telemetry.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.GetReading(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s reading: %w", f, err)
	}
	return d.hub.Subscribe(ctx, f, current), nil
}

func (d *Database) Close() error {
	d.hub.Close()

	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ telemetry.Store = (*Database)(nil)
