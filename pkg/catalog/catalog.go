// Package catalog looks up design-pattern tasks. The pipeline treats the
// catalog as advisory: a missing task rejects a check up front, but transient
// lookup failures never fail a check in flight.
package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Task is one design-pattern exercise.
type Task struct {
	ID           string `gorm:"primaryKey;size:64"`
	Title        string `gorm:"size:255;not null"`
	PatternName  string `gorm:"size:64;index"`
	PatternTitle string `gorm:"size:255"`
}

// Catalog is the lookup surface the orchestrator and sequencer need.
type Catalog interface {
	// TaskExists reports whether the task id is known.
	TaskExists(ctx context.Context, taskID string) (bool, error)

	// TaskTitle returns the display name for a task.
	TaskTitle(ctx context.Context, taskID string) (string, error)

	// PatternTitle returns the design-pattern name a task targets.
	PatternTitle(ctx context.Context, taskID string) (string, error)
}

// ErrTaskNotFound is returned by title lookups for unknown tasks.
var ErrTaskNotFound = errors.New("catalog: task not found")

// GormCatalog implements Catalog on a relational task table.
type GormCatalog struct {
	db *gorm.DB
}

// NewGormCatalog creates a GORM-backed catalog.
func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

// Migrate creates the task table.
func (c *GormCatalog) Migrate(ctx context.Context) error {
	return c.db.WithContext(ctx).AutoMigrate(&Task{})
}

// Seed inserts or updates tasks. Intended for fixtures and examples.
func (c *GormCatalog) Seed(ctx context.Context, tasks ...Task) error {
	for i := range tasks {
		if err := c.db.WithContext(ctx).Save(&tasks[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (c *GormCatalog) get(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	err := c.db.WithContext(ctx).First(&t, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TaskExists implements Catalog.
func (c *GormCatalog) TaskExists(ctx context.Context, taskID string) (bool, error) {
	var count int64
	err := c.db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ?", taskID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// TaskTitle implements Catalog.
func (c *GormCatalog) TaskTitle(ctx context.Context, taskID string) (string, error) {
	t, err := c.get(ctx, taskID)
	if err != nil {
		return "", err
	}
	return t.Title, nil
}

// PatternTitle implements Catalog.
func (c *GormCatalog) PatternTitle(ctx context.Context, taskID string) (string, error) {
	t, err := c.get(ctx, taskID)
	if err != nil {
		return "", err
	}
	return t.PatternTitle, nil
}
