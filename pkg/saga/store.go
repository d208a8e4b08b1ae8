package saga

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"gorm.io/gorm"
)

// lockStripes bounds memory for per-key serialization. Collisions only cost
// unnecessary serialization between unrelated checks, never lost updates.
const lockStripes = 64

// Store persists Checking records. Updates for the same correlation id are
// serialized through Lock; different ids proceed concurrently.
type Store struct {
	db    *gorm.DB
	locks [lockStripes]sync.Mutex
}

// NewStore creates a Store on the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the checking table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Checking{})
}

// Lock acquires the single-writer lock for a correlation id and returns the
// release function. Every load-transition-save cycle runs under it.
func (s *Store) Lock(correlationID string) func() {
	h := fnv.New32a()
	h.Write([]byte(correlationID))
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// Load retrieves a Checking by correlation id. Returns (nil, nil) if absent.
func (s *Store) Load(ctx context.Context, correlationID string) (*Checking, error) {
	var c Checking
	err := s.db.WithContext(ctx).First(&c, "correlation_id = ?", correlationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Save persists the record.
func (s *Store) Save(ctx context.Context, c *Checking) error {
	return s.db.WithContext(ctx).Save(c).Error
}

// CreateIfAbsent inserts a new Checking in the Compiling state, or returns
// the existing record when the correlation id was already seen (replayed
// StartChecking). The second return value reports whether a record was
// created.
func (s *Store) CreateIfAbsent(ctx context.Context, correlationID, userID, taskID, taskName string) (*Checking, bool, error) {
	unlock := s.Lock(correlationID)
	defer unlock()

	existing, err := s.Load(ctx, correlationID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	c := &Checking{
		CorrelationID: correlationID,
		UserID:        userID,
		TaskID:        taskID,
		TaskName:      taskName,
		Status:        StatusCompiling,
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// ListByUser returns a user's checks, newest first. Serves the progress UI
// collaborator; not used by the pipeline itself.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*Checking, error) {
	var checks []*Checking
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&checks).Error
	return checks, err
}
