package bus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// lockDuration is how long a dequeued message stays invisible to other
// consumers before it is considered stale.
const lockDuration = 5 * time.Minute

// GormTransport implements Transport on any GORM-supported database.
type GormTransport struct {
	db *gorm.DB
}

// NewGormTransport creates a GORM-backed transport.
func NewGormTransport(db *gorm.DB) *GormTransport {
	return &GormTransport{db: db}
}

// DB returns the underlying database handle.
func (t *GormTransport) DB() *gorm.DB {
	return t.db
}

// Migrate creates the message table.
func (t *GormTransport) Migrate(ctx context.Context) error {
	return t.db.WithContext(ctx).AutoMigrate(&Message{})
}

// Enqueue persists a message for delivery.
func (t *GormTransport) Enqueue(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}

	if msg.DedupKey != "" {
		var count int64
		err := t.db.WithContext(ctx).
			Model(&Message{}).
			Where("dedup_key = ?", msg.DedupKey).
			Where("status IN ?", []MessageStatus{StatusPending, StatusInflight}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
	}

	return t.db.WithContext(ctx).Create(msg).Error
}

// Dequeue fetches and locks the next visible message on any of the topics.
// Returns (nil, nil) when nothing is due.
func (t *GormTransport) Dequeue(ctx context.Context, topics []string, consumerID string) (*Message, error) {
	var msg Message
	now := time.Now()
	lockUntil := now.Add(lockDuration)

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("topic IN ?", topics).
			Where("status = ?", StatusPending).
			Where("(visible_at IS NULL OR visible_at <= ?)", now).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("created_at ASC").
			First(&msg)

		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		msg.Status = StatusInflight
		msg.LockedBy = consumerID
		msg.LockedUntil = &lockUntil
		msg.Attempt++

		return tx.Save(&msg).Error
	})

	if err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, nil
	}
	return &msg, nil
}

// Complete marks a message as delivered. Validates that the consumer owns the
// lock before completing.
func (t *GormTransport) Complete(ctx context.Context, msgID string, consumerID string) error {
	result := t.db.WithContext(ctx).
		Model(&Message{}).
		Where("id = ? AND locked_by = ?", msgID, consumerID).
		Updates(map[string]any{
			"status":       StatusDone,
			"locked_by":    "",
			"locked_until": nil,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotOwned
	}
	return nil
}

// Fail records a delivery failure. With retryAt set the message becomes
// visible again at that time; otherwise it is dead-lettered.
func (t *GormTransport) Fail(ctx context.Context, msgID string, consumerID string, errMsg string, retryAt *time.Time) error {
	updates := map[string]any{
		"last_error":   errMsg,
		"locked_by":    "",
		"locked_until": nil,
	}

	if retryAt != nil {
		updates["status"] = StatusPending
		updates["visible_at"] = retryAt
	} else {
		updates["status"] = StatusDead
	}

	result := t.db.WithContext(ctx).
		Model(&Message{}).
		Where("id = ? AND locked_by = ?", msgID, consumerID).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotOwned
	}
	return nil
}

// ReleaseStaleLocks returns messages whose consumer disappeared mid-delivery
// to the pending state. At-least-once: such messages will be redelivered.
func (t *GormTransport) ReleaseStaleLocks(ctx context.Context, staleDuration time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleDuration)
	result := t.db.WithContext(ctx).
		Model(&Message{}).
		Where("status = ?", StatusInflight).
		Where("locked_until < ?", cutoff).
		Updates(map[string]any{
			"status":       StatusPending,
			"locked_by":    nil,
			"locked_until": nil,
		})
	return result.RowsAffected, result.Error
}

// GetMessage retrieves a message by ID. Returns (nil, nil) if absent.
func (t *GormTransport) GetMessage(ctx context.Context, msgID string) (*Message, error) {
	var msg Message
	err := t.db.WithContext(ctx).First(&msg, "id = ?", msgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// PendingOnTopic returns undelivered messages for a topic, oldest first.
func (t *GormTransport) PendingOnTopic(ctx context.Context, topic string, limit int) ([]*Message, error) {
	var msgs []*Message
	err := t.db.WithContext(ctx).
		Where("topic = ?", topic).
		Where("status = ?", StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}
