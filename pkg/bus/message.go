package bus

import "time"

// MessageStatus represents the delivery state of a bus message.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusInflight MessageStatus = "inflight"
	StatusDone     MessageStatus = "done"
	StatusDead     MessageStatus = "dead"
)

// Message is one durable unit of delivery. VisibleAt implements the
// visibility delay: a message with a future VisibleAt is not dequeued until
// the clock passes it, which is how durable stage timeouts are scheduled.
type Message struct {
	ID          string        `gorm:"primaryKey;size:36"`
	Topic       string        `gorm:"index;size:255;not null"`
	Payload     []byte        `gorm:"type:bytes"`
	Status      MessageStatus `gorm:"index;size:20;default:'pending'"`
	Attempt     int           `gorm:"default:0"`
	MaxAttempts int           `gorm:"default:5"`
	LastError   string        `gorm:"type:text"`
	VisibleAt   *time.Time    `gorm:"index"`
	LockedBy    string        `gorm:"size:255"`
	LockedUntil *time.Time    `gorm:"index"`
	DedupKey    string        `gorm:"index;size:255"`
	CreatedAt   time.Time     `gorm:"autoCreateTime"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime"`
}
