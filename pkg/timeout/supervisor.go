// Package timeout schedules durable per-stage deadline signals.
//
// A deadline is not an in-process timer: arming writes a token row and
// publishes a StageTimeout message with a visibility delay on the bus. The
// orchestrator instance that handles the fired message may not be the process
// that armed it, and a restart between the two loses nothing.
package timeout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patternlab/checker/pkg/bus"
	"github.com/patternlab/checker/pkg/contracts"
)

// Token is the durable record of one armed deadline. At most one live token
// exists per (correlation id, stage); re-arming replaces the previous token,
// which orphans any already-scheduled message for it.
type Token struct {
	ID            string    `gorm:"primaryKey;size:36"`
	CorrelationID string    `gorm:"uniqueIndex:idx_timeout_stage;size:36;not null"`
	Stage         string    `gorm:"uniqueIndex:idx_timeout_stage;size:16;not null"`
	FiresAt       time.Time `gorm:"index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// Publisher is the bus surface the supervisor needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, opts ...bus.PublishOption) (string, error)
}

// Supervisor arms and disarms durable stage deadlines.
type Supervisor struct {
	db     *gorm.DB
	pub    Publisher
	logger *slog.Logger
}

// New creates a Supervisor on the given database and publisher.
func New(db *gorm.DB, pub Publisher) *Supervisor {
	return &Supervisor{db: db, pub: pub, logger: slog.Default()}
}

// Migrate creates the token table.
func (s *Supervisor) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Token{})
}

// Arm schedules a deadline signal for the stage. Any previous token for the
// same (correlation id, stage) is replaced, so the older scheduled message
// fires into nothing.
func (s *Supervisor) Arm(ctx context.Context, correlationID string, stage contracts.Stage, d time.Duration) error {
	token := &Token{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		Stage:         string(stage),
		FiresAt:       time.Now().Add(d),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("correlation_id = ? AND stage = ?", correlationID, stage).
			Delete(&Token{}).Error; err != nil {
			return err
		}
		return tx.Create(token).Error
	})
	if err != nil {
		return err
	}

	_, err = s.pub.Publish(ctx, contracts.TopicStageTimeout, &contracts.StageTimeout{
		CorrelationID: correlationID,
		Stage:         stage,
		TokenID:       token.ID,
	}, bus.WithDelay(d))
	if err != nil {
		return err
	}

	s.logger.Debug("stage deadline armed",
		"correlation_id", correlationID, "stage", stage, "fires_at", token.FiresAt)
	return nil
}

// Disarm cancels the live deadline for the stage, if any. Disarming an
// already-fired or never-armed deadline is a no-op.
func (s *Supervisor) Disarm(ctx context.Context, correlationID string, stage contracts.Stage) error {
	result := s.db.WithContext(ctx).
		Where("correlation_id = ? AND stage = ?", correlationID, stage).
		Delete(&Token{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.logger.Debug("stage deadline disarmed",
			"correlation_id", correlationID, "stage", stage)
	}
	return nil
}

// Fired consumes the token for a delivered StageTimeout message. It returns
// true exactly once per armed token: if the token was disarmed (the real
// outcome won the race) or already consumed, it returns false and the caller
// drops the signal.
func (s *Supervisor) Fired(ctx context.Context, tokenID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("id = ?", tokenID).
		Delete(&Token{})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
