package timeout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/patternlab/checker/pkg/bus"
	"github.com/patternlab/checker/pkg/contracts"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *bus.GormTransport) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	transport := bus.NewGormTransport(db)
	require.NoError(t, transport.Migrate(context.Background()))

	s := New(db, bus.New(transport))
	require.NoError(t, s.Migrate(context.Background()))
	return s, transport
}

func loadToken(t *testing.T, s *Supervisor, correlationID string, stage contracts.Stage) *Token {
	t.Helper()
	var token Token
	err := s.db.First(&token, "correlation_id = ? AND stage = ?", correlationID, string(stage)).Error
	if err != nil {
		require.ErrorIs(t, err, gorm.ErrRecordNotFound)
		return nil
	}
	return &token
}

func TestSupervisor_ArmWritesTokenAndDelayedSignal(t *testing.T) {
	s, transport := newTestSupervisor(t)
	ctx := context.Background()

	before := time.Now()
	require.NoError(t, s.Arm(ctx, "corr-1", contracts.StageCompile, 2*time.Minute))

	token := loadToken(t, s, "corr-1", contracts.StageCompile)
	require.NotNil(t, token)
	assert.WithinDuration(t, before.Add(2*time.Minute), token.FiresAt, 5*time.Second)

	// The signal message exists but is not yet visible to consumers.
	msg, err := transport.Dequeue(ctx, []string{contracts.TopicStageTimeout}, "test-consumer")
	require.NoError(t, err)
	assert.Nil(t, msg)

	pending, err := transport.PendingOnTopic(ctx, contracts.TopicStageTimeout, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].VisibleAt)
	assert.WithinDuration(t, before.Add(2*time.Minute), *pending[0].VisibleAt, 5*time.Second)

	var ev contracts.StageTimeout
	require.NoError(t, json.Unmarshal(pending[0].Payload, &ev))
	assert.Equal(t, "corr-1", ev.CorrelationID)
	assert.Equal(t, contracts.StageCompile, ev.Stage)
	assert.Equal(t, token.ID, ev.TokenID)
}

func TestSupervisor_RearmReplacesToken(t *testing.T) {
	s, _ := newTestSupervisor(t)
	ctx := context.Background()

	require.NoError(t, s.Arm(ctx, "corr-2", contracts.StageVerify, time.Minute))
	first := loadToken(t, s, "corr-2", contracts.StageVerify)
	require.NotNil(t, first)

	require.NoError(t, s.Arm(ctx, "corr-2", contracts.StageVerify, time.Minute))
	second := loadToken(t, s, "corr-2", contracts.StageVerify)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)

	// The replaced token's scheduled signal now fires into nothing.
	fired, err := s.Fired(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, fired)

	fired, err = s.Fired(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestSupervisor_FiredConsumesTokenOnce(t *testing.T) {
	s, _ := newTestSupervisor(t)
	ctx := context.Background()

	require.NoError(t, s.Arm(ctx, "corr-3", contracts.StageReview, time.Minute))
	token := loadToken(t, s, "corr-3", contracts.StageReview)
	require.NotNil(t, token)

	fired, err := s.Fired(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = s.Fired(ctx, token.ID)
	require.NoError(t, err)
	assert.False(t, fired, "a token fires at most once")
}

func TestSupervisor_DisarmDropsToken(t *testing.T) {
	s, _ := newTestSupervisor(t)
	ctx := context.Background()

	require.NoError(t, s.Arm(ctx, "corr-4", contracts.StageCompile, time.Minute))
	require.NoError(t, s.Disarm(ctx, "corr-4", contracts.StageCompile))

	token := loadToken(t, s, "corr-4", contracts.StageCompile)
	assert.Nil(t, token)

	// The orphaned scheduled signal finds no token.
	require.NoError(t, s.Disarm(ctx, "corr-4", contracts.StageCompile))
}

func TestSupervisor_DisarmUnknownIsNoOp(t *testing.T) {
	s, _ := newTestSupervisor(t)
	assert.NoError(t, s.Disarm(context.Background(), "never-armed", contracts.StageReview))
}

func TestSupervisor_StagesAreIndependent(t *testing.T) {
	s, _ := newTestSupervisor(t)
	ctx := context.Background()

	require.NoError(t, s.Arm(ctx, "corr-5", contracts.StageCompile, time.Minute))
	require.NoError(t, s.Arm(ctx, "corr-5", contracts.StageVerify, time.Minute))

	require.NoError(t, s.Disarm(ctx, "corr-5", contracts.StageCompile))

	assert.Nil(t, loadToken(t, s, "corr-5", contracts.StageCompile))
	assert.NotNil(t, loadToken(t, s, "corr-5", contracts.StageVerify))
}
