package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWorker(t *testing.T, b *Bus) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(b, Concurrency(2), PollInterval(10*time.Millisecond))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitForStatus(t *testing.T, tr *GormTransport, msgID string, want MessageStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		msg, err := tr.GetMessage(context.Background(), msgID)
		if err != nil || msg == nil {
			return false
		}
		return msg.Status == want
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorker_StartWithoutSubscriptionsErrors(t *testing.T) {
	b, _ := newTestBus(t)
	w := NewWorker(b)
	err := w.Start(context.Background())
	assert.Error(t, err)
}

func TestWorker_DeliversAndCompletes(t *testing.T) {
	b, tr := newTestBus(t)

	var delivered atomic.Int32
	b.Subscribe("compile.requested", func(ctx context.Context, msg *Message) error {
		delivered.Add(1)
		return nil
	})
	startWorker(t, b)

	id, err := b.Publish(context.Background(), "compile.requested", &testPayload{Value: "go"})
	require.NoError(t, err)

	waitForStatus(t, tr, id, StatusDone)
	assert.EqualValues(t, 1, delivered.Load())
}

func TestWorker_DiscardDeadLettersImmediately(t *testing.T) {
	b, tr := newTestBus(t)

	var attempts atomic.Int32
	b.Subscribe("compile.requested", func(ctx context.Context, msg *Message) error {
		attempts.Add(1)
		return Discard(assert.AnError)
	})
	startWorker(t, b)

	id, err := b.Publish(context.Background(), "compile.requested", &testPayload{})
	require.NoError(t, err)

	waitForStatus(t, tr, id, StatusDead)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestWorker_TransientErrorSchedulesRedelivery(t *testing.T) {
	b, tr := newTestBus(t)

	b.Subscribe("compile.requested", func(ctx context.Context, msg *Message) error {
		return assert.AnError
	})
	startWorker(t, b)

	id, err := b.Publish(context.Background(), "compile.requested", &testPayload{})
	require.NoError(t, err)

	// After the first failed attempt the message is pending again with a
	// backoff visibility and the error recorded.
	require.Eventually(t, func() bool {
		msg, err := tr.GetMessage(context.Background(), id)
		if err != nil || msg == nil {
			return false
		}
		return msg.Status == StatusPending && msg.Attempt >= 1 && msg.LastError != ""
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorker_BackoffStaysPositiveAndCapped(t *testing.T) {
	b, _ := newTestBus(t)
	w := NewWorker(b)

	assert.Equal(t, 2*time.Second, w.calculateBackoff(1))
	assert.Equal(t, 32*time.Second, w.calculateBackoff(5))

	// Attempt counts up to the configured maximum must never shift past the
	// integer width into a negative, immediate retry.
	for _, attempt := range []int{6, 33, 64, 100} {
		backoff := w.calculateBackoff(attempt)
		assert.Equal(t, time.Minute, backoff, "attempt %d", attempt)
	}
}

func TestWorker_PanicInHandlerIsContained(t *testing.T) {
	b, tr := newTestBus(t)

	b.Subscribe("compile.requested", func(ctx context.Context, msg *Message) error {
		panic("handler exploded")
	})
	startWorker(t, b)

	id, err := b.Publish(context.Background(), "compile.requested", &testPayload{},
		WithMaxAttempts(1))
	require.NoError(t, err)

	waitForStatus(t, tr, id, StatusDead)
	msg, err := tr.GetMessage(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, msg.LastError, "panic")
}
