package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Concurrency   int
	PollInterval  time.Duration
	ConsumerID    string
	SweepSchedule string
	StaleAfter    time.Duration
	StorageRetry  *RetryConfig
	DequeueRetry  *RetryConfig
}

// WorkerOption configures a Worker.
type WorkerOption interface {
	applyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) applyWorker(c *WorkerConfig) { f(c) }

// Concurrency sets how many messages are processed in parallel.
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if n < 1 {
			n = 1
		}
		c.Concurrency = n
	})
}

// PollInterval sets how often the worker polls for due messages.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.PollInterval = d
	})
}

// SweepSchedule sets the cron expression for the stale-lock sweep.
func SweepSchedule(expr string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.SweepSchedule = expr
	})
}

// Worker polls the transport and dispatches messages to bus handlers.
type Worker struct {
	bus    *Bus
	config WorkerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWorker creates a worker for the given bus.
func NewWorker(b *Bus, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Concurrency:   10,
		PollInterval:  100 * time.Millisecond,
		ConsumerID:    uuid.New().String(),
		SweepSchedule: "* * * * *",
		StaleAfter:    10 * time.Minute,
	}

	for _, opt := range opts {
		opt.applyWorker(&config)
	}

	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}
	if config.DequeueRetry == nil {
		// Use longer backoff for dequeue to avoid hammering the DB during
		// outages
		dequeueCfg := RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.2,
		}
		config.DequeueRetry = &dequeueCfg
	}

	return &Worker{
		bus:    b,
		config: config,
		logger: slog.Default(),
	}
}

// Start begins processing messages. Blocks until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	topics := w.bus.Topics()
	if len(topics) == 0 {
		return fmt.Errorf("bus: worker started with no subscriptions")
	}

	msgChan := make(chan *Message, w.config.Concurrency)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(w.config.SweepSchedule, func() {
		released, err := w.bus.Transport().ReleaseStaleLocks(ctx, w.config.StaleAfter)
		if err != nil {
			w.logger.Error("stale lock sweep failed", "error", err)
			return
		}
		if released > 0 {
			w.logger.Warn("released stale message locks", "count", released)
		}
	}); err != nil {
		return fmt.Errorf("bus: invalid sweep schedule %q: %w", w.config.SweepSchedule, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, msgChan)
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(msgChan)
			w.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			msg, err := w.dequeueWithRetry(ctx, topics)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					w.logger.Error("failed to dequeue after retries", "error", err)
				}
				continue
			}
			if msg != nil {
				select {
				case msgChan <- msg:
				case <-ctx.Done():
				}
			}
		}
	}
}

// dequeueWithRetry attempts to dequeue a message with exponential backoff on
// failure.
func (w *Worker) dequeueWithRetry(ctx context.Context, topics []string) (*Message, error) {
	var msg *Message
	err := retryWithBackoff(ctx, *w.config.DequeueRetry, func() error {
		var dequeueErr error
		msg, dequeueErr = w.bus.Transport().Dequeue(ctx, topics, w.config.ConsumerID)
		return dequeueErr
	})
	return msg, err
}

func (w *Worker) processLoop(ctx context.Context, msgs <-chan *Message) {
	defer w.wg.Done()

	for msg := range msgs {
		w.processMessage(ctx, msg)
	}
}

func (w *Worker) processMessage(ctx context.Context, msg *Message) {
	err := w.dispatch(ctx, msg)
	if err != nil {
		w.handleError(ctx, msg, err)
		return
	}

	if completeErr := w.completeWithRetry(ctx, msg.ID); completeErr != nil {
		w.logger.Error("failed to complete message after retries",
			"message_id", msg.ID, "topic", msg.Topic, "error", completeErr)
	}
}

func (w *Worker) dispatch(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.bus.Dispatch(ctx, msg)
}

func (w *Worker) handleError(ctx context.Context, msg *Message, err error) {
	var discard *DiscardError
	if errors.As(err, &discard) || errors.Is(err, ErrNoHandler) {
		w.failWithRetry(ctx, msg.ID, err.Error(), nil)
		w.logger.Error("message dead-lettered",
			"message_id", msg.ID, "topic", msg.Topic, "error", err)
		return
	}

	if msg.Attempt < msg.MaxAttempts {
		retryAt := time.Now().Add(w.calculateBackoff(msg.Attempt))
		w.failWithRetry(ctx, msg.ID, err.Error(), &retryAt)
		w.logger.Warn("message redelivery scheduled",
			"message_id", msg.ID, "topic", msg.Topic, "attempt", msg.Attempt, "error", err)
		return
	}

	w.failWithRetry(ctx, msg.ID, err.Error(), nil)
	w.logger.Error("message failed permanently",
		"message_id", msg.ID, "topic", msg.Topic, "attempt", msg.Attempt, "error", err)
}

// completeWithRetry marks a message delivered with retry on transient failures.
func (w *Worker) completeWithRetry(ctx context.Context, msgID string) error {
	return retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.bus.Transport().Complete(ctx, msgID, w.config.ConsumerID)
	})
}

// failWithRetry marks a message failed with retry on transient storage failures.
func (w *Worker) failWithRetry(ctx context.Context, msgID string, errMsg string, retryAt *time.Time) {
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.bus.Transport().Fail(ctx, msgID, w.config.ConsumerID, errMsg, retryAt)
	})
	if err != nil {
		w.logger.Error("failed to mark message as failed after retries",
			"message_id", msgID, "error", err)
	}
}

func (w *Worker) calculateBackoff(attempt int) time.Duration {
	// 1s<<6 already exceeds the minute ceiling; clamping the shift keeps
	// large attempt counts from overflowing into negative backoffs.
	if attempt > 6 {
		attempt = 6
	}
	backoff := time.Second * (1 << attempt)
	if backoff > time.Minute {
		backoff = time.Minute
	}
	return backoff
}
