// Package bus provides a durable at-least-once message bus backed by a
// relational store. Messages can be published with a visibility delay, which
// the timeout supervisor uses to schedule durable deadline signals.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/patternlab/checker/pkg/security"
)

// Transport is the persistence layer behind a Bus.
type Transport interface {
	Migrate(ctx context.Context) error
	Enqueue(ctx context.Context, msg *Message) error
	Dequeue(ctx context.Context, topics []string, consumerID string) (*Message, error)
	Complete(ctx context.Context, msgID string, consumerID string) error
	Fail(ctx context.Context, msgID string, consumerID string, errMsg string, retryAt *time.Time) error
	ReleaseStaleLocks(ctx context.Context, staleDuration time.Duration) (int64, error)
}

// Handler consumes one message. Returning an error schedules a redelivery
// unless the error is wrapped with Discard.
type Handler func(ctx context.Context, msg *Message) error

// Bus manages topic subscriptions and publishing.
type Bus struct {
	transport Transport
	handlers  map[string][]Handler
	mu        sync.RWMutex
}

// New creates a Bus on the given transport.
func New(t Transport) *Bus {
	return &Bus{
		transport: t,
		handlers:  make(map[string][]Handler),
	}
}

// Transport returns the underlying transport.
func (b *Bus) Transport() Transport {
	return b.transport
}

// Subscribe registers a handler for a topic. Multiple handlers per topic run
// in registration order; the first error aborts the delivery.
func (b *Bus) Subscribe(topic string, h Handler) {
	if err := security.ValidateTopic(topic); err != nil {
		panic(fmt.Sprintf("bus: invalid topic %q: %v", topic, err))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Topics returns all subscribed topics.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		topics = append(topics, t)
	}
	return topics
}

// Publish serializes the payload and persists a message for delivery.
// Returns the message id.
func (b *Bus) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) (string, error) {
	if err := security.ValidateTopic(topic); err != nil {
		return "", err
	}

	options := newPublishOptions()
	for _, opt := range opts {
		opt.apply(options)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("bus: failed to marshal payload: %w", err)
	}
	if len(data) > security.MaxPayloadSize {
		return "", ErrPayloadTooLarge
	}

	msg := &Message{
		Topic:       topic,
		Payload:     data,
		Status:      StatusPending,
		MaxAttempts: security.ClampAttempts(options.maxAttempts),
		DedupKey:    options.dedupKey,
	}
	if options.delay > 0 {
		visibleAt := time.Now().Add(options.delay)
		msg.VisibleAt = &visibleAt
	}

	if err := b.transport.Enqueue(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Dispatch delivers a message to the subscribed handlers. Workers call this
// for dequeued messages; tests call it directly for synchronous delivery.
func (b *Bus) Dispatch(ctx context.Context, msg *Message) error {
	b.mu.RLock()
	registered := b.handlers[msg.Topic]
	handlers := make([]Handler, len(registered))
	copy(handlers, registered)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return ErrNoHandler
	}

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// --- Publish options ---

type publishOptions struct {
	delay       time.Duration
	dedupKey    string
	maxAttempts int
}

func newPublishOptions() *publishOptions {
	return &publishOptions{maxAttempts: 5}
}

// PublishOption modifies publish behavior.
type PublishOption interface {
	apply(*publishOptions)
}

type publishOptionFunc func(*publishOptions)

func (f publishOptionFunc) apply(o *publishOptions) { f(o) }

// WithDelay makes the message invisible to consumers for the duration.
func WithDelay(d time.Duration) PublishOption {
	return publishOptionFunc(func(o *publishOptions) {
		o.delay = d
	})
}

// WithDedupKey suppresses the publish if an undelivered message with the same
// key already exists.
func WithDedupKey(key string) PublishOption {
	return publishOptionFunc(func(o *publishOptions) {
		o.dedupKey = key
	})
}

// WithMaxAttempts sets the delivery attempt limit.
func WithMaxAttempts(n int) PublishOption {
	return publishOptionFunc(func(o *publishOptions) {
		o.maxAttempts = n
	})
}
