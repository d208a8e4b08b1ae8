package bus

import (
	"errors"
	"fmt"
)

// Delivery errors.
var (
	ErrMessageNotOwned = errors.New("bus: message not owned by this consumer")
	ErrDuplicate       = errors.New("bus: duplicate message with same dedup key")
	ErrPayloadTooLarge = errors.New("bus: message payload exceeds size limit")
	ErrNoHandler       = errors.New("bus: no handler subscribed for topic")
)

// DiscardError marks a handler error as permanent: the message is dead-lettered
// immediately instead of being retried. Malformed payloads are the usual case.
type DiscardError struct {
	Err error
}

func (e *DiscardError) Error() string {
	return fmt.Sprintf("discard: %v", e.Err)
}

func (e *DiscardError) Unwrap() error {
	return e.Err
}

// Discard wraps an error to indicate the message should not be redelivered.
func Discard(err error) error {
	return &DiscardError{Err: err}
}
