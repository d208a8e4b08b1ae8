package security

import "errors"

// Validation errors.
var (
	ErrInvalidTaskID = errors.New("checker: invalid task id (must be alphanumeric)")
	ErrTaskIDTooLong = errors.New("checker: task id too long")
	ErrInvalidUserID = errors.New("checker: invalid user id (must be alphanumeric)")
	ErrUserIDTooLong = errors.New("checker: user id too long")
	ErrInvalidTopic  = errors.New("checker: invalid topic name")
	ErrTopicTooLong  = errors.New("checker: topic name too long")
	ErrInvalidStage  = errors.New("checker: unknown pipeline stage")
)
