// Package security provides validation, sanitization, and limits for the
// checker package.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/patternlab/checker/pkg/contracts"
)

// Limits applied before anything reaches storage or the bus.
const (
	// MaxIDLength is the maximum length for user and task identifiers.
	MaxIDLength = 64

	// MaxTaskNameLength is the maximum length for task display names.
	MaxTaskNameLength = 255

	// MaxStageMessageLength is the maximum length for stored stage messages
	// (compiler log excerpts, verification reports, review texts).
	MaxStageMessageLength = 16384

	// MaxTopicNameLength is the maximum length for bus topic names.
	MaxTopicNameLength = 255

	// MaxPayloadSize is the maximum size in bytes for bus message payloads (1MB).
	MaxPayloadSize = 1 << 20

	// MaxAttempts is the hard limit for bus delivery attempts.
	MaxAttempts = 100
)

// validID matches alphanumeric identifiers with hyphens, underscores, and dots.
var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// validTopic matches topic names: word characters joined by dots or hyphens,
// starting with a letter.
var validTopic = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateTaskID validates a task identifier.
func ValidateTaskID(id string) error {
	if id == "" {
		return ErrInvalidTaskID
	}
	if len(id) > MaxIDLength {
		return ErrTaskIDTooLong
	}
	if !validID.MatchString(id) {
		return ErrInvalidTaskID
	}
	return nil
}

// ValidateUserID validates a user identifier.
func ValidateUserID(id string) error {
	if id == "" {
		return ErrInvalidUserID
	}
	if len(id) > MaxIDLength {
		return ErrUserIDTooLong
	}
	if !validID.MatchString(id) {
		return ErrInvalidUserID
	}
	return nil
}

// ValidateTopic validates a bus topic name.
func ValidateTopic(name string) error {
	if name == "" {
		return ErrInvalidTopic
	}
	if len(name) > MaxTopicNameLength {
		return ErrTopicTooLong
	}
	if !validTopic.MatchString(name) {
		return ErrInvalidTopic
	}
	return nil
}

// ValidateStage validates a pipeline stage name.
func ValidateStage(s contracts.Stage) error {
	if !s.Valid() {
		return ErrInvalidStage
	}
	return nil
}

// SanitizeStageMessage truncates and sanitizes stage result text before
// storage. Compiler output can contain control sequences; everything except
// printable runes, newlines, and tabs is stripped.
func SanitizeStageMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxStageMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxStageMessageLength-3]) + "..."
	}

	return result
}

// TruncateTaskName clamps a task display name to its storage limit.
func TruncateTaskName(name string) string {
	if utf8.RuneCountInString(name) <= MaxTaskNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:MaxTaskNameLength])
}

// ClampAttempts ensures a delivery attempt limit is within bounds.
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}
