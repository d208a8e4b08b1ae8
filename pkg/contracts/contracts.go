// Package contracts defines the message schemas exchanged between the
// checking orchestrator and the stage workers (compiler, verifier, reviewer)
// and the progress-tracking collaborator.
//
// Every message for one submission check carries the same correlation id.
// The structs here are wire contracts: fields are only ever added, never
// repurposed.
package contracts

import "fmt"

// Stage identifies one pipeline phase of a submission check.
type Stage string

const (
	StageCompile Stage = "compile"
	StageVerify  Stage = "verify"
	StageReview  Stage = "review"
)

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	switch s {
	case StageCompile, StageVerify, StageReview:
		return true
	}
	return false
}

// Topic names for the message bus. Workers subscribe to the *.requested
// topics and publish to the matching finished/failed topics.
const (
	TopicStartChecking = "checking.start"
	TopicCancel        = "checking.cancel"
	TopicStageTimeout  = "checking.stage-timeout"
	TopicProgress      = "checking.progress"

	TopicCompileRequested = "compile.requested"
	TopicCompileFinished  = "compile.finished"
	TopicCompileFailed    = "compile.failed"

	TopicVerifyRequested = "verify.requested"
	TopicVerifyFinished  = "verify.finished"
	TopicVerifyFailed    = "verify.failed"

	TopicReviewRequested = "review.requested"
	TopicReviewFinished  = "review.finished"
	TopicReviewFailed    = "review.failed"
)

// RequestTopic returns the stage-request topic for a stage.
func RequestTopic(s Stage) string {
	switch s {
	case StageCompile:
		return TopicCompileRequested
	case StageVerify:
		return TopicVerifyRequested
	case StageReview:
		return TopicReviewRequested
	}
	panic(fmt.Sprintf("contracts: unknown stage %q", s))
}

// FinishedTopic returns the success-outcome topic for a stage.
func FinishedTopic(s Stage) string {
	switch s {
	case StageCompile:
		return TopicCompileFinished
	case StageVerify:
		return TopicVerifyFinished
	case StageReview:
		return TopicReviewFinished
	}
	panic(fmt.Sprintf("contracts: unknown stage %q", s))
}

// FailedTopic returns the failure-outcome topic for a stage.
func FailedTopic(s Stage) string {
	switch s {
	case StageCompile:
		return TopicCompileFailed
	case StageVerify:
		return TopicVerifyFailed
	case StageReview:
		return TopicReviewFailed
	}
	panic(fmt.Sprintf("contracts: unknown stage %q", s))
}

// Event is the interface implemented by all checking messages.
type Event interface {
	eventMarker()
}

// StartChecking requests a new submission check. Published by the sequencer,
// consumed by the orchestrator.
type StartChecking struct {
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	TaskID        string `json:"task_id"`
	TaskName      string `json:"task_name"`
}

func (*StartChecking) eventMarker() {}

// StageRequested asks a stage worker to process the submission. The same
// shape serves all three request topics; PatternName is only set for review.
type StageRequested struct {
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	TaskID        string `json:"task_id"`
	PatternName   string `json:"pattern_name,omitempty"`
}

func (*StageRequested) eventMarker() {}

// StageOutcome reports the result of a stage attempt. Published by a stage
// worker on the finished topic (success) or failed topic (failure).
type StageOutcome struct {
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	TaskID        string `json:"task_id"`
	ResultText    string `json:"result_text"`
}

func (*StageOutcome) eventMarker() {}

// StageTimeout is the durable deadline signal scheduled by the timeout
// supervisor. TokenID identifies one arm; a fired message whose token was
// already disarmed is dropped.
type StageTimeout struct {
	CorrelationID string `json:"correlation_id"`
	Stage         Stage  `json:"stage"`
	TokenID       string `json:"token_id"`
}

func (*StageTimeout) eventMarker() {}

// Cancel aborts a check at its current stage.
type Cancel struct {
	CorrelationID string `json:"correlation_id"`
}

func (*Cancel) eventMarker() {}

// ProgressUpdate summarizes a check for the external progress tracker.
// Published exactly once per check, on the terminal transition.
type ProgressUpdate struct {
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	TaskID        string `json:"task_id"`
	TaskName      string `json:"task_name"`
	Compiled      bool   `json:"compiled"`
	Tested        bool   `json:"tested"`
	Reviewed      bool   `json:"reviewed"`
	Finished      bool   `json:"finished"`
	OverallResult bool   `json:"overall_result"`
	CompileMsg    string `json:"compile_msg"`
	TestMsg       string `json:"test_msg"`
	ReviewMsg     string `json:"review_msg"`
}

func (*ProgressUpdate) eventMarker() {}
