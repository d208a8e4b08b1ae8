package saga

import (
	"time"

	"github.com/patternlab/checker/pkg/contracts"
)

// Trigger is a state machine input derived from a bus event.
type Trigger string

const (
	TriggerCompileFinished Trigger = "compile-finished"
	TriggerCompileFailed   Trigger = "compile-failed"
	TriggerCompileTimeout  Trigger = "compile-timeout"
	TriggerVerifyFinished  Trigger = "verify-finished"
	TriggerVerifyFailed    Trigger = "verify-failed"
	TriggerVerifyTimeout   Trigger = "verify-timeout"
	TriggerReviewFinished  Trigger = "review-finished"
	TriggerReviewFailed    Trigger = "review-failed"
	TriggerReviewTimeout   Trigger = "review-timeout"
	TriggerCancel          Trigger = "cancel"
)

// TimeoutTrigger maps a fired stage deadline to its trigger.
func TimeoutTrigger(stage contracts.Stage) Trigger {
	switch stage {
	case contracts.StageCompile:
		return TriggerCompileTimeout
	case contracts.StageVerify:
		return TriggerVerifyTimeout
	default:
		return TriggerReviewTimeout
	}
}

// Command is a side effect requested by a transition. The transition function
// itself performs no I/O; the orchestrator executes commands after persisting
// the new state.
type Command interface {
	commandMarker()
}

// PublishStageRequest asks for the next stage's request event on the bus.
type PublishStageRequest struct {
	Stage contracts.Stage
}

func (PublishStageRequest) commandMarker() {}

// ArmTimeout schedules the durable deadline for a stage.
type ArmTimeout struct {
	Stage contracts.Stage
}

func (ArmTimeout) commandMarker() {}

// DisarmTimeout cancels the durable deadline for a stage.
type DisarmTimeout struct {
	Stage contracts.Stage
}

func (DisarmTimeout) commandMarker() {}

// ResolveWait wakes the synchronous waiter for a stage.
type ResolveWait struct {
	Stage    contracts.Stage
	Success  bool
	TimedOut bool
	Canceled bool
	Message  string
}

func (ResolveWait) commandMarker() {}

// PublishProgress emits the terminal progress-update event.
type PublishProgress struct{}

func (PublishProgress) commandMarker() {}

// triggerStage returns the stage a trigger belongs to, or "" for cancel.
func triggerStage(tr Trigger) contracts.Stage {
	switch tr {
	case TriggerCompileFinished, TriggerCompileFailed, TriggerCompileTimeout:
		return contracts.StageCompile
	case TriggerVerifyFinished, TriggerVerifyFailed, TriggerVerifyTimeout:
		return contracts.StageVerify
	case TriggerReviewFinished, TriggerReviewFailed, TriggerReviewTimeout:
		return contracts.StageReview
	}
	return ""
}

func isTimeout(tr Trigger) bool {
	switch tr {
	case TriggerCompileTimeout, TriggerVerifyTimeout, TriggerReviewTimeout:
		return true
	}
	return false
}

func isFinished(tr Trigger) bool {
	switch tr {
	case TriggerCompileFinished, TriggerVerifyFinished, TriggerReviewFinished:
		return true
	}
	return false
}

// Apply is the transition function. It takes the current record by value and
// returns the updated record, the side-effect commands, and whether the
// trigger applied. Illegal triggers (terminal states, duplicates, events for
// a stage the check is not in) return applied=false with the record
// unchanged; the caller drops them silently.
//
// Successful stage completion auto-advances: the intermediate states
// (Compiled, Tested, Reviewed) are passed through within one transition, so
// they are never observable as the persisted status.
func Apply(c Checking, tr Trigger, message string, now time.Time) (Checking, []Command, bool) {
	if c.Status.Terminal() {
		return c, nil, false
	}

	if tr == TriggerCancel {
		return finalize(c, StatusCanceled, c.Status.ActiveStage(), ResolveWait{
			Stage:    c.Status.ActiveStage(),
			Canceled: true,
			Message:  message,
		}, now)
	}

	stage := triggerStage(tr)
	if stage != c.Status.ActiveStage() {
		// Duplicate or out-of-order event for a stage we already left.
		return c, nil, false
	}

	outcome := StageOutcome{Attempted: true, Success: isFinished(tr), Message: message}
	resolve := ResolveWait{
		Stage:    stage,
		Success:  outcome.Success,
		TimedOut: isTimeout(tr),
		Message:  message,
	}

	switch c.Status {
	case StatusCompiling:
		c.Compiled = outcome
		if !outcome.Success {
			return finalize(c, StatusFailed, stage, resolve, now)
		}
		// Compiled, auto-advance to Testing.
		c.Status = StatusTesting
		return c, []Command{
			DisarmTimeout{Stage: contracts.StageCompile},
			resolve,
			PublishStageRequest{Stage: contracts.StageVerify},
			ArmTimeout{Stage: contracts.StageVerify},
		}, true

	case StatusTesting:
		c.Tested = outcome
		if !outcome.Success {
			return finalize(c, StatusFailed, stage, resolve, now)
		}
		// Tested, auto-advance to Reviewing.
		c.Status = StatusReviewing
		return c, []Command{
			DisarmTimeout{Stage: contracts.StageVerify},
			resolve,
			PublishStageRequest{Stage: contracts.StageReview},
			ArmTimeout{Stage: contracts.StageReview},
		}, true

	case StatusReviewing:
		c.Reviewed = outcome
		if !outcome.Success {
			return finalize(c, StatusFailed, stage, resolve, now)
		}
		// Reviewed, auto-advance to the Passed terminal.
		return finalize(c, StatusPassed, stage, resolve, now)
	}

	return c, nil, false
}

// finalize enters a terminal state: disarm the live deadline, set CompletedAt
// exactly once, wake the waiter, publish the progress update.
func finalize(c Checking, terminal Status, stage contracts.Stage, resolve ResolveWait, now time.Time) (Checking, []Command, bool) {
	c.Status = terminal
	if c.CompletedAt == nil {
		completed := now
		c.CompletedAt = &completed
	}

	cmds := make([]Command, 0, 3)
	if stage != "" {
		cmds = append(cmds, DisarmTimeout{Stage: stage})
		cmds = append(cmds, resolve)
	}
	cmds = append(cmds, PublishProgress{})
	return c, cmds, true
}
