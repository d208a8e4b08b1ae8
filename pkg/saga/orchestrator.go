package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patternlab/checker/pkg/bridge"
	"github.com/patternlab/checker/pkg/bus"
	"github.com/patternlab/checker/pkg/catalog"
	"github.com/patternlab/checker/pkg/config"
	"github.com/patternlab/checker/pkg/contracts"
	"github.com/patternlab/checker/pkg/metrics"
	"github.com/patternlab/checker/pkg/security"
	"github.com/patternlab/checker/pkg/timeout"
)

// Orchestrator consumes checking events from the bus and drives each
// submission's state machine. All mutations of a Checking happen here, under
// the store's per-key lock, so concurrent and duplicate deliveries for the
// same correlation id serialize.
type Orchestrator struct {
	store    *Store
	bus      *bus.Bus
	bridge   *bridge.Bridge
	timers   *timeout.Supervisor
	catalog  catalog.Catalog
	timeouts config.StageTimeouts
	logger   *slog.Logger
}

// NewOrchestrator wires the orchestrator. Call Register to attach it to the
// bus before starting a worker.
func NewOrchestrator(store *Store, b *bus.Bus, br *bridge.Bridge, timers *timeout.Supervisor, cat catalog.Catalog, timeouts config.StageTimeouts) *Orchestrator {
	return &Orchestrator{
		store:    store,
		bus:      b,
		bridge:   br,
		timers:   timers,
		catalog:  cat,
		timeouts: timeouts,
		logger:   slog.Default(),
	}
}

// Register subscribes the orchestrator's handlers.
func (o *Orchestrator) Register() {
	o.bus.Subscribe(contracts.TopicStartChecking, o.handleStart)
	o.bus.Subscribe(contracts.TopicCancel, o.handleCancel)
	o.bus.Subscribe(contracts.TopicStageTimeout, o.handleStageTimeout)

	for stage, triggers := range map[contracts.Stage][2]Trigger{
		contracts.StageCompile: {TriggerCompileFinished, TriggerCompileFailed},
		contracts.StageVerify:  {TriggerVerifyFinished, TriggerVerifyFailed},
		contracts.StageReview:  {TriggerReviewFinished, TriggerReviewFailed},
	} {
		o.bus.Subscribe(contracts.FinishedTopic(stage), o.stageOutcomeHandler(triggers[0]))
		o.bus.Subscribe(contracts.FailedTopic(stage), o.stageOutcomeHandler(triggers[1]))
	}
}

// handleStart creates the Checking and kicks off the compile stage. A
// replayed correlation id is a no-op: the record already exists and its
// stage requests were already published (at-least-once delivery makes the
// duplicate request harmless anyway).
func (o *Orchestrator) handleStart(ctx context.Context, msg *bus.Message) error {
	var ev contracts.StartChecking
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return bus.Discard(fmt.Errorf("malformed StartChecking: %w", err))
	}
	if err := security.ValidateUserID(ev.UserID); err != nil {
		return bus.Discard(err)
	}
	if err := security.ValidateTaskID(ev.TaskID); err != nil {
		return bus.Discard(err)
	}

	c, created, err := o.store.CreateIfAbsent(ctx, ev.CorrelationID, ev.UserID, ev.TaskID, security.TruncateTaskName(ev.TaskName))
	if err != nil {
		return err
	}
	if !created {
		if c.Status == StatusCompiling {
			// The first delivery may have died between committing the record
			// and publishing the request or arming the deadline. Both repeats
			// are idempotent: the dedup key swallows a still-pending request
			// and Arm replaces the token.
			o.logger.Debug("start replayed, re-kicking compile stage",
				"correlation_id", ev.CorrelationID)
			if err := o.publishStageRequest(ctx, c, contracts.StageCompile); err != nil {
				return err
			}
			return o.timers.Arm(ctx, c.CorrelationID, contracts.StageCompile, o.timeouts.Compile)
		}
		o.logger.Debug("start replayed for existing check",
			"correlation_id", ev.CorrelationID, "status", c.Status)
		return nil
	}

	metrics.CheckStarted()
	o.logger.Info("check started",
		"correlation_id", c.CorrelationID, "user_id", c.UserID, "task_id", c.TaskID)

	if err := o.publishStageRequest(ctx, c, contracts.StageCompile); err != nil {
		return err
	}
	return o.timers.Arm(ctx, c.CorrelationID, contracts.StageCompile, o.timeouts.Compile)
}

// stageOutcomeHandler adapts a finished/failed topic to its trigger.
func (o *Orchestrator) stageOutcomeHandler(tr Trigger) bus.Handler {
	return func(ctx context.Context, msg *bus.Message) error {
		var ev contracts.StageOutcome
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return bus.Discard(fmt.Errorf("malformed stage outcome: %w", err))
		}
		return o.applyTrigger(ctx, ev.CorrelationID, tr, security.SanitizeStageMessage(ev.ResultText))
	}
}

func (o *Orchestrator) handleCancel(ctx context.Context, msg *bus.Message) error {
	var ev contracts.Cancel
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return bus.Discard(fmt.Errorf("malformed Cancel: %w", err))
	}
	return o.applyTrigger(ctx, ev.CorrelationID, TriggerCancel, "canceled by user")
}

// handleStageTimeout consumes a fired deadline. The token decides the race:
// if the stage resolved first, Disarm already removed it and the signal is
// dropped here.
func (o *Orchestrator) handleStageTimeout(ctx context.Context, msg *bus.Message) error {
	var ev contracts.StageTimeout
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return bus.Discard(fmt.Errorf("malformed StageTimeout: %w", err))
	}
	if err := security.ValidateStage(ev.Stage); err != nil {
		return bus.Discard(fmt.Errorf("stage timeout for %q: %w", ev.Stage, err))
	}

	fired, err := o.timers.Fired(ctx, ev.TokenID)
	if err != nil {
		return err
	}
	if !fired {
		return nil
	}

	metrics.TimeoutFired(string(ev.Stage))
	msgText := fmt.Sprintf("%s stage timed out after %s", ev.Stage, o.timeouts.ForStage(string(ev.Stage)))
	return o.applyTrigger(ctx, ev.CorrelationID, TimeoutTrigger(ev.Stage), msgText)
}

// applyTrigger runs one load-transition-save cycle under the per-key lock and
// executes the resulting commands. Triggers the machine rejects are dropped
// silently; that is how duplicate and late deliveries die.
func (o *Orchestrator) applyTrigger(ctx context.Context, correlationID string, tr Trigger, message string) error {
	unlock := o.store.Lock(correlationID)
	defer unlock()

	c, err := o.store.Load(ctx, correlationID)
	if err != nil {
		return err
	}
	if c == nil {
		// Outcome delivered before StartChecking was processed; redelivery
		// will find the record.
		return fmt.Errorf("saga: no checking for correlation id %s", correlationID)
	}

	next, cmds, applied := Apply(*c, tr, message, time.Now())
	if !applied {
		o.logger.Debug("trigger ignored",
			"correlation_id", correlationID, "trigger", tr, "status", c.Status)
		return nil
	}

	// Publishes precede the save and carry dedup keys: a crash between them
	// replays the trigger against the unchanged record, and the dedup key
	// suppresses the duplicate publish.
	var resolves []ResolveWait
	for _, cmd := range cmds {
		switch cmd := cmd.(type) {
		case DisarmTimeout:
			if err := o.timers.Disarm(ctx, correlationID, cmd.Stage); err != nil {
				o.logger.Warn("disarm failed; late fire will be dropped by the machine",
					"correlation_id", correlationID, "stage", cmd.Stage, "error", err)
			}
		case PublishStageRequest:
			if err := o.publishStageRequest(ctx, &next, cmd.Stage); err != nil {
				return err
			}
		case ArmTimeout:
			if err := o.timers.Arm(ctx, correlationID, cmd.Stage, o.timeouts.ForStage(string(cmd.Stage))); err != nil {
				return err
			}
		case PublishProgress:
			if err := o.publishProgress(ctx, &next); err != nil {
				return err
			}
		case ResolveWait:
			resolves = append(resolves, cmd)
		}
	}

	if err := o.store.Save(ctx, &next); err != nil {
		return err
	}

	for _, r := range resolves {
		o.bridge.Resolve(correlationID, r.Stage, bridge.Result{
			Success:  r.Success,
			TimedOut: r.TimedOut,
			Canceled: r.Canceled,
			Message:  r.Message,
		})
		outcome := "failed"
		switch {
		case r.Success:
			outcome = "finished"
		case r.TimedOut:
			outcome = "timeout"
		case r.Canceled:
			outcome = "canceled"
		}
		metrics.StageResolved(string(r.Stage), outcome)
	}

	if next.Status.Terminal() {
		metrics.CheckFinished(string(next.Status))
		o.logger.Info("check finished",
			"correlation_id", correlationID, "status", next.Status,
			"compiled", next.Compiled.Success, "tested", next.Tested.Success,
			"reviewed", next.Reviewed.Success)
	}
	return nil
}

// publishStageRequest emits the request event that hands the submission to a
// stage worker. The review request carries the pattern name; catalog failure
// there is advisory and leaves it blank.
func (o *Orchestrator) publishStageRequest(ctx context.Context, c *Checking, stage contracts.Stage) error {
	req := &contracts.StageRequested{
		CorrelationID: c.CorrelationID,
		UserID:        c.UserID,
		TaskID:        c.TaskID,
	}
	if stage == contracts.StageReview {
		pattern, err := o.catalog.PatternTitle(ctx, c.TaskID)
		if err != nil {
			o.logger.Warn("pattern title lookup failed",
				"correlation_id", c.CorrelationID, "task_id", c.TaskID, "error", err)
		}
		req.PatternName = pattern
	}

	_, err := o.bus.Publish(ctx, contracts.RequestTopic(stage), req,
		bus.WithDedupKey(c.CorrelationID+"/"+string(stage)+"/request"))
	if errors.Is(err, bus.ErrDuplicate) {
		return nil
	}
	return err
}

func (o *Orchestrator) publishProgress(ctx context.Context, c *Checking) error {
	_, err := o.bus.Publish(ctx, contracts.TopicProgress, &contracts.ProgressUpdate{
		CorrelationID: c.CorrelationID,
		UserID:        c.UserID,
		TaskID:        c.TaskID,
		TaskName:      c.TaskName,
		Compiled:      c.Compiled.Success,
		Tested:        c.Tested.Success,
		Reviewed:      c.Reviewed.Success,
		Finished:      c.Finished(),
		OverallResult: c.Overall(),
		CompileMsg:    c.Compiled.Message,
		TestMsg:       c.Tested.Message,
		ReviewMsg:     c.Reviewed.Message,
	}, bus.WithDedupKey(c.CorrelationID+"/progress"))
	if errors.Is(err, bus.ErrDuplicate) {
		return nil
	}
	return err
}
