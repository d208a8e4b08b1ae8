// Package sequencer is the synchronous entry point of the checking pipeline.
// One Handle call drives a whole check: it publishes the start event, then
// performs one bounded wait per stage while the orchestrator advances the
// saga behind the scenes, and composes the partial or full result the client
// sees.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patternlab/checker/pkg/artifacts"
	"github.com/patternlab/checker/pkg/bridge"
	"github.com/patternlab/checker/pkg/bus"
	"github.com/patternlab/checker/pkg/catalog"
	"github.com/patternlab/checker/pkg/config"
	"github.com/patternlab/checker/pkg/contracts"
	"github.com/patternlab/checker/pkg/security"
)

// ErrTaskNotFound is returned when the requested task is unknown. No check is
// created and nothing is published.
var ErrTaskNotFound = errors.New("checker: task not found")

// waitGrace is added to each stage deadline for the local wait: the durable
// timeout should normally fire first and resolve the wait with a proper
// timeout outcome, the local deadline is the backstop for a dead bus.
const waitGrace = 10 * time.Second

// CheckResult is what the client receives: a per-stage outcome with the
// stage's free-text message, present even when the pipeline stopped early.
type CheckResult struct {
	CorrelationID string `json:"correlation_id"`
	Compiled      bool   `json:"compiled"`
	CompileMsg    string `json:"compile_msg"`
	Tested        bool   `json:"tested"`
	TestMsg       string `json:"test_msg"`
	Reviewed      bool   `json:"reviewed"`
	ReviewMsg     string `json:"review_msg"`
	Finished      bool   `json:"finished"`
}

// Publisher is the bus surface the sequencer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, opts ...bus.PublishOption) (string, error)
}

// Sequencer drives a check end to end for one synchronous caller.
type Sequencer struct {
	pub      Publisher
	bridge   *bridge.Bridge
	catalog  catalog.Catalog
	reviews  artifacts.Store
	timeouts config.StageTimeouts
	logger   *slog.Logger
}

// New creates a Sequencer. The artifacts store may be nil; review fetch is
// then skipped.
func New(pub Publisher, br *bridge.Bridge, cat catalog.Catalog, reviews artifacts.Store, timeouts config.StageTimeouts) *Sequencer {
	return &Sequencer{
		pub:      pub,
		bridge:   br,
		catalog:  cat,
		reviews:  reviews,
		timeouts: timeouts,
		logger:   slog.Default(),
	}
}

// Handle runs one submission check and blocks until it resolves or the
// accumulated stage deadlines expire. Stage failures are data in the result,
// not errors; the error return is reserved for rejected requests and
// infrastructure faults.
func (s *Sequencer) Handle(ctx context.Context, userID, taskID string) (*CheckResult, error) {
	if err := security.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := security.ValidateTaskID(taskID); err != nil {
		return nil, err
	}

	exists, err := s.catalog.TaskExists(ctx, taskID)
	if err != nil {
		// Catalog enrichment is advisory; treat "unknown" as existing rather
		// than failing the whole request.
		s.logger.Warn("task existence check failed, proceeding", "task_id", taskID, "error", err)
	} else if !exists {
		return nil, ErrTaskNotFound
	}

	taskName, err := s.catalog.TaskTitle(ctx, taskID)
	if err != nil || taskName == "" {
		taskName = fmt.Sprintf("task %s", taskID)
	}

	correlationID := uuid.New().String()
	result := &CheckResult{CorrelationID: correlationID}
	defer s.bridge.Forget(correlationID)

	_, err = s.pub.Publish(ctx, contracts.TopicStartChecking, &contracts.StartChecking{
		CorrelationID: correlationID,
		UserID:        userID,
		TaskID:        taskID,
		TaskName:      taskName,
	})
	if err != nil {
		return nil, fmt.Errorf("sequencer: failed to start check: %w", err)
	}

	s.logger.Info("check requested",
		"correlation_id", correlationID, "user_id", userID, "task_id", taskID)

	// Compile.
	compile, _ := s.bridge.Wait(ctx, correlationID, contracts.StageCompile, s.timeouts.Compile+waitGrace)
	result.Compiled = compile.Success
	result.CompileMsg = compile.Message
	if !compile.Success {
		return result, nil
	}

	// Verify.
	verify, _ := s.bridge.Wait(ctx, correlationID, contracts.StageVerify, s.timeouts.Verify+waitGrace)
	result.Tested = verify.Success
	result.TestMsg = verify.Message
	if !verify.Success {
		return result, nil
	}

	// Review.
	review, _ := s.bridge.Wait(ctx, correlationID, contracts.StageReview, s.timeouts.Review+waitGrace)
	result.Reviewed = review.Success
	result.ReviewMsg = review.Message
	if !review.Success {
		return result, nil
	}

	result.Finished = true
	result.ReviewMsg = s.fetchReview(ctx, correlationID, review.Message)
	return result, nil
}

// fetchReview pulls the persisted review artifact. Best-effort: on any
// failure the on-bus result text stands.
func (s *Sequencer) fetchReview(ctx context.Context, correlationID, fallback string) string {
	if s.reviews == nil {
		return fallback
	}
	text, err := s.reviews.FetchReview(ctx, correlationID)
	if err != nil {
		if !errors.Is(err, artifacts.ErrNotFound) {
			s.logger.Warn("review artifact fetch failed",
				"correlation_id", correlationID, "error", err)
		}
		return fallback
	}
	if text == "" {
		return fallback
	}
	return security.SanitizeStageMessage(text)
}

// Cancel publishes a cancel event for an in-flight check.
func (s *Sequencer) Cancel(ctx context.Context, correlationID string) error {
	_, err := s.pub.Publish(ctx, contracts.TopicCancel, &contracts.Cancel{
		CorrelationID: correlationID,
	})
	return err
}
