package sequencer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patternlab/checker/pkg/artifacts"
	"github.com/patternlab/checker/pkg/bridge"
	"github.com/patternlab/checker/pkg/bus"
	"github.com/patternlab/checker/pkg/config"
	"github.com/patternlab/checker/pkg/contracts"
)

// fakePublisher records publishes and plays a script against the bridge when
// the start event goes out, standing in for the orchestrator and the stage
// workers.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	onStart   func(correlationID string)
}

type publishedEvent struct {
	topic   string
	payload any
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any, _ ...bus.PublishOption) (string, error) {
	p.mu.Lock()
	p.published = append(p.published, publishedEvent{topic: topic, payload: payload})
	p.mu.Unlock()

	if topic == contracts.TopicStartChecking && p.onStart != nil {
		start := payload.(*contracts.StartChecking)
		p.onStart(start.CorrelationID)
	}
	return "msg-id", nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.published))
	for i, e := range p.published {
		out[i] = e.topic
	}
	return out
}

// fakeCatalog serves a single known task.
type fakeCatalog struct {
	existsErr error
}

func (c *fakeCatalog) TaskExists(_ context.Context, taskID string) (bool, error) {
	if c.existsErr != nil {
		return false, c.existsErr
	}
	return taskID == "task-observer", nil
}

func (c *fakeCatalog) TaskTitle(_ context.Context, taskID string) (string, error) {
	return "Weather station observers", nil
}

func (c *fakeCatalog) PatternTitle(_ context.Context, taskID string) (string, error) {
	return "Observer", nil
}

func testTimeouts() config.StageTimeouts {
	return config.StageTimeouts{
		Compile: 100 * time.Millisecond,
		Verify:  100 * time.Millisecond,
		Review:  100 * time.Millisecond,
	}
}

func newTestSequencer(pub *fakePublisher, br *bridge.Bridge, reviews artifacts.Store) *Sequencer {
	return New(pub, br, &fakeCatalog{}, reviews, testTimeouts())
}

func TestHandle_FullPass(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{onStart: func(id string) {
		br.Resolve(id, contracts.StageCompile, bridge.Result{Success: true, Message: "compiled"})
		br.Resolve(id, contracts.StageVerify, bridge.Result{Success: true, Message: "12 tests passed"})
		br.Resolve(id, contracts.StageReview, bridge.Result{Success: true, Message: "solid observer"})
	}}
	s := newTestSequencer(pub, br, nil)

	result, err := s.Handle(context.Background(), "user-1", "task-observer")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.CorrelationID)
	assert.True(t, result.Compiled)
	assert.Equal(t, "compiled", result.CompileMsg)
	assert.True(t, result.Tested)
	assert.Equal(t, "12 tests passed", result.TestMsg)
	assert.True(t, result.Reviewed)
	assert.Equal(t, "solid observer", result.ReviewMsg)
	assert.True(t, result.Finished)

	assert.Equal(t, []string{contracts.TopicStartChecking}, pub.topics())
	assert.Equal(t, 0, br.Pending(), "no cells may leak after a handled check")
}

func TestHandle_CompileFailureStopsPipeline(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{onStart: func(id string) {
		br.Resolve(id, contracts.StageCompile, bridge.Result{Success: false, Message: "undefined: Subject"})
	}}
	s := newTestSequencer(pub, br, nil)

	result, err := s.Handle(context.Background(), "user-1", "task-observer")
	require.NoError(t, err, "stage failures are data, not errors")
	require.NotNil(t, result)

	assert.False(t, result.Compiled)
	assert.Equal(t, "undefined: Subject", result.CompileMsg)
	assert.False(t, result.Tested)
	assert.Empty(t, result.TestMsg)
	assert.False(t, result.Reviewed)
	assert.False(t, result.Finished)
}

func TestHandle_ReviewFailureLeavesFinishedFalse(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{onStart: func(id string) {
		br.Resolve(id, contracts.StageCompile, bridge.Result{Success: true, Message: "compiled"})
		br.Resolve(id, contracts.StageVerify, bridge.Result{Success: true, Message: "tests green"})
		br.Resolve(id, contracts.StageReview, bridge.Result{Success: false, Message: "observers hold a direct reference to the subject"})
	}}
	s := newTestSequencer(pub, br, nil)

	result, err := s.Handle(context.Background(), "user-1", "task-observer")
	require.NoError(t, err)

	assert.True(t, result.Compiled)
	assert.True(t, result.Tested)
	assert.False(t, result.Reviewed)
	assert.Contains(t, result.ReviewMsg, "direct reference")
	assert.False(t, result.Finished)
}

func TestHandle_VerifyTimeout(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{onStart: func(id string) {
		br.Resolve(id, contracts.StageCompile, bridge.Result{Success: true, Message: "compiled"})
		br.Resolve(id, contracts.StageVerify, bridge.Result{
			TimedOut: true,
			Message:  "verify stage timed out after 2m0s",
		})
	}}
	s := newTestSequencer(pub, br, nil)

	result, err := s.Handle(context.Background(), "user-1", "task-observer")
	require.NoError(t, err)

	assert.True(t, result.Compiled)
	assert.False(t, result.Tested)
	assert.Contains(t, result.TestMsg, "timed out")
	assert.False(t, result.Finished)
}

func TestHandle_CanceledMidPipeline(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{onStart: func(id string) {
		br.Resolve(id, contracts.StageCompile, bridge.Result{Success: true, Message: "compiled"})
		br.Resolve(id, contracts.StageVerify, bridge.Result{Canceled: true, Message: "canceled by user"})
	}}
	s := newTestSequencer(pub, br, nil)

	result, err := s.Handle(context.Background(), "user-1", "task-observer")
	require.NoError(t, err)

	assert.True(t, result.Compiled)
	assert.False(t, result.Tested)
	assert.Equal(t, "canceled by user", result.TestMsg)
	assert.False(t, result.Finished)
}

func TestHandle_NoWorkerResponseTimesOutLocally(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{} // nobody ever resolves
	s := New(pub, br, &fakeCatalog{}, nil, config.StageTimeouts{
		Compile: 10 * time.Millisecond,
		Verify:  10 * time.Millisecond,
		Review:  10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := s.Handle(ctx, "user-1", "task-observer")
	require.NoError(t, err)
	assert.False(t, result.Compiled)
	assert.False(t, result.Finished)
	assert.Equal(t, 0, br.Pending())
}

func TestHandle_UnknownTaskPublishesNothing(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{}
	s := newTestSequencer(pub, br, nil)

	result, err := s.Handle(context.Background(), "user-1", "task-unknown")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Nil(t, result)
	assert.Empty(t, pub.topics())
}

func TestHandle_CatalogOutageDoesNotRejectRequests(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{onStart: func(id string) {
		br.Resolve(id, contracts.StageCompile, bridge.Result{Success: false, Message: "nope"})
	}}
	s := New(pub, br, &fakeCatalog{existsErr: assert.AnError}, nil, testTimeouts())

	result, err := s.Handle(context.Background(), "user-1", "task-observer")
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestHandle_RejectsInvalidIdentifiers(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{}
	s := newTestSequencer(pub, br, nil)

	_, err := s.Handle(context.Background(), "bad user", "task-observer")
	assert.Error(t, err)

	_, err = s.Handle(context.Background(), "user-1", "bad task!")
	assert.Error(t, err)

	assert.Empty(t, pub.topics())
}

func TestHandle_FetchesReviewArtifact(t *testing.T) {
	br := bridge.New()
	reviews := artifacts.NewMemoryStore()
	pub := &fakePublisher{onStart: func(id string) {
		reviews.PutReview(id, "Full review:\nwell-separated subject and observers")
		br.Resolve(id, contracts.StageCompile, bridge.Result{Success: true})
		br.Resolve(id, contracts.StageVerify, bridge.Result{Success: true})
		br.Resolve(id, contracts.StageReview, bridge.Result{Success: true, Message: "short summary"})
	}}
	s := newTestSequencer(pub, br, reviews)

	result, err := s.Handle(context.Background(), "user-1", "task-observer")
	require.NoError(t, err)
	assert.True(t, result.Finished)
	assert.Equal(t, "Full review:\nwell-separated subject and observers", result.ReviewMsg)
}

func TestHandle_MissingArtifactKeepsBusMessage(t *testing.T) {
	br := bridge.New()
	pub := &fakePublisher{onStart: func(id string) {
		br.Resolve(id, contracts.StageCompile, bridge.Result{Success: true})
		br.Resolve(id, contracts.StageVerify, bridge.Result{Success: true})
		br.Resolve(id, contracts.StageReview, bridge.Result{Success: true, Message: "short summary"})
	}}
	s := newTestSequencer(pub, br, artifacts.NewMemoryStore())

	result, err := s.Handle(context.Background(), "user-1", "task-observer")
	require.NoError(t, err)
	assert.Equal(t, "short summary", result.ReviewMsg)
}

func TestCancel_PublishesCancelEvent(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestSequencer(pub, bridge.New(), nil)

	require.NoError(t, s.Cancel(context.Background(), "corr-1"))
	require.Len(t, pub.published, 1)
	assert.Equal(t, contracts.TopicCancel, pub.published[0].topic)
	cancel := pub.published[0].payload.(*contracts.Cancel)
	assert.Equal(t, "corr-1", cancel.CorrelationID)
}
