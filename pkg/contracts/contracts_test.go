package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_Valid(t *testing.T) {
	assert.True(t, StageCompile.Valid())
	assert.True(t, StageVerify.Valid())
	assert.True(t, StageReview.Valid())
	assert.False(t, Stage("deploy").Valid())
	assert.False(t, Stage("").Valid())
}

func TestStageTopics(t *testing.T) {
	assert.Equal(t, TopicCompileRequested, RequestTopic(StageCompile))
	assert.Equal(t, TopicVerifyRequested, RequestTopic(StageVerify))
	assert.Equal(t, TopicReviewRequested, RequestTopic(StageReview))

	assert.Equal(t, TopicCompileFinished, FinishedTopic(StageCompile))
	assert.Equal(t, TopicVerifyFinished, FinishedTopic(StageVerify))
	assert.Equal(t, TopicReviewFinished, FinishedTopic(StageReview))

	assert.Equal(t, TopicCompileFailed, FailedTopic(StageCompile))
	assert.Equal(t, TopicVerifyFailed, FailedTopic(StageVerify))
	assert.Equal(t, TopicReviewFailed, FailedTopic(StageReview))
}

func TestStageTopics_UnknownStagePanics(t *testing.T) {
	assert.Panics(t, func() { RequestTopic(Stage("deploy")) })
	assert.Panics(t, func() { FinishedTopic(Stage("deploy")) })
	assert.Panics(t, func() { FailedTopic(Stage("deploy")) })
}
