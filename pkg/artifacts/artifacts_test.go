package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	s.PutReview("corr-1", "a thorough review")

	text, err := s.FetchReview(context.Background(), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "a thorough review", text)
}

func TestMemoryStore_MissingReview(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.FetchReview(context.Background(), "corr-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Overwrite(t *testing.T) {
	s := NewMemoryStore()
	s.PutReview("corr-1", "first draft")
	s.PutReview("corr-1", "final review")

	text, err := s.FetchReview(context.Background(), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "final review", text)
}
