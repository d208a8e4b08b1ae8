package saga

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(newTestDB(t))
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	c, err := s.Load(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestStore_CreateIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, created, err := s.CreateIfAbsent(ctx, "corr-1", "user-1", "task-1", "Observer basics")
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, StatusCompiling, c.Status)
	assert.Equal(t, "user-1", c.UserID)
	assert.Nil(t, c.CompletedAt)

	// Same correlation id again returns the existing record untouched.
	again, created, err := s.CreateIfAbsent(ctx, "corr-1", "user-other", "task-other", "Other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "user-1", again.UserID)
	assert.Equal(t, "task-1", again.TaskID)
}

func TestStore_SaveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, _, err := s.CreateIfAbsent(ctx, "corr-2", "user-1", "task-1", "Observer basics")
	require.NoError(t, err)

	updated, _, applied := Apply(*c, TriggerCompileFinished, "compiled fine", time.Now())
	require.True(t, applied)
	require.NoError(t, s.Save(ctx, &updated))

	loaded, err := s.Load(ctx, "corr-2")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, StatusTesting, loaded.Status)
	assert.True(t, loaded.Compiled.Success)
	assert.Equal(t, "compiled fine", loaded.Compiled.Message)
	assert.False(t, loaded.Tested.Attempted)
}

func TestStore_LockSerializesSameKey(t *testing.T) {
	s := newTestStore(t)

	var inCritical, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("same-key")
			defer unlock()
			mu.Lock()
			inCritical++
			if inCritical > max {
				max = inCritical
			}
			mu.Unlock()
			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, max)
}

func TestStore_ListByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := s.CreateIfAbsent(ctx, fmt.Sprintf("corr-%d", i), "user-1", "task-1", "Observer basics")
		require.NoError(t, err)
	}
	_, _, err := s.CreateIfAbsent(ctx, "corr-other", "user-2", "task-1", "Observer basics")
	require.NoError(t, err)

	checks, err := s.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, checks, 3)

	limited, err := s.ListByUser(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
