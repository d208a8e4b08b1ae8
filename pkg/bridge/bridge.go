// Package bridge translates asynchronous stage-completion events into
// bounded synchronous waits.
//
// A cell is created lazily by whichever side arrives first: a waiter that
// registers before the worker responds, or a resolver whose event was
// consumed before the waiter got around to waiting. This closes the
// lost-wakeup race inherent in publish-then-wait.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/patternlab/checker/pkg/contracts"
)

// DefaultCellTTL bounds how long an unconsumed resolution is kept. Checks
// resumed from the bus after a restart resolve into a bridge nobody waits on;
// those cells must not accumulate for the life of the process. The TTL only
// needs to outlive the longest stage deadline plus the waiter's grace.
const DefaultCellTTL = 15 * time.Minute

// Result is the outcome a wait observes for one stage.
type Result struct {
	Success  bool
	TimedOut bool
	Canceled bool
	Message  string
}

type cell struct {
	ch       chan Result
	resolved bool
}

// Bridge is a correlation-keyed registry of pending waiters. Safe for
// concurrent use; unrelated submissions never contend beyond the map lock.
type Bridge struct {
	mu    sync.Mutex
	cells *ttlcache.Cache[string, *cell]
}

// New creates a Bridge whose unconsumed cells expire after DefaultCellTTL.
func New() *Bridge {
	return NewWithTTL(DefaultCellTTL)
}

// NewWithTTL creates a Bridge with an explicit cell lifetime.
func NewWithTTL(ttl time.Duration) *Bridge {
	b := &Bridge{
		cells: ttlcache.New(
			ttlcache.WithTTL[string, *cell](ttl),
		),
	}
	go b.cells.Start()
	return b
}

// Stop terminates the expiry janitor.
func (b *Bridge) Stop() {
	b.cells.Stop()
}

func key(correlationID string, stage contracts.Stage) string {
	return correlationID + "/" + string(stage)
}

// cellFor returns the cell for the key, creating it if needed. Caller holds mu.
func (b *Bridge) cellFor(k string) *cell {
	item, _ := b.cells.GetOrSet(k, &cell{ch: make(chan Result, 1)})
	return item.Value()
}

// Resolve delivers the outcome for one stage of one submission. Only the
// first call per (correlation id, stage) has effect; later calls are dropped
// and report false. If no waiter is registered yet the outcome is buffered so
// a subsequent Wait returns immediately; a buffered outcome nobody consumes
// expires with its cell.
func (b *Bridge) Resolve(correlationID string, stage contracts.Stage, r Result) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.cellFor(key(correlationID, stage))
	if c.resolved {
		return false
	}
	c.resolved = true
	c.ch <- r
	return true
}

// Wait blocks until the stage resolves, the timeout expires, or the context
// is done. On resolution it returns (result, true) and removes the cell. On
// expiry it returns a synthesized timeout result and false; the cell is
// removed so a late resolver finds nobody to wake.
func (b *Bridge) Wait(ctx context.Context, correlationID string, stage contracts.Stage, timeout time.Duration) (Result, bool) {
	k := key(correlationID, stage)

	b.mu.Lock()
	c := b.cellFor(k)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-c.ch:
		b.remove(k)
		return r, true
	case <-timer.C:
	case <-ctx.Done():
	}

	// Expired or cancelled. A resolver may have slipped in between the timer
	// firing and us taking the lock; prefer the real outcome if so.
	b.mu.Lock()
	select {
	case r := <-c.ch:
		b.cells.Delete(k)
		b.mu.Unlock()
		return r, true
	default:
	}
	b.cells.Delete(k)
	b.mu.Unlock()

	return Result{TimedOut: true, Message: "no response within deadline"}, false
}

// Forget drops any cells for the correlation id. Callers that stop waiting
// mid-pipeline use this so buffered resolutions do not accumulate.
func (b *Bridge) Forget(correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, stage := range []contracts.Stage{contracts.StageCompile, contracts.StageVerify, contracts.StageReview} {
		b.cells.Delete(key(correlationID, stage))
	}
}

func (b *Bridge) remove(k string) {
	b.mu.Lock()
	b.cells.Delete(k)
	b.mu.Unlock()
}

// Pending returns the number of registered cells. Used by tests and the
// health endpoint.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cells.Len()
}
