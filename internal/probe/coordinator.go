package probe

import (
	"sync"
	"sync/atomic"
	"time"
)

// Coordinator carries the process-wide stop flag and the join barrier.
// The flag is monotonic: set exactly once, never cleared, read by every
// worker on each poll iteration. It needs only atomic visibility, no lock;
// a worker observing the new value up to one poll interval late is fine.
type Coordinator struct {
	stop atomic.Bool
	wg   sync.WaitGroup
}

// NewCoordinator creates a coordinator with no registered workers.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// RequestStop sets the stop flag. Idempotent: repeated calls have the same
// effect as one. The return value reports whether this call was the first,
// so callers can log the transition exactly once.
func (c *Coordinator) RequestStop() bool {
	return c.stop.CompareAndSwap(false, true)
}

// Stopping reports whether a stop has been requested.
func (c *Coordinator) Stopping() bool {
	return c.stop.Load()
}

// Register adds a worker to the join barrier. Must be called before the
// worker's goroutine starts.
func (c *Coordinator) Register() {
	c.wg.Add(1)
}

// WorkerClosed signals that one registered worker reached its terminal state.
func (c *Coordinator) WorkerClosed() {
	c.wg.Done()
}

// Wait blocks until every registered worker has closed.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// AwaitAll blocks until every registered worker has closed or the timeout
// elapses, whichever comes first. It returns false on timeout; workers that
// have not closed by then are the caller's to abandon.
func (c *Coordinator) AwaitAll(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
