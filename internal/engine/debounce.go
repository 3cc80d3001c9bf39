package engine

import (
	"sync"
	"time"
)

// deferredTask is a fire-once deferred callback that can be cancelled
// and superseded any number of times before it fires. Discard and
// finalize rely on cancellation being deterministic, which is why this
// is an explicit type rather than a raw timer handle.
type deferredTask struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	fired     bool
}

// deferTask schedules fn to run once after d unless cancelled first.
// The callback receives its own task handle so it can identify itself
// to whoever is tracking it.
func deferTask(d time.Duration, fn func(t *deferredTask)) *deferredTask {
	task := &deferredTask{}
	task.timer = time.AfterFunc(d, func() {
		task.mu.Lock()
		if task.cancelled {
			task.mu.Unlock()
			return
		}
		task.fired = true
		task.mu.Unlock()
		fn(task)
	})
	return task
}

// Cancel stops the task. It reports whether the callback was prevented
// from running; false means it already fired.
func (t *deferredTask) Cancel() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	t.cancelled = true
	t.timer.Stop()
	return true
}
