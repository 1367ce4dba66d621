package scheduler

import (
	"sync/atomic"
	"time"
)

// Control is handed to an [Executor] so it can cooperate with the
// scheduler's supervision: poll for a requested graceful stop, report
// liveness, and check whether it has been paused under resource pressure
// (§4.6, §5).
type Control struct {
	aborting     atomic.Bool
	paused       atomic.Bool
	lastProgress atomic.Int64 // unix nanos
}

func newControl(start time.Time) *Control {
	c := &Control{}
	c.lastProgress.Store(start.UnixNano())
	return c
}

// Aborting reports whether the scheduler has requested this task stop at
// its next cooperative suspension point.
func (c *Control) Aborting() bool { return c.aborting.Load() }

// Paused reports whether the scheduler has asked this task to pause (Low
// priority tasks under resource throttling, §4.6).
func (c *Control) Paused() bool { return c.paused.Load() }

// ReportProgress marks the task as making forward progress, resetting the
// stuck-task timer (§4.6).
func (c *Control) ReportProgress(now time.Time) { c.lastProgress.Store(now.UnixNano()) }

func (c *Control) lastProgressTime() time.Time {
	return time.Unix(0, c.lastProgress.Load())
}
