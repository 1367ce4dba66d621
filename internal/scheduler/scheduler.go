// Package scheduler implements the Task Scheduler (§4.6): a priority
// queue with resource-aware admission control, starvation promotion, and
// running-task supervision (timeout, stuck detection, graceful stop). A
// task's memory use is not measured or checked against its allocation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/internal/corona"
	"github.com/nyxveil/corona/internal/eventbus"
)

// ResourceSource is the subset of the Resource Monitor the scheduler
// depends on (§4.1, §4.6 admission rule ii).
type ResourceSource interface {
	ShouldThrottle() bool
	WouldExceed(additionalCPU float64) bool
}

const (
	defaultGracefulStopWait = 30 * time.Second
	defaultStuckAfter       = 5 * time.Minute
	defaultNonCriticalMax   = time.Hour
	memWarnFraction         = 0.9
	memAbortFraction        = 1.0
)

// Config tunes the scheduler (§6 Configuration table). Zero values take
// the documented defaults.
type Config struct {
	// ConcurrencyCap bounds total simultaneously-running tasks. Default:
	// min(NumCPU, 8).
	ConcurrencyCap int

	// PerPriorityCaps is the fraction of ConcurrencyCap each priority may
	// occupy. Defaults: Critical=1.0, High=0.75, Medium=0.5, Low=0.25.
	PerPriorityCaps [priorityLevels]float64

	// StarvationTimeouts is W_p per priority: how long a task waits
	// before promotion. Defaults: Low=60s, Medium=30s, High=10s,
	// Critical=0 (never promoted further).
	StarvationTimeouts [priorityLevels]time.Duration

	// GracefulStopWait bounds how long a task may ignore Aborting before
	// forced cancellation. Default 30s.
	GracefulStopWait time.Duration
}

func (c *Config) withDefaults() {
	if c.ConcurrencyCap <= 0 {
		cap := runtime.NumCPU()
		if cap > 8 {
			cap = 8
		}
		c.ConcurrencyCap = cap
	}
	if c.PerPriorityCaps == ([priorityLevels]float64{}) {
		c.PerPriorityCaps = [priorityLevels]float64{1.0, 0.75, 0.5, 0.25}
	}
	if c.StarvationTimeouts == ([priorityLevels]time.Duration{}) {
		c.StarvationTimeouts = [priorityLevels]time.Duration{0, 10 * time.Second, 30 * time.Second, 60 * time.Second}
	}
	if c.GracefulStopWait <= 0 {
		c.GracefulStopWait = defaultGracefulStopWait
	}
}

type runningTask struct {
	task      Task
	admittedAt Priority // priority slot this task occupies for cap accounting
	run        TaskRun
	ctrl       *Control
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
}

// Scheduler is the Task Scheduler (§4.6). It owns the priority queues and
// running-tasks table exclusively; all access is serialized by mu, with no
// I/O performed while mu is held (§5).
type Scheduler struct {
	cfg       Config
	resources ResourceSource
	bus       *eventbus.Bus
	clock     clock.Clock
	executors map[TaskKindTag]Executor

	mu      sync.Mutex
	queues  [priorityLevels][]*Task
	running map[uuid.UUID]*runningTask

	modelingPhaseRunning bool
	autonomyRunning      bool
}

// New creates a [Scheduler]. executors maps each [TaskKindTag] to the
// [Executor] that runs it; a kind with no registered executor is rejected
// at submission.
func New(resources ResourceSource, bus *eventbus.Bus, clk clock.Clock, cfg Config, executors map[TaskKindTag]Executor) *Scheduler {
	cfg.withDefaults()
	return &Scheduler{
		cfg:       cfg,
		resources: resources,
		bus:       bus,
		clock:     clk,
		executors: executors,
		running:   make(map[uuid.UUID]*runningTask),
	}
}

// Submit enqueues task, assigning it an id if it has none, and returns the
// id (§4.6 submit). Enqueue time is recorded for starvation promotion.
func (s *Scheduler) Submit(task Task) (uuid.UUID, error) {
	if _, ok := s.executors[task.Kind.Tag]; !ok {
		return uuid.Nil, fmt.Errorf("scheduler: no executor for task kind %s: %w", task.Kind.Tag, corona.ErrRejected)
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.enqueuedAt = s.clock.Now()

	s.mu.Lock()
	s.queues[task.Priority] = append(s.queues[task.Priority], &task)
	s.mu.Unlock()

	return task.ID, nil
}

// effectivePriority applies starvation promotion (§4.6) for admission
// purposes only; the task's stored Priority is never mutated.
func (s *Scheduler) effectivePriority(t *Task, now time.Time) Priority {
	eff := t.Priority
	waited := now.Sub(t.enqueuedAt)
	for {
		w := s.cfg.StarvationTimeouts[eff]
		if w <= 0 || waited < w {
			return eff
		}
		promoted, ok := eff.demotedUp()
		if !ok {
			return eff
		}
		eff = promoted
	}
}

// demotedUp returns the next higher priority (Low->Medium->High->Critical).
func (p Priority) demotedUp() (Priority, bool) {
	if p <= Critical {
		return p, false
	}
	return p - 1, true
}

// capFor returns the maximum number of concurrently-running tasks allowed
// at priority p.
func (s *Scheduler) capFor(p Priority) int {
	n := int(float64(s.cfg.ConcurrencyCap) * s.cfg.PerPriorityCaps[p])
	if n < 1 {
		n = 1
	}
	return n
}

// runningCountAtLocked returns how many tasks currently occupy an admission slot
// at priority p. Must be called with s.mu held.
func (s *Scheduler) runningCountAtLocked(p Priority) int {
	n := 0
	for _, rt := range s.running {
		if rt.admittedAt == p {
			n++
		}
	}
	return n
}

// Tick runs one scheduling cycle (§4.6): throttle pause, admission,
// supervision, reaping. Intended to be called at >= 10 Hz via [Run].
func (s *Scheduler) Tick(ctx context.Context) {
	if s.resources.ShouldThrottle() {
		s.pauseLowPriority()
	} else {
		s.resumeLowPriority()
	}

	s.processQueues(ctx)
	s.supervise(ctx)
	s.reap()
}

func (s *Scheduler) pauseLowPriority() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.running {
		if rt.task.Priority == Low {
			rt.ctrl.paused.Store(true)
		}
	}
}

func (s *Scheduler) resumeLowPriority() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.running {
		if rt.task.Priority == Low {
			rt.ctrl.paused.Store(false)
		}
	}
}

// processQueues drains queues in priority order, admitting tasks subject
// to per-priority caps, resource prediction, and kind preconditions
// (§4.6 Admission). A queue's FIFO head blocks the rest of that queue once
// it cannot be admitted.
func (s *Scheduler) processQueues(ctx context.Context) {
	now := s.clock.Now()

	for level := Critical; level <= Low; level++ {
		for {
			s.mu.Lock()
			q := s.queues[level]
			if len(q) == 0 {
				s.mu.Unlock()
				break
			}
			t := q[0]
			eff := s.effectivePriority(t, now)
			admitted, reason := s.canAdmitLocked(t, eff)
			if !admitted {
				s.mu.Unlock()
				slog.Debug("scheduler: admission denied", "task_id", t.ID, "priority", t.Priority.String(), "reason", reason)
				break
			}
			s.queues[level] = q[1:]
			s.mu.Unlock()

			s.startTask(ctx, *t, eff)
		}
	}
}

// canAdmitLocked evaluates §4.6's three admission conditions. Must be
// called with s.mu held.
func (s *Scheduler) canAdmitLocked(t *Task, eff Priority) (bool, string) {
	if len(s.running) >= s.cfg.ConcurrencyCap {
		return false, "concurrency cap reached"
	}
	if s.runningCountAtLocked(eff) >= s.capFor(eff) {
		return false, "no slot available"
	}
	if s.resources.WouldExceed(t.Resources.CPUShare) {
		return false, "would exceed resource budget"
	}
	if t.Kind.Tag == KindModelingPhase && s.modelingPhaseRunning {
		return false, "a modeling phase is already running"
	}
	if t.Kind.Tag == KindAutonomy && s.autonomyRunning {
		return false, "an autonomy decision is already in flight"
	}
	return true, ""
}

// startTask admits t: spawns its [Executor] on a goroutine and registers a
// [runningTask] for supervision.
func (s *Scheduler) startTask(ctx context.Context, t Task, eff Priority) {
	tctx, cancel := context.WithCancel(ctx)
	now := s.clock.Now()
	ctrl := newControl(now)

	rt := &runningTask{
		task:       t,
		admittedAt: eff,
		run:        TaskRun{TaskID: t.ID, Start: now, State: StateRunning, LastProgress: now},
		ctrl:       ctrl,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if t.Kind.Tag == KindModelingPhase {
		s.modelingPhaseRunning = true
	}
	if t.Kind.Tag == KindAutonomy {
		s.autonomyRunning = true
	}
	s.running[t.ID] = rt
	s.mu.Unlock()

	exec := s.executors[t.Kind.Tag]

	go func() {
		defer close(rt.done)
		rt.err = exec.Execute(tctx, t, ctrl)
	}()

	s.publish(eventbus.Event{Kind: eventbus.KindTaskRun, Payload: rt.run})
}

// supervise enforces the timeout and stuck-task rules of §4.6. It does not
// check task memory use; memWarnFraction and memAbortFraction are unused.
func (s *Scheduler) supervise(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var toStop []*runningTask
	for _, rt := range s.running {
		if rt.run.State != StateRunning {
			continue
		}
		age := now.Sub(rt.run.Start)
		stuck := now.Sub(rt.ctrl.lastProgressTime()) > defaultStuckAfter
		timedOut := age > defaultNonCriticalMax && rt.task.Priority != Critical
		if stuck || timedOut {
			toStop = append(toStop, rt)
		}
	}
	s.mu.Unlock()

	for _, rt := range toStop {
		s.gracefulStop(ctx, rt)
	}
}

// gracefulStop implements §4.6's graceful-stop protocol: advise the task
// via Control.Aborting, wait up to GracefulStopWait for it to reach a
// terminal state, else forcibly cancel its context.
func (s *Scheduler) gracefulStop(ctx context.Context, rt *runningTask) {
	s.mu.Lock()
	if rt.run.State == StateRunning {
		rt.run.State = StateAborting
	}
	s.mu.Unlock()
	rt.ctrl.aborting.Store(true)

	timer := s.clock.NewTicker(s.cfg.GracefulStopWait)
	defer timer.Stop()

	select {
	case <-rt.done:
		return
	case <-timer.C():
	}

	select {
	case <-rt.done:
	default:
		slog.Warn("scheduler: forcibly canceling unresponsive task", "task_id", rt.task.ID)
		rt.cancel()
		<-rt.done
		s.mu.Lock()
		rt.run.State = StateAborted
		rt.err = fmt.Errorf("scheduler: task %s forcibly canceled: %w", rt.task.ID, corona.ErrDeadlineExceeded)
		s.mu.Unlock()
	}
}

// reap removes terminated tasks from the running table and publishes
// their final [TaskRun] (§4.6 cleanup).
func (s *Scheduler) reap() {
	s.mu.Lock()
	var finished []*runningTask
	for id, rt := range s.running {
		select {
		case <-rt.done:
			finished = append(finished, rt)
			delete(s.running, id)
		default:
		}
	}
	for _, rt := range finished {
		if rt.task.Kind.Tag == KindModelingPhase {
			s.modelingPhaseRunning = false
		}
		if rt.task.Kind.Tag == KindAutonomy {
			s.autonomyRunning = false
		}
	}
	s.mu.Unlock()

	for _, rt := range finished {
		final := rt.run
		if !final.State.terminal() {
			if rt.err != nil {
				final.State = StateFailed
				final.Err = rt.err
			} else {
				final.State = StateCompleted
			}
		}
		final.LastProgress = rt.ctrl.lastProgressTime()
		if rt.err != nil {
			slog.Warn("scheduler: task ended with error", "task_id", rt.task.ID, "error", rt.err)
		}
		s.publish(eventbus.Event{Kind: eventbus.KindTaskRun, Payload: final})
	}
}

func (s *Scheduler) publish(ev eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// RunningCount returns the number of currently-running tasks, for tests
// and diagnostics.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// QueueDepth returns the number of tasks queued at priority p.
func (s *Scheduler) QueueDepth(p Priority) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[p])
}

// BumpSessionPriority raises the stored priority of every queued or
// running task whose ParentSession equals session to at least target
// (§4.7 monitor: "bump all its tasks to High priority"). Running tasks
// keep their current admission slot; the new priority applies to their
// TaskRun bookkeeping and to any future re-submission.
func (s *Scheduler) BumpSessionPriority(session uuid.UUID, target Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for lvl := Critical; lvl <= Low; lvl++ {
		for _, t := range s.queues[lvl] {
			if t.ParentSession != nil && *t.ParentSession == session && t.Priority > target {
				t.Priority = target
			}
		}
	}
	for _, rt := range s.running {
		if rt.task.ParentSession != nil && *rt.task.ParentSession == session && rt.task.Priority > target {
			rt.task.Priority = target
		}
	}
}

// PauseSessionTasks marks every running, non-Critical task belonging to
// session as paused, for the Session Integrator's resource-overflow
// backoff (§4.7 monitor).
func (s *Scheduler) PauseSessionTasks(session uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.running {
		if rt.task.ParentSession != nil && *rt.task.ParentSession == session && rt.task.Priority != Critical {
			rt.ctrl.paused.Store(true)
		}
	}
}

// ResumeSessionTasks clears the pause flag set by [Scheduler.PauseSessionTasks].
func (s *Scheduler) ResumeSessionTasks(session uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.running {
		if rt.task.ParentSession != nil && *rt.task.ParentSession == session {
			rt.ctrl.paused.Store(false)
		}
	}
}

// CancelSessionTasks forcibly cancels every running task belonging to
// session and drops every still-queued task for it, without waiting for
// graceful stop (§4.7 end: "cancels all child tasks, releases resources").
func (s *Scheduler) CancelSessionTasks(session uuid.UUID) {
	s.mu.Lock()
	var toCancel []*runningTask
	for _, rt := range s.running {
		if rt.task.ParentSession != nil && *rt.task.ParentSession == session {
			toCancel = append(toCancel, rt)
		}
	}
	for lvl := Critical; lvl <= Low; lvl++ {
		kept := s.queues[lvl][:0]
		for _, t := range s.queues[lvl] {
			if t.ParentSession == nil || *t.ParentSession != session {
				kept = append(kept, t)
			}
		}
		s.queues[lvl] = kept
	}
	s.mu.Unlock()

	for _, rt := range toCancel {
		rt.cancel()
		<-rt.done
	}
	s.reap()
}

// SessionTaskCount returns the number of queued plus running tasks
// belonging to session, used to verify full resource release after
// [Scheduler.CancelSessionTasks] (§8 round-trip property).
func (s *Scheduler) SessionTaskCount(session uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for lvl := Critical; lvl <= Low; lvl++ {
		for _, t := range s.queues[lvl] {
			if t.ParentSession != nil && *t.ParentSession == session {
				n++
			}
		}
	}
	for _, rt := range s.running {
		if rt.task.ParentSession != nil && *rt.task.ParentSession == session {
			n++
		}
	}
	return n
}

// Run drives [Scheduler.Tick] at the given cadence until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, hz float64) {
	if hz <= 0 {
		hz = 10
	}
	period := time.Duration(float64(time.Second) / hz)
	ticker := s.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}
