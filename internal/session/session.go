// Package session implements the Session Integrator (§4.7): it binds a
// long-lived external collaborator ("trainer") to a Scheduler resource
// allocation, supervises its lifetime, and bumps priority or backs off on
// resource overflow.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/internal/corona"
	"github.com/nyxveil/corona/internal/scheduler"
)

const (
	defaultCPUShare    = 0.5
	defaultMemBytes    = 512 << 20
	longRunningAfter   = 2 * time.Hour
	defaultBackoff     = 5 * time.Second
)

// MemoryUsage is the subset of measured resource usage the integrator
// needs to detect overflow (§4.7 monitor).
type MemoryUsage func(session uuid.UUID) (usedBytes uint64, ok bool)

// Session is a bound unit of long-lived work (§3).
type Session struct {
	ID         uuid.UUID
	TrainerRef string
	ModelPhase uint8
	Completion float64
	Resources  scheduler.Resources
	Started    time.Time

	backingOff bool
}

// Config tunes the Session Integrator.
type Config struct {
	Backoff time.Duration
}

func (c *Config) withDefaults() {
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
}

// Integrator is the Session Integrator (§4.7).
type Integrator struct {
	sched   *scheduler.Scheduler
	clock   clock.Clock
	cfg     Config
	usage   MemoryUsage

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// New creates an [Integrator]. usage may be nil, in which case overflow
// detection is skipped.
func New(sched *scheduler.Scheduler, clk clock.Clock, cfg Config, usage MemoryUsage) *Integrator {
	cfg.withDefaults()
	return &Integrator{
		sched:    sched,
		clock:    clk,
		cfg:      cfg,
		usage:    usage,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Start allocates resources (default cpu_share=0.5, mem_bytes=512MiB),
// submits a ModelingPhase and a GameTraining task at Medium priority, and
// records the session (§4.7 start).
func (i *Integrator) Start(trainerRef string, initialPhase uint8) (uuid.UUID, error) {
	id := uuid.New()
	resources := scheduler.Resources{CPUShare: defaultCPUShare, MemBytes: defaultMemBytes}

	s := &Session{
		ID:         id,
		TrainerRef: trainerRef,
		ModelPhase: initialPhase,
		Resources:  resources,
		Started:    i.clock.Now(),
	}

	i.mu.Lock()
	i.sessions[id] = s
	i.mu.Unlock()

	if err := i.submitPhaseTasks(s); err != nil {
		i.mu.Lock()
		delete(i.sessions, id)
		i.mu.Unlock()
		return uuid.Nil, err
	}

	return id, nil
}

func (i *Integrator) submitPhaseTasks(s *Session) error {
	parent := s.ID
	_, err := i.sched.Submit(scheduler.Task{
		Priority:      scheduler.Medium,
		Kind:          scheduler.TaskKind{Tag: scheduler.KindModelingPhase, Phase: s.ModelPhase},
		Resources:     s.Resources,
		ParentSession: &parent,
	})
	if err != nil {
		return err
	}
	_, err = i.sched.Submit(scheduler.Task{
		Priority:      scheduler.Medium,
		Kind:          scheduler.TaskKind{Tag: scheduler.KindGameTraining, GameID: s.ID.String()},
		Resources:     s.Resources,
		ParentSession: &parent,
	})
	return err
}

// Advance updates model_phase and resubmits tasks for the new phase
// (§4.7 advance).
func (i *Integrator) Advance(id uuid.UUID, nextPhase uint8) error {
	i.mu.Lock()
	s, ok := i.sessions[id]
	if !ok {
		i.mu.Unlock()
		return fmt.Errorf("session: %s not found: %w", id, corona.ErrRejected)
	}
	s.ModelPhase = nextPhase
	i.mu.Unlock()

	return i.submitPhaseTasks(s)
}

// Monitor runs the periodic health checks of §4.7 monitor: session-age
// priority bump past 2h, and memory-overflow backoff. Intended to be
// called at >= 1Hz via [Integrator.Run].
func (i *Integrator) Monitor(ctx context.Context) {
	now := i.clock.Now()

	i.mu.Lock()
	sessions := make([]*Session, 0, len(i.sessions))
	for _, s := range i.sessions {
		sessions = append(sessions, s)
	}
	i.mu.Unlock()

	for _, s := range sessions {
		if now.Sub(s.Started) > longRunningAfter {
			i.sched.BumpSessionPriority(s.ID, scheduler.High)
		}

		if i.usage == nil {
			continue
		}
		used, ok := i.usage(s.ID)
		if !ok || used <= s.Resources.MemBytes {
			continue
		}

		i.handleOverflow(ctx, s)
	}
}

// handleOverflow implements §4.7's "request the Scheduler to pause
// non-critical child tasks and wait backoff before resuming".
func (i *Integrator) handleOverflow(ctx context.Context, s *Session) {
	slog.Warn("session: memory overflow, backing off", "session_id", s.ID, "backoff", i.cfg.Backoff)

	i.mu.Lock()
	if s.backingOff {
		i.mu.Unlock()
		return
	}
	s.backingOff = true
	i.mu.Unlock()

	i.sched.PauseSessionTasks(s.ID)

	go func() {
		i.clock.Sleep(ctx, i.cfg.Backoff)
		i.sched.ResumeSessionTasks(s.ID)
		i.mu.Lock()
		s.backingOff = false
		i.mu.Unlock()
	}()
}

// End cancels all child tasks, releases resources, and destroys the
// session record (§4.7 end).
func (i *Integrator) End(id uuid.UUID) {
	i.sched.CancelSessionTasks(id)

	i.mu.Lock()
	delete(i.sessions, id)
	i.mu.Unlock()
}

// Get returns a copy of the session record, if it exists.
func (i *Integrator) Get(id uuid.UUID) (Session, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Count returns the number of active sessions.
func (i *Integrator) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.sessions)
}

// Run drives [Integrator.Monitor] at the given cadence until ctx is
// cancelled.
func (i *Integrator) Run(ctx context.Context, hz float64) {
	if hz <= 0 {
		hz = 1
	}
	period := time.Duration(float64(time.Second) / hz)
	ticker := i.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			i.Monitor(ctx)
		}
	}
}
