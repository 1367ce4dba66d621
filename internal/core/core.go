// Package core wires the Sync Manager, Task Scheduler, Autonomy Cycle,
// Session Integrator, Resource Monitor, Bounded Cache, and Event Bus into
// the single runtime described by §6's external interface. It is the only
// package that imports all of the others; every other package remains
// independently testable.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyxveil/corona/internal/autonomy"
	"github.com/nyxveil/corona/internal/cache"
	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/internal/config"
	"github.com/nyxveil/corona/internal/eventbus"
	"github.com/nyxveil/corona/internal/ports"
	"github.com/nyxveil/corona/internal/resource"
	"github.com/nyxveil/corona/internal/scheduler"
	"github.com/nyxveil/corona/internal/session"
	"github.com/nyxveil/corona/internal/syncmgr"
)

// memOverflowFraction is the global smoothed memory-usage fraction above
// which every live session is treated as exceeding its allocation, driving
// the Session Integrator's backoff path (§4.7). The core has no per-session
// memory profiler; this approximates one from the Resource Monitor's
// whole-host reading.
const memOverflowFraction = 0.8

// Ports bundles the external collaborator interfaces a Core is wired to
// (§4.3). All fields are required.
type Ports struct {
	Emotion    ports.EmotionPort
	Voice      ports.VoicePort
	Recognizer ports.RecognizerPort
	Context    ports.ContextPort
	Service    ports.ServicePort
}

// Option configures a [Core] at construction time, primarily for tests that
// need to inject a fake [clock.Clock] or [resource.Sampler].
type Option func(*Core)

// WithClock overrides the default real-time clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Core) { c.clock = clk }
}

// WithSampler overrides the default host resource sampler.
func WithSampler(s resource.Sampler) Option {
	return func(c *Core) { c.sampler = s }
}

// Core owns every subsystem's lifetime and exposes the runtime API of §6.
type Core struct {
	cfg   *config.Config
	ports Ports

	clock   clock.Clock
	sampler resource.Sampler

	bus       *eventbus.Bus
	cache     *cache.Cache
	resources *resource.Monitor
	sync      *syncmgr.Manager
	scheduler *scheduler.Scheduler
	autonomy  *autonomy.Cycle
	sessions  *session.Integrator

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New wires every subsystem together from cfg and the supplied ports. It
// does not start any background loop; call [Core.Run] for that.
func New(cfg *config.Config, p Ports, opts ...Option) (*Core, error) {
	if p.Emotion == nil || p.Voice == nil || p.Recognizer == nil || p.Context == nil || p.Service == nil {
		return nil, fmt.Errorf("core: all five ports are required")
	}

	c := &Core{cfg: cfg, ports: p}
	for _, o := range opts {
		o(c)
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.sampler == nil {
		c.sampler = resource.NewHostSampler("/")
	}

	c.bus = eventbus.New(1024)
	c.cache = cache.New(c.clock, cache.Config{
		TTL:        cfg.Core.CacheTTL,
		MaxEntries: cfg.Core.CacheMaxEntries,
		MaxBytes:   cfg.Core.CacheMaxBytes,
	})
	c.resources = resource.New(c.sampler, c.bus, c.clock, resource.Config{Hz: 10})

	c.sync = syncmgr.New(p.Emotion, p.Voice, p.Recognizer, c.bus, c.clock, syncmgr.Config{
		PortDeadline: cfg.Core.PortDeadline,
	})

	schedCfg := scheduler.Config{
		ConcurrencyCap: cfg.Core.WorkerPoolSize,
		PerPriorityCaps: [4]float64{
			cfg.Core.PerPriorityCaps.Critical,
			cfg.Core.PerPriorityCaps.High,
			cfg.Core.PerPriorityCaps.Medium,
			cfg.Core.PerPriorityCaps.Low,
		},
		StarvationTimeouts: [4]time.Duration{
			0,
			cfg.Core.StarvationTimeouts.High,
			cfg.Core.StarvationTimeouts.Medium,
			cfg.Core.StarvationTimeouts.Low,
		},
	}
	c.scheduler = scheduler.New(c.resources, c.bus, c.clock, schedCfg, c.buildExecutors())

	c.autonomy = autonomy.New(c.sync, p.Context, c.scheduler, c.clock, autonomy.Config{
		EngagementThreshold: cfg.Core.EngagementThreshold,
		Proactivity:         cfg.Core.Proactivity,
		Weights: autonomy.Weights{
			Confidence: cfg.Core.PriorityWeights.Confidence,
			Novelty:    cfg.Core.PriorityWeights.Novelty,
			Emotion:    cfg.Core.PriorityWeights.Emotion,
		},
	})

	c.sessions = session.New(c.scheduler, c.clock, session.Config{
		Backoff: cfg.Core.SessionBackoff,
	}, c.sessionMemoryUsage)

	return c, nil
}

// buildExecutors maps every [scheduler.TaskKindTag] to its [scheduler.Executor].
func (c *Core) buildExecutors() map[scheduler.TaskKindTag]scheduler.Executor {
	return map[scheduler.TaskKindTag]scheduler.Executor{
		scheduler.KindAutonomy:             scheduler.ExecutorFunc(c.autonomyExecutor),
		scheduler.KindModelingPhase:        simulatedWorkExecutor(12, 500*time.Millisecond),
		scheduler.KindGameTraining:         simulatedWorkExecutor(30, 500*time.Millisecond),
		scheduler.KindResourceOptimization: simulatedWorkExecutor(4, 250*time.Millisecond),
		scheduler.KindMaintenance:          simulatedWorkExecutor(2, 250*time.Millisecond),
	}
}

// sessionMemoryUsage approximates a session's memory usage from the
// Resource Monitor's smoothed whole-host reading: once the host crosses
// [memOverflowFraction], every live session is reported as exceeding its
// own allocation so the Session Integrator's backoff path engages.
func (c *Core) sessionMemoryUsage(id uuid.UUID) (uint64, bool) {
	sess, ok := c.sessions.Get(id)
	if !ok {
		return 0, false
	}
	if c.resources.Current().MemUsage < memOverflowFraction {
		return 0, true
	}
	return sess.Resources.MemBytes + 1, true
}

// ─── §6 exposed API ──────────────────────────────────────────────────────

// SubmitTask admits task into the Task Scheduler and returns its id.
func (c *Core) SubmitTask(task scheduler.Task) (uuid.UUID, error) {
	return c.scheduler.Submit(task)
}

// ObserveState returns the current [syncmgr.SyncState] snapshot.
func (c *Core) ObserveState() syncmgr.SyncState {
	return c.sync.Observe()
}

// SubscribeEvents returns a live subscription to the Event Bus. Callers
// must call [eventbus.Subscription.Unsubscribe] when done.
func (c *Core) SubscribeEvents() *eventbus.Subscription {
	return c.bus.Subscribe()
}

// RequestTransition asks the Sync Manager to move the authoritative emotion
// to target, applying the matching canonical voice parameters.
func (c *Core) RequestTransition(ctx context.Context, target ports.Emotion) error {
	return c.sync.Transition(ctx, target)
}

// StartSession begins a new Session Integrator session for trainerRef at
// initialPhase and returns its id.
func (c *Core) StartSession(trainerRef string, initialPhase uint8) (uuid.UUID, error) {
	return c.sessions.Start(trainerRef, initialPhase)
}

// EndSession cancels all of a session's tasks and releases its resources.
func (c *Core) EndSession(id uuid.UUID) {
	c.sessions.End(id)
}

// ForceSync resets the Sync Manager to its default state.
func (c *Core) ForceSync(ctx context.Context) {
	c.sync.ForceSync(ctx)
}

// Cache exposes the bounded response cache for callers (e.g. port adapters)
// that want to memoize expensive lookups behind a context fingerprint.
func (c *Core) Cache() *cache.Cache { return c.cache }

// Bus exposes the Event Bus for callers (e.g. a dashboard) that want to
// observe traffic without going through [Core.SubscribeEvents].
func (c *Core) Bus() *eventbus.Bus { return c.bus }

// ─── Lifecycle ───────────────────────────────────────────────────────────

// Run starts every subsystem's background loop and blocks until ctx is
// cancelled or [Core.Stop] is called.
func (c *Core) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	loops := []func(context.Context){
		func(ctx context.Context) { c.resources.Run(ctx) },
		func(ctx context.Context) { c.sync.Run(ctx, c.cfg.Core.SyncHz) },
		func(ctx context.Context) { c.scheduler.Run(ctx, c.cfg.Core.SchedulerHz) },
		func(ctx context.Context) { c.autonomy.Run(ctx, c.cfg.Core.AutonomyHz) },
		func(ctx context.Context) { c.sessions.Run(ctx, 1) },
		c.sweepCache,
	}
	for _, loop := range loops {
		c.wg.Add(1)
		go func(loop func(context.Context)) {
			defer c.wg.Done()
			loop(ctx)
		}(loop)
	}

	<-ctx.Done()
	c.wg.Wait()
}

// sweepCache periodically evicts expired cache entries (§4.2: sweep must
// run at least every ttl/2).
func (c *Core) sweepCache(ctx context.Context) {
	interval := c.cfg.Core.CacheTTL / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cache.Sweep()
		}
	}
}

// Stop cancels the Run context, causing all background loops to exit.
func (c *Core) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
}
