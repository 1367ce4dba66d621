// Package autonomy implements the Autonomy Cycle (§4.5): a periodic tick
// that scores the need to act, selects the highest-priority candidate
// action, validates it against the current emotion, and dispatches it to
// the Task Scheduler as a Task::Autonomy(Decision).
package autonomy

import (
	"context"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/internal/ports"
	"github.com/nyxveil/corona/internal/scheduler"
	"github.com/nyxveil/corona/internal/syncmgr"
)

const (
	defaultEngagementThreshold = 0.6
	defaultProactivity         = 0.8
	suspensionDeadline         = 50 * time.Millisecond
	reflectionCapacity         = 256
	noveltyMinimum             = 0.2
)

// Weights are the priority function's coefficients (§4.5): w_c, w_n, w_e.
type Weights struct {
	Confidence float64
	Novelty    float64
	Emotion    float64
}

// DefaultWeights matches §4.5's documented defaults (0.5, 0.3, 0.2).
var DefaultWeights = Weights{Confidence: 0.5, Novelty: 0.3, Emotion: 0.2}

// Config tunes the Autonomy Cycle (§6 Configuration table).
type Config struct {
	EngagementThreshold float64
	Proactivity         float64
	Weights             Weights
}

func (c *Config) withDefaults() {
	if c.EngagementThreshold <= 0 {
		c.EngagementThreshold = defaultEngagementThreshold
	}
	if c.Proactivity <= 0 {
		c.Proactivity = defaultProactivity
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights
	}
}

// Reflection is one entry of the bounded decision history (§4.5 step 7).
type Reflection struct {
	Decision ports.Decision
	TaskID   uuid.UUID
	At       time.Time
	Idle     bool
}

// candidateAction is one of the closed Action set offered by
// enumerateCandidates, independent of the emotion/context it will be
// scored against.
type candidateAction struct {
	kind   ports.ActionKind
	topic  string
	domain string
	skill  string
}

// Cycle is the Autonomy Cycle (§4.5).
type Cycle struct {
	cfg        Config
	sync       *syncmgr.Manager
	context    ports.ContextPort
	scheduler  *scheduler.Scheduler
	clock      clock.Clock
	candidates func() []candidateAction

	mu              sync.Mutex
	lastFingerprint []byte
	reflections     []Reflection
	abandonedTicks  uint64
}

// defaultCandidates returns a representative, fixed candidate set per
// tick. A deployment with richer domain knowledge may widen this via
// [Cycle.SetCandidateSource].
func defaultCandidates() []candidateAction {
	return []candidateAction{
		{kind: ports.ActionStartConversation, topic: "general"},
		{kind: ports.ActionShareKnowledge, domain: "general"},
		{kind: ports.ActionExpressEmotion},
		{kind: ports.ActionLearnSkill, skill: "general"},
	}
}

// New creates a [Cycle] wired to its collaborators.
func New(syncManager *syncmgr.Manager, ctxPort ports.ContextPort, sched *scheduler.Scheduler, clk clock.Clock, cfg Config) *Cycle {
	cfg.withDefaults()
	return &Cycle{
		cfg:        cfg,
		sync:       syncManager,
		context:    ctxPort,
		scheduler:  sched,
		clock:      clk,
		candidates: defaultCandidates,
	}
}

// SetCandidateSource overrides the candidate-action enumeration (§4.5 step
// 4, "enumerate candidate actions").
func (c *Cycle) SetCandidateSource(f func() []candidateAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = f
}

// Reflections returns a copy of the bounded reflection log (§4.5 step 7),
// most recent last.
func (c *Cycle) Reflections() []Reflection {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Reflection, len(c.reflections))
	copy(out, c.reflections)
	return out
}

// AbandonedTicks reports how many ticks exceeded the 50ms suspension
// deadline and were abandoned (§4.5).
func (c *Cycle) AbandonedTicks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandonedTicks
}

// Tick executes one cycle (§4.5 steps 1-7). It never blocks on I/O for
// more than 50ms; an unresolved suspension point abandons the tick.
func (c *Cycle) Tick(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, suspensionDeadline)
	defer cancel()

	snap, err := c.context.Snapshot(tctx)
	if err != nil {
		c.abandon("context snapshot failed", err)
		return
	}
	state := c.sync.Observe()

	novelty := c.novelty(snap.Fingerprint)
	initiative := c.initiativeScore(state.Emotion, novelty)

	if initiative < c.cfg.EngagementThreshold {
		c.recordIdle(snap.Fingerprint)
		return
	}

	decision, ok := c.selectAction(state.Emotion, novelty, initiative)
	if !ok {
		c.recordIdle(snap.Fingerprint)
		return
	}

	if !c.validate(state.Emotion, decision.Action.Kind) {
		slog.Info("autonomy: decision rejected by emotion permission table", "emotion", state.Emotion.String(), "action", decision.Action.Kind.String())
		c.recordIdle(snap.Fingerprint)
		return
	}

	id, err := c.scheduler.Submit(scheduler.Task{
		Priority: priorityFor(decision.Confidence),
		Kind:     scheduler.TaskKind{Tag: scheduler.KindAutonomy, Decision: decision},
	})
	if err != nil {
		c.abandon("scheduler submission failed", err)
		return
	}

	c.mu.Lock()
	c.lastFingerprint = snap.Fingerprint
	c.appendReflection(Reflection{Decision: decision, TaskID: id, At: c.clock.Now()})
	c.mu.Unlock()
}

func (c *Cycle) abandon(reason string, err error) {
	c.mu.Lock()
	c.abandonedTicks++
	c.mu.Unlock()
	slog.Warn("autonomy: tick abandoned", "reason", reason, "error", err)
}

func (c *Cycle) recordIdle(fingerprint []byte) {
	c.mu.Lock()
	c.lastFingerprint = fingerprint
	c.appendReflection(Reflection{Decision: ports.Decision{Action: ports.Action{Kind: ports.ActionIdle}}, At: c.clock.Now(), Idle: true})
	c.mu.Unlock()
}

// appendReflection must be called with c.mu held.
func (c *Cycle) appendReflection(r Reflection) {
	c.reflections = append(c.reflections, r)
	if len(c.reflections) > reflectionCapacity {
		c.reflections = c.reflections[len(c.reflections)-reflectionCapacity:]
	}
}

// novelty computes the normalized Hamming distance between fingerprint and
// the last-acted-on fingerprint (§4.5 step 2). A nil/empty last fingerprint
// (first tick) is maximally novel.
func (c *Cycle) novelty(fingerprint []byte) float64 {
	c.mu.Lock()
	last := c.lastFingerprint
	c.mu.Unlock()

	if len(last) == 0 {
		return 1.0
	}
	n := len(fingerprint)
	if len(last) < n {
		n = len(last)
	}
	if n == 0 {
		return 1.0
	}

	diffBits := 0
	for i := 0; i < n; i++ {
		diffBits += bits.OnesCount8(fingerprint[i] ^ last[i])
	}
	diffBits += 8 * intAbs(len(fingerprint)-len(last))

	totalBits := 8 * maxInt(len(fingerprint), len(last))
	if totalBits == 0 {
		return 0
	}
	return float64(diffBits) / float64(totalBits)
}

func intAbs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// initiativeScore implements §4.5 step 2: a weighted sum of the
// proactivity coefficient, normalized novelty (gated at noveltyMinimum),
// and decision confidence. The decision engine's confidence is modeled as
// a function of novelty and the configured proactivity, since the core
// keeps no separate confidence-estimation model of its own.
func (c *Cycle) initiativeScore(_ ports.Emotion, novelty float64) float64 {
	gatedNovelty := novelty
	if gatedNovelty < noveltyMinimum {
		gatedNovelty = 0
	}
	confidence := confidenceLevel(novelty)
	return c.cfg.Proactivity*0.5 + gatedNovelty*0.3 + confidence*0.2
}

// confidenceLevel stands in for the decision engine's confidence_level
// (§4.5 step 2), deterministically derived from novelty: a cycle that has
// seen more change in its context is more confident acting on it.
func confidenceLevel(novelty float64) float64 {
	v := 0.5 + novelty*0.5
	if v > 1 {
		v = 1
	}
	return v
}

// selectAction implements §4.5 steps 4 (enumerate + score) using the
// priority function w_c*confidence + w_n*novelty + w_e*emotion_affinity,
// breaking ties by the stable ActionKind ordering.
func (c *Cycle) selectAction(emotion ports.Emotion, novelty, confidence float64) (ports.Decision, bool) {
	c.mu.Lock()
	source := c.candidates
	c.mu.Unlock()

	candidates := source()
	if len(candidates) == 0 {
		return ports.Decision{}, false
	}

	var best candidateAction
	bestScore := -2.0
	found := false
	for _, cand := range candidates {
		affinity := emotionAffinity(emotion, cand.kind)
		score := c.cfg.Weights.Confidence*confidence + c.cfg.Weights.Novelty*novelty + c.cfg.Weights.Emotion*affinity
		if !found || score > bestScore || (score == bestScore && cand.kind < best.kind) {
			best = cand
			bestScore = score
			found = true
		}
	}
	if !found {
		return ports.Decision{}, false
	}

	action := ports.Action{Kind: best.kind, Topic: best.topic, Domain: best.domain, SkillID: best.skill}
	if best.kind == ports.ActionExpressEmotion {
		action.Emotion = emotion
	}

	return ports.Decision{Action: action, Confidence: confidence}, true
}

// validate implements §4.5 step 5's emotion-permission check.
func (c *Cycle) validate(emotion ports.Emotion, kind ports.ActionKind) bool {
	return permitted(emotion, kind)
}

// priorityFor maps confidence to a scheduler priority (§4.5 step 6).
func priorityFor(confidence float64) scheduler.Priority {
	switch {
	case confidence >= 0.9:
		return scheduler.Critical
	case confidence >= 0.7:
		return scheduler.High
	case confidence >= 0.5:
		return scheduler.Medium
	default:
		return scheduler.Low
	}
}

// Run drives [Cycle.Tick] at the given cadence until ctx is cancelled.
func (c *Cycle) Run(ctx context.Context, hz float64) {
	if hz <= 0 {
		hz = 10
	}
	period := time.Duration(float64(time.Second) / hz)
	ticker := c.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.Tick(ctx)
		}
	}
}
