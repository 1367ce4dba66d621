// Package syncmgr implements the Sync Manager (§4.4): the sole mutator of
// [SyncState]. It enforces the emotion/voice/recognizer/speaking
// invariants of §3, applies corrections on drift, and publishes every
// accepted mutation to the Event Bus in generation order.
package syncmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/internal/corona"
	"github.com/nyxveil/corona/internal/eventbus"
	"github.com/nyxveil/corona/internal/ports"
)

// defaultPortDeadline is the implicit deadline for every port call (§5,
// §6 port_deadline).
const defaultPortDeadline = 2 * time.Second

// errorRateWindow and errorRateLimit implement §7's "if error rate exceeds
// 10/min, force_sync() is invoked" rule.
const (
	errorRateWindow = time.Minute
	errorRateLimit  = 10
)

// Correction is the closed set of drift-correction actions the Sync
// Manager may issue from [Manager.Tick] (§4.4).
type Correction int

const (
	// CorrectionEmotionVoiceMismatch reapplies canonical params for the
	// given target emotion.
	CorrectionEmotionVoiceMismatch Correction = iota
	// CorrectionSpeechDelay resets the recognizer buffer and clears the
	// voice queue.
	CorrectionSpeechDelay
	// CorrectionStateMismatch reapplies last-known authoritative values
	// to all ports.
	CorrectionStateMismatch
)

func (c Correction) String() string {
	switch c {
	case CorrectionEmotionVoiceMismatch:
		return "EmotionVoiceMismatch"
	case CorrectionSpeechDelay:
		return "SpeechDelay"
	case CorrectionStateMismatch:
		return "StateMismatch"
	default:
		return "unknown"
	}
}

// Manager is the Sync Manager. It holds an internal single-writer lock;
// every other component observes SyncState only through [Manager.Observe]
// copies or Event Bus subscriptions (§5).
type Manager struct {
	emotion    ports.EmotionPort
	voice      ports.VoicePort
	recognizer ports.RecognizerPort
	bus        *eventbus.Bus
	clock      clock.Clock
	deadline   time.Duration

	mu    sync.Mutex
	state SyncState

	errWindowStart time.Time
	errCount       int
}

// Config configures a [Manager].
type Config struct {
	// PortDeadline overrides the default 2s port-call deadline.
	PortDeadline time.Duration
}

// New creates a [Manager] wired to the given ports, starting from the
// default state (Calm, canonical params, recognizer inactive, not
// speaking).
func New(emotion ports.EmotionPort, voice ports.VoicePort, recognizer ports.RecognizerPort, bus *eventbus.Bus, clk clock.Clock, cfg Config) *Manager {
	deadline := cfg.PortDeadline
	if deadline <= 0 {
		deadline = defaultPortDeadline
	}
	return &Manager{
		emotion:    emotion,
		voice:      voice,
		recognizer: recognizer,
		bus:        bus,
		clock:      clk,
		deadline:   deadline,
		state:      defaultState(clk.Now()),
	}
}

// Observe returns a copy of the current [SyncState] (§4.4).
func (m *Manager) Observe() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// withDeadline wraps ctx with the port deadline unless ctx already carries
// an earlier one.
func (m *Manager) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.deadline)
}

// Transition computes the canonical voice parameters for target, stages
// them via VoicePort.PrepareChange, applies EmotionPort.Set, and on
// success commits the staged voice change and bumps generation (§4.4).
//
// On any failure the transition is aborted: state is left unchanged, any
// staged voice change is rolled back, and [corona.ErrTransitionAborted] is
// returned. No event is published for an aborted transition.
func (m *Manager) Transition(ctx context.Context, target ports.Emotion) error {
	if !target.Valid() {
		return fmt.Errorf("syncmgr: unknown emotion %v: %w", target, corona.ErrRejected)
	}

	params := CanonicalParams(target)

	pctx, cancel := m.withDeadline(ctx)
	token, err := m.voice.PrepareChange(pctx, params)
	cancel()
	if err != nil {
		m.recordError()
		return m.abortTransition(ctx, "prepare_change failed: %v", err)
	}

	ectx, ecancel := m.withDeadline(ctx)
	err = m.emotion.Set(ectx, target)
	ecancel()
	if err != nil {
		m.recordError()
		m.rollbackVoice(ctx, token)
		return m.abortTransition(ctx, "emotion set failed: %v", err)
	}

	actx, acancel := m.withDeadline(ctx)
	err = m.voice.ApplyPrepared(actx, token)
	acancel()
	if err != nil {
		m.recordError()
		return m.abortTransition(ctx, "apply_prepared failed: %v", err)
	}

	m.mu.Lock()
	m.state.Emotion = target
	m.state.VoiceParams = params
	m.state.Generation++
	m.state.Timestamp = m.clock.Now()
	snapshot := m.state
	m.mu.Unlock()

	m.publish(snapshot)
	return nil
}

// rollbackVoice discards a staged voice change that was never applied. If
// the port does not support an explicit rollback (it doesn't — see
// [ports.VoicePort]), a compensating prepare/apply pair restores the
// previous params instead (§4.4 Cancellation).
func (m *Manager) rollbackVoice(ctx context.Context, _ ports.PrepareToken) {
	m.mu.Lock()
	prev := m.state.VoiceParams
	m.mu.Unlock()

	pctx, cancel := m.withDeadline(ctx)
	tok, err := m.voice.PrepareChange(pctx, prev)
	cancel()
	if err != nil {
		slog.Warn("syncmgr: compensating rollback prepare failed", "error", err)
		return
	}
	actx, acancel := m.withDeadline(ctx)
	if err := m.voice.ApplyPrepared(actx, tok); err != nil {
		slog.Warn("syncmgr: compensating rollback apply failed", "error", err)
	}
	acancel()
}

func (m *Manager) abortTransition(_ context.Context, format string, args ...any) error {
	slog.Warn("syncmgr: transition aborted", "reason", fmt.Sprintf(format, args...))
	return fmt.Errorf("syncmgr: transition aborted: "+format+": %w", append(args, corona.ErrTransitionAborted)...)
}

// ApplyOverride relaxes the emotion-voice invariant for as long as the
// override remains active, applying params directly without going through
// the canonical mapping (§4.4).
func (m *Manager) ApplyOverride(ctx context.Context, params ports.VoiceParams, reason string) error {
	pctx, cancel := m.withDeadline(ctx)
	token, err := m.voice.PrepareChange(pctx, params)
	cancel()
	if err != nil {
		m.recordError()
		return m.abortTransition(ctx, "override prepare_change failed: %v", err)
	}
	actx, acancel := m.withDeadline(ctx)
	err = m.voice.ApplyPrepared(actx, token)
	acancel()
	if err != nil {
		m.recordError()
		return m.abortTransition(ctx, "override apply_prepared failed: %v", err)
	}

	m.mu.Lock()
	m.state.VoiceParams = params
	m.state.OverrideActive = true
	m.state.OverrideReason = reason
	m.state.Generation++
	m.state.Timestamp = m.clock.Now()
	snapshot := m.state
	m.mu.Unlock()

	m.publish(snapshot)
	return nil
}

// ClearOverride ends an active override and immediately runs a
// [Manager.Transition] to the current emotion, which restores its canonical
// voice params.
func (m *Manager) ClearOverride(ctx context.Context) error {
	m.mu.Lock()
	m.state.OverrideActive = false
	m.state.OverrideReason = ""
	target := m.state.Emotion
	m.mu.Unlock()
	return m.Transition(ctx, target)
}

// ForceSync resets to defaults (Calm, canonical params, recognizer
// inactive, not speaking), clears the voice queue and recognizer buffer,
// and publishes an event. ForceSync always succeeds (§4.4) — port errors
// during cleanup are logged but do not prevent the state reset.
func (m *Manager) ForceSync(ctx context.Context) {
	vctx, vcancel := m.withDeadline(ctx)
	if err := m.voice.ClearQueue(vctx); err != nil {
		slog.Warn("syncmgr: force_sync clear_queue failed", "error", err)
	}
	vcancel()

	rctx, rcancel := m.withDeadline(ctx)
	if err := m.recognizer.ResetBuffer(rctx); err != nil {
		slog.Warn("syncmgr: force_sync reset_buffer failed", "error", err)
	}
	rcancel()

	m.mu.Lock()
	gen := m.state.Generation + 1
	m.state = defaultState(m.clock.Now())
	m.state.Generation = gen
	snapshot := m.state
	m.errCount = 0
	m.mu.Unlock()

	slog.Info("syncmgr: force_sync complete", "generation", gen)
	m.publish(snapshot)
}

// Tick runs at the configured sync cadence (default 60Hz, §4.4). It reads
// the ports' current values and issues a correction if the port emotion and
// voice params disagree with the canonical mapping, or if the recognizer is
// active while speaking outside a bidirectional window. Port values are not
// compared with the stored SyncState, so Tick never issues
// CorrectionStateMismatch.
func (m *Manager) Tick(ctx context.Context) {
	ectx, ecancel := m.withDeadline(ctx)
	curEmotion, eerr := m.emotion.Current(ectx)
	ecancel()

	vctx, vcancel := m.withDeadline(ctx)
	curParams, perr := m.voice.CurrentParams(vctx)
	vcancel()

	sctx, scancel := m.withDeadline(ctx)
	speaking, serr := m.voice.IsSpeaking(sctx)
	scancel()

	rctx, rcancel := m.withDeadline(ctx)
	recognizing, rerr := m.recognizer.Active(rctx)
	rcancel()

	if eerr != nil || perr != nil || serr != nil || rerr != nil {
		m.recordError()
		return
	}

	m.mu.Lock()
	bidirectional := m.state.Bidirectional
	overrideActive := m.state.OverrideActive
	m.mu.Unlock()

	switch {
	case !overrideActive && !matchesCanonical(curEmotion, curParams):
		m.applyCorrection(ctx, CorrectionEmotionVoiceMismatch, curEmotion)
	case recognizing && speaking && !bidirectional:
		m.applyCorrection(ctx, CorrectionSpeechDelay, curEmotion)
	}
}

// applyCorrection executes the named [Correction] and republishes state.
func (m *Manager) applyCorrection(ctx context.Context, c Correction, target ports.Emotion) {
	slog.Info("syncmgr: correction", "kind", c.String(), "target_emotion", target.String())

	switch c {
	case CorrectionEmotionVoiceMismatch:
		params := CanonicalParams(target)
		pctx, cancel := m.withDeadline(ctx)
		token, err := m.voice.PrepareChange(pctx, params)
		cancel()
		if err != nil {
			m.recordError()
			return
		}
		actx, acancel := m.withDeadline(ctx)
		if err := m.voice.ApplyPrepared(actx, token); err != nil {
			m.recordError()
			acancel()
			return
		}
		acancel()
		m.mu.Lock()
		m.state.VoiceParams = params
		m.state.Generation++
		m.state.Timestamp = m.clock.Now()
		snapshot := m.state
		m.mu.Unlock()
		m.publish(snapshot)

	case CorrectionSpeechDelay:
		rctx, rcancel := m.withDeadline(ctx)
		_ = m.recognizer.ResetBuffer(rctx)
		rcancel()
		vctx, vcancel := m.withDeadline(ctx)
		_ = m.voice.ClearQueue(vctx)
		vcancel()
		m.mu.Lock()
		m.state.Generation++
		m.state.Timestamp = m.clock.Now()
		snapshot := m.state
		m.mu.Unlock()
		m.publish(snapshot)

	case CorrectionStateMismatch:
		m.reapplyAuthoritative(ctx)
	}
}

// reapplyAuthoritative pushes the last known authoritative values to all
// ports (used by the StateMismatch correction).
func (m *Manager) reapplyAuthoritative(ctx context.Context) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	ectx, ecancel := m.withDeadline(ctx)
	_ = m.emotion.Set(ectx, state.Emotion)
	ecancel()

	pctx, pcancel := m.withDeadline(ctx)
	token, err := m.voice.PrepareChange(pctx, state.VoiceParams)
	pcancel()
	if err == nil {
		actx, acancel := m.withDeadline(ctx)
		_ = m.voice.ApplyPrepared(actx, token)
		acancel()
	}

	rctx, rcancel := m.withDeadline(ctx)
	_ = m.recognizer.SetActive(rctx, state.RecognizerActive)
	rcancel()

	m.mu.Lock()
	m.state.Generation++
	m.state.Timestamp = m.clock.Now()
	snapshot := m.state
	m.mu.Unlock()
	m.publish(snapshot)
}

// SetBidirectional declares or ends a window during which RecognizerActive
// and IsSpeaking may both be true without being treated as drift (§3).
func (m *Manager) SetBidirectional(active bool) {
	m.mu.Lock()
	m.state.Bidirectional = active
	m.mu.Unlock()
}

// publish broadcasts snapshot on the Event Bus.
func (m *Manager) publish(snapshot SyncState) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Kind: eventbus.KindSyncState, Payload: snapshot})
}

// recordError tracks the rolling error rate described in §7: if more than
// 10 tick/port errors occur within a minute, force_sync is invoked.
func (m *Manager) recordError() {
	m.mu.Lock()
	now := m.clock.Now()
	if m.errWindowStart.IsZero() || now.Sub(m.errWindowStart) > errorRateWindow {
		m.errWindowStart = now
		m.errCount = 0
	}
	m.errCount++
	tripped := m.errCount > errorRateLimit
	m.mu.Unlock()

	if tripped {
		slog.Warn("syncmgr: error rate exceeded 10/min, forcing sync")
		m.ForceSync(context.Background())
	}
}

// Run drives [Manager.Tick] at the given cadence until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, hz float64) {
	if hz <= 0 {
		hz = 60
	}
	period := time.Duration(float64(time.Second) / hz)
	ticker := m.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.Tick(ctx)
		}
	}
}
