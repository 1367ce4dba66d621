package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/internal/config"
	"github.com/nyxveil/corona/internal/ports"
	"github.com/nyxveil/corona/internal/scheduler"
)

// ─── minimal port stubs ────────────────────────────────────────────────────

type stubEmotion struct{ current ports.Emotion }

func (s *stubEmotion) Current(ctx context.Context) (ports.Emotion, error) { return s.current, nil }
func (s *stubEmotion) Set(ctx context.Context, e ports.Emotion) error     { s.current = e; return nil }
func (s *stubEmotion) Express(ctx context.Context, e ports.Emotion, intensity float64) error {
	return nil
}

type stubVoice struct{}

func (s *stubVoice) CurrentParams(ctx context.Context) (ports.VoiceParams, error) {
	return ports.VoiceParams{}, nil
}
func (s *stubVoice) PrepareChange(ctx context.Context, params ports.VoiceParams) (ports.PrepareToken, error) {
	return "tok", nil
}
func (s *stubVoice) ApplyPrepared(ctx context.Context, token ports.PrepareToken) error { return nil }
func (s *stubVoice) IsSpeaking(ctx context.Context) (bool, error)                      { return false, nil }
func (s *stubVoice) ClearQueue(ctx context.Context) error                             { return nil }
func (s *stubVoice) Speak(ctx context.Context, text string) error                     { return nil }

type stubRecognizer struct{}

func (s *stubRecognizer) Active(ctx context.Context) (bool, error)         { return false, nil }
func (s *stubRecognizer) SetActive(ctx context.Context, active bool) error { return nil }
func (s *stubRecognizer) ResetBuffer(ctx context.Context) error            { return nil }
func (s *stubRecognizer) NextUtterance(ctx context.Context) (*ports.Utterance, error) {
	<-ctx.Done()
	return nil, nil
}

type stubContext struct{}

func (s *stubContext) Snapshot(ctx context.Context) (ports.Context, error) {
	return ports.Context{Now: time.Now()}, nil
}

type stubService struct{}

func (s *stubService) StartConversation(ctx context.Context, topic string) (ports.ActionOutcome, error) {
	return ports.ActionOutcome{Success: true}, nil
}
func (s *stubService) ShareKnowledge(ctx context.Context, domain string) (ports.ActionOutcome, error) {
	return ports.ActionOutcome{Success: true}, nil
}
func (s *stubService) LearnSkill(ctx context.Context, skillID string) (ports.ActionOutcome, error) {
	return ports.ActionOutcome{Success: true}, nil
}

func testPorts() Ports {
	return Ports{
		Emotion:    &stubEmotion{current: ports.Calm},
		Voice:      &stubVoice{},
		Recognizer: &stubRecognizer{},
		Context:    &stubContext{},
		Service:    &stubService{},
	}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Core.SyncHz = 50
	cfg.Core.AutonomyHz = 50
	cfg.Core.SchedulerHz = 50
	cfg.Core.CacheTTL = time.Minute
	cfg.Core.CacheMaxEntries = 1000
	cfg.Core.CacheMaxBytes = 1 << 20
	cfg.Core.EngagementThreshold = 0.4
	cfg.Core.Proactivity = 0.3
	cfg.Core.PriorityWeights = config.PriorityWeights{Confidence: 0.4, Novelty: 0.3, Emotion: 0.3}
	cfg.Core.WorkerPoolSize = 4
	cfg.Core.PerPriorityCaps = config.PriorityCaps{Critical: 1, High: 0.6, Medium: 0.3, Low: 0.1}
	cfg.Core.StarvationTimeouts = config.StarvationTimeouts{High: 5 * time.Second, Medium: 30 * time.Second, Low: 2 * time.Minute}
	cfg.Core.PortDeadline = 2 * time.Second
	cfg.Core.SessionBackoff = 10 * time.Second
	return cfg
}

func TestNewRequiresAllPorts(t *testing.T) {
	_, err := New(testConfig(), Ports{})
	require.Error(t, err)
}

func TestNewWiresSubsystems(t *testing.T) {
	c, err := New(testConfig(), testPorts())
	require.NoError(t, err)
	assert.NotNil(t, c.Cache())
	assert.NotNil(t, c.Bus())
}

func TestObserveStateAndRequestTransition(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	c, err := New(testConfig(), testPorts(), WithClock(fake))
	require.NoError(t, err)

	state := c.ObserveState()
	assert.Equal(t, ports.Calm, state.Emotion)

	require.NoError(t, c.RequestTransition(context.Background(), ports.Focused))
}

func TestSubmitTaskAndForceSync(t *testing.T) {
	c, err := New(testConfig(), testPorts())
	require.NoError(t, err)

	id, err := c.SubmitTask(scheduler.Task{
		Priority: scheduler.Critical,
		Kind:     scheduler.TaskKind{Tag: scheduler.KindMaintenance},
	})
	require.NoError(t, err)
	assert.NotEqual(t, id.String(), "")

	c.ForceSync(context.Background())
}

func TestStartAndEndSession(t *testing.T) {
	c, err := New(testConfig(), testPorts())
	require.NoError(t, err)

	id, err := c.StartSession("trainer-1", 0)
	require.NoError(t, err)

	c.EndSession(id)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c, err := New(testConfig(), testPorts())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Core.Run did not return after context cancellation")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c, err := New(testConfig(), testPorts())
	require.NoError(t, err)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// Give Run a moment to install c.cancel before calling Stop.
	time.Sleep(50 * time.Millisecond)
	c.Stop()
	c.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Core.Run did not return after Stop")
	}
}
