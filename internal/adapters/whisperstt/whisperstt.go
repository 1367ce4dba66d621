// Package whisperstt adapts the teacher's whisper.cpp-backed
// pkg/provider/stt.Provider into [ports.RecognizerPort], translating a
// continuous SessionHandle into the port's active/inactive, buffer-reset,
// and blocking-next-utterance contract.
package whisperstt

import (
	"context"
	"fmt"
	"sync"

	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/internal/ports"
	"github.com/nyxveil/corona/pkg/provider/stt"
)

// Recognizer implements [ports.RecognizerPort] over a single long-lived
// [stt.SessionHandle].
type Recognizer struct {
	provider stt.Provider
	cfg      stt.StreamConfig
	clk      clock.Clock

	mu      sync.Mutex
	session stt.SessionHandle
	active  bool
}

// New returns a [Recognizer] backed by provider. The session is opened lazily
// on the first [Recognizer.SetActive] call.
func New(provider stt.Provider, cfg stt.StreamConfig, clk clock.Clock) *Recognizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Recognizer{provider: provider, cfg: cfg, clk: clk}
}

var _ ports.RecognizerPort = (*Recognizer)(nil)

// Active reports whether recognition is currently enabled.
func (r *Recognizer) Active(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, nil
}

// SetActive opens or closes the underlying whisper session.
func (r *Recognizer) SetActive(ctx context.Context, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active == r.active {
		return nil
	}
	if active {
		session, err := r.provider.StartStream(ctx, r.cfg)
		if err != nil {
			return fmt.Errorf("whisperstt: start stream: %w", err)
		}
		r.session = session
		r.active = true
		return nil
	}

	if r.session != nil {
		if err := r.session.Close(); err != nil {
			return fmt.Errorf("whisperstt: close session: %w", err)
		}
		r.session = nil
	}
	r.active = false
	return nil
}

// ResetBuffer restarts the underlying session, discarding any partially
// recognised audio; whisper.cpp has no in-place buffer reset.
func (r *Recognizer) ResetBuffer(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active || r.session == nil {
		return nil
	}
	if err := r.session.Close(); err != nil {
		return fmt.Errorf("whisperstt: close for reset: %w", err)
	}
	session, err := r.provider.StartStream(ctx, r.cfg)
	if err != nil {
		r.active = false
		return fmt.Errorf("whisperstt: restart stream: %w", err)
	}
	r.session = session
	return nil
}

// SendAudio forwards a PCM chunk to the active session. It is not part of
// [ports.RecognizerPort] — callers feeding raw audio (e.g. discordvoice) use
// it directly.
func (r *Recognizer) SendAudio(chunk []byte) error {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()

	if session == nil {
		return fmt.Errorf("whisperstt: not active")
	}
	return session.SendAudio(chunk)
}

// NextUtterance blocks for the next final transcript, or returns (nil, nil)
// if ctx is cancelled first.
func (r *Recognizer) NextUtterance(ctx context.Context) (*ports.Utterance, error) {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()

	if session == nil {
		<-ctx.Done()
		return nil, nil
	}

	select {
	case <-ctx.Done():
		return nil, nil
	case t, ok := <-session.Finals():
		if !ok {
			return nil, nil
		}
		return &ports.Utterance{
			Text:       t.Text,
			Confidence: t.Confidence,
			Timestamp:  r.clk.Now(),
		}, nil
	}
}
