// Package ttsopenai implements [ports.VoicePort] over the teacher's
// pkg/provider/tts.Provider abstraction, backed concretely by
// pkg/provider/tts/openai. Staged parameter changes (PrepareChange /
// ApplyPrepared) pre-synthesise nothing by themselves — OpenAI's endpoint
// has no persistent voice session to warm up — but the two-phase contract
// is honoured so the core never observes an effect before ApplyPrepared.
package ttsopenai

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nyxveil/corona/internal/corona"
	"github.com/nyxveil/corona/internal/ports"
	"github.com/nyxveil/corona/pkg/provider/tts"
)

// Sink receives synthesised PCM audio for playback. discordvoice implements
// this to bridge synthesis output into a live voice channel.
type Sink interface {
	Write(ctx context.Context, chunk []byte) error
}

// Service implements [ports.VoicePort].
type Service struct {
	provider tts.Provider
	sink     Sink

	mu       sync.Mutex
	params   ports.VoiceParams
	voice    tts.VoiceProfile
	prepared map[ports.PrepareToken]tts.VoiceProfile
	nextTok  uint64

	speaking atomic.Bool
	cancel   atomic.Pointer[context.CancelFunc]
}

// New returns a [Service] that synthesises through provider using baseVoice
// as the starting voice profile, writing resulting audio to sink.
func New(provider tts.Provider, baseVoice tts.VoiceProfile, sink Sink) *Service {
	return &Service{
		provider: provider,
		sink:     sink,
		voice:    baseVoice,
		prepared: make(map[ports.PrepareToken]tts.VoiceProfile),
	}
}

var _ ports.VoicePort = (*Service)(nil)

// CurrentParams returns the voice parameters currently in effect.
func (s *Service) CurrentParams(ctx context.Context) (ports.VoiceParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params, nil
}

// PrepareChange stages params, translating them into a [tts.VoiceProfile]
// delta over the current voice without applying it.
func (s *Service) PrepareChange(ctx context.Context, params ports.VoiceParams) (ports.PrepareToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.voice
	profile.PitchShift = params.PitchSemitones
	profile.SpeedFactor = params.Rate

	s.nextTok++
	token := ports.PrepareToken(fmt.Sprintf("ttsopenai-%d", s.nextTok))
	s.prepared[token] = profile
	return token, nil
}

// ApplyPrepared commits a previously staged change.
func (s *Service) ApplyPrepared(ctx context.Context, token ports.PrepareToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.prepared[token]
	if !ok {
		return fmt.Errorf("ttsopenai: %w: unknown prepare token", corona.ErrRejected)
	}
	delete(s.prepared, token)
	s.voice = profile
	s.params = ports.VoiceParams{
		PitchSemitones: profile.PitchShift,
		Rate:           profile.SpeedFactor,
	}
	return nil
}

// IsSpeaking reports whether synthesis is currently in flight.
func (s *Service) IsSpeaking(ctx context.Context) (bool, error) {
	return s.speaking.Load(), nil
}

// ClearQueue cancels any in-flight synthesis.
func (s *Service) ClearQueue(ctx context.Context) error {
	if cancel := s.cancel.Load(); cancel != nil {
		(*cancel)()
	}
	return nil
}

// Speak synthesises text with the current voice and writes the resulting
// audio chunks to the sink, blocking until synthesis completes, ctx is
// cancelled, or ClearQueue is called.
func (s *Service) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	voice := s.voice
	s.mu.Unlock()
	if voice.ID == "" {
		return fmt.Errorf("ttsopenai: %w: no voice profile set", corona.ErrRejected)
	}

	speakCtx, cancel := context.WithCancel(ctx)
	s.cancel.Store(&cancel)
	defer cancel()

	s.speaking.Store(true)
	defer s.speaking.Store(false)

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audio, err := s.provider.SynthesizeStream(speakCtx, textCh, voice)
	if err != nil {
		return fmt.Errorf("ttsopenai: synthesize: %w", err)
	}

	for chunk := range audio {
		if s.sink == nil {
			continue
		}
		if err := s.sink.Write(speakCtx, chunk); err != nil {
			return fmt.Errorf("ttsopenai: sink write: %w", err)
		}
	}
	return speakCtx.Err()
}
