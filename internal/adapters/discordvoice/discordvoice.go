// Package discordvoice adapts a live Discord voice channel connection
// (pkg/audio/discord) into [ports.VoicePort]'s playback half and
// [ports.EmotionPort], broadcasting synthesized speech into the channel and
// reflecting the avatar's emotion as a Discord presence activity.
package discordvoice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/nyxveil/corona/internal/corona"
	"github.com/nyxveil/corona/internal/ports"
	"github.com/nyxveil/corona/pkg/audio"
)

// SynthesisSampleRate is the PCM sample rate produced by the ttsopenai
// adapter upstream of this sink; pkg/audio/discord's send loop resamples it
// to Discord's 48kHz stereo Opus target.
const SynthesisSampleRate = 24000

// Service bridges an [audio.Connection] and a [*discordgo.Session] into
// [ports.VoicePort]'s Sink half and [ports.EmotionPort].
type Service struct {
	session *discordgo.Session
	conn    audio.Connection

	speaking atomic.Bool

	mu      sync.Mutex
	emotion ports.Emotion
}

// New returns a [Service] that plays audio into conn and reflects emotion
// changes on session's presence.
func New(session *discordgo.Session, conn audio.Connection) *Service {
	return &Service{session: session, conn: conn, emotion: ports.Calm}
}

var (
	_ ports.EmotionPort = (*Service)(nil)
)

// Write implements ttsopenai.Sink, delivering a synthesized PCM chunk into
// the voice channel's mixed output stream.
func (s *Service) Write(ctx context.Context, chunk []byte) error {
	frame := audio.AudioFrame{
		Data:       chunk,
		SampleRate: SynthesisSampleRate,
		Channels:   1,
	}
	select {
	case s.conn.OutputStream() <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns the emotion last set via Set.
func (s *Service) Current(ctx context.Context) (ports.Emotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emotion, nil
}

// Set switches the avatar's authoritative emotion and reflects it as a
// Discord presence activity (e.g. "Playing: focused").
func (s *Service) Set(ctx context.Context, e ports.Emotion) error {
	if !e.Valid() {
		return fmt.Errorf("discordvoice: %w: emotion %d out of range", corona.ErrRejected, e)
	}
	s.mu.Lock()
	s.emotion = e
	s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	if err := s.session.UpdateGameStatus(0, e.String()); err != nil {
		return fmt.Errorf("discordvoice: update presence: %w", err)
	}
	return nil
}

// Express plays a one-shot emotional expression by briefly flashing the
// presence activity without changing the authoritative emotion. intensity
// only affects logging/telemetry today; Discord presences have no volume
// knob.
func (s *Service) Express(ctx context.Context, e ports.Emotion, intensity float64) error {
	if !e.Valid() {
		return fmt.Errorf("discordvoice: %w: emotion %d out of range", corona.ErrRejected, e)
	}
	if s.session == nil {
		return nil
	}
	if err := s.session.UpdateGameStatus(0, "*"+e.String()+"*"); err != nil {
		return fmt.Errorf("discordvoice: express presence: %w", err)
	}
	return nil
}

// FeedInputStreams forwards every participant's decoded PCM into recv, so a
// [ports.RecognizerPort] (e.g. whisperstt.Recognizer) can transcribe live
// speech. It returns immediately; one goroutine per input stream keeps
// forwarding until ctx is cancelled or that stream is closed.
func (s *Service) FeedInputStreams(ctx context.Context, recv func(chunk []byte) error) {
	for _, stream := range s.conn.InputStreams() {
		go func(ch <-chan audio.AudioFrame) {
			for {
				select {
				case <-ctx.Done():
					return
				case frame, ok := <-ch:
					if !ok {
						return
					}
					_ = recv(frame.Data)
				}
			}
		}(stream)
	}
}
