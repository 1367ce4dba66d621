// Package openai provides a TTS provider backed by the OpenAI Audio Speech
// API, following the same client construction as pkg/provider/llm/openai.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nyxveil/corona/pkg/provider/tts"
)

// knownVoices is the static catalogue OpenAI exposes for Audio Speech; the
// API has no voice-listing endpoint.
var knownVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Provider implements tts.Provider using the OpenAI Audio Speech endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI TTS Provider. model is an OpenAI TTS model
// name such as "tts-1" or "gpt-4o-mini-tts".
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = "tts-1"
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream joins the incoming text fragments into a single request —
// OpenAI's Audio Speech endpoint takes the full input up front, unlike
// ElevenLabs' token-at-a-time streaming — and emits the resulting PCM audio
// in fixed-size chunks so downstream mixers still see a stream.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("openai: voice.ID must not be empty")
	}

	var sb strings.Builder
	for fragment := range text {
		sb.WriteString(fragment)
	}
	if sb.Len() == 0 {
		ch := make(chan []byte)
		close(ch)
		return ch, nil
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          sb.String(),
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
		Speed:          oai.Float(voice.SpeedFactor),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: speech: %w", err)
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer resp.Body.Close()

		buf := make([]byte, 4096)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case audioCh <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()
	return audioCh, nil
}

// ListVoices returns OpenAI's fixed voice catalogue; the API has no
// discovery endpoint so this never contacts the network.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	profiles := make([]tts.VoiceProfile, 0, len(knownVoices))
	for _, name := range knownVoices {
		profiles = append(profiles, tts.VoiceProfile{
			ID:          name,
			Name:        name,
			Provider:    "openai",
			SpeedFactor: 1.0,
		})
	}
	return profiles, nil
}

// CloneVoice is not supported by the OpenAI Audio Speech API.
func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*tts.VoiceProfile, error) {
	return nil, errors.New("openai: voice cloning is not supported")
}
