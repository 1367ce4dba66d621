package whisperstt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/pkg/provider/stt"
	sttmock "github.com/nyxveil/corona/pkg/provider/stt/mock"
)

func TestSetActiveOpensAndClosesSession(t *testing.T) {
	session := &sttmock.Session{FinalsCh: make(chan stt.Transcript, 4)}
	provider := &sttmock.Provider{Session: session}
	r := New(provider, stt.StreamConfig{}, nil)

	active, err := r.Active(context.Background())
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, r.SetActive(context.Background(), true))
	active, err = r.Active(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
	require.Len(t, provider.StartStreamCalls, 1)

	require.NoError(t, r.SetActive(context.Background(), false))
	assert.Equal(t, 1, session.CloseCallCount)
}

func TestSetActiveIdempotent(t *testing.T) {
	provider := &sttmock.Provider{}
	r := New(provider, stt.StreamConfig{}, nil)

	require.NoError(t, r.SetActive(context.Background(), false))
	assert.Empty(t, provider.StartStreamCalls)
}

func TestSendAudioRequiresActiveSession(t *testing.T) {
	provider := &sttmock.Provider{}
	r := New(provider, stt.StreamConfig{}, nil)

	err := r.SendAudio([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestSendAudioForwardsToSession(t *testing.T) {
	session := &sttmock.Session{FinalsCh: make(chan stt.Transcript, 1)}
	provider := &sttmock.Provider{Session: session}
	r := New(provider, stt.StreamConfig{}, nil)

	require.NoError(t, r.SetActive(context.Background(), true))
	require.NoError(t, r.SendAudio([]byte{9, 8, 7}))
	require.Len(t, session.SendAudioCalls, 1)
	assert.Equal(t, []byte{9, 8, 7}, session.SendAudioCalls[0].Chunk)
}

func TestResetBufferRestartsSession(t *testing.T) {
	session := &sttmock.Session{FinalsCh: make(chan stt.Transcript, 1)}
	provider := &sttmock.Provider{Session: session}
	r := New(provider, stt.StreamConfig{}, nil)

	require.NoError(t, r.SetActive(context.Background(), true))
	require.NoError(t, r.ResetBuffer(context.Background()))

	assert.Equal(t, 1, session.CloseCallCount)
	require.Len(t, provider.StartStreamCalls, 2)
}

func TestNextUtteranceReturnsFinal(t *testing.T) {
	finals := make(chan stt.Transcript, 1)
	session := &sttmock.Session{FinalsCh: finals}
	provider := &sttmock.Provider{Session: session}
	fake := clock.NewFake(time.Unix(1000, 0))
	r := New(provider, stt.StreamConfig{}, fake)

	require.NoError(t, r.SetActive(context.Background(), true))
	finals <- stt.Transcript{Text: "hello there", Confidence: 0.9}

	u, err := r.NextUtterance(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "hello there", u.Text)
	assert.Equal(t, 0.9, u.Confidence)
	assert.Equal(t, fake.Now(), u.Timestamp)
}

func TestNextUtteranceReturnsOnContextCancel(t *testing.T) {
	provider := &sttmock.Provider{}
	r := New(provider, stt.StreamConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u, err := r.NextUtterance(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)
}
