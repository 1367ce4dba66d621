package llmservice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxveil/corona/internal/corona"
	"github.com/nyxveil/corona/internal/resilience"
	"github.com/nyxveil/corona/pkg/provider/llm"
	llmmock "github.com/nyxveil/corona/pkg/provider/llm/mock"
)

func TestStartConversation(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hey, let's talk about trains"},
	}
	svc := New(provider, resilience.CircuitBreakerConfig{})

	outcome, err := svc.StartConversation(context.Background(), "trains")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "hey, let's talk about trains", outcome.Detail)

	require.Len(t, provider.CompleteCalls, 1)
	assert.Contains(t, provider.CompleteCalls[0].Req.Messages[0].Content, "trains")
}

func TestShareKnowledgeAndLearnSkill(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "noted"},
	}
	svc := New(provider, resilience.CircuitBreakerConfig{})

	_, err := svc.ShareKnowledge(context.Background(), "woodworking")
	require.NoError(t, err)

	_, err = svc.LearnSkill(context.Background(), "lockpicking")
	require.NoError(t, err)

	require.Len(t, provider.CompleteCalls, 2)
	assert.Contains(t, provider.CompleteCalls[0].Req.Messages[0].Content, "woodworking")
	assert.Contains(t, provider.CompleteCalls[1].Req.Messages[0].Content, "lockpicking")
}

func TestCompleteProviderError(t *testing.T) {
	provider := &llmmock.Provider{CompleteErr: errors.New("upstream exploded")}
	svc := New(provider, resilience.CircuitBreakerConfig{})

	_, err := svc.StartConversation(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestCircuitOpensAfterMaxFailures(t *testing.T) {
	provider := &llmmock.Provider{CompleteErr: errors.New("down")}
	svc := New(provider, resilience.CircuitBreakerConfig{MaxFailures: 2})

	for i := 0; i < 2; i++ {
		_, err := svc.StartConversation(context.Background(), "x")
		require.Error(t, err)
	}

	_, err := svc.StartConversation(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, corona.ErrPortTimeout)
}
