// Package llmservice implements [ports.ServicePort] by driving an LLM
// completion for each of the Autonomy Cycle's dispatchable actions,
// following the teacher's pkg/provider/llm abstraction so the backend model
// (OpenAI, Anthropic, Ollama, ...) is swappable via configuration.
package llmservice

import (
	"context"
	"fmt"

	"github.com/nyxveil/corona/internal/corona"
	"github.com/nyxveil/corona/internal/ports"
	"github.com/nyxveil/corona/internal/resilience"
	"github.com/nyxveil/corona/pkg/provider/llm"
)

// Service implements [ports.ServicePort] on top of an [llm.Provider],
// guarded by a circuit breaker so a failing backend degrades to
// [corona.ErrPortTimeout]-style rejection instead of hanging the Autonomy
// Cycle's dispatch.
type Service struct {
	provider llm.Provider
	breaker  *resilience.CircuitBreaker
	model    string
}

// New wraps provider in a circuit breaker and returns a [Service].
func New(provider llm.Provider, cfg resilience.CircuitBreakerConfig) *Service {
	if cfg.Name == "" {
		cfg.Name = "llmservice"
	}
	return &Service{
		provider: provider,
		breaker:  resilience.NewCircuitBreaker(cfg),
	}
}

var _ ports.ServicePort = (*Service)(nil)

// StartConversation drafts an opening line on topic and reports it as the
// outcome detail.
func (s *Service) StartConversation(ctx context.Context, topic string) (ports.ActionOutcome, error) {
	return s.complete(ctx,
		"You open a conversation with your trainer. Be warm, brief, and specific to the topic.",
		fmt.Sprintf("Start a conversation about: %s", topic),
	)
}

// ShareKnowledge drafts a short explanation of domain and reports it as the
// outcome detail.
func (s *Service) ShareKnowledge(ctx context.Context, domain string) (ports.ActionOutcome, error) {
	return s.complete(ctx,
		"You share something you've learned. Be concise and concrete, one or two sentences.",
		fmt.Sprintf("Share something you know about: %s", domain),
	)
}

// LearnSkill drafts a short self-reflection on having practiced skillID and
// reports it as the outcome detail.
func (s *Service) LearnSkill(ctx context.Context, skillID string) (ports.ActionOutcome, error) {
	return s.complete(ctx,
		"You briefly reflect on practicing a skill. Be concise, first person.",
		fmt.Sprintf("Reflect on practicing the skill: %s", skillID),
	)
}

// complete drives a single-turn completion through the circuit breaker,
// mapping breaker/provider failures onto the closed error taxonomy.
func (s *Service) complete(ctx context.Context, systemPrompt, userPrompt string) (ports.ActionOutcome, error) {
	var resp *llm.CompletionResponse
	err := s.breaker.Execute(func() error {
		var completeErr error
		resp, completeErr = s.provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages:     []llm.Message{{Role: "user", Content: userPrompt}},
			Temperature:  0.7,
			MaxTokens:    256,
		})
		return completeErr
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen {
			return ports.ActionOutcome{}, fmt.Errorf("llmservice: %w: breaker open", corona.ErrPortTimeout)
		}
		return ports.ActionOutcome{}, fmt.Errorf("llmservice: completion: %w", err)
	}
	return ports.ActionOutcome{Success: true, Detail: resp.Content}, nil
}
