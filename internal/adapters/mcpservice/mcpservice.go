// Package mcpservice implements [ports.ServicePort]'s LearnSkill action by
// dispatching an MCP tool call through the teacher's internal/mcp/mcphost
// host and tier-budget selector, instead of an LLM completion. Conversation
// and knowledge-sharing actions still go through an [llmservice.Service]
// delegate; only skill practice is routed through tools (e.g. a "practice"
// or "exercise" MCP server).
package mcpservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nyxveil/corona/internal/corona"
	"github.com/nyxveil/corona/internal/mcp"
	"github.com/nyxveil/corona/internal/mcp/tier"
	"github.com/nyxveil/corona/internal/ports"
)

// Delegate handles the non-skill actions of [ports.ServicePort]. Production
// wiring passes an *llmservice.Service; tests can supply a stub.
type Delegate interface {
	StartConversation(ctx context.Context, topic string) (ports.ActionOutcome, error)
	ShareKnowledge(ctx context.Context, domain string) (ports.ActionOutcome, error)
}

// Service implements [ports.ServicePort], routing LearnSkill through an MCP
// [mcp.Host] and every other action through delegate.
type Service struct {
	host     mcp.Host
	selector *tier.Selector
	delegate Delegate
}

// New returns a [Service] backed by host, using selector to pick the budget
// tier each LearnSkill call is allowed to draw tools from, falling back to
// delegate for StartConversation and ShareKnowledge.
func New(host mcp.Host, selector *tier.Selector, delegate Delegate) *Service {
	return &Service{host: host, selector: selector, delegate: delegate}
}

var _ ports.ServicePort = (*Service)(nil)

// StartConversation delegates to the wrapped [Delegate].
func (s *Service) StartConversation(ctx context.Context, topic string) (ports.ActionOutcome, error) {
	return s.delegate.StartConversation(ctx, topic)
}

// ShareKnowledge delegates to the wrapped [Delegate].
func (s *Service) ShareKnowledge(ctx context.Context, domain string) (ports.ActionOutcome, error) {
	return s.delegate.ShareKnowledge(ctx, domain)
}

// LearnSkill finds a tool matching skillID among the tools available at the
// selector's current budget tier and executes it, reporting the tool's
// output as the outcome detail.
func (s *Service) LearnSkill(ctx context.Context, skillID string) (ports.ActionOutcome, error) {
	budget := s.selector.Select(skillID, 0)
	tools := s.host.AvailableTools(budget)

	var toolName string
	for _, t := range tools {
		if t.Name == skillID {
			toolName = t.Name
			break
		}
	}
	if toolName == "" {
		return ports.ActionOutcome{}, fmt.Errorf("mcpservice: %w: no tool for skill %q at tier %s", corona.ErrRejected, skillID, budget)
	}

	argsJSON, err := json.Marshal(map[string]any{"skill": skillID})
	if err != nil {
		return ports.ActionOutcome{}, fmt.Errorf("mcpservice: encode args: %w", err)
	}

	result, err := s.host.ExecuteTool(ctx, toolName, string(argsJSON))
	if err != nil {
		return ports.ActionOutcome{}, fmt.Errorf("mcpservice: execute tool %q: %w", toolName, err)
	}
	if result.IsError {
		return ports.ActionOutcome{Success: false, Detail: result.Content}, nil
	}
	return ports.ActionOutcome{Success: true, Detail: result.Content}, nil
}
