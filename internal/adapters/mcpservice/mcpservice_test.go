package mcpservice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxveil/corona/internal/mcp"
	mcpmock "github.com/nyxveil/corona/internal/mcp/mock"
	"github.com/nyxveil/corona/internal/mcp/tier"
	"github.com/nyxveil/corona/internal/ports"
	"github.com/nyxveil/corona/pkg/provider/llm"
)

// stubDelegate is a minimal [Delegate] test double.
type stubDelegate struct {
	startOutcome ports.ActionOutcome
	startErr     error
	shareOutcome ports.ActionOutcome
	shareErr     error
}

func (d *stubDelegate) StartConversation(ctx context.Context, topic string) (ports.ActionOutcome, error) {
	return d.startOutcome, d.startErr
}

func (d *stubDelegate) ShareKnowledge(ctx context.Context, domain string) (ports.ActionOutcome, error) {
	return d.shareOutcome, d.shareErr
}

func TestStartConversationDelegates(t *testing.T) {
	delegate := &stubDelegate{startOutcome: ports.ActionOutcome{Success: true, Detail: "hi"}}
	svc := New(&mcpmock.Host{}, tier.NewSelector(), delegate)

	outcome, err := svc.StartConversation(context.Background(), "weather")
	require.NoError(t, err)
	assert.Equal(t, "hi", outcome.Detail)
}

func TestShareKnowledgeDelegateError(t *testing.T) {
	delegate := &stubDelegate{shareErr: errors.New("boom")}
	svc := New(&mcpmock.Host{}, tier.NewSelector(), delegate)

	_, err := svc.ShareKnowledge(context.Background(), "history")
	require.Error(t, err)
}

func TestLearnSkillExecutesMatchingTool(t *testing.T) {
	host := &mcpmock.Host{
		AvailableToolsResult: []llm.ToolDefinition{{Name: "practice_skill"}},
		ExecuteToolResult:    &mcp.ToolResult{Content: `{"outcome":"practiced"}`},
	}
	svc := New(host, tier.NewSelector(), &stubDelegate{})

	outcome, err := svc.LearnSkill(context.Background(), "practice_skill")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, `{"outcome":"practiced"}`, outcome.Detail)
	assert.Equal(t, 1, host.CallCount("ExecuteTool"))
}

func TestLearnSkillNoMatchingTool(t *testing.T) {
	host := &mcpmock.Host{AvailableToolsResult: []llm.ToolDefinition{{Name: "other_tool"}}}
	svc := New(host, tier.NewSelector(), &stubDelegate{})

	_, err := svc.LearnSkill(context.Background(), "practice_skill")
	require.Error(t, err)
	assert.Equal(t, 0, host.CallCount("ExecuteTool"))
}

func TestLearnSkillToolReportsError(t *testing.T) {
	host := &mcpmock.Host{
		AvailableToolsResult: []llm.ToolDefinition{{Name: "practice_skill"}},
		ExecuteToolResult:    &mcp.ToolResult{IsError: true, Content: "tool failed"},
	}
	svc := New(host, tier.NewSelector(), &stubDelegate{})

	outcome, err := svc.LearnSkill(context.Background(), "practice_skill")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, "tool failed", outcome.Detail)
}
