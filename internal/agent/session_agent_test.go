package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/archiflow-dev/archiflow/pkg/llm"
)

type scriptedProvider struct {
	responses []llm.Response
	errs      []error
	call      int
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llm.Message, tools []llm.FunctionSpec, params llm.GenerateParams) (llm.Response, error) {
	i := p.call
	p.call++
	if i < len(p.errs) && p.errs[i] != nil {
		return llm.Response{}, p.errs[i]
	}
	if i >= len(p.responses) {
		return llm.Response{Content: "done"}, nil
	}
	return p.responses[i], nil
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []llm.Message, tools []llm.FunctionSpec, params llm.GenerateParams) (<-chan llm.Chunk, error) {
	return nil, errors.New("not implemented")
}

func (p *scriptedProvider) CountTokens(ctx context.Context, messages []llm.Message) (int, error) {
	return 0, nil
}

func (p *scriptedProvider) CountToolsTokens(ctx context.Context, tools []llm.FunctionSpec) (int, error) {
	return 0, nil
}

func (p *scriptedProvider) ModelConfig() llm.ModelConfig {
	return llm.ModelConfig{ContextWindow: 8000, MaxOutputTokens: 1000}
}

func TestSessionAgentTextOnlyTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{{Content: "hello there"}}}
	a := NewSessionAgent(SessionAgentConfig{SessionID: "s1", Provider: provider, Model: "m", SystemPrompt: "be nice"})

	out, err := a.Step(context.Background(), events.UserMessage{SessionID: "s1", Content: "hi"})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 outbound event, got %d", len(out))
	}
	respond, ok := out[0].(events.LLMRespondMessage)
	if !ok || respond.Content != "hello there" {
		t.Fatalf("expected LLMRespondMessage, got %+v", out[0])
	}
	if !a.Running() {
		t.Fatalf("expected agent to remain running after a text-only turn")
	}
}

func TestSessionAgentEmitsToolCallMessage(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "read_file", Arguments: `{"path":"a.go"}`}}},
	}}
	a := NewSessionAgent(SessionAgentConfig{SessionID: "s1", Provider: provider, Model: "m"})

	out, err := a.Step(context.Background(), events.UserMessage{SessionID: "s1", Content: "read a.go"})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 outbound event, got %d", len(out))
	}
	toolCall, ok := out[0].(events.ToolCallMessage)
	if !ok || len(toolCall.ToolCalls) != 1 || toolCall.ToolCalls[0].Name != "read_file" {
		t.Fatalf("expected ToolCallMessage for read_file, got %+v", out[0])
	}
}

func TestSessionAgentResumesAfterToolResult(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "read_file", Arguments: `{}`}}},
		{Content: "the file says hello"},
	}}
	a := NewSessionAgent(SessionAgentConfig{SessionID: "s1", Provider: provider, Model: "m"})

	if _, err := a.Step(context.Background(), events.UserMessage{SessionID: "s1", Content: "read it"}); err != nil {
		t.Fatalf("first step: %v", err)
	}

	out, err := a.Step(context.Background(), events.ToolResultObservation{CallID: "c1", Content: "hello", Status: events.StatusSuccess})
	if err != nil {
		t.Fatalf("second step: %v", err)
	}
	respond, ok := out[0].(events.LLMRespondMessage)
	if !ok || respond.Content != "the file says hello" {
		t.Fatalf("expected follow-up LLMRespondMessage, got %+v", out[0])
	}
}

func TestSessionAgentStopMessageHaltsRunning(t *testing.T) {
	a := NewSessionAgent(SessionAgentConfig{SessionID: "s1"})

	out, err := a.Step(context.Background(), events.StopMessage{Reason: "user cancelled"})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out != nil {
		t.Fatalf("expected no outbound events for StopMessage, got %+v", out)
	}
	if a.Running() {
		t.Fatalf("expected agent to stop running after StopMessage")
	}

	out, err = a.Step(context.Background(), events.UserMessage{SessionID: "s1", Content: "are you there"})
	if err != nil || out != nil {
		t.Fatalf("expected no-op after stop, got out=%+v err=%v", out, err)
	}
}

func TestSessionAgentMaxIterationsFinishes(t *testing.T) {
	provider := &scriptedProvider{}
	for i := 0; i < 5; i++ {
		provider.responses = append(provider.responses, llm.Response{
			ToolCalls: []llm.ToolCall{{ID: "c", Name: "loop_tool", Arguments: `{}`}},
		})
	}
	a := NewSessionAgent(SessionAgentConfig{SessionID: "s1", Provider: provider, Model: "m", MaxIterations: 2})

	out, _ := a.Step(context.Background(), events.UserMessage{SessionID: "s1", Content: "loop"})
	if _, ok := out[0].(events.ToolCallMessage); !ok {
		t.Fatalf("expected first iteration to request a tool call")
	}
	out, _ = a.Step(context.Background(), events.ToolResultObservation{CallID: "c", Content: "ok", Status: events.StatusSuccess})
	if _, ok := out[0].(events.ToolCallMessage); !ok {
		t.Fatalf("expected second iteration to request a tool call")
	}
	out, err := a.Step(context.Background(), events.ToolResultObservation{CallID: "c", Content: "ok", Status: events.StatusSuccess})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	finished, ok := out[0].(events.AgentFinishedMessage)
	if !ok {
		t.Fatalf("expected AgentFinishedMessage after exceeding max iterations, got %+v", out[0])
	}
	if finished.Reason == "" {
		t.Fatalf("expected a non-empty reason")
	}
}
