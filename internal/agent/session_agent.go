package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/archiflow-dev/archiflow/internal/history"
	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/archiflow-dev/archiflow/pkg/llm"
	"github.com/google/uuid"
)

// SessionAgentConfig configures a SessionAgent.
type SessionAgentConfig struct {
	SessionID     string
	Provider      llm.Provider
	Model         string
	SystemPrompt  string
	Tools         []llm.FunctionSpec
	History       *history.Manager
	MaxIterations int
	Logger        *slog.Logger
}

func (c *SessionAgentConfig) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// SessionAgent implements controller.Agent: it is the cooperative,
// single-session actor the Agent Controller drives. It owns a history
// Manager and calls into an llm.Provider, translating the provider's
// response into ToolCallMessage or LLMRespondMessage outbound events.
type SessionAgent struct {
	cfg        SessionAgentConfig
	running    bool
	iterations int
}

// NewSessionAgent constructs a SessionAgent. If cfg.History is nil a fresh
// one is created with default settings and cfg.Provider attached.
func NewSessionAgent(cfg SessionAgentConfig) *SessionAgent {
	cfg.applyDefaults()
	if cfg.History == nil {
		hcfg := history.DefaultConfig()
		hcfg.Provider = cfg.Provider
		hcfg.Logger = cfg.Logger
		cfg.History = history.New(hcfg)
	}
	a := &SessionAgent{cfg: cfg, running: true}
	if cfg.SystemPrompt != "" {
		_ = a.cfg.History.Add(events.SystemMessage{SessionID: cfg.SessionID, Content: cfg.SystemPrompt})
	}
	return a
}

// Running reports whether the agent still accepts inbound events. It
// becomes false after processing a StopMessage or after emitting an
// AgentFinishedMessage.
func (a *SessionAgent) Running() bool {
	return a.running
}

// Step advances the agent by one inbound event.
func (a *SessionAgent) Step(ctx context.Context, inbound events.Payload) ([]events.Payload, error) {
	if !a.running {
		return nil, nil
	}

	switch v := inbound.(type) {
	case events.UserMessage:
		a.iterations = 0
		if err := a.cfg.History.Add(v); err != nil {
			return nil, fmt.Errorf("agent: append user message: %w", err)
		}
		return a.runModel(ctx)

	case events.ToolResultObservation:
		if err := a.cfg.History.Add(v); err != nil {
			return nil, fmt.Errorf("agent: append tool result: %w", err)
		}
		return a.runModel(ctx)

	case events.BatchToolResultObservation:
		if err := a.cfg.History.Add(v); err != nil {
			return nil, fmt.Errorf("agent: append batch tool result: %w", err)
		}
		return a.runModel(ctx)

	case events.ErrorObservation:
		if err := a.cfg.History.Add(v); err != nil {
			return nil, fmt.Errorf("agent: append error observation: %w", err)
		}
		return a.runModel(ctx)

	case events.ProjectContextMessage, events.EnvironmentMessage, events.SystemMessage:
		if err := a.cfg.History.Add(v); err != nil {
			return nil, fmt.Errorf("agent: append context message: %w", err)
		}
		return nil, nil

	case events.StopMessage:
		a.running = false
		return nil, nil

	default:
		a.cfg.Logger.Warn("agent: ignoring unrecognized inbound payload", "session", a.cfg.SessionID, "kind", inbound.Kind())
		return nil, nil
	}
}

// runModel calls the provider with the current history and turns its
// response into outbound events. It is shared by the UserMessage and
// tool-result paths, since both resume the same turn.
func (a *SessionAgent) runModel(ctx context.Context) ([]events.Payload, error) {
	a.iterations++
	if a.iterations > a.cfg.MaxIterations {
		reason := "maximum tool-call iterations reached for this turn"
		_ = a.cfg.History.Add(events.SystemMessage{SessionID: a.cfg.SessionID, Content: "[" + reason + "]"})
		a.running = false
		return []events.Payload{events.AgentFinishedMessage{Reason: reason}}, nil
	}

	if a.cfg.Provider == nil {
		return nil, ErrNoProvider
	}

	messages := a.cfg.History.ToLLMFormat()
	resp, err := a.cfg.Provider.Generate(ctx, messages, a.cfg.Tools, llm.GenerateParams{Model: a.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("agent: provider generate: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		calls := make([]events.ToolCallRequest, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			id := tc.ID
			if id == "" {
				id = uuid.NewString()
			}
			calls[i] = events.ToolCallRequest{ID: id, Name: tc.Name, Arguments: []byte(tc.Arguments)}
		}
		toolCallMsg := events.ToolCallMessage{SessionID: a.cfg.SessionID, ToolCalls: calls}
		if err := a.cfg.History.Add(toolCallMsg); err != nil {
			return nil, fmt.Errorf("agent: append tool call message: %w", err)
		}
		return []events.Payload{toolCallMsg}, nil
	}

	respondMsg := events.LLMRespondMessage{SessionID: a.cfg.SessionID, Content: resp.Content}
	if err := a.cfg.History.Add(respondMsg); err != nil {
		return nil, fmt.Errorf("agent: append respond message: %w", err)
	}
	return []events.Payload{respondMsg}, nil
}
