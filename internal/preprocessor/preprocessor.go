// Package preprocessor implements the Prompt Preprocessor: an optional
// pre-agent rewrite of a UserMessage, gated by an LLM-scored quality check,
// that never contaminates the agent's system prompt or history with its own
// machinery.
package preprocessor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/archiflow-dev/archiflow/internal/broker"
	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/archiflow-dev/archiflow/pkg/llm"
)

// Preprocessor rewrites low-quality user prompts before they reach the
// agent. It is a sibling of the agent, not a layer inside it: the agent's
// history is invariant under enabling or disabling this component.
type Preprocessor struct {
	provider llm.Provider
	model    string
	settings Settings
	bus      *broker.Broker
	logger   *slog.Logger
}

// New constructs a Preprocessor. provider may be nil only if settings.Enabled
// is false; a nil provider with refinement enabled disables refinement at
// call time rather than panicking.
func New(provider llm.Provider, model string, settings Settings, bus *broker.Broker) *Preprocessor {
	return &Preprocessor{provider: provider, model: model, settings: settings, bus: bus, logger: slog.Default()}
}

// Process runs the preprocessing algorithm on msg. It always returns a
// UserMessage suitable for delivery to the agent; any failure degrades to
// returning msg unchanged.
func (p *Preprocessor) Process(ctx context.Context, msg events.UserMessage) events.UserMessage {
	if !p.settings.Enabled || p.provider == nil {
		return msg
	}
	if len(msg.Content) < p.settings.MinLength || strings.HasPrefix(msg.Content, "/") {
		return msg
	}

	result, err := callRefiner(ctx, p.provider, p.model, msg.Content)
	if err != nil {
		p.logger.Warn("preprocessor: refiner failed, passing prompt through unchanged", "error", err)
		return msg
	}
	if result.QualityScore >= p.settings.Threshold {
		return msg
	}

	rewritten := msg
	rewritten.Content = result.RefinedPrompt

	p.notify(ctx, msg, result)
	return rewritten
}

func (p *Preprocessor) notify(ctx context.Context, original events.UserMessage, result refinerResult) {
	if p.bus == nil {
		return
	}
	_, _, clientTopic := events.Topics(original.SessionID)
	notification := events.PromptRefinedNotification{
		SessionID:    original.SessionID,
		Original:     original.Content,
		Refined:      result.RefinedPrompt,
		QualityScore: result.QualityScore,
		TaskType:     result.TaskType,
	}
	if _, err := p.bus.Publish(ctx, clientTopic, notification); err != nil {
		p.logger.Warn("preprocessor: failed to publish rewrite notification", "error", err)
	}
}
