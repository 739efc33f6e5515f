package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/archiflow-dev/archiflow/internal/broker"
	"github.com/archiflow-dev/archiflow/internal/confighierarchy"
	"github.com/archiflow-dev/archiflow/internal/observability"
	"github.com/archiflow-dev/archiflow/internal/preprocessor"
	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/archiflow-dev/archiflow/pkg/llm"
	"go.opentelemetry.io/otel/attribute"
)

// Config bundles a Controller's construction-time dependencies.
type Config struct {
	SessionID string
	Agent     Agent
	Bus       *broker.Broker

	// WorkingDirectory and HomeDirectory locate the project and global
	// layers of the Config Hierarchy; an empty HomeDirectory falls back to
	// os.UserHomeDir.
	WorkingDirectory string
	HomeDirectory    string

	// Provider and Model are used to construct the Prompt Preprocessor's
	// refiner calls. Provider may be nil, in which case refinement is
	// effectively disabled regardless of resolved settings.
	Provider llm.Provider
	Model    string

	// EnvLookup overrides os.LookupEnv for the preprocessor's settings
	// resolution; nil uses the real environment.
	EnvLookup preprocessor.EnvLookup

	PreprocessorOverrides preprocessor.Overrides

	// Tracer wraps each agent.step invocation in a span. A nil Tracer
	// results in no-op spans (the observability package's zero-endpoint
	// behavior).
	Tracer *observability.Tracer

	Logger *slog.Logger
}

// Controller drives one session's inbound→agent→outbound loop: it
// subscribes to agent.<sid>, runs inbound UserMessages through the
// preprocessor, steps the agent, and republishes outbound events to
// client.<sid> or runtime.<sid>.
type Controller struct {
	sessionID string
	agent     Agent
	bus       *broker.Broker

	hierarchy *confighierarchy.Hierarchy
	provider  llm.Provider
	model     string
	envLookup preprocessor.EnvLookup
	overrides preprocessor.Overrides

	ppMu sync.RWMutex
	pp   *preprocessor.Preprocessor

	tracer *observability.Tracer
	logger *slog.Logger

	terminal atomic.Bool
	sub      *broker.Subscription
}

// New constructs and starts a Controller: it resolves the initial
// ConfigSnapshot, builds a bound Preprocessor, and subscribes the
// dispatch handler to agent.<sid>.
func New(cfg Config) (*Controller, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer, _ = observability.NewTracer(observability.TraceConfig{ServiceName: "archiflow-controller"})
	}
	c := &Controller{
		sessionID: cfg.SessionID,
		agent:     cfg.Agent,
		bus:       cfg.Bus,
		hierarchy: confighierarchy.New(cfg.HomeDirectory, cfg.WorkingDirectory),
		provider:  cfg.Provider,
		model:     cfg.Model,
		envLookup: cfg.EnvLookup,
		overrides: cfg.PreprocessorOverrides,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
	}

	if err := c.rebuildPreprocessor(false); err != nil {
		return nil, fmt.Errorf("controller: initial config load: %w", err)
	}

	agentTopic, _, _ := events.Topics(cfg.SessionID)
	c.sub = c.bus.Subscribe(agentTopic, c.dispatch)
	return c, nil
}

// ReloadConfig recomputes the ConfigSnapshot from disk and swaps the
// preprocessor; steps already in progress continue with their prior
// config, since the preprocessor pointer is only read at the top of
// dispatch.
func (c *Controller) ReloadConfig() error {
	return c.rebuildPreprocessor(true)
}

func (c *Controller) rebuildPreprocessor(force bool) error {
	snapshot, err := c.hierarchy.Load(force)
	if err != nil {
		return err
	}
	settings := preprocessor.ResolveSettings(c.overrides, snapshot, c.envLookup)
	pp := preprocessor.New(c.provider, c.model, settings, c.bus)

	c.ppMu.Lock()
	c.pp = pp
	c.ppMu.Unlock()
	return nil
}

func (c *Controller) currentPreprocessor() *preprocessor.Preprocessor {
	c.ppMu.RLock()
	defer c.ppMu.RUnlock()
	return c.pp
}

// Terminal reports whether this session has finished, stopped, or failed.
func (c *Controller) Terminal() bool {
	return c.terminal.Load()
}

// Close unsubscribes the controller from its agent topic.
func (c *Controller) Close() {
	if c.sub != nil {
		c.bus.Unsubscribe(c.sub)
	}
}

// dispatch is the broker handler for agent.<sid>. The broker serializes
// invocations per subscriber, which is what gives us "one step at a time
// per session" without an additional lock around Step itself.
func (c *Controller) dispatch(msg events.Message) error {
	if c.terminal.Load() {
		return nil
	}
	if !c.agent.Running() {
		c.terminal.Store(true)
		return nil
	}

	ctx := context.Background()
	payload := msg.Payload

	if um, ok := payload.(events.UserMessage); ok {
		if pp := c.currentPreprocessor(); pp != nil {
			payload = pp.Process(ctx, um)
		}
	}

	ctx, span := c.tracer.Start(ctx, "agent.step", observability.SpanOptions{
		Attributes: []attribute.KeyValue{
			attribute.String("session_id", c.sessionID),
			attribute.String("inbound.kind", string(payload.Kind())),
		},
	})
	outbound, err := c.agent.Step(ctx, payload)
	if err != nil {
		c.tracer.RecordError(span, err)
		span.End()
		c.failSession(ctx, err)
		return err
	}
	span.End()

	for _, out := range outbound {
		if err := c.publishOutbound(ctx, out); err != nil {
			return err
		}
	}

	if !c.agent.Running() {
		c.terminal.Store(true)
	}
	return nil
}

func (c *Controller) publishOutbound(ctx context.Context, out events.Payload) error {
	clientTopic := c.clientTopic()
	runtimeTopic := c.runtimeTopic()

	switch out.(type) {
	case events.LLMRespondMessage, events.LLMThinkMessage:
		if _, err := c.bus.Publish(ctx, clientTopic, out); err != nil {
			c.logger.Warn("controller: failed to publish client event", "session", c.sessionID, "error", err)
		}
	case events.AgentFinishedMessage:
		if _, err := c.bus.Publish(ctx, clientTopic, out); err != nil {
			c.logger.Warn("controller: failed to publish client event", "session", c.sessionID, "error", err)
		}
		c.terminal.Store(true)
	case events.ToolCallMessage:
		if _, err := c.bus.Publish(ctx, runtimeTopic, out); err != nil {
			// Tool results would never arrive without this publish
			// succeeding, so the session can no longer make progress.
			c.logger.Error("controller: failed to publish tool call, stopping session", "session", c.sessionID, "error", err)
			c.terminal.Store(true)
			return fmt.Errorf("controller: runtime publish failed: %w", err)
		}
	default:
		c.logger.Warn("controller: agent emitted unrecognized outbound payload", "session", c.sessionID, "kind", out.Kind())
	}
	return nil
}

func (c *Controller) failSession(ctx context.Context, cause error) {
	c.logger.Error("controller: agent step failed, stopping session", "session", c.sessionID, "error", cause)
	c.terminal.Store(true)
	errObs := events.ErrorObservation{Content: fmt.Sprintf("agent step failed: %v", cause)}
	if _, err := c.bus.Publish(ctx, c.clientTopic(), errObs); err != nil {
		c.logger.Warn("controller: failed to publish failure notice", "session", c.sessionID, "error", err)
	}
}

func (c *Controller) clientTopic() string {
	_, _, client := events.Topics(c.sessionID)
	return client
}

func (c *Controller) runtimeTopic() string {
	_, runtime, _ := events.Topics(c.sessionID)
	return runtime
}
