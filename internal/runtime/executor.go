package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/archiflow-dev/archiflow/internal/broker"
	"github.com/archiflow-dev/archiflow/internal/observability"
	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/google/uuid"
)

// Config configures an Executor's concurrency, timeouts, and the internal
// tool-name convention used to suppress client-facing mirrors.
type Config struct {
	// Concurrency bounds how many tool calls within one batch run at once.
	Concurrency int

	// DefaultTimeout applies when a SecurityPolicy doesn't set one.
	DefaultTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call.
	MaxAttempts int

	// RetryBackoff waits between retries.
	RetryBackoff time.Duration

	// InternalPrefixes lists tool-name prefixes whose results are never
	// mirrored to client.<sid>.
	InternalPrefixes []string

	// Metrics, if set, records per-call execution counts and durations.
	// Nil disables metrics recording entirely.
	Metrics *observability.Metrics

	Logger *slog.Logger
}

// DefaultConfig returns the executor's defaults: 4-way concurrency, a
// 30-second per-call timeout, one attempt, and the conventional "todo_"
// internal-tool prefix.
func DefaultConfig() Config {
	return Config{
		Concurrency:      4,
		DefaultTimeout:   30 * time.Second,
		MaxAttempts:      1,
		InternalPrefixes: []string{"todo_"},
		Logger:           slog.Default(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
}

// SessionContext binds an Executor subscription to one session's working
// directory and security policy; every call dispatched for that session
// runs with this context.
type SessionContext struct {
	WorkingDirectory string
	SecurityPolicy   SecurityPolicy
}

// Executor is the Runtime Executor: shared across sessions, but dispatch is
// inherently per-session because each subscription reads from its own
// runtime.<sid> topic.
type Executor struct {
	registry *Registry
	bus      *broker.Broker
	cfg      Config
}

// New constructs an Executor bound to registry and bus.
func New(registry *Registry, bus *broker.Broker, cfg Config) *Executor {
	cfg.applyDefaults()
	return &Executor{registry: registry, bus: bus, cfg: cfg}
}

// Subscribe registers the executor's dispatch handler on runtime.<sid>.
func (e *Executor) Subscribe(sessionID string, sessCtx SessionContext) *broker.Subscription {
	_, runtimeTopic, _ := events.Topics(sessionID)
	return e.bus.Subscribe(runtimeTopic, func(msg events.Message) error {
		tc, ok := msg.Payload.(events.ToolCallMessage)
		if !ok {
			return nil
		}
		return e.dispatch(context.Background(), sessionID, sessCtx, tc)
	})
}

func (e *Executor) dispatch(ctx context.Context, sessionID string, sessCtx SessionContext, tc events.ToolCallMessage) error {
	agentTopic, _, clientTopic := events.Topics(sessionID)

	if len(tc.ToolCalls) == 1 {
		res := e.executeOne(ctx, sessionID, sessCtx, tc.ToolCalls[0])
		if _, err := e.bus.Publish(ctx, agentTopic, res); err != nil {
			e.reportFatal(ctx, agentTopic, err)
			return err
		}
		if !e.isInternal(tc.ToolCalls[0].Name) {
			mirror := events.ToolResultMirror{CallID: res.CallID, Name: tc.ToolCalls[0].Name, Content: res.Content, Status: res.Status}
			if _, err := e.bus.Publish(ctx, clientTopic, mirror); err != nil {
				e.cfg.Logger.Warn("runtime: failed to publish client mirror", "session", sessionID, "error", err)
			}
		}
		return nil
	}

	return e.dispatchBatch(ctx, sessionID, sessCtx, tc, agentTopic, clientTopic)
}

func (e *Executor) dispatchBatch(ctx context.Context, sessionID string, sessCtx SessionContext, tc events.ToolCallMessage, agentTopic, clientTopic string) error {
	batchID := uuid.NewString()
	batchStart := time.Now()
	results := make([]events.ToolResultObservation, len(tc.ToolCalls))

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, call := range tc.ToolCalls {
		wg.Add(1)
		go func(idx int, call events.ToolCallRequest) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = events.ToolResultObservation{CallID: call.ID, Content: "context canceled", Status: events.StatusError}
				return
			}
			results[idx] = e.executeOne(ctx, sessionID, sessCtx, call)
		}(i, call)
	}
	wg.Wait()

	batchTotal := time.Since(batchStart)
	for i, call := range tc.ToolCalls {
		if e.isInternal(call.Name) {
			continue
		}
		mirror := events.ToolResultMirror{
			CallID:          results[i].CallID,
			Name:            call.Name,
			Content:         results[i].Content,
			Status:          results[i].Status,
			BatchID:         batchID,
			BatchTotalTime:  batchTotal,
			SequenceInBatch: i,
			BatchSize:       len(tc.ToolCalls),
		}
		if _, err := e.bus.Publish(ctx, clientTopic, mirror); err != nil {
			e.cfg.Logger.Warn("runtime: failed to publish client mirror", "session", sessionID, "batch_id", batchID, "error", err)
		}
	}

	agg := events.BatchToolResultObservation{BatchID: batchID, Results: results}
	if _, err := e.bus.Publish(ctx, agentTopic, agg); err != nil {
		e.reportFatal(ctx, agentTopic, err)
		return err
	}
	return nil
}

func (e *Executor) executeOne(ctx context.Context, sessionID string, sessCtx SessionContext, call events.ToolCallRequest) events.ToolResultObservation {
	tool, ok := e.registry.Lookup(call.Name)
	if !ok {
		return events.ToolResultObservation{CallID: call.ID, Content: fmt.Sprintf("Tool not found: %s", call.Name), Status: events.StatusError}
	}

	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return events.ToolResultObservation{CallID: call.ID, Content: fmt.Sprintf("%s: %v", call.Name, ErrInvalidArguments), Status: events.StatusError}
	}

	timeout := sessCtx.SecurityPolicy.MaxExecutionTime
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	execCtx := ExecutionContext{SessionID: sessionID, WorkingDirectory: sessCtx.WorkingDirectory, SecurityPolicy: sessCtx.SecurityPolicy}

	maxAttempts := e.cfg.MaxAttempts
	var last events.ToolResultObservation
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptStart := time.Now()
		last = e.executeWithTimeout(ctx, tool, execCtx, call, timeout)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.RecordToolExecution(call.Name, string(last.Status), time.Since(attemptStart).Seconds())
		}
		if last.Status == events.StatusSuccess {
			return last
		}
		if attempt < maxAttempts && e.cfg.RetryBackoff > 0 {
			select {
			case <-time.After(e.cfg.RetryBackoff):
			case <-ctx.Done():
				return last
			}
		}
	}
	return last
}

func (e *Executor) executeWithTimeout(ctx context.Context, tool Tool, execCtx ExecutionContext, call events.ToolCallRequest, timeout time.Duration) events.ToolResultObservation {
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out Output
		err error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		out, err := tool.Execute(toolCtx, execCtx, call.Arguments)
		select {
		case ch <- outcome{out, err}:
		default:
		}
	}()

	select {
	case <-toolCtx.Done():
		elapsed := time.Since(start)
		return events.ToolResultObservation{CallID: call.ID, Content: fmt.Sprintf("Timeout after %.1fs", elapsed.Seconds()), Status: events.StatusError}
	case res := <-ch:
		if res.err != nil {
			return events.ToolResultObservation{CallID: call.ID, Content: fmt.Sprintf("Error: %v", res.err), Status: events.StatusError}
		}
		return events.ToolResultObservation{CallID: call.ID, Content: res.out.Content, Status: events.StatusSuccess}
	}
}

func (e *Executor) isInternal(name string) bool {
	for _, p := range e.cfg.InternalPrefixes {
		if p != "" && len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}

// reportFatal attempts once to tell the agent side that publishing its
// result failed, then gives up; a failed publish on agent.<sid> is fatal to
// the session because the agent would otherwise stall waiting for it.
func (e *Executor) reportFatal(ctx context.Context, agentTopic string, cause error) {
	e.cfg.Logger.Error("runtime: fatal publish failure on agent topic", "topic", agentTopic, "error", cause)
	obs := events.ErrorObservation{Content: fmt.Sprintf("runtime: failed to deliver tool result: %v", cause)}
	if _, err := e.bus.Publish(ctx, agentTopic, obs); err != nil {
		e.cfg.Logger.Error("runtime: giving up after failed fatal-error publish", "topic", agentTopic, "error", err)
	}
}
