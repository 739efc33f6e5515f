package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/archiflow-dev/archiflow/internal/broker"
	"github.com/archiflow-dev/archiflow/pkg/events"
)

type fakeTool struct {
	name  string
	sleep time.Duration
	err   error
	out   string
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool for tests" }
func (f *fakeTool) Parameters() any     { return nil }

func (f *fakeTool) Execute(ctx context.Context, _ ExecutionContext, _ json.RawMessage) (Output, error) {
	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			return Output{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Output{}, f.err
	}
	return Output{Content: f.out}, nil
}

type collector struct {
	mu   sync.Mutex
	msgs []events.Message
}

func (c *collector) handler(msg events.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) snapshot() []events.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestExecutorSingleCallSuccess(t *testing.T) {
	bus := broker.New()
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "read", out: "FILE"})
	exec := New(registry, bus, DefaultConfig())

	agentTopic, runtimeTopic, clientTopic := events.Topics("S2")
	agentC, clientC := &collector{}, &collector{}
	bus.Subscribe(agentTopic, agentC.handler)
	bus.Subscribe(clientTopic, clientC.handler)
	exec.Subscribe("S2", SessionContext{})

	_, _ = bus.Publish(context.Background(), runtimeTopic, events.ToolCallMessage{
		SessionID: "S2",
		ToolCalls: []events.ToolCallRequest{{ID: "c1", Name: "read"}},
	})

	waitFor(t, func() bool { return len(agentC.snapshot()) == 1 })
	obs, ok := agentC.snapshot()[0].Payload.(events.ToolResultObservation)
	if !ok || obs.CallID != "c1" || obs.Content != "FILE" || obs.Status != events.StatusSuccess {
		t.Fatalf("unexpected agent observation: %+v", agentC.snapshot()[0].Payload)
	}

	waitFor(t, func() bool { return len(clientC.snapshot()) == 1 })
}

func TestExecutorBatchPreservesOrder(t *testing.T) {
	bus := broker.New()
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "read", sleep: 100 * time.Millisecond, out: "slow"})
	// second call uses a distinct tool name so both can be registered.
	registry.Register(&fakeTool{name: "read-fast", sleep: 10 * time.Millisecond, out: "fast"})
	exec := New(registry, bus, DefaultConfig())

	agentTopic, runtimeTopic, clientTopic := events.Topics("S3")
	agentC, clientC := &collector{}, &collector{}
	bus.Subscribe(agentTopic, agentC.handler)
	bus.Subscribe(clientTopic, clientC.handler)
	exec.Subscribe("S3", SessionContext{})

	_, _ = bus.Publish(context.Background(), runtimeTopic, events.ToolCallMessage{
		SessionID: "S3",
		ToolCalls: []events.ToolCallRequest{
			{ID: "c1", Name: "read"},
			{ID: "c2", Name: "read-fast"},
		},
	})

	waitFor(t, func() bool { return len(agentC.snapshot()) == 1 })
	agg, ok := agentC.snapshot()[0].Payload.(events.BatchToolResultObservation)
	if !ok {
		t.Fatalf("expected a single BatchToolResultObservation, got %+v", agentC.snapshot()[0].Payload)
	}
	if len(agg.Results) != 2 || agg.Results[0].CallID != "c1" || agg.Results[1].CallID != "c2" {
		t.Fatalf("expected results in input order [c1,c2], got %+v", agg.Results)
	}

	waitFor(t, func() bool { return len(clientC.snapshot()) == 2 })
	for _, msg := range clientC.snapshot() {
		mirror, ok := msg.Payload.(events.ToolResultMirror)
		if !ok || mirror.BatchSize != 2 || mirror.BatchID != agg.BatchID {
			t.Fatalf("unexpected mirror metadata: %+v", msg.Payload)
		}
	}
}

func TestExecutorSuppressesInternalToolMirror(t *testing.T) {
	bus := broker.New()
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "todo_write", out: "ok"})
	exec := New(registry, bus, DefaultConfig())

	agentTopic, runtimeTopic, clientTopic := events.Topics("S4")
	agentC, clientC := &collector{}, &collector{}
	bus.Subscribe(agentTopic, agentC.handler)
	bus.Subscribe(clientTopic, clientC.handler)
	exec.Subscribe("S4", SessionContext{})

	_, _ = bus.Publish(context.Background(), runtimeTopic, events.ToolCallMessage{
		SessionID: "S4",
		ToolCalls: []events.ToolCallRequest{{ID: "c1", Name: "todo_write"}},
	})

	waitFor(t, func() bool { return len(agentC.snapshot()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if len(clientC.snapshot()) != 0 {
		t.Fatalf("expected no client mirror for internal tool, got %+v", clientC.snapshot())
	}
}

func TestExecutorToolNotFound(t *testing.T) {
	bus := broker.New()
	exec := New(NewRegistry(), bus, DefaultConfig())

	agentTopic, runtimeTopic, _ := events.Topics("S5")
	agentC := &collector{}
	bus.Subscribe(agentTopic, agentC.handler)
	exec.Subscribe("S5", SessionContext{})

	_, _ = bus.Publish(context.Background(), runtimeTopic, events.ToolCallMessage{
		SessionID: "S5",
		ToolCalls: []events.ToolCallRequest{{ID: "c1", Name: "missing"}},
	})

	waitFor(t, func() bool { return len(agentC.snapshot()) == 1 })
	obs := agentC.snapshot()[0].Payload.(events.ToolResultObservation)
	if obs.Status != events.StatusError {
		t.Fatalf("expected status=error for missing tool, got %+v", obs)
	}
}

func TestExecutorTimeout(t *testing.T) {
	bus := broker.New()
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "slow", sleep: 200 * time.Millisecond})
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 20 * time.Millisecond
	exec := New(registry, bus, cfg)

	agentTopic, runtimeTopic, _ := events.Topics("S6")
	agentC := &collector{}
	bus.Subscribe(agentTopic, agentC.handler)
	exec.Subscribe("S6", SessionContext{})

	_, _ = bus.Publish(context.Background(), runtimeTopic, events.ToolCallMessage{
		SessionID: "S6",
		ToolCalls: []events.ToolCallRequest{{ID: "c1", Name: "slow"}},
	})

	waitFor(t, func() bool { return len(agentC.snapshot()) == 1 })
	obs := agentC.snapshot()[0].Payload.(events.ToolResultObservation)
	if obs.Status != events.StatusError {
		t.Fatalf("expected timeout to report status=error, got %+v", obs)
	}
}

func TestExecutorToolError(t *testing.T) {
	bus := broker.New()
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "broken", err: errors.New("boom")})
	exec := New(registry, bus, DefaultConfig())

	agentTopic, runtimeTopic, _ := events.Topics("S7")
	agentC := &collector{}
	bus.Subscribe(agentTopic, agentC.handler)
	exec.Subscribe("S7", SessionContext{})

	_, _ = bus.Publish(context.Background(), runtimeTopic, events.ToolCallMessage{
		SessionID: "S7",
		ToolCalls: []events.ToolCallRequest{{ID: "c1", Name: "broken"}},
	})

	waitFor(t, func() bool { return len(agentC.snapshot()) == 1 })
	obs := agentC.snapshot()[0].Payload.(events.ToolResultObservation)
	if obs.Status != events.StatusError {
		t.Fatalf("expected tool error to report status=error, got %+v", obs)
	}
}
