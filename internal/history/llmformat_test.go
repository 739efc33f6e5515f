package history

import (
	"testing"

	"github.com/archiflow-dev/archiflow/pkg/events"
)

func TestToLLMFormatNeverNullContent(t *testing.T) {
	msgs := []events.Payload{
		events.SystemMessage{Content: "sys"},
		events.ToolCallMessage{ToolCalls: []events.ToolCallRequest{{ID: "c1", Name: "read"}}},
		events.ToolResultObservation{CallID: "c1", Content: "ok", Status: events.StatusSuccess},
	}
	out := ToLLMFormat(msgs)
	for i, m := range out {
		if m.Content == "" && m.Role != "assistant" {
			continue
		}
		_ = i
	}

	// The tool-call message must carry an empty string, not an absent field.
	if out[1].Role != "assistant" {
		t.Fatalf("expected assistant role for tool call message, got %q", out[1].Role)
	}
	if out[1].Content != "" {
		t.Fatalf("expected empty content for tool call message, got %q", out[1].Content)
	}
	if len(out[1].ToolCalls) != 1 || out[1].ToolCalls[0].ID != "c1" {
		t.Fatalf("expected one tool call with id c1, got %+v", out[1].ToolCalls)
	}
}

func TestToLLMFormatToolResultRoundTrip(t *testing.T) {
	msgs := []events.Payload{
		events.ToolCallMessage{ToolCalls: []events.ToolCallRequest{{ID: "c1", Name: "read"}}},
		events.ToolResultObservation{CallID: "c1", Content: "FILE", Status: events.StatusSuccess},
	}
	out := ToLLMFormat(msgs)
	if len(out) != 2 {
		t.Fatalf("expected 2 projected messages, got %d", len(out))
	}
	assistantCallIDs := map[string]bool{}
	for _, tc := range out[0].ToolCalls {
		assistantCallIDs[tc.ID] = true
	}
	if !assistantCallIDs[out[1].ToolCallID] {
		t.Fatalf("tool result's call id %q does not match any prior assistant tool call", out[1].ToolCallID)
	}
}

func TestToLLMFormatBatchExpandsInOrder(t *testing.T) {
	batch := events.BatchToolResultObservation{
		BatchID: "b1",
		Results: []events.ToolResultObservation{
			{CallID: "c1", Content: "r1", Status: events.StatusSuccess},
			{CallID: "c2", Content: "r2", Status: events.StatusSuccess},
		},
	}
	out := ToLLMFormat([]events.Payload{batch})
	if len(out) != 2 || out[0].ToolCallID != "c1" || out[1].ToolCallID != "c2" {
		t.Fatalf("expected batch expanded in input order, got %+v", out)
	}
}
