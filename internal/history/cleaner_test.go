package history

import (
	"testing"

	"github.com/archiflow-dev/archiflow/pkg/events"
)

func TestTodoCleanerRemovesPairOutsideWindow(t *testing.T) {
	msgs := []events.Payload{
		events.SystemMessage{Content: "sys"},
		events.UserMessage{Content: "goal"},
		events.ToolCallMessage{ToolCalls: []events.ToolCallRequest{{ID: "t1", Name: "todo_write"}}},
		events.ToolResultObservation{CallID: "t1", Content: "ok", Status: events.StatusSuccess},
		events.UserMessage{Content: "m1"},
		events.UserMessage{Content: "m2"},
	}

	cleaner := DefaultTodoCleaner()
	out := cleaner.Clean(msgs, 2) // retention window of 2: only the last two messages are protected

	for _, m := range out {
		if tc, ok := m.(events.ToolCallMessage); ok {
			t.Fatalf("expected todo tool call removed, found %+v", tc)
		}
		if tr, ok := m.(events.ToolResultObservation); ok {
			t.Fatalf("expected todo tool result removed, found %+v", tr)
		}
	}
}

func TestTodoCleanerKeepsPairInsideWindow(t *testing.T) {
	msgs := []events.Payload{
		events.SystemMessage{Content: "sys"},
		events.UserMessage{Content: "goal"},
		events.ToolCallMessage{ToolCalls: []events.ToolCallRequest{{ID: "t1", Name: "todo_write"}}},
		events.ToolResultObservation{CallID: "t1", Content: "ok", Status: events.StatusSuccess},
	}

	cleaner := DefaultTodoCleaner()
	out := cleaner.Clean(msgs, 2)
	if len(out) != len(msgs) {
		t.Fatalf("expected todo pair inside retention window to survive, got %d messages", len(out))
	}
}

func TestDuplicateCleanerDropsImmediateRepeat(t *testing.T) {
	msgs := []events.Payload{
		events.SystemMessage{Content: "sys"},
		events.UserMessage{Content: "hello"},
		events.LLMRespondMessage{Content: "same"},
		events.LLMRespondMessage{Content: "same"},
		events.UserMessage{Content: "end"},
	}

	out := DuplicateCleaner{}.Clean(msgs, 1)
	count := 0
	for _, m := range out {
		if r, ok := m.(events.LLMRespondMessage); ok && r.Content == "same" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected duplicate collapsed to 1 occurrence, got %d", count)
	}
}

func TestDuplicateCleanerNeverDropsFirstUserMessage(t *testing.T) {
	msgs := []events.Payload{
		events.UserMessage{Content: "hello"},
		events.UserMessage{Content: "hello"},
	}
	out := DuplicateCleaner{}.Clean(msgs, 0)
	if len(out) == 0 || !isUserMessage(out[0]) {
		t.Fatalf("expected first user message preserved, got %+v", out)
	}
}

func TestCompositeCleanerAppliesInOrder(t *testing.T) {
	msgs := []events.Payload{
		events.SystemMessage{Content: "sys"},
		events.UserMessage{Content: "goal"},
		events.ToolCallMessage{ToolCalls: []events.ToolCallRequest{{ID: "t1", Name: "todo_write"}}},
		events.ToolResultObservation{CallID: "t1", Content: "ok", Status: events.StatusSuccess},
		events.LLMRespondMessage{Content: "same"},
		events.LLMRespondMessage{Content: "same"},
	}
	composite := NewCompositeCleaner(DefaultTodoCleaner(), DuplicateCleaner{})
	out := composite.Clean(msgs, 0)

	for _, m := range out {
		if _, ok := m.(events.ToolCallMessage); ok {
			t.Fatalf("expected todo pair removed by composite cleaner")
		}
	}
	respondCount := 0
	for _, m := range out {
		if _, ok := m.(events.LLMRespondMessage); ok {
			respondCount++
		}
	}
	if respondCount != 1 {
		t.Fatalf("expected duplicate respond message collapsed, got %d", respondCount)
	}
	if !isSystemMessage(out[0]) {
		t.Fatalf("expected system message to remain at index 0, got %+v", out[0])
	}
}
