package history

import (
	"encoding/json"
	"fmt"

	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/archiflow-dev/archiflow/pkg/llm"
)

// ToLLMFormat projects messages into the provider-neutral chat shape. It
// never produces a message with a null content field; content is always a
// string, empty when there is nothing to say.
func ToLLMFormat(messages []events.Payload) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, projectOne(m)...)
	}
	return out
}

func projectOne(p events.Payload) []llm.Message {
	switch v := p.(type) {
	case events.SystemMessage:
		return []llm.Message{{Role: llm.RoleSystem, Content: v.Content}}

	case events.UserMessage:
		return []llm.Message{{Role: llm.RoleUser, Content: v.Content}}

	case events.ProjectContextMessage:
		return []llm.Message{{Role: llm.RoleUser, Content: "[Project Context]\n" + v.Context}}

	case events.EnvironmentMessage:
		return []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf("[Environment Event: %s] %s", v.EventType, v.Content)}}

	case events.ErrorObservation:
		return []llm.Message{{Role: llm.RoleUser, Content: "[Error] " + v.Content}}

	case events.LLMThinkMessage:
		return []llm.Message{{Role: llm.RoleAssistant, Content: v.Content}}

	case events.LLMRespondMessage:
		return []llm.Message{{Role: llm.RoleAssistant, Content: v.Content}}

	case events.ToolCallMessage:
		calls := make([]llm.ToolCall, 0, len(v.ToolCalls))
		for _, tc := range v.ToolCalls {
			calls = append(calls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: string(argumentsJSON(tc.Arguments)),
			})
		}
		return []llm.Message{{Role: llm.RoleAssistant, Content: "", ToolCalls: calls}}

	case events.ToolResultObservation:
		return []llm.Message{{Role: llm.RoleTool, Content: v.Content, ToolCallID: v.CallID}}

	case events.BatchToolResultObservation:
		msgs := make([]llm.Message, 0, len(v.Results))
		for _, r := range v.Results {
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: r.Content, ToolCallID: r.CallID})
		}
		return msgs

	default:
		// StopMessage / AgentFinishedMessage carry no LLM-visible content.
		return nil
	}
}

func argumentsJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
