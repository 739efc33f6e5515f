package history

import (
	"context"
	"math"

	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/archiflow-dev/archiflow/pkg/llm"
)

// countTokens estimates the token cost of messages using provider if
// non-nil, falling back to ceil(chars/4) on a nil provider or any error.
func countTokens(ctx context.Context, provider llm.Provider, messages []events.Payload) int {
	if provider != nil {
		if n, err := provider.CountTokens(ctx, ToLLMFormat(messages)); err == nil {
			return n
		}
	}
	return charFallback(messages)
}

func charFallback(messages []events.Payload) int {
	total := 0
	for _, m := range messages {
		total += payloadChars(m)
	}
	return int(math.Ceil(float64(total) / 4.0))
}

// payloadChars returns an approximate character count for a single payload,
// used by the char-based token fallback.
func payloadChars(p events.Payload) int {
	switch v := p.(type) {
	case events.UserMessage:
		return len(v.Content)
	case events.SystemMessage:
		return len(v.Content)
	case events.ProjectContextMessage:
		return len(v.Context)
	case events.EnvironmentMessage:
		return len(v.Content)
	case events.LLMRespondMessage:
		return len(v.Content)
	case events.LLMThinkMessage:
		return len(v.Content)
	case events.ToolCallMessage:
		n := 0
		for _, tc := range v.ToolCalls {
			n += len(tc.Name) + len(tc.Arguments)
		}
		return n
	case events.ToolResultObservation:
		return len(v.Content)
	case events.BatchToolResultObservation:
		n := 0
		for _, r := range v.Results {
			n += len(r.Content)
		}
		return n
	case events.ErrorObservation:
		return len(v.Content)
	default:
		return 0
	}
}
