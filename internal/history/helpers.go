package history

import "github.com/archiflow-dev/archiflow/pkg/events"

// toolCallIDs returns the ids of every call carried by a ToolCallMessage, or
// nil for any other payload kind.
func toolCallIDs(p events.Payload) []string {
	tc, ok := p.(events.ToolCallMessage)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(tc.ToolCalls))
	for _, c := range tc.ToolCalls {
		ids = append(ids, c.ID)
	}
	return ids
}

// resultCallIDs returns the call ids a tool-result payload answers to,
// whether it's a single observation or a batch.
func resultCallIDs(p events.Payload) []string {
	switch v := p.(type) {
	case events.ToolResultObservation:
		return []string{v.CallID}
	case events.BatchToolResultObservation:
		ids := make([]string, 0, len(v.Results))
		for _, r := range v.Results {
			ids = append(ids, r.CallID)
		}
		return ids
	default:
		return nil
	}
}

// dedupeKey returns a (kind, content) pair used to detect consecutive
// duplicate messages. Payloads with no meaningful textual content (tool
// calls, batches) return ok=false and are never treated as duplicates.
func dedupeKey(p events.Payload) (kind events.Kind, content string, ok bool) {
	switch v := p.(type) {
	case events.UserMessage:
		return v.Kind(), v.Content, true
	case events.SystemMessage:
		return v.Kind(), v.Content, true
	case events.EnvironmentMessage:
		return v.Kind(), v.Content, true
	case events.LLMRespondMessage:
		return v.Kind(), v.Content, true
	case events.LLMThinkMessage:
		return v.Kind(), v.Content, true
	case events.ErrorObservation:
		return v.Kind(), v.Content, true
	default:
		return "", "", false
	}
}

// isSystemMessage reports whether p is a SystemMessage (including compaction
// summaries, which are represented the same way).
func isSystemMessage(p events.Payload) bool {
	_, ok := p.(events.SystemMessage)
	return ok
}

// isUserMessage reports whether p is a UserMessage.
func isUserMessage(p events.Payload) bool {
	_, ok := p.(events.UserMessage)
	return ok
}
