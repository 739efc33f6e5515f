package history

import "github.com/archiflow-dev/archiflow/pkg/events"

// Cleaner removes stale messages before compaction runs. Cleaners are pure
// functions over the message list: they never mutate their input and never
// touch the system message at index 0 or the first user message.
type Cleaner interface {
	Clean(messages []events.Payload, retentionWindow int) []events.Payload
}

func windowStart(n, retentionWindow int) int {
	start := n - retentionWindow
	if start < 0 {
		return 0
	}
	return start
}

// TodoCleaner removes paired ToolCallMessage/ToolResultObservation entries
// whose call targets a todo-tracking tool, once both the call and its result
// lie outside the retention window. Only the latest todo state matters to
// the agent; older updates are dead weight.
//
// The matched tool set is configurable rather than hardcoded to a single
// name, since deployments name their todo tool differently.
type TodoCleaner struct {
	// Prefixes matches any tool name starting with one of these strings.
	Prefixes []string
	// Names matches an exact tool name.
	Names []string
}

// DefaultTodoCleaner matches the conventional "todo_"-prefixed tool family.
func DefaultTodoCleaner() *TodoCleaner {
	return &TodoCleaner{Prefixes: []string{"todo_"}}
}

func (c *TodoCleaner) isTodo(name string) bool {
	for _, n := range c.Names {
		if name == n {
			return true
		}
	}
	for _, p := range c.Prefixes {
		if p != "" && len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}

func (c *TodoCleaner) Clean(messages []events.Payload, retentionWindow int) []events.Payload {
	n := len(messages)
	start := windowStart(n, retentionWindow)

	removeIdx := make(map[int]bool)
	removeCallIDs := make(map[string]bool)
	for i := 0; i < start; i++ {
		tc, ok := messages[i].(events.ToolCallMessage)
		if !ok || len(tc.ToolCalls) == 0 {
			continue
		}
		allTodo := true
		for _, call := range tc.ToolCalls {
			if !c.isTodo(call.Name) {
				allTodo = false
				break
			}
		}
		if !allTodo {
			continue
		}
		resultInWindow := false
		for _, m := range messages[start:] {
			for _, id := range resultCallIDs(m) {
				for _, call := range tc.ToolCalls {
					if id == call.ID {
						resultInWindow = true
					}
				}
			}
		}
		if resultInWindow {
			continue
		}
		removeIdx[i] = true
		for _, call := range tc.ToolCalls {
			removeCallIDs[call.ID] = true
		}
	}
	if len(removeIdx) == 0 {
		return messages
	}

	out := make([]events.Payload, 0, n)
	for i, m := range messages {
		if removeIdx[i] {
			continue
		}
		if i < start {
			if tr, ok := m.(events.ToolResultObservation); ok && removeCallIDs[tr.CallID] {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// DuplicateCleaner removes a message identical in kind and content to its
// immediate predecessor, unless it lies within the retention window.
type DuplicateCleaner struct{}

func (DuplicateCleaner) Clean(messages []events.Payload, retentionWindow int) []events.Payload {
	n := len(messages)
	start := windowStart(n, retentionWindow)
	firstUser := -1
	for i, m := range messages {
		if isUserMessage(m) {
			firstUser = i
			break
		}
	}

	out := make([]events.Payload, 0, n)
	for i, m := range messages {
		if i > 0 && i < start && i != firstUser {
			curKind, curContent, curOK := dedupeKey(m)
			prevKind, prevContent, prevOK := dedupeKey(messages[i-1])
			if curOK && prevOK && curKind == prevKind && curContent == prevContent {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// CompositeCleaner runs an ordered list of cleaners, feeding each one's
// output into the next.
type CompositeCleaner struct {
	Cleaners []Cleaner
}

// NewCompositeCleaner builds a pipeline that runs cleaners in the order
// given. DefaultConfig passes TODO cleaning before duplicate removal, so a
// dropped todo pair can't leave an orphaned duplicate behind.
func NewCompositeCleaner(cleaners ...Cleaner) *CompositeCleaner {
	return &CompositeCleaner{Cleaners: cleaners}
}

func (c *CompositeCleaner) Clean(messages []events.Payload, retentionWindow int) []events.Payload {
	cur := messages
	for _, cl := range c.Cleaners {
		cur = cl.Clean(cur, retentionWindow)
	}
	if len(cur) > 0 && len(messages) > 0 && isSystemMessage(messages[0]) {
		if len(cur) == 0 || !isSystemMessage(cur[0]) {
			cur = append([]events.Payload{messages[0]}, cur...)
		}
	}
	return cur
}
