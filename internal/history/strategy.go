package history

import "github.com/archiflow-dev/archiflow/pkg/events"

// CompactionAnalysis is the result of a CompactionStrategy: the manager
// keeps PreservedHead and PreservedTail unchanged and replaces MiddleChunk
// with a single summary SystemMessage.
type CompactionAnalysis struct {
	PreservedHead []events.Payload
	MiddleChunk   []events.Payload
	PreservedTail []events.Payload
}

// Empty reports whether this analysis has nothing to compact.
func (a CompactionAnalysis) Empty() bool {
	return len(a.MiddleChunk) == 0
}

// CompactionStrategy selects what to drop from a message list, given a
// retention window that must survive unchanged (plus any tool-call
// back-extension).
type CompactionStrategy interface {
	Analyze(messages []events.Payload, retentionWindow int) CompactionAnalysis
}

func buildCallIndex(messages []events.Payload) map[string]int {
	idx := make(map[string]int)
	for i, m := range messages {
		for _, id := range toolCallIDs(m) {
			idx[id] = i
		}
	}
	return idx
}

// extendTailStart pulls tailStart backward so that every tool result in
// [tailStart, n) has its owning ToolCallMessage also in that range.
func extendTailStart(messages []events.Payload, tailStart int) int {
	callIdx := buildCallIndex(messages)
	for {
		min := tailStart
		for i := tailStart; i < len(messages); i++ {
			for _, id := range resultCallIDs(messages[i]) {
				if owner, ok := callIdx[id]; ok && owner < min {
					min = owner
				}
			}
		}
		if min == tailStart {
			return tailStart
		}
		tailStart = min
	}
}

func noopAnalysis(messages []events.Payload) CompactionAnalysis {
	return CompactionAnalysis{PreservedTail: append([]events.Payload{}, messages...)}
}

// SelectiveRetentionStrategy ("anchor method") is the default strategy: it
// keeps the leading system message and the first user message (the "goal")
// as permanent anchors, regardless of how far back they sit, in addition to
// the retention tail.
type SelectiveRetentionStrategy struct{}

func (SelectiveRetentionStrategy) Analyze(messages []events.Payload, retentionWindow int) CompactionAnalysis {
	n := len(messages)
	if n <= retentionWindow+2 {
		return noopAnalysis(messages)
	}

	head := make([]events.Payload, 0, 2)
	headIdx := make(map[int]bool, 2)
	if isSystemMessage(messages[0]) {
		head = append(head, messages[0])
		headIdx[0] = true
	}
	firstUser := -1
	for i, m := range messages {
		if isUserMessage(m) {
			firstUser = i
			break
		}
	}
	if firstUser >= 0 {
		head = append(head, messages[firstUser])
		headIdx[firstUser] = true
	}

	tailStart := windowStart(n, retentionWindow)
	tailStart = extendTailStart(messages, tailStart)

	maxHead := -1
	for idx := range headIdx {
		if idx > maxHead {
			maxHead = idx
		}
	}
	if tailStart <= maxHead {
		tailStart = maxHead + 1
	}

	middle := make([]events.Payload, 0, tailStart)
	for i := 0; i < tailStart; i++ {
		if headIdx[i] {
			continue
		}
		middle = append(middle, messages[i])
	}

	return CompactionAnalysis{
		PreservedHead: head,
		MiddleChunk:   middle,
		PreservedTail: append([]events.Payload{}, messages[tailStart:]...),
	}
}

// SlidingWindowStrategy keeps no anchors: only the (extended) retention tail
// survives. Suitable for short open-ended chats with no fixed goal message.
type SlidingWindowStrategy struct{}

func (SlidingWindowStrategy) Analyze(messages []events.Payload, retentionWindow int) CompactionAnalysis {
	n := len(messages)
	if n <= retentionWindow+2 {
		return noopAnalysis(messages)
	}

	tailStart := windowStart(n, retentionWindow)
	tailStart = extendTailStart(messages, tailStart)

	return CompactionAnalysis{
		MiddleChunk:   append([]events.Payload{}, messages[:tailStart]...),
		PreservedTail: append([]events.Payload{}, messages[tailStart:]...),
	}
}
