package history

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/archiflow-dev/archiflow/pkg/events"
	"github.com/archiflow-dev/archiflow/pkg/llm"
)

// Summarizer turns a chunk of dropped messages into summary text for a
// replacement SystemMessage. Implementations must never panic; a failing
// summarizer degrades the compaction, it must not fail the step.
type Summarizer interface {
	Summarize(ctx context.Context, messages []events.Payload, maxChars int) (string, error)
}

// SimpleSummarizer produces a deterministic, zero-LLM-cost description: a
// count of messages by kind and the distinct tool names invoked.
type SimpleSummarizer struct{}

func (SimpleSummarizer) Summarize(_ context.Context, messages []events.Payload, maxChars int) (string, error) {
	counts := make(map[events.Kind]int)
	tools := make(map[string]bool)
	for _, m := range messages {
		counts[m.Kind()]++
		if tc, ok := m.(events.ToolCallMessage); ok {
			for _, c := range tc.ToolCalls {
				tools[c.Name] = true
			}
		}
	}

	kinds := make([]events.Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[Compacted %d messages]", len(messages)))
	for _, k := range kinds {
		sb.WriteString(fmt.Sprintf(" %s=%d", k, counts[k]))
	}
	if len(tools) > 0 {
		names := make([]string, 0, len(tools))
		for n := range tools {
			names = append(names, n)
		}
		sort.Strings(names)
		sb.WriteString(" tools=" + strings.Join(names, ","))
	}

	out := sb.String()
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out, nil
}

// LLMSummarizer invokes a Provider with a meta-prompt requesting a
// bounded-length summary of the dropped chunk.
type LLMSummarizer struct {
	Provider llm.Provider
	Model    string
}

func NewLLMSummarizer(provider llm.Provider, model string) *LLMSummarizer {
	return &LLMSummarizer{Provider: provider, Model: model}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, messages []events.Payload, maxChars int) (string, error) {
	prompt := buildSummarizationPrompt(messages, maxChars)
	resp, err := s.Provider.Generate(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, nil, llm.GenerateParams{Model: s.Model})
	if err != nil {
		return "", fmt.Errorf("history: llm summarizer: %w", err)
	}

	out := "[Compacted] " + resp.Content
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out, nil
}

func buildSummarizationPrompt(messages []events.Payload, maxChars int) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation segment concisely. ")
	sb.WriteString(fmt.Sprintf("Keep the summary under %d characters. ", maxChars))
	sb.WriteString("Mention key topics, decisions, and tool executions.\n\n")

	for _, m := range ToLLMFormat(messages) {
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", m.Role, m.Content))
	}
	sb.WriteString("\n---\nSummary:")
	return sb.String()
}

// HybridSummarizer uses Simple below MessageThreshold and LLM at or above
// it, falling back to Simple if the LLM call errors.
type HybridSummarizer struct {
	MessageThreshold int
	Simple           Summarizer
	LLM              Summarizer
}

func NewHybridSummarizer(threshold int, llmSummarizer Summarizer) *HybridSummarizer {
	return &HybridSummarizer{
		MessageThreshold: threshold,
		Simple:           SimpleSummarizer{},
		LLM:              llmSummarizer,
	}
}

func (h *HybridSummarizer) Summarize(ctx context.Context, messages []events.Payload, maxChars int) (string, error) {
	if len(messages) < h.MessageThreshold || h.LLM == nil {
		return h.Simple.Summarize(ctx, messages, maxChars)
	}
	out, err := h.LLM.Summarize(ctx, messages, maxChars)
	if err != nil {
		return h.Simple.Summarize(ctx, messages, maxChars)
	}
	return out, nil
}
