package preprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/archiflow-dev/archiflow/pkg/llm"
)

// refinerResult is the JSON the refiner tool asks the LLM to emit.
type refinerResult struct {
	QualityScore    float64 `json:"quality_score"`
	RefinedPrompt   string  `json:"refined_prompt"`
	TaskType        string  `json:"task_type"`
	RefinementLevel string  `json:"refinement_level"`
}

func buildRefinerPrompt(content string) string {
	var sb strings.Builder
	sb.WriteString("You are a prompt quality reviewer. Score the following user prompt from 0 to 10 ")
	sb.WriteString("and, if it is vague, rewrite it to be specific and actionable. ")
	sb.WriteString("Respond with a single JSON object and nothing else, with fields: ")
	sb.WriteString(`quality_score (number), refined_prompt (string), task_type (string), refinement_level (string).`)
	sb.WriteString("\n\nPrompt:\n")
	sb.WriteString(content)
	return sb.String()
}

func callRefiner(ctx context.Context, provider llm.Provider, model, content string) (refinerResult, error) {
	resp, err := provider.Generate(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: buildRefinerPrompt(content)},
	}, nil, llm.GenerateParams{Model: model})
	if err != nil {
		return refinerResult{}, fmt.Errorf("preprocessor: refiner call failed: %w", err)
	}
	return parseRefinerJSON(resp.Content)
}

// parseRefinerJSON extracts a JSON object from the refiner's response,
// tolerating markdown code fences or surrounding prose.
func parseRefinerJSON(raw string) (refinerResult, error) {
	text := stripFence(strings.TrimSpace(raw))

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return refinerResult{}, fmt.Errorf("preprocessor: no JSON object in refiner response")
	}

	var result refinerResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return refinerResult{}, fmt.Errorf("preprocessor: invalid refiner JSON: %w", err)
	}
	return result, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
