// Package anthropicprovider adapts the Anthropic Go SDK to the pkg/llm.Provider
// contract so cmd/archiflow can drive a real session end to end.
package anthropicprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/archiflow-dev/archiflow/pkg/llm"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int64
}

func (c *Config) applyDefaults() {
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-20250514"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
}

// Provider implements llm.Provider against Anthropic's Messages API.
type Provider struct {
	client anthropic.Client
	cfg    Config
}

// New constructs a Provider. APIKey is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropicprovider: API key is required")
	}
	cfg.applyDefaults()

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, messages []llm.Message, tools []llm.FunctionSpec, params llm.GenerateParams) (llm.Response, error) {
	model := params.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	system, sdkMessages, err := convertMessages(messages)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropicprovider: convert messages: %w", err)
	}

	apiParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  sdkMessages,
		MaxTokens: maxTokens,
	}
	if system != "" {
		apiParams.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if params.Temperature > 0 {
		apiParams.Temperature = anthropic.Float(params.Temperature)
	}
	if len(tools) > 0 {
		apiParams.Tools, err = convertTools(tools)
		if err != nil {
			return llm.Response{}, fmt.Errorf("anthropicprovider: convert tools: %w", err)
		}
	}

	message, err := p.client.Messages.New(ctx, apiParams)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropicprovider: messages.new: %w", err)
	}
	return convertResponse(message), nil
}

// Stream is not implemented; the controller's dispatch loop only uses Generate.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message, tools []llm.FunctionSpec, params llm.GenerateParams) (<-chan llm.Chunk, error) {
	return nil, llm.ErrStreamingUnsupported
}

// CountTokens estimates message tokens using a character-based approximation
// (~4 characters per token for English text), since the SDK does not expose
// a free-standing tokenizer. This is a rough estimate, good enough to check
// context-window fit without making a billed API call.
func (p *Provider) CountTokens(ctx context.Context, messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
		total += len(msg.Role) / 4
		for _, tc := range msg.ToolCalls {
			total += len(tc.Name) / 4
			total += len(tc.Arguments) / 4
		}
	}
	return total, nil
}

// CountToolsTokens estimates the token cost of a tool schema set using the
// same character-based approximation as CountTokens.
func (p *Provider) CountToolsTokens(ctx context.Context, tools []llm.FunctionSpec) (int, error) {
	total := 0
	for _, t := range tools {
		total += len(t.Name) / 4
		total += len(t.Description) / 4
		if schemaJSON, err := json.Marshal(t.Parameters); err == nil {
			total += len(schemaJSON) / 4
		}
	}
	return total, nil
}

// ModelConfig reports the context window and max output tokens for the
// configured default model.
func (p *Provider) ModelConfig() llm.ModelConfig {
	return llm.ModelConfig{ContextWindow: 200000, MaxOutputTokens: int(p.cfg.MaxTokens)}
}

func convertMessages(messages []llm.Message) (string, []anthropic.MessageParam, error) {
	var system string
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if msg.Role == llm.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					return "", nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == llm.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return system, result, nil
}

func convertTools(tools []llm.FunctionSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schemaJSON, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

func convertResponse(message *anthropic.Message) llm.Response {
	resp := llm.Response{
		Usage: llm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			var input map[string]any
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			args, _ := json.Marshal(input)
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})
		}
	}

	switch message.StopReason {
	case "tool_use":
		resp.FinishReason = llm.FinishToolCalls
	case "max_tokens":
		resp.FinishReason = llm.FinishLength
	default:
		resp.FinishReason = llm.FinishStop
	}
	return resp
}
