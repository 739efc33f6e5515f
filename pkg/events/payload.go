// Package events defines the payload types that travel over the broker's
// topics. Each payload carries a Kind discriminator so a subscriber can
// switch on it without a type assertion cascade, matching the tagged-event
// style the rest of this codebase uses for its own event streams.
package events

import (
	"encoding/json"
	"time"
)

// Kind identifies the concrete payload type carried by a Message.
type Kind string

const (
	KindUserMessage                Kind = "user_message"
	KindSystemMessage              Kind = "system_message"
	KindProjectContextMessage      Kind = "project_context_message"
	KindEnvironmentMessage         Kind = "environment_message"
	KindLLMRespondMessage          Kind = "llm_respond_message"
	KindLLMThinkMessage            Kind = "llm_think_message"
	KindToolCallMessage            Kind = "tool_call_message"
	KindToolResultObservation      Kind = "tool_result_observation"
	KindBatchToolResultObservation Kind = "batch_tool_result_observation"
	KindErrorObservation           Kind = "error_observation"
	KindStopMessage                Kind = "stop_message"
	KindAgentFinishedMessage       Kind = "agent_finished_message"
	KindToolResultMirror           Kind = "tool_result_mirror"
	KindPromptRefinedNotification  Kind = "prompt_refined_notification"
)

// Payload is implemented by every concrete event type. Kind lets a handler
// dispatch without a type switch over every possible Go type.
type Payload interface {
	Kind() Kind
}

// ToolCallRequest is one invocation requested by the agent within a
// ToolCallMessage. A ToolCallMessage with more than one request is run by
// the executor as a batch.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Status is the outcome of a tool execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// UserMessage is an external user turn delivered to the agent.
type UserMessage struct {
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"sequence"`
	Content   string `json:"content"`
}

func (UserMessage) Kind() Kind { return KindUserMessage }

// SystemMessage carries the system prompt or a compaction summary.
type SystemMessage struct {
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"sequence"`
	Content   string `json:"content"`
}

func (SystemMessage) Kind() Kind { return KindSystemMessage }

// ProjectContextMessage injects project guidelines (e.g. ARCHIFLOW.md content).
type ProjectContextMessage struct {
	SessionID string   `json:"session_id"`
	Context   string   `json:"context"`
	Sources   []string `json:"sources"`
}

func (ProjectContextMessage) Kind() Kind { return KindProjectContextMessage }

// EnvironmentMessage notifies the agent of an external event.
type EnvironmentMessage struct {
	SessionID string `json:"session_id"`
	EventType string `json:"event_type"`
	Content   string `json:"content"`
}

func (EnvironmentMessage) Kind() Kind { return KindEnvironmentMessage }

// LLMRespondMessage is the agent's final text for a turn.
type LLMRespondMessage struct {
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"sequence"`
	Content   string `json:"content"`
}

func (LLMRespondMessage) Kind() Kind { return KindLLMRespondMessage }

// LLMThinkMessage is optional intermediate reasoning text.
type LLMThinkMessage struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (LLMThinkMessage) Kind() Kind { return KindLLMThinkMessage }

// ToolCallMessage carries one or more tool invocations requested by the agent.
type ToolCallMessage struct {
	SessionID string            `json:"session_id"`
	ToolCalls []ToolCallRequest `json:"tool_calls"`
}

func (ToolCallMessage) Kind() Kind { return KindToolCallMessage }

// ToolResultObservation is the result of a single tool invocation.
type ToolResultObservation struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	Status  Status `json:"status"`
}

func (ToolResultObservation) Kind() Kind { return KindToolResultObservation }

// BatchToolResultObservation aggregates the results of a batch of tool calls.
type BatchToolResultObservation struct {
	BatchID string                  `json:"batch_id"`
	Results []ToolResultObservation `json:"results"`
}

func (BatchToolResultObservation) Kind() Kind { return KindBatchToolResultObservation }

// ErrorObservation is non-fatal problem feedback delivered to the LLM.
type ErrorObservation struct {
	Content string `json:"content"`
}

func (ErrorObservation) Kind() Kind { return KindErrorObservation }

// StopMessage stops the agent loop for a session.
type StopMessage struct {
	Reason string `json:"reason"`
}

func (StopMessage) Kind() Kind { return KindStopMessage }

// AgentFinishedMessage is the terminal "task complete" signal.
type AgentFinishedMessage struct {
	Reason string `json:"reason"`
}

func (AgentFinishedMessage) Kind() Kind { return KindAgentFinishedMessage }

// ToolResultMirror is the client-visible echo of a tool result. It is
// published on client.<sid> only for non-internal tools; batch fields are
// zero for single-call results.
type ToolResultMirror struct {
	CallID          string        `json:"call_id"`
	Name            string        `json:"name"`
	Content         string        `json:"content"`
	Status          Status        `json:"status"`
	BatchID         string        `json:"batch_id,omitempty"`
	BatchTotalTime  time.Duration `json:"batch_total_time,omitempty"`
	SequenceInBatch int           `json:"sequence_in_batch,omitempty"`
	BatchSize       int           `json:"batch_size,omitempty"`
}

func (ToolResultMirror) Kind() Kind { return KindToolResultMirror }

// PromptRefinedNotification is published on client.<sid> when the prompt
// preprocessor rewrites a low-quality UserMessage, so a human observer sees
// the substitution. It never enters the agent's history.
type PromptRefinedNotification struct {
	SessionID    string  `json:"session_id"`
	Original     string  `json:"original"`
	Refined      string  `json:"refined"`
	QualityScore float64 `json:"quality_score"`
	TaskType     string  `json:"task_type"`
}

func (PromptRefinedNotification) Kind() Kind { return KindPromptRefinedNotification }
