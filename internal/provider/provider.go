// Package provider defines the normalized LLM provider contract spec §6
// describes: one stream() call per provider, emitting six normalized event
// kinds so internal/orchestrator never branches on which vendor is behind
// a model pointer.
//
// Grounded on internal/agent/provider_types.go's LLMProvider interface and
// CompletionRequest/CompletionMessage/CompletionChunk shapes, narrowed from
// a channel-of-CompletionChunk (a flat struct with every field optional)
// to an explicit Kind-tagged Event so a consumer's switch is exhaustive
// instead of field-sniffing.
package provider

import (
	"context"
	"encoding/json"
)

// EventKind is the closed set of six normalized provider events spec §6
// requires every adapter to emit.
type EventKind string

const (
	EventTextDelta         EventKind = "text_delta"
	EventThinkingDelta     EventKind = "thinking_delta"
	EventToolUseStart      EventKind = "tool_use_start"
	EventToolUseInputDelta EventKind = "tool_use_input_delta"
	EventToolUseEnd        EventKind = "tool_use_end"
	EventTurnEnd           EventKind = "turn_end"
	EventError             EventKind = "error"
)

// Event is one item on a Provider's stream.
type Event struct {
	Kind EventKind

	// EventTextDelta / EventThinkingDelta
	Delta string

	// EventToolUseStart / EventToolUseInputDelta / EventToolUseEnd
	CallID     string
	ToolName   string // set on Start
	InputDelta string // partial JSON fragment, set on InputDelta
	Input      json.RawMessage // complete input, set on End

	// EventTurnEnd
	InputTokens  int
	OutputTokens int
	StopReason   string

	// EventError
	Err error
}

// Message is one turn in the conversation handed to a provider. Role is
// "user", "assistant", or "tool".
type Message struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolCall is an assistant-issued tool invocation folded back into history.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is a tool's output folded back into history ahead of the next
// model call.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolDef describes one tool available to the model, converted from
// internal/registry's wfmodel.ToolSpec by the orchestrator.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is a single completion request (spec §6 "stream(messages,
// system_prompt, tools, options)").
type Request struct {
	Model                string
	System               string
	Messages             []Message
	Tools                []ToolDef
	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// Provider adapts one vendor's streaming completion API to Event.
// Implementations must be safe for concurrent use: the orchestrator may
// have turns for multiple sessions in flight against the same Provider.
type Provider interface {
	// Name returns a stable lowercase identifier ("anthropic", "openai").
	Name() string

	// Stream issues req and returns a channel of Event, closed when the
	// turn ends (a Kind=EventTurnEnd or Kind=EventError event is always
	// the last one sent before the channel closes). Stream itself only
	// returns an error if the request could not be constructed; streaming
	// failures are reported as EventError.
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
