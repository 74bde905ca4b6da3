// Package dispatch implements the Tool Dispatcher (spec §4.E): schema
// validation, the permission gate, a bounded worker pool with the
// concurrency-serialization rules, per-call timeouts with cooperative
// cancellation, and background job handles, all surfaced as a per-call
// lifecycle event stream (started → progress* → result|error).
//
// Grounded on internal/agent/tool_exec.go's ToolExecutor (semaphore-bounded
// concurrency, per-call context.WithTimeout, a non-blocking result channel
// to avoid leaking the executing goroutine past a timeout) and
// internal/jobs/store.go's Job/MemoryStore shape for background execution.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// Tool is the contract every executable tool implements (spec §6 External
// Interfaces, "Tool"). Static metadata (name, schema, read-only/
// concurrency-safe flags, permission category) lives in the wfmodel.ToolSpec
// returned by Spec(); everything dynamic is a method here.
type Tool interface {
	// Spec returns the tool's static registration metadata. The dispatcher
	// never calls this directly (the registry owns lookup) but every tool
	// must report a spec consistent with what it was registered under.
	Spec() wfmodel.ToolSpec

	// NeedsPermission reports whether this particular call needs gate
	// consultation at all. Most tools always return true; a handful of
	// tools (e.g. a notification tool for content the user already
	// approved) may inspect input and return false for benign cases.
	NeedsPermission(input json.RawMessage) bool

	// ValidateInput performs semantic validation beyond JSON-schema shape
	// checking (e.g. "path must be inside the workspace root"). Returning
	// a non-nil error here is surfaced as error{kind:validation}.
	ValidateInput(ctx context.Context, input json.RawMessage) error

	// Call executes the tool. The returned channel emits zero or more
	// Progress events followed by exactly one terminal Result or Err
	// event, then closes. Call must respect ctx cancellation and return
	// promptly once ctx is done.
	Call(ctx context.Context, callID string, input json.RawMessage) <-chan Event

	// RenderResultForAssistant converts a successful result's raw output
	// into the string the model sees in the next turn's tool_result block.
	RenderResultForAssistant(result wfmodel.ToolCallResult) string

	// RenderToolUseMessage renders a short human-facing description of
	// this call for the UI's tool_execution display, e.g.
	// "Read(path=\"main.go\")"; verbose requests the long form.
	RenderToolUseMessage(input json.RawMessage, verbose bool) string
}

// FilePathScoped is an optional interface a Tool implements when its calls
// touch specific file paths. The dispatcher uses the returned paths to
// serialize calls with overlapping paths regardless of tool identity (spec
// §4.E concurrency rules).
type FilePathScoped interface {
	FilePaths(input json.RawMessage) []string
}

// BackgroundCapable is an optional interface a Tool implements to opt into
// spec §4.E's "background execution option": the dispatcher returns
// EventStarted immediately and the tool keeps running, reachable later by
// Kill.
type BackgroundCapable interface {
	RunInBackground(input json.RawMessage) bool
}

// EventKind is the closed set of lifecycle event kinds a tool call emits.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
	EventError    EventKind = "error"
)

// Event is one lifecycle event for a single tool call (spec §4.E). Exactly
// one of Result/Err is set, and it is always the final event on the channel.
type Event struct {
	Kind   EventKind
	CallID string

	// Progress fields.
	Percent *int
	Message string

	// Result fields.
	Result wfmodel.ToolCallResult

	// Error fields.
	ErrKind wfmodel.ErrorKind
	ErrMsg  string
	Cause   error
}

// Started builds a started event.
func Started(callID string) Event { return Event{Kind: EventStarted, CallID: callID} }

// Progress builds a progress event.
func Progress(callID string, percent *int, message string) Event {
	return Event{Kind: EventProgress, CallID: callID, Percent: percent, Message: message}
}

// Result builds a terminal result event.
func Result(callID string, result wfmodel.ToolCallResult) Event {
	return Event{Kind: EventResult, CallID: callID, Result: result}
}

// Err builds a terminal error event.
func Err(callID string, kind wfmodel.ErrorKind, msg string, cause error) Event {
	return Event{Kind: EventError, CallID: callID, ErrKind: kind, ErrMsg: msg, Cause: cause}
}
