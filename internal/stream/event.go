// Package stream implements the Streaming Pipeline (spec §4.F): a single
// ordered output stream to the UI carrying typed content/tool/progress/
// system/error events, with per-call_id lifecycle ordering and
// back-pressure coalescing/dropping so a slow UI consumer never blocks the
// orchestrator indefinitely.
//
// Grounded on internal/agent/event_emitter.go's typed emission methods and
// monotonic sequencing, and internal/agent/event_sink.go's BackpressureSink
// two-lane (droppable/non-droppable) design — adapted here onto a single
// ordered buffer (§4.A's queue idiom) rather than two channels, so
// coalescing and dropping decisions can't reorder a single call_id's
// lifecycle the way two independently-drained lanes could.
package stream

import (
	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// Kind is the closed set of event types the pipeline carries (spec §4.F).
type Kind string

const (
	KindAIResponse    Kind = "ai_response"
	KindThinking      Kind = "thinking"
	KindToolExecution Kind = "tool_execution"
	KindProgress      Kind = "progress"
	KindSystem        Kind = "system"
	KindError         Kind = "error"
)

// ToolStatus is the lifecycle status carried by a tool_execution event.
type ToolStatus string

const (
	ToolStarted   ToolStatus = "started"
	ToolProgress  ToolStatus = "progress"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// SystemLevel classifies a system event's severity.
type SystemLevel string

const (
	LevelInfo  SystemLevel = "info"
	LevelWarn  SystemLevel = "warn"
	LevelError SystemLevel = "error"
)

// Event is one entry on the streaming pipeline's output (spec §4.F).
// Exactly the fields for Kind are meaningful.
type Event struct {
	Kind Kind

	// KindAIResponse
	ContentDelta string
	IsComplete   bool

	// KindThinking
	ThinkingText string

	// KindToolExecution
	CallID      string
	ToolName    string
	ToolStatus  ToolStatus
	ToolOutput  string
	Percent     *int
	ProgressMsg string

	// KindProgress (orchestrator-level staging, e.g. "compressing context")
	Stage           string
	ProgressMessage string

	// KindSystem
	SystemLevel   SystemLevel
	SystemMessage string

	// KindError
	Recoverable bool
	ErrKind     wfmodel.ErrorKind
	ErrMessage  string
	Cause       error
}

// AIResponse builds a content-delta event.
func AIResponse(delta string, complete bool) Event {
	return Event{Kind: KindAIResponse, ContentDelta: delta, IsComplete: complete}
}

// Thinking builds a thinking-span event.
func Thinking(text string) Event {
	return Event{Kind: KindThinking, ThinkingText: text}
}

// ToolExecution builds a tool lifecycle event.
func ToolExecution(callID, toolName string, status ToolStatus, output string, percent *int, msg string) Event {
	return Event{
		Kind: KindToolExecution, CallID: callID, ToolName: toolName,
		ToolStatus: status, ToolOutput: output, Percent: percent, ProgressMsg: msg,
	}
}

// Progress builds an orchestrator-level staging event.
func Progress(stage, message string, percent *int) Event {
	return Event{Kind: KindProgress, Stage: stage, ProgressMessage: message, Percent: percent}
}

// System builds a system event.
func System(level SystemLevel, message string) Event {
	return Event{Kind: KindSystem, SystemLevel: level, SystemMessage: message}
}

// Err builds an error event.
func Err(recoverable bool, kind wfmodel.ErrorKind, message string, cause error) Event {
	return Event{Kind: KindError, Recoverable: recoverable, ErrKind: kind, ErrMessage: message, Cause: cause}
}

// droppable reports whether e may be coalesced or dropped under
// back-pressure (spec §4.F: "coalesces adjacent ai_response deltas and
// drops tool_progress events older than a grace window; it never drops
// ai_response finals or tool terminals").
func (e Event) droppable() bool {
	switch e.Kind {
	case KindAIResponse:
		return !e.IsComplete
	case KindToolExecution:
		return e.ToolStatus == ToolProgress
	default:
		return false
	}
}

// coalescesWith reports whether e can be merged into tail instead of
// appended as a new buffer entry (adjacent ai_response deltas only).
func (e Event) coalescesWith(tail Event) bool {
	return e.Kind == KindAIResponse && tail.Kind == KindAIResponse && !tail.IsComplete
}
