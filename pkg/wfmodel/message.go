// Package wfmodel holds the core data types shared across the WriteFlow
// agent runtime: queue messages, conversation turns, working context, tool
// records, permission policy, plan-mode state, and todo items.
package wfmodel

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is a closed enum of queue message kinds.
type MessageType string

const (
	MessageUserInput   MessageType = "user_input"
	MessageAIChunk     MessageType = "ai_chunk"
	MessageAIComplete  MessageType = "ai_complete"
	MessageToolRequest MessageType = "tool_request"
	MessageToolProgress MessageType = "tool_progress"
	MessageToolResult  MessageType = "tool_result"
	MessageProgress    MessageType = "progress"
	MessageSystem      MessageType = "system"
	MessageError       MessageType = "error"
	MessageCancel      MessageType = "cancel"
)

// Valid reports whether t is one of the closed set of message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageUserInput, MessageAIChunk, MessageAIComplete, MessageToolRequest,
		MessageToolProgress, MessageToolResult, MessageProgress, MessageSystem,
		MessageError, MessageCancel:
		return true
	default:
		return false
	}
}

// Message is the unit of transport on the message queue (spec §3, §4.A).
// Priority is an integer where a higher value is drained earlier; within
// equal priority, messages preserve FIFO order.
type Message struct {
	ID        string
	Type      MessageType
	Payload   any
	Priority  int
	Timestamp time.Time
	Source    string
}

// NewMessage builds a Message with a fresh ID and the current timestamp.
func NewMessage(typ MessageType, payload any, priority int, source string) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		Priority:  priority,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// Default priorities. Cancel and permission replies jump the line; tool
// progress is the lowest priority since it is loss-tolerant.
const (
	PriorityCancel      = 100
	PrioritySystem      = 80
	PriorityUserInput   = 50
	PriorityToolResult  = 50
	PriorityAIChunk     = 40
	PriorityProgress    = 20
	PriorityToolProgress = 10
)
