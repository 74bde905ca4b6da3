package wfmodel

import "encoding/json"

// TurnRole distinguishes a user turn from an assistant turn.
type TurnRole string

const (
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
)

// BlockKind is a closed enum of content block kinds within a turn.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is one ordered fragment of a Turn. Exactly the fields for
// Kind are meaningful; the rest are zero.
type ContentBlock struct {
	Kind BlockKind

	// BlockText / BlockThinking
	Text string

	// BlockToolUse
	CallID   string
	ToolName string
	Input    json.RawMessage

	// BlockToolResult
	ResultCallID string
	Output       string
	IsError      bool
}

// Turn is an ordered sequence of content blocks produced by one role.
//
// Invariant: every BlockToolUse has exactly one matching BlockToolResult
// (same CallID) before the next BlockText that depends on it; CallID is
// unique within a conversation. Sealed is set once the model reports
// turn-complete and no further blocks are appended.
type Turn struct {
	Role   TurnRole
	Blocks []ContentBlock
	Sealed bool
}

// PendingToolUses returns the tool_use blocks in this turn that do not yet
// have a matching tool_result block, in emission order.
func (t *Turn) PendingToolUses() []ContentBlock {
	resolved := make(map[string]bool)
	for _, b := range t.Blocks {
		if b.Kind == BlockToolResult {
			resolved[b.ResultCallID] = true
		}
	}
	var pending []ContentBlock
	for _, b := range t.Blocks {
		if b.Kind == BlockToolUse && !resolved[b.CallID] {
			pending = append(pending, b)
		}
	}
	return pending
}

// WellFormed reports the turn-well-formedness invariant (spec §8): every
// tool_use block has a matching tool_result block with the same CallID
// appearing strictly before any later text block, and every CallID is used
// by at most one tool_use block.
func (t *Turn) WellFormed() bool {
	seen := make(map[string]bool)
	resolved := make(map[string]bool)
	for _, b := range t.Blocks {
		switch b.Kind {
		case BlockToolUse:
			if seen[b.CallID] {
				return false
			}
			seen[b.CallID] = true
		case BlockToolResult:
			if !seen[b.ResultCallID] {
				return false
			}
			resolved[b.ResultCallID] = true
		case BlockText:
			for id := range seen {
				if !resolved[id] {
					return false
				}
			}
		}
	}
	return true
}
