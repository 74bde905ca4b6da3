package wfmodel

import "encoding/json"

// ToolCategory groups tools for registry filtering views.
type ToolCategory string

const (
	CategoryFile   ToolCategory = "file"
	CategoryExec   ToolCategory = "exec"
	CategorySearch ToolCategory = "search"
	CategoryPlan   ToolCategory = "plan"
	CategoryOther  ToolCategory = "other"
)

// ToolSpec is the registry's record for a tool (spec §3): everything the
// permission gate and dispatcher need to know about a tool without calling
// it. The executable behavior lives behind the Tool interface
// (internal/dispatch); ToolSpec is the inert metadata half.
type ToolSpec struct {
	Name              string
	Description       string
	InputSchema       json.RawMessage
	IsReadOnly        bool
	IsConcurrencySafe bool
	NeedsPermission   bool
	Category          ToolCategory
}

// ExitPlanModeTool is the one tool name permitted in Plan mode besides
// read-only tools (spec §3, §4.D).
const ExitPlanModeTool = "ExitPlanMode"
