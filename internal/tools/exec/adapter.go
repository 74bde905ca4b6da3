package exec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/writeflow/writeflow/internal/dispatch"
	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// ToolResult is the local result shape Execute returns, replacing the
// dangling internal/agent.ToolResult reference the source copy left
// behind (internal/agent was never part of this module).
type ToolResult struct {
	Content string
	IsError bool
}

// runSync turns a synchronous Execute call into the dispatch.Tool.Call
// lifecycle event stream (spec §6): a single terminal Result or Err event.
func runSync(ctx context.Context, callID string, execute func(ctx context.Context) (*ToolResult, error)) <-chan dispatch.Event {
	out := make(chan dispatch.Event, 1)
	go func() {
		defer close(out)
		res, err := execute(ctx)
		if err != nil {
			out <- dispatch.Err(callID, wfmodel.ErrorInternal, err.Error(), err)
			return
		}
		if res.IsError {
			out <- dispatch.Err(callID, wfmodel.ErrorValidation, res.Content, nil)
			return
		}
		out <- dispatch.Result(callID, wfmodel.ToolCallResult{Content: res.Content})
	}()
	return out
}

// --- ExecTool ---
//
// RunInBackground lets the dispatcher short-circuit to EventStarted and
// leave the command running, matching spec §4.E's "background execution
// option" — driven by the call's own "background" input field rather than
// a static per-tool flag.

func (t *ExecTool) Spec() wfmodel.ToolSpec {
	return wfmodel.ToolSpec{
		Name: t.Name(), Description: t.Description(), InputSchema: t.Schema(),
		IsReadOnly: false, IsConcurrencySafe: true, NeedsPermission: true, Category: wfmodel.CategoryExec,
	}
}
func (t *ExecTool) NeedsPermission(input json.RawMessage) bool { return true }
func (t *ExecTool) ValidateInput(ctx context.Context, input json.RawMessage) error { return nil }
func (t *ExecTool) Call(ctx context.Context, callID string, input json.RawMessage) <-chan dispatch.Event {
	return runSync(ctx, callID, func(ctx context.Context) (*ToolResult, error) { return t.Execute(ctx, input) })
}
func (t *ExecTool) RenderResultForAssistant(result wfmodel.ToolCallResult) string { return result.Content }
func (t *ExecTool) RenderToolUseMessage(input json.RawMessage, verbose bool) string {
	var v struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &v); err != nil || v.Command == "" {
		return fmt.Sprintf("%s(...)", t.Name())
	}
	if !verbose && len(v.Command) > 80 {
		return fmt.Sprintf("%s(command=%q)", t.Name(), v.Command[:80]+"…")
	}
	return fmt.Sprintf("%s(command=%q)", t.Name(), v.Command)
}
func (t *ExecTool) RunInBackground(input json.RawMessage) bool {
	var v struct {
		Background bool `json:"background"`
	}
	_ = json.Unmarshal(input, &v)
	return v.Background
}

// --- ProcessTool ---

func (t *ProcessTool) Spec() wfmodel.ToolSpec {
	return wfmodel.ToolSpec{
		Name: t.Name(), Description: t.Description(), InputSchema: t.Schema(),
		IsReadOnly: false, IsConcurrencySafe: true, NeedsPermission: true, Category: wfmodel.CategoryExec,
	}
}
func (t *ProcessTool) NeedsPermission(input json.RawMessage) bool { return true }
func (t *ProcessTool) ValidateInput(ctx context.Context, input json.RawMessage) error { return nil }
func (t *ProcessTool) Call(ctx context.Context, callID string, input json.RawMessage) <-chan dispatch.Event {
	return runSync(ctx, callID, func(ctx context.Context) (*ToolResult, error) { return t.Execute(ctx, input) })
}
func (t *ProcessTool) RenderResultForAssistant(result wfmodel.ToolCallResult) string {
	return result.Content
}
func (t *ProcessTool) RenderToolUseMessage(input json.RawMessage, verbose bool) string {
	var v struct {
		Action    string `json:"action"`
		ProcessID string `json:"process_id"`
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return "process(...)"
	}
	return fmt.Sprintf("process(action=%q, process_id=%q)", v.Action, v.ProcessID)
}
