package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/writeflow/writeflow/internal/dispatch"
	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// ToolResult is the local result shape every tool's Execute method returns,
// replacing the dangling internal/agent.ToolResult reference the source
// copy left behind (internal/agent was never part of this module).
type ToolResult struct {
	Content string
	IsError bool
}

func toolError(message string) *ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &ToolResult{Content: message, IsError: true}
	}
	return &ToolResult{Content: string(payload), IsError: true}
}

// wordCount is a whitespace split, not a prose-aware tokenizer: it exists so
// Read/Write/Edit results carry a word count alongside the byte/line counts
// a coding-focused file tool would report, since WriteFlow's user is editing
// prose rather than source.
func wordCount(s string) int {
	return len(strings.Fields(s))
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

// --- ReadTool ---

func (t *ReadTool) Spec() wfmodel.ToolSpec {
	return wfmodel.ToolSpec{
		Name: t.Name(), Description: t.Description(), InputSchema: t.Schema(),
		IsReadOnly: true, IsConcurrencySafe: true, NeedsPermission: false, Category: wfmodel.CategoryFile,
	}
}
func (t *ReadTool) NeedsPermission(input json.RawMessage) bool { return false }
func (t *ReadTool) ValidateInput(ctx context.Context, input json.RawMessage) error { return nil }
func (t *ReadTool) Call(ctx context.Context, callID string, input json.RawMessage) <-chan dispatch.Event {
	return runSync(ctx, callID, func(ctx context.Context) (*ToolResult, error) { return t.Execute(ctx, input) })
}
func (t *ReadTool) RenderResultForAssistant(result wfmodel.ToolCallResult) string { return result.Content }
func (t *ReadTool) RenderToolUseMessage(input json.RawMessage, verbose bool) string {
	return renderPathMessage("Read", input)
}

// --- WriteTool ---

func (t *WriteTool) Spec() wfmodel.ToolSpec {
	return wfmodel.ToolSpec{
		Name: t.Name(), Description: t.Description(), InputSchema: t.Schema(),
		IsReadOnly: false, IsConcurrencySafe: false, NeedsPermission: true, Category: wfmodel.CategoryFile,
	}
}
func (t *WriteTool) NeedsPermission(input json.RawMessage) bool { return true }
func (t *WriteTool) ValidateInput(ctx context.Context, input json.RawMessage) error { return nil }
func (t *WriteTool) Call(ctx context.Context, callID string, input json.RawMessage) <-chan dispatch.Event {
	return runSync(ctx, callID, func(ctx context.Context) (*ToolResult, error) { return t.Execute(ctx, input) })
}
func (t *WriteTool) RenderResultForAssistant(result wfmodel.ToolCallResult) string { return result.Content }
func (t *WriteTool) RenderToolUseMessage(input json.RawMessage, verbose bool) string {
	return renderPathMessage("Write", input)
}
func (t *WriteTool) FilePaths(input json.RawMessage) []string { return pathOf(input) }

// --- EditTool ---

func (t *EditTool) Spec() wfmodel.ToolSpec {
	return wfmodel.ToolSpec{
		Name: t.Name(), Description: t.Description(), InputSchema: t.Schema(),
		IsReadOnly: false, IsConcurrencySafe: false, NeedsPermission: true, Category: wfmodel.CategoryFile,
	}
}
func (t *EditTool) NeedsPermission(input json.RawMessage) bool { return true }
func (t *EditTool) ValidateInput(ctx context.Context, input json.RawMessage) error { return nil }
func (t *EditTool) Call(ctx context.Context, callID string, input json.RawMessage) <-chan dispatch.Event {
	return runSync(ctx, callID, func(ctx context.Context) (*ToolResult, error) { return t.Execute(ctx, input) })
}
func (t *EditTool) RenderResultForAssistant(result wfmodel.ToolCallResult) string { return result.Content }
func (t *EditTool) RenderToolUseMessage(input json.RawMessage, verbose bool) string {
	return renderPathMessage("Edit", input)
}
func (t *EditTool) FilePaths(input json.RawMessage) []string { return pathOf(input) }

// --- ApplyPatchTool ---

func (t *ApplyPatchTool) Spec() wfmodel.ToolSpec {
	return wfmodel.ToolSpec{
		Name: t.Name(), Description: t.Description(), InputSchema: t.Schema(),
		IsReadOnly: false, IsConcurrencySafe: false, NeedsPermission: true, Category: wfmodel.CategoryFile,
	}
}
func (t *ApplyPatchTool) NeedsPermission(input json.RawMessage) bool { return true }
func (t *ApplyPatchTool) ValidateInput(ctx context.Context, input json.RawMessage) error { return nil }
func (t *ApplyPatchTool) Call(ctx context.Context, callID string, input json.RawMessage) <-chan dispatch.Event {
	return runSync(ctx, callID, func(ctx context.Context) (*ToolResult, error) { return t.Execute(ctx, input) })
}
func (t *ApplyPatchTool) RenderResultForAssistant(result wfmodel.ToolCallResult) string {
	return result.Content
}
func (t *ApplyPatchTool) RenderToolUseMessage(input json.RawMessage, verbose bool) string {
	return "ApplyPatch(...)"
}

func renderPathMessage(verb string, input json.RawMessage) string {
	var v struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &v); err != nil || v.Path == "" {
		return fmt.Sprintf("%s(...)", verb)
	}
	return fmt.Sprintf("%s(path=%q)", verb, v.Path)
}

func pathOf(input json.RawMessage) []string {
	var v struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &v); err != nil || v.Path == "" {
		return nil
	}
	return []string{v.Path}
}
