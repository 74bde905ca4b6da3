package openai

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/writeflow/writeflow/internal/provider"
)

func TestConvertMessagesRoundsTripRolesAndToolResults(t *testing.T) {
	msgs := []provider.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "calling a tool", ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "Glob", Input: json.RawMessage(`{"pattern":"*.go"}`)},
		}},
		{Role: "tool", ToolResults: []provider.ToolResult{
			{ToolCallID: "c1", Content: "main.go"},
		}},
	}

	out := convertMessages(msgs, "be concise")
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be concise" {
		t.Fatalf("expected leading system message, got %+v", out[0])
	}
	if out[1].Role != openai.ChatMessageRoleUser || out[1].Content != "hello" {
		t.Fatalf("unexpected user message: %+v", out[1])
	}
	if out[2].Role != openai.ChatMessageRoleAssistant || len(out[2].ToolCalls) != 1 {
		t.Fatalf("unexpected assistant message: %+v", out[2])
	}
	if out[2].ToolCalls[0].Function.Name != "Glob" {
		t.Fatalf("unexpected tool call function: %+v", out[2].ToolCalls[0])
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "c1" || out[3].Content != "main.go" {
		t.Fatalf("unexpected tool result message: %+v", out[3])
	}
}

func TestConvertToolsFallsBackOnInvalidSchema(t *testing.T) {
	tools := []provider.ToolDef{
		{Name: "Broken", Description: "bad schema", Schema: json.RawMessage(`not json`)},
	}
	out := convertTools(tools)
	if len(out) != 1 || out[0].Function.Name != "Broken" {
		t.Fatalf("unexpected tools: %+v", out)
	}
	params, ok := out[0].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Fatalf("expected fallback object schema, got %+v", out[0].Function.Parameters)
	}
}

func TestAdapterModelDefaulting(t *testing.T) {
	a := &Adapter{defaultModel: "gpt-4o"}
	if a.model("") != "gpt-4o" {
		t.Fatalf("expected default model")
	}
	if a.model("gpt-4-turbo") != "gpt-4-turbo" {
		t.Fatalf("expected requested model to pass through")
	}
}
