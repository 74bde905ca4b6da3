package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/writeflow/writeflow/internal/provider"
)

func TestConvertMessagesSkipsSystemAndMapsToolRoles(t *testing.T) {
	msgs := []provider.Message{
		{Role: "system", Content: "ignored, handled separately"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "", ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "Glob", Input: json.RawMessage(`{"pattern":"*.go"}`)},
		}},
		{Role: "tool", ToolResults: []provider.ToolResult{{ToolCallID: "c1", Content: "main.go"}}},
	}

	out, err := convertMessages(msgs)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected system message dropped, got %d messages", len(out))
	}
}

func TestConvertMessagesRejectsInvalidToolInput(t *testing.T) {
	msgs := []provider.Message{
		{Role: "assistant", ToolCalls: []provider.ToolCall{{ID: "c1", Name: "Glob", Input: json.RawMessage(`not json`)}}},
	}
	if _, err := convertMessages(msgs); err == nil {
		t.Fatal("expected error for invalid tool call input JSON")
	}
}

func TestConvertToolsRejectsInvalidSchema(t *testing.T) {
	tools := []provider.ToolDef{{Name: "Broken", Description: "d", Schema: json.RawMessage(`not json`)}}
	if _, err := convertTools(tools); err == nil {
		t.Fatal("expected error for invalid tool schema")
	}
}

func TestAdapterDefaults(t *testing.T) {
	a := &Adapter{defaultModel: "claude-sonnet-4-20250514"}
	if a.model("") != "claude-sonnet-4-20250514" {
		t.Fatalf("expected default model")
	}
	if a.maxTokens(0) != 4096 {
		t.Fatalf("expected default max tokens 4096, got %d", a.maxTokens(0))
	}
	if a.maxTokens(2048) != 2048 {
		t.Fatalf("expected requested max tokens to pass through")
	}
}

func TestEstimateTokensCountsMessagesAndTools(t *testing.T) {
	req := provider.Request{
		System:   "1234",
		Messages: []provider.Message{{Role: "user", Content: "12345678"}},
		Tools:    []provider.ToolDef{{Name: "Glob", Description: "finds files", Schema: json.RawMessage(`{}`)}},
	}
	if got := EstimateTokens(req); got <= 0 {
		t.Fatalf("expected positive token estimate, got %d", got)
	}
}
