package invoke

import (
	"encoding/json"
	"testing"
)

func TestExtractSingleInvoke(t *testing.T) {
	text := `Let me check that.<invoke name="Glob"><parameter name="pattern">*.go</parameter></invoke> Done.`
	res := Extract(text)

	if res.PlainText != "Let me check that. Done." {
		t.Fatalf("unexpected plain text: %q", res.PlainText)
	}
	if len(res.ToolUses) != 1 {
		t.Fatalf("expected 1 tool use, got %d", len(res.ToolUses))
	}
	tu := res.ToolUses[0]
	if tu.ToolName != "Glob" {
		t.Fatalf("unexpected tool name %q", tu.ToolName)
	}
	var decoded map[string]string
	if err := json.Unmarshal(tu.Input, &decoded); err != nil {
		t.Fatalf("Input not valid JSON: %v", err)
	}
	if decoded["pattern"] != "*.go" {
		t.Fatalf("unexpected input %v", decoded)
	}
}

func TestExtractThinkingSeparatedFromText(t *testing.T) {
	text := `<thinking>I should list files first.</thinking>Here is the plan.`
	res := Extract(text)

	if res.PlainText != "Here is the plan." {
		t.Fatalf("thinking leaked into plain text: %q", res.PlainText)
	}
	if len(res.Thinking) != 1 || res.Thinking[0] != "I should list files first." {
		t.Fatalf("unexpected thinking spans: %v", res.Thinking)
	}
}

func TestExtractMultipleParams(t *testing.T) {
	text := `<invoke name="Write"><parameter name="path">a.txt</parameter><parameter name="content">hello world</parameter></invoke>`
	res := Extract(text)
	if len(res.ToolUses) != 1 {
		t.Fatalf("expected 1 tool use, got %d", len(res.ToolUses))
	}
	tu := res.ToolUses[0]
	if len(tu.Params) != 2 || tu.Params[0].Name != "path" || tu.Params[1].Name != "content" {
		t.Fatalf("unexpected params: %+v", tu.Params)
	}
}

func TestExtractUnbalancedSpanIsResurfaced(t *testing.T) {
	text := `before <invoke name="Glob"><parameter name="pattern">*.go</parameter> after, no close`
	res := Extract(text)

	if len(res.ToolUses) != 0 {
		t.Fatalf("unbalanced invoke must not be extracted, got %d", len(res.ToolUses))
	}
	if res.PlainText != text {
		t.Fatalf("unbalanced span must be re-surfaced verbatim, got %q", res.PlainText)
	}
}

func TestExtractUnbalancedThinkingIsResurfaced(t *testing.T) {
	text := `<thinking>never closes`
	res := Extract(text)
	if len(res.Thinking) != 0 {
		t.Fatalf("unbalanced thinking must not be extracted")
	}
	if res.PlainText != text {
		t.Fatalf("unbalanced thinking must be re-surfaced verbatim, got %q", res.PlainText)
	}
}

func TestRoundTripSerializeExtract(t *testing.T) {
	original := ToolUse{
		ToolName: "Bash",
		Params: []Param{
			{Name: "command", Value: "ls -la"},
			{Name: "timeout", Value: "5000"},
		},
	}
	serialized := Serialize(original)
	res := Extract(serialized)

	if len(res.ToolUses) != 1 {
		t.Fatalf("expected 1 tool use after round trip, got %d", len(res.ToolUses))
	}
	got := res.ToolUses[0]
	if got.ToolName != original.ToolName {
		t.Fatalf("tool name mismatch: %q vs %q", got.ToolName, original.ToolName)
	}
	if len(got.Params) != len(original.Params) {
		t.Fatalf("param count mismatch: %d vs %d", len(got.Params), len(original.Params))
	}
	for i := range original.Params {
		if got.Params[i] != original.Params[i] {
			t.Fatalf("param %d mismatch: %+v vs %+v", i, got.Params[i], original.Params[i])
		}
	}
}

func TestRoundTripThinking(t *testing.T) {
	serialized := SerializeThinking("reasoning about the plan")
	res := Extract(serialized)
	if len(res.Thinking) != 1 || res.Thinking[0] != "reasoning about the plan" {
		t.Fatalf("round trip thinking failed: %v", res.Thinking)
	}
}

func TestExtractNoTagsIsPassthrough(t *testing.T) {
	text := "just plain text, nothing to extract"
	res := Extract(text)
	if res.PlainText != text || len(res.ToolUses) != 0 || len(res.Thinking) != 0 {
		t.Fatalf("plain text should pass through unchanged")
	}
}

func TestSplitCompleteHoldsBackOpenTagMidName(t *testing.T) {
	safe, holdback := SplitComplete(`before text <inv`)
	if safe != "before text " {
		t.Fatalf("unexpected safe prefix %q", safe)
	}
	if holdback != "<inv" {
		t.Fatalf("expected partial tag name held back, got %q", holdback)
	}
}

func TestSplitCompleteHoldsBackUnclosedInvoke(t *testing.T) {
	text := `done. <invoke name="Glob"><parameter name="pattern">*.go</parameter>`
	safe, holdback := SplitComplete(text)
	if safe != "done. " {
		t.Fatalf("unexpected safe prefix %q", safe)
	}
	if holdback != `<invoke name="Glob"><parameter name="pattern">*.go</parameter>` {
		t.Fatalf("expected the whole unclosed invoke held back, got %q", holdback)
	}
}

func TestSplitCompleteHoldsBackUnclosedThinking(t *testing.T) {
	safe, holdback := SplitComplete(`plan: <thinking>still reasoning`)
	if safe != "plan: " {
		t.Fatalf("unexpected safe prefix %q", safe)
	}
	if holdback != "<thinking>still reasoning" {
		t.Fatalf("expected unclosed thinking span held back, got %q", holdback)
	}
}

func TestSplitCompleteReturnsWholeClosedSpanAsSafe(t *testing.T) {
	text := `<invoke name="Glob"><parameter name="pattern">*.go</parameter></invoke> and more text`
	safe, holdback := SplitComplete(text)
	if safe != text {
		t.Fatalf("expected fully closed span to be entirely safe, got %q", safe)
	}
	if holdback != "" {
		t.Fatalf("expected no holdback for fully closed span, got %q", holdback)
	}
}

func TestSplitCompleteAcrossTwoDeltasReassembles(t *testing.T) {
	first := `Let me check.<invoke name="Glob"><parameter name="patt`
	safe1, holdback1 := SplitComplete(first)
	if safe1 != "Let me check." {
		t.Fatalf("unexpected safe prefix on first delta: %q", safe1)
	}
	if holdback1 != `<invoke name="Glob"><parameter name="patt` {
		t.Fatalf("expected whole open invoke held back on first delta, got %q", holdback1)
	}

	second := holdback1 + `ern">*.go</parameter></invoke> done.`
	safe2, holdback2 := SplitComplete(second)
	if holdback2 != "" {
		t.Fatalf("expected no holdback once the span closes, got %q", holdback2)
	}
	res := Extract(safe2)
	if len(res.ToolUses) != 1 || res.ToolUses[0].ToolName != "Glob" {
		t.Fatalf("expected the reassembled invoke to extract cleanly, got %+v", res)
	}
	if res.PlainText != "Let me check. done." {
		t.Fatalf("unexpected plain text after reassembly: %q", res.PlainText)
	}
}

func TestSplitCompleteNoAngleBracketsIsAllSafe(t *testing.T) {
	safe, holdback := SplitComplete("nothing but plain streamed text")
	if safe != "nothing but plain streamed text" || holdback != "" {
		t.Fatalf("expected plain text entirely safe, got safe=%q holdback=%q", safe, holdback)
	}
}
