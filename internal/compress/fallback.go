package compress

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// deterministicSummary builds spec §4.B's fallback when the compression
// LLM call is unavailable or fails: the first sentence of each replaced
// user turn, plus one line per replaced tool-use block. Grounded on
// internal/agent/context/summarize.go's BuildSummarizationPrompt shape.
func deterministicSummary(turns []wfmodel.Turn) string {
	var lines []string
	for _, t := range turns {
		for _, b := range t.Blocks {
			switch b.Kind {
			case wfmodel.BlockText:
				if t.Role == wfmodel.TurnUser {
					if s := firstSentence(b.Text); s != "" {
						lines = append(lines, s)
					}
				}
			case wfmodel.BlockToolUse:
				result, found := resultFor(t, b.CallID)
				lines = append(lines, toolUseOneLiner(b, result, found))
			}
		}
	}
	if len(lines) == 0 {
		return "No prior history."
	}
	return strings.Join(lines, "\n")
}

// resultFor finds the tool_result block matching callID within turn, or
// the zero block if none is present yet.
func resultFor(t wfmodel.Turn, callID string) (wfmodel.ContentBlock, bool) {
	for _, b := range t.Blocks {
		if b.Kind == wfmodel.BlockToolResult && b.ResultCallID == callID {
			return b, true
		}
	}
	return wfmodel.ContentBlock{}, false
}

// toolUseOneLiner renders spec §4.B's "used <tool> with <salient input> →
// <short result>" collapse for one tool_use/tool_result pair.
func toolUseOneLiner(use wfmodel.ContentBlock, result wfmodel.ContentBlock, found bool) string {
	input := salientInput(use.Input)
	outcome := "(no result recorded)"
	if found {
		outcome = truncate(result.Output, 80)
		if result.IsError {
			outcome = "error: " + outcome
		}
	}
	return fmt.Sprintf("used %s with %s → %s", use.ToolName, input, outcome)
}

// salientInput renders a short, human-legible summary of a tool call's
// JSON input: the first key/value pair, or a fixed marker if empty/unparsable.
func salientInput(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	var decoded map[string]any
	if err := json.Unmarshal(input, &decoded); err != nil || len(decoded) == 0 {
		return truncate(string(input), 60)
	}
	for k, v := range decoded {
		return fmt.Sprintf("%s=%s", k, truncate(fmt.Sprint(v), 60))
	}
	return "{}"
}

// firstSentence returns the text up to and including the first sentence
// terminator, or the whole (truncated) text if none is found.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return strings.TrimSpace(text[:i+1])
		}
	}
	return truncate(text, 160)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
