package compress

import (
	"fmt"
	"strings"
)

// charsPerToken is the conservative character-to-token ratio used
// throughout this package's estimation; no tokenizer library appears
// anywhere in the retrieval pack.
const charsPerToken = 4

// defaultContextWindow is the fallback ceiling when a caller configures
// none.
const defaultContextWindow = 100000

// minChunkRatio bounds the compression summary's own budget (see
// Config.withDefaults) and the floor chunkMessagesByMaxTokens shrinks
// toward for oversized turns.
const minChunkRatio = 0.15

// baseChunkRatio sizes the chunks summarize splits a large transcript
// into before issuing one LLM call per chunk (spec §4.B "Summary
// construction": large histories are folded hierarchically rather than
// sent as one unbounded prompt).
const baseChunkRatio = 0.4

// transcriptMessage is the flat, role-tagged shape turnToMessages
// reduces a wfmodel.Turn's content blocks into before formatting or
// chunking for summarization.
type transcriptMessage struct {
	Role        string
	Content     string
	ToolCalls   string
	ToolResults string
}

// estimateMessageTokens applies charsPerToken to one transcriptMessage's
// combined text.
func estimateMessageTokens(m *transcriptMessage) int {
	if m == nil {
		return 0
	}
	chars := len(m.Content) + len(m.ToolCalls) + len(m.ToolResults)
	return (chars + charsPerToken - 1) / charsPerToken
}

// chunkMessagesByMaxTokens splits messages into chunks that each stay at
// or under maxTokens, so summarize can issue one bounded LLM call per
// chunk instead of one unbounded call over the whole history. A single
// message exceeding maxTokens gets its own chunk rather than being split
// mid-message.
func chunkMessagesByMaxTokens(messages []*transcriptMessage, maxTokens int) [][]*transcriptMessage {
	if len(messages) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]*transcriptMessage{messages}
	}

	var result [][]*transcriptMessage
	var current []*transcriptMessage
	currentTokens := 0

	for _, msg := range messages {
		msgTokens := estimateMessageTokens(msg)

		if msgTokens > maxTokens {
			if len(current) > 0 {
				result = append(result, current)
				current = nil
				currentTokens = 0
			}
			result = append(result, []*transcriptMessage{msg})
			continue
		}

		if currentTokens+msgTokens > maxTokens && len(current) > 0 {
			result = append(result, current)
			current = nil
			currentTokens = 0
		}

		current = append(current, msg)
		currentTokens += msgTokens
	}

	if len(current) > 0 {
		result = append(result, current)
	}
	return result
}

// formatMessagesForSummary renders messages into the plain-text shape
// the compression system prompt expects: one `[role]: content` block per
// message, with tool calls/results appended as truncated one-liners.
func formatMessagesForSummary(messages []*transcriptMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("[%s]: ", msg.Role))
		sb.WriteString(msg.Content)
		if msg.ToolCalls != "" {
			sb.WriteString(fmt.Sprintf("\n  [Tool calls: %s]", truncate(msg.ToolCalls, 200)))
		}
		if msg.ToolResults != "" {
			sb.WriteString(fmt.Sprintf("\n  [Tool results: %s]", truncate(msg.ToolResults, 200)))
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}
