package stream

import "github.com/writeflow/writeflow/internal/invoke"

// Sanitize implements spec §4.F's sanitization hook: before an ai_response
// chunk reaches the pipeline, strip any inline tool-use/thinking markup a
// provider emitted as plain text so the UI never sees raw
// <invoke>/<thinking> spans. Tool uses extracted this way are handed back
// to the caller (the orchestrator) to dispatch exactly like a native
// provider tool_use event; thinking spans are routed to KindThinking
// instead of KindAIResponse.
func Sanitize(text string) invoke.Result {
	return invoke.Extract(text)
}
