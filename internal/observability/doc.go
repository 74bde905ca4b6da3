// Package observability provides the monitoring and debugging surface for
// the WriteFlow runtime through metrics, structured logging, an in-memory
// event timeline, and distributed tracing.
//
// # Overview
//
// The package implements four complementary signals:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Events - An in-memory timeline of one run's tool calls and model
//     rounds, replayed by the REPL's /timeline command
//  4. Tracing - Distributed-tracing spans via OpenTelemetry, useful when
//     a provider or tool call is slow and the REPL alone isn't enough
//
// # Metrics
//
// Metrics are implemented using the Prometheus client libraries and track:
//   - Turn attempts and outcomes
//   - LLM request latency and token usage
//   - Tool execution performance
//   - Error rates by component and type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("Bash", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with:
//   - Automatic request/session ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx = observability.AddSessionID(ctx, sessionID)
//
//	logger.Info(ctx, "dispatching tool call",
//	    "tool", call.ToolName,
//	    "call_id", call.CallID,
//	)
//
//	logger.Error(ctx, "provider stream failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Events
//
// EventRecorder records run.start/run.end, tool.start/tool.end, and
// llm.request/llm.response events against a per-turn run ID, queryable
// back out as a Timeline:
//
//	store := observability.NewMemoryEventStore(1000)
//	recorder := observability.NewEventRecorder(store, logger)
//
//	ctx = observability.AddRunID(ctx, runID)
//	recorder.RecordRunStart(ctx, runID, map[string]interface{}{"input": input})
//	defer recorder.RecordRunEnd(ctx, time.Since(start), err)
//
//	events, _ := store.GetByRunID(runID)
//	fmt.Println(observability.FormatTimeline(observability.BuildTimeline(events)))
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to span the turn loop:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:  "writeflow",
//	    Endpoint:     "localhost:4317", // OTLP collector; empty disables tracing
//	    SamplingRate: 0.1,              // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4")
//	defer llmSpan.End()
//	tracer.SetAttributes(llmSpan, "prompt_tokens", 100, "completion_tokens", 500)
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "Bash")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Context Propagation
//
// Request, session, run, and tool-call IDs all travel on context.Context
// so a single orchestrator turn can be correlated across logs, events, and
// traces without threading extra parameters through every call:
//
//	ctx = observability.AddSessionID(ctx, sessionID)
//	ctx = observability.AddRunID(ctx, runID)
//	ctx = observability.AddToolCallID(ctx, call.CallID)
//
//	logger.Info(ctx, "tool dispatched") // includes session_id, and via the
//	                                    // recorder, run_id/tool_call_id too
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, and a handful of other providers)
//   - Passwords and secrets
//   - JWT and bearer tokens
//   - Custom patterns via LogConfig.RedactPatterns
//
// Sensitive fields in maps are also redacted: password, passwd, pwd,
// secret, api_key, apikey, token, auth, authorization, private_key,
// privatekey.
//
// # Testing
//
//   - Metrics can be verified using prometheus/testutil
//   - Logging can write to a bytes.Buffer for assertions
//   - MemoryEventStore needs no external dependency to test against
//   - Tracing works with a no-op exporter (empty TraceConfig.Endpoint)
package observability
