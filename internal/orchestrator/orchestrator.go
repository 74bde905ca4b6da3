// Package orchestrator implements the Agent Orchestrator (spec §4.G): the
// per-turn algorithm that pops a user message off the queue, asks the
// compressor whether the working context is due for compaction, builds a
// mode-aware prompt, streams a provider completion, intercepts tool-use
// blocks (native or inline), dispatches them, splices results back into
// the transcript, and repeats until the turn seals or a guard trips.
//
// Grounded on internal/agent/loop.go's AgenticLoop.Run phase state machine
// (Init/Stream/ExecuteTools/Continue), streamPhase's chunk-by-chunk text
// accumulation and per-iteration tool-call cap, and executeToolsPhase's
// fan-out-then-rejoin tool execution — adapted from its
// *models.Message/*models.Session persistence onto wfmodel.WorkingContext
// and from its single provider interface onto internal/provider.Provider
// plus internal/dispatch.Dispatcher, which already performs schema
// validation and permission-gate resolution so this package never
// duplicates that check.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/writeflow/writeflow/internal/compress"
	"github.com/writeflow/writeflow/internal/dispatch"
	"github.com/writeflow/writeflow/internal/invoke"
	"github.com/writeflow/writeflow/internal/observability"
	"github.com/writeflow/writeflow/internal/planmode"
	"github.com/writeflow/writeflow/internal/provider"
	"github.com/writeflow/writeflow/internal/registry"
	"github.com/writeflow/writeflow/internal/stream"
	"github.com/writeflow/writeflow/pkg/wfmodel"
	"go.opentelemetry.io/otel/trace"
)

// Config tunes the orchestrator's guards (spec §4.G step 6, §5 timeouts).
type Config struct {
	// MaxModelRounds bounds tool-call ping-pong within one user turn
	// (spec §4.G step 6). Default 10.
	MaxModelRounds int

	// MaxToolCallsPerRound caps how many tool-use blocks one model
	// response may announce, mirroring the source's
	// MaxToolCallsPerIteration guard. Default 16.
	MaxToolCallsPerRound int

	// ModelTimeout bounds one streaming provider call (spec §5). Default
	// 180s.
	ModelTimeout time.Duration

	// ToolTimeout is the default per-call timeout handed to the
	// dispatcher when a tool doesn't request its own (spec §5). Default
	// 120s, the dispatcher's own default.
	ToolTimeout time.Duration

	// CompressTimeout bounds one compressor call (spec §5). Default 30s.
	CompressTimeout time.Duration

	// SystemPrompt is the base system prompt; mode- and tool-aware
	// additions are appended at prompt-build time.
	SystemPrompt string

	// Metrics records per-round run attempts and errors when set. Nil
	// disables recording.
	Metrics *observability.Metrics

	// Events records a per-turn timeline (run start/end, tool start/end,
	// model call start/end) for the REPL's /timeline command. Nil disables
	// recording.
	Events *observability.EventRecorder

	// Tracer spans every model round and tool call with OpenTelemetry when
	// set. Nil disables tracing (the default no-op Tracer has the same
	// effect, but letting Config.Tracer stay nil skips the span-handling
	// branches entirely).
	Tracer *observability.Tracer
}

func (c Config) withDefaults() Config {
	if c.MaxModelRounds <= 0 {
		c.MaxModelRounds = 10
	}
	if c.MaxToolCallsPerRound <= 0 {
		c.MaxToolCallsPerRound = 16
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 180 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 120 * time.Second
	}
	if c.CompressTimeout <= 0 {
		c.CompressTimeout = 30 * time.Second
	}
	return c
}

// Orchestrator wires together the queue, compressor, registry/gate,
// plan-mode controller, dispatcher, and provider into the turn loop spec
// §4.G describes, emitting every observable event onto a stream.Pipeline.
type Orchestrator struct {
	config     Config
	provider   provider.Provider
	compressor *compress.Compressor
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	gate       *registry.Gate
	planmode   *planmode.Controller
	pipeline   *stream.Pipeline

	wc     *wfmodel.WorkingContext
	policy wfmodel.PermissionPolicy

	turnSeq   int64
	lastRunID atomic.Value // string
}

// New returns an orchestrator. wc is the session's working context,
// mutated in place across turns; policy is the base (mode=default)
// permission policy the plan-mode controller narrows per turn.
func New(config Config, p provider.Provider, compressor *compress.Compressor, d *dispatch.Dispatcher, reg *registry.Registry, gate *registry.Gate, pm *planmode.Controller, pipeline *stream.Pipeline, wc *wfmodel.WorkingContext, policy wfmodel.PermissionPolicy) *Orchestrator {
	return &Orchestrator{
		config:     config.withDefaults(),
		provider:   p,
		compressor: compressor,
		dispatcher: d,
		registry:   reg,
		gate:       gate,
		planmode:   pm,
		pipeline:   pipeline,
		wc:         wc,
		policy:     policy,
	}
}

// RunTurn executes one complete user turn per spec §4.G steps 1-7: context
// compaction check, prompt build, model round(s), tool dispatch, and
// turn-sealing. input is the just-popped user_input payload (or a
// plan-acceptance seed). RunTurn blocks until the turn seals, aborts, or
// ctx is cancelled.
func (o *Orchestrator) RunTurn(ctx context.Context, input string) (runErr error) {
	runID := fmt.Sprintf("turn-%d", atomic.AddInt64(&o.turnSeq, 1))
	o.lastRunID.Store(runID)
	ctx = observability.AddRunID(ctx, runID)

	runStart := time.Now()
	o.recordRunStart(ctx, runID, input)
	defer func() { o.recordRunEnd(ctx, time.Since(runStart), runErr) }()

	if err := o.maybeCompress(ctx); err != nil {
		o.pipeline.Emit(stream.Err(true, wfmodel.ErrorInternal, fmt.Sprintf("compression failed: %v", err), err))
	}

	o.wc.Turns = append(o.wc.Turns, wfmodel.Turn{
		Role:   wfmodel.TurnUser,
		Blocks: []wfmodel.ContentBlock{{Kind: wfmodel.BlockText, Text: input}},
		Sealed: true,
	})

	for round := 0; ; round++ {
		select {
		case <-ctx.Done():
			o.pipeline.Emit(stream.System(stream.LevelWarn, "aborted"))
			return ctx.Err()
		default:
		}

		if round >= o.config.MaxModelRounds {
			o.recordRunAttempt("failed")
			o.recordError("orchestrator", "max_rounds")
			o.pipeline.Emit(stream.Err(false, wfmodel.ErrorMaxRounds, fmt.Sprintf("exceeded %d model rounds for this turn", o.config.MaxModelRounds), nil))
			return fmt.Errorf("orchestrator: exceeded %d model rounds", o.config.MaxModelRounds)
		}

		assistant, sealed, err := o.modelRound(ctx)
		if err != nil {
			o.recordRunAttempt("failed")
			o.recordError("orchestrator", "model_round")
			return err
		}
		o.recordRunAttempt("success")
		o.wc.Turns = append(o.wc.Turns, *assistant)

		pending := assistant.PendingToolUses()
		if len(pending) == 0 {
			if sealed {
				assistant.Sealed = true
				o.pipeline.Emit(stream.AIResponse("", true))
				return nil
			}
			// Model ended its stream without announcing tool calls and
			// without a clean stop reason; treat as sealed to avoid an
			// infinite re-invoke loop (teacher parity: a turn with no
			// tool calls never loops).
			assistant.Sealed = true
			o.pipeline.Emit(stream.AIResponse("", true))
			return nil
		}

		if len(pending) > o.config.MaxToolCallsPerRound {
			o.pipeline.Emit(stream.Err(true, wfmodel.ErrorValidation, fmt.Sprintf("model requested %d tool calls, exceeding the %d per-round limit", len(pending), o.config.MaxToolCallsPerRound), nil))
			pending = pending[:o.config.MaxToolCallsPerRound]
		}

		aborted, err := o.executeTools(ctx, assistant, pending)
		if aborted {
			o.pipeline.Emit(stream.System(stream.LevelWarn, "cancelled"))
			return err
		}

		if accepted := o.checkPlanAcceptance(assistant); accepted != "" {
			assistant.Sealed = true
			o.pipeline.Emit(stream.AIResponse("", true))
			return o.RunTurn(ctx, accepted)
		}
	}
}

// maybeCompress implements spec §4.G step 2.
func (o *Orchestrator) maybeCompress(ctx context.Context) error {
	if !o.compressor.ShouldCompress(o.wc) {
		return nil
	}
	o.pipeline.Emit(stream.Progress("compressing", "compacting conversation context", nil))

	compressCtx, cancel := context.WithTimeout(ctx, o.config.CompressTimeout)
	defer cancel()

	next, result, err := o.compressor.Compress(compressCtx, o.wc)
	if err != nil {
		return err
	}
	if result.Degraded {
		o.pipeline.Emit(stream.System(stream.LevelWarn, fmt.Sprintf("context compaction degraded: %s", result.DegradeReason)))
	}
	*o.wc = *next
	return nil
}

// modelRound implements spec §4.G steps 3-4: build the prompt, issue one
// streaming provider call, and accumulate the resulting assistant turn
// (forwarding ai_response/thinking events as they arrive and extracting
// both native and inline tool-use blocks). sealed reports whether the
// provider reported a clean turn_end with no pending tool calls.
func (o *Orchestrator) modelRound(ctx context.Context) (*wfmodel.Turn, bool, error) {
	req := o.buildRequest()

	roundCtx, cancel := context.WithTimeout(ctx, o.config.ModelTimeout)
	defer cancel()

	llmStart := time.Now()
	o.recordLLMRequest(ctx, req.Model)
	spanCtx, span := o.startLLMSpan(roundCtx, req.Model)

	events, err := o.provider.Stream(spanCtx, req)
	if err != nil {
		o.recordLLMResponse(ctx, req.Model, time.Since(llmStart), err)
		o.endSpan(span, err)
		o.pipeline.Emit(stream.Err(false, wfmodel.ErrorProviderUnavailable, err.Error(), err))
		return nil, false, err
	}

	assistant := &wfmodel.Turn{Role: wfmodel.TurnAssistant}
	var textBuf strings.Builder
	var inlineBuf strings.Builder
	sealed := false

	type pendingCall struct {
		callID, name string
		input        strings.Builder
	}
	var current *pendingCall

	// flushInline sanitizes whatever of inlineBuf is safe to resolve now.
	// On a mid-stream delta (final=false) a <invoke>/<thinking> span split
	// across this chunk and the next must not be judged unbalanced just
	// because its close tag hasn't arrived yet: invoke.SplitComplete holds
	// back any suffix that could still grow into one of those tags, and
	// only the resolved prefix is run through Sanitize. At true turn end
	// (final=true) no more text is coming, so the whole remaining buffer is
	// sanitized and any genuinely unbalanced tag is re-surfaced as plain
	// text, per spec §9.
	flushInline := func(final bool) {
		if inlineBuf.Len() == 0 {
			return
		}
		buf := inlineBuf.String()
		safe, holdback := buf, ""
		if !final {
			safe, holdback = invoke.SplitComplete(buf)
		}
		if safe == "" {
			return
		}
		res := stream.Sanitize(safe)
		if res.PlainText != "" {
			textBuf.WriteString(res.PlainText)
			o.pipeline.Emit(stream.AIResponse(res.PlainText, false))
		}
		for _, th := range res.Thinking {
			o.pipeline.Emit(stream.Thinking(th))
		}
		for _, tu := range res.ToolUses {
			callID := fmt.Sprintf("inline-%d", len(assistant.Blocks))
			assistant.Blocks = append(assistant.Blocks, wfmodel.ContentBlock{
				Kind: wfmodel.BlockToolUse, CallID: callID, ToolName: tu.ToolName, Input: tu.Input,
			})
		}
		inlineBuf.Reset()
		inlineBuf.WriteString(holdback)
	}

	for ev := range events {
		switch ev.Kind {
		case provider.EventTextDelta:
			inlineBuf.WriteString(ev.Delta)
			flushInline(false)
		case provider.EventThinkingDelta:
			o.pipeline.Emit(stream.Thinking(ev.Delta))
		case provider.EventToolUseStart:
			current = &pendingCall{callID: ev.CallID, name: ev.ToolName}
		case provider.EventToolUseInputDelta:
			if current != nil && current.callID == ev.CallID {
				current.input.WriteString(ev.InputDelta)
			}
		case provider.EventToolUseEnd:
			input := ev.Input
			if current != nil && current.callID == ev.CallID {
				if len(input) == 0 && current.input.Len() > 0 {
					input = json.RawMessage(current.input.String())
				}
				current = nil
			}
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			assistant.Blocks = append(assistant.Blocks, wfmodel.ContentBlock{
				Kind: wfmodel.BlockToolUse, CallID: ev.CallID, ToolName: ev.ToolName, Input: input,
			})
		case provider.EventTurnEnd:
			flushInline(true)
			sealed = len(assistant.PendingToolUses()) == 0
		case provider.EventError:
			flushInline(true)
			o.recordLLMResponse(ctx, req.Model, time.Since(llmStart), ev.Err)
			o.endSpan(span, ev.Err)
			o.pipeline.Emit(stream.Err(false, wfmodel.ErrorProviderUnavailable, ev.Err.Error(), ev.Err))
			return assistant, false, ev.Err
		}
	}
	o.recordLLMResponse(ctx, req.Model, time.Since(llmStart), nil)
	o.endSpan(span, nil)

	if textBuf.Len() > 0 {
		assistant.Blocks = append([]wfmodel.ContentBlock{{Kind: wfmodel.BlockText, Text: textBuf.String()}}, assistant.Blocks...)
	}

	return assistant, sealed, nil
}

// buildRequest implements spec §4.G step 3: system prompt (mode-aware,
// tool-aware), compression summary if any, retained turns, restricted by
// the plan-mode controller's effective policy and tool visibility.
func (o *Orchestrator) buildRequest() provider.Request {
	mode := o.planmode.Mode()
	system := o.config.SystemPrompt
	if mode == wfmodel.ModePlan {
		system += "\n\nYou are in plan mode: propose a plan and call ExitPlanMode to request execution. Only read-only tools are available until the plan is accepted."
	}
	if o.wc.CompressionSummary != "" {
		system += "\n\nConversation summary so far:\n" + o.wc.CompressionSummary
	}

	var tools []provider.ToolDef
	specs := o.registry.All()
	if mode == wfmodel.ModePlan {
		specs = o.registry.ReadOnly()
		specs = append(specs, exitPlanModeSpecOrEmpty(o.registry)...)
	}
	for _, s := range specs {
		tools = append(tools, provider.ToolDef{Name: s.Name, Description: s.Description, Schema: s.InputSchema})
	}

	return provider.Request{
		System:   system,
		Messages: turnsToMessages(o.wc.Turns),
		Tools:    tools,
	}
}

func exitPlanModeSpecOrEmpty(reg *registry.Registry) []wfmodel.ToolSpec {
	if spec, ok := reg.Get(wfmodel.ExitPlanModeTool); ok {
		return []wfmodel.ToolSpec{spec}
	}
	return nil
}

// turnsToMessages flattens the retained Turn/ContentBlock structure into
// the flat provider.Message shape every adapter consumes.
func turnsToMessages(turns []wfmodel.Turn) []provider.Message {
	var out []provider.Message
	for _, t := range turns {
		var text strings.Builder
		var calls []provider.ToolCall
		var results []provider.ToolResult
		for _, b := range t.Blocks {
			switch b.Kind {
			case wfmodel.BlockText:
				text.WriteString(b.Text)
			case wfmodel.BlockToolUse:
				calls = append(calls, provider.ToolCall{ID: b.CallID, Name: b.ToolName, Input: b.Input})
			case wfmodel.BlockToolResult:
				results = append(results, provider.ToolResult{ToolCallID: b.ResultCallID, Content: b.Output, IsError: b.IsError})
			}
		}
		role := "user"
		if t.Role == wfmodel.TurnAssistant {
			role = "assistant"
		}
		if text.Len() > 0 || len(calls) > 0 {
			out = append(out, provider.Message{Role: role, Content: text.String(), ToolCalls: calls})
		}
		if len(results) > 0 {
			out = append(out, provider.Message{Role: "tool", ToolResults: results})
		}
	}
	return out
}

// executeTools implements spec §4.G step 5: dispatch every pending
// tool-use block in emission order, forwarding lifecycle events through
// the pipeline and splicing a matching tool_result block into assistant
// for each terminal event. It reports aborted=true if any call resolves
// with kind=cancelled, per step 5's "abort the turn entirely" rule.
func (o *Orchestrator) executeTools(ctx context.Context, assistant *wfmodel.Turn, pending []wfmodel.ContentBlock) (aborted bool, err error) {
	mode := o.planmode.Mode()
	policy := o.planmode.EffectivePolicy(o.policy)

	for _, call := range pending {
		toolCtx := observability.AddToolCallID(ctx, call.CallID)
		toolStart := time.Now()
		o.recordToolStart(toolCtx, call.ToolName, call.Input)
		spanCtx, span := o.startToolSpan(toolCtx, call.ToolName)
		o.pipeline.Emit(stream.ToolExecution(call.CallID, call.ToolName, stream.ToolStarted, "", nil, ""))

		events := o.dispatcher.Dispatch(spanCtx, call.CallID, call.ToolName, call.Input, mode, policy, o.config.ToolTimeout)

		var toolErr error
		for ev := range events {
			switch ev.Kind {
			case dispatch.EventStarted:
				// already emitted above; the dispatcher's own Started
				// event is consumed without a second pipeline emission.
			case dispatch.EventProgress:
				o.pipeline.Emit(stream.ToolExecution(call.CallID, call.ToolName, stream.ToolProgress, "", ev.Percent, ev.Message))
			case dispatch.EventResult:
				output := ev.Result.Content
				assistant.Blocks = append(assistant.Blocks, wfmodel.ContentBlock{
					Kind: wfmodel.BlockToolResult, ResultCallID: call.CallID, Output: output,
				})
				o.pipeline.Emit(stream.ToolExecution(call.CallID, call.ToolName, stream.ToolCompleted, output, nil, ""))
			case dispatch.EventError:
				toolErr = fmt.Errorf("%s", ev.ErrMsg)
				if ev.ErrKind == wfmodel.ErrorCancelled {
					aborted = true
					err = fmt.Errorf("orchestrator: tool call %s cancelled: %s", call.CallID, ev.ErrMsg)
					o.pipeline.Emit(stream.ToolExecution(call.CallID, call.ToolName, stream.ToolFailed, ev.ErrMsg, nil, ""))
					continue
				}
				assistant.Blocks = append(assistant.Blocks, wfmodel.ContentBlock{
					Kind: wfmodel.BlockToolResult, ResultCallID: call.CallID, Output: ev.ErrMsg, IsError: true,
				})
				o.pipeline.Emit(stream.ToolExecution(call.CallID, call.ToolName, stream.ToolFailed, ev.ErrMsg, nil, ""))
			}
		}
		o.recordToolEnd(toolCtx, call.ToolName, time.Since(toolStart), toolErr)
		o.endSpan(span, toolErr)

		if aborted {
			return true, err
		}
	}

	return false, nil
}

// checkPlanAcceptance implements spec §4.G's "State transitions at turn
// boundaries": if the just-executed tool calls resolved an ExitPlanMode
// acceptance, the plan-mode controller has already flipped to Default and
// returns the next turn's seed text; the caller re-enters RunTurn with it.
func (o *Orchestrator) checkPlanAcceptance(assistant *wfmodel.Turn) string {
	if o.planmode.Mode() == wfmodel.ModePlan {
		return ""
	}
	for _, b := range assistant.Blocks {
		if b.Kind == wfmodel.BlockToolUse && b.ToolName == wfmodel.ExitPlanModeTool {
			state := o.planmode.State()
			if n := len(state.History); n > 0 {
				entry := state.History[n-1]
				if entry.Outcome == wfmodel.PlanAccepted || entry.Outcome == wfmodel.PlanAcceptedPlanOnly {
					return entry.Plan
				}
			}
		}
	}
	return ""
}

// ResetContext clears the working context and resets the plan-mode
// controller, for the REPL's /clear command (spec §6).
func (o *Orchestrator) ResetContext() {
	*o.wc = *wfmodel.NewWorkingContext(o.wc.KeepNewest)
	o.planmode.Reset()
}

// CompressionMetrics exposes the compressor's current metrics for the
// REPL's /cost command (spec §6).
func (o *Orchestrator) CompressionMetrics() compress.Metrics {
	return o.compressor.Metrics()
}

func (o *Orchestrator) recordRunAttempt(status string) {
	if o.config.Metrics != nil {
		o.config.Metrics.RecordRunAttempt(status)
	}
}

func (o *Orchestrator) recordError(component, errorType string) {
	if o.config.Metrics != nil {
		o.config.Metrics.RecordError(component, errorType)
	}
}

func (o *Orchestrator) recordToolStart(ctx context.Context, toolName string, input json.RawMessage) {
	if o.config.Events != nil {
		o.config.Events.RecordToolStart(ctx, toolName, input)
	}
}

func (o *Orchestrator) recordToolEnd(ctx context.Context, toolName string, d time.Duration, err error) {
	if o.config.Events != nil {
		o.config.Events.RecordToolEnd(ctx, toolName, d, nil, err)
	}
}

func (o *Orchestrator) recordLLMRequest(ctx context.Context, model string) {
	if o.config.Events != nil {
		o.config.Events.RecordLLMRequest(ctx, o.provider.Name(), model)
	}
}

func (o *Orchestrator) recordLLMResponse(ctx context.Context, model string, d time.Duration, err error) {
	if o.config.Events != nil {
		o.config.Events.RecordLLMResponse(ctx, o.provider.Name(), model, d, err)
	}
}

func (o *Orchestrator) recordRunStart(ctx context.Context, runID, input string) {
	if o.config.Events != nil {
		o.config.Events.RecordRunStart(ctx, runID, map[string]interface{}{"input": input})
	}
}

func (o *Orchestrator) recordRunEnd(ctx context.Context, d time.Duration, err error) {
	if o.config.Events != nil {
		o.config.Events.RecordRunEnd(ctx, d, err)
	}
}

func (o *Orchestrator) startLLMSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	if o.config.Tracer == nil {
		return ctx, nil
	}
	return o.config.Tracer.TraceLLMRequest(ctx, o.provider.Name(), model)
}

func (o *Orchestrator) startToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	if o.config.Tracer == nil {
		return ctx, nil
	}
	return o.config.Tracer.TraceToolExecution(ctx, toolName)
}

func (o *Orchestrator) endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		o.config.Tracer.RecordError(span, err)
	}
	span.End()
}

// Timeline returns the event timeline for the most recently started turn,
// for the REPL's /timeline command. Returns nil if no events have been
// recorded (Config.Events is nil) or no turn has run yet.
func (o *Orchestrator) Timeline() *observability.Timeline {
	if o.config.Events == nil {
		return nil
	}
	runID, _ := o.lastRunID.Load().(string)
	if runID == "" {
		return nil
	}
	events, err := o.config.Events.Store().GetByRunID(runID)
	if err != nil || len(events) == 0 {
		return nil
	}
	return observability.BuildTimeline(events)
}
