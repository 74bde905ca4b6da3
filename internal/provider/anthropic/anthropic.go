// Package anthropic adapts Anthropic's Claude streaming API to the
// internal/provider.Provider contract.
//
// Grounded on internal/agent/providers/anthropic.go's AnthropicProvider:
// same SDK (github.com/anthropics/anthropic-sdk-go + ssestream), same
// message/tool conversion shape, same content_block_start/delta/stop event
// switch in processStream — narrowed to the non-beta path (computer-use
// tools are Out of Scope per SPEC_FULL.md §E) and re-emitting through
// internal/provider.Event instead of a flat CompletionChunk struct.
// Retry now goes through internal/backoff's exponential-with-jitter policy
// in place of a hand-rolled math.Pow loop, and each adapter
// instance owns an internal/infra.CircuitBreaker so a persistently failing
// model stops being hammered between calls.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/writeflow/writeflow/internal/backoff"
	"github.com/writeflow/writeflow/internal/infra"
	"github.com/writeflow/writeflow/internal/observability"
	"github.com/writeflow/writeflow/internal/provider"
)

// maxEmptyStreamEvents guards against a malformed stream flooding empty
// events with a stream-health check.
const maxEmptyStreamEvents = 300

// Config configures the Anthropic adapter.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryPolicy  backoff.BackoffPolicy

	// CircuitBreaker tunes how many consecutive failures open the circuit
	// and how long it stays open before a half-open probe. Zero value
	// uses infra.NewCircuitBreaker's defaults (5 failures / 30s).
	CircuitBreaker infra.CircuitBreakerConfig

	// Metrics records request latency, token usage, and error counts when
	// set. Nil disables recording.
	Metrics *observability.Metrics
}

// Adapter implements provider.Provider for Anthropic's Messages API.
type Adapter struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryPolicy  backoff.BackoffPolicy
	breaker      *infra.CircuitBreaker
	metrics      *observability.Metrics
}

// New returns an Anthropic provider adapter.
func New(config Config) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if (config.RetryPolicy == backoff.BackoffPolicy{}) {
		config.RetryPolicy = backoff.DefaultPolicy()
	}
	if config.CircuitBreaker.Name == "" {
		config.CircuitBreaker.Name = "anthropic"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Adapter{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryPolicy:  config.RetryPolicy,
		breaker:      infra.NewCircuitBreaker(config.CircuitBreaker),
		metrics:      config.Metrics,
	}, nil
}

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	out := make(chan provider.Event)

	go func() {
		defer close(out)

		started := time.Now()
		model := a.model(req.Model)
		stream, err := infra.ExecuteWithResult(a.breaker, ctx, func(ctx context.Context) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
			result, err := backoff.RetryWithBackoff(ctx, a.retryPolicy, a.maxRetries, func(int) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
				s, err := a.createStream(ctx, req, model)
				if err != nil {
					return nil, err
				}
				return s, nil
			})
			return result.Value, err
		})
		if err != nil {
			a.recordRequestMetrics(model, "error", started, 0, 0)
			out <- provider.Event{Kind: provider.EventError, Err: a.wrapError(err, model)}
			return
		}

		a.processStream(stream, out, model, started)
	}()

	return out, nil
}

// recordRequestMetrics reports one terminal LLM request outcome. No-op
// when the adapter wasn't configured with a Metrics sink.
func (a *Adapter) recordRequestMetrics(model, status string, started time.Time, inputTokens, outputTokens int) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordLLMRequest("anthropic", model, status, time.Since(started).Seconds(), inputTokens, outputTokens)
	if inputTokens+outputTokens > 0 {
		a.metrics.RecordContextWindow("anthropic", model, inputTokens+outputTokens)
	}
}

func (a *Adapter) createStream(ctx context.Context, req provider.Request, model string) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(a.maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return a.client.Messages.NewStreaming(ctx, params), nil
}

// processStream mirrors AnthropicProvider.processStream's event switch,
// re-emitting through provider.Event instead of CompletionChunk.
func (a *Adapter) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- provider.Event, model string, started time.Time) {
	var callID, toolName string
	var toolInput strings.Builder
	inTool := false
	emptyEvents := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				callID, toolName = tu.ID, tu.Name
				toolInput.Reset()
				inTool = true
				out <- provider.Event{Kind: provider.EventToolUseStart, CallID: callID, ToolName: toolName}
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- provider.Event{Kind: provider.EventTextDelta, Delta: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- provider.Event{Kind: provider.EventThinkingDelta, Delta: delta.Thinking}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					out <- provider.Event{Kind: provider.EventToolUseInputDelta, CallID: callID, InputDelta: delta.PartialJSON}
					processed = true
				}
			}

		case "content_block_stop":
			if inTool {
				out <- provider.Event{Kind: provider.EventToolUseEnd, CallID: callID, ToolName: toolName, Input: json.RawMessage(toolInput.String())}
				inTool = false
				processed = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			out <- provider.Event{Kind: provider.EventTurnEnd, InputTokens: inputTokens, OutputTokens: outputTokens}
			a.recordRequestMetrics(model, "success", started, inputTokens, outputTokens)
			return

		case "error":
			out <- provider.Event{Kind: provider.EventError, Err: a.wrapError(errors.New("anthropic stream error"), model)}
			a.recordRequestMetrics(model, "error", started, inputTokens, outputTokens)
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				out <- provider.Event{Kind: provider.EventError, Err: a.wrapError(fmt.Errorf("stream appears malformed after %d empty events", emptyEvents), model)}
				a.recordRequestMetrics(model, "error", started, inputTokens, outputTokens)
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		out <- provider.Event{Kind: provider.EventError, Err: a.wrapError(err, model)}
		a.recordRequestMetrics(model, "error", started, inputTokens, outputTokens)
	}
}

func convertMessages(messages []provider.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		var m anthropic.MessageParam
		if msg.Role == "assistant" {
			m = anthropic.NewAssistantMessage(content...)
		} else {
			m = anthropic.NewUserMessage(content...)
		}
		result = append(result, m)
	}
	return result, nil
}

func convertTools(tools []provider.ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func (a *Adapter) model(requested string) string {
	if requested == "" {
		return a.defaultModel
	}
	return requested
}

func (a *Adapter) maxTokens(requested int) int {
	if requested <= 0 {
		return 4096
	}
	return requested
}

func (a *Adapter) wrapError(err error, model string) *provider.Error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := provider.NewError("anthropic", model, err).WithStatus(apiErr.StatusCode)
		pe.RequestID = apiErr.RequestID
		return pe
	}
	return provider.NewError("anthropic", model, err)
}

// EstimateTokens offers a rough chars-per-token estimate for a request,
// grounded on AnthropicProvider.CountTokens — used by internal/orchestrator
// before a call to decide whether compression should run first.
func EstimateTokens(req provider.Request) int {
	const charsPerToken = 4
	total := len(req.System) / charsPerToken
	for _, msg := range req.Messages {
		total += len(msg.Content) / charsPerToken
		for _, tc := range msg.ToolCalls {
			total += (len(tc.Name) + len(tc.Input)) / charsPerToken
		}
		for _, tr := range msg.ToolResults {
			total += len(tr.Content) / charsPerToken
		}
	}
	for _, tool := range req.Tools {
		total += (len(tool.Name) + len(tool.Description) + len(tool.Schema)) / charsPerToken
	}
	return total
}
