// Package openai adapts OpenAI's chat-completions streaming API to the
// internal/provider.Provider contract.
//
// Grounded on internal/agent/providers/openai.go's OpenAIProvider: same
// SDK (github.com/sashabaranov/go-openai), same per-index tool-call
// accumulation across delta chunks, same finish_reason=="tool_calls"
// flush — re-emitted through internal/provider.Event's tool_use_start/
// input_delta/end triad instead of a single completed ToolCall chunk,
// since spec §6 requires the start/delta/end shape uniformly across
// providers. Retry again goes through internal/backoff and an
// internal/infra.CircuitBreaker in place of a hand-rolled retry loop.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/writeflow/writeflow/internal/backoff"
	"github.com/writeflow/writeflow/internal/infra"
	"github.com/writeflow/writeflow/internal/observability"
	"github.com/writeflow/writeflow/internal/provider"
)

// Config configures the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	MaxRetries     int
	RetryPolicy    backoff.BackoffPolicy
	CircuitBreaker infra.CircuitBreakerConfig

	// Metrics records request latency, token usage, and error counts when
	// set. Nil disables recording.
	Metrics *observability.Metrics
}

// Adapter implements provider.Provider for OpenAI's chat completions API.
type Adapter struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryPolicy  backoff.BackoffPolicy
	breaker      *infra.CircuitBreaker
	metrics      *observability.Metrics
}

// New returns an OpenAI provider adapter.
func New(config Config) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if (config.RetryPolicy == backoff.BackoffPolicy{}) {
		config.RetryPolicy = backoff.DefaultPolicy()
	}
	if config.CircuitBreaker.Name == "" {
		config.CircuitBreaker.Name = "openai"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Adapter{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryPolicy:  config.RetryPolicy,
		breaker:      infra.NewCircuitBreaker(config.CircuitBreaker),
		metrics:      config.Metrics,
	}, nil
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	out := make(chan provider.Event)

	go func() {
		defer close(out)

		started := time.Now()
		model := a.model(req.Model)
		chatReq := openai.ChatCompletionRequest{
			Model:    model,
			Messages: convertMessages(req.Messages, req.System),
			Stream:   true,
		}
		if req.MaxTokens > 0 {
			chatReq.MaxTokens = req.MaxTokens
		}
		if len(req.Tools) > 0 {
			chatReq.Tools = convertTools(req.Tools)
		}

		stream, err := infra.ExecuteWithResult(a.breaker, ctx, func(ctx context.Context) (*openai.ChatCompletionStream, error) {
			result, err := backoff.RetryWithBackoff(ctx, a.retryPolicy, a.maxRetries, func(int) (*openai.ChatCompletionStream, error) {
				return a.client.CreateChatCompletionStream(ctx, chatReq)
			})
			return result.Value, err
		})
		if err != nil {
			a.recordRequestMetrics(model, "error", started, 0, 0)
			out <- provider.Event{Kind: provider.EventError, Err: provider.NewError("openai", model, err)}
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
	a.metrics.RecordLLMRequest("openai", model, status, time.Since(started).Seconds(), inputTokens, outputTokens)
	if inputTokens+outputTokens > 0 {
		a.metrics.RecordContextWindow("openai", model, inputTokens+outputTokens)
	}
}

// toolCallState tracks one in-flight tool call being assembled across
// index-addressed delta chunks, mirroring OpenAIProvider.processStream's
// toolCalls map but splitting the flush into start/delta/end events.
type toolCallState struct {
	id, name string
	started  bool
	input    string
}

func (a *Adapter) processStream(stream *openai.ChatCompletionStream, out chan<- provider.Event, model string, started time.Time) {
	defer stream.Close()

	calls := make(map[int]*toolCallState)
	var inputTokens, outputTokens int

	flush := func() {
		for _, tc := range calls {
			if tc.id != "" && tc.name != "" {
				out <- provider.Event{Kind: provider.EventToolUseEnd, CallID: tc.id, ToolName: tc.name, Input: json.RawMessage(tc.input)}
			}
		}
		calls = make(map[int]*toolCallState)
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				out <- provider.Event{Kind: provider.EventTurnEnd, InputTokens: inputTokens, OutputTokens: outputTokens}
				a.recordRequestMetrics(model, "success", started, inputTokens, outputTokens)
				return
			}
			out <- provider.Event{Kind: provider.EventError, Err: provider.NewError("openai", model, err)}
			a.recordRequestMetrics(model, "error", started, inputTokens, outputTokens)
			return
		}

		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- provider.Event{Kind: provider.EventTextDelta, Delta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			state, ok := calls[index]
			if !ok {
				state = &toolCallState{}
				calls[index] = state
			}
			if tc.ID != "" {
				state.id = tc.ID
			}
			if tc.Function.Name != "" {
				state.name = tc.Function.Name
			}
			if !state.started && state.id != "" && state.name != "" {
				state.started = true
				out <- provider.Event{Kind: provider.EventToolUseStart, CallID: state.id, ToolName: state.name}
			}
			if tc.Function.Arguments != "" {
				state.input += tc.Function.Arguments
				if state.started {
					out <- provider.Event{Kind: provider.EventToolUseInputDelta, CallID: state.id, InputDelta: tc.Function.Arguments}
				}
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func convertMessages(messages []provider.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Input)},
				})
			}
			result = append(result, m)
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func convertTools(tools []provider.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func (a *Adapter) model(requested string) string {
	if requested == "" {
		return a.defaultModel
	}
	return requested
}
