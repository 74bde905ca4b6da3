// Package compress implements the Context Compressor (spec §4.B): decides
// whether the Working Context is due for compaction and, if so, produces a
// replacement whose token estimate is under the ceiling while preserving
// the newest K turns verbatim, outstanding research artifacts, file
// references, and a prose summary covering every replaced older turn.
//
// Grounded on internal/agent/compaction.go's CompactionState threshold
// trigger, internal/agent/context/packer.go's newest-turns budget packing,
// internal/agent/context/summarize.go's BuildSummarizationPrompt, and
// internal/compaction/compaction.go's chunked/hierarchical summarization
// shape (chunk-then-merge, FormatMessagesForSummary), folded directly into
// transcript.go below rather than kept as a separate package: nothing
// outside this compressor ever called the rest of that package's surface.
// The discarded internal/context/{window,truncation}.go are folded in here
// as window.go and truncate.go since nothing else in the module needs
// general-purpose context-window or truncation bookkeeping outside the
// compressor.
package compress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// Summarizer issues the dedicated LLM call spec §4.B describes: a system
// prompt instructing summarization of user goals stated so far, decisions
// made, facts and citations, and open questions, given the serialized
// transcript of the turns being replaced. internal/orchestrator wires this
// to a provider's "task" or "quick" model pointer.
type Summarizer interface {
	Summarize(ctx context.Context, systemPrompt, transcript string) (string, error)
}

// SummarizationSystemPrompt is the dedicated system prompt spec §4.B
// requires ("Summary construction").
const SummarizationSystemPrompt = `You are summarizing a conversation so it can continue within a bounded context window. Cover, in prose:
- the user's goals stated so far
- decisions made
- facts and citations gathered
- open questions still outstanding
Be concise. Do not invent details not present in the transcript.`

// Config tunes the compressor's trigger/target thresholds (spec §9 Open
// Question: alpha resolved to 0.85 in SPEC_FULL.md §A).
type Config struct {
	// Ceiling is the Working Context's configured token budget (spec §3,
	// §6 "token ceiling").
	Ceiling int

	// Alpha triggers compression when estimated tokens >= Alpha*Ceiling.
	// Default 0.85.
	Alpha float64

	// Beta is the target ceiling fraction compression must bring the
	// estimate below. Default 0.6.
	Beta float64

	// SummaryBudget caps the compression summary's own token count;
	// exceeding it triggers hierarchical summary-of-summaries. Default
	// Ceiling * minChunkRatio.
	SummaryBudget int
}

func (c Config) withDefaults() Config {
	if c.Ceiling <= 0 {
		c.Ceiling = defaultContextWindow
	}
	if c.Alpha <= 0 {
		c.Alpha = 0.85
	}
	if c.Beta <= 0 {
		c.Beta = 0.6
	}
	if c.SummaryBudget <= 0 {
		c.SummaryBudget = int(float64(c.Ceiling) * minChunkRatio)
	}
	return c
}

// Metrics is a snapshot of the compressor's health (spec §4.B "Metrics
// exposed").
type Metrics struct {
	CurrentTokens      int
	CompressionLevel   int
	LastCompressionAt  time.Time
	BytesRetainedRatio float64
}

// Result reports what Compress actually did, so the orchestrator can emit
// the right progress/error events.
type Result struct {
	Degraded      bool   // true if the deterministic fallback or truncation ran
	DegradeReason string // "llm_summary_failed" / "truncated"
	DroppedTurns  int
}

// Compressor implements spec §4.B over a wfmodel.WorkingContext.
type Compressor struct {
	config     Config
	summarizer Summarizer

	level          int
	last           time.Time
	bytesRetained  float64
}

// New returns a compressor. summarizer may be nil, in which case Compress
// always uses the deterministic fallback (spec §4.B failure semantics).
func New(config Config, summarizer Summarizer) *Compressor {
	return &Compressor{config: config.withDefaults(), summarizer: summarizer}
}

// EstimateTokens returns the working context's total token estimate:
// compression summary + turns + research artifacts + file excerpts.
func (c *Compressor) EstimateTokens(wc *wfmodel.WorkingContext) int {
	total := estimateText(wc.CompressionSummary)
	for _, t := range wc.Turns {
		total += estimateTurn(t)
	}
	for _, a := range wc.Artifacts {
		total += estimateText(a.Content)
	}
	for _, f := range wc.Files {
		total += estimateText(f.Excerpt)
	}
	return total
}

// ShouldCompress implements spec §4.B's decision rule (the alpha leg; the
// "or the user explicitly requests it" leg is the orchestrator's call).
func (c *Compressor) ShouldCompress(wc *wfmodel.WorkingContext) bool {
	return c.EstimateTokens(wc) >= int(c.config.Alpha*float64(c.config.Ceiling))
}

// Metrics returns the compressor's current health snapshot.
func (c *Compressor) Metrics() Metrics {
	return Metrics{
		CompressionLevel:   c.level,
		LastCompressionAt:  c.last,
		BytesRetainedRatio: c.bytesRetained,
	}
}

// Compress runs spec §4.B's algorithm: summarize every turn outside the
// newest K (LLM summary, deterministic fallback on failure, hierarchical
// summary-of-summaries if the result itself would exceed SummaryBudget),
// and returns a new WorkingContext whose estimate is <= Beta*Ceiling. If
// every summarization strategy still leaves the context over budget, the
// oldest turns are dropped outright and Result.Degraded/DroppedTurns
// report it so the caller can emit the error event spec §4.B requires.
func (c *Compressor) Compress(ctx context.Context, wc *wfmodel.WorkingContext) (*wfmodel.WorkingContext, Result, error) {
	keepNewest := wc.KeepNewest
	if keepNewest <= 0 {
		keepNewest = 3
	}
	newest := wc.NewestTurns()
	older := wc.OlderTurns()

	var result Result
	var summary string

	if len(older) > 0 {
		var err error
		summary, err = c.summarize(ctx, older, wc.CompressionSummary)
		if err != nil {
			result.Degraded = true
			result.DegradeReason = "llm_summary_failed"
			summary = joinSummaries(wc.CompressionSummary, deterministicSummary(older))
		}
	} else {
		summary = wc.CompressionSummary
	}

	if estimateText(summary) > c.config.SummaryBudget {
		summary = c.foldSummary(ctx, summary)
	}

	next := &wfmodel.WorkingContext{
		Turns:              append([]wfmodel.Turn(nil), newest...),
		CompressionSummary: summary,
		Artifacts:          append([]wfmodel.ResearchArtifact(nil), wc.Artifacts...),
		Files:              append([]wfmodel.FileReference(nil), wc.Files...),
		KeepNewest:         keepNewest,
	}

	budget := int(c.config.Beta * float64(c.config.Ceiling))
	if c.EstimateTokens(next) > budget {
		// Last resort (spec §4.B): drop the oldest turns outright. The
		// newest K are never touched; research artifacts and file
		// references are dropped oldest-first before any newest turn is.
		for len(next.Files) > 0 && c.EstimateTokens(next) > budget {
			next.Files = next.Files[1:]
			result.Degraded = true
			result.DegradeReason = "truncated"
		}
		for len(next.Artifacts) > 0 && c.EstimateTokens(next) > budget {
			next.Artifacts = next.Artifacts[1:]
			result.Degraded = true
			result.DegradeReason = "truncated"
		}
		if c.EstimateTokens(next) > budget && len(next.Turns) > keepNewest {
			remaining := budget - estimateText(next.CompressionSummary)
			kept, dropped := truncateOldest(next.Turns, keepNewest, estimateTurn, remaining)
			next.Turns = kept
			result.Degraded = true
			result.DegradeReason = "truncated"
			result.DroppedTurns = dropped
		}
	}

	before := c.EstimateTokens(wc)
	after := c.EstimateTokens(next)
	if before > 0 {
		c.bytesRetained = float64(after) / float64(before)
	}
	c.level++
	c.last = time.Now()

	return next, result, nil
}

// summarize issues the spec §4.B LLM call(s) over the serialized older
// turns, folding any prior compression summary in as leading context. A
// history that itself overflows one chunk (baseChunkRatio * Ceiling) is
// split and summarized chunk-by-chunk, then the chunk summaries are
// merged with one more summarizer call — the chunk-then-merge shape spec
// §4.B's "hierarchical" folding calls for, applied here to an oversized
// input rather than only to an oversized output (foldSummary below).
func (c *Compressor) summarize(ctx context.Context, older []wfmodel.Turn, previous string) (string, error) {
	if c.summarizer == nil {
		return "", fmt.Errorf("compress: no summarizer configured")
	}

	var msgs []*transcriptMessage
	for _, t := range older {
		msgs = append(msgs, turnToMessages(t)...)
	}

	maxChunkTokens := int(float64(c.config.Ceiling) * baseChunkRatio)
	chunks := chunkMessagesByMaxTokens(msgs, maxChunkTokens)
	if len(chunks) <= 1 {
		transcript := formatMessagesForSummary(msgs)
		if previous != "" {
			transcript = "Previous summary:\n" + previous + "\n\nNew turns to fold in:\n" + transcript
		}
		return c.summarizer.Summarize(ctx, SummarizationSystemPrompt, transcript)
	}

	chunkSummaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summary, err := c.summarizer.Summarize(ctx, SummarizationSystemPrompt, formatMessagesForSummary(chunk))
		if err != nil {
			return "", fmt.Errorf("summarizing chunk %d/%d: %w", i+1, len(chunks), err)
		}
		chunkSummaries = append(chunkSummaries, summary)
	}
	if previous != "" {
		chunkSummaries = append([]string{"Previous summary:\n" + previous}, chunkSummaries...)
	}
	return c.mergeChunkSummaries(ctx, chunkSummaries)
}

// mergeChunkSummaries combines per-chunk summaries into one coherent
// summary with a dedicated merge-flavored call to the same summarizer.
func (c *Compressor) mergeChunkSummaries(ctx context.Context, summaries []string) (string, error) {
	if len(summaries) == 1 {
		return summaries[0], nil
	}
	var sb strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&sb, "Chunk %d summary:\n%s\n\n", i+1, s)
	}
	prompt := SummarizationSystemPrompt + "\nThe input below is a set of chunk summaries covering different spans of the conversation in order; merge them into a single coherent summary, preserving chronological flow."
	return c.summarizer.Summarize(ctx, prompt, sb.String())
}

// foldSummary re-summarizes an oversized summary hierarchically
// (summary-of-summaries). Falls back to a hard truncation if no
// summarizer is available.
func (c *Compressor) foldSummary(ctx context.Context, summary string) string {
	if c.summarizer == nil {
		return truncate(summary, c.config.SummaryBudget*charsPerToken)
	}
	folded, err := c.summarizer.Summarize(ctx, SummarizationSystemPrompt+"\nThis input is already a summary; compress it further without losing any open question or decision.", summary)
	if err != nil {
		return truncate(summary, c.config.SummaryBudget*charsPerToken)
	}
	return folded
}

func joinSummaries(previous, fresh string) string {
	if previous == "" {
		return fresh
	}
	return previous + "\n\n" + fresh
}

// turnToMessages flattens one Turn's content blocks into transcriptMessage:
// one message per text/thinking block, and a combined message carrying
// ToolCalls/ToolResults text for tool blocks.
func turnToMessages(t wfmodel.Turn) []*transcriptMessage {
	var out []*transcriptMessage
	var toolCalls, toolResults []string
	for _, b := range t.Blocks {
		switch b.Kind {
		case wfmodel.BlockText, wfmodel.BlockThinking:
			out = append(out, &transcriptMessage{Role: string(t.Role), Content: b.Text})
		case wfmodel.BlockToolUse:
			toolCalls = append(toolCalls, fmt.Sprintf("%s(%s)", b.ToolName, salientInput(b.Input)))
		case wfmodel.BlockToolResult:
			toolResults = append(toolResults, truncate(b.Output, 200))
		}
	}
	if len(toolCalls) > 0 || len(toolResults) > 0 {
		out = append(out, &transcriptMessage{
			Role:        string(t.Role),
			ToolCalls:   strings.Join(toolCalls, "; "),
			ToolResults: strings.Join(toolResults, "; "),
		})
	}
	return out
}

// estimateText is the conservative chars-per-token heuristic spec §4.B
// relies on for estimated_tokens().
func estimateText(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

func estimateTurn(t wfmodel.Turn) int {
	total := 0
	for _, b := range t.Blocks {
		total += estimateText(b.Text)
		total += estimateText(string(b.Input))
		total += estimateText(b.Output)
	}
	return total
}
