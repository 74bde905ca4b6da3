package wfmodel

import "time"

// ResearchArtifact is a named document produced or gathered during a
// session (e.g. a web search result, a generated outline) that the
// compressor must preserve verbatim across compaction.
type ResearchArtifact struct {
	Name    string
	Content string
}

// FileReference is a path the agent has read or written, tracked with its
// last-observed modification time so staleness can be detected.
type FileReference struct {
	Path          string
	LastObservedMTime time.Time
	Excerpt       string
}

// WorkingContext is the bounded conversational state the orchestrator
// builds a prompt from on every model round (spec §3).
//
// Invariants: EstimatedTokens(ceiling) must stay at or below the ceiling
// after every compression; the newest KeepNewest turns are never replaced
// by the compression summary.
type WorkingContext struct {
	Turns              []Turn
	CompressionSummary string
	Artifacts          []ResearchArtifact
	Files              []FileReference

	// KeepNewest is K from spec §3 / §4.B: the number of newest turns that
	// compression must never touch. Configured, default 3.
	KeepNewest int
}

// NewWorkingContext returns an empty working context with the given
// never-compress floor.
func NewWorkingContext(keepNewest int) *WorkingContext {
	if keepNewest < 3 {
		keepNewest = 3
	}
	return &WorkingContext{KeepNewest: keepNewest}
}

// NewestTurns returns the newest min(K, len(Turns)) turns, the portion
// compression must leave byte-identical.
func (w *WorkingContext) NewestTurns() []Turn {
	k := w.KeepNewest
	if k > len(w.Turns) {
		k = len(w.Turns)
	}
	return w.Turns[len(w.Turns)-k:]
}

// OlderTurns returns every turn eligible for compression (all but the
// newest K).
func (w *WorkingContext) OlderTurns() []Turn {
	k := w.KeepNewest
	if k > len(w.Turns) {
		k = len(w.Turns)
	}
	return w.Turns[:len(w.Turns)-k]
}
