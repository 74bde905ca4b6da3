package compress

import "github.com/writeflow/writeflow/pkg/wfmodel"

// truncateOldest drops older turns outright, keeping only the newest
// keepNewest plus as many of the remaining older turns (from the end
// backwards) as fit under budget. This is the "if every strategy fails"
// last resort of spec §4.B, ported from the discarded
// internal/context/truncation.go's keep-first-K/keep-newest-K shape.
//
// It never touches the newest keepNewest turns and returns how many older
// turns were dropped so the caller can surface an error event.
func truncateOldest(turns []wfmodel.Turn, keepNewest int, estimate func(wfmodel.Turn) int, budget int) (kept []wfmodel.Turn, dropped int) {
	if keepNewest > len(turns) {
		keepNewest = len(turns)
	}
	newest := turns[len(turns)-keepNewest:]
	older := turns[:len(turns)-keepNewest]

	newestTokens := 0
	for _, t := range newest {
		newestTokens += estimate(t)
	}

	remaining := budget - newestTokens
	keptOlder := make([]wfmodel.Turn, 0, len(older))
	for i := len(older) - 1; i >= 0; i-- {
		tokens := estimate(older[i])
		if tokens > remaining {
			break
		}
		keptOlder = append([]wfmodel.Turn{older[i]}, keptOlder...)
		remaining -= tokens
	}

	dropped = len(older) - len(keptOlder)
	kept = append(keptOlder, newest...)
	return kept, dropped
}
