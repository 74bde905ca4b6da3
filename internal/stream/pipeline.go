package stream

import (
	"context"
	"sync"
)

// DefaultCapacity bounds the pipeline's internal buffer before droppable
// events start being coalesced or discarded (spec §4.F back-pressure).
const DefaultCapacity = 512

// Pipeline is the single ordered output stream a turn's events are
// published onto. One Pipeline serves one in-flight turn; the orchestrator
// creates one per Run call and closes it when the turn ends.
//
// Grounded on internal/queue's zero-latency parked-reader handoff plus
// overflow buffer (same idiom, reused here for the consumer side), with
// admission-time coalescing/dropping decisions standing in for
// event_sink.go's BackpressureSink lanes.
type Pipeline struct {
	mu       sync.Mutex
	buf      []Event
	capacity int
	parked   chan Event
	waiting  bool
	closed   bool
	dropped  uint64
}

// New returns a Pipeline with the given buffer capacity. capacity <= 0
// uses DefaultCapacity.
func New(capacity int) *Pipeline {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pipeline{capacity: capacity, parked: make(chan Event, 1)}
}

// Emit publishes an event. Non-droppable events (ai_response finals, tool
// started/completed/failed, progress, system, error) are always delivered,
// growing the buffer past capacity if necessary — the pipeline never drops
// or blocks on these. Droppable events (ai_response deltas, tool_progress)
// are coalesced into the previous buffered entry of the same shape when
// possible, and dropped outright once the buffer is at capacity.
//
// Emit is a no-op after Close.
func (p *Pipeline) Emit(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	if p.waiting {
		p.waiting = false
		p.parked <- e
		return
	}

	if n := len(p.buf); n > 0 && e.coalescesWith(p.buf[n-1]) {
		p.buf[n-1].ContentDelta += e.ContentDelta
		p.buf[n-1].IsComplete = e.IsComplete
		return
	}

	if e.droppable() && len(p.buf) >= p.capacity {
		p.dropped++
		return
	}

	p.buf = append(p.buf, e)
}

// Next blocks until an event is available, the pipeline is closed, or ctx
// is cancelled. ok is false once the pipeline is closed and drained.
func (p *Pipeline) Next(ctx context.Context) (Event, bool) {
	p.mu.Lock()
	if len(p.buf) > 0 {
		e := p.buf[0]
		p.buf = p.buf[1:]
		p.mu.Unlock()
		return e, true
	}
	if p.closed {
		p.mu.Unlock()
		return Event{}, false
	}
	p.waiting = true
	p.mu.Unlock()

	select {
	case e, ok := <-p.parked:
		if !ok {
			return Event{}, false
		}
		return e, true
	case <-ctx.Done():
		p.mu.Lock()
		p.waiting = false
		p.mu.Unlock()
		return Event{}, false
	}
}

// Close marks the pipeline done. Any buffered events remain readable via
// Next until drained; a parked reader is woken with ok=false.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.waiting {
		p.waiting = false
		close(p.parked)
	}
}

// Dropped returns the count of droppable events discarded under
// back-pressure since the pipeline was created.
func (p *Pipeline) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
