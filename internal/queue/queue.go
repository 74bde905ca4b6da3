// Package queue implements the Message Queue (spec §4.A): a
// single-producer-tolerant, single-consumer queue with a zero-latency
// direct-handoff fast path when a reader is parked, priority ordering
// otherwise, and graceful back-pressure via a secondary overflow buffer.
//
// Grounded on internal/infra/queue.go's lane/cond-based drain loop, adapted
// from FIFO-only lanes to a priority-ordered primary buffer (container/heap
// has no third-party equivalent anywhere in the retrieval pack, so it is
// used directly) plus the high-water migration and parked-reader fast path
// spec.md requires that its source's lane queue does not implement.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// Metrics is a snapshot of the queue's current health (spec §4.A
// metrics()).
type Metrics struct {
	Size             int
	ThroughputPerSec float64
	AvgLatency       time.Duration
	BackPressure     bool
}

// Queue is the Message Queue described in spec §4.A.
type Queue struct {
	mu        sync.Mutex
	primary   itemHeap
	secondary itemHeap
	capacity  int
	highWater int
	seq       uint64
	closed    bool
	closedCh  chan struct{}

	// parked holds a channel the next enqueue can deliver directly to,
	// bypassing both buffers, when a reader is blocked in Next with
	// nothing buffered.
	parked chan wfmodel.Message

	backpressure bool

	consumedTotal   uint64
	latencySum      time.Duration
	recentConsumes  []time.Time
	throughputWindow time.Duration
}

// New returns a Queue with the given hard capacity and high-water
// (back-pressure) threshold. highWater must be <= capacity; callers
// typically use spec.md's resolved defaults of 10000/8000.
func New(capacity, highWater int) *Queue {
	if highWater > capacity {
		highWater = capacity
	}
	return &Queue{
		capacity:         capacity,
		highWater:        highWater,
		closedCh:         make(chan struct{}),
		throughputWindow: 10 * time.Second,
	}
}

// Enqueue implements spec §4.A's enqueue(message) → accepted. It never
// blocks.
func (q *Queue) Enqueue(msg wfmodel.Message) bool {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return false
	}

	if q.parked != nil {
		deliver := q.parked
		q.parked = nil
		q.mu.Unlock()
		deliver <- msg
		return true
	}

	if q.primary.Len()+q.secondary.Len() >= q.capacity {
		q.mu.Unlock()
		return false
	}

	q.seq++
	heap.Push(&q.primary, item{msg: msg, seq: q.seq})

	if q.primary.Len() > q.highWater {
		q.migrateTailToSecondary()
		q.backpressure = true
	}

	q.mu.Unlock()
	return true
}

// migrateTailToSecondary moves the lowest-priority half of the primary
// buffer into the secondary buffer (spec §4.A rule 3). Callers must hold
// q.mu.
func (q *Queue) migrateTailToSecondary() {
	n := q.primary.Len()
	ordered := make([]item, 0, n)
	for q.primary.Len() > 0 {
		ordered = append(ordered, heap.Pop(&q.primary).(item))
	}

	keep := (n + 1) / 2
	q.primary = itemHeap{}
	heap.Init(&q.primary)
	for _, it := range ordered[:keep] {
		heap.Push(&q.primary, it)
	}
	for _, it := range ordered[keep:] {
		heap.Push(&q.secondary, it)
	}
}

// Next implements spec §4.A's iterate() as a pull-based call: it blocks
// until a message is available, the queue is closed, or ctx is done.
func (q *Queue) Next(ctx context.Context) (wfmodel.Message, bool) {
	q.mu.Lock()

	if q.primary.Len() == 0 && q.secondary.Len() > 0 {
		q.primary, q.secondary = q.secondary, itemHeap{}
		heap.Init(&q.secondary)
		q.backpressure = false
	}

	if q.primary.Len() > 0 {
		it := heap.Pop(&q.primary).(item)
		q.recordConsume(it.msg)
		q.mu.Unlock()
		return it.msg, true
	}

	if q.closed {
		q.mu.Unlock()
		return wfmodel.Message{}, false
	}

	deliver := make(chan wfmodel.Message, 1)
	q.parked = deliver
	q.mu.Unlock()

	select {
	case msg := <-deliver:
		q.mu.Lock()
		q.recordConsume(msg)
		q.mu.Unlock()
		return msg, true
	case <-q.closedCh:
		return wfmodel.Message{}, false
	case <-ctx.Done():
		q.mu.Lock()
		if q.parked == deliver {
			q.parked = nil
		}
		q.mu.Unlock()
		// A delivery may have raced the cancellation; drain it so it is
		// not silently dropped.
		select {
		case msg := <-deliver:
			q.mu.Lock()
			q.recordConsume(msg)
			q.mu.Unlock()
			return msg, true
		default:
			return wfmodel.Message{}, false
		}
	}
}

// recordConsume updates latency/throughput bookkeeping for metrics().
// Callers must hold q.mu.
func (q *Queue) recordConsume(msg wfmodel.Message) {
	now := time.Now()
	q.consumedTotal++
	q.latencySum += now.Sub(msg.Timestamp)
	q.recentConsumes = append(q.recentConsumes, now)

	cutoff := now.Add(-q.throughputWindow)
	i := 0
	for i < len(q.recentConsumes) && q.recentConsumes[i].Before(cutoff) {
		i++
	}
	q.recentConsumes = q.recentConsumes[i:]
}

// Close implements spec §4.A's close(): resumes any parked reader with
// end-of-stream and fails subsequent Enqueue calls fast.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closedCh)
}

// Metrics implements spec §4.A's metrics().
func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	var avgLatency time.Duration
	if q.consumedTotal > 0 {
		avgLatency = q.latencySum / time.Duration(q.consumedTotal)
	}

	throughput := float64(len(q.recentConsumes)) / q.throughputWindow.Seconds()

	return Metrics{
		Size:             q.primary.Len() + q.secondary.Len(),
		ThroughputPerSec: throughput,
		AvgLatency:       avgLatency,
		BackPressure:     q.backpressure,
	}
}

// item is one entry in a priority heap: a message plus its insertion
// sequence, used to break priority ties in FIFO order.
type item struct {
	msg wfmodel.Message
	seq uint64
}

// itemHeap is a container/heap.Interface ordering by descending priority,
// then ascending insertion sequence (spec §4.A: "stable, higher priority
// ahead of equal-priority, FIFO within equal priority").
type itemHeap []item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
