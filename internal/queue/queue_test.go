package queue

import (
	"context"
	"testing"
	"time"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

func TestQueue_PriorityOrder(t *testing.T) {
	q := New(100, 80)

	q.Enqueue(wfmodel.NewMessage(wfmodel.MessageToolProgress, "low", wfmodel.PriorityToolProgress, "t"))
	q.Enqueue(wfmodel.NewMessage(wfmodel.MessageUserInput, "mid", wfmodel.PriorityUserInput, "t"))
	q.Enqueue(wfmodel.NewMessage(wfmodel.MessageCancel, "high", wfmodel.PriorityCancel, "t"))

	ctx := context.Background()
	first, ok := q.Next(ctx)
	if !ok || first.Payload != "high" {
		t.Fatalf("expected high-priority message first, got %+v ok=%v", first, ok)
	}
	second, ok := q.Next(ctx)
	if !ok || second.Payload != "mid" {
		t.Fatalf("expected mid-priority message second, got %+v ok=%v", second, ok)
	}
	third, ok := q.Next(ctx)
	if !ok || third.Payload != "low" {
		t.Fatalf("expected low-priority message third, got %+v ok=%v", third, ok)
	}
}

func TestQueue_FIFOWithinEqualPriority(t *testing.T) {
	q := New(100, 80)
	for i := 0; i < 5; i++ {
		q.Enqueue(wfmodel.NewMessage(wfmodel.MessageUserInput, i, wfmodel.PriorityUserInput, "t"))
	}
	for i := 0; i < 5; i++ {
		msg, ok := q.Next(context.Background())
		if !ok || msg.Payload != i {
			t.Fatalf("expected FIFO order, wanted %d got %+v", i, msg)
		}
	}
}

func TestQueue_ParkedReaderZeroLatencyHandoff(t *testing.T) {
	q := New(100, 80)
	done := make(chan wfmodel.Message, 1)
	go func() {
		msg, ok := q.Next(context.Background())
		if !ok {
			return
		}
		done <- msg
	}()

	// Give the reader time to park before enqueuing.
	time.Sleep(20 * time.Millisecond)
	if !q.Enqueue(wfmodel.NewMessage(wfmodel.MessageUserInput, "direct", wfmodel.PriorityUserInput, "t")) {
		t.Fatal("expected direct handoff to be accepted")
	}

	select {
	case msg := <-done:
		if msg.Payload != "direct" {
			t.Fatalf("unexpected payload %+v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for parked reader to receive direct handoff")
	}
}

func TestQueue_HighWaterMigratesToSecondary(t *testing.T) {
	q := New(20, 5)
	for i := 0; i < 10; i++ {
		if !q.Enqueue(wfmodel.NewMessage(wfmodel.MessageUserInput, i, wfmodel.PriorityUserInput, "t")) {
			t.Fatalf("enqueue %d should be accepted under capacity", i)
		}
	}
	if m := q.Metrics(); !m.BackPressure {
		t.Fatal("expected back-pressure flag once high water is exceeded")
	}
	for i := 0; i < 10; i++ {
		msg, ok := q.Next(context.Background())
		if !ok || msg.Payload != i {
			t.Fatalf("expected promoted secondary to preserve order, wanted %d got %+v", i, msg)
		}
	}
}

func TestQueue_HardCapacityRejects(t *testing.T) {
	q := New(2, 2)
	if !q.Enqueue(wfmodel.NewMessage(wfmodel.MessageUserInput, 1, 0, "t")) {
		t.Fatal("expected first enqueue to be accepted")
	}
	if !q.Enqueue(wfmodel.NewMessage(wfmodel.MessageUserInput, 2, 0, "t")) {
		t.Fatal("expected second enqueue to be accepted")
	}
	if q.Enqueue(wfmodel.NewMessage(wfmodel.MessageUserInput, 3, 0, "t")) {
		t.Fatal("expected enqueue beyond hard capacity to be rejected")
	}
}

func TestQueue_CloseResumesParkedReader(t *testing.T) {
	q := New(10, 8)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Next(context.Background())
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected Next to report end-of-stream after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Close to resume parked reader")
	}

	if q.Enqueue(wfmodel.NewMessage(wfmodel.MessageUserInput, 1, 0, "t")) {
		t.Fatal("expected Enqueue to fail fast after Close")
	}
}

func TestQueue_NextRespectsContextCancellation(t *testing.T) {
	q := New(10, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Next(ctx)
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected Next to return false on context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation to unblock Next")
	}
}
