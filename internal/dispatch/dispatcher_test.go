package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/writeflow/writeflow/internal/registry"
	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// stubTool is a minimal Tool used across this package's tests. run, when
// set, drives the Call event stream; otherwise Call immediately succeeds.
type stubTool struct {
	spec        wfmodel.ToolSpec
	needsPerm   bool
	validateErr error
	run         func(ctx context.Context, callID string, input json.RawMessage) <-chan Event
	paths       []string
	background  bool
}

func (s *stubTool) Spec() wfmodel.ToolSpec                 { return s.spec }
func (s *stubTool) NeedsPermission(json.RawMessage) bool    { return s.needsPerm }
func (s *stubTool) ValidateInput(context.Context, json.RawMessage) error { return s.validateErr }
func (s *stubTool) RenderResultForAssistant(r wfmodel.ToolCallResult) string { return r.Content }
func (s *stubTool) RenderToolUseMessage(json.RawMessage, bool) string { return s.spec.Name }
func (s *stubTool) FilePaths(json.RawMessage) []string      { return s.paths }
func (s *stubTool) RunInBackground(json.RawMessage) bool    { return s.background }

func (s *stubTool) Call(ctx context.Context, callID string, input json.RawMessage) <-chan Event {
	if s.run != nil {
		return s.run(ctx, callID, input)
	}
	ch := make(chan Event, 1)
	ch <- Result(callID, wfmodel.ToolCallResult{Content: "ok"})
	close(ch)
	return ch
}

func newDispatcher() (*Dispatcher, *registry.Registry, *registry.Gate) {
	reg := registry.New()
	gate := registry.NewGate(reg)
	return New(reg, gate, Config{}), reg, gate
}

func drain(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
}

func TestDispatch_UnknownToolIsValidationError(t *testing.T) {
	d, _, _ := newDispatcher()
	events := drain(t, d.Dispatch(context.Background(), "c1", "missing", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}, 0), time.Second)

	if len(events) != 2 || events[0].Kind != EventStarted || events[1].Kind != EventError || events[1].ErrKind != wfmodel.ErrorValidation {
		t.Fatalf("expected started+validation error, got %+v", events)
	}
}

func TestDispatch_SchemaViolationIsValidationError(t *testing.T) {
	d, _, _ := newDispatcher()
	d.RegisterTool(&stubTool{spec: wfmodel.ToolSpec{
		Name:              "typed",
		IsConcurrencySafe: true,
		InputSchema:       json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
	}})

	events := drain(t, d.Dispatch(context.Background(), "c1", "typed", json.RawMessage(`{}`), wfmodel.ModeDefault, wfmodel.PermissionPolicy{}, 0), time.Second)
	if len(events) != 2 || events[1].Kind != EventError || events[1].ErrKind != wfmodel.ErrorValidation {
		t.Fatalf("expected validation error for missing required field, got %+v", events)
	}
}

func TestDispatch_PermissionDeniedShortCircuits(t *testing.T) {
	d, _, _ := newDispatcher()
	d.RegisterTool(&stubTool{spec: wfmodel.ToolSpec{Name: "write", IsConcurrencySafe: true}, needsPerm: true})

	policy := wfmodel.PermissionPolicy{AlwaysDeny: []string{"write"}}
	events := drain(t, d.Dispatch(context.Background(), "c1", "write", nil, wfmodel.ModeDefault, policy, 0), time.Second)
	if len(events) != 2 || events[1].Kind != EventError || events[1].ErrKind != wfmodel.ErrorPermissionDenied {
		t.Fatalf("expected permission_denied, got %+v", events)
	}
}

func TestDispatch_SuccessfulCallEmitsResult(t *testing.T) {
	d, _, _ := newDispatcher()
	d.RegisterTool(&stubTool{spec: wfmodel.ToolSpec{Name: "ok", IsConcurrencySafe: true}})

	events := drain(t, d.Dispatch(context.Background(), "c1", "ok", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}, 0), time.Second)
	if len(events) != 2 || events[1].Kind != EventResult || events[1].Result.Content != "ok" {
		t.Fatalf("expected started+result, got %+v", events)
	}
}

func TestDispatch_TimeoutSynthesizesErrorAfterGrace(t *testing.T) {
	d, _, _ := newDispatcher()
	d.config.GracePeriod = 10 * time.Millisecond
	d.RegisterTool(&stubTool{
		spec:              wfmodel.ToolSpec{Name: "slow", IsConcurrencySafe: true},
		run: func(ctx context.Context, callID string, input json.RawMessage) <-chan Event {
			ch := make(chan Event)
			go func() {
				<-ctx.Done()
				time.Sleep(100 * time.Millisecond) // never produces its own terminal event in time
				close(ch)
			}()
			return ch
		},
	})

	start := time.Now()
	events := drain(t, d.Dispatch(context.Background(), "c1", "slow", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}, 20*time.Millisecond), time.Second)
	elapsed := time.Since(start)

	if len(events) != 2 || events[1].Kind != EventError || events[1].ErrKind != wfmodel.ErrorTimeout {
		t.Fatalf("expected timeout error, got %+v", events)
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("expected dispatcher to abandon the call after grace period, took %s", elapsed)
	}
}

func TestDispatch_SameToolCallsSerialize(t *testing.T) {
	d, _, _ := newDispatcher()
	var order []string
	release := make(chan struct{})
	d.RegisterTool(&stubTool{
		spec: wfmodel.ToolSpec{Name: "serial", IsConcurrencySafe: true},
		run: func(ctx context.Context, callID string, input json.RawMessage) <-chan Event {
			ch := make(chan Event, 1)
			go func() {
				order = append(order, "start:"+callID)
				<-release
				order = append(order, "end:"+callID)
				ch <- Result(callID, wfmodel.ToolCallResult{Content: "done"})
				close(ch)
			}()
			return ch
		},
	})

	firstDone := make(chan struct{})
	go func() {
		drain(t, d.Dispatch(context.Background(), "first", "serial", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}, 0), 2*time.Second)
		close(firstDone)
	}()
	time.Sleep(30 * time.Millisecond) // let "first" start and begin waiting on release

	secondStarted := make(chan struct{})
	go func() {
		events := d.Dispatch(context.Background(), "second", "serial", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}, 0)
		<-events // started event only reachable once second is at least queued
		close(secondStarted)
	}()

	select {
	case <-secondStarted:
	case <-time.After(time.Second):
		t.Fatal("expected second call's Started event even while admission-blocked")
	}

	close(release)
	<-firstDone

	if len(order) < 2 || order[0] != "start:first" {
		t.Fatalf("expected first call's tool body to run before second's, got %+v", order)
	}
}

func TestDispatch_BackgroundReturnsStartedImmediatelyAndIsKillable(t *testing.T) {
	d, _, _ := newDispatcher()
	stopped := make(chan struct{})
	d.RegisterTool(&stubTool{
		spec:       wfmodel.ToolSpec{Name: "bg", IsConcurrencySafe: true},
		background: true,
		run: func(ctx context.Context, callID string, input json.RawMessage) <-chan Event {
			ch := make(chan Event, 1)
			go func() {
				<-ctx.Done()
				close(stopped)
				ch <- Err(callID, wfmodel.ErrorCancelled, "killed", ctx.Err())
				close(ch)
			}()
			return ch
		},
	})

	events := d.Dispatch(context.Background(), "bgcall", "bg", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}, 0)
	first := <-events
	if first.Kind != EventStarted {
		t.Fatalf("expected immediate Started for background call, got %+v", first)
	}

	if ok := d.Jobs().Kill("bgcall"); !ok {
		t.Fatal("expected Kill to find the running background job")
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected Kill to cancel the background tool's context")
	}

	drain(t, events, time.Second)
	job, ok := d.Jobs().Get("bgcall")
	if !ok || job.Status != JobKilled {
		t.Fatalf("expected job status killed, got %+v ok=%v", job, ok)
	}
}
