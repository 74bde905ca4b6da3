package planmode

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/writeflow/writeflow/internal/dispatch"
	"github.com/writeflow/writeflow/internal/planmode"
	"github.com/writeflow/writeflow/pkg/wfmodel"
)

type fakeConfirmer struct {
	outcome  planmode.ExitOutcome
	feedback string
}

func (f *fakeConfirmer) ConfirmPlan(ctx context.Context, plan string) (planmode.ExitOutcome, string, error) {
	return f.outcome, f.feedback, nil
}

func drain(ch <-chan dispatch.Event) []dispatch.Event {
	var events []dispatch.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestTool_Spec(t *testing.T) {
	controller := planmode.New(nil)
	tool := New(controller, &fakeConfirmer{outcome: planmode.ExitAcceptAndExecute})

	if tool.Name() != wfmodel.ExitPlanModeTool {
		t.Fatalf("expected name %q, got %q", wfmodel.ExitPlanModeTool, tool.Name())
	}
	spec := tool.Spec()
	if !spec.IsReadOnly {
		t.Fatalf("expected ExitPlanMode to be read-only")
	}
	if spec.NeedsPermission {
		t.Fatalf("expected ExitPlanMode to bypass the general permission gate")
	}
}

func TestTool_ValidateInput(t *testing.T) {
	controller := planmode.New(nil)
	tool := New(controller, &fakeConfirmer{})

	if err := tool.ValidateInput(context.Background(), json.RawMessage(`{"plan":""}`)); err == nil {
		t.Fatalf("expected error for empty plan")
	}
	if err := tool.ValidateInput(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error for missing plan")
	}
	if err := tool.ValidateInput(context.Background(), json.RawMessage(`{"plan":"do it"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTool_Call_AcceptAndExecute(t *testing.T) {
	controller := planmode.New(nil)
	controller.EnterPlan()
	tool := New(controller, &fakeConfirmer{outcome: planmode.ExitAcceptAndExecute})

	events := drain(tool.Call(context.Background(), "call-1", json.RawMessage(`{"plan":"do the thing"}`)))
	if len(events) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", len(events))
	}
	if events[0].Kind != dispatch.EventResult {
		t.Fatalf("expected a result event, got %+v", events[0])
	}
	if controller.Mode() != wfmodel.ModeDefault {
		t.Fatalf("expected mode to flip to Default after accept")
	}
}

func TestTool_Call_Reject(t *testing.T) {
	controller := planmode.New(nil)
	controller.EnterPlan()
	tool := New(controller, &fakeConfirmer{outcome: planmode.ExitReject, feedback: "try again with X"})

	events := drain(tool.Call(context.Background(), "call-1", json.RawMessage(`{"plan":"bad plan"}`)))
	if len(events) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", len(events))
	}
	if events[0].Kind != dispatch.EventResult {
		t.Fatalf("expected a result event describing the rejection, got %+v", events[0])
	}
	if controller.Mode() != wfmodel.ModePlan {
		t.Fatalf("expected mode to remain Plan after reject")
	}
}

func TestTool_Call_InvalidInput(t *testing.T) {
	controller := planmode.New(nil)
	controller.EnterPlan()
	tool := New(controller, &fakeConfirmer{outcome: planmode.ExitAcceptAndExecute})

	events := drain(tool.Call(context.Background(), "call-1", json.RawMessage(`not json`)))
	if len(events) != 1 || events[0].Kind != dispatch.EventError {
		t.Fatalf("expected one validation error event, got %+v", events)
	}
}
