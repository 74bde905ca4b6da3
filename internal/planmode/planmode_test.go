package planmode

import (
	"testing"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

type fakeGrants struct{ cleared int }

func (f *fakeGrants) ClearNonPermanentGrants() { f.cleared++ }

func TestController_EnterPlanClearsGrants(t *testing.T) {
	grants := &fakeGrants{}
	c := New(grants)

	c.EnterPlan()
	if c.Mode() != wfmodel.ModePlan {
		t.Fatalf("expected Plan mode, got %v", c.Mode())
	}
	if grants.cleared != 1 {
		t.Fatalf("expected grants to be cleared once, got %d", grants.cleared)
	}
}

func TestController_ExitPlanMode_AcceptAndExecute(t *testing.T) {
	c := New(nil)
	c.EnterPlan()

	seed, err := c.ExitPlanMode("do the thing", ExitAcceptAndExecute, "")
	if err != nil {
		t.Fatalf("ExitPlanMode: %v", err)
	}
	if seed != "do the thing" {
		t.Fatalf("expected seed to be the accepted plan, got %q", seed)
	}
	if c.Mode() != wfmodel.ModeDefault {
		t.Fatalf("expected Default mode after accept, got %v", c.Mode())
	}
	history := c.State().History
	if len(history) != 1 || history[0].Outcome != wfmodel.PlanAccepted {
		t.Fatalf("expected one accepted history entry, got %+v", history)
	}
}

func TestController_ExitPlanMode_RejectStaysInPlan(t *testing.T) {
	c := New(nil)
	c.EnterPlan()

	seed, err := c.ExitPlanMode("bad plan", ExitReject, "try again with X")
	if err != nil {
		t.Fatalf("ExitPlanMode: %v", err)
	}
	if seed != "try again with X" {
		t.Fatalf("expected seed to be the feedback, got %q", seed)
	}
	if c.Mode() != wfmodel.ModePlan {
		t.Fatalf("expected mode to remain Plan after reject, got %v", c.Mode())
	}
	history := c.State().History
	if len(history) != 1 || history[0].Outcome != wfmodel.PlanRejected {
		t.Fatalf("expected one rejected history entry, got %+v", history)
	}
}

func TestController_ExitPlanMode_AppendOnlyHistory(t *testing.T) {
	c := New(nil)
	c.EnterPlan()
	c.ExitPlanMode("plan A", ExitReject, "no")
	c.ExitPlanMode("plan B", ExitAcceptPlanOnly, "")

	history := c.State().History
	if len(history) != 2 {
		t.Fatalf("expected append-only history of length 2, got %d", len(history))
	}
	if history[0].Plan != "plan A" || history[1].Plan != "plan B" {
		t.Fatalf("expected history in submission order, got %+v", history)
	}
}

func TestController_ExitPlanMode_ErrorsOutsidePlanMode(t *testing.T) {
	c := New(nil)
	if _, err := c.ExitPlanMode("x", ExitAcceptAndExecute, ""); err == nil {
		t.Fatal("expected error calling ExitPlanMode outside Plan mode")
	}
}

func TestController_EffectivePolicy_AlwaysIncludesExitPlanMode(t *testing.T) {
	c := New(nil)
	c.EnterPlan()
	policy := c.EffectivePolicy(wfmodel.PermissionPolicy{})
	found := false
	for _, name := range policy.AlwaysAllow {
		if name == wfmodel.ExitPlanModeTool {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ExitPlanMode in always_allow, got %+v", policy.AlwaysAllow)
	}
}
