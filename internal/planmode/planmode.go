// Package planmode implements the Plan-Mode Controller (spec §4.D): a
// two-state machine (Default/Plan) that narrows the effective permission
// policy while active and mediates the three-way ExitPlanMode
// confirmation (accept_and_execute, accept_plan_only, reject).
//
// Grounded on internal/agent/approval.go's policy-override idiom (a mode
// narrows the active PermissionPolicy rather than the registry itself)
// and internal/agent/steering.go's context-key propagation pattern,
// adapted onto wfmodel.PlanModeState.
package planmode

import (
	"fmt"
	"time"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// GrantClearer clears non-permanent session grants. internal/registry.Gate
// satisfies this.
type GrantClearer interface {
	ClearNonPermanentGrants()
}

// ExitOutcome is the user's resolution of a proposed plan.
type ExitOutcome string

const (
	ExitAcceptAndExecute ExitOutcome = "accept_and_execute"
	ExitAcceptPlanOnly   ExitOutcome = "accept_plan_only"
	ExitReject           ExitOutcome = "reject"
)

// Controller owns the Plan-Mode state machine for one session.
type Controller struct {
	state  wfmodel.PlanModeState
	grants GrantClearer
}

// New returns a controller starting in Default mode.
func New(grants GrantClearer) *Controller {
	return &Controller{grants: grants}
}

// Mode reports the controller's current operating mode.
func (c *Controller) Mode() wfmodel.Mode {
	if c.state.Active {
		return wfmodel.ModePlan
	}
	return wfmodel.ModeDefault
}

// State returns a copy of the controller's state for display/persistence.
func (c *Controller) State() wfmodel.PlanModeState {
	return c.state
}

// EnterPlan transitions Default → Plan (spec §4.D "Rules"): clears all
// non-permanent grants and records entry time. Entering Plan while
// already in Plan is a no-op.
func (c *Controller) EnterPlan() {
	if c.state.Active {
		return
	}
	c.state.Active = true
	c.state.EnteredAt = time.Now()
	if c.grants != nil {
		c.grants.ClearNonPermanentGrants()
	}
}

// ExitPlanMode resolves a proposed plan per spec §4.D. On reject, mode
// stays Plan and the plan is appended to history with a rejected marker
// and feedback; the next turn should be seeded with feedback (returned
// to the caller to thread into the orchestrator). On accept_*, mode
// transitions to Default and the accepted plan text is returned as the
// first user-visible instruction of the next turn.
func (c *Controller) ExitPlanMode(plan string, outcome ExitOutcome, feedback string) (nextTurnSeed string, err error) {
	if !c.state.Active {
		return "", fmt.Errorf("planmode: ExitPlanMode called while not in Plan mode")
	}

	switch outcome {
	case ExitReject:
		c.state.History = append(c.state.History, wfmodel.PlanHistoryEntry{
			Plan:      plan,
			Outcome:   wfmodel.PlanRejected,
			Feedback:  feedback,
			Timestamp: time.Now(),
		})
		c.state.PendingPlan = ""
		return feedback, nil

	case ExitAcceptAndExecute, ExitAcceptPlanOnly:
		planOutcome := wfmodel.PlanAcceptedPlanOnly
		if outcome == ExitAcceptAndExecute {
			planOutcome = wfmodel.PlanAccepted
		}
		c.state.History = append(c.state.History, wfmodel.PlanHistoryEntry{
			Plan:      plan,
			Outcome:   planOutcome,
			Timestamp: time.Now(),
		})
		c.state.Active = false
		c.state.PendingPlan = ""
		return plan, nil

	default:
		return "", fmt.Errorf("planmode: unknown ExitPlanMode outcome %q", outcome)
	}
}

// Reset hard-resets the controller to Default with empty history (spec
// §4.D invariant: "except for a hard reset").
func (c *Controller) Reset() {
	c.state = wfmodel.PlanModeState{}
}

// EffectivePolicy narrows base per spec §4.C rule 1: while in Plan mode,
// every tool is implicitly denied except ExitPlanMode and whatever the
// caller's registry marks read-only (enforced by the permission gate,
// not here) — this method only adds the always_allow entry ExitPlanMode
// requires so it survives even if the base policy omits it.
func (c *Controller) EffectivePolicy(base wfmodel.PermissionPolicy) wfmodel.PermissionPolicy {
	if !c.state.Active {
		return base
	}
	policy := base
	for _, name := range policy.AlwaysAllow {
		if name == wfmodel.ExitPlanModeTool {
			return policy
		}
	}
	policy.AlwaysAllow = append(append([]string(nil), policy.AlwaysAllow...), wfmodel.ExitPlanModeTool)
	return policy
}
