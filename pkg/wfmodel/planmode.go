package wfmodel

import "time"

// PlanEntryOutcome records what happened to a proposed plan (spec §4.D).
type PlanEntryOutcome string

const (
	PlanAccepted         PlanEntryOutcome = "accepted_and_executed"
	PlanAcceptedPlanOnly PlanEntryOutcome = "accepted_plan_only"
	PlanRejected         PlanEntryOutcome = "rejected"
)

// PlanHistoryEntry is one append-only record of a submitted plan and its
// resolution.
type PlanHistoryEntry struct {
	Plan      string
	Outcome   PlanEntryOutcome
	Feedback  string // set when Outcome == PlanRejected
	Timestamp time.Time
}

// PlanModeState is the Plan-Mode Controller's state (spec §3, §4.D).
//
// Invariant: the only way `Active` transitions from true to false is a
// user-confirmed ExitPlanMode outcome (accept_and_execute or
// accept_plan_only) or an explicit hard reset; History is append-only.
type PlanModeState struct {
	Active      bool
	EnteredAt   time.Time
	History     []PlanHistoryEntry
	PendingPlan string
}
