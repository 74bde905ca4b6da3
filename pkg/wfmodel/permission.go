package wfmodel

import (
	"encoding/json"
	"time"
)

// GrantKind is how long a session grant remains valid (spec §3).
type GrantKind string

const (
	GrantOneTime   GrantKind = "one_time"
	GrantSession   GrantKind = "session"
	GrantPermanent GrantKind = "permanent"
)

// InputPredicate optionally narrows a grant to inputs matching a condition
// (e.g. a grant for Bash scoped to a specific command prefix). A nil
// predicate matches any input.
type InputPredicate func(input json.RawMessage) bool

// SessionGrant records a standing permission decision for a tool.
type SessionGrant struct {
	ToolName  string
	Kind      GrantKind
	GrantedAt time.Time
	Predicate InputPredicate
}

// Mode names the operating mode a PermissionPolicy applies to.
type Mode string

const (
	ModeDefault Mode = "default"
	ModePlan    Mode = "plan"
)

// PermissionPolicy is the per-mode tool allow/deny/prompt configuration
// (spec §3, §4.C).
type PermissionPolicy struct {
	AlwaysAllow []string
	AlwaysDeny  []string
	Prompt      []string
}

// Decision is the permission gate's verdict for one (tool, input, mode,
// safe_mode) tuple.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionDeny   Decision = "deny"
	DecisionPrompt Decision = "prompt"
)

// DenyReason enumerates why the gate denied a call (spec §4.C resolution
// order).
type DenyReason string

const (
	ReasonPlanModeRestriction DenyReason = "plan_mode_restriction"
	ReasonSafeModeRestriction DenyReason = "safe_mode_restriction"
	ReasonAlwaysDeny          DenyReason = "always_deny"
)
