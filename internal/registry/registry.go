// Package registry implements the Tool Registry & Permission Gate (spec
// §4.C): an O(1) name→tool lookup built once at startup and extended at
// runtime (never shrunk), plus the six-step permission resolution order
// over a tool's declared metadata, the active Plan-Mode state, and
// per-session grants.
//
// Grounded on internal/agent/tool_registry.go's name→Tool map and
// internal/agent/approval.go's ApprovalChecker.Check resolution order,
// adapted from its ad hoc ApprovalDecision/ApprovalPolicy types onto
// wfmodel's closed Decision/DenyReason/PermissionPolicy enums.
package registry

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// Registry is the name→ToolSpec map described in spec §4.C. It is safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]wfmodel.ToolSpec
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{specs: make(map[string]wfmodel.ToolSpec)}
}

// Register adds or replaces a tool's spec. Registration is additive: the
// registry never removes an entry on its own (spec §4.C: "extendable at
// runtime but not removable").
func (r *Registry) Register(spec wfmodel.ToolSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// Get looks up a tool spec by name in O(1).
func (r *Registry) Get(name string) (wfmodel.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// All returns every registered tool spec.
func (r *Registry) All() []wfmodel.ToolSpec {
	return r.filter(func(wfmodel.ToolSpec) bool { return true })
}

// ReadOnly returns only the read-only tool specs.
func (r *Registry) ReadOnly() []wfmodel.ToolSpec {
	return r.filter(func(s wfmodel.ToolSpec) bool { return s.IsReadOnly })
}

// ConcurrencySafe returns only the concurrency-safe tool specs.
func (r *Registry) ConcurrencySafe() []wfmodel.ToolSpec {
	return r.filter(func(s wfmodel.ToolSpec) bool { return s.IsConcurrencySafe })
}

// ByCategory returns only the tool specs in the given category.
func (r *Registry) ByCategory(cat wfmodel.ToolCategory) []wfmodel.ToolSpec {
	return r.filter(func(s wfmodel.ToolSpec) bool { return s.Category == cat })
}

func (r *Registry) filter(pred func(wfmodel.ToolSpec) bool) []wfmodel.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wfmodel.ToolSpec, 0, len(r.specs))
	for _, s := range r.specs {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

// Verdict is the permission gate's decision plus the deny/prompt reason.
type Verdict struct {
	Decision wfmodel.Decision
	Reason   wfmodel.DenyReason
}

// allow/deny/prompt construct the three possible verdicts.
func allow() Verdict  { return Verdict{Decision: wfmodel.DecisionAllow} }
func prompt() Verdict { return Verdict{Decision: wfmodel.DecisionPrompt} }
func deny(reason wfmodel.DenyReason) Verdict {
	return Verdict{Decision: wfmodel.DecisionDeny, Reason: reason}
}

// toolStats is the per-tool session usage counter (SPEC_FULL.md §D.2
// "session usage stats").
type toolStats struct {
	count   int
	lastUse time.Time
}

// grantCounts tallies active grants by kind.
type grantCounts map[wfmodel.GrantKind]int

// Gate implements spec §4.C's permission gate over a Registry.
type Gate struct {
	registry *Registry

	mu      sync.Mutex
	grants  map[string][]wfmodel.SessionGrant
	stats   map[string]*toolStats
	safeMode bool
}

// NewGate returns a permission gate backed by registry.
func NewGate(registry *Registry) *Gate {
	return &Gate{
		registry: registry,
		grants:   make(map[string][]wfmodel.SessionGrant),
		stats:    make(map[string]*toolStats),
	}
}

// SetSafeMode toggles the safe-mode restriction consulted at resolution
// step 2.
func (g *Gate) SetSafeMode(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.safeMode = on
}

// Check runs the spec §4.C six-step resolution order for one
// (tool_name, input, mode) tuple and records usage stats as a side
// effect on every non-deny-by-plan-mode call.
func (g *Gate) Check(toolName string, input json.RawMessage, mode wfmodel.Mode, policy wfmodel.PermissionPolicy) Verdict {
	spec, known := g.registry.Get(toolName)

	// Step 1: Plan mode restricts to read-only tools plus ExitPlanMode.
	if mode == wfmodel.ModePlan && toolName != wfmodel.ExitPlanModeTool {
		if !known || !spec.IsReadOnly {
			return deny(wfmodel.ReasonPlanModeRestriction)
		}
	}

	g.mu.Lock()
	safeMode := g.safeMode
	g.mu.Unlock()

	// Step 2: safe mode restricts to read-only tools.
	if safeMode && (!known || !spec.IsReadOnly) {
		return deny(wfmodel.ReasonSafeModeRestriction)
	}

	// Step 3: mode's always_deny.
	if matchesAny(toolName, policy.AlwaysDeny) {
		return deny(wfmodel.ReasonAlwaysDeny)
	}

	// Step 4: non-expired session grant matching the input predicate.
	if g.hasMatchingGrant(toolName, input) {
		g.recordUsage(toolName)
		return allow()
	}

	// Step 5: mode's always_allow.
	if matchesAny(toolName, policy.AlwaysAllow) {
		g.recordUsage(toolName)
		return allow()
	}

	// Step 6: default to prompt.
	return prompt()
}

// Grant records a session grant, e.g. after the user resolves a prompt
// with allow_once/allow_session/allow_always (spec §4.C "Prompt path").
func (g *Gate) Grant(toolName string, kind wfmodel.GrantKind, predicate wfmodel.InputPredicate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[toolName] = append(g.grants[toolName], wfmodel.SessionGrant{
		ToolName:  toolName,
		Kind:      kind,
		GrantedAt: time.Now(),
		Predicate: predicate,
	})
}

// ClearNonPermanentGrants drops every grant except GrantPermanent (spec
// §4.D "Entering Plan clears all non-permanent grants").
func (g *Gate) ClearNonPermanentGrants() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, grants := range g.grants {
		kept := grants[:0]
		for _, grant := range grants {
			if grant.Kind == wfmodel.GrantPermanent {
				kept = append(kept, grant)
			}
		}
		if len(kept) == 0 {
			delete(g.grants, name)
		} else {
			g.grants[name] = kept
		}
	}
}

func (g *Gate) hasMatchingGrant(toolName string, input json.RawMessage) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	grants := g.grants[toolName]
	for i := 0; i < len(grants); i++ {
		grant := grants[i]
		if grant.Predicate != nil && !grant.Predicate(input) {
			continue
		}
		if grant.Kind == wfmodel.GrantOneTime {
			grants = append(grants[:i], grants[i+1:]...)
			g.grants[toolName] = grants
		}
		return true
	}
	return false
}

func (g *Gate) recordUsage(toolName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.stats[toolName]
	if !ok {
		s = &toolStats{}
		g.stats[toolName] = s
	}
	s.count++
	s.lastUse = time.Now()
}

// GrantCounts returns the number of active grants of each kind, across
// all tools (spec §4.C "grant counts by kind").
func (g *Gate) GrantCounts() grantCounts {
	g.mu.Lock()
	defer g.mu.Unlock()
	counts := grantCounts{}
	for _, grants := range g.grants {
		for _, grant := range grants {
			counts[grant.Kind]++
		}
	}
	return counts
}

// UsageCount returns how many times toolName has been allowed this
// session, and the last time it was used.
func (g *Gate) UsageCount(toolName string) (int, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.stats[toolName]
	if !ok {
		return 0, time.Time{}
	}
	return s.count, s.lastUse
}

// matchesAny reports whether name matches any pattern in patterns.
// Supports exact match, a trailing "*" wildcard-suffix match
// ("prefix*"), a leading "*" wildcard-prefix match ("*suffix"), and the
// literal "*" matching every tool name — the pattern language
// SPEC_FULL.md §D.1 keeps from internal/agent/approval.go's
// matchesPattern / internal/tools/policy's NormalizeTool.
func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchesPattern(name, pattern) {
			return true
		}
	}
	return false
}

func matchesPattern(name, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(name, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(name, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	return false
}
