package registry

import (
	"testing"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

func readOnlySpec(name string) wfmodel.ToolSpec {
	return wfmodel.ToolSpec{Name: name, IsReadOnly: true, IsConcurrencySafe: true}
}

func writeSpec(name string) wfmodel.ToolSpec {
	return wfmodel.ToolSpec{Name: name}
}

func TestRegistry_LookupAndViews(t *testing.T) {
	r := New()
	r.Register(readOnlySpec("read"))
	r.Register(writeSpec("exec"))

	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing tool to be absent")
	}
	if spec, ok := r.Get("read"); !ok || !spec.IsReadOnly {
		t.Fatalf("expected read tool to be read-only, got %+v ok=%v", spec, ok)
	}
	if got := len(r.ReadOnly()); got != 1 {
		t.Fatalf("expected 1 read-only tool, got %d", got)
	}
	if got := len(r.All()); got != 2 {
		t.Fatalf("expected 2 registered tools, got %d", got)
	}
}

func TestGate_PlanModeRestrictsToReadOnly(t *testing.T) {
	r := New()
	r.Register(readOnlySpec("read"))
	r.Register(writeSpec("exec"))
	g := NewGate(r)

	if v := g.Check("exec", nil, wfmodel.ModePlan, wfmodel.PermissionPolicy{}); v.Decision != wfmodel.DecisionDeny || v.Reason != wfmodel.ReasonPlanModeRestriction {
		t.Fatalf("expected plan_mode_restriction deny, got %+v", v)
	}
	if v := g.Check("read", nil, wfmodel.ModePlan, wfmodel.PermissionPolicy{}); v.Decision == wfmodel.DecisionDeny {
		t.Fatalf("expected read-only tool to pass plan mode gate, got %+v", v)
	}
	if v := g.Check(wfmodel.ExitPlanModeTool, nil, wfmodel.ModePlan, wfmodel.PermissionPolicy{}); v.Decision == wfmodel.DecisionDeny {
		t.Fatalf("expected ExitPlanMode to pass plan mode gate, got %+v", v)
	}
}

func TestGate_SafeModeRestrictsToReadOnly(t *testing.T) {
	r := New()
	r.Register(readOnlySpec("read"))
	r.Register(writeSpec("exec"))
	g := NewGate(r)
	g.SetSafeMode(true)

	if v := g.Check("exec", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}); v.Decision != wfmodel.DecisionDeny || v.Reason != wfmodel.ReasonSafeModeRestriction {
		t.Fatalf("expected safe_mode_restriction deny, got %+v", v)
	}
}

func TestGate_AlwaysDenyBeatsAlwaysAllow(t *testing.T) {
	r := New()
	r.Register(writeSpec("exec"))
	g := NewGate(r)
	policy := wfmodel.PermissionPolicy{AlwaysAllow: []string{"exec"}, AlwaysDeny: []string{"exec"}}

	if v := g.Check("exec", nil, wfmodel.ModeDefault, policy); v.Decision != wfmodel.DecisionDeny || v.Reason != wfmodel.ReasonAlwaysDeny {
		t.Fatalf("expected always_deny to win, got %+v", v)
	}
}

func TestGate_SessionGrantBeatsAlwaysAllowAbsence(t *testing.T) {
	r := New()
	r.Register(writeSpec("exec"))
	g := NewGate(r)

	if v := g.Check("exec", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}); v.Decision != wfmodel.DecisionPrompt {
		t.Fatalf("expected prompt by default, got %+v", v)
	}
	g.Grant("exec", wfmodel.GrantSession, nil)
	if v := g.Check("exec", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}); v.Decision != wfmodel.DecisionAllow {
		t.Fatalf("expected session grant to allow, got %+v", v)
	}
}

func TestGate_OneTimeGrantConsumedAfterUse(t *testing.T) {
	r := New()
	r.Register(writeSpec("exec"))
	g := NewGate(r)
	g.Grant("exec", wfmodel.GrantOneTime, nil)

	if v := g.Check("exec", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}); v.Decision != wfmodel.DecisionAllow {
		t.Fatalf("expected first use to be allowed, got %+v", v)
	}
	if v := g.Check("exec", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}); v.Decision != wfmodel.DecisionPrompt {
		t.Fatalf("expected one_time grant to be consumed, got %+v", v)
	}
}

func TestGate_ClearNonPermanentGrantsKeepsPermanent(t *testing.T) {
	r := New()
	r.Register(writeSpec("exec"))
	r.Register(writeSpec("other"))
	g := NewGate(r)
	g.Grant("exec", wfmodel.GrantSession, nil)
	g.Grant("other", wfmodel.GrantPermanent, nil)

	g.ClearNonPermanentGrants()

	if v := g.Check("exec", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}); v.Decision != wfmodel.DecisionPrompt {
		t.Fatalf("expected session grant to be cleared, got %+v", v)
	}
	if v := g.Check("other", nil, wfmodel.ModeDefault, wfmodel.PermissionPolicy{}); v.Decision != wfmodel.DecisionAllow {
		t.Fatalf("expected permanent grant to survive, got %+v", v)
	}
}

func TestMatchesPattern_Wildcards(t *testing.T) {
	cases := []struct {
		name, pattern string
		want          bool
	}{
		{"mcp:search", "mcp:*", true},
		{"read_file", "read_*", true},
		{"anything", "*", true},
		{"web_search", "*_search", true},
		{"exec", "read_*", false},
	}
	for _, c := range cases {
		if got := matchesPattern(c.name, c.pattern); got != c.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", c.name, c.pattern, got, c.want)
		}
	}
}
