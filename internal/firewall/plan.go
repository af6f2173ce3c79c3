package firewall

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/turnstile/internal/access"
)

// Plan is what the next Reconcile would do, computed without mutating.
type Plan struct {
	Mode      access.Mode            `json:"mode"`
	Current   []Target               `json:"current"`
	Desired   []Target               `json:"desired"`
	Add       []Target               `json:"add,omitempty"`
	Remove    []Target               `json:"remove,omitempty"`
	Preflight access.PreflightResult `json:"preflight"`
}

// Empty reports whether the plan needs no mutation.
func (p Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Remove) == 0
}

// Plan computes the diff between applied and desired state. When the driver
// can list its rules the live table is used as the current state instead.
func (s *Synchronizer) Plan(ctx context.Context, macs []access.MAC, policy access.Policy) (Plan, error) {
	p := Plan{Mode: s.mode, Desired: s.Desired(macs, policy)}

	if lister, ok := s.driver.(RuleLister); ok {
		live, err := lister.ListRules(ctx)
		if err != nil {
			return p, access.Wrap(access.KindFirewallTransportError, "", err, "list rules")
		}
		sortTargets(live)
		p.Current = live
	} else {
		p.Current = s.Applied()
	}

	cur := make(map[Target]bool, len(p.Current))
	for _, t := range p.Current {
		cur[t] = true
	}
	want := make(map[Target]bool, len(p.Desired))
	for _, t := range p.Desired {
		want[t] = true
		if !cur[t] {
			p.Add = append(p.Add, t)
		}
	}
	for _, t := range p.Current {
		if !want[t] {
			p.Remove = append(p.Remove, t)
		}
	}

	res, err := s.preflight.Check(ctx)
	if err != nil {
		return p, access.Wrap(access.KindFirewallTransportError, "", err, "preflight")
	}
	p.Preflight = res
	return p, nil
}

// ruleLine renders a target the way an operator reads the rule.
func ruleLine(t Target) string {
	if t.IsPolicy() {
		return "accept all LAN forwarding (global policy open)"
	}
	return fmt.Sprintf("accept ether saddr %s", t.MAC)
}

func ruleLines(ts []Target) []string {
	lines := make([]string, 0, len(ts))
	for _, t := range ts {
		lines = append(lines, ruleLine(t)+"\n")
	}
	return lines
}

// RenderPlan returns a unified diff from current to desired rules.
func RenderPlan(p Plan) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        ruleLines(p.Current),
		B:        ruleLines(p.Desired),
		FromFile: "current",
		ToFile:   "desired",
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("diff failed: %v\n", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "mode: %s\npreflight: %s\n", p.Mode, p.Preflight)
	if diff == "" {
		b.WriteString("no changes\n")
		return b.String()
	}
	b.WriteString(diff)
	return b.String()
}
