package firewall

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"

	"grimm.is/turnstile/internal/access"
)

// IPTablesDriver implements Driver by running iptables. It owns rules in
// the FORWARD chain of the filter table.
type IPTablesDriver struct {
	bin    string
	lan    string
	wan    string
	runner CommandRunner
	sys    SystemController
}

// NewIPTablesDriver builds the driver.
func NewIPTablesDriver(opts Options) *IPTablesDriver {
	bin := opts.IPTablesPath
	if bin == "" {
		bin = "iptables"
	}
	runner := opts.Runner
	if runner == nil {
		runner = DefaultCommandRunner
	}
	sys := opts.System
	if sys == nil {
		sys = DefaultSystemController
	}
	return &IPTablesDriver{bin: bin, lan: opts.LANInterface, wan: opts.WANInterface, runner: runner, sys: sys}
}

const policyComment = "turnstile-policy-open"

// ruleSpec is the match and verdict part of a FORWARD rule for t.
func (d *IPTablesDriver) ruleSpec(t Target) []string {
	if t.IsPolicy() {
		return []string{"-i", d.lan, "-m", "comment", "--comment", policyComment, "-j", "ACCEPT"}
	}
	return []string{"-i", d.lan, "-m", "mac", "--mac-source", string(t.MAC), "-j", "ACCEPT"}
}

func (d *IPTablesDriver) dropSpec() []string {
	return []string{"-i", d.lan, "-j", "DROP"}
}

func (d *IPTablesDriver) args(action string, spec []string, pos ...string) []string {
	a := append([]string{"-w", action, "FORWARD"}, pos...)
	return append(a, spec...)
}

// AddRule inserts at the head of FORWARD so it precedes the LAN drop.
func (d *IPTablesDriver) AddRule(ctx context.Context, t Target) error {
	return d.runner.Run(ctx, d.bin, d.args("-I", d.ruleSpec(t), "1")...)
}

func (d *IPTablesDriver) RemoveRule(ctx context.Context, t Target) error {
	return d.runner.Run(ctx, d.bin, d.args("-D", d.ruleSpec(t))...)
}

// HasRule uses -C. A non-zero exit means the rule is absent; failing to
// run iptables at all is an error.
func (d *IPTablesDriver) HasRule(ctx context.Context, t Target) (bool, error) {
	return d.check(ctx, d.ruleSpec(t))
}

func (d *IPTablesDriver) check(ctx context.Context, spec []string) (bool, error) {
	err := d.runner.Run(ctx, d.bin, d.args("-C", spec)...)
	if err == nil {
		return true, nil
	}
	if isExitError(err) {
		return false, nil
	}
	return false, err
}

// Install appends the LAN drop rule unless it is already there.
func (d *IPTablesDriver) Install(ctx context.Context) error {
	ok, err := d.check(ctx, d.dropSpec())
	if err != nil || ok {
		return err
	}
	return d.runner.Run(ctx, d.bin, d.args("-A", d.dropSpec())...)
}

func (d *IPTablesDriver) ForwardingEnabled(context.Context) (bool, error) {
	return forwardingEnabled(d.sys)
}

// NatConfigured scans nat POSTROUTING for a MASQUERADE rule on the WAN
// interface, or on any interface when none is configured.
func (d *IPTablesDriver) NatConfigured(ctx context.Context) (bool, error) {
	out, err := d.runner.Output(ctx, d.bin, "-w", "-t", "nat", "-S", "POSTROUTING")
	if err != nil {
		return false, fmt.Errorf("list nat POSTROUTING: %w", err)
	}
	for _, fields := range parseRuleLines(out) {
		if !hasPair(fields, "-j", "MASQUERADE") {
			continue
		}
		oif := valueOf(fields, "-o")
		if d.wan == "" || oif == "" || oif == d.wan {
			return true, nil
		}
	}
	return false, nil
}

// ListRules implements RuleLister by parsing "iptables -S FORWARD".
func (d *IPTablesDriver) ListRules(ctx context.Context) ([]Target, error) {
	out, err := d.runner.Output(ctx, d.bin, "-w", "-S", "FORWARD")
	if err != nil {
		return nil, fmt.Errorf("list FORWARD: %w", err)
	}
	var ts []Target
	for _, fields := range parseRuleLines(out) {
		if valueOf(fields, "-i") != d.lan || !hasPair(fields, "-j", "ACCEPT") {
			continue
		}
		if valueOf(fields, "--comment") == policyComment {
			ts = append(ts, PolicyTarget)
			continue
		}
		if src := valueOf(fields, "--mac-source"); src != "" {
			if hw, err := net.ParseMAC(src); err == nil {
				ts = append(ts, MACTarget(access.MAC(hw.String())))
			}
		}
	}
	sortTargets(ts)
	return ts, nil
}

// DefaultDeny implements DefaultDenyReporter: the FORWARD policy is DROP,
// or a DROP/REJECT rule for the LAN interface exists.
func (d *IPTablesDriver) DefaultDeny(ctx context.Context) (bool, error) {
	out, err := d.runner.Output(ctx, d.bin, "-w", "-S", "FORWARD")
	if err != nil {
		return false, fmt.Errorf("list FORWARD: %w", err)
	}
	for _, fields := range parseRuleLines(out) {
		if hasPair(fields, "-P", "FORWARD") && len(fields) >= 3 && fields[2] == "DROP" {
			return true, nil
		}
		if valueOf(fields, "-i") == d.lan && len(fields) == 6 &&
			(hasPair(fields, "-j", "DROP") || hasPair(fields, "-j", "REJECT")) {
			return true, nil
		}
	}
	return false, nil
}

// parseRuleLines splits "iptables -S" output into whitespace-separated fields,
// unquoting comment values.
func parseRuleLines(out []byte) [][]string {
	var lines [][]string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		for i, f := range fields {
			fields[i] = strings.Trim(f, `"`)
		}
		if len(fields) > 0 {
			lines = append(lines, fields)
		}
	}
	return lines
}

func valueOf(fields []string, flag string) string {
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == flag {
			return fields[i+1]
		}
	}
	return ""
}

func hasPair(fields []string, flag, value string) bool {
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == flag && fields[i+1] == value {
			return true
		}
	}
	return false
}
