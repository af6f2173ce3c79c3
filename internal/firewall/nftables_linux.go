//go:build linux

package firewall

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	"grimm.is/turnstile/internal/access"
)

// UserData tags identifying the rules this driver owns.
const (
	tagPolicyOpen = "turnstile:policy-open"
	tagAllowSet   = "turnstile:allow-set"
	tagLANDrop    = "turnstile:lan-drop"
)

// NFTablesDriver implements Driver over netlink. Per-device grants are
// elements of an ether_addr set; the global policy is a tagged rule
// inserted ahead of the LAN drop.
type NFTablesDriver struct {
	mu        sync.Mutex
	conn      NFTablesConn
	sys       SystemController
	table     *nftables.Table
	set       *nftables.Set
	chainName string
	lan       string
	wan       string
}

// NewNFTablesDriver opens a netlink connection.
func NewNFTablesDriver(opts Options) (*NFTablesDriver, error) {
	c, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("nftables: %w", err)
	}
	return NewNFTablesDriverWithConn(NewRealNFTablesConn(c), opts), nil
}

// NewNFTablesDriverWithConn builds a driver on an existing connection.
func NewNFTablesDriverWithConn(conn NFTablesConn, opts Options) *NFTablesDriver {
	sys := opts.System
	if sys == nil {
		sys = DefaultSystemController
	}
	table := &nftables.Table{Name: opts.Table, Family: nftables.TableFamilyINet}
	return &NFTablesDriver{
		conn:      conn,
		sys:       sys,
		table:     table,
		set:       &nftables.Set{Table: table, Name: opts.Set, KeyType: nftables.TypeEtherAddr},
		chainName: opts.Chain,
		lan:       opts.LANInterface,
		wan:       opts.WANInterface,
	}
}

func (d *NFTablesDriver) chain() *nftables.Chain {
	return &nftables.Chain{Name: d.chainName, Table: d.table}
}

func pad(s string) []byte {
	b := make([]byte, 16)
	copy(b, s)
	return b
}

func (d *NFTablesDriver) matchLAN() []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: pad(d.lan)},
	}
}

// Install recreates the table: empty MAC set, forward chain, set lookup
// rule and LAN drop. Existing grants are re-added by the next Reconcile.
func (d *NFTablesDriver) Install(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.conn.DelTable(d.table)
	_ = d.conn.Flush()

	d.conn.AddTable(d.table)
	if err := d.conn.AddSet(d.set, nil); err != nil {
		return fmt.Errorf("add set %s: %w", d.set.Name, err)
	}

	policy := nftables.ChainPolicyAccept
	chain := d.conn.AddChain(&nftables.Chain{
		Name:     d.chainName,
		Table:    d.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})

	allow := append(d.matchLAN(),
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseLLHeader, Offset: 6, Len: 6},
		&expr.Lookup{SourceRegister: 1, SetName: d.set.Name, SetID: d.set.ID},
		&expr.Verdict{Kind: expr.VerdictAccept},
	)
	d.conn.AddRule(&nftables.Rule{Table: d.table, Chain: chain, Exprs: allow, UserData: []byte(tagAllowSet)})

	drop := append(d.matchLAN(), &expr.Counter{}, &expr.Verdict{Kind: expr.VerdictDrop})
	d.conn.AddRule(&nftables.Rule{Table: d.table, Chain: chain, Exprs: drop, UserData: []byte(tagLANDrop)})

	if err := d.conn.Flush(); err != nil {
		return fmt.Errorf("install table %s: %w", d.table.Name, err)
	}
	return nil
}

func element(mac access.MAC) (nftables.SetElement, error) {
	hw, err := net.ParseMAC(string(mac))
	if err != nil {
		return nftables.SetElement{}, err
	}
	return nftables.SetElement{Key: []byte(hw)}, nil
}

func (d *NFTablesDriver) AddRule(_ context.Context, t Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.IsPolicy() {
		exprs := append(d.matchLAN(), &expr.Verdict{Kind: expr.VerdictAccept})
		d.conn.InsertRule(&nftables.Rule{
			Table:    d.table,
			Chain:    d.chain(),
			Exprs:    exprs,
			UserData: []byte(tagPolicyOpen),
		})
		return d.conn.Flush()
	}

	el, err := element(t.MAC)
	if err != nil {
		return err
	}
	if err := d.conn.SetAddElements(d.set, []nftables.SetElement{el}); err != nil {
		return err
	}
	return d.conn.Flush()
}

func (d *NFTablesDriver) RemoveRule(_ context.Context, t Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.IsPolicy() {
		rule, err := d.findRule(tagPolicyOpen)
		if err != nil || rule == nil {
			return err
		}
		if err := d.conn.DelRule(rule); err != nil {
			return err
		}
		return d.conn.Flush()
	}

	el, err := element(t.MAC)
	if err != nil {
		return err
	}
	if err := d.conn.SetDeleteElements(d.set, []nftables.SetElement{el}); err != nil {
		return err
	}
	return d.conn.Flush()
}

func (d *NFTablesDriver) HasRule(_ context.Context, t Target) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.IsPolicy() {
		rule, err := d.findRule(tagPolicyOpen)
		return rule != nil, err
	}

	el, err := element(t.MAC)
	if err != nil {
		return false, err
	}
	elems, err := d.conn.GetSetElements(d.set)
	if err != nil {
		return false, err
	}
	for _, e := range elems {
		if bytes.Equal(e.Key, el.Key) {
			return true, nil
		}
	}
	return false, nil
}

// ListRules implements RuleLister.
func (d *NFTablesDriver) ListRules(context.Context) ([]Target, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Target
	rule, err := d.findRule(tagPolicyOpen)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		out = append(out, PolicyTarget)
	}

	elems, err := d.conn.GetSetElements(d.set)
	if err != nil {
		return nil, err
	}
	for _, e := range elems {
		if len(e.Key) < 6 {
			continue
		}
		out = append(out, MACTarget(access.MAC(net.HardwareAddr(e.Key[:6]).String())))
	}
	sortTargets(out)
	return out, nil
}

// DefaultDeny implements DefaultDenyReporter: true when the LAN drop rule
// is installed.
func (d *NFTablesDriver) DefaultDeny(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rule, err := d.findRule(tagLANDrop)
	return rule != nil, err
}

func (d *NFTablesDriver) ForwardingEnabled(context.Context) (bool, error) {
	return forwardingEnabled(d.sys)
}

// NatConfigured looks for a masquerade rule in any nat postrouting chain.
// With a WAN interface configured the rule must either match that oifname
// or match no output interface at all.
func (d *NFTablesDriver) NatConfigured(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	chains, err := d.conn.ListChains()
	if err != nil {
		return false, err
	}
	for _, c := range chains {
		if c.Type != nftables.ChainTypeNAT || c.Hooknum == nil || *c.Hooknum != *nftables.ChainHookPostrouting {
			continue
		}
		rules, err := d.conn.GetRules(c.Table, c)
		if err != nil {
			return false, err
		}
		for _, r := range rules {
			if masqueradesWAN(r, d.wan) {
				return true, nil
			}
		}
	}
	return false, nil
}

func masqueradesWAN(r *nftables.Rule, wan string) bool {
	masq := false
	oif := ""
	var lastMeta expr.MetaKey
	for _, e := range r.Exprs {
		switch v := e.(type) {
		case *expr.Masq:
			masq = true
		case *expr.Target:
			// iptables-nft compat target
			if v.Name == "MASQUERADE" {
				masq = true
			}
		case *expr.Meta:
			lastMeta = v.Key
		case *expr.Cmp:
			if lastMeta == expr.MetaKeyOIFNAME && v.Op == expr.CmpOpEq {
				oif = strings.TrimRight(string(v.Data), "\x00")
			}
			lastMeta = 0
		}
	}
	if !masq {
		return false
	}
	return wan == "" || oif == "" || oif == wan
}

// findRule returns the chain rule carrying tag, or nil. Must hold d.mu.
func (d *NFTablesDriver) findRule(tag string) (*nftables.Rule, error) {
	rules, err := d.conn.GetRules(d.table, d.chain())
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if string(r.UserData) == tag {
			return r, nil
		}
	}
	return nil, nil
}
