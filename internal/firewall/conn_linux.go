//go:build linux

package firewall

import "github.com/google/nftables"

// NFTablesConn abstracts the nftables.Conn operations the driver uses, so
// tests can substitute MockNFTablesConn.
type NFTablesConn interface {
	AddTable(t *nftables.Table) *nftables.Table
	DelTable(t *nftables.Table)

	AddChain(c *nftables.Chain) *nftables.Chain
	ListChains() ([]*nftables.Chain, error)

	AddRule(r *nftables.Rule) *nftables.Rule
	InsertRule(r *nftables.Rule) *nftables.Rule
	DelRule(r *nftables.Rule) error
	GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error)

	AddSet(s *nftables.Set, vals []nftables.SetElement) error
	GetSetElements(s *nftables.Set) ([]nftables.SetElement, error)
	SetAddElements(s *nftables.Set, vals []nftables.SetElement) error
	SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error

	// Flush commits the queued batch.
	Flush() error
}

// RealNFTablesConn wraps the actual nftables.Conn.
type RealNFTablesConn struct {
	conn *nftables.Conn
}

// NewRealNFTablesConn creates a new RealNFTablesConn wrapping an nftables.Conn.
func NewRealNFTablesConn(conn *nftables.Conn) *RealNFTablesConn {
	return &RealNFTablesConn{conn: conn}
}

func (r *RealNFTablesConn) AddTable(t *nftables.Table) *nftables.Table { return r.conn.AddTable(t) }
func (r *RealNFTablesConn) DelTable(t *nftables.Table)                 { r.conn.DelTable(t) }
func (r *RealNFTablesConn) AddChain(c *nftables.Chain) *nftables.Chain { return r.conn.AddChain(c) }
func (r *RealNFTablesConn) ListChains() ([]*nftables.Chain, error)     { return r.conn.ListChains() }
func (r *RealNFTablesConn) AddRule(rule *nftables.Rule) *nftables.Rule { return r.conn.AddRule(rule) }
func (r *RealNFTablesConn) InsertRule(rule *nftables.Rule) *nftables.Rule {
	return r.conn.InsertRule(rule)
}
func (r *RealNFTablesConn) DelRule(rule *nftables.Rule) error { return r.conn.DelRule(rule) }

func (r *RealNFTablesConn) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	return r.conn.GetRules(t, c)
}

func (r *RealNFTablesConn) AddSet(s *nftables.Set, vals []nftables.SetElement) error {
	return r.conn.AddSet(s, vals)
}

func (r *RealNFTablesConn) GetSetElements(s *nftables.Set) ([]nftables.SetElement, error) {
	return r.conn.GetSetElements(s)
}

func (r *RealNFTablesConn) SetAddElements(s *nftables.Set, vals []nftables.SetElement) error {
	return r.conn.SetAddElements(s, vals)
}

func (r *RealNFTablesConn) SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error {
	return r.conn.SetDeleteElements(s, vals)
}

func (r *RealNFTablesConn) Flush() error { return r.conn.Flush() }
