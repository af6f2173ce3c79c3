//go:build linux

package firewall

import (
	"bytes"
	"strings"
	"sync"

	"github.com/google/nftables"
	"github.com/stretchr/testify/mock"
)

// MockNFTablesConn is a testify mock of NFTablesConn that also keeps the
// tables, rules and set elements it is given, so reads reflect writes.
// A read expectation returning a non-nil value overrides the in-memory view.
type MockNFTablesConn struct {
	mock.Mock
	mu sync.Mutex

	tables     map[string]*nftables.Table
	chains     map[string]*nftables.Chain
	rules      map[string][]*nftables.Rule
	elements   map[string][]nftables.SetElement
	nextHandle uint64
}

// NewMockNFTablesConn creates a new mock nftables connection.
func NewMockNFTablesConn() *MockNFTablesConn {
	return &MockNFTablesConn{
		tables:   make(map[string]*nftables.Table),
		chains:   make(map[string]*nftables.Chain),
		rules:    make(map[string][]*nftables.Rule),
		elements: make(map[string][]nftables.SetElement),
	}
}

func chainKey(t *nftables.Table, c *nftables.Chain) string {
	return t.Name + "/" + c.Name
}

func (m *MockNFTablesConn) AddTable(t *nftables.Table) *nftables.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	m.tables[t.Name] = t
	return t
}

func (m *MockNFTablesConn) DelTable(t *nftables.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	delete(m.tables, t.Name)
	for k := range m.rules {
		if strings.HasPrefix(k, t.Name+"/") {
			delete(m.rules, k)
		}
	}
}

func (m *MockNFTablesConn) AddChain(c *nftables.Chain) *nftables.Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(c)
	m.chains[chainKey(c.Table, c)] = c
	return c
}

func (m *MockNFTablesConn) ListChains() ([]*nftables.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Chain), args.Error(1)
	}
	chains := make([]*nftables.Chain, 0, len(m.chains))
	for _, c := range m.chains {
		chains = append(chains, c)
	}
	return chains, args.Error(1)
}

func (m *MockNFTablesConn) AddRule(r *nftables.Rule) *nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(r)
	m.nextHandle++
	r.Handle = m.nextHandle
	key := chainKey(r.Table, r.Chain)
	m.rules[key] = append(m.rules[key], r)
	return r
}

func (m *MockNFTablesConn) InsertRule(r *nftables.Rule) *nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(r)
	m.nextHandle++
	r.Handle = m.nextHandle
	key := chainKey(r.Table, r.Chain)
	m.rules[key] = append([]*nftables.Rule{r}, m.rules[key]...)
	return r
}

func (m *MockNFTablesConn) DelRule(r *nftables.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(r)
	if err := args.Error(0); err != nil {
		return err
	}
	key := chainKey(r.Table, r.Chain)
	kept := m.rules[key][:0]
	for _, x := range m.rules[key] {
		if x.Handle != r.Handle {
			kept = append(kept, x)
		}
	}
	m.rules[key] = kept
	return nil
}

func (m *MockNFTablesConn) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(t, c)
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Rule), args.Error(1)
	}
	return append([]*nftables.Rule(nil), m.rules[chainKey(t, c)]...), args.Error(1)
}

func (m *MockNFTablesConn) AddSet(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	if s.ID == 0 {
		s.ID = 1
	}
	m.elements[s.Name] = append([]nftables.SetElement(nil), vals...)
	return args.Error(0)
}

func (m *MockNFTablesConn) GetSetElements(s *nftables.Set) ([]nftables.SetElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s)
	if args.Get(0) != nil {
		return args.Get(0).([]nftables.SetElement), args.Error(1)
	}
	return append([]nftables.SetElement(nil), m.elements[s.Name]...), args.Error(1)
}

func (m *MockNFTablesConn) SetAddElements(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	if err := args.Error(0); err != nil {
		return err
	}
	m.elements[s.Name] = append(m.elements[s.Name], vals...)
	return nil
}

func (m *MockNFTablesConn) SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	if err := args.Error(0); err != nil {
		return err
	}
	kept := m.elements[s.Name][:0]
	for _, e := range m.elements[s.Name] {
		drop := false
		for _, v := range vals {
			if bytes.Equal(e.Key, v.Key) {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, e)
		}
	}
	m.elements[s.Name] = kept
	return nil
}

func (m *MockNFTablesConn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	return args.Error(0)
}

// RuleCount returns the number of rules held for table/chain.
func (m *MockNFTablesConn) RuleCount(table, chain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rules[table+"/"+chain])
}
