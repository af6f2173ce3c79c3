// Package grant holds the in-memory table of per-device admission grants.
//
// The Store is the single source of truth for which devices should have
// access and until when. Every transition is checked and applied under one
// lock, so per-MAC operations are totally ordered. The Store never touches
// the firewall.
package grant

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/logging"
)

// Persister receives every grant after it changes. The state package's
// GrantBucket satisfies it.
type Persister interface {
	Put(g access.Grant) error
	Delete(mac access.MAC) error
}

// Store is the grant table. The zero value is not usable; call NewStore.
type Store struct {
	mu      sync.Mutex
	grants  map[access.MAC]*access.Grant
	clock   clock.Clock
	persist Persister
	logger  *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for GrantedAt and ExpiresAt.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithPersister mirrors live grants into p. Terminal grants are deleted
// from p; their record lives on in history.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		grants: make(map[access.MAC]*access.Grant),
		clock:  &clock.RealClock{},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrDefault(s.logger, "grants")
	return s
}

// TryInsert creates a Pending grant for mac lasting minutes. It fails with
// InvalidMac for a malformed address, BulkAccessDenied for a bulk token,
// InvalidDuration for minutes < 1, and AlreadyActive when mac already holds
// a Pending or Active grant.
func (s *Store) TryInsert(mac string, minutes int) (access.Grant, error) {
	m, err := access.ParseMAC(mac)
	if err != nil {
		return access.Grant{}, err
	}
	if minutes < 1 {
		return access.Grant{}, access.Errorf(access.KindInvalidDuration, m,
			"duration must be a positive number of minutes, got %d", minutes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.grants[m]; ok && existing.State.Live() {
		return access.Grant{}, access.Errorf(access.KindAlreadyActive, m,
			"device %s already has access until %s", m, existing.ExpiresAt.Format(time.RFC3339))
	}

	now := s.clock.Now()
	g := &access.Grant{
		ID:              uuid.NewString(),
		MAC:             m,
		GrantedAt:       now,
		ExpiresAt:       now.Add(time.Duration(minutes) * time.Minute),
		DurationMinutes: minutes,
		State:           access.StatePending,
	}
	s.grants[m] = g
	s.save(g)
	return *g, nil
}

// MarkActive moves mac's grant from Pending to Active.
func (s *Store) MarkActive(mac access.MAC) (access.Grant, error) {
	return s.transition(mac, access.StateActive)
}

// MarkExpired moves mac's grant from Active to Expired.
func (s *Store) MarkExpired(mac access.MAC) (access.Grant, error) {
	return s.transition(mac, access.StateExpired)
}

// MarkRevoked moves mac's grant from Pending or Active to Revoked.
func (s *Store) MarkRevoked(mac access.MAC) (access.Grant, error) {
	return s.transition(mac, access.StateRevoked)
}

func (s *Store) transition(mac access.MAC, to access.State) (access.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[mac]
	if !ok {
		return access.Grant{}, access.Errorf(access.KindNotFound, mac, "no grant for %s", mac)
	}
	if !access.CanTransition(g.State, to) {
		return *g, access.Errorf(access.KindInvalidTransition, mac,
			"cannot move grant for %s from %s to %s", mac, g.State, to)
	}

	g.State = to
	if to.Terminal() {
		g.EndedAt = s.clock.Now()
	}
	s.save(g)
	return *g, nil
}

// Annotate records the device's IP and hostname on its current grant.
func (s *Store) Annotate(mac access.MAC, ip, hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.grants[mac]; ok {
		g.IP = ip
		g.Hostname = hostname
		s.save(g)
	}
}

// Get returns the latest grant for mac, whatever its state.
func (s *Store) Get(mac access.MAC) (access.Grant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[mac]
	if !ok {
		return access.Grant{}, false
	}
	return *g, true
}

// List returns a snapshot of every grant ordered by GrantedAt ascending.
func (s *Store) List() []access.Grant {
	s.mu.Lock()
	out := make([]access.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, *g)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].MAC < out[j].MAC
		}
		return out[i].GrantedAt.Before(out[j].GrantedAt)
	})
	return out
}

// Live returns the MACs whose grant is Pending or Active.
func (s *Store) Live() []access.MAC {
	s.mu.Lock()
	defer s.mu.Unlock()

	var macs []access.MAC
	for mac, g := range s.grants {
		if g.State.Live() {
			macs = append(macs, mac)
		}
	}
	sort.Slice(macs, func(i, j int) bool { return macs[i] < macs[j] })
	return macs
}

// CountActive returns the number of Active grants.
func (s *Store) CountActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, g := range s.grants {
		if g.State == access.StateActive {
			n++
		}
	}
	return n
}

// Load replaces the table with previously persisted grants. It does not
// write back to the persister.
func (s *Store) Load(grants []access.Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.grants = make(map[access.MAC]*access.Grant, len(grants))
	for i := range grants {
		g := grants[i]
		if prev, ok := s.grants[g.MAC]; ok && prev.GrantedAt.After(g.GrantedAt) {
			continue
		}
		s.grants[g.MAC] = &g
	}
}

// Prune forgets terminal grants that ended before cutoff.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for mac, g := range s.grants {
		if g.State.Terminal() && g.EndedAt.Before(cutoff) {
			delete(s.grants, mac)
			n++
		}
	}
	return n
}

// save mirrors g into the persister. Must hold s.mu.
func (s *Store) save(g *access.Grant) {
	if s.persist == nil {
		return
	}
	var err error
	if g.State.Terminal() {
		err = s.persist.Delete(g.MAC)
	} else {
		err = s.persist.Put(*g)
	}
	if err != nil {
		s.logger.Warn("failed to persist grant", "mac", g.MAC, "state", g.State, "error", err)
	}
}
