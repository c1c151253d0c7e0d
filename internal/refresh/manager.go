package refresh

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// DefaultMaxIdentities caps the controllers a manager keeps.
const DefaultMaxIdentities = 10_000

// Key identifies one controller.
type Key struct {
	Owner   common.Address
	ChainID uint64
}

type entry struct {
	c          *Controller
	lastAccess time.Time
	pinned     bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxIdentities bounds the number of tracked identities. When full, the
// least recently used unpinned controller is stopped to make room.
func WithMaxIdentities(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxIdentities = n
		}
	}
}

// Manager keeps one controller per (owner, chain), created on first use.
// Unpinned controllers can be evicted once idle or when the manager is full.
type Manager struct {
	base          context.Context
	loaders       map[uint64]Loader
	deps          Deps
	maxIdentities int
	now           func() time.Time

	mu      sync.Mutex
	entries map[Key]*entry
}

// NewManager creates a manager serving the chains in loaders.
func NewManager(base context.Context, loaders map[uint64]Loader, deps Deps, opts ...ManagerOption) *Manager {
	m := &Manager{
		base:          base,
		loaders:       loaders,
		deps:          deps,
		maxIdentities: DefaultMaxIdentities,
		now:           time.Now,
		entries:       make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the controller of owner on chainID, creating it and starting
// its first cycle when needed.
func (m *Manager) Get(owner common.Address, chainID uint64) (*Controller, error) {
	return m.get(owner, chainID, false)
}

// Pin is Get for identities that must stay tracked, such as a watch list.
// Pinned controllers are never evicted; Remove releases them.
func (m *Manager) Pin(owner common.Address, chainID uint64) (*Controller, error) {
	return m.get(owner, chainID, true)
}

func (m *Manager) get(owner common.Address, chainID uint64, pin bool) (*Controller, error) {
	loader, ok := m.loaders[chainID]
	if !ok {
		return nil, fmt.Errorf("refresh: chain %d: %w", chainID, domain.ErrUnknownChain)
	}
	key := Key{Owner: owner, ChainID: chainID}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[key]; ok {
		e.lastAccess = now
		e.pinned = e.pinned || pin
		return e.c, nil
	}
	if len(m.entries) >= m.maxIdentities {
		m.evictOldestLocked()
	}
	c := NewController(m.base, loader, m.deps)
	c.SetIdentity(owner, chainID)
	m.entries[key] = &entry{c: c, lastAccess: now, pinned: pin}
	return c, nil
}

// evictOldestLocked stops the least recently used unpinned controller. When
// every controller is pinned the manager grows past its cap.
func (m *Manager) evictOldestLocked() {
	var (
		oldest Key
		found  bool
		at     time.Time
	)
	for k, e := range m.entries {
		if e.pinned {
			continue
		}
		if !found || e.lastAccess.Before(at) {
			oldest, at, found = k, e.lastAccess, true
		}
	}
	if !found {
		return
	}
	m.entries[oldest].c.Stop()
	delete(m.entries, oldest)
}

// Lookup returns an existing controller without creating one.
func (m *Manager) Lookup(owner common.Address, chainID uint64) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[Key{Owner: owner, ChainID: chainID}]
	if !ok {
		return nil, false
	}
	e.lastAccess = m.now()
	return e.c, true
}

// EvictIdle stops and forgets every unpinned controller not accessed within
// idle. It returns the number evicted.
func (m *Manager) EvictIdle(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-idle)
	n := 0
	for k, e := range m.entries {
		if e.pinned || !e.lastAccess.Before(cutoff) {
			continue
		}
		e.c.Stop()
		delete(m.entries, k)
		n++
	}
	return n
}

// Keys lists every tracked identity in a stable order.
func (m *Manager) Keys() []Key {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ChainID != keys[j].ChainID {
			return keys[i].ChainID < keys[j].ChainID
		}
		return keys[i].Owner.Cmp(keys[j].Owner) < 0
	})
	return keys
}

// Tracked returns the number of controllers.
func (m *Manager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RefetchAll re-triggers every tracked controller and returns how many
// started a cycle.
func (m *Manager) RefetchAll() int {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.entries))
	for _, e := range m.entries {
		controllers = append(controllers, e.c)
	}
	m.mu.Unlock()

	n := 0
	for _, c := range controllers {
		if _, err := c.Refetch(); err == nil {
			n++
		}
	}
	return n
}

// Stop cancels every running cycle.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		e.c.Stop()
	}
}

// Remove stops and forgets the controller of owner on chainID, pinned or not.
func (m *Manager) Remove(owner common.Address, chainID uint64) bool {
	key := Key{Owner: owner, ChainID: chainID}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	e.c.Stop()
	delete(m.entries, key)
	return true
}
