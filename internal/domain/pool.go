package domain

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultDecimals is used for pools missing from the registry.
const DefaultDecimals uint8 = 18

// Pool is the static metadata of one lending pool.
type Pool struct {
	ID       uint64         `json:"id"`
	Name     string         `json:"name"`
	Ticker   string         `json:"ticker"`
	Decimals uint8          `json:"decimals"`
	Asset    common.Address `json:"asset"`
	LTVBps   uint16         `json:"ltv_bps"`
}

// PoolRegistry maps pool ids to their metadata. It is built once from
// configuration and never mutated afterwards.
type PoolRegistry struct {
	pools map[uint64]Pool
}

// NewPoolRegistry builds a registry, rejecting duplicate ids.
func NewPoolRegistry(pools []Pool) (*PoolRegistry, error) {
	r := &PoolRegistry{pools: make(map[uint64]Pool, len(pools))}
	for _, p := range pools {
		if _, dup := r.pools[p.ID]; dup {
			return nil, fmt.Errorf("pool registry: duplicate pool id %d", p.ID)
		}
		r.pools[p.ID] = p
	}
	return r, nil
}

// Lookup returns the pool metadata for id.
func (r *PoolRegistry) Lookup(id uint64) (Pool, bool) {
	if r == nil {
		return Pool{}, false
	}
	p, ok := r.pools[id]
	return p, ok
}

// Resolve returns the pool metadata for id, or a placeholder with default
// decimals and a zero asset when the pool is not configured.
func (r *PoolRegistry) Resolve(id uint64) Pool {
	if p, ok := r.Lookup(id); ok {
		return p
	}
	return Pool{
		ID:       id,
		Name:     fmt.Sprintf("Pool %d", id),
		Ticker:   "UNKNOWN",
		Decimals: DefaultDecimals,
	}
}

// All returns every configured pool ordered by id.
func (r *PoolRegistry) All() []Pool {
	if r == nil {
		return nil
	}
	out := make([]Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
