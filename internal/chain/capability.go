package chain

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// Capabilities records, once per session, which optional read interfaces
// the deployment implements. Detection is one-way: a capability leaves the
// unknown state exactly once.
type Capabilities struct {
	chainID  uint64
	contract common.Address
	store    domain.CapabilityCache
	logger   *slog.Logger

	mu     sync.RWMutex
	states map[domain.Capability]domain.CapabilityState
}

// NewCapabilities creates an empty capability set. store may be nil.
func NewCapabilities(chainID uint64, contract common.Address, store domain.CapabilityCache, logger *slog.Logger) *Capabilities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capabilities{
		chainID:  chainID,
		contract: contract,
		store:    store,
		logger:   logger.With(slog.String("component", "capabilities")),
		states:   make(map[domain.Capability]domain.CapabilityState),
	}
}

// Restore loads previously detected present states from the store. Absent
// states are not restored: they hold for the session that observed them only,
// so a contract upgrade is noticed after a restart.
func (c *Capabilities) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	saved, err := c.store.Load(ctx, c.chainID, c.contract)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for capability, state := range saved {
		if state != domain.CapabilityPresent {
			continue
		}
		if _, set := c.states[capability]; !set {
			c.states[capability] = state
		}
	}
	return nil
}

// State returns the detected state of capability.
func (c *Capabilities) State(capability domain.Capability) domain.CapabilityState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.states[capability]; ok {
		return s
	}
	return domain.CapabilityUnknown
}

// Absent reports whether the interface is known to be missing. Unknown
// interfaces are worth a call.
func (c *Capabilities) Absent(capability domain.Capability) bool {
	return c.State(capability) == domain.CapabilityAbsent
}

// Observe records what a call result says about the interface: a
// selector-missing error means absent, any other answer from the contract
// (success or a contract-level revert) means present. Transport failures and
// cancellation say nothing.
func (c *Capabilities) Observe(ctx context.Context, capability domain.Capability, err error) {
	switch {
	case err == nil:
		c.set(ctx, capability, domain.CapabilityPresent)
	case errors.Is(err, domain.ErrSelectorMissing):
		c.set(ctx, capability, domain.CapabilityAbsent)
	case errors.Is(err, domain.ErrInvalidToken):
		c.set(ctx, capability, domain.CapabilityPresent)
	}
}

// MarkAbsent records an aggregate-level decision that the interface is
// missing.
func (c *Capabilities) MarkAbsent(ctx context.Context, capability domain.Capability) {
	c.set(ctx, capability, domain.CapabilityAbsent)
}

// Snapshot returns a copy of every known state.
func (c *Capabilities) Snapshot() map[domain.Capability]domain.CapabilityState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[domain.Capability]domain.CapabilityState, len(domain.AllCapabilities))
	for _, capability := range domain.AllCapabilities {
		out[capability] = domain.CapabilityUnknown
	}
	for capability, s := range c.states {
		out[capability] = s
	}
	return out
}

func (c *Capabilities) set(ctx context.Context, capability domain.Capability, state domain.CapabilityState) {
	c.mu.Lock()
	if _, done := c.states[capability]; done {
		c.mu.Unlock()
		return
	}
	c.states[capability] = state
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "capability detected",
		slog.String("capability", string(capability)),
		slog.String("state", string(state)),
		slog.Uint64("chain_id", c.chainID),
	)

	if c.store == nil {
		return
	}
	if err := c.store.Store(ctx, c.chainID, c.contract, capability, state); err != nil {
		c.logger.WarnContext(ctx, "capability persist failed",
			slog.String("capability", string(capability)),
			slog.String("error", err.Error()),
		)
	}
}
