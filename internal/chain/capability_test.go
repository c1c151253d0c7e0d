package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionview/internal/domain"
)

type memCapabilityCache struct {
	mu     sync.Mutex
	states map[domain.Capability]domain.CapabilityState
	stores int
}

func (m *memCapabilityCache) Load(context.Context, uint64, common.Address) (map[domain.Capability]domain.CapabilityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.Capability]domain.CapabilityState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *memCapabilityCache) Store(_ context.Context, _ uint64, _ common.Address, c domain.Capability, s domain.CapabilityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[domain.Capability]domain.CapabilityState)
	}
	m.states[c] = s
	m.stores++
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCapabilitiesSetOnce(t *testing.T) {
	store := &memCapabilityCache{}
	caps := NewCapabilities(1, testContract, store, quietLogger())
	ctx := context.Background()

	require.Equal(t, domain.CapabilityUnknown, caps.State(domain.CapEncumbrance))
	require.False(t, caps.Absent(domain.CapEncumbrance))

	caps.Observe(ctx, domain.CapEncumbrance, errors.New("connection reset"))
	require.Equal(t, domain.CapabilityUnknown, caps.State(domain.CapEncumbrance))

	caps.Observe(ctx, domain.CapEncumbrance, Classify("getPositionEncumbrance", errors.New("function does not exist")))
	require.True(t, caps.Absent(domain.CapEncumbrance))

	// Later answers do not flip a settled capability.
	caps.Observe(ctx, domain.CapEncumbrance, nil)
	require.True(t, caps.Absent(domain.CapEncumbrance))

	caps.Observe(ctx, domain.CapDirectState, Classify("getPositionDirectState", errors.New("InvalidTokenId")))
	require.Equal(t, domain.CapabilityPresent, caps.State(domain.CapDirectState))

	require.Equal(t, 2, store.stores)
	snap := caps.Snapshot()
	require.Len(t, snap, len(domain.AllCapabilities))
	require.Equal(t, domain.CapabilityUnknown, snap[domain.CapMembership])
}

func TestCapabilitiesRestore(t *testing.T) {
	store := &memCapabilityCache{states: map[domain.Capability]domain.CapabilityState{
		domain.CapMembership:   domain.CapabilityAbsent,
		domain.CapEncumbrance:  domain.CapabilityPresent,
		domain.CapActiveCredit: domain.CapabilityUnknown,
	}}
	caps := NewCapabilities(1, testContract, store, quietLogger())
	require.NoError(t, caps.Restore(context.Background()))
	require.Equal(t, domain.CapabilityPresent, caps.State(domain.CapEncumbrance))
	require.Equal(t, domain.CapabilityUnknown, caps.State(domain.CapActiveCredit))

	// An absent state from an earlier session is tried again.
	require.False(t, caps.Absent(domain.CapMembership))
	caps.Observe(context.Background(), domain.CapMembership, nil)
	require.Equal(t, domain.CapabilityPresent, caps.State(domain.CapMembership))
	require.Equal(t, domain.CapabilityPresent, store.states[domain.CapMembership])
}

// probeReader answers every optional read per the configured errors.
type probeReader struct {
	domain.PositionReader
	errs map[string]error
}

func (p probeReader) GetPositionPoolMemberships(context.Context, uint64) ([]domain.PositionMembership, error) {
	return nil, p.errs["memberships"]
}

func (p probeReader) GetPositionPoolDataPoolOnly(context.Context, uint64, uint64) (domain.PoolScopedData, error) {
	return domain.PoolScopedData{}, p.errs["poolOnly"]
}

func (p probeReader) GetPositionDirectState(context.Context, uint64, uint64) (domain.DirectLendState, error) {
	return domain.DirectLendState{}, p.errs["direct"]
}

func (p probeReader) GetPositionEncumbrance(context.Context, uint64, uint64) (domain.PositionEncumbrance, error) {
	return domain.PositionEncumbrance{}, p.errs["encumbrance"]
}

func (p probeReader) PendingActiveCreditByPosition(context.Context, uint64, uint64) (*uint256.Int, error) {
	return uint256.NewInt(0), p.errs["credit"]
}

func (p probeReader) GetAuctionsByPosition(context.Context, common.Hash, uint64, uint64) (domain.AuctionPage, error) {
	return domain.AuctionPage{}, p.errs["byPosition"]
}

func (p probeReader) GetActiveAuctions(context.Context, uint64, uint64) (domain.AuctionPage, error) {
	return domain.AuctionPage{}, p.errs["active"]
}

func TestProbe(t *testing.T) {
	r := probeReader{errs: map[string]error{
		"memberships": Classify("getPositionPoolMemberships", errors.New("selector not found")),
		"poolOnly":    Classify("getPositionPoolDataPoolOnly", errors.New("InvalidTokenId")),
		"direct":      errors.New("i/o timeout"),
		"encumbrance": Classify("getPositionEncumbrance", errors.New("execution reverted: Diamond: Function does not exist")),
	}}
	caps := NewCapabilities(1, testContract, nil, quietLogger())
	caps.MarkAbsent(context.Background(), domain.CapActiveAuctions)

	states, err := Probe(context.Background(), r, caps)
	require.NoError(t, err)
	require.Equal(t, domain.CapabilityAbsent, states[domain.CapMembership])
	require.Equal(t, domain.CapabilityPresent, states[domain.CapPoolOnlyDebt])
	require.Equal(t, domain.CapabilityUnknown, states[domain.CapDirectState])
	require.Equal(t, domain.CapabilityAbsent, states[domain.CapEncumbrance])
	require.Equal(t, domain.CapabilityPresent, states[domain.CapActiveCredit])
	require.Equal(t, domain.CapabilityPresent, states[domain.CapAuctionsByPosition])
	require.Equal(t, domain.CapabilityAbsent, states[domain.CapActiveAuctions])
}

func TestProbeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	caps := NewCapabilities(1, testContract, nil, quietLogger())
	_, err := Probe(ctx, probeReader{errs: map[string]error{}}, caps)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, domain.CapabilityUnknown, caps.State(domain.CapMembership))
}
