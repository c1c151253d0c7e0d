package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionReader is the on-chain read surface the engine consumes. Every
// method returns errors already classified: errors.Is(err, ErrSelectorMissing)
// when the interface is not deployed and errors.Is(err, ErrInvalidToken) when
// the token does not exist.
type PositionReader interface {
	BalanceOf(ctx context.Context, owner common.Address) (uint64, error)
	TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index uint64) (uint64, error)
	GetPositionKey(ctx context.Context, tokenID uint64) (common.Hash, error)
	GetPoolID(ctx context.Context, tokenID uint64) (uint64, error)
	GetPositionPoolMemberships(ctx context.Context, tokenID uint64) ([]PositionMembership, error)
	GetPositionState(ctx context.Context, tokenID, poolID uint64) (PositionState, error)
	GetPositionPoolDataPoolOnly(ctx context.Context, tokenID, poolID uint64) (PoolScopedData, error)
	GetPositionDirectState(ctx context.Context, tokenID, poolID uint64) (DirectLendState, error)
	GetPositionEncumbrance(ctx context.Context, tokenID, poolID uint64) (PositionEncumbrance, error)
	PendingActiveCreditByPosition(ctx context.Context, poolID, tokenID uint64) (*uint256.Int, error)
	GetAuctionsByPosition(ctx context.Context, key common.Hash, offset, limit uint64) (AuctionPage, error)
	GetAuctionsByPositionID(ctx context.Context, tokenID, offset, limit uint64) (AuctionPage, error)
	GetAmmAuction(ctx context.Context, auctionID uint64) (Auction, error)
	GetActiveAuctions(ctx context.Context, offset, limit uint64) (AuctionPage, error)
}

// Capability names one optional read interface of the position contract.
type Capability string

const (
	CapMembership         Capability = "membership"
	CapPoolOnlyDebt       Capability = "pool_only_debt"
	CapDirectState        Capability = "direct_state"
	CapEncumbrance        Capability = "encumbrance"
	CapActiveCredit       Capability = "active_credit"
	CapAuctionsByPosition Capability = "auctions_by_position"
	CapActiveAuctions     Capability = "active_auctions"
)

// AllCapabilities lists every optional interface in probe order.
var AllCapabilities = []Capability{
	CapMembership,
	CapPoolOnlyDebt,
	CapDirectState,
	CapEncumbrance,
	CapActiveCredit,
	CapAuctionsByPosition,
	CapActiveAuctions,
}

// CapabilityState is the detected availability of an interface.
type CapabilityState string

const (
	CapabilityUnknown CapabilityState = "unknown"
	CapabilityPresent CapabilityState = "present"
	CapabilityAbsent  CapabilityState = "absent"
)

// Epoch is the generation token of a refresh cycle. Stale reports whether a
// newer cycle has started since this one.
type Epoch interface {
	Generation() uint64
	Stale() bool
}
