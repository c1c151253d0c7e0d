package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PairKey identifies one (position token, pool) pair.
type PairKey struct {
	TokenID uint64
	PoolID  uint64
}

// String renders the key as "tokenId-poolId".
func (k PairKey) String() string {
	return fmt.Sprintf("%d-%d", k.TokenID, k.PoolID)
}

// OwnedToken is a position token held by the owner together with its opaque
// position key. A zero key means the token has none.
type OwnedToken struct {
	TokenID     uint64
	PositionKey common.Hash
}

// HasKey reports whether the token resolved to a non-zero position key.
func (t OwnedToken) HasKey() bool {
	return t.PositionKey != (common.Hash{})
}

// PositionMembership records that a token has presence in a pool.
type PositionMembership struct {
	TokenID        uint64
	PoolID         uint64
	IsMember       bool
	HasBalance     bool
	HasActiveLoans bool
	// Derived is set by the legacy single-pool strategy, which cannot read the
	// balance and loan flags; they are filled in from state instead.
	Derived bool
}

// Key returns the pair key of the membership.
func (m PositionMembership) Key() PairKey {
	return PairKey{TokenID: m.TokenID, PoolID: m.PoolID}
}

// RollingLoan is the open-ended credit line sub-state of a position.
type RollingLoan struct {
	Active             bool
	PrincipalRemaining *uint256.Int
}

// PositionState is the pool's canonical view of a position. TotalDebt is not
// yet net of direct-lend or auction encumbrance.
type PositionState struct {
	TokenID            uint64
	PoolID             uint64
	Principal          *uint256.Int
	AccruedYield       *uint256.Int
	RollingLoan        RollingLoan
	FixedLoanIDs       []uint64
	TotalDebt          *uint256.Int
	IsDelinquent       bool
	EligibleForPenalty bool
}

// PoolScopedData is the answer of the pool-only data view. PoolDebt overrides
// the derived "total debt minus direct committed" figure.
type PoolScopedData struct {
	Principal *uint256.Int
	PoolDebt  *uint256.Int
}

// DirectLendState is the peer-matched lending view of a position for one
// asset. Locked is reserved awaiting a match, Lent is actively loaned.
type DirectLendState struct {
	TokenID uint64
	PoolID  uint64
	Locked  *uint256.Int
	Lent    *uint256.Int
}

// PositionEncumbrance is the authoritative encumbrance breakdown, when the
// deployment exposes it.
type PositionEncumbrance struct {
	DirectLocked      *uint256.Int
	DirectLent        *uint256.Int
	DirectOfferEscrow *uint256.Int
	IndexEncumbered   *uint256.Int
	TotalEncumbered   *uint256.Int
}

// AuctionPage is one page of auction ids from a paged listing call.
type AuctionPage struct {
	IDs   []uint64
	Total uint64
}

// Auction is the detail view of one on-venue auction.
type Auction struct {
	ID               uint64
	MakerPositionKey common.Hash
	MakerPositionID  uint64
	PoolIDA          uint64
	PoolIDB          uint64
	ReserveA         *uint256.Int
	ReserveB         *uint256.Int
	Active           bool
	Finalized        bool
}

// Live reports whether the auction still commits the maker's reserves.
func (a Auction) Live() bool {
	return a.Active && !a.Finalized
}

// ScanSource tells which auction scan produced a reservation.
type ScanSource string

const (
	ScanByPosition ScanSource = "by_position"
	ScanGlobal     ScanSource = "global"
)

// AuctionReservation is one additive contribution of a live auction's
// reserves to a position's pool entry.
type AuctionReservation struct {
	AuctionID uint64
	TokenID   uint64
	PoolID    uint64
	Amount    *uint256.Int
	Source    ScanSource
}

// Key returns the pair the reservation applies to.
func (r AuctionReservation) Key() PairKey {
	return PairKey{TokenID: r.TokenID, PoolID: r.PoolID}
}

// MembershipStrategy names the strategy that produced a cycle's memberships.
type MembershipStrategy string

const (
	StrategyPrimary  MembershipStrategy = "primary"
	StrategyFallback MembershipStrategy = "fallback"
	StrategyNone     MembershipStrategy = "none"
)

// Snapshot is the immutable output of one settled refresh cycle.
type Snapshot struct {
	CycleID    string             `json:"cycle_id"`
	Generation uint64             `json:"generation"`
	Owner      common.Address     `json:"owner"`
	ChainID    uint64             `json:"chain_id"`
	Strategy   MembershipStrategy `json:"strategy"`
	FetchedAt  time.Time          `json:"fetched_at"`
	Records    []PositionRecord   `json:"records"`
}
