package engine

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// PairInputs is everything the sources reported for one (token, pool) pair.
// Optional sources are nil when they did not answer.
type PairInputs struct {
	State        domain.PositionState
	PoolDebt     *uint256.Int
	Direct       *domain.DirectLendState
	Encumbrance  *domain.PositionEncumbrance
	Auction      *uint256.Int
	ActiveCredit *uint256.Int
	LTVBps       uint16
}

// Figures are the reconciled raw amounts of one pair.
type Figures struct {
	Principal        *uint256.Int
	PoolDebt         *uint256.Int
	RollingDebt      *uint256.Int
	FixedDebt        *uint256.Int
	AccruedYield     *uint256.Int
	ActiveCredit     *uint256.Int
	TotalYield       *uint256.Int
	Locked           *uint256.Int
	Lent             *uint256.Int
	Committed        *uint256.Int
	AuctionCommitted *uint256.Int
	OfferEscrow      *uint256.Int
	IndexEncumbered  *uint256.Int
	TotalEncumbered  *uint256.Int
	Available        *uint256.Int
	BorrowHeadroom   *uint256.Int

	PoolDebtOverride bool
	Authoritative    bool
}

// Aggregate reconciles the sources of one pair. It is a pure function of
// its input.
//
// With an authoritative encumbrance view its locked and total figures win;
// its lent figure is reconciled against direct lent plus auction reserves by
// taking the larger, and auction reserves beyond its lent figure are added to
// the total. Without one, the total is locked + lent + auction reserves.
// Pool debt is the pool-only override when present, else total debt net of
// direct locked and lent, floored at zero.
func Aggregate(in PairInputs) Figures {
	var lockedF, lentF *uint256.Int
	if in.Direct != nil {
		lockedF, lentF = orZero(in.Direct.Locked), orZero(in.Direct.Lent)
	} else {
		lockedF, lentF = zero(), zero()
	}
	auction := orZero(in.Auction)

	f := Figures{
		Principal:        orZero(in.State.Principal),
		AccruedYield:     orZero(in.State.AccruedYield),
		ActiveCredit:     orZero(in.ActiveCredit),
		AuctionCommitted: auction,
		OfferEscrow:      zero(),
		IndexEncumbered:  zero(),
	}
	f.TotalYield = add(f.AccruedYield, f.ActiveCredit)

	if enc := in.Encumbrance; enc != nil {
		f.Authoritative = true
		f.Locked = orZero(enc.DirectLocked)
		f.Lent = orZero(enc.DirectLent)
		f.OfferEscrow = orZero(enc.DirectOfferEscrow)
		f.IndexEncumbered = orZero(enc.IndexEncumbered)
		f.Committed = maxOf(f.Lent, add(lentF, auction))
		total := add(enc.TotalEncumbered, subSat(auction, f.Lent))
		f.TotalEncumbered = maxOf(total, f.Locked)
	} else {
		f.Locked = lockedF
		f.Lent = lentF
		f.Committed = add(lentF, auction)
		f.TotalEncumbered = add(add(lockedF, lentF), auction)
	}

	if in.PoolDebt != nil {
		f.PoolDebt = orZero(in.PoolDebt)
		f.PoolDebtOverride = true
	} else {
		f.PoolDebt = subSat(in.State.TotalDebt, add(f.Locked, f.Lent))
	}

	rolling := zero()
	if in.State.RollingLoan.Active {
		rolling = orZero(in.State.RollingLoan.PrincipalRemaining)
	}
	f.RollingDebt = minOf(rolling, f.PoolDebt)
	f.FixedDebt = subSat(f.PoolDebt, f.RollingDebt)

	f.Available = subSat(f.Principal, f.TotalEncumbered)
	f.BorrowHeadroom = subSat(bps(f.Principal, in.LTVBps), f.PoolDebt)
	return f
}

// zeroFigures is the reconciliation of a pair with no data.
func zeroFigures() Figures {
	return Aggregate(PairInputs{})
}
