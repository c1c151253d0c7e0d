package engine

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// DefaultDisplayPrecision is the number of fractional digits kept in
// display strings.
const DefaultDisplayPrecision int32 = 6

// RecordBuilder scales reconciled raw figures by pool decimals and assembles
// PositionRecords.
type RecordBuilder struct {
	pools     *domain.PoolRegistry
	precision int32
}

// NewRecordBuilder creates a builder. precision <= 0 selects the default.
func NewRecordBuilder(pools *domain.PoolRegistry, precision int32) RecordBuilder {
	if precision <= 0 {
		precision = DefaultDisplayPrecision
	}
	return RecordBuilder{pools: pools, precision: precision}
}

// Scale converts a raw integer amount into an Amount for the given decimals.
// The display string is rounded down so it never overstates a balance.
func (b RecordBuilder) Scale(raw *uint256.Int, decimals uint8) domain.Amount {
	r := orZero(raw)
	scaled := decimal.NewFromBigInt(r.ToBig(), -int32(decimals))
	places := b.precision
	if int32(decimals) < places {
		places = int32(decimals)
	}
	return domain.Amount{
		Raw:     r,
		Scaled:  scaled,
		Display: scaled.RoundDown(places).StringFixed(places),
	}
}

// Build assembles the record of one reconciled pair.
func (b RecordBuilder) Build(token domain.OwnedToken, m domain.PositionMembership, st domain.PositionState, f Figures) domain.PositionRecord {
	pool := b.pools.Resolve(m.PoolID)
	dec := pool.Decimals

	hasBalance, hasLoans := m.HasBalance, m.HasActiveLoans
	if m.Derived {
		hasBalance = !f.Principal.IsZero()
		hasLoans = st.RollingLoan.Active || len(st.FixedLoanIDs) > 0
	}

	fixedIDs := make([]uint64, len(st.FixedLoanIDs))
	copy(fixedIDs, st.FixedLoanIDs)

	rec := domain.PositionRecord{
		TokenID:  token.TokenID,
		PoolID:   m.PoolID,
		PoolName: pool.Name,
		Ticker:   pool.Ticker,
		Decimals: dec,
		Asset:    pool.Asset.Hex(),
		LTVBps:   pool.LTVBps,

		Principal:         b.Scale(f.Principal, dec),
		TotalLiabilities:  b.Scale(f.PoolDebt, dec),
		RollingDebt:       b.Scale(f.RollingDebt, dec),
		FixedDebt:         b.Scale(f.FixedDebt, dec),
		AccruedYield:      b.Scale(f.AccruedYield, dec),
		ActiveCreditYield: b.Scale(f.ActiveCredit, dec),
		TotalYield:        b.Scale(f.TotalYield, dec),
		Locked:            b.Scale(f.Locked, dec),
		Lent:              b.Scale(f.Lent, dec),
		Committed:         b.Scale(f.Committed, dec),
		AuctionCommitted:  b.Scale(f.AuctionCommitted, dec),
		OfferEscrow:       b.Scale(f.OfferEscrow, dec),
		IndexEncumbered:   b.Scale(f.IndexEncumbered, dec),
		TotalEncumbered:   b.Scale(f.TotalEncumbered, dec),
		Available:         b.Scale(f.Available, dec),
		BorrowHeadroom:    b.Scale(f.BorrowHeadroom, dec),

		FixedLoanIDs: fixedIDs,

		IsMember:                m.IsMember,
		HasBalance:              hasBalance,
		HasActiveLoans:          hasLoans,
		RollingActive:           st.RollingLoan.Active,
		IsDelinquent:            st.IsDelinquent,
		EligibleForPenalty:      st.EligibleForPenalty,
		PoolDebtOverride:        f.PoolDebtOverride,
		AuthoritativeEncumbered: f.Authoritative,
	}
	if token.HasKey() {
		rec.PositionKey = token.PositionKey.Hex()
	}
	return rec
}

// Synthetic returns the single zero-valued record emitted for a token with
// no discovered memberships.
func (b RecordBuilder) Synthetic(token domain.OwnedToken) domain.PositionRecord {
	rec := b.Build(token, domain.PositionMembership{TokenID: token.TokenID}, domain.PositionState{}, zeroFigures())
	rec.PoolName = ""
	rec.Ticker = ""
	rec.Asset = ""
	rec.Decimals = domain.DefaultDecimals
	rec.LTVBps = 0
	rec.Synthetic = true
	return rec
}
