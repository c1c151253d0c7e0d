package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionview/internal/domain"
)

func state(principal, totalDebt uint64) domain.PositionState {
	return domain.PositionState{
		Principal:    u(principal),
		AccruedYield: u(0),
		TotalDebt:    u(totalDebt),
		RollingLoan:  domain.RollingLoan{PrincipalRemaining: u(0)},
	}
}

func TestLoadPrimaryMemberships(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{1, 2}
	r.members[1] = []domain.PositionMembership{member(1, 1)}
	r.members[2] = []domain.PositionMembership{member(2, 3), member(2, 2)}
	r.states[domain.PairKey{TokenID: 1, PoolID: 1}] = state(1_000_000, 0)
	r.states[domain.PairKey{TokenID: 2, PoolID: 2}] = state(5, 0)
	r.states[domain.PairKey{TokenID: 2, PoolID: 3}] = state(7, 0)

	e, caps := newTestEngine(r, Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Equal(t, domain.StrategyPrimary, res.Strategy)
	require.Equal(t, []domain.PairKey{{TokenID: 1, PoolID: 1}, {TokenID: 2, PoolID: 2}, {TokenID: 2, PoolID: 3}}, recordKeys(res.Records))
	require.Equal(t, domain.CapabilityPresent, caps.State(domain.CapMembership))
	require.Zero(t, r.Calls("getPoolId"))

	first := res.Records[0]
	require.Equal(t, "USDC", first.Ticker)
	require.Equal(t, uint8(6), first.Decimals)
	require.Equal(t, "1.000000", first.Principal.Display)
}

func TestLoadFallbackWhenMembershipViewMissing(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{1, 2}
	r.memberErr[1] = selectorMissing("getPositionPoolMemberships")
	r.memberErr[2] = selectorMissing("getPositionPoolMemberships")
	r.poolIDs[1] = 1
	r.poolIDs[2] = 2
	r.states[domain.PairKey{TokenID: 1, PoolID: 1}] = state(10, 0)
	r.states[domain.PairKey{TokenID: 2, PoolID: 2}] = state(20, 0)

	e, caps := newTestEngine(r, Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Equal(t, domain.StrategyFallback, res.Strategy)
	require.Equal(t, []domain.PairKey{{TokenID: 1, PoolID: 1}, {TokenID: 2, PoolID: 2}}, recordKeys(res.Records))
	require.Equal(t, domain.CapabilityAbsent, caps.State(domain.CapMembership))

	// The next cycle skips the missing view entirely.
	before := r.Calls("getPositionPoolMemberships")
	_, err = e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Equal(t, before, r.Calls("getPositionPoolMemberships"))
}

func TestFallbackMatchesPrimaryRecord(t *testing.T) {
	st := state(1_500, 900)
	st.RollingLoan = domain.RollingLoan{Active: true, PrincipalRemaining: u(300)}
	st.FixedLoanIDs = []uint64{4, 9}
	key := domain.PairKey{TokenID: 1, PoolID: 2}

	primary := newFakeReader()
	primary.tokens = []uint64{1}
	primary.members[1] = []domain.PositionMembership{{TokenID: 1, PoolID: 2, IsMember: true, HasBalance: true, HasActiveLoans: true}}
	primary.states[key] = st

	legacy := newFakeReader()
	legacy.tokens = []uint64{1}
	legacy.memberErr[1] = selectorMissing("getPositionPoolMemberships")
	legacy.poolIDs[1] = 2
	legacy.states[key] = st

	pe, _ := newTestEngine(primary, Config{})
	le, _ := newTestEngine(legacy, Config{})
	pres, err := pe.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	lres, err := le.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)

	pj, err := json.Marshal(pres.Records)
	require.NoError(t, err)
	lj, err := json.Marshal(lres.Records)
	require.NoError(t, err)
	require.JSONEq(t, string(pj), string(lj))
}

func TestInvalidTokenStateDropsOnlyThatPair(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{5, 6}
	r.members[5] = []domain.PositionMembership{member(5, 1)}
	r.members[6] = []domain.PositionMembership{member(6, 1)}
	r.stateErr[domain.PairKey{TokenID: 5, PoolID: 1}] = invalidToken("getPositionState")
	r.states[domain.PairKey{TokenID: 6, PoolID: 1}] = state(3, 0)

	e, _ := newTestEngine(r, Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Equal(t, []domain.PairKey{{TokenID: 6, PoolID: 1}}, recordKeys(res.Records))
}

func directLendWithDoubleCountedAuction() *fakeReader {
	key := common.HexToHash("0x1111")
	r := newFakeReader()
	r.tokens = []uint64{1}
	r.keys[1] = key
	r.members[1] = []domain.PositionMembership{member(1, 2)}
	r.states[domain.PairKey{TokenID: 1, PoolID: 2}] = state(1_000, 0)
	r.direct[domain.PairKey{TokenID: 1, PoolID: 2}] = domain.DirectLendState{TokenID: 1, PoolID: 2, Locked: u(100), Lent: u(50)}
	r.auctions[9] = domain.Auction{
		MakerPositionKey: key,
		MakerPositionID:  1,
		PoolIDA:          2,
		PoolIDB:          3,
		ReserveA:         u(30),
		ReserveB:         u(0),
		Active:           true,
	}
	r.byKey[key] = []uint64{9}
	r.active = []uint64{9}
	return r
}

func TestAuctionSeenByBothScansCountsTwiceWhenAdditive(t *testing.T) {
	e, _ := newTestEngine(directLendWithDoubleCountedAuction(), Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	require.Equal(t, uint64(60), rec.AuctionCommitted.Raw.Uint64())
	require.Equal(t, uint64(210), rec.TotalEncumbered.Raw.Uint64())
	require.Equal(t, uint64(110), rec.Committed.Raw.Uint64())
	require.Equal(t, uint64(790), rec.Available.Raw.Uint64())
	require.False(t, rec.AuthoritativeEncumbered)
}

func TestAuctionDedupePolicyCountsOnce(t *testing.T) {
	e, _ := newTestEngine(directLendWithDoubleCountedAuction(), Config{AuctionMerge: MergeDedupe})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Equal(t, uint64(30), res.Records[0].AuctionCommitted.Raw.Uint64())
	require.Equal(t, uint64(180), res.Records[0].TotalEncumbered.Raw.Uint64())
}

func TestFinalizedAuctionsIgnored(t *testing.T) {
	r := directLendWithDoubleCountedAuction()
	a := r.auctions[9]
	a.Finalized = true
	r.auctions[9] = a

	e, _ := newTestEngine(r, Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.True(t, res.Records[0].AuctionCommitted.IsZero())
	require.Equal(t, uint64(150), res.Records[0].TotalEncumbered.Raw.Uint64())
}

func TestGlobalScanMatchesByTokenIDAcrossPages(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{4}
	r.members[4] = []domain.PositionMembership{member(4, 1)}
	r.states[domain.PairKey{TokenID: 4, PoolID: 1}] = state(100, 0)
	r.byPosErr = selectorMissing("getAuctionsByPositionId")
	for id := uint64(1); id <= 5; id++ {
		maker := uint64(99)
		if id%2 == 1 {
			maker = 4
		}
		r.auctions[id] = domain.Auction{MakerPositionID: maker, PoolIDA: 1, ReserveA: u(id), ReserveB: u(0), Active: true}
		r.active = append(r.active, id)
	}

	e, caps := newTestEngine(r, Config{PageSize: 2})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Equal(t, uint64(1+3+5), res.Records[0].AuctionCommitted.Raw.Uint64())
	require.Equal(t, 3, r.Calls("getActiveAuctions"))
	require.Equal(t, domain.CapabilityAbsent, caps.State(domain.CapAuctionsByPosition))
}

func TestTokenWithoutMembershipsGetsSyntheticRecord(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{1, 2}
	r.members[1] = nil
	r.members[2] = []domain.PositionMembership{member(2, 1)}
	r.states[domain.PairKey{TokenID: 2, PoolID: 1}] = state(1, 0)

	e, _ := newTestEngine(r, Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	syn := res.Records[0]
	require.True(t, syn.Synthetic)
	require.Equal(t, uint64(1), syn.TokenID)
	require.Zero(t, syn.PoolID)
	require.True(t, syn.Principal.IsZero())
	require.True(t, syn.TotalEncumbered.IsZero())
	require.False(t, res.Records[1].Synthetic)
}

func TestFallbackZeroPoolGetsSyntheticRecord(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{3, 8}
	r.memberErr[3] = selectorMissing("getPositionPoolMemberships")
	r.memberErr[8] = selectorMissing("getPositionPoolMemberships")
	r.poolIDs[3] = 0
	r.poolIDErr[8] = invalidToken("getPoolId")

	e, _ := newTestEngine(r, Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.True(t, res.Records[0].Synthetic)
	require.Equal(t, uint64(3), res.Records[0].TokenID)
}

func TestMixedMembershipAnswersAreFatal(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{1, 2}
	r.memberErr[1] = selectorMissing("getPositionPoolMemberships")
	r.members[2] = []domain.PositionMembership{member(2, 1)}

	e, _ := newTestEngine(r, Config{})
	_, err := e.Load(context.Background(), nil, testOwner)
	require.ErrorIs(t, err, domain.ErrInconsistentDeployment)
}

func TestUnexpectedErrorsAreFatal(t *testing.T) {
	boom := errors.New("rpc unavailable")

	tests := []struct {
		name  string
		setup func(r *fakeReader)
	}{
		{"inventory", func(r *fakeReader) { r.balanceErr = boom }},
		{"membership", func(r *fakeReader) { r.memberErr[1] = boom }},
		{"state", func(r *fakeReader) { r.stateErr[domain.PairKey{TokenID: 1, PoolID: 1}] = boom }},
		{"pool only debt", func(r *fakeReader) { r.poolOnlyErr = boom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeReader()
			r.tokens = []uint64{1}
			r.members[1] = []domain.PositionMembership{member(1, 1)}
			r.states[domain.PairKey{TokenID: 1, PoolID: 1}] = state(1, 0)
			tt.setup(r)

			e, _ := newTestEngine(r, Config{})
			res, err := e.Load(context.Background(), nil, testOwner)
			require.ErrorIs(t, err, boom)
			require.Empty(t, res.Records)
		})
	}
}

func TestOptionalSourceFailuresDegradeToZero(t *testing.T) {
	boom := errors.New("execution reverted: out of gas")
	r := newFakeReader()
	r.tokens = []uint64{1}
	r.members[1] = []domain.PositionMembership{member(1, 1)}
	r.states[domain.PairKey{TokenID: 1, PoolID: 1}] = state(500, 200)
	r.directErr = boom
	r.encErr = boom
	r.creditErr = boom
	r.byPosErr = boom
	r.activeErr = boom

	e, caps := newTestEngine(r, Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	rec := res.Records[0]
	require.True(t, rec.Locked.IsZero())
	require.True(t, rec.AuctionCommitted.IsZero())
	require.True(t, rec.ActiveCreditYield.IsZero())
	require.Equal(t, uint64(200), rec.TotalLiabilities.Raw.Uint64())
	require.Equal(t, domain.CapabilityUnknown, caps.State(domain.CapDirectState))
}

func TestDirectLendReadOncePerAsset(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{1}
	r.members[1] = []domain.PositionMembership{member(1, 4), member(1, 2)}
	r.states[domain.PairKey{TokenID: 1, PoolID: 2}] = state(1_000, 400)
	r.states[domain.PairKey{TokenID: 1, PoolID: 4}] = state(2_000, 100)
	r.direct[domain.PairKey{TokenID: 1, PoolID: 2}] = domain.DirectLendState{Locked: u(100), Lent: u(50)}

	e, caps := newTestEngine(r, Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Equal(t, 1, r.Calls("getPositionDirectState"))
	require.Equal(t, domain.CapabilityPresent, caps.State(domain.CapDirectState))

	require.Len(t, res.Records, 2)
	for _, rec := range res.Records {
		require.Equal(t, uint64(100), rec.Locked.Raw.Uint64())
		require.Equal(t, uint64(50), rec.Lent.Raw.Uint64())
	}
	require.Equal(t, uint64(250), res.Records[0].TotalLiabilities.Raw.Uint64())
	require.Equal(t, uint64(0), res.Records[1].TotalLiabilities.Raw.Uint64())
}

func TestMissingInterfacesAreNotCalledTwice(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{1}
	r.members[1] = []domain.PositionMembership{member(1, 1)}
	r.states[domain.PairKey{TokenID: 1, PoolID: 1}] = state(1, 0)

	e, caps := newTestEngine(r, Config{})
	_, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	for _, c := range []domain.Capability{domain.CapPoolOnlyDebt, domain.CapDirectState, domain.CapEncumbrance, domain.CapActiveCredit} {
		require.Equal(t, domain.CapabilityAbsent, caps.State(c), c)
	}

	_, err = e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Equal(t, 1, r.Calls("getPositionPoolDataPoolOnly"))
	require.Equal(t, 1, r.Calls("getPositionDirectState"))
	require.Equal(t, 1, r.Calls("getPositionEncumbrance"))
	require.Equal(t, 1, r.Calls("pendingActiveCreditByPosition"))
}

func TestAuthoritativeEncumbranceAndOverride(t *testing.T) {
	key := domain.PairKey{TokenID: 1, PoolID: 2}
	r := newFakeReader()
	r.tokens = []uint64{1}
	r.members[1] = []domain.PositionMembership{member(1, 2)}
	st := state(1_000, 600)
	st.RollingLoan = domain.RollingLoan{Active: true, PrincipalRemaining: u(30)}
	r.states[key] = st
	r.poolOnly[key] = domain.PoolScopedData{Principal: u(1_000), PoolDebt: u(42)}
	r.direct[key] = domain.DirectLendState{Locked: u(100), Lent: u(50)}
	r.enc[key] = domain.PositionEncumbrance{
		DirectLocked:      u(100),
		DirectLent:        u(40),
		DirectOfferEscrow: u(5),
		IndexEncumbered:   u(10),
		TotalEncumbered:   u(150),
	}
	r.credit[key] = u(7)

	e, _ := newTestEngine(r, Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	rec := res.Records[0]
	require.True(t, rec.AuthoritativeEncumbered)
	require.True(t, rec.PoolDebtOverride)
	require.Equal(t, uint64(42), rec.TotalLiabilities.Raw.Uint64())
	require.Equal(t, uint64(30), rec.RollingDebt.Raw.Uint64())
	require.Equal(t, uint64(12), rec.FixedDebt.Raw.Uint64())
	require.Equal(t, uint64(50), rec.Committed.Raw.Uint64())
	require.Equal(t, uint64(150), rec.TotalEncumbered.Raw.Uint64())
	require.Equal(t, uint64(5), rec.OfferEscrow.Raw.Uint64())
	require.Equal(t, uint64(7), rec.TotalYield.Raw.Uint64())
	require.Equal(t, uint64(708), rec.BorrowHeadroom.Raw.Uint64())
}

func TestLoadIsIdempotent(t *testing.T) {
	r := directLendWithDoubleCountedAuction()
	e, _ := newTestEngine(r, Config{})

	first, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	second, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)

	a, err := json.Marshal(first.Records)
	require.NoError(t, err)
	b, err := json.Marshal(second.Records)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestEmptyInventory(t *testing.T) {
	e, _ := newTestEngine(newFakeReader(), Config{})
	res, err := e.Load(context.Background(), nil, testOwner)
	require.NoError(t, err)
	require.Equal(t, domain.StrategyNone, res.Strategy)
	require.Empty(t, res.Records)
}

func TestOversizedBalanceFailsCycle(t *testing.T) {
	r := newFakeReader()
	huge := uint64(1 << 62)
	r.balance = &huge

	e, _ := newTestEngine(r, Config{})
	var err error
	require.NotPanics(t, func() {
		_, err = e.Load(context.Background(), nil, testOwner)
	})
	require.ErrorIs(t, err, domain.ErrDecode)
	require.Zero(t, r.Calls("tokenOfOwnerByIndex"))

	small := uint64(3)
	r.balance = &small
	r.tokens = []uint64{1, 2, 3}
	e, _ = newTestEngine(r, Config{MaxTokens: 2})
	_, err = e.Load(context.Background(), nil, testOwner)
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestStaleEpochAborts(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{1}
	r.members[1] = []domain.PositionMembership{member(1, 1)}

	e, _ := newTestEngine(r, Config{})
	_, err := e.Load(context.Background(), staleEpoch{stale: true}, testOwner)
	require.ErrorIs(t, err, domain.ErrSuperseded)
	require.Zero(t, r.Calls("getPositionPoolMemberships"))
}

func TestCancelledContextAborts(t *testing.T) {
	r := newFakeReader()
	r.tokens = []uint64{1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newTestEngine(r, Config{})
	_, err := e.Load(ctx, staleEpoch{}, testOwner)
	require.ErrorIs(t, err, context.Canceled)
}
