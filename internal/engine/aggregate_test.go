package engine

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionview/internal/domain"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		in        PairInputs
		total     uint64
		committed uint64
		poolDebt  uint64
		rolling   uint64
		fixed     uint64
		available uint64
	}{
		{
			name: "no sources",
			in:   PairInputs{State: state(100, 40)},
			total: 0, committed: 0, poolDebt: 40, rolling: 0, fixed: 40, available: 100,
		},
		{
			name: "derived encumbrance nets debt",
			in: PairInputs{
				State:   state(1_000, 500),
				Direct:  &domain.DirectLendState{Locked: u(100), Lent: u(50)},
				Auction: u(30),
			},
			total: 180, committed: 80, poolDebt: 350, rolling: 0, fixed: 350, available: 820,
		},
		{
			name: "debt floors at zero",
			in: PairInputs{
				State:  state(10, 20),
				Direct: &domain.DirectLendState{Locked: u(15), Lent: u(15)},
			},
			total: 30, committed: 15, poolDebt: 0, rolling: 0, fixed: 0, available: 0,
		},
		{
			name: "authoritative adds auction excess over lent",
			in: PairInputs{
				State:       state(1_000, 0),
				Direct:      &domain.DirectLendState{Locked: u(100), Lent: u(50)},
				Encumbrance: &domain.PositionEncumbrance{DirectLocked: u(100), DirectLent: u(40), TotalEncumbered: u(150)},
				Auction:     u(70),
			},
			total: 180, committed: 120, poolDebt: 0, rolling: 0, fixed: 0, available: 820,
		},
		{
			name: "authoritative total never below locked",
			in: PairInputs{
				State:       state(1_000, 0),
				Encumbrance: &domain.PositionEncumbrance{DirectLocked: u(300), DirectLent: u(0), TotalEncumbered: u(100)},
			},
			total: 300, committed: 0, poolDebt: 0, rolling: 0, fixed: 0, available: 700,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Aggregate(tt.in)
			require.Equal(t, tt.total, f.TotalEncumbered.Uint64(), "total")
			require.Equal(t, tt.committed, f.Committed.Uint64(), "committed")
			require.Equal(t, tt.poolDebt, f.PoolDebt.Uint64(), "pool debt")
			require.Equal(t, tt.rolling, f.RollingDebt.Uint64(), "rolling")
			require.Equal(t, tt.fixed, f.FixedDebt.Uint64(), "fixed")
			require.Equal(t, tt.available, f.Available.Uint64(), "available")
			require.False(t, f.TotalEncumbered.Lt(f.Locked))
		})
	}
}

func TestAggregateRollingSplit(t *testing.T) {
	st := state(1_000, 500)
	st.RollingLoan = domain.RollingLoan{Active: true, PrincipalRemaining: u(400)}
	f := Aggregate(PairInputs{State: st, Direct: &domain.DirectLendState{Locked: u(100), Lent: u(50)}})
	require.Equal(t, uint64(350), f.PoolDebt.Uint64())
	require.Equal(t, uint64(350), f.RollingDebt.Uint64())
	require.True(t, f.FixedDebt.IsZero())

	st.RollingLoan.PrincipalRemaining = u(100)
	f = Aggregate(PairInputs{State: st, Direct: &domain.DirectLendState{Locked: u(100), Lent: u(50)}})
	require.Equal(t, uint64(100), f.RollingDebt.Uint64())
	require.Equal(t, uint64(250), f.FixedDebt.Uint64())

	st.RollingLoan.Active = false
	f = Aggregate(PairInputs{State: st})
	require.True(t, f.RollingDebt.IsZero())
	require.Equal(t, uint64(500), f.FixedDebt.Uint64())
}

func TestAggregateHeadroom(t *testing.T) {
	f := Aggregate(PairInputs{State: state(1_000, 300), LTVBps: 8000})
	require.Equal(t, uint64(500), f.BorrowHeadroom.Uint64())

	f = Aggregate(PairInputs{State: state(1_000, 900), LTVBps: 8000})
	require.True(t, f.BorrowHeadroom.IsZero())

	ceiling := new(uint256.Int).SetAllOne()
	f = Aggregate(PairInputs{State: domain.PositionState{Principal: ceiling}, LTVBps: 10_000})
	require.Equal(t, ceiling, f.BorrowHeadroom)
}

func TestAggregateDoesNotAliasInputs(t *testing.T) {
	locked := u(5)
	f := Aggregate(PairInputs{State: state(10, 0), Direct: &domain.DirectLendState{Locked: locked, Lent: u(0)}})
	f.Locked.SetUint64(99)
	require.Equal(t, uint64(5), locked.Uint64())
}

func TestScaleRoundsDown(t *testing.T) {
	b := NewRecordBuilder(testPools(), 0)

	amt := b.Scale(u(1_234_567), 6)
	require.Equal(t, "1.234567", amt.Display)
	require.Equal(t, "1.234567", amt.Scaled.String())

	amt = b.Scale(uint256.MustFromDecimal("1999999999999999999"), 18)
	require.Equal(t, "1.999999", amt.Display)
	require.Equal(t, "1.999999999999999999", amt.Scaled.String())

	amt = NewRecordBuilder(testPools(), 8).Scale(u(5), 2)
	require.Equal(t, "0.05", amt.Display)

	amt = b.Scale(nil, 18)
	require.True(t, amt.IsZero())
	require.Equal(t, "0.000000", amt.Display)
}

func TestMergeReservations(t *testing.T) {
	byPos := []domain.AuctionReservation{
		{AuctionID: 1, TokenID: 1, PoolID: 2, Amount: u(30), Source: domain.ScanByPosition},
		{AuctionID: 2, TokenID: 1, PoolID: 2, Amount: u(5), Source: domain.ScanByPosition},
	}
	global := []domain.AuctionReservation{
		{AuctionID: 1, TokenID: 1, PoolID: 2, Amount: u(30), Source: domain.ScanGlobal},
		{AuctionID: 3, TokenID: 1, PoolID: 3, Amount: u(8), Source: domain.ScanGlobal},
	}
	k2 := domain.PairKey{TokenID: 1, PoolID: 2}
	k3 := domain.PairKey{TokenID: 1, PoolID: 3}

	additive := MergeReservations(MergeAdditive, byPos, global)
	require.Equal(t, uint64(65), additive[k2].Uint64())
	require.Equal(t, uint64(8), additive[k3].Uint64())

	dedupe := MergeReservations(MergeDedupe, byPos, global)
	require.Equal(t, uint64(35), dedupe[k2].Uint64())
	require.Equal(t, uint64(8), dedupe[k3].Uint64())
}

func TestParseMergePolicy(t *testing.T) {
	p, err := ParseMergePolicy("")
	require.NoError(t, err)
	require.Equal(t, MergeAdditive, p)

	p, err = ParseMergePolicy("dedupe")
	require.NoError(t, err)
	require.Equal(t, MergeDedupe, p)

	_, err = ParseMergePolicy("sum")
	require.Error(t, err)
}
