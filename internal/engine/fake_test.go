package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/positionview/internal/chain"
	"github.com/alanyoungcy/positionview/internal/domain"
)

var (
	testOwner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	assetUSDC    = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	assetWETH    = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	assetDAI     = common.HexToAddress("0x0000000000000000000000000000000000000a03")
)

func selectorMissing(method string) error {
	return fmt.Errorf("chain: %s: %w", method, domain.ErrSelectorMissing)
}

func invalidToken(method string) error {
	return fmt.Errorf("chain: %s: %w", method, domain.ErrInvalidToken)
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// fakeReader serves canned answers. Missing optional entries answer with the
// configured default error, or zero values when that is nil.
type fakeReader struct {
	mu    sync.Mutex
	calls map[string]int

	balanceErr  error
	balance     *uint64
	tokens      []uint64
	keys        map[uint64]common.Hash
	poolIDs     map[uint64]uint64
	poolIDErr   map[uint64]error
	members     map[uint64][]domain.PositionMembership
	memberErr   map[uint64]error
	states      map[domain.PairKey]domain.PositionState
	stateErr    map[domain.PairKey]error
	poolOnly    map[domain.PairKey]domain.PoolScopedData
	poolOnlyErr error
	direct      map[domain.PairKey]domain.DirectLendState
	directErr   error
	enc         map[domain.PairKey]domain.PositionEncumbrance
	encErr      error
	credit      map[domain.PairKey]*uint256.Int
	creditErr   error
	byKey       map[common.Hash][]uint64
	byID        map[uint64][]uint64
	byPosErr    error
	auctions    map[uint64]domain.Auction
	active      []uint64
	activeErr   error
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		calls:       make(map[string]int),
		keys:        make(map[uint64]common.Hash),
		poolIDs:     make(map[uint64]uint64),
		poolIDErr:   make(map[uint64]error),
		members:     make(map[uint64][]domain.PositionMembership),
		memberErr:   make(map[uint64]error),
		states:      make(map[domain.PairKey]domain.PositionState),
		stateErr:    make(map[domain.PairKey]error),
		poolOnly:    make(map[domain.PairKey]domain.PoolScopedData),
		poolOnlyErr: selectorMissing("getPositionPoolDataPoolOnly"),
		direct:      make(map[domain.PairKey]domain.DirectLendState),
		directErr:   selectorMissing("getPositionDirectState"),
		enc:         make(map[domain.PairKey]domain.PositionEncumbrance),
		encErr:      selectorMissing("getPositionEncumbrance"),
		credit:      make(map[domain.PairKey]*uint256.Int),
		creditErr:   selectorMissing("pendingActiveCreditByPosition"),
		byKey:       make(map[common.Hash][]uint64),
		byID:        make(map[uint64][]uint64),
		auctions:    make(map[uint64]domain.Auction),
	}
}

func (f *fakeReader) count(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *fakeReader) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func page(ids []uint64, offset, limit uint64) domain.AuctionPage {
	total := uint64(len(ids))
	if offset >= total {
		return domain.AuctionPage{Total: total}
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return domain.AuctionPage{IDs: append([]uint64(nil), ids[offset:end]...), Total: total}
}

func (f *fakeReader) BalanceOf(context.Context, common.Address) (uint64, error) {
	f.count("balanceOf")
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	if f.balance != nil {
		return *f.balance, nil
	}
	return uint64(len(f.tokens)), nil
}

func (f *fakeReader) TokenOfOwnerByIndex(_ context.Context, _ common.Address, index uint64) (uint64, error) {
	f.count("tokenOfOwnerByIndex")
	if index >= uint64(len(f.tokens)) {
		return 0, fmt.Errorf("index %d out of range", index)
	}
	return f.tokens[index], nil
}

func (f *fakeReader) GetPositionKey(_ context.Context, tokenID uint64) (common.Hash, error) {
	f.count("getPositionKey")
	return f.keys[tokenID], nil
}

func (f *fakeReader) GetPoolID(_ context.Context, tokenID uint64) (uint64, error) {
	f.count("getPoolId")
	if err := f.poolIDErr[tokenID]; err != nil {
		return 0, err
	}
	return f.poolIDs[tokenID], nil
}

func (f *fakeReader) GetPositionPoolMemberships(_ context.Context, tokenID uint64) ([]domain.PositionMembership, error) {
	f.count("getPositionPoolMemberships")
	if err := f.memberErr[tokenID]; err != nil {
		return nil, err
	}
	return append([]domain.PositionMembership(nil), f.members[tokenID]...), nil
}

func (f *fakeReader) GetPositionState(_ context.Context, tokenID, poolID uint64) (domain.PositionState, error) {
	f.count("getPositionState")
	key := domain.PairKey{TokenID: tokenID, PoolID: poolID}
	if err := f.stateErr[key]; err != nil {
		return domain.PositionState{}, err
	}
	return f.states[key], nil
}

func (f *fakeReader) GetPositionPoolDataPoolOnly(_ context.Context, tokenID, poolID uint64) (domain.PoolScopedData, error) {
	f.count("getPositionPoolDataPoolOnly")
	if d, ok := f.poolOnly[domain.PairKey{TokenID: tokenID, PoolID: poolID}]; ok {
		return d, nil
	}
	return domain.PoolScopedData{}, f.poolOnlyErr
}

func (f *fakeReader) GetPositionDirectState(_ context.Context, tokenID, poolID uint64) (domain.DirectLendState, error) {
	f.count("getPositionDirectState")
	if d, ok := f.direct[domain.PairKey{TokenID: tokenID, PoolID: poolID}]; ok {
		return d, nil
	}
	return domain.DirectLendState{}, f.directErr
}

func (f *fakeReader) GetPositionEncumbrance(_ context.Context, tokenID, poolID uint64) (domain.PositionEncumbrance, error) {
	f.count("getPositionEncumbrance")
	if e, ok := f.enc[domain.PairKey{TokenID: tokenID, PoolID: poolID}]; ok {
		return e, nil
	}
	return domain.PositionEncumbrance{}, f.encErr
}

func (f *fakeReader) PendingActiveCreditByPosition(_ context.Context, poolID, tokenID uint64) (*uint256.Int, error) {
	f.count("pendingActiveCreditByPosition")
	if c, ok := f.credit[domain.PairKey{TokenID: tokenID, PoolID: poolID}]; ok {
		return c, nil
	}
	if f.creditErr != nil {
		return nil, f.creditErr
	}
	return u(0), nil
}

func (f *fakeReader) GetAuctionsByPosition(_ context.Context, key common.Hash, offset, limit uint64) (domain.AuctionPage, error) {
	f.count("getAuctionsByPosition")
	if f.byPosErr != nil {
		return domain.AuctionPage{}, f.byPosErr
	}
	return page(f.byKey[key], offset, limit), nil
}

func (f *fakeReader) GetAuctionsByPositionID(_ context.Context, tokenID, offset, limit uint64) (domain.AuctionPage, error) {
	f.count("getAuctionsByPositionId")
	if f.byPosErr != nil {
		return domain.AuctionPage{}, f.byPosErr
	}
	return page(f.byID[tokenID], offset, limit), nil
}

func (f *fakeReader) GetAmmAuction(_ context.Context, auctionID uint64) (domain.Auction, error) {
	f.count("getAmmAuction")
	a, ok := f.auctions[auctionID]
	if !ok {
		return domain.Auction{}, fmt.Errorf("auction %d not found", auctionID)
	}
	return a, nil
}

func (f *fakeReader) GetActiveAuctions(_ context.Context, offset, limit uint64) (domain.AuctionPage, error) {
	f.count("getActiveAuctions")
	if f.activeErr != nil {
		return domain.AuctionPage{}, f.activeErr
	}
	return page(f.active, offset, limit), nil
}

var _ domain.PositionReader = (*fakeReader)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testPools() *domain.PoolRegistry {
	reg, err := domain.NewPoolRegistry([]domain.Pool{
		{ID: 1, Name: "USD Coin", Ticker: "USDC", Decimals: 6, Asset: assetUSDC, LTVBps: 8000},
		{ID: 2, Name: "Wrapped Ether", Ticker: "WETH", Decimals: 18, Asset: assetWETH, LTVBps: 7500},
		{ID: 3, Name: "Dai", Ticker: "DAI", Decimals: 18, Asset: assetDAI, LTVBps: 7000},
		{ID: 4, Name: "Wrapped Ether Isolated", Ticker: "WETH", Decimals: 18, Asset: assetWETH, LTVBps: 5000},
	})
	if err != nil {
		panic(err)
	}
	return reg
}

func newTestEngine(r domain.PositionReader, cfg Config) (*Engine, *chain.Capabilities) {
	caps := chain.NewCapabilities(1, testContract, nil, discardLogger())
	return New(r, caps, testPools(), cfg, discardLogger()), caps
}

func member(token, pool uint64) domain.PositionMembership {
	return domain.PositionMembership{TokenID: token, PoolID: pool, IsMember: true, HasBalance: true}
}

func recordKeys(recs []domain.PositionRecord) []domain.PairKey {
	out := make([]domain.PairKey, len(recs))
	for i, r := range recs {
		out[i] = r.Key()
	}
	return out
}

type staleEpoch struct{ stale bool }

func (e staleEpoch) Generation() uint64 { return 7 }
func (e staleEpoch) Stale() bool        { return e.stale }
