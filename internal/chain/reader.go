package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// Caller is the subset of the Ethereum RPC used by the Reader. It is
// satisfied by *ethclient.Client.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// CallObserver receives the outcome label and latency of every contract call.
type CallObserver func(method, outcome string, elapsed time.Duration)

// Reader implements domain.PositionReader against the position diamond.
type Reader struct {
	caller      Caller
	contract    common.Address
	abi         abi.ABI
	callTimeout time.Duration
	observe     CallObserver
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithCallTimeout bounds every individual contract call.
func WithCallTimeout(d time.Duration) ReaderOption {
	return func(r *Reader) { r.callTimeout = d }
}

// WithObserver installs a per-call observer, typically metrics.
func WithObserver(o CallObserver) ReaderOption {
	return func(r *Reader) { r.observe = o }
}

// NewReader creates a Reader for the diamond at contract.
func NewReader(caller Caller, contract common.Address, opts ...ReaderOption) *Reader {
	r := &Reader{
		caller:   caller,
		contract: contract,
		abi:      parsedABI,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Contract returns the address the reader calls.
func (r *Reader) Contract() common.Address {
	return r.contract
}

// call packs, executes, classifies and unpacks one read.
func (r *Reader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	start := time.Now()
	to := r.contract
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err == nil && len(out) == 0 {
		// No return data at all: the address has no code for this selector.
		err = fmt.Errorf("empty return data: %w", domain.ErrSelectorMissing)
	}
	err = Classify(method, err)
	if r.observe != nil {
		r.observe(method, OutcomeOf(err), time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w: %v", method, domain.ErrDecode, err)
	}
	return values, nil
}

func u256(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// BalanceOf returns how many position tokens owner holds.
func (r *Reader) BalanceOf(ctx context.Context, owner common.Address) (uint64, error) {
	out, err := r.call(ctx, "balanceOf", owner)
	if err != nil {
		return 0, err
	}
	return decodeScalarID(out, "balance")
}

// TokenOfOwnerByIndex returns the index-th token owned by owner.
func (r *Reader) TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index uint64) (uint64, error) {
	out, err := r.call(ctx, "tokenOfOwnerByIndex", owner, u256(index))
	if err != nil {
		return 0, err
	}
	return decodeScalarID(out, "tokenId")
}

// GetPositionKey returns the opaque position key of a token.
func (r *Reader) GetPositionKey(ctx context.Context, tokenID uint64) (common.Hash, error) {
	out, err := r.call(ctx, "getPositionKey", u256(tokenID))
	if err != nil {
		return common.Hash{}, err
	}
	return decodeHash(out, "positionKey")
}

// GetPoolID returns the single pool of a token on legacy deployments.
func (r *Reader) GetPoolID(ctx context.Context, tokenID uint64) (uint64, error) {
	out, err := r.call(ctx, "getPoolId", u256(tokenID))
	if err != nil {
		return 0, err
	}
	return decodeScalarID(out, "poolId")
}

// GetPositionPoolMemberships returns every pool the token is a member of.
func (r *Reader) GetPositionPoolMemberships(ctx context.Context, tokenID uint64) ([]domain.PositionMembership, error) {
	out, err := r.call(ctx, "getPositionPoolMemberships", u256(tokenID))
	if err != nil {
		return nil, err
	}
	return decodeMemberships(tokenID, out)
}

// GetPositionState returns the pool's canonical view of the position.
func (r *Reader) GetPositionState(ctx context.Context, tokenID, poolID uint64) (domain.PositionState, error) {
	out, err := r.call(ctx, "getPositionState", u256(tokenID), u256(poolID))
	if err != nil {
		return domain.PositionState{}, err
	}
	return decodePositionState(tokenID, poolID, out)
}

// GetPositionPoolDataPoolOnly returns the pool-scoped principal and debt.
func (r *Reader) GetPositionPoolDataPoolOnly(ctx context.Context, tokenID, poolID uint64) (domain.PoolScopedData, error) {
	out, err := r.call(ctx, "getPositionPoolDataPoolOnly", u256(tokenID), u256(poolID))
	if err != nil {
		return domain.PoolScopedData{}, err
	}
	return decodePoolScoped(out)
}

// GetPositionDirectState returns locked and lent direct-lending capital.
func (r *Reader) GetPositionDirectState(ctx context.Context, tokenID, poolID uint64) (domain.DirectLendState, error) {
	out, err := r.call(ctx, "getPositionDirectState", u256(tokenID), u256(poolID))
	if err != nil {
		return domain.DirectLendState{}, err
	}
	return decodeDirectState(tokenID, poolID, out)
}

// GetPositionEncumbrance returns the authoritative encumbrance breakdown.
func (r *Reader) GetPositionEncumbrance(ctx context.Context, tokenID, poolID uint64) (domain.PositionEncumbrance, error) {
	out, err := r.call(ctx, "getPositionEncumbrance", u256(tokenID), u256(poolID))
	if err != nil {
		return domain.PositionEncumbrance{}, err
	}
	return decodeEncumbrance(out)
}

// PendingActiveCreditByPosition returns pending protocol-wide yield.
func (r *Reader) PendingActiveCreditByPosition(ctx context.Context, poolID, tokenID uint64) (*uint256.Int, error) {
	out, err := r.call(ctx, "pendingActiveCreditByPosition", u256(poolID), u256(tokenID))
	if err != nil {
		return nil, err
	}
	return decodeScalarAmount(out, "pending")
}

// GetAuctionsByPosition pages through auctions tied to a position key.
func (r *Reader) GetAuctionsByPosition(ctx context.Context, key common.Hash, offset, limit uint64) (domain.AuctionPage, error) {
	out, err := r.call(ctx, "getAuctionsByPosition", [32]byte(key), u256(offset), u256(limit))
	if err != nil {
		return domain.AuctionPage{}, err
	}
	return decodeAuctionPage(out)
}

// GetAuctionsByPositionID pages through auctions tied to a raw token id.
func (r *Reader) GetAuctionsByPositionID(ctx context.Context, tokenID, offset, limit uint64) (domain.AuctionPage, error) {
	out, err := r.call(ctx, "getAuctionsByPositionId", u256(tokenID), u256(offset), u256(limit))
	if err != nil {
		return domain.AuctionPage{}, err
	}
	return decodeAuctionPage(out)
}

// GetAmmAuction returns one auction's detail.
func (r *Reader) GetAmmAuction(ctx context.Context, auctionID uint64) (domain.Auction, error) {
	out, err := r.call(ctx, "getAmmAuction", u256(auctionID))
	if err != nil {
		return domain.Auction{}, err
	}
	return decodeAuction(auctionID, out)
}

// GetActiveAuctions pages through every active auction.
func (r *Reader) GetActiveAuctions(ctx context.Context, offset, limit uint64) (domain.AuctionPage, error) {
	out, err := r.call(ctx, "getActiveAuctions", u256(offset), u256(limit))
	if err != nil {
		return domain.AuctionPage{}, err
	}
	return decodeAuctionPage(out)
}

// Compile-time interface check.
var _ domain.PositionReader = (*Reader)(nil)
