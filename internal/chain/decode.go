package chain

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// Contract responses arrive either positional (multiple outputs, or a
// []any) or named (a tuple decoded into a struct, or a map). The decode
// functions below normalize both shapes into domain types at the boundary,
// once.

// tuple reads fields from a decoded value regardless of its shape.
type tuple struct {
	list  []any
	named reflect.Value
	m     map[string]any
}

func asTuple(v any) (tuple, error) {
	switch t := v.(type) {
	case []any:
		return tuple{list: t}, nil
	case map[string]any:
		return tuple{m: t}, nil
	case tuple:
		return t, nil
	}
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return tuple{}, fmt.Errorf("%w: nil tuple", domain.ErrDecode)
		}
		rv = rv.Elem()
	}
	if rv.IsValid() && rv.Kind() == reflect.Struct {
		return tuple{named: rv}, nil
	}
	return tuple{}, fmt.Errorf("%w: unexpected shape %T", domain.ErrDecode, v)
}

// outputsTuple treats a single tuple-typed output as the record itself and
// multiple outputs as a positional record.
func outputsTuple(outputs []any) (tuple, error) {
	if len(outputs) == 1 {
		if t, err := asTuple(outputs[0]); err == nil {
			return t, nil
		}
	}
	return tuple{list: outputs}, nil
}

func (t tuple) field(i int, name string) (any, error) {
	switch {
	case t.list != nil:
		if i >= len(t.list) {
			return nil, fmt.Errorf("%w: field %s missing (index %d of %d)", domain.ErrDecode, name, i, len(t.list))
		}
		return t.list[i], nil
	case t.m != nil:
		v, ok := t.m[name]
		if !ok {
			return nil, fmt.Errorf("%w: field %s missing", domain.ErrDecode, name)
		}
		return v, nil
	case t.named.IsValid():
		f := t.named.FieldByName(abi.ToCamelCase(name))
		if !f.IsValid() {
			return nil, fmt.Errorf("%w: field %s missing", domain.ErrDecode, name)
		}
		return f.Interface(), nil
	default:
		return nil, fmt.Errorf("%w: empty tuple", domain.ErrDecode)
	}
}

func (t tuple) amount(i int, name string) (*uint256.Int, error) {
	v, err := t.field(i, name)
	if err != nil {
		return nil, err
	}
	return toAmount(v, name)
}

func (t tuple) id(i int, name string) (uint64, error) {
	v, err := t.field(i, name)
	if err != nil {
		return 0, err
	}
	return toID(v, name)
}

func (t tuple) flag(i int, name string) (bool, error) {
	v, err := t.field(i, name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s: want bool, got %T", domain.ErrDecode, name, v)
	}
	return b, nil
}

func (t tuple) hash(i int, name string) (common.Hash, error) {
	v, err := t.field(i, name)
	if err != nil {
		return common.Hash{}, err
	}
	return toHash(v, name)
}

func (t tuple) ids(i int, name string) ([]uint64, error) {
	v, err := t.field(i, name)
	if err != nil {
		return nil, err
	}
	return toIDs(v, name)
}

func (t tuple) sub(i int, name string) (tuple, error) {
	v, err := t.field(i, name)
	if err != nil {
		return tuple{}, err
	}
	return asTuple(v)
}

func toAmount(v any, name string) (*uint256.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return uint256.NewInt(0), nil
		}
		out, overflow := uint256.FromBig(n)
		if overflow || n.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s: %s out of uint256 range", domain.ErrDecode, name, n)
		}
		return out, nil
	case big.Int:
		return toAmount(&n, name)
	case *uint256.Int:
		if n == nil {
			return uint256.NewInt(0), nil
		}
		return new(uint256.Int).Set(n), nil
	case uint64:
		return uint256.NewInt(n), nil
	case uint32:
		return uint256.NewInt(uint64(n)), nil
	case uint16:
		return uint256.NewInt(uint64(n)), nil
	case uint8:
		return uint256.NewInt(uint64(n)), nil
	case int:
		if n < 0 {
			return nil, fmt.Errorf("%w: %s: negative %d", domain.ErrDecode, name, n)
		}
		return uint256.NewInt(uint64(n)), nil
	default:
		return nil, fmt.Errorf("%w: %s: want integer, got %T", domain.ErrDecode, name, v)
	}
}

func toID(v any, name string) (uint64, error) {
	a, err := toAmount(v, name)
	if err != nil {
		return 0, err
	}
	if !a.IsUint64() {
		return 0, fmt.Errorf("%w: %s: %s does not fit uint64", domain.ErrDecode, name, a.Dec())
	}
	return a.Uint64(), nil
}

func toHash(v any, name string) (common.Hash, error) {
	switch h := v.(type) {
	case [32]byte:
		return common.Hash(h), nil
	case common.Hash:
		return h, nil
	case []byte:
		if len(h) != 32 {
			return common.Hash{}, fmt.Errorf("%w: %s: want 32 bytes, got %d", domain.ErrDecode, name, len(h))
		}
		return common.BytesToHash(h), nil
	default:
		return common.Hash{}, fmt.Errorf("%w: %s: want bytes32, got %T", domain.ErrDecode, name, v)
	}
}

func toIDs(v any, name string) ([]uint64, error) {
	switch s := v.(type) {
	case []*big.Int:
		out := make([]uint64, 0, len(s))
		for _, n := range s {
			id, err := toID(n, name)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	case []any:
		out := make([]uint64, 0, len(s))
		for _, n := range s {
			id, err := toID(n, name)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	case []uint64:
		return append([]uint64(nil), s...), nil
	default:
		return nil, fmt.Errorf("%w: %s: want uint256[], got %T", domain.ErrDecode, name, v)
	}
}

func decodeScalarID(outputs []any, name string) (uint64, error) {
	if len(outputs) == 0 {
		return 0, fmt.Errorf("%w: %s: no outputs", domain.ErrDecode, name)
	}
	return toID(outputs[0], name)
}

func decodeScalarAmount(outputs []any, name string) (*uint256.Int, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: %s: no outputs", domain.ErrDecode, name)
	}
	return toAmount(outputs[0], name)
}

func decodeHash(outputs []any, name string) (common.Hash, error) {
	if len(outputs) == 0 {
		return common.Hash{}, fmt.Errorf("%w: %s: no outputs", domain.ErrDecode, name)
	}
	return toHash(outputs[0], name)
}

// decodeMemberships keeps only pools where isMember is true.
func decodeMemberships(tokenID uint64, outputs []any) ([]domain.PositionMembership, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: memberships: no outputs", domain.ErrDecode)
	}
	rv := reflect.ValueOf(outputs[0])
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%w: memberships: want list, got %T", domain.ErrDecode, outputs[0])
	}
	out := make([]domain.PositionMembership, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		t, err := asTuple(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		poolID, err := t.id(0, "poolId")
		if err != nil {
			return nil, err
		}
		isMember, err := t.flag(1, "isMember")
		if err != nil {
			return nil, err
		}
		hasBalance, err := t.flag(2, "hasBalance")
		if err != nil {
			return nil, err
		}
		hasLoans, err := t.flag(3, "hasActiveLoans")
		if err != nil {
			return nil, err
		}
		if !isMember {
			continue
		}
		out = append(out, domain.PositionMembership{
			TokenID:        tokenID,
			PoolID:         poolID,
			IsMember:       true,
			HasBalance:     hasBalance,
			HasActiveLoans: hasLoans,
		})
	}
	return out, nil
}

func decodePositionState(tokenID, poolID uint64, outputs []any) (domain.PositionState, error) {
	t, err := outputsTuple(outputs)
	if err != nil {
		return domain.PositionState{}, err
	}
	st := domain.PositionState{TokenID: tokenID, PoolID: poolID}
	if st.Principal, err = t.amount(0, "principal"); err != nil {
		return domain.PositionState{}, err
	}
	if st.AccruedYield, err = t.amount(1, "accruedYield"); err != nil {
		return domain.PositionState{}, err
	}
	rolling, err := t.sub(2, "rollingLoan")
	if err != nil {
		return domain.PositionState{}, err
	}
	if st.RollingLoan.Active, err = rolling.flag(0, "active"); err != nil {
		return domain.PositionState{}, err
	}
	if st.RollingLoan.PrincipalRemaining, err = rolling.amount(1, "principalRemaining"); err != nil {
		return domain.PositionState{}, err
	}
	if st.FixedLoanIDs, err = t.ids(3, "fixedLoanIds"); err != nil {
		return domain.PositionState{}, err
	}
	if st.TotalDebt, err = t.amount(4, "totalDebt"); err != nil {
		return domain.PositionState{}, err
	}
	if st.IsDelinquent, err = t.flag(5, "isDelinquent"); err != nil {
		return domain.PositionState{}, err
	}
	if st.EligibleForPenalty, err = t.flag(6, "eligibleForPenalty"); err != nil {
		return domain.PositionState{}, err
	}
	return st, nil
}

func decodePoolScoped(outputs []any) (domain.PoolScopedData, error) {
	t, err := outputsTuple(outputs)
	if err != nil {
		return domain.PoolScopedData{}, err
	}
	principal, err := t.amount(0, "principal")
	if err != nil {
		return domain.PoolScopedData{}, err
	}
	debt, err := t.amount(1, "poolDebt")
	if err != nil {
		return domain.PoolScopedData{}, err
	}
	return domain.PoolScopedData{Principal: principal, PoolDebt: debt}, nil
}

func decodeDirectState(tokenID, poolID uint64, outputs []any) (domain.DirectLendState, error) {
	t, err := outputsTuple(outputs)
	if err != nil {
		return domain.DirectLendState{}, err
	}
	locked, err := t.amount(0, "locked")
	if err != nil {
		return domain.DirectLendState{}, err
	}
	lent, err := t.amount(1, "lent")
	if err != nil {
		return domain.DirectLendState{}, err
	}
	return domain.DirectLendState{TokenID: tokenID, PoolID: poolID, Locked: locked, Lent: lent}, nil
}

func decodeEncumbrance(outputs []any) (domain.PositionEncumbrance, error) {
	t, err := outputsTuple(outputs)
	if err != nil {
		return domain.PositionEncumbrance{}, err
	}
	var enc domain.PositionEncumbrance
	if enc.DirectLocked, err = t.amount(0, "directLocked"); err != nil {
		return domain.PositionEncumbrance{}, err
	}
	if enc.DirectLent, err = t.amount(1, "directLent"); err != nil {
		return domain.PositionEncumbrance{}, err
	}
	if enc.DirectOfferEscrow, err = t.amount(2, "directOfferEscrow"); err != nil {
		return domain.PositionEncumbrance{}, err
	}
	if enc.IndexEncumbered, err = t.amount(3, "indexEncumbered"); err != nil {
		return domain.PositionEncumbrance{}, err
	}
	if enc.TotalEncumbered, err = t.amount(4, "totalEncumbered"); err != nil {
		return domain.PositionEncumbrance{}, err
	}
	return enc, nil
}

func decodeAuctionPage(outputs []any) (domain.AuctionPage, error) {
	t := tuple{list: outputs}
	if len(outputs) == 1 {
		// A single struct-shaped output carrying both fields.
		if named, err := asTuple(outputs[0]); err == nil {
			t = named
		}
	}
	ids, err := t.ids(0, "ids")
	if err != nil {
		return domain.AuctionPage{}, err
	}
	total, err := t.id(1, "total")
	if err != nil {
		return domain.AuctionPage{}, err
	}
	return domain.AuctionPage{IDs: ids, Total: total}, nil
}

func decodeAuction(id uint64, outputs []any) (domain.Auction, error) {
	t, err := outputsTuple(outputs)
	if err != nil {
		return domain.Auction{}, err
	}
	a := domain.Auction{ID: id}
	if a.MakerPositionKey, err = t.hash(0, "makerPositionKey"); err != nil {
		return domain.Auction{}, err
	}
	if a.MakerPositionID, err = t.id(1, "makerPositionId"); err != nil {
		return domain.Auction{}, err
	}
	if a.PoolIDA, err = t.id(2, "poolIdA"); err != nil {
		return domain.Auction{}, err
	}
	if a.PoolIDB, err = t.id(3, "poolIdB"); err != nil {
		return domain.Auction{}, err
	}
	if a.ReserveA, err = t.amount(4, "reserveA"); err != nil {
		return domain.Auction{}, err
	}
	if a.ReserveB, err = t.amount(5, "reserveB"); err != nil {
		return domain.Auction{}, err
	}
	if a.Active, err = t.flag(8, "active"); err != nil {
		return domain.Auction{}, err
	}
	if a.Finalized, err = t.flag(9, "finalized"); err != nil {
		return domain.Auction{}, err
	}
	return a, nil
}
