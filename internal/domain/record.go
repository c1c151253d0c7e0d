package domain

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Amount carries one figure in every form consumers need: the raw on-chain
// integer (input to write paths), the exact decimal-scaled value, and the
// rounded display string.
type Amount struct {
	Raw     *uint256.Int
	Scaled  decimal.Decimal
	Display string
}

// IsZero reports whether the raw amount is zero or unset.
func (a Amount) IsZero() bool {
	return a.Raw == nil || a.Raw.IsZero()
}

type amountJSON struct {
	Raw     string `json:"raw"`
	Value   string `json:"value"`
	Display string `json:"display"`
}

// MarshalJSON encodes the amount with the raw integer as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	raw := "0"
	if a.Raw != nil {
		raw = a.Raw.Dec()
	}
	return json.Marshal(amountJSON{Raw: raw, Value: a.Scaled.String(), Display: a.Display})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var aj amountJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return err
	}
	raw, err := uint256.FromDecimal(aj.Raw)
	if err != nil {
		return fmt.Errorf("amount: raw %q: %w", aj.Raw, err)
	}
	scaled, err := decimal.NewFromString(aj.Value)
	if err != nil {
		return fmt.Errorf("amount: value %q: %w", aj.Value, err)
	}
	a.Raw = raw
	a.Scaled = scaled
	a.Display = aj.Display
	return nil
}

// PositionRecord is the display-ready, internally consistent view of one
// (token, pool) pair. Records are rebuilt wholesale every cycle.
type PositionRecord struct {
	TokenID     uint64 `json:"token_id"`
	PoolID      uint64 `json:"pool_id"`
	PositionKey string `json:"position_key"`
	PoolName    string `json:"pool_name"`
	Ticker      string `json:"ticker"`
	Decimals    uint8  `json:"decimals"`
	Asset       string `json:"asset"`
	LTVBps      uint16 `json:"ltv_bps"`

	Principal         Amount `json:"principal"`
	TotalLiabilities  Amount `json:"total_liabilities"`
	RollingDebt       Amount `json:"rolling_debt"`
	FixedDebt         Amount `json:"fixed_debt"`
	AccruedYield      Amount `json:"accrued_yield"`
	ActiveCreditYield Amount `json:"active_credit_yield"`
	TotalYield        Amount `json:"total_yield"`
	Locked            Amount `json:"locked"`
	Lent              Amount `json:"lent"`
	Committed         Amount `json:"committed"`
	AuctionCommitted  Amount `json:"auction_committed"`
	OfferEscrow       Amount `json:"offer_escrow"`
	IndexEncumbered   Amount `json:"index_encumbered"`
	TotalEncumbered   Amount `json:"total_encumbered"`
	Available         Amount `json:"available"`
	BorrowHeadroom    Amount `json:"borrow_headroom"`

	FixedLoanIDs []uint64 `json:"fixed_loan_ids"`

	IsMember                bool `json:"is_member"`
	HasBalance              bool `json:"has_balance"`
	HasActiveLoans          bool `json:"has_active_loans"`
	RollingActive           bool `json:"rolling_active"`
	IsDelinquent            bool `json:"is_delinquent"`
	EligibleForPenalty      bool `json:"eligible_for_penalty"`
	Synthetic               bool `json:"synthetic"`
	PoolDebtOverride        bool `json:"pool_debt_override"`
	AuthoritativeEncumbered bool `json:"authoritative_encumbrance"`
}

// Key returns the pair the record describes.
func (r PositionRecord) Key() PairKey {
	return PairKey{TokenID: r.TokenID, PoolID: r.PoolID}
}
