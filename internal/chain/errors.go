package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// Outcome labels used for call metrics.
const (
	OutcomeOK              = "ok"
	OutcomeSelectorMissing = "selector_missing"
	OutcomeInvalidToken    = "invalid_token"
	OutcomeError           = "error"
)

var (
	functionNotFoundSelector = errorSelector("FunctionNotFound(bytes4)")

	invalidTokenSelectors = [][]byte{
		errorSelector("InvalidTokenId()"),
		errorSelector("InvalidTokenId(uint256)"),
		errorSelector("ERC721NonexistentToken(uint256)"),
	}

	// Revert text emitted by diamond proxies and nodes when no facet
	// implements the selector.
	selectorMissingHints = []string{
		"function does not exist",
		"functionnotfound",
		"selector not found",
		"function selector was not recognized",
		"unrecognized selector",
		"no fallback function",
	}

	invalidTokenHints = []string{
		"invalidtokenid",
		"invalid token id",
		"erc721nonexistenttoken",
		"nonexistent token",
	}
)

func errorSelector(sig string) []byte {
	return ethcrypto.Keccak256([]byte(sig))[:4]
}

// Classify wraps a raw RPC error from method so that callers can test it with
// errors.Is against domain.ErrSelectorMissing or domain.ErrInvalidToken. Any
// other error is wrapped unchanged.
func Classify(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("chain: %s: %w", method, err)
	}
	if errors.Is(err, domain.ErrSelectorMissing) || errors.Is(err, domain.ErrInvalidToken) {
		return fmt.Errorf("chain: %s: %w", method, err)
	}

	data := revertData(err)
	if len(data) >= 4 {
		sel := data[:4]
		if bytes.Equal(sel, functionNotFoundSelector) {
			return fmt.Errorf("chain: %s: %w: %w", method, domain.ErrSelectorMissing, err)
		}
		for _, s := range invalidTokenSelectors {
			if bytes.Equal(sel, s) {
				return fmt.Errorf("chain: %s: %w: %w", method, domain.ErrInvalidToken, err)
			}
		}
	}

	text := strings.ToLower(err.Error())
	if reason, uerr := abi.UnpackRevert(data); uerr == nil {
		text += " " + strings.ToLower(reason)
	}
	switch {
	case containsAny(text, selectorMissingHints):
		return fmt.Errorf("chain: %s: %w: %w", method, domain.ErrSelectorMissing, err)
	case containsAny(text, invalidTokenHints):
		return fmt.Errorf("chain: %s: %w: %w", method, domain.ErrInvalidToken, err)
	default:
		return fmt.Errorf("chain: %s: %w", method, err)
	}
}

// OutcomeOf returns the metrics label for a classified error.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, domain.ErrSelectorMissing):
		return OutcomeSelectorMissing
	case errors.Is(err, domain.ErrInvalidToken):
		return OutcomeInvalidToken
	default:
		return OutcomeError
	}
}

// revertData extracts the revert payload carried by JSON-RPC errors.
func revertData(err error) []byte {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil
	}
	switch d := de.ErrorData().(type) {
	case string:
		b, derr := hexutil.Decode(d)
		if derr != nil {
			return nil
		}
		return b
	case []byte:
		return d
	default:
		return nil
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
