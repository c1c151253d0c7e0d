// Package chain reads position state from the lending protocol's diamond
// contract over JSON-RPC using go-ethereum.
package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Dial opens an RPC client for endpoint and verifies that the node serves
// the expected chain. A wantChainID of 0 skips the check.
func Dial(ctx context.Context, endpoint string, wantChainID uint64) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", trimmed, err)
	}
	if wantChainID == 0 {
		return client, nil
	}
	got, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if !got.IsUint64() || got.Uint64() != wantChainID {
		client.Close()
		return nil, fmt.Errorf("chain: endpoint serves chain %s, want %d", got, wantChainID)
	}
	return client, nil
}
