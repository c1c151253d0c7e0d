package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// resolveInventory enumerates the owner's position tokens in index order and
// resolves each token's position key. Any failure is fatal, as is a balance
// above the configured token limit.
func (e *Engine) resolveInventory(ctx context.Context, owner common.Address) ([]domain.OwnedToken, error) {
	balance, err := e.reader.BalanceOf(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("engine: inventory balance: %w", err)
	}
	if balance == 0 {
		return nil, nil
	}
	if balance > e.cfg.MaxTokens {
		return nil, fmt.Errorf("engine: inventory balance %d exceeds limit %d: %w", balance, e.cfg.MaxTokens, domain.ErrDecode)
	}

	tokens := make([]domain.OwnedToken, balance)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i := range tokens {
		g.Go(func() error {
			id, err := e.reader.TokenOfOwnerByIndex(gctx, owner, uint64(i))
			if err != nil {
				return fmt.Errorf("engine: inventory index %d: %w", i, err)
			}
			key, err := e.reader.GetPositionKey(gctx, id)
			if err != nil {
				return fmt.Errorf("engine: inventory key of token %d: %w", id, err)
			}
			tokens[i] = domain.OwnedToken{TokenID: id, PositionKey: key}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tokens, nil
}
