package engine

import (
	"context"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// resolveActiveCredit reads the pending active-credit yield of every pair.
// Slots stay nil, meaning zero, when the view is missing or fails.
func (e *Engine) resolveActiveCredit(ctx context.Context, pairs []pair) []*uint256.Int {
	out := make([]*uint256.Int, len(pairs))
	if e.caps.Absent(domain.CapActiveCredit) {
		return out
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, p := range pairs {
		key := p.membership.Key()
		g.Go(func() error {
			pending, err := e.reader.PendingActiveCreditByPosition(gctx, key.PoolID, key.TokenID)
			e.caps.Observe(gctx, domain.CapActiveCredit, err)
			if err != nil {
				e.degraded(gctx, "active credit", key, err)
				return nil
			}
			out[i] = pending
			return nil
		})
	}
	_ = g.Wait()
	return out
}
