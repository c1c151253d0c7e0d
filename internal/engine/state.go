package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionview/internal/domain"
)

type fetchedState struct {
	state domain.PositionState
	// poolDebt is the pool-only override, nil when that view did not answer.
	poolDebt *uint256.Int
	dropped  bool
}

// fetchStates reads the canonical state of every pair, plus the pool-only
// debt override where the deployment has it. An invalid token drops the
// pair; any other state failure is fatal.
func (e *Engine) fetchStates(ctx context.Context, pairs []pair) ([]fetchedState, error) {
	out := make([]fetchedState, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, p := range pairs {
		g.Go(func() error {
			key := p.membership.Key()
			st, err := e.reader.GetPositionState(gctx, key.TokenID, key.PoolID)
			if errors.Is(err, domain.ErrInvalidToken) {
				e.logger.DebugContext(gctx, "pair dropped",
					slog.String("pair", key.String()),
					slog.String("reason", "invalid token"),
				)
				out[i] = fetchedState{dropped: true}
				return nil
			}
			if err != nil {
				return fmt.Errorf("engine: state of %s: %w", key, err)
			}
			st.TokenID, st.PoolID = key.TokenID, key.PoolID

			debt, err := e.poolOnlyDebt(gctx, key)
			if err != nil {
				return err
			}
			out[i] = fetchedState{state: st, poolDebt: debt}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) poolOnlyDebt(ctx context.Context, key domain.PairKey) (*uint256.Int, error) {
	if e.caps.Absent(domain.CapPoolOnlyDebt) {
		return nil, nil
	}
	data, err := e.reader.GetPositionPoolDataPoolOnly(ctx, key.TokenID, key.PoolID)
	e.caps.Observe(ctx, domain.CapPoolOnlyDebt, err)
	switch {
	case err == nil:
		return orZero(data.PoolDebt), nil
	case errors.Is(err, domain.ErrSelectorMissing), errors.Is(err, domain.ErrInvalidToken):
		return nil, nil
	default:
		return nil, fmt.Errorf("engine: pool-only data of %s: %w", key, err)
	}
}
