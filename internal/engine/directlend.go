package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// assetKey identifies the direct-lend figures of a token for one underlying
// asset. Pools of unknown asset are keyed by their own id.
type assetKey struct {
	tokenID uint64
	asset   common.Address
	poolID  uint64
}

func keyFor(tokenID uint64, pool domain.Pool) assetKey {
	k := assetKey{tokenID: tokenID, asset: pool.Asset}
	if pool.Asset == (common.Address{}) {
		k.poolID = pool.ID
	}
	return k
}

// directLend holds the degradable direct-lending views of a cycle.
type directLend struct {
	byAsset     map[assetKey]*domain.DirectLendState
	encumbrance map[domain.PairKey]*domain.PositionEncumbrance
}

func (d directLend) forPair(p pair, pool domain.Pool) *domain.DirectLendState {
	return d.byAsset[keyFor(p.token.TokenID, pool)]
}

// resolveDirectLend reads the direct-lend state once per (token, asset),
// through the lowest-id member pool of that asset, and the authoritative
// encumbrance of every pair. Failures degrade to absent figures.
func (e *Engine) resolveDirectLend(ctx context.Context, pairs []pair) directLend {
	out := directLend{
		byAsset:     make(map[assetKey]*domain.DirectLendState),
		encumbrance: make(map[domain.PairKey]*domain.PositionEncumbrance),
	}
	reps := make(map[assetKey]domain.PairKey)
	var order []assetKey
	for _, p := range pairs {
		k := keyFor(p.token.TokenID, e.pools.Resolve(p.membership.PoolID))
		if cur, ok := reps[k]; ok && cur.PoolID <= p.membership.PoolID {
			continue
		} else if !ok {
			order = append(order, k)
		}
		reps[k] = p.membership.Key()
	}

	states := make([]*domain.DirectLendState, len(order))
	encs := make([]*domain.PositionEncumbrance, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	if !e.caps.Absent(domain.CapDirectState) {
		for i, k := range order {
			rep := reps[k]
			g.Go(func() error {
				st, err := e.reader.GetPositionDirectState(gctx, rep.TokenID, rep.PoolID)
				e.caps.Observe(gctx, domain.CapDirectState, err)
				if err != nil {
					e.degraded(gctx, "direct state", rep, err)
					return nil
				}
				states[i] = &st
				return nil
			})
		}
	}
	if !e.caps.Absent(domain.CapEncumbrance) {
		for i, p := range pairs {
			key := p.membership.Key()
			g.Go(func() error {
				enc, err := e.reader.GetPositionEncumbrance(gctx, key.TokenID, key.PoolID)
				e.caps.Observe(gctx, domain.CapEncumbrance, err)
				if err != nil {
					e.degraded(gctx, "encumbrance", key, err)
					return nil
				}
				encs[i] = &enc
				return nil
			})
		}
	}
	_ = g.Wait()

	for i, k := range order {
		if states[i] != nil {
			out.byAsset[k] = states[i]
		}
	}
	for i, p := range pairs {
		if encs[i] != nil {
			out.encumbrance[p.membership.Key()] = encs[i]
		}
	}
	return out
}

// degraded logs a source that fell back to zero. Missing interfaces and
// cancellation are expected and stay quiet.
func (e *Engine) degraded(ctx context.Context, source string, key domain.PairKey, err error) {
	if ctx.Err() != nil || errors.Is(err, domain.ErrSelectorMissing) || errors.Is(err, domain.ErrInvalidToken) {
		return
	}
	e.logger.WarnContext(ctx, "source degraded",
		slog.String("source", source),
		slog.String("pair", key.String()),
		slog.String("error", err.Error()),
	)
}
