package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// tokenMemberships is a surviving token with its pools in ascending order. An
// empty list means the token gets a synthetic record.
type tokenMemberships struct {
	token       domain.OwnedToken
	memberships []domain.PositionMembership
}

type membershipAnswer struct {
	memberships []domain.PositionMembership
	err         error
}

// resolveMemberships picks one strategy for the whole token set. The
// multi-pool view is tried first unless it is known to be absent; when every
// token reports it missing the legacy single-pool lookup is used instead.
func (e *Engine) resolveMemberships(ctx context.Context, tokens []domain.OwnedToken) ([]tokenMemberships, domain.MembershipStrategy, error) {
	if len(tokens) == 0 {
		return nil, domain.StrategyNone, nil
	}
	if e.caps.Absent(domain.CapMembership) {
		out, err := e.fallbackMemberships(ctx, tokens)
		return out, domain.StrategyFallback, err
	}

	answers := make([]membershipAnswer, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, t := range tokens {
		g.Go(func() error {
			ms, err := e.reader.GetPositionPoolMemberships(gctx, t.TokenID)
			answers[i] = membershipAnswer{memberships: ms, err: err}
			if err != nil && !errors.Is(err, domain.ErrSelectorMissing) && !errors.Is(err, domain.ErrInvalidToken) {
				return fmt.Errorf("engine: memberships of token %d: %w", t.TokenID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	var missing int
	for _, a := range answers {
		if errors.Is(a.err, domain.ErrSelectorMissing) {
			missing++
		}
	}
	switch {
	case missing == len(tokens):
		e.caps.MarkAbsent(ctx, domain.CapMembership)
		e.logger.InfoContext(ctx, "multi-pool membership view missing, using single-pool lookup",
			slog.Int("tokens", len(tokens)),
		)
		out, err := e.fallbackMemberships(ctx, tokens)
		return out, domain.StrategyFallback, err
	case missing > 0:
		return nil, "", fmt.Errorf("engine: memberships missing for %d of %d tokens: %w",
			missing, len(tokens), domain.ErrInconsistentDeployment)
	}
	e.caps.Observe(ctx, domain.CapMembership, nil)

	out := make([]tokenMemberships, 0, len(tokens))
	for i, a := range answers {
		if a.err != nil {
			e.logger.DebugContext(ctx, "token dropped",
				slog.Uint64("token_id", tokens[i].TokenID),
				slog.String("reason", "invalid token"),
			)
			continue
		}
		ms := make([]domain.PositionMembership, 0, len(a.memberships))
		for _, m := range a.memberships {
			if !m.IsMember {
				continue
			}
			m.TokenID = tokens[i].TokenID
			ms = append(ms, m)
		}
		out = append(out, tokenMemberships{token: tokens[i], memberships: sortMemberships(ms)})
	}
	return out, domain.StrategyPrimary, nil
}

// fallbackMemberships derives at most one membership per token from the
// token's single pool id.
func (e *Engine) fallbackMemberships(ctx context.Context, tokens []domain.OwnedToken) ([]tokenMemberships, error) {
	poolIDs := make([]uint64, len(tokens))
	dropped := make([]bool, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, t := range tokens {
		g.Go(func() error {
			id, err := e.reader.GetPoolID(gctx, t.TokenID)
			switch {
			case err == nil:
				poolIDs[i] = id
			case errors.Is(err, domain.ErrInvalidToken):
				dropped[i] = true
			default:
				return fmt.Errorf("engine: pool id of token %d: %w", t.TokenID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]tokenMemberships, 0, len(tokens))
	for i, t := range tokens {
		if dropped[i] {
			e.logger.DebugContext(ctx, "token dropped",
				slog.Uint64("token_id", t.TokenID),
				slog.String("reason", "invalid token"),
			)
			continue
		}
		tm := tokenMemberships{token: t}
		if poolIDs[i] != 0 {
			tm.memberships = []domain.PositionMembership{{
				TokenID:  t.TokenID,
				PoolID:   poolIDs[i],
				IsMember: true,
				Derived:  true,
			}}
		}
		out = append(out, tm)
	}
	return out, nil
}
