package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// MergePolicy decides how the two auction scans combine.
type MergePolicy string

const (
	// MergeAdditive sums every contribution of both scans, so an auction
	// seen by both counts twice.
	MergeAdditive MergePolicy = "additive"
	// MergeDedupe keeps one contribution per (auction, token, pool), the
	// larger when the scans disagree.
	MergeDedupe MergePolicy = "dedupe"
)

// ParseMergePolicy validates a configured policy name. Empty selects
// additive.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(s) {
	case "", MergeAdditive:
		return MergeAdditive, nil
	case MergeDedupe:
		return MergeDedupe, nil
	default:
		return "", fmt.Errorf("engine: unknown auction merge policy %q", s)
	}
}

type reservationKey struct {
	auctionID uint64
	pair      domain.PairKey
}

// MergeReservations folds scan contributions into one amount per pair.
func MergeReservations(policy MergePolicy, scans ...[]domain.AuctionReservation) map[domain.PairKey]*uint256.Int {
	out := make(map[domain.PairKey]*uint256.Int)
	if policy == MergeDedupe {
		best := make(map[reservationKey]*uint256.Int)
		var order []reservationKey
		for _, scan := range scans {
			for _, r := range scan {
				k := reservationKey{auctionID: r.AuctionID, pair: r.Key()}
				cur, ok := best[k]
				if !ok {
					order = append(order, k)
				}
				best[k] = maxOf(cur, r.Amount)
			}
		}
		for _, k := range order {
			out[k.pair] = add(out[k.pair], best[k])
		}
		return out
	}
	for _, scan := range scans {
		for _, r := range scan {
			out[r.Key()] = add(out[r.Key()], r.Amount)
		}
	}
	return out
}

// scanByPosition lists each token's auctions through the per-position index,
// by position key when the token has one and by raw token id otherwise.
func (e *Engine) scanByPosition(ctx context.Context, tokens []domain.OwnedToken) []domain.AuctionReservation {
	if e.caps.Absent(domain.CapAuctionsByPosition) || len(tokens) == 0 {
		return nil
	}
	perToken := make([][]domain.AuctionReservation, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, t := range tokens {
		g.Go(func() error {
			ids, err := e.collectPages(gctx, func(offset, limit uint64) (domain.AuctionPage, error) {
				if t.HasKey() {
					return e.reader.GetAuctionsByPosition(gctx, t.PositionKey, offset, limit)
				}
				return e.reader.GetAuctionsByPositionID(gctx, t.TokenID, offset, limit)
			})
			e.caps.Observe(gctx, domain.CapAuctionsByPosition, err)
			if err != nil {
				e.scanFailed(gctx, domain.ScanByPosition, err)
				return nil
			}
			for _, a := range e.fetchAuctions(gctx, ids) {
				perToken[i] = append(perToken[i], reservations(a, t.TokenID, domain.ScanByPosition)...)
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.AuctionReservation
	for _, rs := range perToken {
		out = append(out, rs...)
	}
	return out
}

// scanGlobal walks every active auction and keeps those whose maker is one of
// the owner's tokens, matched by token id or position key.
func (e *Engine) scanGlobal(ctx context.Context, tokens []domain.OwnedToken) []domain.AuctionReservation {
	if e.caps.Absent(domain.CapActiveAuctions) || len(tokens) == 0 {
		return nil
	}
	ids, err := e.collectPages(ctx, func(offset, limit uint64) (domain.AuctionPage, error) {
		return e.reader.GetActiveAuctions(ctx, offset, limit)
	})
	e.caps.Observe(ctx, domain.CapActiveAuctions, err)
	if err != nil {
		e.scanFailed(ctx, domain.ScanGlobal, err)
		return nil
	}

	byID := make(map[uint64]uint64, len(tokens))
	byKey := make(map[common.Hash]uint64, len(tokens))
	for _, t := range tokens {
		byID[t.TokenID] = t.TokenID
		if t.HasKey() {
			byKey[t.PositionKey] = t.TokenID
		}
	}

	var out []domain.AuctionReservation
	for _, a := range e.fetchAuctions(ctx, ids) {
		tokenID, ok := byID[a.MakerPositionID]
		if !ok && a.MakerPositionKey != (common.Hash{}) {
			tokenID, ok = byKey[a.MakerPositionKey]
		}
		if !ok {
			continue
		}
		out = append(out, reservations(a, tokenID, domain.ScanGlobal)...)
	}
	return out
}

// collectPages drains a paged id listing. A failed page fails the listing.
func (e *Engine) collectPages(ctx context.Context, fetch func(offset, limit uint64) (domain.AuctionPage, error)) ([]uint64, error) {
	var ids []uint64
	limit := e.cfg.PageSize
	for offset := uint64(0); ; {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		page, err := fetch(offset, limit)
		if err != nil {
			return ids, err
		}
		ids = append(ids, page.IDs...)
		offset += uint64(len(page.IDs))
		switch {
		case uint64(len(page.IDs)) < limit:
			return ids, nil
		case page.Total > 0 && offset >= page.Total:
			return ids, nil
		case offset >= e.cfg.MaxAuctionIDs:
			e.logger.WarnContext(ctx, "auction listing truncated",
				slog.Uint64("read", offset),
				slog.Uint64("total", page.Total),
			)
			return ids, nil
		}
	}
}

// fetchAuctions loads auction details in listing order. Failed lookups are
// skipped, as are auctions that no longer hold reserves.
func (e *Engine) fetchAuctions(ctx context.Context, ids []uint64) []domain.Auction {
	details := make([]*domain.Auction, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			a, err := e.reader.GetAmmAuction(gctx, id)
			if err != nil {
				if gctx.Err() == nil {
					e.logger.WarnContext(gctx, "auction lookup failed",
						slog.Uint64("auction_id", id),
						slog.String("error", err.Error()),
					)
				}
				return nil
			}
			a.ID = id
			details[i] = &a
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Auction, 0, len(ids))
	for _, a := range details {
		if a != nil && a.Live() {
			out = append(out, *a)
		}
	}
	return out
}

// reservations splits a live auction into its two pool-side contributions.
func reservations(a domain.Auction, tokenID uint64, source domain.ScanSource) []domain.AuctionReservation {
	out := make([]domain.AuctionReservation, 0, 2)
	for _, side := range []struct {
		pool    uint64
		reserve *uint256.Int
	}{{a.PoolIDA, a.ReserveA}, {a.PoolIDB, a.ReserveB}} {
		if side.reserve == nil || side.reserve.IsZero() {
			continue
		}
		out = append(out, domain.AuctionReservation{
			AuctionID: a.ID,
			TokenID:   tokenID,
			PoolID:    side.pool,
			Amount:    new(uint256.Int).Set(side.reserve),
			Source:    source,
		})
	}
	return out
}

func (e *Engine) scanFailed(ctx context.Context, source domain.ScanSource, err error) {
	if ctx.Err() != nil || errors.Is(err, domain.ErrSelectorMissing) {
		return
	}
	e.logger.WarnContext(ctx, "auction scan degraded",
		slog.String("source", string(source)),
		slog.String("error", err.Error()),
	)
}
