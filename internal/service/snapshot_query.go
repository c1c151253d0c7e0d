package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps one history page.
	MaxHistoryLimit = 200
)

// SnapshotQuery reads published snapshots: the latest one from the cache
// with the store behind it, and history from the store.
type SnapshotQuery struct {
	cache  domain.SnapshotCache
	store  domain.SnapshotStore
	logger *slog.Logger
}

// NewSnapshotQuery creates a SnapshotQuery. Either source may be nil.
func NewSnapshotQuery(cache domain.SnapshotCache, store domain.SnapshotStore, logger *slog.Logger) *SnapshotQuery {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotQuery{
		cache:  cache,
		store:  store,
		logger: logger.With(slog.String("component", "snapshot_query")),
	}
}

// HistoryEnabled reports whether snapshots are persisted.
func (q *SnapshotQuery) HistoryEnabled() bool {
	return q.store != nil
}

// Latest returns the newest published snapshot or domain.ErrNotFound. A
// store hit re-warms the cache.
func (q *SnapshotQuery) Latest(ctx context.Context, owner common.Address, chainID uint64) (domain.Snapshot, error) {
	if q.cache != nil {
		snap, err := q.cache.Get(ctx, owner, chainID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			q.logger.WarnContext(ctx, "cache read failed", slog.String("error", err.Error()))
		}
	}
	if q.store == nil {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	snap, err := q.store.Latest(ctx, owner, chainID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if q.cache != nil {
		if err := q.cache.Set(ctx, snap); err != nil {
			q.logger.WarnContext(ctx, "cache warm failed", slog.String("error", err.Error()))
		}
	}
	return snap, nil
}

// History lists stored snapshots newest first.
func (q *SnapshotQuery) History(ctx context.Context, owner common.Address, chainID uint64, opts domain.ListOpts) ([]domain.Snapshot, error) {
	if q.store == nil {
		return nil, fmt.Errorf("service: history: %w", domain.ErrNotFound)
	}
	switch {
	case opts.Limit <= 0:
		opts.Limit = DefaultHistoryLimit
	case opts.Limit > MaxHistoryLimit:
		opts.Limit = MaxHistoryLimit
	}
	return q.store.ListHistory(ctx, owner, chainID, opts)
}
