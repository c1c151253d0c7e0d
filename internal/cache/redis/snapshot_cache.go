package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// DefaultSnapshotTTL bounds how long a snapshot stays cached without a newer
// cycle replacing it.
const DefaultSnapshotTTL = 10 * time.Minute

// SnapshotCache implements domain.SnapshotCache with one JSON string per
// identity.
//
// Key schema:
//
//	{prefix}snapshot:{chainID}:{owner} - JSON encoded domain.Snapshot
type SnapshotCache struct {
	c   *Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache. A non-positive ttl uses
// DefaultSnapshotTTL.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{c: c, ttl: ttl}
}

func snapshotKey(c *Client, owner common.Address, chainID uint64) string {
	return c.Key("snapshot", strconv.FormatUint(chainID, 10), strings.ToLower(owner.Hex()))
}

// Set stores snap unless the cached snapshot was fetched later. Generations
// restart with the process, so fetch time orders snapshots across replicas.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.CycleID, err)
	}
	key := snapshotKey(sc.c, snap.Owner, snap.ChainID)

	current, err := sc.Get(ctx, snap.Owner, snap.ChainID)
	switch {
	case err == nil && current.FetchedAt.After(snap.FetchedAt):
		return nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return err
	}

	if err := sc.c.rdb.Set(ctx, key, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.CycleID, err)
	}
	return nil
}

// Get returns the cached snapshot, or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, owner common.Address, chainID uint64) (domain.Snapshot, error) {
	data, err := sc.c.rdb.Get(ctx, snapshotKey(sc.c, owner, chainID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("redis: get snapshot %s/%d: %w", owner.Hex(), chainID, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis: unmarshal snapshot %s/%d: %w", owner.Hex(), chainID, err)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot.
func (sc *SnapshotCache) Invalidate(ctx context.Context, owner common.Address, chainID uint64) error {
	if err := sc.c.rdb.Del(ctx, snapshotKey(sc.c, owner, chainID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s/%d: %w", owner.Hex(), chainID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
