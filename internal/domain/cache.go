package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotCache holds the latest published snapshot per owner and chain.
type SnapshotCache interface {
	Set(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, owner common.Address, chainID uint64) (Snapshot, error)
	Invalidate(ctx context.Context, owner common.Address, chainID uint64) error
}

// CapabilityCache persists detected interface availability per deployment so
// a restart does not need to re-probe.
type CapabilityCache interface {
	Load(ctx context.Context, chainID uint64, contract common.Address) (map[Capability]CapabilityState, error)
	Store(ctx context.Context, chainID uint64, contract common.Address, cap Capability, state CapabilityState) error
}

// SignalBus provides pub/sub for snapshot events plus a durable stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

const (
	// PositionsChannel is the bus channel snapshot events are published on.
	PositionsChannel = "positions"
	// PositionsStream keeps an ordered log of the same events.
	PositionsStream = "positions:stream"
)

// RateLimiter provides sliding-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. Acquire returns ErrLockHeld when
// another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
