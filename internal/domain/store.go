package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SnapshotStore persists the history of published snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context, owner common.Address, chainID uint64) (Snapshot, error)
	ListHistory(ctx context.Context, owner common.Address, chainID uint64, opts ListOpts) ([]Snapshot, error)
}
