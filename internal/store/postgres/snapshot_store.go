package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `cycle_id, owner, chain_id, generation, strategy, fetched_at, records`

const defaultHistoryLimit = 50

func scanSnapshotRow(row pgx.Row) (domain.Snapshot, error) {
	var (
		snap       domain.Snapshot
		owner      string
		chainID    int64
		generation int64
		strategy   string
		fetchedAt  time.Time
		records    []byte
	)
	if err := row.Scan(&snap.CycleID, &owner, &chainID, &generation, &strategy, &fetchedAt, &records); err != nil {
		return domain.Snapshot{}, err
	}
	snap.Owner = common.HexToAddress(owner)
	snap.ChainID = uint64(chainID)
	snap.Generation = uint64(generation)
	snap.Strategy = domain.MembershipStrategy(strategy)
	snap.FetchedAt = fetchedAt.UTC()
	if err := json.Unmarshal(records, &snap.Records); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode records of %s: %w", snap.CycleID, err)
	}
	return snap, nil
}

// Save inserts snap. Saving the same cycle twice is a no-op.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	records, err := json.Marshal(snap.Records)
	if err != nil {
		return fmt.Errorf("postgres: encode snapshot %s: %w", snap.CycleID, err)
	}
	const query = `
		INSERT INTO position_snapshots (
			cycle_id, owner, chain_id, generation, strategy,
			fetched_at, record_count, records
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (cycle_id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		snap.CycleID, snap.Owner.Hex(), int64(snap.ChainID), int64(snap.Generation),
		string(snap.Strategy), snap.FetchedAt, len(snap.Records), records,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", snap.CycleID, err)
	}
	return nil
}

// Latest returns the most recently fetched snapshot of owner on chainID.
func (s *SnapshotStore) Latest(ctx context.Context, owner common.Address, chainID uint64) (domain.Snapshot, error) {
	query := `SELECT ` + snapshotSelectCols + `
		FROM position_snapshots
		WHERE owner = $1 AND chain_id = $2
		ORDER BY fetched_at DESC, generation DESC
		LIMIT 1`

	snap, err := scanSnapshotRow(s.pool.QueryRow(ctx, query, owner.Hex(), int64(chainID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: latest snapshot %s/%d: %w", owner.Hex(), chainID, err)
	}
	return snap, nil
}

// ListHistory returns stored snapshots newest first.
func (s *SnapshotStore) ListHistory(ctx context.Context, owner common.Address, chainID uint64, opts domain.ListOpts) ([]domain.Snapshot, error) {
	query, args := historyQuery(owner, chainID, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots %s/%d: %w", owner.Hex(), chainID, err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func historyQuery(owner common.Address, chainID uint64, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + snapshotSelectCols + `
		FROM position_snapshots
		WHERE owner = $1 AND chain_id = $2`
	args := []any{owner.Hex(), int64(chainID)}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND fetched_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND fetched_at < $%d", len(args))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY fetched_at DESC, generation DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return query, args
}
