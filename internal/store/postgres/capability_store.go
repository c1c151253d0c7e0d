package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// CapabilityStore implements domain.CapabilityCache using PostgreSQL. It is
// used when Redis is not configured.
type CapabilityStore struct {
	pool *pgxpool.Pool
}

// NewCapabilityStore creates a new CapabilityStore backed by the given connection pool.
func NewCapabilityStore(pool *pgxpool.Pool) *CapabilityStore {
	return &CapabilityStore{pool: pool}
}

// Load returns every stored state of the deployment.
func (s *CapabilityStore) Load(ctx context.Context, chainID uint64, contract common.Address) (map[domain.Capability]domain.CapabilityState, error) {
	const query = `
		SELECT capability, state
		FROM deployment_capabilities
		WHERE chain_id = $1 AND contract = $2`

	rows, err := s.pool.Query(ctx, query, int64(chainID), contract.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: load capabilities %d/%s: %w", chainID, contract.Hex(), err)
	}
	defer rows.Close()

	out := make(map[domain.Capability]domain.CapabilityState)
	for rows.Next() {
		var capability, state string
		if err := rows.Scan(&capability, &state); err != nil {
			return nil, fmt.Errorf("postgres: scan capability: %w", err)
		}
		out[domain.Capability(capability)] = domain.CapabilityState(state)
	}
	return out, rows.Err()
}

// Store records state for capability. A present state replaces an earlier
// absent one; absent never replaces present.
func (s *CapabilityStore) Store(ctx context.Context, chainID uint64, contract common.Address, capability domain.Capability, state domain.CapabilityState) error {
	const query = `
		INSERT INTO deployment_capabilities (chain_id, contract, capability, state)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id, contract, capability) DO UPDATE
		SET state = EXCLUDED.state, detected_at = NOW()
		WHERE EXCLUDED.state = 'present'`

	if _, err := s.pool.Exec(ctx, query, int64(chainID), contract.Hex(), string(capability), string(state)); err != nil {
		return fmt.Errorf("postgres: store capability %s: %w", capability, err)
	}
	return nil
}
