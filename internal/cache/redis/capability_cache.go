package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// CapabilityCache implements domain.CapabilityCache with one hash per
// deployment.
//
// Key schema:
//
//	{prefix}caps:{chainID}:{contract} - hash capability -> state, expires after capabilityTTL
type CapabilityCache struct {
	c *Client
}

// capabilityTTL bounds how long detected states outlive their last write.
const capabilityTTL = 7 * 24 * time.Hour

// NewCapabilityCache creates a CapabilityCache backed by the given Client.
func NewCapabilityCache(c *Client) *CapabilityCache {
	return &CapabilityCache{c: c}
}

func capabilityKey(c *Client, chainID uint64, contract common.Address) string {
	return c.Key("caps", strconv.FormatUint(chainID, 10), strings.ToLower(contract.Hex()))
}

// Load returns every stored state of the deployment.
func (cc *CapabilityCache) Load(ctx context.Context, chainID uint64, contract common.Address) (map[domain.Capability]domain.CapabilityState, error) {
	raw, err := cc.c.rdb.HGetAll(ctx, capabilityKey(cc.c, chainID, contract)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load capabilities %d/%s: %w", chainID, contract.Hex(), err)
	}
	out := make(map[domain.Capability]domain.CapabilityState, len(raw))
	for k, v := range raw {
		out[domain.Capability(k)] = domain.CapabilityState(v)
	}
	return out, nil
}

// Store records state. A present state overwrites an earlier absent one so an
// upgraded contract is picked up; absent never overwrites present.
func (cc *CapabilityCache) Store(ctx context.Context, chainID uint64, contract common.Address, capability domain.Capability, state domain.CapabilityState) error {
	key := capabilityKey(cc.c, chainID, contract)
	_, err := cc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if state == domain.CapabilityPresent {
			pipe.HSet(ctx, key, string(capability), string(state))
		} else {
			pipe.HSetNX(ctx, key, string(capability), string(state))
		}
		pipe.Expire(ctx, key, capabilityTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: store capability %s: %w", capability, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CapabilityCache = (*CapabilityCache)(nil)
