package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// probeToken is never minted, so a deployed interface answers with data or
// an invalid-token revert while a missing one reports the selector.
const probeToken = 0

// Probe detects every still-unknown capability with one cheap call each.
// Cancellation aborts the probe; other call failures leave the capability
// unknown so normal calls can settle it later.
func Probe(ctx context.Context, reader domain.PositionReader, caps *Capabilities) (map[domain.Capability]domain.CapabilityState, error) {
	for _, capability := range domain.AllCapabilities {
		if caps.State(capability) != domain.CapabilityUnknown {
			continue
		}
		err := probeCall(ctx, reader, capability)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return caps.Snapshot(), fmt.Errorf("chain: probe %s: %w", capability, ctxErr)
		}
		if err != nil && !errors.Is(err, domain.ErrSelectorMissing) && !errors.Is(err, domain.ErrInvalidToken) {
			// Reverts on the probe token still prove the selector exists;
			// everything else is inconclusive.
			if errors.Is(err, domain.ErrDecode) {
				caps.Observe(ctx, capability, nil)
			}
			continue
		}
		caps.Observe(ctx, capability, err)
	}
	return caps.Snapshot(), nil
}

func probeCall(ctx context.Context, reader domain.PositionReader, capability domain.Capability) error {
	var err error
	switch capability {
	case domain.CapMembership:
		_, err = reader.GetPositionPoolMemberships(ctx, probeToken)
	case domain.CapPoolOnlyDebt:
		_, err = reader.GetPositionPoolDataPoolOnly(ctx, probeToken, 0)
	case domain.CapDirectState:
		_, err = reader.GetPositionDirectState(ctx, probeToken, 0)
	case domain.CapEncumbrance:
		_, err = reader.GetPositionEncumbrance(ctx, probeToken, 0)
	case domain.CapActiveCredit:
		_, err = reader.PendingActiveCreditByPosition(ctx, 0, probeToken)
	case domain.CapAuctionsByPosition:
		_, err = reader.GetAuctionsByPosition(ctx, common.Hash{}, 0, 1)
	case domain.CapActiveAuctions:
		_, err = reader.GetActiveAuctions(ctx, 0, 1)
	default:
		return fmt.Errorf("chain: unknown capability %q", capability)
	}
	return err
}
