// Package engine turns the raw on-chain views of an owner's position tokens
// into reconciled per-pool PositionRecords.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionview/internal/chain"
	"github.com/alanyoungcy/positionview/internal/domain"
)

const (
	DefaultPageSize       uint64 = 100
	DefaultMaxConcurrency        = 8
	// DefaultMaxAuctionIDs caps a single paged listing.
	DefaultMaxAuctionIDs uint64 = 10_000
	// DefaultMaxTokens caps the position tokens enumerated per owner.
	DefaultMaxTokens uint64 = 1_000
)

// Config tunes a Load cycle.
type Config struct {
	PageSize         uint64
	MaxConcurrency   int
	MaxAuctionIDs    uint64
	MaxTokens        uint64
	AuctionMerge     MergePolicy
	DisplayPrecision int32
}

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.MaxAuctionIDs == 0 {
		c.MaxAuctionIDs = DefaultMaxAuctionIDs
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.AuctionMerge == "" {
		c.AuctionMerge = MergeAdditive
	}
	if c.DisplayPrecision <= 0 {
		c.DisplayPrecision = DefaultDisplayPrecision
	}
	return c
}

// Result is the output of one successful Load.
type Result struct {
	Strategy domain.MembershipStrategy
	Records  []domain.PositionRecord
}

// Engine loads and reconciles the positions of one owner on one deployment.
// It holds no per-cycle state and is safe for concurrent use.
type Engine struct {
	reader  domain.PositionReader
	caps    *chain.Capabilities
	pools   *domain.PoolRegistry
	builder RecordBuilder
	cfg     Config
	logger  *slog.Logger
}

// New creates an Engine.
func New(reader domain.PositionReader, caps *chain.Capabilities, pools *domain.PoolRegistry, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		reader:  reader,
		caps:    caps,
		pools:   pools,
		builder: NewRecordBuilder(pools, cfg.DisplayPrecision),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "engine")),
	}
}

// pair is one (token, pool) entry scheduled for state fetching.
type pair struct {
	token      domain.OwnedToken
	membership domain.PositionMembership
}

// Load runs one full cycle for owner. Inventory and membership failures are
// fatal, as are state failures other than an invalid token; every other
// source degrades to zero. A stale epoch aborts with domain.ErrSuperseded.
func (e *Engine) Load(ctx context.Context, epoch domain.Epoch, owner common.Address) (Result, error) {
	start := time.Now()

	tokens, err := e.resolveInventory(ctx, owner)
	if err != nil {
		return Result{}, err
	}
	if err := checkEpoch(ctx, epoch); err != nil {
		return Result{}, err
	}

	members, strategy, err := e.resolveMemberships(ctx, tokens)
	if err != nil {
		return Result{}, err
	}
	if err := checkEpoch(ctx, epoch); err != nil {
		return Result{}, err
	}

	var pairs []pair
	liveTokens := make([]domain.OwnedToken, 0, len(members))
	for _, tm := range members {
		liveTokens = append(liveTokens, tm.token)
		for _, m := range tm.memberships {
			pairs = append(pairs, pair{token: tm.token, membership: m})
		}
	}

	var (
		states  []fetchedState
		direct  directLend
		byPos   []domain.AuctionReservation
		global  []domain.AuctionReservation
		credits []*uint256.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		states, err = e.fetchStates(gctx, pairs)
		return err
	})
	g.Go(func() error {
		direct = e.resolveDirectLend(gctx, pairs)
		return nil
	})
	g.Go(func() error {
		byPos = e.scanByPosition(gctx, liveTokens)
		return nil
	})
	g.Go(func() error {
		global = e.scanGlobal(gctx, liveTokens)
		return nil
	})
	g.Go(func() error {
		credits = e.resolveActiveCredit(gctx, pairs)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := checkEpoch(ctx, epoch); err != nil {
		return Result{}, err
	}

	reserved := MergeReservations(e.cfg.AuctionMerge, byPos, global)

	records := make([]domain.PositionRecord, 0, len(pairs)+len(members))
	idx := 0
	for _, tm := range members {
		if len(tm.memberships) == 0 {
			records = append(records, e.builder.Synthetic(tm.token))
			continue
		}
		for range tm.memberships {
			i := idx
			idx++
			p, st := pairs[i], states[i]
			if st.dropped {
				continue
			}
			pool := e.pools.Resolve(p.membership.PoolID)
			in := PairInputs{
				State:        st.state,
				PoolDebt:     st.poolDebt,
				Direct:       direct.forPair(p, pool),
				Encumbrance:  direct.encumbrance[p.membership.Key()],
				Auction:      reserved[p.membership.Key()],
				ActiveCredit: credits[i],
				LTVBps:       pool.LTVBps,
			}
			records = append(records, e.builder.Build(p.token, p.membership, st.state, Aggregate(in)))
		}
	}

	e.logger.DebugContext(ctx, "positions loaded",
		slog.String("owner", owner.Hex()),
		slog.String("strategy", string(strategy)),
		slog.Int("tokens", len(members)),
		slog.Int("records", len(records)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return Result{Strategy: strategy, Records: records}, nil
}

func checkEpoch(ctx context.Context, epoch domain.Epoch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("engine: %w: %w", domain.ErrContextDone, err)
	}
	if epoch != nil && epoch.Stale() {
		return fmt.Errorf("engine: generation %d: %w", epoch.Generation(), domain.ErrSuperseded)
	}
	return nil
}

// sortMemberships orders memberships by ascending pool id and drops
// duplicate pools.
func sortMemberships(ms []domain.PositionMembership) []domain.PositionMembership {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].PoolID < ms[j].PoolID })
	out := ms[:0]
	for _, m := range ms {
		if n := len(out); n > 0 && out[n-1].PoolID == m.PoolID {
			continue
		}
		out = append(out, m)
	}
	return out
}
