package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionview/internal/config"
	"github.com/alanyoungcy/positionview/internal/domain"
	"github.com/alanyoungcy/positionview/internal/refresh"
	"github.com/alanyoungcy/positionview/internal/server"
	"github.com/alanyoungcy/positionview/internal/server/handler"
)

// Refetch requests allowed per client and window on the HTTP API.
const (
	refetchLimit  = 30
	refetchWindow = time.Minute
)

// ServerMode serves positions over HTTP and websocket. Identities are bound
// on first request and forgotten after engine.idle_timeout. SIGHUP re-runs
// the cycle of every tracked identity.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startIdleSweeper(ctx, g, deps.Manager)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				a.refetchTracked(ctx, deps.Manager)
			}
		}
	})
	return ignoreCanceled(g.Wait())
}

// refetchTracked starts a new cycle for every identity the manager holds.
func (a *App) refetchTracked(ctx context.Context, m *refresh.Manager) int {
	n := m.RefetchAll()
	a.logger.InfoContext(ctx, "refetch of tracked identities started", slog.Int("identities", n))
	return n
}

// startIdleSweeper forgets identities idle for engine.idle_timeout. Pinned
// identities, such as the watch list, are kept.
func (a *App) startIdleSweeper(ctx context.Context, g *errgroup.Group, m *refresh.Manager) {
	idle := a.cfg.Engine.IdleTimeout.Duration
	if idle <= 0 {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval(idle))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.sweepIdle(ctx, m, idle)
			}
		}
	})
}

func (a *App) sweepIdle(ctx context.Context, m *refresh.Manager, idle time.Duration) int {
	n := m.EvictIdle(idle)
	if n > 0 {
		a.logger.InfoContext(ctx, "idle identities evicted",
			slog.Int("evicted", n),
			slog.Int("tracked", m.Tracked()),
		)
	}
	return n
}

func sweepInterval(idle time.Duration) time.Duration {
	if d := idle / 4; d >= time.Second {
		return d
	}
	return time.Second
}

// WatchMode keeps the configured owners fresh, re-running every
// engine.refresh_interval and reloading the owner list on SIGHUP. The HTTP
// API runs alongside when enabled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	owners, err := parseOwners(a.cfg.Watch.Owners)
	if err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}
	interval := a.cfg.Engine.RefreshInterval.Duration
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Uint64("chain_id", a.cfg.Watch.ChainID),
		slog.Int("owners", len(owners)),
		slog.Duration("interval", interval),
	)

	w := newWatcher(deps.Manager, deps.LockManager, a.cfg.Watch.ChainID, interval, a.logger)
	w.setOwners(owners)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
		a.startIdleSweeper(ctx, g, deps.Manager)
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		w.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				w.tick(ctx)
			case <-hup:
				a.reload(ctx, w)
			}
		}
	})
	return ignoreCanceled(g.Wait())
}

// reload re-reads the configuration file and applies its owner list.
func (a *App) reload(ctx context.Context, w *watcher) {
	if a.configPath == "" {
		a.logger.WarnContext(ctx, "sighup ignored: no config path")
		return
	}
	cfg, err := config.Load(a.configPath)
	if err == nil {
		err = cfg.Validate()
	}
	var owners []common.Address
	if err == nil {
		owners, err = parseOwners(cfg.Watch.Owners)
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "config reload failed", slog.String("error", err.Error()))
		return
	}
	if cfg.Watch.ChainID != a.cfg.Watch.ChainID {
		a.logger.WarnContext(ctx, "config reload cannot change watch.chain_id, keeping the running chain",
			slog.Uint64("running", a.cfg.Watch.ChainID),
			slog.Uint64("configured", cfg.Watch.ChainID),
		)
	}
	added, removed := w.setOwners(owners)
	a.logger.InfoContext(ctx, "config reloaded",
		slog.Int("owners", len(owners)),
		slog.Int("added", added),
		slog.Int("removed", removed),
	)
	w.tick(ctx)
}

// onceResult is one identity in the report printed by once mode.
type onceResult struct {
	Owner      common.Address          `json:"owner"`
	ChainID    uint64                  `json:"chain_id"`
	Status     refresh.Status          `json:"status"`
	Generation uint64                  `json:"generation"`
	CycleID    string                  `json:"cycle_id,omitempty"`
	Strategy   string                  `json:"strategy,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Records    []domain.PositionRecord `json:"records"`
}

// OnceMode runs a single cycle for every configured owner, waits for all of
// them to settle and writes the records as JSON.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	owners, err := parseOwners(a.cfg.Watch.Owners)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}
	a.logger.InfoContext(ctx, "starting once mode", slog.Int("owners", len(owners)))

	results, failed, err := runOnce(ctx, deps.Manager, a.cfg.Watch.ChainID, owners)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("once mode: write report: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("once mode: %d of %d identities failed", failed, len(results))
	}
	return nil
}

// runOnce binds every owner and waits for each first cycle.
func runOnce(ctx context.Context, m *refresh.Manager, chainID uint64, owners []common.Address) ([]onceResult, int, error) {
	controllers := make([]*refresh.Controller, len(owners))
	for i, owner := range owners {
		c, err := m.Get(owner, chainID)
		if err != nil {
			return nil, 0, err
		}
		controllers[i] = c
	}

	results := make([]onceResult, len(owners))
	failed := 0
	for i, c := range controllers {
		v, err := c.Wait(ctx)
		if err != nil {
			return nil, 0, err
		}
		res := onceResult{
			Owner:      owners[i],
			ChainID:    chainID,
			Status:     v.Status,
			Generation: v.Generation,
			Records:    []domain.PositionRecord{},
		}
		if v.Err != nil {
			res.Error = v.Err.Error()
			failed++
		}
		if v.Snapshot != nil {
			res.CycleID = v.Snapshot.CycleID
			res.Strategy = string(v.Snapshot.Strategy)
			if len(v.Snapshot.Records) > 0 {
				res.Records = v.Snapshot.Records
			}
		}
		results[i] = res
	}
	return results, failed, nil
}

// startHTTPServer registers the API server, and the websocket hub when wired,
// on g. Both stop when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	chains := make([]uint64, 0, len(deps.Chains))
	for id := range deps.Chains {
		chains = append(chains, id)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })

	defaultChain := a.cfg.Watch.ChainID
	if defaultChain == 0 && len(chains) > 0 {
		defaultChain = chains[0]
	}

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(deps.Health, a.logger),
		Status:       handler.NewStatusHandler(a.cfg.Mode, chains, deps.Manager, time.Now().UTC()),
		Positions:    handler.NewPositionHandler(deps.Manager, deps.Query, defaultChain, a.logger),
		History:      handler.NewHistoryHandler(deps.Query, defaultChain, a.logger),
		Capabilities: handler.NewCapabilityHandler(deps.capabilitySources(), defaultChain),
	}
	opts := server.Options{
		Hub:     deps.Hub,
		Limiter: deps.RateLimiter,
	}
	if deps.Metrics != nil {
		opts.Metrics = deps.Metrics.Handler()
		opts.Observer = deps.Metrics
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		RefetchLimit:  refetchLimit,
		RefetchWindow: refetchWindow,
	}, handlers, opts, a.logger)

	if deps.Hub != nil {
		g.Go(func() error {
			return deps.Hub.Run(ctx)
		})
	}
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func parseOwners(raw []string) ([]common.Address, error) {
	seen := make(map[common.Address]bool, len(raw))
	owners := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid owner address %q", s)
		}
		addr := common.HexToAddress(s)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		owners = append(owners, addr)
	}
	return owners, nil
}

// ignoreCanceled treats a shutdown by signal as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
