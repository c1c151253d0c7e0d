package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionview/internal/domain"
	"github.com/alanyoungcy/positionview/internal/refresh"
)

// watchParallelism bounds the identities refreshed at once per tick.
const watchParallelism = 4

// watcher re-runs the cycles of a fixed owner list. With a lock manager only
// one replica refreshes a given identity per interval: the lock is held until
// it expires, shortly before the next tick.
type watcher struct {
	manager  *refresh.Manager
	locks    domain.LockManager
	chainID  uint64
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	owners []common.Address
}

func newWatcher(m *refresh.Manager, locks domain.LockManager, chainID uint64, interval time.Duration, logger *slog.Logger) *watcher {
	return &watcher{
		manager:  m,
		locks:    locks,
		chainID:  chainID,
		interval: interval,
		logger:   logger.With(slog.String("component", "watcher")),
	}
}

// setOwners replaces the owner list and forgets identities no longer listed.
func (w *watcher) setOwners(owners []common.Address) (added, removed int) {
	next := make(map[common.Address]bool, len(owners))
	for _, o := range owners {
		next[o] = true
	}

	w.mu.Lock()
	prev := w.owners
	w.owners = append([]common.Address(nil), owners...)
	w.mu.Unlock()

	had := make(map[common.Address]bool, len(prev))
	for _, o := range prev {
		had[o] = true
		if !next[o] && w.manager.Remove(o, w.chainID) {
			removed++
		}
	}
	for _, o := range owners {
		if !had[o] {
			added++
		}
	}
	return added, removed
}

func (w *watcher) currentOwners() []common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]common.Address(nil), w.owners...)
}

// tick starts a cycle for every owner and waits for all of them to settle.
func (w *watcher) tick(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(watchParallelism)
	for _, owner := range w.currentOwners() {
		g.Go(func() error {
			w.refreshOwner(ctx, owner)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *watcher) refreshOwner(ctx context.Context, owner common.Address) {
	log := w.logger.With(slog.String("owner", owner.Hex()), slog.Uint64("chain_id", w.chainID))

	release := func() {}
	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, lockKey(w.chainID, owner), lockTTL(w.interval))
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			log.DebugContext(ctx, "identity refreshed by another replica")
			return
		case err != nil:
			log.WarnContext(ctx, "refresh lock unavailable, refreshing anyway", slog.String("error", err.Error()))
		default:
			release = unlock
		}
	}

	_, existed := w.manager.Lookup(owner, w.chainID)
	c, err := w.manager.Pin(owner, w.chainID)
	if err != nil {
		release()
		log.ErrorContext(ctx, "bind identity failed", slog.String("error", err.Error()))
		return
	}
	if existed {
		if _, err := c.Refetch(); err != nil {
			release()
			log.WarnContext(ctx, "refetch failed", slog.String("error", err.Error()))
			return
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()
	if _, err := c.Wait(waitCtx); err != nil && ctx.Err() == nil {
		log.WarnContext(ctx, "cycle did not settle within the refresh interval")
	}
}

// lockTTL keeps the refresh lock for most of an interval so no other replica
// repeats the cycle, and lets it lapse before the holder's next tick.
func lockTTL(interval time.Duration) time.Duration {
	return interval - interval/10
}

func lockKey(chainID uint64, owner common.Address) string {
	return fmt.Sprintf("refresh:%d:%s", chainID, strings.ToLower(owner.Hex()))
}
