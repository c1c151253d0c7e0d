package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/positionview/internal/config"
	"github.com/alanyoungcy/positionview/internal/domain"
	"github.com/alanyoungcy/positionview/internal/engine"
	"github.com/alanyoungcy/positionview/internal/refresh"
)

var (
	quiet  = slog.New(slog.NewTextHandler(io.Discard, nil))
	ownerA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ownerB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type countingLoader struct {
	calls atomic.Int64
	fail  map[common.Address]error
}

func (l *countingLoader) Load(_ context.Context, _ domain.Epoch, owner common.Address) (engine.Result, error) {
	l.calls.Add(1)
	if err := l.fail[owner]; err != nil {
		return engine.Result{}, err
	}
	return engine.Result{
		Strategy: domain.StrategyFallback,
		Records:  []domain.PositionRecord{{TokenID: 3, PoolID: 1}},
	}, nil
}

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	ttls     []time.Duration
	released int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	f.ttls = append(f.ttls, ttl)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
		f.released++
	}, nil
}

// expire drops every held lock as if its TTL had elapsed.
func (f *fakeLocks) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.held)
}

func newManager(t *testing.T, loader refresh.Loader) *refresh.Manager {
	t.Helper()
	m := refresh.NewManager(context.Background(), map[uint64]refresh.Loader{1: loader}, refresh.Deps{Logger: quiet})
	t.Cleanup(m.Stop)
	return m
}

func TestParseOwners(t *testing.T) {
	owners, err := parseOwners([]string{ownerA.Hex(), "0x00000000000000000000000000000000000000A1", ownerB.Hex()})
	require.NoError(t, err)
	require.Equal(t, []common.Address{ownerA, ownerB}, owners)

	_, err = parseOwners([]string{"alice"})
	require.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	loader := &countingLoader{fail: map[common.Address]error{ownerB: errors.New("rpc down")}}
	m := newManager(t, loader)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, failed, err := runOnce(ctx, m, 1, []common.Address{ownerA, ownerB})
	require.NoError(t, err)
	require.Equal(t, 1, failed)
	require.Len(t, results, 2)

	require.Equal(t, refresh.StatusSettled, results[0].Status)
	require.Equal(t, "fallback", results[0].Strategy)
	require.Len(t, results[0].Records, 1)

	require.Equal(t, refresh.StatusFailed, results[1].Status)
	require.Equal(t, "rpc down", results[1].Error)
	require.Empty(t, results[1].Records)
}

func TestRunOnceUnknownChain(t *testing.T) {
	m := newManager(t, &countingLoader{})
	_, _, err := runOnce(context.Background(), m, 7, []common.Address{ownerA})
	require.ErrorIs(t, err, domain.ErrUnknownChain)
}

func TestWatcherTickRefreshesEveryOwner(t *testing.T) {
	loader := &countingLoader{}
	m := newManager(t, loader)
	locks := &fakeLocks{held: map[string]bool{}}
	w := newWatcher(m, locks, 1, time.Second, quiet)

	added, removed := w.setOwners([]common.Address{ownerA, ownerB})
	require.Equal(t, 2, added)
	require.Zero(t, removed)

	w.tick(context.Background())
	require.Equal(t, int64(2), loader.calls.Load())
	require.Equal(t, 2, m.Tracked())

	// Locks from the first tick are still held: a replica ticking within the
	// same interval does nothing.
	w.tick(context.Background())
	require.Equal(t, int64(2), loader.calls.Load())

	locks.expire()
	w.tick(context.Background())
	require.Equal(t, int64(4), loader.calls.Load())
	require.Len(t, locks.acquired, 4)
	require.Zero(t, locks.released)
	for _, ttl := range locks.ttls {
		require.Less(t, ttl, time.Second)
		require.Positive(t, ttl)
	}
}

func TestWatcherReleasesLockWhenBindFails(t *testing.T) {
	m := newManager(t, &countingLoader{})
	locks := &fakeLocks{held: map[string]bool{}}
	w := newWatcher(m, locks, 9, time.Second, quiet)
	w.setOwners([]common.Address{ownerA})

	w.tick(context.Background())
	require.Equal(t, 1, locks.released)
	require.Empty(t, locks.held)
}

func TestWatchedOwnersSurviveIdleSweep(t *testing.T) {
	loader := &countingLoader{}
	m := newManager(t, loader)
	w := newWatcher(m, nil, 1, time.Second, quiet)
	w.setOwners([]common.Address{ownerA})
	w.tick(context.Background())

	_, err := m.Get(ownerB, 1)
	require.NoError(t, err)

	cfg := config.Defaults()
	a := New(&cfg, quiet)
	require.Equal(t, 1, a.sweepIdle(context.Background(), m, -time.Hour))
	require.Equal(t, []refresh.Key{{Owner: ownerA, ChainID: 1}}, m.Keys())
}

func TestRefetchTracked(t *testing.T) {
	loader := &countingLoader{}
	m := newManager(t, loader)
	for _, owner := range []common.Address{ownerA, ownerB} {
		c, err := m.Get(owner, 1)
		require.NoError(t, err)
		_, err = c.Wait(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, int64(2), loader.calls.Load())

	cfg := config.Defaults()
	a := New(&cfg, quiet)
	require.Equal(t, 2, a.refetchTracked(context.Background(), m))
	for _, owner := range []common.Address{ownerA, ownerB} {
		c, ok := m.Lookup(owner, 1)
		require.True(t, ok)
		v, err := c.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint64(2), v.Generation)
	}
	require.Equal(t, int64(4), loader.calls.Load())
}

func TestSweepInterval(t *testing.T) {
	require.Equal(t, 15*time.Second, sweepInterval(time.Minute))
	require.Equal(t, time.Second, sweepInterval(time.Second))
}

func TestWatcherSkipsIdentityLockedElsewhere(t *testing.T) {
	loader := &countingLoader{}
	m := newManager(t, loader)
	locks := &fakeLocks{held: map[string]bool{lockKey(1, ownerB): true}}
	w := newWatcher(m, locks, 1, time.Second, quiet)
	w.setOwners([]common.Address{ownerA, ownerB})

	w.tick(context.Background())
	require.Equal(t, int64(1), loader.calls.Load())
	_, ok := m.Lookup(ownerB, 1)
	require.False(t, ok)
}

func TestWatcherSetOwnersForgetsRemoved(t *testing.T) {
	m := newManager(t, &countingLoader{})
	w := newWatcher(m, nil, 1, time.Second, quiet)
	w.setOwners([]common.Address{ownerA, ownerB})
	w.tick(context.Background())

	added, removed := w.setOwners([]common.Address{ownerB})
	require.Zero(t, added)
	require.Equal(t, 1, removed)
	require.Equal(t, []refresh.Key{{Owner: ownerB, ChainID: 1}}, m.Keys())
}

func TestLockKey(t *testing.T) {
	require.Equal(t, "refresh:1:0x00000000000000000000000000000000000000a1", lockKey(1, ownerA))
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Defaults()
	ec, err := engineConfig(cfg.Engine)
	require.NoError(t, err)
	require.Equal(t, engine.MergeAdditive, ec.AuctionMerge)
	require.Equal(t, cfg.Engine.PageSize, ec.PageSize)

	cfg.Engine.AuctionMerge = "sometimes"
	_, err = engineConfig(cfg.Engine)
	require.Error(t, err)
}

func TestBuildSenders(t *testing.T) {
	require.Empty(t, buildSenders(config.NotifyConfig{TelegramToken: "t"}))
	senders := buildSenders(config.NotifyConfig{
		TelegramToken:     "t",
		TelegramChatID:    "c",
		DiscordWebhookURL: "https://discord.example/hook",
	})
	require.Len(t, senders, 2)
	require.Equal(t, "telegram", senders[0].Name())
	require.Equal(t, "discord", senders[1].Name())
}
