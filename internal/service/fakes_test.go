package service

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type identity struct {
	owner   common.Address
	chainID uint64
}

type memCache struct {
	mu    sync.Mutex
	snaps map[identity]domain.Snapshot
	err   error
	sets  int
}

func newMemCache() *memCache {
	return &memCache{snaps: make(map[identity]domain.Snapshot)}
}

func (c *memCache) Set(_ context.Context, snap domain.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.err != nil {
		return c.err
	}
	c.snaps[identity{snap.Owner, snap.ChainID}] = snap
	return nil
}

func (c *memCache) Get(_ context.Context, owner common.Address, chainID uint64) (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.Snapshot{}, c.err
	}
	snap, ok := c.snaps[identity{owner, chainID}]
	if !ok {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (c *memCache) Invalidate(_ context.Context, owner common.Address, chainID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, identity{owner, chainID})
	return nil
}

type memStore struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
	err   error
	opts  domain.ListOpts
}

func (s *memStore) Save(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *memStore) Latest(_ context.Context, owner common.Address, chainID uint64) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.snaps) - 1; i >= 0; i-- {
		if s.snaps[i].Owner == owner && s.snaps[i].ChainID == chainID {
			return s.snaps[i], nil
		}
	}
	return domain.Snapshot{}, domain.ErrNotFound
}

func (s *memStore) ListHistory(_ context.Context, owner common.Address, chainID uint64, opts domain.ListOpts) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	var out []domain.Snapshot
	for i := len(s.snaps) - 1; i >= 0; i-- {
		if s.snaps[i].Owner == owner && s.snaps[i].ChainID == chainID {
			out = append(out, s.snaps[i])
		}
	}
	return out, nil
}

type busMessage struct {
	channel string
	payload []byte
}

type memBus struct {
	published []busMessage
	streamed  []busMessage
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published = append(b.published, busMessage{channel, payload})
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed = append(b.streamed, busMessage{stream, payload})
	return nil
}

type stubArchiver struct {
	key string
	err error
}

func (a stubArchiver) ArchiveSnapshot(context.Context, domain.Snapshot) (string, error) {
	return a.key, a.err
}

type gauge struct{ n int }

func (g *gauge) SetRecords(_ uint64, _ string, n int) { g.n = n }

type broadcaster struct{ snaps []domain.Snapshot }

func (b *broadcaster) BroadcastSnapshot(snap domain.Snapshot) { b.snaps = append(b.snaps, snap) }
