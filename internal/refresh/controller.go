// Package refresh owns the lifecycle of position refresh cycles: binding to an
// identity, manual re-triggers, cancellation of superseded cycles, and
// publishing of settled snapshots.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/positionview/internal/domain"
	"github.com/alanyoungcy/positionview/internal/engine"
)

// ErrNoIdentity is returned when a cycle is requested before an owner is
// bound.
var ErrNoIdentity = errors.New("refresh: no identity bound")

// Status is the lifecycle state of a controller.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusFetching Status = "fetching"
	StatusSettled  Status = "settled"
	StatusFailed   Status = "failed"
)

// Loader runs one engine cycle.
type Loader interface {
	Load(ctx context.Context, epoch domain.Epoch, owner common.Address) (engine.Result, error)
}

// Publisher receives every settled snapshot.
type Publisher interface {
	Publish(ctx context.Context, snap domain.Snapshot) error
}

// FailureReporter is told about failed cycles.
type FailureReporter interface {
	ReportFailure(ctx context.Context, owner common.Address, chainID uint64, err error)
}

// CycleRecorder receives cycle outcomes, typically metrics.
type CycleRecorder interface {
	ObserveCycle(chainID uint64, outcome string, elapsed time.Duration)
}

// Deps are the optional collaborators of a controller.
type Deps struct {
	Publisher Publisher
	Reporter  FailureReporter
	Recorder  CycleRecorder
	Logger    *slog.Logger
}

// View is a consistent copy of the controller state. Snapshot is the last
// settled snapshot of the current identity and stays visible while a newer
// cycle is fetching.
type View struct {
	Status     Status
	Generation uint64
	Owner      common.Address
	ChainID    uint64
	Snapshot   *domain.Snapshot
	Err        error
}

// epoch is the generation token handed to one cycle.
type epoch struct {
	gen     uint64
	current *atomic.Uint64
}

func (e epoch) Generation() uint64 { return e.gen }
func (e epoch) Stale() bool        { return e.current.Load() != e.gen }

// Controller runs refresh cycles for one identity at a time. Starting a cycle
// supersedes and cancels the previous one; only the latest generation ever
// settles.
type Controller struct {
	base   context.Context
	loader Loader
	deps   Deps
	logger *slog.Logger

	gen atomic.Uint64

	mu          sync.Mutex
	owner       common.Address
	chainID     uint64
	hasIdentity bool
	status      Status
	snapshot    *domain.Snapshot
	err         error
	cancel      context.CancelFunc
	settled     chan struct{}

	pubMu         sync.Mutex
	lastPublished uint64
}

// NewController creates an idle controller. Cycles run under base and stop
// when it is cancelled.
func NewController(base context.Context, loader Loader, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		base:   base,
		loader: loader,
		deps:   deps,
		logger: logger.With(slog.String("component", "refresh")),
		status: StatusIdle,
	}
}

// SetIdentity binds the controller to owner on chainID and starts a cycle.
// Records of a previous identity are discarded. Re-binding the current
// identity is a no-op.
func (c *Controller) SetIdentity(owner common.Address, chainID uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasIdentity && c.owner == owner && c.chainID == chainID {
		return c.gen.Load()
	}
	c.owner, c.chainID, c.hasIdentity = owner, chainID, true
	c.snapshot = nil
	return c.startLocked()
}

// Refetch starts a new cycle for the bound identity. The previous snapshot
// stays visible until the new one settles.
func (c *Controller) Refetch() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasIdentity {
		return 0, ErrNoIdentity
	}
	return c.startLocked(), nil
}

// View returns the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Wait blocks until the latest generation settles or fails, following any
// cycle started while waiting.
func (c *Controller) Wait(ctx context.Context) (View, error) {
	for {
		c.mu.Lock()
		done := c.settled
		if done == nil {
			v := c.viewLocked()
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return View{}, ctx.Err()
		case <-done:
		}

		c.mu.Lock()
		if c.settled == done {
			v := c.viewLocked()
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()
	}
}

// Stop cancels the running cycle and supersedes it.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen.Add(1)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.status == StatusFetching {
		c.status = StatusIdle
	}
}

func (c *Controller) viewLocked() View {
	return View{
		Status:     c.status,
		Generation: c.gen.Load(),
		Owner:      c.owner,
		ChainID:    c.chainID,
		Snapshot:   c.snapshot,
		Err:        c.err,
	}
}

func (c *Controller) startLocked() uint64 {
	gen := c.gen.Add(1)
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	c.status = StatusFetching
	c.err = nil
	done := make(chan struct{})
	c.settled = done

	ep := epoch{gen: gen, current: &c.gen}
	go c.run(ctx, cancel, ep, c.owner, c.chainID, done)
	return gen
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, ep epoch, owner common.Address, chainID uint64, done chan struct{}) {
	defer cancel()
	defer close(done)
	start := time.Now()

	res, err := c.loader.Load(ctx, ep, owner)

	c.mu.Lock()
	if ep.Stale() {
		c.mu.Unlock()
		c.record(chainID, "superseded", start)
		c.logger.Debug("cycle superseded",
			slog.Uint64("generation", ep.gen),
			slog.String("owner", owner.Hex()),
		)
		return
	}
	if err != nil {
		c.status = StatusFailed
		c.err = err
		c.mu.Unlock()
		c.record(chainID, "failed", start)
		c.logger.Warn("cycle failed",
			slog.Uint64("generation", ep.gen),
			slog.String("owner", owner.Hex()),
			slog.Uint64("chain_id", chainID),
			slog.String("error", err.Error()),
		)
		if c.deps.Reporter != nil {
			c.deps.Reporter.ReportFailure(c.base, owner, chainID, err)
		}
		return
	}
	snap := domain.Snapshot{
		CycleID:    uuid.NewString(),
		Generation: ep.gen,
		Owner:      owner,
		ChainID:    chainID,
		Strategy:   res.Strategy,
		FetchedAt:  time.Now().UTC(),
		Records:    res.Records,
	}
	c.snapshot = &snap
	c.status = StatusSettled
	c.mu.Unlock()

	c.record(chainID, "settled", start)
	c.logger.Info("cycle settled",
		slog.Uint64("generation", ep.gen),
		slog.String("owner", owner.Hex()),
		slog.Uint64("chain_id", chainID),
		slog.String("strategy", string(res.Strategy)),
		slog.Int("records", len(res.Records)),
		slog.Duration("elapsed", time.Since(start)),
	)
	c.publish(snap)
}

// publish hands snap to the publisher unless a newer snapshot already went
// out.
func (c *Controller) publish(snap domain.Snapshot) {
	if c.deps.Publisher == nil {
		return
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if snap.Generation <= c.lastPublished {
		return
	}
	c.lastPublished = snap.Generation
	if err := c.deps.Publisher.Publish(c.base, snap); err != nil {
		c.logger.Warn("snapshot publish failed",
			slog.String("cycle_id", snap.CycleID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) record(chainID uint64, outcome string, start time.Time) {
	if c.deps.Recorder != nil {
		c.deps.Recorder.ObserveCycle(chainID, outcome, time.Since(start))
	}
}
