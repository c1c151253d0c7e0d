package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// RecordsGauge receives the record count of every published snapshot.
type RecordsGauge interface {
	SetRecords(chainID uint64, owner string, n int)
}

// Broadcaster pushes snapshots to live subscribers, e.g. websocket clients.
type Broadcaster interface {
	BroadcastSnapshot(snap domain.Snapshot)
}

// PublisherDeps are the sinks of a SnapshotPublisher. Every field is
// optional.
type PublisherDeps struct {
	Store       domain.SnapshotStore
	Cache       domain.SnapshotCache
	Bus         domain.SignalBus
	Archiver    domain.Archiver
	Gauge       RecordsGauge
	Broadcaster Broadcaster
}

// SnapshotPublisher fans a settled snapshot out to every configured sink. A
// failing sink never blocks the others.
type SnapshotPublisher struct {
	deps   PublisherDeps
	logger *slog.Logger
}

// NewSnapshotPublisher creates a SnapshotPublisher.
func NewSnapshotPublisher(deps PublisherDeps, logger *slog.Logger) *SnapshotPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotPublisher{
		deps:   deps,
		logger: logger.With(slog.String("component", "snapshot_publisher")),
	}
}

// SnapshotEvent is the bus payload announcing a new snapshot.
type SnapshotEvent struct {
	Event      string    `json:"event"`
	CycleID    string    `json:"cycle_id"`
	Owner      string    `json:"owner"`
	ChainID    uint64    `json:"chain_id"`
	Generation uint64    `json:"generation"`
	Strategy   string    `json:"strategy"`
	Records    int       `json:"records"`
	FetchedAt  time.Time `json:"fetched_at"`
	ArchiveKey string    `json:"archive_key,omitempty"`
}

// Publish delivers snap to every sink and returns the joined sink failures.
func (p *SnapshotPublisher) Publish(ctx context.Context, snap domain.Snapshot) error {
	var errs []error
	fail := func(sink string, err error) {
		p.logger.WarnContext(ctx, "sink failed",
			slog.String("sink", sink),
			slog.String("cycle_id", snap.CycleID),
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("%s: %w", sink, err))
	}

	if p.deps.Broadcaster != nil {
		p.deps.Broadcaster.BroadcastSnapshot(snap)
	}
	if p.deps.Gauge != nil {
		p.deps.Gauge.SetRecords(snap.ChainID, snap.Owner.Hex(), len(snap.Records))
	}
	if p.deps.Cache != nil {
		if err := p.deps.Cache.Set(ctx, snap); err != nil {
			fail("cache", err)
		}
	}
	if p.deps.Store != nil {
		if err := p.deps.Store.Save(ctx, snap); err != nil {
			fail("store", err)
		}
	}

	var archiveKey string
	if p.deps.Archiver != nil {
		key, err := p.deps.Archiver.ArchiveSnapshot(ctx, snap)
		if err != nil {
			fail("archive", err)
		}
		archiveKey = key
	}

	if p.deps.Bus != nil {
		evt, err := json.Marshal(SnapshotEvent{
			Event:      "positions_updated",
			CycleID:    snap.CycleID,
			Owner:      snap.Owner.Hex(),
			ChainID:    snap.ChainID,
			Generation: snap.Generation,
			Strategy:   string(snap.Strategy),
			Records:    len(snap.Records),
			FetchedAt:  snap.FetchedAt,
			ArchiveKey: archiveKey,
		})
		if err != nil {
			fail("bus", err)
		} else {
			if err := p.deps.Bus.Publish(ctx, domain.PositionsChannel, evt); err != nil {
				fail("bus", err)
			}
			if err := p.deps.Bus.StreamAppend(ctx, domain.PositionsStream, evt); err != nil {
				fail("stream", err)
			}
		}
	}

	p.logger.DebugContext(ctx, "snapshot published",
		slog.String("cycle_id", snap.CycleID),
		slog.Int("records", len(snap.Records)),
		slog.Int("failed_sinks", len(errs)),
	)
	if len(errs) > 0 {
		return fmt.Errorf("service: publish %s: %w", snap.CycleID, errors.Join(errs...))
	}
	return nil
}
