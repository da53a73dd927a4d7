package engine

import (
	"context"
	"time"
)

// Storage is the persistence contract the engine drives. Implementations must
// keep snapshots unique on (station, observed_at) and flow edges unique on
// (station, from_ts, to_ts). The engine serializes writes per station, so
// implementations only need point consistency, not cross-call transactions.
type Storage interface {
	// SaveStation inserts or fully overwrites a registry entry.
	SaveStation(ctx context.Context, st Station) error
	// GetStation returns ErrNotFound for unregistered IDs.
	GetStation(ctx context.Context, id string) (Station, error)
	// ListStations returns all registry entries ordered by station ID.
	ListStations(ctx context.Context) ([]Station, error)

	RecordCorrection(ctx context.Context, c CapacityCorrection) error
	// ListCorrections returns a station's correction events oldest first.
	ListCorrections(ctx context.Context, stationID string) ([]CapacityCorrection, error)

	// InsertSnapshot stores a snapshot unless one already exists at the same
	// station and instant. It reports whether a row was written.
	InsertSnapshot(ctx context.Context, s Snapshot) (bool, error)
	// Neighbors returns the snapshots observed strictly before and strictly
	// after at for the station. Either may be nil.
	Neighbors(ctx context.Context, stationID string, at time.Time) (prev, next *Snapshot, err error)
	// ListSnapshots returns snapshots ordered by observation time. Zero start
	// or end leaves that side unbounded; limit <= 0 means no limit.
	ListSnapshots(ctx context.Context, stationID string, start, end time.Time, limit int) ([]Snapshot, error)
	// LatestStates returns every station joined with its newest snapshot,
	// ordered by station ID.
	LatestStates(ctx context.Context) ([]StationState, error)

	// ReplaceEdges deletes the edges named in drop and upserts those in put
	// for one station. Implementations apply both sets in a single batch.
	ReplaceEdges(ctx context.Context, stationID string, drop []EdgeSpan, put []FlowEdge) error
	ClearEdges(ctx context.Context, stationID string) error
	// EdgesWithin returns edges overlapping [start, end), ordered by from_ts.
	// An empty stationID selects all stations.
	EdgesWithin(ctx context.Context, stationID string, start, end time.Time) ([]FlowEdge, error)

	// StationActivity aggregates per-station traffic over [start, end) for
	// stations with at least one snapshot or overlapping edge, ordered by
	// total moves descending then station ID.
	StationActivity(ctx context.Context, start, end time.Time) ([]StationActivity, error)
}
