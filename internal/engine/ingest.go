package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Ingest validates, stores and links one observation. The same station and
// observation instant seen again returns StatusDuplicate without touching
// stored data, whatever the counts in the repeated reading say; the first
// accepted write wins. A new snapshot is stitched into the station's flow
// timeline immediately, including snapshots arriving out of order, in which
// case the edge that previously spanned the gap is replaced by the two edges
// through the new snapshot.
func (e *Engine) Ingest(ctx context.Context, obs Observation) (IngestStatus, error) {
	if obs.StationID == "" || obs.ObservedAt.IsZero() {
		return "", fmt.Errorf("%w: station id and observation time are required", ErrInvalidObservation)
	}

	lock := e.stationLock(obs.StationID)
	lock.Lock()
	defer lock.Unlock()

	st, err := e.store.GetStation(ctx, obs.StationID)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownStation, obs.StationID)
	}
	if err != nil {
		return "", err
	}
	if obs.BikesAvailable < 0 || obs.DocksAvailable < 0 {
		return "", fmt.Errorf("%w: station %s reports negative counts (bikes=%d docks=%d)",
			ErrInvalidObservation, obs.StationID, obs.BikesAvailable, obs.DocksAvailable)
	}
	if sum := obs.BikesAvailable + obs.DocksAvailable; sum > st.Capacity {
		return "", fmt.Errorf("%w: station %s bikes=%d docks=%d exceed capacity %d",
			ErrInvalidObservation, obs.StationID, obs.BikesAvailable, obs.DocksAvailable, st.Capacity)
	}

	snap := Snapshot{
		StationID:      obs.StationID,
		ObservedAt:     obs.ObservedAt.UTC(),
		BikesAvailable: obs.BikesAvailable,
		DocksAvailable: obs.DocksAvailable,
		IngestedAt:     time.Now().UTC(),
	}
	inserted, err := e.store.InsertSnapshot(ctx, snap)
	if err != nil {
		return "", err
	}
	if !inserted {
		return StatusDuplicate, nil
	}

	if err := e.linkSnapshot(ctx, snap); err != nil {
		return "", fmt.Errorf("link snapshot %s@%s: %w", snap.StationID, snap.ObservedAt.Format(time.RFC3339), err)
	}
	return StatusInserted, nil
}

// linkSnapshot updates the station's edge set around a freshly inserted
// snapshot: at most one superseded edge is dropped and at most two new edges
// written, in one storage batch.
func (e *Engine) linkSnapshot(ctx context.Context, snap Snapshot) error {
	prev, next, err := e.store.Neighbors(ctx, snap.StationID, snap.ObservedAt)
	if err != nil {
		return err
	}

	var drop []EdgeSpan
	var put []FlowEdge
	if prev != nil && next != nil {
		drop = append(drop, EdgeSpan{FromTS: prev.ObservedAt, ToTS: next.ObservedAt})
	}
	if prev != nil {
		edge, err := ComputeEdge(*prev, snap, e.maxGap)
		if err != nil {
			return err
		}
		put = append(put, edge)
	}
	if next != nil {
		edge, err := ComputeEdge(snap, *next, e.maxGap)
		if err != nil {
			return err
		}
		put = append(put, edge)
	}
	if len(drop) == 0 && len(put) == 0 {
		// First snapshot for the station.
		return nil
	}
	return e.store.ReplaceEdges(ctx, snap.StationID, drop, put)
}

// RebuildFlows drops a station's derived edges and recomputes them from its
// full snapshot history. The result is identical to what incremental linking
// produces; the operation exists to repair storage after a partial failure.
// It returns the number of edges written.
func (e *Engine) RebuildFlows(ctx context.Context, stationID string) (int, error) {
	lock := e.stationLock(stationID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.store.GetStation(ctx, stationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
		}
		return 0, err
	}

	snaps, err := e.store.ListSnapshots(ctx, stationID, time.Time{}, time.Time{}, 0)
	if err != nil {
		return 0, err
	}
	if err := e.store.ClearEdges(ctx, stationID); err != nil {
		return 0, err
	}
	if len(snaps) < 2 {
		return 0, nil
	}

	edges := make([]FlowEdge, 0, len(snaps)-1)
	for i := 1; i < len(snaps); i++ {
		edge, err := ComputeEdge(snaps[i-1], snaps[i], e.maxGap)
		if err != nil {
			return 0, err
		}
		edges = append(edges, edge)
	}
	if err := e.store.ReplaceEdges(ctx, stationID, nil, edges); err != nil {
		return 0, err
	}
	return len(edges), nil
}

// History returns a station's snapshots ordered by observation time. Zero
// start or end leaves that side of the window open; limit <= 0 means no limit.
func (e *Engine) History(ctx context.Context, stationID string, start, end time.Time, limit int) ([]Snapshot, error) {
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return nil, fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if _, err := e.store.GetStation(ctx, stationID); err != nil {
		return nil, err
	}
	return e.store.ListSnapshots(ctx, stationID, start, end, limit)
}
