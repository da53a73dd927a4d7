package engine

import (
	"fmt"
	"time"
)

// ComputeEdge derives the flow edge between two snapshots of the same station,
// where a was observed before b. A drop in available bikes counts as
// departures, a rise as arrivals. A zero delta yields a zero edge even though
// equal departures and arrivals inside the interval would cancel out; counts
// derived this way are a lower bound on real traffic.
//
// When maxGap is positive and the interval exceeds it, the edge is marked low
// confidence. Snapshots from different stations or with non-increasing
// timestamps indicate a caller bug and return ErrInvariantViolation.
func ComputeEdge(a, b Snapshot, maxGap time.Duration) (FlowEdge, error) {
	if a.StationID != b.StationID {
		return FlowEdge{}, fmt.Errorf("%w: edge endpoints from stations %q and %q", ErrInvariantViolation, a.StationID, b.StationID)
	}
	if !b.ObservedAt.After(a.ObservedAt) {
		return FlowEdge{}, fmt.Errorf("%w: edge endpoints out of order (%s, %s)", ErrInvariantViolation,
			a.ObservedAt.Format(time.RFC3339), b.ObservedAt.Format(time.RFC3339))
	}

	edge := FlowEdge{
		StationID: a.StationID,
		FromTS:    a.ObservedAt,
		ToTS:      b.ObservedAt,
	}
	delta := b.BikesAvailable - a.BikesAvailable
	switch {
	case delta < 0:
		edge.Departures = -delta
	case delta > 0:
		edge.Arrivals = delta
	}
	if maxGap > 0 && b.ObservedAt.Sub(a.ObservedAt) > maxGap {
		edge.LowConfidence = true
	}
	return edge, nil
}
