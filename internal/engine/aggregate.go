package engine

import (
	"context"
	"fmt"
	"time"
)

// maxBuckets bounds one aggregation query so a tiny bucket over a huge range
// cannot pin the process.
const maxBuckets = 10000

// Query rolls flow edges into fixed-width buckets. scope is a station ID or
// ScopeAll (an empty scope means ScopeAll). Buckets step from start; the last
// one may extend past end so the range is always fully covered. Every bucket
// in the range is returned, zero-valued when nothing moved. An edge
// contributes its full totals to every bucket its interval overlaps, and a
// bucket is low confidence when any contributing edge is.
func (e *Engine) Query(ctx context.Context, scope string, start, end time.Time, bucketSize time.Duration) ([]Bucket, error) {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", ErrInvalidRange)
	}
	if bucketSize <= 0 {
		return nil, fmt.Errorf("%w: bucket size must be positive, got %s", ErrInvalidRange, bucketSize)
	}

	start, end = start.UTC(), end.UTC()
	n := int((end.Sub(start) + bucketSize - 1) / bucketSize)
	if n > maxBuckets {
		return nil, fmt.Errorf("%w: range spans %d buckets, limit is %d", ErrInvalidRange, n, maxBuckets)
	}

	stationID := ""
	label := ScopeAll
	if scope != "" && scope != ScopeAll {
		if _, err := e.store.GetStation(ctx, scope); err != nil {
			return nil, err
		}
		stationID = scope
		label = scope
	}

	buckets := make([]Bucket, n)
	for i := range buckets {
		bs := start.Add(time.Duration(i) * bucketSize)
		buckets[i] = Bucket{
			Scope:       label,
			BucketStart: bs,
			BucketEnd:   bs.Add(bucketSize),
		}
	}

	spanEnd := start.Add(time.Duration(n) * bucketSize)
	edges, err := e.store.EdgesWithin(ctx, stationID, start, spanEnd)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		i := int(edge.FromTS.Sub(start) / bucketSize)
		if i < 0 {
			i = 0
		}
		for ; i < n; i++ {
			b := &buckets[i]
			if !b.BucketStart.Before(edge.ToTS) {
				break
			}
			b.TotalDepartures += edge.Departures
			b.TotalArrivals += edge.Arrivals
			if edge.LowConfidence {
				b.LowConfidence = true
			}
		}
	}
	for i := range buckets {
		buckets[i].NetFlow = buckets[i].TotalArrivals - buckets[i].TotalDepartures
	}
	return buckets, nil
}
