package engine

import (
	"context"
	"fmt"
	"time"
)

// DefaultRankingLimit is how many stations TopStations returns when the
// caller does not say.
const DefaultRankingLimit = 10

// NetworkStatus reports the latest observed state of every station plus
// network totals. Stations that never reported appear with nil observation
// fields and contribute nothing to the totals.
func (e *Engine) NetworkStatus(ctx context.Context) (NetworkStatus, error) {
	states, err := e.store.LatestStates(ctx)
	if err != nil {
		return NetworkStatus{}, err
	}

	status := NetworkStatus{
		Stations:     states,
		StationCount: len(states),
	}
	for _, st := range states {
		if st.BikesAvailable != nil {
			status.TotalBikes += *st.BikesAvailable
		}
		if st.DocksAvailable != nil {
			status.TotalDocks += *st.DocksAvailable
		}
		if st.LastObservedAt == nil {
			continue
		}
		if status.LastObservedAt == nil || st.LastObservedAt.After(*status.LastObservedAt) {
			t := *st.LastObservedAt
			status.LastObservedAt = &t
		}
	}
	return status, nil
}

// TopStations ranks stations by total moves over [start, end), busiest first.
// limit <= 0 falls back to DefaultRankingLimit.
func (e *Engine) TopStations(ctx context.Context, start, end time.Time, limit int) ([]StationActivity, error) {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", ErrInvalidRange)
	}
	if limit <= 0 {
		limit = DefaultRankingLimit
	}

	rows, err := e.store.StationActivity(ctx, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}
