package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// UpsertStation registers a new station or refreshes the name and position of
// an existing one. Capacity is only taken at face value for new stations; for
// known stations a differing claim never changes the stored value and is
// instead recorded as a pending correction event, so that operators can review
// it and apply it through CorrectCapacity. Repeated claims of the same value
// record a single event.
func (e *Engine) UpsertStation(ctx context.Context, st Station) error {
	if st.ID == "" {
		return errors.New("station id is required")
	}
	if st.Capacity <= 0 {
		return fmt.Errorf("station %s: capacity must be positive, got %d", st.ID, st.Capacity)
	}

	lock := e.stationLock(st.ID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	cur, err := e.store.GetStation(ctx, st.ID)
	if errors.Is(err, ErrNotFound) {
		st.CreatedAt = now
		st.UpdatedAt = now
		return e.store.SaveStation(ctx, st)
	}
	if err != nil {
		return err
	}

	if st.Capacity != cur.Capacity {
		if err := e.recordDrift(ctx, cur, st.Capacity, now); err != nil {
			return err
		}
	}

	cur.Name = st.Name
	cur.Lat = st.Lat
	cur.Lon = st.Lon
	cur.UpdatedAt = now
	return e.store.SaveStation(ctx, cur)
}

// recordDrift stores a pending correction for a feed-reported capacity change
// unless the newest recorded event already proposes the same value.
func (e *Engine) recordDrift(ctx context.Context, cur Station, claimed int, now time.Time) error {
	events, err := e.store.ListCorrections(ctx, cur.ID)
	if err != nil {
		return err
	}
	if n := len(events); n > 0 {
		last := events[n-1]
		if !last.Applied && last.NewCapacity == claimed {
			return nil
		}
	}
	log.Printf("registry: station %s reports capacity %d, registry holds %d, recording pending correction", cur.ID, claimed, cur.Capacity)
	return e.store.RecordCorrection(ctx, CapacityCorrection{
		ID:          uuid.NewString(),
		StationID:   cur.ID,
		OldCapacity: cur.Capacity,
		NewCapacity: claimed,
		Source:      CorrectionSourceSync,
		Applied:     false,
		RecordedAt:  now,
	})
}

// CorrectCapacity applies an operator capacity change and records the applied
// event. Correcting to the current value is a no-op and records nothing; the
// returned correction then has an empty ID. Existing snapshots and flow edges
// are left untouched.
func (e *Engine) CorrectCapacity(ctx context.Context, stationID string, capacity int) (CapacityCorrection, error) {
	if capacity <= 0 {
		return CapacityCorrection{}, fmt.Errorf("station %s: capacity must be positive, got %d", stationID, capacity)
	}

	lock := e.stationLock(stationID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := e.store.GetStation(ctx, stationID)
	if err != nil {
		return CapacityCorrection{}, err
	}
	if capacity == cur.Capacity {
		return CapacityCorrection{}, nil
	}

	now := time.Now().UTC()
	event := CapacityCorrection{
		ID:          uuid.NewString(),
		StationID:   stationID,
		OldCapacity: cur.Capacity,
		NewCapacity: capacity,
		Source:      CorrectionSourceOperator,
		Applied:     true,
		RecordedAt:  now,
	}
	if err := e.store.RecordCorrection(ctx, event); err != nil {
		return CapacityCorrection{}, err
	}

	cur.Capacity = capacity
	cur.UpdatedAt = now
	if err := e.store.SaveStation(ctx, cur); err != nil {
		return CapacityCorrection{}, err
	}
	log.Printf("registry: station %s capacity corrected %d -> %d", stationID, event.OldCapacity, event.NewCapacity)
	return event, nil
}

// Station returns one registry entry, or ErrNotFound.
func (e *Engine) Station(ctx context.Context, id string) (Station, error) {
	return e.store.GetStation(ctx, id)
}

// Stations lists the registry ordered by station ID.
func (e *Engine) Stations(ctx context.Context) ([]Station, error) {
	return e.store.ListStations(ctx)
}

// Corrections lists a station's capacity correction events oldest first.
func (e *Engine) Corrections(ctx context.Context, stationID string) ([]CapacityCorrection, error) {
	if _, err := e.store.GetStation(ctx, stationID); err != nil {
		return nil, err
	}
	return e.store.ListCorrections(ctx, stationID)
}
