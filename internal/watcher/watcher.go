// Package watcher drives periodic ingestion cycles: fetch the feed, sync the
// station registry, push every reading through the engine.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/velotrace/velotrace/internal/citybikes"
	"github.com/velotrace/velotrace/internal/engine"
)

// cycleTimeout bounds one full fetch-and-ingest pass.
const cycleTimeout = 2 * time.Minute

// Watcher polls a CityBikes feed and feeds the engine.
type Watcher struct {
	client *citybikes.Client
	eng    *engine.Engine
	dryRun bool
}

// New builds a watcher. With dryRun set, cycles fetch and validate but write
// nothing.
func New(client *citybikes.Client, eng *engine.Engine, dryRun bool) *Watcher {
	return &Watcher{client: client, eng: eng, dryRun: dryRun}
}

// CycleStats summarizes one ingestion cycle.
type CycleStats struct {
	Stations   int
	Inserted   int
	Duplicates int
	Dropped    int
}

// RunCycle executes one fetch, registry sync and ingest pass. Readings the
// engine rejects are counted as dropped and logged; a storage failure aborts
// the cycle.
func (w *Watcher) RunCycle(ctx context.Context) (CycleStats, error) {
	network, err := w.client.FetchNetwork(ctx)
	if err != nil {
		return CycleStats{}, fmt.Errorf("fetch network: %w", err)
	}
	log.Printf("watcher: fetched %d stations from network %s", len(network.Stations), network.ID)

	stats := CycleStats{Stations: len(network.Stations)}
	for _, fs := range network.Stations {
		st, obs, ok := normalize(fs)
		if !ok {
			stats.Dropped++
			continue
		}
		if w.dryRun {
			log.Printf("watcher: dry run, would ingest station=%s bikes=%d docks=%d at %s",
				obs.StationID, obs.BikesAvailable, obs.DocksAvailable, obs.ObservedAt.Format(time.RFC3339))
			continue
		}

		if err := w.eng.UpsertStation(ctx, st); err != nil {
			log.Printf("watcher: skip station %s: %v", st.ID, err)
			stats.Dropped++
			continue
		}
		status, err := w.eng.Ingest(ctx, obs)
		switch {
		case errors.Is(err, engine.ErrUnknownStation), errors.Is(err, engine.ErrInvalidObservation):
			log.Printf("watcher: dropped observation for %s: %v", obs.StationID, err)
			stats.Dropped++
		case err != nil:
			return stats, fmt.Errorf("ingest observation for %s: %w", obs.StationID, err)
		case status == engine.StatusDuplicate:
			stats.Duplicates++
		default:
			stats.Inserted++
		}
	}

	log.Printf("watcher: cycle done, inserted=%d duplicates=%d dropped=%d", stats.Inserted, stats.Duplicates, stats.Dropped)
	return stats, nil
}

// Run executes one cycle immediately, then schedules further cycles at the
// given interval until the context is cancelled.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	if _, err := w.runBounded(ctx); err != nil {
		log.Printf("watcher: initial cycle failed: %v", err)
	}

	scheduler := gocron.NewScheduler(time.UTC)
	if _, err := scheduler.Every(interval).Do(func() {
		if _, err := w.runBounded(ctx); err != nil {
			log.Printf("watcher: cycle failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule cycles: %w", err)
	}

	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()
	return nil
}

func (w *Watcher) runBounded(ctx context.Context) (CycleStats, error) {
	cycleCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()
	return w.RunCycle(cycleCtx)
}

// normalize turns a feed entry into a registry record and an observation.
// Entries without an ID, a timestamp or live counts are unusable. Capacity is
// the operator-published slot count when present, otherwise the observed
// bikes plus docks as a floor.
func normalize(fs citybikes.Station) (engine.Station, engine.Observation, bool) {
	if fs.ID == "" || fs.Timestamp.IsZero() || fs.FreeBikes == nil || fs.EmptySlots == nil {
		return engine.Station{}, engine.Observation{}, false
	}
	capacity := fs.Extra.Slots
	if capacity <= 0 {
		capacity = *fs.FreeBikes + *fs.EmptySlots
	}
	if capacity <= 0 {
		return engine.Station{}, engine.Observation{}, false
	}

	st := engine.Station{
		ID:       fs.ID,
		Name:     fs.Name,
		Capacity: capacity,
		Lat:      fs.Latitude,
		Lon:      fs.Longitude,
	}
	obs := engine.Observation{
		StationID:      fs.ID,
		ObservedAt:     fs.Timestamp.UTC(),
		BikesAvailable: *fs.FreeBikes,
		DocksAvailable: *fs.EmptySlots,
	}
	return st, obs, true
}
