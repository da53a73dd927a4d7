package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/velotrace/velotrace/internal/engine"
)

// Memory is an in-memory engine.Storage, used in tests and for running the
// stack without Postgres. Snapshot and edge slices are kept sorted by time so
// neighbor lookups and range scans mirror the indexed SQL paths.
type Memory struct {
	mu          sync.RWMutex
	stations    map[string]engine.Station
	snapshots   map[string][]engine.Snapshot
	edges       map[string][]engine.FlowEdge
	corrections map[string][]engine.CapacityCorrection
}

// NewMemory returns an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{
		stations:    make(map[string]engine.Station),
		snapshots:   make(map[string][]engine.Snapshot),
		edges:       make(map[string][]engine.FlowEdge),
		corrections: make(map[string][]engine.CapacityCorrection),
	}
}

func (m *Memory) SaveStation(_ context.Context, st engine.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stations[st.ID] = st
	return nil
}

func (m *Memory) GetStation(_ context.Context, id string) (engine.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stations[id]
	if !ok {
		return engine.Station{}, engine.ErrNotFound
	}
	return st, nil
}

func (m *Memory) ListStations(_ context.Context) ([]engine.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Station, 0, len(m.stations))
	for _, st := range m.stations {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) RecordCorrection(_ context.Context, c engine.CapacityCorrection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections[c.StationID] = append(m.corrections[c.StationID], c)
	return nil
}

func (m *Memory) ListCorrections(_ context.Context, stationID string) ([]engine.CapacityCorrection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.corrections[stationID]
	out := make([]engine.CapacityCorrection, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) InsertSnapshot(_ context.Context, s engine.Snapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := m.snapshots[s.StationID]
	i := sort.Search(len(snaps), func(i int) bool {
		return !snaps[i].ObservedAt.Before(s.ObservedAt)
	})
	if i < len(snaps) && snaps[i].ObservedAt.Equal(s.ObservedAt) {
		return false, nil
	}

	snaps = append(snaps, engine.Snapshot{})
	copy(snaps[i+1:], snaps[i:])
	snaps[i] = s
	m.snapshots[s.StationID] = snaps
	return true, nil
}

func (m *Memory) Neighbors(_ context.Context, stationID string, at time.Time) (*engine.Snapshot, *engine.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.snapshots[stationID]
	// First index at or after the pivot.
	i := sort.Search(len(snaps), func(i int) bool {
		return !snaps[i].ObservedAt.Before(at)
	})

	var prev, next *engine.Snapshot
	if i > 0 {
		s := snaps[i-1]
		prev = &s
	}
	for j := i; j < len(snaps); j++ {
		if snaps[j].ObservedAt.After(at) {
			s := snaps[j]
			next = &s
			break
		}
	}
	return prev, next, nil
}

func (m *Memory) ListSnapshots(_ context.Context, stationID string, start, end time.Time, limit int) ([]engine.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.Snapshot
	for _, s := range m.snapshots[stationID] {
		if !start.IsZero() && s.ObservedAt.Before(start) {
			continue
		}
		if !end.IsZero() && !s.ObservedAt.Before(end) {
			break
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) LatestStates(_ context.Context) ([]engine.StationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.stations))
	for id := range m.stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]engine.StationState, 0, len(ids))
	for _, id := range ids {
		state := engine.StationState{Station: m.stations[id]}
		if snaps := m.snapshots[id]; len(snaps) > 0 {
			last := snaps[len(snaps)-1]
			ts := last.ObservedAt
			bikes := last.BikesAvailable
			docks := last.DocksAvailable
			state.LastObservedAt = &ts
			state.BikesAvailable = &bikes
			state.DocksAvailable = &docks
		}
		out = append(out, state)
	}
	return out, nil
}

func (m *Memory) ReplaceEdges(_ context.Context, stationID string, drop []engine.EdgeSpan, put []engine.FlowEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	edges := m.edges[stationID]
	for _, span := range drop {
		for i, e := range edges {
			if e.FromTS.Equal(span.FromTS) && e.ToTS.Equal(span.ToTS) {
				edges = append(edges[:i], edges[i+1:]...)
				break
			}
		}
	}
	for _, edge := range put {
		replaced := false
		for i, e := range edges {
			if e.FromTS.Equal(edge.FromTS) && e.ToTS.Equal(edge.ToTS) {
				edges[i] = edge
				replaced = true
				break
			}
		}
		if !replaced {
			edges = append(edges, edge)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].FromTS.Before(edges[j].FromTS) })
	m.edges[stationID] = edges
	return nil
}

func (m *Memory) ClearEdges(_ context.Context, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edges, stationID)
	return nil
}

func (m *Memory) EdgesWithin(_ context.Context, stationID string, start, end time.Time) ([]engine.FlowEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.FlowEdge
	appendOverlapping := func(edges []engine.FlowEdge) {
		for _, e := range edges {
			if e.FromTS.Before(end) && e.ToTS.After(start) {
				out = append(out, e)
			}
		}
	}
	if stationID != "" {
		appendOverlapping(m.edges[stationID])
		return out, nil
	}

	ids := make([]string, 0, len(m.edges))
	for id := range m.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		appendOverlapping(m.edges[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FromTS.Before(out[j].FromTS) })
	return out, nil
}

func (m *Memory) StationActivity(_ context.Context, start, end time.Time) ([]engine.StationActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.StationActivity
	for id, st := range m.stations {
		row := engine.StationActivity{StationID: id, Name: st.Name}

		var bikesSum, utilSum float64
		var utilCount int
		for _, s := range m.snapshots[id] {
			if s.ObservedAt.Before(start) || !s.ObservedAt.Before(end) {
				continue
			}
			row.SnapshotCount++
			bikesSum += float64(s.BikesAvailable)
			if total := s.BikesAvailable + s.DocksAvailable; total > 0 {
				utilSum += float64(s.BikesAvailable) / float64(total)
				utilCount++
			}
		}
		if row.SnapshotCount > 0 {
			row.AvgBikes = bikesSum / float64(row.SnapshotCount)
		}
		if utilCount > 0 {
			row.AvgUtilization = math.Round(utilSum/float64(utilCount)*100*100) / 100
		}

		var hasEdge bool
		for _, e := range m.edges[id] {
			if e.FromTS.Before(end) && e.ToTS.After(start) {
				hasEdge = true
				row.TotalDepartures += e.Departures
				row.TotalArrivals += e.Arrivals
			}
		}
		row.TotalMoves = row.TotalDepartures + row.TotalArrivals

		if row.SnapshotCount > 0 || hasEdge {
			out = append(out, row)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalMoves != out[j].TotalMoves {
			return out[i].TotalMoves > out[j].TotalMoves
		}
		return out[i].StationID < out[j].StationID
	})
	return out, nil
}
