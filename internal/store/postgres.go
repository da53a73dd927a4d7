package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velotrace/velotrace/internal/engine"
)

// Postgres implements engine.Storage on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying pool.
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS velotrace`,
	`CREATE TABLE IF NOT EXISTS velotrace.stations (
		station_id TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		capacity   INTEGER NOT NULL,
		lat        DOUBLE PRECISION NOT NULL,
		lon        DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS velotrace.snapshots (
		station_id      TEXT NOT NULL REFERENCES velotrace.stations (station_id),
		observed_at     TIMESTAMPTZ NOT NULL,
		bikes_available INTEGER NOT NULL,
		docks_available INTEGER NOT NULL,
		ingested_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (station_id, observed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS velotrace.flow_edges (
		station_id     TEXT NOT NULL,
		from_ts        TIMESTAMPTZ NOT NULL,
		to_ts          TIMESTAMPTZ NOT NULL,
		departures     INTEGER NOT NULL,
		arrivals       INTEGER NOT NULL,
		low_confidence BOOLEAN NOT NULL,
		PRIMARY KEY (station_id, from_ts, to_ts)
	)`,
	`CREATE INDEX IF NOT EXISTS flow_edges_span_idx ON velotrace.flow_edges (from_ts, to_ts)`,
	`CREATE TABLE IF NOT EXISTS velotrace.capacity_corrections (
		id           UUID PRIMARY KEY,
		station_id   TEXT NOT NULL,
		old_capacity INTEGER NOT NULL,
		new_capacity INTEGER NOT NULL,
		source       TEXT NOT NULL,
		applied      BOOLEAN NOT NULL,
		recorded_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS capacity_corrections_station_idx ON velotrace.capacity_corrections (station_id, recorded_at)`,
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const saveStationSQL = `
INSERT INTO velotrace.stations (station_id, name, capacity, lat, lon, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (station_id) DO UPDATE SET
	name = EXCLUDED.name,
	capacity = EXCLUDED.capacity,
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	updated_at = EXCLUDED.updated_at
`

func (s *Postgres) SaveStation(ctx context.Context, st engine.Station) error {
	_, err := s.pool.Exec(ctx, saveStationSQL, st.ID, st.Name, st.Capacity, st.Lat, st.Lon, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save station %s: %w", st.ID, err)
	}
	return nil
}

const getStationSQL = `
SELECT station_id, name, capacity, lat, lon, created_at, updated_at
FROM velotrace.stations
WHERE station_id = $1
`

func (s *Postgres) GetStation(ctx context.Context, id string) (engine.Station, error) {
	var st engine.Station
	err := s.pool.QueryRow(ctx, getStationSQL, id).
		Scan(&st.ID, &st.Name, &st.Capacity, &st.Lat, &st.Lon, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Station{}, engine.ErrNotFound
	}
	if err != nil {
		return engine.Station{}, fmt.Errorf("get station %s: %w", id, err)
	}
	return st, nil
}

const listStationsSQL = `
SELECT station_id, name, capacity, lat, lon, created_at, updated_at
FROM velotrace.stations
ORDER BY station_id
`

func (s *Postgres) ListStations(ctx context.Context) ([]engine.Station, error) {
	rows, err := s.pool.Query(ctx, listStationsSQL)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var out []engine.Station
	for rows.Next() {
		var st engine.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.Capacity, &st.Lat, &st.Lon, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

const recordCorrectionSQL = `
INSERT INTO velotrace.capacity_corrections (id, station_id, old_capacity, new_capacity, source, applied, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (s *Postgres) RecordCorrection(ctx context.Context, c engine.CapacityCorrection) error {
	_, err := s.pool.Exec(ctx, recordCorrectionSQL, c.ID, c.StationID, c.OldCapacity, c.NewCapacity, c.Source, c.Applied, c.RecordedAt)
	if err != nil {
		return fmt.Errorf("record correction for %s: %w", c.StationID, err)
	}
	return nil
}

const listCorrectionsSQL = `
SELECT id, station_id, old_capacity, new_capacity, source, applied, recorded_at
FROM velotrace.capacity_corrections
WHERE station_id = $1
ORDER BY recorded_at
`

func (s *Postgres) ListCorrections(ctx context.Context, stationID string) ([]engine.CapacityCorrection, error) {
	rows, err := s.pool.Query(ctx, listCorrectionsSQL, stationID)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	var out []engine.CapacityCorrection
	for rows.Next() {
		var c engine.CapacityCorrection
		if err := rows.Scan(&c.ID, &c.StationID, &c.OldCapacity, &c.NewCapacity, &c.Source, &c.Applied, &c.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const insertSnapshotSQL = `
INSERT INTO velotrace.snapshots (station_id, observed_at, bikes_available, docks_available, ingested_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (station_id, observed_at) DO NOTHING
`

func (s *Postgres) InsertSnapshot(ctx context.Context, snap engine.Snapshot) (bool, error) {
	ct, err := s.pool.Exec(ctx, insertSnapshotSQL,
		snap.StationID, snap.ObservedAt, snap.BikesAvailable, snap.DocksAvailable, snap.IngestedAt)
	if err != nil {
		return false, fmt.Errorf("insert snapshot %s: %w", snap.StationID, err)
	}
	return ct.RowsAffected() == 1, nil
}

const prevSnapshotSQL = `
SELECT station_id, observed_at, bikes_available, docks_available, ingested_at
FROM velotrace.snapshots
WHERE station_id = $1 AND observed_at < $2
ORDER BY observed_at DESC
LIMIT 1
`

const nextSnapshotSQL = `
SELECT station_id, observed_at, bikes_available, docks_available, ingested_at
FROM velotrace.snapshots
WHERE station_id = $1 AND observed_at > $2
ORDER BY observed_at ASC
LIMIT 1
`

func (s *Postgres) Neighbors(ctx context.Context, stationID string, at time.Time) (*engine.Snapshot, *engine.Snapshot, error) {
	prev, err := s.querySnapshot(ctx, prevSnapshotSQL, stationID, at)
	if err != nil {
		return nil, nil, fmt.Errorf("query previous snapshot: %w", err)
	}
	next, err := s.querySnapshot(ctx, nextSnapshotSQL, stationID, at)
	if err != nil {
		return nil, nil, fmt.Errorf("query next snapshot: %w", err)
	}
	return prev, next, nil
}

func (s *Postgres) querySnapshot(ctx context.Context, sql, stationID string, at time.Time) (*engine.Snapshot, error) {
	var snap engine.Snapshot
	err := s.pool.QueryRow(ctx, sql, stationID, at).
		Scan(&snap.StationID, &snap.ObservedAt, &snap.BikesAvailable, &snap.DocksAvailable, &snap.IngestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Postgres) ListSnapshots(ctx context.Context, stationID string, start, end time.Time, limit int) ([]engine.Snapshot, error) {
	query := `SELECT station_id, observed_at, bikes_available, docks_available, ingested_at
FROM velotrace.snapshots
WHERE station_id = $1`
	args := []any{stationID}
	if !start.IsZero() {
		args = append(args, start)
		query += " AND observed_at >= $" + strconv.Itoa(len(args))
	}
	if !end.IsZero() {
		args = append(args, end)
		query += " AND observed_at < $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY observed_at"
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []engine.Snapshot
	for rows.Next() {
		var snap engine.Snapshot
		if err := rows.Scan(&snap.StationID, &snap.ObservedAt, &snap.BikesAvailable, &snap.DocksAvailable, &snap.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

const latestStatesSQL = `
SELECT s.station_id, s.name, s.capacity, s.lat, s.lon, s.created_at, s.updated_at,
       m.observed_at, m.bikes_available, m.docks_available
FROM velotrace.stations s
LEFT JOIN LATERAL (
	SELECT observed_at, bikes_available, docks_available
	FROM velotrace.snapshots
	WHERE station_id = s.station_id
	ORDER BY observed_at DESC
	LIMIT 1
) m ON true
ORDER BY s.station_id
`

func (s *Postgres) LatestStates(ctx context.Context) ([]engine.StationState, error) {
	rows, err := s.pool.Query(ctx, latestStatesSQL)
	if err != nil {
		return nil, fmt.Errorf("query latest states: %w", err)
	}
	defer rows.Close()

	var out []engine.StationState
	for rows.Next() {
		var state engine.StationState
		if err := rows.Scan(&state.ID, &state.Name, &state.Capacity, &state.Lat, &state.Lon,
			&state.CreatedAt, &state.UpdatedAt,
			&state.LastObservedAt, &state.BikesAvailable, &state.DocksAvailable); err != nil {
			return nil, fmt.Errorf("scan latest state: %w", err)
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

const deleteEdgeSQL = `
DELETE FROM velotrace.flow_edges
WHERE station_id = $1 AND from_ts = $2 AND to_ts = $3
`

const upsertEdgeSQL = `
INSERT INTO velotrace.flow_edges (station_id, from_ts, to_ts, departures, arrivals, low_confidence)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (station_id, from_ts, to_ts) DO UPDATE SET
	departures = EXCLUDED.departures,
	arrivals = EXCLUDED.arrivals,
	low_confidence = EXCLUDED.low_confidence
`

func (s *Postgres) ReplaceEdges(ctx context.Context, stationID string, drop []engine.EdgeSpan, put []engine.FlowEdge) error {
	batch := &pgx.Batch{}
	for _, span := range drop {
		batch.Queue(deleteEdgeSQL, stationID, span.FromTS, span.ToTS)
	}
	for _, edge := range put {
		batch.Queue(upsertEdgeSQL, edge.StationID, edge.FromTS, edge.ToTS, edge.Departures, edge.Arrivals, edge.LowConfidence)
	}
	if batch.Len() == 0 {
		return nil
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("apply edge batch for %s: %w", stationID, err)
		}
	}
	return nil
}

const clearEdgesSQL = `
DELETE FROM velotrace.flow_edges
WHERE station_id = $1
`

func (s *Postgres) ClearEdges(ctx context.Context, stationID string) error {
	if _, err := s.pool.Exec(ctx, clearEdgesSQL, stationID); err != nil {
		return fmt.Errorf("clear edges for %s: %w", stationID, err)
	}
	return nil
}

func (s *Postgres) EdgesWithin(ctx context.Context, stationID string, start, end time.Time) ([]engine.FlowEdge, error) {
	query := `SELECT station_id, from_ts, to_ts, departures, arrivals, low_confidence
FROM velotrace.flow_edges
WHERE to_ts > $1 AND from_ts < $2`
	args := []any{start, end}
	if stationID != "" {
		args = append(args, stationID)
		query += " AND station_id = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY from_ts, station_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []engine.FlowEdge
	for rows.Next() {
		var edge engine.FlowEdge
		if err := rows.Scan(&edge.StationID, &edge.FromTS, &edge.ToTS, &edge.Departures, &edge.Arrivals, &edge.LowConfidence); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}

const stationActivitySQL = `
SELECT s.station_id,
       s.name,
       COALESCE(sn.snapshot_count, 0),
       COALESCE(sn.avg_bikes, 0),
       COALESCE(sn.avg_utilization, 0),
       COALESCE(fe.total_departures, 0),
       COALESCE(fe.total_arrivals, 0)
FROM velotrace.stations s
LEFT JOIN (
	SELECT station_id,
	       COUNT(*) AS snapshot_count,
	       AVG(bikes_available) AS avg_bikes,
	       ROUND(AVG(bikes_available::numeric / NULLIF(bikes_available + docks_available, 0)) * 100, 2) AS avg_utilization
	FROM velotrace.snapshots
	WHERE observed_at >= $1 AND observed_at < $2
	GROUP BY station_id
) sn ON sn.station_id = s.station_id
LEFT JOIN (
	SELECT station_id,
	       SUM(departures) AS total_departures,
	       SUM(arrivals) AS total_arrivals
	FROM velotrace.flow_edges
	WHERE from_ts < $2 AND to_ts > $1
	GROUP BY station_id
) fe ON fe.station_id = s.station_id
WHERE sn.station_id IS NOT NULL OR fe.station_id IS NOT NULL
ORDER BY COALESCE(fe.total_departures, 0) + COALESCE(fe.total_arrivals, 0) DESC, s.station_id
`

func (s *Postgres) StationActivity(ctx context.Context, start, end time.Time) ([]engine.StationActivity, error) {
	rows, err := s.pool.Query(ctx, stationActivitySQL, start, end)
	if err != nil {
		return nil, fmt.Errorf("query station activity: %w", err)
	}
	defer rows.Close()

	var out []engine.StationActivity
	for rows.Next() {
		var row engine.StationActivity
		if err := rows.Scan(&row.StationID, &row.Name, &row.SnapshotCount, &row.AvgBikes,
			&row.AvgUtilization, &row.TotalDepartures, &row.TotalArrivals); err != nil {
			return nil, fmt.Errorf("scan station activity: %w", err)
		}
		row.TotalMoves = row.TotalDepartures + row.TotalArrivals
		out = append(out, row)
	}
	return out, rows.Err()
}
