package engine

import "time"

// ScopeAll selects network-wide aggregation instead of a single station.
const ScopeAll = "ALL"

// IngestStatus reports what Ingest did with an observation.
type IngestStatus string

const (
	StatusInserted  IngestStatus = "inserted"
	StatusDuplicate IngestStatus = "duplicate"
)

// Station is one registry entry. Name and position may be refreshed from the
// feed at any time; capacity only changes through CorrectCapacity.
type Station struct {
	ID        string    `json:"station_id"`
	Name      string    `json:"name"`
	Capacity  int       `json:"capacity"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Observation is one raw feed reading before validation.
type Observation struct {
	StationID      string    `json:"station_id"`
	ObservedAt     time.Time `json:"observed_at"`
	BikesAvailable int       `json:"bikes_available"`
	DocksAvailable int       `json:"docks_available"`
}

// Snapshot is a validated observation as stored, unique per station and
// observation instant.
type Snapshot struct {
	StationID      string    `json:"station_id"`
	ObservedAt     time.Time `json:"observed_at"`
	BikesAvailable int       `json:"bikes_available"`
	DocksAvailable int       `json:"docks_available"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// FlowEdge is the derived movement between two temporally adjacent snapshots
// of one station over [FromTS, ToTS).
type FlowEdge struct {
	StationID     string    `json:"station_id"`
	FromTS        time.Time `json:"from_ts"`
	ToTS          time.Time `json:"to_ts"`
	Departures    int       `json:"departures"`
	Arrivals      int       `json:"arrivals"`
	LowConfidence bool      `json:"low_confidence"`
}

// EdgeSpan identifies a flow edge by its endpoints within one station.
type EdgeSpan struct {
	FromTS time.Time
	ToTS   time.Time
}

// Bucket is one fixed-width aggregation window. NetFlow is arrivals minus
// departures, so positive means the scope gained bikes.
type Bucket struct {
	Scope           string    `json:"scope"`
	BucketStart     time.Time `json:"bucket_start"`
	BucketEnd       time.Time `json:"bucket_end"`
	TotalDepartures int       `json:"total_departures"`
	TotalArrivals   int       `json:"total_arrivals"`
	NetFlow         int       `json:"net_flow"`
	LowConfidence   bool      `json:"low_confidence"`
}

// CapacityCorrection is the audit record of a capacity change, either applied
// by an operator or merely reported by the feed and left pending.
type CapacityCorrection struct {
	ID          string    `json:"id"`
	StationID   string    `json:"station_id"`
	OldCapacity int       `json:"old_capacity"`
	NewCapacity int       `json:"new_capacity"`
	Source      string    `json:"source"`
	Applied     bool      `json:"applied"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Correction sources.
const (
	CorrectionSourceSync     = "sync"
	CorrectionSourceOperator = "operator"
)

// StationState pairs a station with its most recent snapshot. The observation
// fields are nil for stations that have never reported.
type StationState struct {
	Station
	LastObservedAt *time.Time `json:"last_observed_at,omitempty"`
	BikesAvailable *int       `json:"bikes_available,omitempty"`
	DocksAvailable *int       `json:"docks_available,omitempty"`
}

// NetworkStatus is the latest known state of the whole network.
type NetworkStatus struct {
	Stations       []StationState `json:"stations"`
	StationCount   int            `json:"station_count"`
	TotalBikes     int            `json:"total_bikes"`
	TotalDocks     int            `json:"total_docks"`
	LastObservedAt *time.Time     `json:"last_observed_at,omitempty"`
}

// StationActivity summarizes one station's traffic over a window, used for
// rankings. TotalMoves is departures plus arrivals.
type StationActivity struct {
	StationID       string  `json:"station_id"`
	Name            string  `json:"name"`
	SnapshotCount   int     `json:"snapshot_count"`
	AvgBikes        float64 `json:"avg_bikes"`
	AvgUtilization  float64 `json:"avg_utilization_percent"`
	TotalDepartures int     `json:"total_departures"`
	TotalArrivals   int     `json:"total_arrivals"`
	TotalMoves      int     `json:"total_moves"`
}
