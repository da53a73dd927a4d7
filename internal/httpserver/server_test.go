package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/velotrace/velotrace/internal/config"
	"github.com/velotrace/velotrace/internal/engine"
	"github.com/velotrace/velotrace/internal/store"
)

var testBase = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// newTestServer builds a server over in-memory storage seeded with station
// st-1 (capacity 20) and two snapshots ten minutes apart.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	eng := engine.New(mem, 15*time.Minute)
	ctx := context.Background()

	err := eng.UpsertStation(ctx, engine.Station{
		ID: "st-1", Name: "Place de la Bourse", Capacity: 20, Lat: 44.8415, Lon: -0.5694,
	})
	if err != nil {
		t.Fatalf("seed station: %v", err)
	}
	for i, bikes := range []int{5, 3} {
		_, err := eng.Ingest(ctx, engine.Observation{
			StationID:      "st-1",
			ObservedAt:     testBase.Add(time.Duration(i*10) * time.Minute),
			BikesAvailable: bikes,
			DocksAvailable: 20 - bikes,
		})
		if err != nil {
			t.Fatalf("seed snapshot: %v", err)
		}
	}

	cfg := config.APIConfig{
		Port:          8080,
		HistoryLimit:  100,
		RankingLimit:  10,
		RankingWindow: 24 * time.Hour,
	}
	return New(cfg, eng)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestIngestObservationStatuses(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{
			"new observation",
			`{"station_id":"st-1","observed_at":"2025-06-01T08:20:00Z","bikes_available":4,"docks_available":16}`,
			http.StatusCreated,
		},
		{
			"duplicate observation",
			`{"station_id":"st-1","observed_at":"2025-06-01T08:20:00Z","bikes_available":4,"docks_available":16}`,
			http.StatusOK,
		},
		{
			"unknown station",
			`{"station_id":"ghost","observed_at":"2025-06-01T08:20:00Z","bikes_available":4,"docks_available":16}`,
			http.StatusNotFound,
		},
		{
			"exceeds capacity",
			`{"station_id":"st-1","observed_at":"2025-06-01T08:30:00Z","bikes_available":12,"docks_available":9}`,
			http.StatusUnprocessableEntity,
		},
		{
			"missing fields",
			`{"station_id":"st-1"}`,
			http.StatusBadRequest,
		},
		{
			"malformed json",
			`{"station_id":`,
			http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, s, http.MethodPost, "/api/v1/observations", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body=%s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestIngestReportsStatusInBody(t *testing.T) {
	s := newTestServer(t)
	body := `{"station_id":"st-1","observed_at":"2025-06-01T08:20:00Z","bikes_available":4,"docks_available":16}`

	w := doRequest(t, s, http.MethodPost, "/api/v1/observations", body)
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["status"] != "inserted" {
		t.Errorf("status = %v, want inserted", data["status"])
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/observations", body)
	data = decodeBody(t, w)["data"].(map[string]any)
	if data["status"] != "duplicate" {
		t.Errorf("status = %v, want duplicate", data["status"])
	}
}

func TestGetStation(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/stations/st-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-API-Version"); got != "v1" {
		t.Errorf("X-API-Version = %q, want v1", got)
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["station_id"] != "st-1" || data["capacity"].(float64) != 20 {
		t.Errorf("unexpected station payload: %v", data)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/stations/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown station, want 404", w.Code)
	}
}

func TestListStations(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/stations", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	meta := decodeBody(t, w)["meta"].(map[string]any)
	if meta["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", meta["count"])
	}
}

func TestUpsertStation(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/stations",
		`{"station_id":"st-2","name":"Quinconces","capacity":30,"lat":44.845,"lon":-0.574}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["capacity"].(float64) != 30 {
		t.Errorf("capacity = %v, want 30", data["capacity"])
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/stations", `{"station_id":"st-3"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for missing fields, want 400", w.Code)
	}
}

func TestStationSnapshots(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/stations/st-1/snapshots", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	meta := decodeBody(t, w)["meta"].(map[string]any)
	if meta["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", meta["count"])
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/stations/st-1/snapshots?start=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad start, want 400", w.Code)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/stations/ghost/snapshots", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown station, want 404", w.Code)
	}
}

func TestCorrectCapacity(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/stations/st-1/capacity", `{"capacity":30}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["new_capacity"].(float64) != 30 || data["applied"] != true {
		t.Errorf("unexpected correction payload: %v", data)
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/stations/st-1/capacity", `{"capacity":30}`)
	data = decodeBody(t, w)["data"].(map[string]any)
	if data["status"] != "unchanged" {
		t.Errorf("repeat correction = %v, want unchanged", data)
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/stations/st-1/capacity", `{"capacity":0}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for zero capacity, want 400", w.Code)
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/stations/ghost/capacity", `{"capacity":30}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown station, want 404", w.Code)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/stations/st-1/corrections", "")
	meta := decodeBody(t, w)["meta"].(map[string]any)
	if meta["count"].(float64) != 1 {
		t.Errorf("corrections count = %v, want 1", meta["count"])
	}
}

func TestQueryFlows(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet,
		"/api/v1/flows?start=2025-06-01T08:00:00Z&end=2025-06-01T11:00:00Z&bucket=1h", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	meta := body["meta"].(map[string]any)
	if meta["count"].(float64) != 3 || meta["scope"] != "ALL" {
		t.Errorf("meta = %v, want 3 buckets over ALL", meta)
	}
	buckets := body["data"].([]any)
	first := buckets[0].(map[string]any)
	if first["total_departures"].(float64) != 2 {
		t.Errorf("first bucket departures = %v, want 2", first["total_departures"])
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/flows?end=2025-06-01T11:00:00Z", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for missing start, want 400", w.Code)
	}

	w = doRequest(t, s, http.MethodGet,
		"/api/v1/flows?start=2025-06-01T11:00:00Z&end=2025-06-01T08:00:00Z", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for reversed range, want 400", w.Code)
	}

	w = doRequest(t, s, http.MethodGet,
		"/api/v1/flows?station=ghost&start=2025-06-01T08:00:00Z&end=2025-06-01T11:00:00Z", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown station, want 404", w.Code)
	}

	w = doRequest(t, s, http.MethodGet,
		"/api/v1/flows?start=2025-06-01T08:00:00Z&end=2025-06-01T11:00:00Z&bucket=banana", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad bucket, want 400", w.Code)
	}
}

func TestRankings(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet,
		"/api/v1/rankings?start=2025-06-01T08:00:00Z&end=2025-06-01T09:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	rows := body["data"].([]any)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	top := rows[0].(map[string]any)
	if top["station_id"] != "st-1" || top["total_moves"].(float64) != 2 {
		t.Errorf("top row = %v, want st-1 with 2 moves", top)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/rankings?limit=zero", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad limit, want 400", w.Code)
	}
}

func TestRealtimeNow(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/realtime/now", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["station_count"].(float64) != 1 {
		t.Errorf("station_count = %v, want 1", data["station_count"])
	}
	if data["total_bikes"].(float64) != 3 {
		t.Errorf("total_bikes = %v, want latest snapshot's 3", data["total_bikes"])
	}
}

func TestRebuildFlows(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/stations/st-1/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["edges"].(float64) != 1 {
		t.Errorf("rebuilt edges = %v, want 1", data["edges"])
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/stations/ghost/rebuild", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown station, want 404", w.Code)
	}
}
