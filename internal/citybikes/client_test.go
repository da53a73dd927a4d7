package citybikes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const networkFixture = `{
  "network": {
    "id": "v3-bordeaux",
    "name": "VCUB",
    "stations": [
      {
        "id": "f68a3aff1827df5b42a1bd0a9c2b523b",
        "name": "Place de la Bourse",
        "timestamp": "2025-06-01T08:00:00.000000Z",
        "free_bikes": 7,
        "empty_slots": 13,
        "latitude": 44.841573,
        "longitude": -0.569451,
        "extra": {"slots": 20, "status": "OPEN"}
      },
      {
        "id": "0d3ba92e4dca52cf0f5d0ee1c09b26aa",
        "name": "Quinconces",
        "timestamp": "2025-06-01T08:00:05.000000Z",
        "free_bikes": null,
        "empty_slots": null,
        "latitude": 44.845,
        "longitude": -0.574,
        "extra": {"status": "CLOSED"}
      }
    ]
  }
}`

func TestFetchNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(networkFixture))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	network, err := client.FetchNetwork(context.Background())
	if err != nil {
		t.Fatalf("FetchNetwork: %v", err)
	}

	if network.ID != "v3-bordeaux" {
		t.Errorf("network id = %q, want v3-bordeaux", network.ID)
	}
	if len(network.Stations) != 2 {
		t.Fatalf("got %d stations, want 2", len(network.Stations))
	}

	live := network.Stations[0]
	if live.Name != "Place de la Bourse" {
		t.Errorf("name = %q", live.Name)
	}
	if live.FreeBikes == nil || *live.FreeBikes != 7 {
		t.Errorf("free bikes = %v, want 7", live.FreeBikes)
	}
	if live.EmptySlots == nil || *live.EmptySlots != 13 {
		t.Errorf("empty slots = %v, want 13", live.EmptySlots)
	}
	if live.Extra.Slots != 20 {
		t.Errorf("slots = %d, want 20", live.Extra.Slots)
	}
	wantTS := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	if !live.Timestamp.Equal(wantTS) {
		t.Errorf("timestamp = %s, want %s", live.Timestamp, wantTS)
	}

	offline := network.Stations[1]
	if offline.FreeBikes != nil || offline.EmptySlots != nil {
		t.Errorf("offline station should decode null counts as nil: %+v", offline)
	}
}

func TestFetchNetworkHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	if _, err := client.FetchNetwork(context.Background()); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}

func TestFetchNetworkBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	if _, err := client.FetchNetwork(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}
