package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/velotrace/velotrace/internal/engine"
	"github.com/velotrace/velotrace/internal/store"
)

var relayBase = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestRelay(t *testing.T, st engine.Storage) *Relay {
	t.Helper()
	eng := engine.New(st, 15*time.Minute)
	err := eng.UpsertStation(context.Background(), engine.Station{
		ID: "st-1", Name: "Place de la Bourse", Capacity: 20,
	})
	if err != nil {
		t.Fatalf("seed station: %v", err)
	}
	return &Relay{id: "test", eng: eng}
}

func payload(t *testing.T, msg Message) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return b
}

func TestHandleInsertsAndDeduplicates(t *testing.T) {
	mem := store.NewMemory()
	r := newTestRelay(t, mem)
	ctx := context.Background()
	msg := payload(t, Message{
		StationID: "st-1", ObservedAt: relayBase, BikesAvailable: 5, DocksAvailable: 15,
	})

	ack, err := r.handle(ctx, msg)
	if err != nil || !ack {
		t.Fatalf("handle = (%v, %v), want acked without error", ack, err)
	}
	ack, err = r.handle(ctx, msg)
	if err != nil || !ack {
		t.Fatalf("redelivery handle = (%v, %v), want acked without error", ack, err)
	}

	stats := r.Snapshot()
	if stats.Inserted != 1 || stats.Duplicates != 1 || stats.Dropped != 0 {
		t.Errorf("stats = %+v, want 1 inserted and 1 duplicate", stats)
	}
	snaps, err := mem.ListSnapshots(ctx, "st-1", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Errorf("stored %d snapshots, want 1", len(snaps))
	}
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	r := newTestRelay(t, store.NewMemory())

	ack, err := r.handle(context.Background(), []byte(`{"station_id":`))
	if err != nil || !ack {
		t.Fatalf("handle = (%v, %v), want malformed message acked away", ack, err)
	}
	if stats := r.Snapshot(); stats.Dropped != 1 {
		t.Errorf("stats = %+v, want 1 dropped", stats)
	}
}

func TestHandleDropsRejectedObservations(t *testing.T) {
	r := newTestRelay(t, store.NewMemory())
	ctx := context.Background()

	tests := []struct {
		name string
		msg  Message
	}{
		{"unknown station", Message{
			StationID: "ghost", ObservedAt: relayBase, BikesAvailable: 5, DocksAvailable: 15,
		}},
		{"negative count", Message{
			StationID: "st-1", ObservedAt: relayBase, BikesAvailable: -1, DocksAvailable: 15,
		}},
		{"exceeds capacity", Message{
			StationID: "st-1", ObservedAt: relayBase, BikesAvailable: 12, DocksAvailable: 9,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := r.handle(ctx, payload(t, tt.msg))
			if err != nil || !ack {
				t.Fatalf("handle = (%v, %v), want rejected message acked away", ack, err)
			}
		})
	}
	if stats := r.Snapshot(); stats.Dropped != len(tests) {
		t.Errorf("stats = %+v, want %d dropped", stats, len(tests))
	}
}

type failingStore struct {
	*store.Memory
}

func (f *failingStore) InsertSnapshot(ctx context.Context, snap engine.Snapshot) (bool, error) {
	return false, errors.New("connection reset")
}

// Storage errors must leave the offset unmarked so Kafka redelivers the
// message once the store recovers.
func TestHandleLeavesStorageFailureUnacked(t *testing.T) {
	r := newTestRelay(t, &failingStore{Memory: store.NewMemory()})
	msg := payload(t, Message{
		StationID: "st-1", ObservedAt: relayBase, BikesAvailable: 5, DocksAvailable: 15,
	})

	ack, err := r.handle(context.Background(), msg)
	if err == nil || ack {
		t.Fatalf("handle = (%v, %v), want unacked error", ack, err)
	}
	if stats := r.Snapshot(); stats != (Stats{}) {
		t.Errorf("stats = %+v, want untouched counters", stats)
	}
}
