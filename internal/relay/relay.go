// Package relay consumes observation messages from Kafka and feeds them to
// the engine, for deployments where remote fetchers publish to a topic
// instead of calling the ingest API directly.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Shopify/sarama"

	"github.com/velotrace/velotrace/internal/engine"
)

// Message is the wire format fetchers publish, one observation per message.
type Message struct {
	StationID      string    `json:"station_id"`
	ObservedAt     time.Time `json:"observed_at"`
	BikesAvailable int       `json:"bikes_available"`
	DocksAvailable int       `json:"docks_available"`
}

// Stats counts what one relay did with the messages it consumed.
type Stats struct {
	Inserted   int
	Duplicates int
	Dropped    int
}

// Relay is one consumer-group member. Run several with the same group ID to
// spread partitions across processes; ingest stays idempotent either way.
type Relay struct {
	id    string
	group sarama.ConsumerGroup
	topic string
	eng   *engine.Engine

	mu    sync.Mutex
	stats Stats
}

// Options configures a relay.
type Options struct {
	Brokers []string
	Topic   string
	GroupID string
}

// New connects a relay to the Kafka cluster.
func New(id string, opts Options, eng *engine.Engine) (*Relay, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin

	group, err := sarama.NewConsumerGroup(opts.Brokers, opts.GroupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Relay{id: id, group: group, topic: opts.Topic, eng: eng}, nil
}

// Consume joins the group and processes messages until the context is
// cancelled. Consume survives rebalances by rejoining in a loop.
func (r *Relay) Consume(ctx context.Context) error {
	go func() {
		for err := range r.group.Errors() {
			log.Printf("relay %s: consumer error: %v", r.id, err)
		}
	}()
	go r.reportLoop(ctx)

	handler := &groupHandler{relay: r}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.group.Consume(ctx, []string{r.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Printf("relay %s: consume session ended: %v", r.id, err)
		}
	}
}

// Close leaves the consumer group.
func (r *Relay) Close() error {
	return r.group.Close()
}

// Snapshot returns the counters so far.
func (r *Relay) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Relay) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := r.Snapshot()
			log.Printf("relay %s: inserted=%d duplicates=%d dropped=%d", r.id, s.Inserted, s.Duplicates, s.Dropped)
		}
	}
}

// handle processes one message payload. It reports whether the offset should
// be marked: malformed or rejected messages are marked and counted as dropped,
// while storage failures are returned unmarked so the message is redelivered.
func (r *Relay) handle(ctx context.Context, value []byte) (bool, error) {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		log.Printf("relay %s: dropped malformed message: %v", r.id, err)
		r.count(func(s *Stats) { s.Dropped++ })
		return true, nil
	}

	status, err := r.eng.Ingest(ctx, engine.Observation{
		StationID:      msg.StationID,
		ObservedAt:     msg.ObservedAt,
		BikesAvailable: msg.BikesAvailable,
		DocksAvailable: msg.DocksAvailable,
	})
	switch {
	case errors.Is(err, engine.ErrUnknownStation), errors.Is(err, engine.ErrInvalidObservation):
		log.Printf("relay %s: dropped observation for %s: %v", r.id, msg.StationID, err)
		r.count(func(s *Stats) { s.Dropped++ })
		return true, nil
	case err != nil:
		return false, err
	case status == engine.StatusDuplicate:
		r.count(func(s *Stats) { s.Duplicates++ })
	default:
		r.count(func(s *Stats) { s.Inserted++ })
	}
	return true, nil
}

func (r *Relay) count(update func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update(&r.stats)
}

type groupHandler struct {
	relay *Relay
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		ack, err := h.relay.handle(session.Context(), message.Value)
		if err != nil {
			return fmt.Errorf("handle message at offset %d: %w", message.Offset, err)
		}
		if ack {
			session.MarkMessage(message, "")
		}
	}
	return nil
}
