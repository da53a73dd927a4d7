package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/velotrace/velotrace/internal/config"
	"github.com/velotrace/velotrace/internal/engine"
	"github.com/velotrace/velotrace/internal/relay"
	"github.com/velotrace/velotrace/internal/store"
)

const drainTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer pg.Close()

	eng := engine.New(pg, cfg.Engine.MaxGap)
	opts := relay.Options{
		Brokers: cfg.Relay.Brokers,
		Topic:   cfg.Relay.Topic,
		GroupID: cfg.Relay.GroupID,
	}

	var wg sync.WaitGroup
	relays := make([]*relay.Relay, 0, cfg.Relay.ConsumerCount)
	for i := 0; i < cfg.Relay.ConsumerCount; i++ {
		r, err := relay.New(fmt.Sprintf("relay-%d", i), opts, eng)
		if err != nil {
			log.Fatalf("create relay: %v", err)
		}
		relays = append(relays, r)

		wg.Add(1)
		go func(r *relay.Relay) {
			defer wg.Done()
			if err := r.Consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("relay stopped: %v", err)
			}
		}(r)
	}
	log.Printf("relay consuming topic %s with %d consumers", cfg.Relay.Topic, cfg.Relay.ConsumerCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Println("timed out waiting for consumers to drain")
	}

	for _, r := range relays {
		if err := r.Close(); err != nil {
			log.Printf("close relay: %v", err)
		}
	}
}
