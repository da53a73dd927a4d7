package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/velotrace/velotrace/internal/citybikes"
	"github.com/velotrace/velotrace/internal/config"
	"github.com/velotrace/velotrace/internal/engine"
	"github.com/velotrace/velotrace/internal/store"
	"github.com/velotrace/velotrace/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("watcher failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	eng := engine.New(pg, cfg.Engine.MaxGap)
	client := citybikes.NewClient(&http.Client{Timeout: cfg.Watcher.RequestTimeout}, cfg.Watcher.FeedURL)
	w := watcher.New(client, eng, cfg.Watcher.DryRun)

	if cfg.Watcher.Once {
		_, err := w.RunCycle(ctx)
		return err
	}

	log.Printf("watcher polling %s every %s", cfg.Watcher.FeedURL, cfg.Watcher.PollInterval)
	return w.Run(ctx, cfg.Watcher.PollInterval)
}
