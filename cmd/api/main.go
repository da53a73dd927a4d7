package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/velotrace/velotrace/internal/config"
	"github.com/velotrace/velotrace/internal/engine"
	"github.com/velotrace/velotrace/internal/httpserver"
	"github.com/velotrace/velotrace/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer pg.Close()

	eng := engine.New(pg, cfg.Engine.MaxGap)

	srv := httpserver.New(cfg.API, eng)
	log.Printf("REST API listening on %s", cfg.API.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
