// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the api, watcher and relay binaries.
type Config struct {
	DatabaseURL string
	Engine      EngineConfig
	API         APIConfig
	Watcher     WatcherConfig
	Relay       RelayConfig
}

// EngineConfig tunes flow derivation.
type EngineConfig struct {
	// MaxGap is the snapshot interval above which derived edges are marked
	// low confidence. Zero disables the flag.
	MaxGap time.Duration
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Port          int
	HistoryLimit  int
	RankingLimit  int
	RankingWindow time.Duration
}

// ListenAddr returns the address the HTTP server binds to.
func (c APIConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// WatcherConfig holds feed polling settings.
type WatcherConfig struct {
	FeedURL        string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Once           bool
	DryRun         bool
}

// RelayConfig holds Kafka consumer settings.
type RelayConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	ConsumerCount int
}

// Load reads configuration from environment variables, falling back to
// defaults for everything except DATABASE_URL.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Engine: EngineConfig{
			MaxGap: 15 * time.Minute,
		},
		API: APIConfig{
			Port:          8080,
			HistoryLimit:  288,
			RankingLimit:  10,
			RankingWindow: 24 * time.Hour,
		},
		Watcher: WatcherConfig{
			FeedURL:        "https://api.citybik.es/v2/networks/v3-bordeaux",
			PollInterval:   5 * time.Minute,
			RequestTimeout: 30 * time.Second,
		},
		Relay: RelayConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "velotrace.observations",
			GroupID:       "velotrace-relay",
			ConsumerCount: 2,
		},
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}

	if v := os.Getenv("ENGINE_MAX_GAP"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ENGINE_MAX_GAP: %w", err)
		}
		cfg.Engine.MaxGap = d
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.API.Port = p
	}
	if v := os.Getenv("API_HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid API_HISTORY_LIMIT: %w", err)
		}
		cfg.API.HistoryLimit = n
	}
	if v := os.Getenv("API_RANKING_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid API_RANKING_LIMIT: %w", err)
		}
		cfg.API.RankingLimit = n
	}
	if v := os.Getenv("API_RANKING_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid API_RANKING_WINDOW: %w", err)
		}
		cfg.API.RankingWindow = d
	}

	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.Watcher.FeedURL = v
	}
	if v := os.Getenv("WATCHER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid WATCHER_POLL_INTERVAL: %w", err)
		}
		cfg.Watcher.PollInterval = d
	}
	if v := os.Getenv("WATCHER_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid WATCHER_REQUEST_TIMEOUT: %w", err)
		}
		cfg.Watcher.RequestTimeout = d
	}
	cfg.Watcher.Once = envBool("WATCHER_ONCE")
	cfg.Watcher.DryRun = envBool("DRY_RUN")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers := strings.Split(v, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		cfg.Relay.Brokers = brokers
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Relay.Topic = v
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		cfg.Relay.GroupID = v
	}
	if v := os.Getenv("KAFKA_CONSUMER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("invalid KAFKA_CONSUMER_COUNT: %q", v)
		}
		cfg.Relay.ConsumerCount = n
	}

	return cfg, nil
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || strings.EqualFold(v, "true")
}
