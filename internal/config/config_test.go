package config

import (
	"reflect"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so ambient environment cannot
// leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"DATABASE_URL", "ENGINE_MAX_GAP",
		"PORT", "API_HISTORY_LIMIT", "API_RANKING_LIMIT", "API_RANKING_WINDOW",
		"FEED_URL", "WATCHER_POLL_INTERVAL", "WATCHER_REQUEST_TIMEOUT", "WATCHER_ONCE", "DRY_RUN",
		"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_GROUP_ID", "KAFKA_CONSUMER_COUNT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded without DATABASE_URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/velotrace")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Engine.MaxGap != 15*time.Minute {
		t.Errorf("MaxGap = %v, want 15m", cfg.Engine.MaxGap)
	}
	if cfg.API.Port != 8080 || cfg.API.ListenAddr() != ":8080" {
		t.Errorf("Port = %d, ListenAddr = %q", cfg.API.Port, cfg.API.ListenAddr())
	}
	if cfg.API.HistoryLimit != 288 || cfg.API.RankingLimit != 10 {
		t.Errorf("limits = %d/%d, want 288/10", cfg.API.HistoryLimit, cfg.API.RankingLimit)
	}
	if cfg.API.RankingWindow != 24*time.Hour {
		t.Errorf("RankingWindow = %v, want 24h", cfg.API.RankingWindow)
	}
	if cfg.Watcher.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %v, want 5m", cfg.Watcher.PollInterval)
	}
	if cfg.Watcher.Once || cfg.Watcher.DryRun {
		t.Errorf("Once/DryRun = %v/%v, want false", cfg.Watcher.Once, cfg.Watcher.DryRun)
	}
	if !reflect.DeepEqual(cfg.Relay.Brokers, []string{"localhost:9092"}) {
		t.Errorf("Brokers = %v, want localhost:9092", cfg.Relay.Brokers)
	}
	if cfg.Relay.Topic != "velotrace.observations" || cfg.Relay.ConsumerCount != 2 {
		t.Errorf("relay = %q/%d, want velotrace.observations/2", cfg.Relay.Topic, cfg.Relay.ConsumerCount)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db:5432/velotrace")
	t.Setenv("ENGINE_MAX_GAP", "30m")
	t.Setenv("PORT", "9000")
	t.Setenv("API_RANKING_WINDOW", "6h")
	t.Setenv("WATCHER_POLL_INTERVAL", "1m")
	t.Setenv("WATCHER_ONCE", "true")
	t.Setenv("DRY_RUN", "1")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("KAFKA_CONSUMER_COUNT", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Engine.MaxGap != 30*time.Minute {
		t.Errorf("MaxGap = %v, want 30m", cfg.Engine.MaxGap)
	}
	if cfg.API.Port != 9000 || cfg.API.RankingWindow != 6*time.Hour {
		t.Errorf("api = %d/%v, want 9000/6h", cfg.API.Port, cfg.API.RankingWindow)
	}
	if cfg.Watcher.PollInterval != time.Minute || !cfg.Watcher.Once || !cfg.Watcher.DryRun {
		t.Errorf("watcher = %+v, want 1m interval with once and dry-run set", cfg.Watcher)
	}
	if !reflect.DeepEqual(cfg.Relay.Brokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Errorf("Brokers = %v, want trimmed pair", cfg.Relay.Brokers)
	}
	if cfg.Relay.ConsumerCount != 4 {
		t.Errorf("ConsumerCount = %d, want 4", cfg.Relay.ConsumerCount)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"ENGINE_MAX_GAP", "fast"},
		{"PORT", "eighty"},
		{"API_HISTORY_LIMIT", "many"},
		{"API_RANKING_WINDOW", "1 day"},
		{"WATCHER_POLL_INTERVAL", "soon"},
		{"KAFKA_CONSUMER_COUNT", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DATABASE_URL", "postgres://localhost/velotrace")
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() accepted %s=%q", tt.key, tt.value)
			}
		})
	}
}
