package config_test

import (
	"CoverLedger/internal/config"
	"CoverLedger/internal/state"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg.EpochLength != state.DefaultEpochLength {
		t.Errorf("epoch length: got %s, want %s", cfg.EpochLength, state.DefaultEpochLength)
	}
	if cfg.BaseAsset != "USDC" || cfg.RewardAsset != "TIDAL" {
		t.Errorf("assets: got %s/%s", cfg.BaseAsset, cfg.RewardAsset)
	}
	if cfg.RedisURL != "" {
		t.Errorf("redis should be off by default, got %q", cfg.RedisURL)
	}
	if cfg.SettleRetries != 3 {
		t.Errorf("settle retries: got %d, want 3", cfg.SettleRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestDefaultConfig_FromEnv(t *testing.T) {
	t.Setenv("COVER_PUBLISH_BACKEND", "kafka")
	t.Setenv("COVER_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("COVER_EPOCH_LENGTH", "1h")
	t.Setenv("COVER_PERSIST_BATCH_SIZE", "200")
	t.Setenv("COVER_SNAPSHOT_INTERVAL", "not-a-number")
	t.Setenv("COVER_GENESIS", "2024-01-01T00:00:00Z")

	cfg := config.DefaultConfig()
	if cfg.PublishBackend != config.PublishKafka {
		t.Errorf("backend: got %s", cfg.PublishBackend)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers: got %v", cfg.KafkaBrokers)
	}
	if cfg.EpochLength != time.Hour {
		t.Errorf("epoch length: got %s, want 1h", cfg.EpochLength)
	}
	if cfg.PersistBatchSize != 200 {
		t.Errorf("batch size: got %d, want 200", cfg.PersistBatchSize)
	}
	if cfg.SnapshotInterval != 100_000 {
		t.Errorf("bad int should fall back: got %d", cfg.SnapshotInterval)
	}
	if !cfg.Genesis.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("genesis: got %s", cfg.Genesis)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown backend", func(c *config.Config) { c.PublishBackend = "carrier-pigeon" }},
		{"kafka without brokers", func(c *config.Config) {
			c.PublishBackend = config.PublishKafka
			c.KafkaBrokers = nil
		}},
		{"zero epoch", func(c *config.Config) { c.EpochLength = 0 }},
		{"same assets", func(c *config.Config) { c.RewardAsset = c.BaseAsset }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
