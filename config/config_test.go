package config

import (
	"testing"
)

// TestFromEnvDefaults verifies the development defaults used when nothing is
// configured.
func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.BindAddr != ":8080" {
		t.Fatalf("expected default bind address :8080, got %s", cfg.BindAddr)
	}
	if cfg.Difficulty != 4 {
		t.Fatalf("expected default difficulty 4, got %d", cfg.Difficulty)
	}
	if cfg.StorePath != "data/blockchain.json" {
		t.Fatalf("expected default store path, got %s", cfg.StorePath)
	}
	if len(cfg.Brokers) != 0 {
		t.Fatalf("ingest should default to disabled, got brokers %v", cfg.Brokers)
	}
}

// TestFromEnvOverrides verifies that environment variables override every
// default and that the broker list is parsed from its comma form.
func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ENTEKHABLOCK_BIND_ADDR", ":9999")
	t.Setenv("BLOCKCHAIN_DIFFICULTY", "2")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("TLS_ENABLED", "true")
	t.Setenv("ADMIN_TOKEN", "sekrit")

	cfg := FromEnv()
	if cfg.BindAddr != ":9999" {
		t.Fatalf("expected :9999, got %s", cfg.BindAddr)
	}
	if cfg.Difficulty != 2 {
		t.Fatalf("expected difficulty 2, got %d", cfg.Difficulty)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[0] != "kafka-1:9092" || cfg.Brokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Brokers)
	}
	if !cfg.TLSEnabled {
		t.Fatal("expected TLS enabled")
	}
	if cfg.AdminToken != "sekrit" {
		t.Fatalf("unexpected admin token: %s", cfg.AdminToken)
	}
}

// TestFromEnvIgnoresBadDifficulty verifies that an unparseable difficulty
// falls back to the default instead of propagating garbage into the ledger.
func TestFromEnvIgnoresBadDifficulty(t *testing.T) {
	t.Setenv("BLOCKCHAIN_DIFFICULTY", "lots")

	if cfg := FromEnv(); cfg.Difficulty != 4 {
		t.Fatalf("expected fallback difficulty 4, got %d", cfg.Difficulty)
	}
}
