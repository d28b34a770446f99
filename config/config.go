// Package config centralizes environment-driven configuration. A .env file
// in the working directory is honored for development setups.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries everything the server binary needs to wire the system.
type Config struct {
	BindAddr   string   // HTTP listen address
	StorePath  string   // chain backing file
	Difficulty int      // proof-of-work leading zero hex digits
	PollsPath  string   // poll bookkeeping file
	VotersCSV  string   // eligible-voter registry
	VoterSalt  string   // salt for voter fingerprints
	AdminToken string   // token gating diagnostic/admin endpoints; empty disables them
	Brokers    []string // Kafka brokers for the vote-event source; empty disables ingest
	Topic      string   // Kafka topic carrying vote events
	TLSEnabled bool     // serve HTTPS with a self-signed certificate
	LogFile    string   // optional log file alongside stdout
}

// Load reads a .env file if present and then the environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables, with development
// defaults matching a single-node deployment.
func FromEnv() Config {
	cfg := Config{
		BindAddr:   getenv("ENTEKHABLOCK_BIND_ADDR", ":8080"),
		StorePath:  getenv("BLOCKCHAIN_STORE_PATH", "data/blockchain.json"),
		Difficulty: 4,
		PollsPath:  getenv("POLLS_PATH", "data/polls.json"),
		VotersCSV:  getenv("VOTERS_CSV", "data/voters.csv"),
		VoterSalt:  os.Getenv("VOTER_HASH_SALT"),
		AdminToken: os.Getenv("ADMIN_TOKEN"),
		Topic:      getenv("KAFKA_TOPIC", "entekhablock.votes"),
		LogFile:    os.Getenv("LOG_FILE"),
	}
	if s := os.Getenv("BLOCKCHAIN_DIFFICULTY"); s != "" {
		if d, err := strconv.Atoi(s); err == nil {
			cfg.Difficulty = d
		}
	}
	if s := os.Getenv("KAFKA_BROKERS"); s != "" {
		for _, broker := range strings.Split(s, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.Brokers = append(cfg.Brokers, broker)
			}
		}
	}
	cfg.TLSEnabled = os.Getenv("TLS_ENABLED") == "true"
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
