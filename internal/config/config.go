package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application-level configuration loaded from environment variables.
type Config struct {
	// OpenAI
	OpenAIKey   string
	OpenAIModel string

	// Chain
	RPCURL  string
	ChainID int64

	// MasterKey is the process-wide secret mixed into escrow key derivation.
	MasterKey string

	// Storage
	DBPath    string
	RedisAddr string // optional; empty means in-process ephemeral stores

	// Market data
	CoinGeckoBaseURL string
	CoinGeckoAPIKey  string

	// Server
	ListenAddr string
	JWTSecret  string

	// ProposalTTL bounds how long an unconsumed trade proposal stays valid.
	ProposalTTL time.Duration
}

// Load reads configuration from the environment.
// OPENAI_API_KEY, RPC_URL, MASTER_KEY, DB_PATH and JWT_SECRET are required.
func Load() (*Config, error) {
	cfg := &Config{
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getenv("OPENAI_MODEL", "gpt-4o-mini"),
		RPCURL:           os.Getenv("RPC_URL"),
		MasterKey:        os.Getenv("MASTER_KEY"),
		DBPath:           os.Getenv("DB_PATH"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		CoinGeckoBaseURL: getenv("COINGECKO_BASE_URL", "https://api.coingecko.com"),
		CoinGeckoAPIKey:  os.Getenv("CG_API_KEY"),
		ListenAddr:       getenv("LISTEN_ADDR", ":8080"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		ProposalTTL:      5 * time.Minute,
	}

	for name, val := range map[string]string{
		"OPENAI_API_KEY": cfg.OpenAIKey,
		"RPC_URL":        cfg.RPCURL,
		"MASTER_KEY":     cfg.MasterKey,
		"DB_PATH":        cfg.DBPath,
		"JWT_SECRET":     cfg.JWTSecret,
	} {
		if val == "" {
			return nil, fmt.Errorf("%s environment variable is required", name)
		}
	}

	if !hasDBExtension(cfg.DBPath) {
		return nil, fmt.Errorf("invalid database path %q: only .sqlite .db or .sqlite3 extensions are supported", cfg.DBPath)
	}

	chainIDStr := getenv("CHAIN_ID", "5545")
	chainID, err := strconv.ParseInt(chainIDStr, 10, 64)
	if err != nil || chainID <= 0 {
		return nil, fmt.Errorf("invalid CHAIN_ID %q", chainIDStr)
	}
	cfg.ChainID = chainID

	if ttlStr := os.Getenv("PROPOSAL_TTL"); ttlStr != "" {
		ttl, err := time.ParseDuration(ttlStr)
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("invalid PROPOSAL_TTL %q", ttlStr)
		}
		cfg.ProposalTTL = ttl
	}

	return cfg, nil
}

func hasDBExtension(path string) bool {
	for _, ext := range []string{".sqlite", ".db", ".sqlite3"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
