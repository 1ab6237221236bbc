package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("MASTER_KEY", "secret")
	t.Setenv("DB_PATH", "smartduck.sqlite")
	t.Setenv("JWT_SECRET", "jwt-secret")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("unexpected default model %q", cfg.OpenAIModel)
	}
	if cfg.ChainID != 5545 {
		t.Errorf("unexpected default chain id %d", cfg.ChainID)
	}
	if cfg.ProposalTTL != 5*time.Minute {
		t.Errorf("unexpected default proposal TTL %s", cfg.ProposalTTL)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("unexpected default listen addr %q", cfg.ListenAddr)
	}
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	setRequired(t)
	t.Setenv("MASTER_KEY", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "MASTER_KEY") {
		t.Fatalf("expected MASTER_KEY error, got %v", err)
	}
}

func TestLoad_RejectsBadDatabaseExtension(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_PATH", "smartduck.txt")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "database path") {
		t.Fatalf("expected database path error, got %v", err)
	}
}

func TestLoad_RejectsBadChainID(t *testing.T) {
	setRequired(t)
	t.Setenv("CHAIN_ID", "not-a-number")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "CHAIN_ID") {
		t.Fatalf("expected CHAIN_ID error, got %v", err)
	}
}

func TestLoad_CustomProposalTTL(t *testing.T) {
	setRequired(t)
	t.Setenv("PROPOSAL_TTL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ProposalTTL != 90*time.Second {
		t.Errorf("unexpected proposal TTL %s", cfg.ProposalTTL)
	}
}
