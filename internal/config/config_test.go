package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"BatchLedger/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %s", cfg.Server.HTTPAddr)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.toml")
	contents := `
[server]
http_addr = ":7070"

[ledger]
ledger_id = 42
admin = "ops"
relayers = ["r1", "r2"]
required_signatures = 2

[[markets]]
index = 0
symbol = "BTC-PERP"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":7070" {
		t.Fatalf("http addr = %s", cfg.Server.HTTPAddr)
	}
	if cfg.Ledger.LedgerID != 42 || cfg.Ledger.Admin != "ops" {
		t.Fatalf("ledger = %+v", cfg.Ledger)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Symbol != "BTC-PERP" {
		t.Fatalf("markets = %+v", cfg.Markets)
	}
	// Untouched sections keep their defaults.
	if cfg.Core.LRUCapacity != 1_000_000 {
		t.Fatalf("lru capacity = %d", cfg.Core.LRUCapacity)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("LEDGER_HTTP_ADDR", ":6060")
	t.Setenv("LEDGER_PERSIST_BATCH_SIZE", "250")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":6060" {
		t.Fatalf("http addr = %s", cfg.Server.HTTPAddr)
	}
	if cfg.Persist.BatchSize != 250 {
		t.Fatalf("batch size = %d", cfg.Persist.BatchSize)
	}
}

func TestValidateRejectsBadQuorum(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.RequiredSignatures = 9
	if err := cfg.Validate(); err == nil {
		t.Fatal("required_signatures above relayer count must fail")
	}

	cfg = config.Default()
	cfg.Ledger.RequiredSignatures = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero required_signatures must fail")
	}
}

func TestValidateRejectsDuplicateMarket(t *testing.T) {
	cfg := config.Default()
	cfg.Markets = append(cfg.Markets, config.MarketConfig{Index: 0, Symbol: "DOGE-PERP"})
	if err := cfg.Validate(); err == nil {
		t.Fatal("duplicate market index must fail")
	}
}
