package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_YAMLThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backoffice.yaml")
	yml := `
database_url: postgres://file/db
redis_addr: redis-file:6379
sale:
  max_items: 50
fiscal:
  max_attempts: 3
  initial_backoff: 2s
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("BACKOFFICE_CONFIG", path)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KEYVAULT_KEYS", "new-key, old-key ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("expected env DATABASE_URL to win, got %q", cfg.DatabaseURL)
	}
	if cfg.RedisAddr != "redis-file:6379" {
		t.Errorf("expected YAML redis addr, got %q", cfg.RedisAddr)
	}
	if cfg.Sale.MaxItems != 50 {
		t.Errorf("expected max_items 50, got %d", cfg.Sale.MaxItems)
	}
	if cfg.Sale.MaxQty != 10000 {
		t.Errorf("expected default max_qty to survive, got %d", cfg.Sale.MaxQty)
	}
	if cfg.Fiscal.MaxAttempts != 3 || cfg.Fiscal.InitialBackoff != 2*time.Second {
		t.Errorf("unexpected fiscal config: %+v", cfg.Fiscal)
	}
	if len(cfg.KeyVaultKeys) != 2 || cfg.KeyVaultKeys[0] != "new-key" || cfg.KeyVaultKeys[1] != "old-key" {
		t.Errorf("unexpected keyvault keys: %q", cfg.KeyVaultKeys)
	}
}

func TestLoad_SaleEnvOverrides(t *testing.T) {
	t.Setenv("BACKOFFICE_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("SALE_MAX_QTY", "250000")
	t.Setenv("SALE_CURRENCY_SCALE", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sale.MaxQty != 250000 {
		t.Errorf("expected SALE_MAX_QTY to win, got %d", cfg.Sale.MaxQty)
	}
	if cfg.Sale.CurrencyScale != 0 {
		t.Errorf("expected SALE_CURRENCY_SCALE 0, got %d", cfg.Sale.CurrencyScale)
	}

	t.Setenv("SALE_MAX_QTY", "lots")
	if cfg, err = Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sale.MaxQty != 10000 {
		t.Errorf("unparsable SALE_MAX_QTY should keep the default, got %d", cfg.Sale.MaxQty)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("BACKOFFICE_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}
