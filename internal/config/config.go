package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds process-wide settings. Values come from an optional YAML file
// (BACKOFFICE_CONFIG) and are then overridden by environment variables.
type Config struct {
	DatabaseURL    string `yaml:"database_url"`
	RedisAddr      string `yaml:"redis_addr"`
	ServerPort     string `yaml:"server_port"`
	JWTSecret      string `yaml:"jwt_secret"`
	AllowedOrigins string `yaml:"allowed_origins"`
	LogLevel       string `yaml:"log_level"`

	// KeyVaultKeys is ordered newest first; decryption tries them in order.
	KeyVaultKeys []string `yaml:"keyvault_keys"`

	ArtifactDir    string `yaml:"artifact_dir"`
	ArtifactBucket string `yaml:"artifact_bucket"`

	PubSubProjectID string `yaml:"pubsub_project_id"`
	FiscalTopic     string `yaml:"fiscal_topic"`

	// GCPCredentialsJSON is optional; Application Default Credentials are used when empty.
	GCPCredentialsJSON string `yaml:"gcp_credentials_json"`

	Sale   SaleConfig   `yaml:"sale"`
	Fiscal FiscalConfig `yaml:"fiscal"`
	Cache  CacheConfig  `yaml:"cache"`
	Tx     TxConfig     `yaml:"tx"`
}

type SaleConfig struct {
	MaxItems      int   `yaml:"max_items"`
	MaxQty        int64 `yaml:"max_qty"`
	CurrencyScale int32 `yaml:"currency_scale"`
}

type FiscalConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Workers        int           `yaml:"workers"`
	LeaseTTL       time.Duration `yaml:"lease_ttl"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type TxConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		RedisAddr:  "localhost:6379",
		ServerPort: "8080",
		LogLevel:   "info",
		Sale: SaleConfig{
			MaxItems:      200,
			MaxQty:        10000,
			CurrencyScale: 2,
		},
		Fiscal: FiscalConfig{
			MaxAttempts:    10,
			InitialBackoff: 5 * time.Second,
			MaxBackoff:     10 * time.Minute,
			Workers:        4,
			LeaseTTL:       2 * time.Minute,
		},
		Cache: CacheConfig{TTL: 5 * time.Minute},
		Tx:    TxConfig{MaxRetries: 5},
	}
}

// Load reads .env (if present), the optional YAML file and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("BACKOFFICE_CONFIG"); path != "" {
		if err := loadFile(filepath.Clean(path), &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)

	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator supplied
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.ServerPort, "SERVER_PORT")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.AllowedOrigins, "ALLOWED_ORIGINS")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.ArtifactDir, "ARTIFACT_DIR")
	setString(&cfg.ArtifactBucket, "ARTIFACT_BUCKET")
	setString(&cfg.PubSubProjectID, "PUBSUB_PROJECT_ID")
	setString(&cfg.FiscalTopic, "FISCAL_TOPIC")
	setString(&cfg.GCPCredentialsJSON, "GCP_CREDENTIALS_JSON")

	if v := os.Getenv("KEYVAULT_KEYS"); v != "" {
		cfg.KeyVaultKeys = SplitAndTrim(v)
	}

	setInt(&cfg.Sale.MaxItems, "SALE_MAX_ITEMS")
	setInt64(&cfg.Sale.MaxQty, "SALE_MAX_QTY")
	setInt32(&cfg.Sale.CurrencyScale, "SALE_CURRENCY_SCALE")
	setInt(&cfg.Fiscal.MaxAttempts, "FISCAL_MAX_ATTEMPTS")
	setInt(&cfg.Fiscal.Workers, "FISCAL_WORKERS")
	setInt(&cfg.Tx.MaxRetries, "TX_MAX_RETRIES")
	setDuration(&cfg.Fiscal.InitialBackoff, "FISCAL_INITIAL_BACKOFF")
	setDuration(&cfg.Fiscal.MaxBackoff, "FISCAL_MAX_BACKOFF")
	setDuration(&cfg.Fiscal.LeaseTTL, "FISCAL_LEASE_TTL")
	setDuration(&cfg.Cache.TTL, "CACHE_TTL")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		*dst = n
	}
}

func setInt64(dst *int64, key string) {
	if n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64); err == nil {
		*dst = n
	}
}

func setInt32(dst *int32, key string) {
	if n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 32); err == nil {
		*dst = int32(n)
	}
}

func setDuration(dst *time.Duration, key string) {
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil {
		*dst = d
	}
}

// SplitAndTrim splits a comma-separated list, dropping empty parts.
func SplitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
