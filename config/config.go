// Package config loads the service configuration from a YAML file with
// environment variable overrides for secrets and deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides. File values lose to these.
const (
	envListen        = "STABLEPAY_LISTEN"
	envDebug         = "STABLEPAY_DEBUG"
	envRedisAddr     = "STABLEPAY_REDIS_ADDR"
	envOracleURL     = "STABLEPAY_ORACLE_URL"
	envTRCBaseURL    = "STABLEPAY_TRC20_BASE_URL"
	envTRCAPIKey     = "STABLEPAY_TRC20_API_KEY"
	envTRCPassword   = "STABLEPAY_TRC20_PASSWORD"
	envTRCWebhookKey = "STABLEPAY_TRC20_WEBHOOK_SECRET"
	envERCBaseURL    = "STABLEPAY_ERC20_BASE_URL"
	envERCAPIKey     = "STABLEPAY_ERC20_API_KEY"
	envERCPassword   = "STABLEPAY_ERC20_PASSWORD"
	envERCWebhookKey = "STABLEPAY_ERC20_WEBHOOK_SECRET"
)

// Config captures the runtime settings for the stablepay daemon.
type Config struct {
	ListenAddress string         `yaml:"listen"`
	Debug         bool           `yaml:"debug"`
	Redis         RedisConfig    `yaml:"redis"`
	Oracle        OracleConfig   `yaml:"oracle"`
	Provider      ProviderConfig `yaml:"provider"`
	Invoice       InvoiceConfig  `yaml:"invoice"`
	Transfer      TransferConfig `yaml:"transfer"`
	Memory        MemoryConfig   `yaml:"memory"`
}

// RedisConfig selects the invoice store. With an empty address the
// daemon falls back to the in-memory store.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Retention time.Duration `yaml:"retention"`
}

// OracleConfig tunes the USDT price oracle.
type OracleConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RailConfig holds credentials for one payment network.
type RailConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Password      string `yaml:"password"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// ProviderConfig holds per-network provider credentials.
type ProviderConfig struct {
	TRC20   RailConfig    `yaml:"trc20"`
	ERC20   RailConfig    `yaml:"erc20"`
	Timeout time.Duration `yaml:"timeout"`
}

// InvoiceConfig tunes the invoice lifecycle.
type InvoiceConfig struct {
	MinAmount      float64       `yaml:"min_amount"`
	MaxAmount      float64       `yaml:"max_amount"`
	PaymentTimeout time.Duration `yaml:"payment_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// TransferConfig bounds outbound transfers.
type TransferConfig struct {
	MinAmount float64 `yaml:"min_amount"`
	MaxAmount float64 `yaml:"max_amount"`
}

// MemoryConfig tunes the runtime memory watcher.
type MemoryConfig struct {
	ThresholdMB   int           `yaml:"threshold_mb"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. An empty path skips the file and uses defaults
// plus the environment.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8000",
	}

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddress, envListen)
	setBool(&c.Debug, envDebug)
	setString(&c.Redis.Addr, envRedisAddr)
	setString(&c.Oracle.URL, envOracleURL)
	setString(&c.Provider.TRC20.BaseURL, envTRCBaseURL)
	setString(&c.Provider.TRC20.APIKey, envTRCAPIKey)
	setString(&c.Provider.TRC20.Password, envTRCPassword)
	setString(&c.Provider.TRC20.WebhookSecret, envTRCWebhookKey)
	setString(&c.Provider.ERC20.BaseURL, envERCBaseURL)
	setString(&c.Provider.ERC20.APIKey, envERCAPIKey)
	setString(&c.Provider.ERC20.Password, envERCPassword)
	setString(&c.Provider.ERC20.WebhookSecret, envERCWebhookKey)
}

func (c *Config) validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address required")
	}
	for name, rail := range map[string]RailConfig{"trc20": c.Provider.TRC20, "erc20": c.Provider.ERC20} {
		if rail.APIKey == "" {
			return fmt.Errorf("provider.%s.api_key required", name)
		}
		if rail.Password == "" {
			return fmt.Errorf("provider.%s.password required", name)
		}
	}
	if c.Invoice.MinAmount < 0 || c.Invoice.MaxAmount < 0 {
		return fmt.Errorf("invoice amount bounds must not be negative")
	}
	if c.Invoice.MaxAmount > 0 && c.Invoice.MinAmount > c.Invoice.MaxAmount {
		return fmt.Errorf("invoice.min_amount exceeds invoice.max_amount")
	}
	if c.Transfer.MaxAmount > 0 && c.Transfer.MinAmount > c.Transfer.MaxAmount {
		return fmt.Errorf("transfer.min_amount exceeds transfer.max_amount")
	}
	return nil
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func setBool(dst *bool, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*dst = parsed
		}
	}
}
