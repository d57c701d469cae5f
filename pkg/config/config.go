// Package config loads the trading system configuration: a YAML file for
// accounts, brokers and market-data servers plus environment overrides for
// deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

// Subscription selects the tickers the feed subscribes at startup. Products
// are expanded against the queried instrument set.
type Subscription struct {
	Products    []string `yaml:"products"`
	Instruments []string `yaml:"instruments"`
}

// Config holds the full system configuration.
type Config struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
	LogLevel  string `yaml:"log_level"`

	// Operator login for the HTTP API. An empty user disables the token
	// endpoint.
	APIUser     string `yaml:"api_user"`
	APIPassword string `yaml:"api_password"`

	// DryRun replaces the broker gateways with in-memory simulations.
	DryRun bool `yaml:"dry_run"`

	// DBPath enables the sqlite tick/trade recorder when set.
	DBPath string `yaml:"db_path"`
	// CSVDir enables the per-instrument CSV tick recorder when set.
	CSVDir string `yaml:"csv_dir"`

	Accounts         []uts.AccountInfo `yaml:"accounts"`
	Brokers          []uts.BrokerInfo  `yaml:"brokers"`
	MarketServerAddr []string          `yaml:"md_server_addr"`

	// NoCloseToday lists instruments whose venue does not distinguish
	// close-today from close-yesterday.
	NoCloseToday []string     `yaml:"no_close_today"`
	Subscription Subscription `yaml:"subscription"`
}

// Load reads the YAML file at path and applies environment overrides,
// optionally sourced from a .env file.
func Load(path string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &uts.ConfigError{Subject: path, Err: err}
	}
	cfg := &Config{
		Port:     "8080",
		LogLevel: "info",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &uts.ConfigError{Subject: path, Err: err}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.APIUser = getEnv("API_USER", cfg.APIUser)
	cfg.APIPassword = getEnv("API_PASSWORD", cfg.APIPassword)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.CSVDir = getEnv("CSV_DIR", cfg.CSVDir)
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.DryRun = v == "true"
	}
	if v := os.Getenv("SUBSCRIBE_INSTRUMENTS"); v != "" {
		cfg.Subscription.Instruments = splitAndTrim(v)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		c.JWTSecret = "dev-secret"
	}
	brokers := make(map[string]uts.BrokerInfo, len(c.Brokers))
	for _, b := range c.Brokers {
		if b.BrokerName == "" || b.BrokerID == "" {
			return &uts.ConfigError{Subject: "broker " + b.BrokerName, Err: uts.ErrMalformedConfig}
		}
		brokers[b.BrokerName] = b
	}
	for _, a := range c.Accounts {
		if !a.Enable {
			continue
		}
		if a.AccountName == "" || a.AccountNumber == "" {
			return &uts.ConfigError{Subject: "account " + a.AccountName, Err: uts.ErrMalformedConfig}
		}
		if _, ok := brokers[a.BrokerName]; !ok {
			return &uts.ConfigError{
				Subject: fmt.Sprintf("account %s broker %q", a.AccountName, a.BrokerName),
				Err:     uts.ErrMissingBrokerInfo,
			}
		}
	}
	// Fall back to the first broker's market endpoints.
	if len(c.MarketServerAddr) == 0 {
		for _, b := range c.Brokers {
			if len(b.MarketServerAddr) > 0 {
				c.MarketServerAddr = b.MarketServerAddr
				break
			}
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
