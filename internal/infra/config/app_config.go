// Package config manages application configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment environment.
type Environment string

const (
	// EnvDev is the local development environment.
	EnvDev Environment = "development"
	// EnvStaging is the pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProd is the production environment.
	EnvProd Environment = "production"
)

// ServerConfig configures the JSON API listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the Postgres ledger store. An empty DSN selects
// the in-memory ledger, which is only suitable for development.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	MigrationsPath string `yaml:"migrationsPath"`
}

// Duration wraps time.Duration so YAML values like "10s" parse directly.
type Duration time.Duration

// UnmarshalYAML parses Go duration strings; bare integers are seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	text := strings.TrimSpace(node.Value)
	if text == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(text); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("duration: invalid value %q", node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// OracleConfig configures the upstream quote API. An empty base URL selects
// the built-in fake oracle.
type OracleConfig struct {
	BaseURL           string   `yaml:"baseUrl"`
	Token             string   `yaml:"token"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requestsPerSecond"`
}

// TelemetryConfig configures metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Money wraps decimal.Decimal so YAML scalars parse directly.
type Money struct {
	decimal.Decimal
}

// UnmarshalYAML parses decimal scalars such as 10000 or "10000.50".
func (m *Money) UnmarshalYAML(node *yaml.Node) error {
	if node == nil || strings.TrimSpace(node.Value) == "" {
		m.Decimal = decimal.Zero
		return nil
	}
	parsed, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("money: invalid value %q", node.Value)
	}
	m.Decimal = parsed
	return nil
}

// LedgerConfig holds ledger business parameters.
type LedgerConfig struct {
	// StartingCash seeds every newly created account.
	StartingCash Money `yaml:"startingCash"`
}

// AppConfig is the root application configuration.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Oracle      OracleConfig    `yaml:"oracle"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Ledger      LedgerConfig    `yaml:"ledger"`
}

// Default returns the configuration used when no file is present.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvDev,
		Server:      ServerConfig{Addr: ":8880"},
		Database:    DatabaseConfig{DSN: "", MigrationsPath: "db/migrations"},
		Oracle:      OracleConfig{Timeout: Duration(10 * time.Second), RequestsPerSecond: 8},
		Telemetry:   TelemetryConfig{ServiceName: "finance-brokerd"},
		Ledger:      LedgerConfig{StartingCash: Money{decimal.NewFromInt(10000)}},
	}
}

// Load reads, overrides, and validates the configuration at path.
func Load(path string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration from path, falling back to defaults
// (plus environment overrides) when the file does not exist. The boolean
// reports whether a file was loaded.
func LoadOrDefault(path string) (AppConfig, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, false, err
	}
	cfg = Default()
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, false, err
	}
	return cfg, false, nil
}

// Validate checks cross-field consistency.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("config: unknown environment %q", c.Environment)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config: server.addr required")
	}
	if c.Oracle.Timeout < 0 {
		return fmt.Errorf("config: oracle.timeout must not be negative")
	}
	if c.Oracle.RequestsPerSecond < 0 {
		return fmt.Errorf("config: oracle.requestsPerSecond must not be negative")
	}
	if c.Ledger.StartingCash.Sign() < 0 {
		return fmt.Errorf("config: ledger.startingCash must not be negative")
	}
	if strings.TrimSpace(c.Database.DSN) != "" && strings.TrimSpace(c.Database.MigrationsPath) == "" {
		return fmt.Errorf("config: database.migrationsPath required when a DSN is set")
	}
	return nil
}

// Environment variables override file values so deployments can inject
// secrets without editing the config file.
func applyEnvOverrides(cfg *AppConfig) {
	if v, ok := lookupEnv("FINANCE_ENVIRONMENT"); ok {
		cfg.Environment = Environment(v)
	}
	if v, ok := lookupEnv("FINANCE_SERVER_ADDR"); ok {
		cfg.Server.Addr = v
	}
	if v, ok := lookupEnv("FINANCE_DATABASE_DSN"); ok {
		cfg.Database.DSN = v
	}
	if v, ok := lookupEnv("FINANCE_DATABASE_MIGRATIONS_PATH"); ok {
		cfg.Database.MigrationsPath = v
	}
	if v, ok := lookupEnv("FINANCE_ORACLE_BASE_URL"); ok {
		cfg.Oracle.BaseURL = v
	}
	if v, ok := lookupEnv("FINANCE_ORACLE_TOKEN"); ok {
		cfg.Oracle.Token = v
	}
	if v, ok := lookupEnv("FINANCE_ORACLE_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Oracle.Timeout = Duration(d)
		}
	}
	if v, ok := lookupEnv("FINANCE_ORACLE_RPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Oracle.RequestsPerSecond = f
		}
	}
	if v, ok := lookupEnv("FINANCE_TELEMETRY_OTLP_ENDPOINT"); ok {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v, ok := lookupEnv("FINANCE_TELEMETRY_SERVICE_NAME"); ok {
		cfg.Telemetry.ServiceName = v
	}
	if v, ok := lookupEnv("FINANCE_LEDGER_STARTING_CASH"); ok {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Ledger.StartingCash = Money{d}
		}
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}
