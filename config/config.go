// Package config loads the strategyd runtime configuration tree.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full strategyd configuration tree.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Database   DatabaseConfig   `yaml:"database"`
	Market     MarketConfig     `yaml:"market"`
	Risk       RiskConfig       `yaml:"risk"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

// ServiceConfig declares process-level settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"logLevel"`
}

// DatabaseConfig governs the PostgreSQL connection and persistence workers.
type DatabaseConfig struct {
	DSN           string `yaml:"dsn"`
	MigrationsDir string `yaml:"migrationsDir"`
	Workers       int    `yaml:"workers"`
	QueueDepth    int    `yaml:"queueDepth"`
	WriteRetries  int    `yaml:"writeRetries"`
}

// MarketConfig controls the quote feed transport.
type MarketConfig struct {
	WebsocketURL     string        `yaml:"websocketUrl"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
}

// RiskConfig declares the order risk chain limits. Zero values disable the
// corresponding rule.
type RiskConfig struct {
	MaxPositionAmount int64   `yaml:"maxPositionAmount"`
	MaxOrderNotional  string  `yaml:"maxOrderNotional"`
	OrdersPerSecond   float64 `yaml:"ordersPerSecond"`
	OrderBurst        int     `yaml:"orderBurst"`
}

// TelemetryConfig configures OTLP exporters.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// StrategyConfig declares one strategy actor instance.
type StrategyConfig struct {
	ID          string            `yaml:"id"`
	Script      string            `yaml:"script"`
	MailboxSize int               `yaml:"mailboxSize"`
	InitTimeout time.Duration     `yaml:"initTimeout"`
	Watch       []string          `yaml:"watch"`
	Names       map[string]string `yaml:"names"`
	Config      map[string]any    `yaml:"config"`
}

// Load reads a configuration YAML document from disk. An empty path falls back
// to the STRATEGYD_CONFIG environment variable, then to config/strategyd.yaml.
func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("STRATEGYD_CONFIG"))
	}
	if path == "" {
		path = "config/strategyd.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Service.Name) == "" {
		c.Service.Name = "strategyd"
	}
	if strings.TrimSpace(c.Service.LogLevel) == "" {
		c.Service.LogLevel = "info"
	}
	if c.Database.Workers <= 0 {
		c.Database.Workers = 4
	}
	if c.Database.QueueDepth <= 0 {
		c.Database.QueueDepth = 128
	}
	if c.Database.WriteRetries <= 0 {
		c.Database.WriteRetries = 3
	}
	if strings.TrimSpace(c.Database.MigrationsDir) == "" {
		c.Database.MigrationsDir = "db/migrations"
	}
	if c.Market.HandshakeTimeout <= 0 {
		c.Market.HandshakeTimeout = 10 * time.Second
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = c.Service.Name
	}
	for i := range c.Strategies {
		if c.Strategies[i].MailboxSize <= 0 {
			c.Strategies[i].MailboxSize = 256
		}
		if c.Strategies[i].InitTimeout <= 0 {
			c.Strategies[i].InitTimeout = 10 * time.Second
		}
	}
}

// Validate performs semantic validation on the loaded configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn required")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy required")
	}
	seen := make(map[string]struct{}, len(c.Strategies))
	for i, s := range c.Strategies {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("strategy[%d]: id required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("strategy[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
	}
	if c.Risk.MaxOrderNotional != "" {
		if _, err := parseNotional(c.Risk.MaxOrderNotional); err != nil {
			return fmt.Errorf("risk maxOrderNotional: %w", err)
		}
	}
	return nil
}

func parseNotional(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	for _, r := range trimmed {
		if (r < '0' || r > '9') && r != '.' {
			return "", fmt.Errorf("invalid decimal %q", raw)
		}
	}
	if trimmed == "" || trimmed == "." {
		return "", fmt.Errorf("invalid decimal %q", raw)
	}
	return trimmed, nil
}
