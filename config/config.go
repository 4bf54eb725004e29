// Package config loads the litebridge runtime configuration with precedence
// defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/litebridge/internal/schema"
)

// ExchangeConfig addresses the exchange's REST and websocket endpoints.
type ExchangeConfig struct {
	RESTBaseURL string `yaml:"restBaseUrl"`
	WSURL       string `yaml:"wsUrl"`

	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`

	// RequestsPerSecond caps outbound REST calls.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// StreamConfig tunes the websocket session. Disabled switches book data to
// periodic REST snapshot polling instead of the stream.
type StreamConfig struct {
	Disabled       bool          `yaml:"disabled"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	PingTimeout    time.Duration `yaml:"pingTimeout"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
	QueueSize      int           `yaml:"queueSize"`
}

// PollingConfig tunes the REST reconciliation loops.
type PollingConfig struct {
	ShortInterval time.Duration `yaml:"shortInterval"`
	LongInterval  time.Duration `yaml:"longInterval"`
	RuleInterval  time.Duration `yaml:"ruleInterval"`
}

// PostgresConfig addresses the order-state database. An empty DSN selects the
// in-memory store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// TelemetryConfig configures the OTLP metrics exporter. An empty endpoint
// disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// LoggingConfig selects the log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the complete litebridge configuration.
type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Markets   []string        `yaml:"markets"`
	Stream    StreamConfig    `yaml:"stream"`
	Polling   PollingConfig   `yaml:"polling"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Exchange: ExchangeConfig{
			RESTBaseURL:       "https://api.exchange.litebit.eu",
			WSURL:             "wss://ws.exchange.litebit.eu/v1",
			RequestsPerSecond: 10,
		},
		Markets: []string{"BTC-EUR"},
		Telemetry: TelemetryConfig{
			ServiceName: "litebridge",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path when it
// exists, and finally environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env only.
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("LITEBRIDGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("LITEBRIDGE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("LITEBRIDGE_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("LITEBRIDGE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("LITEBRIDGE_MARKETS"); v != "" {
		parts := strings.Split(v, ",")
		markets := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				markets = append(markets, trimmed)
			}
		}
		if len(markets) > 0 {
			c.Markets = markets
		}
	}
}

// Validate checks the configuration for obvious mistakes before anything
// connects.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Exchange.RESTBaseURL) == "" {
		return fmt.Errorf("config: exchange rest base url required")
	}
	if strings.TrimSpace(c.Exchange.WSURL) == "" {
		return fmt.Errorf("config: exchange websocket url required")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("config: at least one market required")
	}
	for _, symbol := range c.Markets {
		if _, err := schema.ParseMarket(symbol); err != nil {
			return fmt.Errorf("config: market %q: %w", symbol, err)
		}
	}
	if (c.Exchange.APIKey == "") != (c.Exchange.APISecret == "") {
		return fmt.Errorf("config: api key and secret must be set together")
	}
	return nil
}

// ParsedMarkets returns the configured markets as typed pairs. Validate must
// have passed.
func (c *Config) ParsedMarkets() []schema.Market {
	markets := make([]schema.Market, 0, len(c.Markets))
	for _, symbol := range c.Markets {
		market, err := schema.ParseMarket(symbol)
		if err != nil {
			continue
		}
		markets = append(markets, market)
	}
	return markets
}
