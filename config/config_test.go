package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange.RESTBaseURL == "" || cfg.Exchange.WSURL == "" {
		t.Fatal("defaults missing exchange endpoints")
	}
	if len(cfg.Markets) == 0 {
		t.Fatal("defaults missing markets")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
exchange:
  restBaseUrl: https://sandbox.example.test
  requestsPerSecond: 3
markets:
  - ETH-EUR
  - BTC-EUR
stream:
  reconnectDelay: 10s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange.RESTBaseURL != "https://sandbox.example.test" {
		t.Fatalf("rest base url not overridden: %s", cfg.Exchange.RESTBaseURL)
	}
	if cfg.Exchange.WSURL == "" {
		t.Fatal("default websocket url lost")
	}
	if cfg.Exchange.RequestsPerSecond != 3 {
		t.Fatalf("rate not overridden: %v", cfg.Exchange.RequestsPerSecond)
	}
	if len(cfg.Markets) != 2 || cfg.Markets[0] != "ETH-EUR" {
		t.Fatalf("markets not overridden: %v", cfg.Markets)
	}
	if cfg.Stream.ReconnectDelay != 10*time.Second {
		t.Fatalf("reconnect delay not parsed: %v", cfg.Stream.ReconnectDelay)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Setenv("LITEBRIDGE_API_KEY", "env-key")
	t.Setenv("LITEBRIDGE_API_SECRET", "env-secret")
	t.Setenv("LITEBRIDGE_MARKETS", "DOGE-EUR, ADA-EUR")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.APISecret != "env-secret" {
		t.Fatal("credentials not taken from environment")
	}
	if len(cfg.Markets) != 2 || cfg.Markets[1] != "ADA-EUR" {
		t.Fatalf("markets not taken from environment: %v", cfg.Markets)
	}
}

func TestValidateRejectsMalformedMarket(t *testing.T) {
	cfg := Default()
	cfg.Markets = []string{"BTCEUR"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for malformed market")
	}
}

func TestValidateRejectsHalfCredentials(t *testing.T) {
	cfg := Default()
	cfg.Exchange.APIKey = "key-without-secret"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for key without secret")
	}
}
