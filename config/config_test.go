package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `cryptorouter:
  name: "TestRouter"
  version: "1.0"
channels:
  raw_buffer: 100
publisher:
  enabled: true
  interval: 1s
server:
  enabled: true
  address: ":8080"
source:
  coinbase:
    enabled: true
    url: "wss://ws-feed.exchange.coinbase.com"
    pairs: ["BTC-USD"]
  kraken:
    enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Cryptorouter.Name != "TestRouter" {
		t.Errorf("unexpected name: %s", cfg.Cryptorouter.Name)
	}
	if cfg.Channels.RawBuffer != 100 {
		t.Errorf("unexpected raw buffer: %d", cfg.Channels.RawBuffer)
	}
	if cfg.Source.Coinbase.Channel != "level2" {
		t.Errorf("expected default coinbase channel, got %s", cfg.Source.Coinbase.Channel)
	}
	if cfg.Source.Coinbase.ReconnectDelay != 5*time.Second {
		t.Errorf("expected default reconnect delay, got %s", cfg.Source.Coinbase.ReconnectDelay)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	content := `cryptorouter:
  version: "1.0"
channels:
  raw_buffer: 100
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestLoadConfigInvalidKrakenDepth(t *testing.T) {
	content := `cryptorouter:
  name: "TestRouter"
  version: "1.0"
channels:
  raw_buffer: 100
source:
  kraken:
    enabled: true
    url: "wss://ws.kraken.com"
    depth: 17
    pairs: ["XBT/USD"]
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected validation error for invalid depth")
	}
}

func TestIsValidDepth(t *testing.T) {
	cases := []struct {
		depth int
		valid bool
	}{
		{10, true},
		{25, true},
		{1000, true},
		{0, false},
		{17, false},
	}
	for _, c := range cases {
		if got := isValidDepth(c.depth); got != c.valid {
			t.Errorf("isValidDepth(%d) = %v, want %v", c.depth, got, c.valid)
		}
	}
}
