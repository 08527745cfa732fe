package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	payload := `
dataDir: /tmp/talkd-test
relays:
  - url: wss://relay.damus.io
  - url: wss://nostr.wine
    write: false
network:
  reconnectInterval: 2s
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/talkd-test" {
		t.Fatalf("dataDir not merged: %s", cfg.DataDir)
	}
	if len(cfg.Relays) != 2 {
		t.Fatalf("expected 2 relays, got %d", len(cfg.Relays))
	}
	if read, write := cfg.Relays[0].RelayFlags(); !read || !write {
		t.Fatal("relay flags must default to on")
	}
	if _, write := cfg.Relays[1].RelayFlags(); write {
		t.Fatal("explicit write:false must stick")
	}
	if cfg.Network.ReconnectInterval != 2*time.Second {
		t.Fatalf("reconnectInterval not merged: %v", cfg.Network.ReconnectInterval)
	}
	// Untouched values keep their defaults.
	if cfg.Network.InboundBurst != 200 {
		t.Fatalf("default inboundBurst lost: %d", cfg.Network.InboundBurst)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level not merged: %s", cfg.Log.Level)
	}
}

func TestMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	def := Default()
	if cfg.Network.ReconnectInterval != def.Network.ReconnectInterval {
		t.Fatal("defaults must survive a missing file")
	}
}

func TestMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("relays: [unclosed\n  nonsense"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("a file that exists but does not parse must fail the load")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TALKD_DATA_DIR", "/override")
	t.Setenv("TALKD_RECONNECT_INTERVAL", "250ms")
	t.Setenv("TALKD_INBOUND_RPS", "bogus")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/override" {
		t.Fatalf("env dataDir not applied: %s", cfg.DataDir)
	}
	if cfg.Network.ReconnectInterval != 250*time.Millisecond {
		t.Fatalf("env reconnect not applied: %v", cfg.Network.ReconnectInterval)
	}
	if cfg.Network.InboundRPS != Default().Network.InboundRPS {
		t.Fatal("unparseable env value must be ignored")
	}
}
