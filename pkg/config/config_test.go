package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAddrDefaults(t *testing.T) {
	var c Config
	if c.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected default addr: %s", c.Addr())
	}
	c.Server.Address = "127.0.0.1"
	c.Server.Port = 9090
	if c.Addr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %s", c.Addr())
	}
}

func TestReconnectDelay(t *testing.T) {
	var c Config
	if c.ReconnectDelay() != DefaultReconnectDelay {
		t.Fatalf("expected default delay, got %v", c.ReconnectDelay())
	}
	c.Transport.ReconnectDelayMS = 250
	if c.ReconnectDelay() != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", c.ReconnectDelay())
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
server:
  address: 127.0.0.1
  port: 9191
storage:
  db_path: /tmp/pawlink-test
transport:
  reconnect_delay_ms: 1500
security:
  api_keys:
    backend: ["bk1"]
    frontend: ["fk1", "fk2"]
retention:
  enabled: true
  cron: "0 3 * * *"
  period: 720h
`
	if err := os.WriteFile(p, []byte(data), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9191" {
		t.Fatalf("unexpected addr: %s", cfg.Addr())
	}
	if cfg.Storage.DBPath != "/tmp/pawlink-test" {
		t.Fatalf("unexpected db path: %s", cfg.Storage.DBPath)
	}
	if cfg.ReconnectDelay() != 1500*time.Millisecond {
		t.Fatalf("unexpected reconnect delay: %v", cfg.ReconnectDelay())
	}
	if len(cfg.Security.APIKeys.Frontend) != 2 {
		t.Fatalf("unexpected frontend keys: %v", cfg.Security.APIKeys.Frontend)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Period != "720h" {
		t.Fatalf("unexpected retention: %+v", cfg.Retention)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAWLINK_ADDR", "0.0.0.0:7070")
	t.Setenv("PAWLINK_DB_PATH", "/tmp/env-db")
	t.Setenv("PAWLINK_RECONNECT_DELAY_MS", "900")
	t.Setenv("PAWLINK_BACKEND_KEYS", "bk1, bk2")

	var cfg Config
	if !LoadEnvOverrides(&cfg) {
		t.Fatalf("env overrides not detected")
	}
	if cfg.Addr() != "0.0.0.0:7070" {
		t.Fatalf("addr override missed: %s", cfg.Addr())
	}
	if cfg.Storage.DBPath != "/tmp/env-db" {
		t.Fatalf("db override missed: %s", cfg.Storage.DBPath)
	}
	if cfg.Transport.ReconnectDelayMS != 900 {
		t.Fatalf("delay override missed: %d", cfg.Transport.ReconnectDelayMS)
	}
	if len(cfg.Security.APIKeys.Backend) != 2 || cfg.Security.APIKeys.Backend[1] != "bk2" {
		t.Fatalf("backend keys override missed: %v", cfg.Security.APIKeys.Backend)
	}
}

func TestLoadEffectiveMissingFileIsNotFatal(t *testing.T) {
	eff, err := LoadEffective(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing config should not be fatal: %v", err)
	}
	if eff.Config == nil {
		t.Fatalf("expected defaults config")
	}
}

func TestRuntimeKeysCopied(t *testing.T) {
	SetRuntime(&RuntimeConfig{
		BackendKeys: map[string]struct{}{"bk": {}},
		SigningKeys: map[string]struct{}{"bk": {}, "legacy": {}},
	})
	t.Cleanup(func() { SetRuntime(nil) })

	keys := GetSigningKeys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 signing keys got %d", len(keys))
	}
	// mutating the copy must not affect the runtime config
	delete(keys, "bk")
	if len(GetSigningKeys()) != 2 {
		t.Fatalf("runtime config mutated through returned copy")
	}
}
