package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okynn/senderctl/internal/daemon"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := daemon.DefaultConfig()
	if cfg.DataDir != def.DataDir || cfg.ListenAddr != def.ListenAddr || cfg.Gateway.Addr != def.Gateway.Addr {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
data_dir = "/var/lib/senderctl"
listen_addr = ":9090"
shutdown_timeout = "20s"

[gateway]
addr = "gw.internal:9443"

[gateway.tls]
enabled = true
ca_file = "ca.pem"
server_name = "gw.internal"

[lifecycle]
watchdog_interactive = "90s"
pairing_request_delay = "2s"

[reconnect]
max_reload_passes = 5
settle_time = "45s"

[health]
audit_interval = "5m"

[pending]
ttl = "1m"
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DataDir != "/var/lib/senderctl" {
		t.Fatalf("unexpected data dir: %q", cfg.DataDir)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.ShutdownTimeout != 20*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	if cfg.Gateway.Addr != "gw.internal:9443" {
		t.Fatalf("unexpected gateway addr: %q", cfg.Gateway.Addr)
	}
	if !cfg.Gateway.TLS.Enabled || cfg.Gateway.TLS.CAFile != "ca.pem" || cfg.Gateway.TLS.ServerName != "gw.internal" {
		t.Fatalf("unexpected tls config: %+v", cfg.Gateway.TLS)
	}
	if cfg.Lifecycle.WatchdogInteractive != 90*time.Second {
		t.Fatalf("unexpected watchdog: %v", cfg.Lifecycle.WatchdogInteractive)
	}
	if cfg.Lifecycle.PairingRequestDelay != 2*time.Second {
		t.Fatalf("unexpected pairing delay: %v", cfg.Lifecycle.PairingRequestDelay)
	}
	if cfg.Reconnect.MaxReloadPasses != 5 {
		t.Fatalf("unexpected reload passes: %d", cfg.Reconnect.MaxReloadPasses)
	}
	if cfg.Reconnect.SettleTime != 45*time.Second {
		t.Fatalf("unexpected settle time: %v", cfg.Reconnect.SettleTime)
	}
	if cfg.AuditInterval != 5*time.Minute {
		t.Fatalf("unexpected audit interval: %v", cfg.AuditInterval)
	}
	if cfg.PendingTTL != time.Minute {
		t.Fatalf("unexpected pending ttl: %v", cfg.PendingTTL)
	}
}

func TestLoadConfigPartialOverrideKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[lifecycle]
watchdog_background = "30s"
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Lifecycle.WatchdogBackground != 30*time.Second {
		t.Fatalf("override not applied: %v", cfg.Lifecycle.WatchdogBackground)
	}
	if cfg.Lifecycle.WatchdogInteractive != 0 {
		t.Fatalf("untouched option must stay zero for downstream defaulting: %v", cfg.Lifecycle.WatchdogInteractive)
	}
	def := daemon.DefaultConfig()
	if cfg.DataDir != def.DataDir || cfg.Gateway.Addr != def.Gateway.Addr {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `
[reconnect]
settle_time = "abc"
`)
	if _, err := loadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadConfigExampleFile(t *testing.T) {
	cfg, err := loadConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example config invalid: %v", err)
	}
	if cfg.Reconnect.MaxReloadPasses != 3 {
		t.Fatalf("unexpected reload passes: %d", cfg.Reconnect.MaxReloadPasses)
	}
}
