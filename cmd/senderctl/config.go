package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/okynn/senderctl/internal/daemon"
)

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type fileGateway struct {
	Addr string  `toml:"addr"`
	TLS  fileTLS `toml:"tls"`
}

type fileLifecycle struct {
	RetryDelayInteractive string `toml:"retry_delay_interactive"`
	RetryDelayBackground  string `toml:"retry_delay_background"`
	WatchdogInteractive   string `toml:"watchdog_interactive"`
	WatchdogBackground    string `toml:"watchdog_background"`
	PairingRequestDelay   string `toml:"pairing_request_delay"`
}

type fileReconnect struct {
	InitialReloadDelay string `toml:"initial_reload_delay"`
	SettleTime         string `toml:"settle_time"`
	MaxReloadPasses    int    `toml:"max_reload_passes"`
	AutoInterval       string `toml:"auto_interval"`
	InitialAutoDelay   string `toml:"initial_auto_delay"`
}

type fileHealth struct {
	AuditInterval string `toml:"audit_interval"`
}

type filePending struct {
	TTL           string `toml:"ttl"`
	SweepInterval string `toml:"sweep_interval"`
}

type fileConfig struct {
	DataDir         string        `toml:"data_dir"`
	ListenAddr      string        `toml:"listen_addr"`
	ShutdownTimeout string        `toml:"shutdown_timeout"`
	Gateway         fileGateway   `toml:"gateway"`
	Lifecycle       fileLifecycle `toml:"lifecycle"`
	Reconnect       fileReconnect `toml:"reconnect"`
	Health          fileHealth    `toml:"health"`
	Pending         filePending   `toml:"pending"`
}

// loadConfig layers the file's defined keys over compiled defaults; keys
// absent from the file keep their defaults. An empty path means defaults
// only.
func loadConfig(path string) (daemon.Config, error) {
	cfg := daemon.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemon.Config{}, fmt.Errorf("load senderctl config: %w", err)
	}

	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if err := overrideDuration(meta, "shutdown_timeout", raw.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return daemon.Config{}, err
	}

	if meta.IsDefined("gateway", "addr") {
		cfg.Gateway.Addr = strings.TrimSpace(raw.Gateway.Addr)
	}
	if meta.IsDefined("gateway", "tls", "enabled") {
		cfg.Gateway.TLS.Enabled = raw.Gateway.TLS.Enabled
	}
	if meta.IsDefined("gateway", "tls", "ca_file") {
		cfg.Gateway.TLS.CAFile = strings.TrimSpace(raw.Gateway.TLS.CAFile)
	}
	if meta.IsDefined("gateway", "tls", "cert_file") {
		cfg.Gateway.TLS.CertFile = strings.TrimSpace(raw.Gateway.TLS.CertFile)
	}
	if meta.IsDefined("gateway", "tls", "key_file") {
		cfg.Gateway.TLS.KeyFile = strings.TrimSpace(raw.Gateway.TLS.KeyFile)
	}
	if meta.IsDefined("gateway", "tls", "server_name") {
		cfg.Gateway.TLS.ServerName = strings.TrimSpace(raw.Gateway.TLS.ServerName)
	}
	if meta.IsDefined("gateway", "tls", "insecure_skip_verify") {
		cfg.Gateway.TLS.InsecureSkipVerify = raw.Gateway.TLS.InsecureSkipVerify
	}

	for _, d := range []struct {
		key  []string
		raw  string
		dest *time.Duration
	}{
		{[]string{"lifecycle", "retry_delay_interactive"}, raw.Lifecycle.RetryDelayInteractive, &cfg.Lifecycle.RetryDelayInteractive},
		{[]string{"lifecycle", "retry_delay_background"}, raw.Lifecycle.RetryDelayBackground, &cfg.Lifecycle.RetryDelayBackground},
		{[]string{"lifecycle", "watchdog_interactive"}, raw.Lifecycle.WatchdogInteractive, &cfg.Lifecycle.WatchdogInteractive},
		{[]string{"lifecycle", "watchdog_background"}, raw.Lifecycle.WatchdogBackground, &cfg.Lifecycle.WatchdogBackground},
		{[]string{"lifecycle", "pairing_request_delay"}, raw.Lifecycle.PairingRequestDelay, &cfg.Lifecycle.PairingRequestDelay},
		{[]string{"reconnect", "initial_reload_delay"}, raw.Reconnect.InitialReloadDelay, &cfg.Reconnect.InitialReloadDelay},
		{[]string{"reconnect", "settle_time"}, raw.Reconnect.SettleTime, &cfg.Reconnect.SettleTime},
		{[]string{"reconnect", "auto_interval"}, raw.Reconnect.AutoInterval, &cfg.Reconnect.AutoInterval},
		{[]string{"reconnect", "initial_auto_delay"}, raw.Reconnect.InitialAutoDelay, &cfg.Reconnect.InitialAutoDelay},
		{[]string{"health", "audit_interval"}, raw.Health.AuditInterval, &cfg.AuditInterval},
		{[]string{"pending", "ttl"}, raw.Pending.TTL, &cfg.PendingTTL},
		{[]string{"pending", "sweep_interval"}, raw.Pending.SweepInterval, &cfg.PendingSweepInterval},
	} {
		if err := overrideDuration(meta, strings.Join(d.key, "."), d.raw, d.dest, d.key...); err != nil {
			return daemon.Config{}, err
		}
	}

	if meta.IsDefined("reconnect", "max_reload_passes") {
		cfg.Reconnect.MaxReloadPasses = raw.Reconnect.MaxReloadPasses
	}

	return cfg, nil
}

func overrideDuration(meta toml.MetaData, name, raw string, dest *time.Duration, key ...string) error {
	if len(key) == 0 {
		key = []string{name}
	}
	if !meta.IsDefined(key...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dest = d
	return nil
}
