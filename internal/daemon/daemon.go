// Package daemon assembles the orchestrator: stores, registry, event
// publisher, gateway dialer, lifecycle driver, reconnect supervision,
// and the HTTP surface, run under one process context.
package daemon

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/okynn/senderctl/internal/control"
	"github.com/okynn/senderctl/internal/events"
	"github.com/okynn/senderctl/internal/lifecycle"
	"github.com/okynn/senderctl/internal/logging"
	"github.com/okynn/senderctl/internal/observability"
	"github.com/okynn/senderctl/internal/reconnect"
	"github.com/okynn/senderctl/internal/registry"
	"github.com/okynn/senderctl/internal/store"
	"github.com/okynn/senderctl/internal/transport/gateway"
	"github.com/okynn/senderctl/internal/web"
)

var (
	ErrNoDataDir     = errors.New("daemon: data dir required")
	ErrNoListenAddr  = errors.New("daemon: listen addr required")
	ErrNoGatewayAddr = errors.New("daemon: gateway addr required")
	ErrTLSCAMissing  = errors.New("daemon: gateway tls enabled without ca file or insecure override")
	ErrTLSKeyPair    = errors.New("daemon: gateway tls cert and key files must be set together")
)

// SessionRecordFile names the tenant -> numbers document under the data dir.
const SessionRecordFile = "user_sessions.json"

// TLSConfig carries the gateway transport-security knobs.
type TLSConfig struct {
	Enabled            bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// GatewayConfig locates the session gateway.
type GatewayConfig struct {
	Addr string
	TLS  TLSConfig
}

// Config is the daemon's full configuration.
type Config struct {
	DataDir    string
	ListenAddr string
	Gateway    GatewayConfig

	Lifecycle     lifecycle.Options
	Reconnect     reconnect.Options
	AuditInterval time.Duration

	PendingTTL           time.Duration
	PendingSweepInterval time.Duration

	ShutdownTimeout time.Duration
}

// DefaultConfig returns the production defaults. Nested option structs
// keep their zero values; the owning packages fill their own defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:         "data",
		ListenAddr:      ":8080",
		Gateway:         GatewayConfig{Addr: "127.0.0.1:9443"},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return ErrNoDataDir
	}
	if c.ListenAddr == "" {
		return ErrNoListenAddr
	}
	if c.Gateway.Addr == "" {
		return ErrNoGatewayAddr
	}
	t := c.Gateway.TLS
	if t.Enabled && t.CAFile == "" && !t.InsecureSkipVerify {
		return ErrTLSCAMissing
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		return ErrTLSKeyPair
	}
	return nil
}

func (t TLSConfig) build() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("daemon: read tls ca %s: %w", t.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("daemon: no certificates in %s", t.CAFile)
		}
		cfg.RootCAs = pool
	}
	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("daemon: load tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Daemon is one assembled orchestrator process.
type Daemon struct {
	cfg Config
	log zerolog.Logger

	mu   sync.Mutex
	addr string
}

// New validates the configuration and returns an assembled daemon.
func New(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Daemon{cfg: cfg, log: logging.Component("daemon")}, nil
}

// Addr returns the bound HTTP listen address once Run is serving.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Run serves until ctx ends, then drains the HTTP server and waits for
// the supervision loops to stop.
func (d *Daemon) Run(ctx context.Context) error {
	observability.RegisterMetrics()

	tlsCfg, err := d.cfg.Gateway.TLS.build()
	if err != nil {
		return err
	}

	records := store.NewRecords(filepath.Join(d.cfg.DataDir, SessionRecordFile))
	creds := store.NewCredentialStore(d.cfg.DataDir)
	reg := registry.New()
	publisher := events.NewPublisher()
	dialer := gateway.NewDialer(gateway.Options{Addr: d.cfg.Gateway.Addr, TLS: tlsCfg})
	driver := lifecycle.NewDriver(dialer, creds, records, reg, publisher, d.cfg.Lifecycle)
	scheduler := reconnect.NewScheduler(records, creds, reg, driver, d.cfg.Reconnect)
	auditor := reconnect.NewAuditor(records, reg, scheduler, d.cfg.AuditInterval)
	pending := control.NewPendingStore(d.cfg.PendingTTL, d.cfg.PendingSweepInterval)
	api := web.NewServer(ctx, driver, records, reg, publisher, pending)

	ln, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", d.cfg.ListenAddr, err)
	}
	d.mu.Lock()
	d.addr = ln.Addr().String()
	d.mu.Unlock()

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}
	run(publisher.RunKeepAlive)
	run(pending.RunJanitor)
	run(scheduler.Run)
	run(auditor.Run)

	srv := &http.Server{Handler: api.Router()}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	d.log.Info().
		Str("addr", d.Addr()).
		Str("gateway", d.cfg.Gateway.Addr).
		Str("data_dir", d.cfg.DataDir).
		Msg("daemon started")

	select {
	case err := <-serveErr:
		return fmt.Errorf("daemon: http server: %w", err)
	case <-ctx.Done():
	}

	d.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.log.Warn().Err(err).Msg("http drain incomplete")
	}
	wg.Wait()
	d.log.Info().Msg("daemon stopped")
	return nil
}
