// Package gateway implements the transport boundary over a framed TCP
// stream to a session gateway, the process that runs the actual
// messaging-protocol engine. The orchestrator hands it stored
// credentials at dial time and consumes connection-state transitions;
// handshake cryptography never crosses the wire codec.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/okynn/senderctl/internal/logging"
	"github.com/okynn/senderctl/internal/store"
	"github.com/okynn/senderctl/internal/transport"
	"github.com/okynn/senderctl/internal/transport/gateway/wire"
)

var (
	ErrNoGatewayAddr = errors.New("gateway: no gateway address configured")
	ErrClosed        = errors.New("gateway: connection closed")
)

// Options configures the gateway dialer.
type Options struct {
	// Addr is the gateway's host:port.
	Addr string
	// TLS enables transport security when non-nil.
	TLS *tls.Config
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// Limits constrains frame sizes.
	Limits wire.Limits
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 15 * time.Second
	}
	if o.Limits.MaxPayloadBytes == 0 {
		o.Limits = wire.DefaultLimits()
	}
	return o
}

// Dialer opens gateway-backed transports. Implements transport.Dialer.
type Dialer struct {
	opts Options
	log  zerolog.Logger
}

func NewDialer(opts Options) *Dialer {
	return &Dialer{
		opts: opts.WithDefaults(),
		log:  logging.Component("gateway"),
	}
}

// Dial connects to the gateway, sends the hello for this number with any
// stored credential bundle, and returns the live transport. The gateway
// answers with connection-state frames on the same stream.
func (d *Dialer) Dial(ctx context.Context, credentialDir, number string) (transport.Transport, error) {
	if d.opts.Addr == "" {
		return nil, ErrNoGatewayAddr
	}

	nd := &net.Dialer{Timeout: d.opts.DialTimeout}
	nc, err := nd.DialContext(ctx, "tcp", d.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", d.opts.Addr, err)
	}
	if d.opts.TLS != nil {
		tc := tls.Client(nc, d.opts.TLS)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("gateway: tls handshake: %w", err)
		}
		nc = tc
	}

	bundle, err := os.ReadFile(filepath.Join(credentialDir, store.CredentialBundleFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		nc.Close()
		return nil, fmt.Errorf("gateway: read credential bundle: %w", err)
	}

	c := newConn(nc, d.opts, d.log.With().Str("number", number).Logger())
	if err := c.writeFrame(wire.MsgHello, wire.Hello{Number: number, Credentials: bundle}); err != nil {
		c.Close()
		return nil, fmt.Errorf("gateway: hello: %w", err)
	}
	go c.readLoop()
	return c, nil
}

// conn is one live gateway stream. Implements transport.Transport.
type conn struct {
	nc   net.Conn
	opts Options
	log  zerolog.Logger

	events  chan transport.ConnectionEvent
	creds   chan transport.CredentialUpdate
	pairing chan wire.PairingCodePayload
	done    chan struct{}

	writeMu   sync.Mutex
	nextID    atomic.Uint64
	closeOnce sync.Once
}

func newConn(nc net.Conn, opts Options, log zerolog.Logger) *conn {
	return &conn{
		nc:      nc,
		opts:    opts,
		log:     log,
		events:  make(chan transport.ConnectionEvent, 16),
		creds:   make(chan transport.CredentialUpdate, 4),
		pairing: make(chan wire.PairingCodePayload, 1),
		done:    make(chan struct{}),
	}
}

func (c *conn) Events() <-chan transport.ConnectionEvent {
	return c.events
}

func (c *conn) CredentialUpdates() <-chan transport.CredentialUpdate {
	return c.creds
}

func (c *conn) RequestPairingCode(ctx context.Context, number string) (string, error) {
	if err := c.writeFrame(wire.MsgPairingRequest, wire.PairingRequestPayload{Number: number}); err != nil {
		return "", err
	}
	select {
	case resp := <-c.pairing:
		if resp.Error != "" {
			return "", fmt.Errorf("gateway: pairing code: %s", resp.Error)
		}
		return resp.Code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	}
}

func (c *conn) Send(_ context.Context, target string, payload []byte) error {
	return c.writeFrame(wire.MsgSend, wire.SendPayload{Target: target, Payload: payload})
}

func (c *conn) Logout(context.Context) error {
	return c.writeFrame(wire.MsgLogout, struct{}{})
}

// Close tears the stream down. The read loop observes the socket close
// and ends the event stream.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.nc.Close()
	})
	return err
}

// readLoop maps gateway frames onto the transport's channels until the
// stream errors or closes, then closes the event channel so consumers
// see a definitive end.
func (c *conn) readLoop() {
	defer close(c.events)
	for {
		msg, err := wire.ReadMessage(c.nc, c.opts.Limits)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug().Err(err).Msg("gateway stream ended")
			}
			return
		}
		if !c.dispatch(msg) {
			return
		}
	}
}

func (c *conn) dispatch(msg wire.Message) bool {
	switch msg.Type {
	case wire.MsgConnecting:
		return c.deliver(transport.ConnectionEvent{Kind: transport.KindConnecting})

	case wire.MsgOpen:
		return c.deliver(transport.ConnectionEvent{Kind: transport.KindOpen})

	case wire.MsgClose:
		var body wire.ClosePayload
		if err := wire.DecodePayload(msg, &body); err != nil {
			c.log.Warn().Err(err).Msg("malformed close frame")
			return c.deliver(transport.ConnectionEvent{Kind: transport.KindClose, Cause: transport.CauseUnknown})
		}
		return c.deliver(transport.ConnectionEvent{Kind: transport.KindClose, Cause: parseCause(body.Cause)})

	case wire.MsgQR:
		var body wire.QRPayload
		if err := wire.DecodePayload(msg, &body); err != nil {
			c.log.Warn().Err(err).Msg("malformed qr frame")
			return true
		}
		return c.deliver(transport.ConnectionEvent{Kind: transport.KindQR, QR: body.Data})

	case wire.MsgCredentials:
		var body wire.CredentialsPayload
		if err := wire.DecodePayload(msg, &body); err != nil {
			c.log.Warn().Err(err).Msg("malformed credentials frame")
			return true
		}
		select {
		case c.creds <- transport.CredentialUpdate{Bundle: body.Bundle}:
		case <-c.done:
			return false
		}
		return true

	case wire.MsgPairingCode:
		var body wire.PairingCodePayload
		if err := wire.DecodePayload(msg, &body); err != nil {
			c.log.Warn().Err(err).Msg("malformed pairing code frame")
			return true
		}
		select {
		case c.pairing <- body:
		default:
			// No request waiting; the code expired on the gateway side anyway.
		}
		return true

	default:
		c.log.Debug().Uint16("type", msg.Type).Msg("unknown gateway frame type")
		return true
	}
}

func (c *conn) deliver(ev transport.ConnectionEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *conn) writeFrame(msgType uint16, payload any) error {
	msg, err := wire.Encode(msgType, c.nextID.Add(1), payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("gateway: set write deadline: %w", err)
	}
	if err := wire.WriteMessage(c.nc, msg, c.opts.Limits); err != nil {
		return fmt.Errorf("gateway: write frame: %w", err)
	}
	return nil
}

func parseCause(cause string) transport.CloseCause {
	switch cause {
	case "logged_out":
		return transport.CauseLoggedOut
	case "restart_required":
		return transport.CauseRestartRequired
	case "timed_out":
		return transport.CauseTimedOut
	case "":
		return transport.CauseUnknown
	default:
		return transport.CauseOther
	}
}
