package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okynn/senderctl/internal/store"
	"github.com/okynn/senderctl/internal/testutil/testlog"
	"github.com/okynn/senderctl/internal/testutil/tlstest"
	"github.com/okynn/senderctl/internal/transport"
	"github.com/okynn/senderctl/internal/transport/gateway/wire"
)

// startGateway runs a scripted gateway accepting exactly one connection.
func startGateway(t *testing.T, handle func(nc net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		handle(nc)
	}()
	return ln.Addr().String()
}

func readMsg(t *testing.T, nc net.Conn) wire.Message {
	t.Helper()
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := wire.ReadMessage(nc, wire.DefaultLimits())
	if err != nil {
		t.Errorf("gateway read: %v", err)
		return wire.Message{}
	}
	return msg
}

func writeMsg(t *testing.T, nc net.Conn, msgType uint16, payload any) {
	t.Helper()
	msg, err := wire.Encode(msgType, 0, payload)
	if err != nil {
		t.Errorf("gateway encode: %v", err)
		return
	}
	if err := wire.WriteMessage(nc, msg, wire.DefaultLimits()); err != nil {
		t.Errorf("gateway write: %v", err)
	}
}

func nextEvent(t *testing.T, tr transport.Transport) transport.ConnectionEvent {
	t.Helper()
	select {
	case ev, ok := <-tr.Events():
		if !ok {
			t.Fatalf("event stream ended early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connection event")
		return transport.ConnectionEvent{}
	}
}

func credentialDir(t *testing.T, bundle string) string {
	t.Helper()
	dir := t.TempDir()
	if bundle != "" {
		path := filepath.Join(dir, store.CredentialBundleFile)
		if err := os.WriteFile(path, []byte(bundle), 0o600); err != nil {
			t.Fatalf("seed bundle: %v", err)
		}
	}
	return dir
}

func TestDialSendsHelloWithStoredBundle(t *testing.T) {
	testlog.Start(t)
	helloC := make(chan wire.Hello, 1)
	addr := startGateway(t, func(nc net.Conn) {
		msg := readMsg(t, nc)
		var hello wire.Hello
		if err := wire.DecodePayload(msg, &hello); err != nil {
			t.Errorf("decode hello: %v", err)
			return
		}
		helloC <- hello
		writeMsg(t, nc, wire.MsgConnecting, struct{}{})
		writeMsg(t, nc, wire.MsgOpen, struct{}{})
		time.Sleep(200 * time.Millisecond)
	})

	d := NewDialer(Options{Addr: addr})
	tr, err := d.Dial(context.Background(), credentialDir(t, `{"noise_key":"x"}`), "15551230001")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	hello := <-helloC
	if hello.Number != "15551230001" {
		t.Fatalf("hello number = %q", hello.Number)
	}
	if string(hello.Credentials) != `{"noise_key":"x"}` {
		t.Fatalf("hello credentials = %q", hello.Credentials)
	}

	if ev := nextEvent(t, tr); ev.Kind != transport.KindConnecting {
		t.Fatalf("first event kind = %v", ev.Kind)
	}
	if ev := nextEvent(t, tr); ev.Kind != transport.KindOpen {
		t.Fatalf("second event kind = %v", ev.Kind)
	}
}

func TestDialWithoutStoredBundle(t *testing.T) {
	testlog.Start(t)
	helloC := make(chan wire.Hello, 1)
	addr := startGateway(t, func(nc net.Conn) {
		msg := readMsg(t, nc)
		var hello wire.Hello
		if err := wire.DecodePayload(msg, &hello); err != nil {
			t.Errorf("decode hello: %v", err)
			return
		}
		helloC <- hello
	})

	d := NewDialer(Options{Addr: addr})
	tr, err := d.Dial(context.Background(), credentialDir(t, ""), "15551230001")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	if hello := <-helloC; len(hello.Credentials) != 0 {
		t.Fatalf("expected empty credentials, got %q", hello.Credentials)
	}
}

func TestCloseCauseMapping(t *testing.T) {
	testlog.Start(t)
	causes := []struct {
		wire string
		want transport.CloseCause
	}{
		{"logged_out", transport.CauseLoggedOut},
		{"restart_required", transport.CauseRestartRequired},
		{"timed_out", transport.CauseTimedOut},
		{"", transport.CauseUnknown},
		{"stream_errored", transport.CauseOther},
	}
	addr := startGateway(t, func(nc net.Conn) {
		readMsg(t, nc)
		for _, c := range causes {
			writeMsg(t, nc, wire.MsgClose, wire.ClosePayload{Cause: c.wire})
		}
		time.Sleep(200 * time.Millisecond)
	})

	d := NewDialer(Options{Addr: addr})
	tr, err := d.Dial(context.Background(), credentialDir(t, ""), "15551230001")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	for _, c := range causes {
		ev := nextEvent(t, tr)
		if ev.Kind != transport.KindClose || ev.Cause != c.want {
			t.Fatalf("cause %q mapped to kind=%v cause=%v, want %v", c.wire, ev.Kind, ev.Cause, c.want)
		}
	}
}

func TestPairingCodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	addr := startGateway(t, func(nc net.Conn) {
		readMsg(t, nc)
		msg := readMsg(t, nc)
		if msg.Type != wire.MsgPairingRequest {
			t.Errorf("expected pairing request, got type %d", msg.Type)
			return
		}
		var req wire.PairingRequestPayload
		if err := wire.DecodePayload(msg, &req); err != nil {
			t.Errorf("decode pairing request: %v", err)
			return
		}
		if req.Number != "15551230001" {
			t.Errorf("pairing request number = %q", req.Number)
		}
		writeMsg(t, nc, wire.MsgPairingCode, wire.PairingCodePayload{Code: "ABCDEFGH"})
		time.Sleep(200 * time.Millisecond)
	})

	d := NewDialer(Options{Addr: addr})
	tr, err := d.Dial(context.Background(), credentialDir(t, ""), "15551230001")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	code, err := tr.RequestPairingCode(context.Background(), "15551230001")
	if err != nil {
		t.Fatalf("request pairing code: %v", err)
	}
	if code != "ABCDEFGH" {
		t.Fatalf("code = %q", code)
	}
}

func TestPairingCodeGatewayError(t *testing.T) {
	testlog.Start(t)
	addr := startGateway(t, func(nc net.Conn) {
		readMsg(t, nc)
		readMsg(t, nc)
		writeMsg(t, nc, wire.MsgPairingCode, wire.PairingCodePayload{Error: "rate limited"})
		time.Sleep(200 * time.Millisecond)
	})

	d := NewDialer(Options{Addr: addr})
	tr, err := d.Dial(context.Background(), credentialDir(t, ""), "15551230001")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	if _, err := tr.RequestPairingCode(context.Background(), "15551230001"); err == nil {
		t.Fatalf("expected error from gateway-side pairing failure")
	}
}

func TestCredentialUpdateDelivered(t *testing.T) {
	testlog.Start(t)
	addr := startGateway(t, func(nc net.Conn) {
		readMsg(t, nc)
		writeMsg(t, nc, wire.MsgCredentials, wire.CredentialsPayload{Bundle: []byte(`{"rotated":true}`)})
		time.Sleep(200 * time.Millisecond)
	})

	d := NewDialer(Options{Addr: addr})
	tr, err := d.Dial(context.Background(), credentialDir(t, ""), "15551230001")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	select {
	case upd := <-tr.CredentialUpdates():
		if string(upd.Bundle) != `{"rotated":true}` {
			t.Fatalf("bundle = %q", upd.Bundle)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for credential update")
	}
}

func TestGatewayDisconnectEndsEventStream(t *testing.T) {
	testlog.Start(t)
	addr := startGateway(t, func(nc net.Conn) {
		readMsg(t, nc)
	})

	d := NewDialer(Options{Addr: addr})
	tr, err := d.Dial(context.Background(), credentialDir(t, ""), "15551230001")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	select {
	case _, ok := <-tr.Events():
		if ok {
			t.Fatalf("expected closed event stream, got an event")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream end")
	}
}

func TestSendAndLogoutReachGateway(t *testing.T) {
	testlog.Start(t)
	frames := make(chan wire.Message, 2)
	addr := startGateway(t, func(nc net.Conn) {
		readMsg(t, nc)
		frames <- readMsg(t, nc)
		frames <- readMsg(t, nc)
	})

	d := NewDialer(Options{Addr: addr})
	tr, err := d.Dial(context.Background(), credentialDir(t, ""), "15551230001")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	if err := tr.Send(context.Background(), "15559990000", []byte("hi")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := tr.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}

	msg := <-frames
	if msg.Type != wire.MsgSend {
		t.Fatalf("first frame type = %d", msg.Type)
	}
	var sent wire.SendPayload
	if err := wire.DecodePayload(msg, &sent); err != nil {
		t.Fatalf("decode send: %v", err)
	}
	if sent.Target != "15559990000" || string(sent.Payload) != "hi" {
		t.Fatalf("send payload = %+v", sent)
	}
	if msg := <-frames; msg.Type != wire.MsgLogout {
		t.Fatalf("second frame type = %d", msg.Type)
	}
}

func TestDialOverTLS(t *testing.T) {
	testlog.Start(t)
	auth := tlstest.NewAuthority(t, t.TempDir())
	sc := auth.ServerTLSConfig(t, "127.0.0.1")
	serverCert, err := tls.X509KeyPair(sc.CertPEM, sc.KeyPEM)
	if err != nil {
		t.Fatalf("server keypair: %v", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{serverCert}})
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		readMsg(t, nc)
		writeMsg(t, nc, wire.MsgOpen, struct{}{})
		time.Sleep(200 * time.Millisecond)
	}()

	caPEM, err := os.ReadFile(auth.CAFile())
	if err != nil {
		t.Fatalf("read ca: %v", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		t.Fatalf("ca pool empty")
	}

	d := NewDialer(Options{Addr: ln.Addr().String(), TLS: &tls.Config{RootCAs: pool}})
	tr, err := d.Dial(context.Background(), credentialDir(t, ""), "15551230001")
	if err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	defer tr.Close()

	if ev := nextEvent(t, tr); ev.Kind != transport.KindOpen {
		t.Fatalf("event kind = %v", ev.Kind)
	}
}

func TestDialRequiresAddress(t *testing.T) {
	testlog.Start(t)
	d := NewDialer(Options{})
	if _, err := d.Dial(context.Background(), t.TempDir(), "15551230001"); !errors.Is(err, ErrNoGatewayAddr) {
		t.Fatalf("expected ErrNoGatewayAddr, got %v", err)
	}
}
