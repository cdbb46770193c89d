package mqtt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

func TestManager_InitialState(t *testing.T) {
	m := NewManager(&mockTransport{}, testTarget())

	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	if _, ok := m.ActiveTarget(); ok {
		t.Error("ActiveTarget() ok = true before connect")
	}
	if err := m.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestManager_ConnectPassesHostPortKeepalive(t *testing.T) {
	transport := &mockTransport{}
	m := NewManager(transport, testTarget())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if len(transport.connects) != 1 {
		t.Fatalf("transport connects = %d, want 1", len(transport.connects))
	}
	want := connectCall{host: "localhost", port: 1883, keepalive: 30 * time.Second}
	if transport.connects[0] != want {
		t.Errorf("Connect called with %+v, want %+v", transport.connects[0], want)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}
	if transport.clientID != "greenscale-test" {
		t.Errorf("client id = %q, want greenscale-test", transport.clientID)
	}
	if transport.tlsConfig != nil {
		t.Error("TLS config set for a plain TCP target")
	}
}

func TestManager_ConnectRetriesThenFails(t *testing.T) {
	transport := &mockTransport{connectErr: errBrokerDown}
	var sleeps []time.Duration
	m := NewManager(transport, testTarget(), WithSleep(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}))

	err := m.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect() expected error when every attempt fails")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if !errors.Is(err, errBrokerDown) {
		t.Errorf("Connect() error = %v, want wrapped transport error", err)
	}
	if got := transport.connectCount(); got != 3 {
		t.Errorf("transport connects = %d, want 3", got)
	}
	if len(sleeps) != 2 {
		t.Errorf("sleeps = %d, want 2", len(sleeps))
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestManager_ConnectSucceedsAfterTransientFailures(t *testing.T) {
	transport := &mockTransport{connectErrs: []error{errBrokerDown, errBrokerDown}}
	target := testTarget()
	target.RetryDelay = 2 * time.Second

	var sleeps []time.Duration
	m := NewManager(transport, target, WithSleep(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}))

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := transport.connectCount(); got != 3 {
		t.Errorf("transport connects = %d, want 3", got)
	}
	for i, d := range sleeps {
		if d != 2*time.Second {
			t.Errorf("sleep[%d] = %v, want 2s", i, d)
		}
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false after successful attempt")
	}
}

func TestManager_TLSMissingFileNeverConnects(t *testing.T) {
	transport := &mockTransport{}
	target := testTarget()
	target.TLS = TLSSettings{
		Enabled: true,
		CACert:  filepath.Join(t.TempDir(), "missing-ca.crt"),
	}
	m := NewManager(transport, target)

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrTLSConfiguration) {
		t.Fatalf("Connect() error = %v, want ErrTLSConfiguration", err)
	}
	if got := transport.connectCount(); got != 0 {
		t.Errorf("transport connects = %d, want 0", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestManager_TLSValidMaterial(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeTestKeyPair(t, dir)

	transport := &mockTransport{}
	target := testTarget()
	target.TLS = TLSSettings{
		Enabled:    true,
		CACert:     certPath,
		ClientCert: certPath,
		ClientKey:  keyPath,
		Insecure:   true,
	}
	m := NewManager(transport, target)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if transport.tlsConfig == nil {
		t.Fatal("TLS config not bound to transport")
	}
	if !transport.tlsConfig.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = false, want true")
	}
	if len(transport.tlsConfig.Certificates) != 1 {
		t.Errorf("client certificates = %d, want 1", len(transport.tlsConfig.Certificates))
	}
}

func TestManager_Credentials(t *testing.T) {
	t.Run("bound before connect", func(t *testing.T) {
		transport := &mockTransport{}
		target := testTarget()
		target.Username = "edge"
		target.Password = "secret"

		if err := NewManager(transport, target).Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if transport.username != "edge" || transport.password != "secret" {
			t.Errorf("credentials = (%q, %q), want (edge, secret)", transport.username, transport.password)
		}
	})

	t.Run("password without username is not retried", func(t *testing.T) {
		transport := &mockTransport{}
		target := testTarget()
		target.Password = "secret"

		err := NewManager(transport, target).Connect(context.Background())
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Connect() error = %v, want ErrInvalidCredentials", err)
		}
		if got := transport.connectCount(); got != 0 {
			t.Errorf("transport connects = %d, want 0", got)
		}
	})

	t.Run("broker refusal is not retried", func(t *testing.T) {
		transport := &mockTransport{
			connectErr: classifyConnectError(packets.ErrorRefusedBadUsernameOrPassword),
		}

		err := NewManager(transport, testTarget()).Connect(context.Background())
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Connect() error = %v, want ErrInvalidCredentials", err)
		}
		if got := transport.connectCount(); got != 1 {
			t.Errorf("transport connects = %d, want 1", got)
		}
	})
}

func TestManager_SetTargetAppliesAtNextConnect(t *testing.T) {
	transport := &mockTransport{}
	m := NewManager(transport, testTarget())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	next := testTarget()
	next.Host = "broker.new"
	next.Port = 8883
	m.SetTarget(next)

	active, ok := m.ActiveTarget()
	if !ok || active.Host != "localhost" {
		t.Errorf("ActiveTarget() = (%q, %v), want (localhost, true)", active.Host, ok)
	}
	if transport.connectCount() != 1 {
		t.Errorf("SetTarget triggered a reconnect")
	}
	if !m.IsConnected() {
		t.Error("SetTarget dropped the open connection")
	}

	transport.simulateConnectionLost(errors.New("EOF"))
	if m.IsConnected() {
		t.Fatal("connection lost did not revert state")
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	last := transport.connects[len(transport.connects)-1]
	if last.host != "broker.new" || last.port != 8883 {
		t.Errorf("reconnect used %s:%d, want broker.new:8883", last.host, last.port)
	}
}

func TestManager_StatusMessages(t *testing.T) {
	transport := &mockTransport{}
	target := testTarget()
	target.StatusTopic = "greenscale/node-1/status"
	m := NewManager(transport, target)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if transport.willTopic != target.StatusTopic {
		t.Errorf("will topic = %q, want %q", transport.willTopic, target.StatusTopic)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	msgs := transport.publishesTo(target.StatusTopic)
	if len(msgs) != 2 {
		t.Fatalf("status publishes = %d, want 2 (online, offline)", len(msgs))
	}
	for i, want := range []string{`"status":"online"`, `"status":"offline"`} {
		if !msgs[i].retained {
			t.Errorf("status[%d] not retained", i)
		}
		if got := string(msgs[i].payload); !strings.Contains(got, want) {
			t.Errorf("status[%d] = %s, want containing %s", i, got, want)
		}
	}
	if transport.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", transport.disconnects)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() after Close = %v, want disconnected", m.State())
	}
}

func TestManager_PublishRequiresConnection(t *testing.T) {
	m := NewManager(&mockTransport{}, testTarget())
	if err := m.Publish("t", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestManager_ContextCancelledDuringBackoff(t *testing.T) {
	transport := &mockTransport{connectErr: errBrokerDown}
	target := testTarget()
	target.RetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewManager(transport, target).Connect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want context.Canceled", err)
	}
	if got := transport.connectCount(); got != 1 {
		t.Errorf("transport connects = %d, want 1", got)
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateDisconnected: "disconnected",
		StateConnected:    "connected",
	} {
		if got := fmt.Sprint(state); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
