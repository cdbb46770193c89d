package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Transport is the low-level broker session used by the Manager.
//
// Setters configure the next Connect call only; they never alter a session
// that is already open. Implementations own the network socket and any
// background I/O (keepalive pings, acknowledgements).
type Transport interface {
	SetClientID(id string)
	SetCredentials(username, password string)
	SetTLSConfig(cfg *tls.Config)
	SetWill(topic string, payload []byte, qos byte, retained bool)
	SetConnectionLostHandler(fn func(err error))
	Connect(host string, port int, keepalive time.Duration) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Disconnect(quiesce uint)
}

type willMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// PahoTransport implements Transport on top of paho.mqtt.golang.
//
// A fresh paho client is built on every Connect so a changed broker target
// applies only at connect time. Paho's own reconnect logic is disabled; the
// Manager decides when to reconnect.
//
// Thread Safety: all methods are safe for concurrent use.
type PahoTransport struct {
	connectTimeout time.Duration
	publishTimeout time.Duration

	mu        sync.Mutex
	clientID  string
	username  string
	password  string
	tlsConfig *tls.Config
	will      *willMessage
	onLost    func(err error)
	client    pahomqtt.Client

	// session counts built clients; connection-lost callbacks from any
	// client but the latest are dropped.
	session uint64
}

// NewPahoTransport creates a transport with the default connect and publish timeouts.
func NewPahoTransport() *PahoTransport {
	return &PahoTransport{
		connectTimeout: defaultConnectTimeout,
		publishTimeout: defaultPublishTimeout,
	}
}

// SetClientID sets the MQTT client identifier for the next connect.
func (t *PahoTransport) SetClientID(id string) {
	t.mu.Lock()
	t.clientID = id
	t.mu.Unlock()
}

// SetCredentials binds a username and password for the next connect.
// An empty username clears them.
func (t *PahoTransport) SetCredentials(username, password string) {
	t.mu.Lock()
	t.username = username
	t.password = password
	t.mu.Unlock()
}

// SetTLSConfig enables TLS for the next connect. Nil disables it.
func (t *PahoTransport) SetTLSConfig(cfg *tls.Config) {
	t.mu.Lock()
	t.tlsConfig = cfg
	t.mu.Unlock()
}

// SetWill configures the Last Will and Testament. An empty topic clears it.
func (t *PahoTransport) SetWill(topic string, payload []byte, qos byte, retained bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if topic == "" {
		t.will = nil
		return
	}
	t.will = &willMessage{topic: topic, payload: payload, qos: qos, retained: retained}
}

// SetConnectionLostHandler registers a callback for unexpected disconnects.
func (t *PahoTransport) SetConnectionLostHandler(fn func(err error)) {
	t.mu.Lock()
	t.onLost = fn
	t.mu.Unlock()
}

// Connect opens a new broker session, replacing any previous one.
func (t *PahoTransport) Connect(host string, port int, keepalive time.Duration) error {
	t.mu.Lock()
	opts := t.buildClientOptions(host, port, keepalive)
	previous := t.client
	t.mu.Unlock()

	if previous != nil && previous.IsConnectionOpen() {
		previous.Disconnect(0)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(t.connectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("%w: connect to %s:%d after %v", ErrTimeout, host, port, t.connectTimeout)
	}
	if err := token.Error(); err != nil {
		return classifyConnectError(err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	return nil
}

// Publish sends payload and waits for the broker acknowledgement (QoS > 0)
// or for the write to complete (QoS 0).
func (t *PahoTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(t.publishTimeout) {
		return fmt.Errorf("%w: publish after %v", ErrTimeout, t.publishTimeout)
	}
	return token.Error()
}

// Disconnect closes the session, waiting up to quiesce milliseconds for
// in-flight work.
func (t *PahoTransport) Disconnect(quiesce uint) {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.session++
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(quiesce)
	}
}

// buildClientOptions creates paho options for one connect attempt.
// The caller must hold t.mu.
func (t *PahoTransport) buildClientOptions(host string, port int, keepalive time.Duration) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(host, port, t.tlsConfig != nil))
	opts.SetClientID(t.clientID)

	if t.username != "" {
		opts.SetUsername(t.username)
		opts.SetPassword(t.password)
	}

	opts.SetCleanSession(true)

	// Reconnection is driven by the Manager at publish time.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(t.connectTimeout)
	if keepalive <= 0 {
		keepalive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepalive)

	if t.tlsConfig != nil {
		opts.SetTLSConfig(t.tlsConfig)
	}

	if t.will != nil {
		opts.SetBinaryWill(t.will.topic, t.will.payload, t.will.qos, t.will.retained)
	}

	t.session++
	session := t.session
	onLost := t.onLost
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if onLost != nil && t.isCurrent(session) {
			onLost(err)
		}
	})

	return opts
}

// isCurrent reports whether session is the most recently built client.
// Paho delivers connection-lost asynchronously, so a replaced client can
// report its loss after the next session is already up.
func (t *PahoTransport) isCurrent(session uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session == session
}

// brokerURL returns tcp:// or ssl:// depending on TLS.
func brokerURL(host string, port int, useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// classifyConnectError maps broker CONNACK refusals for bad credentials to
// ErrInvalidCredentials so the retry loop treats them as permanent.
func classifyConnectError(err error) error {
	if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised) {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return err
}
