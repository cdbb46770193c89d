package mqtt

import (
	"crypto/tls"
	"errors"
	"sync"
	"time"
)

var errBrokerDown = errors.New("connection refused")

type connectCall struct {
	host      string
	port      int
	keepalive time.Duration
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockTransport records every call and fails according to the queued results.
type mockTransport struct {
	mu sync.Mutex

	clientID  string
	username  string
	password  string
	tlsConfig *tls.Config
	willTopic string
	onLost    func(error)

	connects    []connectCall
	publishes   []publishedMessage
	disconnects int
	connectErrs []error // consumed per call; when empty connectErr applies
	connectErr  error
	publishErrs []error
	publishErr  error
}

func (m *mockTransport) SetClientID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientID = id
}

func (m *mockTransport) SetCredentials(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.username = username
	m.password = password
}

func (m *mockTransport) SetTLSConfig(cfg *tls.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tlsConfig = cfg
}

func (m *mockTransport) SetWill(topic string, _ []byte, _ byte, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.willTopic = topic
}

func (m *mockTransport) SetConnectionLostHandler(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLost = fn
}

func (m *mockTransport) Connect(host string, port int, keepalive time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects = append(m.connects, connectCall{host: host, port: port, keepalive: keepalive})
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		return err
	}
	return m.connectErr
}

func (m *mockTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes = append(m.publishes, publishedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return err
	}
	return m.publishErr
}

func (m *mockTransport) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
}

func (m *mockTransport) connectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connects)
}

func (m *mockTransport) publishesTo(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, p := range m.publishes {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// simulateConnectionLost invokes the handler the Manager registered.
func (m *mockTransport) simulateConnectionLost(err error) {
	m.mu.Lock()
	fn := m.onLost
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// testTarget returns a plain TCP target with no status topic, so every
// transport publish the tests observe is a telemetry publish.
func testTarget() Target {
	return Target{
		Host:       "localhost",
		Port:       1883,
		Keepalive:  30 * time.Second,
		ClientID:   "greenscale-test",
		Retries:    3,
		RetryDelay: 0,
	}
}
