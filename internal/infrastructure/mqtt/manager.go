package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/retry"
)

// State is the agent's single Connection State.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager is the Connection Manager. It owns the Transport and the
// Connection State; it is the only component that opens the broker
// session or changes the state.
//
// The state starts disconnected, becomes connected only after a successful
// transport connect, and reverts to disconnected on any connect or publish
// failure and on connection loss.
//
// Thread Safety: all methods are safe for concurrent use. Connect calls are
// serialised.
type Manager struct {
	transport Transport
	logger    Logger
	sleep     func(ctx context.Context, d time.Duration) error

	connectMu sync.Mutex

	mu      sync.RWMutex
	state   State
	pending Target
	active  *Target
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for connect and state-change events.
func WithLogger(l Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSleep replaces the wait between connect attempts. Tests use it to
// record delays without waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) {
		m.sleep = fn
	}
}

// NewManager creates a disconnected Manager for target.
func NewManager(transport Transport, target Target, opts ...ManagerOption) *Manager {
	m := &Manager{
		transport: transport,
		logger:    noopLogger{},
		state:     StateDisconnected,
		pending:   target,
	}
	for _, opt := range opts {
		opt(m)
	}
	transport.SetConnectionLostHandler(m.handleConnectionLost)
	return m
}

// SetTarget stores the target for the next Connect. An open session is
// left untouched; the new target applies after the next disconnect.
func (m *Manager) SetTarget(t Target) {
	m.mu.Lock()
	m.pending = t
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected {
		m.logger.Info("broker target updated, applies at next reconnect", "broker", t.Address())
	} else {
		m.logger.Info("broker target updated", "broker", t.Address())
	}
}

// Target returns the target the next Connect will use.
func (m *Manager) Target() Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

// ActiveTarget returns the target of the open session, if any.
func (m *Manager) ActiveTarget() (Target, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil || m.state != StateConnected {
		return Target{}, false
	}
	return *m.active, true
}

// State returns the current Connection State.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the state is connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect establishes a broker session using the pending target.
//
// It performs the following steps:
//  1. Validates TLS files (if enabled) before any network attempt
//  2. Builds the TLS configuration and binds credentials to the transport
//  3. Calls the transport connect up to target.Retries times, pausing
//     target.RetryDelay between failures
//  4. On success marks the state connected and publishes the online status
//
// TLS and credential problems fail immediately without retry. Exhausting
// the retry budget returns an error wrapping ErrConnectionFailed and leaves
// the state disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	target := m.Target()

	if err := m.prepare(target); err != nil {
		m.setDisconnected()
		m.logger.Error("broker connect aborted", "broker", target.Address(), "error", err)
		return err
	}

	policy := retry.Policy{
		MaxAttempts: target.Retries,
		Delay:       target.RetryDelay,
		Jitter:      target.RetryJitter,
		Sleep:       m.sleep,
	}

	err := policy.Do(ctx, func(_ context.Context, attempt int) error {
		err := m.transport.Connect(target.Host, target.Port, target.Keepalive)
		if err == nil {
			return nil
		}
		m.logger.Warn("broker connect attempt failed",
			"broker", target.Address(),
			"attempt", attempt,
			"max_attempts", max(target.Retries, 1),
			"error", err,
		)
		if errors.Is(err, ErrInvalidCredentials) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		m.setDisconnected()
		m.logger.Error("broker connect failed", "broker", target.Address(), "error", err)
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, target.Address(), err)
	}

	m.mu.Lock()
	m.state = StateConnected
	m.active = &target
	m.mu.Unlock()

	m.logger.Info("broker connected",
		"broker", target.Address(),
		"client_id", target.ClientID,
		"tls", target.TLS.Enabled,
	)

	if target.StatusTopic != "" {
		if err := m.transport.Publish(target.StatusTopic, buildOnlinePayload(target.ClientID), statusQoS, true); err != nil {
			m.logger.Warn("failed to publish online status", "topic", target.StatusTopic, "error", err)
		}
	}

	return nil
}

// prepare validates configuration-level inputs and binds them to the transport.
func (m *Manager) prepare(target Target) error {
	if target.TLS.Enabled {
		if err := validateTLSFiles(target.TLS); err != nil {
			return err
		}
		tlsCfg, err := buildTLSConfig(target.TLS)
		if err != nil {
			return err
		}
		m.transport.SetTLSConfig(tlsCfg)
	} else {
		m.transport.SetTLSConfig(nil)
	}

	if target.Password != "" && target.Username == "" {
		return fmt.Errorf("%w: password set without username", ErrInvalidCredentials)
	}

	m.transport.SetClientID(target.ClientID)
	m.transport.SetCredentials(target.Username, target.Password)

	if target.StatusTopic != "" {
		m.transport.SetWill(target.StatusTopic, buildWillPayload(target.ClientID), statusQoS, true)
	} else {
		m.transport.SetWill("", nil, 0, false)
	}
	return nil
}

// Publish sends payload on the open session. It does not reconnect; a
// failure is returned as-is and the caller decides whether to mark the
// connection lost.
func (m *Manager) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return m.transport.Publish(topic, payload, qos, retained)
}

// MarkDisconnected reverts the state after a transport failure.
func (m *Manager) MarkDisconnected(reason error) {
	if m.setDisconnected() {
		m.logger.Warn("broker connection marked lost", "error", reason)
	}
}

func (m *Manager) handleConnectionLost(err error) {
	m.MarkDisconnected(err)
}

// setDisconnected returns true if the state changed.
func (m *Manager) setDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.state == StateConnected
	m.state = StateDisconnected
	m.active = nil
	return changed
}

// HealthCheck reports ErrNotConnected while no session is open.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close publishes a graceful offline status (if connected), disconnects the
// transport and leaves the state disconnected. Safe to call more than once.
func (m *Manager) Close() error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if active, ok := m.ActiveTarget(); ok && active.StatusTopic != "" {
		if err := m.transport.Publish(active.StatusTopic, buildOfflinePayload(active.ClientID), statusQoS, true); err != nil {
			m.logger.Warn("failed to publish offline status", "topic", active.StatusTopic, "error", err)
		}
	}

	m.transport.Disconnect(defaultDisconnectQuiesce)
	m.setDisconnected()
	return nil
}
