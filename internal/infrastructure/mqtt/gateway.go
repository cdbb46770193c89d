package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/retry"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// publishAttempts is the original publish plus one retry after a forced reconnect.
const publishAttempts = 2

// Stats summarises gateway outcomes for diagnostics.
type Stats struct {
	Published   uint64    `json:"published"`
	Failed      uint64    `json:"failed"`
	Reconnects  uint64    `json:"reconnects"`
	LastSuccess time.Time `json:"last_success"`
	LastFailure time.Time `json:"last_failure"`
	LastError   string    `json:"last_error,omitempty"`
}

// Gateway is the Publish Gateway. It serialises payloads, makes sure the
// Manager has a live session and performs exactly one reconnect-and-retry
// when a publish fails at the transport.
//
// Every call returns a definite outcome and a payload is sent to the
// transport at most twice.
type Gateway struct {
	manager *Manager
	logger  Logger
	now     func() time.Time

	mu    sync.RWMutex
	topic string
	stats Stats
}

// NewGateway creates a gateway publishing to topic through manager.
func NewGateway(manager *Manager, topic string, logger Logger) *Gateway {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Gateway{
		manager: manager,
		logger:  logger,
		now:     time.Now,
		topic:   topic,
	}
}

// Topic returns the publish topic.
func (g *Gateway) Topic() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topic
}

// SetTopic changes the topic used by subsequent publishes.
func (g *Gateway) SetTopic(topic string) {
	g.mu.Lock()
	g.topic = topic
	g.mu.Unlock()
}

// Stats returns a snapshot of publish counters.
func (g *Gateway) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stats
}

// Publish serialises payload as JSON and delivers it with the given QoS.
//
// If the Manager is not connected, Connect is called first; a failed
// connect returns immediately without publishing. If the transport rejects
// the publish, the connection is marked lost, Connect is called exactly
// once more and, if it succeeds, the publish is retried exactly once.
//
// All delivery failures wrap ErrPublishFailed.
func (g *Gateway) Publish(ctx context.Context, payload any, qos byte) error {
	topic := g.Topic()
	if topic == "" {
		return g.fail(topic, ErrInvalidTopic)
	}
	if qos > maxQoS {
		return g.fail(topic, fmt.Errorf("%w: %d", ErrInvalidQoS, qos))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return g.fail(topic, fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err))
	}
	if len(data) > maxPayloadSize {
		return g.fail(topic, fmt.Errorf("%w: %w: %d bytes exceeds maximum %d", ErrPublishFailed, ErrPayloadTooLarge, len(data), maxPayloadSize))
	}

	if !g.manager.IsConnected() {
		if err := g.manager.Connect(ctx); err != nil {
			return g.fail(topic, fmt.Errorf("%w: %w", ErrPublishFailed, err))
		}
	}

	policy := retry.Policy{MaxAttempts: publishAttempts}
	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			g.countReconnect()
			if err := g.manager.Connect(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		if err := g.manager.Publish(topic, data, qos, false); err != nil {
			g.manager.MarkDisconnected(err)
			return err
		}
		return nil
	})
	if err != nil {
		return g.fail(topic, fmt.Errorf("%w: %w", ErrPublishFailed, err))
	}

	g.mu.Lock()
	g.stats.Published++
	g.stats.LastSuccess = g.now()
	g.mu.Unlock()

	g.logger.Info("telemetry published", "topic", topic, "bytes", len(data), "qos", qos)
	return nil
}

func (g *Gateway) countReconnect() {
	g.mu.Lock()
	g.stats.Reconnects++
	g.mu.Unlock()
}

// fail records and logs a failed publish and returns err unchanged.
func (g *Gateway) fail(topic string, err error) error {
	g.mu.Lock()
	g.stats.Failed++
	g.stats.LastFailure = g.now()
	g.stats.LastError = err.Error()
	g.mu.Unlock()

	g.logger.Error("telemetry publish failed", "topic", topic, "error", err)
	return err
}
