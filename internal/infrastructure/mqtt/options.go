package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for one connect attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive applies when a target carries no keepalive.
	defaultKeepAlive = 30 * time.Second

	// statusQoS is used for online/offline status and the LWT.
	statusQoS = 1

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// instanceSuffix distinguishes this process from a previous run of the
// same device so a stale session on the broker is not taken over.
var instanceSuffix = uuid.NewString()[:8]

// TLSSettings describes the optional transport security material.
type TLSSettings struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
	Insecure   bool
}

// Target is the Broker Target Configuration: everything the Manager needs
// for one connect() call. Targets are plain values; the Manager copies the
// pending target at the start of each connect.
type Target struct {
	Host      string
	Port      int
	Keepalive time.Duration
	ClientID  string

	Username string
	Password string

	TLS TLSSettings

	// Retries is the number of connect attempts (N >= 1).
	Retries int
	// RetryDelay is the pause between failed attempts (D >= 0).
	RetryDelay time.Duration
	// RetryJitter adds up to this much random delay between attempts.
	RetryJitter time.Duration

	// StatusTopic, when set, receives a retained online status on connect,
	// a graceful offline status on Close, and is registered as the LWT.
	StatusTopic string
}

// Address returns host:port for logging.
func (t Target) Address() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// NewTarget derives the broker target for deviceID from a loaded configuration.
func NewTarget(cfg *config.Config, deviceID string) Target {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("greenscale-%s-%s", deviceID, instanceSuffix)
	}

	return Target{
		Host:      cfg.BrokerHost,
		Port:      cfg.BrokerPort,
		Keepalive: cfg.GetKeepalive(),
		ClientID:  clientID,
		Username:  cfg.BrokerUsername,
		Password:  cfg.BrokerPassword,
		TLS: TLSSettings{
			Enabled:    cfg.TLSEnable,
			CACert:     cfg.TLSCACert,
			ClientCert: cfg.TLSClientCert,
			ClientKey:  cfg.TLSClientKey,
			Insecure:   cfg.TLSInsecure,
		},
		Retries:     cfg.BrokerRetries,
		RetryDelay:  cfg.GetRetryDelay(),
		RetryJitter: cfg.GetRetryJitter(),
		StatusTopic: Topics{Prefix: cfg.TopicPrefix}.Status(deviceID),
	}
}

// statusMessage is the body published to the device status topic.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildStatusPayload(status, clientID, reason string) []byte {
	data, _ := json.Marshal(statusMessage{ //nolint:errcheck // plain string fields always encode
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}

// buildOnlinePayload creates the retained status published after connect.
func buildOnlinePayload(clientID string) []byte {
	return buildStatusPayload("online", clientID, "")
}

// buildOfflinePayload creates the graceful offline status published on Close.
func buildOfflinePayload(clientID string) []byte {
	return buildStatusPayload("offline", clientID, "graceful_shutdown")
}

// buildWillPayload creates the LWT body the broker publishes if the
// session drops without a clean disconnect.
func buildWillPayload(clientID string) []byte {
	return buildStatusPayload("offline", clientID, "unexpected_disconnect")
}
