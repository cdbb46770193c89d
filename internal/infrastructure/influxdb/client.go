package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	// retryBatches caps how many failed batches are held for retry. The
	// controller has little RAM and MQTT is the delivery path anyway.
	retryBatches = 20

	applicationName = "greenscale-edge"
)

var errUnhealthy = errors.New("server not healthy")

// Client mirrors each cycle's readings into InfluxDB.
//
// Points go through the library's batching write API, so a slow or
// unreachable server never holds up a publish. Safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed      atomic.Bool
	writeErrors atomic.Uint64
	onError     atomic.Pointer[func(error)]
}

// Connect pings the server and starts the batched write API for
// cfg.Org/cfg.Bucket. It returns ErrDisabled when the mirror is off.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, mirrorOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.collectErrors(c.writeAPI.Errors())
	return c, nil
}

// mirrorOptions sizes batching from config and bounds the retry buffer.
func mirrorOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) // #nosec G115 -- checked positive
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetApplicationName(applicationName).
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())). // #nosec G115 -- positive duration
		SetRetryBufferLimit(batch * retryBatches).
		SetHTTPRequestTimeout(uint(pingTimeout.Seconds()))
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return errUnhealthy
	}
	return nil
}

// collectErrors counts async write failures and hands them to the
// callback. It returns when the write API closes the channel.
func (c *Client) collectErrors(errs <-chan error) {
	for err := range errs {
		c.writeErrors.Add(1)
		if fn := c.onError.Load(); fn != nil {
			(*fn)(err)
		}
	}
}

// SetOnError sets the callback for async write failures. nil clears it.
func (c *Client) SetOnError(callback func(err error)) {
	if callback == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&callback)
}

// WriteErrors returns the number of batches the server rejected or that
// could not be delivered.
func (c *Client) WriteErrors() uint64 {
	if c == nil {
		return 0
	}
	return c.writeErrors.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the mirror is still accepting points.
func (c *Client) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close flushes pending points and releases the client. Calling it more
// than once is safe.
func (c *Client) Close() error {
	if c == nil || c.closed.Swap(true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
