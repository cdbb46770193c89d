package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/mqtt"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/retry"
	"github.com/greenscale/greenscale-edge/internal/journal"
	"github.com/greenscale/greenscale-edge/internal/telemetry"
)

// State is the Runner Loop state.
type State string

// Runner states.
const (
	StateIdle       State = "idle"
	StateSampling   State = "sampling"
	StatePublishing State = "publishing"
	StateSleeping   State = "sleeping"
	StateStopped    State = "stopped"
)

// pruneEvery is how often the journal retention sweep runs.
const pruneEvery = time.Hour

// Logger is the logging interface used by the runner.
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

// ConfigSource reports configuration changes. config.Watcher implements it.
type ConfigSource interface {
	Poll() (*config.Config, bool, error)
}

// Mirror receives a copy of every assembled payload and publish outcome.
// influxdb.Client implements it.
type Mirror interface {
	WriteTelemetry(p *telemetry.Payload)
	WritePublishOutcome(deviceID string, published bool, bytes int, duration time.Duration, at time.Time)
}

// ProducerFactory builds the producer set for a sensors configuration.
type ProducerFactory func(cfg config.SensorsConfig) []telemetry.Producer

// CameraFactory returns the camera source for cfg, or nil when disabled.
type CameraFactory func(cfg config.CameraConfig) telemetry.CameraSource

// Deps wires the Runner to the rest of the agent. Journal, Mirror, Watcher
// and Camera are optional.
type Deps struct {
	Config    *config.Config
	DeviceID  string
	Watcher   ConfigSource
	Manager   *mqtt.Manager
	Gateway   *mqtt.Gateway
	Assembler *telemetry.Assembler
	Producers ProducerFactory
	Camera    CameraFactory
	Journal   journal.Repository
	Mirror    Mirror
	Logger    Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithSleep replaces the wait between cycles. Tests use it to observe the
// chosen delay without waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		r.sleep = fn
	}
}

// WithClock replaces the runner's clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// Runner is the Runner Loop: it samples, publishes and sleeps until its
// context is cancelled, applying configuration changes between cycles.
//
// Thread Safety: Run and Cycle must not be called concurrently with each
// other. The accessors are safe to call from any goroutine.
type Runner struct {
	deps   Deps
	logger Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu        sync.RWMutex
	state     State
	cfg       *config.Config
	latest    *telemetry.Payload
	cycles    uint64
	lastErr   error
	lastPrune time.Time
}

// New creates an idle Runner and applies deps.Config to the manager,
// gateway and assembler.
func New(deps Deps, opts ...Option) (*Runner, error) {
	if deps.Config == nil || deps.Manager == nil || deps.Gateway == nil || deps.Assembler == nil {
		return nil, errors.New("agent: config, manager, gateway and assembler are required")
	}
	if deps.DeviceID == "" {
		return nil, errors.New("agent: device id is required")
	}

	r := &Runner{
		deps:   deps,
		logger: deps.Logger,
		sleep:  retry.Sleep,
		now:    time.Now,
		state:  StateIdle,
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	for _, opt := range opts {
		opt(r)
	}

	r.apply(deps.Config)
	return r, nil
}

// Run executes cycles until ctx is cancelled and then returns nil.
//
// A cycle that panics is logged and followed by the fixed error backoff
// instead of the publish interval.
func (r *Runner) Run(ctx context.Context) error {
	defer r.setState(StateStopped)

	r.logger.Info("runner started", "device_id", r.deps.DeviceID, "interval", r.config().GetPublishInterval())
	for {
		if ctx.Err() != nil {
			break
		}

		wait := r.runCycle(ctx)

		r.setState(StateSleeping)
		if err := r.sleep(ctx, wait); err != nil {
			break
		}
	}

	r.logger.Info("runner stopped", "cycles", r.Cycles())
	return nil
}

// runCycle runs one cycle and returns how long to sleep afterwards.
func (r *Runner) runCycle(ctx context.Context) (wait time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			wait = r.config().GetErrorBackoff()
			err := fmt.Errorf("cycle panicked: %v", rec)
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()
			r.logger.Error("cycle failed", "error", err, "backoff", wait)
		}
	}()

	_ = r.Cycle(ctx) //nolint:errcheck // publish failures are logged by the gateway and journaled
	return r.config().GetPublishInterval()
}

// Cycle runs one iteration without sleeping: apply any configuration
// change, sample, publish and record the outcome. It returns the publish
// error, if any.
func (r *Runner) Cycle(ctx context.Context) error {
	r.reload()

	r.setState(StateSampling)
	payload := r.deps.Assembler.Assemble(ctx)

	r.mu.Lock()
	r.cycles++
	r.latest = payload
	r.mu.Unlock()

	if r.deps.Mirror != nil {
		r.deps.Mirror.WriteTelemetry(payload)
	}

	r.setState(StatePublishing)

	// The publish outlives cancellation so a shutdown never cuts a
	// message in half; its own retry budget bounds it.
	pubCtx := context.WithoutCancel(ctx)
	cfg := r.config()
	start := r.now()

	data, err := json.Marshal(payload)
	if err != nil {
		err = fmt.Errorf("encoding payload: %w", err)
		r.logger.Error("telemetry publish failed", "error", err)
	} else {
		err = r.deps.Gateway.Publish(pubCtx, json.RawMessage(data), byte(cfg.PublishQoS)) // #nosec G115 -- qos validated 0-2
	}

	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	r.record(pubCtx, payload, len(data), r.now().Sub(start), err)
	r.prune(pubCtx)
	return err
}

// reload polls the config source and applies a new configuration.
func (r *Runner) reload() {
	if r.deps.Watcher == nil {
		return
	}
	cfg, changed, err := r.deps.Watcher.Poll()
	if err != nil {
		r.logger.Error("config reload failed, keeping previous configuration", "error", err)
		return
	}
	if !changed {
		return
	}
	r.apply(cfg)
	r.logger.Info("configuration reloaded",
		"broker", fmt.Sprintf("%s:%d", cfg.BrokerHost, cfg.BrokerPort),
		"interval", cfg.GetPublishInterval(),
		"tls", cfg.TLSEnable,
	)
}

// apply pushes cfg into every component. The broker target only takes
// effect at the next connect.
func (r *Runner) apply(cfg *config.Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	r.deps.Manager.SetTarget(mqtt.NewTarget(cfg, r.deps.DeviceID))
	r.deps.Gateway.SetTopic(mqtt.Topics{Prefix: cfg.TopicPrefix}.Telemetry(r.deps.DeviceID))

	if r.deps.Producers != nil {
		r.deps.Assembler.SetProducers(r.deps.Producers(cfg.Sensors))
	}
	if r.deps.Camera != nil {
		r.deps.Assembler.SetCamera(r.deps.Camera(cfg.Camera))
	}
}

// record writes the journal entry and the mirror point. Failures are logged
// only.
func (r *Runner) record(ctx context.Context, p *telemetry.Payload, size int, took time.Duration, pubErr error) {
	published := pubErr == nil

	if r.deps.Mirror != nil {
		r.deps.Mirror.WritePublishOutcome(r.deps.DeviceID, published, size, took, p.Timestamp)
	}
	if r.deps.Journal == nil {
		return
	}

	entry := &journal.Entry{
		DeviceID:  r.deps.DeviceID,
		Topic:     r.deps.Gateway.Topic(),
		Outcome:   journal.OutcomePublished,
		QoS:       r.config().PublishQoS,
		Bytes:     size,
		CameraOK:  p.Camera != nil,
		Duration:  took,
		CreatedAt: p.Timestamp,
	}
	for _, rd := range p.Readings {
		if rd.OK() {
			entry.SensorsOK++
		} else {
			entry.SensorsError++
		}
	}
	if !published {
		entry.Outcome = journal.OutcomeFailed
		entry.Error = pubErr.Error()
	}

	if err := r.deps.Journal.Create(ctx, entry); err != nil {
		r.logger.Warn("failed to record journal entry", "error", err)
	}
}

// prune removes journal entries older than the retention window, at most
// once per pruneEvery.
func (r *Runner) prune(ctx context.Context) {
	days := r.config().Database.RetentionDays
	if r.deps.Journal == nil || days <= 0 {
		return
	}
	now := r.now()
	r.mu.Lock()
	due := now.Sub(r.lastPrune) >= pruneEvery
	if due {
		r.lastPrune = now
	}
	r.mu.Unlock()
	if !due {
		return
	}

	n, err := r.deps.Journal.Prune(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		r.logger.Warn("journal retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Debug("journal entries pruned", "count", n)
	}
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runner) config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// State returns the current loop state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Config returns the active configuration.
func (r *Runner) Config() *config.Config {
	return r.config()
}

// LatestPayload returns the most recently assembled payload, or nil before
// the first cycle.
func (r *Runner) LatestPayload() *telemetry.Payload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Cycles returns the number of completed sampling passes.
func (r *Runner) Cycles() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cycles
}

// LastError returns the error of the most recent cycle, or nil.
func (r *Runner) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}
