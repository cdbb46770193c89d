package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Producer produces one Reading per call.
//
// Read may block on hardware I/O and should honour ctx. A returned error is
// converted into an error reading by the Assembler; the reading returned
// alongside an error is used only for its Unit.
type Producer interface {
	Name() string
	Read(ctx context.Context) (Reading, error)
}

// CameraSource produces the camera metric for a cycle.
type CameraSource interface {
	Metric(ctx context.Context) (CameraMetric, error)
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type cycleKey struct{}

// WithCycle attaches a cycle number to ctx. Producers that share work within
// one cycle (the temperature cache) key on it.
func WithCycle(ctx context.Context, cycle uint64) context.Context {
	return context.WithValue(ctx, cycleKey{}, cycle)
}

// CycleFromContext returns the cycle number set by WithCycle.
func CycleFromContext(ctx context.Context) (uint64, bool) {
	c, ok := ctx.Value(cycleKey{}).(uint64)
	return c, ok
}

// Assembler is the Payload Assembler. It reads every producer in order and
// the optional camera, and returns one Payload per call.
//
// Thread Safety: Assemble and the setters may be called concurrently; a
// cycle uses the producer set current when it started.
type Assembler struct {
	deviceID string
	started  time.Time
	now      func() time.Time
	logger   Logger
	cycles   atomic.Uint64

	mu        sync.RWMutex
	producers []Producer
	camera    CameraSource
}

// AssemblerOption customises an Assembler.
type AssemblerOption func(*Assembler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithStartTime sets the process start used for uptime.
func WithStartTime(t time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.started = t
	}
}

// WithAssemblerLogger sets the logger for producer failures.
func WithAssemblerLogger(l Logger) AssemblerOption {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAssembler creates an assembler for deviceID. camera may be nil.
func NewAssembler(deviceID string, producers []Producer, camera CameraSource, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		deviceID:  deviceID,
		now:       time.Now,
		logger:    noopLogger{},
		producers: producers,
		camera:    camera,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.started.IsZero() {
		a.started = a.now()
	}
	return a
}

// DeviceID returns the device identity stamped on every payload.
func (a *Assembler) DeviceID() string {
	return a.deviceID
}

// SetProducers replaces the producer set for subsequent cycles.
func (a *Assembler) SetProducers(producers []Producer) {
	a.mu.Lock()
	a.producers = producers
	a.mu.Unlock()
}

// SetCamera replaces the camera source. Nil disables the camera field.
func (a *Assembler) SetCamera(camera CameraSource) {
	a.mu.Lock()
	a.camera = camera
	a.mu.Unlock()
}

// Producers returns the current producer names in order.
func (a *Assembler) Producers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.producers))
	for i, p := range a.producers {
		names[i] = p.Name()
	}
	return names
}

// Assemble samples every producer and the camera once.
func (a *Assembler) Assemble(ctx context.Context) *Payload {
	a.mu.RLock()
	producers := a.producers
	camera := a.camera
	a.mu.RUnlock()

	ctx = WithCycle(ctx, a.cycles.Add(1))
	now := a.now()

	p := &Payload{
		Version:   SchemaVersion,
		DeviceID:  a.deviceID,
		Timestamp: stamp(now),
		Online:    true,
		Uptime:    now.Sub(a.started),
		Readings:  make(map[string]Reading, len(producers)),
	}

	for _, producer := range producers {
		p.Readings[producer.Name()] = a.read(ctx, producer)
	}

	if camera != nil {
		if m, err := a.metric(ctx, camera); err != nil {
			a.logger.Warn("camera metric failed", "error", err)
		} else {
			p.Camera = &m
		}
	}

	return p
}

// read isolates one producer: errors and panics become an error reading.
func (a *Assembler) read(ctx context.Context, producer Producer) (r Reading) {
	name := producer.Name()
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Warn("sensor read panicked", "sensor", name,
				"error", fmt.Errorf("%w: %s: panic: %v", ErrProducer, name, rec))
			r = ErrorReading(name, "", a.now())
		}
	}()

	r, err := producer.Read(ctx)
	if err != nil {
		a.logger.Warn("sensor read failed", "sensor", name, "error", fmt.Errorf("%w: %s: %w", ErrProducer, name, err))
		return ErrorReading(name, r.Unit, a.now())
	}
	r.Sensor = name
	if r.Timestamp.IsZero() {
		r.Timestamp = stamp(a.now())
	}
	a.logger.Debug("sensor read", "sensor", name, "value", r.Value, "unit", r.Unit)
	return r
}

func (a *Assembler) metric(ctx context.Context, camera CameraSource) (m CameraMetric, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("camera panicked: %v", rec)
		}
	}()
	m, err = camera.Metric(ctx)
	if err != nil {
		return CameraMetric{}, err
	}
	m.TurbidityIndex = clampUnit(m.TurbidityIndex)
	return m, nil
}
