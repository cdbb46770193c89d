package sensors

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/retry"
	"github.com/greenscale/greenscale-edge/internal/telemetry"
)

const (
	// crcAttempts is the first read plus five re-reads while the CRC line lacks YES.
	crcAttempts = 6
	crcDelay    = 200 * time.Millisecond

	unitCelsius = "degC"
)

// TemperatureSource reports water temperature in °C.
type TemperatureSource interface {
	Celsius(ctx context.Context) (float64, error)
}

// Temperature reads a DS18B20 sensor through the w1-therm sysfs interface.
//
// The device directory is resolved from the glob on first use and cached;
// a failed read clears the cache so a replugged sensor is found again.
type Temperature struct {
	glob     string
	readFile func(string) ([]byte, error)
	sleep    func(context.Context, time.Duration) error

	mu     sync.Mutex
	device string
}

// NewTemperature creates a reader for the first device matching glob,
// e.g. /sys/bus/w1/devices/28*.
func NewTemperature(glob string) *Temperature {
	return &Temperature{
		glob:     glob,
		readFile: os.ReadFile,
		sleep:    retry.Sleep,
	}
}

// Celsius returns the sensor temperature.
func (t *Temperature) Celsius(ctx context.Context) (float64, error) {
	path, err := t.devicePath()
	if err != nil {
		return 0, err
	}

	var data []byte
	policy := retry.Policy{MaxAttempts: crcAttempts, Delay: crcDelay, Sleep: t.sleep}
	err = policy.Do(ctx, func(_ context.Context, _ int) error {
		b, err := t.readFile(path)
		if err != nil {
			return retry.Permanent(err)
		}
		data = b
		if !crcOK(b) {
			return ErrCRC
		}
		return nil
	})
	if err != nil {
		t.forget()
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	return parseMilliCelsius(data)
}

func (t *Temperature) devicePath() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.device != "" {
		return t.device, nil
	}
	matches, err := filepath.Glob(t.glob)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoDevice, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: nothing matches %s", ErrNoDevice, t.glob)
	}
	sort.Strings(matches)
	t.device = filepath.Join(matches[0], "w1_slave")
	return t.device, nil
}

func (t *Temperature) forget() {
	t.mu.Lock()
	t.device = ""
	t.mu.Unlock()
}

// crcOK reports whether the first line ends in YES.
func crcOK(data []byte) bool {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	return bytes.HasSuffix(bytes.TrimSpace(line), []byte("YES"))
}

// parseMilliCelsius extracts the "t=" value from the second line.
func parseMilliCelsius(data []byte) (float64, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		_, v, ok := strings.Cut(sc.Text(), "t=")
		if !ok {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadFormat, v)
		}
		return milli / 1000, nil
	}
	return 0, fmt.Errorf("%w: no t= field", ErrBadFormat)
}

// CycleTemperature shares one temperature reading across all consumers in
// a cycle. It is also the temperature producer.
type CycleTemperature struct {
	source TemperatureSource
	now    func() time.Time

	mu    sync.Mutex
	cycle uint64
	value float64
	err   error
	valid bool
}

// NewCycleTemperature wraps source with a per-cycle cache.
func NewCycleTemperature(source TemperatureSource) *CycleTemperature {
	return &CycleTemperature{source: source, now: time.Now}
}

// Celsius returns the cached reading for the cycle in ctx, reading the
// source on first use. Without a cycle number it always reads.
func (c *CycleTemperature) Celsius(ctx context.Context) (float64, error) {
	cycle, ok := telemetry.CycleFromContext(ctx)
	if !ok {
		return c.source.Celsius(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.cycle == cycle {
		return c.value, c.err
	}
	c.value, c.err = c.source.Celsius(ctx)
	c.cycle = cycle
	c.valid = true
	return c.value, c.err
}

// Name implements telemetry.Producer.
func (c *CycleTemperature) Name() string { return telemetry.SensorTemperature }

// Read implements telemetry.Producer.
func (c *CycleTemperature) Read(ctx context.Context) (telemetry.Reading, error) {
	v, err := c.Celsius(ctx)
	if err != nil {
		return telemetry.Reading{Unit: unitCelsius}, err
	}
	return telemetry.NewReading(telemetry.SensorTemperature, round2(v), unitCelsius, c.now()), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
