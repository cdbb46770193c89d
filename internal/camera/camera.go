// Package camera computes the water-colour and turbidity metric from a
// camera frame and captures full-resolution diagnostic snapshots.
//
// Frames come from an external still-capture tool (rpicam-still on the
// Raspberry Pi camera module) through the Capturer interface, so the metric
// code runs against any image.Image in tests.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
	"github.com/greenscale/greenscale-edge/internal/telemetry"
)

// Domain errors for the camera package.
var (
	// ErrCaptureFailed is returned when the capture tool fails.
	ErrCaptureFailed = errors.New("camera: capture failed")

	// ErrDecodeFailed is returned when a captured frame cannot be decoded.
	ErrDecodeFailed = errors.New("camera: decode failed")
)

// snapshotLayout names snapshot files, e.g. snapshot_20260301_120000.png.
const snapshotLayout = "snapshot_20060102_150405.png"

// Camera produces the per-cycle CameraMetric and on-demand snapshots.
//
// Thread Safety: captures are serialised; the sensor is single-user, so
// one Camera must be shared by every caller that captures.
type Camera struct {
	now func() time.Time

	mu          sync.Mutex
	cfg         config.CameraConfig
	capturer    Capturer
	ownCapturer bool
}

// New creates a Camera. A nil capturer runs cfg.CaptureCommand.
func New(cfg config.CameraConfig, capturer Capturer) *Camera {
	c := &Camera{cfg: cfg, capturer: capturer, now: time.Now}
	if capturer == nil {
		c.capturer = commandCapturer(cfg)
		c.ownCapturer = true
	}
	return c
}

// SetConfig applies a reloaded camera configuration. It waits for any
// capture in progress; the next capture uses cfg.
func (c *Camera) SetConfig(cfg config.CameraConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	if c.ownCapturer {
		c.capturer = commandCapturer(cfg)
	}
}

func commandCapturer(cfg config.CameraConfig) *CommandCapturer {
	return &CommandCapturer{
		Command: cfg.CaptureCommand,
		Args:    cfg.CaptureArgs,
		Timeout: time.Duration(cfg.Timeout) * time.Second,
	}
}

// Metric implements telemetry.CameraSource. It captures a frame at the
// configured metric resolution into a temporary file and analyses it.
func (c *Camera) Metric(ctx context.Context) (telemetry.CameraMetric, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.CreateTemp("", "greenscale-frame-*.png")
	if err != nil {
		return telemetry.CameraMetric{}, fmt.Errorf("creating frame file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := c.capturer.CaptureTo(ctx, path, c.cfg.Width, c.cfg.Height); err != nil {
		return telemetry.CameraMetric{}, err
	}

	img, err := decodeFile(path)
	if err != nil {
		return telemetry.CameraMetric{}, err
	}
	return ComputeMetric(img, c.cfg.ContrastScale)
}

// Snapshot captures a full-resolution PNG into the snapshot directory and
// returns its path.
func (c *Camera) Snapshot(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.cfg.SnapshotDir, 0750); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	path := filepath.Join(c.cfg.SnapshotDir, c.now().Format(snapshotLayout))

	if err := c.capturer.CaptureTo(ctx, path, c.cfg.SnapshotWidth, c.cfg.SnapshotHeight); err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: no output at %s: %w", ErrCaptureFailed, path, err)
	}
	if info.Size() == 0 {
		os.Remove(path)
		return "", fmt.Errorf("%w: empty output at %s", ErrCaptureFailed, path)
	}
	return path, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec // path is our own temp file
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	return img, nil
}
