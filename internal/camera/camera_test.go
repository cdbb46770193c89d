package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
)

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// halves returns an image whose left half is gray a and right half gray b.
func halves(w, h int, a, b uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := a
			if x >= w/2 {
				v = b
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestComputeMetric(t *testing.T) {
	tests := []struct {
		name          string
		img           image.Image
		wantHex       string
		wantTurbidity float64
	}{
		{
			name:          "uniform colour is fully turbid",
			img:           uniform(64, 36, color.RGBA{0x12, 0x34, 0x56, 255}),
			wantHex:       "#123456",
			wantTurbidity: 1,
		},
		{
			name:          "half contrast",
			img:           halves(640, 360, 100, 164),
			wantHex:       "#848484",
			wantTurbidity: 0.5,
		},
		{
			name:          "high contrast saturates to clear",
			img:           halves(640, 360, 0, 255),
			wantHex:       "#808080",
			wantTurbidity: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ComputeMetric(tt.img, 64)
			if err != nil {
				t.Fatalf("ComputeMetric() error = %v", err)
			}
			if got := m.AvgColor.Hex(); got != tt.wantHex {
				t.Errorf("AvgColor = %s, want %s", got, tt.wantHex)
			}
			if math.Abs(m.TurbidityIndex-tt.wantTurbidity) > 1e-6 {
				t.Errorf("TurbidityIndex = %v, want %v", m.TurbidityIndex, tt.wantTurbidity)
			}
		})
	}
}

func TestComputeMetric_Empty(t *testing.T) {
	if _, err := ComputeMetric(image.NewRGBA(image.Rect(0, 0, 0, 0)), 64); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("ComputeMetric(empty) error = %v, want ErrEmptyFrame", err)
	}
}

func TestComputeMetric_DefaultScale(t *testing.T) {
	a, _ := ComputeMetric(halves(640, 360, 100, 164), 0)
	b, _ := ComputeMetric(halves(640, 360, 100, 164), 64)
	if a != b {
		t.Errorf("scale 0 = %+v, want default scale result %+v", a, b)
	}
}

// imageCapturer writes a fixed image as PNG.
type imageCapturer struct {
	img   image.Image
	err   error
	calls []string
	sizes [][2]int
}

func (f *imageCapturer) CaptureTo(_ context.Context, path string, width, height int) error {
	f.calls = append(f.calls, path)
	f.sizes = append(f.sizes, [2]int{width, height})
	if f.err != nil {
		return f.err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return png.Encode(out, f.img)
}

func testConfig(t *testing.T) config.CameraConfig {
	cfg := config.Default().Camera
	cfg.Enabled = true
	cfg.SnapshotDir = filepath.Join(t.TempDir(), "snapshots")
	return cfg
}

func TestCamera_Metric(t *testing.T) {
	capt := &imageCapturer{img: uniform(32, 18, color.RGBA{0x58, 0xa4, 0x5e, 255})}
	cam := New(testConfig(t), capt)

	m, err := cam.Metric(context.Background())
	if err != nil {
		t.Fatalf("Metric() error = %v", err)
	}
	if m.AvgColor.Hex() != "#58a45e" {
		t.Errorf("AvgColor = %s, want #58a45e", m.AvgColor.Hex())
	}
	if capt.sizes[0] != [2]int{1280, 720} {
		t.Errorf("capture size = %v, want 1280x720", capt.sizes[0])
	}
	if _, err := os.Stat(capt.calls[0]); !os.IsNotExist(err) {
		t.Errorf("temporary frame %s not removed", capt.calls[0])
	}
}

func TestCamera_MetricCaptureFailure(t *testing.T) {
	cam := New(testConfig(t), &imageCapturer{err: ErrCaptureFailed})
	if _, err := cam.Metric(context.Background()); !errors.Is(err, ErrCaptureFailed) {
		t.Errorf("Metric() error = %v, want ErrCaptureFailed", err)
	}
}

func TestCamera_Snapshot(t *testing.T) {
	cfg := testConfig(t)
	capt := &imageCapturer{img: uniform(8, 8, color.White)}
	cam := New(cfg, capt)
	cam.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC) }

	path, err := cam.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	want := filepath.Join(cfg.SnapshotDir, "snapshot_20260301_123045.png")
	if path != want {
		t.Errorf("Snapshot() = %s, want %s", path, want)
	}
	if capt.sizes[0] != [2]int{4608, 2592} {
		t.Errorf("capture size = %v, want 4608x2592", capt.sizes[0])
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

// overlapCapturer records the highest number of captures running at once.
type overlapCapturer struct {
	img image.Image

	mu      sync.Mutex
	running int
	peak    int
	sizes   [][2]int
}

func (f *overlapCapturer) CaptureTo(_ context.Context, path string, width, height int) error {
	f.mu.Lock()
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	f.sizes = append(f.sizes, [2]int{width, height})
	f.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	f.mu.Lock()
	f.running--
	f.mu.Unlock()

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return png.Encode(out, f.img)
}

func TestCamera_CapturesAreSerialised(t *testing.T) {
	capt := &overlapCapturer{img: uniform(8, 8, color.White)}
	cam := New(testConfig(t), capt)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := cam.Metric(context.Background())
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := cam.Snapshot(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("capture error = %v", err)
		}
	}
	if capt.peak != 1 {
		t.Errorf("peak concurrent captures = %d, want 1", capt.peak)
	}
}

func TestCamera_SetConfig(t *testing.T) {
	capt := &imageCapturer{img: uniform(8, 8, color.White)}
	cfg := testConfig(t)
	cam := New(cfg, capt)

	cfg.Width, cfg.Height = 640, 360
	cam.SetConfig(cfg)

	if _, err := cam.Metric(context.Background()); err != nil {
		t.Fatalf("Metric() error = %v", err)
	}
	if capt.sizes[0] != [2]int{640, 360} {
		t.Errorf("capture size after SetConfig = %v, want 640x360", capt.sizes[0])
	}

	own := New(cfg, nil)
	cfg.CaptureCommand = "libcamera-still"
	own.SetConfig(cfg)
	cc, ok := own.capturer.(*CommandCapturer)
	if !ok || cc.Command != "libcamera-still" {
		t.Errorf("command capturer = %+v, want rebuilt for libcamera-still", own.capturer)
	}
}

func TestCommandCapturer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "fixture.png")
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, uniform(4, 4, color.Black)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	t.Run("placeholders expanded", func(t *testing.T) {
		out := filepath.Join(dir, "out.png")
		c := &CommandCapturer{
			Command: "sh",
			Args:    []string{"-c", `test "$1" = 640 && test "$2" = 480 && cp "$3" "$0"`, "{output}", "{width}", "{height}", src},
			Timeout: 5 * time.Second,
		}
		if err := c.CaptureTo(context.Background(), out, 640, 480); err != nil {
			t.Fatalf("CaptureTo() error = %v", err)
		}
		if _, err := os.Stat(out); err != nil {
			t.Errorf("output missing: %v", err)
		}
	})

	t.Run("non-zero exit includes stderr", func(t *testing.T) {
		c := &CommandCapturer{Command: "sh", Args: []string{"-c", "echo no camera detected >&2; exit 1"}}
		err := c.CaptureTo(context.Background(), filepath.Join(dir, "x.png"), 1, 1)
		if !errors.Is(err, ErrCaptureFailed) {
			t.Fatalf("CaptureTo() error = %v, want ErrCaptureFailed", err)
		}
		if !strings.Contains(err.Error(), "no camera detected") {
			t.Errorf("error %q does not include stderr", err)
		}
	})

	t.Run("missing command", func(t *testing.T) {
		c := &CommandCapturer{Command: filepath.Join(dir, "no-such-tool")}
		if err := c.CaptureTo(context.Background(), filepath.Join(dir, "x.png"), 1, 1); !errors.Is(err, ErrCaptureFailed) {
			t.Errorf("CaptureTo() error = %v, want ErrCaptureFailed", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		c := &CommandCapturer{Command: "sh", Args: []string{"-c", "exec sleep 5"}, Timeout: 50 * time.Millisecond}
		err := c.CaptureTo(context.Background(), filepath.Join(dir, "x.png"), 1, 1)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("CaptureTo() error = %v, want deadline exceeded", err)
		}
	})
}
