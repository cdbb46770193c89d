package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/greenscale/greenscale-edge/internal/camera"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/database"
	"github.com/greenscale/greenscale-edge/internal/telemetry"
	"github.com/greenscale/greenscale-edge/migrations"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-version"}, &out); err != nil {
		t.Fatalf("run(-version) error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "greenscale-edge "+version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	if err := run(context.Background(), []string{"-bogus"}, &bytes.Buffer{}); err == nil {
		t.Fatal("run() should fail with an unknown flag")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "broker_port: 70000\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, []string{"-config", path}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("run() should fail with an invalid broker port")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config", err)
	}
}

func TestRun_Snapshot(t *testing.T) {
	snapDir := filepath.Join(t.TempDir(), "snaps")
	path := writeConfig(t, `
logging:
  level: error
camera:
  enabled: true
  capture_command: sh
  capture_args: ["-c", "printf frame > \"$0\"", "{output}"]
  snapshot_dir: "`+snapDir+`"
  timeout: 5
`)

	var out bytes.Buffer
	if err := run(context.Background(), []string{"-config", path, "-snapshot"}, &out); err != nil {
		t.Fatalf("run(-snapshot) error = %v", err)
	}

	got := strings.TrimSpace(out.String())
	if filepath.Dir(got) != snapDir {
		t.Errorf("snapshot path = %q, want inside %q", got, snapDir)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if string(data) != "frame" {
		t.Errorf("snapshot content = %q", data)
	}
}

func TestRun_SnapshotCaptureFails(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: error
camera:
  capture_command: "false"
  capture_args: ["{output}"]
  snapshot_dir: "`+t.TempDir()+`"
`)
	if err := run(context.Background(), []string{"-config", path, "-snapshot"}, &bytes.Buffer{}); err == nil {
		t.Fatal("run(-snapshot) should fail when the capture command fails")
	}
}

func TestRun_Migrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	path := writeConfig(t, `
logging:
  level: error
database:
  enabled: true
  path: "`+dbPath+`"
`)
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{Enabled: true, Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	db.Close() //nolint:errcheck // reopened by run

	var out bytes.Buffer
	if err := run(ctx, []string{"-config", path, "-migrate", "status"}, &out); err != nil {
		t.Fatalf("run(-migrate status) error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "applied  ") || strings.Contains(out.String(), "pending") {
		t.Errorf("status output = %q, want only applied migrations", out.String())
	}

	out.Reset()
	if err := run(ctx, []string{"-config", path, "-migrate", "down"}, &out); err != nil {
		t.Fatalf("run(-migrate down) error = %v", err)
	}
	if !strings.Contains(out.String(), "pending  ") || strings.Contains(out.String(), "applied") {
		t.Errorf("output after down = %q, want the rolled back migration pending", out.String())
	}

	if err := run(ctx, []string{"-config", path, "-migrate", "redo"}, &bytes.Buffer{}); err == nil {
		t.Error("run(-migrate redo) should fail")
	}
}

func TestRun_MigrateJournalDisabled(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: error\n")
	if err := run(context.Background(), []string{"-config", path, "-migrate", "status"}, &bytes.Buffer{}); err == nil {
		t.Fatal("run(-migrate) should fail with the journal disabled")
	}
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"default", "", "", defaultConfigPath},
		{"env", "", "/etc/greenscale/config.yaml", "/etc/greenscale/config.yaml"},
		{"flag wins", "/tmp/override.yaml", "/etc/greenscale/config.yaml", "/tmp/override.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", tt.env)
			if got := getConfigPath(tt.flag); got != tt.want {
				t.Errorf("getConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestGetDeviceID(t *testing.T) {
	t.Setenv("DEVICE_ID", "pond-7")
	id, err := getDeviceID()
	if err != nil {
		t.Fatalf("getDeviceID() error = %v", err)
	}
	if id != "pond-7" {
		t.Errorf("getDeviceID() = %q, want pond-7", id)
	}

	t.Setenv("DEVICE_ID", "")
	host, hostErr := os.Hostname()
	id, err = getDeviceID()
	if hostErr != nil || host == "" {
		if err == nil {
			t.Error("getDeviceID() should fail without a hostname")
		}
		return
	}
	if err != nil || id != host {
		t.Errorf("getDeviceID() = %q, %v; want %q", id, err, host)
	}
}

func TestCameraFactory(t *testing.T) {
	cfg := config.CameraConfig{Enabled: true, CaptureCommand: "rpicam-still", Width: 1280, Height: 720}
	cam := camera.New(cfg, nil)
	factory := cameraFactory(cam)

	if src := factory(config.CameraConfig{Enabled: false}); src != nil {
		t.Errorf("disabled camera source = %v, want nil", src)
	}

	first := factory(cfg)
	cfg.Width, cfg.Height = 640, 360
	second := factory(cfg)
	if first != telemetry.CameraSource(cam) || second != telemetry.CameraSource(cam) {
		t.Error("factory should hand out the shared camera on every reload")
	}
}
