package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/mqtt"
)

// componentCheckTimeout bounds each optional component check.
const componentCheckTimeout = 2 * time.Second

const bytesPerMB = 1024 * 1024

// Health statuses.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	DeviceID      string            `json:"device_id"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runner        RunnerHealth      `json:"runner"`
	MQTT          MQTTHealth        `json:"mqtt"`
	Components    map[string]string `json:"components,omitempty"`
	Host          HostStats         `json:"host"`
}

// RunnerHealth summarises the Runner Loop.
type RunnerHealth struct {
	State     string `json:"state"`
	Cycles    uint64 `json:"cycles"`
	LastError string `json:"last_error,omitempty"`
}

// MQTTHealth summarises the broker session and publish counters.
type MQTTHealth struct {
	Connected bool       `json:"connected"`
	State     string     `json:"state"`
	Topic     string     `json:"topic"`
	Stats     mqtt.Stats `json:"stats"`
}

// HostStats is a best-effort snapshot of the device. Fields that cannot be
// read on this platform are left at zero.
type HostStats struct {
	Goroutines      int     `json:"goroutines"`
	ProcessRSSMB    float64 `json:"process_rss_mb"`
	MemoryPercent   float64 `json:"memory_percent"`
	MemoryAvailMB   float64 `json:"memory_available_mb"`
	Load1           float64 `json:"load1"`
	Load5           float64 `json:"load5"`
	HostUptimeHours float64 `json:"host_uptime_hours"`
}

// handleHealth reports runner, broker and component status. It always
// answers 200; Status is "degraded" while the broker is unreachable or the
// last cycle failed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connState := s.connection.State()
	resp := HealthResponse{
		Status:        statusOK,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		DeviceID:      s.deviceID,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runner: RunnerHealth{
			State:  string(s.runner.State()),
			Cycles: s.runner.Cycles(),
		},
		MQTT: MQTTHealth{
			Connected: connState == mqtt.StateConnected,
			State:     connState.String(),
			Topic:     s.gateway.Topic(),
			Stats:     s.gateway.Stats(),
		},
		Host: collectHostStats(r.Context()),
	}

	if err := s.runner.LastError(); err != nil {
		resp.Runner.LastError = err.Error()
		resp.Status = statusDegraded
	}
	if !resp.MQTT.Connected {
		resp.Status = statusDegraded
	}

	components := map[string]HealthChecker{
		"database": s.database,
		"influxdb": s.influx,
	}
	for name, checker := range components {
		if checker == nil {
			continue
		}
		if resp.Components == nil {
			resp.Components = make(map[string]string)
		}
		resp.Components[name] = checkHealth(r.Context(), checker)
	}

	writeJSON(w, http.StatusOK, resp)
}

func checkHealth(ctx context.Context, checker HealthChecker) string {
	ctx, cancel := context.WithTimeout(ctx, componentCheckTimeout)
	defer cancel()
	if err := checker.HealthCheck(ctx); err != nil {
		return "error: " + err.Error()
	}
	return statusOK
}

func collectHostStats(ctx context.Context) HostStats {
	stats := HostStats{Goroutines: runtime.NumGoroutine()}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil { // #nosec G115 -- pid fits in int32
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			stats.ProcessRSSMB = float64(info.RSS) / bytesPerMB
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryAvailMB = float64(vm.Available) / bytesPerMB
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1 = avg.Load1
		stats.Load5 = avg.Load5
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		stats.HostUptimeHours = float64(up) / 3600
	}

	return stats
}
