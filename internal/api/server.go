package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/greenscale/greenscale-edge/internal/agent"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/logging"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/mqtt"
	"github.com/greenscale/greenscale-edge/internal/journal"
	"github.com/greenscale/greenscale-edge/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// secondsPerMinute converts the per-minute snapshot budget to a rate.
const secondsPerMinute = 60.0

// RunnerStatus is the read side of agent.Runner.
type RunnerStatus interface {
	State() agent.State
	Cycles() uint64
	LastError() error
	LatestPayload() *telemetry.Payload
}

// PublishStatus is the read side of mqtt.Gateway.
type PublishStatus interface {
	Topic() string
	Stats() mqtt.Stats
}

// ConnectionStatus is the read side of mqtt.Manager.
type ConnectionStatus interface {
	State() mqtt.State
}

// Snapshotter captures a full-resolution still. camera.Camera implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) (string, error)
}

// HealthChecker is implemented by the database and the InfluxDB mirror.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server. Journal, Camera,
// Database and InfluxDB are optional.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	DeviceID   string
	Version    string
	Runner     RunnerStatus
	Gateway    PublishStatus
	Connection ConnectionStatus
	Journal    journal.Repository
	Camera     Snapshotter
	Database   HealthChecker
	InfluxDB   HealthChecker
}

// Server is the diagnostics HTTP server.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	deviceID   string
	version    string
	runner     RunnerStatus
	gateway    PublishStatus
	connection ConnectionStatus
	journal    journal.Repository
	camera     Snapshotter
	database   HealthChecker
	influx     HealthChecker
	limiter    *rate.Limiter
	startTime  time.Time
	server     *http.Server
	listener   net.Listener
}

// New creates a new API server with the given dependencies. The server is
// not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Runner == nil || deps.Gateway == nil || deps.Connection == nil {
		return nil, fmt.Errorf("runner, gateway and connection are required")
	}

	limit := rate.Inf
	if deps.Config.SnapshotRatePerMinute > 0 {
		limit = rate.Limit(float64(deps.Config.SnapshotRatePerMinute) / secondsPerMinute)
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		deviceID:   deps.DeviceID,
		version:    deps.Version,
		runner:     deps.Runner,
		gateway:    deps.Gateway,
		connection: deps.Connection,
		journal:    deps.Journal,
		camera:     deps.Camera,
		database:   deps.Database,
		influx:     deps.InfluxDB,
		limiter:    rate.NewLimiter(limit, 1),
		startTime:  time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine. A bind
// failure (port in use) is returned directly.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits up to 10 seconds for in-flight requests, then closes
// remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
