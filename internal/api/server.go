package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/audit"
	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StatusReporter reports the advertising machine status.
type StatusReporter interface {
	Status() beacon.Status
}

// AuditLister lists recorded configuration writes.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// BridgeStats reports the MQTT/InfluxDB publisher counters.
type BridgeStats interface {
	Published() uint64
	Dropped() uint64
}

// DBStatser exposes connection pool statistics.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Security     config.SecurityConfig
	BeaconID     string // tokens scoped to other beacons are refused
	Logger       *logging.Logger
	Machine      StatusReporter
	State        *beacon.State
	Configurator *beacon.Configurator
	Events       *beacon.Events
	Audit        AuditLister // optional: GET /audit answers 503 without it
	Bridge       BridgeStats // optional
	DB           DBStatser   // optional
	MQTTStatus   func() bool // optional: reports broker connectivity
	Version      string
}

// Server is the HTTP API server for the beacon.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	secCfg       config.SecurityConfig
	beaconID     string
	logger       *logging.Logger
	machine      StatusReporter
	state        *beacon.State
	configurator *beacon.Configurator
	auditRepo    AuditLister
	bridge       BridgeStats
	db           DBStatser
	mqttStatus   func() bool
	version      string
	startTime    time.Time
	server       *http.Server
	hub          *Hub
	cancel       context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub is created here and subscribed to deps.Events so no
// beacon event is missed between New and Start. The listener is not
// started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Machine == nil {
		return nil, fmt.Errorf("advertising machine is required")
	}
	if deps.State == nil || deps.Configurator == nil {
		return nil, fmt.Errorf("beacon state and configurator are required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		secCfg:       deps.Security,
		beaconID:     deps.BeaconID,
		logger:       deps.Logger,
		machine:      deps.Machine,
		state:        deps.State,
		configurator: deps.Configurator,
		auditRepo:    deps.Audit,
		bridge:       deps.Bridge,
		db:           deps.DB,
		mqttStatus:   deps.MQTTStatus,
		version:      deps.Version,
		startTime:    time.Now(),
	}

	s.hub = NewHub(s.wsCfg, s.logger)
	if deps.Events != nil {
		deps.Events.Subscribe(s.hub.Observe)
	}

	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
