package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/hydro-core/internal/audit"
	"github.com/nerrad567/hydro-core/internal/floor"
	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
	"github.com/nerrad567/hydro-core/internal/infrastructure/logging"
	"github.com/nerrad567/hydro-core/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionStatus reports transport health. *mqtt.Client implements it.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Floors   *floor.Supervisor

	// Optional.
	CommandLog  audit.Repository
	DB          *sql.DB
	MQTT        ConnectionStatus
	Metrics     http.Handler
	MetricsPath string

	Version string
}

// Server is the HTTP API server for Hydro Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	floors      *floor.Supervisor
	commandLog  audit.Repository
	db          *sql.DB
	mqtt        ConnectionStatus
	metrics     http.Handler
	metricsPath string
	version     string
	startTime   time.Time
	tickets     *ticketStore
	hub         *Hub
	server      *http.Server
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub is created and registered as a floor listener here, so
// state changes published while the supervisor starts are not missed.
//
// Parameters:
//   - deps: Required dependencies (config, logger, floor supervisor)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Floors == nil {
		return nil, fmt.Errorf("floor supervisor is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if deps.Metrics != nil && deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		floors:      deps.Floors,
		commandLog:  deps.CommandLog,
		db:          deps.DB,
		mqtt:        deps.MQTT,
		metrics:     deps.Metrics,
		metricsPath: deps.MetricsPath,
		version:     deps.Version,
		startTime:   time.Now(),
		tickets:     newTicketStore(time.Duration(deps.Security.JWT.TicketTTL) * time.Second),
	}

	s.hub = NewHub(s.wsCfg, s.logger, s.floorState)
	s.floors.AddListener(s.hub)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, builds the router and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
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
	if s.cancel != nil {
		s.cancel()
	}
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

// floorState is the hub's StateLookup.
func (s *Server) floorState(floorID string) (relay.FloorState, bool) {
	session, err := s.floors.Session(floorID)
	if err != nil {
		return relay.FloorState{}, false
	}
	return session.State(), true
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
