package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/devmgr/internal/audit"
	"github.com/nerrad567/devmgr/internal/auth"
	"github.com/nerrad567/devmgr/internal/device"
	"github.com/nerrad567/devmgr/internal/infrastructure/config"
	"github.com/nerrad567/devmgr/internal/infrastructure/logging"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// Deps are the collaborators of the API server. Logger, the three registry
// services, Audit and Resolver are required.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Devices   *device.Service
	Templates *device.TemplateService
	Importer  *device.Importer
	Audit     audit.Repository
	Resolver  *auth.TenantResolver

	// Optional sources for /metrics.
	DB     StatsSource
	MQTT   ConnectionChecker
	Influx ConnectionChecker

	// Hub is shared with the notifier's websocket sink. When nil the server
	// makes its own.
	Hub     *Hub
	Version string
}

func (d Deps) check() error {
	required := []struct {
		name    string
		missing bool
	}{
		{"logger", d.Logger == nil},
		{"device service", d.Devices == nil},
		{"template service", d.Templates == nil},
		{"importer", d.Importer == nil},
		{"audit repository", d.Audit == nil},
		{"tenant resolver", d.Resolver == nil},
	}
	for _, r := range required {
		if r.missing {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	return nil
}

// Server serves the registry over HTTP and the live event stream.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	devices   *device.Service
	templates *device.TemplateService
	importer  *device.Importer
	audit     audit.Repository
	resolver  *auth.TenantResolver
	hub       *Hub
	db        StatsSource
	mqtt      ConnectionChecker
	influx    ConnectionChecker
	version   string
	startTime time.Time

	http     *http.Server
	stopHub  context.CancelFunc
	listener net.Listener
}

// New validates deps and returns an unstarted server.
func New(deps Deps) (*Server, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		devices:   deps.Devices,
		templates: deps.Templates,
		importer:  deps.Importer,
		audit:     deps.Audit,
		resolver:  deps.Resolver,
		hub:       hub,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Addr is the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listen address and serves in the background. A bind
// failure is returned here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	hubCtx, stop := context.WithCancel(ctx)
	s.stopHub = stop
	go s.hub.Run(hubCtx)

	t := s.cfg.Timeouts
	s.http = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       t.ReadTimeout(),
		ReadHeaderTimeout: t.ReadTimeout(),
		WriteTimeout:      t.WriteTimeout(),
		IdleTimeout:       t.IdleTimeout(),
	}

	go s.serve(ln)
	return nil
}

func (s *Server) serve(ln net.Listener) {
	var err error
	if tls := s.cfg.TLS; tls.Enabled {
		s.logger.Info("API server listening", "address", ln.Addr().String(), "tls", true, "cert", tls.CertFile)
		err = s.http.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	} else {
		s.logger.Info("API server listening", "address", ln.Addr().String(), "tls", false)
		err = s.http.Serve(ln)
	}
	if !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("API server stopped unexpectedly", "error", err)
	}
}

// Close stops the event hub and drains in-flight requests for up to
// shutdownGrace. It is a no-op on a server that never started.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	s.stopHub()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports an error until Start has succeeded.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.http == nil {
		return errors.New("api server not started")
	}
	return nil
}
