package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"SensorPull/pkg/http/middleware"
	"SensorPull/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler mounts its routes on e.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

type ServerOption func(*serverConfig)

type serverConfig struct {
	host            string
	port            int
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	bodyLimit       string
	cors            bool
	slow            time.Duration
	l               *logger.Logger
	reg             prometheus.Registerer
	gatherer        prometheus.Gatherer
}

func WithHost(host string) ServerOption {
	return func(c *serverConfig) { c.host = host }
}

// WithPort sets the listen port; 0 picks a free one (see Addr).
func WithPort(port int) ServerOption {
	return func(c *serverConfig) { c.port = port }
}

func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.readTimeout = read
		c.writeTimeout = write
		c.shutdownTimeout = shutdown
	}
}

// WithBodyLimit caps request bodies, e.g. "4M". Empty disables the cap.
func WithBodyLimit(limit string) ServerOption {
	return func(c *serverConfig) { c.bodyLimit = limit }
}

func WithCORS(enabled bool) ServerOption {
	return func(c *serverConfig) { c.cors = enabled }
}

// WithSlowThreshold logs requests slower than d at warn.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.slow = d }
}

func WithLogger(l *logger.Logger) ServerOption {
	return func(c *serverConfig) { c.l = l }
}

// WithMetrics registers HTTP collectors on reg and serves g on /metrics.
func WithMetrics(reg prometheus.Registerer, g prometheus.Gatherer) ServerOption {
	return func(c *serverConfig) {
		c.reg = reg
		c.gatherer = g
	}
}

// Server is the Echo instance plus its listener lifecycle.
type Server struct {
	echo *echo.Echo
	cfg  *serverConfig
	l    *logger.Logger
	ln   net.Listener
	done chan struct{}
}

func NewServer(h Handler, opts ...ServerOption) *Server {
	cfg := &serverConfig{
		host:            "0.0.0.0",
		port:            8080,
		readTimeout:     10 * time.Second,
		writeTimeout:    10 * time.Second,
		shutdownTimeout: 10 * time.Second,
		bodyLimit:       "4M",
		cors:            true,
		slow:            time.Second,
		reg:             prometheus.DefaultRegisterer,
		gatherer:        prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	l := cfg.l
	if l == nil {
		l = logger.NewNop()
	}
	l = l.Component("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = ErrorHandler
	e.Server.ReadTimeout = cfg.readTimeout
	e.Server.WriteTimeout = cfg.writeTimeout

	e.Use(middleware.RequestID())
	e.Use(middleware.NewHTTPMetrics(cfg.reg).Middleware(l, cfg.slow))
	e.Use(middleware.Recover(l))
	if cfg.bodyLimit != "" {
		e.Use(echomw.BodyLimit(cfg.bodyLimit))
	}
	if cfg.cors {
		e.Use(middleware.CORS(middleware.CORSConfig{
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
				echo.HeaderAuthorization,
				echo.HeaderXRequestID,
			},
			MaxAge: 10 * time.Minute,
		}))
	}

	if h != nil {
		h.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{})))

	return &Server{echo: e, cfg: cfg, l: l}
}

// Start binds the listener, so a taken port fails here, then serves in the
// background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.host, fmt.Sprint(s.cfg.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.echo.Listener = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.l.Info("http server listening", logger.String("addr", ln.Addr().String()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("http server stopped unexpectedly", logger.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Start returned.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests for at most the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.cfg.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.shutdownTimeout)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.done != nil {
		<-s.done
	}
	s.l.Info("http server stopped")
	return nil
}

func (s *Server) Echo() *echo.Echo { return s.echo }
