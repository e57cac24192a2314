package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	httpapi "github.com/kai9987kai/single-file-lab-studio/internal/api/http"
	"github.com/kai9987kai/single-file-lab-studio/internal/api/middleware"
	"github.com/kai9987kai/single-file-lab-studio/internal/api/ws"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/config"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/logging"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/monitoring"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/tracing"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/watch"
)

const shutdownTimeout = 5 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	config   *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	watcher  *watch.Watcher
	registry *session.Registry
	hub      *ws.Hub
	router   *gin.Engine

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	logger.Info("Initializing preview server",
		zap.String("addr", cfg.Addr()),
		zap.Bool("watch_assets", cfg.Preview.WatchAssets),
		zap.Duration("debounce", cfg.Preview.Debounce.Std()),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("labpreview", logger.Logger)

	watcher := watch.New(logger.Named("watch"), WatchOptions(cfg))
	reader := resource.NewFileReader(cfg.Preview.MaxBytes)
	hub := ws.NewHub(logger.Named("ws"), metrics)

	registry := session.NewRegistry(session.Options{
		Reader:         reader,
		Watcher:        watcher,
		Logger:         logger.Named("session"),
		Recorder:       metrics,
		BridgeRecorder: metrics,
		Presenter:      hub.Surface,
	})

	handlers, err := httpapi.NewHandlers(registry, hub, watcher, reader, logger.Named("http"))
	if err != nil {
		tracer.Close()
		_ = watcher.Close()
		return nil, fmt.Errorf("create handlers: %w", err)
	}

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers.Register(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		watcher:  watcher,
		registry: registry,
		hub:      hub,
		router:   router,
	}, nil
}

// WatchOptions maps the preview settings onto the watcher.
func WatchOptions(cfg *config.Config) watch.Options {
	opts := watch.Options{
		Debounce:     cfg.Preview.Debounce.Std(),
		MaxAssetDirs: cfg.Preview.MaxAssetDirs,
	}
	if cfg.Preview.WatchAssets {
		opts.AssetPatterns = append([]string(nil), cfg.Preview.AssetPatterns...)
	}
	return opts
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Metrics returns the server metrics.
func (s *Server) Metrics() *monitoring.Metrics { return s.metrics }

// Show previews the document at path.
func (s *Server) Show(ctx context.Context, path string) (*session.Session, error) {
	res, err := resource.New(path)
	if err != nil {
		return nil, err
	}
	return s.registry.Show(ctx, res)
}

// Listen binds the configured address. Port 0 picks a free port.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.config.Addr(), err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// URL returns the address of the preview shell for sess. Listen must have
// been called.
func (s *Server) URL(sess *session.Session) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	host := s.config.Addr()
	if s.listener != nil {
		host = s.listener.Addr().String()
	}
	return "http://" + host + "/preview/" + sess.ID().String() + "/"
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.http = srv
	ln := s.listener
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Surfaces are hijacked connections; disposing the session closes them.
	s.registry.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disposes the live session and stops watching.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.registry.Close()
	err := s.watcher.Close()
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()
	return err
}
