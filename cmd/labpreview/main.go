package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kai9987kai/single-file-lab-studio/internal/headless"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/config"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/logging"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/monitoring"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/server"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/tracing"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
)

// errPreviewClosed stops the run group when the preview is closed from the
// shell.
var errPreviewClosed = errors.New("preview closed")

const closedPollInterval = 500 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	// Parse flags
	host := flag.String("host", "", "Server host (default from config)")
	port := flag.String("port", "", "Server port, 0 picks a free port (default from config)")
	configPath := flag.String("config", "", "YAML or TOML config file")
	dev := flag.Bool("dev", false, "Development mode (colored logs, debug level)")
	headlessMode := flag.Bool("headless", false, "Run the document in the embedded context and print its console")
	once := flag.Bool("once", false, "With -headless, exit after the first render")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <file.html>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}
	path := flag.Arg(0)

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headlessMode {
		return runHeadless(ctx, cfg, logger, path, *once)
	}
	if *once {
		logger.Warn("-once has no effect without -headless")
	}
	return runServer(ctx, cfg, logger, path)
}

func runServer(ctx context.Context, cfg *config.Config, logger *logging.Logger, path string) int {
	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return 1
	}
	defer srv.Close()

	if _, err := srv.Listen(); err != nil {
		logger.Error("Failed to listen", zap.Error(err))
		return 1
	}
	sess, err := srv.Show(ctx, path)
	if err != nil {
		logger.Error("Failed to open preview", zap.String("path", path), zap.Error(err))
		return 1
	}
	fmt.Println(srv.URL(sess))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return waitClosed(gctx, srv.Registry())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errPreviewClosed) {
		logger.Error("Server error", zap.Error(err))
		return 1
	}
	logger.Info("Preview stopped")
	return 0
}

// waitClosed returns errPreviewClosed once the registry has no live session.
func waitClosed(ctx context.Context, registry *session.Registry) error {
	ticker := time.NewTicker(closedPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := registry.Current(); errors.Is(err, session.ErrNoSession) {
				return errPreviewClosed
			}
		}
	}
}

func runHeadless(ctx context.Context, cfg *config.Config, logger *logging.Logger, path string, once bool) int {
	watchOpts := server.WatchOptions(cfg)
	opts := headless.Options{
		Sandbox:  headless.SandboxConfig(cfg.Sandbox),
		PoolSize: cfg.Sandbox.PoolSize,
		MaxBytes: cfg.Preview.MaxBytes,
		Out:      os.Stdout,
		Logger:   logger.Named("headless"),
		Metrics:  monitoring.NewMetrics(),
		Tracer:   tracing.New("labpreview", logger.Logger),
	}
	defer opts.Tracer.Close()
	if !once {
		opts.Watch = &watchOpts
	}

	runner, err := headless.New(opts)
	if err != nil {
		logger.Error("Failed to create headless runner", zap.Error(err))
		return 1
	}
	defer runner.Close()

	if !once {
		if err := runner.Run(ctx, path); err != nil {
			logger.Error("Headless preview failed", zap.String("path", path), zap.Error(err))
			return 1
		}
		return 0
	}

	n, err := runner.Once(ctx, path)
	switch {
	case err != nil:
		logger.Error("Headless render failed", zap.String("path", path), zap.Error(err))
		return 1
	case n > 0:
		fmt.Fprintf(os.Stderr, "%d error(s) reported\n", n)
		return 1
	}
	return 0
}
