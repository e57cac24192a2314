package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/config"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/monitoring"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/tracing"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/watch"
	"github.com/kai9987kai/single-file-lab-studio/internal/sandbox"
)

// ErrLoadFailed is returned by Once when the document could not be read.
var ErrLoadFailed = errors.New("headless: document could not be loaded")

// Options configures a Runner.
type Options struct {
	Sandbox  sandbox.Config
	PoolSize int
	MaxBytes int64

	// Watch enables live reload. Nil renders only on Show and Refresh.
	Watch *watch.Options

	Out     io.Writer
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
}

// Runner previews documents in the headless sandbox.
type Runner struct {
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	pool     *sandbox.Pool
	watcher  *watch.Watcher
	registry *session.Registry

	completions chan sandbox.Completion
}

// SandboxConfig maps the sandbox settings onto the runtime configuration.
func SandboxConfig(cfg config.SandboxConfig) sandbox.Config {
	sc := sandbox.DefaultConfig()
	sc.Timeout = cfg.Timeout.Std()
	sc.MaxCallStackSize = cfg.MaxCallStack
	sc.EnableTimers = cfg.Timers
	sc.MaxTimers = cfg.MaxTimers
	return sc
}

// New creates a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = resource.DefaultMaxBytes
	}

	pool, err := sandbox.NewPool(opts.Sandbox, opts.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create sandbox pool: %w", err)
	}

	var watcher *watch.Watcher
	if opts.Watch != nil {
		watcher = watch.New(opts.Logger.Named("watch"), *opts.Watch)
	}

	printer := NewPrinter(opts.Out)
	registry := session.NewRegistry(session.Options{
		Reader:         resource.NewFileReader(opts.MaxBytes),
		Watcher:        watcher,
		Logger:         opts.Logger.Named("session"),
		Recorder:       opts.Metrics,
		BridgeRecorder: opts.Metrics,
		Presenter:      printer.Presenter,
	})

	return &Runner{
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		pool:        pool,
		watcher:     watcher,
		registry:    registry,
		completions: make(chan sandbox.Completion, 16),
	}, nil
}

// Show opens path and attaches a headless transport to its session.
func (r *Runner) Show(ctx context.Context, path string) (*session.Session, error) {
	res, err := resource.New(path)
	if err != nil {
		return nil, err
	}
	sess, err := r.registry.Show(ctx, res)
	if err != nil {
		return nil, err
	}

	b := sess.Bridge()
	if b.Attached() {
		return sess, nil
	}
	t := sandbox.NewTransport(r.pool, b.Receive, r.logger.Named("sandbox"))
	t.OnComplete(r.complete)
	if err := b.Attach(ctx, t); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("attach sandbox: %w", err)
	}
	return sess, nil
}

// Once renders path a single time and returns the number of errors the
// document reported.
func (r *Runner) Once(ctx context.Context, path string) (int, error) {
	sess, err := r.Show(ctx, path)
	if err != nil {
		return 0, err
	}
	sess.Wait()
	if sess.State() == session.StateError {
		return 0, ErrLoadFailed
	}

	for {
		select {
		case c := <-r.completions:
			if errors.Is(c.Err, sandbox.ErrCanceled) {
				continue
			}
			n := sess.ErrorCount()
			if c.Result != nil && len(c.Result.Errors) > n {
				n = len(c.Result.Errors)
			}
			return n, c.Err
		case <-ctx.Done():
			return sess.ErrorCount(), ctx.Err()
		}
	}
}

// Run shows path and keeps rendering on every change until ctx is done.
func (r *Runner) Run(ctx context.Context, path string) error {
	if _, err := r.Show(ctx, path); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.completions:
		}
	}
}

// Close disposes the session and releases the sandbox pool.
func (r *Runner) Close() error {
	r.registry.Close()
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	return r.pool.Close()
}

func (r *Runner) complete(c sandbox.Completion) {
	var d time.Duration
	if c.Result != nil {
		d = c.Result.Duration
	}
	result := outcome(c)
	r.metrics.RecordHeadlessRun(result, d)

	if r.tracer != nil {
		span, _ := r.tracer.StartSpan(context.Background(), "sandbox.render")
		span.StartTime = span.StartTime.Add(-d)
		span.SetTag("revision", strconv.FormatUint(c.Revision, 10))
		span.SetTag("result", result)
		if c.Err != nil && result != "canceled" {
			span.SetError(c.Err)
		}
		span.Finish()
		r.tracer.Submit(span)
	}

	select {
	case r.completions <- c:
	default:
		r.logger.Debug("Completion dropped", zap.Uint64("revision", c.Revision))
	}
}

func outcome(c sandbox.Completion) string {
	switch {
	case errors.Is(c.Err, sandbox.ErrCanceled):
		return "canceled"
	case errors.Is(c.Err, sandbox.ErrTimeout):
		return "timeout"
	case c.Err != nil:
		return "failed"
	case c.Result != nil && len(c.Result.Errors) > 0:
		return "error"
	default:
		return "ok"
	}
}
