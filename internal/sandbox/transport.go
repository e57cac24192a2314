package sandbox

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/bridge"
)

// Completion reports the end of one headless document run.
type Completion struct {
	Revision uint64
	Result   *Result
	Err      error
}

// Transport renders deliveries in a headless goja context. Every delivery
// cancels the previous document and runs the new one on a fresh runtime;
// payloads posted by a superseded document never reach the host.
type Transport struct {
	pool    *Pool
	receive func([]byte) bool
	logger  *zap.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
	closed     bool
	onComplete func(Completion)
	runs       sync.WaitGroup

	// postMu makes the staleness check and the hand-off to the host atomic
	// with respect to Deliver.
	postMu sync.Mutex
}

var _ bridge.Transport = (*Transport)(nil)

// NewTransport creates a headless transport. receive is usually
// (*bridge.Bridge).Receive.
func NewTransport(pool *Pool, receive func([]byte) bool, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{pool: pool, receive: receive, logger: logger}
}

// OnComplete registers a hook called after each run finishes.
func (t *Transport) OnComplete(fn func(Completion)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = fn
}

// Deliver implements bridge.Transport.
func (t *Transport) Deliver(ctx context.Context, d bridge.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.postMu.Lock()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.postMu.Unlock()
		return bridge.ErrTransportClosed
	}
	if t.cancel != nil {
		t.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.generation++
	gen := t.generation
	onComplete := t.onComplete
	t.runs.Add(1)
	t.mu.Unlock()
	t.postMu.Unlock()

	post := func(raw []byte) {
		t.postMu.Lock()
		defer t.postMu.Unlock()
		if runCtx.Err() != nil || t.current() != gen {
			return
		}
		if t.receive != nil {
			t.receive(raw)
		}
	}

	go func() {
		defer t.runs.Done()
		defer cancel()

		result, err := t.pool.Run(runCtx, d.Content, post)
		switch {
		case err == nil:
			t.logger.Debug("Headless render finished",
				zap.Uint64("revision", d.Revision),
				zap.Int("scripts", result.Scripts),
				zap.Int("errors", len(result.Errors)),
				zap.Duration("duration", result.Duration),
			)
		case errors.Is(err, ErrCanceled):
			t.logger.Debug("Headless render superseded", zap.Uint64("revision", d.Revision))
		default:
			t.logger.Warn("Headless render failed", zap.Uint64("revision", d.Revision), zap.Error(err))
		}

		if onComplete != nil {
			onComplete(Completion{Revision: d.Revision, Result: result, Err: err})
		}
	}()
	return nil
}

func (t *Transport) current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Wait blocks until every started run has finished.
func (t *Transport) Wait() {
	t.runs.Wait()
}

// Close cancels the running document and waits for it to stop.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	t.runs.Wait()
	return nil
}
