package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/bridge"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
	"github.com/kai9987kai/single-file-lab-studio/internal/preview/watch"
	"github.com/kai9987kai/single-file-lab-studio/internal/shared/id"
)

// Options configures the sessions a Registry creates.
type Options struct {
	Reader         resource.Reader
	Watcher        *watch.Watcher
	Logger         *zap.Logger
	Recorder       Recorder
	BridgeRecorder bridge.Recorder

	// Presenter builds the presentation surface of a new session.
	Presenter func(*Session) Presenter

	Now func() time.Time
}

// Registry holds at most one live session.
type Registry struct {
	opts   Options
	logger *zap.Logger

	// showMu serializes Show so a replaced session is gone before its
	// successor takes the slot.
	showMu sync.Mutex

	mu      sync.Mutex
	current *Session
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Reader == nil {
		opts.Reader = resource.NewFileReader(resource.DefaultMaxBytes)
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Registry{opts: opts, logger: opts.Logger}
}

// Show focuses the live session when it previews res. Otherwise the live
// session, if any, is disposed and a new one is created and starts loading.
func (r *Registry) Show(ctx context.Context, res resource.Resource) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res.IsZero() {
		return nil, errors.New("session: empty resource")
	}
	if !res.IsHTML() {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, res.Path)
	}

	r.showMu.Lock()
	defer r.showMu.Unlock()

	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()

	if cur != nil {
		if cur.res.Same(res) && cur.focus() == nil {
			r.logger.Debug("Focused existing preview", zap.String("session", cur.id.String()))
			return cur, nil
		}
		cur.Dispose()
	}

	s := newSession(res, r.opts)
	s.onDispose = r.release

	r.mu.Lock()
	r.current = s
	r.mu.Unlock()

	s.start(r.opts.Watcher)
	return s, nil
}

// Current returns the live session.
func (r *Registry) Current() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil, ErrNoSession
	}
	return r.current, nil
}

// Get returns the live session if its id matches.
func (r *Registry) Get(sid id.SessionID) (*Session, error) {
	s, err := r.Current()
	if err != nil {
		return nil, err
	}
	if s.id != sid {
		return nil, ErrNoSession
	}
	return s, nil
}

// Dispose disposes the live session.
func (r *Registry) Dispose() error {
	s, err := r.Current()
	if err != nil {
		return err
	}
	s.Dispose()
	return nil
}

// Close disposes the live session, if any.
func (r *Registry) Close() {
	if err := r.Dispose(); err != nil && !errors.Is(err, ErrNoSession) {
		r.logger.Debug("Failed to dispose session", zap.Error(err))
	}
}

func (r *Registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == s {
		r.current = nil
	}
}
