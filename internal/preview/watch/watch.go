// Package watch notifies subscribers when a previewed document (or one of its
// companion assets) changes on disk or is explicitly saved.
package watch

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
)

// Source names the signal that produced a change.
type Source string

const (
	SourceFile    Source = "file"
	SourceSave    Source = "save"
	SourceAsset   Source = "asset"
	SourceRefresh Source = "refresh"
)

// Change is delivered to OnChange callbacks. It carries no content; the
// subscriber re-reads the resource.
type Change struct {
	Resource resource.Resource
	Source   Source
	Path     string
}

// Options configures a Watcher.
type Options struct {
	// Debounce coalesces signals arriving within the window into one change.
	// Zero fires on every signal.
	Debounce time.Duration
	// AssetPatterns are doublestar globs, relative to the document directory,
	// whose changes also notify subscribers.
	AssetPatterns []string
	// MaxAssetDirs bounds the number of sub-directories watched for assets.
	MaxAssetDirs int
}

// DefaultOptions returns options with no debounce and no asset watching.
func DefaultOptions() Options {
	return Options{MaxAssetDirs: 256}
}

// Watcher hands out subscriptions keyed by resource identity.
type Watcher struct {
	logger *zap.Logger
	opts   Options

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// New creates a Watcher.
func New(logger *zap.Logger, opts Options) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAssetDirs <= 0 {
		opts.MaxAssetDirs = DefaultOptions().MaxAssetDirs
	}
	return &Watcher{
		logger: logger,
		opts:   opts,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Watch starts observing res. The returned subscription delivers nothing
// until OnChange is called.
func (w *Watcher) Watch(res resource.Resource) (*Subscription, error) {
	if res.IsZero() {
		return nil, fmt.Errorf("watch: empty resource")
	}

	s := newSubscription(w, res)
	if err := s.start(); err != nil {
		return nil, fmt.Errorf("watch %s: %w", res.Path, err)
	}

	w.mu.Lock()
	set, ok := w.subs[res.Identity()]
	if !ok {
		set = make(map[*Subscription]struct{})
		w.subs[res.Identity()] = set
	}
	set[s] = struct{}{}
	w.mu.Unlock()

	w.logger.Debug("Watching resource",
		zap.String("resource", res.Path),
		zap.Int("asset_patterns", len(w.opts.AssetPatterns)),
	)
	return s, nil
}

// NotifySaved signals an explicit save of the document at path and returns
// the number of subscriptions notified.
func (w *Watcher) NotifySaved(path string) int {
	res, err := resource.New(path)
	if err != nil {
		return 0
	}

	w.mu.Lock()
	targets := make([]*Subscription, 0, len(w.subs[res.Identity()]))
	for s := range w.subs[res.Identity()] {
		targets = append(targets, s)
	}
	w.mu.Unlock()

	for _, s := range targets {
		s.signal(Change{Resource: s.res, Source: SourceSave, Path: res.Path})
	}
	return len(targets)
}

// Active returns the number of live subscriptions.
func (w *Watcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, set := range w.subs {
		n += len(set)
	}
	return n
}

// Close disposes every subscription.
func (w *Watcher) Close() error {
	w.mu.Lock()
	var all []*Subscription
	for _, set := range w.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	w.mu.Unlock()

	for _, s := range all {
		s.Dispose()
	}
	return nil
}

func (w *Watcher) remove(s *Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()

	set := w.subs[s.res.Identity()]
	delete(set, s)
	if len(set) == 0 {
		delete(w.subs, s.res.Identity())
	}
}
