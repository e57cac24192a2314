package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
)

// relevantOps are the file operations that count as a content change.
const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// Subscription delivers change notifications for one resource.
//
// OnChange callbacks run on watcher goroutines and must not call Dispose
// synchronously.
type Subscription struct {
	w   *Watcher
	res resource.Resource

	fs   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	cb       func(Change)
	timer    *time.Timer
	pending  Change
	dirs     map[string]struct{}
	disposed bool

	// fireMu serializes callbacks so Dispose can wait for one in flight.
	fireMu sync.Mutex
}

func newSubscription(w *Watcher, res resource.Resource) *Subscription {
	return &Subscription{
		w:    w,
		res:  res,
		done: make(chan struct{}),
		dirs: make(map[string]struct{}),
	}
}

// Resource returns the watched resource.
func (s *Subscription) Resource() resource.Resource { return s.res }

// OnChange registers the callback, replacing any previous one.
func (s *Subscription) OnChange(cb func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

// Dispose stops all notifications. It is idempotent, and once it returns no
// callback is running or will run.
func (s *Subscription) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cb = nil
	s.mu.Unlock()

	close(s.done)
	if s.fs != nil {
		if err := s.fs.Close(); err != nil {
			s.w.logger.Debug("Failed to close file watcher", zap.Error(err))
		}
	}
	s.wg.Wait()
	s.w.remove(s)

	// Wait out a callback that started before disposed was set.
	s.fireMu.Lock()
	s.fireMu.Unlock()
}

// Disposed reports whether Dispose has been called.
func (s *Subscription) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Trigger delivers a change as if the watcher had observed it.
func (s *Subscription) Trigger(src Source) {
	s.signal(Change{Resource: s.res, Source: src, Path: s.res.Path})
}

func (s *Subscription) start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.fs = fw

	// Editors that save atomically replace the file, which drops a watch on
	// the file itself. Watching the directory survives that.
	if err := s.addDir(s.res.Dir()); err != nil {
		fw.Close()
		return err
	}
	if len(s.w.opts.AssetPatterns) > 0 {
		s.addAssetDirs(s.res.Dir())
	}

	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Subscription) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.fs.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.fs.Errors:
			if !ok {
				return
			}
			s.w.logger.Warn("File watcher error",
				zap.String("resource", s.res.Path),
				zap.Error(err),
			)
		}
	}
}

func (s *Subscription) handle(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)

	if ev.Has(fsnotify.Create) && len(s.w.opts.AssetPatterns) > 0 {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			s.addAssetDirs(name)
			return
		}
	}

	if !ev.Has(relevantOps) {
		return
	}

	if name == s.res.Path {
		s.signal(Change{Resource: s.res, Source: SourceFile, Path: name})
		return
	}

	if s.matchAsset(name) {
		s.signal(Change{Resource: s.res, Source: SourceAsset, Path: name})
	}
}

func (s *Subscription) matchAsset(name string) bool {
	rel, err := filepath.Rel(s.res.Dir(), name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range s.w.opts.AssetPatterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *Subscription) addDir(dir string) error {
	s.mu.Lock()
	if _, ok := s.dirs[dir]; ok {
		s.mu.Unlock()
		return nil
	}
	if len(s.dirs) >= s.w.opts.MaxAssetDirs+1 {
		s.mu.Unlock()
		return nil
	}
	s.dirs[dir] = struct{}{}
	s.mu.Unlock()

	return s.fs.Add(dir)
}

// addAssetDirs watches root and its sub-directories, skipping hidden and
// vendored trees.
func (s *Subscription) addAssetDirs(root string) {
	var (
		mu   sync.Mutex
		dirs []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != root && skipDir(d.Name()) {
			return fastwalk.SkipDir
		}
		mu.Lock()
		dirs = append(dirs, p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		s.w.logger.Debug("Asset directory walk failed", zap.String("root", root), zap.Error(err))
	}

	for _, dir := range dirs {
		if err := s.addDir(filepath.Clean(dir)); err != nil {
			s.w.logger.Debug("Failed to watch asset directory", zap.String("dir", dir), zap.Error(err))
		}
	}
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}

func (s *Subscription) signal(ch Change) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}

	debounce := s.w.opts.Debounce
	if debounce <= 0 {
		s.mu.Unlock()
		s.fire(ch)
		return
	}

	s.pending = ch
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounce, func() {
		s.mu.Lock()
		pending := s.pending
		s.timer = nil
		s.mu.Unlock()
		s.fire(pending)
	})
	s.mu.Unlock()
}

func (s *Subscription) fire(ch Change) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	s.mu.Lock()
	cb, disposed := s.cb, s.disposed
	s.mu.Unlock()

	if disposed || cb == nil {
		return
	}
	cb(ch)
}
