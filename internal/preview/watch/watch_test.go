package watch

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/resource"
)

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) record(ch Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ch)
}

func (r *recorder) count(src Source) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ch := range r.changes {
		if ch.Source == src {
			n++
		}
	}
	return n
}

// countFile counts asset changes for files named base.
func (r *recorder) countFile(base string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ch := range r.changes {
		if ch.Source == SourceAsset && filepath.Base(ch.Path) == base {
			n++
		}
	}
	return n
}

func (r *recorder) first() Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[0]
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func setup(t *testing.T, opts Options) (*Watcher, resource.Resource, string) {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(p, []byte("<p>v1</p>"), 0o644))

	w := New(zap.NewNop(), opts)
	t.Cleanup(func() { w.Close() })
	return w, resource.MustNew(p), dir
}

func TestWatchFileWrite(t *testing.T) {
	w, res, _ := setup(t, DefaultOptions())

	sub, err := w.Watch(res)
	require.NoError(t, err)
	rec := &recorder{}
	sub.OnChange(rec.record)

	require.NoError(t, os.WriteFile(res.Path, []byte("<p>v2</p>"), 0o644))

	require.Eventually(t, func() bool { return rec.count(SourceFile) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, res, rec.first().Resource)
}

func TestWatchAtomicReplace(t *testing.T) {
	w, res, dir := setup(t, DefaultOptions())

	sub, err := w.Watch(res)
	require.NoError(t, err)
	rec := &recorder{}
	sub.OnChange(rec.record)

	tmp := filepath.Join(dir, ".index.html.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("<p>v2</p>"), 0o644))
	require.NoError(t, os.Rename(tmp, res.Path))

	require.Eventually(t, func() bool { return rec.count(SourceFile) > 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	w, res, dir := setup(t, DefaultOptions())

	sub, err := w.Watch(res)
	require.NoError(t, err)
	rec := &recorder{}
	sub.OnChange(rec.record)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, rec.total())
}

func TestNotifySaved(t *testing.T) {
	w, res, dir := setup(t, DefaultOptions())

	sub, err := w.Watch(res)
	require.NoError(t, err)
	rec := &recorder{}
	sub.OnChange(rec.record)

	assert.Equal(t, 1, w.NotifySaved(res.Path))
	assert.Equal(t, 1, rec.count(SourceSave))

	assert.Equal(t, 0, w.NotifySaved(filepath.Join(dir, "other.html")))
	assert.Equal(t, 1, rec.count(SourceSave))
}

func TestDispose(t *testing.T) {
	w, res, _ := setup(t, DefaultOptions())

	sub, err := w.Watch(res)
	require.NoError(t, err)
	rec := &recorder{}
	sub.OnChange(rec.record)
	assert.Equal(t, 1, w.Active())

	sub.Dispose()
	sub.Dispose()
	assert.True(t, sub.Disposed())
	assert.Equal(t, 0, w.Active())

	assert.Equal(t, 0, w.NotifySaved(res.Path))
	sub.Trigger(SourceRefresh)
	require.NoError(t, os.WriteFile(res.Path, []byte("<p>v3</p>"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, rec.total())
}

func TestDisposeWaitsForInFlightCallback(t *testing.T) {
	w, res, _ := setup(t, DefaultOptions())

	sub, err := w.Watch(res)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	sub.OnChange(func(Change) {
		calls.Add(1)
		close(entered)
		<-release
	})

	go sub.Trigger(SourceRefresh)
	<-entered

	disposed := make(chan struct{})
	go func() {
		sub.Dispose()
		close(disposed)
	}()

	select {
	case <-disposed:
		t.Fatal("Dispose returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-disposed:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispose did not return")
	}

	sub.Trigger(SourceRefresh)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebounce(t *testing.T) {
	opts := DefaultOptions()
	opts.Debounce = 50 * time.Millisecond
	w, res, _ := setup(t, opts)

	sub, err := w.Watch(res)
	require.NoError(t, err)
	rec := &recorder{}
	sub.OnChange(rec.record)

	for i := 0; i < 5; i++ {
		w.NotifySaved(res.Path)
	}

	require.Eventually(t, func() bool { return rec.total() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.total())
}

func TestDisposeCancelsPendingDebounce(t *testing.T) {
	opts := DefaultOptions()
	opts.Debounce = 50 * time.Millisecond
	w, res, _ := setup(t, opts)

	sub, err := w.Watch(res)
	require.NoError(t, err)
	rec := &recorder{}
	sub.OnChange(rec.record)

	w.NotifySaved(res.Path)
	sub.Dispose()

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, rec.total())
}

func TestAssetPatterns(t *testing.T) {
	opts := DefaultOptions()
	opts.AssetPatterns = []string{"**/*.css", "*.js"}

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "styles", "nested"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	p := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(p, []byte("<p>x</p>"), 0o644))

	w := New(zap.NewNop(), opts)
	defer w.Close()

	sub, err := w.Watch(resource.MustNew(p))
	require.NoError(t, err)
	rec := &recorder{}
	sub.OnChange(rec.record)

	// Counted per file: creating a file reports both Create and Write.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "styles", "nested", "site.css"), []byte("p{}"), 0o644))
	require.Eventually(t, func() bool { return rec.countFile("site.css") > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("1"), 0o644))
	require.Eventually(t, func() bool { return rec.countFile("app.js") > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.countFile("readme.md"))
	assert.Zero(t, rec.count(SourceFile))
}

func TestMatchAsset(t *testing.T) {
	w := New(nil, Options{AssetPatterns: []string{"**/*.css"}})
	s := newSubscription(w, resource.Resource{Path: "/site/index.html"})

	assert.True(t, s.matchAsset("/site/a.css"))
	assert.True(t, s.matchAsset("/site/deep/er/b.css"))
	assert.False(t, s.matchAsset("/site/a.js"))
	assert.False(t, s.matchAsset("/elsewhere/a.css"))
}

func TestWatchEmptyResource(t *testing.T) {
	w := New(nil, DefaultOptions())
	_, err := w.Watch(resource.Resource{})
	assert.Error(t, err)
}
