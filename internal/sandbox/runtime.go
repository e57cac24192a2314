package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// Runtime wraps a goja VM with security controls. Each Run starts from a
// fresh VM, so no script state survives between documents.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	mu     sync.Mutex
	used   bool

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex

	// Interrupt channel
	interrupt chan struct{}
	stopMu    sync.Mutex
	stopErr   error

	// Per-document state, owned by the goroutine inside Run
	ctx       context.Context
	post      PostFunc
	dom       *DOM
	result    *Result
	window    *goja.Object
	document  *goja.Object
	nodes     map[*html.Node]*goja.Object
	proxies   map[*goja.Object]*Element
	listeners map[*goja.Object]map[string][]goja.Value
	offsets   map[string]int
	rejected  []*goja.Promise
	timers    *timerQueue
	reporting bool
}

// New creates a new sandboxed runtime
func New(config Config) (*Runtime, error) {
	r := &Runtime{
		config:    config,
		interrupt: make(chan struct{}),
	}
	if err := r.reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Run parses document, executes its inline scripts in order, fires the
// DOMContentLoaded and load events, then drains timers. Uncaught exceptions
// and unhandled rejections are dispatched to the document's own error
// listeners and recorded in the result; they are not returned as errors.
// The returned error is non-nil only when execution was interrupted.
func (r *Runtime) Run(ctx context.Context, document string, post PostFunc) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, ErrClosed
	}
	if r.used {
		if err := r.reset(); err != nil {
			return nil, err
		}
	}
	r.used = true

	start := time.Now()
	r.ctx = ctx
	r.post = post
	r.result = &Result{}

	dom, err := NewDOM(document)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	r.dom = dom
	if r.config.EnableDOM {
		r.injectDOM()
	}

	timeout := r.config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Setup interrupt handler
	vm, done := r.vm, r.interrupt
	go func() {
		select {
		case <-timer.C:
			r.stop(ErrTimeout)
			vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			r.stop(ErrCanceled)
			vm.Interrupt(ErrCanceled)
		case <-done:
			return
		}
	}()

	runErr := r.execute()

	// Stop interrupt goroutine
	close(r.interrupt)
	r.interrupt = make(chan struct{})

	result := r.result
	result.Duration = time.Since(start)
	result.Title = dom.Title()
	result.DOMChanges = dom.GetChanges()

	r.consoleMu.Lock()
	result.Console = append([]LogEntry{}, r.console...)
	r.consoleMu.Unlock()

	if runErr != nil {
		result.Interrupted = true
		return result, runErr
	}
	return result, nil
}

func (r *Runtime) execute() error {
	for _, s := range r.dom.Scripts() {
		if err := r.stopped(); err != nil {
			return err
		}

		name := fmt.Sprintf("inline-script-%d.js", s.Index)
		r.offsets[name] = s.Line
		_, err := r.vm.RunScript(name, s.Source)
		r.result.Scripts++
		if err != nil {
			if stop := r.uncaught(err); stop != nil {
				return stop
			}
		}
		if err := r.flushRejections(); err != nil {
			return err
		}
	}

	if r.document != nil {
		r.document.Set("readyState", "interactive")
		if err := r.dispatch(r.document, "DOMContentLoaded"); err != nil {
			return err
		}
	}
	if err := r.dispatch(r.window, "DOMContentLoaded"); err != nil {
		return err
	}
	if r.document != nil {
		r.document.Set("readyState", "complete")
	}
	if err := r.dispatch(r.window, "load"); err != nil {
		return err
	}

	if r.config.EnableTimers {
		return r.runTimers()
	}
	return nil
}

// dispatch fires a plain event and reports any rejections it left behind.
func (r *Runtime) dispatch(target *goja.Object, typ string) error {
	if err := r.fire(target, typ, r.newEvent(typ)); err != nil {
		return err
	}
	return r.flushRejections()
}

// stopped reports why execution must end, if it must.
func (r *Runtime) stopped() error {
	r.stopMu.Lock()
	err := r.stopErr
	r.stopMu.Unlock()
	if err != nil {
		return err
	}
	if err := r.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrCanceled
	}
	return nil
}

func (r *Runtime) stop(err error) {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if r.stopErr == nil {
		r.stopErr = err
	}
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	// Remove dangerous globals
	r.vm.Set("require", goja.Undefined())
	r.vm.Set("process", goja.Undefined())
	r.vm.Set("module", goja.Undefined())
	r.vm.Set("exports", goja.Undefined())

	r.window = r.vm.GlobalObject()
	r.window.Set("window", r.window)
	r.window.Set("self", r.window)
	r.installEventTarget(r.window)
	r.window.Set("onerror", goja.Null())

	// The embedding host. Only postMessage crosses the boundary.
	parent := r.vm.NewObject()
	parent.Set("postMessage", r.postMessage)
	r.window.Set("parent", parent)
	r.window.Set("top", parent)

	location := r.vm.NewObject()
	location.Set("href", "about:srcdoc")
	location.Set("reload", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	location.Set("assign", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	r.window.Set("location", location)

	navigator := r.vm.NewObject()
	navigator.Set("userAgent", "labpreview-headless")
	r.window.Set("navigator", navigator)

	// Console is always present so instrumentation can wrap it; recording is
	// controlled by EnableConsole.
	console := r.vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		console.Set(level, r.makeConsoleFunc(level))
	}
	r.vm.Set("console", console)

	// Modal dialogs have no user to answer them.
	r.vm.Set("alert", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	r.vm.Set("confirm", func(goja.FunctionCall) goja.Value { return r.vm.ToValue(false) })
	r.vm.Set("prompt", func(goja.FunctionCall) goja.Value { return goja.Null() })

	r.installTimers()

	_, err := r.vm.RunString(`globalThis.queueMicrotask = function (fn) { Promise.resolve().then(fn); };`)
	return err
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !r.config.EnableConsole {
			return goja.Undefined()
		}

		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		return goja.Undefined()
	}
}

// postMessage serializes the payload and hands it to the host. Payloads
// that cannot be cloned are dropped, as are posts from a superseded run.
func (r *Runtime) postMessage(call goja.FunctionCall) goja.Value {
	if r.ctx.Err() != nil || r.post == nil {
		return goja.Undefined()
	}

	raw, err := sonic.Marshal(call.Argument(0).Export())
	if err != nil {
		return goja.Undefined()
	}

	r.result.Posted++
	r.post(raw)
	return goja.Undefined()
}

// Reset discards all script state and installs fresh globals.
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return ErrClosed
	}
	return r.reset()
}

func (r *Runtime) reset() error {
	r.vm = goja.New()
	if r.config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}
	r.vm.SetPromiseRejectionTracker(r.trackRejection)

	r.consoleMu.Lock()
	r.console = []LogEntry{}
	r.consoleMu.Unlock()

	r.used = false
	r.stopMu.Lock()
	r.stopErr = nil
	r.stopMu.Unlock()
	r.ctx = context.Background()
	r.post = nil
	r.dom = nil
	r.result = &Result{}
	r.document = nil
	r.nodes = make(map[*html.Node]*goja.Object)
	r.proxies = make(map[*goja.Object]*Element)
	r.listeners = make(map[*goja.Object]map[string][]goja.Value)
	r.offsets = make(map[string]int)
	r.rejected = nil
	r.timers = newTimerQueue()
	r.reporting = false

	return r.setupGlobals()
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	r.console = nil
	r.nodes = nil
	r.proxies = nil
	r.listeners = nil
	return nil
}
