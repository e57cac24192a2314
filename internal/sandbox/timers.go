package sandbox

import (
	"fmt"
	"sort"
	"time"

	"github.com/dop251/goja"
)

// Timers run on a virtual clock after the document has loaded: callbacks
// fire in due order without real waiting.

type timer struct {
	id       int64
	seq      int64
	due      time.Duration
	interval time.Duration
	repeat   bool
	fn       goja.Value
	args     []goja.Value
}

type timerQueue struct {
	now    time.Duration
	nextID int64
	seq    int64
	items  []*timer
}

func newTimerQueue() *timerQueue {
	return &timerQueue{}
}

func (q *timerQueue) add(fn goja.Value, delay time.Duration, repeat bool, args []goja.Value) int64 {
	if delay < 0 {
		delay = 0
	}
	q.nextID++
	q.push(&timer{
		id:       q.nextID,
		due:      q.now + delay,
		interval: delay,
		repeat:   repeat,
		fn:       fn,
		args:     args,
	})
	return q.nextID
}

func (q *timerQueue) push(t *timer) {
	q.seq++
	t.seq = q.seq
	q.items = append(q.items, t)
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].due != q.items[j].due {
			return q.items[i].due < q.items[j].due
		}
		return q.items[i].seq < q.items[j].seq
	})
}

func (q *timerQueue) cancel(id int64) {
	for i, t := range q.items {
		if t.id == id {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *timerQueue) pop() *timer {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items = q.items[1:]
	if t.due > q.now {
		q.now = t.due
	}
	return t
}

func (q *timerQueue) len() int { return len(q.items) }

func (r *Runtime) installTimers() {
	schedule := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn := call.Argument(0)
			delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
			var args []goja.Value
			if len(call.Arguments) > 2 {
				args = append(args, call.Arguments[2:]...)
			}
			return r.vm.ToValue(r.timers.add(fn, delay, repeat, args))
		}
	}
	cancel := func(call goja.FunctionCall) goja.Value {
		r.timers.cancel(call.Argument(0).ToInteger())
		return goja.Undefined()
	}

	r.vm.Set("setTimeout", schedule(false))
	r.vm.Set("setInterval", schedule(true))
	r.vm.Set("clearTimeout", cancel)
	r.vm.Set("clearInterval", cancel)
	r.vm.Set("requestAnimationFrame", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.timers.add(call.Argument(0), 16*time.Millisecond, false, nil))
	})
	r.vm.Set("cancelAnimationFrame", cancel)
}

// runTimers drains the queue up to MaxTimers callbacks.
func (r *Runtime) runTimers() error {
	limit := r.config.MaxTimers
	if limit <= 0 {
		limit = DefaultConfig().MaxTimers
	}

	for r.timers.len() > 0 && r.result.Timers < limit {
		if err := r.stopped(); err != nil {
			return err
		}

		t := r.timers.pop()
		if t.repeat {
			next := *t
			next.due = r.timers.now + max(t.interval, time.Millisecond)
			r.timers.push(&next)
		}

		r.result.Timers++
		if err := r.runTimer(t); err != nil {
			if stop := r.uncaught(err); stop != nil {
				return stop
			}
		}
		if err := r.flushRejections(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) runTimer(t *timer) error {
	if fn, ok := goja.AssertFunction(t.fn); ok {
		_, err := fn(goja.Undefined(), t.args...)
		return err
	}
	if t.fn == nil || goja.IsUndefined(t.fn) || goja.IsNull(t.fn) {
		return nil
	}
	// String callbacks are evaluated like an inline script.
	_, err := r.vm.RunScript(fmt.Sprintf("timer-%d.js", t.id), t.fn.String())
	return err
}
